package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ClientRow tracks one replication client's watermarks.
//
// LastMutationID is the highest mutation sequence number committed for
// this client; anything at or below it replays as a no-op. LastEffectID
// is the separate high-water mark for side-effecting mutations, so a
// duplicate arriving in a later push (after a dropped response) cannot
// re-run its side effect.
type ClientRow struct {
	ID             string
	MapID          string
	LastMutationID uint64
	LastEffectID   uint64
}

// ClientRow reads, or creates at zero, the watermark row for clientID
// within tx.
func (s *Store) ClientRow(ctx context.Context, tx *sql.Tx, clientID, mapID string) (ClientRow, error) {
	row := ClientRow{ID: clientID, MapID: mapID}
	err := tx.QueryRowContext(ctx, `
		SELECT last_mutation_id, last_effect_id FROM clients WHERE id = ?
	`, clientID).Scan(&row.LastMutationID, &row.LastEffectID)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO clients (id, map_id, last_mutation_id, last_effect_id, updated_at)
			VALUES (?, ?, 0, 0, ?)
		`, clientID, mapID, time.Now().Unix())
		if err != nil {
			return ClientRow{}, fmt.Errorf("create client %s: %w", clientID, err)
		}
		return row, nil
	}
	if err != nil {
		return ClientRow{}, fmt.Errorf("read client %s: %w", clientID, err)
	}
	return row, nil
}

// SetClientRow persists updated watermarks within tx.
func (s *Store) SetClientRow(ctx context.Context, tx *sql.Tx, row ClientRow) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE clients SET last_mutation_id = ?, last_effect_id = ?, updated_at = ?
		WHERE id = ?
	`, row.LastMutationID, row.LastEffectID, time.Now().Unix(), row.ID)
	if err != nil {
		return fmt.Errorf("update client %s: %w", row.ID, err)
	}
	return nil
}

// LastMutationID reads a client's confirmed watermark outside any push,
// for pull responses. Unknown clients are at zero.
func (s *Store) LastMutationID(ctx context.Context, clientID string) (uint64, error) {
	var id uint64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_mutation_id FROM clients WHERE id = ?
	`, clientID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read client %s: %w", clientID, err)
	}
	return id, nil
}
