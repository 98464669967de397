package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PresenceRow is one client's last presence broadcast for a map.
type PresenceRow struct {
	ClientID string
	Value    []byte
	Version  int64
}

// UpsertPresence writes a presence row at the given version within tx.
// Presence is last-write-wins per client; stale broadcasts just overwrite.
func (s *Store) UpsertPresence(ctx context.Context, tx *sql.Tx, mapID, clientID string, value []byte, version int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO presence (client_id, map_id, value, version, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			value = excluded.value,
			version = excluded.version,
			updated_at = excluded.updated_at
	`, clientID, mapID, string(value), version, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert presence %s: %w", clientID, err)
	}
	return nil
}

// PresenceSince returns presence rows for a map with version > since,
// ordered by client id. Pass since = -1 for all rows.
func (s *Store) PresenceSince(ctx context.Context, mapID string, since int64) ([]PresenceRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT client_id, value, version FROM presence
		WHERE map_id = ? AND version > ?
		ORDER BY client_id ASC
	`, mapID, since)
	if err != nil {
		return nil, fmt.Errorf("query presence since %d: %w", since, err)
	}
	defer rows.Close()

	var out []PresenceRow
	for rows.Next() {
		var r PresenceRow
		var value string
		if err := rows.Scan(&r.ClientID, &value, &r.Version); err != nil {
			return nil, fmt.Errorf("scan presence row: %w", err)
		}
		r.Value = []byte(value)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate presence rows: %w", err)
	}
	return out, nil
}
