package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Collection names the three record tables.
type Collection string

const (
	Features     Collection = "features"
	Folders      Collection = "folders"
	LayerConfigs Collection = "layer_configs"
)

// RecordRow is one versioned record row. Value is the record's full JSON
// as the client submitted it; FolderID and At are denormalized for
// ordering queries and unused by layer configs' parents.
type RecordRow struct {
	ID       string
	FolderID string
	At       string
	Value    []byte
	Deleted  bool
	Version  int64
}

// tableOf guards against SQL built from an unexpected collection value.
func tableOf(c Collection) (string, error) {
	switch c {
	case Features, Folders, LayerConfigs:
		return string(c), nil
	default:
		return "", fmt.Errorf("store: unknown collection %q", c)
	}
}

// UpsertRecord writes a record row at the given version within tx,
// clearing any tombstone. Last write wins at record granularity.
func (s *Store) UpsertRecord(ctx context.Context, tx *sql.Tx, c Collection, mapID string, row RecordRow) error {
	table, err := tableOf(c)
	if err != nil {
		return err
	}
	if c == LayerConfigs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO `+table+` (id, map_id, at, value, deleted, version)
			VALUES (?, ?, ?, ?, 0, ?)
			ON CONFLICT(id) DO UPDATE SET
				at = excluded.at,
				value = excluded.value,
				deleted = 0,
				version = excluded.version
		`, row.ID, mapID, row.At, string(row.Value), row.Version)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO `+table+` (id, map_id, folder_id, at, value, deleted, version)
			VALUES (?, ?, ?, ?, ?, 0, ?)
			ON CONFLICT(id) DO UPDATE SET
				folder_id = excluded.folder_id,
				at = excluded.at,
				value = excluded.value,
				deleted = 0,
				version = excluded.version
		`, row.ID, mapID, row.FolderID, row.At, string(row.Value), row.Version)
	}
	if err != nil {
		return fmt.Errorf("upsert %s %s: %w", table, row.ID, err)
	}
	return nil
}

// SoftDeleteRecord tombstones a record at the given version within tx.
// The row survives so pulls can tell clients that saw it to remove it.
// Deleting an id that was never written is a no-op.
func (s *Store) SoftDeleteRecord(ctx context.Context, tx *sql.Tx, c Collection, mapID, id string, version int64) error {
	table, err := tableOf(c)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE `+table+` SET deleted = 1, version = ?
		WHERE id = ? AND map_id = ?
	`, version, id, mapID)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", table, id, err)
	}
	return nil
}

// RecordsSince returns rows of a collection with version > since,
// tombstones included, ordered by version then id for deterministic
// patches. Pass since = -1 for all rows.
func (s *Store) RecordsSince(ctx context.Context, c Collection, mapID string, since int64) ([]RecordRow, error) {
	table, err := tableOf(c)
	if err != nil {
		return nil, err
	}
	var folderExpr string
	if c == LayerConfigs {
		folderExpr = "''"
	} else {
		folderExpr = "folder_id"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, `+folderExpr+`, at, value, deleted, version
		FROM `+table+`
		WHERE map_id = ? AND version > ?
		ORDER BY version ASC, id ASC
	`, mapID, since)
	if err != nil {
		return nil, fmt.Errorf("query %s since %d: %w", table, since, err)
	}
	defer rows.Close()

	var out []RecordRow
	for rows.Next() {
		var r RecordRow
		var value string
		var deleted int
		if err := rows.Scan(&r.ID, &r.FolderID, &r.At, &value, &deleted, &r.Version); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		r.Value = []byte(value)
		r.Deleted = deleted != 0
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", table, err)
	}
	return out, nil
}
