package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrMapNotFound is returned when a map id has no row. A push or pull
// against a missing map is always rejected, never partially trusted.
var ErrMapNotFound = errors.New("store: map not found")

// ErrSessionNotFound is returned when a bearer token has no session row.
var ErrSessionNotFound = errors.New("store: session not found")

// MapMeta is the out-of-band document row for one map.
type MapMeta struct {
	ID            string
	Version       int64
	Label         string
	Description   string
	Symbolization []byte
}

// CreateMap inserts a map row at version 0. Creating an existing id is an
// error.
func (s *Store) CreateMap(ctx context.Context, id, label string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO maps (id, version, label, created_at)
		VALUES (?, 0, ?, ?)
	`, id, label, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("create map %s: %w", id, err)
	}
	return nil
}

// MapMeta returns the map row, including its current version.
func (s *Store) MapMeta(ctx context.Context, id string) (MapMeta, error) {
	var m MapMeta
	var symbolization sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, version, label, description, symbolization
		FROM maps WHERE id = ?
	`, id).Scan(&m.ID, &m.Version, &m.Label, &m.Description, &symbolization)
	if errors.Is(err, sql.ErrNoRows) {
		return MapMeta{}, ErrMapNotFound
	}
	if err != nil {
		return MapMeta{}, fmt.Errorf("read map %s: %w", id, err)
	}
	if symbolization.Valid {
		m.Symbolization = []byte(symbolization.String)
	}
	return m, nil
}

// UpdateMapMeta replaces label, description, and symbolization, advancing
// the map version so collaborators pick the change up on their next pull.
func (s *Store) UpdateMapMeta(ctx context.Context, id, label, description string, symbolization []byte) error {
	var symb any
	if len(symbolization) > 0 {
		symb = string(symbolization)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE maps
		SET label = ?, description = ?, symbolization = ?, version = version + 1
		WHERE id = ?
	`, label, description, symb, id)
	if err != nil {
		return fmt.Errorf("update map %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update map %s: %w", id, err)
	}
	if n == 0 {
		return ErrMapNotFound
	}
	return nil
}

// CheckMap verifies within tx that a map row exists, returning
// ErrMapNotFound otherwise.
func (s *Store) CheckMap(ctx context.Context, tx *sql.Tx, id string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM maps WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrMapNotFound
	}
	if err != nil {
		return fmt.Errorf("check map %s: %w", id, err)
	}
	return nil
}

// IncrementVersion atomically advances and returns the map's version
// counter within tx. Concurrent pushes against the same map serialize on
// this row, which gives that map's history a total order.
func (s *Store) IncrementVersion(ctx context.Context, tx *sql.Tx, mapID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE maps SET version = version + 1 WHERE id = ?
	`, mapID)
	if err != nil {
		return 0, fmt.Errorf("increment version of %s: %w", mapID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("increment version of %s: %w", mapID, err)
	}
	if n == 0 {
		return 0, ErrMapNotFound
	}
	var version int64
	if err := tx.QueryRowContext(ctx, `SELECT version FROM maps WHERE id = ?`, mapID).Scan(&version); err != nil {
		return 0, fmt.Errorf("read version of %s: %w", mapID, err)
	}
	return version, nil
}

// PutSession stores a bearer token authorizing one map.
func (s *Store) PutSession(ctx context.Context, token, mapID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (token, map_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET map_id = excluded.map_id
	`, token, mapID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// SessionMap resolves a bearer token to the single map it authorizes.
func (s *Store) SessionMap(ctx context.Context, token string) (string, error) {
	var mapID string
	err := s.db.QueryRowContext(ctx, `SELECT map_id FROM sessions WHERE token = ?`, token).Scan(&mapID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read session: %w", err)
	}
	return mapID, nil
}
