package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNoCheckpoint is returned when a checkpoint key was never written.
var ErrNoCheckpoint = errors.New("checkpoint not found")

// SetCheckpoint upserts a sync checkpoint value.
func (db *DB) SetCheckpoint(ctx context.Context, key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// Checkpoint retrieves a sync checkpoint value.
func (db *DB) Checkpoint(ctx context.Context, key string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoCheckpoint
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// RecordGap stores a disconnect window.
func (db *DB) RecordGap(ctx context.Context, from, to time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `INSERT INTO disconnect_gaps (started_at, ended_at) VALUES (?, ?)`,
		from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Gaps returns the most recent disconnect windows, newest first.
func (db *DB) Gaps(ctx context.Context, limit int) ([]Gap, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, started_at, ended_at FROM disconnect_gaps
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var gaps []Gap
	for rows.Next() {
		var g Gap
		var from, to int64
		if err := rows.Scan(&g.ID, &from, &to); err != nil {
			return nil, err
		}
		g.StartedAt = time.UnixMilli(from)
		g.EndedAt = time.UnixMilli(to)
		gaps = append(gaps, g)
	}
	return gaps, rows.Err()
}
