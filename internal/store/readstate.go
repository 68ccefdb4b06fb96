package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// MarkRead records that conversationID was read at at. Earlier timestamps
// never overwrite a later one.
func (db *DB) MarkRead(ctx context.Context, conversationID string, at time.Time) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO read_state (conversation_id, last_read_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			last_read_at = MAX(read_state.last_read_at, excluded.last_read_at),
			updated_at = excluded.updated_at`,
		conversationID, at.UnixMilli(), now)
	return err
}

// LastRead returns the last-read time of conversationID. ok is false when
// the conversation was never read from this console.
func (db *DB) LastRead(ctx context.Context, conversationID string) (at time.Time, ok bool, err error) {
	var ms int64
	err = db.QueryRowContext(ctx, `SELECT last_read_at FROM read_state WHERE conversation_id = ?`, conversationID).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}
