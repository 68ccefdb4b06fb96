package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Mute silences conversationID until until (zero = indefinitely).
func (db *DB) Mute(ctx context.Context, conversationID string, until time.Time) error {
	var untilMs int64
	if !until.IsZero() {
		untilMs = until.UnixMilli()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO mutes (conversation_id, muted_until, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET muted_until = excluded.muted_until`,
		conversationID, untilMs, time.Now().UnixMilli())
	return err
}

// Unmute removes any mute on conversationID.
func (db *DB) Unmute(ctx context.Context, conversationID string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM mutes WHERE conversation_id = ?`, conversationID)
	return err
}

// IsMuted reports whether conversationID is muted at now.
func (db *DB) IsMuted(ctx context.Context, conversationID string, now time.Time) (bool, error) {
	var untilMs int64
	err := db.QueryRowContext(ctx, `SELECT muted_until FROM mutes WHERE conversation_id = ?`, conversationID).Scan(&untilMs)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return muteFromRow(conversationID, untilMs).Active(now), nil
}

// ListMutes returns all mutes still in effect at now.
func (db *DB) ListMutes(ctx context.Context, now time.Time) ([]Mute, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT conversation_id, muted_until FROM mutes
		WHERE muted_until = 0 OR muted_until > ?
		ORDER BY conversation_id`, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var mutes []Mute
	for rows.Next() {
		var id string
		var untilMs int64
		if err := rows.Scan(&id, &untilMs); err != nil {
			return nil, err
		}
		mutes = append(mutes, muteFromRow(id, untilMs))
	}
	return mutes, rows.Err()
}

func muteFromRow(id string, untilMs int64) Mute {
	m := Mute{ConversationID: id}
	if untilMs != 0 {
		m.Until = time.UnixMilli(untilMs)
	}
	return m
}
