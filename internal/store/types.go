package store

import "time"

// Mute silences notifications for a conversation. A zero Until mutes
// indefinitely.
type Mute struct {
	ConversationID string
	Until          time.Time
}

// Active reports whether the mute is in effect at now.
func (m Mute) Active(now time.Time) bool {
	return m.Until.IsZero() || now.Before(m.Until)
}

// Gap is a window during which the push socket was disconnected and events
// may have been missed.
type Gap struct {
	ID        int64
	StartedAt time.Time
	EndedAt   time.Time
}
