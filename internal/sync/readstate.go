package sync

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// LocalReads persists read timestamps on this machine.
type LocalReads interface {
	MarkRead(ctx context.Context, conversationID string, at time.Time) error
}

// RemoteReads tells the backend a conversation was read.
type RemoteReads interface {
	MarkConversationRead(ctx context.Context, conversationID string) error
}

// ReadState records a read both locally and on the backend. Both sides are
// attempted even if one fails.
type ReadState struct {
	local  LocalReads
	remote RemoteReads
}

// NewReadState combines local and remote read tracking. Either may be nil.
func NewReadState(local LocalReads, remote RemoteReads) *ReadState {
	return &ReadState{local: local, remote: remote}
}

// MarkRead implements conversations.ReadStateStore.
func (r *ReadState) MarkRead(ctx context.Context, conversationID string, at time.Time) error {
	var errs []error
	if r.local != nil {
		if err := r.local.MarkRead(ctx, conversationID, at); err != nil {
			errs = append(errs, fmt.Errorf("local read state: %w", err))
		}
	}
	if r.remote != nil {
		if err := r.remote.MarkConversationRead(ctx, conversationID); err != nil {
			errs = append(errs, fmt.Errorf("remote read state: %w", err))
		}
	}
	return errors.Join(errs...)
}
