package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/wppconsole/internal/status"
	"github.com/matheus3301/wppconsole/internal/store"
	"go.uber.org/zap"
)

// Checkpoint keys in sync_state.
const (
	CheckpointTenant    = "tenant_phone_id"
	CheckpointResumedAt = "last_resumed_at"
)

// Reconciler manages sync checkpoints: the last selected tenant and the
// disconnect windows of the push socket.
type Reconciler struct {
	db     *store.DB
	logger *zap.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(db *store.DB, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{db: db, logger: logger}
}

// SaveTenant remembers the selected tenant.
func (r *Reconciler) SaveTenant(ctx context.Context, phoneID string) error {
	return r.db.SetCheckpoint(ctx, CheckpointTenant, phoneID)
}

// LastTenant returns the tenant selected before the last shutdown, or "".
func (r *Reconciler) LastTenant(ctx context.Context) (string, error) {
	v, err := r.db.Checkpoint(ctx, CheckpointTenant)
	if errors.Is(err, store.ErrNoCheckpoint) {
		return "", nil
	}
	return v, err
}

// RecordGap is the default ReconnectHook. Missed events are not refetched;
// the window is stored so it can be inspected later.
func (r *Reconciler) RecordGap(ctx context.Context, gap status.GapWindow) error {
	if gap.From.IsZero() {
		return nil
	}
	id, err := r.db.RecordGap(ctx, gap.From, gap.To)
	if err != nil {
		return fmt.Errorf("record gap: %w", err)
	}
	if err := r.db.SetCheckpoint(ctx, CheckpointResumedAt, gap.To.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("update checkpoint: %w", err)
	}
	r.logger.Info("disconnect gap recorded",
		zap.Int64("gap_id", id),
		zap.Duration("duration", gap.Duration()))
	return nil
}
