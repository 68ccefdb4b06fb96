// Package notify decides whether an incoming message should produce a
// notification sound.
package notify

import (
	"context"
	"time"

	"github.com/matheus3301/wppconsole/internal/bus"
	"github.com/matheus3301/wppconsole/internal/model"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Outcome is the result of a notification request.
type Outcome int

const (
	Played Outcome = iota
	Muted
	Archived
	Active
	Cooldown
	Unknown
)

func (o Outcome) String() string {
	switch o {
	case Played:
		return "played"
	case Muted:
		return "muted"
	case Archived:
		return "archived"
	case Active:
		return "active"
	case Cooldown:
		return "cooldown"
	}
	return "unknown"
}

// MuteChecker reports per-conversation mutes.
type MuteChecker interface {
	IsMuted(ctx context.Context, conversationID string, now time.Time) (bool, error)
}

// Conversations exposes the state suppression depends on.
type Conversations interface {
	Get(conversationID string) (model.Conversation, bool)
	Selected() string
}

// Bridge emits notify.sound events, suppressed for muted, archived and
// active conversations and spaced by a cooldown.
type Bridge struct {
	mutes   MuteChecker
	convs   Conversations
	bus     *bus.Bus
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time
}

// NewBridge creates a notification bridge. mutes may be nil.
func NewBridge(mutes MuteChecker, convs Conversations, b *bus.Bus, cooldown time.Duration, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cooldown > 0 {
		limit = rate.Every(cooldown)
	}
	return &Bridge{
		mutes:   mutes,
		convs:   convs,
		bus:     b,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		now:     time.Now,
	}
}

// Incoming handles an incoming message for conversationID.
func (n *Bridge) Incoming(ctx context.Context, conversationID, messageID string) Outcome {
	outcome := n.decide(ctx, conversationID)
	if outcome != Played {
		n.logger.Debug("notification suppressed",
			zap.String("conversation_id", conversationID),
			zap.Stringer("reason", outcome))
		return outcome
	}
	if n.bus != nil {
		n.bus.Emit(bus.KindNotifySound, bus.Sound{ConversationID: conversationID, MessageID: messageID})
	}
	return Played
}

func (n *Bridge) decide(ctx context.Context, conversationID string) Outcome {
	c, ok := n.convs.Get(conversationID)
	if !ok {
		return Unknown
	}
	if c.ArchivedByUser {
		return Archived
	}
	if n.convs.Selected() == conversationID {
		return Active
	}
	now := n.now()
	if n.mutes != nil {
		muted, err := n.mutes.IsMuted(ctx, conversationID, now)
		if err != nil {
			n.logger.Warn("mute lookup failed", zap.String("conversation_id", conversationID), zap.Error(err))
		}
		if muted {
			return Muted
		}
	}
	if !n.limiter.AllowN(now, 1) {
		return Cooldown
	}
	return Played
}
