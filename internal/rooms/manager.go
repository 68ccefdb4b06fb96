// Package rooms keeps the socket room subscriptions in line with the
// current user, role and selected tenant.
package rooms

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultRetargetRoles are the roles that join the retarget room.
var DefaultRetargetRoles = []string{"admin", "supervisor", "retarget"}

// RetargetRoom is the cross-tenant room joined by elevated roles.
const RetargetRoom = "retarget"

// UserRoom returns the per-user room name.
func UserRoom(userID string) string { return "user:" + userID }

// PhoneRoom returns the per-tenant-phone room name.
func PhoneRoom(phoneID string) string { return "phone:" + phoneID }

// Broadcaster joins and leaves server-side rooms.
type Broadcaster interface {
	Join(ctx context.Context, room string) error
	Leave(ctx context.Context, room string) error
}

// Identity exposes the acting user.
type Identity interface {
	UserID() string
	Role() string
}

// DesiredPhone returns the tenant phone currently selected, or "".
type DesiredPhone func() string

// Config tunes a Manager.
type Config struct {
	Interval      time.Duration
	RetargetRoles []string
}

// Manager reconciles room membership on a fixed tick. Each scope is either
// unsubscribed or subscribed; a failed join leaves it unsubscribed and the
// next tick retries.
type Manager struct {
	bc       Broadcaster
	identity Identity
	desired  DesiredPhone
	interval time.Duration
	roles    []string
	logger   *zap.Logger

	mu        sync.Mutex
	held      map[string]bool
	phoneRoom string
	nudge     chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewManager creates a room manager.
func NewManager(bc Broadcaster, identity Identity, desired DesiredPhone, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	roles := cfg.RetargetRoles
	if len(roles) == 0 {
		roles = DefaultRetargetRoles
	}
	return &Manager{
		bc:       bc,
		identity: identity,
		desired:  desired,
		interval: cfg.Interval,
		roles:    roles,
		logger:   logger,
		held:     make(map[string]bool),
		nudge:    make(chan struct{}, 1),
	}
}

// Start joins the fixed rooms, runs a first reconciliation and starts the
// reconciliation tick.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	m.Reconcile(ctx)

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Reconcile(ctx)
			case <-m.nudge:
				m.Reconcile(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Nudge asks for a reconciliation without waiting for the next tick.
func (m *Manager) Nudge() {
	select {
	case m.nudge <- struct{}{}:
	default:
	}
}

// Reconcile compares the desired rooms with the subscribed ones and
// corrects any drift.
func (m *Manager) Reconcile(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, room := range m.fixedRoomsLocked() {
		if !m.held[room] {
			m.joinLocked(ctx, room)
		}
	}

	want := ""
	if phone := m.desired(); phone != "" {
		want = PhoneRoom(phone)
	}
	if want == m.phoneRoom && (want == "" || m.held[want]) {
		return
	}
	if m.phoneRoom != "" && m.phoneRoom != want {
		m.leaveLocked(ctx, m.phoneRoom)
		m.phoneRoom = ""
	}
	if want != "" && m.joinLocked(ctx, want) {
		m.phoneRoom = want
	}
}

// Resubscribe forgets every subscription and joins again, for use after the
// socket reconnected and the server dropped its room state.
func (m *Manager) Resubscribe(ctx context.Context) {
	m.mu.Lock()
	clear(m.held)
	m.phoneRoom = ""
	m.mu.Unlock()
	m.Reconcile(ctx)
}

// Stop cancels the tick and leaves every held room.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, room := range m.heldLocked() {
		m.leaveLocked(ctx, room)
	}
	m.phoneRoom = ""
}

// Rooms returns the currently held rooms, sorted.
func (m *Manager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heldLocked()
}

// Elevated reports whether role joins the retarget room.
func (m *Manager) Elevated(role string) bool {
	return slices.Contains(m.roles, role)
}

func (m *Manager) fixedRoomsLocked() []string {
	var rooms []string
	if id := m.identity.UserID(); id != "" {
		rooms = append(rooms, UserRoom(id))
	}
	if m.Elevated(m.identity.Role()) {
		rooms = append(rooms, RetargetRoom)
	}
	return rooms
}

func (m *Manager) heldLocked() []string {
	rooms := make([]string, 0, len(m.held))
	for room := range m.held {
		rooms = append(rooms, room)
	}
	slices.Sort(rooms)
	return rooms
}

func (m *Manager) joinLocked(ctx context.Context, room string) bool {
	if err := m.bc.Join(ctx, room); err != nil {
		m.logger.Warn("join room failed", zap.String("room", room), zap.Error(err))
		return false
	}
	m.held[room] = true
	m.logger.Debug("joined room", zap.String("room", room))
	return true
}

func (m *Manager) leaveLocked(ctx context.Context, room string) {
	delete(m.held, room)
	if err := m.bc.Leave(ctx, room); err != nil {
		m.logger.Warn("leave room failed", zap.String("room", room), zap.Error(err))
		return
	}
	m.logger.Debug("left room", zap.String("room", room))
}

// StaticIdentity is an Identity with fixed values.
type StaticIdentity struct {
	User     string
	UserRole string
}

func (s StaticIdentity) UserID() string { return s.User }
func (s StaticIdentity) Role() string   { return s.UserRole }
