package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/wppconsole/internal/bus"
)

// State is the push socket connection state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
	Closed       State = "CLOSED"
)

// validTransitions defines allowed state transitions. Closed is terminal.
var validTransitions = map[State][]State{
	Disconnected: {Connecting, Closed},
	Connecting:   {Connected, Reconnecting, Closed},
	Connected:    {Reconnecting, Closed},
	Reconnecting: {Connecting, Closed},
	Closed:       {},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu          sync.RWMutex
	current     State
	everOnline  bool
	since       time.Time
	lastOffline time.Time
	bus         *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		since:   time.Now(),
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	now := time.Now()
	change := StatusChange{From: from, To: to}

	if from == Connected {
		m.lastOffline = now
	}
	if to == Connected {
		if m.everOnline {
			change.Resumed = true
			change.Gap = GapWindow{From: m.lastOffline, To: now}
		}
		m.everOnline = true
	}
	m.current = to
	m.since = now

	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindSocketStatus,
			Timestamp: now,
			Payload:   change,
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
	// Resumed is set when Connected is reached again after a disconnect.
	Resumed bool
	Gap     GapWindow
}

// GapWindow is the interval during which push events may have been missed.
type GapWindow struct {
	From time.Time
	To   time.Time
}

// Duration returns the length of the gap.
func (g GapWindow) Duration() time.Duration {
	return g.To.Sub(g.From)
}
