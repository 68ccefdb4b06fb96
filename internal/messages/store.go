// Package messages holds the loaded message window of the selected
// conversation together with the optimistic-send lifecycle.
package messages

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/wppconsole/internal/cursor"
	"github.com/matheus3301/wppconsole/internal/model"
	"go.uber.org/zap"
)

// Lister fetches a page of messages older than before (empty = newest page).
type Lister interface {
	ListMessages(ctx context.Context, scope cursor.MessageScope, before cursor.MessageCursor, limit int) (cursor.Page[model.Message], error)
}

// Option configures a Store.
type Option func(*Store)

// WithTenant scopes message listings to the phone id returned by tenant.
func WithTenant(tenant func() string) Option {
	return func(s *Store) { s.tenant = tenant }
}

// SendAck is the server acknowledgment of a locally originated message.
type SendAck struct {
	ServerID   string
	ExternalID string
	Status     model.Status
	Timestamp  time.Time
}

// Store is the ordered message window (oldest first) of one conversation.
// Messages within the window are unique by id.
type Store struct {
	lister   Lister
	pageSize int
	pager    *cursor.Pager[model.Message]
	tenant   func() string
	logger   *zap.Logger

	mu             sync.RWMutex
	conversationID string
	window         []*model.Message
}

// NewStore creates an empty message store.
func NewStore(lister Lister, pageSize int, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	s := &Store{lister: lister, pageSize: pageSize, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	s.pager = cursor.New(s.fetch, cursor.WithDerivedCursor(oldestCursor))
	return s
}

func (s *Store) fetch(ctx context.Context, conversationID, token string) (cursor.Page[model.Message], error) {
	var before cursor.MessageCursor
	if token != "" {
		c, err := cursor.DecodeMessageCursor(token)
		if err != nil {
			return cursor.Page[model.Message]{}, err
		}
		before = c
	}
	scope := cursor.MessageScope{ConversationID: conversationID}
	if s.tenant != nil {
		scope.PhoneID = s.tenant()
	}
	return s.lister.ListMessages(ctx, scope, before, s.pageSize)
}

func oldestCursor(items []model.Message) string {
	oldest := items[0]
	for _, m := range items[1:] {
		if m.Timestamp.Before(oldest.Timestamp) {
			oldest = m
		}
	}
	return cursor.MessageCursor{MessageID: oldest.ID.Key(), Timestamp: oldest.Timestamp}.Encode()
}

// Switch clears the window and points the store at conversationID without
// fetching. Any in-flight page request is aborted.
func (s *Store) Switch(conversationID string) {
	s.mu.Lock()
	s.conversationID = conversationID
	s.window = nil
	s.mu.Unlock()
	s.pager.Reset(conversationID)
}

// LoadInitial replaces the window with the newest page of conversationID.
// The previous conversation's messages are cleared before the fetch starts.
// Messages that arrived for conversationID while the fetch was running are
// kept. A response superseded by a newer switch is dropped silently.
func (s *Store) LoadInitial(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	if s.conversationID != conversationID {
		s.conversationID = conversationID
		s.window = nil
	}
	s.mu.Unlock()

	page, err := s.pager.LoadFirst(ctx, conversationID)
	if errors.Is(err, cursor.ErrStale) {
		s.logger.Debug("dropping stale initial page", zap.String("conversation_id", conversationID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversationID != conversationID {
		return nil
	}
	live := s.window
	s.window = make([]*model.Message, 0, len(page.Items)+len(live))
	for i := range page.Items {
		m := page.Items[i].Clone()
		if s.indexLocked(m.ID.Key()) < 0 {
			s.window = append(s.window, &m)
		}
	}
	sortWindow(s.window)
	for _, m := range live {
		s.insertLocked(m)
	}
	return nil
}

// LoadOlder prepends the page before the oldest loaded message and returns
// the number of messages added. It never disturbs a concurrent LoadInitial.
func (s *Store) LoadOlder(ctx context.Context, conversationID string) (int, error) {
	if s.ConversationID() != conversationID {
		return 0, nil
	}
	page, err := s.pager.LoadNext(ctx)
	if errors.Is(err, cursor.ErrStale) || errors.Is(err, cursor.ErrBusy) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load older messages: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversationID != conversationID {
		return 0, nil
	}
	var older []*model.Message
	for i := range page.Items {
		m := page.Items[i].Clone()
		if s.indexLocked(m.ID.Key()) >= 0 || containsKey(older, m.ID.Key()) {
			continue
		}
		older = append(older, &m)
	}
	sortWindow(older)
	s.window = append(older, s.window...)
	return len(older), nil
}

// HasMore reports whether older messages may exist.
func (s *Store) HasMore() bool { return s.pager.HasMore() }

// ConversationID returns the conversation the window belongs to.
func (s *Store) ConversationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationID
}

// AppendOptimistic adds a locally originated message. It must carry a
// pending id; its status is forced to sending.
func (s *Store) AppendOptimistic(m model.Message) error {
	if !m.ID.IsPending() || m.ID.TempID() == "" {
		return fmt.Errorf("optimistic message needs a temp id, got %s", m.ID)
	}
	m.Status = model.StatusSending
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ConversationID != s.conversationID {
		return nil
	}
	if s.indexLocked(m.ID.TempID()) >= 0 {
		return nil
	}
	c := m.Clone()
	s.window = append(s.window, &c)
	return nil
}

// Append adds a confirmed message from a push event or echo. When a message
// with the same server id is already present it is merged instead: status
// only advances and the existing timestamp is kept. Returns true when a new
// entry was added.
func (s *Store) Append(m model.Message) bool {
	if m.ID.IsPending() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ConversationID != s.conversationID {
		return false
	}
	if i := s.findLocked(m.ID.ServerID(), m.ExternalID); i >= 0 {
		mergeConfirmed(s.window[i], &m)
		return false
	}
	c := m.Clone()
	s.insertLocked(&c)
	return true
}

// Reconcile merges the server acknowledgment for tempID. If the socket echo
// already added the server message, the temp entry is dropped and the
// existing one updated; otherwise the temp entry is confirmed in place.
// Either arrival order yields the same window.
func (s *Store) Reconcile(tempID string, ack SendAck) bool {
	if ack.ServerID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tempIdx := -1
	for i, m := range s.window {
		if m.ID.IsPending() && m.ID.TempID() == tempID {
			tempIdx = i
			break
		}
	}
	existing := s.findLocked(ack.ServerID, ack.ExternalID)

	switch {
	case existing >= 0:
		target := s.window[existing]
		applyAck(target, ack)
		if tempIdx >= 0 {
			if len(target.Reactions) == 0 {
				target.Reactions = s.window[tempIdx].Reactions
			}
			s.window = slices.Delete(s.window, tempIdx, tempIdx+1)
		}
		s.repositionLocked(target)
		return true
	case tempIdx >= 0:
		target := s.window[tempIdx]
		target.ID = model.Confirmed(ack.ServerID)
		applyAck(target, ack)
		s.repositionLocked(target)
		return true
	}
	return false
}

// Fail marks the optimistic message tempID as failed. Only a message still
// in sending can fail.
func (s *Store) Fail(tempID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.window {
		if m.ID.IsPending() && m.ID.TempID() == tempID {
			if !model.CanAdvance(m.Status, model.StatusFailed) {
				return false
			}
			m.Status = model.StatusFailed
			return true
		}
	}
	return false
}

// ApplyStatus advances the status of messageID. Downgrades, duplicates and
// unknown ids are ignored.
func (s *Store) ApplyStatus(messageID string, status model.Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.findLocked(messageID, messageID)
	if i < 0 {
		return false
	}
	m := s.window[i]
	if !model.CanAdvance(m.Status, status) {
		return false
	}
	m.Status = status
	return true
}

// ApplyReaction adds a reaction to messageID. The same (emoji, direction)
// pair is only recorded once.
func (s *Store) ApplyReaction(messageID string, r model.Reaction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.findLocked(messageID, messageID)
	if i < 0 {
		return false
	}
	m := s.window[i]
	for _, existing := range m.Reactions {
		if existing.Emoji == r.Emoji && existing.Direction == r.Direction {
			return false
		}
	}
	m.Reactions = append(m.Reactions, r)
	return true
}

// Get returns a copy of the message addressed by id.
func (s *Store) Get(id string) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.findLocked(id, id)
	if i < 0 {
		return model.Message{}, false
	}
	return s.window[i].Clone(), true
}

// Messages returns a snapshot of the window, oldest first.
func (s *Store) Messages() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Message, len(s.window))
	for i, m := range s.window {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the number of loaded messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.window)
}

// findLocked locates a message by server/temp id, falling back to the
// protocol-level id.
func (s *Store) findLocked(id, externalID string) int {
	if i := s.indexLocked(id); i >= 0 {
		return i
	}
	if externalID == "" {
		return -1
	}
	for i, m := range s.window {
		if m.ExternalID == externalID {
			return i
		}
	}
	return -1
}

func (s *Store) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i, m := range s.window {
		if m.ID.Key() == id {
			return i
		}
	}
	return -1
}

// insertLocked places m by timestamp; equal timestamps keep arrival order.
func (s *Store) insertLocked(m *model.Message) {
	if s.indexLocked(m.ID.Key()) >= 0 {
		return
	}
	i := len(s.window)
	for i > 0 && s.window[i-1].Timestamp.After(m.Timestamp) {
		i--
	}
	s.window = slices.Insert(s.window, i, m)
}

// repositionLocked moves m to its timestamp position after a timestamp change.
func (s *Store) repositionLocked(m *model.Message) {
	i := slices.Index(s.window, m)
	if i < 0 {
		return
	}
	s.window = slices.Delete(s.window, i, i+1)
	s.insertLocked(m)
}

func applyAck(m *model.Message, ack SendAck) {
	if ack.ExternalID != "" {
		m.ExternalID = ack.ExternalID
	}
	status := ack.Status
	if status == model.StatusUnknown {
		status = model.StatusSent
	}
	if model.CanAdvance(m.Status, status) {
		m.Status = status
	}
	if !ack.Timestamp.IsZero() {
		m.Timestamp = ack.Timestamp
	}
}

func mergeConfirmed(dst, src *model.Message) {
	if model.CanAdvance(dst.Status, src.Status) {
		dst.Status = src.Status
	}
	if dst.ExternalID == "" {
		dst.ExternalID = src.ExternalID
	}
	if dst.Timestamp.IsZero() {
		dst.Timestamp = src.Timestamp
	}
	for _, r := range src.Reactions {
		dup := false
		for _, have := range dst.Reactions {
			if have.Emoji == r.Emoji && have.Direction == r.Direction {
				dup = true
				break
			}
		}
		if !dup {
			dst.Reactions = append(dst.Reactions, r)
		}
	}
}

func sortWindow(w []*model.Message) {
	slices.SortStableFunc(w, func(a, b *model.Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}

func containsKey(w []*model.Message, key string) bool {
	for _, m := range w {
		if m.ID.Key() == key {
			return true
		}
	}
	return false
}
