// Package conversations holds the conversation list of the selected tenant,
// its unread accounting and its display ordering.
package conversations

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

// Listing is one page of conversations together with the backend's count
// of archived conversations in the scope.
type Listing struct {
	cursor.Page[model.Conversation]
	ArchivedCount int
}

// Lister fetches one page of conversations for a scope.
type Lister interface {
	ListConversations(ctx context.Context, scope cursor.ConversationScope, token string, limit int) (Listing, error)
}

// ReadStateStore persists the last-read timestamp of a conversation.
type ReadStateStore interface {
	MarkRead(ctx context.Context, conversationID string, at time.Time) error
}

// Store is the set of known conversations. There is at most one
// conversation per (tenant, participant) pair. Search results are a view
// over the same set, so a search never hides conversations from unread
// accounting or event handling.
type Store struct {
	lister   Lister
	reads    ReadStateStore
	pageSize int
	pager    *cursor.Pager[model.Conversation]
	search   *cursor.Pager[model.Conversation]
	logger   *zap.Logger
	now      func() time.Time
	// afterFetch runs between a page arriving and it being applied.
	afterFetch func()

	countsMu sync.Mutex
	counts   map[string]int

	mu       sync.RWMutex
	byID     map[string]*model.Conversation
	byTenant map[string]string
	order    []string
	results  []string
	archived int
	selected string
}

// NewStore creates an empty conversation store.
func NewStore(lister Lister, reads ReadStateStore, pageSize int, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = 30
	}
	s := &Store{
		lister:   lister,
		reads:    reads,
		pageSize: pageSize,
		logger:   logger,
		now:      time.Now,
		counts:   make(map[string]int),
		byID:     make(map[string]*model.Conversation),
		byTenant: make(map[string]string),
	}
	s.pager = cursor.New(s.fetch)
	s.search = cursor.New(s.fetchSearch, cursor.WithSinglePage[model.Conversation](cursor.IsSearch))
	return s
}

func (s *Store) fetch(ctx context.Context, scopeKey, token string) (cursor.Page[model.Conversation], error) {
	l, err := s.lister.ListConversations(ctx, cursor.ParseConversationScope(scopeKey), token, s.pageSize)
	if err != nil {
		return cursor.Page[model.Conversation]{}, err
	}
	s.countsMu.Lock()
	s.counts[scopeKey] = l.ArchivedCount
	s.countsMu.Unlock()
	return l.Page, nil
}

func (s *Store) fetchSearch(ctx context.Context, scopeKey, _ string) (cursor.Page[model.Conversation], error) {
	l, err := s.lister.ListConversations(ctx, cursor.ParseConversationScope(scopeKey), "", s.pageSize)
	if err != nil {
		return cursor.Page[model.Conversation]{}, err
	}
	return l.Page, nil
}

func (s *Store) takeCount(scopeKey string) (int, bool) {
	s.countsMu.Lock()
	defer s.countsMu.Unlock()
	n, ok := s.counts[scopeKey]
	delete(s.counts, scopeKey)
	return n, ok
}

// LoadFirst replaces the list with the first page of scope. A scope with a
// search query is routed to Search and leaves the list alone. A response
// superseded by a newer scope change is dropped silently.
func (s *Store) LoadFirst(ctx context.Context, scope cursor.ConversationScope) error {
	if scope.Search != "" {
		return s.Search(ctx, scope)
	}
	prev := s.Scope()
	if prev.PhoneID != scope.PhoneID || prev.RetargetOnly != scope.RetargetOnly {
		s.ClearSearch()
	}

	key := scope.Key()
	page, err := s.pager.LoadFirst(ctx, key)
	if errors.Is(err, cursor.ErrStale) {
		s.takeCount(key)
		s.logger.Debug("dropping stale conversation page", zap.String("scope", scope.PhoneID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}
	count, hasCount := s.takeCount(key)
	if s.afterFetch != nil {
		s.afterFetch()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A newer LoadFirst may have completed between the fetch and here.
	if s.pager.Scope() != key {
		s.logger.Debug("dropping conversation page for replaced scope", zap.String("scope", scope.PhoneID))
		return nil
	}
	prevByID := s.byID
	s.byID = make(map[string]*model.Conversation, len(page.Items))
	s.byTenant = make(map[string]string, len(page.Items))
	s.order = s.order[:0]
	for i := range page.Items {
		c := page.Items[i]
		if old, ok := prevByID[c.ID]; ok {
			keepNewerPreview(&c, old)
		}
		s.putLocked(&c)
	}
	for _, id := range s.results {
		if _, ok := s.byID[id]; ok {
			continue
		}
		if old, ok := prevByID[id]; ok {
			s.putLocked(old)
		}
	}
	if hasCount {
		s.archived = count
	}
	s.resortLocked()
	return nil
}

// Search loads the single page matching scope.Search. Results are merged
// into the set and exposed through Results; the paginated list keeps its
// cursor and contents.
func (s *Store) Search(ctx context.Context, scope cursor.ConversationScope) error {
	if scope.Search == "" {
		s.ClearSearch()
		return nil
	}
	key := scope.Key()
	page, err := s.search.LoadFirst(ctx, key)
	if errors.Is(err, cursor.ErrStale) {
		s.logger.Debug("dropping stale search page", zap.String("search", scope.Search))
		return nil
	}
	if err != nil {
		return fmt.Errorf("search conversations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.search.Scope() != key {
		return nil
	}
	s.results = s.results[:0]
	for i := range page.Items {
		c := page.Items[i]
		s.mergeLocked(&c)
		s.results = append(s.results, c.ID)
	}
	s.resortLocked()
	return nil
}

// ClearSearch drops the search view and aborts a running search.
func (s *Store) ClearSearch() {
	s.search.Reset("")
	s.mu.Lock()
	s.results = nil
	s.mu.Unlock()
}

// Query returns the active search query, or "".
func (s *Store) Query() string {
	return cursor.ParseConversationScope(s.search.Scope()).Search
}

// Results returns the conversations of the active search in display order.
// Without an active search it returns nil.
func (s *Store) Results() []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.results) == 0 {
		return nil
	}
	var out []model.Conversation
	for _, id := range s.order {
		if slices.Contains(s.results, id) {
			out = append(out, *s.byID[id])
		}
	}
	return out
}

// Reload loads the first page of the current list scope again. It does
// nothing before the first LoadFirst.
func (s *Store) Reload(ctx context.Context) error {
	scope := s.Scope()
	if scope.PhoneID == "" {
		return nil
	}
	return s.LoadFirst(ctx, scope)
}

// LoadMore appends the next page of the current scope and returns how many
// conversations were new.
func (s *Store) LoadMore(ctx context.Context) (int, error) {
	page, err := s.pager.LoadNext(ctx)
	if errors.Is(err, cursor.ErrStale) || errors.Is(err, cursor.ErrBusy) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load more conversations: %w", err)
	}
	if n, ok := s.takeCount(s.pager.Scope()); ok {
		s.mu.Lock()
		s.archived = n
		s.mu.Unlock()
	}
	return s.Merge(page.Items...), nil
}

// HasMore reports whether the current scope has further pages.
func (s *Store) HasMore() bool { return s.pager.HasMore() }

// Scope returns the scope of the paginated list. It never carries a search
// query.
func (s *Store) Scope() cursor.ConversationScope {
	return cursor.ParseConversationScope(s.pager.Scope())
}

// Merge upserts conversations from a REST response. Server fields win except
// a local preview newer than the server's. Returns the number added.
func (s *Store) Merge(convs ...model.Conversation) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for i := range convs {
		c := convs[i]
		if s.mergeLocked(&c) {
			added++
		}
	}
	s.resortLocked()
	return added
}

func (s *Store) mergeLocked(c *model.Conversation) bool {
	if id, ok := s.byTenant[c.TenantKey()]; ok && id != c.ID {
		s.logger.Debug("conversation id changed for tenant key",
			zap.String("old_id", id), zap.String("new_id", c.ID))
		s.removeLocked(id)
	}
	old, known := s.byID[c.ID]
	if known {
		keepNewerPreview(c, old)
	}
	s.putLocked(c)
	return !known
}

// Create registers a conversation from an explicit creation call or a
// new-conversation event. When the (tenant, participant) pair is already
// known the existing conversation is returned, with missing names filled in.
func (s *Store) Create(c model.Conversation) (model.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byTenant[c.TenantKey()]; ok {
		existing := s.byID[id]
		if existing.Name == "" {
			existing.Name = c.Name
		}
		if existing.PlatformName == "" {
			existing.PlatformName = c.PlatformName
		}
		return *existing, false
	}
	if existing, ok := s.byID[c.ID]; ok {
		return *existing, false
	}
	if c.UnreadCount < 0 {
		c.UnreadCount = 0
	}
	s.putLocked(&c)
	s.resortLocked()
	return c, true
}

// UpsertFromMessageEvent moves last into the conversation preview and, for
// an incoming message on a conversation that is not selected, adds one
// unread. Unknown conversations are not created here.
//
// The preview is replaced on every event except one older than the current
// preview: a late event would otherwise roll the list back to a stale
// message. The unread increment applies either way.
func (s *Store) UpsertFromMessageEvent(conversationID string, last model.LastMessage, selected bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[conversationID]
	if !ok {
		return false
	}
	if c.LastMessage.Timestamp.IsZero() || !last.Timestamp.Before(c.LastMessage.Timestamp) {
		c.LastMessage = last
	}
	if last.Direction == model.Incoming && !selected && s.selected != conversationID {
		c.UnreadCount++
	}
	s.resortLocked()
	return true
}

// Select makes conversationID the active conversation, zeroes its unread
// count and persists the read timestamp. It returns the unread count that
// was cleared.
func (s *Store) Select(ctx context.Context, conversationID string) (int, error) {
	cleared, err := s.Activate(conversationID)
	if err != nil {
		return 0, err
	}
	return cleared, s.MarkRead(ctx, conversationID)
}

// Activate is the in-memory half of Select: it makes conversationID active
// and zeroes its unread count without touching the read-state store.
func (s *Store) Activate(conversationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[conversationID]
	if !ok {
		return 0, fmt.Errorf("select %s: %w", conversationID, model.ErrUnknownConversation)
	}
	cleared := c.UnreadCount
	c.UnreadCount = 0
	s.selected = conversationID
	return cleared, nil
}

// MarkRead persists the read timestamp of conversationID.
func (s *Store) MarkRead(ctx context.Context, conversationID string) error {
	if s.reads == nil {
		return nil
	}
	if err := s.reads.MarkRead(ctx, conversationID, s.now()); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// Deselect clears the active conversation.
func (s *Store) Deselect() {
	s.mu.Lock()
	s.selected = ""
	s.mu.Unlock()
}

// Selected returns the active conversation id, or "".
func (s *Store) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// ApplyRemoteRead zeroes unread after another session read the
// conversation. The read timestamp is not persisted again.
func (s *Store) ApplyRemoteRead(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[conversationID]
	if !ok || c.UnreadCount == 0 {
		return false
	}
	c.UnreadCount = 0
	return true
}

// SetArchived moves a conversation between the main and archived
// partitions. Returns false when unknown or already in that partition.
func (s *Store) SetArchived(conversationID string, archived bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[conversationID]
	if !ok || c.ArchivedByUser == archived {
		return false
	}
	c.ArchivedByUser = archived
	if archived {
		s.archived++
	} else if s.archived > 0 {
		s.archived--
	}
	return true
}

// ArchivedCount is the number of archived conversations in the scope as
// reported by the backend and adjusted by local archive changes. It covers
// archived conversations the loaded pages do not include.
func (s *Store) ArchivedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.archived
}

// ApplyPreviewStatus advances the preview status when messageID is the
// conversation's last message.
func (s *Store) ApplyPreviewStatus(conversationID, messageID string, status model.Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[conversationID]
	if !ok || messageID == "" || c.LastMessage.MessageID != messageID {
		return false
	}
	if !model.CanAdvance(c.LastMessage.Status, status) {
		return false
	}
	c.LastMessage.Status = status
	return true
}

// RelabelPreview points the preview at serverID once a temp id is confirmed.
func (s *Store) RelabelPreview(conversationID, tempID, serverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.byID[conversationID]; ok && c.LastMessage.MessageID == tempID {
		c.LastMessage.MessageID = serverID
	}
}

// Get returns a copy of a conversation.
func (s *Store) Get(conversationID string) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[conversationID]
	if !ok {
		return model.Conversation{}, false
	}
	return *c, true
}

// List returns all conversations in display order.
func (s *Store) List() []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

// Partition returns the main (archived=false) or archived partition in
// display order. Internal conversations always belong to main.
func (s *Store) Partition(archived bool) []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Conversation
	for _, id := range s.order {
		c := s.byID[id]
		if isArchived(c) == archived {
			out = append(out, *c)
		}
	}
	return out
}

// AggregateUnread sums unread counts over the main partition.
func (s *Store) AggregateUnread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, c := range s.byID {
		if !isArchived(c) {
			total += c.UnreadCount
		}
	}
	return total
}

// Len returns the number of known conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func isArchived(c *model.Conversation) bool {
	return c.ArchivedByUser && !c.Internal
}

func (s *Store) putLocked(c *model.Conversation) {
	if _, ok := s.byID[c.ID]; !ok {
		s.order = append(s.order, c.ID)
	}
	if c.UnreadCount < 0 {
		c.UnreadCount = 0
	}
	s.byID[c.ID] = c
	s.byTenant[c.TenantKey()] = c.ID
}

func (s *Store) removeLocked(id string) {
	c, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	if s.byTenant[c.TenantKey()] == id {
		delete(s.byTenant, c.TenantKey())
	}
	s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == id })
	s.results = slices.DeleteFunc(s.results, func(o string) bool { return o == id })
	if s.selected == id {
		s.selected = ""
	}
}

// resortLocked orders internal conversations first, then by last message
// time descending. Ties keep their previous relative order.
func (s *Store) resortLocked() {
	slices.SortStableFunc(s.order, func(a, b string) int {
		ca, cb := s.byID[a], s.byID[b]
		if ca.Internal != cb.Internal {
			if ca.Internal {
				return -1
			}
			return 1
		}
		return cb.LastMessage.Timestamp.Compare(ca.LastMessage.Timestamp)
	})
}

func keepNewerPreview(dst, old *model.Conversation) {
	if old.LastMessage.Timestamp.After(dst.LastMessage.Timestamp) {
		dst.LastMessage = old.LastMessage
		if old.UnreadCount > dst.UnreadCount {
			dst.UnreadCount = old.UnreadCount
		}
	}
}
