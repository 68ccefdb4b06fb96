// Package sync applies REST responses, push events and local writes to the
// conversation and message stores in a consistent order.
package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wppconsole/internal/archive"
	"github.com/matheus3301/wppconsole/internal/bus"
	"github.com/matheus3301/wppconsole/internal/conversations"
	"github.com/matheus3301/wppconsole/internal/cursor"
	"github.com/matheus3301/wppconsole/internal/debounce"
	"github.com/matheus3301/wppconsole/internal/dedup"
	"github.com/matheus3301/wppconsole/internal/messages"
	"github.com/matheus3301/wppconsole/internal/model"
	"github.com/matheus3301/wppconsole/internal/notify"
	"github.com/matheus3301/wppconsole/internal/rest"
	"github.com/matheus3301/wppconsole/internal/status"
	"go.uber.org/zap"
)

// Sender is the REST surface for outgoing messages and new conversations.
type Sender interface {
	SendText(ctx context.Context, msg rest.TextMessage) (rest.SendResult, error)
	SendTemplate(ctx context.Context, msg rest.TemplateMessage) (rest.SendResult, error)
	SendMedia(ctx context.Context, msg rest.MediaMessage) (rest.SendResult, error)
	SendReaction(ctx context.Context, msg rest.ReactionMessage) (rest.SendResult, error)
	CreateConversation(ctx context.Context, req rest.NewConversation) (model.Conversation, error)
}

// Rooms is the part of the room manager driven by the controller.
type Rooms interface {
	Nudge()
	Resubscribe(ctx context.Context)
}

// Notifier decides whether an incoming message plays a sound.
type Notifier interface {
	Incoming(ctx context.Context, conversationID, messageID string) notify.Outcome
}

// TenantCheckpoint remembers the last selected tenant across restarts.
type TenantCheckpoint interface {
	SaveTenant(ctx context.Context, phoneID string) error
}

// ReconnectHook runs once the push socket is back after a disconnect. Events
// sent during gap were not delivered and are not replayed.
type ReconnectHook func(ctx context.Context, gap status.GapWindow) error

// Deps are the collaborators of a Controller. Rooms, Notifier, Checkpoint,
// OnReconnect and Search may be nil.
type Deps struct {
	Bus           *bus.Bus
	Selection     *Selection
	Conversations *conversations.Store
	Messages      *messages.Store
	Archive       *archive.Manager
	Sender        Sender
	Rooms         Rooms
	Notifier      Notifier
	Checkpoint    TenantCheckpoint
	Events        *dedup.Set
	MessageIDs    *dedup.Set
	Search        *debounce.Debouncer
	OnReconnect   ReconnectHook
	Logger        *zap.Logger
}

// Controller is the only writer that touches both stores for the same
// inbound payload. Payload application is serialized by mu, so a concurrent
// conversation selection observes an event either fully applied or not at all.
type Controller struct {
	bus        *bus.Bus
	selection  *Selection
	convs      *conversations.Store
	msgs       *messages.Store
	archive    *archive.Manager
	sender     Sender
	rooms      Rooms
	notifier   Notifier
	checkpoint TenantCheckpoint
	events     *dedup.Set
	messageIDs *dedup.Set
	search     *debounce.Debouncer
	onResume   ReconnectHook
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string

	mu     stdsync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a controller.
func New(d Deps) *Controller {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if d.Selection == nil {
		d.Selection = &Selection{}
	}
	if d.Events == nil {
		d.Events = dedup.New(dedup.DefaultSize)
	}
	if d.MessageIDs == nil {
		d.MessageIDs = dedup.New(dedup.DefaultSize)
	}
	if d.Search == nil {
		d.Search = debounce.New(0)
	}
	return &Controller{
		bus:        d.Bus,
		selection:  d.Selection,
		convs:      d.Conversations,
		msgs:       d.Messages,
		archive:    d.Archive,
		sender:     d.Sender,
		rooms:      d.Rooms,
		notifier:   d.Notifier,
		checkpoint: d.Checkpoint,
		events:     d.Events,
		messageIDs: d.MessageIDs,
		search:     d.Search,
		onResume:   d.OnReconnect,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
		ctx:        context.Background(),
	}
}

// Start subscribes to push and connection events and applies them in
// arrival order.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.ctx = ctx
	c.done = make(chan struct{})
	c.mu.Unlock()

	pushCh, unsubPush := c.bus.Subscribe(bus.PushNamespace, 256)
	socketCh, unsubSocket := c.bus.Subscribe(bus.SocketNamespace, 16)

	go func() {
		defer close(c.done)
		defer unsubPush()
		defer unsubSocket()
		for {
			select {
			case evt := <-pushCh:
				c.HandleEvent(ctx, evt)
			case evt := <-socketCh:
				c.HandleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the event loop and drops any pending search.
func (c *Controller) Stop() {
	c.search.Cancel()
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// HandleEvent applies one bus event. It reports whether any state changed.
func (c *Controller) HandleEvent(ctx context.Context, evt bus.Event) bool {
	switch p := evt.Payload.(type) {
	case bus.Push:
		return c.handlePush(ctx, p)
	case status.StatusChange:
		c.handleStatus(ctx, p)
		return false
	}
	return false
}

func (c *Controller) handlePush(ctx context.Context, p bus.Push) bool {
	if c.events.CheckAndRecord(p.EventID) {
		c.logger.Debug("duplicate event", zap.String("event_id", p.EventID), zap.String("type", p.Type))
		return false
	}
	if !c.selection.Accepts(p.TenantPhoneID) {
		c.logger.Debug("event for another tenant",
			zap.String("type", p.Type),
			zap.String("tenant", p.TenantPhoneID),
			zap.String("selected", c.selection.Phone()))
		return false
	}

	var (
		applied bool
		err     error
	)
	switch p.Type {
	case EventNewMessage, EventMessageEcho:
		applied, err = c.applyMessageEvent(ctx, p)
	case EventMessageStatus:
		applied, err = c.applyStatusEvent(p)
	case EventMessageReaction:
		applied, err = c.applyReactionEvent(p)
	case EventConversationRead:
		applied = c.applyRemoteRead(p)
	case EventConversationUpdate:
		applied, err = c.applyConversationUpdate(ctx, p)
	case EventNewConversation:
		applied, err = c.applyNewConversation(p)
	default:
		c.logger.Debug("unhandled event type", zap.String("type", p.Type))
		return false
	}
	if err != nil {
		c.logger.Warn("malformed event", zap.String("type", p.Type), zap.String("event_id", p.EventID), zap.Error(err))
		return false
	}
	if !applied {
		c.logger.Debug("stale event dropped",
			zap.String("type", p.Type),
			zap.String("event_id", p.EventID),
			zap.String("conversation_id", p.ConversationID))
	}
	return applied
}

func (c *Controller) applyMessageEvent(ctx context.Context, p bus.Push) (bool, error) {
	m, err := decodeMessage(p)
	if err != nil {
		return false, err
	}
	if p.Type == EventMessageEcho && m.Direction == "" {
		m.Direction = model.Outgoing
	}
	key := m.ID.Key()

	c.mu.Lock()
	if c.messageIDs.Seen(key) || c.messageIDs.Seen(m.ExternalID) {
		c.mu.Unlock()
		return false, nil
	}
	selected := c.convs.Selected() == m.ConversationID
	last := model.LastMessage{
		MessageID: key,
		Content:   m.Preview(),
		Timestamp: m.Timestamp,
		Direction: m.Direction,
		Status:    m.Status,
	}
	if !c.convs.UpsertFromMessageEvent(m.ConversationID, last, selected) {
		c.mu.Unlock()
		return false, nil
	}
	c.messageIDs.Record(key)
	c.messageIDs.Record(m.ExternalID)
	appended := c.msgs.Append(m)
	c.mu.Unlock()

	c.emit(bus.KindConversationsChanged, nil)
	if appended || selected {
		c.emit(bus.KindMessagesChanged, m.ConversationID)
	}
	if m.Direction == model.Incoming && !selected {
		c.publishUnread()
		if c.notifier != nil {
			c.notifier.Incoming(ctx, m.ConversationID, key)
		}
	}
	return true, nil
}

func (c *Controller) applyStatusEvent(p bus.Push) (bool, error) {
	var ev statusEvent
	if err := decode(p, &ev); err != nil {
		return false, err
	}
	st, ok := model.ParseStatus(ev.Status)
	if !ok {
		return false, fmt.Errorf("unknown status %q", ev.Status)
	}
	convID := orDefault(ev.ConversationID, p.ConversationID)

	c.mu.Lock()
	previewID := ev.MessageID
	if m, found := c.msgs.Get(ev.MessageID); found {
		previewID = m.ID.Key()
	}
	inWindow := c.msgs.ApplyStatus(ev.MessageID, st)
	inPreview := c.convs.ApplyPreviewStatus(convID, previewID, st)
	c.mu.Unlock()

	if inWindow {
		c.emit(bus.KindMessagesChanged, convID)
	}
	if inPreview {
		c.emit(bus.KindConversationsChanged, nil)
	}
	return inWindow || inPreview, nil
}

func (c *Controller) applyReactionEvent(p bus.Push) (bool, error) {
	var ev reactionEvent
	if err := decode(p, &ev); err != nil {
		return false, err
	}
	if ev.MessageID == "" || ev.Emoji == "" {
		return false, errors.New("reaction without message id or emoji")
	}
	r := model.Reaction{Emoji: ev.Emoji, Direction: model.Direction(orDefault(ev.Direction, string(model.Incoming))), Sender: ev.Sender}

	c.mu.Lock()
	applied := c.msgs.ApplyReaction(ev.MessageID, r)
	c.mu.Unlock()
	if applied {
		c.emit(bus.KindMessagesChanged, orDefault(ev.ConversationID, p.ConversationID))
	}
	return applied, nil
}

func (c *Controller) applyRemoteRead(p bus.Push) bool {
	c.mu.Lock()
	applied := c.convs.ApplyRemoteRead(p.ConversationID)
	c.mu.Unlock()
	if applied {
		c.emit(bus.KindConversationsChanged, nil)
		c.publishUnread()
	}
	return applied
}

func (c *Controller) applyConversationUpdate(ctx context.Context, p bus.Push) (bool, error) {
	var ev conversationUpdate
	if err := decode(p, &ev); err != nil {
		return false, err
	}
	if ev.IsArchivedByUser == nil {
		return false, nil
	}
	convID := orDefault(ev.ConversationID, p.ConversationID)

	c.mu.Lock()
	applied := c.archive.ApplyRemote(convID, *ev.IsArchivedByUser)
	c.mu.Unlock()
	if !applied {
		return false, nil
	}
	if !*ev.IsArchivedByUser {
		if err := c.archive.Resync(ctx); err != nil {
			c.logger.Error("resync after remote unarchive", zap.Error(err))
		}
	}
	c.emit(bus.KindConversationsChanged, nil)
	c.publishUnread()
	return true, nil
}

func (c *Controller) applyNewConversation(p bus.Push) (bool, error) {
	conv, err := decodeConversation(p)
	if err != nil {
		return false, err
	}
	if !c.selection.Accepts(conv.TenantPhoneID) {
		return false, nil
	}
	c.mu.Lock()
	_, created := c.convs.Create(conv)
	c.mu.Unlock()
	if created {
		c.emit(bus.KindConversationsChanged, nil)
		if conv.UnreadCount > 0 {
			c.publishUnread()
		}
	}
	return created, nil
}

func (c *Controller) handleStatus(ctx context.Context, change status.StatusChange) {
	if change.To != status.Connected {
		return
	}
	if !change.Resumed {
		if c.rooms != nil {
			c.rooms.Nudge()
		}
		return
	}
	c.logger.Info("push socket resumed",
		zap.Time("gap_from", change.Gap.From),
		zap.Duration("gap", change.Gap.Duration()))
	if c.rooms != nil {
		c.rooms.Resubscribe(ctx)
	}
	if c.onResume != nil {
		if err := c.onResume(ctx, change.Gap); err != nil {
			c.logger.Warn("reconnect hook failed", zap.Error(err))
		}
	}
}

// SelectTenant switches the console to phoneID: the open conversation is
// closed, the first page of its conversations is loaded and room
// membership follows on the next reconciliation.
func (c *Controller) SelectTenant(ctx context.Context, phoneID string) error {
	c.search.Cancel()
	c.mu.Lock()
	changed := c.selection.Set(phoneID)
	if changed {
		c.convs.Deselect()
		c.msgs.Switch("")
	}
	c.mu.Unlock()

	if c.rooms != nil {
		c.rooms.Nudge()
	}
	if changed && c.checkpoint != nil {
		if err := c.checkpoint.SaveTenant(ctx, phoneID); err != nil {
			c.logger.Warn("saving tenant checkpoint", zap.Error(err))
		}
	}
	if err := c.convs.LoadFirst(ctx, cursor.ConversationScope{PhoneID: phoneID}); err != nil {
		return err
	}
	c.emit(bus.KindConversationsChanged, nil)
	c.publishUnread()
	return nil
}

// Tenant returns the selected tenant phone id.
func (c *Controller) Tenant() string { return c.selection.Phone() }

// ReloadConversations reloads the first page of the current listing.
func (c *Controller) ReloadConversations(ctx context.Context) error {
	scope := c.convs.Scope()
	scope.PhoneID = c.selection.Phone()
	if err := c.convs.LoadFirst(ctx, scope); err != nil {
		return err
	}
	c.emit(bus.KindConversationsChanged, nil)
	c.publishUnread()
	return nil
}

// SetRetargetOnly restricts the listing to retargeted conversations, or
// lifts the restriction. The cursor restarts from the first page.
func (c *Controller) SetRetargetOnly(ctx context.Context, only bool) error {
	scope := cursor.ConversationScope{PhoneID: c.selection.Phone(), RetargetOnly: only}
	if err := c.convs.LoadFirst(ctx, scope); err != nil {
		return err
	}
	c.emit(bus.KindConversationsChanged, nil)
	c.publishUnread()
	return nil
}

// LoadMoreConversations appends the next page of the current listing.
func (c *Controller) LoadMoreConversations(ctx context.Context) (int, error) {
	n, err := c.convs.LoadMore(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.emit(bus.KindConversationsChanged, nil)
		c.publishUnread()
	}
	return n, nil
}

// Search looks up conversations matching query after a quiet period. The
// results are a view over the loaded conversations; unread accounting and
// event handling keep covering the whole set. An empty query ends the
// search. Results are announced on the bus.
func (c *Controller) Search(query string) {
	if query == "" {
		c.search.Cancel()
		c.convs.ClearSearch()
		c.emit(bus.KindConversationsChanged, nil)
		return
	}
	c.search.Call(func() {
		c.mu.Lock()
		ctx := c.ctx
		c.mu.Unlock()
		scope := c.convs.Scope()
		scope.PhoneID = c.selection.Phone()
		scope.Search = query
		if err := c.convs.Search(ctx, scope); err != nil {
			c.logger.Error("conversation search failed", zap.String("query", query), zap.Error(err))
			return
		}
		c.emit(bus.KindConversationsChanged, nil)
	})
}

// SearchNow runs a search immediately, skipping the quiet period. Any
// pending debounced search is dropped.
func (c *Controller) SearchNow(ctx context.Context, query string) error {
	c.search.Cancel()
	if query == "" {
		c.convs.ClearSearch()
		c.emit(bus.KindConversationsChanged, nil)
		return nil
	}
	scope := c.convs.Scope()
	scope.PhoneID = c.selection.Phone()
	scope.Search = query
	if err := c.convs.Search(ctx, scope); err != nil {
		return err
	}
	c.emit(bus.KindConversationsChanged, nil)
	return nil
}

// Query returns the active search query, or "".
func (c *Controller) Query() string { return c.convs.Query() }

// ArchivedCount is the number of archived conversations reported by the
// backend for the current listing.
func (c *Controller) ArchivedCount() int { return c.convs.ArchivedCount() }

// ArchivedConversations returns the loaded archived partition.
func (c *Controller) ArchivedConversations() []model.Conversation {
	return c.convs.Partition(true)
}

// ActiveConversation returns the open conversation id, or "".
func (c *Controller) ActiveConversation() string { return c.msgs.ConversationID() }

// Messages returns the loaded messages of the open conversation, oldest
// first.
func (c *Controller) Messages() []model.Message { return c.msgs.Messages() }

// Conversations returns the visible list: the search results while a
// search is active, otherwise the main partition.
func (c *Controller) Conversations() []model.Conversation {
	if c.convs.Query() != "" {
		return c.convs.Results()
	}
	return c.convs.Partition(false)
}

// SelectConversation opens conversationID: its unread count is cleared and
// persisted, and the newest page of its messages is loaded.
func (c *Controller) SelectConversation(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	cleared, err := c.convs.Activate(conversationID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if c.msgs.ConversationID() != conversationID {
		c.msgs.Switch(conversationID)
	}
	c.mu.Unlock()

	if err := c.convs.MarkRead(ctx, conversationID); err != nil {
		c.logger.Warn("persisting read state", zap.String("conversation_id", conversationID), zap.Error(err))
	}

	if cleared > 0 {
		c.emit(bus.KindConversationsChanged, nil)
		c.publishUnread()
	}
	if err := c.msgs.LoadInitial(ctx, conversationID); err != nil {
		return err
	}
	c.emit(bus.KindMessagesChanged, conversationID)
	return nil
}

// CloseConversation clears the active conversation.
func (c *Controller) CloseConversation() {
	c.mu.Lock()
	c.convs.Deselect()
	c.msgs.Switch("")
	c.mu.Unlock()
	c.emit(bus.KindMessagesChanged, "")
}

// LoadOlderMessages prepends the page before the oldest loaded message.
func (c *Controller) LoadOlderMessages(ctx context.Context) (int, error) {
	convID := c.msgs.ConversationID()
	if convID == "" {
		return 0, nil
	}
	n, err := c.msgs.LoadOlder(ctx, convID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.emit(bus.KindMessagesChanged, convID)
	}
	return n, nil
}

// Archive moves a conversation to the archived partition.
func (c *Controller) Archive(ctx context.Context, conversationID string) error {
	if err := c.archive.Archive(ctx, conversationID); err != nil {
		return err
	}
	c.emit(bus.KindConversationsChanged, nil)
	c.publishUnread()
	return nil
}

// Unarchive moves a conversation back to the main partition.
func (c *Controller) Unarchive(ctx context.Context, conversationID string) error {
	if err := c.archive.Unarchive(ctx, conversationID); err != nil {
		return err
	}
	c.emit(bus.KindConversationsChanged, nil)
	c.publishUnread()
	return nil
}

// CreateConversation starts a conversation with participant under the
// selected tenant. An existing conversation for the pair is returned as is.
func (c *Controller) CreateConversation(ctx context.Context, participant, name string) (model.Conversation, error) {
	phoneID := c.selection.Phone()
	if phoneID == "" {
		return model.Conversation{}, errors.New("create conversation: no tenant selected")
	}
	want := model.Conversation{TenantPhoneID: phoneID, ParticipantPhone: participant}
	for _, existing := range c.convs.List() {
		if existing.TenantKey() == want.TenantKey() {
			return existing, nil
		}
	}
	conv, err := c.sender.CreateConversation(ctx, rest.NewConversation{
		PhoneNumberID:    phoneID,
		ParticipantPhone: participant,
		Name:             name,
	})
	if err != nil {
		return model.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	if conv.TenantPhoneID == "" {
		conv.TenantPhoneID = phoneID
	}
	c.mu.Lock()
	stored, created := c.convs.Create(conv)
	c.mu.Unlock()
	if created {
		c.emit(bus.KindConversationsChanged, nil)
	}
	return stored, nil
}

// Unread returns the current unread aggregates.
func (c *Controller) Unread() bus.Unread {
	return bus.Unread{
		Main:              c.archive.MainUnread(),
		ArchivedIndicator: c.archive.ArchivedUnreadIndicator(),
	}
}

func (c *Controller) publishUnread() {
	c.emit(bus.KindUnreadChanged, c.Unread())
}

func (c *Controller) emit(kind string, payload any) {
	if c.bus != nil {
		c.bus.Emit(kind, payload)
	}
}
