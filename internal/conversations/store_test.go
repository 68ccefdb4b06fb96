package conversations

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/wppconsole/internal/cursor"
	"github.com/matheus3301/wppconsole/internal/model"
)

var base = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type fakeLister struct {
	mu       sync.Mutex
	convs    []model.Conversation
	archived int
	scopes   []cursor.ConversationScope
	tokens   []string
}

func (f *fakeLister) ListConversations(_ context.Context, scope cursor.ConversationScope, token string, limit int) (Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scopes = append(f.scopes, scope)
	f.tokens = append(f.tokens, token)

	var matching []model.Conversation
	for _, c := range f.convs {
		if scope.PhoneID != "" && c.TenantPhoneID != scope.PhoneID {
			continue
		}
		if scope.Search != "" && !strings.Contains(c.ID, scope.Search) {
			continue
		}
		matching = append(matching, c)
	}
	start := 0
	if token != "" {
		start, _ = strconv.Atoi(token)
	}
	end := min(start+limit, len(matching))
	l := Listing{ArchivedCount: f.archived}
	l.Items = append([]model.Conversation(nil), matching[start:end]...)
	if end < len(matching) {
		l.HasMore = true
		l.NextCursor = strconv.Itoa(end)
	}
	return l, nil
}

type fakeReads struct {
	mu    sync.Mutex
	reads map[string]time.Time
	err   error
}

func (f *fakeReads) MarkRead(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.reads == nil {
		f.reads = make(map[string]time.Time)
	}
	f.reads[id] = at
	return nil
}

func conv(id string, minutes int) model.Conversation {
	return model.Conversation{
		ID:               id,
		TenantPhoneID:    "p1",
		ParticipantPhone: "+55" + id,
		LastMessage:      model.LastMessage{Timestamp: base.Add(time.Duration(minutes) * time.Minute)},
	}
}

func newStore(t *testing.T, convs ...model.Conversation) (*Store, *fakeReads) {
	t.Helper()
	reads := &fakeReads{}
	s := NewStore(&fakeLister{convs: convs}, reads, 30, nil)
	s.Merge(convs...)
	return s, reads
}

func order(list []model.Conversation) string {
	ids := make([]string, len(list))
	for i, c := range list {
		ids[i] = c.ID
	}
	return fmt.Sprint(ids)
}

func TestUnreadAccounting(t *testing.T) {
	s, reads := newStore(t, conv("a", 1), conv("b", 2))

	for i := 0; i < 3; i++ {
		ok := s.UpsertFromMessageEvent("a", model.LastMessage{
			MessageID: fmt.Sprintf("m%d", i),
			Timestamp: base.Add(time.Duration(10+i) * time.Minute),
			Direction: model.Incoming,
		}, false)
		if !ok {
			t.Fatal("upsert on known conversation should apply")
		}
	}
	c, _ := s.Get("a")
	if c.UnreadCount != 3 {
		t.Fatalf("expected 3 unread, got %d", c.UnreadCount)
	}
	if got := s.AggregateUnread(); got != 3 {
		t.Fatalf("expected aggregate 3, got %d", got)
	}

	cleared, err := s.Select(context.Background(), "a")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if cleared != 3 {
		t.Fatalf("expected 3 cleared, got %d", cleared)
	}
	if got := s.AggregateUnread(); got != 0 {
		t.Fatalf("expected aggregate 0, got %d", got)
	}
	if _, ok := reads.reads["a"]; !ok {
		t.Fatal("read state was not persisted")
	}
}

func TestNoUnreadForOutgoingOrSelected(t *testing.T) {
	s, _ := newStore(t, conv("a", 1), conv("b", 2))

	s.UpsertFromMessageEvent("a", model.LastMessage{Timestamp: base.Add(time.Hour), Direction: model.Outgoing}, false)
	s.UpsertFromMessageEvent("b", model.LastMessage{Timestamp: base.Add(time.Hour), Direction: model.Incoming}, true)
	if _, err := s.Select(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	s.UpsertFromMessageEvent("a", model.LastMessage{Timestamp: base.Add(2 * time.Hour), Direction: model.Incoming}, false)

	if got := s.AggregateUnread(); got != 0 {
		t.Fatalf("expected no unread, got %d", got)
	}
}

func TestUpsertUnknownConversation(t *testing.T) {
	s, _ := newStore(t, conv("a", 1))
	if s.UpsertFromMessageEvent("zzz", model.LastMessage{Timestamp: base, Direction: model.Incoming}, false) {
		t.Fatal("unknown conversation must not be created by upsert")
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 conversation, got %d", s.Len())
	}
}

func TestSelectUnknown(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Select(context.Background(), "nope")
	if !errors.Is(err, model.ErrUnknownConversation) {
		t.Fatalf("expected ErrUnknownConversation, got %v", err)
	}
}

func TestSelectReadStoreError(t *testing.T) {
	s, reads := newStore(t, conv("a", 1))
	s.UpsertFromMessageEvent("a", model.LastMessage{Timestamp: base.Add(time.Hour), Direction: model.Incoming}, false)
	reads.err = errors.New("disk full")

	if _, err := s.Select(context.Background(), "a"); err == nil {
		t.Fatal("expected error from read store")
	}
	c, _ := s.Get("a")
	if c.UnreadCount != 0 {
		t.Fatalf("unread should be cleared even when persisting fails, got %d", c.UnreadCount)
	}
}

func TestOrderingInvariant(t *testing.T) {
	internal := conv("self", -100)
	internal.Internal = true
	s, _ := newStore(t, conv("a", 1), conv("b", 5), internal, conv("c", 3))

	if got := order(s.List()); got != "[self b c a]" {
		t.Fatalf("unexpected order %s", got)
	}

	s.UpsertFromMessageEvent("a", model.LastMessage{Timestamp: base.Add(time.Hour), Direction: model.Incoming}, false)
	if got := order(s.List()); got != "[self a b c]" {
		t.Fatalf("unexpected order after upsert %s", got)
	}

	list := s.List()
	for i := 2; i < len(list); i++ {
		if list[i].LastMessage.Timestamp.After(list[i-1].LastMessage.Timestamp) {
			t.Fatalf("list not descending at %d", i)
		}
	}
}

func TestOlderPreviewIgnored(t *testing.T) {
	s, _ := newStore(t, conv("a", 10))
	s.UpsertFromMessageEvent("a", model.LastMessage{MessageID: "old", Timestamp: base, Direction: model.Incoming}, false)
	c, _ := s.Get("a")
	if c.LastMessage.MessageID == "old" {
		t.Fatal("older preview should not replace a newer one")
	}
	if c.UnreadCount != 1 {
		t.Fatalf("late incoming message still counts as unread, got %d", c.UnreadCount)
	}
}

func TestCreateUniquePerTenantPair(t *testing.T) {
	s, _ := newStore(t)
	first, created := s.Create(model.Conversation{ID: "a", TenantPhoneID: "p1", ParticipantPhone: "+1"})
	if !created || first.ID != "a" {
		t.Fatalf("expected creation of a, got %+v created=%v", first, created)
	}
	dup, created := s.Create(model.Conversation{ID: "b", TenantPhoneID: "p1", ParticipantPhone: "+1", Name: "Ana"})
	if created || dup.ID != "a" {
		t.Fatalf("expected existing a, got %+v created=%v", dup, created)
	}
	if dup.Name != "Ana" {
		t.Fatalf("missing name should be filled in, got %q", dup.Name)
	}
	if _, created := s.Create(model.Conversation{ID: "c", TenantPhoneID: "p2", ParticipantPhone: "+1"}); !created {
		t.Fatal("same participant under another tenant is a different conversation")
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 conversations, got %d", s.Len())
	}
}

func TestLoadFirstAndMore(t *testing.T) {
	var convs []model.Conversation
	for i := 0; i < 7; i++ {
		convs = append(convs, conv(fmt.Sprintf("c%d", i), 100-i))
	}
	lister := &fakeLister{convs: convs}
	s := NewStore(lister, nil, 3, nil)
	ctx := context.Background()

	if err := s.LoadFirst(ctx, cursor.ConversationScope{PhoneID: "p1"}); err != nil {
		t.Fatal(err)
	}
	for s.HasMore() {
		if _, err := s.LoadMore(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if s.Len() != 7 {
		t.Fatalf("expected 7 conversations, got %d", s.Len())
	}
	if got := order(s.List()); got != "[c0 c1 c2 c3 c4 c5 c6]" {
		t.Fatalf("unexpected order %s", got)
	}
}

func TestSearchIsSinglePage(t *testing.T) {
	var convs []model.Conversation
	for i := 0; i < 7; i++ {
		convs = append(convs, conv(fmt.Sprintf("c%d", i), i))
	}
	lister := &fakeLister{convs: convs}
	s := NewStore(lister, nil, 3, nil)

	ctx := context.Background()

	if err := s.LoadFirst(ctx, cursor.ConversationScope{PhoneID: "p1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadMore(ctx); err != nil {
		t.Fatal(err)
	}
	cur := lister.tokens[len(lister.tokens)-1]

	if err := s.LoadFirst(ctx, cursor.ConversationScope{PhoneID: "p1", Search: "c"}); err != nil {
		t.Fatal(err)
	}
	if got := s.Query(); got != "c" {
		t.Fatalf("expected search query, got %q", got)
	}
	if got := lister.tokens[len(lister.tokens)-1]; got != "" {
		t.Fatalf("search must start without cursor, got %q", got)
	}
	if len(s.Results()) != 3 {
		t.Fatalf("search is a single page of 3, got %d", len(s.Results()))
	}
	if s.Scope().Search != "" || !s.HasMore() {
		t.Fatal("search must not touch the paginated list")
	}
	if _, err := s.LoadMore(ctx); err != nil {
		t.Fatal(err)
	}
	if got := lister.tokens[len(lister.tokens)-1]; got == "" || got == cur {
		t.Fatalf("list paging should continue after the search, got cursor %q", got)
	}
}

func TestSearchKeepsUnreadAccounting(t *testing.T) {
	alice, bob := conv("alice", 2), conv("bob", 1)
	bob.UnreadCount = 4
	lister := &fakeLister{convs: []model.Conversation{alice, bob}}
	s := NewStore(lister, nil, 30, nil)
	ctx := context.Background()
	if err := s.LoadFirst(ctx, cursor.ConversationScope{PhoneID: "p1"}); err != nil {
		t.Fatal(err)
	}

	if err := s.Search(ctx, cursor.ConversationScope{PhoneID: "p1", Search: "ali"}); err != nil {
		t.Fatal(err)
	}
	if got := order(s.Results()); got != "[alice]" {
		t.Fatalf("unexpected results %s", got)
	}
	if got := s.AggregateUnread(); got != 4 {
		t.Fatalf("aggregate during search = %d, want 4", got)
	}
	if !s.UpsertFromMessageEvent("bob", model.LastMessage{Timestamp: base.Add(time.Hour), Direction: model.Incoming}, false) {
		t.Fatal("message for a conversation outside the results must apply")
	}
	if got := s.AggregateUnread(); got != 5 {
		t.Fatalf("aggregate during search = %d, want 5", got)
	}
	if c, _ := s.Get("bob"); c.UnreadCount != 5 {
		t.Fatalf("bob unread = %d, want 5", c.UnreadCount)
	}

	s.ClearSearch()
	if s.Results() != nil || s.Query() != "" {
		t.Fatal("clearing the search should drop the results")
	}
	if got := order(s.List()); got != "[bob alice]" {
		t.Fatalf("unexpected list %s", got)
	}
}

func TestSearchAcrossReloads(t *testing.T) {
	older := conv("zed", 1)
	other := conv("x", 3)
	other.TenantPhoneID = "p2"
	lister := &fakeLister{convs: []model.Conversation{conv("a", 5), conv("b", 4), older, other}}
	s := NewStore(lister, nil, 2, nil)
	ctx := context.Background()

	if err := s.LoadFirst(ctx, cursor.ConversationScope{PhoneID: "p1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Search(ctx, cursor.ConversationScope{PhoneID: "p1", Search: "zed"}); err != nil {
		t.Fatal(err)
	}
	if err := s.LoadFirst(ctx, cursor.ConversationScope{PhoneID: "p1"}); err != nil {
		t.Fatal(err)
	}
	if got := order(s.Results()); got != "[zed]" {
		t.Fatalf("reloading the same tenant should keep the search, got %s", got)
	}

	if err := s.LoadFirst(ctx, cursor.ConversationScope{PhoneID: "p2"}); err != nil {
		t.Fatal(err)
	}
	if s.Results() != nil || s.Query() != "" {
		t.Fatal("switching tenant should drop the search")
	}
	if got := order(s.List()); got != "[x]" {
		t.Fatalf("expected only p2 conversations, got %s", got)
	}
}

func TestReplacedScopeIsNotApplied(t *testing.T) {
	other := conv("x", 1)
	other.TenantPhoneID = "p2"
	lister := &fakeLister{convs: []model.Conversation{conv("a", 1), other}}
	s := NewStore(lister, nil, 30, nil)
	ctx := context.Background()

	replaced := false
	s.afterFetch = func() {
		if replaced {
			return
		}
		replaced = true
		if err := s.LoadFirst(ctx, cursor.ConversationScope{PhoneID: "p2"}); err != nil {
			t.Error(err)
		}
	}
	if err := s.LoadFirst(ctx, cursor.ConversationScope{PhoneID: "p1"}); err != nil {
		t.Fatal(err)
	}
	if got := order(s.List()); got != "[x]" {
		t.Fatalf("older tenant page overwrote the newer one: %s", got)
	}
	if s.Scope().PhoneID != "p2" {
		t.Fatalf("scope = %+v, want p2", s.Scope())
	}
}

func TestArchivedCountAndRetargetScope(t *testing.T) {
	lister := &fakeLister{convs: []model.Conversation{conv("a", 1), conv("b", 2)}, archived: 3}
	s := NewStore(lister, nil, 30, nil)
	scope := cursor.ConversationScope{PhoneID: "p1", RetargetOnly: true}
	if err := s.LoadFirst(context.Background(), scope); err != nil {
		t.Fatal(err)
	}
	if got := lister.scopes[0]; got != scope {
		t.Fatalf("lister scope = %+v, want %+v", got, scope)
	}
	if got := s.Scope(); got != scope {
		t.Fatalf("store scope = %+v, want %+v", got, scope)
	}
	if got := s.ArchivedCount(); got != 3 {
		t.Fatalf("archived count = %d, want 3", got)
	}
	s.SetArchived("a", true)
	if got := s.ArchivedCount(); got != 4 {
		t.Fatalf("archived count after archive = %d, want 4", got)
	}
	s.SetArchived("a", false)
	if got := s.ArchivedCount(); got != 3 {
		t.Fatalf("archived count after unarchive = %d, want 3", got)
	}
}

func TestLoadFirstReplacesTenant(t *testing.T) {
	other := conv("x", 1)
	other.TenantPhoneID = "p2"
	lister := &fakeLister{convs: []model.Conversation{conv("a", 1), other}}
	s := NewStore(lister, nil, 30, nil)
	ctx := context.Background()

	if err := s.LoadFirst(ctx, cursor.ConversationScope{PhoneID: "p1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.LoadFirst(ctx, cursor.ConversationScope{PhoneID: "p2"}); err != nil {
		t.Fatal(err)
	}
	if got := order(s.List()); got != "[x]" {
		t.Fatalf("expected only p2 conversations, got %s", got)
	}
}

func TestLoadFirstKeepsNewerLocalPreview(t *testing.T) {
	lister := &fakeLister{convs: []model.Conversation{conv("a", 1)}}
	s := NewStore(lister, nil, 30, nil)
	s.Merge(conv("a", 1))
	s.UpsertFromMessageEvent("a", model.LastMessage{MessageID: "live", Timestamp: base.Add(time.Hour), Direction: model.Incoming}, false)

	if err := s.LoadFirst(context.Background(), cursor.ConversationScope{PhoneID: "p1"}); err != nil {
		t.Fatal(err)
	}
	c, _ := s.Get("a")
	if c.LastMessage.MessageID != "live" || c.UnreadCount != 1 {
		t.Fatalf("stale page overwrote newer local state: %+v", c)
	}
}

func TestRemoteReadAndArchive(t *testing.T) {
	s, reads := newStore(t, conv("a", 1), conv("b", 2))
	s.UpsertFromMessageEvent("a", model.LastMessage{Timestamp: base.Add(time.Hour), Direction: model.Incoming}, false)

	if !s.ApplyRemoteRead("a") {
		t.Fatal("remote read should apply")
	}
	if s.ApplyRemoteRead("a") {
		t.Fatal("second remote read is a no-op")
	}
	if len(reads.reads) != 0 {
		t.Fatal("remote read must not persist a read timestamp")
	}

	if !s.SetArchived("b", true) || s.SetArchived("b", true) {
		t.Fatal("archiving must change once")
	}
	if got := order(s.Partition(true)); got != "[b]" {
		t.Fatalf("unexpected archived partition %s", got)
	}
	if got := order(s.Partition(false)); got != "[a]" {
		t.Fatalf("unexpected main partition %s", got)
	}
}

func TestAggregateExcludesArchived(t *testing.T) {
	s, _ := newStore(t, conv("a", 1), conv("b", 2))
	s.UpsertFromMessageEvent("a", model.LastMessage{Timestamp: base.Add(time.Hour), Direction: model.Incoming}, false)
	s.UpsertFromMessageEvent("b", model.LastMessage{Timestamp: base.Add(time.Hour), Direction: model.Incoming}, false)
	s.SetArchived("b", true)
	if got := s.AggregateUnread(); got != 1 {
		t.Fatalf("expected main-only aggregate 1, got %d", got)
	}
}

func TestApplyPreviewStatus(t *testing.T) {
	s, _ := newStore(t, conv("a", 1))
	s.UpsertFromMessageEvent("a", model.LastMessage{MessageID: "t1", Timestamp: base.Add(time.Hour), Direction: model.Outgoing, Status: model.StatusSending}, false)
	s.RelabelPreview("a", "t1", "m1")

	if !s.ApplyPreviewStatus("a", "m1", model.StatusDelivered) {
		t.Fatal("status for preview message should apply")
	}
	if s.ApplyPreviewStatus("a", "m1", model.StatusSent) {
		t.Fatal("preview status must not downgrade")
	}
	if s.ApplyPreviewStatus("a", "other", model.StatusRead) {
		t.Fatal("status for a non-preview message should be ignored")
	}
}
