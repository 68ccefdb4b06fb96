package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/wppconsole/internal/bus"
	"github.com/matheus3301/wppconsole/internal/model"
)

type fakeConvs struct {
	convs    map[string]model.Conversation
	selected string
}

func (f *fakeConvs) Get(id string) (model.Conversation, bool) {
	c, ok := f.convs[id]
	return c, ok
}

func (f *fakeConvs) Selected() string { return f.selected }

type fakeMutes map[string]bool

func (f fakeMutes) IsMuted(_ context.Context, id string, _ time.Time) (bool, error) {
	if id == "broken" {
		return false, errors.New("db closed")
	}
	return f[id], nil
}

func newBridge(t *testing.T) (*Bridge, *fakeConvs, *time.Time, <-chan bus.Event) {
	t.Helper()
	convs := &fakeConvs{convs: map[string]model.Conversation{
		"a":        {ID: "a"},
		"b":        {ID: "b"},
		"archived": {ID: "archived", ArchivedByUser: true},
		"muted":    {ID: "muted"},
		"broken":   {ID: "broken"},
	}}
	b := bus.New()
	ch, unsub := b.Subscribe(bus.NotifyNamespace, 10)
	t.Cleanup(unsub)

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	n := NewBridge(fakeMutes{"muted": true}, convs, b, time.Second, nil)
	n.now = func() time.Time { return clock }
	return n, convs, &clock, ch
}

func TestSuppression(t *testing.T) {
	n, convs, _, _ := newBridge(t)
	convs.selected = "b"
	ctx := context.Background()

	tests := []struct {
		id   string
		want Outcome
	}{
		{"missing", Unknown},
		{"archived", Archived},
		{"b", Active},
		{"muted", Muted},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := n.Incoming(ctx, tt.id, "m"); got != tt.want {
				t.Errorf("Incoming(%s) = %s, want %s", tt.id, got, tt.want)
			}
		})
	}
}

func TestCooldown(t *testing.T) {
	n, _, clock, ch := newBridge(t)
	ctx := context.Background()

	if got := n.Incoming(ctx, "a", "m1"); got != Played {
		t.Fatalf("first = %s, want played", got)
	}
	*clock = clock.Add(300 * time.Millisecond)
	if got := n.Incoming(ctx, "a", "m2"); got != Cooldown {
		t.Fatalf("second = %s, want cooldown", got)
	}
	*clock = clock.Add(time.Second)
	if got := n.Incoming(ctx, "a", "m3"); got != Played {
		t.Fatalf("third = %s, want played", got)
	}

	var sounds []bus.Sound
	for len(sounds) < 2 {
		select {
		case evt := <-ch:
			sounds = append(sounds, evt.Payload.(bus.Sound))
		case <-time.After(time.Second):
			t.Fatalf("got %d sounds, want 2", len(sounds))
		}
	}
	if sounds[0].MessageID != "m1" || sounds[1].MessageID != "m3" {
		t.Errorf("sounds = %+v", sounds)
	}
}

func TestMuteLookupErrorDoesNotSuppress(t *testing.T) {
	n, _, _, _ := newBridge(t)
	if got := n.Incoming(context.Background(), "broken", "m"); got != Played {
		t.Errorf("Incoming = %s, want played", got)
	}
}
