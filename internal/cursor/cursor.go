// Package cursor implements opaque-cursor pagination for "load page"
// operations whose scope can change underneath them.
package cursor

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrStale is returned when a response arrives after a newer request or
	// a scope change superseded it. The response has been discarded.
	ErrStale = errors.New("cursor: stale page response")

	// ErrBusy is returned by LoadNext while another request is in flight.
	ErrBusy = errors.New("cursor: request already in flight")
)

// Page is one slice of a paginated listing.
type Page[T any] struct {
	Items      []T
	HasMore    bool
	NextCursor string
}

// FetchFunc loads the page of scope starting after cursor. An empty cursor
// means the first page.
type FetchFunc[T any] func(ctx context.Context, scope string, cursor string) (Page[T], error)

// Option configures a Pager.
type Option[T any] func(*Pager[T])

// WithDerivedCursor derives the next cursor from the returned items when the
// backend does not supply one.
func WithDerivedCursor[T any](derive func(items []T) string) Option[T] {
	return func(p *Pager[T]) { p.derive = derive }
}

// WithSinglePage marks scopes that never paginate: they always load from the
// first page and report no further pages.
func WithSinglePage[T any](single func(scope string) bool) Option[T] {
	return func(p *Pager[T]) { p.single = single }
}

// Pager tracks the cursor of one logical listing. Loading the first page of
// a scope aborts whatever request is in flight; late responses are dropped
// with ErrStale so they cannot overwrite newer state.
type Pager[T any] struct {
	fetch  FetchFunc[T]
	derive func([]T) string
	single func(string) bool

	mu      sync.Mutex
	scope   string
	cursor  string
	hasMore bool
	gen     uint64
	loading bool
	cancel  context.CancelFunc
}

// New creates a Pager backed by fetch.
func New[T any](fetch FetchFunc[T], opts ...Option[T]) *Pager[T] {
	p := &Pager[T]{fetch: fetch, hasMore: true}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Reset switches the pager to scope, invalidating the cursor and aborting
// any in-flight request.
func (p *Pager[T]) Reset(scope string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked(scope)
}

// LoadFirst loads the first page of scope, superseding any in-flight request.
func (p *Pager[T]) LoadFirst(ctx context.Context, scope string) (Page[T], error) {
	p.mu.Lock()
	p.resetLocked(scope)
	return p.runLocked(ctx, "")
}

// LoadNext loads the page after the current cursor. It returns an empty page
// when the listing is exhausted and ErrBusy while another request is running.
func (p *Pager[T]) LoadNext(ctx context.Context) (Page[T], error) {
	p.mu.Lock()
	if !p.hasMore {
		p.mu.Unlock()
		return Page[T]{}, nil
	}
	if p.loading {
		p.mu.Unlock()
		return Page[T]{}, ErrBusy
	}
	cur := p.cursor
	if p.isSingle(p.scope) {
		cur = ""
	}
	return p.runLocked(ctx, cur)
}

// HasMore reports whether another page may exist for the current scope.
func (p *Pager[T]) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

// Cursor returns the cursor the next LoadNext will use.
func (p *Pager[T]) Cursor() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Scope returns the current scope key.
func (p *Pager[T]) Scope() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scope
}

// Loading reports whether a request is in flight.
func (p *Pager[T]) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading
}

func (p *Pager[T]) resetLocked(scope string) {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.gen++
	p.scope = scope
	p.cursor = ""
	p.hasMore = true
	p.loading = false
}

// runLocked is entered with p.mu held and returns with it released.
func (p *Pager[T]) runLocked(ctx context.Context, cur string) (Page[T], error) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.loading = true
	scope, gen := p.scope, p.gen
	p.mu.Unlock()

	page, err := p.fetch(ctx, scope, cur)
	cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen || scope != p.scope {
		return Page[T]{}, ErrStale
	}
	p.loading = false
	p.cancel = nil
	if err != nil {
		return Page[T]{}, err
	}

	next := page.NextCursor
	if next == "" && p.derive != nil && len(page.Items) > 0 {
		next = p.derive(page.Items)
	}
	p.cursor = next
	p.hasMore = page.HasMore && next != "" && !p.isSingle(scope)
	page.NextCursor = next
	page.HasMore = p.hasMore
	return page, nil
}

func (p *Pager[T]) isSingle(scope string) bool {
	return p.single != nil && p.single(scope)
}
