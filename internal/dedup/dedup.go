// Package dedup provides bounded identity sets used to make event and
// message processing idempotent.
package dedup

import (
	"sync"

	"github.com/elliotchance/orderedmap/v2"
)

// DefaultSize is the number of ids a Set remembers when no size is given.
const DefaultSize = 500

// Set is an insertion-ordered set of ids bounded to a fixed size. When full,
// the oldest recorded id is evicted first (FIFO, not true recency).
type Set struct {
	mu   sync.Mutex
	ids  *orderedmap.OrderedMap[string, struct{}]
	size int
}

// New creates a Set remembering at most size ids.
func New(size int) *Set {
	if size <= 0 {
		size = DefaultSize
	}
	return &Set{
		ids:  orderedmap.NewOrderedMap[string, struct{}](),
		size: size,
	}
}

// Seen reports whether id was recorded and not yet evicted.
// The empty id is never seen.
func (s *Set) Seen(id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids.Get(id)
	return ok
}

// Record remembers id, evicting the oldest entry when the set is full.
// Re-recording a known id does not refresh its position.
func (s *Set) Record(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(id)
}

// CheckAndRecord records id and reports whether it had already been seen.
// It is the atomic form of Seen followed by Record.
func (s *Set) CheckAndRecord(id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids.Get(id); ok {
		return true
	}
	s.record(id)
	return false
}

// Forget drops id from the set.
func (s *Set) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids.Delete(id)
}

// Len returns the number of remembered ids.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids.Len()
}

// Reset forgets every id.
func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = orderedmap.NewOrderedMap[string, struct{}]()
}

func (s *Set) record(id string) {
	if _, ok := s.ids.Get(id); ok {
		return
	}
	for s.ids.Len() >= s.size {
		oldest := s.ids.Front()
		if oldest == nil {
			break
		}
		s.ids.Delete(oldest.Key)
	}
	s.ids.Set(id, struct{}{})
}
