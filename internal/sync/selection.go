package sync

import stdsync "sync"

// Selection is the tenant phone number the console is working in. The room
// manager reads it on every reconciliation tick.
type Selection struct {
	mu    stdsync.RWMutex
	phone string
}

// Phone returns the selected tenant phone id, or "".
func (s *Selection) Phone() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phone
}

// Set changes the selected tenant and reports whether it differed.
func (s *Selection) Set(phone string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.phone != phone
	s.phone = phone
	return changed
}

// Accepts reports whether an event tagged with tenant belongs to the
// selection. Untagged events are always accepted.
func (s *Selection) Accepts(tenant string) bool {
	if tenant == "" {
		return true
	}
	return tenant == s.Phone()
}
