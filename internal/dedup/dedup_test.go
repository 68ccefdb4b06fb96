package dedup

import (
	"fmt"
	"sync"
	"testing"
)

func TestRecordAndSeen(t *testing.T) {
	s := New(10)
	if s.Seen("e1") {
		t.Fatal("fresh set reports e1 as seen")
	}
	s.Record("e1")
	if !s.Seen("e1") {
		t.Error("e1 not seen after Record")
	}
	s.Record("e1")
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after duplicate Record", s.Len())
	}
}

func TestEmptyIDNeverSeen(t *testing.T) {
	s := New(10)
	s.Record("")
	if s.Seen("") || s.CheckAndRecord("") {
		t.Error("empty id must never be reported as seen")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestEvictsOldestFirst(t *testing.T) {
	s := New(3)
	for _, id := range []string{"a", "b", "c"} {
		s.Record(id)
	}
	// Touching "a" does not refresh it: FIFO, not LRU.
	s.Record("a")
	s.Record("d")

	if s.Seen("a") {
		t.Error("a should have been evicted as the oldest entry")
	}
	for _, id := range []string{"b", "c", "d"} {
		if !s.Seen(id) {
			t.Errorf("%s should still be present", id)
		}
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}
}

func TestDefaultSize(t *testing.T) {
	s := New(0)
	for i := 0; i < DefaultSize+10; i++ {
		s.Record(fmt.Sprintf("id-%d", i))
	}
	if s.Len() != DefaultSize {
		t.Errorf("Len() = %d, want %d", s.Len(), DefaultSize)
	}
	if s.Seen("id-0") {
		t.Error("id-0 should have been evicted")
	}
	if !s.Seen(fmt.Sprintf("id-%d", DefaultSize+9)) {
		t.Error("newest id missing")
	}
}

func TestCheckAndRecord(t *testing.T) {
	s := New(5)
	if s.CheckAndRecord("x") {
		t.Error("first CheckAndRecord(x) = true, want false")
	}
	if !s.CheckAndRecord("x") {
		t.Error("second CheckAndRecord(x) = false, want true")
	}
}

func TestCheckAndRecordConcurrent(t *testing.T) {
	s := New(100)
	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !s.CheckAndRecord("same") {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if firsts != 1 {
		t.Errorf("%d goroutines saw the id as new, want exactly 1", firsts)
	}
}

func TestForgetAndReset(t *testing.T) {
	s := New(5)
	s.Record("a")
	s.Record("b")
	s.Forget("a")
	if s.Seen("a") {
		t.Error("a still seen after Forget")
	}
	s.Reset()
	if s.Len() != 0 || s.Seen("b") {
		t.Error("Reset did not clear the set")
	}
}
