package threads

import (
	"sync"

	"github.com/jrepp/prism-plumber/pkg/looper"
)

// SeenTracker remembers which thread ids have been instrumented. Ids are never
// forgotten, even after their thread exits; reuse of an id within the process
// lifetime is an accepted risk.
//
// FilterUnseen is called from the scheduler worker; Seen and Len may be read
// from any goroutine.
type SeenTracker struct {
	mu   sync.RWMutex
	seen map[int64]struct{}
}

// NewSeenTracker creates an empty tracker
func NewSeenTracker() *SeenTracker {
	return &SeenTracker{seen: make(map[int64]struct{})}
}

// FilterUnseen returns the threads not seen before and marks them seen.
// Threads without a valid id are never returned and never recorded.
func (s *SeenTracker) FilterUnseen(threads []Handle) []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fresh []Handle
	for _, t := range threads {
		id := t.ThreadID()
		if id == looper.InvalidThreadID {
			continue
		}
		if _, ok := s.seen[id]; ok {
			continue
		}
		s.seen[id] = struct{}{}
		fresh = append(fresh, t)
	}
	return fresh
}

// Seen reports whether id has been recorded
func (s *SeenTracker) Seen(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[id]
	return ok
}

// Len returns the number of recorded ids
func (s *SeenTracker) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
