// Package watch owns the vacancy watch: the run/stop state machine, the
// interval timer, and the check pipeline that probes, records, and notifies.
package watch

import (
	"sync"

	"github.com/hamed0406/flatwatch/internal/domain"
)

// State is the single authoritative watch status, shared by the scheduler
// and the pipeline. Every read and write goes through the one lock, so
// callers always observe a consistent snapshot, never a half-applied update.
type State struct {
	mu  sync.Mutex
	cur domain.WatchStatus
}

func NewState(initial domain.WatchStatus) *State {
	return &State{cur: initial}
}

// Snapshot returns a copy of the current status.
func (s *State) Snapshot() domain.WatchStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Update applies fn under the lock and returns the resulting snapshot.
func (s *State) Update(fn func(*domain.WatchStatus)) domain.WatchStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.cur)
	return s.cur
}
