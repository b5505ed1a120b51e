package feedtest

import (
	"slices"
	"sync"

	"github.com/xenking/kart-feed/internal/idle"
)

// Scheduler is an idle.Scheduler whose idle periods are declared by the test
// through RunIdle.
type Scheduler struct {
	mu      sync.Mutex
	next    idle.Handle
	pending map[idle.Handle]func()
}

var _ idle.Scheduler = (*Scheduler)(nil)

// NewScheduler creates an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{pending: make(map[idle.Handle]func())}
}

// Schedule implements idle.Scheduler.
func (s *Scheduler) Schedule(fn func()) idle.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.pending[s.next] = fn
	return s.next
}

// Cancel implements idle.Scheduler.
func (s *Scheduler) Cancel(h idle.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, h)
}

// Pending returns the number of callbacks waiting for idle time.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// RunIdle runs every pending callback in scheduling order and returns how
// many ran.
func (s *Scheduler) RunIdle() int {
	s.mu.Lock()
	handles := make([]idle.Handle, 0, len(s.pending))
	for h := range s.pending {
		handles = append(handles, h)
	}
	slices.Sort(handles)
	fns := make([]func(), 0, len(handles))
	for _, h := range handles {
		fns = append(fns, s.pending[h])
		delete(s.pending, h)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}
