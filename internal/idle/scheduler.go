// Package idle schedules best-effort work for moments when a session has no
// user activity.
package idle

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Handle identifies a scheduled callback.
type Handle uint64

// Scheduler runs callbacks when the environment is otherwise idle.
type Scheduler interface {
	// Schedule arranges for fn to run once, at an idle moment.
	Schedule(fn func()) Handle
	// Cancel drops a callback that has not run yet.
	Cancel(h Handle)
}

// Config controls idle detection.
type Config struct {
	// Threshold is how long the session must have been inactive to count as
	// idle. Zero disables idle detection and uses Fallback instead.
	Threshold time.Duration
	// CheckEvery is the polling interval while waiting for idleness.
	CheckEvery time.Duration
	// Fallback is the fixed delay used when idle detection is disabled.
	Fallback time.Duration
}

// DefaultConfig returns the idle settings used by storefront sessions.
func DefaultConfig() Config {
	return Config{
		Threshold:  2 * time.Second,
		CheckEvery: 500 * time.Millisecond,
		Fallback:   time.Second,
	}
}

// ActivityScheduler is the production Scheduler. It treats a session as idle
// once no activity was recorded with Touch for Config.Threshold.
type ActivityScheduler struct {
	clock clockwork.Clock
	cfg   Config

	lastActivity atomic.Int64

	mu      sync.Mutex
	seq     Handle
	pending map[Handle]clockwork.Timer
	closed  bool
}

var _ Scheduler = (*ActivityScheduler)(nil)

// NewActivityScheduler creates an ActivityScheduler. The session counts as
// active at construction time.
func NewActivityScheduler(clock clockwork.Clock, cfg Config) *ActivityScheduler {
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = DefaultConfig().CheckEvery
	}
	if cfg.Fallback <= 0 {
		cfg.Fallback = DefaultConfig().Fallback
	}
	s := &ActivityScheduler{
		clock:   clock,
		cfg:     cfg,
		pending: make(map[Handle]clockwork.Timer),
	}
	s.Touch()
	return s
}

// Touch records user activity.
func (s *ActivityScheduler) Touch() {
	s.lastActivity.Store(s.clock.Now().UnixNano())
}

// Idle reports whether the session has been inactive for the threshold.
func (s *ActivityScheduler) Idle() bool {
	last := time.Unix(0, s.lastActivity.Load())
	return s.clock.Since(last) >= s.cfg.Threshold
}

// Schedule implements Scheduler.
func (s *ActivityScheduler) Schedule(fn func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	h := s.seq
	if s.closed {
		return h
	}
	if s.cfg.Threshold <= 0 {
		s.pending[h] = s.clock.AfterFunc(s.cfg.Fallback, func() { s.fire(h, fn) })
		return h
	}
	s.armLocked(h, fn)
	return h
}

// Cancel implements Scheduler.
func (s *ActivityScheduler) Cancel(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.pending[h]; ok {
		t.Stop()
		delete(s.pending, h)
	}
}

// Close cancels every pending callback. Later Schedule calls are ignored.
func (s *ActivityScheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for h, t := range s.pending {
		t.Stop()
		delete(s.pending, h)
	}
	s.closed = true
}

// Pending returns the number of callbacks waiting to run.
func (s *ActivityScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *ActivityScheduler) armLocked(h Handle, fn func()) {
	s.pending[h] = s.clock.AfterFunc(s.cfg.CheckEvery, func() {
		if !s.Idle() {
			s.mu.Lock()
			if _, ok := s.pending[h]; ok {
				s.armLocked(h, fn)
			}
			s.mu.Unlock()
			return
		}
		s.fire(h, fn)
	})
}

func (s *ActivityScheduler) fire(h Handle, fn func()) {
	s.mu.Lock()
	_, ok := s.pending[h]
	delete(s.pending, h)
	s.mu.Unlock()

	if ok {
		fn()
	}
}
