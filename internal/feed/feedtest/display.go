package feedtest

import (
	"slices"
	"sync"

	"github.com/xenking/kart-feed/internal/viewport"
)

// Surface is an in-memory scroll surface.
type Surface struct {
	mu         sync.Mutex
	id         string
	offset     float64
	scrollable bool
	restores   []float64
}

var _ viewport.Surface = (*Surface)(nil)

// NewSurface creates a surface at offset zero.
func NewSurface(id string, scrollable bool) *Surface {
	return &Surface{id: id, scrollable: scrollable}
}

// ID implements viewport.Surface.
func (s *Surface) ID() string { return s.id }

// Offset implements viewport.Surface.
func (s *Surface) Offset() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// Scrollable implements viewport.Surface.
func (s *Surface) Scrollable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrollable
}

// SetScrollable toggles whether the surface overflows.
func (s *Surface) SetScrollable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scrollable = v
}

// ScrollTo implements viewport.Surface. Programmatic scrolls are recorded
// and do not emit scroll events.
func (s *Surface) ScrollTo(offset float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset = offset
	s.restores = append(s.restores, offset)
}

// Restores returns the offsets applied through ScrollTo.
func (s *Surface) Restores() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.restores)
}

type observer struct {
	id string
	fn func()
}

// Screen is an in-memory display: a prioritized list of surfaces plus a
// visibility oracle driven by the test.
type Screen struct {
	mu        sync.Mutex
	surfaces  []*Surface
	seq       int
	listeners map[int]func(viewport.Surface)
	observers map[int]observer
}

var (
	_ viewport.Viewport   = (*Screen)(nil)
	_ viewport.Visibility = (*Screen)(nil)
)

// NewScreen creates a Screen whose candidates are surfaces in priority order.
func NewScreen(surfaces ...*Surface) *Screen {
	return &Screen{
		surfaces:  surfaces,
		listeners: make(map[int]func(viewport.Surface)),
		observers: make(map[int]observer),
	}
}

// Candidates implements viewport.Viewport.
func (sc *Screen) Candidates() []viewport.Surface {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	out := make([]viewport.Surface, 0, len(sc.surfaces))
	for _, s := range sc.surfaces {
		out = append(out, s)
	}
	return out
}

// OnScroll implements viewport.Viewport.
func (sc *Screen) OnScroll(fn func(viewport.Surface)) func() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.seq++
	id := sc.seq
	sc.listeners[id] = fn
	return func() {
		sc.mu.Lock()
		defer sc.mu.Unlock()
		delete(sc.listeners, id)
	}
}

// Observe implements viewport.Visibility.
func (sc *Screen) Observe(id string, onVisible func()) func() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.seq++
	n := sc.seq
	sc.observers[n] = observer{id: id, fn: onVisible}
	return func() {
		sc.mu.Lock()
		defer sc.mu.Unlock()
		delete(sc.observers, n)
	}
}

// Scroll moves s to offset as a user would, notifying scroll listeners
// synchronously.
func (sc *Screen) Scroll(s *Surface, offset float64) {
	s.mu.Lock()
	s.offset = offset
	s.mu.Unlock()

	sc.mu.Lock()
	fns := make([]func(viewport.Surface), 0, len(sc.listeners))
	for _, fn := range sc.listeners {
		fns = append(fns, fn)
	}
	sc.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// Reveal reports item id as having become visible, notifying its observers
// synchronously. It returns the number of observers notified.
func (sc *Screen) Reveal(id string) int {
	sc.mu.Lock()
	var fns []func()
	for _, o := range sc.observers {
		if o.id == id {
			fns = append(fns, o.fn)
		}
	}
	sc.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// Observed returns the ids currently observed.
func (sc *Screen) Observed() []string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	ids := make([]string, 0, len(sc.observers))
	for _, o := range sc.observers {
		ids = append(ids, o.id)
	}
	slices.Sort(ids)
	return ids
}

// Listeners returns the number of registered scroll listeners.
func (sc *Screen) Listeners() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.listeners)
}
