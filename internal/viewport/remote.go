package viewport

import (
	"sort"
	"sync"
)

// DefaultLookahead extends the visible area by half a viewport height so the
// next page is requested before the user reaches the end of the list.
const DefaultLookahead = 0.5

// SurfaceMetrics is a client report of one scroll surface candidate.
type SurfaceMetrics struct {
	ID           string
	Kind         Kind
	Overflow     Overflow
	ScrollTop    float64
	ScrollHeight float64
	ClientHeight float64
}

// SentinelMetrics is a client report of an observed element position, in the
// content coordinates of the active surface.
type SentinelMetrics struct {
	ID  string
	Top float64
}

// Report is one batch of client measurements.
type Report struct {
	Surfaces []SurfaceMetrics
	Sentinel *SentinelMetrics
}

// ScrollCommand instructs the client to scroll a surface.
type ScrollCommand struct {
	SurfaceID string
	Offset    float64
}

// Remote mirrors the scroll surfaces and sentinel positions reported by a
// storefront client. It implements both Viewport and Visibility.
//
// Callbacks are never invoked while Remote's lock is held, so they may call
// back into Remote.
type Remote struct {
	lookahead float64

	mu        sync.Mutex
	surfaces  map[string]*remoteSurface
	seq       int
	scrollFns map[int]func(Surface)
	observers map[int]*observer
	sentinels map[string]float64
	pending   *ScrollCommand
}

var (
	_ Viewport   = (*Remote)(nil)
	_ Visibility = (*Remote)(nil)
)

type remoteSurface struct {
	r       *Remote
	id      string
	order   int
	metrics SurfaceMetrics
}

type observer struct {
	id      string
	fn      func()
	visible bool
}

// NewRemote creates an empty Remote. A non-positive lookahead falls back to
// DefaultLookahead.
func NewRemote(lookahead float64) *Remote {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	return &Remote{
		lookahead: lookahead,
		surfaces:  make(map[string]*remoteSurface),
		scrollFns: make(map[int]func(Surface)),
		observers: make(map[int]*observer),
		sentinels: make(map[string]float64),
	}
}

// Update applies a client report. Scroll callbacks run for every surface whose
// offset changed, then visibility observers run for sentinels that became
// visible.
func (r *Remote) Update(rep Report) {
	var (
		scrolled []Surface
		fns      []func(Surface)
		visible  []func()
	)

	r.mu.Lock()
	for _, m := range rep.Surfaces {
		if m.ID == "" {
			continue
		}
		s, ok := r.surfaces[m.ID]
		if !ok {
			r.seq++
			s = &remoteSurface{r: r, id: m.ID, order: r.seq}
			r.surfaces[m.ID] = s
		}
		changed := !ok || s.metrics.ScrollTop != m.ScrollTop
		s.metrics = m
		if changed {
			scrolled = append(scrolled, s)
		}
	}
	if rep.Sentinel != nil && rep.Sentinel.ID != "" {
		r.sentinels[rep.Sentinel.ID] = rep.Sentinel.Top
	}
	if len(scrolled) > 0 {
		fns = r.scrollFnsLocked()
	}
	visible = r.transitionsLocked()
	r.mu.Unlock()

	for _, s := range scrolled {
		for _, fn := range fns {
			fn(s)
		}
	}
	for _, fn := range visible {
		fn()
	}
}

// TakeScrollCommand returns and clears the pending scroll instruction.
func (r *Remote) TakeScrollCommand() (ScrollCommand, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending == nil {
		return ScrollCommand{}, false
	}
	cmd := *r.pending
	r.pending = nil
	return cmd, true
}

// Candidates implements Viewport. The document, body and root surfaces are
// always candidates; other elements only when their overflow scrolls and their
// content exceeds the visible bounds.
func (r *Remote) Candidates() []Surface {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := make([]*remoteSurface, 0, len(r.surfaces))
	for _, s := range r.surfaces {
		if s.metrics.Kind == KindElement && !s.scrollableLocked() {
			continue
		}
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].metrics.Kind != list[j].metrics.Kind {
			return list[i].metrics.Kind < list[j].metrics.Kind
		}
		return list[i].order < list[j].order
	})

	out := make([]Surface, len(list))
	for i, s := range list {
		out[i] = s
	}
	return out
}

// OnScroll implements Viewport.
func (r *Remote) OnScroll(fn func(Surface)) func() {
	r.mu.Lock()
	r.seq++
	id := r.seq
	r.scrollFns[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.scrollFns, id)
		r.mu.Unlock()
	}
}

// Observe implements Visibility. When the element is already visible the
// initial notification is delivered asynchronously, as an intersection
// observer does.
func (r *Remote) Observe(id string, onVisible func()) func() {
	r.mu.Lock()
	r.seq++
	key := r.seq
	o := &observer{id: id, fn: onVisible}
	r.observers[key] = o
	if r.visibleLocked(id) {
		o.visible = true
		go onVisible()
	}
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.observers, key)
		r.mu.Unlock()
	}
}

func (r *Remote) scrollFnsLocked() []func(Surface) {
	keys := make([]int, 0, len(r.scrollFns))
	for k := range r.scrollFns {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	fns := make([]func(Surface), len(keys))
	for i, k := range keys {
		fns[i] = r.scrollFns[k]
	}
	return fns
}

// transitionsLocked updates observer state and returns the callbacks of
// observers whose element went from hidden to visible.
func (r *Remote) transitionsLocked() []func() {
	var out []func()
	for _, o := range r.observers {
		v := r.visibleLocked(o.id)
		if v && !o.visible {
			out = append(out, o.fn)
		}
		o.visible = v
	}
	return out
}

func (r *Remote) visibleLocked(id string) bool {
	top, ok := r.sentinels[id]
	if !ok {
		return false
	}
	active := r.activeLocked()
	if active == nil {
		return false
	}
	m := active.metrics
	margin := m.ClientHeight * r.lookahead
	return top >= m.ScrollTop-margin && top <= m.ScrollTop+m.ClientHeight+margin
}

func (r *Remote) activeLocked() *remoteSurface {
	var first, best *remoteSurface
	for _, s := range r.surfaces {
		if s.metrics.Kind == KindElement && !s.scrollableLocked() {
			continue
		}
		if first == nil || less(s, first) {
			first = s
		}
		if s.scrollableLocked() && (best == nil || less(s, best)) {
			best = s
		}
	}
	if best != nil {
		return best
	}
	return first
}

func less(a, b *remoteSurface) bool {
	if a.metrics.Kind != b.metrics.Kind {
		return a.metrics.Kind < b.metrics.Kind
	}
	return a.order < b.order
}

func (s *remoteSurface) ID() string {
	return s.id
}

func (s *remoteSurface) Offset() float64 {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	return s.metrics.ScrollTop
}

func (s *remoteSurface) Scrollable() bool {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	return s.scrollableLocked()
}

func (s *remoteSurface) scrollableLocked() bool {
	m := s.metrics
	if m.ScrollHeight <= m.ClientHeight {
		return false
	}
	if m.Kind == KindElement {
		return m.Overflow.scrolls()
	}
	return m.Overflow != OverflowHidden
}

// ScrollTo records the offset locally and queues a scroll command for the
// client.
func (s *remoteSurface) ScrollTo(offset float64) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.metrics.ScrollTop = offset
	s.r.pending = &ScrollCommand{SurfaceID: s.id, Offset: offset}
}
