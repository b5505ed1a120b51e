package feed

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/xenking/kart-feed/internal/viewport"
)

type pendingOffset struct {
	key    Key
	offset float64
}

// ScrollTracker persists the scroll offset of the mounted key and restores it
// on remount. Writes are debounced; a pending write is flushed to the key it
// was observed under when the key changes or the view unmounts.
//
// All methods must be called inside the session loop.
type ScrollTracker struct {
	loop         *Loop
	clock        clockwork.Clock
	store        *Store
	vp           viewport.Viewport
	debounce     time.Duration
	restoreDelay time.Duration

	key         Key
	mounted     bool
	gen         uint64
	unsubscribe func()
	pending     *pendingOffset
	writes      uint64
	debounceT   clockwork.Timer
	restoreT    clockwork.Timer
}

// NewScrollTracker creates an unmounted tracker.
func NewScrollTracker(loop *Loop, clock clockwork.Clock, store *Store, vp viewport.Viewport, debounce, restoreDelay time.Duration) *ScrollTracker {
	return &ScrollTracker{
		loop:         loop,
		clock:        clock,
		store:        store,
		vp:           vp,
		debounce:     debounce,
		restoreDelay: restoreDelay,
	}
}

// Mount starts tracking key, flushing whatever was pending for the previous
// one. When restore is set the cached offset of key is applied to the active
// surface after the restore delay, giving the list time to render.
func (t *ScrollTracker) Mount(key Key, restore bool) {
	t.Unmount()

	t.key = key
	t.mounted = true
	gen := t.gen
	t.unsubscribe = t.vp.OnScroll(func(s viewport.Surface) {
		offset := s.Offset()
		t.loop.Do(func() {
			if gen != t.gen {
				return
			}
			t.observe(offset)
		})
	})

	if !restore {
		return
	}
	st, ok := t.store.Get(key)
	if !ok || !st.Loaded() {
		return
	}
	offset := st.ScrollOffset
	t.restoreT = t.clock.AfterFunc(t.restoreDelay, func() {
		t.loop.Do(func() {
			if gen != t.gen {
				return
			}
			t.restoreT = nil
			t.dropPending()
			if s := viewport.Active(t.vp); s != nil {
				s.ScrollTo(offset)
			}
		})
	})
}

// Unmount flushes the pending offset and stops listening.
func (t *ScrollTracker) Unmount() {
	if !t.mounted {
		return
	}
	t.flush()
	if t.debounceT != nil {
		t.debounceT.Stop()
		t.debounceT = nil
	}
	if t.restoreT != nil {
		t.restoreT.Stop()
		t.restoreT = nil
	}
	if t.unsubscribe != nil {
		t.unsubscribe()
		t.unsubscribe = nil
	}
	t.mounted = false
	t.gen++
}

// Key returns the tracked key.
func (t *ScrollTracker) Key() Key {
	return t.key
}

// observe debounces a reported offset. Reports that arrive before a scheduled
// restore has been applied describe the freshly rendered list, not the user's
// position, and are ignored.
func (t *ScrollTracker) observe(offset float64) {
	if t.restoreT != nil {
		return
	}
	t.pending = &pendingOffset{key: t.key, offset: offset}
	if t.debounceT != nil {
		t.debounceT.Stop()
	}
	t.writes++
	gen, write := t.gen, t.writes
	t.debounceT = t.clock.AfterFunc(t.debounce, func() {
		t.loop.Do(func() {
			if gen != t.gen || write != t.writes {
				return
			}
			t.debounceT = nil
			t.flush()
		})
	})
}

func (t *ScrollTracker) dropPending() {
	if t.debounceT != nil {
		t.debounceT.Stop()
		t.debounceT = nil
	}
	t.pending = nil
}

func (t *ScrollTracker) flush() {
	if t.pending == nil {
		return
	}
	t.store.SetScrollOffset(t.pending.key, t.pending.offset)
	t.pending = nil
}
