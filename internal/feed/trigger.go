package feed

import "github.com/xenking/kart-feed/internal/viewport"

// Trigger watches the sentinel item of a rendered list and calls fire inside
// the loop when it becomes visible. At most one sentinel is observed at a
// time; attaching a new one disposes the previous observation.
type Trigger struct {
	loop *Loop
	vis  viewport.Visibility
	fire func()

	sentinel string
	cancel   func()
	gen      uint64
}

// NewTrigger creates a detached Trigger.
func NewTrigger(loop *Loop, vis viewport.Visibility, fire func()) *Trigger {
	return &Trigger{loop: loop, vis: vis, fire: fire}
}

// Attach observes id as the sentinel. Must be called inside the loop.
func (t *Trigger) Attach(id string) {
	if id == "" {
		t.Detach()
		return
	}
	if id == t.sentinel && t.cancel != nil {
		return
	}
	t.Detach()

	gen := t.gen
	t.sentinel = id
	t.cancel = t.vis.Observe(id, func() {
		t.loop.Do(func() {
			if gen != t.gen {
				return
			}
			t.fire()
		})
	})
}

// Detach stops observing. Visibility notifications already queued for the
// old sentinel are ignored.
func (t *Trigger) Detach() {
	if t.cancel != nil {
		t.cancel()
	}
	t.cancel = nil
	t.sentinel = ""
	t.gen++
}

// Sentinel returns the observed item id, empty when detached.
func (t *Trigger) Sentinel() string {
	return t.sentinel
}
