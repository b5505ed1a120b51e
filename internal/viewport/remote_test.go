package viewport

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(top, scrollHeight, clientHeight float64) SurfaceMetrics {
	return SurfaceMetrics{
		ID:           "document",
		Kind:         KindDocument,
		Overflow:     OverflowAuto,
		ScrollTop:    top,
		ScrollHeight: scrollHeight,
		ClientHeight: clientHeight,
	}
}

func TestParseKind(t *testing.T) {
	for _, name := range []string{"document", "body", "root", "element"} {
		k, ok := ParseKind(name)
		require.True(t, ok, name)
		assert.Equal(t, name, k.String())
	}
	_, ok := ParseKind("window")
	assert.False(t, ok)
}

func TestRemote_CandidatesPriority(t *testing.T) {
	r := NewRemote(0)
	r.Update(Report{Surfaces: []SurfaceMetrics{
		{ID: "list", Kind: KindElement, Overflow: OverflowScroll, ScrollHeight: 3000, ClientHeight: 600},
		{ID: "clipped", Kind: KindElement, Overflow: OverflowHidden, ScrollHeight: 3000, ClientHeight: 600},
		{ID: "short", Kind: KindElement, Overflow: OverflowAuto, ScrollHeight: 100, ClientHeight: 600},
		{ID: "root", Kind: KindRoot, Overflow: OverflowVisible, ScrollHeight: 600, ClientHeight: 600},
		{ID: "body", Kind: KindBody, Overflow: OverflowVisible, ScrollHeight: 600, ClientHeight: 600},
		doc(0, 600, 600),
	}})

	candidates := r.Candidates()
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID()
	}
	assert.Equal(t, []string{"document", "body", "root", "list"}, ids)

	// Only the inner list actually scrolls.
	active := Active(r)
	require.NotNil(t, active)
	assert.Equal(t, "list", active.ID())
}

func TestRemote_ActiveFallsBackToFirstCandidate(t *testing.T) {
	r := NewRemote(0)
	assert.Nil(t, Active(r))

	r.Update(Report{Surfaces: []SurfaceMetrics{doc(0, 500, 800)}})
	active := Active(r)
	require.NotNil(t, active)
	assert.Equal(t, "document", active.ID())
	assert.False(t, active.Scrollable())
}

func TestRemote_OnScrollFiresOnOffsetChange(t *testing.T) {
	r := NewRemote(0)
	r.Update(Report{Surfaces: []SurfaceMetrics{doc(0, 5000, 800)}})

	var got []float64
	cancel := r.OnScroll(func(s Surface) {
		got = append(got, s.Offset())
	})

	r.Update(Report{Surfaces: []SurfaceMetrics{doc(120, 5000, 800)}})
	r.Update(Report{Surfaces: []SurfaceMetrics{doc(120, 5000, 800)}}) // unchanged
	r.Update(Report{Surfaces: []SurfaceMetrics{doc(300, 5000, 800)}})
	assert.Equal(t, []float64{120, 300}, got)

	cancel()
	r.Update(Report{Surfaces: []SurfaceMetrics{doc(400, 5000, 800)}})
	assert.Len(t, got, 2)
}

func TestRemote_ScrollToQueuesCommand(t *testing.T) {
	r := NewRemote(0)
	r.Update(Report{Surfaces: []SurfaceMetrics{doc(0, 5000, 800)}})

	_, ok := r.TakeScrollCommand()
	assert.False(t, ok)

	Active(r).ScrollTo(500)
	cmd, ok := r.TakeScrollCommand()
	require.True(t, ok)
	assert.Equal(t, ScrollCommand{SurfaceID: "document", Offset: 500}, cmd)
	assert.Equal(t, float64(500), Active(r).Offset())

	_, ok = r.TakeScrollCommand()
	assert.False(t, ok, "command is consumed once")
}

func TestRemote_ObserveTransitions(t *testing.T) {
	r := NewRemote(0.5)
	r.Update(Report{
		Surfaces: []SurfaceMetrics{doc(0, 5000, 800)},
		Sentinel: &SentinelMetrics{ID: "p10", Top: 2000},
	})

	var fired atomic.Int32
	cancel := r.Observe("p10", func() { fired.Add(1) })

	// Lookahead covers 0..1200; the sentinel at 2000 is still hidden.
	r.Update(Report{Surfaces: []SurfaceMetrics{doc(500, 5000, 800)}})
	assert.Equal(t, int32(0), fired.Load())

	// 1000 + 800 + 400 reaches 2000.
	r.Update(Report{Surfaces: []SurfaceMetrics{doc(1000, 5000, 800)}})
	assert.Equal(t, int32(1), fired.Load())

	// Still visible: no second notification.
	r.Update(Report{Surfaces: []SurfaceMetrics{doc(1100, 5000, 800)}})
	assert.Equal(t, int32(1), fired.Load())

	// Hidden again, then visible again.
	r.Update(Report{Surfaces: []SurfaceMetrics{doc(0, 5000, 800)}})
	r.Update(Report{Surfaces: []SurfaceMetrics{doc(1200, 5000, 800)}})
	assert.Equal(t, int32(2), fired.Load())

	cancel()
	r.Update(Report{Surfaces: []SurfaceMetrics{doc(0, 5000, 800)}})
	r.Update(Report{Surfaces: []SurfaceMetrics{doc(1200, 5000, 800)}})
	assert.Equal(t, int32(2), fired.Load())
}

func TestRemote_ObserveAlreadyVisible(t *testing.T) {
	r := NewRemote(0)
	r.Update(Report{
		Surfaces: []SurfaceMetrics{doc(0, 900, 800)},
		Sentinel: &SentinelMetrics{ID: "p3", Top: 400},
	})

	var fired atomic.Int32
	r.Observe("p3", func() { fired.Add(1) })

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
}
