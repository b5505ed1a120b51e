package feed

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeLoaded(h *harness, key Key) bool {
	st, ok := h.session.Store().Get(key)
	return ok && st.Loaded()
}

func TestPrefetch_WarmsOtherCategoriesWhenIdle(t *testing.T) {
	h := newHarness(t, "shoes", "bags", "hats")
	h.source.SetTotal("shoes", 30).SetTotal("bags", 30).SetTotal("hats", 5)
	v := openHome(t, h, "shoes")
	h.eventually(v, loaded, "shoes")

	require.Equal(t, 2, h.idle.Pending())
	assert.False(t, storeLoaded(h, HomeKey("bags")), "nothing is fetched before idle time")

	assert.Equal(t, 2, h.idle.RunIdle())
	require.Eventually(t, func() bool {
		return storeLoaded(h, HomeKey("bags")) && storeLoaded(h, HomeKey("hats"))
	}, time.Second, 5*time.Millisecond)

	hats, _ := h.session.Store().Get(HomeKey("hats"))
	assert.Len(t, hats.Items, 5)
	assert.False(t, hats.HasMore)

	// Switching to a warmed category needs no fetch.
	require.NoError(t, v.SetKey(HomeKey("bags")))
	s := v.Snapshot()
	assert.False(t, s.Loading)
	assert.Len(t, s.Items, 10)
	assert.Equal(t, 1, h.source.CallCount("bags", 1))
}

func TestPrefetch_AtMostOncePerCategory(t *testing.T) {
	h := newHarness(t, "shoes", "bags")
	h.source.SetTotal("shoes", 30).SetTotal("bags", 30)
	v := openHome(t, h, "shoes")
	h.eventually(v, loaded, "shoes")

	h.idle.RunIdle()
	require.Eventually(t, func() bool { return storeLoaded(h, HomeKey("bags")) }, time.Second, 5*time.Millisecond)

	// A later initial load arms the prefetcher again; bags is already seen.
	h.session.ClearCache()
	h.eventually(v, loaded, "shoes reloaded")
	assert.Equal(t, 0, h.idle.Pending())
	assert.Equal(t, 0, h.idle.RunIdle())
	assert.Equal(t, 1, h.source.CallCount("bags", 1))
}

func TestPrefetch_SelectedCategoryNeverPrefetched(t *testing.T) {
	h := newHarness(t, "shoes", "bags")
	h.source.SetTotal("shoes", 30).SetTotal("bags", 30)
	v := openHome(t, h, "shoes")
	h.eventually(v, loaded, "shoes")
	require.Equal(t, 1, h.idle.Pending())

	require.NoError(t, v.SetKey(HomeKey("bags")))
	assert.Equal(t, 0, h.idle.Pending(), "selection cancels the waiting prefetch")
	h.eventually(v, loaded, "bags")

	assert.Equal(t, 0, h.idle.RunIdle())
	assert.Equal(t, 1, h.source.CallCount("bags", 1))
}

func TestPrefetch_PriceFilterDoesNotHideCategory(t *testing.T) {
	h := newHarness(t, "shoes", "bags", "hats")
	h.source.SetTotal("shoes", 30).SetTotal("bags", 30).SetTotal("hats", 30)
	maxPrice := decimal.NewNullDecimal(decimal.NewFromInt(50))

	v := h.session.Home()
	v.Mount()
	require.NoError(t, v.SetKey(HomeKey("shoes").WithMaxPrice(maxPrice)))
	h.eventually(v, loaded, "filtered shoes")
	require.Equal(t, 2, h.idle.Pending(), "the category on screen is not prefetched")

	require.NoError(t, v.SetKey(HomeKey("bags").WithMaxPrice(maxPrice)))
	assert.Equal(t, 1, h.idle.Pending(), "a filtered selection cancels the waiting prefetch")
	h.eventually(v, loaded, "filtered bags")

	assert.Equal(t, 1, h.idle.RunIdle())
	require.Eventually(t, func() bool { return storeLoaded(h, HomeKey("hats")) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.source.CallCount("shoes", 1))
	assert.Equal(t, 1, h.source.CallCount("bags", 1))
	assert.False(t, storeLoaded(h, HomeKey("shoes")))
	assert.False(t, storeLoaded(h, HomeKey("bags")))
}

func TestPrefetch_FailureIsSwallowed(t *testing.T) {
	h := newHarness(t, "shoes", "bags")
	h.source.SetTotal("shoes", 30).SetTotal("bags", 30)
	v := openHome(t, h, "shoes")
	h.eventually(v, loaded, "shoes")

	h.source.FailNext(1, errTransport)
	h.idle.RunIdle()
	require.Eventually(t, func() bool { return h.source.CallCount("bags", 1) == 1 }, time.Second, 5*time.Millisecond)

	// Wait for the failed completion to settle.
	require.Eventually(t, func() bool {
		var live bool
		h.session.loop.Do(func() { live = h.session.coord.Live(HomeKey("bags")) })
		return !live
	}, time.Second, 5*time.Millisecond)

	_, ok := h.session.Store().Get(HomeKey("bags"))
	assert.False(t, ok, "failed prefetch leaves no trace in the cache")
	assert.Empty(t, v.Snapshot().Error)

	// Selecting it later performs a normal load.
	require.NoError(t, v.SetKey(HomeKey("bags")))
	h.eventually(v, loaded, "bags")
	assert.Equal(t, 2, h.source.CallCount("bags", 1))
}

func TestPrefetch_SelectionSupersedesInFlightPrefetch(t *testing.T) {
	h := newHarness(t, "shoes", "bags")
	h.source.SetTotal("shoes", 30).SetTotal("bags", 30)
	v := openHome(t, h, "shoes")
	h.eventually(v, loaded, "shoes")

	h.source.Hold()
	h.idle.RunIdle()
	h.waitHeld(1)

	require.NoError(t, v.SetKey(HomeKey("bags")))
	held := h.waitHeld(2)

	held[1].Succeed()
	h.eventually(v, loaded, "bags via view")
	held[0].Succeed()
	h.waitDropped(1)

	assert.Len(t, v.Snapshot().Items, 10)
}

func TestPrefetch_SkipsCachedCategory(t *testing.T) {
	h := newHarness(t, "shoes", "bags")
	h.source.SetTotal("shoes", 30).SetTotal("bags", 30)
	v := openHome(t, h, "shoes")
	h.eventually(v, loaded, "shoes")

	h.session.Store().SetInitial(HomeKey("bags"), products("bags", 1, 3), 1, false)
	h.idle.RunIdle()
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 0, h.source.CallCount("bags", 1))
	st, _ := h.session.Store().Get(HomeKey("bags"))
	assert.Len(t, st.Items, 3)
}
