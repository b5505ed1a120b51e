package feed

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/xenking/kart-feed/internal/domain/product"
	"github.com/xenking/kart-feed/internal/viewport"
)

// Display is the rendered list a view drives: its scroll surfaces and the
// visibility of its items.
type Display interface {
	viewport.Viewport
	viewport.Visibility
}

// Snapshot is what a view currently renders.
type Snapshot struct {
	View         ViewKind
	Key          Key
	Items        []product.Product
	Page         int
	HasMore      bool
	Loading      bool
	LoadingMore  bool
	Error        string
	ScrollOffset float64
	Mounted      bool
	// Sentinel is the item whose visibility triggers the next page, empty
	// when pagination is not armed.
	Sentinel string
}

// View is the controller of one storefront view. It owns the active key, the
// loading flags and the pagination trigger; item data lives in the Store.
type View struct {
	kind     ViewKind
	pageSize int

	ctx      context.Context
	loop     *Loop
	clock    clockwork.Clock
	coord    *Coordinator
	store    *Store
	source   product.Source
	retry    RetryPolicy
	prefetch *Prefetcher
	lg       *zap.Logger
	metrics  *Metrics

	trigger *Trigger
	scroll  *ScrollTracker

	key         Key
	hasKey      bool
	mounted     bool
	loading     bool
	loadingMore bool
	attempt     int
	retryT      clockwork.Timer
	retryGen    uint64
}

type viewDeps struct {
	ctx      context.Context
	loop     *Loop
	clock    clockwork.Clock
	coord    *Coordinator
	store    *Store
	source   product.Source
	retry    RetryPolicy
	prefetch *Prefetcher
	display  Display
	lg       *zap.Logger
	metrics  *Metrics

	scrollDebounce time.Duration
	restoreDelay   time.Duration
}

func newView(kind ViewKind, pageSize int, d viewDeps) *View {
	v := &View{
		kind:     kind,
		pageSize: pageSize,
		ctx:      d.ctx,
		loop:     d.loop,
		clock:    d.clock,
		coord:    d.coord,
		store:    d.store,
		source:   d.source,
		retry:    d.retry,
		prefetch: d.prefetch,
		lg:       d.lg.With(zap.String("view", string(kind))),
		metrics:  d.metrics,
	}
	v.trigger = NewTrigger(d.loop, d.display, v.onSentinelVisible)
	v.scroll = NewScrollTracker(d.loop, d.clock, d.store, d.display, d.scrollDebounce, d.restoreDelay)
	return v
}

// Kind returns the view kind.
func (v *View) Kind() ViewKind {
	return v.kind
}

// PageSize returns the number of items requested per page.
func (v *View) PageSize() int {
	return v.pageSize
}

// SetKey selects the feed shown by the view. A key with cached state renders
// immediately without a fetch; otherwise the initial load starts, superseding
// any fetch still running for the previous key.
func (v *View) SetKey(key Key) error {
	if key.View != v.kind {
		return errors.Errorf("key %s does not belong to the %s view", key, v.kind)
	}
	v.loop.Do(func() {
		v.setKey(key)
	})
	return nil
}

// LoadNextPage fetches the page after the last loaded one. It reports
// whether a fetch was dispatched; it is a no-op while any load is in flight,
// before the first page, or once the feed is exhausted.
func (v *View) LoadNextPage() bool {
	var dispatched bool
	v.loop.Do(func() {
		dispatched = v.loadNextPage()
	})
	return dispatched
}

// RetryInitial recovers from a surfaced error. Without loaded items the initial
// load restarts with a fresh retry budget; otherwise the failed page is
// requested again.
func (v *View) RetryInitial() {
	v.loop.Do(v.retryNow)
}

// Mount attaches the view to its display, restoring the cached scroll offset
// of the active key.
func (v *View) Mount() {
	v.loop.Do(v.mount)
}

// Unmount detaches the view, flushing its scroll position. Fetches in flight
// still land in the store.
func (v *View) Unmount() {
	v.loop.Do(v.unmount)
}

// Snapshot returns the current render state.
func (v *View) Snapshot() Snapshot {
	var s Snapshot
	v.loop.Do(func() {
		s = v.snapshot()
	})
	return s
}

func (v *View) setKey(key Key) {
	if v.hasKey && key == v.key {
		return
	}
	if v.hasKey {
		v.coord.Invalidate(v.key)
	}
	v.cancelRetry()
	v.trigger.Detach()

	v.key, v.hasKey = key, true
	v.loading, v.loadingMore = false, false
	v.attempt = 0
	if v.prefetch != nil {
		v.prefetch.MarkSelected(key)
	}
	if !v.mounted {
		return
	}
	v.activate(true)
}

// activate renders the active key: from cache when present, from the
// source otherwise.
func (v *View) activate(restore bool) {
	st, ok := v.store.Get(v.key)
	cached := ok && st.Loaded()
	v.scroll.Mount(v.key, restore && cached)

	switch {
	case cached:
		v.syncTrigger(st)
	case v.loading:
	case v.isIdleQuery():
	default:
		v.startInitial()
	}
}

func (v *View) isIdleQuery() bool {
	return v.kind == ViewSearch && v.key.Value == ""
}

func (v *View) startInitial() {
	v.loading = true
	v.attempt++
	attempt := v.attempt
	v.coord.Dispatch(v.ctx, v.key, 1, v.fetcher(v.key, 1), func(tok Token, page product.Page, err error) {
		v.onInitial(tok, attempt, page, err)
	})
}

func (v *View) onInitial(tok Token, attempt int, page product.Page, err error) {
	if err != nil {
		if d, ok := v.retry.Delay(attempt); ok {
			v.metrics.retried(tok.Key)
			v.lg.Info("Initial load failed, retrying",
				zap.Stringer("key", tok.Key),
				zap.Int("attempt", attempt),
				zap.Duration("delay", d),
				zap.Error(err),
			)
			v.scheduleRetry(d)
			return
		}
		v.loading = false
		v.lg.Warn("Initial load failed",
			zap.Stringer("key", tok.Key),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		v.store.SetError(tok.Key, &FetchError{Key: tok.Key, Page: 1, Attempts: attempt, Err: err})
		return
	}

	v.loading = false
	v.attempt = 0
	v.store.SetInitial(tok.Key, page.Products, 1, hasMore(page, v.pageSize))
	if st, ok := v.store.Get(tok.Key); ok {
		v.syncTrigger(st)
	}
	if v.prefetch != nil {
		v.prefetch.Arm(tok.Key)
	}
}

func (v *View) scheduleRetry(d time.Duration) {
	v.retryGen++
	gen := v.retryGen
	v.retryT = v.clock.AfterFunc(d, func() {
		v.loop.Do(func() {
			if gen != v.retryGen {
				return
			}
			v.retryT = nil
			v.startInitial()
		})
	})
}

func (v *View) cancelRetry() {
	if v.retryT != nil {
		v.retryT.Stop()
		v.retryT = nil
	}
	v.retryGen++
}

func (v *View) loadNextPage() bool {
	if !v.hasKey || v.loading || v.loadingMore {
		return false
	}
	st, ok := v.store.Get(v.key)
	if !ok || !st.Loaded() || !st.HasMore {
		return false
	}

	next := st.Page + 1
	v.loadingMore = true
	v.coord.Dispatch(v.ctx, v.key, next, v.fetcher(v.key, next), v.onNextPage)
	return true
}

func (v *View) onNextPage(tok Token, page product.Page, err error) {
	v.loadingMore = false
	if err != nil {
		v.lg.Warn("Next page failed",
			zap.Stringer("key", tok.Key),
			zap.Int("page", tok.Page),
			zap.Error(err),
		)
		v.store.SetError(tok.Key, &FetchError{Key: tok.Key, Page: tok.Page, Attempts: 1, Err: err})
		return
	}

	added := v.store.AppendPage(tok.Key, page.Products, tok.Page, hasMore(page, v.pageSize))
	v.lg.Debug("Appended page",
		zap.Stringer("key", tok.Key),
		zap.Int("page", tok.Page),
		zap.Int("added", added),
	)
	if st, ok := v.store.Get(tok.Key); ok {
		v.syncTrigger(st)
	}
}

func (v *View) retryNow() {
	if !v.hasKey || v.loadingMore {
		return
	}
	if v.loading {
		if v.retryT == nil {
			// A fetch is in flight.
			return
		}
		v.cancelRetry()
		v.attempt = 0
		v.startInitial()
		return
	}

	st, ok := v.store.Get(v.key)
	if ok && st.Loaded() {
		if st.Err != nil {
			v.loadNextPage()
		}
		return
	}
	if v.isIdleQuery() {
		return
	}
	v.store.SetError(v.key, nil)
	v.attempt = 0
	v.startInitial()
}

func (v *View) mount() {
	if v.mounted {
		return
	}
	v.mounted = true
	if v.hasKey {
		v.activate(true)
	}
}

func (v *View) unmount() {
	if !v.mounted {
		return
	}
	v.mounted = false
	v.scroll.Unmount()
	v.trigger.Detach()
}

// reload drops view-local progress after the cache was cleared and refetches
// the active key when mounted.
func (v *View) reload() {
	v.cancelRetry()
	v.trigger.Detach()
	v.loading, v.loadingMore = false, false
	v.attempt = 0
	if v.mounted && v.hasKey {
		v.activate(false)
	}
}

func (v *View) close() {
	v.cancelRetry()
	v.unmount()
}

func (v *View) syncTrigger(st State) {
	if !v.mounted || !st.HasMore || len(st.Items) == 0 {
		v.trigger.Detach()
		return
	}
	v.trigger.Attach(st.Items[len(st.Items)-1].ID)
}

func (v *View) onSentinelVisible() {
	if !v.mounted {
		return
	}
	v.loadNextPage()
}

func (v *View) fetcher(key Key, page int) FetchFunc {
	q := key.Query(page, v.pageSize)
	return func(ctx context.Context) (product.Page, error) {
		return v.source.FetchPage(ctx, q)
	}
}

func (v *View) snapshot() Snapshot {
	s := Snapshot{
		View:        v.kind,
		Key:         v.key,
		Loading:     v.loading,
		LoadingMore: v.loadingMore,
		Mounted:     v.mounted,
		Sentinel:    v.trigger.Sentinel(),
	}
	if !v.hasKey {
		return s
	}
	st, ok := v.store.Get(v.key)
	if !ok {
		return s
	}
	s.Items = st.Items
	s.Page = st.Page
	s.HasMore = st.HasMore
	s.ScrollOffset = st.ScrollOffset
	if st.Err != nil && !v.loading && !v.loadingMore {
		s.Error = st.Err.Error()
	}
	return s
}
