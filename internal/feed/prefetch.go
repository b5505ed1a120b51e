package feed

import (
	"context"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"

	"github.com/xenking/kart-feed/internal/domain/product"
	"github.com/xenking/kart-feed/internal/idle"
)

// Prefetcher warms the first page of home categories the user has not
// visited yet, using idle time only. Every category is attempted at most once
// per session; a selected category is never prefetched. A false positive in
// the seen set costs one skipped prefetch, never a duplicate one.
//
// All methods must be called inside the session loop.
type Prefetcher struct {
	ctx      context.Context
	loop     *Loop
	sched    idle.Scheduler
	coord    *Coordinator
	store    *Store
	source   product.Source
	lg       *zap.Logger
	metrics  *Metrics
	pageSize int

	categories []string
	seen       *bloom.BloomFilter
	handles    map[Key]idle.Handle
	closed     bool
}

// PrefetcherConfig holds the static inputs of a Prefetcher.
type PrefetcherConfig struct {
	Categories []string
	PageSize   int
}

// NewPrefetcher creates a Prefetcher for the given home categories.
func NewPrefetcher(
	ctx context.Context,
	loop *Loop,
	sched idle.Scheduler,
	coord *Coordinator,
	store *Store,
	source product.Source,
	cfg PrefetcherConfig,
	lg *zap.Logger,
	metrics *Metrics,
) *Prefetcher {
	n := uint(len(cfg.Categories))
	if n < 16 {
		n = 16
	}
	return &Prefetcher{
		ctx:        ctx,
		loop:       loop,
		sched:      sched,
		coord:      coord,
		store:      store,
		source:     source,
		lg:         lg,
		metrics:    metrics,
		pageSize:   cfg.PageSize,
		categories: cfg.Categories,
		seen:       bloom.NewWithEstimates(n, 0.001),
		handles:    make(map[Key]idle.Handle),
	}
}

// MarkSelected records that the user chose key so it is never prefetched,
// cancelling a prefetch that is still waiting for idle time. A price filter
// does not matter: selecting a category marks it in every variant.
func (p *Prefetcher) MarkSelected(key Key) {
	if key.View != ViewHome {
		return
	}
	key = HomeKey(key.Value)
	p.seen.AddString(key.String())
	if h, ok := p.handles[key]; ok {
		p.sched.Cancel(h)
		delete(p.handles, key)
	}
}

// Arm schedules an idle-time prefetch of every category other than active
// that was neither selected nor prefetched before.
func (p *Prefetcher) Arm(active Key) {
	if p.closed {
		return
	}
	for _, c := range p.categories {
		key := HomeKey(c)
		if (active.View == ViewHome && c == active.Value) || p.seen.TestString(key.String()) {
			continue
		}
		p.seen.AddString(key.String())
		p.handles[key] = p.sched.Schedule(func() {
			p.loop.Do(func() {
				p.run(key)
			})
		})
	}
}

// Pending returns the number of prefetches waiting for idle time.
func (p *Prefetcher) Pending() int {
	return len(p.handles)
}

// Close cancels every waiting prefetch.
func (p *Prefetcher) Close() {
	for key, h := range p.handles {
		p.sched.Cancel(h)
		delete(p.handles, key)
	}
	p.closed = true
}

func (p *Prefetcher) run(key Key) {
	delete(p.handles, key)
	if p.closed {
		return
	}
	if st, ok := p.store.Get(key); (ok && st.Loaded()) || p.coord.Live(key) {
		return
	}

	p.metrics.prefetched()
	p.lg.Debug("Prefetching category", zap.Stringer("key", key))

	q := key.Query(1, p.pageSize)
	p.coord.Dispatch(p.ctx, key, 1, func(ctx context.Context) (product.Page, error) {
		return p.source.FetchPage(ctx, q)
	}, func(_ Token, page product.Page, err error) {
		if err != nil {
			p.metrics.prefetchFailed()
			p.lg.Debug("Prefetch failed", zap.Stringer("key", key), zap.Error(err))
			return
		}
		p.store.SetInitialIfAbsent(key, page.Products, 1, hasMore(page, p.pageSize))
	})
}

func hasMore(page product.Page, pageSize int) bool {
	return len(page.Products) >= pageSize && !page.Exhausted
}
