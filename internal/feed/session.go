package feed

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/xenking/kart-feed/internal/domain/product"
	"github.com/xenking/kart-feed/internal/idle"
)

// Options tunes a session.
type Options struct {
	HomePageSize   int
	SearchPageSize int
	Retry          RetryPolicy
	ScrollDebounce time.Duration
	RestoreDelay   time.Duration
	// Categories are the home categories eligible for idle prefetching.
	Categories []string
}

// DefaultOptions returns the storefront defaults.
func DefaultOptions() Options {
	return Options{
		HomePageSize:   10,
		SearchPageSize: 20,
		Retry:          DefaultRetryPolicy(),
		ScrollDebounce: 150 * time.Millisecond,
		RestoreDelay:   100 * time.Millisecond,
	}
}

// Deps are the collaborators of a session. Clock, Logger and Metrics are
// optional.
type Deps struct {
	Source  product.Source
	Idle    idle.Scheduler
	Home    Display
	Search  Display
	Clock   clockwork.Clock
	Logger  *zap.Logger
	Metrics *Metrics
}

// Session is the engine state of one storefront client: a shared store, a
// request coordinator and the home and search views.
type Session struct {
	loop     *Loop
	store    *Store
	coord    *Coordinator
	prefetch *Prefetcher
	home     *View
	search   *View
	metrics  *Metrics
	lg       *zap.Logger
	cancel   context.CancelFunc
	closed   bool
}

// NewSession wires a session. Fetches run under a context derived from ctx
// that is cancelled by Close.
func NewSession(ctx context.Context, opts Options, deps Deps) (*Session, error) {
	if deps.Source == nil {
		return nil, errors.New("source is required")
	}
	if deps.Idle == nil {
		return nil, errors.New("idle scheduler is required")
	}
	if deps.Home == nil || deps.Search == nil {
		return nil, errors.New("home and search displays are required")
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics()
	}
	def := DefaultOptions()
	if opts.HomePageSize < 1 {
		opts.HomePageSize = def.HomePageSize
	}
	if opts.SearchPageSize < 1 {
		opts.SearchPageSize = def.SearchPageSize
	}

	ctx, cancel := context.WithCancel(ctx)
	loop := &Loop{}
	store := NewStore()
	coord := NewCoordinator(loop, deps.Clock, deps.Logger, deps.Metrics)
	prefetch := NewPrefetcher(ctx, loop, deps.Idle, coord, store, deps.Source, PrefetcherConfig{
		Categories: opts.Categories,
		PageSize:   opts.HomePageSize,
	}, deps.Logger, deps.Metrics)

	d := viewDeps{
		ctx:            ctx,
		loop:           loop,
		clock:          deps.Clock,
		coord:          coord,
		store:          store,
		source:         deps.Source,
		retry:          opts.Retry,
		lg:             deps.Logger,
		metrics:        deps.Metrics,
		scrollDebounce: opts.ScrollDebounce,
		restoreDelay:   opts.RestoreDelay,
	}
	home, search := d, d
	home.prefetch, home.display = prefetch, deps.Home
	search.display = deps.Search

	s := &Session{
		loop:     loop,
		store:    store,
		coord:    coord,
		prefetch: prefetch,
		home:     newView(ViewHome, opts.HomePageSize, home),
		search:   newView(ViewSearch, opts.SearchPageSize, search),
		metrics:  deps.Metrics,
		lg:       deps.Logger,
		cancel:   cancel,
	}
	deps.Metrics.sessionOpened()
	return s, nil
}

// Home returns the home view.
func (s *Session) Home() *View {
	return s.home
}

// Search returns the search view.
func (s *Session) Search() *View {
	return s.search
}

// View returns the view of the given kind.
func (s *Session) View(kind ViewKind) (*View, error) {
	switch kind {
	case ViewHome:
		return s.home, nil
	case ViewSearch:
		return s.search, nil
	default:
		return nil, errors.Wrapf(ErrUnknownView, "%q", kind)
	}
}

// Store exposes the session cache.
func (s *Session) Store() *Store {
	return s.store
}

// ClearCache empties the store, discards every in-flight result and reloads
// the mounted views.
func (s *Session) ClearCache() {
	s.loop.Do(func() {
		if s.closed {
			return
		}
		s.store.Reset()
		s.coord.Reset()
		s.home.reload()
		s.search.reload()
		s.lg.Debug("Cleared feed cache")
	})
}

// Close stops timers, cancels waiting prefetches and aborts in-flight
// fetches. Completions arriving afterwards are dropped.
func (s *Session) Close() {
	s.loop.Do(func() {
		if s.closed {
			return
		}
		s.closed = true
		s.prefetch.Close()
		s.home.close()
		s.search.close()
		s.coord.Reset()
		s.cancel()
		s.metrics.sessionClosed()
	})
}

// Dropped returns how many fetch completions were discarded as stale.
func (s *Session) Dropped() uint64 {
	var n uint64
	s.loop.Do(func() {
		n = s.coord.Dropped()
	})
	return n
}
