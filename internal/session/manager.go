// Package session keeps the engine sessions of connected storefront clients.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/xenking/kart-feed/internal/domain/product"
	"github.com/xenking/kart-feed/internal/feed"
	"github.com/xenking/kart-feed/internal/idle"
	"github.com/xenking/kart-feed/internal/viewport"
)

var (
	// ErrNotFound is returned for an unknown or evicted session id.
	ErrNotFound = errors.New("session not found")
	// ErrLimit is returned when the maximum number of sessions is open.
	ErrLimit = errors.New("session limit reached")
)

// Config bounds the session registry.
type Config struct {
	TTL         time.Duration
	MaxSessions int
	SweepEvery  time.Duration
}

// Entry is one client session: the engine state plus the displays its
// client reports into.
type Entry struct {
	ID      string
	Session *feed.Session
	Home    *viewport.Remote
	Search  *viewport.Remote
	Idle    *idle.ActivityScheduler

	clock    clockwork.Clock
	lastSeen atomic.Int64
}

// Display returns the remote display backing the given view.
func (e *Entry) Display(kind feed.ViewKind) (*viewport.Remote, error) {
	switch kind {
	case feed.ViewHome:
		return e.Home, nil
	case feed.ViewSearch:
		return e.Search, nil
	default:
		return nil, errors.Wrapf(feed.ErrUnknownView, "%q", kind)
	}
}

// Activity records a user interaction, postponing idle work.
func (e *Entry) Activity() {
	e.Idle.Touch()
	e.seen()
}

// LastSeen returns when the client last used the session.
func (e *Entry) LastSeen() time.Time {
	return time.Unix(0, e.lastSeen.Load())
}

func (e *Entry) seen() {
	e.lastSeen.Store(e.clock.Now().UnixNano())
}

func (e *Entry) close() {
	e.Session.Close()
	e.Idle.Close()
}

// Params holds the dependencies of a Manager.
type Params struct {
	Config    Config
	Feed      feed.Options
	Idle      idle.Config
	Lookahead float64
	Source    product.Source
	Clock     clockwork.Clock
	Logger    *zap.Logger
	Metrics   *feed.Metrics
}

// Manager creates, looks up and evicts sessions.
type Manager struct {
	base    context.Context
	cfg     Config
	feed    feed.Options
	idle    idle.Config
	look    float64
	source  product.Source
	clock   clockwork.Clock
	lg      *zap.Logger
	metrics *feed.Metrics

	mu       sync.Mutex
	sessions map[string]*Entry
}

// NewManager creates a Manager. Sessions live under a context derived from
// ctx without its cancellation; they end through Close, eviction or
// Shutdown.
func NewManager(ctx context.Context, p Params) *Manager {
	if p.Clock == nil {
		p.Clock = clockwork.NewRealClock()
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Metrics == nil {
		p.Metrics = feed.NopMetrics()
	}
	if p.Lookahead <= 0 {
		p.Lookahead = viewport.DefaultLookahead
	}
	return &Manager{
		base:     context.WithoutCancel(ctx),
		cfg:      p.Config,
		feed:     p.Feed,
		idle:     p.Idle,
		look:     p.Lookahead,
		source:   p.Source,
		clock:    p.Clock,
		lg:       p.Logger,
		metrics:  p.Metrics,
		sessions: make(map[string]*Entry),
	}
}

// Create opens a new session.
func (m *Manager) Create() (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		return nil, ErrLimit
	}

	id := uuid.NewString()
	e := &Entry{
		ID:     id,
		Home:   viewport.NewRemote(m.look),
		Search: viewport.NewRemote(m.look),
		Idle:   idle.NewActivityScheduler(m.clock, m.idle),
		clock:  m.clock,
	}
	s, err := feed.NewSession(m.base, m.feed, feed.Deps{
		Source:  m.source,
		Idle:    e.Idle,
		Home:    e.Home,
		Search:  e.Search,
		Clock:   m.clock,
		Logger:  m.lg.With(zap.String("session", id)),
		Metrics: m.metrics,
	})
	if err != nil {
		e.Idle.Close()
		return nil, errors.Wrap(err, "new session")
	}
	e.Session = s
	e.seen()
	m.sessions[id] = e

	m.lg.Debug("Session created", zap.String("session", id), zap.Int("open", len(m.sessions)))
	return e, nil
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Entry, error) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	e.seen()
	return e, nil
}

// Close ends the session with the given id.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	e.close()
	return nil
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes sessions unused for longer than the TTL and returns how many
// were evicted.
func (m *Manager) Sweep() int {
	if m.cfg.TTL <= 0 {
		return 0
	}
	cutoff := m.clock.Now().Add(-m.cfg.TTL)

	m.mu.Lock()
	var expired []*Entry
	for id, e := range m.sessions {
		if e.LastSeen().Before(cutoff) {
			expired = append(expired, e)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, e := range expired {
		e.close()
		m.lg.Debug("Session evicted", zap.String("session", e.ID))
	}
	return len(expired)
}

// Run sweeps expired sessions until ctx is cancelled, then closes every
// remaining session.
func (m *Manager) Run(ctx context.Context) error {
	defer m.Shutdown()

	every := m.cfg.SweepEvery
	if every <= 0 {
		every = time.Minute
	}
	ticker := m.clock.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if n := m.Sweep(); n > 0 {
				m.lg.Info("Evicted idle sessions", zap.Int("count", n), zap.Int("open", m.Len()))
			}
		}
	}
}

// Shutdown closes every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	all := make([]*Entry, 0, len(m.sessions))
	for id, e := range m.sessions {
		all = append(all, e)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, e := range all {
		e.close()
	}
}
