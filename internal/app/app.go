// Package app wires configuration, the catalog, the session registry and the
// HTTP API into the feed server.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-feed/internal/catalog"
	"github.com/xenking/kart-feed/internal/domain/product"
	"github.com/xenking/kart-feed/internal/feed"
	"github.com/xenking/kart-feed/internal/handler"
	"github.com/xenking/kart-feed/internal/session"
	"github.com/xenking/kart-feed/internal/storage/postgres"
	"github.com/xenking/kart-feed/pkg/health"
	"github.com/xenking/kart-feed/pkg/httpmiddleware"
)

// Catalog is a product source that can report its own reachability.
type Catalog interface {
	product.Catalog
	health.Pinger
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("catalog", cfg.Catalog.Source),
	)

	cat, closeCatalog, err := openCatalog(ctx, m, cfg)
	if err != nil {
		return err
	}
	defer closeCatalog()

	s, err := newServer(ctx, lg, m, cfg, cat, clockwork.NewRealClock())
	if err != nil {
		return err
	}
	s.health.Start(ctx, 10*time.Second)
	s.health.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           s.handler,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.sessions.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		s.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		s.health.Stop()
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}

// openCatalog connects the configured product source.
func openCatalog(ctx context.Context, m *app.Telemetry, cfg *Config) (Catalog, func(), error) {
	switch cfg.Catalog.Source {
	case SourceHTTP:
		c, err := catalog.NewClient(catalog.Config{
			BaseURL:        cfg.Catalog.URL,
			Timeout:        cfg.Catalog.Timeout,
			TracerProvider: m.TracerProvider(),
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "create catalog client")
		}
		return c, func() {}, nil
	default:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, errors.Wrap(err, "run migrations")
		}
		return postgres.NewProductRepository(pool), pool.Close, nil
	}
}

type server struct {
	health   *health.Health
	sessions *session.Manager
	handler  http.Handler
}

// newServer builds the health probes, the session registry and the
// middleware-wrapped mux.
func newServer(
	ctx context.Context,
	lg *zap.Logger,
	tel httpmiddleware.Telemetry,
	cfg *Config,
	cat Catalog,
	clock clockwork.Clock,
) (*server, error) {
	metrics, err := feed.NewMetrics(tel.MeterProvider())
	if err != nil {
		return nil, errors.Wrap(err, "create feed metrics")
	}

	sessions := session.NewManager(ctx, session.Params{
		Config:    cfg.SessionLimits(),
		Feed:      cfg.FeedOptions(prefetchCategories(ctx, lg, cat)),
		Idle:      cfg.IdleSchedule(),
		Lookahead: cfg.Feed.Lookahead,
		Source:    cat,
		Clock:     clock,
		Logger:    lg.Named("session"),
		Metrics:   metrics,
	})

	healthSvc := health.New(clock)
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(100_000))
	healthSvc.AddReadinessCheck("catalog", 5*time.Second, health.PingCheck(cat))
	healthSvc.AddReadinessCheck("sessions", time.Second,
		health.CapacityCheck("sessions", sessions.Len, cfg.Session.Max))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	handler.New(handler.Config{ImageBaseURL: cfg.ImageBaseURL}, sessions, cat).Register(mux)

	routeFinder := httpmiddleware.MakeRouteFinder(mux)
	h := httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", httpmiddleware.RequestIDHeader},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
			Clock:  clock,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Instrument("kart-feed", routeFinder, tel),
		httpmiddleware.LogRequests(routeFinder),
		httpmiddleware.Labeler(routeFinder),
	)

	return &server{health: healthSvc, sessions: sessions, handler: h}, nil
}

// prefetchCategories lists the categories eligible for idle prefetching.
// The feed still works without them, so a failure only disables
// prefetching.
func prefetchCategories(ctx context.Context, lg *zap.Logger, cat product.Catalog) []string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cats, err := cat.Categories(ctx)
	if err != nil {
		lg.Warn("Category listing failed, idle prefetch disabled", zap.Error(err))
		return nil
	}
	ids := make([]string, len(cats))
	for i, c := range cats {
		ids[i] = c.ID
	}
	lg.Info("Loaded categories", zap.Int("count", len(ids)))
	return ids
}
