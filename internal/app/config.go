package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/kart-feed/internal/feed"
	"github.com/xenking/kart-feed/internal/idle"
	"github.com/xenking/kart-feed/internal/session"
)

// Catalog source kinds.
const (
	SourcePostgres = "postgres"
	SourceHTTP     = "http"
)

// Config holds the complete application configuration, loadable from
// environment variables (KART_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (KART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL prepended to product image paths" flag:"image-base-url"`
	Catalog      CatalogConfig
	Feed         FeedConfig
	Session      SessionConfig
	Idle         IdleConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// CatalogConfig selects the product source.
type CatalogConfig struct {
	Source  string        `default:"postgres" usage:"Product source: postgres or http"`
	URL     string        `usage:"Remote catalog base URL when source is http"`
	Timeout time.Duration `default:"10s" usage:"Remote catalog request timeout"`
}

// FeedConfig tunes the pagination engine.
type FeedConfig struct {
	HomePageSize   int           `default:"10" usage:"Items per home category page"`
	SearchPageSize int           `default:"20" usage:"Items per search page"`
	MaxRetries     int           `default:"2" usage:"Automatic retries of a failed initial load"`
	RetryDelay     time.Duration `default:"1500ms" usage:"Retry delay, multiplied by the attempt number"`
	ScrollDebounce time.Duration `default:"150ms" usage:"Scroll offset persistence debounce"`
	RestoreDelay   time.Duration `default:"100ms" usage:"Delay before restoring a cached scroll offset"`
	Lookahead      float64       `default:"0.5" usage:"Sentinel lookahead as a fraction of the viewport height"`
}

// SessionConfig bounds the session registry.
type SessionConfig struct {
	TTL        time.Duration `default:"30m" usage:"Evict sessions idle for longer than this"`
	Max        int           `default:"10000" usage:"Maximum concurrent sessions"`
	SweepEvery time.Duration `default:"1m" usage:"Eviction sweep interval"`
}

// IdleConfig controls when idle prefetching may run.
type IdleConfig struct {
	Threshold  time.Duration `default:"2s" usage:"Inactivity before a session counts as idle; 0 uses the fallback delay"`
	CheckEvery time.Duration `default:"500ms" usage:"Idle polling interval"`
	Fallback   time.Duration `default:"1s" usage:"Fixed prefetch delay when idle detection is disabled"`
}

// RateLimitConfig controls the per-client rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"300" usage:"Requests a client may burst"`
	Window time.Duration `default:"1m"  usage:"Time for an empty bucket to refill"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files and command-line flags, then applies platform defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(os.Args[1:])
}

func loadConfig(args []string) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "KART",
		SkipFlags: len(args) == 0,
		Args:      args,
		Files:     []string{"config.yaml", "/etc/kart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that
// use standard names like DATABASE_URL and PORT.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	switch c.Catalog.Source {
	case SourcePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set KART_DATABASE_URL or DATABASE_URL")
		}
	case SourceHTTP:
		if c.Catalog.URL == "" {
			return errors.New("catalog URL is required when KART_CATALOG_SOURCE=http")
		}
	default:
		return errors.Errorf("unknown catalog source %q", c.Catalog.Source)
	}
	if c.Feed.HomePageSize <= 0 || c.Feed.SearchPageSize <= 0 {
		return errors.New("page sizes must be positive")
	}
	if c.Feed.MaxRetries < 0 {
		return errors.New("max retries must not be negative")
	}
	return nil
}

// FeedOptions converts the feed settings into engine options.
func (c *Config) FeedOptions(categories []string) feed.Options {
	opts := feed.DefaultOptions()
	opts.HomePageSize = c.Feed.HomePageSize
	opts.SearchPageSize = c.Feed.SearchPageSize
	opts.Retry = feed.RetryPolicy{MaxRetries: c.Feed.MaxRetries, BaseDelay: c.Feed.RetryDelay}
	opts.ScrollDebounce = c.Feed.ScrollDebounce
	opts.RestoreDelay = c.Feed.RestoreDelay
	opts.Categories = categories
	return opts
}

// SessionLimits converts the registry settings.
func (c *Config) SessionLimits() session.Config {
	return session.Config{
		TTL:         c.Session.TTL,
		MaxSessions: c.Session.Max,
		SweepEvery:  c.Session.SweepEvery,
	}
}

// IdleSchedule converts the idle scheduling settings.
func (c *Config) IdleSchedule() idle.Config {
	return idle.Config{
		Threshold:  c.Idle.Threshold,
		CheckEvery: c.Idle.CheckEvery,
		Fallback:   c.Idle.Fallback,
	}
}
