package feed

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/xenking/kart-feed/internal/feed"

// Metrics counts engine events.
type Metrics struct {
	dispatches       metric.Int64Counter
	staleDrops       metric.Int64Counter
	fetchFailures    metric.Int64Counter
	retries          metric.Int64Counter
	prefetches       metric.Int64Counter
	prefetchFailures metric.Int64Counter
	sessions         metric.Int64UpDownCounter
}

// NewMetrics registers the engine instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)

	var (
		m   Metrics
		err error
	)
	if m.dispatches, err = meter.Int64Counter("feed.dispatches",
		metric.WithDescription("Fetches dispatched through the request coordinator"),
	); err != nil {
		return nil, errors.Wrap(err, "dispatches counter")
	}
	if m.staleDrops, err = meter.Int64Counter("feed.stale_drops",
		metric.WithDescription("Fetch completions dropped because their token was superseded"),
	); err != nil {
		return nil, errors.Wrap(err, "stale drops counter")
	}
	if m.fetchFailures, err = meter.Int64Counter("feed.fetch_failures",
		metric.WithDescription("Current fetches that failed"),
	); err != nil {
		return nil, errors.Wrap(err, "fetch failures counter")
	}
	if m.retries, err = meter.Int64Counter("feed.retries",
		metric.WithDescription("Automatic retries of initial loads"),
	); err != nil {
		return nil, errors.Wrap(err, "retries counter")
	}
	if m.prefetches, err = meter.Int64Counter("feed.prefetches",
		metric.WithDescription("Idle-time category prefetches started"),
	); err != nil {
		return nil, errors.Wrap(err, "prefetches counter")
	}
	if m.prefetchFailures, err = meter.Int64Counter("feed.prefetch_failures",
		metric.WithDescription("Idle-time prefetches that failed and were discarded"),
	); err != nil {
		return nil, errors.Wrap(err, "prefetch failures counter")
	}
	if m.sessions, err = meter.Int64UpDownCounter("feed.sessions",
		metric.WithDescription("Open engine sessions"),
	); err != nil {
		return nil, errors.Wrap(err, "sessions counter")
	}
	return &m, nil
}

// NopMetrics returns Metrics backed by a no-op provider.
func NopMetrics() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic(err) // noop instruments never fail
	}
	return m
}

func viewAttr(k Key) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("view", string(k.View)))
}

func (m *Metrics) dispatched(k Key) {
	m.dispatches.Add(context.Background(), 1, viewAttr(k))
}

func (m *Metrics) dropped(k Key) {
	m.staleDrops.Add(context.Background(), 1, viewAttr(k))
}

func (m *Metrics) failed(k Key) {
	m.fetchFailures.Add(context.Background(), 1, viewAttr(k))
}

func (m *Metrics) retried(k Key) {
	m.retries.Add(context.Background(), 1, viewAttr(k))
}

func (m *Metrics) prefetched() {
	m.prefetches.Add(context.Background(), 1)
}

func (m *Metrics) prefetchFailed() {
	m.prefetchFailures.Add(context.Background(), 1)
}

func (m *Metrics) sessionOpened() {
	m.sessions.Add(context.Background(), 1)
}

func (m *Metrics) sessionClosed() {
	m.sessions.Add(context.Background(), -1)
}
