// Package catalog implements product.Catalog over a remote catalog HTTP API.
package catalog

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/kart-feed/internal/domain/product"
)

// StatusError is returned when the catalog answers with a non-200 status.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return e.Op + ": status " + strconv.Itoa(e.Status)
	}
	return e.Op + ": status " + strconv.Itoa(e.Status) + ": " + e.Body
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the default instrumented client.
	HTTPClient *http.Client
	// TracerProvider defaults to a no-op provider.
	TracerProvider trace.TracerProvider
}

// Client fetches product pages from a remote catalog. Concurrent identical
// requests share one round trip.
type Client struct {
	baseURL string
	http    *http.Client
	tracer  trace.Tracer
	timeout time.Duration
	group   singleflight.Group
}

var _ product.Catalog = (*Client)(nil)

// NewClient creates a Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("catalog base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, errors.Wrap(err, "parse catalog base URL")
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport, otelhttp.WithTracerProvider(tp)),
		}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    hc,
		tracer:  tp.Tracer("kart-feed/catalog"),
		timeout: timeout,
	}, nil
}

// FetchPage implements product.Source.
func (c *Client) FetchPage(ctx context.Context, q product.Query) (product.Page, error) {
	q = q.Normalize()

	v := make(url.Values)
	v.Set("q", q.Term)
	v.Set("page", strconv.Itoa(q.Page))
	v.Set("per_page", strconv.Itoa(q.PageSize))
	if q.MaxPrice.Valid {
		v.Set("max_price", q.MaxPrice.Decimal.String())
	}
	path := "/products?" + v.Encode()

	ctx, span := c.tracer.Start(ctx, "catalog.FetchPage", trace.WithAttributes(
		attribute.String("catalog.term", q.Term),
		attribute.Int("catalog.page", q.Page),
		attribute.Int("catalog.page_size", q.PageSize),
	))
	defer span.End()

	res, shared, err := c.shared(ctx, path, func(ctx context.Context) (any, error) {
		body, err := c.get(ctx, path, "fetch products")
		if err != nil {
			return nil, err
		}
		return decodePage(body)
	})
	span.SetAttributes(attribute.Bool("catalog.shared", shared))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return product.Page{}, err
	}

	page := res.(product.Page)
	// Shared results must not alias between callers.
	page.Products = append([]product.Product(nil), page.Products...)
	span.SetAttributes(attribute.Int("catalog.items", len(page.Products)))
	return page, nil
}

// Categories lists the catalog categories.
func (c *Client) Categories(ctx context.Context) ([]product.Category, error) {
	ctx, span := c.tracer.Start(ctx, "catalog.Categories")
	defer span.End()

	res, _, err := c.shared(ctx, "/categories", func(ctx context.Context) (any, error) {
		body, err := c.get(ctx, "/categories", "list categories")
		if err != nil {
			return nil, err
		}
		return decodeCategories(body)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return append([]product.Category(nil), res.([]product.Category)...), nil
}

// shared runs fn once for all concurrent callers of key. The round trip is
// detached from any single caller's cancellation and bounded by the client
// timeout; each caller still returns as soon as its own ctx is done.
func (c *Client) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, bool, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return fn(ctx)
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case r := <-ch:
		return r.Val, r.Shared, r.Err
	}
}

// Ping checks that the catalog answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, "/healthz", "ping catalog")
	return err
}

func (c *Client) get(ctx context.Context, path, op string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: read body", op)
	}
	return body, nil
}
