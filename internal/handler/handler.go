// Package handler exposes engine sessions over a JSON HTTP API.
package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-feed/internal/domain/product"
	"github.com/xenking/kart-feed/internal/feed"
	"github.com/xenking/kart-feed/internal/session"
)

// Sessions is the session registry used by the API.
type Sessions interface {
	Create() (*session.Entry, error)
	Get(id string) (*session.Entry, error)
	Close(id string) error
}

// CategoryLister enumerates the home categories.
type CategoryLister interface {
	Categories(ctx context.Context) ([]product.Category, error)
}

var _ Sessions = (*session.Manager)(nil)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in product responses.
	// When empty, image paths are returned as stored.
	ImageBaseURL string
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64
}

// Handler serves the session API.
type Handler struct {
	sessions     Sessions
	categories   CategoryLister
	imageBaseURL string
	maxBody      int64
}

// New constructs a Handler.
func New(cfg Config, sessions Sessions, categories CategoryLister) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Handler{
		sessions:     sessions,
		categories:   categories,
		imageBaseURL: cfg.ImageBaseURL,
		maxBody:      cfg.MaxBodyBytes,
	}
}

// Register mounts the API routes on mux under /api.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.createSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.closeSession)
	mux.HandleFunc("DELETE /api/sessions/{id}/cache", h.clearCache)
	mux.HandleFunc("GET /api/categories", h.listCategories)

	mux.HandleFunc("GET /api/sessions/{id}/views/{view}", h.viewSnapshot)
	mux.HandleFunc("POST /api/sessions/{id}/views/{view}/key", h.setKey)
	mux.HandleFunc("POST /api/sessions/{id}/views/{view}/next", h.nextPage)
	mux.HandleFunc("POST /api/sessions/{id}/views/{view}/retry", h.retry)
	mux.HandleFunc("POST /api/sessions/{id}/views/{view}/mount", h.mount)
	mux.HandleFunc("POST /api/sessions/{id}/views/{view}/unmount", h.unmount)
	mux.HandleFunc("POST /api/sessions/{id}/views/{view}/viewport", h.reportViewport)
}

// Routes lists the registered route patterns, used for metric and log labels.
func Routes() []string {
	return []string{
		"POST /api/sessions",
		"DELETE /api/sessions/{id}",
		"DELETE /api/sessions/{id}/cache",
		"GET /api/categories",
		"GET /api/sessions/{id}/views/{view}",
		"POST /api/sessions/{id}/views/{view}/key",
		"POST /api/sessions/{id}/views/{view}/next",
		"POST /api/sessions/{id}/views/{view}/retry",
		"POST /api/sessions/{id}/views/{view}/mount",
		"POST /api/sessions/{id}/views/{view}/unmount",
		"POST /api/sessions/{id}/views/{view}/viewport",
	}
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	e, err := h.sessions.Create()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(enc *jx.Encoder) {
		enc.Obj(func(enc *jx.Encoder) {
			enc.Field("id", func(enc *jx.Encoder) { enc.Str(e.ID) })
		})
	})
}

func (h *Handler) closeSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clearCache(w http.ResponseWriter, r *http.Request) {
	e, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	e.Activity()
	e.Session.ClearCache()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.categories.Categories(r.Context())
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "list categories"))
		return
	}
	writeJSON(w, http.StatusOK, func(enc *jx.Encoder) {
		enc.Arr(func(enc *jx.Encoder) {
			for _, c := range cats {
				encodeCategory(enc, c)
			}
		})
	})
}

// inputError marks a malformed client request.
type inputError struct {
	err error
}

func (e *inputError) Error() string { return e.err.Error() }

func (e *inputError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return &inputError{err: err}
}

// fail maps err to a status code and writes the error body.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var input *inputError
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, feed.ErrUnknownView):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrLimit):
		status = http.StatusServiceUnavailable
	case errors.As(err, &input):
		status = http.StatusBadRequest
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		msg = "internal error"
	}
	writeError(w, status, msg)
}
