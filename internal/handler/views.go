package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-feed/internal/feed"
	"github.com/xenking/kart-feed/internal/session"
	"github.com/xenking/kart-feed/internal/viewport"
)

type viewTarget struct {
	entry *session.Entry
	view  *feed.View
}

// target resolves the session and view addressed by the request path.
func (h *Handler) target(r *http.Request) (viewTarget, error) {
	e, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		return viewTarget{}, err
	}
	kind, err := feed.ParseViewKind(r.PathValue("view"))
	if err != nil {
		return viewTarget{}, err
	}
	v, err := e.Session.View(kind)
	if err != nil {
		return viewTarget{}, err
	}
	return viewTarget{entry: e, view: v}, nil
}

func (h *Handler) viewSnapshot(w http.ResponseWriter, r *http.Request) {
	t, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeSnapshot(w, t)
}

func (h *Handler) setKey(w http.ResponseWriter, r *http.Request) {
	t, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	body, err := h.readBody(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := decodeKeyRequest(body)
	if err != nil {
		h.fail(w, r, badRequest(err))
		return
	}

	var key feed.Key
	switch t.view.Kind() {
	case feed.ViewHome:
		key = feed.HomeKey(req.Value)
	default:
		key = feed.SearchKey(req.Value)
	}
	key = key.WithMaxPrice(req.MaxPrice)

	t.entry.Activity()
	if err := t.view.SetKey(key); err != nil {
		h.fail(w, r, badRequest(err))
		return
	}
	h.writeSnapshot(w, t)
}

func (h *Handler) nextPage(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(v *feed.View) { v.LoadNextPage() })
}

func (h *Handler) retry(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, (*feed.View).RetryInitial)
}

func (h *Handler) mount(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, (*feed.View).Mount)
}

func (h *Handler) unmount(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, (*feed.View).Unmount)
}

func (h *Handler) action(w http.ResponseWriter, r *http.Request, fn func(*feed.View)) {
	t, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	t.entry.Activity()
	fn(t.view)
	h.writeSnapshot(w, t)
}

func (h *Handler) reportViewport(w http.ResponseWriter, r *http.Request) {
	t, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	body, err := h.readBody(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rep, err := decodeReport(body)
	if err != nil {
		h.fail(w, r, badRequest(err))
		return
	}
	display, err := t.entry.Display(t.view.Kind())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	t.entry.Activity()
	display.Update(rep)
	h.writeSnapshot(w, t)
}

func (h *Handler) writeSnapshot(w http.ResponseWriter, t viewTarget) {
	s := t.view.Snapshot()
	display, err := t.entry.Display(t.view.Kind())
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	var scroll *viewport.ScrollCommand
	if cmd, ok := display.TakeScrollCommand(); ok {
		scroll = &cmd
	}

	writeJSON(w, http.StatusOK, func(enc *jx.Encoder) {
		h.encodeSnapshot(enc, s, scroll)
	})
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	buf, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		return nil, badRequest(errors.Wrap(err, "read body"))
	}
	return buf, nil
}
