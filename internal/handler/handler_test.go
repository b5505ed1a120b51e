package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-feed/internal/domain/product"
	"github.com/xenking/kart-feed/internal/feed"
	"github.com/xenking/kart-feed/internal/feed/feedtest"
	"github.com/xenking/kart-feed/internal/idle"
	"github.com/xenking/kart-feed/internal/session"
)

// --- Mock implementations ---

type mockCategories struct {
	cats []product.Category
	err  error
}

func (m *mockCategories) Categories(_ context.Context) ([]product.Category, error) {
	return m.cats, m.err
}

// --- Helpers ---

type testServer struct {
	t        *testing.T
	mux      *http.ServeMux
	source   *feedtest.Source
	sessions *session.Manager
}

func newTestServer(t *testing.T, cats *mockCategories) *testServer {
	t.Helper()
	if cats == nil {
		cats = &mockCategories{}
	}
	src := feedtest.NewSource()
	m := session.NewManager(context.Background(), session.Params{
		Config: session.Config{MaxSessions: 2},
		Feed:   feed.DefaultOptions(),
		Idle:   idle.DefaultConfig(),
		Source: src,
		Clock:  clockwork.NewFakeClock(),
	})
	t.Cleanup(m.Shutdown)

	mux := http.NewServeMux()
	New(Config{ImageBaseURL: "https://cdn.test/"}, m, cats).Register(mux)
	return &testServer{t: t, mux: mux, source: src, sessions: m}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	s.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	return w
}

func (s *testServer) createSession() string {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/sessions", "")
	require.Equal(s.t, http.StatusCreated, w.Code)

	var id string
	require.NoError(s.t, jx.DecodeBytes(w.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		if key != "id" {
			return d.Skip()
		}
		v, err := d.Str()
		id = v
		return err
	}))
	require.NotEmpty(s.t, id)
	return id
}

type snapshotBody struct {
	Page        int
	HasMore     bool
	Loading     bool
	Items       []string
	Prices      []string
	Images      []string
	Error       string
	Sentinel    string
	MaxPrice    string
	ScrollTo    float64
	HasScrollTo bool
}

func decodeSnapshot(t *testing.T, body []byte) snapshotBody {
	t.Helper()
	var s snapshotBody
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "page":
			v, err := d.Int()
			s.Page = v
			return err
		case "hasMore":
			v, err := d.Bool()
			s.HasMore = v
			return err
		case "loading":
			v, err := d.Bool()
			s.Loading = v
			return err
		case "error", "sentinel":
			if d.Next() == jx.Null {
				return d.Null()
			}
			v, err := d.Str()
			if key == "error" {
				s.Error = v
			} else {
				s.Sentinel = v
			}
			return err
		case "key":
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "maxPrice" || d.Next() == jx.Null {
					return d.Skip()
				}
				n, err := d.Num()
				s.MaxPrice = n.String()
				return err
			})
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				return d.Obj(func(d *jx.Decoder, key string) error {
					switch key {
					case "id":
						v, err := d.Str()
						s.Items = append(s.Items, v)
						return err
					case "price":
						n, err := d.Num()
						s.Prices = append(s.Prices, n.String())
						return err
					case "image":
						return d.Obj(func(d *jx.Decoder, key string) error {
							if key != "thumbnail" {
								return d.Skip()
							}
							v, err := d.Str()
							s.Images = append(s.Images, v)
							return err
						})
					default:
						return d.Skip()
					}
				})
			})
		case "scrollTo":
			s.HasScrollTo = true
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "offset" {
					return d.Skip()
				}
				v, err := d.Float64()
				s.ScrollTo = v
				return err
			})
		default:
			return d.Skip()
		}
	})
	require.NoError(t, err)
	return s
}

func (s *testServer) waitSnapshot(path string, cond func(snapshotBody) bool) snapshotBody {
	s.t.Helper()
	var last snapshotBody
	require.Eventually(s.t, func() bool {
		w := s.do(http.MethodGet, path, "")
		if w.Code != http.StatusOK {
			return false
		}
		last = decodeSnapshot(s.t, w.Body.Bytes())
		return cond(last)
	}, 2*time.Second, 5*time.Millisecond)
	return last
}

// --- Tests ---

func TestHandler_HomeFlow(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.source.SetTotal("shoes", 15)
	id := srv.createSession()
	base := "/api/sessions/" + id + "/views/home"

	w := srv.do(http.MethodPost, base+"/mount", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = srv.do(http.MethodPost, base+"/key", `{"value":"shoes"}`)
	require.Equal(t, http.StatusOK, w.Code)

	snap := srv.waitSnapshot(base, func(s snapshotBody) bool { return s.Page == 1 && !s.Loading })
	assert.Len(t, snap.Items, 10)
	assert.True(t, snap.HasMore)
	assert.Equal(t, "shoes-10", snap.Sentinel)
	assert.Equal(t, "1", snap.Prices[0])
	assert.Equal(t, "https://cdn.test/", snap.Images[0])

	w = srv.do(http.MethodPost, base+"/next", "")
	require.Equal(t, http.StatusOK, w.Code)
	snap = srv.waitSnapshot(base, func(s snapshotBody) bool { return s.Page == 2 })
	assert.Len(t, snap.Items, 15)
	assert.False(t, snap.HasMore)
	assert.Empty(t, snap.Sentinel)
}

func TestHandler_ViewportReportTriggersNextPage(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.source.SetTotal("lamp", 60)
	id := srv.createSession()
	base := "/api/sessions/" + id + "/views/search"

	srv.do(http.MethodPost, base+"/mount", "")
	srv.do(http.MethodPost, base+"/key", `{"value":"lamp","maxPrice":"25.50"}`)
	snap := srv.waitSnapshot(base, func(s snapshotBody) bool { return s.Page == 1 && !s.Loading })
	require.Equal(t, "lamp-20", snap.Sentinel)
	assert.Equal(t, "25.5", snap.MaxPrice)

	report := `{
		"surfaces": [{"id":"document","kind":"document","scrollTop":1200,"scrollHeight":4000,"clientHeight":800}],
		"sentinel": {"id":"lamp-20","top":2100}
	}`
	w := srv.do(http.MethodPost, base+"/viewport", report)
	require.Equal(t, http.StatusOK, w.Code)

	snap = srv.waitSnapshot(base, func(s snapshotBody) bool { return s.Page == 2 })
	assert.Len(t, snap.Items, 40)
	assert.Equal(t, 1, srv.source.CallCount("lamp", 2))

	calls := srv.source.Calls()
	require.True(t, calls[0].MaxPrice.Valid)
	assert.Equal(t, "25.5", calls[0].MaxPrice.Decimal.String())
}

func TestHandler_ErrorMapping(t *testing.T) {
	srv := newTestServer(t, &mockCategories{err: errors.New("db down")})
	id := srv.createSession()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "unknown session", method: http.MethodGet, path: "/api/sessions/nope/views/home", want: http.StatusNotFound},
		{name: "unknown view", method: http.MethodGet, path: "/api/sessions/" + id + "/views/cart", want: http.StatusNotFound},
		{name: "malformed key", method: http.MethodPost, path: "/api/sessions/" + id + "/views/home/key", body: `{"value":`, want: http.StatusBadRequest},
		{name: "negative price", method: http.MethodPost, path: "/api/sessions/" + id + "/views/search/key", body: `{"value":"x","maxPrice":-1}`, want: http.StatusBadRequest},
		{name: "unknown surface kind", method: http.MethodPost, path: "/api/sessions/" + id + "/views/home/viewport", body: `{"surfaces":[{"id":"a","kind":"window"}]}`, want: http.StatusBadRequest},
		{name: "categories failure", method: http.MethodGet, path: "/api/categories", want: http.StatusInternalServerError},
		{name: "close unknown", method: http.MethodDelete, path: "/api/sessions/nope", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestHandler_SessionLimit(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.createSession()
	srv.createSession()

	w := srv.do(http.MethodPost, "/api/sessions", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandler_Categories(t *testing.T) {
	srv := newTestServer(t, &mockCategories{cats: []product.Category{
		{ID: "shoes", Name: "Shoes"},
		{ID: "bags", Name: "Bags"},
	}})

	w := srv.do(http.MethodGet, "/api/categories", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got []string
	require.NoError(t, jx.DecodeBytes(w.Body.Bytes()).Arr(func(d *jx.Decoder) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			if key != "id" {
				return d.Skip()
			}
			v, err := d.Str()
			got = append(got, v)
			return err
		})
	}))
	assert.Equal(t, []string{"shoes", "bags"}, got)
}

func TestHandler_ClearCacheAndClose(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.source.SetTotal("shoes", 30)
	id := srv.createSession()
	base := "/api/sessions/" + id + "/views/home"

	srv.do(http.MethodPost, base+"/mount", "")
	srv.do(http.MethodPost, base+"/key", `{"value":"shoes"}`)
	srv.waitSnapshot(base, func(s snapshotBody) bool { return s.Page == 1 && !s.Loading })

	w := srv.do(http.MethodDelete, "/api/sessions/"+id+"/cache", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	srv.waitSnapshot(base, func(s snapshotBody) bool { return s.Page == 1 && !s.Loading })
	assert.Equal(t, 2, srv.source.CallCount("shoes", 1))

	w = srv.do(http.MethodDelete, "/api/sessions/"+id, "")
	require.Equal(t, http.StatusNoContent, w.Code)
	w = srv.do(http.MethodGet, base, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_RetryAfterFailure(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.source.SetTotal("shoes", 30)
	id := srv.createSession()
	base := "/api/sessions/" + id + "/views/home"

	srv.do(http.MethodPost, base+"/mount", "")
	srv.do(http.MethodPost, base+"/key", `{"value":"shoes"}`)
	srv.waitSnapshot(base, func(s snapshotBody) bool { return s.Page == 1 && !s.Loading })

	srv.source.FailNext(1, errors.New("upstream 502"))
	srv.do(http.MethodPost, base+"/next", "")
	snap := srv.waitSnapshot(base, func(s snapshotBody) bool { return s.Error != "" })
	assert.Contains(t, snap.Error, "upstream 502")
	assert.Len(t, snap.Items, 10)

	srv.do(http.MethodPost, base+"/retry", "")
	snap = srv.waitSnapshot(base, func(s snapshotBody) bool { return s.Page == 2 })
	assert.Empty(t, snap.Error)
	assert.Len(t, snap.Items, 20)
}
