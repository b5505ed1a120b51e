// Package feedtest provides in-memory collaborators for exercising the feed
// engine: a scripted product source, a scrollable display and a manually
// driven idle scheduler.
package feedtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-feed/internal/domain/product"
)

type response struct {
	page product.Page
	err  error
}

// Held is a fetch parked by Source.Hold until the test settles it.
type Held struct {
	Query product.Query
	ch    chan response
	src   *Source
}

// Succeed completes the fetch with the generated catalog page.
func (h *Held) Succeed() {
	h.ch <- response{page: h.src.generate(h.Query)}
}

// Respond completes the fetch with page.
func (h *Held) Respond(page product.Page) {
	h.ch <- response{page: page}
}

// Fail completes the fetch with err.
func (h *Held) Fail(err error) {
	h.ch <- response{err: err}
}

// Source is a product.Source over a generated catalog. Term t with a total
// of n yields products with ids "t-1" through "t-n".
type Source struct {
	mu       sync.Mutex
	totals   map[string]int
	overlap  int
	exhaust  bool
	failures []error
	hold     bool
	held     []*Held
	calls    []product.Query
}

var _ product.Source = (*Source)(nil)

// NewSource creates a Source with no products.
func NewSource() *Source {
	return &Source{totals: make(map[string]int)}
}

// SetTotal sets how many products term has.
func (s *Source) SetTotal(term string, n int) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals[term] = n
	return s
}

// SetOverlap makes every page after the first repeat the last n items of the
// previous page, the way an offset feed does when rows shift underneath it.
func (s *Source) SetOverlap(n int) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlap = n
	return s
}

// ReportExhausted makes pages carry the Exhausted flag once the catalog end
// is reached.
func (s *Source) ReportExhausted() *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exhaust = true
	return s
}

// FailNext makes the next n unheld calls fail with err.
func (s *Source) FailNext(n int, err error) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	for range n {
		s.failures = append(s.failures, err)
	}
	return s
}

// Hold parks every subsequent call until it is settled through Held.
func (s *Source) Hold() *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hold = true
	return s
}

// Release stops parking new calls. Calls already held stay held.
func (s *Source) Release() *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hold = false
	return s
}

// Held returns the parked calls in arrival order.
func (s *Source) Held() []*Held {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Held(nil), s.held...)
}

// Calls returns every query received.
func (s *Source) Calls() []product.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]product.Query(nil), s.calls...)
}

// CallCount returns how often page of term was requested.
func (s *Source) CallCount(term string, page int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, q := range s.calls {
		if q.Term == term && q.Page == page {
			n++
		}
	}
	return n
}

// FetchPage implements product.Source.
func (s *Source) FetchPage(ctx context.Context, q product.Query) (product.Page, error) {
	s.mu.Lock()
	s.calls = append(s.calls, q)
	if s.hold {
		h := &Held{Query: q, ch: make(chan response, 1), src: s}
		s.held = append(s.held, h)
		s.mu.Unlock()
		select {
		case r := <-h.ch:
			return r.page, r.err
		case <-ctx.Done():
			return product.Page{}, ctx.Err()
		}
	}
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		s.mu.Unlock()
		return product.Page{}, err
	}
	s.mu.Unlock()
	return s.generate(q), nil
}

func (s *Source) generate(q product.Query) product.Page {
	s.mu.Lock()
	total, overlap, exhaust := s.totals[q.Term], s.overlap, s.exhaust
	s.mu.Unlock()

	q = q.Normalize()
	start := q.Offset()
	if q.Page > 1 {
		start -= overlap
	}
	end := min(start+q.PageSize, total)

	page := product.Page{Total: total}
	for i := start; i < end; i++ {
		page.Products = append(page.Products, Product(q.Term, i+1))
	}
	if exhaust && end >= total {
		page.Exhausted = true
	}
	return page
}

// Product returns the generated product n of term.
func Product(term string, n int) product.Product {
	return product.Product{
		ID:       fmt.Sprintf("%s-%d", term, n),
		Name:     fmt.Sprintf("%s #%d", term, n),
		Price:    decimal.NewFromInt(int64(n)),
		Currency: "USD",
		Category: term,
	}
}
