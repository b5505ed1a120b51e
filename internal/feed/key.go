package feed

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-feed/internal/domain/product"
)

// ViewKind names one of the storefront views driven by the engine.
type ViewKind string

const (
	// ViewHome is the category discovery feed.
	ViewHome ViewKind = "home"
	// ViewSearch is the search-results view.
	ViewSearch ViewKind = "search"
)

// ErrUnknownView is returned for a view name other than home or search.
var ErrUnknownView = errors.New("unknown view")

// ParseViewKind validates a view name.
func ParseViewKind(s string) (ViewKind, error) {
	switch ViewKind(s) {
	case ViewHome, ViewSearch:
		return ViewKind(s), nil
	default:
		return "", errors.Wrapf(ErrUnknownView, "%q", s)
	}
}

// Key identifies one independently paginated feed: a home category or a
// search query, optionally narrowed by a price cap.
type Key struct {
	View  ViewKind
	Value string
	// MaxPrice is the canonical decimal string of the price cap, empty when
	// unfiltered. Keeping it a string keeps Key comparable.
	MaxPrice string
}

// HomeKey returns the key of a home category feed.
func HomeKey(category string) Key {
	return Key{View: ViewHome, Value: category}
}

// SearchKey returns the key of a search feed. Surrounding whitespace is not
// significant.
func SearchKey(query string) Key {
	return Key{View: ViewSearch, Value: strings.TrimSpace(query)}
}

// WithMaxPrice returns a copy of k narrowed to products priced at most max.
func (k Key) WithMaxPrice(max decimal.NullDecimal) Key {
	if !max.Valid {
		k.MaxPrice = ""
		return k
	}
	k.MaxPrice = max.Decimal.String()
	return k
}

// IsZero reports whether k is the zero Key.
func (k Key) IsZero() bool {
	return k == Key{}
}

func (k Key) String() string {
	s := string(k.View) + ":" + k.Value
	if k.MaxPrice != "" {
		s += "<=" + k.MaxPrice
	}
	return s
}

// Query builds the transport query for one page of k.
func (k Key) Query(page, pageSize int) product.Query {
	q := product.Query{
		Term:     k.Value,
		Page:     page,
		PageSize: pageSize,
	}
	if k.MaxPrice != "" {
		if d, err := decimal.NewFromString(k.MaxPrice); err == nil {
			q.MaxPrice = decimal.NewNullDecimal(d)
		}
	}
	return q
}
