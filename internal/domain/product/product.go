package product

import (
	"context"

	"github.com/shopspring/decimal"
)

// Product represents a catalog item offered by a cross-border marketplace.
// The feed engine treats it as opaque apart from ID.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Currency string
	Category string
	// Origin is the ISO country code of the marketplace the item ships from.
	Origin string
	Image  Image
}

// Image holds responsive image URLs for a product.
type Image struct {
	Thumbnail string
	Mobile    string
	Tablet    string
	Desktop   string
}

// Query selects one page of products.
type Query struct {
	// Term is a free-text search term or a category identifier. Empty matches
	// the whole catalog.
	Term     string
	Page     int
	PageSize int
	// MaxPrice filters out products priced above it when set.
	MaxPrice decimal.NullDecimal
}

// Normalize clamps page and page size to usable values.
func (q Query) Normalize() Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 20
	}
	return q
}

// Offset returns the number of products preceding the requested page.
func (q Query) Offset() int {
	q = q.Normalize()
	return (q.Page - 1) * q.PageSize
}

// Page is one page of results returned by a Source.
type Page struct {
	Products []Product
	// Total is the number of matching products, zero when the source does not
	// report it.
	Total int
	// Exhausted is set when the source reports that nothing follows this page.
	Exhausted bool
}

// Source fetches pages of products. Implementations must be idempotent per
// (term, page) and return an empty page, not an error, past the last page.
type Source interface {
	FetchPage(ctx context.Context, q Query) (Page, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, q Query) (Page, error)

// FetchPage implements Source.
func (f SourceFunc) FetchPage(ctx context.Context, q Query) (Page, error) {
	return f(ctx, q)
}

// Category is a browsable home-feed category.
type Category struct {
	ID   string
	Name string
}

// Catalog is a Source that can also enumerate its categories.
type Catalog interface {
	Source
	Categories(ctx context.Context) ([]Category, error)
}
