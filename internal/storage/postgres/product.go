package postgres

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-feed/internal/domain/product"
)

const (
	// The window count is evaluated before LIMIT, so total is the full match
	// count on every returned row.
	fetchPageSQL = `SELECT id, name, price, currency, category, origin,
			image_thumbnail, image_mobile, image_tablet, image_desktop,
			COUNT(*) OVER() AS total
		FROM products
		WHERE ($1 = '' OR category = $1 OR name ILIKE '%' || $2 || '%')
			AND ($3::numeric IS NULL OR price <= $3)
		ORDER BY id
		LIMIT $4 OFFSET $5`

	listCategoriesSQL = `SELECT id, name FROM categories ORDER BY id`
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

var _ product.Catalog = (*ProductRepository)(nil)

// ProductRepository implements product.Catalog backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// FetchPage returns one page of products whose category equals the term or
// whose name contains it, ordered by id. Pages past the end are empty.
func (r *ProductRepository) FetchPage(ctx context.Context, q product.Query) (product.Page, error) {
	q = q.Normalize()
	term := strings.TrimSpace(q.Term)

	rows, err := r.pool.Query(ctx, fetchPageSQL,
		term, likeEscaper.Replace(term), q.MaxPrice, q.PageSize, q.Offset())
	if err != nil {
		return product.Page{}, errors.Wrapf(err, "query page %d of %q", q.Page, term)
	}

	var total int64
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (product.Product, error) {
		return scanProduct(row, &total)
	})
	if err != nil {
		return product.Page{}, errors.Wrapf(err, "scan page %d of %q", q.Page, term)
	}

	return product.Page{
		Products:  items,
		Total:     int(total),
		Exhausted: len(items) == 0 || q.Offset()+len(items) >= int(total),
	}, nil
}

// Categories returns the browsable categories ordered by id.
func (r *ProductRepository) Categories(ctx context.Context) ([]product.Category, error) {
	rows, err := r.pool.Query(ctx, listCategoriesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list categories")
	}
	cats, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (product.Category, error) {
		var c product.Category
		err := row.Scan(&c.ID, &c.Name)
		return c, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan categories")
	}
	return cats, nil
}

// Ping checks database connectivity.
func (r *ProductRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanProduct(row pgx.CollectableRow, total *int64) (product.Product, error) {
	var (
		p     product.Product
		price decimal.Decimal
	)
	err := row.Scan(
		&p.ID, &p.Name, &price, &p.Currency, &p.Category, &p.Origin,
		&p.Image.Thumbnail, &p.Image.Mobile, &p.Image.Tablet, &p.Image.Desktop,
		total,
	)
	p.Price = price
	return p, err
}
