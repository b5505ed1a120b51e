package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-feed/internal/domain/product"
)

const (
	upsertCategorySQL = `INSERT INTO categories (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`

	upsertProductSQL = `INSERT INTO products (id, name, price, currency, category, origin,
			image_thumbnail, image_mobile, image_tablet, image_desktop)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			category = EXCLUDED.category,
			origin = EXCLUDED.origin,
			image_thumbnail = EXCLUDED.image_thumbnail,
			image_mobile = EXCLUDED.image_mobile,
			image_tablet = EXCLUDED.image_tablet,
			image_desktop = EXCLUDED.image_desktop,
			updated_at = now()`
)

// UpsertProducts writes products and their categories in a single batch.
// Categories are created with their id as display name when missing.
func (r *ProductRepository) UpsertProducts(ctx context.Context, items []product.Product) error {
	if len(items) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	seen := make(map[string]struct{})
	for _, p := range items {
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		b.Queue(upsertCategorySQL, p.Category, p.Category)
	}
	for _, p := range items {
		currency := p.Currency
		if currency == "" {
			currency = "USD"
		}
		b.Queue(upsertProductSQL,
			p.ID, p.Name, p.Price, currency, p.Category, p.Origin,
			p.Image.Thumbnail, p.Image.Mobile, p.Image.Tablet, p.Image.Desktop,
		)
	}

	if err := r.pool.SendBatch(ctx, b).Close(); err != nil {
		return errors.Wrapf(err, "upsert %d products", len(items))
	}
	return nil
}
