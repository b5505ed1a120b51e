package catalog

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-feed/internal/domain/product"
)

// decodePage parses {"items": [...], "total": n, "exhausted": bool}.
func decodePage(body []byte) (product.Page, error) {
	var page product.Page
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				p, err := DecodeProduct(d)
				if err != nil {
					return err
				}
				page.Products = append(page.Products, p)
				return nil
			})
		case "total":
			n, err := d.Int()
			page.Total = n
			return err
		case "exhausted":
			b, err := d.Bool()
			page.Exhausted = b
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return product.Page{}, errors.Wrap(err, "decode page")
	}
	return page, nil
}

// DecodeProduct reads one product object. The id is required and the price
// may be a JSON number or a numeric string.
func DecodeProduct(d *jx.Decoder) (product.Product, error) {
	var p product.Product
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "price":
			p.Price, err = decodePrice(d)
		case "currency":
			p.Currency, err = d.Str()
		case "category":
			p.Category, err = d.Str()
		case "origin":
			p.Origin, err = d.Str()
		case "image":
			err = d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "thumbnail":
					p.Image.Thumbnail, err = d.Str()
				case "mobile":
					p.Image.Mobile, err = d.Str()
				case "tablet":
					p.Image.Tablet, err = d.Str()
				case "desktop":
					p.Image.Desktop, err = d.Str()
				default:
					err = d.Skip()
				}
				return err
			})
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err != nil {
		return p, errors.Wrap(err, "product")
	}
	if p.ID == "" {
		return p, errors.New("product: missing id")
	}
	return p, nil
}

// decodePrice accepts a JSON number or a numeric string.
func decodePrice(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(n.String())
	}
}

func decodeCategories(body []byte) ([]product.Category, error) {
	var cats []product.Category
	err := jx.DecodeBytes(body).Arr(func(d *jx.Decoder) error {
		var c product.Category
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				c.ID, err = d.Str()
			case "name":
				c.Name, err = d.Str()
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		if c.Name == "" {
			c.Name = c.ID
		}
		cats = append(cats, c)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode categories")
	}
	return cats, nil
}
