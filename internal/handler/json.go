package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-feed/internal/domain/product"
	"github.com/xenking/kart-feed/internal/feed"
	"github.com/xenking/kart-feed/internal/viewport"
)

func writeJSON(w http.ResponseWriter, status int, fn func(enc *jx.Encoder)) {
	enc := jx.GetEncoder()
	defer jx.PutEncoder(enc)
	fn(enc)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status is already written; a failed write means the client left.
	_, _ = w.Write(enc.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(enc *jx.Encoder) {
		enc.Obj(func(enc *jx.Encoder) {
			enc.Field("code", func(enc *jx.Encoder) { enc.Int(status) })
			enc.Field("message", func(enc *jx.Encoder) { enc.Str(msg) })
		})
	})
}

func encodeCategory(enc *jx.Encoder, c product.Category) {
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("id", func(enc *jx.Encoder) { enc.Str(c.ID) })
		enc.Field("name", func(enc *jx.Encoder) { enc.Str(c.Name) })
	})
}

func (h *Handler) encodeProduct(enc *jx.Encoder, p product.Product) {
	base := h.imageBaseURL
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("id", func(enc *jx.Encoder) { enc.Str(p.ID) })
		enc.Field("name", func(enc *jx.Encoder) { enc.Str(p.Name) })
		enc.Field("price", func(enc *jx.Encoder) { enc.Num(jx.Num(p.Price.String())) })
		if p.Currency != "" {
			enc.Field("currency", func(enc *jx.Encoder) { enc.Str(p.Currency) })
		}
		enc.Field("category", func(enc *jx.Encoder) { enc.Str(p.Category) })
		if p.Origin != "" {
			enc.Field("origin", func(enc *jx.Encoder) { enc.Str(p.Origin) })
		}
		enc.Field("image", func(enc *jx.Encoder) {
			enc.Obj(func(enc *jx.Encoder) {
				enc.Field("thumbnail", func(enc *jx.Encoder) { enc.Str(base + p.Image.Thumbnail) })
				enc.Field("mobile", func(enc *jx.Encoder) { enc.Str(base + p.Image.Mobile) })
				enc.Field("tablet", func(enc *jx.Encoder) { enc.Str(base + p.Image.Tablet) })
				enc.Field("desktop", func(enc *jx.Encoder) { enc.Str(base + p.Image.Desktop) })
			})
		})
	})
}

func encodeKey(enc *jx.Encoder, k feed.Key) {
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("value", func(enc *jx.Encoder) { enc.Str(k.Value) })
		enc.Field("maxPrice", func(enc *jx.Encoder) {
			if k.MaxPrice == "" {
				enc.Null()
				return
			}
			enc.Num(jx.Num(k.MaxPrice))
		})
	})
}

func encodeScrollCommand(enc *jx.Encoder, cmd viewport.ScrollCommand) {
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("surface", func(enc *jx.Encoder) { enc.Str(cmd.SurfaceID) })
		enc.Field("offset", func(enc *jx.Encoder) { enc.Float64(cmd.Offset) })
	})
}

func (h *Handler) encodeSnapshot(enc *jx.Encoder, s feed.Snapshot, scroll *viewport.ScrollCommand) {
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("view", func(enc *jx.Encoder) { enc.Str(string(s.View)) })
		enc.Field("key", func(enc *jx.Encoder) { encodeKey(enc, s.Key) })
		enc.Field("items", func(enc *jx.Encoder) {
			enc.Arr(func(enc *jx.Encoder) {
				for _, p := range s.Items {
					h.encodeProduct(enc, p)
				}
			})
		})
		enc.Field("page", func(enc *jx.Encoder) { enc.Int(s.Page) })
		enc.Field("hasMore", func(enc *jx.Encoder) { enc.Bool(s.HasMore) })
		enc.Field("loading", func(enc *jx.Encoder) { enc.Bool(s.Loading) })
		enc.Field("loadingMore", func(enc *jx.Encoder) { enc.Bool(s.LoadingMore) })
		enc.Field("error", func(enc *jx.Encoder) {
			if s.Error == "" {
				enc.Null()
				return
			}
			enc.Str(s.Error)
		})
		enc.Field("scrollOffset", func(enc *jx.Encoder) { enc.Float64(s.ScrollOffset) })
		enc.Field("mounted", func(enc *jx.Encoder) { enc.Bool(s.Mounted) })
		enc.Field("sentinel", func(enc *jx.Encoder) {
			if s.Sentinel == "" {
				enc.Null()
				return
			}
			enc.Str(s.Sentinel)
		})
		if scroll != nil {
			enc.Field("scrollTo", func(enc *jx.Encoder) { encodeScrollCommand(enc, *scroll) })
		}
	})
}

type keyRequest struct {
	Value    string
	MaxPrice decimal.NullDecimal
}

func decodeKeyRequest(body []byte) (keyRequest, error) {
	var req keyRequest
	d := jx.DecodeBytes(body)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "value":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "value")
			}
			req.Value = v
		case "maxPrice":
			p, err := decodeOptionalDecimal(d)
			if err != nil {
				return errors.Wrap(err, "maxPrice")
			}
			req.MaxPrice = p
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return keyRequest{}, err
	}
	if req.MaxPrice.Valid && req.MaxPrice.Decimal.IsNegative() {
		return keyRequest{}, errors.New("maxPrice must not be negative")
	}
	return req, nil
}

// decodeOptionalDecimal reads a decimal given as a JSON number, a numeric
// string or null.
func decodeOptionalDecimal(d *jx.Decoder) (decimal.NullDecimal, error) {
	switch d.Next() {
	case jx.Null:
		return decimal.NullDecimal{}, d.Null()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		if s == "" {
			return decimal.NullDecimal{}, nil
		}
		v, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		return decimal.NewNullDecimal(v), nil
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		v, err := decimal.NewFromString(n.String())
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		return decimal.NewNullDecimal(v), nil
	default:
		return decimal.NullDecimal{}, errors.Errorf("unexpected %s", d.Next())
	}
}

func decodeReport(body []byte) (viewport.Report, error) {
	var rep viewport.Report
	d := jx.DecodeBytes(body)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "surfaces":
			return d.Arr(func(d *jx.Decoder) error {
				m, err := decodeSurface(d)
				if err != nil {
					return err
				}
				rep.Surfaces = append(rep.Surfaces, m)
				return nil
			})
		case "sentinel":
			if d.Next() == jx.Null {
				return d.Null()
			}
			s, err := decodeSentinel(d)
			if err != nil {
				return errors.Wrap(err, "sentinel")
			}
			rep.Sentinel = &s
			return nil
		default:
			return d.Skip()
		}
	})
	return rep, err
}

func decodeSurface(d *jx.Decoder) (viewport.SurfaceMetrics, error) {
	m := viewport.SurfaceMetrics{Overflow: viewport.OverflowVisible}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			m.ID, err = d.Str()
		case "kind":
			var s string
			if s, err = d.Str(); err != nil {
				return err
			}
			k, ok := viewport.ParseKind(s)
			if !ok {
				return errors.Errorf("unknown surface kind %q", s)
			}
			m.Kind = k
		case "overflow":
			var s string
			s, err = d.Str()
			m.Overflow = viewport.Overflow(s)
		case "scrollTop":
			m.ScrollTop, err = d.Float64()
		case "scrollHeight":
			m.ScrollHeight, err = d.Float64()
		case "clientHeight":
			m.ClientHeight, err = d.Float64()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return m, errors.Wrap(err, "surface")
	}
	if m.ID == "" {
		return m, errors.New("surface: id is required")
	}
	return m, nil
}

func decodeSentinel(d *jx.Decoder) (viewport.SentinelMetrics, error) {
	var s viewport.SentinelMetrics
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			s.ID, err = d.Str()
		case "top":
			s.Top, err = d.Float64()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return s, err
	}
	if s.ID == "" {
		return s, errors.New("id is required")
	}
	return s, nil
}
