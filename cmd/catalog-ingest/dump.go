package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"

	"github.com/xenking/kart-feed/internal/catalog"
	"github.com/xenking/kart-feed/internal/domain/product"
)

// maxLine bounds a single JSON line.
const maxLine = 1 << 20

// streamDump opens a product dump, gzip-compressed when the name ends in
// .gz, and calls fn for each decoded product. Blank lines are skipped.
func streamDump(ctx context.Context, path string, fn func(product.Product) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}
	return scanProducts(ctx, r, fn)
}

func scanProducts(ctx context.Context, r io.Reader, fn func(product.Product) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++
		raw := scanner.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		p, err := catalog.DecodeProduct(jx.DecodeBytes(raw))
		if err != nil {
			return errors.Wrapf(err, "line %d", line)
		}
		if p.Category == "" {
			return errors.Errorf("line %d: product %q has no category", line, p.ID)
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "scan")
	}
	return nil
}
