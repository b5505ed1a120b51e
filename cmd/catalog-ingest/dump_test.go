package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-feed/internal/domain/product"
)

const dump = `{"id": "1", "name": "Runner", "price": 49.5, "category": "shoes", "origin": "DE"}

{"id": "2", "name": "Desk Lamp", "price": "19.99", "category": "lamps", "image": {"thumbnail": "2-t.jpg"}}
{"id": "3", "name": "Tote", "price": 12, "category": "bags"}
`

func writeDump(t *testing.T, name string, gz bool) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()

	if !gz {
		_, err = f.WriteString(dump)
		require.NoError(t, err)
		return path
	}
	w := pgzip.NewWriter(f)
	_, err = w.Write([]byte(dump))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return path
}

func collect(t *testing.T, path string) []product.Product {
	t.Helper()
	var got []product.Product
	require.NoError(t, streamDump(context.Background(), path, func(p product.Product) error {
		got = append(got, p)
		return nil
	}))
	return got
}

func TestStreamDump(t *testing.T) {
	for _, gz := range []bool{false, true} {
		name := "products.jsonl"
		if gz {
			name += ".gz"
		}
		t.Run(name, func(t *testing.T) {
			got := collect(t, writeDump(t, name, gz))
			require.Len(t, got, 3)
			assert.Equal(t, "Runner", got[0].Name)
			assert.Equal(t, "DE", got[0].Origin)
			assert.True(t, got[1].Price.Equal(decimal.RequireFromString("19.99")))
			assert.Equal(t, "2-t.jpg", got[1].Image.Thumbnail)
			assert.Equal(t, "bags", got[2].Category)
		})
	}
}

func TestScanProducts_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "malformed", in: `{"id": "1", "price": }`, want: "line 1"},
		{name: "missing id", in: "\n" + `{"name": "x", "category": "c"}`, want: "line 2"},
		{name: "missing category", in: `{"id": "7", "name": "x"}`, want: `product "7" has no category`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := scanProducts(context.Background(), strings.NewReader(tt.in), func(product.Product) error { return nil })
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestIngestFile_Batches(t *testing.T) {
	path := writeDump(t, "products.jsonl", false)

	var sizes []int
	n, err := ingestFile(context.Background(), path, 2, func(_ context.Context, items []product.Product) error {
		sizes = append(sizes, len(items))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int{2, 1}, sizes)
}

func TestIngestFile_UpsertError(t *testing.T) {
	path := writeDump(t, "products.jsonl", false)

	n, err := ingestFile(context.Background(), path, 2, func(context.Context, []product.Product) error {
		return errors.New("connection reset")
	})
	require.ErrorContains(t, err, "connection reset")
	assert.Zero(t, n)
}

func TestDumpFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.jsonl.gz", "a.jsonl", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}

	files, err := dumpFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.jsonl", filepath.Base(files[0]))
	assert.Equal(t, "b.jsonl.gz", filepath.Base(files[1]))
}
