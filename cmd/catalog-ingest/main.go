package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-feed/internal/domain/product"
	"github.com/xenking/kart-feed/internal/storage/postgres"
)

const progressEvery = 100_000

func main() {
	var (
		dataDir     string
		databaseURL string
		batchSize   int
		workers     int
	)

	flag.StringVar(&dataDir, "data-dir", "db/seed", "directory containing *.jsonl or *.jsonl.gz product dumps")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&batchSize, "batch-size", 1000, "products per upsert batch")
	flag.IntVar(&workers, "workers", 4, "files ingested concurrently")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL, batchSize, workers); err != nil {
		slog.Error("catalog ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string, batchSize, workers int) error {
	files, err := dumpFiles(dataDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		slog.Info("no product dumps found", slog.String("dir", dataDir))
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return err
	}
	repo := postgres.NewProductRepository(pool)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for _, f := range files {
		g.Go(func() error {
			n, err := ingestFile(ctx, f, batchSize, repo.UpsertProducts)
			if err != nil {
				return errors.Wrapf(err, "ingest %s", filepath.Base(f))
			}
			slog.Info("file complete",
				slog.String("file", filepath.Base(f)),
				slog.Int("products", n),
			)
			return nil
		})
	}
	return g.Wait()
}

// dumpFiles lists product dumps in dir in a stable order.
func dumpFiles(dir string) ([]string, error) {
	var files []string
	for _, pattern := range []string{"*.jsonl", "*.jsonl.gz"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, errors.Wrapf(err, "glob %s", pattern)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}

// ingestFile streams one dump and writes it through upsert in batches of
// batchSize. It returns the number of products written.
func ingestFile(
	ctx context.Context,
	path string,
	batchSize int,
	upsert func(context.Context, []product.Product) error,
) (int, error) {
	if batchSize < 1 {
		batchSize = 1
	}
	batch := make([]product.Product, 0, batchSize)
	total := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := upsert(ctx, batch); err != nil {
			return err
		}
		total += len(batch)
		if total%progressEvery < len(batch) {
			slog.Info("ingest progress",
				slog.String("file", filepath.Base(path)),
				slog.Int("products", total),
			)
		}
		batch = batch[:0]
		return nil
	}

	err := streamDump(ctx, path, func(p product.Product) error {
		batch = append(batch, p)
		if len(batch) < batchSize {
			return nil
		}
		return flush()
	})
	if err != nil {
		return total, err
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}
