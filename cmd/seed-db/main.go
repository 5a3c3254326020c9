// Command seed-db bootstraps the catalog: categories and their items from
// a JSON file, optionally gzip-compressed. Re-running it adds the listed
// pieces again; it is a bootstrap tool, not a sync.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/gallery-orders/internal/domain/item"
	"github.com/xenking/gallery-orders/internal/storage/postgres"
)

type categoryJSON struct {
	Name  string     `json:"name"`
	Items []itemJSON `json:"items"`
}

type itemJSON struct {
	Name string `json:"name"`
	// Price is null for pieces on display but not for sale.
	Price *decimal.Decimal `json:"price"`
}

func main() {
	var (
		databaseURL string
		catalogFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file (.gz supported)")
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

	if err := run(ctx, databaseURL, catalogFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	catalog, err := readCatalog(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog")
	}

	return seedCatalog(ctx, pool, catalog)
}

// readCatalog parses the catalog file, transparently decompressing .gz.
func readCatalog(path string) ([]categoryJSON, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog file")
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip reader")
		}
		defer gz.Close()
		r = gz
	}

	var catalog []categoryJSON
	if err := json.NewDecoder(r).Decode(&catalog); err != nil {
		return nil, errors.Wrap(err, "parse catalog JSON")
	}
	return catalog, nil
}

// seedCatalog creates categories in file order, then loads their items.
// Items within a category stay sequential so their ordering index follows
// the file; independent categories load concurrently.
func seedCatalog(ctx context.Context, pool *pgxpool.Pool, catalog []categoryJSON) error {
	categories := postgres.NewCategoryRepository(pool)
	items := postgres.NewItemRepository(pool)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, c := range catalog {
		cat, err := ensureCategory(ctx, categories, c.Name)
		if err != nil {
			return err
		}

		g.Go(func() error {
			for _, it := range c.Items {
				rec := &item.Item{
					Name:       it.Name,
					Price:      it.Price,
					CategoryID: cat.ID,
				}
				if err := items.Create(ctx, rec); err != nil {
					return errors.Wrapf(err, "create item %q", it.Name)
				}
				slog.Info("created item",
					slog.Int64("id", rec.ID),
					slog.String("name", rec.Name),
					slog.String("category", c.Name),
				)
			}
			return nil
		})
	}

	return g.Wait()
}

func ensureCategory(ctx context.Context, categories *postgres.CategoryRepository, name string) (*item.Category, error) {
	cat, err := categories.FindByName(ctx, name)
	if err == nil {
		return cat, nil
	}
	if !errors.Is(err, item.ErrNotFound) {
		return nil, errors.Wrapf(err, "find category %q", name)
	}

	cat = &item.Category{Name: name}
	if err := categories.Create(ctx, cat); err != nil {
		return nil, err
	}
	slog.Info("created category", slog.Int64("id", cat.ID), slog.String("name", name))
	return cat, nil
}
