package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/bakery-inventory/db"
	"github.com/xenking/bakery-inventory/internal/domain/product"
	"github.com/xenking/bakery-inventory/internal/domain/stock"
	"github.com/xenking/bakery-inventory/internal/repository"
)

type productJSON struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	MinStock  int             `json:"minStock"`
	Available *bool           `json:"available"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "", "path to products JSON file (default: embedded catalog)")
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

	if err := run(ctx, databaseURL, productsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	data := db.SeedProducts
	if productsFile != "" {
		slog.Info("reading products file", slog.String("path", productsFile))
		if data, err = os.ReadFile(productsFile); err != nil {
			return errors.Wrap(err, "read products file")
		}
	}

	store := repository.NewDB(pool)
	ledger, err := stock.NewLedger(store.Stock(), noop.NewMeterProvider().Meter("seed-db"))
	if err != nil {
		return errors.Wrap(err, "create ledger")
	}

	return seedProducts(ctx, store.Products(), ledger, data)
}

// seedProducts upserts the catalog. Opening stock of newly created products is
// booked as a MANUAL_INCREASE so the ledger explains every unit; products that
// already exist keep their balance.
func seedProducts(ctx context.Context, repo product.Repository, ledger *stock.Ledger, data []byte) error {
	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		available := true
		if p.Available != nil {
			available = *p.Available
		}
		created, err := repo.Upsert(ctx, &product.Product{
			ID:          p.ID,
			Name:        p.Name,
			Price:       p.Price,
			MinStock:    p.MinStock,
			IsActive:    true,
			IsAvailable: available,
		})
		if err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		if created && p.Stock > 0 {
			if _, err := ledger.ApplyMovement(ctx, stock.MovementRequest{
				ProductID: p.ID,
				Type:      stock.MovementManualIncrease,
				Quantity:  p.Stock,
				Reason:    "opening stock",
				ActorID:   "seed",
			}); err != nil {
				return errors.Wrapf(err, "book opening stock for %s", p.ID)
			}
		}

		slog.Info("upserted product",
			slog.String("id", p.ID),
			slog.String("name", p.Name),
			slog.Bool("created", created),
		)
	}

	return nil
}
