package app

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/bakery-inventory/internal/domain/cleanup"
	"github.com/xenking/bakery-inventory/internal/domain/order"
	"github.com/xenking/bakery-inventory/internal/domain/stock"
	"github.com/xenking/bakery-inventory/internal/notify"
	"github.com/xenking/bakery-inventory/internal/repository"
)

// services are the domain components shared by the API server and the
// one-shot tools.
type services struct {
	db           *repository.DB
	ledger       *stock.Ledger
	reservations *stock.Reservations
	validator    *stock.Validator
	orders       *order.Service
	reaper       *cleanup.Reaper
}

func newServices(pool *pgxpool.Pool, m *app.Telemetry, cfg *Config, notifier order.Notifier) (*services, error) {
	db := repository.NewDB(pool)
	meter := m.MeterProvider().Meter("github.com/xenking/bakery-inventory")

	ledger, err := stock.NewLedger(db.Stock(), meter)
	if err != nil {
		return nil, errors.Wrap(err, "create ledger")
	}
	reservations := stock.NewReservations(db.Stock(), cfg.Stock.ReservationTTL)
	validator := stock.NewValidator(db.Stock(), cfg.Stock.LowStockThreshold)
	orders := order.NewService(db.Orders(), ledger, reservations, validator, notifier)

	reaper, err := cleanup.NewReaper(orders, reservations, cleanup.Config{
		DraftTTL:             cfg.Reaper.DraftTTL,
		PendingTTL:           cfg.Reaper.PendingTTL,
		ReservationRetention: cfg.Reaper.ReservationRetention,
	}, meter)
	if err != nil {
		return nil, errors.Wrap(err, "create reaper")
	}

	return &services{
		db:           db,
		ledger:       ledger,
		reservations: reservations,
		validator:    validator,
		orders:       orders,
		reaper:       reaper,
	}, nil
}

// openDB connects to PostgreSQL and applies the embedded schema.
func openDB(ctx context.Context, lg *zap.Logger, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := repository.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	lg.Debug("Database ready")
	return pool, nil
}

// Sweep runs one abandoned-order sweep and returns. Orders cancelled by the
// sweep are logged instead of published.
func Sweep(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) (cleanup.SweepResult, error) {
	pool, err := openDB(ctx, lg, cfg.DatabaseURL)
	if err != nil {
		return cleanup.SweepResult{}, err
	}
	defer pool.Close()

	svc, err := newServices(pool, m, cfg, notify.Log{})
	if err != nil {
		return cleanup.SweepResult{}, err
	}
	return svc.reaper.Sweep(ctx), nil
}
