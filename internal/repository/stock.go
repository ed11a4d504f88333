package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xenking/bakery-inventory/internal/domain/product"
	"github.com/xenking/bakery-inventory/internal/domain/stock"
)

const (
	listMovementsSQL = `SELECT id, product_id, type, quantity, previous_stock, new_stock, reason, reference, actor_id, created_at
		FROM stock_movements WHERE product_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2`

	deleteExpiredReservationsSQL = `DELETE FROM stock_reservations WHERE expires_at <= $1`
)

var _ stock.Store = (*StockStore)(nil)

// StockStore implements stock.Store backed by PostgreSQL.
type StockStore struct {
	db *DB
}

// InTx runs fn in a transaction.
func (s *StockStore) InTx(ctx context.Context, fn func(ctx context.Context, tx stock.Tx) error) error {
	return s.db.inTx(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

// GetProducts returns the products that exist among ids.
func (s *StockStore) GetProducts(ctx context.Context, ids []string) ([]product.Product, error) {
	return getProducts(ctx, s.db.pool, ids)
}

// ActiveReserved sums unexpired holds on a product.
func (s *StockStore) ActiveReserved(ctx context.Context, productID, excludeSession string, now time.Time) (int, error) {
	return activeReserved(ctx, s.db.pool, productID, excludeSession, now)
}

// ListMovements returns the newest movements of a product first.
func (s *StockStore) ListMovements(ctx context.Context, productID string, limit int) ([]stock.Movement, error) {
	rows, err := s.db.pool.Query(ctx, listMovementsSQL, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing movements of %q: %w", productID, err)
	}
	return pgx.CollectRows(rows, scanMovement)
}

// DeleteExpiredReservations removes holds that expired at or before the cutoff.
func (s *StockStore) DeleteExpiredReservations(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.db.pool.Exec(ctx, deleteExpiredReservationsSQL, before)
	if err != nil {
		return 0, fmt.Errorf("deleting expired reservations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func activeReserved(ctx context.Context, q querier, productID, excludeSession string, now time.Time) (int, error) {
	rows, err := q.Query(ctx, activeReservedSQL, productID, now, excludeSession)
	if err != nil {
		return 0, fmt.Errorf("summing reservations of %q: %w", productID, err)
	}
	sum, err := pgx.CollectExactlyOneRow(rows, pgx.RowTo[int64])
	if err != nil {
		return 0, fmt.Errorf("summing reservations of %q: %w", productID, err)
	}
	return int(sum), nil
}

func scanMovement(row pgx.CollectableRow) (stock.Movement, error) {
	var (
		m               stock.Movement
		typ             string
		qty, prev, next int32
	)
	err := row.Scan(
		&m.ID, &m.ProductID, &typ, &qty, &prev, &next,
		&m.Reason, &m.Reference, &m.ActorID, &m.CreatedAt,
	)
	m.Type = stock.MovementType(typ)
	m.Quantity = int(qty)
	m.PreviousStock = int(prev)
	m.NewStock = int(next)
	return m, err
}
