package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/bakery-inventory/internal/domain/order"
)

const orderColumns = `id, user_id, session_id, status, total, payment_method, notes,
	stock_committed_at, stock_shortfall, cancelled_at, cancel_reason, cancelled_by, created_at, updated_at`

const (
	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersByStatusSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE status = $1 AND created_at < $2 ORDER BY created_at`

	listItemsSQL = `SELECT id, product_id, quantity, unit_price, variation
		FROM order_items WHERE order_id = $1 ORDER BY line_no`
)

var _ order.Store = (*OrderStore)(nil)

// OrderStore implements order.Store backed by PostgreSQL.
type OrderStore struct {
	db *DB
}

// InTx runs fn in a transaction.
func (s *OrderStore) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return s.db.inTx(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

// GetOrder returns an order with its items.
func (s *OrderStore) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	rows, err := s.db.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o.Items, err = listItems(ctx, s.db.pool, id)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListByStatus returns orders in status created before the cutoff, oldest
// first, without their items.
func (s *OrderStore) ListByStatus(ctx context.Context, status order.Status, createdBefore time.Time) ([]order.Order, error) {
	rows, err := s.db.pool.Query(ctx, listOrdersByStatusSQL, string(status), createdBefore)
	if err != nil {
		return nil, fmt.Errorf("listing %s orders: %w", status, err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

func listItems(ctx context.Context, q querier, orderID string) ([]order.Item, error) {
	rows, err := q.Query(ctx, listItemsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing items of order %q: %w", orderID, err)
	}
	items, err := pgx.CollectRows(rows, scanItem)
	if err != nil {
		return nil, fmt.Errorf("listing items of order %q: %w", orderID, err)
	}
	return items, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o              order.Order
		status, method string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.SessionID, &status, &o.Total, &method, &o.Notes,
		&o.StockCommittedAt, &o.StockShortfall, &o.CancelledAt, &o.CancelReason, &o.CancelledBy, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	o.PaymentMethod = order.PaymentMethod(method)
	return o, err
}

func scanItem(row pgx.CollectableRow) (order.Item, error) {
	var (
		it  order.Item
		qty int32
	)
	err := row.Scan(&it.ID, &it.ProductID, &qty, &it.UnitPrice, &it.Variation)
	it.Quantity = int(qty)
	return it, err
}
