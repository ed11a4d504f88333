package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/bakery-inventory/internal/domain/order"
	"github.com/xenking/bakery-inventory/internal/domain/product"
	"github.com/xenking/bakery-inventory/internal/domain/stock"
)

const (
	lockProductSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1 FOR UPDATE`

	setProductStockSQL = `UPDATE products SET stock = $2, updated_at = $3 WHERE id = $1`

	insertMovementSQL = `INSERT INTO stock_movements
		(id, product_id, type, quantity, previous_stock, new_stock, reason, reference, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	activeReservedSQL = `SELECT COALESCE(SUM(quantity), 0) FROM stock_reservations
		WHERE product_id = $1 AND expires_at > $2 AND ($3 = '' OR session_id <> $3)`

	upsertReservationSQL = `INSERT INTO stock_reservations
		(id, product_id, session_id, quantity, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (product_id, session_id) DO UPDATE
		SET quantity = EXCLUDED.quantity, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`

	deleteReservationsSQL = `DELETE FROM stock_reservations
		WHERE session_id = $1 AND ($2 = '' OR product_id = $2)`

	insertOrderSQL = `INSERT INTO orders
		(id, user_id, session_id, status, total, payment_method, notes,
		 stock_committed_at, stock_shortfall, cancelled_at, cancel_reason, cancelled_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	lockOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	updateOrderSQL = `UPDATE orders SET status = $2, total = $3, payment_method = $4, notes = $5,
		stock_committed_at = $6, stock_shortfall = $7, cancelled_at = $8, cancel_reason = $9, cancelled_by = $10,
		updated_at = $11
		WHERE id = $1`

	insertItemSQL = `INSERT INTO order_items (id, order_id, product_id, quantity, unit_price, variation, line_no)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	deleteItemsSQL    = `DELETE FROM order_items WHERE order_id = $1`
	deletePaymentSQL  = `DELETE FROM payments WHERE order_id = $1`
	deleteOrderRowSQL = `DELETE FROM orders WHERE id = $1`

	getPaymentSQL = `SELECT order_id, status, amount, currency, transaction_id, response_code, created_at, updated_at
		FROM payments WHERE order_id = $1`

	upsertPaymentSQL = `INSERT INTO payments
		(order_id, status, amount, currency, transaction_id, response_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (order_id) DO UPDATE
		SET status = EXCLUDED.status, amount = EXCLUDED.amount, currency = EXCLUDED.currency,
		    transaction_id = EXCLUDED.transaction_id, response_code = EXCLUDED.response_code,
		    updated_at = EXCLUDED.updated_at`

	netMovementsSQL = `SELECT product_id, SUM(quantity) FROM stock_movements
		WHERE reference = $1 GROUP BY product_id`
)

// Tx implements order.Tx, and with it stock.Tx, over an open transaction.
type Tx struct {
	q querier
}

var _ order.Tx = (*Tx)(nil)

func (t *Tx) LockProduct(ctx context.Context, id string) (*product.Product, error) {
	rows, err := t.q.Query(ctx, lockProductSQL, id)
	if err != nil {
		return nil, fmt.Errorf("locking product %q: %w", id, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("product %q: %w", id, product.ErrNotFound)
		}
		return nil, fmt.Errorf("locking product %q: %w", id, err)
	}
	return &p, nil
}

func (t *Tx) SetProductStock(ctx context.Context, id string, n int, at time.Time) error {
	tag, err := t.q.Exec(ctx, setProductStockSQL, id, n, at)
	if err != nil {
		return fmt.Errorf("setting stock of %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product %q: %w", id, product.ErrNotFound)
	}
	return nil
}

func (t *Tx) InsertMovement(ctx context.Context, m *stock.Movement) error {
	_, err := t.q.Exec(ctx, insertMovementSQL,
		m.ID, m.ProductID, string(m.Type), m.Quantity, m.PreviousStock, m.NewStock,
		m.Reason, m.Reference, m.ActorID, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting movement for %q: %w", m.ProductID, err)
	}
	return nil
}

func (t *Tx) ActiveReserved(ctx context.Context, productID, excludeSession string, now time.Time) (int, error) {
	return activeReserved(ctx, t.q, productID, excludeSession, now)
}

func (t *Tx) UpsertReservation(ctx context.Context, r *stock.Reservation) error {
	_, err := t.q.Exec(ctx, upsertReservationSQL,
		r.ID, r.ProductID, r.SessionID, r.Quantity, r.ExpiresAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting reservation %q/%q: %w", r.ProductID, r.SessionID, err)
	}
	return nil
}

func (t *Tx) DeleteReservations(ctx context.Context, sessionID, productID string) (int, error) {
	tag, err := t.q.Exec(ctx, deleteReservationsSQL, sessionID, productID)
	if err != nil {
		return 0, fmt.Errorf("deleting reservations of %q: %w", sessionID, err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *Tx) InsertOrder(ctx context.Context, o *order.Order) error {
	_, err := t.q.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID, o.SessionID, string(o.Status), o.Total, string(o.PaymentMethod), o.Notes,
		o.StockCommittedAt, o.StockShortfall, o.CancelledAt, o.CancelReason, o.CancelledBy, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return t.insertItems(ctx, o.ID, o.Items)
}

func (t *Tx) LockOrder(ctx context.Context, id string) (*order.Order, error) {
	rows, err := t.q.Query(ctx, lockOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("locking order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("locking order %q: %w", id, err)
	}
	o.Items, err = listItems(ctx, t.q, id)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *Tx) UpdateOrder(ctx context.Context, o *order.Order) error {
	tag, err := t.q.Exec(ctx, updateOrderSQL,
		o.ID, string(o.Status), o.Total, string(o.PaymentMethod), o.Notes,
		o.StockCommittedAt, o.StockShortfall, o.CancelledAt, o.CancelReason, o.CancelledBy, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (t *Tx) ReplaceItems(ctx context.Context, orderID string, items []order.Item) error {
	if _, err := t.q.Exec(ctx, deleteItemsSQL, orderID); err != nil {
		return fmt.Errorf("deleting items of order %q: %w", orderID, err)
	}
	return t.insertItems(ctx, orderID, items)
}

func (t *Tx) insertItems(ctx context.Context, orderID string, items []order.Item) error {
	for i, it := range items {
		_, err := t.q.Exec(ctx, insertItemSQL,
			it.ID, orderID, it.ProductID, it.Quantity, it.UnitPrice, it.Variation, i,
		)
		if err != nil {
			return fmt.Errorf("inserting item %q of order %q: %w", it.ProductID, orderID, err)
		}
	}
	return nil
}

// DeleteOrder removes the payment and items before the order row so the
// foreign keys never dangle.
func (t *Tx) DeleteOrder(ctx context.Context, id string) error {
	if _, err := t.q.Exec(ctx, deletePaymentSQL, id); err != nil {
		return fmt.Errorf("deleting payment of order %q: %w", id, err)
	}
	if _, err := t.q.Exec(ctx, deleteItemsSQL, id); err != nil {
		return fmt.Errorf("deleting items of order %q: %w", id, err)
	}
	tag, err := t.q.Exec(ctx, deleteOrderRowSQL, id)
	if err != nil {
		return fmt.Errorf("deleting order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (t *Tx) GetPayment(ctx context.Context, orderID string) (*order.Payment, error) {
	rows, err := t.q.Query(ctx, getPaymentSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("getting payment of order %q: %w", orderID, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("getting payment of order %q: %w", orderID, err)
	}
	return &p, nil
}

func (t *Tx) UpsertPayment(ctx context.Context, p *order.Payment) error {
	_, err := t.q.Exec(ctx, upsertPaymentSQL,
		p.OrderID, string(p.Status), p.Amount, p.Currency, p.TransactionID, p.ResponseCode,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting payment of order %q: %w", p.OrderID, err)
	}
	return nil
}

func (t *Tx) NetMovements(ctx context.Context, reference string) (map[string]int, error) {
	rows, err := t.q.Query(ctx, netMovementsSQL, reference)
	if err != nil {
		return nil, fmt.Errorf("summing movements of %q: %w", reference, err)
	}
	defer rows.Close()

	net := make(map[string]int)
	for rows.Next() {
		var (
			productID string
			sum       int64
		)
		if err := rows.Scan(&productID, &sum); err != nil {
			return nil, fmt.Errorf("scanning movement sum: %w", err)
		}
		net[productID] = int(sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("summing movements of %q: %w", reference, err)
	}
	return net, nil
}

func scanPayment(row pgx.CollectableRow) (order.Payment, error) {
	var (
		p      order.Payment
		status string
	)
	err := row.Scan(
		&p.OrderID, &status, &p.Amount, &p.Currency, &p.TransactionID, &p.ResponseCode,
		&p.CreatedAt, &p.UpdatedAt,
	)
	p.Status = order.PaymentStatus(status)
	return p, err
}
