package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/bakery-inventory/internal/domain/order"
	"github.com/xenking/bakery-inventory/internal/domain/product"
	"github.com/xenking/bakery-inventory/internal/domain/stock"
)

// Tx implements order.Tx, and with it stock.Tx, over a private state copy.
type Tx struct {
	st *state
}

var _ order.Tx = (*Tx)(nil)

func (tx *Tx) LockProduct(_ context.Context, id string) (*product.Product, error) {
	p, ok := tx.st.products[id]
	if !ok {
		return nil, errors.Wrapf(product.ErrNotFound, "product %s", id)
	}
	return &p, nil
}

func (tx *Tx) SetProductStock(_ context.Context, id string, n int, at time.Time) error {
	p, ok := tx.st.products[id]
	if !ok {
		return errors.Wrapf(product.ErrNotFound, "product %s", id)
	}
	if n < 0 {
		return errors.Errorf("stock of %s would become %d", id, n)
	}
	p.Stock = n
	p.UpdatedAt = at
	tx.st.products[id] = p
	return nil
}

func (tx *Tx) InsertMovement(_ context.Context, m *stock.Movement) error {
	if m.NewStock != m.PreviousStock+m.Quantity {
		return errors.Errorf("movement %s does not balance", m.ID)
	}
	tx.st.movements = append(tx.st.movements, *m)
	return nil
}

func (tx *Tx) ActiveReserved(_ context.Context, productID, excludeSession string, now time.Time) (int, error) {
	return tx.st.activeReserved(productID, excludeSession, now), nil
}

func (tx *Tx) UpsertReservation(_ context.Context, r *stock.Reservation) error {
	k := resKey{productID: r.ProductID, sessionID: r.SessionID}
	if cur, ok := tx.st.reservations[k]; ok {
		cur.Quantity = r.Quantity
		cur.ExpiresAt = r.ExpiresAt
		cur.UpdatedAt = r.UpdatedAt
		tx.st.reservations[k] = cur
		return nil
	}
	tx.st.reservations[k] = *r
	return nil
}

func (tx *Tx) DeleteReservations(_ context.Context, sessionID, productID string) (int, error) {
	n := 0
	for k := range tx.st.reservations {
		if k.sessionID != sessionID {
			continue
		}
		if productID != "" && k.productID != productID {
			continue
		}
		delete(tx.st.reservations, k)
		n++
	}
	return n, nil
}

func (tx *Tx) InsertOrder(_ context.Context, o *order.Order) error {
	if _, ok := tx.st.orders[o.ID]; ok {
		return errors.Errorf("order %s already exists", o.ID)
	}
	row := *o
	row.Items = nil
	tx.st.orders[o.ID] = row
	tx.st.items[o.ID] = slices.Clone(o.Items)
	return nil
}

func (tx *Tx) LockOrder(_ context.Context, id string) (*order.Order, error) {
	return tx.st.order(id)
}

func (tx *Tx) UpdateOrder(_ context.Context, o *order.Order) error {
	if _, ok := tx.st.orders[o.ID]; !ok {
		return order.ErrNotFound
	}
	row := *o
	row.Items = nil
	tx.st.orders[o.ID] = row
	return nil
}

func (tx *Tx) ReplaceItems(_ context.Context, orderID string, items []order.Item) error {
	if _, ok := tx.st.orders[orderID]; !ok {
		return order.ErrNotFound
	}
	tx.st.items[orderID] = slices.Clone(items)
	return nil
}

func (tx *Tx) DeleteOrder(_ context.Context, id string) error {
	if _, ok := tx.st.orders[id]; !ok {
		return order.ErrNotFound
	}
	delete(tx.st.payments, id)
	delete(tx.st.items, id)
	delete(tx.st.orders, id)
	return nil
}

func (tx *Tx) GetPayment(_ context.Context, orderID string) (*order.Payment, error) {
	p, ok := tx.st.payments[orderID]
	if !ok {
		return nil, order.ErrPaymentNotFound
	}
	return &p, nil
}

func (tx *Tx) UpsertPayment(_ context.Context, p *order.Payment) error {
	if _, ok := tx.st.orders[p.OrderID]; !ok {
		return order.ErrNotFound
	}
	tx.st.payments[p.OrderID] = *p
	return nil
}

func (tx *Tx) NetMovements(_ context.Context, reference string) (map[string]int, error) {
	net := make(map[string]int)
	for _, m := range tx.st.movements {
		if m.Reference == reference {
			net[m.ProductID] += m.Quantity
		}
	}
	return net, nil
}
