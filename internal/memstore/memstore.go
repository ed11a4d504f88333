// Package memstore is an in-memory implementation of the stock, order and
// product stores. Transactions run one at a time against a private copy of
// the data, which replaces the shared copy only when the callback succeeds.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xenking/bakery-inventory/internal/domain/order"
	"github.com/xenking/bakery-inventory/internal/domain/product"
	"github.com/xenking/bakery-inventory/internal/domain/stock"
)

type resKey struct {
	productID string
	sessionID string
}

type state struct {
	products     map[string]product.Product
	movements    []stock.Movement
	reservations map[resKey]stock.Reservation
	orders       map[string]order.Order
	items        map[string][]order.Item
	payments     map[string]order.Payment
}

func newState() *state {
	return &state{
		products:     make(map[string]product.Product),
		reservations: make(map[resKey]stock.Reservation),
		orders:       make(map[string]order.Order),
		items:        make(map[string][]order.Item),
		payments:     make(map[string]order.Payment),
	}
}

func (s *state) clone() *state {
	c := &state{
		products:     maps.Clone(s.products),
		movements:    slices.Clone(s.movements),
		reservations: maps.Clone(s.reservations),
		orders:       maps.Clone(s.orders),
		items:        make(map[string][]order.Item, len(s.items)),
		payments:     maps.Clone(s.payments),
	}
	for id, items := range s.items {
		c.items[id] = slices.Clone(items)
	}
	return c
}

// DB holds the shared state.
type DB struct {
	mu sync.Mutex
	st *state
}

// New returns an empty DB.
func New() *DB {
	return &DB{st: newState()}
}

// Stock returns a stock.Store view of the DB.
func (db *DB) Stock() *StockStore { return &StockStore{db: db} }

// Orders returns an order.Store view of the DB.
func (db *DB) Orders() *OrderStore { return &OrderStore{db: db} }

// Products returns a product.Repository view of the DB.
func (db *DB) Products() *ProductRepository { return &ProductRepository{db: db} }

// PutProduct inserts or replaces a product including its stock. It bypasses
// the ledger and exists for seeding tests.
func (db *DB) PutProduct(p product.Product) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.st.products[p.ID] = p
}

// Product returns a snapshot of one product.
func (db *DB) Product(id string) (product.Product, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	p, ok := db.st.products[id]
	return p, ok
}

// AllMovements returns every ledger movement in insertion order.
func (db *DB) AllMovements() []stock.Movement {
	db.mu.Lock()
	defer db.mu.Unlock()
	return slices.Clone(db.st.movements)
}

// Reservations returns every stored hold, expired ones included.
func (db *DB) Reservations() []stock.Reservation {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := slices.Collect(maps.Values(db.st.reservations))
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// PutReservation stores a hold as is, expired or not.
func (db *DB) PutReservation(r stock.Reservation) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.st.reservations[resKey{productID: r.ProductID, sessionID: r.SessionID}] = r
}

// Payment returns the payment of an order.
func (db *DB) Payment(orderID string) (order.Payment, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	p, ok := db.st.payments[orderID]
	return p, ok
}

// PutOrder inserts or replaces an order and its items. It exists for seeding
// tests with orders in arbitrary states.
func (db *DB) PutOrder(o order.Order) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.st.items[o.ID] = slices.Clone(o.Items)
	o.Items = nil
	db.st.orders[o.ID] = o
}

func (db *DB) inTx(fn func(tx *Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx := &Tx{st: db.st.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	db.st = tx.st
	return nil
}

func (db *DB) read(fn func(st *state)) {
	db.mu.Lock()
	defer db.mu.Unlock()
	fn(db.st)
}

func (s *state) activeReserved(productID, excludeSession string, now time.Time) int {
	sum := 0
	for k, r := range s.reservations {
		if k.productID != productID {
			continue
		}
		if excludeSession != "" && k.sessionID == excludeSession {
			continue
		}
		if r.Active(now) {
			sum += r.Quantity
		}
	}
	return sum
}

func (s *state) order(id string) (*order.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	o.Items = slices.Clone(s.items[id])
	return &o, nil
}

// StockStore implements stock.Store.
type StockStore struct {
	db *DB
}

var _ stock.Store = (*StockStore)(nil)

// InTx runs fn in a transaction.
func (s *StockStore) InTx(ctx context.Context, fn func(ctx context.Context, tx stock.Tx) error) error {
	return s.db.inTx(func(tx *Tx) error { return fn(ctx, tx) })
}

// GetProducts returns the products that exist among ids.
func (s *StockStore) GetProducts(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	s.db.read(func(st *state) {
		for _, id := range ids {
			if p, ok := st.products[id]; ok {
				out = append(out, p)
			}
		}
	})
	return out, nil
}

// ActiveReserved sums unexpired holds.
func (s *StockStore) ActiveReserved(_ context.Context, productID, excludeSession string, now time.Time) (int, error) {
	var sum int
	s.db.read(func(st *state) {
		sum = st.activeReserved(productID, excludeSession, now)
	})
	return sum, nil
}

// ListMovements returns the newest movements of a product first.
func (s *StockStore) ListMovements(_ context.Context, productID string, limit int) ([]stock.Movement, error) {
	var out []stock.Movement
	s.db.read(func(st *state) {
		for i := len(st.movements) - 1; i >= 0 && len(out) < limit; i-- {
			if st.movements[i].ProductID == productID {
				out = append(out, st.movements[i])
			}
		}
	})
	return out, nil
}

// DeleteExpiredReservations removes holds that expired at or before the cutoff.
func (s *StockStore) DeleteExpiredReservations(_ context.Context, before time.Time) (int, error) {
	n := 0
	err := s.db.inTx(func(tx *Tx) error {
		for k, r := range tx.st.reservations {
			if !r.ExpiresAt.After(before) {
				delete(tx.st.reservations, k)
				n++
			}
		}
		return nil
	})
	return n, err
}

// OrderStore implements order.Store.
type OrderStore struct {
	db *DB
}

var _ order.Store = (*OrderStore)(nil)

// InTx runs fn in a transaction.
func (s *OrderStore) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return s.db.inTx(func(tx *Tx) error { return fn(ctx, tx) })
}

// GetOrder returns an order with its items.
func (s *OrderStore) GetOrder(_ context.Context, id string) (*order.Order, error) {
	var (
		o   *order.Order
		err error
	)
	s.db.read(func(st *state) {
		o, err = st.order(id)
	})
	return o, err
}

// ListByStatus returns orders in status created before the cutoff, oldest first.
func (s *OrderStore) ListByStatus(_ context.Context, status order.Status, createdBefore time.Time) ([]order.Order, error) {
	var out []order.Order
	s.db.read(func(st *state) {
		for _, o := range st.orders {
			if o.Status == status && o.CreatedAt.Before(createdBefore) {
				out = append(out, o)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ProductRepository implements product.Repository.
type ProductRepository struct {
	db *DB
}

var _ product.Repository = (*ProductRepository)(nil)

// List returns all products ordered by id.
func (r *ProductRepository) List(_ context.Context) ([]product.Product, error) {
	var out []product.Product
	r.db.read(func(st *state) {
		out = slices.Collect(maps.Values(st.products))
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetByID returns one product.
func (r *ProductRepository) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := r.db.Product(id)
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

// GetByIDs returns the products that exist among ids.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	return r.db.Stock().GetProducts(ctx, ids)
}

// Upsert creates or updates catalog fields, leaving stock untouched.
func (r *ProductRepository) Upsert(_ context.Context, p *product.Product) (bool, error) {
	created := false
	err := r.db.inTx(func(tx *Tx) error {
		cur, ok := tx.st.products[p.ID]
		if !ok {
			created = true
			cur = product.Product{ID: p.ID, CreatedAt: time.Now()}
		}
		cur.Name = p.Name
		cur.Price = p.Price
		cur.MinStock = p.MinStock
		cur.IsActive = p.IsActive
		cur.IsAvailable = p.IsAvailable
		cur.UpdatedAt = time.Now()
		tx.st.products[p.ID] = cur
		return nil
	})
	return created, err
}
