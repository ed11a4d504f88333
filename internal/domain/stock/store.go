package stock

import (
	"context"
	"time"

	"github.com/xenking/bakery-inventory/internal/domain/product"
)

// Tx is the set of row operations the ledger and the reservation store need
// inside one database transaction.
type Tx interface {
	// LockProduct reads a product and holds its row lock until the
	// transaction ends. It returns product.ErrNotFound for unknown ids.
	LockProduct(ctx context.Context, id string) (*product.Product, error)
	SetProductStock(ctx context.Context, id string, stock int, at time.Time) error
	InsertMovement(ctx context.Context, m *Movement) error

	// ActiveReserved sums holds on productID that expire after now, skipping
	// the hold owned by excludeSession when it is non-empty.
	ActiveReserved(ctx context.Context, productID, excludeSession string, now time.Time) (int, error)
	UpsertReservation(ctx context.Context, r *Reservation) error
	// DeleteReservations removes the session's holds. An empty productID
	// removes every hold of the session.
	DeleteReservations(ctx context.Context, sessionID, productID string) (int, error)
}

// Store provides transactions plus the read paths that do not need locks.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetProducts(ctx context.Context, ids []string) ([]product.Product, error)
	ActiveReserved(ctx context.Context, productID, excludeSession string, now time.Time) (int, error)
	ListMovements(ctx context.Context, productID string, limit int) ([]Movement, error)
	DeleteExpiredReservations(ctx context.Context, before time.Time) (int, error)
}
