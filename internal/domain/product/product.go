package product

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item. Stock is only ever written through the
// stock ledger; every other field is owned by the catalog.
type Product struct {
	ID          string
	Name        string
	Price       decimal.Decimal
	Stock       int
	MinStock    int
	IsActive    bool
	IsAvailable bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Sellable reports whether the product may be ordered at all, regardless of
// the units on hand.
func (p *Product) Sellable() bool {
	return p.IsActive && p.IsAvailable
}

// Repository defines read and catalog-maintenance operations for products.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	// Upsert creates or updates catalog fields. Stock is never written here:
	// new rows start at zero and existing rows keep their ledger balance.
	Upsert(ctx context.Context, p *Product) (created bool, err error)
}
