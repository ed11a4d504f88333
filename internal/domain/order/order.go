package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/bakery-inventory/internal/domain/stock"
)

// Sentinel errors for order operations.
var (
	ErrNotFound        = errors.New("order not found")
	ErrForbidden       = errors.New("forbidden")
	ErrEmptyItems      = errors.New("items required")
	ErrNotModifiable   = errors.New("order items can only be changed while pending")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrStatusChanged   = errors.New("order status changed")
)

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// PaymentMethod is how the customer intends to pay.
type PaymentMethod string

const (
	PaymentOnline       PaymentMethod = "online"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
)

// Order is a customer order and its lifecycle bookkeeping.
type Order struct {
	ID            string
	UserID        string
	SessionID     string
	Status        Status
	Items         []Item
	Total         decimal.Decimal
	PaymentMethod PaymentMethod
	Notes         string
	// StockCommittedAt is set the first time the order's units are taken
	// out of stock. It guards against committing twice.
	StockCommittedAt *time.Time
	// StockShortfall describes the lines stock could not cover when the
	// units were committed. Empty when stock sufficed.
	StockShortfall string
	CancelledAt    *time.Time
	CancelReason   string
	CancelledBy    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Item is one product line of an order, priced when the order was created.
type Item struct {
	ID        string
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	Variation string
}

// StockItems returns the order lines as stock requests, merged per product.
func (o *Order) StockItems() []stock.Item {
	items := make([]stock.Item, len(o.Items))
	for i, it := range o.Items {
		items[i] = stock.Item{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return stock.MergeItems(items)
}

// PaymentStatus is the state of the payment record attached to an order.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// Payment is the one-to-one payment record of an order.
type Payment struct {
	OrderID       string
	Status        PaymentStatus
	Amount        decimal.Decimal
	Currency      string
	TransactionID string
	ResponseCode  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Role names carried by actors.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
	RoleSystem   = "system"
)

// Actor identifies who performs an operation.
type Actor struct {
	UserID string
	Role   string
}

// SystemActor is used by background jobs and gateway callbacks.
var SystemActor = Actor{UserID: "system", Role: RoleSystem}

// Privileged reports whether the actor may act on any order.
func (a Actor) Privileged() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}

// CanAccess reports whether the actor may read or act on o.
func (a Actor) CanAccess(o *Order) bool {
	return a.Privileged() || (a.UserID != "" && a.UserID == o.UserID)
}

// Tx is the set of row operations the coordinator needs inside one database
// transaction. It embeds stock.Tx so ledger and reservation writes commit
// atomically with the order.
type Tx interface {
	stock.Tx

	InsertOrder(ctx context.Context, o *Order) error
	// LockOrder reads an order with its items and holds the row lock until
	// the transaction ends. It returns ErrNotFound for unknown ids.
	LockOrder(ctx context.Context, id string) (*Order, error)
	UpdateOrder(ctx context.Context, o *Order) error
	ReplaceItems(ctx context.Context, orderID string, items []Item) error
	// DeleteOrder removes the order together with its payment and items.
	DeleteOrder(ctx context.Context, id string) error

	// GetPayment returns ErrPaymentNotFound when the order has no payment.
	GetPayment(ctx context.Context, orderID string) (*Payment, error)
	UpsertPayment(ctx context.Context, p *Payment) error

	// NetMovements sums ledger quantities per product for movements whose
	// reference is the given value.
	NetMovements(ctx context.Context, reference string) (map[string]int, error)
}

// Store provides order transactions and lock-free reads.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetOrder(ctx context.Context, id string) (*Order, error)
	// ListByStatus returns orders in status created before the cutoff,
	// oldest first, without their items.
	ListByStatus(ctx context.Context, status Status, createdBefore time.Time) ([]Order, error)
}
