package stock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/bakery-inventory/internal/domain/product"
)

// DefaultLowStockThreshold applies to products whose MinStock is zero.
const DefaultLowStockThreshold = 5

// Issue codes reported by the validator.
const (
	IssueNotFound          = "not_found"
	IssueNotAvailable      = "not_available"
	IssueInsufficientStock = "insufficient_stock"
	IssueInvalidQuantity   = "invalid_quantity"
	IssueLowStock          = "low_stock"
)

// Item is a requested product line.
type Item struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Issue is one validation error or warning for a product line.
type Issue struct {
	ProductID string `json:"productId"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Requested int    `json:"requested,omitempty"`
	Available int    `json:"available,omitempty"`
}

// ValidationResult is the outcome of a stock check. IsValid is true exactly
// when Errors is empty; warnings never block.
type ValidationResult struct {
	IsValid  bool    `json:"isValid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// IssuesError carries the blocking issues of a failed validation.
type IssuesError struct {
	Issues []Issue
}

func (e *IssuesError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		msgs[i] = is.Message
	}
	return "stock validation failed: " + strings.Join(msgs, "; ")
}

// InsufficientStockError is returned when a hold could not be placed.
type InsufficientStockError struct {
	ProductID string
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d", e.ProductID, e.Requested)
}

type validateOptions struct {
	sessionID        string
	withReservations bool
}

// ValidateOption tunes a validation run.
type ValidateOption func(*validateOptions)

// WithReservations compares requests against stock minus the holds of every
// session other than sessionID, instead of raw stock.
func WithReservations(sessionID string) ValidateOption {
	return func(o *validateOptions) {
		o.withReservations = true
		o.sessionID = sessionID
	}
}

// Validator checks requested lines against the catalog. It never writes.
type Validator struct {
	store     Store
	threshold int
	now       func() time.Time
}

// NewValidator creates a Validator. A non-positive lowStockThreshold selects
// DefaultLowStockThreshold.
func NewValidator(store Store, lowStockThreshold int) *Validator {
	if lowStockThreshold <= 0 {
		lowStockThreshold = DefaultLowStockThreshold
	}
	return &Validator{
		store:     store,
		threshold: lowStockThreshold,
		now:       time.Now,
	}
}

// Validate checks every line. Lines for the same product are merged first so
// that two small lines cannot slip past a check that the sum would fail.
func (v *Validator) Validate(ctx context.Context, items []Item, opts ...ValidateOption) (*ValidationResult, error) {
	var o validateOptions
	for _, opt := range opts {
		opt(&o)
	}

	res := &ValidationResult{Errors: []Issue{}, Warnings: []Issue{}}
	lines := MergeItems(items)

	ids := make([]string, 0, len(lines))
	for _, it := range lines {
		if it.Quantity <= 0 {
			res.Errors = append(res.Errors, Issue{
				ProductID: it.ProductID,
				Code:      IssueInvalidQuantity,
				Message:   fmt.Sprintf("quantity for product %s must be greater than 0", it.ProductID),
				Requested: it.Quantity,
			})
			continue
		}
		ids = append(ids, it.ProductID)
	}

	fetched, err := v.store.GetProducts(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	now := v.now()
	for _, it := range lines {
		if it.Quantity <= 0 {
			continue
		}
		p, ok := byID[it.ProductID]
		if !ok {
			res.Errors = append(res.Errors, Issue{
				ProductID: it.ProductID,
				Code:      IssueNotFound,
				Message:   fmt.Sprintf("product %s not found", it.ProductID),
				Requested: it.Quantity,
			})
			continue
		}
		if !p.Sellable() {
			res.Errors = append(res.Errors, Issue{
				ProductID: p.ID,
				Code:      IssueNotAvailable,
				Message:   fmt.Sprintf("%s is not available", p.Name),
				Requested: it.Quantity,
			})
			continue
		}

		stock := p.Stock
		if o.withReservations {
			held, err := v.store.ActiveReserved(ctx, p.ID, o.sessionID, now)
			if err != nil {
				return nil, errors.Wrapf(err, "sum reservations for %s", p.ID)
			}
			stock = max(stock-held, 0)
		}

		if stock < it.Quantity {
			res.Errors = append(res.Errors, Issue{
				ProductID: p.ID,
				Code:      IssueInsufficientStock,
				Message:   fmt.Sprintf("insufficient stock for %s: available %d, requested %d", p.Name, stock, it.Quantity),
				Requested: it.Quantity,
				Available: stock,
			})
			continue
		}

		threshold := p.MinStock
		if threshold <= 0 {
			threshold = v.threshold
		}
		if stock <= threshold && stock > it.Quantity {
			res.Warnings = append(res.Warnings, Issue{
				ProductID: p.ID,
				Code:      IssueLowStock,
				Message:   fmt.Sprintf("low stock for %s: %d units left", p.Name, stock),
				Requested: it.Quantity,
				Available: stock,
			})
		}
	}

	res.IsValid = len(res.Errors) == 0
	return res, nil
}

// Shortfalls re-checks lines against the balances locked inside tx and
// returns an insufficient_stock issue for every line the stock no longer
// covers. Holds are not subtracted; the caller is about to consume them.
func (v *Validator) Shortfalls(ctx context.Context, tx Tx, items []Item) ([]Issue, error) {
	var out []Issue
	for _, it := range MergeItems(items) {
		p, err := tx.LockProduct(ctx, it.ProductID)
		if err != nil {
			return nil, errors.Wrapf(err, "lock product %s", it.ProductID)
		}
		if p.Stock >= it.Quantity {
			continue
		}
		out = append(out, Issue{
			ProductID: p.ID,
			Code:      IssueInsufficientStock,
			Message:   fmt.Sprintf("insufficient stock for %s: available %d, requested %d", p.Name, p.Stock, it.Quantity),
			Requested: it.Quantity,
			Available: p.Stock,
		})
	}
	return out, nil
}

// MergeItems sums quantities per product, keeping first-seen order.
func MergeItems(items []Item) []Item {
	idx := make(map[string]int, len(items))
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if i, ok := idx[it.ProductID]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		idx[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out
}

func errNotFound(id string) error {
	return errors.Wrapf(product.ErrNotFound, "product %s", id)
}
