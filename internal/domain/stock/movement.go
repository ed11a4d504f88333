// Package stock implements the inventory ledger, short-lived stock holds for
// checkout sessions, and pre-order availability checks.
package stock

import (
	"fmt"
	"strings"
	"time"
)

// OrderReferencePrefix marks movement references owned by the order
// lifecycle. Manual movements may not use it, so an order's net stock
// effect only ever counts movements the order itself wrote.
const OrderReferencePrefix = "order:"

// OrderReference returns the movement reference used for an order's stock
// commits and restores.
func OrderReference(orderID string) string {
	return OrderReferencePrefix + orderID
}

// IsOrderReference reports whether ref belongs to the order namespace.
func IsOrderReference(ref string) bool {
	return strings.HasPrefix(ref, OrderReferencePrefix)
}

// MovementType classifies a stock change. The type alone decides whether the
// change adds or removes units.
type MovementType string

const (
	MovementPurchase       MovementType = "PURCHASE"
	MovementCancel         MovementType = "CANCEL"
	MovementManualIncrease MovementType = "MANUAL_INCREASE"
	MovementManualDecrease MovementType = "MANUAL_DECREASE"
	MovementReservation    MovementType = "RESERVATION"
	MovementRelease        MovementType = "RELEASE"
	MovementReturn         MovementType = "RETURN"
	// MovementAdjustment sets an exact balance. It carries a signed delta and
	// is only produced by Ledger.SetStock.
	MovementAdjustment     MovementType = "ADJUSTMENT"
)

// Sign returns -1 for types that remove units, +1 for types that add units
// and 0 for types whose direction is not fixed.
func (t MovementType) Sign() int {
	switch t {
	case MovementPurchase, MovementManualDecrease, MovementReservation:
		return -1
	case MovementCancel, MovementManualIncrease, MovementRelease, MovementReturn:
		return 1
	default:
		return 0
	}
}

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	return t.Sign() != 0 || t == MovementAdjustment
}

// Movement is an append-only ledger record. Quantity is the signed delta that
// was actually applied, so NewStock == PreviousStock + Quantity always holds.
type Movement struct {
	ID            string
	ProductID     string
	Type          MovementType
	Quantity      int
	PreviousStock int
	NewStock      int
	Reason        string
	Reference     string
	ActorID       string
	CreatedAt     time.Time
}

// MovementRequest describes a stock change. Quantity is a magnitude; its sign
// is ignored and replaced by the one implied by Type.
type MovementRequest struct {
	ProductID string
	Type      MovementType
	Quantity  int
	Reason    string
	Reference string
	ActorID   string
}

// MovementResult reports the balance transition produced by one movement.
type MovementResult struct {
	MovementID    string
	PreviousStock int
	NewStock      int
	// Clamped is set when the requested decrease exceeded the balance and the
	// stock was floored at zero.
	Clamped bool
}

// SetStockRequest asks the ledger to move a product to an exact balance.
type SetStockRequest struct {
	ProductID string
	NewStock  int
	Reason    string
	ActorID   string
}

// ValidationError indicates malformed input to a stock operation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
