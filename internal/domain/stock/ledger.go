package stock

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// DefaultHistoryLimit bounds History when the caller passes no limit.
const DefaultHistoryLimit = 50

// Ledger is the only writer of product stock. Every change locks the product
// row, updates the balance and appends exactly one movement in the same
// transaction.
type Ledger struct {
	store Store
	now   func() time.Time

	movements metric.Int64Counter
	clamped   metric.Int64Counter
}

// NewLedger creates a Ledger that records its counters on meter.
func NewLedger(store Store, meter metric.Meter) (*Ledger, error) {
	movements, err := meter.Int64Counter("stock.movements",
		metric.WithDescription("Stock ledger movements applied"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "movements counter")
	}
	clamped, err := meter.Int64Counter("stock.clamped",
		metric.WithDescription("Decreases floored at zero stock"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "clamped counter")
	}
	return &Ledger{
		store:     store,
		now:       time.Now,
		movements: movements,
		clamped:   clamped,
	}, nil
}

// ApplyMovement applies one movement in its own transaction. It is the
// entry point for manual movements, so references in the order namespace
// are rejected.
func (l *Ledger) ApplyMovement(ctx context.Context, req MovementRequest) (*MovementResult, error) {
	if IsOrderReference(req.Reference) {
		return nil, &ValidationError{Field: "reference", Message: "prefix " + OrderReferencePrefix + " is reserved for orders"}
	}
	var res *MovementResult
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		res, err = l.Apply(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Apply applies one movement inside the caller's transaction, so the stock
// change commits or rolls back together with the caller's other writes.
func (l *Ledger) Apply(ctx context.Context, tx Tx, req MovementRequest) (*MovementResult, error) {
	if req.ProductID == "" {
		return nil, &ValidationError{Field: "productId", Message: "required"}
	}
	if req.Type == MovementAdjustment {
		return nil, &ValidationError{Field: "type", Message: "use SetStock for adjustments"}
	}
	sign := req.Type.Sign()
	if sign == 0 {
		return nil, &ValidationError{Field: "type", Message: "unknown movement type " + string(req.Type)}
	}
	qty := req.Quantity
	if qty < 0 {
		qty = -qty
	}
	if qty == 0 {
		return nil, &ValidationError{Field: "quantity", Message: "must be non-zero"}
	}

	p, err := tx.LockProduct(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}

	newStock := p.Stock + sign*qty
	clamped := false
	if newStock < 0 {
		newStock = 0
		clamped = true
	}

	res, err := l.record(ctx, tx, &Movement{
		ProductID:     p.ID,
		Type:          req.Type,
		Quantity:      newStock - p.Stock,
		PreviousStock: p.Stock,
		NewStock:      newStock,
		Reason:        req.Reason,
		Reference:     req.Reference,
		ActorID:       req.ActorID,
	})
	if err != nil {
		return nil, err
	}

	if clamped {
		res.Clamped = true
		l.clamped.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(req.Type))))
		zctx.From(ctx).Warn("Stock decrease floored at zero",
			zap.String("product_id", p.ID),
			zap.String("type", string(req.Type)),
			zap.Int("requested", qty),
			zap.Int("previous_stock", p.Stock),
			zap.String("reference", req.Reference),
		)
	}
	return res, nil
}

// SetStock moves a product to an exact balance and records the signed delta
// as an ADJUSTMENT movement.
func (l *Ledger) SetStock(ctx context.Context, req SetStockRequest) (*MovementResult, error) {
	if req.ProductID == "" {
		return nil, &ValidationError{Field: "productId", Message: "required"}
	}
	if req.NewStock < 0 {
		return nil, &ValidationError{Field: "stock", Message: "must not be negative"}
	}

	var res *MovementResult
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.LockProduct(ctx, req.ProductID)
		if err != nil {
			return err
		}
		res, err = l.record(ctx, tx, &Movement{
			ProductID:     p.ID,
			Type:          MovementAdjustment,
			Quantity:      req.NewStock - p.Stock,
			PreviousStock: p.Stock,
			NewStock:      req.NewStock,
			Reason:        req.Reason,
			ActorID:       req.ActorID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// History returns the newest movements of a product first.
func (l *Ledger) History(ctx context.Context, productID string, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	ms, err := l.store.ListMovements(ctx, productID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list movements")
	}
	return ms, nil
}

func (l *Ledger) record(ctx context.Context, tx Tx, m *Movement) (*MovementResult, error) {
	now := l.now()
	m.ID = uuid.New().String()
	m.CreatedAt = now

	if err := tx.SetProductStock(ctx, m.ProductID, m.NewStock, now); err != nil {
		return nil, errors.Wrap(err, "set stock")
	}
	if err := tx.InsertMovement(ctx, m); err != nil {
		return nil, errors.Wrap(err, "insert movement")
	}
	l.movements.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(m.Type))))

	return &MovementResult{
		MovementID:    m.ID,
		PreviousStock: m.PreviousStock,
		NewStock:      m.NewStock,
	}, nil
}
