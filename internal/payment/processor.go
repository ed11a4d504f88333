package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/bakery-inventory/internal/domain/order"
)

// Processing errors that retrying cannot fix.
var (
	ErrUnknownStatus   = errors.New("unknown payment status")
	ErrMissingOrderRef = errors.New("payment has no external reference")
)

// Gateway fetches payments.
type Gateway interface {
	GetPayment(ctx context.Context, id string) (*Payment, error)
}

// Orders applies payment updates to orders.
type Orders interface {
	HandlePayment(ctx context.Context, upd order.PaymentUpdate) (*order.PaymentOutcome, error)
}

// Deduplicator is the optional fast-path redelivery filter.
type Deduplicator interface {
	Seen(ctx context.Context, paymentID, status string) (bool, error)
	Mark(ctx context.Context, paymentID, status string) error
}

// Result describes what processing a notification did.
type Result struct {
	PaymentID string
	OrderID   string
	Status    string
	Applied   bool
	Duplicate bool
	Ignored   bool
}

// Processor turns webhook notifications into order payment updates. The
// payment state is always fetched from the gateway, never taken from the
// notification body.
type Processor struct {
	gateway Gateway
	orders  Orders
	dedup   Deduplicator
	tracer  trace.Tracer
}

// NewProcessor creates a Processor. dedup may be nil.
func NewProcessor(gateway Gateway, orders Orders, dedup Deduplicator, tp trace.TracerProvider) *Processor {
	return &Processor{
		gateway: gateway,
		orders:  orders,
		dedup:   dedup,
		tracer:  tp.Tracer("github.com/xenking/bakery-inventory/internal/payment"),
	}
}

// Process handles one notification.
func (p *Processor) Process(ctx context.Context, n Notification) (_ *Result, rerr error) {
	if !n.IsPayment() {
		return &Result{Ignored: true}, nil
	}

	ctx, span := p.tracer.Start(ctx, "payment.Process",
		trace.WithAttributes(attribute.String("payment.id", n.DataID)),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	pay, err := p.gateway.GetPayment(ctx, n.DataID)
	if err != nil {
		return nil, errors.Wrap(err, "fetch payment")
	}
	res := &Result{PaymentID: pay.ID, OrderID: pay.ExternalReference, Status: pay.Status}
	span.SetAttributes(
		attribute.String("order.id", res.OrderID),
		attribute.String("payment.status", res.Status),
	)
	lg := zctx.From(ctx).With(
		zap.String("payment_id", pay.ID),
		zap.String("order_id", pay.ExternalReference),
		zap.String("status", pay.Status),
	)

	if pay.ExternalReference == "" {
		return res, ErrMissingOrderRef
	}
	result, err := MapStatus(pay.Status)
	if err != nil {
		return res, err
	}

	if p.dedup != nil {
		seen, err := p.dedup.Seen(ctx, pay.ID, pay.Status)
		if err != nil {
			lg.Warn("Dedup lookup failed", zap.Error(err))
		} else if seen {
			lg.Debug("Payment notification already processed")
			res.Duplicate = true
			return res, nil
		}
	}

	out, err := p.orders.HandlePayment(ctx, order.PaymentUpdate{
		OrderID:       pay.ExternalReference,
		TransactionID: pay.ID,
		Result:        result,
		Amount:        pay.Amount,
		Currency:      pay.Currency,
		ResponseCode:  pay.StatusDetail,
	})
	if err != nil {
		return res, errors.Wrap(err, "apply payment")
	}
	res.Applied = out.Applied
	span.SetAttributes(attribute.Bool("payment.applied", out.Applied))

	if p.dedup != nil {
		if err := p.dedup.Mark(ctx, pay.ID, pay.Status); err != nil {
			lg.Warn("Dedup mark failed", zap.Error(err))
		}
	}
	return res, nil
}

// MapStatus normalizes a gateway payment status.
func MapStatus(status string) (order.PaymentResult, error) {
	switch status {
	case StatusApproved:
		return order.PaymentApproved, nil
	case StatusAuthorized, StatusPending, StatusInProcess, StatusInMediation:
		return order.PaymentInProcess, nil
	case StatusRejected, StatusCancelled:
		return order.PaymentRejected, nil
	case StatusRefunded, StatusChargedBack:
		return order.PaymentRefunded, nil
	default:
		return "", errors.Wrap(ErrUnknownStatus, status)
	}
}

// Permanent reports whether a processing error will not go away on retry.
// Such notifications are acknowledged and logged instead of redelivered.
func Permanent(err error) bool {
	var tErr *order.TransitionError
	var apiErr *APIError
	switch {
	case errors.Is(err, ErrUnknownStatus),
		errors.Is(err, ErrMissingOrderRef),
		errors.Is(err, order.ErrNotFound),
		errors.As(err, &tErr):
		return true
	case errors.As(err, &apiErr):
		return apiErr.StatusCode == 404
	}
	return false
}
