package order

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// NotificationType names a customer-facing event.
type NotificationType string

const (
	NotifyOrderCreated     NotificationType = "ORDER_CREATED"
	NotifyPaymentConfirmed NotificationType = "PAYMENT_CONFIRMED"
	NotifyStatusChanged    NotificationType = "STATUS_CHANGED"
	NotifyOrderCancelled   NotificationType = "ORDER_CANCELLED"
)

// Notification is a message about an order for its owner.
type Notification struct {
	Type    NotificationType
	OrderID string
	UserID  string
	Status  Status
	Total   decimal.Decimal
	Reason  string
}

// Notifier delivers notifications. Delivery happens after the order change
// has committed, and a failure never undoes that change.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notification) error { return nil }

func newNotification(t NotificationType, o *Order) Notification {
	return Notification{
		Type:    t,
		OrderID: o.ID,
		UserID:  o.UserID,
		Status:  o.Status,
		Total:   o.Total,
		Reason:  o.CancelReason,
	}
}

func (s *Service) notify(ctx context.Context, t NotificationType, o *Order) {
	if err := s.notifier.Notify(ctx, newNotification(t, o)); err != nil {
		zctx.From(ctx).Warn("Notification failed",
			zap.String("type", string(t)),
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
}
