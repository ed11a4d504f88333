// Package notify delivers order notifications to customers' channels.
package notify

import (
	"bytes"
	"context"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/bakery-inventory/internal/domain/order"
)

// Encode renders a notification as the JSON message body consumers read.
func Encode(n order.Notification, at time.Time) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.Obj(func(e *jx.Encoder) {
		e.Field("type", func(e *jx.Encoder) { e.Str(string(n.Type)) })
		e.Field("orderId", func(e *jx.Encoder) { e.Str(n.OrderID) })
		e.Field("userId", func(e *jx.Encoder) { e.Str(n.UserID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(n.Status)) })
		e.Field("total", func(e *jx.Encoder) { e.Str(n.Total.StringFixed(2)) })
		if n.Reason != "" {
			e.Field("reason", func(e *jx.Encoder) { e.Str(n.Reason) })
		}
		e.Field("occurredAt", func(e *jx.Encoder) { e.Str(at.UTC().Format(time.RFC3339)) })
	})
	return bytes.Clone(e.Bytes())
}

// Log writes notifications to the context logger. It is used when no broker
// is configured.
type Log struct{}

// Notify implements order.Notifier.
func (Log) Notify(ctx context.Context, n order.Notification) error {
	zctx.From(ctx).Info("Order notification",
		zap.String("type", string(n.Type)),
		zap.String("order_id", n.OrderID),
		zap.String("user_id", n.UserID),
		zap.String("status", string(n.Status)),
	)
	return nil
}
