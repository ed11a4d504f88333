package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bakery-inventory/internal/domain/order"
)

// --- Mock implementations ---

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

// --- Tests ---

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleNotification() order.Notification {
	return order.Notification{
		Type:    order.NotifyPaymentConfirmed,
		OrderID: "order-1",
		UserID:  "user-1",
		Status:  order.StatusPaid,
		Total:   decimal.RequireFromString("22400.5"),
	}
}

func TestEncode(t *testing.T) {
	got := map[string]string{}
	err := jx.DecodeBytes(Encode(sampleNotification(), fixedNow)).Obj(func(d *jx.Decoder, key string) error {
		v, err := d.Str()
		got[key] = v
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"type":       "PAYMENT_CONFIRMED",
		"orderId":    "order-1",
		"userId":     "user-1",
		"status":     "PAGADO",
		"total":      "22400.50",
		"occurredAt": "2025-03-01T12:00:00Z",
	}, got)
}

func TestProducer_WritesQueuedMessages(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducer(w, 8)
	p.now = func() time.Time { return fixedNow }

	require.NoError(t, p.Notify(context.Background(), sampleNotification()))
	cancelled := sampleNotification()
	cancelled.Type = order.NotifyOrderCancelled
	cancelled.Reason = "sin stock"
	require.NoError(t, p.Notify(context.Background(), cancelled))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return len(w.written()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	msgs := w.written()
	assert.Equal(t, "order-1", string(msgs[0].Key))
	assert.Equal(t, fixedNow, msgs[0].Time)
	require.Len(t, msgs[1].Headers, 1)
	assert.Equal(t, "ORDER_CANCELLED", string(msgs[1].Headers[0].Value))
	assert.Contains(t, string(msgs[1].Value), `"reason":"sin stock"`)
	assert.True(t, w.closed)
}

func TestProducer_FlushesOnShutdown(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducer(w, 8)
	for range 3 {
		require.NoError(t, p.Notify(context.Background(), sampleNotification()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx))
	assert.Len(t, w.written(), 3)
	assert.True(t, w.closed)
}

func TestProducer_QueueFull(t *testing.T) {
	p := NewProducer(&fakeWriter{}, 1)
	require.NoError(t, p.Notify(context.Background(), sampleNotification()))
	require.ErrorIs(t, p.Notify(context.Background(), sampleNotification()), ErrQueueFull)
}

func TestProducer_WriteErrorsDoNotStopLoop(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewProducer(w, 8)
	require.NoError(t, p.Notify(context.Background(), sampleNotification()))
	require.NoError(t, p.Notify(context.Background(), sampleNotification()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx))
	assert.Len(t, w.written(), 2)
}

func TestLog_Notify(t *testing.T) {
	require.NoError(t, Log{}.Notify(context.Background(), sampleNotification()))
}
