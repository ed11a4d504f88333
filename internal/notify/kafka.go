package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/bakery-inventory/internal/domain/order"
)

// DefaultTopic receives order notifications.
const DefaultTopic = "order.notifications"

// ErrQueueFull is returned when the producer cannot keep up.
var ErrQueueFull = errors.New("notification queue full")

// Writer is the part of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter creates an async writer that hashes messages by key, so all
// notifications of one order land on the same partition.
func NewKafkaWriter(brokers []string, topic string, lg *zap.Logger) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				lg.Warn("Notification delivery failed", zap.Int("messages", len(msgs)), zap.Error(err))
			}
		},
	}
}

// Producer queues notifications and writes them from a single goroutine, so
// Notify never blocks an order operation on the broker.
type Producer struct {
	w     Writer
	inbox chan kafka.Message
	now   func() time.Time
}

// NewProducer creates a Producer with a queue of buf messages.
func NewProducer(w Writer, buf int) *Producer {
	if buf <= 0 {
		buf = 256
	}
	return &Producer{
		w:     w,
		inbox: make(chan kafka.Message, buf),
		now:   time.Now,
	}
}

// Notify implements order.Notifier.
func (p *Producer) Notify(_ context.Context, n order.Notification) error {
	now := p.now()
	m := kafka.Message{
		Key:   []byte(n.OrderID),
		Value: Encode(n, now),
		Time:  now,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(n.Type)},
		},
	}
	select {
	case p.inbox <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run writes queued messages until ctx is done, then flushes what is left
// and closes the writer.
func (p *Producer) Run(ctx context.Context) error {
	lg := zctx.From(ctx)
	wctx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case m := <-p.inbox:
					p.write(wctx, lg, m)
				default:
					if err := p.w.Close(); err != nil {
						return errors.Wrap(err, "close writer")
					}
					return nil
				}
			}
		case m := <-p.inbox:
			p.write(wctx, lg, m)
		}
	}
}

func (p *Producer) write(ctx context.Context, lg *zap.Logger, m kafka.Message) {
	if err := p.w.WriteMessages(ctx, m); err != nil {
		lg.Warn("Write notification",
			zap.ByteString("order_id", m.Key),
			zap.Error(err),
		)
	}
}
