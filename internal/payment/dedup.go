package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

const (
	// keyDedup is dedup:{scope}:{id}.
	keyDedup = "dedup:%s:%s"

	// TTLDedup is how long a processed notification is remembered.
	TTLDedup = 48 * time.Hour
)

// Dedup remembers processed payment states so redelivered notifications skip
// the order transaction. It is a fast path only: the order store stays the
// authority on whether an update was applied.
type Dedup struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewDedup creates a Dedup over a redis client.
func NewDedup(rdb *redis.Client) *Dedup {
	return &Dedup{rdb: rdb, ttl: TTLDedup}
}

func paymentKey(paymentID, status string) string {
	return fmt.Sprintf(keyDedup, "payment", paymentID+":"+status)
}

// Seen reports whether the payment was already processed in this status.
func (d *Dedup) Seen(ctx context.Context, paymentID, status string) (bool, error) {
	n, err := d.rdb.Exists(ctx, paymentKey(paymentID, status)).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis exists")
	}
	return n > 0, nil
}

// Mark records the payment as processed in this status.
func (d *Dedup) Mark(ctx context.Context, paymentID, status string) error {
	if err := d.rdb.Set(ctx, paymentKey(paymentID, status), "1", d.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

// Ping checks the redis connection.
func (d *Dedup) Ping(ctx context.Context) error {
	return d.rdb.Ping(ctx).Err()
}
