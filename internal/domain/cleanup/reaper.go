// Package cleanup removes orders and stock holds abandoned during checkout.
package cleanup

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/bakery-inventory/internal/domain/order"
)

// Default sweep thresholds.
const (
	DefaultInterval             = 30 * time.Minute
	DefaultDraftTTL             = 15 * time.Minute
	DefaultPendingTTL           = 24 * time.Hour
	DefaultReservationRetention = time.Hour
)

// AutoCancelReason is recorded on pending orders cancelled by a sweep.
const AutoCancelReason = "Cancelado automáticamente: pago no recibido en 24 horas"

// Orders is the part of the order coordinator the reaper drives.
type Orders interface {
	Stale(ctx context.Context, status order.Status, createdBefore time.Time) ([]order.Order, error)
	DeleteDraft(ctx context.Context, orderID string, createdBefore time.Time) (bool, error)
	Cancel(ctx context.Context, req order.CancelRequest) (*order.Order, error)
}

// Reservations compacts expired stock holds.
type Reservations interface {
	Compact(ctx context.Context, retention time.Duration) (int, error)
}

// Config holds the sweep thresholds. Zero values fall back to the defaults.
type Config struct {
	DraftTTL             time.Duration
	PendingTTL           time.Duration
	ReservationRetention time.Duration
}

func (c *Config) setDefaults() {
	if c.DraftTTL <= 0 {
		c.DraftTTL = DefaultDraftTTL
	}
	if c.PendingTTL <= 0 {
		c.PendingTTL = DefaultPendingTTL
	}
	if c.ReservationRetention <= 0 {
		c.ReservationRetention = DefaultReservationRetention
	}
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	DeletedDraftOrders    int      `json:"deletedDraftOrders"`
	ExpiredPendingOrders  int      `json:"expiredPendingOrders"`
	CompactedReservations int      `json:"compactedReservations"`
	Errors                []string `json:"errors"`
}

func (r *SweepResult) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Reaper deletes abandoned drafts, cancels unpaid orders and compacts expired
// holds. Every phase runs even if an earlier one failed, and a failure on one
// order does not stop the rest.
type Reaper struct {
	orders       Orders
	reservations Reservations
	cfg          Config
	now          func() time.Time

	lastSweep atomic.Int64
	swept     metric.Int64Counter
}

// NewReaper creates a Reaper.
func NewReaper(orders Orders, reservations Reservations, cfg Config, meter metric.Meter) (*Reaper, error) {
	cfg.setDefaults()
	swept, err := meter.Int64Counter("orders.reaped",
		metric.WithDescription("Orders deleted or cancelled by the abandoned-order sweep"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create orders.reaped counter")
	}
	return &Reaper{
		orders:       orders,
		reservations: reservations,
		cfg:          cfg,
		now:          time.Now,
		swept:        swept,
	}, nil
}

// Sweep runs one pass over all phases.
func (r *Reaper) Sweep(ctx context.Context) SweepResult {
	now := r.now()
	res := SweepResult{Errors: []string{}}

	r.deleteDrafts(ctx, now.Add(-r.cfg.DraftTTL), &res)
	r.expirePending(ctx, now.Add(-r.cfg.PendingTTL), &res)

	n, err := r.reservations.Compact(ctx, r.cfg.ReservationRetention)
	if err != nil {
		res.fail("compact reservations: %v", err)
	}
	res.CompactedReservations = n

	r.lastSweep.Store(now.UnixNano())

	lg := zctx.From(ctx)
	fields := []zap.Field{
		zap.Int("deleted_drafts", res.DeletedDraftOrders),
		zap.Int("expired_pending", res.ExpiredPendingOrders),
		zap.Int("compacted_reservations", res.CompactedReservations),
	}
	if len(res.Errors) > 0 {
		lg.Warn("Sweep finished with errors", append(fields, zap.Strings("errors", res.Errors))...)
	} else {
		lg.Info("Sweep finished", fields...)
	}
	return res
}

func (r *Reaper) deleteDrafts(ctx context.Context, cutoff time.Time, res *SweepResult) {
	drafts, err := r.orders.Stale(ctx, order.StatusDraft, cutoff)
	if err != nil {
		res.fail("list drafts: %v", err)
		return
	}
	for _, o := range drafts {
		deleted, err := r.orders.DeleteDraft(ctx, o.ID, cutoff)
		if err != nil {
			res.fail("delete draft %s: %v", o.ID, err)
			continue
		}
		if deleted {
			res.DeletedDraftOrders++
			r.swept.Add(ctx, 1)
		}
	}
}

func (r *Reaper) expirePending(ctx context.Context, cutoff time.Time, res *SweepResult) {
	pending, err := r.orders.Stale(ctx, order.StatusPending, cutoff)
	if err != nil {
		res.fail("list pending orders: %v", err)
		return
	}
	for _, o := range pending {
		_, err := r.orders.Cancel(ctx, order.CancelRequest{
			OrderID:  o.ID,
			Actor:    order.SystemActor,
			Reason:   AutoCancelReason,
			IfStatus: order.StatusPending,
		})
		switch {
		case errors.Is(err, order.ErrStatusChanged), errors.Is(err, order.ErrNotFound):
			// Paid or cancelled since it was listed.
		case err != nil:
			res.fail("cancel order %s: %v", o.ID, err)
		default:
			res.ExpiredPendingOrders++
			r.swept.Add(ctx, 1)
		}
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// LastSweep returns when the last sweep finished, or the zero time.
func (r *Reaper) LastSweep() time.Time {
	ns := r.lastSweep.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// HeartbeatCheck reports an error when no sweep has finished within maxAge.
// It passes before the first sweep has had time to run.
func (r *Reaper) HeartbeatCheck(maxAge time.Duration) func(ctx context.Context) error {
	started := r.now()
	return func(context.Context) error {
		last := r.LastSweep()
		if last.IsZero() {
			if r.now().Sub(started) > maxAge {
				return errors.Errorf("no sweep since start %s ago", r.now().Sub(started).Round(time.Second))
			}
			return nil
		}
		if age := r.now().Sub(last); age > maxAge {
			return errors.Errorf("last sweep %s ago", age.Round(time.Second))
		}
		return nil
	}
}
