package stock_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/bakery-inventory/internal/domain/product"
	"github.com/xenking/bakery-inventory/internal/domain/stock"
	"github.com/xenking/bakery-inventory/internal/memstore"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newReservations(t *testing.T, products ...product.Product) (*memstore.DB, *stock.Reservations, *clock) {
	t.Helper()
	db := memstore.New()
	for _, p := range products {
		db.PutProduct(p)
	}
	c := newClock()
	r := stock.NewReservations(db.Stock(), 15*time.Minute)
	r.SetNow(c.Now)
	return db, r, c
}

func TestReserve_ChecksOtherSessions(t *testing.T) {
	db, r, _ := newReservations(t, newProduct("p1", 5))
	ctx := context.Background()

	_, ok, err := r.Reserve(ctx, "p1", 3, "session-a")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = r.Reserve(ctx, "p1", 3, "session-b")
	require.NoError(t, err)
	assert.False(t, ok, "only 2 units are free")

	_, ok, err = r.Reserve(ctx, "p1", 2, "session-b")
	require.NoError(t, err)
	assert.True(t, ok)

	avail, err := r.Available(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, avail)
	assert.Equal(t, 5, stockOf(t, db, "p1"), "holds never touch stock")
	assert.Empty(t, db.AllMovements())
}

func TestReserve_RefreshReplacesOwnHold(t *testing.T) {
	db, r, c := newReservations(t, newProduct("p1", 5))
	ctx := context.Background()

	_, ok, err := r.Reserve(ctx, "p1", 3, "session-a")
	require.NoError(t, err)
	require.True(t, ok)

	c.Advance(10 * time.Minute)
	res, ok, err := r.Reserve(ctx, "p1", 5, "session-a")
	require.NoError(t, err)
	assert.True(t, ok, "own previous hold does not count against the refresh")
	require.NotNil(t, res)

	holds := db.Reservations()
	require.Len(t, holds, 1)
	assert.Equal(t, 5, holds[0].Quantity)
	assert.Equal(t, c.Now().Add(15*time.Minute), holds[0].ExpiresAt)
	assert.Equal(t, holds[0].ExpiresAt, res.ExpiresAt)
}

func TestReserve_RefusedReturnsNoHold(t *testing.T) {
	db, r, _ := newReservations(t, newProduct("p1", 2))

	res, ok, err := r.Reserve(context.Background(), "p1", 3, "session-a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, res)
	assert.Empty(t, db.Reservations())
}

func TestReserve_ExpiredHoldsAreIgnored(t *testing.T) {
	db, r, c := newReservations(t, newProduct("p1", 4))
	ctx := context.Background()

	_, ok, err := r.Reserve(ctx, "p1", 4, "session-a")
	require.NoError(t, err)
	require.True(t, ok)

	c.Advance(15 * time.Minute)

	avail, err := r.Available(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 4, avail)

	_, ok, err = r.Reserve(ctx, "p1", 4, "session-b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, db.Reservations(), 2, "expired rows stay until compaction")
}

func TestReserve_InvalidInput(t *testing.T) {
	_, r, _ := newReservations(t, newProduct("p1", 5))
	ctx := context.Background()

	tests := []struct {
		name      string
		productID string
		quantity  int
		sessionID string
	}{
		{"zero quantity", "p1", 0, "s"},
		{"negative quantity", "p1", -1, "s"},
		{"no session", "p1", 1, ""},
		{"no product", "", 1, "s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := r.Reserve(ctx, tt.productID, tt.quantity, tt.sessionID)
			var vErr *stock.ValidationError
			require.ErrorAs(t, err, &vErr)
		})
	}

	_, _, err := r.Reserve(ctx, "missing", 1, "s")
	require.ErrorIs(t, err, product.ErrNotFound)
}

func TestRelease(t *testing.T) {
	db, r, _ := newReservations(t, newProduct("p1", 5), newProduct("p2", 5))
	ctx := context.Background()

	for _, id := range []string{"p1", "p2"} {
		_, ok, err := r.Reserve(ctx, id, 2, "session-a")
		require.NoError(t, err)
		require.True(t, ok)
	}
	_, ok, err := r.Reserve(ctx, "p1", 1, "session-b")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, r.Release(ctx, "session-a", "p1"))
	assert.Len(t, db.Reservations(), 2)

	require.NoError(t, r.Release(ctx, "session-a", "p1"), "releasing twice is a no-op")

	require.NoError(t, r.Release(ctx, "session-a", ""))
	holds := db.Reservations()
	require.Len(t, holds, 1)
	assert.Equal(t, "session-b", holds[0].SessionID)

	require.NoError(t, r.Release(ctx, "unknown", ""))
}

func TestAvailable_StockBelowHolds(t *testing.T) {
	db, r, _ := newReservations(t, newProduct("p1", 5))
	ctx := context.Background()

	_, ok, err := r.Reserve(ctx, "p1", 4, "session-a")
	require.NoError(t, err)
	require.True(t, ok)

	l, err := stock.NewLedger(db.Stock(), noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	_, err = l.ApplyMovement(ctx, stock.MovementRequest{
		ProductID: "p1",
		Type:      stock.MovementManualDecrease,
		Quantity:  3,
		Reason:    "burnt batch",
	})
	require.NoError(t, err)

	avail, err := r.Available(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, -2, avail, "stock 2 minus 4 held")
}

func TestAvailable_NotFound(t *testing.T) {
	_, r, _ := newReservations(t)

	_, err := r.Available(context.Background(), "missing")
	require.ErrorIs(t, err, product.ErrNotFound)
}

func TestReserve_Concurrent(t *testing.T) {
	_, r, _ := newReservations(t, newProduct("p1", 10))
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		granted atomic.Int32
	)
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := r.Reserve(ctx, "p1", 1, fmt.Sprintf("session-%d", i))
			assert.NoError(t, err)
			if ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), granted.Load())
	avail, err := r.Available(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, avail)
}

func TestCompact(t *testing.T) {
	db, r, c := newReservations(t, newProduct("p1", 10))
	ctx := context.Background()

	_, ok, err := r.Reserve(ctx, "p1", 1, "old")
	require.NoError(t, err)
	require.True(t, ok)

	c.Advance(2 * time.Hour)
	_, ok, err = r.Reserve(ctx, "p1", 1, "fresh")
	require.NoError(t, err)
	require.True(t, ok)

	n, err := r.Compact(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	holds := db.Reservations()
	require.Len(t, holds, 1)
	assert.Equal(t, "fresh", holds[0].SessionID)
}
