package stock_test

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/bakery-inventory/internal/domain/product"
	"github.com/xenking/bakery-inventory/internal/domain/stock"
	"github.com/xenking/bakery-inventory/internal/memstore"
)

func newProduct(id string, qty int) product.Product {
	return product.Product{
		ID:          id,
		Name:        "Product " + id,
		Price:       decimal.RequireFromString("100.00"),
		Stock:       qty,
		IsActive:    true,
		IsAvailable: true,
	}
}

func newLedger(t *testing.T, products ...product.Product) (*memstore.DB, *stock.Ledger) {
	t.Helper()
	db := memstore.New()
	for _, p := range products {
		db.PutProduct(p)
	}
	l, err := stock.NewLedger(db.Stock(), noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	return db, l
}

func stockOf(t *testing.T, db *memstore.DB, id string) int {
	t.Helper()
	p, ok := db.Product(id)
	require.True(t, ok)
	return p.Stock
}

func TestApplyMovement_Sign(t *testing.T) {
	tests := []struct {
		typ       stock.MovementType
		quantity  int
		wantStock int
	}{
		{stock.MovementPurchase, 3, 7},
		{stock.MovementPurchase, -3, 7},
		{stock.MovementManualDecrease, 4, 6},
		{stock.MovementReservation, 1, 9},
		{stock.MovementCancel, 3, 13},
		{stock.MovementManualIncrease, 5, 15},
		{stock.MovementRelease, 1, 11},
		{stock.MovementReturn, -2, 12},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			db, l := newLedger(t, newProduct("p1", 10))

			res, err := l.ApplyMovement(context.Background(), stock.MovementRequest{
				ProductID: "p1",
				Type:      tt.typ,
				Quantity:  tt.quantity,
				Reference: "ref-1",
				ActorID:   "admin",
			})
			require.NoError(t, err)
			assert.Equal(t, 10, res.PreviousStock)
			assert.Equal(t, tt.wantStock, res.NewStock)
			assert.False(t, res.Clamped)
			assert.Equal(t, tt.wantStock, stockOf(t, db, "p1"))

			ms := db.AllMovements()
			require.Len(t, ms, 1)
			assert.Equal(t, res.MovementID, ms[0].ID)
			assert.Equal(t, tt.typ, ms[0].Type)
			assert.Equal(t, tt.wantStock-10, ms[0].Quantity)
			assert.Equal(t, ms[0].PreviousStock+ms[0].Quantity, ms[0].NewStock)
			assert.Equal(t, "ref-1", ms[0].Reference)
			assert.Equal(t, "admin", ms[0].ActorID)
		})
	}
}

func TestApplyMovement_ClampsAtZero(t *testing.T) {
	db, l := newLedger(t, newProduct("p1", 2))

	res, err := l.ApplyMovement(context.Background(), stock.MovementRequest{
		ProductID: "p1",
		Type:      stock.MovementPurchase,
		Quantity:  5,
	})
	require.NoError(t, err)
	assert.True(t, res.Clamped)
	assert.Equal(t, 0, res.NewStock)
	assert.Equal(t, 0, stockOf(t, db, "p1"))

	ms := db.AllMovements()
	require.Len(t, ms, 1)
	assert.Equal(t, -2, ms[0].Quantity, "movement records the applied delta")
	assert.Equal(t, 0, ms[0].NewStock)
}

func TestApplyMovement_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		req  stock.MovementRequest
	}{
		{"zero quantity", stock.MovementRequest{ProductID: "p1", Type: stock.MovementPurchase}},
		{"unknown type", stock.MovementRequest{ProductID: "p1", Type: "GIFT", Quantity: 1}},
		{"adjustment", stock.MovementRequest{ProductID: "p1", Type: stock.MovementAdjustment, Quantity: 1}},
		{"missing product id", stock.MovementRequest{Type: stock.MovementPurchase, Quantity: 1}},
		{"order reference", stock.MovementRequest{
			ProductID: "p1",
			Type:      stock.MovementManualDecrease,
			Quantity:  1,
			Reference: stock.OrderReference("o-1"),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, l := newLedger(t, newProduct("p1", 10))

			_, err := l.ApplyMovement(context.Background(), tt.req)
			var vErr *stock.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, 10, stockOf(t, db, "p1"))
			assert.Empty(t, db.AllMovements())
		})
	}
}

func TestApplyMovement_ProductNotFound(t *testing.T) {
	db, l := newLedger(t)

	_, err := l.ApplyMovement(context.Background(), stock.MovementRequest{
		ProductID: "missing",
		Type:      stock.MovementManualIncrease,
		Quantity:  1,
	})
	require.ErrorIs(t, err, product.ErrNotFound)
	assert.Empty(t, db.AllMovements())
}

func TestApply_RollsBackWithCallerTx(t *testing.T) {
	db, l := newLedger(t, newProduct("p1", 10))
	boom := errors.New("boom")

	err := db.Stock().InTx(context.Background(), func(ctx context.Context, tx stock.Tx) error {
		if _, err := l.Apply(ctx, tx, stock.MovementRequest{
			ProductID: "p1",
			Type:      stock.MovementPurchase,
			Quantity:  4,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 10, stockOf(t, db, "p1"))
	assert.Empty(t, db.AllMovements())
}

func TestApplyMovement_PlainReferenceAllowed(t *testing.T) {
	db, l := newLedger(t, newProduct("p1", 10))

	_, err := l.ApplyMovement(context.Background(), stock.MovementRequest{
		ProductID: "p1",
		Type:      stock.MovementManualDecrease,
		Quantity:  2,
		Reference: "o-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 8, stockOf(t, db, "p1"))
	assert.False(t, stock.IsOrderReference("o-1"))
	assert.True(t, stock.IsOrderReference(stock.OrderReference("o-1")))
}

func TestSetStock(t *testing.T) {
	db, l := newLedger(t, newProduct("p1", 10))
	ctx := context.Background()

	res, err := l.SetStock(ctx, stock.SetStockRequest{ProductID: "p1", NewStock: 4, Reason: "inventory count", ActorID: "admin"})
	require.NoError(t, err)
	assert.Equal(t, 10, res.PreviousStock)
	assert.Equal(t, 4, res.NewStock)

	res, err = l.SetStock(ctx, stock.SetStockRequest{ProductID: "p1", NewStock: 9})
	require.NoError(t, err)
	assert.Equal(t, 4, res.PreviousStock)

	ms := db.AllMovements()
	require.Len(t, ms, 2)
	assert.Equal(t, stock.MovementAdjustment, ms[0].Type)
	assert.Equal(t, -6, ms[0].Quantity)
	assert.Equal(t, "inventory count", ms[0].Reason)
	assert.Equal(t, 5, ms[1].Quantity)
	assert.Equal(t, 9, stockOf(t, db, "p1"))

	_, err = l.SetStock(ctx, stock.SetStockRequest{ProductID: "p1", NewStock: -1})
	var vErr *stock.ValidationError
	require.ErrorAs(t, err, &vErr)

	_, err = l.SetStock(ctx, stock.SetStockRequest{ProductID: "nope", NewStock: 1})
	require.ErrorIs(t, err, product.ErrNotFound)
}

func TestLedger_FoldsToBalance(t *testing.T) {
	db, l := newLedger(t, newProduct("p1", 0))
	ctx := context.Background()

	steps := []stock.MovementRequest{
		{ProductID: "p1", Type: stock.MovementManualIncrease, Quantity: 20},
		{ProductID: "p1", Type: stock.MovementPurchase, Quantity: 7},
		{ProductID: "p1", Type: stock.MovementCancel, Quantity: 2},
		{ProductID: "p1", Type: stock.MovementManualDecrease, Quantity: 30},
		{ProductID: "p1", Type: stock.MovementReturn, Quantity: 3},
	}
	for _, req := range steps {
		_, err := l.ApplyMovement(ctx, req)
		require.NoError(t, err)
	}
	_, err := l.SetStock(ctx, stock.SetStockRequest{ProductID: "p1", NewStock: 11})
	require.NoError(t, err)

	sum := 0
	for _, m := range db.AllMovements() {
		sum += m.Quantity
		assert.GreaterOrEqual(t, m.NewStock, 0)
	}
	assert.Equal(t, stockOf(t, db, "p1"), sum)
	assert.Equal(t, 11, sum)
}

func TestHistory_NewestFirst(t *testing.T) {
	_, l := newLedger(t, newProduct("p1", 0), newProduct("p2", 0))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := l.ApplyMovement(ctx, stock.MovementRequest{ProductID: "p1", Type: stock.MovementManualIncrease, Quantity: i})
		require.NoError(t, err)
	}
	_, err := l.ApplyMovement(ctx, stock.MovementRequest{ProductID: "p2", Type: stock.MovementManualIncrease, Quantity: 9})
	require.NoError(t, err)

	ms, err := l.History(ctx, "p1", 2)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, 3, ms[0].Quantity)
	assert.Equal(t, 2, ms[1].Quantity)

	ms, err = l.History(ctx, "p1", 0)
	require.NoError(t, err)
	assert.Len(t, ms, 3)
}
