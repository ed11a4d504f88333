package stock_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bakery-inventory/internal/domain/product"
	"github.com/xenking/bakery-inventory/internal/domain/stock"
	"github.com/xenking/bakery-inventory/internal/memstore"
)

func newValidator(t *testing.T, products ...product.Product) (*memstore.DB, *stock.Validator) {
	t.Helper()
	db := memstore.New()
	for _, p := range products {
		db.PutProduct(p)
	}
	return db, stock.NewValidator(db.Stock(), 0)
}

func TestValidate(t *testing.T) {
	inactive := newProduct("inactive", 10)
	inactive.IsActive = false
	hidden := newProduct("hidden", 10)
	hidden.IsAvailable = false
	withMin := newProduct("with-min", 10)
	withMin.MinStock = 12

	tests := []struct {
		name         string
		items        []stock.Item
		wantValid    bool
		wantErrors   []string
		wantWarnings []string
	}{
		{
			name:      "plenty of stock",
			items:     []stock.Item{{ProductID: "plenty", Quantity: 2}},
			wantValid: true,
		},
		{
			name:       "missing product",
			items:      []stock.Item{{ProductID: "ghost", Quantity: 1}},
			wantErrors: []string{stock.IssueNotFound},
		},
		{
			name:       "inactive product",
			items:      []stock.Item{{ProductID: "inactive", Quantity: 1}},
			wantErrors: []string{stock.IssueNotAvailable},
		},
		{
			name:       "unavailable product",
			items:      []stock.Item{{ProductID: "hidden", Quantity: 1}},
			wantErrors: []string{stock.IssueNotAvailable},
		},
		{
			name:       "insufficient stock",
			items:      []stock.Item{{ProductID: "low", Quantity: 5}},
			wantErrors: []string{stock.IssueInsufficientStock},
		},
		{
			name:         "low stock warning",
			items:        []stock.Item{{ProductID: "low", Quantity: 1}},
			wantValid:    true,
			wantWarnings: []string{stock.IssueLowStock},
		},
		{
			name:      "ordering the last units is not a warning",
			items:     []stock.Item{{ProductID: "low", Quantity: 3}},
			wantValid: true,
		},
		{
			name:         "min stock overrides default threshold",
			items:        []stock.Item{{ProductID: "with-min", Quantity: 1}},
			wantValid:    true,
			wantWarnings: []string{stock.IssueLowStock},
		},
		{
			name:       "duplicate lines are summed",
			items:      []stock.Item{{ProductID: "low", Quantity: 2}, {ProductID: "low", Quantity: 2}},
			wantErrors: []string{stock.IssueInsufficientStock},
		},
		{
			name:       "non-positive quantity",
			items:      []stock.Item{{ProductID: "plenty", Quantity: 0}},
			wantErrors: []string{stock.IssueInvalidQuantity},
		},
		{
			name: "mixed",
			items: []stock.Item{
				{ProductID: "ghost", Quantity: 1},
				{ProductID: "plenty", Quantity: 1},
				{ProductID: "low", Quantity: 1},
			},
			wantErrors:   []string{stock.IssueNotFound},
			wantWarnings: []string{stock.IssueLowStock},
		},
	}

	_, v := newValidator(t,
		newProduct("plenty", 100),
		newProduct("low", 3),
		inactive,
		hidden,
		withMin,
	)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := v.Validate(context.Background(), tt.items)
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, res.IsValid)
			assert.Equal(t, len(res.Errors) == 0, res.IsValid)
			assert.Equal(t, tt.wantErrors, codes(res.Errors))
			assert.Equal(t, tt.wantWarnings, codes(res.Warnings))
		})
	}
}

func TestValidate_InsufficientMessageHasBothNumbers(t *testing.T) {
	_, v := newValidator(t, newProduct("p1", 2))

	res, err := v.Validate(context.Background(), []stock.Item{{ProductID: "p1", Quantity: 7}})
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "2")
	assert.Contains(t, res.Errors[0].Message, "7")
	assert.Equal(t, 2, res.Errors[0].Available)
	assert.Equal(t, 7, res.Errors[0].Requested)
}

func TestValidate_WithReservations(t *testing.T) {
	db, v := newValidator(t, newProduct("p1", 10))
	ctx := context.Background()

	r := stock.NewReservations(db.Stock(), 0)
	_, ok, err := r.Reserve(ctx, "p1", 6, "other")
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = r.Reserve(ctx, "p1", 3, "mine")
	require.NoError(t, err)
	require.True(t, ok)

	items := []stock.Item{{ProductID: "p1", Quantity: 5}}

	res, err := v.Validate(ctx, items)
	require.NoError(t, err)
	assert.True(t, res.IsValid, "raw stock ignores holds")

	res, err = v.Validate(ctx, items, stock.WithReservations("mine"))
	require.NoError(t, err)
	assert.False(t, res.IsValid, "only 4 units are free for this session")
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 4, res.Errors[0].Available)

	res, err = v.Validate(ctx, []stock.Item{{ProductID: "p1", Quantity: 4}}, stock.WithReservations("mine"))
	require.NoError(t, err)
	assert.True(t, res.IsValid)
}

func codes(issues []stock.Issue) []string {
	if len(issues) == 0 {
		return nil
	}
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.Code
	}
	return out
}

func TestShortfalls(t *testing.T) {
	db, v := newValidator(t, newProduct("p1", 3), newProduct("p2", 10))
	ctx := context.Background()

	_, ok, err := stock.NewReservations(db.Stock(), 0).Reserve(ctx, "p1", 3, "other")
	require.NoError(t, err)
	require.True(t, ok)

	var short []stock.Issue
	err = db.Stock().InTx(ctx, func(ctx context.Context, tx stock.Tx) error {
		var err error
		short, err = v.Shortfalls(ctx, tx, []stock.Item{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 4},
			{ProductID: "p1", Quantity: 2},
		})
		return err
	})
	require.NoError(t, err)
	require.Len(t, short, 1, "holds do not count, only the merged p1 line exceeds stock")
	assert.Equal(t, "p1", short[0].ProductID)
	assert.Equal(t, stock.IssueInsufficientStock, short[0].Code)
	assert.Equal(t, 4, short[0].Requested)
	assert.Equal(t, 3, short[0].Available)

	err = db.Stock().InTx(ctx, func(ctx context.Context, tx stock.Tx) error {
		_, err := v.Shortfalls(ctx, tx, []stock.Item{{ProductID: "ghost", Quantity: 1}})
		return err
	})
	require.ErrorIs(t, err, product.ErrNotFound)
}
