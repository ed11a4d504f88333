package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bakery-inventory/internal/domain/product"
)

const productColumns = `id, name, price, stock, min_stock, is_active, is_available, created_at, updated_at`

const (
	listProductsSQL = `SELECT ` + productColumns + ` FROM products ORDER BY id`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`

	// Stock is owned by the ledger and never written here.
	upsertProductSQL = `INSERT INTO products (id, name, price, min_stock, is_active, is_available)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, price = EXCLUDED.price, min_stock = EXCLUDED.min_stock,
		    is_active = EXCLUDED.is_active, is_available = EXCLUDED.is_available, updated_at = now()
		RETURNING (xmax = 0)`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns all products from the catalog ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	return getProducts(ctx, r.pool, ids)
}

// Upsert creates or updates the catalog fields of a product.
func (r *ProductRepository) Upsert(ctx context.Context, p *product.Product) (bool, error) {
	rows, err := r.pool.Query(ctx, upsertProductSQL,
		p.ID, p.Name, p.Price, p.MinStock, p.IsActive, p.IsAvailable,
	)
	if err != nil {
		return false, fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	created, err := pgx.CollectExactlyOneRow(rows, pgx.RowTo[bool])
	if err != nil {
		return false, fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return created, nil
}

func getProducts(ctx context.Context, q querier, ids []string) ([]product.Product, error) {
	rows, err := q.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p               product.Product
		stock, minStock int32
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Price, &stock, &minStock,
		&p.IsActive, &p.IsAvailable, &p.CreatedAt, &p.UpdatedAt,
	)
	p.Stock = int(stock)
	p.MinStock = int(minStock)
	return p, err
}
