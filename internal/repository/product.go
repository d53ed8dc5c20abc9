package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/product"
)

const (
	productColumns = `id, name, price, stock, active, category, image_url`

	listProductsSQL = `SELECT ` + productColumns + ` FROM products ORDER BY id`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	lockProductSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1 FOR UPDATE`

	updateStockSQL = `UPDATE products SET stock = $2 WHERE id = $1`

	upsertProductSQL = `INSERT INTO products (id, name, price, stock, active, category, image_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, price = EXCLUDED.price, stock = EXCLUDED.stock,
			active = EXCLUDED.active, category = EXCLUDED.category, image_url = EXCLUDED.image_url`

	syncProductSeqSQL = `SELECT setval(pg_get_serial_sequence('products', 'id'), GREATEST((SELECT MAX(id) FROM products), 1))`
)

// errNoTx is returned by row-locking reads outside of a unit of work.
var errNoTx = errors.New("row lock requires a transaction")

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
	rows, err := conn(ctx, r.pool).Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	return r.getOne(ctx, getProductByIDSQL, id)
}

// LockForUpdate reads a product with SELECT ... FOR UPDATE. The lock is held
// until the transaction in ctx ends.
func (r *ProductRepository) LockForUpdate(ctx context.Context, id int64) (*product.Product, error) {
	if _, ok := txFrom(ctx); !ok {
		return nil, errNoTx
	}
	return r.getOne(ctx, lockProductSQL, id)
}

func (r *ProductRepository) getOne(ctx context.Context, query string, id int64) (*product.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}
	return &p, nil
}

// UpdateStock sets the stock count of a product.
func (r *ProductRepository) UpdateStock(ctx context.Context, id int64, stock int) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, updateStockSQL, id, stock)
	if err != nil {
		return fmt.Errorf("updating stock of product %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

// Upsert inserts or replaces products by ID and advances the ID sequence past
// them. It is used by the seeding tool.
func (r *ProductRepository) Upsert(ctx context.Context, products []product.Product) error {
	b := &pgx.Batch{}
	for _, p := range products {
		b.Queue(upsertProductSQL, p.ID, p.Name, p.Price, p.Stock, p.Active, p.Category, p.ImageURL)
	}
	b.Queue(syncProductSeqSQL)

	if err := conn(ctx, r.pool).SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("upserting products: %w", err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Active, &p.Category, &p.ImageURL)
	return p, err
}
