package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

const (
	nextOrderIDSQL = `SELECT nextval('orders_id_seq')`

	createOrderSQL = `INSERT INTO orders
		(id, number, user_id, customer, subtotal, shipping, discount, taxes, total, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	createOrderItemSQL = `INSERT INTO order_items
		(order_id, line_no, product_id, product_name, unit_price, quantity, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	getOrderSQL = `SELECT id, number, user_id, customer, subtotal, shipping, discount, taxes, total, status, created_at, updated_at
		FROM orders WHERE id = $1`

	getOrderItemsSQL = `SELECT product_id, product_name, unit_price, quantity, line_total
		FROM order_items WHERE order_id = $1 ORDER BY line_no`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// NextID draws the next order identity from orders_id_seq.
func (r *OrderRepository) NextID(ctx context.Context) (int64, error) {
	var id int64
	if err := conn(ctx, r.pool).QueryRow(ctx, nextOrderIDSQL).Scan(&id); err != nil {
		return 0, fmt.Errorf("drawing order id: %w", err)
	}
	return id, nil
}

// Create persists an order and its lines in a single batch. The customer is
// serialized to JSON for storage in the JSONB column.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	customerJSON, err := json.Marshal(o.Customer)
	if err != nil {
		return fmt.Errorf("marshaling customer: %w", err)
	}

	b := &pgx.Batch{}
	b.Queue(createOrderSQL,
		o.ID, o.Number, o.UserID, customerJSON,
		o.Totals.Subtotal, o.Totals.Shipping, o.Totals.Discount, o.Totals.Taxes, o.Totals.Total,
		string(o.Status), o.CreatedAt, o.UpdatedAt,
	)
	for i, it := range o.Items {
		b.Queue(createOrderItemSQL, o.ID, i+1, it.ProductID, it.ProductName, it.UnitPrice, it.Quantity, it.LineTotal)
	}

	if err := conn(ctx, r.pool).SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("creating order %s: %w", o.Number, err)
	}
	return nil
}

// GetByID returns an order with its lines.
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	q := conn(ctx, r.pool)

	var (
		o            order.Order
		customerJSON []byte
		status       string
	)
	err := q.QueryRow(ctx, getOrderSQL, id).Scan(
		&o.ID, &o.Number, &o.UserID, &customerJSON,
		&o.Totals.Subtotal, &o.Totals.Shipping, &o.Totals.Discount, &o.Totals.Taxes, &o.Totals.Total,
		&status, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}
	o.Status = order.Status(status)
	if err := json.Unmarshal(customerJSON, &o.Customer); err != nil {
		return nil, fmt.Errorf("unmarshaling customer of order %d: %w", id, err)
	}

	rows, err := q.Query(ctx, getOrderItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %d: %w", id, err)
	}
	o.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Item, error) {
		var it order.Item
		err := row.Scan(&it.ProductID, &it.ProductName, &it.UnitPrice, &it.Quantity, &it.LineTotal)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning items of order %d: %w", id, err)
	}
	return &o, nil
}
