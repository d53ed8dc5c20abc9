package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/offer"
)

const (
	listOffersByProductSQL = `SELECT id, product_id, discount_pct, ends_at, active
		FROM offers WHERE product_id = $1 ORDER BY id`

	insertOfferSQL = `INSERT INTO offers (product_id, discount_pct, ends_at, active)
		VALUES ($1, $2, $3, $4)`

	deleteOffersByProductsSQL = `DELETE FROM offers WHERE product_id = ANY($1)`
)

var _ offer.Repository = (*OfferRepository)(nil)

// OfferRepository implements offer.Repository backed by PostgreSQL.
type OfferRepository struct {
	pool *pgxpool.Pool
}

// NewOfferRepository returns an OfferRepository that uses the given pool.
func NewOfferRepository(pool *pgxpool.Pool) *OfferRepository {
	return &OfferRepository{pool: pool}
}

// ListByProduct returns every offer of a product, oldest first.
func (r *OfferRepository) ListByProduct(ctx context.Context, productID int64) ([]offer.Offer, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listOffersByProductSQL, productID)
	if err != nil {
		return nil, fmt.Errorf("listing offers of product %d: %w", productID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (offer.Offer, error) {
		var o offer.Offer
		err := row.Scan(&o.ID, &o.ProductID, &o.DiscountPct, &o.EndsAt, &o.Active)
		return o, err
	})
}

// Insert stores new offers. IDs are assigned by the database.
func (r *OfferRepository) Insert(ctx context.Context, offers []offer.Offer) error {
	if len(offers) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, o := range offers {
		b.Queue(insertOfferSQL, o.ProductID, o.DiscountPct, o.EndsAt, o.Active)
	}
	if err := conn(ctx, r.pool).SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("inserting offers: %w", err)
	}
	return nil
}

// DeleteByProducts removes every offer of the given products.
func (r *OfferRepository) DeleteByProducts(ctx context.Context, productIDs []int64) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, deleteOffersByProductsSQL, productIDs)
	if err != nil {
		return 0, fmt.Errorf("deleting offers: %w", err)
	}
	return tag.RowsAffected(), nil
}
