package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for purchase.
type Product struct {
	ID       int64
	Name     string
	Price    decimal.Decimal
	Stock    int
	Active   bool
	Category string
	ImageURL string
}

// StockAfter returns the stock left once qty units are taken, floored at zero.
// Orders are never rejected for insufficient stock.
func (p Product) StockAfter(qty int) int {
	return max(p.Stock-qty, 0)
}

// Repository gives read access to the catalog and serialized access to a
// product's stock count.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id int64) (*Product, error)

	// LockForUpdate reads the product while holding an exclusive row lock
	// until the surrounding unit of work ends. It must be called inside one.
	LockForUpdate(ctx context.Context, id int64) (*Product, error)
	UpdateStock(ctx context.Context, id int64, stock int) error
}
