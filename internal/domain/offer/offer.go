// Package offer selects the time-bounded percentage discount that applies to a
// product at a given instant.
package offer

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/domain/product"
)

// Offer is a percentage discount attached to a single product.
type Offer struct {
	ID          int64
	ProductID   int64
	DiscountPct int
	EndsAt      *time.Time // nil means open-ended
	Active      bool
}

// Expired reports whether the offer's end instant has passed at now.
func (o Offer) Expired(now time.Time) bool {
	return o.EndsAt != nil && !o.EndsAt.After(now)
}

// Repository loads offers for a product in insertion order.
type Repository interface {
	ListByProduct(ctx context.Context, productID int64) ([]Offer, error)
}

// Resolve returns the offer that applies to p at now, or nil.
//
// Nothing prevents two active offers from overlapping, so the first
// qualifying offer in the given order wins. Callers pass offers sorted by ID.
func Resolve(p product.Product, offers []Offer, now time.Time) *Offer {
	if !p.Active {
		return nil
	}
	for i := range offers {
		o := offers[i]
		if o.ProductID != p.ID || !o.Active || o.Expired(now) {
			continue
		}
		return &o
	}
	return nil
}

// Resolver looks up a product's current offer from the store.
type Resolver struct {
	offers Repository
	now    func() time.Time
}

// NewResolver creates a Resolver backed by the given offer store.
func NewResolver(offers Repository) *Resolver {
	return &Resolver{
		offers: offers,
		now:    time.Now,
	}
}

// Current returns the offer applying to p right now, or nil when there is none.
func (r *Resolver) Current(ctx context.Context, p product.Product) (*Offer, error) {
	if !p.Active {
		return nil, nil
	}
	offers, err := r.offers.ListByProduct(ctx, p.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "list offers for product %d", p.ID)
	}
	return Resolve(p, offers, r.now()), nil
}
