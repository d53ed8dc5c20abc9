package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/xenking/storefront-checkout/internal/domain/offer"
	"github.com/xenking/storefront-checkout/internal/domain/product"
)

var (
	_ product.Repository = (*Products)(nil)
	_ offer.Repository   = (*Offers)(nil)
)

// Products is the product table of a Store.
type Products struct{ s *Store }

// Products returns the product table.
func (s *Store) Products() *Products { return &Products{s: s} }

// Put inserts or replaces a product.
func (r *Products) Put(p product.Product) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.products[p.ID] = p
}

// List returns all products ordered by ID.
func (r *Products) List(_ context.Context) ([]product.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]product.Product, 0, len(r.s.products))
	for _, p := range r.s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetByID returns a product without locking it.
func (r *Products) GetByID(_ context.Context, id int64) (*product.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

// LockForUpdate takes the product's row lock for the rest of the unit of work.
func (r *Products) LockForUpdate(ctx context.Context, id int64) (*product.Product, error) {
	if _, ok := txFrom(ctx); !ok {
		return nil, errNoTx
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	r.s.lock(ctx, rowKey("product", id))
	return r.GetByID(ctx, id)
}

// UpdateStock sets the stock count of a product.
func (r *Products) UpdateStock(ctx context.Context, id int64, stock int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.products[id]
	if !ok {
		return product.ErrNotFound
	}
	prev := p.Stock
	p.Stock = stock
	r.s.products[id] = p
	onRollback(ctx, func() {
		q := r.s.products[id]
		q.Stock = prev
		r.s.products[id] = q
	})
	return nil
}

// Offers is the offer table of a Store.
type Offers struct{ s *Store }

// Offers returns the offer table.
func (s *Store) Offers() *Offers { return &Offers{s: s} }

// Add stores o with the next offer ID and returns it.
func (r *Offers) Add(o offer.Offer) offer.Offer {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.offerSeq++
	o.ID = r.s.offerSeq
	r.s.offers = append(r.s.offers, o)
	return o
}

// ListByProduct returns a product's offers in insertion order.
func (r *Offers) ListByProduct(_ context.Context, productID int64) ([]offer.Offer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []offer.Offer
	for _, o := range r.s.offers {
		if o.ProductID == productID {
			out = append(out, o)
		}
	}
	return out, nil
}

func rowKey(table string, id any) string {
	return fmt.Sprintf("%s:%v", table, id)
}
