package offer

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-checkout/internal/domain/product"
)

var fixedNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func ptrTime(t time.Time) *time.Time { return &t }

type mockOfferRepo struct {
	offers []Offer
	err    error
	calls  int
}

func (m *mockOfferRepo) ListByProduct(_ context.Context, productID int64) ([]Offer, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var out []Offer
	for _, o := range m.offers {
		if o.ProductID == productID {
			out = append(out, o)
		}
	}
	return out, nil
}

func TestResolve(t *testing.T) {
	active := product.Product{ID: 1, Active: true}

	tests := []struct {
		name    string
		product product.Product
		offers  []Offer
		wantID  int64 // 0 means no offer
	}{
		{
			name:    "no offers",
			product: active,
		},
		{
			name:    "open ended offer",
			product: active,
			offers:  []Offer{{ID: 7, ProductID: 1, DiscountPct: 10, Active: true}},
			wantID:  7,
		},
		{
			name:    "future expiry",
			product: active,
			offers:  []Offer{{ID: 7, ProductID: 1, DiscountPct: 10, Active: true, EndsAt: ptrTime(fixedNow.Add(time.Hour))}},
			wantID:  7,
		},
		{
			name:    "expired offer ignored",
			product: active,
			offers:  []Offer{{ID: 7, ProductID: 1, DiscountPct: 10, Active: true, EndsAt: ptrTime(fixedNow.Add(-time.Minute))}},
		},
		{
			name:    "expiry equal to now ignored",
			product: active,
			offers:  []Offer{{ID: 7, ProductID: 1, DiscountPct: 10, Active: true, EndsAt: ptrTime(fixedNow)}},
		},
		{
			name:    "inactive offer ignored",
			product: active,
			offers:  []Offer{{ID: 7, ProductID: 1, DiscountPct: 10}},
		},
		{
			name:    "inactive product gets nothing",
			product: product.Product{ID: 1},
			offers:  []Offer{{ID: 7, ProductID: 1, DiscountPct: 10, Active: true}},
		},
		{
			name:    "other product's offer ignored",
			product: active,
			offers:  []Offer{{ID: 7, ProductID: 2, DiscountPct: 10, Active: true}},
		},
		{
			name:    "overlapping offers pick the first",
			product: active,
			offers: []Offer{
				{ID: 3, ProductID: 1, DiscountPct: 5, Active: true, EndsAt: ptrTime(fixedNow.Add(-time.Hour))},
				{ID: 4, ProductID: 1, DiscountPct: 15, Active: true},
				{ID: 5, ProductID: 1, DiscountPct: 50, Active: true},
			},
			wantID: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.product, tt.offers, fixedNow)
			if tt.wantID == 0 {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}

func TestResolver_Current(t *testing.T) {
	repo := &mockOfferRepo{offers: []Offer{
		{ID: 1, ProductID: 10, DiscountPct: 20, Active: true},
	}}
	r := NewResolver(repo)
	r.now = func() time.Time { return fixedNow }

	got, err := r.Current(context.Background(), product.Product{ID: 10, Active: true})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 20, got.DiscountPct)
}

func TestResolver_InactiveProductSkipsLookup(t *testing.T) {
	repo := &mockOfferRepo{}
	r := NewResolver(repo)

	got, err := r.Current(context.Background(), product.Product{ID: 10})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, repo.calls)
}

func TestResolver_StoreError(t *testing.T) {
	repo := &mockOfferRepo{err: errors.New("connection reset")}
	r := NewResolver(repo)

	_, err := r.Current(context.Background(), product.Product{ID: 10, Active: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}
