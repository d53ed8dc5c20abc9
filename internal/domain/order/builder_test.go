package order_test

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-checkout/internal/domain/offer"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/product"
	"github.com/xenking/storefront-checkout/internal/repository/memory"
)

// --- Mock implementations ---

type recordingEvents struct {
	mu     sync.Mutex
	orders []int64
	err    error
}

func (r *recordingEvents) OrderCreated(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.orders = append(r.orders, o.ID)
	return nil
}

type flatCharges struct {
	shipping, discount, taxes decimal.Decimal
}

func (f flatCharges) Charges(context.Context, decimal.Decimal, []order.Item) (order.Charges, error) {
	return order.Charges{Shipping: f.shipping, Discount: f.discount, Taxes: f.taxes}, nil
}

// --- Helpers ---

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newStore(products ...product.Product) *memory.Store {
	s := memory.New()
	for _, p := range products {
		s.Products().Put(p)
	}
	return s
}

func newBuilder(s *memory.Store, opts ...order.Option) *order.Builder {
	return order.NewBuilder(s, s.Products(), offer.NewResolver(s.Offers()), s.Orders(), opts...)
}

func stockOf(t *testing.T, s *memory.Store, id int64) int {
	t.Helper()
	p, err := s.Products().GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func cart(lines ...order.LineRequest) order.Request {
	return order.Request{
		Customer: order.Customer{Name: "Ada Lovelace", Email: "ada@example.com"},
		Items:    lines,
	}
}

func line(productID int64, qty int) order.LineRequest {
	return order.LineRequest{ProductID: productID, Quantity: qty}
}

// --- Tests ---

func TestCreate_EmptyItems(t *testing.T) {
	b := newBuilder(newStore())

	_, err := b.Create(context.Background(), cart(), order.CreateOptions{})
	require.ErrorIs(t, err, order.ErrEmptyItems)
}

func TestCreate_DiscountedLine(t *testing.T) {
	s := newStore(product.Product{ID: 1, Name: "Espresso machine", Price: d("1000"), Stock: 10, Active: true})
	s.Offers().Add(offer.Offer{ProductID: 1, DiscountPct: 10, Active: true})
	b := newBuilder(s)

	o, err := b.Create(context.Background(), cart(line(1, 2)), order.CreateOptions{UserID: "u1"})
	require.NoError(t, err)

	require.Len(t, o.Items, 1)
	assert.Equal(t, "900.00", o.Items[0].UnitPrice.StringFixed(2))
	assert.Equal(t, "1800.00", o.Items[0].LineTotal.StringFixed(2))
	assert.Equal(t, "Espresso machine", o.Items[0].ProductName)
	assert.True(t, d("1800").Equal(o.Totals.Subtotal))
	assert.True(t, d("1800").Equal(o.Totals.Total))
	assert.Equal(t, "u1", o.UserID)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, 8, stockOf(t, s, 1))
}

func TestCreate_ExpiredOfferUsesBasePrice(t *testing.T) {
	s := newStore(product.Product{ID: 1, Name: "Grinder", Price: d("250.00"), Stock: 5, Active: true})
	past := time.Now().Add(-time.Hour)
	s.Offers().Add(offer.Offer{ProductID: 1, DiscountPct: 40, Active: true, EndsAt: &past})
	b := newBuilder(s)

	o, err := b.Create(context.Background(), cart(line(1, 1)), order.CreateOptions{})
	require.NoError(t, err)
	assert.True(t, d("250.00").Equal(o.Items[0].UnitPrice))
}

func TestCreate_UnknownProductAbortsOrder(t *testing.T) {
	s := newStore(product.Product{ID: 1, Name: "Kettle", Price: d("30"), Stock: 4, Active: true})
	b := newBuilder(s)

	_, err := b.Create(context.Background(), cart(line(1, 1), line(99, 1)), order.CreateOptions{})

	var pnf *order.ProductNotFoundError
	require.ErrorAs(t, err, &pnf)
	assert.Equal(t, int64(99), pnf.ProductID)
	assert.Equal(t, 4, stockOf(t, s, 1))
	assert.Empty(t, s.Orders().All())
}

func TestCreate_FailureRollsBackStock(t *testing.T) {
	s := newStore(product.Product{ID: 1, Name: "Kettle", Price: d("30"), Stock: 4, Active: true})
	events := &recordingEvents{err: errors.New("outbox unavailable")}
	b := newBuilder(s, order.WithEvents(events))

	_, err := b.Create(context.Background(), cart(line(1, 3)), order.CreateOptions{})
	require.Error(t, err)

	assert.Equal(t, 4, stockOf(t, s, 1))
	assert.Empty(t, s.Orders().All())
}

func TestCreate_QuantityClampedToOne(t *testing.T) {
	s := newStore(product.Product{ID: 1, Name: "Mug", Price: d("12.50"), Stock: 10, Active: true})
	b := newBuilder(s)

	o, err := b.Create(context.Background(), cart(line(1, 0)), order.CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, o.Items[0].Quantity)
	assert.True(t, d("12.50").Equal(o.Totals.Total))

	o, err = b.Create(context.Background(), cart(line(1, -4)), order.CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, o.Items[0].Quantity)
	assert.Equal(t, 8, stockOf(t, s, 1))
}

func TestCreate_StockNeverNegative(t *testing.T) {
	s := newStore(product.Product{ID: 1, Name: "Filter", Price: d("3"), Stock: 2, Active: true})
	b := newBuilder(s)

	o, err := b.Create(context.Background(), cart(line(1, 1_000_000)), order.CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1_000_000, o.Items[0].Quantity)
	assert.Equal(t, 0, stockOf(t, s, 1))

	_, err = b.Create(context.Background(), cart(line(1, 5)), order.CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, stockOf(t, s, 1))
}

func TestCreate_RepeatedProductInCart(t *testing.T) {
	s := newStore(product.Product{ID: 1, Name: "Beans", Price: d("9.99"), Stock: 10, Active: true})
	b := newBuilder(s)

	o, err := b.Create(context.Background(), cart(line(1, 2), line(1, 3)), order.CreateOptions{})
	require.NoError(t, err)
	require.Len(t, o.Items, 2)
	assert.True(t, d("49.95").Equal(o.Totals.Subtotal))
	assert.Equal(t, 5, stockOf(t, s, 1))
}

func TestCreate_ChargesPolicy(t *testing.T) {
	s := newStore(product.Product{ID: 1, Name: "Tamper", Price: d("40.00"), Stock: 10, Active: true})
	b := newBuilder(s, order.WithCharges(flatCharges{
		shipping: d("5.00"),
		discount: d("2.50"),
		taxes:    d("3.60"),
	}))

	o, err := b.Create(context.Background(), cart(line(1, 1)), order.CreateOptions{})
	require.NoError(t, err)

	tt := o.Totals
	assert.True(t, d("46.10").Equal(tt.Total), "got %s", tt.Total)
	assert.True(t, tt.Subtotal.Add(tt.Shipping).Sub(tt.Discount).Add(tt.Taxes).Equal(tt.Total))
}

func TestCreate_NumbersDerivedFromIdentity(t *testing.T) {
	s := newStore(product.Product{ID: 1, Name: "Cup", Price: d("5"), Stock: 100, Active: true})
	events := &recordingEvents{}
	b := newBuilder(s, order.WithEvents(events))

	first, err := b.Create(context.Background(), cart(line(1, 1)), order.CreateOptions{})
	require.NoError(t, err)
	second, err := b.Create(context.Background(), cart(line(1, 1)), order.CreateOptions{Status: order.StatusPaid})
	require.NoError(t, err)

	assert.Equal(t, "ORD-0001", first.Number)
	assert.Equal(t, "ORD-0002", second.Number)
	assert.Equal(t, order.StatusPaid, second.Status)
	assert.Equal(t, []int64{first.ID, second.ID}, events.orders)
}

func TestCreate_TotalEqualsSumOfLines(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	s := memory.New()
	for id := int64(1); id <= 20; id++ {
		cents := rng.Int64N(100_000) + 1
		s.Products().Put(product.Product{
			ID: id, Name: fmt.Sprintf("P%d", id), Price: decimal.New(cents, -2), Stock: 1000, Active: true,
		})
		if id%3 == 0 {
			s.Offers().Add(offer.Offer{ProductID: id, DiscountPct: int(rng.Int64N(99)) + 1, Active: true})
		}
	}
	b := newBuilder(s)

	for range 50 {
		var lines []order.LineRequest
		for range rng.IntN(5) + 1 {
			lines = append(lines, line(rng.Int64N(20)+1, rng.IntN(4)+1))
		}
		o, err := b.Create(context.Background(), cart(lines...), order.CreateOptions{})
		require.NoError(t, err)

		sum := decimal.Zero
		for _, it := range o.Items {
			sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
		}
		assert.True(t, sum.Equal(o.Totals.Subtotal), "subtotal %s != %s", o.Totals.Subtotal, sum)
		assert.True(t, sum.Equal(o.Totals.Total), "total %s != %s", o.Totals.Total, sum)
	}
}

func TestCreate_ConcurrentOrdersNoLostUpdates(t *testing.T) {
	const n = 64
	s := newStore(
		product.Product{ID: 1, Name: "Limited", Price: d("19.90"), Stock: 500, Active: true},
		product.Product{ID: 2, Name: "Other", Price: d("1.00"), Stock: 500, Active: true},
	)
	b := newBuilder(s)

	var (
		mu      sync.Mutex
		numbers = make(map[string]struct{}, n)
	)
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			// Alternate line order so lock ordering is exercised.
			lines := []order.LineRequest{line(1, 1), line(2, 1)}
			if i%2 == 1 {
				lines[0], lines[1] = lines[1], lines[0]
			}
			o, err := b.Create(context.Background(), cart(lines...), order.CreateOptions{})
			if err != nil {
				return err
			}
			mu.Lock()
			numbers[o.Number] = struct{}{}
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 500-n, stockOf(t, s, 1))
	assert.Equal(t, 500-n, stockOf(t, s, 2))
	assert.Len(t, numbers, n)
	assert.Len(t, s.Orders().All(), n)
}

func TestQuote_DoesNotTouchStock(t *testing.T) {
	s := newStore(product.Product{ID: 1, Name: "Scale", Price: d("80"), Stock: 3, Active: true})
	s.Offers().Add(offer.Offer{ProductID: 1, DiscountPct: 25, Active: true})
	b := newBuilder(s)

	items, err := b.Quote(context.Background(), cart(line(1, 2)))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, d("60").Equal(items[0].UnitPrice))
	assert.True(t, d("120").Equal(items[0].LineTotal))
	assert.Equal(t, 3, stockOf(t, s, 1))
	assert.Empty(t, s.Orders().All())
}

func TestQuote_Errors(t *testing.T) {
	b := newBuilder(newStore())

	_, err := b.Quote(context.Background(), cart())
	require.ErrorIs(t, err, order.ErrEmptyItems)

	_, err = b.Quote(context.Background(), cart(line(7, 1)))
	var pnf *order.ProductNotFoundError
	require.ErrorAs(t, err, &pnf)
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "ORD-0042", order.FormatNumber(42))
	assert.Equal(t, "ORD-0001", order.FormatNumber(1))
	assert.Equal(t, "ORD-12345", order.FormatNumber(12345))
}
