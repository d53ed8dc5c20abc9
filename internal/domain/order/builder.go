package order

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/storefront-checkout/internal/domain/offer"
	"github.com/xenking/storefront-checkout/internal/domain/pricing"
	"github.com/xenking/storefront-checkout/internal/domain/product"
)

// ErrEmptyItems is returned for a cart without lines.
var ErrEmptyItems = errors.New("items required")

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

// OfferResolver finds the offer currently applying to a product.
type OfferResolver interface {
	Current(ctx context.Context, p product.Product) (*offer.Offer, error)
}

// Charges are the order-level amounts added on top of the subtotal.
type Charges struct {
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Taxes    decimal.Decimal
}

// ChargesPolicy computes shipping, discount and taxes for a priced cart.
type ChargesPolicy interface {
	Charges(ctx context.Context, subtotal decimal.Decimal, items []Item) (Charges, error)
}

type noCharges struct{}

func (noCharges) Charges(context.Context, decimal.Decimal, []Item) (Charges, error) {
	return Charges{}, nil
}

// CreateOptions carries the caller-side attributes of a new order.
type CreateOptions struct {
	UserID string
	Status Status
}

// Option configures a Builder.
type Option func(*Builder)

// WithCharges sets the policy filling shipping, discount and taxes.
func WithCharges(p ChargesPolicy) Option {
	return func(b *Builder) { b.charges = p }
}

// WithEvents publishes an event for every created order.
func WithEvents(p EventPublisher) Option {
	return func(b *Builder) { b.events = p }
}

// WithMeterProvider records order metrics through mp.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(b *Builder) { b.meter = mp.Meter("checkout/order") }
}

// Builder turns carts into persisted orders.
type Builder struct {
	tx       Transactor
	products product.Repository
	offers   OfferResolver
	orders   Repository
	events   EventPublisher
	charges  ChargesPolicy
	meter    metric.Meter
	created  metric.Int64Counter
	now      func() time.Time
}

// NewBuilder creates a Builder with the required collaborators.
func NewBuilder(
	tx Transactor,
	products product.Repository,
	offers OfferResolver,
	orders Repository,
	opts ...Option,
) *Builder {
	b := &Builder{
		tx:       tx,
		products: products,
		offers:   offers,
		orders:   orders,
		charges:  noCharges{},
		meter:    noop.NewMeterProvider().Meter("checkout/order"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.created, _ = b.meter.Int64Counter("checkout.orders.created",
		metric.WithDescription("Orders persisted by the order builder"),
	)
	return b
}

// Create prices the cart against locked product rows, decrements stock and
// persists the order, all in one unit of work. An unknown product aborts the
// whole order.
func (b *Builder) Create(ctx context.Context, req Request, opts CreateOptions) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	if opts.Status == "" {
		opts.Status = StatusPending
	}

	var created *Order
	err := b.tx.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := b.lockProducts(ctx, req.Items)
		if err != nil {
			return err
		}

		items := make([]Item, 0, len(req.Items))
		for _, line := range req.Items {
			p := locked[line.ProductID]
			item, err := b.price(ctx, *p, line.Quantity)
			if err != nil {
				return err
			}
			p.Stock = p.StockAfter(item.Quantity)
			items = append(items, item)
		}

		for _, p := range locked {
			if err := b.products.UpdateStock(ctx, p.ID, p.Stock); err != nil {
				return errors.Wrapf(err, "update stock of product %d", p.ID)
			}
		}

		totals, err := b.totals(ctx, items)
		if err != nil {
			return err
		}

		id, err := b.orders.NextID(ctx)
		if err != nil {
			return errors.Wrap(err, "next order id")
		}
		now := b.now().UTC()
		o := &Order{
			ID:        id,
			Number:    FormatNumber(id),
			UserID:    opts.UserID,
			Customer:  req.Customer,
			Items:     items,
			Totals:    totals,
			Status:    opts.Status,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := b.orders.Create(ctx, o); err != nil {
			return errors.Wrap(err, "persist order")
		}
		if b.events != nil {
			if err := b.events.OrderCreated(ctx, o); err != nil {
				return errors.Wrap(err, "publish order created")
			}
		}
		created = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.created.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(created.Status))))
	return created, nil
}

// Quote prices the cart from the current catalog without taking locks or
// touching stock.
func (b *Builder) Quote(ctx context.Context, req Request) ([]Item, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	items := make([]Item, 0, len(req.Items))
	for _, line := range req.Items {
		p, err := b.products.GetByID(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, product.ErrNotFound) {
				return nil, &ProductNotFoundError{ProductID: line.ProductID}
			}
			return nil, errors.Wrapf(err, "get product %d", line.ProductID)
		}
		item, err := b.price(ctx, *p, line.Quantity)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// lockProducts locks every distinct product of the cart in ascending ID order,
// so concurrent carts touching the same products cannot deadlock.
func (b *Builder) lockProducts(ctx context.Context, lines []LineRequest) (map[int64]*product.Product, error) {
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	locked := make(map[int64]*product.Product, len(ids))
	for _, id := range ids {
		p, err := b.products.LockForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, product.ErrNotFound) {
				return nil, &ProductNotFoundError{ProductID: id}
			}
			return nil, errors.Wrapf(err, "lock product %d", id)
		}
		locked[id] = p
	}
	return locked, nil
}

func (b *Builder) price(ctx context.Context, p product.Product, qty int) (Item, error) {
	qty = max(qty, 1)

	o, err := b.offers.Current(ctx, p)
	if err != nil {
		return Item{}, errors.Wrapf(err, "resolve offer for product %d", p.ID)
	}
	unit := pricing.UnitPrice(p.Price, o)
	return Item{
		ProductID:   p.ID,
		ProductName: p.Name,
		UnitPrice:   unit,
		Quantity:    qty,
		LineTotal:   pricing.LineTotal(unit, qty),
	}, nil
}

func (b *Builder) totals(ctx context.Context, items []Item) (Totals, error) {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.LineTotal)
	}
	c, err := b.charges.Charges(ctx, subtotal, items)
	if err != nil {
		return Totals{}, errors.Wrap(err, "compute charges")
	}
	return Totals{
		Subtotal: subtotal,
		Shipping: c.Shipping,
		Discount: c.Discount,
		Taxes:    c.Taxes,
		Total:    pricing.Total(subtotal, c.Shipping, c.Discount, c.Taxes),
	}, nil
}
