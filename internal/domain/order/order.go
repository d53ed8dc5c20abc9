package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// NumberPrefix starts every human-readable order number.
const NumberPrefix = "ORD-"

// ErrNotFound is returned when an order does not exist.
var ErrNotFound = errors.New("order not found")

// Status of an order.
type Status string

const (
	// StatusPending is an order placed directly, awaiting offline payment.
	StatusPending Status = "pending"
	// StatusPaid is an order created from an approved payment.
	StatusPaid Status = "paid"
)

// FormatNumber derives the order number from the order identity, e.g. ORD-0042.
func FormatNumber(id int64) string {
	return fmt.Sprintf("%s%04d", NumberPrefix, id)
}

// Address is a shipping address snapshot.
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Customer is the buyer contact and shipping data captured with the order.
type Customer struct {
	Name    string  `json:"name"`
	Email   string  `json:"email"`
	Phone   string  `json:"phone,omitempty"`
	Address Address `json:"address"`
}

// Item is a priced order line. It references the product by ID only.
type Item struct {
	ProductID   int64
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int
	LineTotal   decimal.Decimal
}

// Totals holds the monetary summary of an order.
//
// Total == Subtotal + Shipping - Discount + Taxes and Subtotal is the sum of
// all line totals.
type Totals struct {
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Taxes    decimal.Decimal
	Total    decimal.Decimal
}

// Order is created once, atomically, and never changes structure afterwards.
type Order struct {
	ID        int64
	Number    string
	UserID    string // empty for guest checkouts
	Customer  Customer
	Items     []Item
	Totals    Totals
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LineRequest is one requested cart line. Any client-side price is ignored.
type LineRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// Request is a submitted cart together with the buyer data.
type Request struct {
	Customer Customer      `json:"customer"`
	Items    []LineRequest `json:"items"`
}

// Repository persists orders.
type Repository interface {
	// NextID draws the next order identity from an atomic sequence.
	NextID(ctx context.Context) (int64, error)
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id int64) (*Order, error)
}

// Transactor runs fn inside a unit of work. Nested calls join the outer unit;
// any error rolls back everything done through ctx.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventPublisher records that an order was created. It is called inside the
// order's unit of work.
type EventPublisher interface {
	OrderCreated(ctx context.Context, o *Order) error
}
