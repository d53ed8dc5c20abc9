// Package payment owns the payment intent state machine and reconciles gateway
// payment notifications with the intents they belong to.
//
// An intent starts PENDING and moves exactly once to APPROVED or FAILED. The
// transition is an atomic conditional update, so concurrent redeliveries of
// the same approved payment create at most one order.
package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Status of a payment intent.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusFailed   Status = "FAILED"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusFailed
}

var (
	// ErrIntentNotFound is returned when no intent matches a reference.
	ErrIntentNotFound = errors.New("payment intent not found")
	// ErrPaymentIDRequired is returned by confirmation without a payment id.
	ErrPaymentIDRequired = errors.New("payment id required")
)

// Intent is a durable record of an initiated, not yet settled payment.
type Intent struct {
	// ID doubles as the external reference handed to the gateway.
	ID           uuid.UUID
	PreferenceID string
	Status       Status
	PaymentID    string
	OrderID      *int64
	Snapshot     []byte
	UserID       string // empty for guests
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ExternalReference correlates gateway notifications back to the intent.
func (i *Intent) ExternalReference() string {
	return i.ID.String()
}

// Repository persists payment intents.
type Repository interface {
	Create(ctx context.Context, intent *Intent) error
	SetPreferenceID(ctx context.Context, id uuid.UUID, preferenceID string) error
	FindByExternalReference(ctx context.Context, ref string) (*Intent, error)
	FindByPreferenceID(ctx context.Context, preferenceID string) (*Intent, error)

	// Transition moves a PENDING intent to status to and records paymentID.
	// It reports false, without error, when the intent was not PENDING.
	Transition(ctx context.Context, id uuid.UUID, to Status, paymentID string) (bool, error)
	LinkOrder(ctx context.Context, id uuid.UUID, orderID int64) error
}
