package payment

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Gateway payment statuses the manager acts upon. Anything else leaves the
// intent pending.
const (
	GatewayApproved  = "approved"
	GatewayRejected  = "rejected"
	GatewayCancelled = "cancelled"
)

// PreferenceItem is an authoritative line handed to the gateway.
type PreferenceItem struct {
	ID         string
	Title      string
	Quantity   int
	UnitPrice  decimal.Decimal
	CurrencyID string
}

// Payer identifies the buyer towards the gateway.
type Payer struct {
	Name  string
	Email string
	Phone string
}

// BackURLs are where the gateway sends the buyer after checkout.
type BackURLs struct {
	Success string
	Failure string
	Pending string
}

// PreferenceRequest asks the gateway for a payable checkout session.
type PreferenceRequest struct {
	Items             []PreferenceItem
	Payer             Payer
	BackURLs          BackURLs
	NotificationURL   string
	ExternalReference string
}

// Preference is the gateway's checkout session.
type Preference struct {
	ID                 string
	RedirectURL        string
	SandboxRedirectURL string
}

// Payment is the gateway's view of a payment.
type Payment struct {
	ID                string
	Status            string
	ExternalReference string // empty when the gateway has none
}

// Gateway is the payment provider client.
type Gateway interface {
	CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error)
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
}

// GatewayError wraps a failed call to the payment provider.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway: %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }
