package payment

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

// Outcome describes what a notification or confirmation did.
type Outcome string

const (
	// OutcomeIgnored means the notification settled no intent.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeApproved means the intent was approved and its order created.
	OutcomeApproved Outcome = "approved"
	// OutcomeFailed means the intent was marked failed.
	OutcomeFailed Outcome = "failed"
	// OutcomePending means the gateway has not settled the payment yet.
	OutcomePending Outcome = "pending"
	// OutcomeDuplicate means the intent had already been settled.
	OutcomeDuplicate Outcome = "duplicate"
)

// Result is the structured outcome of settling a payment.
type Result struct {
	Outcome  Outcome
	Status   Status
	IntentID uuid.UUID
	OrderID  *int64
	Message  string
}

// ConfirmRequest is a client-side confirmation after the gateway redirect.
type ConfirmRequest struct {
	PaymentID         string
	PreferenceID      string
	ExternalReference string
}

// PreferenceHandle is returned to the buyer to continue on the gateway.
type PreferenceHandle struct {
	IntentID           uuid.UUID
	ExternalReference  string
	PreferenceID       string
	RedirectURL        string
	SandboxRedirectURL string
}

// OrderBuilder prices carts and creates orders.
type OrderBuilder interface {
	Quote(ctx context.Context, req order.Request) ([]order.Item, error)
	Create(ctx context.Context, req order.Request, opts order.CreateOptions) (*order.Order, error)
}

// Deduper remembers gateway payments whose notification already reached a
// terminal outcome. It is a fast path only; the conditional transition stays
// the source of truth.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// Config holds the URLs and currency sent with every preference.
type Config struct {
	CurrencyID      string
	BackURLs        BackURLs
	NotificationURL string
}

// Option configures a Manager.
type Option func(*Manager)

// WithDeduper skips gateway lookups for payments already settled.
func WithDeduper(d Deduper) Option {
	return func(m *Manager) { m.dedupe = d }
}

// WithMeterProvider records settlement metrics through mp.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(m *Manager) { m.meter = mp.Meter("checkout/payment") }
}

// Manager owns the PENDING -> APPROVED | FAILED lifecycle of payment intents.
type Manager struct {
	intents Repository
	gateway Gateway
	orders  OrderBuilder
	tx      order.Transactor
	cfg     Config
	dedupe  Deduper

	meter    metric.Meter
	outcomes metric.Int64Counter
	now      func() time.Time
	newID    func() uuid.UUID
}

// NewManager creates a Manager. The gateway client is constructed once by the
// caller and owned by it.
func NewManager(
	intents Repository,
	gateway Gateway,
	orders OrderBuilder,
	tx order.Transactor,
	cfg Config,
	opts ...Option,
) *Manager {
	m := &Manager{
		intents: intents,
		gateway: gateway,
		orders:  orders,
		tx:      tx,
		cfg:     cfg,
		meter:   noop.NewMeterProvider().Meter("checkout/payment"),
		now:     time.Now,
		newID:   uuid.New,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.outcomes, _ = m.meter.Int64Counter("checkout.payment.outcomes",
		metric.WithDescription("Payment settlements by outcome"),
	)
	return m
}

// CreatePreference prices the cart from the catalog, stores a PENDING intent
// carrying a snapshot of the request and opens a gateway preference for it.
// If the gateway call fails the intent is marked FAILED.
func (m *Manager) CreatePreference(ctx context.Context, req order.Request, userID string) (*PreferenceHandle, error) {
	items, err := m.orders.Quote(ctx, req)
	if err != nil {
		return nil, err
	}

	raw, err := newSnapshot(req.Customer, items).Encode()
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	intent := &Intent{
		ID:        m.newID(),
		Status:    StatusPending,
		Snapshot:  raw,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.intents.Create(ctx, intent); err != nil {
		return nil, errors.Wrap(err, "create intent")
	}

	pref, err := m.gateway.CreatePreference(ctx, m.preferenceRequest(intent, req.Customer, items))
	if err != nil {
		if _, ferr := m.intents.Transition(ctx, intent.ID, StatusFailed, ""); ferr != nil {
			zctx.From(ctx).Error("Failed to mark intent failed",
				zap.Stringer("intent_id", intent.ID),
				zap.Error(ferr),
			)
		}
		return nil, &GatewayError{Op: "create preference", Err: err}
	}

	if err := m.storePreference(ctx, intent.ID, pref.ID); err != nil {
		// The preference is live at the gateway; keep both ids for reconciliation.
		zctx.From(ctx).Error("Preference opened but not stored",
			zap.Stringer("intent_id", intent.ID),
			zap.String("preference_id", pref.ID),
			zap.Error(err),
		)
		return nil, errors.Wrap(err, "store preference id")
	}

	return &PreferenceHandle{
		IntentID:           intent.ID,
		ExternalReference:  intent.ExternalReference(),
		PreferenceID:       pref.ID,
		RedirectURL:        pref.RedirectURL,
		SandboxRedirectURL: pref.SandboxRedirectURL,
	}, nil
}

// storePreference records the preference id, retrying once.
func (m *Manager) storePreference(ctx context.Context, id uuid.UUID, preferenceID string) error {
	err := m.intents.SetPreferenceID(ctx, id, preferenceID)
	if err == nil || ctx.Err() != nil {
		return err
	}
	zctx.From(ctx).Warn("Retrying preference store", zap.Stringer("intent_id", id), zap.Error(err))
	return m.intents.SetPreferenceID(ctx, id, preferenceID)
}

func (m *Manager) preferenceRequest(intent *Intent, c order.Customer, items []order.Item) PreferenceRequest {
	pi := make([]PreferenceItem, 0, len(items))
	for _, it := range items {
		pi = append(pi, PreferenceItem{
			ID:         strconv.FormatInt(it.ProductID, 10),
			Title:      it.ProductName,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			CurrencyID: m.cfg.CurrencyID,
		})
	}
	return PreferenceRequest{
		Items:             pi,
		Payer:             Payer{Name: c.Name, Email: c.Email, Phone: c.Phone},
		BackURLs:          m.cfg.BackURLs,
		NotificationURL:   m.cfg.NotificationURL,
		ExternalReference: intent.ExternalReference(),
	}
}

// HandleNotification settles the intent behind a gateway payment. Unknown
// payments and already settled intents are no-ops, so redelivery is safe.
func (m *Manager) HandleNotification(ctx context.Context, paymentID string) (*Result, error) {
	lg := zctx.From(ctx).With(zap.String("payment_id", paymentID))

	if paymentID == "" {
		return m.record(ctx, ignored("missing payment id")), nil
	}

	if m.dedupe != nil {
		seen, err := m.dedupe.Seen(ctx, paymentID)
		if err != nil {
			lg.Warn("Dedupe lookup failed", zap.Error(err))
		} else if seen {
			return m.record(ctx, &Result{Outcome: OutcomeDuplicate, Message: "notification already processed"}), nil
		}
	}

	p, err := m.gateway.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, &GatewayError{Op: "get payment", Err: err}
	}
	if p.ExternalReference == "" {
		return m.record(ctx, ignored("payment has no external reference")), nil
	}

	intent, err := m.intents.FindByExternalReference(ctx, p.ExternalReference)
	if err != nil {
		if errors.Is(err, ErrIntentNotFound) {
			lg.Info("Notification for unknown intent", zap.String("external_reference", p.ExternalReference))
			return m.record(ctx, ignored("no intent for external reference")), nil
		}
		return nil, errors.Wrap(err, "find intent")
	}

	if p.ID == "" {
		p.ID = paymentID
	}
	res, err := m.apply(ctx, intent, p)
	if err != nil {
		return nil, err
	}

	if m.dedupe != nil && res.Status.Terminal() {
		if err := m.dedupe.Mark(ctx, paymentID); err != nil {
			lg.Warn("Dedupe mark failed", zap.Error(err))
		}
	}
	lg.Info("Notification handled",
		zap.String("outcome", string(res.Outcome)),
		zap.Stringer("intent_id", res.IntentID),
	)
	return m.record(ctx, res), nil
}

// ConfirmPayment applies the same rules as HandleNotification on behalf of the
// buyer and reports the result. The caller's references are used only when the
// gateway does not carry one.
func (m *Manager) ConfirmPayment(ctx context.Context, req ConfirmRequest) (*Result, error) {
	if req.PaymentID == "" {
		return nil, ErrPaymentIDRequired
	}

	p, err := m.gateway.GetPayment(ctx, req.PaymentID)
	if err != nil {
		return nil, &GatewayError{Op: "get payment", Err: err}
	}
	if p.ID == "" {
		p.ID = req.PaymentID
	}

	intent, err := m.locate(ctx, p.ExternalReference, req)
	if err != nil {
		return nil, err
	}

	res, err := m.apply(ctx, intent, p)
	if err != nil {
		return nil, err
	}
	return m.record(ctx, res), nil
}

func (m *Manager) locate(ctx context.Context, gatewayRef string, req ConfirmRequest) (*Intent, error) {
	var (
		intent *Intent
		err    error
	)
	switch {
	case gatewayRef != "":
		intent, err = m.intents.FindByExternalReference(ctx, gatewayRef)
	case req.ExternalReference != "":
		intent, err = m.intents.FindByExternalReference(ctx, req.ExternalReference)
	case req.PreferenceID != "":
		intent, err = m.intents.FindByPreferenceID(ctx, req.PreferenceID)
	default:
		return nil, ErrIntentNotFound
	}
	if err != nil {
		if errors.Is(err, ErrIntentNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "find intent")
	}
	return intent, nil
}

func (m *Manager) apply(ctx context.Context, intent *Intent, p *Payment) (*Result, error) {
	if intent.Status.Terminal() {
		return settled(intent), nil
	}

	switch p.Status {
	case GatewayApproved:
		return m.approve(ctx, intent, p.ID)
	case GatewayRejected, GatewayCancelled:
		return m.fail(ctx, intent, p.ID, p.Status)
	default:
		return &Result{
			Outcome:  OutcomePending,
			Status:   StatusPending,
			IntentID: intent.ID,
			Message:  fmt.Sprintf("payment is %s", p.Status),
		}, nil
	}
}

// approve wins the PENDING -> APPROVED transition, replays the snapshot and
// links the order in one unit of work. A lost race means another delivery
// already did it.
func (m *Manager) approve(ctx context.Context, intent *Intent, paymentID string) (*Result, error) {
	snap, err := DecodeSnapshot(intent.Snapshot)
	if err != nil {
		return nil, err
	}

	var created *order.Order
	err = m.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := m.intents.Transition(ctx, intent.ID, StatusApproved, paymentID)
		if err != nil {
			return errors.Wrap(err, "approve intent")
		}
		if !ok {
			return nil
		}

		o, err := m.orders.Create(ctx, snap.OrderRequest(), order.CreateOptions{
			UserID: intent.UserID,
			Status: order.StatusPaid,
		})
		if err != nil {
			return errors.Wrap(err, "replay order")
		}
		if err := m.intents.LinkOrder(ctx, intent.ID, o.ID); err != nil {
			return errors.Wrap(err, "link order")
		}
		created = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created == nil {
		return m.reload(ctx, intent.ID)
	}

	return &Result{
		Outcome:  OutcomeApproved,
		Status:   StatusApproved,
		IntentID: intent.ID,
		OrderID:  &created.ID,
		Message:  fmt.Sprintf("payment approved, order %s created", created.Number),
	}, nil
}

func (m *Manager) fail(ctx context.Context, intent *Intent, paymentID, gatewayStatus string) (*Result, error) {
	ok, err := m.intents.Transition(ctx, intent.ID, StatusFailed, paymentID)
	if err != nil {
		return nil, errors.Wrap(err, "fail intent")
	}
	if !ok {
		return m.reload(ctx, intent.ID)
	}
	return &Result{
		Outcome:  OutcomeFailed,
		Status:   StatusFailed,
		IntentID: intent.ID,
		Message:  fmt.Sprintf("payment %s", gatewayStatus),
	}, nil
}

func (m *Manager) reload(ctx context.Context, id uuid.UUID) (*Result, error) {
	intent, err := m.intents.FindByExternalReference(ctx, id.String())
	if err != nil {
		return nil, errors.Wrap(err, "reload intent")
	}
	return settled(intent), nil
}

func (m *Manager) record(ctx context.Context, res *Result) *Result {
	m.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(res.Outcome))))
	return res
}

func settled(intent *Intent) *Result {
	res := &Result{
		Outcome:  OutcomeDuplicate,
		Status:   intent.Status,
		IntentID: intent.ID,
		OrderID:  intent.OrderID,
	}
	switch intent.Status {
	case StatusApproved:
		res.Message = "payment already approved"
	case StatusFailed:
		res.Message = "payment already failed"
	default:
		res.Outcome = OutcomePending
		res.Message = "payment is pending"
	}
	return res
}

func ignored(msg string) *Result {
	return &Result{Outcome: OutcomeIgnored, Message: msg}
}
