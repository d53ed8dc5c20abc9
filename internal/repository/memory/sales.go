package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

var (
	_ order.Repository   = (*Orders)(nil)
	_ order.Transactor   = (*Store)(nil)
	_ payment.Repository = (*Intents)(nil)
	_ auth.Repository    = (*APIKeys)(nil)
)

// Orders is the order table of a Store.
type Orders struct{ s *Store }

// Orders returns the order table.
func (s *Store) Orders() *Orders { return &Orders{s: s} }

// NextID draws from the order sequence.
func (r *Orders) NextID(_ context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.orderSeq++
	return r.s.orderSeq, nil
}

// Create stores a copy of o.
func (r *Orders) Create(ctx context.Context, o *order.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *o
	c.Items = slices.Clone(o.Items)
	r.s.orders[o.ID] = c
	onRollback(ctx, func() { delete(r.s.orders, o.ID) })
	return nil
}

// GetByID returns a detached copy of an order.
func (r *Orders) GetByID(_ context.Context, id int64) (*order.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	o.Items = slices.Clone(o.Items)
	return &o, nil
}

// All returns every stored order ordered by ID.
func (r *Orders) All() []order.Order {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]order.Order, 0, len(r.s.orders))
	for _, o := range r.s.orders {
		out = append(out, o)
	}
	slices.SortFunc(out, func(a, b order.Order) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Intents is the payment intent table of a Store.
type Intents struct{ s *Store }

// Intents returns the payment intent table.
func (s *Store) Intents() *Intents { return &Intents{s: s} }

// Create stores a new intent.
func (r *Intents) Create(ctx context.Context, intent *payment.Intent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.intents[intent.ID] = copyIntent(*intent)
	id := intent.ID
	onRollback(ctx, func() { delete(r.s.intents, id) })
	return nil
}

// SetPreferenceID records the gateway preference of an intent.
func (r *Intents) SetPreferenceID(_ context.Context, id uuid.UUID, preferenceID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	in, ok := r.s.intents[id]
	if !ok {
		return payment.ErrIntentNotFound
	}
	in.PreferenceID = preferenceID
	in.UpdatedAt = time.Now().UTC()
	r.s.intents[id] = in
	return nil
}

// FindByExternalReference looks an intent up by its external reference.
func (r *Intents) FindByExternalReference(_ context.Context, ref string) (*payment.Intent, error) {
	id, err := uuid.Parse(ref)
	if err != nil {
		return nil, payment.ErrIntentNotFound
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	in, ok := r.s.intents[id]
	if !ok {
		return nil, payment.ErrIntentNotFound
	}
	c := copyIntent(in)
	return &c, nil
}

// FindByPreferenceID looks an intent up by its gateway preference.
func (r *Intents) FindByPreferenceID(_ context.Context, preferenceID string) (*payment.Intent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, in := range r.s.intents {
		if preferenceID != "" && in.PreferenceID == preferenceID {
			c := copyIntent(in)
			return &c, nil
		}
	}
	return nil, payment.ErrIntentNotFound
}

// Transition moves a PENDING intent to to while holding the intent's row lock.
func (r *Intents) Transition(ctx context.Context, id uuid.UUID, to payment.Status, paymentID string) (bool, error) {
	release := r.s.lock(ctx, rowKey("intent", id))
	defer release()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	in, ok := r.s.intents[id]
	if !ok {
		return false, payment.ErrIntentNotFound
	}
	if in.Status != payment.StatusPending {
		return false, nil
	}
	prev := in
	in.Status = to
	if paymentID != "" {
		in.PaymentID = paymentID
	}
	in.UpdatedAt = time.Now().UTC()
	r.s.intents[id] = in
	onRollback(ctx, func() { r.s.intents[id] = prev })
	return true, nil
}

// LinkOrder attaches an order to an intent that has none yet.
func (r *Intents) LinkOrder(ctx context.Context, id uuid.UUID, orderID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	in, ok := r.s.intents[id]
	if !ok {
		return payment.ErrIntentNotFound
	}
	if in.OrderID != nil {
		return nil
	}
	prev := in
	in.OrderID = &orderID
	r.s.intents[id] = in
	onRollback(ctx, func() { r.s.intents[id] = prev })
	return nil
}

func copyIntent(in payment.Intent) payment.Intent {
	in.Snapshot = slices.Clone(in.Snapshot)
	if in.OrderID != nil {
		id := *in.OrderID
		in.OrderID = &id
	}
	return in
}

// APIKeys is the API key table of a Store.
type APIKeys struct{ s *Store }

// APIKeys returns the API key table.
func (s *Store) APIKeys() *APIKeys { return &APIKeys{s: s} }

// Put stores an API key under its hash.
func (r *APIKeys) Put(info auth.APIKeyInfo) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.keys[info.KeyHash] = info
}

// FindByHash looks up an API key by its HMAC hash.
func (r *APIKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	info, ok := r.s.keys[hash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	return &info, nil
}
