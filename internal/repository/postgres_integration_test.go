//go:build integration

package repository

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/offer"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/pkg/outbox"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pgC, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("shop"),
		postgres.WithUsername("shop"),
		postgres.WithPassword("shop"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres container: %v\n", err)
		return 1
	}
	defer func() { _ = pgC.Terminate(context.Background()) }()

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "connection string: %v\n", err)
		return 1
	}

	testPool, err = NewPool(ctx, dsn, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pool: %v\n", err)
		return 1
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		fmt.Fprintf(os.Stderr, "migrations: %v\n", err)
		return 1
	}
	// Applying twice must be harmless.
	if err := RunMigrations(ctx, testPool); err != nil {
		fmt.Fprintf(os.Stderr, "migrations rerun: %v\n", err)
		return 1
	}

	return m.Run()
}

// --- Mock implementations ---

type stubGateway struct {
	mu       sync.Mutex
	payments map[string]payment.Payment
}

func (g *stubGateway) CreatePreference(_ context.Context, req payment.PreferenceRequest) (*payment.Preference, error) {
	return &payment.Preference{ID: "pref-" + req.ExternalReference, RedirectURL: "https://gateway.test"}, nil
}

func (g *stubGateway) GetPayment(_ context.Context, id string) (*payment.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.payments[id]
	return &p, nil
}

// --- Helpers ---

func seedProduct(t *testing.T, stock int, price string) int64 {
	t.Helper()
	ctx := context.Background()
	var id int64
	err := testPool.QueryRow(ctx,
		`INSERT INTO products (name, price, stock) VALUES ($1, $2, $3) RETURNING id`,
		"Product "+uuid.NewString()[:8], decimal.RequireFromString(price), stock,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

type stack struct {
	tx       *Transactor
	products *ProductRepository
	offers   *OfferRepository
	orders   *OrderRepository
	intents  *IntentRepository
	outbox   *OutboxRepository
	builder  *order.Builder
}

func newStack() *stack {
	s := &stack{
		tx:       NewTransactor(testPool),
		products: NewProductRepository(testPool),
		offers:   NewOfferRepository(testPool),
		orders:   NewOrderRepository(testPool),
		intents:  NewIntentRepository(testPool),
		outbox:   NewOutboxRepository(testPool, 3),
	}
	s.builder = order.NewBuilder(s.tx, s.products, offer.NewResolver(s.offers), s.orders,
		order.WithEvents(s.outbox),
	)
	return s
}

// --- Tests ---

func TestOrderBuilder_ConcurrentOrdersKeepStockConsistent(t *testing.T) {
	const buyers = 40
	s := newStack()
	ctx := context.Background()
	a := seedProduct(t, 100, "12.50")
	b := seedProduct(t, 100, "3.99")
	require.NoError(t, s.offers.Insert(ctx, []offer.Offer{{ProductID: a, DiscountPct: 20, Active: true}}))

	var (
		g       errgroup.Group
		mu      sync.Mutex
		numbers = make(map[string]bool)
	)
	for i := range buyers {
		g.Go(func() error {
			lines := []order.LineRequest{{ProductID: a, Quantity: 1}, {ProductID: b, Quantity: 2}}
			if i%2 == 1 {
				lines[0], lines[1] = lines[1], lines[0]
			}
			o, err := s.builder.Create(ctx, order.Request{Items: lines}, order.CreateOptions{})
			if err != nil {
				return err
			}
			mu.Lock()
			numbers[o.Number] = true
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, numbers, buyers)

	pa, err := s.products.GetByID(ctx, a)
	require.NoError(t, err)
	pb, err := s.products.GetByID(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, 100-buyers, pa.Stock)
	assert.Equal(t, 100-2*buyers, pb.Stock)
}

func TestOrderRepository_RoundTrip(t *testing.T) {
	s := newStack()
	ctx := context.Background()
	id := seedProduct(t, 5, "1000.00")
	require.NoError(t, s.offers.Insert(ctx, []offer.Offer{{ProductID: id, DiscountPct: 10, Active: true}}))

	created, err := s.builder.Create(ctx, order.Request{
		Customer: order.Customer{Name: "Ada", Email: "ada@example.com", Address: order.Address{City: "Recife"}},
		Items:    []order.LineRequest{{ProductID: id, Quantity: 2}},
	}, order.CreateOptions{UserID: "user-1"})
	require.NoError(t, err)

	got, err := s.orders.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, order.FormatNumber(created.ID), got.Number)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "Recife", got.Customer.Address.City)
	assert.Equal(t, "1800.00", got.Totals.Total.StringFixed(2))
	require.Len(t, got.Items, 1)
	assert.Equal(t, "900.00", got.Items[0].UnitPrice.StringFixed(2))

	p, err := s.products.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Stock)

	_, err = s.orders.GetByID(ctx, -1)
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestOrderBuilder_UnknownProductRollsBack(t *testing.T) {
	s := newStack()
	ctx := context.Background()
	id := seedProduct(t, 5, "10.00")

	_, err := s.builder.Create(ctx, order.Request{
		Items: []order.LineRequest{{ProductID: id, Quantity: 1}, {ProductID: 987654321, Quantity: 1}},
	}, order.CreateOptions{})
	var pnf *order.ProductNotFoundError
	require.ErrorAs(t, err, &pnf)

	p, err := s.products.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)
}

func TestProductRepository_LockForUpdateRequiresTx(t *testing.T) {
	s := newStack()
	_, err := s.products.LockForUpdate(context.Background(), 1)
	require.ErrorIs(t, err, errNoTx)
}

func TestIntentRepository_Transition(t *testing.T) {
	s := newStack()
	ctx := context.Background()
	in := &payment.Intent{
		ID:        uuid.New(),
		Status:    payment.StatusPending,
		Snapshot:  []byte(`{"items":[{"product_id":1,"quantity":1}]}`),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.intents.Create(ctx, in))
	require.NoError(t, s.intents.SetPreferenceID(ctx, in.ID, "pref-x"))

	byPref, err := s.intents.FindByPreferenceID(ctx, "pref-x")
	require.NoError(t, err)
	assert.Equal(t, in.ID, byPref.ID)
	assert.JSONEq(t, string(in.Snapshot), string(byPref.Snapshot))

	ok, err := s.intents.Transition(ctx, in.ID, payment.StatusFailed, "pay-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.intents.Transition(ctx, in.ID, payment.StatusApproved, "pay-2")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.intents.FindByExternalReference(ctx, in.ExternalReference())
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, got.Status)
	assert.Equal(t, "pay-1", got.PaymentID)

	_, err = s.intents.Transition(ctx, uuid.New(), payment.StatusFailed, "")
	require.ErrorIs(t, err, payment.ErrIntentNotFound)
	_, err = s.intents.FindByExternalReference(ctx, "nope")
	require.ErrorIs(t, err, payment.ErrIntentNotFound)
}

func TestManager_ConcurrentApprovalsCreateOneOrder(t *testing.T) {
	const deliveries = 16
	s := newStack()
	ctx := context.Background()
	id := seedProduct(t, 10, "25.00")

	gw := &stubGateway{payments: make(map[string]payment.Payment)}
	m := payment.NewManager(s.intents, gw, s.builder, s.tx, payment.Config{CurrencyID: "BRL"})

	h, err := m.CreatePreference(ctx, order.Request{
		Customer: order.Customer{Name: "Ada", Email: "ada@example.com"},
		Items:    []order.LineRequest{{ProductID: id, Quantity: 3}},
	}, "")
	require.NoError(t, err)
	gw.payments["pay-1"] = payment.Payment{ID: "pay-1", Status: payment.GatewayApproved, ExternalReference: h.ExternalReference}

	var g errgroup.Group
	for range deliveries {
		g.Go(func() error {
			_, err := m.HandleNotification(ctx, "pay-1")
			return err
		})
	}
	require.NoError(t, g.Wait())

	in, err := s.intents.FindByExternalReference(ctx, h.ExternalReference)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusApproved, in.Status)
	require.NotNil(t, in.OrderID)

	var orders int
	require.NoError(t, testPool.QueryRow(ctx,
		`SELECT count(*) FROM order_items WHERE product_id = $1`, id,
	).Scan(&orders))
	assert.Equal(t, 1, orders)

	p, err := s.products.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 7, p.Stock)
}

func TestOutboxRepository_LeaseAndSettle(t *testing.T) {
	s := newStack()
	ctx := context.Background()
	id := seedProduct(t, 5, "7.00")

	o, err := s.builder.Create(ctx, order.Request{
		Items: []order.LineRequest{{ProductID: id, Quantity: 1}},
	}, order.CreateOptions{})
	require.NoError(t, err)
	aggregate := strconv.FormatInt(o.ID, 10)

	// Drain until our event shows up; earlier tests appended their own.
	var found bool
	for range 10 {
		events, err := s.outbox.LockBatch(ctx, "relay-a", 1000, time.Minute)
		require.NoError(t, err)
		if len(events) == 0 {
			break
		}
		ids := make([]int64, 0, len(events))
		for _, e := range events {
			ids = append(ids, e.ID)
			if e.AggregateID == aggregate {
				found = true
				assert.Equal(t, EventOrderCreated, e.Type)
				assert.Contains(t, string(e.Payload), o.Number)
			}
		}
		// A second relay cannot see leased rows.
		other, err := s.outbox.LockBatch(ctx, "relay-b", 1000, time.Minute)
		require.NoError(t, err)
		assert.Empty(t, other)

		require.NoError(t, s.outbox.MarkSent(ctx, ids))
	}
	assert.True(t, found)
}

func TestOutboxRepository_FailedEventCarriesLastError(t *testing.T) {
	s := newStack()
	ctx := context.Background()
	id := seedProduct(t, 5, "3.50")

	o, err := s.builder.Create(ctx, order.Request{
		Items: []order.LineRequest{{ProductID: id, Quantity: 1}},
	}, order.CreateOptions{})
	require.NoError(t, err)
	aggregate := strconv.FormatInt(o.ID, 10)

	// Fail every leased row once, then find ours among the retries.
	first, err := s.outbox.LockBatch(ctx, "relay-a", 1000, time.Minute)
	require.NoError(t, err)
	var eventID int64
	for _, e := range first {
		if e.AggregateID == aggregate {
			eventID = e.ID
			assert.Zero(t, e.Attempts)
			assert.Empty(t, e.LastError)
		}
		require.NoError(t, s.outbox.MarkFailed(ctx, e.ID, "broker unavailable"))
	}
	require.NotZero(t, eventID)

	retried, err := s.outbox.LockBatch(ctx, "relay-a", 1000, time.Minute)
	require.NoError(t, err)
	ids := make([]int64, 0, len(retried))
	var got *outbox.Event
	for i, e := range retried {
		ids = append(ids, e.ID)
		if e.ID == eventID {
			got = &retried[i]
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "broker unavailable", got.LastError)
	require.NoError(t, s.outbox.MarkSent(ctx, ids))
}

func TestAPIKeyRepository_FindByHash(t *testing.T) {
	r := NewAPIKeyRepository(testPool)
	ctx := context.Background()
	hash := auth.HashKey([]byte("pepper"), "secret")

	require.NoError(t, r.Upsert(ctx, auth.APIKeyInfo{ID: "k1", KeyHash: hash, Name: "ops", UserID: "u1", Role: auth.RoleAdmin}))

	info, err := r.FindByHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, info.Role)
	assert.Equal(t, "u1", info.UserID)

	_, err = r.FindByHash(ctx, "missing")
	require.ErrorIs(t, err, auth.ErrKeyNotFound)
}

func TestOfferRepository_ReplaceInTx(t *testing.T) {
	ctx := context.Background()
	s := newStack()
	id := seedProduct(t, 1, "50.00")
	require.NoError(t, s.offers.Insert(ctx, []offer.Offer{{ProductID: id, DiscountPct: 5, Active: true}}))

	boom := fmt.Errorf("abort")
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		n, err := s.offers.DeleteByProducts(ctx, []int64{id})
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
		return boom
	})
	require.ErrorIs(t, err, boom)

	offers, err := s.offers.ListByProduct(ctx, id)
	require.NoError(t, err)
	require.Len(t, offers, 1, "rolled back delete keeps the offer")

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.offers.DeleteByProducts(ctx, []int64{id}); err != nil {
			return err
		}
		return s.offers.Insert(ctx, []offer.Offer{{ProductID: id, DiscountPct: 20, Active: true}})
	})
	require.NoError(t, err)

	offers, err = s.offers.ListByProduct(ctx, id)
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, 20, offers[0].DiscountPct)
}
