// Package memory is an in-process implementation of the checkout stores.
//
// It mirrors the database semantics the domain relies on: row locks taken in
// a unit of work are held until it ends, and a failed unit of work rolls back
// every write made through its context. Sequences are not rolled back.
package memory

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/offer"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/domain/product"
)

type txKey struct{}

type txState struct {
	held  map[string]bool
	locks []*sync.Mutex
	undo  []func() // run under Store.mu
}

func txFrom(ctx context.Context) (*txState, bool) {
	tx, ok := ctx.Value(txKey{}).(*txState)
	return tx, ok
}

var errNoTx = errors.New("row lock requested outside of a transaction")

// Store holds all checkout data in memory.
type Store struct {
	mu   sync.Mutex
	rows map[string]*sync.Mutex

	products map[int64]product.Product
	offers   []offer.Offer
	offerSeq int64
	orders   map[int64]order.Order
	orderSeq int64
	intents  map[uuid.UUID]payment.Intent
	keys     map[string]auth.APIKeyInfo
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		rows:     make(map[string]*sync.Mutex),
		products: make(map[int64]product.Product),
		orders:   make(map[int64]order.Order),
		intents:  make(map[uuid.UUID]payment.Intent),
		keys:     make(map[string]auth.APIKeyInfo),
	}
}

// WithinTx runs fn as one unit of work. Nested calls join the outer one.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFrom(ctx); ok {
		return fn(ctx)
	}

	tx := &txState{held: make(map[string]bool)}
	err := fn(context.WithValue(ctx, txKey{}, tx))
	if err != nil {
		s.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		s.mu.Unlock()
	}
	for i := len(tx.locks) - 1; i >= 0; i-- {
		tx.locks[i].Unlock()
	}
	return err
}

func (s *Store) row(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[key]
	if !ok {
		m = &sync.Mutex{}
		s.rows[key] = m
	}
	return m
}

// lock takes the row lock for key until the unit of work in ctx ends. Outside
// a unit of work the returned func releases it.
func (s *Store) lock(ctx context.Context, key string) func() {
	tx, ok := txFrom(ctx)
	if !ok {
		m := s.row(key)
		m.Lock()
		return m.Unlock
	}
	if !tx.held[key] {
		m := s.row(key)
		m.Lock()
		tx.held[key] = true
		tx.locks = append(tx.locks, m)
	}
	return func() {}
}

// onRollback registers undo for the unit of work in ctx. Must hold s.mu.
func onRollback(ctx context.Context, undo func()) {
	if tx, ok := txFrom(ctx); ok {
		tx.undo = append(tx.undo, undo)
	}
}
