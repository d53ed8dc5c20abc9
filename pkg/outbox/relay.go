package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Store leases and settles outbox rows.
type Store interface {
	// LockBatch leases up to batchSize publishable rows to relayID.
	LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error)
	MarkSent(ctx context.Context, ids []int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithBatchSize sets how many rows are leased per poll.
func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithLease sets how long leased rows stay invisible to other relays.
func WithLease(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.lease = d
		}
	}
}

// Relay polls the Store and hands events to the Dispatcher.
type Relay struct {
	lg        *zap.Logger
	store     Store
	dispatch  *Dispatcher
	relayID   string
	batchSize int
	interval  time.Duration
	lease     time.Duration
}

// NewRelay returns a Relay identified by relayID.
func NewRelay(lg *zap.Logger, store Store, dispatch *Dispatcher, relayID string, opts ...RelayOption) *Relay {
	r := &Relay{
		lg:        lg.With(zap.String("relay_id", relayID)),
		store:     store,
		dispatch:  dispatch,
		relayID:   relayID,
		batchSize: 100,
		interval:  500 * time.Millisecond,
		lease:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.lg.Info("Relay stopping")
			return nil
		case <-t.C:
			r.Tick(ctx)
		}
	}
}

// Tick processes one batch and reports how many events were sent.
func (r *Relay) Tick(ctx context.Context) int {
	events, err := r.store.LockBatch(ctx, r.relayID, r.batchSize, r.lease)
	if err != nil {
		r.lg.Error("Relay lock batch failed", zap.Error(err))
		return 0
	}
	if len(events) == 0 {
		return 0
	}

	ids := make([]int64, 0, len(events))
	for _, e := range events {
		if e.Retry() {
			r.lg.Warn("Relay republishing event",
				zap.Int64("event_id", e.ID),
				zap.Int("attempts", e.Attempts),
				zap.String("last_error", e.LastError),
			)
		}
		if err := r.dispatch.Dispatch(ctx, e); err != nil {
			if merr := r.store.MarkFailed(ctx, e.ID, err.Error()); merr != nil {
				r.lg.Error("Relay could not record failure", zap.Int64("event_id", e.ID), zap.Error(merr))
			}
			continue
		}
		ids = append(ids, e.ID)
	}
	if len(ids) > 0 {
		if err := r.store.MarkSent(ctx, ids); err != nil {
			r.lg.Error("Relay mark sent failed", zap.Error(err))
			return 0
		}
	}
	return len(ids)
}
