package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/pkg/outbox"
)

// EventOrderCreated is the outbox type of a newly created order.
const EventOrderCreated = "order.created"

const (
	appendOutboxSQL = `INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers)
		VALUES ($1, $2, $3, $4, $5)`

	// Rows are publishable while pending, when a previous lease expired, or
	// after a failure with retries left.
	lockOutboxSQL = `SELECT id, aggregate_type, aggregate_id, type, payload, headers, created_at,
			retry_count, COALESCE(last_error, '')
		FROM outbox
		WHERE status = 'pending'
			OR (status = 'in_progress' AND lease_until < now())
			OR (status = 'failed' AND retry_count < $2)
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $1`

	leaseOutboxSQL = `UPDATE outbox SET status = 'in_progress', relay_id = $1, lease_until = now() + $2::interval
		WHERE id = ANY($3)`

	markOutboxSentSQL = `UPDATE outbox SET status = 'sent', lease_until = NULL WHERE id = ANY($1)`

	markOutboxFailedSQL = `UPDATE outbox SET status = 'failed', last_error = $2, retry_count = retry_count + 1, lease_until = NULL
		WHERE id = $1`
)

var (
	_ outbox.Store         = (*OutboxRepository)(nil)
	_ order.EventPublisher = (*OutboxRepository)(nil)
)

// OutboxRepository appends events inside the caller's transaction and serves
// them to the outbox relay.
type OutboxRepository struct {
	pool       *pgxpool.Pool
	maxRetries int
}

// NewOutboxRepository returns an OutboxRepository. Failed rows are retried
// until they have failed maxRetries times.
func NewOutboxRepository(pool *pgxpool.Pool, maxRetries int) *OutboxRepository {
	return &OutboxRepository{pool: pool, maxRetries: maxRetries}
}

// Append records an event through the transaction in ctx, if any.
func (r *OutboxRepository) Append(ctx context.Context, e outbox.Event) error {
	headers := e.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	_, err := conn(ctx, r.pool).Exec(ctx, appendOutboxSQL, e.AggregateType, e.AggregateID, e.Type, e.Payload, headers)
	if err != nil {
		return fmt.Errorf("appending %s event: %w", e.Type, err)
	}
	return nil
}

// OrderCreated appends an order.created event for o.
func (r *OutboxRepository) OrderCreated(ctx context.Context, o *order.Order) error {
	return r.Append(ctx, outbox.Event{
		AggregateType: "order",
		AggregateID:   strconv.FormatInt(o.ID, 10),
		Type:          EventOrderCreated,
		Payload:       encodeOrderCreated(o),
	})
}

func encodeOrderCreated(o *order.Order) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("id")
	e.Int64(o.ID)
	e.FieldStart("number")
	e.Str(o.Number)
	e.FieldStart("status")
	e.Str(string(o.Status))
	if o.UserID != "" {
		e.FieldStart("user_id")
		e.Str(o.UserID)
	}
	e.FieldStart("total")
	e.Str(o.Totals.Total.StringFixed(2))
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Int64(it.ProductID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("unit_price")
		e.Str(it.UnitPrice.StringFixed(2))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("created_at")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()

	return append([]byte(nil), e.Bytes()...)
}

// LockBatch leases publishable rows to relayID with FOR UPDATE SKIP LOCKED,
// so concurrent relays never receive the same row.
func (r *OutboxRepository) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	var events []outbox.Event
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, lockOutboxSQL, batchSize, r.maxRetries)
		if err != nil {
			return fmt.Errorf("locking outbox batch: %w", err)
		}
		events, err = pgx.CollectRows(rows, scanOutboxEvent)
		if err != nil {
			return fmt.Errorf("scanning outbox batch: %w", err)
		}
		if len(events) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(events))
		for _, e := range events {
			ids = append(ids, e.ID)
		}
		if _, err := tx.Exec(ctx, leaseOutboxSQL, relayID, lease.String(), ids); err != nil {
			return fmt.Errorf("leasing outbox batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// MarkSent settles published rows.
func (r *OutboxRepository) MarkSent(ctx context.Context, ids []int64) error {
	if _, err := r.pool.Exec(ctx, markOutboxSentSQL, ids); err != nil {
		return fmt.Errorf("marking outbox rows sent: %w", err)
	}
	return nil
}

// MarkFailed records a publish failure.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	if _, err := r.pool.Exec(ctx, markOutboxFailedSQL, id, errMsg); err != nil {
		return fmt.Errorf("marking outbox row %d failed: %w", id, err)
	}
	return nil
}

func scanOutboxEvent(row pgx.CollectableRow) (outbox.Event, error) {
	var e outbox.Event
	err := row.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.Type, &e.Payload, &e.Headers, &e.CreatedAt, &e.Attempts, &e.LastError)
	return e, err
}
