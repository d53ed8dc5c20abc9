package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

const (
	intentColumns = `id, COALESCE(preference_id, ''), status, payment_id, order_id, snapshot, user_id, created_at, updated_at`

	createIntentSQL = `INSERT INTO payment_intents (id, status, snapshot, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	setPreferenceIDSQL = `UPDATE payment_intents SET preference_id = $2, updated_at = now() WHERE id = $1`

	getIntentByIDSQL = `SELECT ` + intentColumns + ` FROM payment_intents WHERE id = $1`

	getIntentByPreferenceSQL = `SELECT ` + intentColumns + ` FROM payment_intents WHERE preference_id = $1`

	// At most one caller sees RowsAffected == 1 per intent.
	transitionIntentSQL = `UPDATE payment_intents
		SET status = $2, payment_id = COALESCE(NULLIF($3, ''), payment_id), updated_at = now()
		WHERE id = $1 AND status = 'PENDING'`

	intentExistsSQL = `SELECT EXISTS (SELECT 1 FROM payment_intents WHERE id = $1)`

	linkOrderSQL = `UPDATE payment_intents SET order_id = $2, updated_at = now()
		WHERE id = $1 AND order_id IS NULL`
)

var _ payment.Repository = (*IntentRepository)(nil)

// IntentRepository implements payment.Repository backed by PostgreSQL.
type IntentRepository struct {
	pool *pgxpool.Pool
}

// NewIntentRepository returns an IntentRepository that uses the given pool.
func NewIntentRepository(pool *pgxpool.Pool) *IntentRepository {
	return &IntentRepository{pool: pool}
}

// Create inserts a new intent.
func (r *IntentRepository) Create(ctx context.Context, in *payment.Intent) error {
	_, err := conn(ctx, r.pool).Exec(ctx, createIntentSQL,
		in.ID, string(in.Status), in.Snapshot, in.UserID, in.CreatedAt, in.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating intent %s: %w", in.ID, err)
	}
	return nil
}

// SetPreferenceID records the gateway preference of an intent.
func (r *IntentRepository) SetPreferenceID(ctx context.Context, id uuid.UUID, preferenceID string) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, setPreferenceIDSQL, id, preferenceID)
	if err != nil {
		return fmt.Errorf("setting preference of intent %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrIntentNotFound
	}
	return nil
}

// FindByExternalReference looks an intent up by its external reference. A
// reference that is not a UUID cannot belong to any intent.
func (r *IntentRepository) FindByExternalReference(ctx context.Context, ref string) (*payment.Intent, error) {
	id, err := uuid.Parse(ref)
	if err != nil {
		return nil, payment.ErrIntentNotFound
	}
	return r.getOne(ctx, getIntentByIDSQL, id)
}

// FindByPreferenceID looks an intent up by its gateway preference.
func (r *IntentRepository) FindByPreferenceID(ctx context.Context, preferenceID string) (*payment.Intent, error) {
	if preferenceID == "" {
		return nil, payment.ErrIntentNotFound
	}
	return r.getOne(ctx, getIntentByPreferenceSQL, preferenceID)
}

func (r *IntentRepository) getOne(ctx context.Context, query string, arg any) (*payment.Intent, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting intent: %w", err)
	}
	in, err := pgx.CollectExactlyOneRow(rows, scanIntent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrIntentNotFound
		}
		return nil, fmt.Errorf("getting intent: %w", err)
	}
	return &in, nil
}

// Transition moves a PENDING intent to status to with a conditional update.
func (r *IntentRepository) Transition(ctx context.Context, id uuid.UUID, to payment.Status, paymentID string) (bool, error) {
	q := conn(ctx, r.pool)
	tag, err := q.Exec(ctx, transitionIntentSQL, id, string(to), paymentID)
	if err != nil {
		return false, fmt.Errorf("transitioning intent %s to %s: %w", id, to, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := q.QueryRow(ctx, intentExistsSQL, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking intent %s: %w", id, err)
	}
	if !exists {
		return false, payment.ErrIntentNotFound
	}
	return false, nil
}

// LinkOrder attaches an order to an intent that has none yet.
func (r *IntentRepository) LinkOrder(ctx context.Context, id uuid.UUID, orderID int64) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, linkOrderSQL, id, orderID); err != nil {
		return fmt.Errorf("linking order %d to intent %s: %w", orderID, id, err)
	}
	return nil
}

func scanIntent(row pgx.CollectableRow) (payment.Intent, error) {
	var (
		in     payment.Intent
		status string
	)
	err := row.Scan(
		&in.ID, &in.PreferenceID, &status, &in.PaymentID, &in.OrderID,
		&in.Snapshot, &in.UserID, &in.CreatedAt, &in.UpdatedAt,
	)
	in.Status = payment.Status(status)
	return in, err
}
