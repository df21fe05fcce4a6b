package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/giftbox-api/internal/domain/intent"
)

const (
	intentColumns = `id, gateway_order_id, user_id, items, total_amount, discount, delivery_fee,
		final_amount, address, coupon_code, coupon_id, status, payment_id, expires_at,
		created_at, updated_at`

	createIntentSQL = `INSERT INTO payment_intents (id, gateway_order_id, user_id, items,
		total_amount, discount, delivery_fee, final_amount, address, coupon_code, coupon_id,
		status, payment_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at`

	getIntentSQL = `SELECT ` + intentColumns + ` FROM payment_intents WHERE gateway_order_id = $1`

	setIntentStatusSQL = `UPDATE payment_intents SET status = $2, updated_at = now()
		WHERE gateway_order_id = $1`

	// A completed intent already became an order; its payment is settled.
	// A new payment on a failed intent reopens it.
	recordIntentPaymentSQL = `UPDATE payment_intents SET
			status = CASE WHEN status = 'failed' AND payment_id <> $2 THEN 'pending' ELSE status END,
			payment_id = $2,
			updated_at = now()
		WHERE gateway_order_id = $1 AND status <> 'completed'`

	deleteExpiredIntentsSQL = `DELETE FROM payment_intents
		WHERE expires_at < $1 AND (payment_id = '' OR status IN ('completed', 'failed'))`

	markIntentsExpiredSQL = `UPDATE payment_intents SET status = 'expired', updated_at = now()
		WHERE expires_at < $1 AND status = 'pending' AND payment_id <> ''`

	listUnreconciledIntentsSQL = `SELECT ` + intentColumns + ` FROM payment_intents
		WHERE payment_id <> '' AND status IN ('pending', 'expired')
		ORDER BY created_at`
)

var _ intent.Repository = (*IntentRepository)(nil)

// IntentRepository implements intent.Repository backed by PostgreSQL.
type IntentRepository struct {
	pool *pgxpool.Pool
}

// NewIntentRepository returns an IntentRepository that uses the given pool.
func NewIntentRepository(pool *pgxpool.Pool) *IntentRepository {
	return &IntentRepository{pool: pool}
}

// Create inserts a new intent.
func (r *IntentRepository) Create(ctx context.Context, in *intent.Intent) error {
	itemsJSON, err := json.Marshal(in.Items)
	if err != nil {
		return fmt.Errorf("marshaling intent items: %w", err)
	}
	addressJSON, err := json.Marshal(in.Address)
	if err != nil {
		return fmt.Errorf("marshaling intent address: %w", err)
	}
	err = r.pool.QueryRow(ctx, createIntentSQL,
		in.ID, in.GatewayOrderID, in.UserID, itemsJSON, in.TotalAmount, in.Discount,
		in.DeliveryFee, in.FinalAmount, addressJSON, in.CouponCode, in.CouponID,
		string(in.Status), in.PaymentID, in.ExpiresAt,
	).Scan(&in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating intent for %q: %w", in.GatewayOrderID, err)
	}
	return nil
}

// GetByGatewayOrderID returns the intent for a gateway order.
func (r *IntentRepository) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*intent.Intent, error) {
	rows, err := r.pool.Query(ctx, getIntentSQL, gatewayOrderID)
	if err != nil {
		return nil, fmt.Errorf("getting intent %q: %w", gatewayOrderID, err)
	}
	in, err := pgx.CollectExactlyOneRow(rows, scanIntent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, intent.ErrNotFound
		}
		return nil, fmt.Errorf("getting intent %q: %w", gatewayOrderID, err)
	}
	return &in, nil
}

// SetStatus moves the intent to status.
func (r *IntentRepository) SetStatus(ctx context.Context, gatewayOrderID string, status intent.Status) error {
	tag, err := r.pool.Exec(ctx, setIntentStatusSQL, gatewayOrderID, string(status))
	if err != nil {
		return fmt.Errorf("setting status of intent %q: %w", gatewayOrderID, err)
	}
	if tag.RowsAffected() == 0 {
		return intent.ErrNotFound
	}
	return nil
}

// RecordPayment stores the payment id on an intent that has not completed.
func (r *IntentRepository) RecordPayment(ctx context.Context, gatewayOrderID, paymentID string) error {
	tag, err := r.pool.Exec(ctx, recordIntentPaymentSQL, gatewayOrderID, paymentID)
	if err != nil {
		return fmt.Errorf("recording payment on intent %q: %w", gatewayOrderID, err)
	}
	if tag.RowsAffected() == 0 {
		return intent.ErrNotFound
	}
	return nil
}

// DeleteExpired removes expired intents that hold no unreconciled payment:
// unpaid, completed, or failed with the payment refunded or declined.
func (r *IntentRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, deleteExpiredIntentsSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting expired intents: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkExpired flags pending paid intents past cutoff as expired.
func (r *IntentRepository) MarkExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, markIntentsExpiredSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("marking intents expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListUnreconciled returns paid intents without an order, oldest first.
func (r *IntentRepository) ListUnreconciled(ctx context.Context) ([]intent.Intent, error) {
	rows, err := r.pool.Query(ctx, listUnreconciledIntentsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing unreconciled intents: %w", err)
	}
	intents, err := pgx.CollectRows(rows, scanIntent)
	if err != nil {
		return nil, fmt.Errorf("listing unreconciled intents: %w", err)
	}
	return intents, nil
}

func scanIntent(row pgx.CollectableRow) (intent.Intent, error) {
	var (
		in      intent.Intent
		items   []byte
		address []byte
		status  string
	)
	if err := row.Scan(
		&in.ID, &in.GatewayOrderID, &in.UserID, &items, &in.TotalAmount, &in.Discount,
		&in.DeliveryFee, &in.FinalAmount, &address, &in.CouponCode, &in.CouponID, &status,
		&in.PaymentID, &in.ExpiresAt, &in.CreatedAt, &in.UpdatedAt,
	); err != nil {
		return in, err
	}
	in.Status = intent.Status(status)
	if err := json.Unmarshal(items, &in.Items); err != nil {
		return in, fmt.Errorf("unmarshaling items of intent %q: %w", in.GatewayOrderID, err)
	}
	if err := json.Unmarshal(address, &in.Address); err != nil {
		return in, fmt.Errorf("unmarshaling address of intent %q: %w", in.GatewayOrderID, err)
	}
	return in, nil
}
