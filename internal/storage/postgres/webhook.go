package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const markWebhookProcessedSQL = `INSERT INTO webhook_events (event_id, event) VALUES ($1, $2)
	ON CONFLICT (event_id) DO NOTHING`

// WebhookEventRepository records processed gateway webhook deliveries.
type WebhookEventRepository struct {
	pool *pgxpool.Pool
}

// NewWebhookEventRepository returns a WebhookEventRepository that uses the
// given pool.
func NewWebhookEventRepository(pool *pgxpool.Pool) *WebhookEventRepository {
	return &WebhookEventRepository{pool: pool}
}

// MarkProcessed records eventID and reports whether it had not been seen.
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, eventID, event string) (bool, error) {
	tag, err := r.pool.Exec(ctx, markWebhookProcessedSQL, eventID, event)
	if err != nil {
		return false, fmt.Errorf("marking webhook event %q: %w", eventID, err)
	}
	return tag.RowsAffected() == 1, nil
}
