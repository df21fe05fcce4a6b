package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/giftbox-api/internal/domain/order"
)

const (
	// A single upsert keeps allocation atomic across replicas.
	nextCounterSQL = `INSERT INTO counters (name, value) VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
		RETURNING value`

	currentCounterSQL = `SELECT value FROM counters WHERE name = $1`
)

var _ order.CounterStore = (*CounterRepository)(nil)

// CounterRepository implements order.CounterStore backed by PostgreSQL.
type CounterRepository struct {
	pool *pgxpool.Pool
}

// NewCounterRepository returns a CounterRepository that uses the given pool.
func NewCounterRepository(pool *pgxpool.Pool) *CounterRepository {
	return &CounterRepository{pool: pool}
}

// Next increments the named counter and returns its new value.
func (r *CounterRepository) Next(ctx context.Context, name string) (int64, error) {
	var v int64
	if err := r.pool.QueryRow(ctx, nextCounterSQL, name).Scan(&v); err != nil {
		return 0, fmt.Errorf("incrementing counter %q: %w", name, err)
	}
	return v, nil
}

// Current returns the counter value without incrementing it. A counter that
// was never used reads as zero.
func (r *CounterRepository) Current(ctx context.Context, name string) (int64, error) {
	var v int64
	err := r.pool.QueryRow(ctx, currentCounterSQL, name).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading counter %q: %w", name, err)
	}
	return v, nil
}
