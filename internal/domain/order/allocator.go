package order

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
)

// CounterName is the counter record backing order identifiers.
const CounterName = "order"

// CounterStore atomically increments named counters.
type CounterStore interface {
	// Next increments the named counter in one round trip and returns the
	// new value. A missing counter starts at 1.
	Next(ctx context.Context, name string) (int64, error)
}

// Allocator hands out human-readable, strictly increasing order ids.
type Allocator struct {
	counters CounterStore
}

// NewAllocator creates an Allocator over the given counter store.
func NewAllocator(counters CounterStore) *Allocator {
	return &Allocator{counters: counters}
}

// Next allocates the next order id.
func (a *Allocator) Next(ctx context.Context) (string, error) {
	n, err := a.counters.Next(ctx, CounterName)
	if err != nil {
		return "", errors.Wrap(err, "increment order counter")
	}
	return FormatID(n), nil
}

// FormatID renders a counter value as an order id. Values past 9999 widen,
// so listings sort ids by length before text.
func FormatID(n int64) string {
	return fmt.Sprintf("ORD%04d", n)
}
