//go:build integration

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/giftbox-api/internal/domain/checkout"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	ctr, err := testcontainers.Run(ctx, "redis:7-alpine",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	addr, err := ctr.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLocker(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	l := NewLocker(client, "giftbox:", time.Minute)

	require.NoError(t, l.Ping(ctx))

	unlock, err := l.TryLock(ctx, "confirm:order_1")
	require.NoError(t, err)

	_, err = l.TryLock(ctx, "confirm:order_1")
	require.ErrorIs(t, err, checkout.ErrLockHeld)

	other, err := l.TryLock(ctx, "confirm:order_2")
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, unlock(ctx))
	again, err := l.TryLock(ctx, "confirm:order_1")
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestLocker_StaleUnlockKeepsNewHolder(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	l := NewLocker(client, "giftbox:", 50*time.Millisecond)

	stale, err := l.TryLock(ctx, "k")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return client.Exists(ctx, "giftbox:k").Val() == 0
	}, time.Second, 10*time.Millisecond)

	l.ttl = time.Minute
	_, err = l.TryLock(ctx, "k")
	require.NoError(t, err)

	require.NoError(t, stale(ctx))
	assert.EqualValues(t, 1, client.Exists(ctx, "giftbox:k").Val(), "stale holder must not release")
}
