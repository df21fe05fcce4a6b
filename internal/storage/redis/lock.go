// Package redis provides distributed locks on Redis.
package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/giftbox-api/internal/domain/checkout"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another holder is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ checkout.Locker = (*Locker)(nil)

// Locker implements checkout.Locker with SET NX PX.
type Locker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewLocker creates a Locker. Keys are namespaced with prefix and expire
// after ttl even if never released.
func NewLocker(client redis.UniversalClient, prefix string, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{client: client, prefix: prefix, ttl: ttl}
}

// TryLock acquires key without waiting. It returns checkout.ErrLockHeld when
// another holder owns the key.
func (l *Locker) TryLock(ctx context.Context, key string) (checkout.Unlock, error) {
	name := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "acquire lock %q", name)
	}
	if !ok {
		return nil, checkout.ErrLockHeld
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{name}, token).Err(); err != nil {
			return errors.Wrapf(err, "release lock %q", name)
		}
		return nil
	}, nil
}

// Ping checks connectivity. It is used by the readiness probe.
func (l *Locker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
