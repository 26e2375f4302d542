package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another replica holds the lease.
var ErrLockHeld = errors.New("lease held by another instance")

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0`)

// LeaseLock is a single-key Redis lease. The TTL bounds how long a crashed
// holder can block other replicas.
type LeaseLock struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewLeaseLock builds a lease on key.
func NewLeaseLock(client redis.UniversalClient, key string, ttl time.Duration) *LeaseLock {
	return &LeaseLock{client: client, key: key, ttl: ttl}
}

// Acquire takes the lease or returns ErrLockHeld. The returned release only
// deletes the key while this holder still owns it.
func (l *LeaseLock) Acquire(ctx context.Context) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("release lease %s: %w", l.key, err)
		}
		return nil
	}, nil
}
