package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/repository"
)

const lockKey = "wawp:reconcile_lock"

// releaseScript deletes the lock only when this process still owns it, so a
// run that outlives its TTL cannot release a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSyncLock is the system-wide mutual-exclusion marker around
// reconciliation, implemented as SET NX with a TTL. The scheduler can fire a
// job while a previous run is still in flight; the second acquire fails.
type RedisSyncLock struct {
	client redis.UniversalClient
	owner  string
}

var _ repository.SyncLock = (*RedisSyncLock)(nil)

// NewRedisSyncLock constructs the lock with a per-process owner token.
func NewRedisSyncLock(client redis.UniversalClient) *RedisSyncLock {
	return &RedisSyncLock{client: client, owner: uuid.NewString()}
}

// Acquire attempts to take the lock; false means another run holds it.
func (l *RedisSyncLock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	ok, err := l.client.SetNX(ctx, lockKey, l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire reconcile lock: %w", err)
	}
	return ok, nil
}

// Release frees the lock when still held by this process.
func (l *RedisSyncLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{lockKey}, l.owner).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release reconcile lock: %w", err)
	}
	return nil
}
