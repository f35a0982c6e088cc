package shared

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// StockLockKey builds the redis key serialising mutations for one commodity
// class within one warehouse. Heuristic deductions may touch any record of
// the class, so row locks alone cannot cover records created mid-flight.
func StockLockKey(warehouseID int64, commodityClass string) string {
	class := strings.ToLower(strings.TrimSpace(commodityClass))
	if class == "" {
		class = "any"
	}
	return fmt.Sprintf("stock:warehouse:%d:%s:lock", warehouseID, class)
}

// ErrLockNotAcquired indicates the lock was held for the whole wait window.
var ErrLockNotAcquired = errors.New("lock not acquired")

const lockRetryInterval = 50 * time.Millisecond

// LockManager provides advisory mutexes backed by redis.
type LockManager struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLockManager constructs a LockManager. The TTL bounds how long a crashed
// holder can block other workers.
func NewLockManager(client *redis.Client, ttl time.Duration) *LockManager {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &LockManager{client: client, ttl: ttl}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Acquire blocks until the lock is held or the context expires. The returned
// function releases the lock; releasing a lock lost to TTL expiry is a no-op.
func (m *LockManager) Acquire(ctx context.Context, key string) (func(), error) {
	if m == nil || m.client == nil {
		return func() {}, nil
	}
	token := uuid.NewString()
	for {
		ok, err := m.client.SetNX(ctx, key, token, m.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("shared: acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrLockNotAcquired, key)
		case <-time.After(lockRetryInterval):
		}
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, m.client, []string{key}, token).Err()
	}
	return release, nil
}
