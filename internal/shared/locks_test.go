package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLockManager(t *testing.T) *LockManager {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLockManager(client, 5*time.Second)
}

func TestStockLockKey(t *testing.T) {
	require.Equal(t, "stock:warehouse:3:wheat:lock", StockLockKey(3, "Wheat"))
	require.Equal(t, "stock:warehouse:7:any:lock", StockLockKey(7, ""))
}

func TestLockManagerMutualExclusion(t *testing.T) {
	manager := newTestLockManager(t)
	key := StockLockKey(1, "wheat")

	release, err := manager.Acquire(context.Background(), key)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = manager.Acquire(waitCtx, key)
	require.ErrorIs(t, err, ErrLockNotAcquired)

	release()

	release2, err := manager.Acquire(context.Background(), key)
	require.NoError(t, err)
	release2()
}

func TestLockManagerReleaseIsScopedToHolder(t *testing.T) {
	manager := newTestLockManager(t)
	key := StockLockKey(2, "flour")

	release, err := manager.Acquire(context.Background(), key)
	require.NoError(t, err)
	release()
	// Releasing twice must not delete a lock acquired by someone else.
	release2, err := manager.Acquire(context.Background(), key)
	require.NoError(t, err)
	release()

	waitCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = manager.Acquire(waitCtx, key)
	require.ErrorIs(t, err, ErrLockNotAcquired)
	release2()
}
