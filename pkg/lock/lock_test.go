package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// exercise runs workers goroutines that each take the lock and bump a counter
// that must never be observed above one.
func exercise(t *testing.T, l Locker, workers int) {
	t.Helper()
	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "loan-1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			assert.NoError(t, release(context.Background()))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen)
}

func TestLocalLocker_MutualExclusion(t *testing.T) {
	l := NewLocalLocker()
	exercise(t, l, 8)
	assert.Empty(t, l.keys)
}

func TestLocalLocker_ContextCancelled(t *testing.T) {
	l := NewLocalLocker()
	release, err := l.Acquire(context.Background(), "loan-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "loan-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Other keys are independent.
	other, err := l.Acquire(context.Background(), "loan-2")
	require.NoError(t, err)
	require.NoError(t, other(context.Background()))

	require.NoError(t, release(context.Background()))
	require.NoError(t, release(context.Background()))
	assert.Empty(t, l.keys)
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	_, client := newTestRedis(t)
	l := NewRedisLocker(client, time.Second)
	l.retryDelay = time.Millisecond
	exercise(t, l, 4)
}

func TestRedisLocker_AcquireAndRelease(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewRedisLocker(client, 0)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "loan-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists(keyPrefix+"loan-1"))
	assert.Equal(t, defaultTTL, mr.TTL(keyPrefix+"loan-1"))

	waitCtx, cancel := context.WithTimeout(ctx, 60*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(waitCtx, "loan-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists(keyPrefix+"loan-1"))
}

func TestRedisLocker_ExpiredLockIsNotReleasedByOldHolder(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewRedisLocker(client, time.Second)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "loan-1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	second, err := l.Acquire(ctx, "loan-1")
	require.NoError(t, err)

	err = release(ctx)
	assert.ErrorIs(t, err, ErrNotHeld)
	assert.True(t, mr.Exists(keyPrefix+"loan-1"), "the new holder keeps its lock")

	require.NoError(t, second(ctx))
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), mr.Addr())
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = NewRedisClient(context.Background(), "127.0.0.1:1")
	assert.Error(t, err)
}
