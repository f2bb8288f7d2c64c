package redisclient

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestNewRedisClientPings(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), Options{Addr: mr.Addr(), PoolSize: 4})
	require.NoError(t, err)
	_ = client.Close()
}

func TestWithScheduleLockReleasesAfterRun(t *testing.T) {
	client, mr := newTestClient(t)
	locker := NewRedisScheduleLocker(client, time.Second, 0)
	facultyID := uuid.New()

	ran := false
	err := locker.WithScheduleLock(context.Background(), facultyID, "2025-03-10", func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists(lockKey(facultyID, "2025-03-10")))
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists(lockKey(facultyID, "2025-03-10")))
}

func TestWithScheduleLockContendedFailsFast(t *testing.T) {
	client, mr := newTestClient(t)
	facultyID := uuid.New()
	require.NoError(t, mr.Set(lockKey(facultyID, "2025-03-10"), "someone-else"))

	locker := NewRedisScheduleLocker(client, time.Second, 0)
	err := locker.WithScheduleLock(context.Background(), facultyID, "2025-03-10", func(context.Context) error {
		t.Fatal("critical section must not run")
		return nil
	})

	assert.ErrorIs(t, err, ErrLockNotAcquired)
	got, _ := mr.Get(lockKey(facultyID, "2025-03-10"))
	assert.Equal(t, "someone-else", got)
}

func TestWithScheduleLockDifferentDaysDoNotContend(t *testing.T) {
	client, mr := newTestClient(t)
	facultyID := uuid.New()
	require.NoError(t, mr.Set(lockKey(facultyID, "2025-03-10"), "held"))

	locker := NewRedisScheduleLocker(client, time.Second, 0)
	err := locker.WithScheduleLock(context.Background(), facultyID, "2025-03-11", func(context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestWithScheduleLockSerialisesWaiters(t *testing.T) {
	client, _ := newTestClient(t)
	locker := NewRedisScheduleLocker(client, 2*time.Second, 2*time.Second)
	facultyID := uuid.New()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithScheduleLock(context.Background(), facultyID, "2025-03-10", func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
}
