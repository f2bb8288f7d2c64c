package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("faculty schedule lock not acquired")
)

// Locker serialises booking attempts for one faculty member's day across
// replicas. It narrows the race window in front of the database; the
// database transaction remains the authority on conflicts.
type Locker interface {
	WithScheduleLock(ctx context.Context, facultyID uuid.UUID, day string, fn func(ctx context.Context) error) error
}

type redisScheduleLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// NewRedisScheduleLocker creates a locker keyed per faculty and day. A
// contended lock is retried for up to wait before giving up.
func NewRedisScheduleLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisScheduleLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		retry:  25 * time.Millisecond,
	}
}

func lockKey(facultyID uuid.UUID, day string) string {
	return fmt.Sprintf("lock:schedule:%s:%s", facultyID.String(), day)
}

func (l *redisScheduleLocker) WithScheduleLock(ctx context.Context, facultyID uuid.UUID, day string, fn func(ctx context.Context) error) error {
	key := lockKey(facultyID, day)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisScheduleLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire schedule lock: %w", err)
		}
		if ok {
			return nil
		}
		if !time.Now().Add(l.retry).Before(deadline) {
			return ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisScheduleLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release schedule lock: %w", err)
	}
	return nil
}

// NoopLocker runs fn directly. For single-replica runs and tests where the
// store's own transaction is the only guard.
type NoopLocker struct{}

func (NoopLocker) WithScheduleLock(ctx context.Context, _ uuid.UUID, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
