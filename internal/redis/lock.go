package redisclient

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	ErrLockNotAcquired = errors.New("slot lock not acquired")

	errLockUnavailable = errors.New("slot lock unavailable")
)

// Locker guards the booking critical sections per slot. Names identify the
// slots involved; they are acquired in sorted order so that two callers
// needing the same pair cannot deadlock.
type Locker interface {
	WithLocks(ctx context.Context, names []string, fn func(ctx context.Context) error) error
}

// NopLocker runs fn directly. Used when Redis is disabled; storage-level
// conditional updates still prevent double booking.
type NopLocker struct{}

func (NopLocker) WithLocks(ctx context.Context, _ []string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type redisSlotLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
	logger zerolog.Logger
}

// NewRedisSlotLocker creates a locker that uses one Redis key per slot. A
// busy lock is retried every 25ms for up to wait before giving up with
// ErrLockNotAcquired. When Redis itself cannot be reached fn still runs,
// unlocked, and a warning is logged.
func NewRedisSlotLocker(client *redis.Client, ttl, wait time.Duration, logger zerolog.Logger) Locker {
	return &redisSlotLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		retry:  25 * time.Millisecond,
		logger: logger,
	}
}

func lockKey(name string) string {
	return "lock:slot:" + name
}

func (l *redisSlotLocker) WithLocks(ctx context.Context, names []string, fn func(ctx context.Context) error) error {
	keys := make([]string, 0, len(names))
	for _, n := range names {
		keys = append(keys, lockKey(n))
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)

	token := uuid.NewString()
	var held []string
	defer func() {
		releaseCtx := context.WithoutCancel(ctx)
		for i := len(held) - 1; i >= 0; i-- {
			_ = l.release(releaseCtx, held[i], token)
		}
	}()

	for _, key := range keys {
		err := l.acquire(ctx, key, token)
		if errors.Is(err, errLockUnavailable) {
			l.logger.Warn().Err(err).Str("key", key).Msg("running without slot lock")
			break
		}
		if err != nil {
			return err
		}
		held = append(held, key)
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisSlotLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", errLockUnavailable, err)
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrLockNotAcquired
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
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

func (l *redisSlotLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release slot lock: %w", err)
	}
	return nil
}
