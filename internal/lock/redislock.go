package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockLost is returned when the lease expired or was taken over while the
// callback was running. The callback's context is cancelled at that point.
var ErrLockLost = errors.New("lock: lease lost")

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Locker provides a Redis-backed distributed lock so that several gateway
// instances sharing a session store serialize work on the same token. The
// lease is renewed every ttl/3 while the callback runs.
type Locker struct {
	R            *redis.Client
	Prefix       string
	RetryBackoff time.Duration
}

// WithLock executes fn while holding a lock for the provided key. The lock is
// released when fn returns, including on error. When the lock cannot be
// acquired before the context is cancelled the context error is returned.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	key = l.Prefix + key
	token := uuid.NewString()
	if err := l.acquire(ctx, key, token, ttl); err != nil {
		return err
	}
	defer func() { _ = releaseScript.Run(context.Background(), l.R, []string{key}, token).Err() }()

	leaseCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.renew(leaseCtx, key, token, ttl, stop, cancel)
	}()

	err := fn(leaseCtx)
	close(stop)
	wg.Wait()
	if errors.Is(context.Cause(leaseCtx), ErrLockLost) {
		return ErrLockLost
	}
	return err
}

func (l Locker) acquire(ctx context.Context, key, token string, ttl time.Duration) error {
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// renew extends the lease until stop is closed. A failed renewal cancels the
// callback with ErrLockLost; transient Redis errors are retried next tick.
func (l Locker) renew(ctx context.Context, key, token string, ttl time.Duration, stop <-chan struct{}, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := renewScript.Run(ctx, l.R, []string{key}, token, ttl.Milliseconds()).Int64()
			if err == nil && n == 0 {
				cancel(ErrLockLost)
				return
			}
		}
	}
}
