package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-punchout/internal/lock"
)

func newRedisLocker(t *testing.T) (lock.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client, Prefix: "lock:", RetryBackoff: 5 * time.Millisecond}, mr
}

func TestWithLockSerializesSessionToken(t *testing.T) {
	locker, mr := newRedisLocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}
	firstHeld := make(chan struct{})
	releaseFirst := make(chan struct{})
	errs := make(chan error, 2)

	go func() {
		errs <- locker.WithLock(ctx, "session:tok-1", time.Second, func(context.Context) error {
			record("prepare")
			close(firstHeld)
			<-releaseFirst
			return nil
		})
	}()
	<-firstHeld
	require.True(t, mr.Exists("lock:session:tok-1"))

	go func() {
		errs <- locker.WithLock(ctx, "session:tok-1", time.Second, func(context.Context) error {
			record("transfer")
			return nil
		})
	}()
	close(releaseFirst)

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	require.Equal(t, []string{"prepare", "transfer"}, order)
	require.False(t, mr.Exists("lock:session:tok-1"))
}

func TestWithLockRenewsLeaseWhileRunning(t *testing.T) {
	locker, mr := newRedisLocker(t)
	ttl := 300 * time.Millisecond

	err := locker.WithLock(context.Background(), "session:slow", ttl, func(ctx context.Context) error {
		mr.FastForward(200 * time.Millisecond)
		require.Eventually(t, func() bool {
			return mr.TTL("lock:session:slow") > 200*time.Millisecond
		}, time.Second, 10*time.Millisecond)
		return ctx.Err()
	})
	require.NoError(t, err)
}

func TestWithLockCancelsCallbackWhenLeaseLost(t *testing.T) {
	locker, mr := newRedisLocker(t)

	err := locker.WithLock(context.Background(), "session:lost", 150*time.Millisecond, func(ctx context.Context) error {
		mr.Del("lock:session:lost")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
			return errors.New("callback was not cancelled")
		}
	})
	require.ErrorIs(t, err, lock.ErrLockLost)
}

func TestWithLockGivesUpWhenContextEnds(t *testing.T) {
	locker, mr := newRedisLocker(t)
	require.NoError(t, mr.Set("lock:session:busy", "other-instance"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := locker.WithLock(ctx, "session:busy", time.Second, func(context.Context) error {
		t.Fatal("callback must not run without the lock")
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	got, _ := mr.Get("lock:session:busy")
	require.Equal(t, "other-instance", got)
}
