package rate

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

var testPolicy = Policy{MaxAttempts: 5, Window: 15 * time.Minute, Lockout: time.Minute}

func backends(t *testing.T, clock *fakeClock) map[string]Limiter {
	_, rdb := newTestRedis(t)
	return map[string]Limiter{
		"memory": NewMemory(clock.Now),
		"redis":  NewRedis(rdb, "test:", clock.Now),
	}
}

func TestLockoutAfterMaxAttempts(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	for name, l := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 5; i++ {
				d, err := l.IsLimited(ctx, "X", testPolicy)
				require.NoError(t, err)
				require.False(t, d.Limited, "attempt %d should not be limited", i+1)
				_, err = l.RecordAttempt(ctx, "X", testPolicy)
				require.NoError(t, err)
			}

			d, err := l.IsLimited(ctx, "X", testPolicy)
			require.NoError(t, err)
			require.True(t, d.Limited)
			require.Equal(t, time.Minute, d.RetryAfter)

			// Attempts during lockout neither count nor extend it.
			clock.Advance(30 * time.Second)
			_, err = l.RecordAttempt(ctx, "X", testPolicy)
			require.NoError(t, err)
			d, err = l.IsLimited(ctx, "X", testPolicy)
			require.NoError(t, err)
			require.True(t, d.Limited)
			require.Equal(t, 30*time.Second, d.RetryAfter)

			clock.Advance(30*time.Second + time.Millisecond)
			d, err = l.IsLimited(ctx, "X", testPolicy)
			require.NoError(t, err)
			require.False(t, d.Limited, "check right after the lockout ends must pass")
			require.Equal(t, 0, d.Attempts)
		})
	}
}

func TestWindowPrunesOldAttempts(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	for name, l := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 4; i++ {
				_, err := l.RecordAttempt(ctx, "Y", testPolicy)
				require.NoError(t, err)
			}
			clock.Advance(16 * time.Minute)

			d, err := l.RecordAttempt(ctx, "Y", testPolicy)
			require.NoError(t, err)
			require.False(t, d.Limited)
			require.Equal(t, 1, d.Attempts)
			require.Equal(t, 4, d.Remaining(testPolicy))
		})
	}
}

func TestResetClearsLockout(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	for name, l := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var last Decision
			var err error
			for i := 0; i < 5; i++ {
				last, err = l.RecordAttempt(ctx, "Z", testPolicy)
				require.NoError(t, err)
			}
			require.True(t, last.Limited, "fifth recorded attempt starts the lockout")

			require.NoError(t, l.ResetAttempts(ctx, "Z"))
			d, err := l.IsLimited(ctx, "Z", testPolicy)
			require.NoError(t, err)
			require.False(t, d.Limited)
		})
	}
}

func TestIdentifiersAreIndependent(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	for name, l := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 5; i++ {
				_, err := l.RecordAttempt(ctx, "a", testPolicy)
				require.NoError(t, err)
			}
			d, err := l.IsLimited(ctx, "b", testPolicy)
			require.NoError(t, err)
			require.False(t, d.Limited)
		})
	}
}

func TestConcurrentRecordsAreAllCounted(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	policy := Policy{MaxAttempts: 1000, Window: time.Hour, Lockout: time.Minute}
	for name, l := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for i := 0; i < 40; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = l.RecordAttempt(ctx, "C", policy)
				}()
			}
			wg.Wait()

			d, err := l.IsLimited(ctx, "C", policy)
			require.NoError(t, err)
			require.Equal(t, 40, d.Attempts)
		})
	}
}

func TestInvalidPolicyRejected(t *testing.T) {
	l := NewMemory(nil)
	_, err := l.IsLimited(context.Background(), "x", Policy{})
	require.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestMemoryDropsIdleIdentifiers(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := NewMemory(clock.Now)
	ctx := context.Background()

	_, err := l.RecordAttempt(ctx, "idle", testPolicy)
	require.NoError(t, err)
	require.Equal(t, 1, l.Len())

	clock.Advance(time.Hour)
	_, err = l.IsLimited(ctx, "idle", testPolicy)
	require.NoError(t, err)
	require.Equal(t, 0, l.Len())
}

func TestMemorySweepsRecordedButUncheckedIdentifiers(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := NewMemory(clock.Now)
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		_, err := l.RecordAttempt(ctx, "vi:onboarding:"+strconv.Itoa(i), testPolicy)
		require.NoError(t, err)
	}
	require.Equal(t, 1000, l.Len())

	clock.Advance(48 * time.Hour)
	_, err := l.RecordAttempt(ctx, "vi:onboarding:new", testPolicy)
	require.NoError(t, err)
	require.Equal(t, 1, l.Len())
}

func TestMemorySweepKeepsLiveState(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := NewMemory(clock.Now)
	ctx := context.Background()
	locking := Policy{MaxAttempts: 1, Window: time.Minute, Lockout: time.Hour}

	_, err := l.RecordAttempt(ctx, "locked", locking)
	require.NoError(t, err)
	_, err = l.RecordAttempt(ctx, "stale", Policy{MaxAttempts: 5, Window: time.Minute, Lockout: time.Hour})
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	require.Equal(t, 1, l.Sweep())
	d, err := l.IsLimited(ctx, "locked", locking)
	require.NoError(t, err)
	require.True(t, d.Limited)
}

func TestRedisUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	l := NewRedis(rdb, "", nil)
	mr.Close()

	_, err = l.IsLimited(context.Background(), "x", testPolicy)
	require.ErrorIs(t, err, ErrRedisUnavailable)
}

func TestRedisKeysUsePrefix(t *testing.T) {
	mr, rdb := newTestRedis(t)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := NewRedis(rdb, "", clock.Now)

	_, err := l.RecordAttempt(context.Background(), "k", testPolicy)
	require.NoError(t, err)
	require.True(t, mr.Exists("orl:w:k"))
}

func TestRedisLockoutKeyWritten(t *testing.T) {
	mr, rdb := newTestRedis(t)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := NewRedis(rdb, "p:", clock.Now)
	policy := Policy{MaxAttempts: 1, Window: time.Minute, Lockout: time.Minute}

	d, err := l.RecordAttempt(context.Background(), "k", policy)
	require.NoError(t, err)
	require.True(t, d.Limited)
	require.True(t, mr.Exists("p:l:k"))
	require.False(t, mr.Exists("p:w:k"))
}
