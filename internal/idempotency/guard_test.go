package idempotency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
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

func newGuard(t *testing.T, cfg Config, locker Locker) *Guard[string] {
	t.Helper()
	if cfg.SuppressionTTL == 0 {
		cfg.SuppressionTTL = time.Minute
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = 100
	}
	g, err := New[string](cfg, locker)
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g
}

func TestLocalLockerSerializesSameKey(t *testing.T) {
	g := newGuard(t, Config{}, nil)

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.WithLock(context.Background(), "e", func(context.Context) error {
				n := atomic.AddInt32(&active, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), peak)
}

func TestLocalLockerDifferentKeysDoNotBlock(t *testing.T) {
	locker := NewLocalLocker()
	releaseA, err := locker.Acquire(context.Background(), "a")
	require.NoError(t, err)
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	releaseB, err := locker.Acquire(ctx, "b")
	require.NoError(t, err)
	releaseB()
}

func TestWithLockTimeout(t *testing.T) {
	locker := NewLocalLocker()
	g := newGuard(t, Config{AcquireTimeout: 20 * time.Millisecond}, locker)

	release, err := locker.Acquire(context.Background(), "e")
	require.NoError(t, err)

	ran := false
	err = g.WithLock(context.Background(), "e", func(context.Context) error {
		ran = true
		return nil
	})
	require.ErrorIs(t, err, ErrLockTimeout)
	require.False(t, ran)

	release()
	require.Equal(t, 0, locker.Len())
}

func TestWithLockReleasesOnPanicAndError(t *testing.T) {
	locker := NewLocalLocker()
	g := newGuard(t, Config{AcquireTimeout: 50 * time.Millisecond}, locker)

	func() {
		defer func() { require.NotNil(t, recover()) }()
		_ = g.WithLock(context.Background(), "e", func(context.Context) error {
			panic("boom")
		})
	}()

	boom := errors.New("boom")
	err := g.WithLock(context.Background(), "e", func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	require.NoError(t, g.WithLock(context.Background(), "e", func(context.Context) error { return nil }))
	require.Equal(t, 0, locker.Len())
}

func TestReleaseIsIdempotent(t *testing.T) {
	locker := NewLocalLocker()
	release, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)
	release()
	release()

	second, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)
	release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "k")
	require.ErrorIs(t, err, ErrLockTimeout, "stale release must not free a later holder")
	second()
}

func TestSuppressionWithinGracePeriod(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g := newGuard(t, Config{GracePeriod: 5 * time.Second, Now: clock.Now}, nil)
	sig := Signature("inst", "CAPTURE_INPUT", "default", "a@b.co")

	hit, _ := g.ShouldSuppress("e", sig)
	require.False(t, hit)

	g.RecordExecution("e", sig, "first")
	clock.Advance(4 * time.Second)
	hit, res := g.ShouldSuppress("e", sig)
	require.True(t, hit)
	require.Equal(t, "first", res)

	hit, _ = g.ShouldSuppress("other", sig)
	require.False(t, hit, "signatures are scoped per entity")

	clock.Advance(2 * time.Second)
	hit, _ = g.ShouldSuppress("e", sig)
	require.False(t, hit, "signature older than the grace period must not suppress")
}

func TestLookupDistinguishesStaleMatches(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g := newGuard(t, Config{GracePeriod: 5 * time.Second, SuppressionTTL: time.Minute, Now: clock.Now}, nil)

	m, _ := g.Lookup("e", "sig")
	require.Equal(t, MatchNone, m)

	g.RecordExecution("e", "sig", "r")
	m, res := g.Lookup("e", "sig")
	require.Equal(t, MatchFresh, m)
	require.Equal(t, "r", res)

	clock.Advance(10 * time.Second)
	m, res = g.Lookup("e", "sig")
	require.Equal(t, MatchStale, m)
	require.Equal(t, "r", res)

	g.Forget("e", "sig")
	m, _ = g.Lookup("e", "sig")
	require.Equal(t, MatchNone, m)
}

func TestZeroGraceSuppressesForWholeTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g := newGuard(t, Config{SuppressionTTL: 30 * time.Second, Now: clock.Now}, nil)

	g.RecordExecution("e", "sig", "r")
	clock.Advance(29 * time.Second)
	hit, _ := g.ShouldSuppress("e", "sig")
	require.True(t, hit)

	clock.Advance(2 * time.Second)
	hit, _ = g.ShouldSuppress("e", "sig")
	require.False(t, hit)
}

func TestConcurrentDuplicatesExecuteOnce(t *testing.T) {
	g := newGuard(t, Config{GracePeriod: 5 * time.Second}, nil)
	sig := Signature("inst", "CAPTURE_INPUT", "default", "user@example.com")

	var executed int32
	var suppressed int32
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.WithLock(context.Background(), "42", func(context.Context) error {
				if hit, _ := g.ShouldSuppress("42", sig); hit {
					atomic.AddInt32(&suppressed, 1)
					return nil
				}
				atomic.AddInt32(&executed, 1)
				g.RecordExecution("42", sig, "done")
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), executed)
	require.Equal(t, int32(24), suppressed)
}

func TestSignatureNormalization(t *testing.T) {
	base := Signature("i", "s", "v", "user@example.com")
	require.Equal(t, base, Signature("i", "s", "v", "  User@Example.COM "))
	require.Equal(t, Signature("i", "s", "v", "caf\u00e9"), Signature("i", "s", "v", "cafe\u0301"))

	require.NotEqual(t, base, Signature("j", "s", "v", "user@example.com"))
	require.NotEqual(t, base, Signature("i", "s", "w", "user@example.com"))
	require.NotEqual(t, Signature("ab", "c", "v", "x"), Signature("a", "bc", "v", "x"))
	require.Len(t, base, 64)
}

func TestConfigValidate(t *testing.T) {
	_, err := New[string](Config{SuppressionTTL: 0, MaxEntries: 1}, nil)
	require.Error(t, err)
	_, err = New[string](Config{SuppressionTTL: time.Second, MaxEntries: 1, GracePeriod: -1}, nil)
	require.Error(t, err)
	_, err = New[string](Config{SuppressionTTL: time.Second}, nil)
	require.Error(t, err)
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

func TestRedisLockerExclusion(t *testing.T) {
	mr, rdb := newTestRedis(t)
	locker := NewRedisLocker(rdb, RedisLockerConfig{Lease: 10 * time.Second, PollInterval: 2 * time.Millisecond})

	release, err := locker.Acquire(context.Background(), "42")
	require.NoError(t, err)
	require.True(t, mr.Exists("olk:42"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "42")
	require.ErrorIs(t, err, ErrLockTimeout)

	release()
	require.False(t, mr.Exists("olk:42"))

	again, err := locker.Acquire(context.Background(), "42")
	require.NoError(t, err)
	again()
}

func TestRedisLockerStaleReleaseKeepsNewHolder(t *testing.T) {
	mr, rdb := newTestRedis(t)
	locker := NewRedisLocker(rdb, RedisLockerConfig{Lease: time.Second})

	stale, err := locker.Acquire(context.Background(), "42")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	current, err := locker.Acquire(context.Background(), "42")
	require.NoError(t, err)

	stale()
	require.True(t, mr.Exists("olk:42"), "expired holder must not delete the new lease")
	current()
	require.False(t, mr.Exists("olk:42"))
}

func TestRedisLockerUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	mr.Close()
	locker := NewRedisLocker(rdb, RedisLockerConfig{})
	_, err := locker.Acquire(context.Background(), "42")
	require.ErrorIs(t, err, ErrLockUnavailable)
}
