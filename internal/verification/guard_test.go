package verification

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goOnboard/hashing"
	"github.com/MrEthical07/goOnboard/internal/rate"
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

func testConfig() Config {
	return Config{
		CodeDigits:     6,
		CodeTTL:        10 * time.Minute,
		MaxAttempts:    5,
		IdentityPolicy: rate.Policy{MaxAttempts: 5, Window: 15 * time.Minute, Lockout: 15 * time.Minute},
		SourcePolicy:   rate.Policy{MaxAttempts: 20, Window: 15 * time.Minute, Lockout: 15 * time.Minute},
		IssuePolicy:    rate.Policy{MaxAttempts: 3, Window: time.Hour, Lockout: time.Hour},
	}
}

func testHasher(t *testing.T) hashing.Hasher {
	t.Helper()
	h, err := hashing.NewHMAC(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	return h
}

type harness struct {
	guard   *Guard
	store   *MemoryStore
	limiter *rate.Memory
	clock   *fakeClock
	events  []Event
	mu      sync.Mutex
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{clock: &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}}
	h.store = NewMemoryStore(128, h.clock.Now)
	h.limiter = rate.NewMemory(h.clock.Now)
	g, err := New(cfg, Deps{
		Store:   h.store,
		Limiter: h.limiter,
		Hasher:  testHasher(t),
		Now:     h.clock.Now,
		Report: func(_ context.Context, ev Event) {
			h.mu.Lock()
			h.events = append(h.events, ev)
			h.mu.Unlock()
		},
	})
	require.NoError(t, err)
	h.guard = g
	return h
}

func (h *harness) count(kind EventKind) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, ev := range h.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func wrongCode(code string) string {
	if code == "000000" {
		return "000001"
	}
	return "000000"
}

func TestIssueStoresOnlyHash(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	issued, err := h.guard.Issue(ctx, "42", "onboarding")
	require.NoError(t, err)
	require.Len(t, issued.Code, 6)
	require.Equal(t, h.clock.Now().Add(10*time.Minute), issued.ExpiresAt)

	rec, ok := h.store.Peek("onboarding:42")
	require.True(t, ok)
	require.NotContains(t, rec.CodeHash, issued.Code)
	require.True(t, strings.HasPrefix(rec.CodeHash, "$hmac-sha256$"))
	require.Equal(t, 0, rec.Attempts)
	require.Equal(t, 1, h.count(EventIssued))
}

func TestVerifyCorrectCodeIsTerminal(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	issued, err := h.guard.Issue(ctx, "42", "onboarding")
	require.NoError(t, err)

	res, err := h.guard.Verify(ctx, "42", "onboarding", issued.Code, "10.0.0.1")
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = h.guard.Verify(ctx, "42", "onboarding", issued.Code, "10.0.0.1")
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, ReasonAlreadyVerified, res.Reason)
}

func TestWrongCodesLockOutUntilReissue(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	issued, err := h.guard.Issue(ctx, "42", "onboarding")
	require.NoError(t, err)
	bad := wrongCode(issued.Code)

	for i := 1; i <= 5; i++ {
		res, err := h.guard.Verify(ctx, "42", "onboarding", bad, "")
		require.NoError(t, err)
		require.Equal(t, ReasonMismatch, res.Reason)
		require.Equal(t, 5-i, res.RemainingAttempts)
	}
	require.Equal(t, 5, h.count(EventFailed))
	require.GreaterOrEqual(t, h.count(EventLockout), 1)

	res, err := h.guard.Verify(ctx, "42", "onboarding", issued.Code, "")
	require.NoError(t, err)
	require.False(t, res.Success, "sixth attempt must be rejected even with the right code")
	require.Equal(t, ReasonLimited, res.Reason)
	require.Equal(t, 15*time.Minute, res.Lockout)

	fresh, err := h.guard.Issue(ctx, "42", "onboarding")
	require.NoError(t, err)
	rec, ok := h.store.Peek("onboarding:42")
	require.True(t, ok)
	require.Equal(t, 0, rec.Attempts)

	res, err = h.guard.Verify(ctx, "42", "onboarding", fresh.Code, "")
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestAttemptsExhaustedWithoutLimiterLockout(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 2
	h := newHarness(t, cfg)
	ctx := context.Background()

	issued, err := h.guard.Issue(ctx, "a", "onboarding")
	require.NoError(t, err)
	bad := wrongCode(issued.Code)

	for i := 0; i < 2; i++ {
		_, err := h.guard.Verify(ctx, "a", "onboarding", bad, "")
		require.NoError(t, err)
	}
	res, err := h.guard.Verify(ctx, "a", "onboarding", issued.Code, "")
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, ReasonAttemptsExhausted, res.Reason)
}

func TestLockoutEndsAndCorrectCodeSucceeds(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 10
	cfg.IdentityPolicy.Lockout = time.Minute
	h := newHarness(t, cfg)
	ctx := context.Background()

	issued, err := h.guard.Issue(ctx, "x", "onboarding")
	require.NoError(t, err)
	bad := wrongCode(issued.Code)
	for i := 0; i < 5; i++ {
		_, err := h.guard.Verify(ctx, "x", "onboarding", bad, "")
		require.NoError(t, err)
	}

	res, err := h.guard.Verify(ctx, "x", "onboarding", issued.Code, "")
	require.NoError(t, err)
	require.Equal(t, ReasonLimited, res.Reason)

	h.clock.Advance(time.Minute + time.Millisecond)
	res, err = h.guard.Verify(ctx, "x", "onboarding", issued.Code, "")
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestSourceLimitIsIndependentOfIdentity(t *testing.T) {
	cfg := testConfig()
	cfg.SourcePolicy = rate.Policy{MaxAttempts: 2, Window: time.Minute, Lockout: time.Minute}
	h := newHarness(t, cfg)
	ctx := context.Background()

	for _, id := range []string{"u1", "u2"} {
		_, err := h.guard.Verify(ctx, id, "onboarding", "123456", "198.51.100.7")
		require.NoError(t, err)
	}

	issued, err := h.guard.Issue(ctx, "u3", "onboarding")
	require.NoError(t, err)
	res, err := h.guard.Verify(ctx, "u3", "onboarding", issued.Code, "198.51.100.7")
	require.NoError(t, err)
	require.Equal(t, ReasonLimited, res.Reason)

	rec, ok := h.store.Peek("onboarding:u3")
	require.True(t, ok)
	require.Equal(t, 0, rec.Attempts, "limited calls must not touch the record")

	res, err = h.guard.Verify(ctx, "u3", "onboarding", issued.Code, "198.51.100.8")
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestExpiredCode(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	issued, err := h.guard.Issue(ctx, "e", "onboarding")
	require.NoError(t, err)
	h.clock.Advance(10*time.Minute + time.Second)

	res, err := h.guard.Verify(ctx, "e", "onboarding", issued.Code, "")
	require.NoError(t, err)
	require.Equal(t, ReasonExpired, res.Reason)
}

func TestNotFound(t *testing.T) {
	h := newHarness(t, testConfig())
	res, err := h.guard.Verify(context.Background(), "ghost", "onboarding", "123456", "")
	require.NoError(t, err)
	require.Equal(t, ReasonNotFound, res.Reason)
}

func TestIssueIsThrottled(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := h.guard.Issue(ctx, "spam", "onboarding")
		require.NoError(t, err)
	}
	_, err := h.guard.Issue(ctx, "spam", "onboarding")
	require.ErrorIs(t, err, ErrIssueLimited)
	var limited *IssueLimitedError
	require.ErrorAs(t, err, &limited)
	require.Equal(t, time.Hour, limited.RetryAfter)
}

func TestInvalidRequest(t *testing.T) {
	h := newHarness(t, testConfig())
	_, err := h.guard.Issue(context.Background(), " ", "onboarding")
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = h.guard.Verify(context.Background(), "x", "a:b", "1", "")
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestConcurrentWrongCodesCountEveryAttempt(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 100
	cfg.IdentityPolicy.MaxAttempts = 100
	h := newHarness(t, cfg)
	ctx := context.Background()

	issued, err := h.guard.Issue(ctx, "c", "onboarding")
	require.NoError(t, err)
	bad := wrongCode(issued.Code)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.guard.Verify(ctx, "c", "onboarding", bad, "")
		}()
	}
	wg.Wait()

	rec, ok := h.store.Peek("onboarding:c")
	require.True(t, ok)
	require.Equal(t, 3, rec.Attempts)
}

func TestVerifyLatencyIndependentOfOutcome(t *testing.T) {
	cfg := testConfig()
	cfg.MinVerifyDuration = 30 * time.Millisecond
	cfg.IdentityPolicy.MaxAttempts = 1000
	cfg.MaxAttempts = 1000
	cfg.IssuePolicy.MaxAttempts = 1000
	h := newHarness(t, cfg)
	ctx := context.Background()

	const trials = 9
	measure := func(fn func()) time.Duration {
		samples := make([]time.Duration, 0, trials)
		for i := 0; i < trials; i++ {
			start := time.Now()
			fn()
			samples = append(samples, time.Since(start))
		}
		sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
		return samples[trials/2]
	}

	notFound := measure(func() {
		_, _ = h.guard.Verify(ctx, "nobody", "onboarding", "123456", "")
	})

	issued, err := h.guard.Issue(ctx, "wrong", "onboarding")
	require.NoError(t, err)
	bad := wrongCode(issued.Code)
	wrong := measure(func() {
		_, _ = h.guard.Verify(ctx, "wrong", "onboarding", bad, "")
	})

	correctOnly := make([]time.Duration, 0, trials)
	for i := 0; i < trials; i++ {
		fresh, err := h.guard.Issue(ctx, "right2", "onboarding")
		require.NoError(t, err)
		start := time.Now()
		res, err := h.guard.Verify(ctx, "right2", "onboarding", fresh.Code, "")
		correctOnly = append(correctOnly, time.Since(start))
		require.NoError(t, err)
		require.True(t, res.Success)
	}
	sort.Slice(correctOnly, func(i, j int) bool { return correctOnly[i] < correctOnly[j] })
	correctMedian := correctOnly[trials/2]

	const tolerance = 5 * time.Millisecond
	for name, d := range map[string]time.Duration{"not_found": notFound, "wrong": wrong, "correct": correctMedian} {
		require.GreaterOrEqual(t, d, cfg.MinVerifyDuration, "%s path returned before the minimum duration", name)
	}
	require.InDelta(t, float64(notFound), float64(wrong), float64(tolerance))
	require.InDelta(t, float64(notFound), float64(correctMedian), float64(tolerance))
	require.InDelta(t, float64(wrong), float64(correctMedian), float64(tolerance))
}

func TestRedisStoreBackedGuard(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	clock := &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	store := NewRedisStore(rdb, "", clock.Now)
	g, err := New(testConfig(), Deps{
		Store:   store,
		Limiter: rate.NewRedis(rdb, "", clock.Now),
		Hasher:  testHasher(t),
		Now:     clock.Now,
	})
	require.NoError(t, err)
	ctx := context.Background()

	issued, err := g.Issue(ctx, "r", "onboarding")
	require.NoError(t, err)
	require.True(t, mr.Exists("ovr:onboarding:r"))

	raw, err := mr.Get("ovr:onboarding:r")
	require.NoError(t, err)
	require.NotContains(t, raw, issued.Code)

	res, err := g.Verify(ctx, "r", "onboarding", wrongCode(issued.Code), "")
	require.NoError(t, err)
	require.Equal(t, ReasonMismatch, res.Reason)
	require.Equal(t, 4, res.RemainingAttempts)

	res, err = g.Verify(ctx, "r", "onboarding", issued.Code, "")
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = g.Verify(ctx, "r", "onboarding", issued.Code, "")
	require.NoError(t, err)
	require.Equal(t, ReasonAlreadyVerified, res.Reason)
}

func TestRecordEncodingKeepsFields(t *testing.T) {
	in := Record{
		CodeHash:    "$hmac-sha256$abc$def",
		ExpiresAt:   time.UnixMilli(1767225600123),
		Attempts:    3,
		MaxAttempts: 5,
		Verified:    true,
	}
	data, err := encodeRecord(in)
	require.NoError(t, err)
	out, err := decodeRecord(data)
	require.NoError(t, err)
	require.Equal(t, in.CodeHash, out.CodeHash)
	require.True(t, in.ExpiresAt.Equal(out.ExpiresAt))
	require.Equal(t, in.Attempts, out.Attempts)
	require.Equal(t, in.MaxAttempts, out.MaxAttempts)
	require.True(t, out.Verified)

	_, err = decodeRecord([]byte{9})
	require.Error(t, err)
}
