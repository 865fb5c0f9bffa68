package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goOnboard/internal/cache"
)

const (
	// DefaultGracePeriod is how long a recorded signature suppresses duplicates.
	DefaultGracePeriod = 5 * time.Second
	// DefaultSuppressionTTL bounds how long signatures are retained.
	DefaultSuppressionTTL = time.Minute
	// DefaultMaxEntries bounds the suppression cache.
	DefaultMaxEntries = 10000
)

// Config tunes a Guard.
//
// GracePeriod > 0: a signature recorded longer ago than GracePeriod no longer
// suppresses. GracePeriod == 0: signatures suppress for the whole SuppressionTTL.
type Config struct {
	SuppressionTTL time.Duration
	GracePeriod    time.Duration
	MaxEntries     int
	AcquireTimeout time.Duration
	Now            func() time.Time
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SuppressionTTL <= 0 {
		return errors.New("idempotency SuppressionTTL must be > 0")
	}
	if c.GracePeriod < 0 {
		return errors.New("idempotency GracePeriod must be >= 0")
	}
	if c.MaxEntries <= 0 {
		return errors.New("idempotency MaxEntries must be > 0")
	}
	if c.AcquireTimeout < 0 {
		return errors.New("idempotency AcquireTimeout must be >= 0")
	}
	return nil
}

type execution[R any] struct {
	at     time.Time
	result R
}

// Guard combines a per-entity Locker with a short-lived record of executed
// signatures. R is the result handed back for a suppressed duplicate.
type Guard[R any] struct {
	cfg    Config
	locker Locker
	seen   *cache.Cache[string, execution[R]]
}

// New builds a Guard. A nil locker selects a LocalLocker.
func New[R any](cfg Config, locker Locker) (*Guard[R], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Guard[R]{
		cfg:    cfg,
		locker: locker,
		seen: cache.New[string, execution[R]](cache.Config{
			MaxEntries:      cfg.MaxEntries,
			DefaultTTL:      cfg.SuppressionTTL,
			CleanupInterval: cfg.SuppressionTTL,
			Now:             cfg.Now,
		}),
	}, nil
}

// WithLock runs fn while holding the lock for entityID. Acquisition is bounded by
// AcquireTimeout (when set) and by ctx; fn itself runs under ctx. The lock is
// released when fn returns or panics.
func (g *Guard[R]) WithLock(ctx context.Context, entityID string, fn func(context.Context) error) error {
	acquireCtx := ctx
	if g.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, g.cfg.AcquireTimeout)
		defer cancel()
	}

	release, err := g.locker.Acquire(acquireCtx, entityID)
	if err != nil {
		return err
	}
	defer release()

	return fn(ctx)
}

// Match classifies a signature lookup.
type Match uint8

const (
	// MatchNone: the signature was not executed recently.
	MatchNone Match = iota
	// MatchFresh: executed within the grace period; the duplicate is suppressed.
	MatchFresh
	// MatchStale: executed earlier within SuppressionTTL but outside the grace
	// period; the caller may re-render instead of suppressing.
	MatchStale
)

// Lookup reports how sig relates to the executions recorded for entityID and
// returns the recorded result for fresh and stale matches.
func (g *Guard[R]) Lookup(entityID, sig string) (Match, R) {
	var zero R
	if sig == "" {
		return MatchNone, zero
	}
	rec, ok := g.seen.Get(key(entityID, sig))
	if !ok {
		return MatchNone, zero
	}
	if g.cfg.GracePeriod > 0 && g.cfg.Now().Sub(rec.at) > g.cfg.GracePeriod {
		return MatchStale, rec.result
	}
	return MatchFresh, rec.result
}

// ShouldSuppress reports whether sig was executed for entityID recently enough to
// count as a duplicate, returning the recorded result when it was.
func (g *Guard[R]) ShouldSuppress(entityID, sig string) (bool, R) {
	m, res := g.Lookup(entityID, sig)
	if m != MatchFresh {
		var zero R
		return false, zero
	}
	return true, res
}

// Forget drops the recorded execution of sig for entityID.
func (g *Guard[R]) Forget(entityID, sig string) {
	g.seen.Delete(key(entityID, sig))
}

// RecordExecution stores sig with its result for later duplicate checks.
func (g *Guard[R]) RecordExecution(entityID, sig string, result R) {
	if sig == "" {
		return
	}
	g.seen.Set(key(entityID, sig), execution[R]{at: g.cfg.Now(), result: result}, 0)
}

// Stats exposes suppression cache counters.
func (g *Guard[R]) Stats() cache.Stats {
	return g.seen.Stats()
}

// Close stops the suppression cache janitor, if any.
func (g *Guard[R]) Close() {
	g.seen.Close()
}

func key(entityID, sig string) string {
	return entityID + "\x00" + sig
}
