package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goOnboard/hashing"
	"github.com/MrEthical07/goOnboard/internal"
	"github.com/MrEthical07/goOnboard/internal/rate"
)

var (
	// ErrInvalidRequest is returned for empty identities or malformed purposes.
	ErrInvalidRequest = errors.New("invalid verification request")
	// ErrIssueLimited is returned when code issuance for an identity is throttled.
	ErrIssueLimited = errors.New("verification issue rate limited")
	// ErrUnavailable wraps limiter, hasher and store failures.
	ErrUnavailable = errors.New("verification backend unavailable")
)

// IssueLimitedError carries the remaining issuance lockout.
type IssueLimitedError struct {
	RetryAfter time.Duration
}

func (e *IssueLimitedError) Error() string {
	return fmt.Sprintf("%v: retry after %s", ErrIssueLimited, e.RetryAfter)
}

func (e *IssueLimitedError) Unwrap() error { return ErrIssueLimited }

// Reason explains a verification outcome.
type Reason uint8

const (
	ReasonVerified Reason = iota
	ReasonMismatch
	ReasonNotFound
	ReasonExpired
	ReasonAttemptsExhausted
	ReasonAlreadyVerified
	ReasonLimited
)

func (r Reason) String() string {
	switch r {
	case ReasonVerified:
		return "verified"
	case ReasonMismatch:
		return "mismatch"
	case ReasonNotFound:
		return "not_found"
	case ReasonExpired:
		return "expired"
	case ReasonAttemptsExhausted:
		return "attempts_exhausted"
	case ReasonAlreadyVerified:
		return "already_verified"
	case ReasonLimited:
		return "limited"
	default:
		return "unknown"
	}
}

// Result is returned by Verify. Lockout is non-zero when a limiter is (or just
// became) active for the identity or the source.
type Result struct {
	Success           bool
	Reason            Reason
	RemainingAttempts int
	Lockout           time.Duration
}

// Issued holds a freshly generated plaintext code for out-of-band delivery.
type Issued struct {
	Code      string
	ExpiresAt time.Time
}

// EventKind classifies reporter notifications.
type EventKind uint8

const (
	EventIssued EventKind = iota
	EventFailed
	EventLockout
	EventVerified
)

// Event is passed to Deps.Report.
type Event struct {
	Kind     EventKind
	Identity string
	Purpose  string
	SourceID string
	Reason   Reason
	Attempts int
	Lockout  time.Duration
}

// Config tunes codes, attempts and throttling.
type Config struct {
	CodeDigits        int
	CodeTTL           time.Duration
	MaxAttempts       int
	MinVerifyDuration time.Duration
	IdentityPolicy    rate.Policy
	SourcePolicy      rate.Policy
	IssuePolicy       rate.Policy
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.CodeDigits < 6 || c.CodeDigits > 10 {
		return errors.New("verification CodeDigits must be between 6 and 10")
	}
	if c.CodeTTL <= 0 {
		return errors.New("verification CodeTTL must be > 0")
	}
	if c.MaxAttempts <= 0 {
		return errors.New("verification MaxAttempts must be > 0")
	}
	if c.MinVerifyDuration < 0 {
		return errors.New("verification MinVerifyDuration must be >= 0")
	}
	for name, p := range map[string]rate.Policy{
		"IdentityPolicy": c.IdentityPolicy,
		"SourcePolicy":   c.SourcePolicy,
		"IssuePolicy":    c.IssuePolicy,
	} {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("verification %s: %v", name, err)
		}
	}
	return nil
}

// Deps are the collaborators of a Guard. Store, Limiter and Hasher are required.
type Deps struct {
	Store   Store
	Limiter rate.Limiter
	Hasher  hashing.Hasher
	Now     func() time.Time
	Sleep   func(ctx context.Context, d time.Duration)
	NewCode func(digits int) (string, error)
	Report  func(ctx context.Context, ev Event)
}

// Guard issues and verifies one-time codes.
type Guard struct {
	cfg   Config
	deps  Deps
	dummy string
}

// New validates cfg, fills optional deps and precomputes the dummy hash used when
// no record exists.
func New(cfg Config, deps Deps) (*Guard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil || deps.Limiter == nil || deps.Hasher == nil {
		return nil, errors.New("verification guard requires store, limiter and hasher")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepContext
	}
	if deps.NewCode == nil {
		deps.NewCode = internal.NewOTP
	}

	seed, err := deps.NewCode(cfg.CodeDigits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	dummy, err := deps.Hasher.Hash(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &Guard{cfg: cfg, deps: deps, dummy: dummy}, nil
}

// Issue generates a fresh code, stores its hash with zero attempts and resets the
// identity's verification limiter.
func (g *Guard) Issue(ctx context.Context, identity, purpose string) (Issued, error) {
	if err := checkRequest(identity, purpose); err != nil {
		return Issued{}, err
	}

	issueKey := "vi:" + purpose + ":" + identity
	d, err := g.deps.Limiter.IsLimited(ctx, issueKey, g.cfg.IssuePolicy)
	if err != nil {
		return Issued{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if d.Limited {
		return Issued{}, &IssueLimitedError{RetryAfter: d.RetryAfter}
	}
	if _, err := g.deps.Limiter.RecordAttempt(ctx, issueKey, g.cfg.IssuePolicy); err != nil {
		return Issued{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	code, err := g.deps.NewCode(g.cfg.CodeDigits)
	if err != nil {
		return Issued{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	hash, err := g.deps.Hasher.Hash(code)
	if err != nil {
		return Issued{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	expiresAt := g.deps.Now().Add(g.cfg.CodeTTL)
	rec := Record{
		CodeHash:    hash,
		ExpiresAt:   expiresAt,
		MaxAttempts: g.cfg.MaxAttempts,
	}
	if err := g.deps.Store.Save(ctx, recordKey(identity, purpose), rec, g.cfg.CodeTTL+expiredRetention); err != nil {
		return Issued{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := g.deps.Limiter.ResetAttempts(ctx, identityKey(identity, purpose)); err != nil {
		return Issued{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	g.report(ctx, Event{Kind: EventIssued, Identity: identity, Purpose: purpose})
	return Issued{Code: code, ExpiresAt: expiresAt}, nil
}

// Verify checks submitted against the stored code. Every call, whatever its
// outcome, performs one hash comparison and lasts at least MinVerifyDuration.
func (g *Guard) Verify(ctx context.Context, identity, purpose, submitted, sourceID string) (Result, error) {
	start := time.Now()
	defer g.pad(ctx, start)

	if err := checkRequest(identity, purpose); err != nil {
		return Result{}, err
	}

	idKey := identityKey(identity, purpose)
	srcKey := sourceKey(sourceID)

	if res, limited, err := g.checkLimits(ctx, idKey, srcKey); err != nil || limited {
		return res, err
	}

	now := g.deps.Now()
	var res Result
	err := g.deps.Store.Update(ctx, recordKey(identity, purpose), func(rec *Record, found bool) (bool, error) {
		stored := g.dummy
		if found {
			stored = rec.CodeHash
		}
		match := g.compare(submitted, stored)

		switch {
		case !found:
			res = Result{Reason: ReasonNotFound}
			return false, nil
		case rec.Verified:
			res = Result{Reason: ReasonAlreadyVerified}
			return false, nil
		case !now.Before(rec.ExpiresAt):
			res = Result{Reason: ReasonExpired}
			return false, nil
		case rec.Attempts >= rec.MaxAttempts:
			res = Result{Reason: ReasonAttemptsExhausted}
			return false, nil
		case !match:
			rec.Attempts++
			res = Result{Reason: ReasonMismatch, RemainingAttempts: rec.remaining()}
			return true, nil
		default:
			rec.Verified = true
			res = Result{Success: true, Reason: ReasonVerified}
			return true, nil
		}
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch res.Reason {
	case ReasonVerified:
		if err := g.deps.Limiter.ResetAttempts(ctx, idKey); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if srcKey != "" {
			if err := g.deps.Limiter.ResetAttempts(ctx, srcKey); err != nil {
				return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}
		g.report(ctx, Event{Kind: EventVerified, Identity: identity, Purpose: purpose, SourceID: sourceID})
		return res, nil
	case ReasonAlreadyVerified:
		return res, nil
	}

	return g.recordFailure(ctx, res, identity, purpose, sourceID)
}

func (g *Guard) checkLimits(ctx context.Context, idKey, srcKey string) (Result, bool, error) {
	d, err := g.deps.Limiter.IsLimited(ctx, idKey, g.cfg.IdentityPolicy)
	if err != nil {
		return Result{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if d.Limited {
		return Result{Reason: ReasonLimited, Lockout: d.RetryAfter}, true, nil
	}
	if srcKey == "" {
		return Result{}, false, nil
	}
	d, err = g.deps.Limiter.IsLimited(ctx, srcKey, g.cfg.SourcePolicy)
	if err != nil {
		return Result{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if d.Limited {
		return Result{Reason: ReasonLimited, Lockout: d.RetryAfter}, true, nil
	}
	return Result{}, false, nil
}

func (g *Guard) recordFailure(ctx context.Context, res Result, identity, purpose, sourceID string) (Result, error) {
	idDecision, err := g.deps.Limiter.RecordAttempt(ctx, identityKey(identity, purpose), g.cfg.IdentityPolicy)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	lockout := idDecision.RetryAfter
	remaining := idDecision.Remaining(g.cfg.IdentityPolicy)

	if key := sourceKey(sourceID); key != "" {
		srcDecision, err := g.deps.Limiter.RecordAttempt(ctx, key, g.cfg.SourcePolicy)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if srcDecision.Limited && srcDecision.RetryAfter > lockout {
			lockout = srcDecision.RetryAfter
		}
		if r := srcDecision.Remaining(g.cfg.SourcePolicy); r < remaining {
			remaining = r
		}
	}

	if res.Reason == ReasonMismatch && remaining < res.RemainingAttempts {
		res.RemainingAttempts = remaining
	}
	if res.Reason != ReasonMismatch {
		res.RemainingAttempts = 0
	}
	res.Lockout = lockout

	ev := Event{
		Kind:     EventFailed,
		Identity: identity,
		Purpose:  purpose,
		SourceID: sourceID,
		Reason:   res.Reason,
		Attempts: idDecision.Attempts,
	}
	g.report(ctx, ev)
	if lockout > 0 || res.Reason == ReasonAttemptsExhausted {
		ev.Kind = EventLockout
		ev.Lockout = lockout
		g.report(ctx, ev)
	}
	return res, nil
}

func (g *Guard) compare(code, encoded string) bool {
	ok, err := g.deps.Hasher.Verify(code, encoded)
	return err == nil && ok
}

func (g *Guard) pad(ctx context.Context, start time.Time) {
	if remaining := g.cfg.MinVerifyDuration - time.Since(start); remaining > 0 {
		g.deps.Sleep(ctx, remaining)
	}
}

func (g *Guard) report(ctx context.Context, ev Event) {
	if g.deps.Report == nil {
		return
	}
	g.deps.Report(ctx, ev)
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func checkRequest(identity, purpose string) error {
	if strings.TrimSpace(identity) == "" || purpose == "" || strings.Contains(purpose, ":") {
		return ErrInvalidRequest
	}
	return nil
}

func recordKey(identity, purpose string) string {
	return purpose + ":" + identity
}

func identityKey(identity, purpose string) string {
	return "v:" + purpose + ":" + identity
}

func sourceKey(sourceID string) string {
	if sourceID == "" {
		return ""
	}
	return "vs:" + internal.HashSourceID(sourceID)
}
