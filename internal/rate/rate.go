package rate

import (
	"context"
	"errors"
	"time"
)

// Policy describes one sliding-window budget.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
	Lockout     time.Duration
}

// Validate reports whether the policy can be enforced.
func (p Policy) Validate() error {
	if p.MaxAttempts <= 0 {
		return errors.New("rate: MaxAttempts must be > 0")
	}
	if p.Window <= 0 {
		return errors.New("rate: Window must be > 0")
	}
	if p.Lockout < 0 {
		return errors.New("rate: Lockout must be >= 0")
	}
	return nil
}

// Decision is the outcome of a check or a recorded attempt.
type Decision struct {
	Limited    bool
	RetryAfter time.Duration
	Attempts   int
}

// Remaining returns how many attempts the policy still allows in the window.
func (d Decision) Remaining(p Policy) int {
	if d.Limited {
		return 0
	}
	left := p.MaxAttempts - d.Attempts
	if left < 0 {
		return 0
	}
	return left
}

// Limiter is a sliding-window attempt counter with a fixed-length lockout.
//
// Reaching MaxAttempts inside the window starts a lockout of Policy.Lockout and
// clears the window. Attempts recorded while locked out are ignored, so the lockout
// is never extended and the first check after it ends starts from a clean slate.
type Limiter interface {
	IsLimited(ctx context.Context, id string, p Policy) (Decision, error)
	RecordAttempt(ctx context.Context, id string, p Policy) (Decision, error)
	ResetAttempts(ctx context.Context, id string) error
}
