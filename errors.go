package goOnboard

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidEvent is returned for events without an entity id.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrUnknownAction is returned for actions outside the closed action set.
	ErrUnknownAction = errors.New("unknown action")
	// ErrInvalidInput is returned when submitted input fails validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStateConflict is returned when the action is not legal from the current step.
	ErrStateConflict = errors.New("state conflict")
	// ErrSessionExpired is returned when no live session exists for the request.
	ErrSessionExpired = errors.New("session expired")
	// ErrCodeExpired is returned when the verification code expired, was used up or was never issued.
	ErrCodeExpired = errors.New("verification code expired")
	// ErrCodeMismatch is returned for a wrong verification code.
	ErrCodeMismatch = errors.New("verification code mismatch")
	// ErrRateLimited is returned while a lockout is active.
	ErrRateLimited = errors.New("rate limited")
	// ErrLockTimeout is returned when the identity lock could not be acquired in time.
	ErrLockTimeout = errors.New("identity lock timeout")
	// ErrActionFailed wraps failures reported by the ActionExecutor.
	ErrActionFailed = errors.New("action failed")
	// ErrRepository wraps session repository failures.
	ErrRepository = errors.New("session repository failure")
	// ErrEngineNotReady is returned by a nil or closed Coordinator.
	ErrEngineNotReady = errors.New("coordinator not ready")
)

// ErrorKind classifies coordinator errors so callers can choose guidance
// without matching individual sentinels.
type ErrorKind uint8

const (
	KindSystem ErrorKind = iota
	KindValidation
	KindStateConflict
	KindExpired
	KindRateLimited
	KindLockTimeout
	KindAction
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindStateConflict:
		return "state_conflict"
	case KindExpired:
		return "expired"
	case KindRateLimited:
		return "rate_limited"
	case KindLockTimeout:
		return "lock_timeout"
	case KindAction:
		return "action"
	default:
		return "system"
	}
}

// Retryable reports whether repeating the same request later can succeed
// without user intervention.
func (k ErrorKind) Retryable() bool {
	return k == KindRateLimited || k == KindLockTimeout || k == KindSystem
}

// Error is the structured error returned by Coordinator operations.
type Error struct {
	Kind ErrorKind
	// Op is the action or operation that failed.
	Op  string
	Err error
	// RetryAfter is set for rate limits and lockouts.
	RetryAfter time.Duration
	// RemainingAttempts is set for verification code mismatches.
	RemainingAttempts int
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Op == "" {
		return fmt.Sprintf("onboard: %v", e.Err)
	}
	return fmt.Sprintf("onboard %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf classifies any error. Errors that are not *Error map through their
// sentinels; anything unknown is KindSystem.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrInvalidEvent), errors.Is(err, ErrUnknownAction),
		errors.Is(err, ErrInvalidInput), errors.Is(err, ErrCodeMismatch):
		return KindValidation
	case errors.Is(err, ErrStateConflict):
		return KindStateConflict
	case errors.Is(err, ErrSessionExpired), errors.Is(err, ErrCodeExpired):
		return KindExpired
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrLockTimeout):
		return KindLockTimeout
	case errors.Is(err, ErrActionFailed):
		return KindAction
	default:
		return KindSystem
	}
}

func newError(kind ErrorKind, op string, sentinel error, cause error) *Error {
	err := sentinel
	if cause != nil && cause != sentinel {
		err = fmt.Errorf("%w: %w", sentinel, cause)
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
