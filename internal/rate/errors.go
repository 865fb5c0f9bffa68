package rate

import "errors"

var (
	// ErrRateLimited is returned by callers that translate a limited Decision into an error.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis transport and script failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrInvalidPolicy wraps Policy.Validate failures.
	ErrInvalidPolicy = errors.New("invalid rate policy")
)
