package goOnboard

import "context"

type sourceIDContextKey struct{}
type requestIDContextKey struct{}

// WithSourceID attaches the caller's network source (typically the client IP)
// to ctx. Verification attempts are additionally throttled per source, and audit
// events carry a hash of it.
func WithSourceID(ctx context.Context, sourceID string) context.Context {
	return context.WithValue(ctx, sourceIDContextKey{}, sourceID)
}

// WithRequestID attaches a correlation id that is copied into logs and audit events.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

func sourceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(sourceIDContextKey{}).(string)
	return id
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}
