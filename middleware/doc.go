// Package middleware exposes a Coordinator over HTTP.
//
// # Routes
//
//   - POST /events: body {"entity_id","action","payload"}; answers with the
//     resulting session view.
//   - GET /session: resolves the resume token from the Authorization bearer
//     header and answers with the current session view.
//
// [RequestContext] copies the client address and X-Request-ID into the request
// context so the coordinator can throttle per source and correlate audit events.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Coordinator calls and error kinds
// into status codes. It does NOT implement onboarding logic itself.
//
// # What this package must NOT do
//
//   - Touch session storage or verification codes directly.
//   - Expose internal error text for system failures.
package middleware
