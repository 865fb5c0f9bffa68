// Package internal contains helpers that are private to goOnboard: one-time code and
// secret generation, and request-origin fingerprinting.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - cache: generic TTL + LRU map
//   - idempotency: per-identity locks and duplicate suppression
//   - metrics: lock-free counters and latency histograms
//   - rate: sliding-window limiters with fixed lockout (memory, Redis)
//   - security: configuration posture report
//   - verification: one-time code issuance and constant-time verification
//
// # What this package must NOT do
//
//   - Export types that appear in the public goOnboard API.
//   - Be imported by any package outside the goOnboard module.
package internal
