// Package goOnboard coordinates multi-step onboarding sessions: an entity submits
// an input (an email address by default), receives a one-time code out of band and
// confirms it. Every event is serialized per entity, checked against a closed
// transition table, deduplicated within a short window and persisted atomically.
//
// The package is designed for concurrent server workloads: Coordinator methods are
// safe to call from multiple goroutines after initialization through [Builder.Build].
//
// # Components
//
//   - [Coordinator]: event lifecycle (lock, resolve, suppress, transition, persist).
//   - step: the step/action vocabulary and the transition table.
//   - session: the persisted session model and its repositories.
//   - resume: signed tokens that let a client resume a session.
//   - internal/verification: one-time code issuance, verification and throttling.
//   - internal/idempotency: per-entity locks and duplicate suppression.
//   - [Coordinator.SecurityReport]: configuration posture and deployment warnings.
//
// # Architecture boundaries
//
// goOnboard is the public surface. It exposes [Coordinator], [Builder], [Config],
// [Event], [Result] and [Error]. Locking, code storage, rate limiting and audit
// dispatch live under internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Persist state for a failed event. Errors of every kind leave the stored
//     session exactly as it was.
//   - Store plaintext codes. Only hashes reach the code store; the plaintext is
//     handed to the ActionExecutor once.
//   - Hold an entity lock across events or let one entity wait on another.
package goOnboard
