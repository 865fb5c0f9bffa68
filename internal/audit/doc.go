// Package audit implements async event dispatching for onboarding operations.
//
// # Components
//
//   - [Sink]: event consumer (channel, JSON lines, zerolog, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event]: audit record with entity, instance, action, step and metadata.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which
// events to emit; the coordinator does.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import goOnboard or any sibling internal package.
//   - Carry raw input values or verification codes.
package audit
