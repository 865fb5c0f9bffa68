// Package session defines onboarding session state and its persistence boundary.
//
// # Components
//
//   - [State]: one workflow instance for one entity, referencing the entity by id.
//   - [Context]: insertion-ordered string map carried by a session.
//   - [Repository]: Load/Save/Delete keyed by entity id, with [MemoryRepository]
//     and [RedisRepository]; SQL databases live in session/sqlstore.
//   - [Encode] / [Decode]: versioned JSON payload shared by the Redis and SQL stores.
//
// # Architecture boundaries
//
// Repositories store and return copies. They do not interpret steps, do not apply
// expiry and do not lock; the coordinator does all three.
//
// # What this package must NOT do
//
//   - Import goOnboard (no upward imports).
//   - Hold references to identity objects beyond the opaque entity id.
package session
