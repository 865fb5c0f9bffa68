// Package idempotency serializes work per entity and suppresses duplicate requests.
//
// # Components
//
//   - [Locker]: per-key mutual exclusion; [LocalLocker] (process-local, default) and
//     [RedisLocker] (lease lock shared across processes).
//   - [Guard]: WithLock plus a TTL cache of executed request signatures.
//   - [Signature]: digest of (instance, step, variant, salient value).
//
// # Architecture boundaries
//
// The guard knows nothing about steps or sessions. Callers decide which fields make
// two requests equal and pass them to Signature.
//
// # What this package must NOT do
//
//   - Hold the lock-map mutex while waiting for an entity lock.
//   - Import goOnboard.
package idempotency
