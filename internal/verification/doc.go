// Package verification issues and checks one-time numeric codes.
//
// # Components
//
//   - [Guard]: Issue/Verify with per-identity, per-source and issuance limits.
//   - [Store]: atomic record persistence; [MemoryStore] and [RedisStore].
//   - [Record]: hashed code, expiry, attempt counters and the verified flag.
//
// # Timing
//
// Verify performs exactly one hash comparison on every path (against a dummy hash
// when no record exists) and pads each call to Config.MinVerifyDuration, so the
// not-found, mismatch and success paths take the same wall-clock time.
//
// # What this package must NOT do
//
//   - Persist or log plaintext codes.
//   - Deliver codes. The caller hands Issued.Code to its notification channel.
//   - Import goOnboard.
package verification
