// Package cache implements the generic TTL + LRU map shared by the coordinator.
//
// # Components
//
//   - [Cache]: mutex-guarded map with per-entry expiry, LRU eviction under an entry
//     ceiling and an optional byte ceiling.
//   - [Stats]: hit, miss, eviction and expiration counters.
//
// # Architecture boundaries
//
// The cache is best-effort. It never returns errors and never blocks on anything but
// its own mutex. Callers own key design and invalidation.
//
// # What this package must NOT do
//
//   - Hold its mutex while calling back into caller code other than Config.SizeOf.
//   - Import goOnboard or any sibling internal package.
package cache

import "errors"

var errSizeEstimate = errors.New("cache: size estimate failed")
