// Package rate provides the sliding-window attempt limiter used by verification and
// code issuance.
//
// # Window semantics
//
// Attempts are timestamps pruned on every read. Reaching Policy.MaxAttempts inside
// Policy.Window starts a fixed lockout and clears the window. Two backends:
//   - [Memory]: map + mutex, for single-process deployments and tests.
//   - [Redis]: sorted set "<prefix>w:<id>" plus lockout key "<prefix>l:<id>",
//     driven by Lua scripts with the caller's clock.
//
// # What this package must NOT do
//
//   - Decide key composition (identity vs. source scoping lives in the caller).
//   - Be imported outside the goOnboard module.
package rate
