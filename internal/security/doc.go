// Package security derives a configuration posture report: code hashing, attempt
// limits, timing floor and whether state is shared across instances.
//
// # What this package must NOT do
//
//   - Read live state. The report depends on configuration only.
package security
