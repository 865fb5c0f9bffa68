// Package hashing implements one-way hashing for short one-time codes.
//
// # Output formats
//
//	$hmac-sha256$<salt>$<mac>
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [HMAC] is the default: a 6-digit code space is tiny, so the secret pepper rather
// than hash cost is what protects a leaked store. [Argon2] is available when
// records live somewhere the pepper cannot be kept apart from.
//
// # What this package must NOT do
//
//   - Store or retrieve codes. Callers supply plaintext and receive encodings.
//   - Import any other goOnboard package.
//   - Log plaintext codes.
package hashing
