// Package resume issues and verifies signed resume tokens for onboarding sessions.
//
// A token carries the entity id, the session instance id and the step at issue
// time. Clients hand it back to continue a session from another device or after
// a reload; the coordinator rejects tokens whose instance id no longer matches
// the live session.
//
// # Architecture boundaries
//
// Tokens are stateless JWTs (golang-jwt/jwt/v5) signed with Ed25519 or HS256.
// Parsing pins the configured algorithm and requires an expiry claim.
//
// # What this package must NOT do
//
//   - Load or mutate sessions.
//   - Carry entered input or verification codes inside claims.
package resume
