// Package step defines the onboarding steps, the closed set of client actions and
// the static transition table that decides which action is legal from which step.
//
// # Components
//
//   - [Step], [Action], [EdgeKind]: closed enums with wire names.
//   - [Table] / [DefaultTable]: (step, action) → [Edge].
//   - [Machine]: validated table; [Machine.Next] returns [*StateConflictError]
//     for anything the table does not list.
//
// # What this package must NOT do
//
//   - Mutate sessions. The machine only answers "where would this go".
//   - Depend on storage, caching or verification.
package step
