// Package flows contains pure-function orchestrators for the Engine's token
// lifecycle operations.
//
// Each flow function (RunLogin, RunRefresh, RunRotate, RunLogout) accepts a
// typed dependency struct and returns a result value that classifies the
// outcome. The Engine maps that classification to metrics, audit events and
// public errors.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the token issuer, the token verifier and
// the refresh store. They do NOT own any of these resources. Ownership stays
// with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import gatekeep (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency interfaces.
package flows
