// Package permission maps role names to bits of a 64-bit mask and checks
// token claims against required role sets.
//
// # Registry lifecycle
//
// Roles are registered once at startup and the [Registry] is frozen before
// the first check. Bit positions are stable for the lifetime of the process.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Decode or verify tokens; it consumes already verified [token.Claims].
package permission
