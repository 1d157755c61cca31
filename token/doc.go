// Package token encodes, signs, issues and verifies the compact tokens used by
// gatekeep. Access tokens are self-contained; refresh tokens carry a jti that
// is tracked by a [refresh.Store].
//
// # Wire format
//
// base64url(header) "." base64url(payload) "." base64url(signature). The
// signature is verified over the raw first two segments before the payload is
// decoded.
//
// # What this package must NOT do
//
//   - Decide authorization (package permission owns that).
//   - Call time.Now directly; every time decision goes through a [clock.Clock].
package token
