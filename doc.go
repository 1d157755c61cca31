// Package gatekeep provides token authentication and authorization for HTTP
// and RPC services: signed access tokens, rotating refresh tokens with replay
// detection, role-based route guards and sliding-window rate limiting.
//
// An application builds one [Engine] through [Builder.Build] and either calls
// its methods directly (Login, Refresh, Logout, Verify, Authorize, Admit) or
// runs each inbound request through [Engine.Handle], which executes the
// admission, verification and authorization stages in that order.
//
// # Architecture boundaries
//
// gatekeep is the public surface. Token encoding lives in token/, refresh
// lineage persistence in refresh/, role sets in permission/ and the time source
// in clock/. Flow orchestration, rate limiting and audit dispatch live under
// internal/. Password checks, user persistence and cookie handling belong to
// the caller; middleware/ shows how transports plug in.
//
// # What this package must NOT do
//
//   - Expose Redis clients, SQL handles or store encodings in its public API.
//   - Tell clients which check failed. Use [PublicMessage].
//   - Log raw tokens.
//   - Admit a request when a backend it depends on is unreachable.
//
// # Performance contract
//
// Verify is the hot path and never touches the refresh store. Admission costs
// one limiter round-trip. Login, Refresh and Logout cost one store round-trip
// each.
package gatekeep
