// Package rate implements the exact sliding-window admission limiter used by
// the request pipeline.
//
// # Window semantics
//
// For a limit L and window W, a request at time t is admitted iff fewer than L
// admitted requests carry a timestamp in [t-W, t]. Stamps older than t-W are
// pruned on every call; a stamp exactly at t-W still counts. There are no
// fixed buckets, so bursts that straddle a bucket edge are still capped at L.
//
// Key prefixes (Redis backend):
//   - rl:<class>:<client>: sorted set of admission stamps in microseconds
//
// # What this package must NOT do
//
//   - Fail open. A backend error is reported as a rejection.
//   - Be imported outside the gatekeep module.
package rate
