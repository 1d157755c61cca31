package internaldefs

import (
	"github.com/MrEthical07/gatekeep"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   gatekeep.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram.
type HistogramDef struct {
	ID   gatekeep.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in exposition order.
var CounterDefs = []CounterDef{
	{ID: gatekeep.MetricLoginSuccess, Name: "gatekeep_login_success_total", Help: "Token pairs issued by Login."},
	{ID: gatekeep.MetricLoginFailure, Name: "gatekeep_login_failure_total", Help: "Login calls that issued nothing."},
	{ID: gatekeep.MetricRefreshSuccess, Name: "gatekeep_refresh_success_total", Help: "Successful refresh token rotations."},
	{ID: gatekeep.MetricRefreshFailure, Name: "gatekeep_refresh_failure_total", Help: "Refresh attempts rejected as invalid, expired or unknown."},
	{ID: gatekeep.MetricRefreshReplayDetected, Name: "gatekeep_refresh_replay_detected_total", Help: "Rotated refresh tokens presented again."},
	{ID: gatekeep.MetricRefreshRevoked, Name: "gatekeep_refresh_revoked_total", Help: "Revoked refresh tokens presented."},
	{ID: gatekeep.MetricLogout, Name: "gatekeep_logout_total", Help: "Single refresh token revocations."},
	{ID: gatekeep.MetricLogoutAll, Name: "gatekeep_logout_all_total", Help: "Subject-wide refresh token revocations."},
	{ID: gatekeep.MetricVerifySuccess, Name: "gatekeep_verify_success_total", Help: "Access tokens accepted."},
	{ID: gatekeep.MetricVerifyFailure, Name: "gatekeep_verify_failure_total", Help: "Access tokens rejected for reasons other than expiry."},
	{ID: gatekeep.MetricVerifyExpired, Name: "gatekeep_verify_expired_total", Help: "Access tokens rejected as expired."},
	{ID: gatekeep.MetricAuthorizeDenied, Name: "gatekeep_authorize_denied_total", Help: "Authenticated requests denied by role."},
	{ID: gatekeep.MetricRateLimitHit, Name: "gatekeep_rate_limit_hit_total", Help: "Requests rejected by the rate limiter."},
	{ID: gatekeep.MetricBackendUnavailable, Name: "gatekeep_backend_unavailable_total", Help: "Operations failed closed on a backend error."},
	{ID: gatekeep.MetricRefreshSwept, Name: "gatekeep_refresh_swept_total", Help: "Expired refresh records removed by the sweeper."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: gatekeep.MetricPipelineLatency, Name: "gatekeep_pipeline_latency_seconds", Help: "Request pipeline latency."},
}

// HistogramBounds are the upper bounds of the engine's latency buckets in
// seconds, as Prometheus "le" labels.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix are HistogramBounds made safe for instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling missing
// buckets and ignoring extras.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i, n := range raw {
		running += n
		out[i] = running
	}
	return out
}
