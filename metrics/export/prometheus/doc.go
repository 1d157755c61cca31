// Package prometheus renders gatekeep engine metrics in the Prometheus text
// exposition format.
//
// Counters are named gatekeep_*_total; the request pipeline latency is the
// histogram gatekeep_pipeline_latency_seconds. Audit events dropped under
// backpressure are exported as gatekeep_audit_dropped_total.
//
// # What this package must NOT do
//
//   - Register with a global registry. Callers mount [Exporter.Handler].
//   - Mutate engine state.
package prometheus
