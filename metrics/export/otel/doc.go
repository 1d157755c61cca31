// Package otel publishes gatekeep engine metrics through an OpenTelemetry
// Meter.
//
// Each counter becomes an Int64ObservableCounter. The pipeline latency
// histogram is published as one cumulative Int64ObservableGauge per bucket
// plus a count gauge. A single callback reads the engine snapshot on every
// collection.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
