// Package otel publishes authcore client metrics through OpenTelemetry.
//
// [NewExporter] registers an Int64ObservableCounter per authcore counter and an
// Int64ObservableGauge per latency bucket. A single callback reads
// [authcore.Client.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate client state.
package otel
