// Package otel publishes coordinator metrics through OpenTelemetry asynchronous
// instruments.
//
// [NewExporter] registers an Int64ObservableCounter per coordinator counter and
// an Int64ObservableGauge per cumulative latency bucket. A single callback reads
// the coordinator snapshot on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate coordinator state.
package otel
