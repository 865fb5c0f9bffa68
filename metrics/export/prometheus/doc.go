// Package prometheus renders coordinator counters and the Handle latency
// histogram in Prometheus text exposition format.
//
// Counter names are onboard_*_total; the histogram is
// onboard_handle_latency_seconds and is present only when latency histograms are
// enabled.
//
// # What this package must NOT do
//
//   - Register anything in a global Prometheus registry. Callers mount Handler.
//   - Mutate coordinator state.
package prometheus
