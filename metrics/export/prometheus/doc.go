// Package prometheus exposes authcore client metrics to Prometheus.
//
// [NewExporter] wraps an [authcore.Client] in a [prometheus.Collector].
// Counter names are prefixed authcore_*_total; the single histogram is
// authcore_request_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry. Callers register the
//     collector themselves or mount Handler.
//   - Mutate client state.
package prometheus
