// Package prometheus renders voiceGate metrics in Prometheus text
// exposition format.
//
// [NewPrometheusExporter] reads a [voiceGate.Engine] snapshot on every
// scrape. Counters are named voicegate_*_total; the single histogram is
// voicegate_evaluate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate engine state.
package prometheus
