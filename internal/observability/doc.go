// Package observability provides structured logging, metrics, and tracing
// for the facts service.
//
// This package implements:
//   - A Cloud Logging JSON encoder that merges log fields with the active
//     trace context (Encoder, Value)
//   - A zap core and a context-aware Logger built on that encoder
//   - OpenTelemetry trace and metric providers exporting to Google Cloud
//     and Prometheus
//   - The model-call counter and related instruments
//
// Trace context is always passed explicitly: the Logger reads it from the
// ctx given to each call and hands it to the encoder through TraceField.
package observability
