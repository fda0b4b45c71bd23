// Package instrumentation provides OpenTelemetry metrics and tracing.
//
// Metrics are exported via Prometheus (default), OTLP or stdout; traces
// via OTLP or stdout with parent-based sampling, or disabled entirely.
// Configuration comes from environment variables (see DefaultConfig).
package instrumentation
