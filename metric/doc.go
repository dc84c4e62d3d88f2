// Package metric provides Prometheus-based observability for the pipeline.
//
// A MetricsRegistry wraps a private prometheus.Registry so components cannot
// collide with each other or with default collectors. Core pipeline metrics
// (message flow, outcomes, breaker state, permit usage) are always registered;
// components add their own via the MetricsRegistrar interface.
//
// The Server exposes the registry over HTTP at /metrics in OpenMetrics
// format, with a plain /health endpoint alongside.
package metric
