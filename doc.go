// Package streamguard is a concurrency-resilience layer between message
// ingestion and an unreliable downstream model call.
//
// # Pipeline
//
// Each inbound message flows through four guards before reaching the
// downstream handler:
//
//   - Deduplication: a TTL-bounded fingerprint registry (exact or
//     Bloom-filter based) suppresses repeated messages.
//   - Backpressure: counting permits with an optional token bucket and an
//     AIMD adaptive ceiling bound in-flight concurrency.
//   - Circuit breaking: a three-state breaker sheds load while the
//     downstream is failing and probes for recovery.
//   - Priority execution: a worker pool with five priority tiers, per-task
//     timeouts, and graceful drain runs the actual call.
//
// The terminal disposition of every message (completed, duplicate
// skipped, rejected, failed, timed out, shutting down) is emitted on a
// result stream and published to NATS.
//
// # Layout
//
//   - message: the inbound message descriptor and its dedup fingerprint
//   - processor: per-message orchestration of the four guards
//   - pkg/worker, pkg/backpressure, pkg/dedup, pkg/breaker: the guards
//   - pkg/retry: backoff helpers for infrastructure calls
//   - input/natsingest, output/natspublish, natsclient: NATS transport
//   - engine: configuration-driven assembly and lifecycle
//   - config, metric, health, errors: ambient infrastructure
//
// The cmd/streamguard binary wires everything from a YAML or JSON config
// file and serves Prometheus metrics plus aggregated health over HTTP.
package streamguard
