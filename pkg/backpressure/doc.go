// Package backpressure bounds in-flight concurrency for the pipeline.
//
// Three cooperating mechanisms are provided:
//
//   - Counting permits: Acquire suspends until a slot frees (optionally
//     bounded by a deadline); the returned Permit releases exactly once on
//     any exit path.
//   - Token bucket: an optional rate limit (golang.org/x/time/rate)
//     consumed per admitted request, rejecting or delaying per policy.
//   - AIMD adaptive ceiling: after each release the permit's hold latency
//     feeds a feedback loop that raises the limit additively while latency
//     stays under target and shrinks it multiplicatively when latency
//     exceeds target by the tolerance factor.
//
// Load is reported as (ceiling - available) / ceiling.
package backpressure
