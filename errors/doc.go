// Package errors provides standardized error handling patterns for StreamGuard components.
//
// # Overview
//
// The errors package implements a three-class error classification system for
// the resilience pipeline: Transient (temporary, retryable), Invalid (bad
// input, non-retryable), and Fatal (unrecoverable, stop processing).
//
// On top of classification it defines the pipeline's error taxonomy:
//
//   - ErrRejected / ErrRateLimited / ErrQueueFull: admission control refused
//     the request; the caller may retry later.
//   - ErrCircuitOpen: the downstream dependency is fault-isolated; retry after
//     the breaker's recovery timeout.
//   - ErrTaskTimeout: the task exceeded its deadline; counted as a breaker
//     failure by the processor.
//   - TaskError: the externally supplied handler failed; the cause is
//     preserved for errors.Is/As inspection.
//   - ErrShuttingDown: submission after shutdown began; non-retryable.
//
// # Quick Start
//
// Return sentinel errors for known conditions:
//
//	if !limiter.TryAcquire() {
//	    return errors.ErrRejected
//	}
//
// Wrap errors with component context:
//
//	if err := pool.Submit(task); err != nil {
//	    return errors.Wrap(err, "Processor", "Process", "task submission")
//	}
//
// Check retryability at the edge:
//
//	if errors.IsRetryable(err) {
//	    // surface a retry-later response to the producer
//	}
package errors
