// Package worker provides a generic priority worker pool for concurrent
// task processing with bounded queueing, per-task timeouts, and graceful
// drain on shutdown.
//
// # Overview
//
// A Pool[T, R] owns a fixed set of workers draining a bounded priority
// queue. Tasks carry a priority tier (Critical through Background); dequeue
// order is strictly by tier, FIFO within a tier. Submit returns a Handle
// that resolves exactly once to the task's result or error.
//
//	pool := worker.NewPool(8, 256, func(ctx context.Context, req string) (string, error) {
//	    return provider.Invoke(ctx, req)
//	})
//	pool.Start(ctx)
//
//	task := worker.NewTask("hello")
//	task.Priority = worker.PriorityHigh
//	task.Timeout = 30 * time.Second
//
//	handle, err := pool.Submit(task)
//	if err != nil {
//	    // queue full, or pool shutting down
//	}
//	result, err := handle.Await(ctx)
//
// # Timeouts
//
// A task that exceeds its deadline resolves to errors.ErrTaskTimeout and
// frees its worker immediately. The handler goroutine cannot be forcibly
// preempted: if it ignores ctx cancellation it keeps running in the
// background, and its eventual result is discarded by the handle's
// deliver-once discipline rather than double-delivered.
//
// # Failure isolation
//
// A panicking handler resolves the task to a TaskError wrapping
// errors.ErrTaskPanic; the worker survives. Should a panic ever escape task
// execution, the worker respawns so the pool never shrinks below its
// configured size outside shutdown.
//
// # Shutdown
//
// Stop(grace) closes intake immediately (submissions fail with
// errors.ErrShuttingDown), lets queued and in-flight work drain until the
// grace deadline, then fails the remainder with errors.ErrShuttingDown and
// cancels in-flight task contexts.
//
// # Queue policies
//
// When the queue is at capacity, Submit either fails immediately with
// errors.ErrQueueFull (Reject, the default) or suspends the submitter until
// space frees (Block via WithFullQueuePolicy).
package worker
