package worker

import "errors"

// Sentinel errors for pool lifecycle. Task-level errors (timeout, queue
// full, shutdown) live in the shared errors package so the orchestrator can
// match them across components.
var (
	// ErrPoolNotStarted indicates the pool hasn't been started yet
	ErrPoolNotStarted = errors.New("worker pool not started")

	// ErrPoolAlreadyStarted indicates Start() was called on an already-started pool
	ErrPoolAlreadyStarted = errors.New("worker pool already started")

	// ErrNilHandler indicates a nil handler function was provided
	ErrNilHandler = errors.New("handler function cannot be nil")

	// ErrStopTimeout indicates workers didn't stop within the grace period
	ErrStopTimeout = errors.New("timeout waiting for workers to stop")
)
