package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Priority orders tasks in the queue. Lower values dequeue first.
type Priority int

// Priority tiers from most to least urgent
const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityBackground
)

// String returns the string representation of Priority
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityBackground:
		return "background"
	default:
		return "unknown"
	}
}

// Task is a unit of work queued for execution. The zero Timeout means the
// task runs without a deadline of its own (the pool context still applies).
type Task[T any] struct {
	ID         string
	Payload    T
	Priority   Priority
	Timeout    time.Duration
	EnqueuedAt time.Time

	seq uint64 // FIFO order within a priority tier
}

// NewTask creates a task with a generated ID and normal priority
func NewTask[T any](payload T) Task[T] {
	return Task[T]{
		ID:       uuid.NewString(),
		Payload:  payload,
		Priority: PriorityNormal,
	}
}

// Handle resolves to the outcome of a submitted task. The result is
// delivered exactly once; late results from timed-out tasks are discarded.
type Handle[R any] struct {
	taskID string
	done   chan struct{}
	once   sync.Once

	result R
	err    error
}

func newHandle[R any](taskID string) *Handle[R] {
	return &Handle[R]{
		taskID: taskID,
		done:   make(chan struct{}),
	}
}

// deliver resolves the handle. Subsequent calls are no-ops, which is how a
// background completion after a timeout gets discarded rather than
// double-delivered.
func (h *Handle[R]) deliver(result R, err error) {
	h.once.Do(func() {
		h.result = result
		h.err = err
		close(h.done)
	})
}

// TaskID returns the ID of the task this handle tracks
func (h *Handle[R]) TaskID() string {
	return h.taskID
}

// Done returns a channel closed when the outcome is available
func (h *Handle[R]) Done() <-chan struct{} {
	return h.done
}

// Await blocks until the task resolves or ctx fires
func (h *Handle[R]) Await(ctx context.Context) (R, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Result returns the outcome. Only valid after Done() is closed; callers
// that may race the task should use Await.
func (h *Handle[R]) Result() (R, error) {
	<-h.done
	return h.result, h.err
}
