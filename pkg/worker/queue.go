package worker

import (
	"container/heap"
	"sync"

	"github.com/c360/streamguard/errors"
)

// FullQueuePolicy controls Submit behavior when the queue is at capacity
type FullQueuePolicy int

const (
	// Reject fails the submission immediately with ErrQueueFull
	Reject FullQueuePolicy = iota
	// Block suspends the submitter until space frees or the queue closes
	Block
)

// queueItem pairs a task with its pending handle
type queueItem[T, R any] struct {
	task   Task[T]
	handle *Handle[R]
}

// taskHeap orders items by priority, then by submission sequence within a
// tier (strict priority, FIFO within tier).
type taskHeap[T, R any] []*queueItem[T, R]

func (h taskHeap[T, R]) Len() int { return len(h) }

func (h taskHeap[T, R]) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority < h[j].task.Priority
	}
	return h[i].task.seq < h[j].task.seq
}

func (h taskHeap[T, R]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap[T, R]) Push(x any) {
	*h = append(*h, x.(*queueItem[T, R]))
}

func (h *taskHeap[T, R]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// priorityQueue is a bounded, thread-safe priority queue. Producers block or
// are rejected when full depending on policy; consumers block while empty.
type priorityQueue[T, R any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    taskHeap[T, R]
	capacity int
	nextSeq  uint64
	closed   bool
}

func newPriorityQueue[T, R any](capacity int) *priorityQueue[T, R] {
	q := &priorityQueue[T, R]{
		capacity: capacity,
		items:    make(taskHeap[T, R], 0, capacity),
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// push enqueues an item according to the full-queue policy
func (q *priorityQueue[T, R]) push(item *queueItem[T, R], policy FullQueuePolicy) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errors.ErrShuttingDown
	}

	if len(q.items) >= q.capacity {
		if policy == Reject {
			return errors.ErrQueueFull
		}
		for len(q.items) >= q.capacity && !q.closed {
			q.notFull.Wait()
		}
		if q.closed {
			return errors.ErrShuttingDown
		}
	}

	item.task.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.items, item)
	q.notEmpty.Signal()
	return nil
}

// pop dequeues the highest-priority item, blocking while the queue is empty.
// Returns ok=false once the queue is closed and drained.
func (q *priorityQueue[T, R]) pop() (*queueItem[T, R], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}

	item := heap.Pop(&q.items).(*queueItem[T, R])
	q.notFull.Signal()
	return item, true
}

// len returns the number of queued items
func (q *priorityQueue[T, R]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// closeIntake marks the queue closed without draining, letting consumers
// finish the backlog. Blocked producers are released with ErrShuttingDown;
// consumers drain the remaining items and then see ok=false.
func (q *priorityQueue[T, R]) closeIntake() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// drainRemaining removes and returns every item still queued so the caller
// can fail them. Only meaningful after closeIntake.
func (q *priorityQueue[T, R]) drainRemaining() []*queueItem[T, R] {
	q.mu.Lock()
	defer q.mu.Unlock()

	remaining := make([]*queueItem[T, R], 0, len(q.items))
	for q.items.Len() > 0 {
		remaining = append(remaining, heap.Pop(&q.items).(*queueItem[T, R]))
	}
	return remaining
}
