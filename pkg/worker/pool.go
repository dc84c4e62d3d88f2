// Package worker provides a priority-ordered worker pool for concurrent
// task processing with per-task timeouts and graceful drain on shutdown.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/streamguard/errors"
	"github.com/c360/streamguard/metric"
)

// Handler processes one task payload and produces a result. It must honor
// ctx cancellation; a handler that cannot be preempted keeps running in the
// background after a timeout and its result is discarded.
type Handler[T, R any] func(ctx context.Context, payload T) (R, error)

// Pool schedules tasks across a fixed set of workers draining a bounded
// priority queue. Exactly one worker executes a given task.
type Pool[T, R any] struct {
	// Configuration
	workers        int
	queueSize      int
	policy         FullQueuePolicy
	defaultTimeout time.Duration
	handler        Handler[T, R]

	// Runtime state
	queue     *priorityQueue[T, R]
	wg        *sync.WaitGroup
	runCancel context.CancelFunc

	// Lifecycle management
	lifecycleMu sync.Mutex
	started     atomic.Bool
	stopping    atomic.Bool
	stopped     bool

	// Statistics (atomic)
	submitted int64
	completed int64
	failed    int64
	timedOut  int64
	rejected  int64
	active    int32

	// Moving average of processing time (EWMA)
	avgMu         sync.Mutex
	avgProcessing time.Duration

	// Metrics configuration
	metricsRegistry *metric.MetricsRegistry
	metricsPrefix   string
	metrics         *Metrics
}

// Metrics holds Prometheus metrics for worker pool monitoring
type Metrics struct {
	queueDepth     prometheus.Gauge
	activeWorkers  prometheus.Gauge
	submitted      prometheus.Counter
	completed      prometheus.Counter
	timedOut       prometheus.Counter
	rejected       prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option represents a configuration option for the worker pool
type Option[T, R any] func(*Pool[T, R])

// WithMetricsRegistry configures the pool to register metrics with the pipeline's registry
func WithMetricsRegistry[T, R any](registry *metric.MetricsRegistry, prefix string) Option[T, R] {
	return func(p *Pool[T, R]) {
		p.metricsRegistry = registry
		p.metricsPrefix = prefix
	}
}

// WithFullQueuePolicy sets the behavior when the queue is at capacity.
// The default is Reject.
func WithFullQueuePolicy[T, R any](policy FullQueuePolicy) Option[T, R] {
	return func(p *Pool[T, R]) {
		p.policy = policy
	}
}

// WithDefaultTimeout applies a deadline to tasks that don't carry their own
func WithDefaultTimeout[T, R any](d time.Duration) Option[T, R] {
	return func(p *Pool[T, R]) {
		p.defaultTimeout = d
	}
}

// NewPool creates a new priority worker pool with optional configuration
func NewPool[T, R any](workers, queueSize int, handler Handler[T, R], opts ...Option[T, R]) *Pool[T, R] {
	if workers <= 0 {
		workers = 10 // Default worker count
	}
	if queueSize <= 0 {
		queueSize = 1000 // Default queue size
	}
	if handler == nil {
		panic(ErrNilHandler)
	}

	pool := &Pool[T, R]{
		workers:   workers,
		queueSize: queueSize,
		handler:   handler,
		queue:     newPriorityQueue[T, R](queueSize),
	}

	for _, opt := range opts {
		opt(pool)
	}

	if pool.metricsRegistry != nil && pool.metricsPrefix != "" {
		pool.initializeMetrics()
	}

	return pool
}

// initializeMetrics creates and registers metrics with the pipeline's registry
func (p *Pool[T, R]) initializeMetrics() {
	prefix := p.metricsPrefix

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: prefix + "_queue_depth",
		Help: "Current worker pool queue depth",
	})
	activeWorkers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: prefix + "_active_workers",
		Help: "Workers currently executing a task",
	})
	submitted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_submitted_total",
		Help: "Total tasks submitted",
	})
	completed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_completed_total",
		Help: "Total tasks completed",
	})
	timedOut := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_timed_out_total",
		Help: "Total tasks that exceeded their deadline",
	})
	rejected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_rejected_total",
		Help: "Total tasks rejected due to full queue or shutdown",
	})
	processingTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    prefix + "_processing_duration_seconds",
		Help:    "Time spent processing tasks",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	}, []string{"status"})

	componentName := "worker_pool"
	p.metricsRegistry.RegisterGauge(componentName, prefix+"_queue_depth", queueDepth)
	p.metricsRegistry.RegisterGauge(componentName, prefix+"_active_workers", activeWorkers)
	p.metricsRegistry.RegisterCounter(componentName, prefix+"_submitted_total", submitted)
	p.metricsRegistry.RegisterCounter(componentName, prefix+"_completed_total", completed)
	p.metricsRegistry.RegisterCounter(componentName, prefix+"_timed_out_total", timedOut)
	p.metricsRegistry.RegisterCounter(componentName, prefix+"_rejected_total", rejected)
	p.metricsRegistry.RegisterHistogramVec(componentName, prefix+"_processing_duration_seconds", processingTime)

	p.metrics = &Metrics{
		queueDepth:     queueDepth,
		activeWorkers:  activeWorkers,
		submitted:      submitted,
		completed:      completed,
		timedOut:       timedOut,
		rejected:       rejected,
		processingTime: processingTime,
	}
}

// Start starts the worker pool
func (p *Pool[T, R]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started.Load() {
		return ErrPoolAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.runCancel = cancel

	p.wg = &sync.WaitGroup{}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(runCtx)
	}

	// Not tracked by wg: the updater exits on runCancel, after drain
	if p.metrics != nil {
		go p.metricsUpdater(runCtx)
	}

	// External cancellation unblocks workers parked on an empty queue
	go func() {
		<-runCtx.Done()
		p.queue.closeIntake()
	}()

	p.started.Store(true)
	return nil
}

// Submit enqueues a task and returns a handle resolving to its outcome.
// When the queue is at capacity the call fails with ErrQueueFull under the
// Reject policy, or suspends until space frees under Block.
func (p *Pool[T, R]) Submit(task Task[T]) (*Handle[R], error) {
	if !p.started.Load() {
		return nil, ErrPoolNotStarted
	}
	if p.stopping.Load() {
		atomic.AddInt64(&p.rejected, 1)
		if p.metrics != nil {
			p.metrics.rejected.Inc()
		}
		return nil, errors.ErrShuttingDown
	}

	if task.ID == "" {
		task = NewTask(task.Payload)
	}
	task.EnqueuedAt = time.Now()

	handle := newHandle[R](task.ID)
	item := &queueItem[T, R]{task: task, handle: handle}

	if err := p.queue.push(item, p.policy); err != nil {
		atomic.AddInt64(&p.rejected, 1)
		if p.metrics != nil {
			p.metrics.rejected.Inc()
		}
		return nil, err
	}

	atomic.AddInt64(&p.submitted, 1)
	if p.metrics != nil {
		p.metrics.submitted.Inc()
		p.metrics.queueDepth.Set(float64(p.queue.len()))
	}
	return handle, nil
}

// Stop stops the pool gracefully: intake closes immediately, queued and
// in-flight work drains until the grace deadline, then the remainder fails
// with ErrShuttingDown.
func (p *Pool[T, R]) Stop(grace time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started.Load() || p.stopped {
		return nil
	}

	p.stopping.Store(true)
	p.queue.closeIntake()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		p.stopped = true
		p.runCancel()
		return nil
	case <-timer.C:
	}

	// Grace expired: fail everything still queued, then cancel in-flight work
	for _, item := range p.queue.drainRemaining() {
		var zero R
		item.handle.deliver(zero, errors.ErrShuttingDown)
	}
	p.runCancel()

	select {
	case <-done:
		p.stopped = true
		return nil
	case <-time.After(5 * time.Second):
		p.stopped = true
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics
func (p *Pool[T, R]) Stats() PoolStats {
	p.avgMu.Lock()
	avg := p.avgProcessing
	p.avgMu.Unlock()

	return PoolStats{
		Workers:           p.workers,
		ActiveWorkers:     int(atomic.LoadInt32(&p.active)),
		QueueSize:         p.queueSize,
		QueueDepth:        p.queue.len(),
		Submitted:         atomic.LoadInt64(&p.submitted),
		Completed:         atomic.LoadInt64(&p.completed),
		Failed:            atomic.LoadInt64(&p.failed),
		TimedOut:          atomic.LoadInt64(&p.timedOut),
		Rejected:          atomic.LoadInt64(&p.rejected),
		AvgProcessingTime: avg,
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers           int           `json:"workers"`
	ActiveWorkers     int           `json:"active_workers"`
	QueueSize         int           `json:"queue_size"`
	QueueDepth        int           `json:"queue_depth"`
	Submitted         int64         `json:"submitted"`
	Completed         int64         `json:"completed"`
	Failed            int64         `json:"failed"`
	TimedOut          int64         `json:"timed_out"`
	Rejected          int64         `json:"rejected"`
	AvgProcessingTime time.Duration `json:"avg_processing_time"`
}

type taskResult[R any] struct {
	result R
	err    error
}

// worker drains the priority queue until the pool shuts down. A panic that
// somehow escapes task execution respawns the worker so the pool never
// shrinks below its configured size outside shutdown.
func (p *Pool[T, R]) worker(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil && !p.stopping.Load() {
			p.wg.Add(1)
			go p.worker(ctx)
		}
		p.wg.Done()
	}()

	for {
		item, ok := p.queue.pop()
		if !ok {
			return
		}
		p.runTask(ctx, item)
	}
}

// runTask executes one task under its timeout guard and delivers the
// outcome to the handle.
func (p *Pool[T, R]) runTask(ctx context.Context, item *queueItem[T, R]) {
	atomic.AddInt32(&p.active, 1)
	if p.metrics != nil {
		p.metrics.activeWorkers.Set(float64(atomic.LoadInt32(&p.active)))
	}
	defer func() {
		atomic.AddInt32(&p.active, -1)
		if p.metrics != nil {
			p.metrics.activeWorkers.Set(float64(atomic.LoadInt32(&p.active)))
		}
	}()

	timeout := item.task.Timeout
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}

	taskCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		taskCtx, cancel = context.WithCancel(ctx)
	}

	start := time.Now()
	resultCh := make(chan taskResult[R], 1)
	go p.invoke(taskCtx, item.task, resultCh)

	select {
	case res := <-resultCh:
		cancel()
		duration := time.Since(start)
		p.recordCompletion(duration, res.err)
		item.handle.deliver(res.result, res.err)

	case <-taskCtx.Done():
		// The handler goroutine may keep running; its late result is
		// discarded by the handle's deliver-once discipline.
		var zero R
		if taskCtx.Err() == context.DeadlineExceeded {
			atomic.AddInt64(&p.timedOut, 1)
			if p.metrics != nil {
				p.metrics.timedOut.Inc()
				p.metrics.processingTime.WithLabelValues("timeout").Observe(time.Since(start).Seconds())
			}
			item.handle.deliver(zero, errors.ErrTaskTimeout)
		} else {
			// Pool shutdown cancelled the in-flight task
			item.handle.deliver(zero, errors.ErrShuttingDown)
		}
		cancel()
	}

	if p.metrics != nil {
		p.metrics.queueDepth.Set(float64(p.queue.len()))
	}
}

// invoke runs the handler with panic isolation
func (p *Pool[T, R]) invoke(ctx context.Context, task Task[T], out chan<- taskResult[R]) {
	defer func() {
		if r := recover(); r != nil {
			var zero R
			out <- taskResult[R]{
				result: zero,
				err:    errors.NewTaskError(task.ID, fmt.Errorf("%w: %v", errors.ErrTaskPanic, r)),
			}
		}
	}()

	result, err := p.handler(ctx, task.Payload)
	if err != nil {
		err = errors.NewTaskError(task.ID, err)
	}
	out <- taskResult[R]{result: result, err: err}
}

// recordCompletion updates counters and the processing-time moving average
func (p *Pool[T, R]) recordCompletion(duration time.Duration, err error) {
	atomic.AddInt64(&p.completed, 1)
	status := "success"
	if err != nil {
		atomic.AddInt64(&p.failed, 1)
		status = "error"
	}

	p.avgMu.Lock()
	if p.avgProcessing == 0 {
		p.avgProcessing = duration
	} else {
		// EWMA with 0.1 smoothing
		p.avgProcessing = time.Duration(float64(p.avgProcessing)*0.9 + float64(duration)*0.1)
	}
	p.avgMu.Unlock()

	if p.metrics != nil {
		p.metrics.completed.Inc()
		p.metrics.processingTime.WithLabelValues(status).Observe(duration.Seconds())
	}
}

// metricsUpdater periodically refreshes queue depth and active worker gauges
func (p *Pool[T, R]) metricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.metrics.queueDepth.Set(float64(p.queue.len()))
			p.metrics.activeWorkers.Set(float64(atomic.LoadInt32(&p.active)))
		}
	}
}
