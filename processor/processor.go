// Package processor orchestrates the resilience pipeline for inbound
// messages: deduplication, backpressure admission, circuit breaking, and
// execution on a priority worker pool, with a terminal outcome emitted per
// message.
package processor

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/c360/streamguard/errors"
	"github.com/c360/streamguard/message"
	"github.com/c360/streamguard/metric"
	"github.com/c360/streamguard/pkg/backpressure"
	"github.com/c360/streamguard/pkg/breaker"
	"github.com/c360/streamguard/pkg/dedup"
	"github.com/c360/streamguard/pkg/worker"
)

// Handler is the downstream call, typically a model invocation. It is
// invoked at most once per admitted message.
type Handler func(ctx context.Context, content string) (string, error)

// PriorityFunc maps a message to its queue tier
type PriorityFunc func(msg message.Message) worker.Priority

// Config tunes the orchestration stages. A disabled stage is a
// pass-through.
type Config struct {
	WorkerPoolSize int           `json:"worker_pool_size"`
	TaskQueueSize  int           `json:"task_queue_size"`
	TaskTimeout    time.Duration `json:"task_timeout"`

	// PermitTimeout bounds how long a message waits for a backpressure
	// permit before rejection. Zero rejects immediately when saturated.
	PermitTimeout time.Duration `json:"permit_timeout"`

	EnableDedup          bool `json:"enable_dedup"`
	EnableBackpressure   bool `json:"enable_backpressure"`
	EnableCircuitBreaker bool `json:"enable_circuit_breaker"`

	// OutputBuffer sizes the result channel
	OutputBuffer int `json:"output_buffer"`
}

// DefaultConfig enables every stage with moderate sizing
func DefaultConfig() Config {
	return Config{
		WorkerPoolSize:       10,
		TaskQueueSize:        1000,
		TaskTimeout:          30 * time.Second,
		PermitTimeout:        5 * time.Second,
		EnableDedup:          true,
		EnableBackpressure:   true,
		EnableCircuitBreaker: true,
		OutputBuffer:         256,
	}
}

// Processor runs each message through the pipeline stages and emits a
// Result per message on the output channel.
type Processor struct {
	cfg  Config
	pool *worker.Pool[string, string]

	dedup   dedup.Deduplicator
	limiter *backpressure.Limiter
	breaker *breaker.Breaker

	priorityFn PriorityFunc
	poolOpts   []worker.Option[string, string]
	output     chan Result
	logger     *slog.Logger
	metrics    *metric.Metrics
}

// Option configures a Processor
type Option func(*Processor)

// WithDeduplicator installs the duplicate filter used when EnableDedup is set
func WithDeduplicator(d dedup.Deduplicator) Option {
	return func(p *Processor) { p.dedup = d }
}

// WithLimiter installs the admission limiter used when EnableBackpressure is set
func WithLimiter(l *backpressure.Limiter) Option {
	return func(p *Processor) { p.limiter = l }
}

// WithBreaker installs the circuit breaker used when EnableCircuitBreaker is set
func WithBreaker(b *breaker.Breaker) Option {
	return func(p *Processor) { p.breaker = b }
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// WithMetrics wires outcome and duration metrics
func WithMetrics(m *metric.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithPriorityFunc sets the message-to-tier mapping. The default places
// every message in the normal tier.
func WithPriorityFunc(fn PriorityFunc) Option {
	return func(p *Processor) { p.priorityFn = fn }
}

// WithPoolOptions forwards options to the underlying worker pool
func WithPoolOptions(opts ...worker.Option[string, string]) Option {
	return func(p *Processor) { p.poolOpts = append(p.poolOpts, opts...) }
}

// New creates a Processor wrapping handler. Stages left enabled in cfg
// without a matching component degrade to pass-through.
func New(cfg Config, handler Handler, opts ...Option) *Processor {
	def := DefaultConfig()
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = def.WorkerPoolSize
	}
	if cfg.TaskQueueSize <= 0 {
		cfg.TaskQueueSize = def.TaskQueueSize
	}
	if cfg.OutputBuffer <= 0 {
		cfg.OutputBuffer = def.OutputBuffer
	}

	p := &Processor{
		cfg:        cfg,
		output:     make(chan Result, cfg.OutputBuffer),
		logger:     slog.Default(),
		priorityFn: func(message.Message) worker.Priority { return worker.PriorityNormal },
	}
	for _, opt := range opts {
		opt(p)
	}

	poolOpts := append([]worker.Option[string, string]{
		worker.WithDefaultTimeout[string, string](cfg.TaskTimeout),
	}, p.poolOpts...)

	p.pool = worker.NewPool(cfg.WorkerPoolSize, cfg.TaskQueueSize,
		worker.Handler[string, string](handler), poolOpts...)

	return p
}

// Start launches the worker pool
func (p *Processor) Start(ctx context.Context) error {
	return p.pool.Start(ctx)
}

// Stop drains the pool up to grace and closes the output channel. The
// caller must stop feeding Process before calling Stop; in-flight calls
// resolve with a shutting-down outcome once the pool cancels them.
func (p *Processor) Stop(grace time.Duration) error {
	err := p.pool.Stop(grace)
	close(p.output)
	return err
}

// Results returns the output stream of per-message outcomes. The channel
// closes after Stop.
func (p *Processor) Results() <-chan Result {
	return p.output
}

// PoolStats exposes worker pool counters
func (p *Processor) PoolStats() worker.PoolStats {
	return p.pool.Stats()
}

// Process runs one message through the pipeline and returns its outcome.
// The same outcome is emitted on the output channel.
func (p *Processor) Process(ctx context.Context, msg message.Message) Outcome {
	start := time.Now()

	if p.metrics != nil {
		p.metrics.RecordMessageReceived("processor", msg.Channel)
	}

	outcome := p.run(ctx, msg)

	if p.metrics != nil {
		p.metrics.RecordOutcome(outcome.Kind.String())
		p.metrics.RecordProcessingDuration("processor", "process", time.Since(start))
	}

	switch outcome.Kind {
	case OutcomeCompleted, OutcomeDuplicateSkipped:
		p.logger.Debug("message processed",
			"id", msg.ID, "channel", msg.Channel, "outcome", outcome.Kind.String())
	case OutcomeFailed:
		p.logger.Warn("message failed",
			"id", msg.ID, "channel", msg.Channel, "error", outcome.Err)
	default:
		p.logger.Warn("message not processed",
			"id", msg.ID, "channel", msg.Channel, "outcome", outcome.Kind.String())
	}

	p.emit(ctx, msg, outcome)
	return outcome
}

// run executes the pipeline stages in order. The permit release is
// deferred immediately after a successful acquire so every exit path
// releases exactly once.
func (p *Processor) run(ctx context.Context, msg message.Message) Outcome {
	if ctx.Err() != nil {
		return outcomeOf(OutcomeShuttingDown)
	}

	if p.cfg.EnableDedup && p.dedup != nil {
		if p.dedup.CheckAndUpdate(msg.Fingerprint()) {
			if p.metrics != nil {
				p.metrics.RecordDuplicate()
			}
			return outcomeOf(OutcomeDuplicateSkipped)
		}
	}

	if p.cfg.EnableBackpressure && p.limiter != nil {
		permit, err := p.acquirePermit(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return outcomeOf(OutcomeShuttingDown)
			}
			return outcomeOf(OutcomeRejectedBackpressure)
		}
		defer permit.Release()
	}

	if p.cfg.EnableCircuitBreaker && p.breaker != nil {
		if !p.breaker.AllowRequest() {
			return outcomeOf(OutcomeRejectedCircuitOpen)
		}
	}

	handle, err := p.pool.Submit(worker.Task[string]{
		ID:       msg.ID,
		Payload:  msg.Content,
		Priority: p.priorityFn(msg),
		Timeout:  p.cfg.TaskTimeout,
	})
	if err != nil {
		p.settleBreaker(err)
		return p.submitOutcome(err)
	}

	response, err := handle.Await(ctx)
	p.settleBreaker(err)

	switch {
	case err == nil:
		return completed(response)
	case stderrors.Is(err, errors.ErrTaskTimeout):
		return outcomeOf(OutcomeTimedOut)
	case stderrors.Is(err, errors.ErrShuttingDown),
		stderrors.Is(err, context.Canceled):
		return outcomeOf(OutcomeShuttingDown)
	default:
		return failed(err)
	}
}

func (p *Processor) acquirePermit(ctx context.Context) (*backpressure.Permit, error) {
	if p.cfg.PermitTimeout > 0 {
		return p.limiter.AcquireTimeout(ctx, p.cfg.PermitTimeout)
	}
	if permit, ok := p.limiter.TryAcquire(); ok {
		return permit, nil
	}
	return nil, errors.ErrRejected
}

// settleBreaker records the downstream verdict. Timeouts count as
// failures; shutdown, queue rejection, and caller cancellation never
// reach the downstream, so no verdict is recorded, but the probe slot
// claimed by AllowRequest must still be returned.
func (p *Processor) settleBreaker(err error) {
	if !p.cfg.EnableCircuitBreaker || p.breaker == nil {
		return
	}
	switch {
	case err == nil:
		p.breaker.RecordSuccess()
	case stderrors.Is(err, errors.ErrShuttingDown),
		stderrors.Is(err, errors.ErrQueueFull),
		stderrors.Is(err, context.Canceled):
		p.breaker.CancelProbe()
	default:
		p.breaker.RecordFailure()
	}
}

func (p *Processor) submitOutcome(err error) Outcome {
	switch {
	case stderrors.Is(err, errors.ErrQueueFull):
		return outcomeOf(OutcomeRejectedBackpressure)
	case stderrors.Is(err, errors.ErrShuttingDown):
		return outcomeOf(OutcomeShuttingDown)
	default:
		return failed(err)
	}
}

// emit delivers the result without blocking shutdown indefinitely
func (p *Processor) emit(ctx context.Context, msg message.Message, outcome Outcome) {
	result := Result{Channel: msg.Channel, Message: msg, Outcome: outcome}
	select {
	case p.output <- result:
	case <-ctx.Done():
		p.logger.Warn("result dropped, consumer gone", "id", msg.ID)
	}
}
