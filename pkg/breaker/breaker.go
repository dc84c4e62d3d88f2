// Package breaker implements a three-state circuit breaker guarding the
// downstream model call. Closed passes requests through, Open rejects them
// outright, and HalfOpen admits a bounded number of probes to test
// recovery.
package breaker

import (
	"sync"
	"time"

	"github.com/c360/streamguard/metric"
)

// State is a circuit breaker state
type State int

const (
	// StateClosed passes all requests through
	StateClosed State = iota
	// StateOpen rejects all requests until the cooldown elapses
	StateOpen
	// StateHalfOpen admits a bounded number of probe requests
	StateHalfOpen
)

// String implements fmt.Stringer
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes the breaker's trip and recovery behavior
type Config struct {
	// FailureThreshold trips the breaker after this many consecutive
	// failures while closed
	FailureThreshold int `json:"failure_threshold"`

	// FailureRateThreshold trips the breaker when the rolling failure rate
	// reaches this fraction, once MinimumSamples outcomes are recorded
	FailureRateThreshold float64 `json:"failure_rate_threshold"`

	// MinimumSamples gates the rate check so a cold window can't trip on
	// one or two failures
	MinimumSamples int `json:"minimum_samples"`

	// SampleWindow is how many recent outcomes feed the rolling rate
	SampleWindow int `json:"sample_window"`

	// OpenTimeout is how long the breaker stays open before probing
	OpenTimeout time.Duration `json:"open_timeout"`

	// SuccessThreshold closes the breaker after this many consecutive
	// half-open successes
	SuccessThreshold int `json:"success_threshold"`

	// MaxProbes bounds concurrent half-open probes
	MaxProbes int `json:"max_probes"`
}

// DefaultConfig returns a breaker tuned for a flaky downstream
func DefaultConfig() Config {
	return Config{
		FailureThreshold:     5,
		FailureRateThreshold: 0.5,
		MinimumSamples:       10,
		SampleWindow:         20,
		OpenTimeout:          30 * time.Second,
		SuccessThreshold:     2,
		MaxProbes:            1,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.FailureRateThreshold <= 0 || c.FailureRateThreshold > 1 {
		c.FailureRateThreshold = def.FailureRateThreshold
	}
	if c.MinimumSamples <= 0 {
		c.MinimumSamples = def.MinimumSamples
	}
	if c.SampleWindow < c.MinimumSamples {
		c.SampleWindow = def.SampleWindow
		if c.SampleWindow < c.MinimumSamples {
			c.SampleWindow = c.MinimumSamples
		}
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = def.OpenTimeout
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = def.SuccessThreshold
	}
	if c.MaxProbes <= 0 {
		c.MaxProbes = def.MaxProbes
	}
	return c
}

// StateChangeFunc observes breaker transitions
type StateChangeFunc func(from, to State, at time.Time)

// Snapshot is a point-in-time view of the breaker
type Snapshot struct {
	State               State         `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	FailureRate         float64       `json:"failure_rate"`
	SampleCount         int           `json:"sample_count"`
	TimeInState         time.Duration `json:"time_in_state"`
}

// Breaker is a circuit breaker. All state mutation happens under one
// mutex so concurrent recordings near a threshold never double-transition.
type Breaker struct {
	mu  sync.Mutex
	cfg Config

	state     State
	enteredAt time.Time

	consecutiveFailures int
	halfOpenSuccesses   int
	probesInFlight      int

	// rolling outcome window, true = failure
	window []bool
	head   int
	filled int

	onStateChange StateChangeFunc
	metrics       *metric.Metrics

	now func() time.Time
}

// Option configures a Breaker
type Option func(*Breaker)

// WithStateChangeFunc registers a transition observer. The callback runs
// outside the breaker's lock.
func WithStateChangeFunc(fn StateChangeFunc) Option {
	return func(b *Breaker) { b.onStateChange = fn }
}

// WithMetrics mirrors the breaker state into the pipeline gauge
func WithMetrics(m *metric.Metrics) Option {
	return func(b *Breaker) { b.metrics = m }
}

// New creates a closed Breaker
func New(cfg Config, opts ...Option) *Breaker {
	cfg = cfg.normalize()

	b := &Breaker{
		cfg:    cfg,
		state:  StateClosed,
		window: make([]bool, cfg.SampleWindow),
		now:    time.Now,
	}
	b.enteredAt = b.now()

	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.RecordCircuitState(int(b.state))
	}
	return b
}

// AllowRequest reports whether a request may proceed. While open it also
// performs the lazy transition to half-open once the cooldown elapses.
// Each true returned in half-open claims one probe slot; the caller must
// settle it with RecordSuccess, RecordFailure, or CancelProbe.
func (b *Breaker) AllowRequest() bool {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return true

	case StateOpen:
		if b.now().Sub(b.enteredAt) < b.cfg.OpenTimeout {
			b.mu.Unlock()
			return false
		}
		notify := b.transitionLocked(StateHalfOpen)
		b.probesInFlight = 1
		b.mu.Unlock()
		b.fire(notify)
		return true

	case StateHalfOpen:
		if b.probesInFlight >= b.cfg.MaxProbes {
			b.mu.Unlock()
			return false
		}
		b.probesInFlight++
		b.mu.Unlock()
		return true
	}

	b.mu.Unlock()
	return false
}

// RecordSuccess records a successful downstream call
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()

	b.recordSampleLocked(false)
	b.consecutiveFailures = 0

	var notify func()
	if b.state == StateHalfOpen {
		if b.probesInFlight > 0 {
			b.probesInFlight--
		}
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
			notify = b.transitionLocked(StateClosed)
		}
	}

	b.mu.Unlock()
	b.fire(notify)
}

// RecordFailure records a failed downstream call and evaluates the trip
// conditions
func (b *Breaker) RecordFailure() {
	b.mu.Lock()

	b.recordSampleLocked(true)
	b.consecutiveFailures++

	var notify func()
	switch b.state {
	case StateClosed:
		if b.shouldTripLocked() {
			notify = b.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		// Any half-open failure reopens immediately
		if b.probesInFlight > 0 {
			b.probesInFlight--
		}
		notify = b.transitionLocked(StateOpen)
	}

	b.mu.Unlock()
	b.fire(notify)
}

// CancelProbe returns a probe slot claimed by AllowRequest when the
// request never produced a downstream verdict (queue rejection, shutdown,
// caller cancellation). Without this the slot would stay claimed and, at
// MaxProbes leaked slots, half-open would reject probes forever. No-op
// outside half-open.
func (b *Breaker) CancelProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.probesInFlight > 0 {
		b.probesInFlight--
	}
}

// State returns the current state without triggering lazy transitions
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a point-in-time view of the breaker
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		FailureRate:         b.failureRateLocked(),
		SampleCount:         b.filled,
		TimeInState:         b.now().Sub(b.enteredAt),
	}
}

func (b *Breaker) shouldTripLocked() bool {
	if b.consecutiveFailures >= b.cfg.FailureThreshold {
		return true
	}
	if b.filled >= b.cfg.MinimumSamples &&
		b.failureRateLocked() >= b.cfg.FailureRateThreshold {
		return true
	}
	return false
}

func (b *Breaker) failureRateLocked() float64 {
	if b.filled == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < b.filled; i++ {
		if b.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(b.filled)
}

func (b *Breaker) recordSampleLocked(failure bool) {
	b.window[b.head] = failure
	b.head = (b.head + 1) % len(b.window)
	if b.filled < len(b.window) {
		b.filled++
	}
}

// transitionLocked moves to a new state and returns the observer
// invocation to run after the lock is dropped
func (b *Breaker) transitionLocked(to State) func() {
	from := b.state
	if from == to {
		return nil
	}

	at := b.now()
	b.state = to
	b.enteredAt = at

	switch to {
	case StateClosed:
		b.consecutiveFailures = 0
		b.halfOpenSuccesses = 0
		b.probesInFlight = 0
		// A fresh window so stale open-era failures can't re-trip
		b.filled = 0
		b.head = 0
	case StateOpen:
		b.halfOpenSuccesses = 0
		b.probesInFlight = 0
	case StateHalfOpen:
		b.halfOpenSuccesses = 0
	}

	if b.metrics != nil {
		b.metrics.RecordCircuitState(int(to))
	}

	if b.onStateChange == nil {
		return nil
	}
	fn := b.onStateChange
	return func() { fn(from, to, at) }
}

func (b *Breaker) fire(notify func()) {
	if notify != nil {
		notify()
	}
}
