// Package backpressure provides admission control for the pipeline: a
// counting-permit limiter, an optional token-bucket rate limit, and an
// AIMD adaptive controller that tunes the permit ceiling from observed
// latency.
package backpressure

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/c360/streamguard/errors"
	"github.com/c360/streamguard/metric"
)

// Limiter bounds in-flight concurrency with counting permits. Acquire
// suspends until a slot frees; the returned Permit must be released exactly
// once, which Permit.Release guarantees on every exit path.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	inUse   int
	waiters *list.List // of chan struct{}, granted under mu

	// Optional token bucket consumed per admitted request
	bucket     *rate.Limiter
	waitOnRate bool

	// Optional AIMD feedback controller
	adaptive *AdaptiveLimiter

	// Statistics (atomic)
	acquired int64
	rejected int64

	// Metrics configuration
	metricsRegistry *metric.MetricsRegistry
	metricsPrefix   string
	metrics         *limiterMetrics
}

type limiterMetrics struct {
	inUse    prometheus.Gauge
	limit    prometheus.Gauge
	waiting  prometheus.Gauge
	acquired prometheus.Counter
	rejected prometheus.Counter
}

// Option represents a configuration option for the limiter
type Option func(*Limiter)

// WithRateLimit adds a token bucket refilling at r tokens/sec with the
// given capacity. When wait is true an empty bucket delays admission;
// otherwise it rejects with ErrRateLimited.
func WithRateLimit(r float64, capacity int, wait bool) Option {
	return func(l *Limiter) {
		l.bucket = rate.NewLimiter(rate.Limit(r), capacity)
		l.waitOnRate = wait
	}
}

// WithAdaptive attaches an AIMD controller that adjusts the permit ceiling
// after each released permit based on observed hold latency.
func WithAdaptive(cfg AdaptiveConfig) Option {
	return func(l *Limiter) {
		l.adaptive = newAdaptiveLimiter(l, cfg)
	}
}

// WithMetricsRegistry configures the limiter to register metrics with the pipeline's registry
func WithMetricsRegistry(registry *metric.MetricsRegistry, prefix string) Option {
	return func(l *Limiter) {
		l.metricsRegistry = registry
		l.metricsPrefix = prefix
	}
}

// NewLimiter creates a limiter admitting at most maxConcurrent requests
func NewLimiter(maxConcurrent int, opts ...Option) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 100 // Default concurrency ceiling
	}

	l := &Limiter{
		limit:   maxConcurrent,
		waiters: list.New(),
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.metricsRegistry != nil && l.metricsPrefix != "" {
		l.initializeMetrics()
	}
	if l.metrics != nil {
		l.metrics.limit.Set(float64(l.limit))
	}

	return l
}

func (l *Limiter) initializeMetrics() {
	prefix := l.metricsPrefix

	inUse := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: prefix + "_permits_in_use",
		Help: "Permits currently held",
	})
	limitGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: prefix + "_limit",
		Help: "Current permit ceiling",
	})
	waiting := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: prefix + "_waiting",
		Help: "Callers suspended waiting for a permit",
	})
	acquired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_acquired_total",
		Help: "Total permits granted",
	})
	rejected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_rejected_total",
		Help: "Total acquisitions rejected",
	})

	componentName := "backpressure"
	l.metricsRegistry.RegisterGauge(componentName, prefix+"_permits_in_use", inUse)
	l.metricsRegistry.RegisterGauge(componentName, prefix+"_limit", limitGauge)
	l.metricsRegistry.RegisterGauge(componentName, prefix+"_waiting", waiting)
	l.metricsRegistry.RegisterCounter(componentName, prefix+"_acquired_total", acquired)
	l.metricsRegistry.RegisterCounter(componentName, prefix+"_rejected_total", rejected)

	l.metrics = &limiterMetrics{
		inUse:    inUse,
		limit:    limitGauge,
		waiting:  waiting,
		acquired: acquired,
		rejected: rejected,
	}
}

// Permit is one granted unit of concurrency capacity. Release is safe to
// call from any exit path; only the first call returns the slot.
type Permit struct {
	limiter    *Limiter
	once       sync.Once
	acquiredAt time.Time
}

// Release returns the permit's slot to the limiter. When an adaptive
// controller is attached, the permit's hold duration feeds the AIMD loop.
func (p *Permit) Release() {
	p.once.Do(func() {
		held := time.Since(p.acquiredAt)
		p.limiter.release()
		if p.limiter.adaptive != nil {
			p.limiter.adaptive.Observe(held)
		}
	})
}

// TryAcquire attempts to take a permit without suspending
func (l *Limiter) TryAcquire() (*Permit, bool) {
	if l.bucket != nil && !l.bucket.Allow() {
		atomic.AddInt64(&l.rejected, 1)
		if l.metrics != nil {
			l.metrics.rejected.Inc()
		}
		return nil, false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inUse >= l.limit || l.waiters.Len() > 0 {
		atomic.AddInt64(&l.rejected, 1)
		if l.metrics != nil {
			l.metrics.rejected.Inc()
		}
		return nil, false
	}

	l.inUse++
	l.noteAcquiredLocked()
	return &Permit{limiter: l, acquiredAt: time.Now()}, true
}

// Acquire takes a permit, suspending until a slot frees or ctx fires.
// Cancellation and deadline both surface as ErrRejected so callers treat
// saturation uniformly.
func (l *Limiter) Acquire(ctx context.Context) (*Permit, error) {
	if l.bucket != nil {
		if l.waitOnRate {
			if err := l.bucket.Wait(ctx); err != nil {
				atomic.AddInt64(&l.rejected, 1)
				if l.metrics != nil {
					l.metrics.rejected.Inc()
				}
				return nil, errors.WrapTransient(errors.ErrRateLimited, "Limiter", "Acquire", "token bucket wait")
			}
		} else if !l.bucket.Allow() {
			atomic.AddInt64(&l.rejected, 1)
			if l.metrics != nil {
				l.metrics.rejected.Inc()
			}
			return nil, errors.ErrRateLimited
		}
	}

	l.mu.Lock()
	if l.inUse < l.limit && l.waiters.Len() == 0 {
		l.inUse++
		l.noteAcquiredLocked()
		l.mu.Unlock()
		return &Permit{limiter: l, acquiredAt: time.Now()}, nil
	}

	ready := make(chan struct{})
	elem := l.waiters.PushBack(ready)
	if l.metrics != nil {
		l.metrics.waiting.Set(float64(l.waiters.Len()))
	}
	l.mu.Unlock()

	select {
	case <-ready:
		return &Permit{limiter: l, acquiredAt: time.Now()}, nil

	case <-ctx.Done():
		l.mu.Lock()
		select {
		case <-ready:
			// Granted concurrently with cancellation; give the slot back
			l.inUse--
			l.grantLocked()
			l.mu.Unlock()
		default:
			l.waiters.Remove(elem)
			if l.metrics != nil {
				l.metrics.waiting.Set(float64(l.waiters.Len()))
			}
			l.mu.Unlock()
		}
		atomic.AddInt64(&l.rejected, 1)
		if l.metrics != nil {
			l.metrics.rejected.Inc()
		}
		return nil, errors.WrapTransient(errors.ErrRejected, "Limiter", "Acquire", "wait for permit")
	}
}

// AcquireTimeout is Acquire bounded by a deadline
func (l *Limiter) AcquireTimeout(ctx context.Context, timeout time.Duration) (*Permit, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return l.Acquire(ctx)
}

// release returns one slot and grants to waiters as capacity allows
func (l *Limiter) release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.inUse--
	l.grantLocked()
	if l.metrics != nil {
		l.metrics.inUse.Set(float64(l.inUse))
	}
}

// grantLocked hands free slots to waiters in arrival order. Callers hold mu.
func (l *Limiter) grantLocked() {
	for l.waiters.Len() > 0 && l.inUse < l.limit {
		elem := l.waiters.Front()
		l.waiters.Remove(elem)
		l.inUse++
		l.noteAcquiredLocked()
		close(elem.Value.(chan struct{}))
	}
	if l.metrics != nil {
		l.metrics.waiting.Set(float64(l.waiters.Len()))
	}
}

func (l *Limiter) noteAcquiredLocked() {
	atomic.AddInt64(&l.acquired, 1)
	if l.metrics != nil {
		l.metrics.acquired.Inc()
		l.metrics.inUse.Set(float64(l.inUse))
	}
}

// setLimit adjusts the ceiling; raising it grants queued waiters
func (l *Limiter) setLimit(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.limit = n
	l.grantLocked()
	if l.metrics != nil {
		l.metrics.limit.Set(float64(l.limit))
	}
}

// Limit returns the current permit ceiling
func (l *Limiter) Limit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}

// Available returns the number of free slots
func (l *Limiter) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limit <= l.inUse {
		return 0
	}
	return l.limit - l.inUse
}

// LoadPercentage returns (ceiling - available) / ceiling in [0, 1]
func (l *Limiter) LoadPercentage() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limit == 0 {
		return 1
	}
	inUse := l.inUse
	if inUse > l.limit {
		inUse = l.limit
	}
	return float64(inUse) / float64(l.limit)
}

// Stats is a point-in-time snapshot of limiter state
type Stats struct {
	Limit          int     `json:"limit"`
	InUse          int     `json:"in_use"`
	Available      int     `json:"available"`
	Waiting        int     `json:"waiting"`
	Acquired       int64   `json:"acquired"`
	Rejected       int64   `json:"rejected"`
	LoadPercentage float64 `json:"load_percentage"`
}

// Stats returns current limiter statistics
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	limit := l.limit
	inUse := l.inUse
	waiting := l.waiters.Len()
	l.mu.Unlock()

	available := limit - inUse
	if available < 0 {
		available = 0
	}
	load := 1.0
	if limit > 0 {
		capped := inUse
		if capped > limit {
			capped = limit
		}
		load = float64(capped) / float64(limit)
	}

	return Stats{
		Limit:          limit,
		InUse:          inUse,
		Available:      available,
		Waiting:        waiting,
		Acquired:       atomic.LoadInt64(&l.acquired),
		Rejected:       atomic.LoadInt64(&l.rejected),
		LoadPercentage: load,
	}
}
