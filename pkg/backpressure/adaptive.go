package backpressure

import (
	"sync"
	"time"
)

// AdaptiveConfig tunes the AIMD feedback loop
type AdaptiveConfig struct {
	// MinLimit and MaxLimit bound the permit ceiling
	MinLimit int `json:"min_limit"`
	MaxLimit int `json:"max_limit"`

	// TargetLatency is the hold duration the controller steers toward
	TargetLatency time.Duration `json:"target_latency"`

	// Tolerance scales TargetLatency before a multiplicative decrease
	// triggers (latency > target * tolerance). Must be >= 1.
	Tolerance float64 `json:"tolerance"`

	// IncreaseStep is the additive raise applied after a fast completion
	IncreaseStep int `json:"increase_step"`

	// DecreaseFactor scales the limit down after a slow completion, in (0, 1)
	DecreaseFactor float64 `json:"decrease_factor"`
}

// DefaultAdaptiveConfig returns a conservative AIMD configuration
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		MinLimit:       1,
		MaxLimit:       256,
		TargetLatency:  500 * time.Millisecond,
		Tolerance:      1.5,
		IncreaseStep:   1,
		DecreaseFactor: 0.75,
	}
}

// normalize fills zero fields with defaults and repairs inverted bounds
func (c AdaptiveConfig) normalize() AdaptiveConfig {
	def := DefaultAdaptiveConfig()
	if c.MinLimit <= 0 {
		c.MinLimit = def.MinLimit
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = def.MaxLimit
	}
	if c.MaxLimit < c.MinLimit {
		c.MaxLimit = c.MinLimit
	}
	if c.TargetLatency <= 0 {
		c.TargetLatency = def.TargetLatency
	}
	if c.Tolerance < 1 {
		c.Tolerance = def.Tolerance
	}
	if c.IncreaseStep <= 0 {
		c.IncreaseStep = def.IncreaseStep
	}
	if c.DecreaseFactor <= 0 || c.DecreaseFactor >= 1 {
		c.DecreaseFactor = def.DecreaseFactor
	}
	return c
}

// AdaptiveLimiter raises the permit ceiling additively while observed
// latency stays at or under target, and shrinks it multiplicatively when
// latency exceeds target by more than the tolerance factor. All updates
// funnel through one mutex so every reader sees a single consistent limit.
type AdaptiveLimiter struct {
	limiter *Limiter
	cfg     AdaptiveConfig

	mu           sync.Mutex
	currentLimit int
	lastLatency  time.Duration
	observations int64
}

func newAdaptiveLimiter(l *Limiter, cfg AdaptiveConfig) *AdaptiveLimiter {
	cfg = cfg.normalize()

	start := l.limit
	if start < cfg.MinLimit {
		start = cfg.MinLimit
	}
	if start > cfg.MaxLimit {
		start = cfg.MaxLimit
	}
	l.limit = start

	return &AdaptiveLimiter{
		limiter:      l,
		cfg:          cfg,
		currentLimit: start,
	}
}

// Observe feeds one completed request's latency into the feedback loop
func (a *AdaptiveLimiter) Observe(latency time.Duration) {
	a.mu.Lock()
	a.lastLatency = latency
	a.observations++

	newLimit := a.currentLimit
	switch {
	case latency <= a.cfg.TargetLatency:
		newLimit += a.cfg.IncreaseStep
		if newLimit > a.cfg.MaxLimit {
			newLimit = a.cfg.MaxLimit
		}
	case float64(latency) > float64(a.cfg.TargetLatency)*a.cfg.Tolerance:
		newLimit = int(float64(newLimit) * a.cfg.DecreaseFactor)
		if newLimit < a.cfg.MinLimit {
			newLimit = a.cfg.MinLimit
		}
	default:
		// Within tolerance: hold steady
		a.mu.Unlock()
		return
	}

	// setLimit runs under a.mu so concurrent observers can't publish
	// reordered limits; the limiter and controller always agree.
	if newLimit != a.currentLimit {
		a.currentLimit = newLimit
		a.limiter.setLimit(newLimit)
	}
	a.mu.Unlock()
}

// CurrentLimit returns the controller's view of the ceiling
func (a *AdaptiveLimiter) CurrentLimit() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentLimit
}

// LastLatency returns the most recently observed latency
func (a *AdaptiveLimiter) LastLatency() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastLatency
}

// Adaptive exposes the attached controller, or nil when the limiter is fixed
func (l *Limiter) Adaptive() *AdaptiveLimiter {
	return l.adaptive
}
