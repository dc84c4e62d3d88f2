// Package dedup provides TTL-bounded duplicate detection for inbound
// message fingerprints, in an exact mode (map-backed, memory proportional
// to live entries) and a probabilistic mode (rotating Bloom filters,
// constant memory, bounded false-positive rate).
package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/streamguard/metric"
)

// Deduplicator answers whether a fingerprint was seen within the TTL
// window. CheckAndUpdate is atomic across concurrent callers sharing a key:
// at most one of them observes "new" within one TTL window.
type Deduplicator interface {
	// CheckAndUpdate returns true if key is a duplicate (seen within TTL).
	// A new or expired key is recorded and reported as not-duplicate.
	CheckAndUpdate(key string) bool

	// Stats returns duplicate-detection counters
	Stats() Stats

	// Close stops background maintenance
	Close() error
}

// Stats holds duplicate-detection counters. CurrentEntries excludes
// expired entries regardless of when they are physically evicted.
type Stats struct {
	DuplicatesFound int64 `json:"duplicates_found"`
	UniqueAdded     int64 `json:"unique_added"`
	CurrentEntries  int   `json:"current_entries"`
}

// Config tunes a deduplicator
type Config struct {
	// TTL is the duplicate-suppression window
	TTL time.Duration `json:"ttl"`

	// SlidingTTL refreshes the window on each duplicate hit instead of
	// fixing it from first insertion. Off by default.
	SlidingTTL bool `json:"sliding_ttl"`

	// SweepInterval controls the background eviction period for the exact
	// mode. Expired entries are also dropped lazily on access.
	SweepInterval time.Duration `json:"sweep_interval"`
}

// DefaultConfig returns a one-minute fixed-window configuration
func DefaultConfig() Config {
	return Config{
		TTL:           time.Minute,
		SweepInterval: 30 * time.Second,
	}
}

type dedupMetrics struct {
	duplicates prometheus.Counter
	unique     prometheus.Counter
	entries    prometheus.Gauge
}

func newDedupMetrics(registry *metric.MetricsRegistry, prefix string) (*dedupMetrics, error) {
	duplicates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_duplicates_total",
		Help: "Messages skipped as duplicates",
	})
	unique := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_unique_total",
		Help: "Unique fingerprints recorded",
	})
	entries := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: prefix + "_live_entries",
		Help: "Unexpired fingerprints currently tracked",
	})

	componentName := "dedup"
	if err := registry.RegisterCounter(componentName, prefix+"_duplicates_total", duplicates); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(componentName, prefix+"_unique_total", unique); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(componentName, prefix+"_live_entries", entries); err != nil {
		return nil, err
	}

	return &dedupMetrics{duplicates: duplicates, unique: unique, entries: entries}, nil
}

// exactDeduplicator tracks every live fingerprint in a mutex-guarded map.
// Expired entries are dropped lazily on access and by a periodic sweep.
type exactDeduplicator struct {
	mu      sync.Mutex
	entries map[string]time.Time // key -> expiry
	cfg     Config

	duplicates int64
	unique     int64

	metrics *dedupMetrics

	closeOnce sync.Once
	shutdown  chan struct{}
	done      chan struct{}
}

// Option configures a deduplicator
type Option func(*options)

type options struct {
	metricsRegistry *metric.MetricsRegistry
	metricsPrefix   string
}

// WithMetricsRegistry exposes dedup counters through the pipeline's registry
func WithMetricsRegistry(registry *metric.MetricsRegistry, prefix string) Option {
	return func(o *options) {
		o.metricsRegistry = registry
		o.metricsPrefix = prefix
	}
}

// NewExact creates an exact-mode deduplicator. The background sweep stops
// when ctx is cancelled or Close is called.
func NewExact(ctx context.Context, cfg Config, opts ...Option) (Deduplicator, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var metrics *dedupMetrics
	if o.metricsRegistry != nil && o.metricsPrefix != "" {
		var err error
		metrics, err = newDedupMetrics(o.metricsRegistry, o.metricsPrefix)
		if err != nil {
			return nil, err
		}
	}

	d := &exactDeduplicator{
		entries:  make(map[string]time.Time),
		cfg:      cfg,
		metrics:  metrics,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}

	go d.sweep(ctx)
	return d, nil
}

// CheckAndUpdate implements Deduplicator
func (d *exactDeduplicator) CheckAndUpdate(key string) bool {
	now := time.Now()

	d.mu.Lock()
	expiry, exists := d.entries[key]
	if exists && now.Before(expiry) {
		if d.cfg.SlidingTTL {
			d.entries[key] = now.Add(d.cfg.TTL)
		}
		d.mu.Unlock()

		atomic.AddInt64(&d.duplicates, 1)
		if d.metrics != nil {
			d.metrics.duplicates.Inc()
		}
		return true
	}

	// Absent or expired: record with a fresh window
	d.entries[key] = now.Add(d.cfg.TTL)
	d.mu.Unlock()

	atomic.AddInt64(&d.unique, 1)
	if d.metrics != nil {
		d.metrics.unique.Inc()
	}
	return false
}

// Stats implements Deduplicator. The live count walks the map so expired
// entries never inflate it, whether or not the sweep has run.
func (d *exactDeduplicator) Stats() Stats {
	now := time.Now()

	d.mu.Lock()
	live := 0
	for _, expiry := range d.entries {
		if now.Before(expiry) {
			live++
		}
	}
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.entries.Set(float64(live))
	}

	return Stats{
		DuplicatesFound: atomic.LoadInt64(&d.duplicates),
		UniqueAdded:     atomic.LoadInt64(&d.unique),
		CurrentEntries:  live,
	}
}

// Close implements Deduplicator. Safe for concurrent and repeated calls.
func (d *exactDeduplicator) Close() error {
	d.closeOnce.Do(func() { close(d.shutdown) })
	<-d.done
	return nil
}

// sweep periodically removes expired entries
func (d *exactDeduplicator) sweep(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.shutdown:
			return
		case <-ticker.C:
			d.removeExpired()
		}
	}
}

func (d *exactDeduplicator) removeExpired() {
	now := time.Now()

	d.mu.Lock()
	for key, expiry := range d.entries {
		if now.After(expiry) {
			delete(d.entries, key)
		}
	}
	live := len(d.entries)
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.entries.Set(float64(live))
	}
}
