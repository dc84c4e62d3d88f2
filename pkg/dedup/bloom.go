package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

// BloomConfig sizes the probabilistic deduplicator
type BloomConfig struct {
	// ExpectedItems is the anticipated number of unique fingerprints per
	// TTL window. Undersizing raises the false-positive rate.
	ExpectedItems uint `json:"expected_items"`

	// FalsePositiveRate is the acceptable chance of a unique message being
	// reported as a duplicate, in (0, 1)
	FalsePositiveRate float64 `json:"false_positive_rate"`
}

// DefaultBloomConfig sizes for 100k items at a 0.1% false-positive rate
func DefaultBloomConfig() BloomConfig {
	return BloomConfig{
		ExpectedItems:     100_000,
		FalsePositiveRate: 0.001,
	}
}

// bloomDeduplicator approximates the TTL window with two filter
// generations. Keys are written to the current generation and checked
// against both; every TTL the previous generation is discarded and the
// current one takes its place. A key therefore suppresses duplicates for
// at least TTL and at most 2*TTL, with constant memory.
type bloomDeduplicator struct {
	mu        sync.Mutex
	current   *bloom.BloomFilter
	previous  *bloom.BloomFilter
	rotatedAt time.Time
	ttl       time.Duration
	bloomCfg  BloomConfig

	duplicates int64
	unique     int64

	metrics *dedupMetrics

	closeOnce sync.Once
	shutdown  chan struct{}
	done      chan struct{}
}

// NewBloom creates a probabilistic deduplicator. It never reports a true
// duplicate as new inside the window, but may report a new key as a
// duplicate at the configured false-positive rate.
func NewBloom(ctx context.Context, cfg Config, bloomCfg BloomConfig, opts ...Option) (Deduplicator, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if bloomCfg.ExpectedItems == 0 {
		bloomCfg.ExpectedItems = DefaultBloomConfig().ExpectedItems
	}
	if bloomCfg.FalsePositiveRate <= 0 || bloomCfg.FalsePositiveRate >= 1 {
		bloomCfg.FalsePositiveRate = DefaultBloomConfig().FalsePositiveRate
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

	d := &bloomDeduplicator{
		current:   bloom.NewWithEstimates(bloomCfg.ExpectedItems, bloomCfg.FalsePositiveRate),
		previous:  bloom.NewWithEstimates(bloomCfg.ExpectedItems, bloomCfg.FalsePositiveRate),
		rotatedAt: time.Now(),
		ttl:       cfg.TTL,
		bloomCfg:  bloomCfg,
		metrics:   metrics,
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
	}

	go d.rotateLoop(ctx)
	return d, nil
}

// CheckAndUpdate implements Deduplicator
func (d *bloomDeduplicator) CheckAndUpdate(key string) bool {
	raw := []byte(key)

	d.mu.Lock()
	d.rotateIfDueLocked(time.Now())

	seen := d.current.Test(raw) || d.previous.Test(raw)
	if !seen {
		d.current.Add(raw)
	}
	d.mu.Unlock()

	if seen {
		atomic.AddInt64(&d.duplicates, 1)
		if d.metrics != nil {
			d.metrics.duplicates.Inc()
		}
		return true
	}

	atomic.AddInt64(&d.unique, 1)
	if d.metrics != nil {
		d.metrics.unique.Inc()
	}
	return false
}

// rotateIfDueLocked swaps generations when the window has elapsed.
// Called with d.mu held.
func (d *bloomDeduplicator) rotateIfDueLocked(now time.Time) {
	if now.Sub(d.rotatedAt) < d.ttl {
		return
	}
	d.previous = d.current
	d.current = bloom.NewWithEstimates(d.bloomCfg.ExpectedItems, d.bloomCfg.FalsePositiveRate)
	d.rotatedAt = now
}

// Stats implements Deduplicator. CurrentEntries estimates the live set
// from the current generation's fill.
func (d *bloomDeduplicator) Stats() Stats {
	d.mu.Lock()
	approx := int(d.current.ApproximatedSize())
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.entries.Set(float64(approx))
	}

	return Stats{
		DuplicatesFound: atomic.LoadInt64(&d.duplicates),
		UniqueAdded:     atomic.LoadInt64(&d.unique),
		CurrentEntries:  approx,
	}
}

// Close implements Deduplicator. Safe for concurrent and repeated calls.
func (d *bloomDeduplicator) Close() error {
	d.closeOnce.Do(func() { close(d.shutdown) })
	<-d.done
	return nil
}

// rotateLoop keeps generations fresh even when traffic stops, so an idle
// window still ages keys out on schedule
func (d *bloomDeduplicator) rotateLoop(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.shutdown:
			return
		case <-ticker.C:
			d.mu.Lock()
			d.rotateIfDueLocked(time.Now())
			d.mu.Unlock()
		}
	}
}
