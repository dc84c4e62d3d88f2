package dedup

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamguard/metric"
)

func newTestFilter() *bloom.BloomFilter {
	return bloom.NewWithEstimates(1000, 0.001)
}

func newExactForTest(t *testing.T, cfg Config) Deduplicator {
	t.Helper()
	d, err := NewExact(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestExact_FirstSeenThenDuplicate(t *testing.T) {
	d := newExactForTest(t, Config{TTL: time.Minute})

	assert.False(t, d.CheckAndUpdate("fp-1"))
	assert.True(t, d.CheckAndUpdate("fp-1"))
	assert.True(t, d.CheckAndUpdate("fp-1"))

	assert.False(t, d.CheckAndUpdate("fp-2"))

	stats := d.Stats()
	assert.Equal(t, int64(2), stats.DuplicatesFound)
	assert.Equal(t, int64(2), stats.UniqueAdded)
	assert.Equal(t, 2, stats.CurrentEntries)
}

func TestExact_ExpiredKeyIsNewAgain(t *testing.T) {
	d := newExactForTest(t, Config{TTL: 30 * time.Millisecond})

	assert.False(t, d.CheckAndUpdate("fp-1"))
	time.Sleep(50 * time.Millisecond)
	assert.False(t, d.CheckAndUpdate("fp-1"))
}

func TestExact_FixedWindowFromFirstInsert(t *testing.T) {
	d := newExactForTest(t, Config{TTL: 80 * time.Millisecond})

	assert.False(t, d.CheckAndUpdate("fp-1"))

	// Repeated hits inside the window do not extend it
	time.Sleep(50 * time.Millisecond)
	assert.True(t, d.CheckAndUpdate("fp-1"))
	time.Sleep(50 * time.Millisecond)
	assert.False(t, d.CheckAndUpdate("fp-1"))
}

func TestExact_SlidingWindowExtendsOnHit(t *testing.T) {
	d := newExactForTest(t, Config{TTL: 80 * time.Millisecond, SlidingTTL: true})

	assert.False(t, d.CheckAndUpdate("fp-1"))

	time.Sleep(50 * time.Millisecond)
	assert.True(t, d.CheckAndUpdate("fp-1"))
	time.Sleep(50 * time.Millisecond)
	assert.True(t, d.CheckAndUpdate("fp-1"))
}

func TestExact_StatsExcludeExpiredBeforeSweep(t *testing.T) {
	// Long sweep interval so only lazy accounting is in play
	d := newExactForTest(t, Config{TTL: 20 * time.Millisecond, SweepInterval: time.Hour})

	d.CheckAndUpdate("fp-1")
	d.CheckAndUpdate("fp-2")
	assert.Equal(t, 2, d.Stats().CurrentEntries)

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 0, d.Stats().CurrentEntries)
}

func TestExact_SweepEvictsExpired(t *testing.T) {
	cfg := Config{TTL: 20 * time.Millisecond, SweepInterval: 30 * time.Millisecond}
	d, err := NewExact(context.Background(), cfg)
	require.NoError(t, err)
	defer d.Close()

	for i := 0; i < 10; i++ {
		d.CheckAndUpdate(fmt.Sprintf("fp-%d", i))
	}

	assert.Eventually(t, func() bool {
		exact := d.(*exactDeduplicator)
		exact.mu.Lock()
		defer exact.mu.Unlock()
		return len(exact.entries) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestExact_ConcurrentSameKeySingleWinner(t *testing.T) {
	d := newExactForTest(t, Config{TTL: time.Minute})

	var newCount int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !d.CheckAndUpdate("contested") {
				atomic.AddInt64(&newCount, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), newCount)
}

func TestExact_MetricsRegistered(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	d, err := NewExact(context.Background(), Config{TTL: time.Minute},
		WithMetricsRegistry(registry, "ingest_dedup"))
	require.NoError(t, err)
	defer d.Close()

	d.CheckAndUpdate("fp-1")
	d.CheckAndUpdate("fp-1")
	d.Stats()

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, fam := range families {
		names[fam.GetName()] = true
	}
	assert.True(t, names["ingest_dedup_duplicates_total"])
	assert.True(t, names["ingest_dedup_unique_total"])
	assert.True(t, names["ingest_dedup_live_entries"])
}

func TestExact_CloseIdempotent(t *testing.T) {
	d, err := NewExact(context.Background(), Config{TTL: time.Minute})
	require.NoError(t, err)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
}

func TestExact_CloseConcurrent(t *testing.T) {
	d, err := NewExact(context.Background(), Config{TTL: time.Minute})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, d.Close())
		}()
	}
	wg.Wait()
}

func TestBloom_CloseConcurrent(t *testing.T) {
	d, err := NewBloom(context.Background(), Config{TTL: time.Minute}, DefaultBloomConfig())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, d.Close())
		}()
	}
	wg.Wait()
}

func TestBloom_FirstSeenThenDuplicate(t *testing.T) {
	d, err := NewBloom(context.Background(), Config{TTL: time.Minute}, DefaultBloomConfig())
	require.NoError(t, err)
	defer d.Close()

	assert.False(t, d.CheckAndUpdate("fp-1"))
	assert.True(t, d.CheckAndUpdate("fp-1"))

	stats := d.Stats()
	assert.Equal(t, int64(1), stats.DuplicatesFound)
	assert.Equal(t, int64(1), stats.UniqueAdded)
}

func TestBloom_NoFalseNegativesInsideWindow(t *testing.T) {
	d, err := NewBloom(context.Background(), Config{TTL: time.Minute}, DefaultBloomConfig())
	require.NoError(t, err)
	defer d.Close()

	keys := make([]string, 1000)
	for i := range keys {
		keys[i] = fmt.Sprintf("fp-%d", i)
		d.CheckAndUpdate(keys[i])
	}

	for _, key := range keys {
		assert.True(t, d.CheckAndUpdate(key), "key %s must stay a duplicate inside the window", key)
	}
}

func TestBloom_RotationAgesKeysOut(t *testing.T) {
	d, err := NewBloom(context.Background(), Config{TTL: 30 * time.Millisecond}, DefaultBloomConfig())
	require.NoError(t, err)
	defer d.Close()

	assert.False(t, d.CheckAndUpdate("fp-1"))

	// After two full windows both generations holding the key are gone
	time.Sleep(90 * time.Millisecond)
	assert.False(t, d.CheckAndUpdate("fp-1"))
}

func TestBloom_SurvivesOneRotation(t *testing.T) {
	bd := &bloomDeduplicator{ttl: time.Minute, bloomCfg: DefaultBloomConfig()}
	bd.current = newTestFilter()
	bd.previous = newTestFilter()
	bd.rotatedAt = time.Now()
	bd.shutdown = make(chan struct{})
	bd.done = make(chan struct{})
	close(bd.done)

	assert.False(t, bd.CheckAndUpdate("fp-1"))

	// Force one rotation: the key moves to the previous generation and is
	// still suppressed
	bd.mu.Lock()
	bd.rotatedAt = time.Now().Add(-2 * time.Minute)
	bd.rotateIfDueLocked(time.Now())
	bd.mu.Unlock()

	assert.True(t, bd.CheckAndUpdate("fp-1"))
}

func TestBloom_ConcurrentAccess(t *testing.T) {
	d, err := NewBloom(context.Background(), Config{TTL: time.Minute}, DefaultBloomConfig())
	require.NoError(t, err)
	defer d.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				d.CheckAndUpdate(fmt.Sprintf("fp-%d-%d", n, j))
			}
		}(i)
	}
	wg.Wait()

	stats := d.Stats()
	assert.Equal(t, int64(2000), stats.UniqueAdded+stats.DuplicatesFound)
}
