package backpressure

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamguard/errors"
)

func TestLimiter_TryAcquireUpToLimit(t *testing.T) {
	l := NewLimiter(2)

	p1, ok := l.TryAcquire()
	require.True(t, ok)
	p2, ok := l.TryAcquire()
	require.True(t, ok)

	_, ok = l.TryAcquire()
	assert.False(t, ok)

	p1.Release()
	p3, ok := l.TryAcquire()
	assert.True(t, ok)

	p2.Release()
	p3.Release()
	assert.Equal(t, 2, l.Available())
}

func TestLimiter_AcquireBlocksUntilRelease(t *testing.T) {
	l := NewLimiter(1)

	p1, err := l.Acquire(context.Background())
	require.NoError(t, err)

	acquired := make(chan *Permit, 1)
	go func() {
		p, err := l.Acquire(context.Background())
		if err == nil {
			acquired <- p
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should block while the permit is held")
	case <-time.After(30 * time.Millisecond):
	}

	p1.Release()

	select {
	case p := <-acquired:
		p.Release()
	case <-time.After(time.Second):
		t.Fatal("acquire never unblocked after release")
	}
}

func TestLimiter_AcquireTimeout(t *testing.T) {
	l := NewLimiter(1)

	p, err := l.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release()

	_, err = l.AcquireTimeout(context.Background(), 20*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrRejected)

	stats := l.Stats()
	assert.Equal(t, int64(1), stats.Rejected)
}

func TestLimiter_ReleaseExactlyOnce(t *testing.T) {
	l := NewLimiter(3)

	p, ok := l.TryAcquire()
	require.True(t, ok)

	// Double release must not create a phantom slot
	p.Release()
	p.Release()
	p.Release()

	assert.Equal(t, 3, l.Available())
	assert.Equal(t, 0, l.Stats().InUse)
}

func TestLimiter_ReleaseAdmitsExactlyOne(t *testing.T) {
	l := NewLimiter(2)

	p1, _ := l.TryAcquire()
	p2, _ := l.TryAcquire()

	var admitted int64
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()
			if p, err := l.Acquire(ctx); err == nil {
				atomic.AddInt64(&admitted, 1)
				_ = p // held until test end
			}
		}()
	}

	time.Sleep(30 * time.Millisecond)
	p1.Release()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int64(1), atomic.LoadInt64(&admitted))

	p2.Release()
	wg.Wait()
	assert.Equal(t, int64(2), atomic.LoadInt64(&admitted))
}

func TestLimiter_LoadPercentage(t *testing.T) {
	l := NewLimiter(4)
	assert.InDelta(t, 0.0, l.LoadPercentage(), 0.001)

	p1, _ := l.TryAcquire()
	p2, _ := l.TryAcquire()
	assert.InDelta(t, 0.5, l.LoadPercentage(), 0.001)

	p3, _ := l.TryAcquire()
	p4, _ := l.TryAcquire()
	assert.InDelta(t, 1.0, l.LoadPercentage(), 0.001)

	for _, p := range []*Permit{p1, p2, p3, p4} {
		p.Release()
	}
	assert.InDelta(t, 0.0, l.LoadPercentage(), 0.001)
}

func TestLimiter_RateLimitReject(t *testing.T) {
	// 1 token/sec with capacity 2: the first two pass, the third is rate limited
	l := NewLimiter(10, WithRateLimit(1, 2, false))

	p1, err := l.Acquire(context.Background())
	require.NoError(t, err)
	p2, err := l.Acquire(context.Background())
	require.NoError(t, err)

	_, err = l.Acquire(context.Background())
	assert.ErrorIs(t, err, errors.ErrRateLimited)

	p1.Release()
	p2.Release()
}

func TestLimiter_ConcurrentAccounting(t *testing.T) {
	l := NewLimiter(8)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := l.Acquire(context.Background())
			if err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			time.Sleep(time.Millisecond)
			p.Release()
		}()
	}
	wg.Wait()

	stats := l.Stats()
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, 8, stats.Available)
	assert.Equal(t, int64(100), stats.Acquired)
}

func TestLimiter_Defaults(t *testing.T) {
	l := NewLimiter(0)
	assert.Equal(t, 100, l.Limit())
}
