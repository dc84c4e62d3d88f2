package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamguard/config"
	"github.com/c360/streamguard/health"
)

func passthroughHandler(ctx context.Context, content string) (string, error) {
	return content, nil
}

func TestNew_ValidatesConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.WorkerPoolSize = 0

	_, err := New(cfg, passthroughHandler, nil)
	assert.Error(t, err)
}

func TestNew_RequiresHandler(t *testing.T) {
	_, err := New(config.Default(), nil, nil)
	assert.Error(t, err)
}

func TestNewLogger_Levels(t *testing.T) {
	logger := NewLogger(config.LoggingConfig{Level: "debug", Format: "text"})
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	logger = NewLogger(config.LoggingConfig{Level: "error", Format: "json"})
	assert.False(t, logger.Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelError))

	// Unknown level falls back to info
	logger = NewLogger(config.LoggingConfig{})
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
}

func TestBuildComponents_AllStagesEnabled(t *testing.T) {
	e, err := New(config.Default(), passthroughHandler, nil)
	require.NoError(t, err)

	require.NoError(t, e.buildComponents(context.Background()))
	t.Cleanup(func() { _ = e.dedup.Close() })

	assert.NotNil(t, e.dedup)
	assert.NotNil(t, e.limiter)
	assert.NotNil(t, e.brk)
	assert.NotNil(t, e.proc)
	assert.Equal(t, 50, e.limiter.Limit())
}

func TestBuildComponents_DisabledStagesStayNil(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.EnableDedup = false
	cfg.Pipeline.EnableBackpressure = false
	cfg.Pipeline.EnableCircuitBreaker = false

	e, err := New(cfg, passthroughHandler, nil)
	require.NoError(t, err)
	require.NoError(t, e.buildComponents(context.Background()))

	assert.Nil(t, e.dedup)
	assert.Nil(t, e.limiter)
	assert.Nil(t, e.brk)
	assert.NotNil(t, e.proc)
}

func TestBuildComponents_BloomMode(t *testing.T) {
	cfg := config.Default()
	cfg.Dedup.Mode = config.DedupModeBloom
	cfg.Dedup.ExpectedItems = 1000

	e, err := New(cfg, passthroughHandler, nil)
	require.NoError(t, err)
	require.NoError(t, e.buildComponents(context.Background()))
	t.Cleanup(func() { _ = e.dedup.Close() })

	assert.False(t, e.dedup.CheckAndUpdate("key"))
	assert.True(t, e.dedup.CheckAndUpdate("key"))
}

func TestBuildComponents_AdaptiveLimiter(t *testing.T) {
	cfg := config.Default()
	cfg.Backpressure.AdaptiveEnabled = true
	cfg.Backpressure.MinLimit = 2
	cfg.Backpressure.MaxLimit = 64

	e, err := New(cfg, passthroughHandler, nil)
	require.NoError(t, err)
	require.NoError(t, e.buildComponents(context.Background()))
	t.Cleanup(func() { _ = e.dedup.Close() })

	require.NotNil(t, e.limiter.Adaptive())
	assert.Equal(t, 50, e.limiter.Adaptive().CurrentLimit())
}

func TestServeHealth_ReportsAggregate(t *testing.T) {
	e, err := New(config.Default(), passthroughHandler, nil)
	require.NoError(t, err)
	require.NoError(t, e.buildComponents(context.Background()))
	require.NoError(t, e.proc.Start(context.Background()))
	t.Cleanup(func() {
		_ = e.proc.Stop(0)
		_ = e.dedup.Close()
	})

	rec := httptest.NewRecorder()
	e.serveHealth(rec, httptest.NewRequest("GET", "/health", nil))

	var status health.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "streamguard", status.Component)
	assert.NotEmpty(t, status.SubStatuses)
}
