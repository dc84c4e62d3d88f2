package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero pool size", func(c *Config) { c.Pipeline.WorkerPoolSize = 0 }},
		{"zero queue size", func(c *Config) { c.Pipeline.TaskQueueSize = 0 }},
		{"bad queue policy", func(c *Config) { c.Pipeline.QueueFullPolicy = "drop" }},
		{"bad dedup mode", func(c *Config) { c.Dedup.Mode = "fuzzy" }},
		{"zero dedup ttl", func(c *Config) { c.Dedup.TTL = 0 }},
		{"zero permits", func(c *Config) { c.Backpressure.MaxConcurrentRequests = 0 }},
		{"rate limit enabled without rate", func(c *Config) {
			c.Backpressure.RateLimitEnabled = true
			c.Backpressure.RateLimit = 0
		}},
		{"inverted adaptive bounds", func(c *Config) {
			c.Backpressure.AdaptiveEnabled = true
			c.Backpressure.MinLimit = 20
			c.Backpressure.MaxLimit = 5
		}},
		{"zero failure threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }},
		{"failure rate above one", func(c *Config) { c.Breaker.FailureRateThreshold = 1.5 }},
		{"zero open timeout", func(c *Config) { c.Breaker.OpenTimeout = 0 }},
		{"missing nats url", func(c *Config) { c.NATS.URL = "" }},
		{"missing nats subject", func(c *Config) { c.NATS.Subject = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_DisabledStagesSkipChecks(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.EnableDedup = false
	cfg.Dedup.Mode = "fuzzy"
	cfg.Dedup.TTL = 0

	cfg.Pipeline.EnableCircuitBreaker = false
	cfg.Breaker.FailureThreshold = 0
	cfg.Breaker.OpenTimeout = 0

	assert.NoError(t, cfg.Validate())
}

func TestClone_IsDeepCopy(t *testing.T) {
	original := Default()
	clone := original.Clone()

	clone.Pipeline.WorkerPoolSize = 99
	clone.NATS.URL = "nats://other:4222"

	assert.Equal(t, 10, original.Pipeline.WorkerPoolSize)
	assert.Equal(t, "nats://localhost:4222", original.NATS.URL)
}

func TestSafeConfig_UpdateValidates(t *testing.T) {
	sc := NewSafeConfig(Default())

	bad := Default()
	bad.Pipeline.WorkerPoolSize = -1
	assert.Error(t, sc.Update(bad))

	// Rejected update leaves the old config in place
	assert.Equal(t, 10, sc.Get().Pipeline.WorkerPoolSize)

	good := Default()
	good.Pipeline.WorkerPoolSize = 4
	require.NoError(t, sc.Update(good))
	assert.Equal(t, 4, sc.Get().Pipeline.WorkerPoolSize)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
pipeline:
  worker_pool_size: 4
  task_queue_size: 50
  task_timeout: 10s
dedup:
  mode: bloom
  ttl: 2m
  expected_items: 5000
breaker:
  failure_threshold: 3
  open_timeout: 45s
nats:
  url: nats://testhost:4222
  subject: test.inbound
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Pipeline.WorkerPoolSize)
	assert.Equal(t, 50, cfg.Pipeline.TaskQueueSize)
	assert.Equal(t, 10*time.Second, cfg.Pipeline.TaskTimeout.Std())
	assert.Equal(t, DedupModeBloom, cfg.Dedup.Mode)
	assert.Equal(t, 2*time.Minute, cfg.Dedup.TTL.Std())
	assert.Equal(t, uint(5000), cfg.Dedup.ExpectedItems)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 45*time.Second, cfg.Breaker.OpenTimeout.Std())
	assert.Equal(t, "nats://testhost:4222", cfg.NATS.URL)

	// Untouched sections keep defaults
	assert.Equal(t, 50, cfg.Backpressure.MaxConcurrentRequests)
	assert.Equal(t, "messages.results", cfg.NATS.ResultSubject)
}

func TestLoad_JSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
  "pipeline": {"worker_pool_size": 7, "task_timeout": "3s"},
  "nats": {"url": "nats://json:4222", "subject": "json.inbound"}
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Pipeline.WorkerPoolSize)
	assert.Equal(t, 3*time.Second, cfg.Pipeline.TaskTimeout.Std())
	assert.Equal(t, "nats://json:4222", cfg.NATS.URL)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidContentFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline: [not a map"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STREAMGUARD_NATS_URL", "nats://env:4222")
	t.Setenv("STREAMGUARD_WORKER_POOL_SIZE", "3")
	t.Setenv("STREAMGUARD_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
	assert.Equal(t, 3, cfg.Pipeline.WorkerPoolSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestDuration_Roundtrip(t *testing.T) {
	d := Duration(90 * time.Second)
	data, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))

	var parsed Duration
	require.NoError(t, parsed.UnmarshalJSON([]byte(`"250ms"`)))
	assert.Equal(t, 250*time.Millisecond, parsed.Std())

	// Raw nanosecond numbers remain accepted
	require.NoError(t, parsed.UnmarshalJSON([]byte(`1000000000`)))
	assert.Equal(t, time.Second, parsed.Std())

	require.Error(t, parsed.UnmarshalJSON([]byte(`"not a duration"`)))
}
