// Package config defines the pipeline configuration, its validation rules,
// and loading from YAML or JSON files with environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/c360/streamguard/errors"
)

// Queue overflow policies
const (
	QueuePolicyReject = "reject"
	QueuePolicyBlock  = "block"
)

// Dedup modes
const (
	DedupModeExact = "exact"
	DedupModeBloom = "bloom"
)

// Config represents the complete application configuration
type Config struct {
	Pipeline     PipelineConfig     `json:"pipeline" yaml:"pipeline"`
	Dedup        DedupConfig        `json:"dedup" yaml:"dedup"`
	Backpressure BackpressureConfig `json:"backpressure" yaml:"backpressure"`
	Breaker      BreakerConfig      `json:"breaker" yaml:"breaker"`
	NATS         NATSConfig         `json:"nats" yaml:"nats"`
	Metrics      MetricsConfig      `json:"metrics" yaml:"metrics"`
	Logging      LoggingConfig      `json:"logging" yaml:"logging"`
}

// PipelineConfig tunes the orchestrator and its worker pool
type PipelineConfig struct {
	WorkerPoolSize int      `json:"worker_pool_size" yaml:"worker_pool_size"`
	TaskQueueSize  int      `json:"task_queue_size" yaml:"task_queue_size"`
	TaskTimeout    Duration `json:"task_timeout" yaml:"task_timeout"`
	PermitTimeout  Duration `json:"permit_timeout" yaml:"permit_timeout"`

	// QueueFullPolicy is "reject" or "block"
	QueueFullPolicy string `json:"queue_full_policy" yaml:"queue_full_policy"`

	ShutdownGrace Duration `json:"shutdown_grace" yaml:"shutdown_grace"`
	OutputBuffer  int      `json:"output_buffer" yaml:"output_buffer"`

	EnableDedup          bool `json:"enable_dedup" yaml:"enable_dedup"`
	EnableBackpressure   bool `json:"enable_backpressure" yaml:"enable_backpressure"`
	EnableCircuitBreaker bool `json:"enable_circuit_breaker" yaml:"enable_circuit_breaker"`
}

// DedupConfig tunes duplicate detection
type DedupConfig struct {
	// Mode is "exact" or "bloom"
	Mode          string   `json:"mode" yaml:"mode"`
	TTL           Duration `json:"ttl" yaml:"ttl"`
	SlidingTTL    bool     `json:"sliding_ttl" yaml:"sliding_ttl"`
	SweepInterval Duration `json:"sweep_interval" yaml:"sweep_interval"`

	// Bloom sizing, used only in bloom mode
	ExpectedItems     uint    `json:"expected_items,omitempty" yaml:"expected_items,omitempty"`
	FalsePositiveRate float64 `json:"false_positive_rate,omitempty" yaml:"false_positive_rate,omitempty"`
}

// BackpressureConfig tunes admission control
type BackpressureConfig struct {
	MaxConcurrentRequests int `json:"max_concurrent_requests" yaml:"max_concurrent_requests"`

	RateLimitEnabled bool    `json:"rate_limit_enabled" yaml:"rate_limit_enabled"`
	RateLimit        float64 `json:"rate_limit" yaml:"rate_limit"`
	RateBurst        int     `json:"rate_burst" yaml:"rate_burst"`
	RateWait         bool    `json:"rate_wait" yaml:"rate_wait"`

	AdaptiveEnabled bool     `json:"adaptive_enabled" yaml:"adaptive_enabled"`
	MinLimit        int      `json:"min_limit,omitempty" yaml:"min_limit,omitempty"`
	MaxLimit        int      `json:"max_limit,omitempty" yaml:"max_limit,omitempty"`
	TargetLatency   Duration `json:"target_latency,omitempty" yaml:"target_latency,omitempty"`
	Tolerance       float64  `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	IncreaseStep    int      `json:"increase_step,omitempty" yaml:"increase_step,omitempty"`
	DecreaseFactor  float64  `json:"decrease_factor,omitempty" yaml:"decrease_factor,omitempty"`
}

// BreakerConfig tunes the circuit breaker
type BreakerConfig struct {
	FailureThreshold     int      `json:"failure_threshold" yaml:"failure_threshold"`
	FailureRateThreshold float64  `json:"failure_rate_threshold" yaml:"failure_rate_threshold"`
	MinimumSamples       int      `json:"minimum_samples" yaml:"minimum_samples"`
	SampleWindow         int      `json:"sample_window" yaml:"sample_window"`
	OpenTimeout          Duration `json:"open_timeout" yaml:"open_timeout"`
	SuccessThreshold     int      `json:"success_threshold" yaml:"success_threshold"`
	MaxProbes            int      `json:"max_probes" yaml:"max_probes"`
}

// NATSConfig defines NATS connection and subject settings
type NATSConfig struct {
	URL            string   `json:"url" yaml:"url"`
	Subject        string   `json:"subject" yaml:"subject"`
	QueueGroup     string   `json:"queue_group,omitempty" yaml:"queue_group,omitempty"`
	ResultSubject  string   `json:"result_subject" yaml:"result_subject"`
	MaxReconnects  int      `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	ReconnectWait  Duration `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	Username       string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password       string   `json:"password,omitempty" yaml:"password,omitempty"`
	Token          string   `json:"token,omitempty" yaml:"token,omitempty"`
	SubscribeBatch int      `json:"subscribe_batch,omitempty" yaml:"subscribe_batch,omitempty"`
}

// MetricsConfig defines the metrics/health HTTP server settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// LoggingConfig defines structured logging settings
type LoggingConfig struct {
	// Level is debug, info, warn, or error
	Level string `json:"level" yaml:"level"`
	// Format is text or json
	Format string `json:"format" yaml:"format"`
}

// Default returns a fully populated configuration with every stage enabled
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			WorkerPoolSize:       10,
			TaskQueueSize:        1000,
			TaskTimeout:          Duration(30 * time.Second),
			PermitTimeout:        Duration(5 * time.Second),
			QueueFullPolicy:      QueuePolicyReject,
			ShutdownGrace:        Duration(15 * time.Second),
			OutputBuffer:         256,
			EnableDedup:          true,
			EnableBackpressure:   true,
			EnableCircuitBreaker: true,
		},
		Dedup: DedupConfig{
			Mode:          DedupModeExact,
			TTL:           Duration(time.Minute),
			SweepInterval: Duration(30 * time.Second),
		},
		Backpressure: BackpressureConfig{
			MaxConcurrentRequests: 50,
		},
		Breaker: BreakerConfig{
			FailureThreshold:     5,
			FailureRateThreshold: 0.5,
			MinimumSamples:       10,
			SampleWindow:         20,
			OpenTimeout:          Duration(30 * time.Second),
			SuccessThreshold:     2,
			MaxProbes:            1,
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Subject:       "messages.inbound",
			QueueGroup:    "streamguard",
			ResultSubject: "messages.results",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration for inconsistencies
func (c *Config) Validate() error {
	if c.Pipeline.WorkerPoolSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"worker_pool_size must be positive")
	}
	if c.Pipeline.TaskQueueSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"task_queue_size must be positive")
	}
	switch c.Pipeline.QueueFullPolicy {
	case QueuePolicyReject, QueuePolicyBlock:
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("queue_full_policy must be %q or %q", QueuePolicyReject, QueuePolicyBlock))
	}

	if c.Pipeline.EnableDedup {
		switch c.Dedup.Mode {
		case DedupModeExact, DedupModeBloom:
		default:
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("dedup mode must be %q or %q", DedupModeExact, DedupModeBloom))
		}
		if c.Dedup.TTL <= 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				"dedup ttl must be positive")
		}
	}

	if c.Pipeline.EnableBackpressure && c.Backpressure.MaxConcurrentRequests <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_concurrent_requests must be positive")
	}
	if c.Backpressure.RateLimitEnabled && c.Backpressure.RateLimit <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"rate_limit must be positive when rate limiting is enabled")
	}
	if c.Backpressure.AdaptiveEnabled &&
		c.Backpressure.MinLimit > 0 && c.Backpressure.MaxLimit > 0 &&
		c.Backpressure.MinLimit > c.Backpressure.MaxLimit {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"adaptive min_limit must not exceed max_limit")
	}

	if c.Pipeline.EnableCircuitBreaker {
		if c.Breaker.FailureThreshold <= 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				"failure_threshold must be positive")
		}
		if c.Breaker.FailureRateThreshold <= 0 || c.Breaker.FailureRateThreshold > 1 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				"failure_rate_threshold must be in (0, 1]")
		}
		if c.Breaker.OpenTimeout <= 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				"open_timeout must be positive")
		}
	}

	if c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"nats url is required")
	}
	if c.NATS.Subject == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"nats subject is required")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"logging level must be debug, info, warn, or error")
	}

	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update",
			"config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}
