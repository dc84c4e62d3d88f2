package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/streamguard/errors"
)

// DefaultEnvPrefix namespaces environment overrides
const DefaultEnvPrefix = "STREAMGUARD"

// Loader reads configuration files and applies environment overrides on top
type Loader struct {
	envPrefix string
}

// NewLoader creates a loader with the default environment prefix
func NewLoader() *Loader {
	return &Loader{envPrefix: DefaultEnvPrefix}
}

// WithEnvPrefix changes the environment variable prefix
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load reads the file at path over the defaults, applies environment
// overrides, and validates the result. An empty path loads defaults plus
// environment only.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "Loader", "Load", "read config file")
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.WrapInvalid(err, "Loader", "Load", "parse yaml config")
			}
		case ".json":
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, errors.WrapInvalid(err, "Loader", "Load", "parse json config")
			}
		default:
			// Try YAML first since JSON is a YAML subset
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.WrapInvalid(err, "Loader", "Load", "parse config")
			}
		}
	}

	l.applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads configuration using the default loader
func Load(path string) (*Config, error) {
	return NewLoader().Load(path)
}

// applyEnvOverrides patches cfg from the process environment. Only the
// operationally relevant knobs are overridable; structural tuning stays in
// the file.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(l.envPrefix + "_NATS_URL"); val != "" {
		cfg.NATS.URL = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_SUBJECT"); val != "" {
		cfg.NATS.Subject = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_QUEUE_GROUP"); val != "" {
		cfg.NATS.QueueGroup = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_RESULT_SUBJECT"); val != "" {
		cfg.NATS.ResultSubject = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}

	if val := os.Getenv(l.envPrefix + "_METRICS_ADDR"); val != "" {
		cfg.Metrics.Addr = val
	}
	if val := os.Getenv(l.envPrefix + "_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv(l.envPrefix + "_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}

	if val := os.Getenv(l.envPrefix + "_WORKER_POOL_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Pipeline.WorkerPoolSize = n
		}
	}
	if val := os.Getenv(l.envPrefix + "_MAX_CONCURRENT_REQUESTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Backpressure.MaxConcurrentRequests = n
		}
	}
}
