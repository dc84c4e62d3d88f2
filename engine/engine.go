// Package engine assembles the pipeline from configuration: metrics,
// health, the resilience components, the processor, and the NATS
// ingestion and publishing adapters, with coordinated startup and
// graceful shutdown.
package engine

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/streamguard/config"
	"github.com/c360/streamguard/errors"
	"github.com/c360/streamguard/health"
	"github.com/c360/streamguard/input/natsingest"
	"github.com/c360/streamguard/metric"
	"github.com/c360/streamguard/natsclient"
	"github.com/c360/streamguard/output/natspublish"
	"github.com/c360/streamguard/pkg/backpressure"
	"github.com/c360/streamguard/pkg/breaker"
	"github.com/c360/streamguard/pkg/dedup"
	"github.com/c360/streamguard/pkg/logstream"
	"github.com/c360/streamguard/pkg/worker"
	"github.com/c360/streamguard/processor"
)

const healthInterval = 10 * time.Second

// Engine owns the assembled pipeline
type Engine struct {
	cfg       *config.Config
	handler   processor.Handler
	logger    *slog.Logger
	logStream *logstream.Logger

	registry *metric.MetricsRegistry
	monitor  *health.Monitor
	server   *metric.Server

	dedup   dedup.Deduplicator
	limiter *backpressure.Limiter
	brk     *breaker.Breaker
	proc    *processor.Processor

	nats      *natsclient.Client
	ingestor  *natsingest.Ingestor
	publisher *natspublish.Publisher

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewLogger builds the process logger from config
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// New wires the pipeline components from cfg around the supplied
// downstream handler. Nothing runs until Start.
func New(cfg *config.Config, handler processor.Handler, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Engine", "New",
			"downstream handler is required")
	}
	if logger == nil {
		logger = NewLogger(cfg.Logging)
	}

	e := &Engine{
		cfg:      cfg,
		handler:  handler,
		logger:   logger,
		registry: metric.NewMetricsRegistry(),
	}
	e.monitor = health.NewMonitor(e.registry.CoreMetrics())
	e.logStream = logstream.New("engine", logger)

	if cfg.Metrics.Enabled {
		e.server = metric.NewServer(cfg.Metrics.Addr, "/metrics", e.registry)
		e.server.SetHealthHandler(http.HandlerFunc(e.serveHealth))
	}

	return e, nil
}

// Start builds and launches every component. It returns once the pipeline
// is accepting messages; background goroutines are tracked until Stop.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if err := e.buildComponents(runCtx); err != nil {
		cancel()
		return err
	}

	if err := e.proc.Start(runCtx); err != nil {
		cancel()
		return err
	}

	e.nats = natsclient.New(natsclient.Config{
		URL:           e.cfg.NATS.URL,
		ClientName:    "streamguard",
		MaxReconnects: e.cfg.NATS.MaxReconnects,
		ReconnectWait: e.cfg.NATS.ReconnectWait.Std(),
		Username:      e.cfg.NATS.Username,
		Password:      e.cfg.NATS.Password,
		Token:         e.cfg.NATS.Token,
	}, e.logger)

	if err := e.nats.Connect(runCtx); err != nil {
		cancel()
		return err
	}
	e.logStream.Attach(e.nats)

	e.ingestor = natsingest.New(natsingest.Config{
		Subject:    e.cfg.NATS.Subject,
		QueueGroup: e.cfg.NATS.QueueGroup,
	}, e.nats, e.proc, e.logger, e.registry.CoreMetrics())

	e.publisher = natspublish.New(natspublish.Config{
		Subject: e.cfg.NATS.ResultSubject,
	}, e.nats, e.logger, e.registry.CoreMetrics())

	if err := e.ingestor.Start(runCtx); err != nil {
		cancel()
		return err
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	e.group = group

	group.Go(func() error {
		return e.publisher.Run(groupCtx, e.proc.Results())
	})
	group.Go(func() error {
		e.healthLoop(groupCtx)
		return nil
	})
	if e.server != nil {
		group.Go(func() error {
			return e.server.Start()
		})
		group.Go(func() error {
			<-groupCtx.Done()
			return e.server.Stop()
		})
	}

	e.logStream.Info(runCtx, "pipeline started",
		"subject", e.cfg.NATS.Subject,
		"workers", e.cfg.Pipeline.WorkerPoolSize,
		"max_concurrent", e.cfg.Backpressure.MaxConcurrentRequests)
	return nil
}

// buildComponents constructs the resilience leaves and the processor
func (e *Engine) buildComponents(ctx context.Context) error {
	core := e.registry.CoreMetrics()

	if e.cfg.Pipeline.EnableDedup {
		dedupCfg := dedup.Config{
			TTL:           e.cfg.Dedup.TTL.Std(),
			SlidingTTL:    e.cfg.Dedup.SlidingTTL,
			SweepInterval: e.cfg.Dedup.SweepInterval.Std(),
		}

		var d dedup.Deduplicator
		var err error
		if e.cfg.Dedup.Mode == config.DedupModeBloom {
			d, err = dedup.NewBloom(ctx, dedupCfg, dedup.BloomConfig{
				ExpectedItems:     e.cfg.Dedup.ExpectedItems,
				FalsePositiveRate: e.cfg.Dedup.FalsePositiveRate,
			}, dedup.WithMetricsRegistry(e.registry, "ingest_dedup"))
		} else {
			d, err = dedup.NewExact(ctx, dedupCfg,
				dedup.WithMetricsRegistry(e.registry, "ingest_dedup"))
		}
		if err != nil {
			return err
		}
		e.dedup = d
	}

	if e.cfg.Pipeline.EnableBackpressure {
		var opts []backpressure.Option
		if e.cfg.Backpressure.RateLimitEnabled {
			opts = append(opts, backpressure.WithRateLimit(
				e.cfg.Backpressure.RateLimit,
				e.cfg.Backpressure.RateBurst,
				e.cfg.Backpressure.RateWait))
		}
		if e.cfg.Backpressure.AdaptiveEnabled {
			opts = append(opts, backpressure.WithAdaptive(backpressure.AdaptiveConfig{
				MinLimit:       e.cfg.Backpressure.MinLimit,
				MaxLimit:       e.cfg.Backpressure.MaxLimit,
				TargetLatency:  e.cfg.Backpressure.TargetLatency.Std(),
				Tolerance:      e.cfg.Backpressure.Tolerance,
				IncreaseStep:   e.cfg.Backpressure.IncreaseStep,
				DecreaseFactor: e.cfg.Backpressure.DecreaseFactor,
			}))
		}
		opts = append(opts, backpressure.WithMetricsRegistry(e.registry, "admission"))
		e.limiter = backpressure.NewLimiter(e.cfg.Backpressure.MaxConcurrentRequests, opts...)
	}

	if e.cfg.Pipeline.EnableCircuitBreaker {
		brkLog := e.logStream.For("breaker")
		e.brk = breaker.New(breaker.Config{
			FailureThreshold:     e.cfg.Breaker.FailureThreshold,
			FailureRateThreshold: e.cfg.Breaker.FailureRateThreshold,
			MinimumSamples:       e.cfg.Breaker.MinimumSamples,
			SampleWindow:         e.cfg.Breaker.SampleWindow,
			OpenTimeout:          e.cfg.Breaker.OpenTimeout.Std(),
			SuccessThreshold:     e.cfg.Breaker.SuccessThreshold,
			MaxProbes:            e.cfg.Breaker.MaxProbes,
		},
			breaker.WithMetrics(core),
			breaker.WithStateChangeFunc(func(from, to breaker.State, at time.Time) {
				brkLog.Warn(context.Background(),
					fmt.Sprintf("circuit %s to %s", from, to), "at", at)
			}))
	}

	policy := worker.Reject
	if e.cfg.Pipeline.QueueFullPolicy == config.QueuePolicyBlock {
		policy = worker.Block
	}

	procOpts := []processor.Option{
		processor.WithLogger(e.logger),
		processor.WithMetrics(core),
		processor.WithPoolOptions(
			worker.WithFullQueuePolicy[string, string](policy),
			worker.WithMetricsRegistry[string, string](e.registry, "pipeline_pool"),
		),
	}
	if e.dedup != nil {
		procOpts = append(procOpts, processor.WithDeduplicator(e.dedup))
	}
	if e.limiter != nil {
		procOpts = append(procOpts, processor.WithLimiter(e.limiter))
	}
	if e.brk != nil {
		procOpts = append(procOpts, processor.WithBreaker(e.brk))
	}

	e.proc = processor.New(processor.Config{
		WorkerPoolSize:       e.cfg.Pipeline.WorkerPoolSize,
		TaskQueueSize:        e.cfg.Pipeline.TaskQueueSize,
		TaskTimeout:          e.cfg.Pipeline.TaskTimeout.Std(),
		PermitTimeout:        e.cfg.Pipeline.PermitTimeout.Std(),
		EnableDedup:          e.cfg.Pipeline.EnableDedup,
		EnableBackpressure:   e.cfg.Pipeline.EnableBackpressure,
		EnableCircuitBreaker: e.cfg.Pipeline.EnableCircuitBreaker,
		OutputBuffer:         e.cfg.Pipeline.OutputBuffer,
	}, e.handler, procOpts...)

	return nil
}

// healthLoop refreshes component health on a fixed cadence
func (e *Engine) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.refreshHealth()
		}
	}
}

func (e *Engine) refreshHealth() {
	e.monitor.Update("worker_pool",
		health.FromPoolStats("worker_pool", e.proc.PoolStats()))

	if e.limiter != nil {
		e.monitor.Update("backpressure",
			health.FromLimiterStats("backpressure", e.limiter.Stats()))
	}
	if e.brk != nil {
		e.monitor.Update("breaker",
			health.FromBreakerSnapshot("breaker", e.brk.Snapshot()))
	}
	if e.nats != nil {
		if e.nats.IsConnected() {
			e.monitor.Update("nats", health.NewHealthy("nats", "connected"))
		} else {
			e.monitor.Update("nats",
				health.NewUnhealthy("nats", e.nats.Status().String()))
		}
	}
}

// serveHealth renders the aggregated health status as JSON
func (e *Engine) serveHealth(w http.ResponseWriter, _ *http.Request) {
	e.refreshHealth()
	agg := e.monitor.AggregateHealth("streamguard")

	w.Header().Set("Content-Type", "application/json")
	if !agg.IsHealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(agg)
}

// Stop drains the pipeline in dependency order: intake first, then the
// processor up to the grace deadline, then outbound publishing and the
// metrics server.
func (e *Engine) Stop() error {
	e.logStream.Info(context.Background(), "pipeline stopping")

	var firstErr error
	if e.ingestor != nil {
		if err := e.ingestor.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if e.proc != nil {
		if err := e.proc.Stop(e.cfg.Pipeline.ShutdownGrace.Std()); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	// Publisher exits when the result channel closes; cancel unblocks the
	// rest of the group.
	if e.cancel != nil {
		e.cancel()
	}
	if e.group != nil {
		if err := e.group.Wait(); err != nil &&
			!stderrors.Is(err, context.Canceled) && firstErr == nil {
			firstErr = err
		}
	}

	if e.dedup != nil {
		if err := e.dedup.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.nats != nil {
		if err := e.nats.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	e.logger.Info("pipeline stopped")
	return firstErr
}
