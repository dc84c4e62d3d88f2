package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains pipeline-level metrics shared by all components
type Metrics struct {
	// Message flow metrics
	MessagesReceived   *prometheus.CounterVec
	MessagesProcessed  *prometheus.CounterVec
	OutcomesTotal      *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec

	// Component health
	ComponentStatus   *prometheus.GaugeVec
	HealthCheckStatus *prometheus.GaugeVec

	// Resilience metrics
	CircuitState     prometheus.Gauge
	PermitsInUse     prometheus.Gauge
	ConcurrencyLimit prometheus.Gauge
	DuplicatesTotal  prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all pipeline metrics
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamguard",
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Total number of messages received",
			},
			[]string{"component", "channel"},
		),

		MessagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamguard",
				Subsystem: "messages",
				Name:      "processed_total",
				Help:      "Total number of messages processed",
			},
			[]string{"component", "channel", "status"},
		),

		OutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamguard",
				Subsystem: "pipeline",
				Name:      "outcomes_total",
				Help:      "Processing outcomes by kind (completed, duplicate_skipped, rejected_backpressure, ...)",
			},
			[]string{"outcome"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "streamguard",
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Message processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"component", "operation"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamguard",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"component", "type"},
		),

		ComponentStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "streamguard",
				Subsystem: "component",
				Name:      "status",
				Help:      "Component status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"component"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "streamguard",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),

		CircuitState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "streamguard",
				Subsystem: "breaker",
				Name:      "state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
		),

		PermitsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "streamguard",
				Subsystem: "backpressure",
				Name:      "permits_in_use",
				Help:      "Concurrency permits currently held",
			},
		),

		ConcurrencyLimit: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "streamguard",
				Subsystem: "backpressure",
				Name:      "concurrency_limit",
				Help:      "Current adaptive concurrency ceiling",
			},
		),

		DuplicatesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streamguard",
				Subsystem: "dedup",
				Name:      "duplicates_total",
				Help:      "Total duplicate messages skipped",
			},
		),
	}
}

// RecordMessageReceived increments received message counter
func (c *Metrics) RecordMessageReceived(component, channel string) {
	c.MessagesReceived.WithLabelValues(component, channel).Inc()
}

// RecordMessageProcessed increments processed message counter
func (c *Metrics) RecordMessageProcessed(component, channel, status string) {
	c.MessagesProcessed.WithLabelValues(component, channel, status).Inc()
}

// RecordOutcome increments the outcome counter for one processed message
func (c *Metrics) RecordOutcome(outcome string) {
	c.OutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordProcessingDuration records processing time
func (c *Metrics) RecordProcessingDuration(component, operation string, duration time.Duration) {
	c.ProcessingDuration.WithLabelValues(component, operation).Observe(duration.Seconds())
}

// RecordError increments error counter
func (c *Metrics) RecordError(component, errorType string) {
	c.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordComponentStatus updates component status metric
func (c *Metrics) RecordComponentStatus(component string, status int) {
	c.ComponentStatus.WithLabelValues(component).Set(float64(status))
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(component).Set(value)
}

// RecordCircuitState updates the circuit breaker state gauge
func (c *Metrics) RecordCircuitState(state int) {
	c.CircuitState.Set(float64(state))
}

// RecordPermitsInUse updates the held-permit gauge
func (c *Metrics) RecordPermitsInUse(n int) {
	c.PermitsInUse.Set(float64(n))
}

// RecordConcurrencyLimit updates the adaptive ceiling gauge
func (c *Metrics) RecordConcurrencyLimit(n int) {
	c.ConcurrencyLimit.Set(float64(n))
}

// RecordDuplicate increments the duplicate counter
func (c *Metrics) RecordDuplicate() {
	c.DuplicatesTotal.Inc()
}
