// Package health tracks per-component health for the pipeline and
// aggregates it into a single system status served by the metrics
// endpoint.
package health

import (
	"time"

	"github.com/c360/streamguard/pkg/backpressure"
	"github.com/c360/streamguard/pkg/breaker"
	"github.com/c360/streamguard/pkg/worker"
)

// Status represents the health state of a component or the system
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // "healthy", "unhealthy", "degraded"
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == "healthy"
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == "degraded"
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == "unhealthy"
}

// NewHealthy creates a new healthy status
func NewHealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    "healthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnhealthy creates a new unhealthy status
func NewUnhealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   false,
		Status:    "unhealthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDegraded creates a new degraded status
func NewDegraded(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   false,
		Status:    "degraded",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// FromBreakerSnapshot maps breaker state to health: closed is healthy,
// half-open is degraded (probing recovery), open is unhealthy.
func FromBreakerSnapshot(component string, snap breaker.Snapshot) Status {
	switch snap.State {
	case breaker.StateClosed:
		return NewHealthy(component, "circuit closed")
	case breaker.StateHalfOpen:
		return NewDegraded(component, "circuit half-open, probing downstream")
	default:
		return NewUnhealthy(component, "circuit open, downstream rejected")
	}
}

// FromPoolStats reports the worker pool as degraded when its queue is
// nearly full, since new submissions are about to reject.
func FromPoolStats(component string, stats worker.PoolStats) Status {
	if stats.QueueSize > 0 && stats.QueueDepth >= stats.QueueSize {
		return NewDegraded(component, "task queue saturated")
	}
	return NewHealthy(component, "pool accepting work")
}

// FromLimiterStats reports the limiter as degraded above 90% load
func FromLimiterStats(component string, stats backpressure.Stats) Status {
	if stats.LoadPercentage > 0.9 {
		return NewDegraded(component, "admission near capacity")
	}
	return NewHealthy(component, "permits available")
}

// Aggregate folds sub-statuses into one:
// any unhealthy makes the aggregate unhealthy, otherwise any degraded
// makes it degraded, otherwise it is healthy.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "no sub-components to aggregate")
	}

	hasUnhealthy := false
	hasDegraded := false
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			hasUnhealthy = true
		case sub.IsDegraded():
			hasDegraded = true
		}
	}

	var status Status
	switch {
	case hasUnhealthy:
		status = NewUnhealthy(component, "one or more sub-components are unhealthy")
	case hasDegraded:
		status = NewDegraded(component, "one or more sub-components are degraded")
	default:
		status = NewHealthy(component, "all sub-components are healthy")
	}

	status.SubStatuses = make([]Status, len(subStatuses))
	copy(status.SubStatuses, subStatuses)
	return status
}
