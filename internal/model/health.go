package model

import "time"

// AggregateStatus is the overall health of the orchestrated services.
type AggregateStatus string

const (
	StatusHealthy   AggregateStatus = "healthy"
	StatusDegraded  AggregateStatus = "degraded"
	StatusUnhealthy AggregateStatus = "unhealthy"
)

// HealthSnapshot is the most recent probe result for one service. Immutable
// once created; the monitor replaces the previous snapshot each cycle
// (last-write-wins, no history retained here).
type HealthSnapshot struct {
	Service      string        `json:"service"`
	Healthy      bool          `json:"healthy"`
	Latency      time.Duration `json:"latency_ms"`
	Error        string        `json:"error,omitempty"`
	Class        string        `json:"class,omitempty"` // failure class when unhealthy
	CheckedAt    time.Time     `json:"checked_at"`
	BreakerState string        `json:"breaker_state"`
}

// Aggregate derives the overall status from a set of snapshots: healthy when
// every service is healthy, unhealthy when none is, degraded otherwise. An
// empty set is healthy (nothing registered, nothing wrong).
func Aggregate(snapshots []*HealthSnapshot) AggregateStatus {
	if len(snapshots) == 0 {
		return StatusHealthy
	}

	healthy := 0
	for _, s := range snapshots {
		if s.Healthy {
			healthy++
		}
	}

	switch healthy {
	case len(snapshots):
		return StatusHealthy
	case 0:
		return StatusUnhealthy
	default:
		return StatusDegraded
	}
}
