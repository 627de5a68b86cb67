package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregate(t *testing.T) {
	up := &HealthSnapshot{Service: "series", Healthy: true}
	down := &HealthSnapshot{Service: "movies", Healthy: false}

	tests := []struct {
		name      string
		snapshots []*HealthSnapshot
		want      AggregateStatus
	}{
		{"empty is healthy", nil, StatusHealthy},
		{"all healthy", []*HealthSnapshot{up, up}, StatusHealthy},
		{"none healthy", []*HealthSnapshot{down, down}, StatusUnhealthy},
		{"mixed is degraded", []*HealthSnapshot{up, down}, StatusDegraded},
		{"single down", []*HealthSnapshot{down}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Aggregate(tt.snapshots))
		})
	}
}

func TestRecoveryStateTerminal(t *testing.T) {
	assert.False(t, RecoveryDetected.Terminal())
	assert.False(t, RecoveryDiagnosing.Terminal())
	assert.False(t, RecoveryRetrying.Terminal())
	assert.True(t, RecoverySucceeded.Terminal())
	assert.True(t, RecoveryExhausted.Terminal())
}
