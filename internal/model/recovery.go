package model

import "time"

// RecoveryState is the per-item state machine position.
type RecoveryState string

const (
	RecoveryDetected   RecoveryState = "detected"
	RecoveryDiagnosing RecoveryState = "diagnosing"
	RecoveryRetrying   RecoveryState = "retrying"
	RecoverySucceeded  RecoveryState = "succeeded"
	RecoveryExhausted  RecoveryState = "exhausted"
)

// Terminal reports whether no further attempts will ever be issued.
func (s RecoveryState) Terminal() bool {
	return s == RecoverySucceeded || s == RecoveryExhausted
}

// Recovery outcomes as recorded on the attempt and published in outcome
// events.
const (
	OutcomePending   = "pending"
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeExhausted = "exhausted"
)

// RecoveryAttempt tracks one item's retry sequence. Created when a failure
// event is accepted for recovery, mutated only by the engine's state
// machine, discarded after its terminal outcome event is published.
type RecoveryAttempt struct {
	ItemID        string        `json:"item_id"`
	Service       string        `json:"service"`
	CorrelationID string        `json:"correlation_id"`
	State         RecoveryState `json:"state"`
	AttemptNumber int           `json:"attempt_number"`
	StrategyIndex int           `json:"strategy_index"`
	ScheduledAt   time.Time     `json:"scheduled_at"`
	Outcome       string        `json:"outcome"`
	LastError     string        `json:"last_error,omitempty"`
}
