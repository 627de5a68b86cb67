// Package model holds the shared domain types of the resilience core.
package model

import "time"

// Event topics published on the bus. A topic doubles as a websocket "room"
// name for the external gateway.
const (
	// TopicCircuitStateChanged is published on every circuit breaker transition
	TopicCircuitStateChanged = "circuit.state_changed"

	// TopicHealthChanged is published when a service's healthy flag flips
	TopicHealthChanged = "health.changed"

	// TopicBusOverflow is the diagnostic topic for subscriber queue overflow
	TopicBusOverflow = "bus.overflow"

	// TopicRecoveryRequested is published (externally or by service wrappers)
	// to hand a failed item to the recovery engine
	TopicRecoveryRequested = "recovery.requested"

	// TopicRecoverySucceeded is published once when an item recovers
	TopicRecoverySucceeded = "recovery.succeeded"

	// TopicRecoveryExhausted is published once when an item gives up
	TopicRecoveryExhausted = "recovery.exhausted"
)

// Event is the immutable envelope fanned out to subscribers. Created once by
// a publisher; subscribers must treat it as read-only.
type Event struct {
	ID            string      `json:"id"`
	Topic         string      `json:"topic"`
	CorrelationID string      `json:"correlation_id"`
	Payload       interface{} `json:"payload"`
	OccurredAt    time.Time   `json:"occurred_at"`
}

// CircuitTransition is the payload of circuit.state_changed events.
type CircuitTransition struct {
	Service string `json:"service"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// HealthChange is the payload of health.changed events. Before/After carry
// the healthy flag on both sides of the flip; the correlation id of the
// enclosing event starts the incident trace.
type HealthChange struct {
	Service  string          `json:"service"`
	Before   bool            `json:"before"`
	After    bool            `json:"after"`
	Class    string          `json:"class,omitempty"` // transient or fatal, set when After is false
	Snapshot *HealthSnapshot `json:"snapshot"`
}

// RecoveryRequest is the payload of recovery.requested events. ItemID
// identifies the failed unit of work (e.g. a stalled download) in the
// namespace of the owning service.
type RecoveryRequest struct {
	Service string `json:"service"`
	ItemID  string `json:"item_id"`
	Class   string `json:"class"` // transient or fatal
	Reason  string `json:"reason,omitempty"`
}

// RecoveryOutcome is the payload of recovery.succeeded and
// recovery.exhausted events.
type RecoveryOutcome struct {
	Service       string `json:"service"`
	ItemID        string `json:"item_id"`
	Attempts      int    `json:"attempts"`
	StrategyIndex int    `json:"strategy_index"`
	Outcome       string `json:"outcome"` // succeeded or exhausted
	Reason        string `json:"reason,omitempty"`
}

// BusOverflow is the payload of bus.overflow diagnostic events.
type BusOverflow struct {
	Topic   string `json:"topic"`
	Dropped string `json:"dropped_event_id"`
}
