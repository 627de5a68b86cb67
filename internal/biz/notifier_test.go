package biz

import (
	"context"
	"sync"
	"testing"
	"time"

	"Showrunner/internal/model"
	"Showrunner/pkg/bus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingNotifier captures dispatched notifications.
type recordingNotifier struct {
	mu        sync.Mutex
	exhausted []*model.RecoveryOutcome
	opened    []*model.CircuitTransition
}

func (n *recordingNotifier) NotifyRecoveryExhausted(_ context.Context, outcome *model.RecoveryOutcome, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.exhausted = append(n.exhausted, outcome)
	return nil
}

func (n *recordingNotifier) NotifyCircuitOpened(_ context.Context, tr *model.CircuitTransition, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.opened = append(n.opened, tr)
	return nil
}

func (n *recordingNotifier) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.exhausted), len(n.opened)
}

func waitForCounts(t *testing.T, n *recordingNotifier, exhausted, opened int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		e, o := n.counts()
		if e == exhausted && o == opened {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	e, o := n.counts()
	t.Fatalf("wanted %d/%d notifications, got %d/%d", exhausted, opened, e, o)
}

func TestNotifyDispatcherRoutesEvents(t *testing.T) {
	b := bus.New(64, testLogger())
	defer b.Close()

	n := &recordingNotifier{}
	_, cleanup := NewNotifyDispatcher(n, b, testLogger())
	defer cleanup()

	b.Publish(model.TopicRecoveryExhausted, &model.RecoveryOutcome{
		Service: "series", ItemID: "ep-1", Outcome: model.OutcomeExhausted,
	}, "")
	b.Publish(model.TopicCircuitStateChanged, &model.CircuitTransition{
		Service: "movies", From: "closed", To: "open",
	}, "")

	waitForCounts(t, n, 1, 1)
	n.mu.Lock()
	assert.Equal(t, "ep-1", n.exhausted[0].ItemID)
	assert.Equal(t, "movies", n.opened[0].Service)
	n.mu.Unlock()
}

func TestNotifyDispatcherIgnoresRecoveryTransitions(t *testing.T) {
	b := bus.New(64, testLogger())
	defer b.Close()

	n := &recordingNotifier{}
	_, cleanup := NewNotifyDispatcher(n, b, testLogger())
	defer cleanup()

	// Transitions that are not into open carry no operator action.
	b.Publish(model.TopicCircuitStateChanged, &model.CircuitTransition{
		Service: "movies", From: "open", To: "half_open",
	}, "")
	b.Publish(model.TopicCircuitStateChanged, &model.CircuitTransition{
		Service: "movies", From: "half_open", To: "closed",
	}, "")

	time.Sleep(50 * time.Millisecond)
	e, o := n.counts()
	require.Zero(t, e)
	assert.Zero(t, o)
}

func TestNotifyDispatcherCleanupUnsubscribes(t *testing.T) {
	b := bus.New(64, testLogger())
	defer b.Close()

	n := &recordingNotifier{}
	_, cleanup := NewNotifyDispatcher(n, b, testLogger())
	cleanup()

	b.Publish(model.TopicRecoveryExhausted, &model.RecoveryOutcome{ItemID: "ep-1"}, "")
	time.Sleep(50 * time.Millisecond)
	e, _ := n.counts()
	assert.Zero(t, e)
}
