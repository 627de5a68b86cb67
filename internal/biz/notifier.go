package biz

import (
	"context"
	"time"

	"Showrunner/internal/model"
	"Showrunner/pkg/bus"
	pkglog "Showrunner/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

const notifyTimeout = 15 * time.Second

// Notifier delivers operator-facing notifications for events that need a
// human: an item giving up on recovery, a circuit breaker opening.
type Notifier interface {
	NotifyRecoveryExhausted(ctx context.Context, outcome *model.RecoveryOutcome, correlationID string) error
	NotifyCircuitOpened(ctx context.Context, tr *model.CircuitTransition, correlationID string) error
}

// NotifyDispatcher bridges the bus to the Notifier. Delivery failures are
// logged and dropped; notification is best-effort and must never feed back
// into the resilience machinery.
type NotifyDispatcher struct {
	notifier Notifier
	logger   *pkglog.LogHelper
	subs     []*bus.Subscription
	b        *bus.Bus
}

// NewNotifyDispatcher subscribes the notifier to recovery.exhausted and
// circuit.state_changed. The cleanup removes both subscriptions.
func NewNotifyDispatcher(n Notifier, b *bus.Bus, logger log.Logger) (*NotifyDispatcher, func()) {
	d := &NotifyDispatcher{
		notifier: n,
		logger:   pkglog.NewLogHelper(logger),
		b:        b,
	}
	d.subs = append(d.subs,
		b.Subscribe(model.TopicRecoveryExhausted, d.onExhausted),
		b.Subscribe(model.TopicCircuitStateChanged, d.onCircuitChange),
	)
	return d, d.Close
}

func (d *NotifyDispatcher) onExhausted(evt model.Event) {
	outcome, ok := evt.Payload.(*model.RecoveryOutcome)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := d.notifier.NotifyRecoveryExhausted(ctx, outcome, evt.CorrelationID); err != nil {
		d.logger.Recovery("exhaustion notification failed",
			"item_id", outcome.ItemID, "service", outcome.Service, "error", err.Error())
	}
}

// onCircuitChange notifies only on transitions into open; recoveries back to
// closed are visible in the logs and the gateway stream.
func (d *NotifyDispatcher) onCircuitChange(evt model.Event) {
	tr, ok := evt.Payload.(*model.CircuitTransition)
	if !ok || tr.To != "open" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := d.notifier.NotifyCircuitOpened(ctx, tr, evt.CorrelationID); err != nil {
		d.logger.Breaker("circuit-open notification failed",
			"service", tr.Service, "error", err.Error())
	}
}

// Close removes the bus subscriptions.
func (d *NotifyDispatcher) Close() {
	for _, sub := range d.subs {
		d.b.Unsubscribe(sub)
	}
	d.subs = nil
}
