// Package bus provides the in-process publish/subscribe mechanism that
// connects the health monitor, the circuit breakers, the recovery engine and
// the external notification gateway.
//
// Delivery contract:
//   - events published to one topic reach each subscriber of that topic in
//     publish order (FIFO per topic per subscriber, one dispatch worker per
//     subscription)
//   - delivery is at-least-once; consumers dedupe on the event id
//   - Publish never blocks on a slow handler: each subscription has a
//     bounded queue, and on overflow the oldest undelivered event for that
//     subscriber is dropped and a bus.overflow diagnostic is published
package bus

import (
	"sync"
	"time"

	"Showrunner/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// DefaultQueueSize is the per-subscriber queue bound used when the
// configured size is zero or negative.
const DefaultQueueSize = 256

// Handler consumes one event. Handlers run on the subscription's dispatch
// worker; a slow handler delays only its own subscription.
type Handler func(evt model.Event)

// Subscription is the handle returned by Subscribe. It lives until
// Unsubscribe or Bus.Close.
type Subscription struct {
	id    uint64
	topic string

	mu        sync.Mutex // guards queue push/drop so drop-oldest stays atomic
	queue     chan model.Event
	closed    bool // set under mu before the queue channel is closed
	overflown bool // set on drop, cleared on clean enqueue; dedupes overflow diagnostics
}

// closeQueue marks the subscription closed under its lock, so no publisher
// holding the lock can send past this point, then closes the channel to let
// the dispatch worker drain and exit.
func (s *Subscription) closeQueue() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	close(s.queue)
}

// Topic returns the topic this subscription is registered on.
func (s *Subscription) Topic() string {
	return s.topic
}

// Bus is an explicitly constructed registry of subscriptions. Multiple
// independent instances can coexist (e.g. one per test).
type Bus struct {
	queueSize int
	logger    *log.Helper

	mu     sync.RWMutex
	subs   map[string][]*Subscription
	byID   map[uint64]*Subscription
	nextID uint64
	closed bool

	wg sync.WaitGroup
}

// New creates an event bus with the given per-subscriber queue size.
func New(queueSize int, logger log.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		queueSize: queueSize,
		logger:    log.NewHelper(logger),
		subs:      make(map[string][]*Subscription),
		byID:      make(map[uint64]*Subscription),
	}
}

// Publish enqueues an event for every subscriber of the topic and returns
// the event id. It returns as soon as the event is enqueued; handler
// execution happens asynchronously. An empty correlation id gets a fresh
// one, so every event belongs to some causal chain.
func (b *Bus) Publish(topic string, payload interface{}, correlationID string) string {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	evt := model.Event{
		ID:            uuid.NewString(),
		Topic:         topic,
		CorrelationID: correlationID,
		Payload:       payload,
		OccurredAt:    time.Now(),
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return evt.ID
	}
	targets := make([]*Subscription, len(b.subs[topic]))
	copy(targets, b.subs[topic])
	b.mu.RUnlock()

	for _, sub := range targets {
		b.enqueue(sub, evt)
	}

	return evt.ID
}

// enqueue delivers one event to one subscription, dropping the oldest queued
// event on overflow. The per-subscription lock keeps the pop-then-push pair
// atomic under concurrent publishers.
func (b *Bus) enqueue(sub *Subscription, evt model.Event) {
	sub.mu.Lock()

	if sub.closed {
		sub.mu.Unlock()
		return
	}

	var dropped *model.Event
	select {
	case sub.queue <- evt:
		sub.overflown = false
		sub.mu.Unlock()
		return
	default:
		// Queue full: remove the oldest, then push. Only the dispatcher
		// consumes while sub.mu is held, so after the pop the queue has
		// room and the fresh event is never lost.
		select {
		case old := <-sub.queue:
			dropped = &old
		default:
		}
		sub.queue <- evt
	}

	if dropped == nil {
		// The dispatcher drained the queue between the failed push and
		// the pop; nothing was dropped after all.
		sub.mu.Unlock()
		return
	}
	firstDrop := !sub.overflown
	sub.overflown = true
	sub.mu.Unlock()

	b.logger.Warnw("subscriber queue overflow, dropped oldest event",
		"topic", sub.topic,
		"dropped_event_id", dropped.ID)

	// One diagnostic per overflow episode, and never for drops on the
	// diagnostic topic itself.
	if firstDrop && sub.topic != model.TopicBusOverflow {
		b.Publish(model.TopicBusOverflow, &model.BusOverflow{
			Topic:   sub.topic,
			Dropped: dropped.ID,
		}, evt.CorrelationID)
	}
}

// Subscribe registers a handler for a topic and starts its dispatch worker.
// Returns nil if the bus is already closed.
func (b *Bus) Subscribe(topic string, handler Handler) *Subscription {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.nextID++
	sub := &Subscription{
		id:    b.nextID,
		topic: topic,
		queue: make(chan model.Event, b.queueSize),
	}
	b.subs[topic] = append(b.subs[topic], sub)
	b.byID[sub.id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go b.dispatch(sub, handler)

	return sub
}

// dispatch is the per-subscription worker. It drains the queue until the
// subscription is removed, isolating handler panics so one bad consumer
// cannot take down the bus.
func (b *Bus) dispatch(sub *Subscription, handler Handler) {
	defer b.wg.Done()
	for evt := range sub.queue {
		b.safeHandle(sub, handler, evt)
	}
}

func (b *Bus) safeHandle(sub *Subscription, handler Handler, evt model.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorw("event handler panicked",
				"topic", sub.topic,
				"event_id", evt.ID,
				"panic", r)
		}
	}()
	handler(evt)
}

// Unsubscribe removes a subscription. Events already queued are still
// delivered before the worker exits; no new events are enqueued.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	if _, ok := b.byID[sub.id]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.byID, sub.id)
	list := b.subs[sub.topic]
	for i, s := range list {
		if s.id == sub.id {
			b.subs[sub.topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.topic]) == 0 {
		delete(b.subs, sub.topic)
	}
	b.mu.Unlock()

	sub.closeQueue()
}

// Close removes every subscription and waits for the dispatch workers to
// drain their queues. The bus accepts no publishes afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	remaining := make([]*Subscription, 0, len(b.byID))
	for _, sub := range b.byID {
		remaining = append(remaining, sub)
	}
	b.subs = make(map[string][]*Subscription)
	b.byID = make(map[uint64]*Subscription)
	b.mu.Unlock()

	for _, sub := range remaining {
		sub.closeQueue()
	}
	b.wg.Wait()
}
