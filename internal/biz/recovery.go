package biz

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"Showrunner/internal/conf"
	"Showrunner/internal/model"
	"Showrunner/pkg/bus"
	errclass "Showrunner/pkg/errors"
	pkglog "Showrunner/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	defaultMaxAttempts    = 5
	defaultBaseDelay      = 2 * time.Second
	defaultMaxRetryDelay  = 5 * time.Minute
	defaultAttemptTimeout = 30 * time.Second
	defaultLadderSize     = 3
)

// RecoveryUseCase drives failed work items through a retry state machine:
// Detected -> Diagnosing -> Retrying -> Succeeded or Exhausted. Items arrive
// as recovery.requested events on the bus; each terminal transition publishes
// exactly one outcome event carrying the correlation id of the triggering
// failure.
type RecoveryUseCase struct {
	bus     *bus.Bus
	logger  *pkglog.LogHelper
	attempt AttemptFunc

	maxAttempts    int
	baseDelay      time.Duration
	maxDelay       time.Duration
	attemptTimeout time.Duration
	ladderSize     int

	mu     sync.Mutex
	items  map[string]*model.RecoveryAttempt
	timers map[string]*time.Timer
	closed bool

	rngMu sync.Mutex
	rng   *rand.Rand

	sub *bus.Subscription
}

// NewRecoveryUseCase builds the engine and subscribes it to
// recovery.requested. The cleanup cancels pending timers and unsubscribes;
// attempts in flight at shutdown are abandoned without an outcome event.
func NewRecoveryUseCase(rc *conf.Resilience, attempt AttemptFunc, b *bus.Bus, logger log.Logger) (*RecoveryUseCase, func()) {
	uc := &RecoveryUseCase{
		bus:            b,
		logger:         pkglog.NewLogHelper(logger),
		attempt:        attempt,
		maxAttempts:    defaultMaxAttempts,
		baseDelay:      defaultBaseDelay,
		maxDelay:       defaultMaxRetryDelay,
		attemptTimeout: defaultAttemptTimeout,
		ladderSize:     defaultLadderSize,
		items:          make(map[string]*model.RecoveryAttempt),
		timers:         make(map[string]*time.Timer),
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if rc != nil && rc.Recovery != nil {
		r := rc.Recovery
		if r.MaxAttempts > 0 {
			uc.maxAttempts = int(r.MaxAttempts)
		}
		if r.BaseDelay != nil && r.BaseDelay.AsDuration() > 0 {
			uc.baseDelay = r.BaseDelay.AsDuration()
		}
		if r.MaxDelay != nil && r.MaxDelay.AsDuration() > 0 {
			uc.maxDelay = r.MaxDelay.AsDuration()
		}
		if r.AttemptTimeout != nil && r.AttemptTimeout.AsDuration() > 0 {
			uc.attemptTimeout = r.AttemptTimeout.AsDuration()
		}
		if r.LadderSize > 0 {
			uc.ladderSize = int(r.LadderSize)
		}
	}

	uc.sub = b.Subscribe(model.TopicRecoveryRequested, uc.onFailureEvent)
	return uc, uc.Close
}

// onFailureEvent is the bus handler. Events without an item reference carry
// nothing recoverable and are ignored; an item already being recovered is
// not restarted.
func (uc *RecoveryUseCase) onFailureEvent(evt model.Event) {
	req, ok := evt.Payload.(*model.RecoveryRequest)
	if !ok || req.ItemID == "" {
		return
	}

	uc.mu.Lock()
	if uc.closed {
		uc.mu.Unlock()
		return
	}
	if _, dup := uc.items[req.ItemID]; dup {
		uc.mu.Unlock()
		uc.logger.Recovery("duplicate failure event ignored", "item_id", req.ItemID, "service", req.Service)
		return
	}

	rec := &model.RecoveryAttempt{
		ItemID:        req.ItemID,
		Service:       req.Service,
		CorrelationID: evt.CorrelationID,
		State:         model.RecoveryDetected,
		Outcome:       model.OutcomePending,
	}
	uc.items[req.ItemID] = rec

	// Diagnosing is the classification step. A fatal failure is never
	// retried and goes terminal on the spot.
	rec.State = model.RecoveryDiagnosing
	if req.Class == string(errclass.ClassFatal) {
		uc.finishLocked(rec, model.OutcomeExhausted, "fatal failure, not retried: "+req.Reason)
		uc.mu.Unlock()
		return
	}

	rec.State = model.RecoveryRetrying
	uc.scheduleLocked(rec)
	uc.mu.Unlock()

	uc.logger.Recovery("item entered recovery",
		"item_id", rec.ItemID, "service", rec.Service, "class", req.Class, "reason", req.Reason)
}

// scheduleLocked arms the retry timer for the record's next attempt.
// Caller holds uc.mu.
func (uc *RecoveryUseCase) scheduleLocked(rec *model.RecoveryAttempt) {
	delay := uc.backoff(rec.AttemptNumber)
	rec.ScheduledAt = time.Now().Add(delay)
	itemID := rec.ItemID
	uc.timers[itemID] = time.AfterFunc(delay, func() {
		uc.runAttempt(itemID)
	})
}

// backoff returns base * 2^n capped at the maximum delay, plus jitter drawn
// from [0, delay/5) so synchronized failures do not retry in lockstep.
func (uc *RecoveryUseCase) backoff(n int) time.Duration {
	delay := uc.baseDelay
	for i := 0; i < n && delay < uc.maxDelay; i++ {
		delay *= 2
	}
	if delay > uc.maxDelay {
		delay = uc.maxDelay
	}
	if jitterWindow := int64(delay / 5); jitterWindow > 0 {
		uc.rngMu.Lock()
		delay += time.Duration(uc.rng.Int63n(jitterWindow))
		uc.rngMu.Unlock()
	}
	return delay
}

func (uc *RecoveryUseCase) runAttempt(itemID string) {
	uc.mu.Lock()
	if uc.closed {
		uc.mu.Unlock()
		return
	}
	rec, ok := uc.items[itemID]
	if !ok {
		uc.mu.Unlock()
		return
	}
	delete(uc.timers, itemID)
	service := rec.Service
	strategy := rec.StrategyIndex
	uc.mu.Unlock()

	err := uc.execute(service, itemID, strategy)

	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.closed {
		return
	}
	rec, ok = uc.items[itemID]
	if !ok {
		return
	}

	rec.AttemptNumber++
	if err == nil {
		rec.State = model.RecoverySucceeded
		uc.finishLocked(rec, model.OutcomeSucceeded, "")
		return
	}

	rec.LastError = err.Error()
	uc.logger.Recovery("recovery attempt failed",
		"item_id", itemID, "service", service,
		"attempt", rec.AttemptNumber, "strategy", strategy, "error", err.Error())

	if errclass.IsFatal(err) {
		uc.finishLocked(rec, model.OutcomeExhausted, "fatal failure during retry: "+err.Error())
		return
	}

	// Advance the fallback ladder; running off its end or out of attempts
	// is terminal.
	rec.StrategyIndex++
	if rec.AttemptNumber >= uc.maxAttempts {
		uc.finishLocked(rec, model.OutcomeExhausted,
			fmt.Sprintf("gave up after %d attempts: %s", rec.AttemptNumber, err.Error()))
		return
	}
	if rec.StrategyIndex >= uc.ladderSize {
		uc.finishLocked(rec, model.OutcomeExhausted,
			"fallback ladder exhausted: "+err.Error())
		return
	}
	uc.scheduleLocked(rec)
}

// execute runs one attempt with a timeout, converting a panicking attempter
// into an attempt-consuming error instead of crashing the engine.
func (uc *RecoveryUseCase) execute(service, itemID string, strategy int) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), uc.attemptTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			uc.logger.Recovery("recovery attempt panicked",
				"item_id", itemID, "service", service, "panic", fmt.Sprint(r))
			err = fmt.Errorf("attempt panicked: %v", r)
		}
	}()
	return uc.attempt(ctx, service, itemID, strategy)
}

// finishLocked moves the record to its terminal state, drops it from the
// active set and publishes the single outcome event. Caller holds uc.mu;
// Publish does not block so holding the lock across it is safe.
func (uc *RecoveryUseCase) finishLocked(rec *model.RecoveryAttempt, outcome string, reason string) {
	rec.Outcome = outcome
	topic := model.TopicRecoverySucceeded
	if outcome == model.OutcomeSucceeded {
		rec.State = model.RecoverySucceeded
	} else {
		rec.State = model.RecoveryExhausted
		topic = model.TopicRecoveryExhausted
	}
	delete(uc.items, rec.ItemID)
	if t, ok := uc.timers[rec.ItemID]; ok {
		t.Stop()
		delete(uc.timers, rec.ItemID)
	}

	uc.bus.Publish(topic, &model.RecoveryOutcome{
		Service:       rec.Service,
		ItemID:        rec.ItemID,
		Attempts:      rec.AttemptNumber,
		StrategyIndex: rec.StrategyIndex,
		Outcome:       outcome,
		Reason:        reason,
	}, rec.CorrelationID)

	uc.logger.Recovery("item left recovery",
		"item_id", rec.ItemID, "service", rec.Service,
		"outcome", outcome, "attempts", rec.AttemptNumber)
}

// Items returns the in-flight recovery records ordered by item id, for
// introspection and tests.
func (uc *RecoveryUseCase) Items() []*model.RecoveryAttempt {
	uc.mu.Lock()
	out := make([]*model.RecoveryAttempt, 0, len(uc.items))
	for _, rec := range uc.items {
		cp := *rec
		out = append(out, &cp)
	}
	uc.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}

// SweepStale drops non-terminal records whose next attempt is overdue by
// more than maxAge and that have lost their timer. This is a leak guard for
// the maintenance cron, not part of the normal state machine.
func (uc *RecoveryUseCase) SweepStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	uc.mu.Lock()
	defer uc.mu.Unlock()
	removed := 0
	for id, rec := range uc.items {
		if _, armed := uc.timers[id]; armed {
			continue
		}
		if !rec.ScheduledAt.IsZero() && rec.ScheduledAt.Before(cutoff) {
			delete(uc.items, id)
			removed++
			uc.logger.Recovery("swept stale recovery record", "item_id", id, "service", rec.Service)
		}
	}
	return removed
}

// Close stops the engine: pending timers are cancelled, the bus subscription
// is removed and new events are refused. It does not publish synthetic
// outcomes for abandoned items.
func (uc *RecoveryUseCase) Close() {
	uc.mu.Lock()
	if uc.closed {
		uc.mu.Unlock()
		return
	}
	uc.closed = true
	for id, t := range uc.timers {
		t.Stop()
		delete(uc.timers, id)
	}
	uc.mu.Unlock()

	uc.bus.Unsubscribe(uc.sub)
}
