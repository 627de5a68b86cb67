// Package breaker implements the per-service circuit breaker that gates
// calls to a downstream media-automation service.
//
// State diagram:
//
//	CLOSED ──[threshold consecutive failures]──► OPEN
//	   ▲                                           │
//	   │                              [reset timeout elapsed,
//	   │                                  next call probes]
//	   └────[probe succeeds]──── HALF_OPEN ◄───────┘
//	                                 │
//	                                 └──[probe fails]──► OPEN (fresh opened_at)
//
// The open→half_open transition is lazy: it happens on the next call attempt
// after the reset timeout, not on a background timer, so a breaker costs no
// goroutine while idle. The health monitor's periodic probe is the traffic
// that guarantees the transition eventually happens even for services no one
// else calls.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed is the normal operating state.
	StateClosed State = iota

	// StateOpen means the circuit has tripped and calls are rejected.
	StateOpen

	// StateHalfOpen means a single probe call is testing recovery.
	StateHalfOpen
)

// String returns the wire-format state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the breaker refuses to attempt a call.
// It is distinguished from real downstream failures so callers can choose
// not to count it against retry budgets.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config controls how a breaker trips and recovers.
type Config struct {
	// FailureThreshold is consecutive failures before opening. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long to stay open before the next call is allowed
	// to probe. Default: 60 seconds.
	ResetTimeout time.Duration

	// OnStateChange is called on every transition with the service identity
	// and both states. Called outside the breaker lock.
	OnStateChange func(service string, from, to State)
}

// withDefaults fills zero values.
func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 60 * time.Second
	}
	return c
}

// Snapshot is a read-only view of breaker state for introspection endpoints.
type Snapshot struct {
	Service      string        `json:"service"`
	State        string        `json:"state"`
	FailureCount int           `json:"failure_count"`
	SuccessCount int           `json:"success_count"`
	Threshold    int           `json:"threshold"`
	Timeout      time.Duration `json:"timeout"`
	OpenedAt     time.Time     `json:"opened_at,omitempty"`
}

// Breaker gates calls to one service. Safe for concurrent use; the mutex is
// held only across state reads and transitions, never across the wrapped
// call, so concurrent traffic against a closed breaker is not serialized.
type Breaker struct {
	service string
	cfg     Config
	logger  *log.Helper

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	probing   bool // a half-open probe call is in flight
}

// New creates a breaker for one service identity, starting closed.
func New(service string, cfg Config, logger log.Logger) *Breaker {
	return &Breaker{
		service: service,
		cfg:     cfg.withDefaults(),
		logger:  log.NewHelper(logger),
		state:   StateClosed,
	}
}

// Service returns the service identity this breaker guards.
func (b *Breaker) Service() string {
	return b.service
}

// Execute runs op if the circuit allows it.
//
// Returns ErrCircuitOpen without invoking op while open (or while another
// probe owns the half-open slot); otherwise returns op's error and records
// the outcome. The breaker assumes nothing about op's side effects; ops must
// be safely retryable.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := op(ctx)
	b.record(err)
	return err
}

// allow decides whether a call may be attempted, performing the lazy
// open→half_open transition when the reset timeout has elapsed.
func (b *Breaker) allow() error {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return nil

	case StateOpen:
		if time.Since(b.openedAt) >= b.cfg.ResetTimeout {
			from := b.state
			b.state = StateHalfOpen
			b.probing = true
			b.mu.Unlock()
			b.notify(from, StateHalfOpen)
			return nil
		}
		b.mu.Unlock()
		return ErrCircuitOpen

	case StateHalfOpen:
		// Exactly one live probe in half-open.
		if b.probing {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.probing = true
		b.mu.Unlock()
		return nil

	default:
		b.mu.Unlock()
		return ErrCircuitOpen
	}
}

// record updates counters and state from a call outcome.
func (b *Breaker) record(err error) {
	b.mu.Lock()

	var from, to State
	changed := false

	if err != nil {
		b.failures++
		b.successes = 0

		switch b.state {
		case StateClosed:
			if b.failures >= b.cfg.FailureThreshold {
				from, to = b.state, StateOpen
				b.state = StateOpen
				b.openedAt = time.Now()
				changed = true
			}
		case StateHalfOpen:
			from, to = b.state, StateOpen
			b.state = StateOpen
			b.openedAt = time.Now()
			b.probing = false
			changed = true
		}
	} else {
		b.successes++

		switch b.state {
		case StateClosed:
			b.failures = 0
		case StateHalfOpen:
			from, to = b.state, StateClosed
			b.state = StateClosed
			b.failures = 0
			b.probing = false
			changed = true
		}
	}

	b.mu.Unlock()

	if changed {
		b.logger.Warnw("circuit breaker state changed",
			"service", b.service,
			"from", from.String(),
			"to", to.String())
		b.notify(from, to)
	}
}

func (b *Breaker) notify(from, to State) {
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.service, from, to)
	}
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a point-in-time view for the introspection endpoint.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Service:      b.service,
		State:        b.state.String(),
		FailureCount: b.failures,
		SuccessCount: b.successes,
		Threshold:    b.cfg.FailureThreshold,
		Timeout:      b.cfg.ResetTimeout,
		OpenedAt:     b.openedAt,
	}
}
