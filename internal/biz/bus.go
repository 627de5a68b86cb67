package biz

import (
	"Showrunner/internal/conf"
	"Showrunner/internal/model"
	"Showrunner/pkg/breaker"
	"Showrunner/pkg/bus"

	"github.com/go-kratos/kratos/v2/log"
)

// NewEventBus creates the process-wide event bus sized from configuration.
// The cleanup drains all subscriber queues before returning.
func NewEventBus(rc *conf.Resilience, logger log.Logger) (*bus.Bus, func()) {
	size := bus.DefaultQueueSize
	if rc != nil && rc.Bus != nil && rc.Bus.QueueSize > 0 {
		size = int(rc.Bus.QueueSize)
	}
	b := bus.New(size, logger)
	return b, b.Close
}

// NewBreakerRegistry creates the shared circuit breaker registry. Every
// state transition is published as a circuit.state_changed event so that
// gateway clients and the incident history observe breaker activity.
func NewBreakerRegistry(rc *conf.Resilience, b *bus.Bus, logger log.Logger) *breaker.Registry {
	cfg := breaker.Config{
		OnStateChange: func(service string, from, to breaker.State) {
			b.Publish(model.TopicCircuitStateChanged, &model.CircuitTransition{
				Service: service,
				From:    from.String(),
				To:      to.String(),
			}, "")
		},
	}
	if rc != nil && rc.Breaker != nil {
		cfg.FailureThreshold = int(rc.Breaker.FailureThreshold)
		if rc.Breaker.ResetTimeout != nil {
			cfg.ResetTimeout = rc.Breaker.ResetTimeout.AsDuration()
		}
	}
	return breaker.NewRegistry(cfg, logger)
}
