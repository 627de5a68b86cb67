// Package biz contains the business logic of the resilience core: the
// health monitor, the recovery engine and the glue that turns circuit
// breaker transitions and health flips into bus events.
package biz

import (
	"Showrunner/internal/data"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewEventBus,
	NewBreakerRegistry,
	NewProxyDirectory,
	NewMonitorUseCase,
	NewRecoveryAttempter,
	NewRecoveryUseCase,
	NewNotifyDispatcher,
	wire.Bind(new(Notifier), new(*data.WebhookNotifier)),
)
