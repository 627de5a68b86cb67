package biz

import (
	"context"
	"fmt"

	"Showrunner/internal/data"

	"github.com/go-kratos/kratos/v2/log"
)

// ServiceProxy is the contract a downstream service client must satisfy to
// be monitored and recovered. Probe is a cheap liveness check; Redo re-issues
// the work unit identified by itemID using the strategy at strategyIndex.
type ServiceProxy interface {
	Name() string
	Probe(ctx context.Context) error
	Redo(ctx context.Context, itemID string, strategyIndex int) error
}

// ProxyDirectory resolves a service name to its proxy.
type ProxyDirectory interface {
	Lookup(name string) (ServiceProxy, bool)
}

// NewProxyDirectory adapts the data layer proxy set to the ProxyDirectory
// contract used by the monitor and the recovery engine.
func NewProxyDirectory(ps *data.ProxySet) ProxyDirectory {
	return proxyDirectory{ps: ps}
}

type proxyDirectory struct {
	ps *data.ProxySet
}

func (d proxyDirectory) Lookup(name string) (ServiceProxy, bool) {
	p, ok := d.ps.Lookup(name)
	if !ok {
		return nil, false
	}
	return p, true
}

// AttemptFunc executes one recovery attempt for the named item. The recovery
// engine treats it as a black box: it only inspects the returned error's
// failure class.
type AttemptFunc func(ctx context.Context, service, itemID string, strategyIndex int) error

// NewRecoveryAttempter builds the AttemptFunc driving recovery attempts
// through the per-service proxies.
func NewRecoveryAttempter(dir ProxyDirectory, logger log.Logger) AttemptFunc {
	helper := log.NewHelper(logger)
	return func(ctx context.Context, service, itemID string, strategyIndex int) error {
		proxy, ok := dir.Lookup(service)
		if !ok {
			helper.Warnw("msg", "recovery attempt for unknown service", "service", service, "item_id", itemID)
			return fmt.Errorf("no proxy registered for service %q", service)
		}
		return proxy.Redo(ctx, itemID, strategyIndex)
	}
}
