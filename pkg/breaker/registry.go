package breaker

import (
	"sync"

	"github.com/go-kratos/kratos/v2/log"
)

// Registry manages one breaker per service identity. It is an explicitly
// constructed object, not a package-level singleton, so independent
// instances can coexist in tests.
//
// Safe for concurrent use.
type Registry struct {
	defaultCfg Config
	logger     log.Logger

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry; breakers are created lazily on
// first Get with the default config.
func NewRegistry(defaultCfg Config, logger log.Logger) *Registry {
	return &Registry{
		defaultCfg: defaultCfg.withDefaults(),
		logger:     logger,
		breakers:   make(map[string]*Breaker),
	}
}

// Get returns the breaker for a service identity, creating it if needed.
func (r *Registry) Get(service string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[service]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring the write lock
	if b, ok = r.breakers[service]; ok {
		return b
	}

	b = New(service, r.defaultCfg, r.logger)
	r.breakers[service] = b
	return b
}

// Lookup returns the breaker for a service without creating one.
func (r *Registry) Lookup(service string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[service]
	return b, ok
}

// Snapshots returns a point-in-time view of every breaker.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]Snapshot, len(r.breakers))
	for service, b := range r.breakers {
		result[service] = b.Snapshot()
	}
	return result
}
