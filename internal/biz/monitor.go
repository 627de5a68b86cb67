package biz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"Showrunner/internal/conf"
	"Showrunner/internal/model"
	"Showrunner/pkg/breaker"
	"Showrunner/pkg/bus"
	errclass "Showrunner/pkg/errors"
	pkglog "Showrunner/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	defaultProbeInterval = 30 * time.Second
	defaultProbeTimeout  = 10 * time.Second
	defaultProbeWorkers  = 4
)

// registration is one monitored service. inFlight guards against probe
// pile-up when a probe outlives the service's interval.
type registration struct {
	proxy    ServiceProxy
	interval time.Duration
	inFlight atomic.Bool
}

// MonitorUseCase periodically probes every registered service through its
// circuit breaker and publishes health.changed events when the healthy flag
// flips. Probes run on a shared bounded worker pool so a slow service cannot
// starve the scheduler goroutines of the others.
type MonitorUseCase struct {
	breakers *breaker.Registry
	bus      *bus.Bus
	logger   *pkglog.LogHelper

	probeTimeout time.Duration
	workers      int

	mu        sync.Mutex
	regs      map[string]*registration
	snapshots map[string]*model.HealthSnapshot
	running   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
	tasks     chan *registration
}

// NewMonitorUseCase builds a monitor with one registration per configured
// service. Services without an explicit interval use the monitor default.
func NewMonitorUseCase(rc *conf.Resilience, services []*conf.Service, dir ProxyDirectory, breakers *breaker.Registry, b *bus.Bus, logger log.Logger) (*MonitorUseCase, error) {
	m := &MonitorUseCase{
		breakers:     breakers,
		bus:          b,
		logger:       pkglog.NewLogHelper(logger),
		probeTimeout: defaultProbeTimeout,
		workers:      defaultProbeWorkers,
		regs:         make(map[string]*registration),
		snapshots:    make(map[string]*model.HealthSnapshot),
	}

	defaultInterval := defaultProbeInterval
	if rc != nil && rc.Monitor != nil {
		if rc.Monitor.ProbeTimeout != nil && rc.Monitor.ProbeTimeout.AsDuration() > 0 {
			m.probeTimeout = rc.Monitor.ProbeTimeout.AsDuration()
		}
		if rc.Monitor.Workers > 0 {
			m.workers = int(rc.Monitor.Workers)
		}
		if rc.Monitor.DefaultInterval != nil && rc.Monitor.DefaultInterval.AsDuration() > 0 {
			defaultInterval = rc.Monitor.DefaultInterval.AsDuration()
		}
	}

	for _, svc := range services {
		proxy, ok := dir.Lookup(svc.Name)
		if !ok {
			return nil, fmt.Errorf("no proxy for configured service %q", svc.Name)
		}
		interval := svc.Interval
		if interval <= 0 {
			interval = defaultInterval
		}
		if err := m.Register(svc.Name, proxy, interval); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Register adds a service to the monitoring schedule. Registration while the
// monitor is running is rejected so the pool sizing stays predictable.
func (m *MonitorUseCase) Register(name string, proxy ServiceProxy, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("interval for service %q must be positive", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("cannot register while the monitor is running")
	}
	if _, dup := m.regs[name]; dup {
		return fmt.Errorf("service %q is already registered", name)
	}
	m.regs[name] = &registration{proxy: proxy, interval: interval}
	return nil
}

// Registered reports whether the named service is on the schedule.
func (m *MonitorUseCase) Registered(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.regs[name]
	return ok
}

// Start launches the worker pool and one scheduler goroutine per service.
// Returns false when the monitor was already running.
func (m *MonitorUseCase) Start() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return false
	}
	m.stopCh = make(chan struct{})
	m.tasks = make(chan *registration, len(m.regs)+1)

	// A probe stranded by a previous shutdown must not freeze its service
	// out of the new schedule.
	for _, reg := range m.regs {
		reg.inFlight.Store(false)
	}

	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker(m.stopCh, m.tasks)
	}
	for name, reg := range m.regs {
		m.wg.Add(1)
		go m.schedule(name, reg, m.stopCh, m.tasks)
	}
	m.running = true
	m.logger.Scheduler("health monitor started", "services", len(m.regs), "workers", m.workers)
	return true
}

// Stop halts scheduling. In-flight probes finish and their results are still
// recorded. Returns false when the monitor was not running.
func (m *MonitorUseCase) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return false
	}
	close(m.stopCh)
	// Tasks queued but never picked up by a worker would otherwise keep
	// their in-flight flag set and be skipped by every future tick.
drain:
	for {
		select {
		case reg := <-m.tasks:
			reg.inFlight.Store(false)
		default:
			break drain
		}
	}
	m.running = false
	m.logger.Scheduler("health monitor stopped")
	return true
}

// Running reports whether the monitor is currently scheduling probes.
func (m *MonitorUseCase) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Close stops the monitor and waits for all goroutines to exit.
func (m *MonitorUseCase) Close() {
	m.Stop()
	m.wg.Wait()
}

func (m *MonitorUseCase) schedule(name string, reg *registration, stopCh chan struct{}, tasks chan *registration) {
	defer m.wg.Done()

	// First probe fires immediately so snapshots exist right after startup.
	m.submit(name, reg, stopCh, tasks)

	ticker := time.NewTicker(reg.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.submit(name, reg, stopCh, tasks)
		}
	}
}

func (m *MonitorUseCase) submit(name string, reg *registration, stopCh chan struct{}, tasks chan *registration) {
	// Skip the tick when the previous probe is still running or queued.
	if !reg.inFlight.CompareAndSwap(false, true) {
		m.logger.Scheduler("probe still in flight, skipping tick", "service", name)
		return
	}
	select {
	case tasks <- reg:
	case <-stopCh:
		reg.inFlight.Store(false)
	}
}

func (m *MonitorUseCase) worker(stopCh chan struct{}, tasks chan *registration) {
	defer m.wg.Done()
	for {
		select {
		case <-stopCh:
			return
		case reg := <-tasks:
			m.probe(reg)
		}
	}
}

// probe runs one health check through the service's circuit breaker and
// records the outcome. A circuit-open rejection is recorded as unhealthy
// with its own class: it is real traffic as far as the breaker's half-open
// recovery path is concerned, which is what eventually closes a breaker for
// a service that receives no other calls.
func (m *MonitorUseCase) probe(reg *registration) {
	defer reg.inFlight.Store(false)

	name := reg.proxy.Name()
	br := m.breakers.Get(name)

	ctx, cancel := context.WithTimeout(context.Background(), m.probeTimeout)
	start := time.Now()
	err := func() (err error) {
		// A panicking probe is a failed check, not a dead pool worker.
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("probe panicked: %v", r)
			}
		}()
		return br.Execute(ctx, reg.proxy.Probe)
	}()
	latency := time.Since(start)
	cancel()

	snap := &model.HealthSnapshot{
		Service:      name,
		Healthy:      err == nil,
		Latency:      latency,
		CheckedAt:    time.Now(),
		BreakerState: br.State().String(),
	}
	if err != nil {
		snap.Error = err.Error()
		if errors.Is(err, breaker.ErrCircuitOpen) {
			snap.Class = "circuit_open"
		} else {
			snap.Class = string(errclass.Classify(err))
		}
	}
	m.record(snap)
}

// record stores the snapshot and publishes health.changed when the healthy
// flag flipped. The very first snapshot for a service is compared against an
// assumed-healthy baseline, so a service that is down at startup produces an
// event immediately.
func (m *MonitorUseCase) record(snap *model.HealthSnapshot) {
	m.mu.Lock()
	prev, seen := m.snapshots[snap.Service]
	m.snapshots[snap.Service] = snap
	m.mu.Unlock()

	before := true
	if seen {
		before = prev.Healthy
	}
	if before == snap.Healthy {
		return
	}

	m.logger.Probe("service health changed",
		"service", snap.Service,
		"healthy", snap.Healthy,
		"class", snap.Class,
		"latency_ms", snap.Latency.Milliseconds(),
	)
	m.bus.Publish(model.TopicHealthChanged, &model.HealthChange{
		Service:  snap.Service,
		Before:   before,
		After:    snap.Healthy,
		Class:    snap.Class,
		Snapshot: snap,
	}, "")
}

// Snapshot returns the latest health snapshot for one service.
func (m *MonitorUseCase) Snapshot(name string) (*model.HealthSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[name]
	return snap, ok
}

// Snapshots returns the latest snapshot of every probed service, ordered by
// service name. Registered services that have not been probed yet are absent.
func (m *MonitorUseCase) Snapshots() []*model.HealthSnapshot {
	m.mu.Lock()
	out := make([]*model.HealthSnapshot, 0, len(m.snapshots))
	for _, snap := range m.snapshots {
		out = append(out, snap)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}
