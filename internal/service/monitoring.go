// Package service exposes the resilience core over the HTTP API: aggregate
// and per-service health, circuit breaker introspection and monitor control.
package service

import (
	"context"
	"time"

	"Showrunner/internal/biz"
	"Showrunner/internal/data"
	"Showrunner/internal/model"
	"Showrunner/pkg/breaker"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewMonitoringService)

// MonitoringService answers the read-side API of the resilience core.
type MonitoringService struct {
	monitor  *biz.MonitorUseCase
	breakers *breaker.Registry
	recovery *biz.RecoveryUseCase
	history  *data.IncidentHistoryRepo
	logger   *log.Helper
}

// NewMonitoringService creates a new MonitoringService instance.
func NewMonitoringService(monitor *biz.MonitorUseCase, breakers *breaker.Registry, recovery *biz.RecoveryUseCase, history *data.IncidentHistoryRepo, logger log.Logger) *MonitoringService {
	return &MonitoringService{
		monitor:  monitor,
		breakers: breakers,
		recovery: recovery,
		history:  history,
		logger:   log.NewHelper(logger),
	}
}

// AggregateHealthReply is the GET /health response body.
type AggregateHealthReply struct {
	Status    model.AggregateStatus   `json:"status"`
	Running   bool                    `json:"monitoring"`
	Services  []*model.HealthSnapshot `json:"services"`
	CheckedAt time.Time               `json:"checked_at"`
}

// AggregateHealth returns the overall status derived from the latest
// snapshot of every probed service.
func (s *MonitoringService) AggregateHealth(_ context.Context) *AggregateHealthReply {
	snapshots := s.monitor.Snapshots()
	return &AggregateHealthReply{
		Status:    model.Aggregate(snapshots),
		Running:   s.monitor.Running(),
		Services:  snapshots,
		CheckedAt: time.Now(),
	}
}

// ServiceHealth returns the latest snapshot for one service.
func (s *MonitoringService) ServiceHealth(_ context.Context, name string) (*model.HealthSnapshot, error) {
	if snap, ok := s.monitor.Snapshot(name); ok {
		return snap, nil
	}
	if s.monitor.Registered(name) {
		return nil, errors.New(404, "SERVICE_NOT_PROBED", "service has not been probed yet: "+name)
	}
	return nil, errors.New(404, "SERVICE_NOT_REGISTERED", "unknown service: "+name)
}

// BreakerReply is the circuit breaker introspection response body.
type BreakerReply struct {
	Service      string `json:"service"`
	State        string `json:"state"`
	FailureCount int    `json:"failure_count"`
	SuccessCount int    `json:"success_count"`
	Threshold    int    `json:"threshold"`
	Timeout      string `json:"timeout"`
}

// BreakerState returns the circuit breaker snapshot for one service. A
// registered service that has never been probed gets its breaker created on
// demand so the endpoint always answers for known services.
func (s *MonitoringService) BreakerState(_ context.Context, name string) (*BreakerReply, error) {
	br, ok := s.breakers.Lookup(name)
	if !ok {
		if !s.monitor.Registered(name) {
			return nil, errors.New(404, "SERVICE_NOT_REGISTERED", "unknown service: "+name)
		}
		br = s.breakers.Get(name)
	}

	snap := br.Snapshot()
	return &BreakerReply{
		Service:      snap.Service,
		State:        snap.State,
		FailureCount: snap.FailureCount,
		SuccessCount: snap.SuccessCount,
		Threshold:    snap.Threshold,
		Timeout:      snap.Timeout.String(),
	}, nil
}

// MonitorControlReply reports the monitor state after a start/stop call.
// Changed is false when the call was a no-op.
type MonitorControlReply struct {
	Running bool `json:"running"`
	Changed bool `json:"changed"`
}

// StartMonitoring starts the probing schedule. Idempotent.
func (s *MonitoringService) StartMonitoring(_ context.Context) *MonitorControlReply {
	changed := s.monitor.Start()
	if changed {
		s.logger.Info("monitoring started via API")
	}
	return &MonitorControlReply{Running: true, Changed: changed}
}

// StopMonitoring stops the probing schedule. Idempotent.
func (s *MonitoringService) StopMonitoring(_ context.Context) *MonitorControlReply {
	changed := s.monitor.Stop()
	if changed {
		s.logger.Info("monitoring stopped via API")
	}
	return &MonitorControlReply{Running: false, Changed: changed}
}

// RecoveryItemsReply lists the items currently inside the recovery state
// machine.
type RecoveryItemsReply struct {
	Items []*model.RecoveryAttempt `json:"items"`
}

// RecoveryItems returns the in-flight recovery records.
func (s *MonitoringService) RecoveryItems(_ context.Context) *RecoveryItemsReply {
	return &RecoveryItemsReply{Items: s.recovery.Items()}
}

// IncidentHistoryReply is the GET /history response body.
type IncidentHistoryReply struct {
	Enabled bool                   `json:"enabled"`
	Records []*data.IncidentRecord `json:"records"`
}

// IncidentHistory returns the newest persisted incident events.
func (s *MonitoringService) IncidentHistory(ctx context.Context, limit int) (*IncidentHistoryReply, error) {
	records, err := s.history.Recent(ctx, limit)
	if err != nil {
		s.logger.Errorw("msg", "failed to read incident history", "error", err.Error())
		return nil, errors.New(500, "HISTORY_UNAVAILABLE", "failed to read incident history")
	}
	return &IncidentHistoryReply{
		Enabled: s.history.Enabled(),
		Records: records,
	}, nil
}
