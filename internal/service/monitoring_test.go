package service

import (
	"context"
	"os"
	"testing"
	"time"

	"Showrunner/internal/biz"
	"Showrunner/internal/conf"
	"Showrunner/internal/data"
	"Showrunner/internal/model"
	"Showrunner/pkg/bus"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

func testLogger() log.Logger {
	return log.NewStdLogger(os.Stdout)
}

// stubProxy answers every probe and redo with nil.
type stubProxy struct{ name string }

func (s stubProxy) Name() string                            { return s.name }
func (s stubProxy) Probe(context.Context) error             { return nil }
func (s stubProxy) Redo(context.Context, string, int) error { return nil }

type stubDirectory map[string]stubProxy

func (d stubDirectory) Lookup(name string) (biz.ServiceProxy, bool) {
	p, ok := d[name]
	return p, ok
}

func newTestService(t *testing.T) (*MonitoringService, *biz.MonitorUseCase) {
	t.Helper()

	rc := &conf.Resilience{
		Breaker: &conf.Resilience_Breaker{
			FailureThreshold: 5,
			ResetTimeout:     durationpb.New(time.Minute),
		},
		Monitor: &conf.Resilience_Monitor{
			// Long interval: tests drive state manually, not via ticks.
			DefaultInterval: durationpb.New(time.Hour),
			ProbeTimeout:    durationpb.New(time.Second),
			Workers:         2,
		},
	}

	b := bus.New(64, testLogger())
	t.Cleanup(b.Close)

	registry := biz.NewBreakerRegistry(rc, b, testLogger())
	dir := stubDirectory{"series": {name: "series"}, "movies": {name: "movies"}}
	services := []*conf.Service{
		{Name: "series", Kind: "library-manager", BaseUrl: "http://a"},
		{Name: "movies", Kind: "library-manager", BaseUrl: "http://b"},
	}

	monitor, err := biz.NewMonitorUseCase(rc, services, dir, registry, b, testLogger())
	require.NoError(t, err)
	t.Cleanup(monitor.Close)

	attempt := biz.NewRecoveryAttempter(dir, testLogger())
	recovery, cleanupRecovery := biz.NewRecoveryUseCase(rc, attempt, b, testLogger())
	t.Cleanup(cleanupRecovery)

	d, cleanupData, err := data.NewData(nil, testLogger(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(cleanupData)
	dedupe, err := data.NewEventDedupe(d, testLogger())
	require.NoError(t, err)
	history, cleanupHistory, err := data.NewIncidentHistoryRepo(d, dedupe, b, testLogger())
	require.NoError(t, err)
	t.Cleanup(cleanupHistory)

	return NewMonitoringService(monitor, registry, recovery, history, testLogger()), monitor
}

func TestAggregateHealthBeforeAnyProbe(t *testing.T) {
	svc, _ := newTestService(t)

	reply := svc.AggregateHealth(context.Background())
	assert.Equal(t, model.StatusHealthy, reply.Status)
	assert.False(t, reply.Running)
	assert.Empty(t, reply.Services)
}

func TestServiceHealthNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ServiceHealth(context.Background(), "plex")
	require.Error(t, err)
	ke := kerrors.FromError(err)
	assert.Equal(t, int32(404), ke.Code)
	assert.Equal(t, "SERVICE_NOT_REGISTERED", ke.Reason)

	// Registered but never probed is a distinct condition.
	_, err = svc.ServiceHealth(context.Background(), "series")
	require.Error(t, err)
	assert.Equal(t, "SERVICE_NOT_PROBED", kerrors.FromError(err).Reason)
}

func TestBreakerStateForRegisteredService(t *testing.T) {
	svc, _ := newTestService(t)

	// The breaker is created on demand for a registered service.
	reply, err := svc.BreakerState(context.Background(), "series")
	require.NoError(t, err)
	assert.Equal(t, "series", reply.Service)
	assert.Equal(t, "closed", reply.State)
	assert.Equal(t, 5, reply.Threshold)
	assert.Equal(t, "1m0s", reply.Timeout)

	_, err = svc.BreakerState(context.Background(), "plex")
	require.Error(t, err)
	assert.Equal(t, int32(404), kerrors.FromError(err).Code)
}

func TestMonitoringControlIsIdempotent(t *testing.T) {
	svc, monitor := newTestService(t)

	reply := svc.StartMonitoring(context.Background())
	assert.True(t, reply.Running)
	assert.True(t, reply.Changed)

	reply = svc.StartMonitoring(context.Background())
	assert.True(t, reply.Running)
	assert.False(t, reply.Changed)
	assert.True(t, monitor.Running())

	reply = svc.StopMonitoring(context.Background())
	assert.False(t, reply.Running)
	assert.True(t, reply.Changed)

	reply = svc.StopMonitoring(context.Background())
	assert.False(t, reply.Changed)
}

func TestRecoveryItemsEmpty(t *testing.T) {
	svc, _ := newTestService(t)
	reply := svc.RecoveryItems(context.Background())
	assert.Empty(t, reply.Items)
}

func TestIncidentHistoryDisabled(t *testing.T) {
	svc, _ := newTestService(t)

	reply, err := svc.IncidentHistory(context.Background(), 10)
	require.NoError(t, err)
	assert.False(t, reply.Enabled)
	assert.Empty(t, reply.Records)
}
