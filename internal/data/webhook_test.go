package data

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"Showrunner/internal/conf"
	"Showrunner/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got webhookMessage
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(&conf.Notify{
		WebhookUrl: srv.URL,
		Timeout:    durationpb.New(5 * time.Second),
	}, testLogger())
	require.NoError(t, err)

	outcome := &model.RecoveryOutcome{
		Service:  "series",
		ItemID:   "ep-101",
		Attempts: 5,
		Outcome:  model.OutcomeExhausted,
		Reason:   "gave up",
	}
	require.NoError(t, n.NotifyRecoveryExhausted(context.Background(), outcome, "corr-1"))

	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "recovery_exhausted", got.Type)
	assert.Equal(t, "corr-1", got.CorrelationID)
	assert.False(t, got.SentAt.IsZero())
}

func TestWebhookNotifierCircuitOpened(t *testing.T) {
	var got webhookMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(&conf.Notify{WebhookUrl: srv.URL}, testLogger())
	require.NoError(t, err)

	tr := &model.CircuitTransition{Service: "movies", From: "closed", To: "open"}
	require.NoError(t, n.NotifyCircuitOpened(context.Background(), tr, "corr-2"))
	assert.Equal(t, "circuit_opened", got.Type)
}

func TestWebhookNotifierRejectedStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(&conf.Notify{WebhookUrl: srv.URL}, testLogger())
	require.NoError(t, err)

	err = n.NotifyCircuitOpened(context.Background(), &model.CircuitTransition{}, "")
	assert.ErrorContains(t, err, "502")
}

func TestWebhookNotifierDisabledIsNoop(t *testing.T) {
	n, err := NewWebhookNotifier(nil, testLogger())
	require.NoError(t, err)

	assert.NoError(t, n.NotifyRecoveryExhausted(context.Background(), &model.RecoveryOutcome{}, ""))
	assert.NoError(t, n.NotifyCircuitOpened(context.Background(), &model.CircuitTransition{}, ""))
}

func TestWebhookNotifierBadProxyScheme(t *testing.T) {
	_, err := NewWebhookNotifier(&conf.Notify{
		WebhookUrl: "https://hooks.example",
		ProxyUrl:   "ftp://proxy.example",
	}, testLogger())
	assert.Error(t, err)
}
