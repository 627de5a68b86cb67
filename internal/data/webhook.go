package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"Showrunner/internal/conf"
	"Showrunner/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

const defaultWebhookTimeout = 15 * time.Second

// webhookMessage is the JSON body posted to the configured webhook URL.
type webhookMessage struct {
	Type          string      `json:"type"`
	CorrelationID string      `json:"correlation_id"`
	Payload       interface{} `json:"payload"`
	SentAt        time.Time   `json:"sent_at"`
}

// WebhookNotifier posts operator notifications to a configured HTTP
// endpoint. Without a URL it is a logging no-op, so the dispatcher never
// needs to care whether webhooks are set up.
type WebhookNotifier struct {
	url    string
	client *http.Client
	helper *log.Helper
}

// NewWebhookNotifier builds the notifier from the notify configuration.
func NewWebhookNotifier(nc *conf.Notify, logger log.Logger) (*WebhookNotifier, error) {
	helper := log.NewHelper(logger)

	n := &WebhookNotifier{helper: helper}
	if nc == nil || nc.WebhookUrl == "" {
		helper.Info("webhook URL not configured, notifications are log-only")
		return n, nil
	}

	timeout := defaultWebhookTimeout
	if nc.Timeout != nil && nc.Timeout.AsDuration() > 0 {
		timeout = nc.Timeout.AsDuration()
	}
	client, err := newHTTPClient(nc.ProxyUrl, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook client: %w", err)
	}
	n.url = nc.WebhookUrl
	n.client = client
	return n, nil
}

// NotifyRecoveryExhausted reports an item that gave up on recovery.
func (n *WebhookNotifier) NotifyRecoveryExhausted(ctx context.Context, outcome *model.RecoveryOutcome, correlationID string) error {
	return n.post(ctx, webhookMessage{
		Type:          "recovery_exhausted",
		CorrelationID: correlationID,
		Payload:       outcome,
		SentAt:        time.Now(),
	})
}

// NotifyCircuitOpened reports a circuit breaker tripping open.
func (n *WebhookNotifier) NotifyCircuitOpened(ctx context.Context, tr *model.CircuitTransition, correlationID string) error {
	return n.post(ctx, webhookMessage{
		Type:          "circuit_opened",
		CorrelationID: correlationID,
		Payload:       tr,
		SentAt:        time.Now(),
	})
}

func (n *WebhookNotifier) post(ctx context.Context, msg webhookMessage) error {
	if n.url == "" {
		n.helper.Infof("notification (webhook disabled): type=%s correlation_id=%s", msg.Type, msg.CorrelationID)
		return nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
