package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"Showrunner/internal/conf"
	errclass "Showrunner/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// HTTPServiceProxy is the thin HTTP client for one monitored downstream
// service. It knows the service's ping endpoint and how to re-issue a failed
// work item; every error it returns is classified for the retry machinery.
type HTTPServiceProxy struct {
	name    string
	kind    string
	baseURL string
	apiKey  string
	client  *http.Client
}

func newServiceProxy(svc *conf.Service) *HTTPServiceProxy {
	return &HTTPServiceProxy{
		name:    svc.Name,
		kind:    svc.Kind,
		baseURL: svc.BaseUrl,
		apiKey:  svc.ApiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns the configured service name.
func (p *HTTPServiceProxy) Name() string {
	return p.name
}

// pingPath returns the cheap liveness endpoint for the service kind.
func (p *HTTPServiceProxy) pingPath() string {
	switch p.kind {
	case "download-client":
		return "/api/v2/app/version"
	case "library-manager":
		return "/api/v3/system/status"
	case "media-server":
		return "/System/Info/Public"
	default:
		return "/ping"
	}
}

// Probe issues the liveness check.
func (p *HTTPServiceProxy) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+p.pingPath(), nil)
	if err != nil {
		return errclass.NewFatal("failed to build probe request", err)
	}
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return errclass.NewTransient("probe request failed", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if de := errclass.FromStatus("probe rejected", resp.StatusCode); de != nil {
		return de
	}
	return nil
}

// redoPath returns the endpoint that re-issues a failed work item.
func (p *HTTPServiceProxy) redoPath() string {
	switch p.kind {
	case "download-client":
		return "/api/v2/torrents/reannounce"
	case "library-manager":
		return "/api/v3/command"
	case "media-server":
		return "/Library/Refresh"
	default:
		return "/redo"
	}
}

// redoBody maps the strategy index onto the request the service understands.
// Index zero repeats the original request; higher rungs ask the service for
// progressively more invasive handling.
type redoBody struct {
	ItemID   string `json:"item_id"`
	Strategy int    `json:"strategy"`
	Force    bool   `json:"force,omitempty"`
}

// Redo re-issues the work unit identified by itemID.
func (p *HTTPServiceProxy) Redo(ctx context.Context, itemID string, strategyIndex int) error {
	body, err := json.Marshal(redoBody{
		ItemID:   itemID,
		Strategy: strategyIndex,
		Force:    strategyIndex > 0,
	})
	if err != nil {
		return errclass.NewFatal("failed to marshal redo request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.redoPath(), bytes.NewReader(body))
	if err != nil {
		return errclass.NewFatal("failed to build redo request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return errclass.NewTransient("redo request failed", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if de := errclass.FromStatus(fmt.Sprintf("redo of %s rejected", itemID), resp.StatusCode); de != nil {
		return de
	}
	return nil
}

func (p *HTTPServiceProxy) authorize(req *http.Request) {
	if p.apiKey != "" {
		req.Header.Set("X-Api-Key", p.apiKey)
	}
}

// ProxySet holds one proxy per configured service.
type ProxySet struct {
	proxies map[string]*HTTPServiceProxy
}

// NewProxySet builds proxies for every configured service.
func NewProxySet(services []*conf.Service, logger log.Logger) *ProxySet {
	helper := log.NewHelper(logger)
	set := &ProxySet{proxies: make(map[string]*HTTPServiceProxy, len(services))}
	for _, svc := range services {
		set.proxies[svc.Name] = newServiceProxy(svc)
		helper.Infof("registered proxy for %s (%s) at %s", svc.Name, svc.Kind, svc.BaseUrl)
	}
	return set
}

// Lookup returns the proxy for a service name.
func (s *ProxySet) Lookup(name string) (*HTTPServiceProxy, bool) {
	p, ok := s.proxies[name]
	return p, ok
}

// Names returns the configured service names.
func (s *ProxySet) Names() []string {
	out := make([]string, 0, len(s.proxies))
	for name := range s.proxies {
		out = append(out, name)
	}
	return out
}
