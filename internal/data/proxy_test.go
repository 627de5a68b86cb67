package data

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"Showrunner/internal/conf"
	errclass "Showrunner/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProxyAgainst(t *testing.T, kind string, handler http.HandlerFunc) *HTTPServiceProxy {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return newServiceProxy(&conf.Service{
		Name:    "series",
		Kind:    kind,
		BaseUrl: srv.URL,
		ApiKey:  "test-key",
	})
}

func TestProxyProbeSuccess(t *testing.T) {
	var gotPath, gotKey string
	p := newProxyAgainst(t, "library-manager", func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Api-Key")
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, p.Probe(context.Background()))
	assert.Equal(t, "/api/v3/system/status", gotPath)
	assert.Equal(t, "test-key", gotKey)
}

func TestProxyProbeClassifiesStatuses(t *testing.T) {
	tests := []struct {
		status int
		class  errclass.FailureClass
	}{
		{http.StatusInternalServerError, errclass.ClassTransient},
		{http.StatusTooManyRequests, errclass.ClassTransient},
		{http.StatusUnauthorized, errclass.ClassFatal},
		{http.StatusNotFound, errclass.ClassFatal},
	}

	for _, tt := range tests {
		p := newProxyAgainst(t, "download-client", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		})
		err := p.Probe(context.Background())
		require.Error(t, err, "status %d", tt.status)
		assert.Equal(t, tt.class, errclass.Classify(err), "status %d", tt.status)
	}
}

func TestProxyProbeConnectionFailureIsTransient(t *testing.T) {
	p := newServiceProxy(&conf.Service{
		Name:    "series",
		Kind:    "library-manager",
		BaseUrl: "http://127.0.0.1:1", // nothing listens here
	})
	err := p.Probe(context.Background())
	require.Error(t, err)
	assert.Equal(t, errclass.ClassTransient, errclass.Classify(err))
}

func TestProxyRedoSendsStrategy(t *testing.T) {
	var got redoBody
	var gotPath string
	p := newProxyAgainst(t, "library-manager", func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, p.Redo(context.Background(), "ep-101", 2))
	assert.Equal(t, "/api/v3/command", gotPath)
	assert.Equal(t, "ep-101", got.ItemID)
	assert.Equal(t, 2, got.Strategy)
	assert.True(t, got.Force, "higher ladder rungs force the retry")
}

func TestProxyPingPathsPerKind(t *testing.T) {
	tests := map[string]string{
		"download-client": "/api/v2/app/version",
		"library-manager": "/api/v3/system/status",
		"media-server":    "/System/Info/Public",
		"unknown-kind":    "/ping",
	}
	for kind, want := range tests {
		p := newServiceProxy(&conf.Service{Name: "x", Kind: kind, BaseUrl: "http://x"})
		assert.Equal(t, want, p.pingPath(), kind)
	}
}

func TestProxySetLookup(t *testing.T) {
	set := NewProxySet([]*conf.Service{
		{Name: "series", Kind: "library-manager", BaseUrl: "http://a"},
		{Name: "movies", Kind: "library-manager", BaseUrl: "http://b"},
	}, testLogger())

	p, ok := set.Lookup("series")
	require.True(t, ok)
	assert.Equal(t, "series", p.Name())

	_, ok = set.Lookup("unknown")
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{"series", "movies"}, set.Names())
}
