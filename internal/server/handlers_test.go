package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/inferoute/inferoute/internal/providers"
	v1 "github.com/inferoute/inferoute/pkg/api/v1"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOllama serves the local-daemon wire shape for handler tests.
func fakeOllama(t *testing.T, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			http.Error(w, "backend unhappy", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message":           map[string]any{"role": "assistant", "content": "routed answer"},
			"prompt_eval_count": 7,
			"eval_count":        3,
			"done":              true,
		})
	}))
}

func newTestServer(t *testing.T, backendURL string, cacheEnabled bool) *Server {
	t.Helper()
	config := &Config{}
	config.DefaultEnvironment = "production"
	config.Cache.Enabled = cacheEnabled
	config.Providers = []ProviderSpec{{
		Type:    "ollama",
		Enabled: true,
		Descriptor: providers.Descriptor{
			ID:              "local-llama",
			EnvironmentTier: "production",
			Local:           true,
		},
		Transport: providers.Config{BaseURL: backendURL, Model: "llama3"},
	}}

	s, err := NewServer(config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.RoutingCore().Close() })
	return s
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)
	return rec
}

func completionBody(content string) v1.CompletionRequest {
	return v1.CompletionRequest{
		Messages: []v1.Message{{Role: "user", Content: content}},
		TaskType: "chat",
	}
}

func TestHealthEndpoint(t *testing.T) {
	backend := fakeOllama(t, http.StatusOK)
	defer backend.Close()
	s := newTestServer(t, backend.URL, false)

	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp v1.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestCompleteEndToEnd(t *testing.T) {
	backend := fakeOllama(t, http.StatusOK)
	defer backend.Close()
	s := newTestServer(t, backend.URL, false)

	rec := doJSON(t, s, http.MethodPost, "/v1/complete", completionBody("hello"))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp v1.CompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "routed answer", resp.Content)
	assert.Equal(t, "local-llama", resp.Provider)
	assert.Equal(t, 10, resp.TokensUsed)
	assert.NotEmpty(t, resp.RequestID)
	assert.False(t, resp.Cached)
}

func TestCompleteServesRepeatFromCache(t *testing.T) {
	backend := fakeOllama(t, http.StatusOK)
	defer backend.Close()
	s := newTestServer(t, backend.URL, true)

	first := doJSON(t, s, http.MethodPost, "/v1/complete", completionBody("same question"))
	require.Equal(t, http.StatusOK, first.Code)

	second := doJSON(t, s, http.MethodPost, "/v1/complete", completionBody("same question"))
	require.Equal(t, http.StatusOK, second.Code)

	var resp v1.CompletionResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.True(t, resp.Cached)
	assert.Equal(t, "routed answer", resp.Content)

	// The cached answer did not consume provider quota.
	stats := s.RoutingCore().GetStats()
	assert.Equal(t, int64(1), stats.Providers[0].Stats.Requests)
}

func TestCompleteRejectsEmptyMessages(t *testing.T) {
	backend := fakeOllama(t, http.StatusOK)
	defer backend.Close()
	s := newTestServer(t, backend.URL, false)

	rec := doJSON(t, s, http.MethodPost, "/v1/complete", v1.CompletionRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompleteExhaustedReturnsBadGateway(t *testing.T) {
	backend := fakeOllama(t, http.StatusInternalServerError)
	defer backend.Close()
	s := newTestServer(t, backend.URL, false)

	rec := doJSON(t, s, http.MethodPost, "/v1/complete", completionBody("hello"))
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var resp v1.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "all_candidates_exhausted", resp.Error.Type)
	require.Len(t, resp.Error.Attempts, 1)
	assert.Equal(t, "local-llama", resp.Error.Attempts[0].Provider)
	assert.Equal(t, "provider_unavailable", resp.Error.Attempts[0].Kind)
}

func TestQuarantineGaugeTracksProviderState(t *testing.T) {
	backend := fakeOllama(t, http.StatusInternalServerError)
	defer backend.Close()
	s := newTestServer(t, backend.URL, false)

	for i := 0; i < 5; i++ {
		rec := doJSON(t, s, http.MethodPost, "/v1/complete", completionBody("hello"))
		require.Equal(t, http.StatusBadGateway, rec.Code)
	}

	expected := `
# HELP inferoute_provider_quarantined Whether the provider is currently quarantined (1) or not (0)
# TYPE inferoute_provider_quarantined gauge
inferoute_provider_quarantined{provider="local-llama"} 1
`
	require.NoError(t, testutil.GatherAndCompare(
		s.metrics.GetRegistry(), strings.NewReader(expected),
		"inferoute_provider_quarantined"))
}

func TestDisabledProviderYieldsNoCandidates(t *testing.T) {
	backend := fakeOllama(t, http.StatusOK)
	defer backend.Close()
	s := newTestServer(t, backend.URL, false)

	rec := doJSON(t, s, http.MethodPost, "/admin/providers/local-llama/disable", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/v1/complete", completionBody("hello"))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp v1.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "no_candidates", resp.Error.Type)
	require.Len(t, resp.Error.Exclusions, 1)
	assert.Equal(t, "local-llama", resp.Error.Exclusions[0].Provider)
	assert.Equal(t, "disabled", resp.Error.Exclusions[0].Reason)

	rec = doJSON(t, s, http.MethodPost, "/admin/providers/local-llama/enable", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/v1/complete", completionBody("hello"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownProviderAdminReturns404(t *testing.T) {
	backend := fakeOllama(t, http.StatusOK)
	defer backend.Close()
	s := newTestServer(t, backend.URL, false)

	rec := doJSON(t, s, http.MethodPost, "/admin/providers/nope/disable", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestModeEndpoints(t *testing.T) {
	backend := fakeOllama(t, http.StatusOK)
	defer backend.Close()
	s := newTestServer(t, backend.URL, false)

	rec := doJSON(t, s, http.MethodGet, "/admin/mode", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var mode v1.ModeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mode))
	assert.Equal(t, "auto", mode.Mode)

	rec = doJSON(t, s, http.MethodPut, "/admin/mode", v1.ModeRequest{Mode: "force_cloud"})
	require.Equal(t, http.StatusOK, rec.Code)

	// The only provider is local, so force_cloud leaves nothing to route to.
	rec = doJSON(t, s, http.MethodPost, "/v1/complete", completionBody("hello"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doJSON(t, s, http.MethodPut, "/admin/mode", v1.ModeRequest{Mode: "sideways"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	backend := fakeOllama(t, http.StatusOK)
	defer backend.Close()
	s := newTestServer(t, backend.URL, false)

	rec := doJSON(t, s, http.MethodPost, "/v1/complete", completionBody("hello"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats v1.StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, "auto", stats.Mode)
	require.Len(t, stats.Providers, 1)
	assert.Equal(t, "local-llama", stats.Providers[0].ID)
	assert.Equal(t, int64(1), stats.Providers[0].Requests)
	assert.True(t, stats.Providers[0].Local)
}

func TestProvidersEndpoint(t *testing.T) {
	backend := fakeOllama(t, http.StatusOK)
	defer backend.Close()
	s := newTestServer(t, backend.URL, false)

	rec := doJSON(t, s, http.MethodGet, "/v1/providers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list []v1.ProviderStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "local-llama", list[0].ID)
}
