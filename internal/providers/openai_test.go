package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/inferoute/inferoute/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAIDescriptor() Descriptor {
	return Descriptor{
		ID:             "openai",
		CostPerRequest: 0.001,
		CostPerToken:   0.00001,
	}
}

func chatMessages() []models.Message {
	return []models.Message{{Role: "user", Content: "hello"}}
}

func TestOpenAIInvokeSuccess(t *testing.T) {
	var gotAuth string
	var gotReq openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		writeJSONBody(t, w, map[string]any{
			"id": "chatcmpl-1",
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "hi"}},
			},
			"usage": map[string]any{"total_tokens": 20},
		})
	}))
	defer srv.Close()

	adapter := NewOpenAIAdapter(openAIDescriptor(), Config{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
		Model:   "gpt-4o-mini",
	})
	defer adapter.Close()

	result, err := adapter.Invoke(context.Background(), chatMessages(), models.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, "hi", result.Content)
	assert.Equal(t, 20, result.TokensUsed)
	assert.InDelta(t, 0.001+0.00001*20, result.CostIncurred, 1e-12)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-4o-mini", gotReq.Model)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "hello", gotReq.Messages[0].Content)
}

func TestOpenAIStatusTranslation(t *testing.T) {
	cases := []struct {
		status int
		kind   FailureKind
	}{
		{http.StatusUnauthorized, FailureAuthError},
		{http.StatusForbidden, FailureAuthError},
		{http.StatusTooManyRequests, FailureRateLimited},
		{http.StatusGatewayTimeout, FailureTimeout},
		{http.StatusBadRequest, FailureMalformed},
		{http.StatusInternalServerError, FailureUnavailable},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer srv.Close()

			adapter := NewOpenAIAdapter(openAIDescriptor(), Config{BaseURL: srv.URL})
			_, err := adapter.Invoke(context.Background(), chatMessages(), models.RequestContext{})

			var attempt *AttemptError
			require.ErrorAs(t, err, &attempt)
			assert.Equal(t, tc.kind, attempt.Kind)
			assert.Equal(t, "openai", attempt.Provider)
		})
	}
}

func TestOpenAIRetriesOnlyUnavailable(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		writeJSONBody(t, w, map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "second try"}},
			},
			"usage": map[string]any{"total_tokens": 5},
		})
	}))
	defer srv.Close()

	adapter := NewOpenAIAdapter(openAIDescriptor(), Config{
		BaseURL:    srv.URL,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	})
	result, err := adapter.Invoke(context.Background(), chatMessages(), models.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, "second try", result.Content)
	assert.Equal(t, 2, calls)
}

func TestOpenAINegativeMaxRetriesMeansNoRetries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	adapter := NewOpenAIAdapter(openAIDescriptor(), Config{
		BaseURL:    srv.URL,
		MaxRetries: -3,
		RetryDelay: time.Millisecond,
	})
	_, err := adapter.Invoke(context.Background(), chatMessages(), models.RequestContext{})

	var attempt *AttemptError
	require.ErrorAs(t, err, &attempt)
	assert.Equal(t, FailureUnavailable, attempt.Kind)
	assert.Equal(t, 1, calls)
}

func TestOpenAIAuthErrorIsNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	adapter := NewOpenAIAdapter(openAIDescriptor(), Config{
		BaseURL:    srv.URL,
		MaxRetries: 3,
	})
	_, err := adapter.Invoke(context.Background(), chatMessages(), models.RequestContext{})

	var attempt *AttemptError
	require.ErrorAs(t, err, &attempt)
	assert.Equal(t, FailureAuthError, attempt.Kind)
	assert.Equal(t, 1, calls)
}

func TestOpenAIMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	adapter := NewOpenAIAdapter(openAIDescriptor(), Config{BaseURL: srv.URL})
	_, err := adapter.Invoke(context.Background(), chatMessages(), models.RequestContext{})

	var attempt *AttemptError
	require.ErrorAs(t, err, &attempt)
	assert.Equal(t, FailureMalformed, attempt.Kind)
}

func TestOpenAIEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONBody(t, w, map[string]any{"choices": []map[string]any{}})
	}))
	defer srv.Close()

	adapter := NewOpenAIAdapter(openAIDescriptor(), Config{BaseURL: srv.URL})
	_, err := adapter.Invoke(context.Background(), chatMessages(), models.RequestContext{})

	var attempt *AttemptError
	require.ErrorAs(t, err, &attempt)
	assert.Equal(t, FailureMalformed, attempt.Kind)
}

func TestOpenAIUnreachableHost(t *testing.T) {
	adapter := NewOpenAIAdapter(openAIDescriptor(), Config{
		BaseURL: "http://127.0.0.1:1",
	})
	_, err := adapter.Invoke(context.Background(), chatMessages(), models.RequestContext{})

	var attempt *AttemptError
	require.ErrorAs(t, err, &attempt)
	assert.Equal(t, FailureUnavailable, attempt.Kind)
}

func writeJSONBody(t *testing.T, w http.ResponseWriter, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(body))
}
