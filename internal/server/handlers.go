package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/inferoute/inferoute/internal/cache"
	"github.com/inferoute/inferoute/internal/models"
	"github.com/inferoute/inferoute/internal/router"
	v1 "github.com/inferoute/inferoute/pkg/api/v1"
	"go.uber.org/zap"
)

// statusClientClosedRequest mirrors the nginx convention for a client that
// went away before the response was ready.
const statusClientClosedRequest = 499

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, v1.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   "1.0.0",
	})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var apiReq v1.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&apiReq); err != nil {
		s.logger.Error("Failed to decode request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", "")
		return
	}
	if len(apiReq.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "at least one message is required", apiReq.RequestID)
		return
	}

	if apiReq.RequestID == "" {
		apiReq.RequestID = uuid.NewString()
	}

	messages := make([]models.Message, len(apiReq.Messages))
	for i, m := range apiReq.Messages {
		messages[i] = models.Message{Role: m.Role, Content: m.Content}
	}

	reqctx := models.RequestContext{
		TaskType:        models.TaskType(apiReq.TaskType),
		EstimatedTokens: apiReq.EstimatedTokens,
		Environment:     models.Environment(apiReq.Environment),
		RequestID:       apiReq.RequestID,
	}
	if reqctx.TaskType == "" {
		reqctx.TaskType = models.TaskChat
	}
	if reqctx.Environment == "" {
		reqctx.Environment = models.Environment(s.config.DefaultEnvironment)
	}
	for _, c := range apiReq.RequireCapabilities {
		reqctx.RequireCapabilities = append(reqctx.RequireCapabilities, models.Capability(c))
	}

	cacheKey := cache.Key(messages, reqctx)
	if s.config.Cache.Enabled {
		if cached, ok, err := s.cache.Get(ctx, cacheKey); err == nil && ok {
			s.metrics.RecordCacheHit()
			writeJSON(w, http.StatusOK, toCompletionResponse(cached, apiReq.RequestID, true))
			return
		}
		s.metrics.RecordCacheMiss()
	}

	ctx, span := s.tracing.StartSpan(ctx, "router_complete")
	defer span.End()
	s.tracing.SetAttributes(ctx, map[string]string{
		"request.id":   apiReq.RequestID,
		"request.task": string(reqctx.TaskType),
	})

	result, err := s.rtr.Complete(ctx, messages, reqctx)
	s.recordProviderGauges()
	if err != nil {
		s.tracing.RecordError(ctx, err)
		s.writeRoutingError(w, err, apiReq.RequestID)
		return
	}

	s.metrics.RecordCompletion(result.ProviderID, "success")
	s.metrics.RecordProviderLatency(result.ProviderID, result.Latency)
	s.metrics.RecordProviderUsage(result.ProviderID, result.TokensUsed, result.CostIncurred)

	if s.config.Cache.Enabled {
		_ = s.cache.Set(ctx, cacheKey, result)
	}

	writeJSON(w, http.StatusOK, toCompletionResponse(result, apiReq.RequestID, false))
}

// writeRoutingError maps the router's call-level failures onto HTTP with the
// full per-provider breakdown preserved.
func (s *Server) writeRoutingError(w http.ResponseWriter, err error, requestID string) {
	var noCandidates *router.NoCandidatesError
	var exhausted *router.ExhaustedError
	var canceled *router.CanceledError

	switch {
	case errors.As(err, &noCandidates):
		s.metrics.RecordCompletion("none", "no_candidates")
		details := v1.ErrorDetails{
			Type:       "no_candidates",
			Message:    err.Error(),
			StatusCode: http.StatusServiceUnavailable,
		}
		for _, x := range noCandidates.Exclusions {
			details.Exclusions = append(details.Exclusions, v1.ExclusionDetail{
				Provider: x.ProviderID,
				Reason:   string(x.Reason),
			})
			s.metrics.RecordExclusion(x.ProviderID, string(x.Reason))
		}
		writeJSON(w, details.StatusCode, v1.ErrorResponse{Error: details, RequestID: requestID})

	case errors.As(err, &exhausted):
		s.metrics.RecordCompletion("none", "exhausted")
		details := v1.ErrorDetails{
			Type:       "all_candidates_exhausted",
			Message:    err.Error(),
			StatusCode: http.StatusBadGateway,
		}
		for _, a := range exhausted.Attempts {
			details.Attempts = append(details.Attempts, v1.AttemptDetail{
				Provider: a.Provider,
				Kind:     string(a.Kind),
			})
			s.metrics.RecordAttemptFailure(a.Provider, string(a.Kind))
		}
		writeJSON(w, details.StatusCode, v1.ErrorResponse{Error: details, RequestID: requestID})

	case errors.As(err, &canceled):
		s.metrics.RecordCompletion("none", "canceled")
		details := v1.ErrorDetails{
			Type:       "canceled",
			Message:    err.Error(),
			StatusCode: statusClientClosedRequest,
		}
		for _, a := range canceled.Attempts {
			details.Attempts = append(details.Attempts, v1.AttemptDetail{
				Provider: a.Provider,
				Kind:     string(a.Kind),
			})
		}
		writeJSON(w, details.StatusCode, v1.ErrorResponse{Error: details, RequestID: requestID})

	default:
		s.logger.Error("Unexpected routing error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "routing failed", requestID)
	}
}

// recordProviderGauges refreshes the per-provider gauge families after a
// routing decision may have changed quarantine state.
func (s *Server) recordProviderGauges() {
	for _, p := range s.rtr.GetStats().Providers {
		s.metrics.RecordQuarantine(p.Descriptor.ID, p.Health.Quarantined)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toStatsResponse(s.rtr.GetStats()))
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	stats := toStatsResponse(s.rtr.GetStats())
	writeJSON(w, http.StatusOK, stats.Providers)
}

func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, v1.ModeResponse{Mode: s.rtr.Mode().String()})
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req v1.ModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", "")
		return
	}
	mode, err := router.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_mode", err.Error(), "")
		return
	}
	s.rtr.SetMode(mode)
	writeJSON(w, http.StatusOK, v1.ModeResponse{Mode: mode.String()})
}

func (s *Server) handleEnableProvider(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.rtr.EnableProvider(id); err != nil {
		writeError(w, http.StatusNotFound, "unknown_provider", err.Error(), "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisableProvider(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.rtr.DisableProvider(id); err != nil {
		writeError(w, http.StatusNotFound, "unknown_provider", err.Error(), "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toCompletionResponse(result *models.CompletionResult, requestID string, cached bool) v1.CompletionResponse {
	return v1.CompletionResponse{
		Content:      result.Content,
		Provider:     result.ProviderID,
		LatencyMs:    result.Latency.Milliseconds(),
		CostIncurred: result.CostIncurred,
		TokensUsed:   result.TokensUsed,
		RequestID:    requestID,
		Cached:       cached,
	}
}

func toStatsResponse(stats router.Stats) v1.StatsResponse {
	resp := v1.StatsResponse{
		Mode:      stats.Mode,
		TotalCost: stats.TotalCost,
		Providers: make([]v1.ProviderStatus, 0, len(stats.Providers)),
	}
	for _, p := range stats.Providers {
		resp.Providers = append(resp.Providers, v1.ProviderStatus{
			ID:                  p.Descriptor.ID,
			Local:               p.Descriptor.Local,
			Requests:            p.Stats.Requests,
			Errors:              p.Stats.Errors,
			Tokens:              p.Stats.Tokens,
			Cost:                p.Stats.Cost,
			ConsecutiveFailures: p.Health.ConsecutiveFailures,
			Quarantined:         p.Health.Quarantined,
			Disabled:            p.Disabled,
			Misconfigured:       p.Misconfigured,
			RequestsThisMinute:  p.Usage.RequestsThisMinute,
			RequestsToday:       p.Usage.RequestsToday,
			ObservedLatencyMs:   p.ObservedLatency.Milliseconds(),
			LastErrorAt:         p.Health.LastErrorAt,
			LastSuccessAt:       p.Health.LastSuccessAt,
		})
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, errType, message, requestID string) {
	writeJSON(w, status, v1.ErrorResponse{
		Error: v1.ErrorDetails{
			Type:       errType,
			Message:    message,
			StatusCode: status,
		},
		RequestID: requestID,
	})
}
