package v1

import (
	"time"
)

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the client request for one routed completion.
type CompletionRequest struct {
	Messages            []Message `json:"messages"`
	TaskType            string    `json:"task_type,omitempty"`
	EstimatedTokens     int       `json:"estimated_tokens,omitempty"`
	Environment         string    `json:"environment,omitempty"`
	RequireCapabilities []string  `json:"require_capabilities,omitempty"`
	RequestID           string    `json:"request_id,omitempty"`
}

// CompletionResponse is returned when some provider produced an answer.
type CompletionResponse struct {
	Content      string  `json:"content"`
	Provider     string  `json:"provider"`
	LatencyMs    int64   `json:"latency_ms"`
	CostIncurred float64 `json:"cost_incurred"`
	TokensUsed   int     `json:"tokens_used"`
	RequestID    string  `json:"request_id,omitempty"`
	Cached       bool    `json:"cached,omitempty"`
}

// AttemptDetail lists one tried provider and its failure kind.
type AttemptDetail struct {
	Provider string `json:"provider"`
	Kind     string `json:"kind"`
}

// ExclusionDetail lists one hard-excluded provider and the reason.
type ExclusionDetail struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
}

// ErrorResponse carries the full diagnostic detail for a failed call.
type ErrorResponse struct {
	Error     ErrorDetails `json:"error"`
	RequestID string       `json:"request_id,omitempty"`
}

// ErrorDetails distinguishes exhaustion from empty candidate lists from
// cancellation, with the per-provider breakdown.
type ErrorDetails struct {
	Type       string            `json:"type"`
	Message    string            `json:"message"`
	StatusCode int               `json:"status_code"`
	Attempts   []AttemptDetail   `json:"attempts,omitempty"`
	Exclusions []ExclusionDetail `json:"exclusions,omitempty"`
}

// ProviderStatus is the live admin view of one provider.
type ProviderStatus struct {
	ID                  string    `json:"id"`
	Local               bool      `json:"local"`
	Requests            int64     `json:"requests"`
	Errors              int64     `json:"errors"`
	Tokens              int64     `json:"tokens"`
	Cost                float64   `json:"cost"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Quarantined         bool      `json:"quarantined"`
	Disabled            bool      `json:"disabled"`
	Misconfigured       bool      `json:"misconfigured"`
	RequestsThisMinute  int       `json:"requests_this_minute"`
	RequestsToday       int       `json:"requests_today"`
	ObservedLatencyMs   int64     `json:"observed_latency_ms"`
	LastErrorAt         time.Time `json:"last_error_at,omitempty"`
	LastSuccessAt       time.Time `json:"last_success_at,omitempty"`
}

// StatsResponse is the aggregate admin snapshot.
type StatsResponse struct {
	Mode      string           `json:"mode"`
	TotalCost float64          `json:"total_cost"`
	Providers []ProviderStatus `json:"providers"`
}

// ModeRequest changes the routing mode.
type ModeRequest struct {
	Mode string `json:"mode"`
}

// ModeResponse reports the current routing mode.
type ModeResponse struct {
	Mode string `json:"mode"`
}

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}
