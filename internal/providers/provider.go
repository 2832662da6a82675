package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/inferoute/inferoute/internal/models"
)

// FailureKind classifies an adapter failure into exactly one of the five
// categories the router reasons about. Translating backend-specific errors
// into a kind at the adapter boundary is what keeps retry and failover logic
// generic.
type FailureKind string

const (
	FailureRateLimited FailureKind = "rate_limited"
	FailureAuthError   FailureKind = "auth_error"
	FailureTimeout     FailureKind = "timeout"
	FailureUnavailable FailureKind = "provider_unavailable"
	FailureMalformed   FailureKind = "malformed"
)

// Terminal reports whether the failure indicates misconfiguration rather
// than a transient outage. Terminal failures are never retried against the
// same provider and do not accrue backoff state.
func (k FailureKind) Terminal() bool {
	return k == FailureAuthError || k == FailureMalformed
}

// AttemptError is the standardized error every adapter returns from Invoke.
type AttemptError struct {
	Provider string
	Kind     FailureKind
	Err      error

	// Partial usage billed by the backend before it failed, e.g. a timeout
	// after the provider started processing. Zero when nothing was billed.
	TokensUsed   int
	CostIncurred float64
}

// Error implements the error interface.
func (e *AttemptError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *AttemptError) Unwrap() error {
	return e.Err
}

// InvokeResult is a successful completion from one adapter.
type InvokeResult struct {
	Content      string
	TokensUsed   int
	CostIncurred float64
}

// Adapter wraps one inference backend. Invoke must respect ctx (the router
// supplies a bounded per-attempt deadline) and must return either a result or
// an *AttemptError; it never blocks past the deadline.
type Adapter interface {
	Invoke(ctx context.Context, messages []models.Message, reqctx models.RequestContext) (*InvokeResult, error)

	// Close releases any resources held by the adapter.
	Close() error
}

// RateLimit describes a provider's request quotas. Zero means unbounded.
type RateLimit struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerDay    int `mapstructure:"requests_per_day" json:"requests_per_day"`
}

// Descriptor is the static capability metadata for one backend. It is created
// once at registration and never mutated; changing a descriptor means
// re-registering the provider.
type Descriptor struct {
	ID              string                      `mapstructure:"id" json:"id"`
	CostPerRequest  float64                     `mapstructure:"cost_per_request" json:"cost_per_request"`
	CostPerToken    float64                     `mapstructure:"cost_per_token" json:"cost_per_token"`
	RateLimit       RateLimit                   `mapstructure:"rate_limit" json:"rate_limit"`
	TaskAffinity    map[models.TaskType]float64 `mapstructure:"task_affinity" json:"task_affinity"`
	EnvironmentTier models.Environment          `mapstructure:"environment_tier" json:"environment_tier"`
	Capabilities    []models.Capability         `mapstructure:"capabilities" json:"capabilities"`
	BaselineLatency time.Duration               `mapstructure:"baseline_latency" json:"baseline_latency"`

	// Local marks on-device adapters for the force-local/force-cloud gate.
	Local bool `mapstructure:"local" json:"local"`
}

// Validate checks the fields the router depends on.
func (d Descriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("descriptor id is required")
	}
	if d.CostPerRequest < 0 || d.CostPerToken < 0 {
		return fmt.Errorf("descriptor %s: cost figures must be >= 0", d.ID)
	}
	for task, weight := range d.TaskAffinity {
		if weight < 0 || weight > 1 {
			return fmt.Errorf("descriptor %s: task affinity %s out of [0,1]", d.ID, task)
		}
	}
	return nil
}

// HasCapability reports whether the descriptor advertises the capability.
func (d Descriptor) HasCapability(cap models.Capability) bool {
	for _, c := range d.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// EstimatedCost returns the projected cost of one request at the given token
// count.
func (d Descriptor) EstimatedCost(tokens int) float64 {
	return d.CostPerRequest + d.CostPerToken*float64(tokens)
}

// Config holds the transport configuration shared by the HTTP adapters.
type Config struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// defaultRetryDelay spaces retries against remote backends when no delay is
// configured. retry.NewConstant rejects a zero interval.
const defaultRetryDelay = 500 * time.Millisecond

func (c Config) httpClient() *http.Client {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// translateTransport normalizes errors escaping an adapter's HTTP layer.
// AttemptErrors pass through unchanged; context deadlines become Timeout;
// anything else (DNS, connection refused, exhausted retries) becomes
// ProviderUnavailable.
func translateTransport(providerID string, err error) error {
	var attempt *AttemptError
	if errors.As(err, &attempt) {
		return attempt
	}
	kind := FailureUnavailable
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = FailureTimeout
	}
	return &AttemptError{Provider: providerID, Kind: kind, Err: err}
}

// kindForStatus maps an HTTP status from a remote backend onto a FailureKind.
func kindForStatus(status int) FailureKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailureAuthError
	case status == http.StatusTooManyRequests:
		return FailureRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return FailureTimeout
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return FailureMalformed
	default:
		return FailureUnavailable
	}
}
