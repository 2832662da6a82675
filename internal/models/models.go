package models

import (
	"time"
)

// TaskType categorizes a request so providers can be matched on suitability.
type TaskType string

const (
	TaskChat          TaskType = "chat"
	TaskReasoning     TaskType = "reasoning"
	TaskSpeedCritical TaskType = "speed_critical"
	TaskToolUse       TaskType = "tool_use"
)

// Environment identifies the deployment tier a request originates from, and
// the tier a provider is permitted to serve.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// rank orders tiers so that a broader (more trusted) provider tier can serve
// narrower environments, never the other way around.
func (e Environment) rank() int {
	switch e {
	case EnvDevelopment:
		return 0
	case EnvStaging:
		return 1
	case EnvProduction:
		return 2
	default:
		return -1
	}
}

// Covers reports whether a provider permitted at tier e may serve requests
// from environment env. A production-tier provider covers staging and
// development; a development-tier provider covers development only.
func (e Environment) Covers(env Environment) bool {
	return e.rank() >= 0 && env.rank() >= 0 && e.rank() >= env.rank()
}

// Capability is an optional provider feature a request may require.
type Capability string

const (
	CapToolCalling Capability = "tool_calling"
	CapStreaming   Capability = "streaming"
	CapLongContext Capability = "long_context"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RequestContext carries caller-supplied routing inputs. It is immutable for
// the duration of one Complete call.
type RequestContext struct {
	TaskType            TaskType     `json:"task_type"`
	EstimatedTokens     int          `json:"estimated_tokens"`
	Environment         Environment  `json:"environment"`
	RequireCapabilities []Capability `json:"require_capabilities,omitempty"`
	RequestID           string       `json:"request_id,omitempty"`
}

// Requires reports whether the context demands the given capability.
func (c RequestContext) Requires(cap Capability) bool {
	for _, rc := range c.RequireCapabilities {
		if rc == cap {
			return true
		}
	}
	return false
}

// CompletionResult is returned to the caller on success. It is never
// partially populated: a failed call yields an error and no result.
type CompletionResult struct {
	Content      string        `json:"content"`
	ProviderID   string        `json:"provider_id"`
	Latency      time.Duration `json:"latency"`
	CostIncurred float64       `json:"cost_incurred"`
	TokensUsed   int           `json:"tokens_used"`
	RequestID    string        `json:"request_id,omitempty"`
}
