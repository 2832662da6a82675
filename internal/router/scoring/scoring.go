// Package scoring ranks provider candidates for one request. The engine is a
// pure function over descriptors, runtime-state snapshots, and the request
// context: hard exclusions run first as an ordered predicate list, then the
// survivors are scored and sorted. Any clock-dependent state (quarantine,
// rate-limit exhaustion, health) is resolved by the caller before ranking, so
// identical inputs always produce identical output.
package scoring

import (
	"sort"
	"time"

	"github.com/inferoute/inferoute/internal/models"
	"github.com/inferoute/inferoute/internal/providers"
)

// Score component bounds.
const (
	maxCostScore       = 30.0
	maxHealthScore     = 30.0
	maxLatencyScore    = 10.0
	maxTaskScore       = 15.0
	envScoreExact      = 20.0
	envScoreBroader    = 10.0
	maxCapabilityBonus = 10.0
	capabilityStep     = 5.0
)

// Config tunes the smooth-decay reference points.
type Config struct {
	// CostCeiling is the per-request cost at which the cost score decays to
	// zero. Free providers always score the maximum.
	CostCeiling float64 `mapstructure:"cost_ceiling"`

	// LatencyReference is the latency at which the latency score is halved.
	LatencyReference time.Duration `mapstructure:"latency_reference"`
}

// DefaultConfig returns the reference points used when none are configured.
func DefaultConfig() Config {
	return Config{
		CostCeiling:      0.05,
		LatencyReference: 500 * time.Millisecond,
	}
}

// State is the point-in-time runtime snapshot of one provider, assembled by
// the router with an explicit "now" before ranking.
type State struct {
	Disabled        bool
	Misconfigured   bool
	Quarantined     bool
	RateLimited     bool
	HealthScore     float64
	ObservedLatency time.Duration
}

// Candidate pairs a descriptor with its runtime snapshot. Slice order is the
// registration order and serves as the deterministic tie break.
type Candidate struct {
	Descriptor providers.Descriptor
	State      State
}

// ExclusionReason names why a provider was dropped before scoring.
type ExclusionReason string

const (
	ExcludedDisabled      ExclusionReason = "disabled"
	ExcludedMisconfigured ExclusionReason = "misconfigured"
	ExcludedQuarantined   ExclusionReason = "quarantined"
	ExcludedRateLimited   ExclusionReason = "rate_limited"
	ExcludedEnvironment   ExclusionReason = "environment"
	ExcludedCapability    ExclusionReason = "missing_capability"
)

// Exclusion records one hard-excluded provider for diagnostics.
type Exclusion struct {
	ProviderID string          `json:"provider_id"`
	Reason     ExclusionReason `json:"reason"`
}

// Ranked is one scored candidate.
type Ranked struct {
	Descriptor providers.Descriptor
	Score      float64
}

type predicate struct {
	reason ExclusionReason
	drop   func(Candidate, models.RequestContext) bool
}

// Engine applies the exclusion predicates and scores what survives.
type Engine struct {
	cfg        Config
	predicates []predicate
}

// NewEngine creates an engine with the given reference points. Zero values
// fall back to defaults.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.CostCeiling <= 0 {
		cfg.CostCeiling = def.CostCeiling
	}
	if cfg.LatencyReference <= 0 {
		cfg.LatencyReference = def.LatencyReference
	}
	return &Engine{
		cfg: cfg,
		predicates: []predicate{
			{ExcludedDisabled, func(c Candidate, _ models.RequestContext) bool {
				return c.State.Disabled
			}},
			{ExcludedMisconfigured, func(c Candidate, _ models.RequestContext) bool {
				return c.State.Misconfigured
			}},
			{ExcludedQuarantined, func(c Candidate, _ models.RequestContext) bool {
				return c.State.Quarantined
			}},
			{ExcludedRateLimited, func(c Candidate, _ models.RequestContext) bool {
				return c.State.RateLimited
			}},
			{ExcludedEnvironment, func(c Candidate, ctx models.RequestContext) bool {
				return !c.Descriptor.EnvironmentTier.Covers(ctx.Environment)
			}},
			{ExcludedCapability, func(c Candidate, ctx models.RequestContext) bool {
				for _, required := range ctx.RequireCapabilities {
					if !c.Descriptor.HasCapability(required) {
						return true
					}
				}
				return false
			}},
		},
	}
}

// Exclude runs the ordered predicate list and returns the first matching
// reason. A provider that passes every predicate is scoreable.
func (e *Engine) Exclude(c Candidate, ctx models.RequestContext) (ExclusionReason, bool) {
	for _, p := range e.predicates {
		if p.drop(c, ctx) {
			return p.reason, true
		}
	}
	return "", false
}

// Score computes the total ranking score for one scoreable candidate.
func (e *Engine) Score(c Candidate, ctx models.RequestContext) float64 {
	return e.costScore(c.Descriptor, ctx) +
		e.healthScore(c.State) +
		e.latencyScore(c.State) +
		e.taskScore(c.Descriptor, ctx) +
		e.environmentScore(c.Descriptor, ctx) +
		e.capabilityBonus(c.Descriptor, ctx)
}

// Rank filters and scores the candidates, returning them best-first. Ties
// keep the input (registration) order.
func (e *Engine) Rank(candidates []Candidate, ctx models.RequestContext) ([]Ranked, []Exclusion) {
	var ranked []Ranked
	var excluded []Exclusion

	for _, c := range candidates {
		if reason, drop := e.Exclude(c, ctx); drop {
			excluded = append(excluded, Exclusion{ProviderID: c.Descriptor.ID, Reason: reason})
			continue
		}
		ranked = append(ranked, Ranked{Descriptor: c.Descriptor, Score: e.Score(c, ctx)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	return ranked, excluded
}

// costScore decays linearly from 30 at zero cost to 0 at the configured
// ceiling, never negative.
func (e *Engine) costScore(d providers.Descriptor, ctx models.RequestContext) float64 {
	cost := d.EstimatedCost(ctx.EstimatedTokens)
	if cost <= 0 {
		return maxCostScore
	}
	score := maxCostScore * (1 - cost/e.cfg.CostCeiling)
	if score < 0 {
		return 0
	}
	return score
}

func (e *Engine) healthScore(s State) float64 {
	if s.HealthScore > maxHealthScore {
		return maxHealthScore
	}
	if s.HealthScore < -maxHealthScore {
		return -maxHealthScore
	}
	return s.HealthScore
}

// latencyScore is inversely proportional to observed latency, halved at the
// reference latency. A provider with no samples and no baseline is assumed to
// run at the reference latency rather than being rewarded for being unknown.
func (e *Engine) latencyScore(s State) float64 {
	ref := float64(e.cfg.LatencyReference)
	lat := float64(s.ObservedLatency)
	if lat <= 0 {
		lat = ref
	}
	return maxLatencyScore * ref / (ref + lat)
}

// taskScore is 15 weighted by the declared affinity. An unsupported task type
// scores 0 but does not exclude — a generic provider may still be tried.
func (e *Engine) taskScore(d providers.Descriptor, ctx models.RequestContext) float64 {
	return maxTaskScore * d.TaskAffinity[ctx.TaskType]
}

// environmentScore rewards an exact tier match over a broader but permitted
// one. Unpermitted tiers never reach here — the predicate dropped them.
func (e *Engine) environmentScore(d providers.Descriptor, ctx models.RequestContext) float64 {
	if d.EnvironmentTier == ctx.Environment {
		return envScoreExact
	}
	return envScoreBroader
}

// capabilityBonus rewards optional capabilities beyond the required set.
func (e *Engine) capabilityBonus(d providers.Descriptor, ctx models.RequestContext) float64 {
	extras := 0
	for _, c := range d.Capabilities {
		if !ctx.Requires(c) {
			extras++
		}
	}
	bonus := capabilityStep * float64(extras)
	if bonus > maxCapabilityBonus {
		return maxCapabilityBonus
	}
	return bonus
}
