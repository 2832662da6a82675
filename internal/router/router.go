// Package router selects, invokes, and fails over between registered
// inference providers for a single Complete call. Candidates are tried
// strictly in ranked order, never in parallel, so quota and cost accounting
// stay single-attempt. No lock is held across a provider invocation.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inferoute/inferoute/internal/models"
	"github.com/inferoute/inferoute/internal/providers"
	"github.com/inferoute/inferoute/internal/router/health"
	"github.com/inferoute/inferoute/internal/router/ledger"
	"github.com/inferoute/inferoute/internal/router/ratelimit"
	"github.com/inferoute/inferoute/internal/router/scoring"
	"go.uber.org/zap"
)

// Mode gates which adapters are eligible, independent of score.
type Mode int32

const (
	ModeAuto Mode = iota
	ModeForceLocal
	ModeForceCloud
)

// String returns the wire name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeForceLocal:
		return "force_local"
	case ModeForceCloud:
		return "force_cloud"
	default:
		return "auto"
	}
}

// ParseMode maps a wire name onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "auto":
		return ModeAuto, nil
	case "force_local":
		return ModeForceLocal, nil
	case "force_cloud":
		return ModeForceCloud, nil
	default:
		return ModeAuto, fmt.Errorf("unknown router mode %q", s)
	}
}

// Config tunes the attempt loop.
type Config struct {
	// AttemptTimeout bounds each individual provider invocation, distinct
	// from any deadline on the caller's context.
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`

	// LatencyAlpha is the EWMA weight applied to new latency samples.
	LatencyAlpha float64 `mapstructure:"latency_alpha"`

	Scoring scoring.Config `mapstructure:"scoring"`
}

// DefaultConfig returns the tuning used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		AttemptTimeout: 30 * time.Second,
		LatencyAlpha:   0.1,
		Scoring:        scoring.DefaultConfig(),
	}
}

// registration is the unit of shared mutable state for one provider. The
// router's lock guards these fields; it is never held during an invocation.
type registration struct {
	descriptor      providers.Descriptor
	adapter         providers.Adapter
	disabled        bool
	misconfigured   bool
	observedLatency time.Duration
}

// Router is the orchestrator. Construct one per host application; mode is an
// instance field, not a process global, so independent routers never
// interfere.
type Router struct {
	cfg    Config
	logger *zap.Logger
	engine *scoring.Engine

	health *health.Tracker
	limits *ratelimit.Tracker
	ledger *ledger.Ledger

	mode  atomic.Int32
	nowFn func() time.Time

	mu    sync.RWMutex
	regs  map[string]*registration
	order []string
}

// New creates a router in auto mode with no providers registered.
func New(cfg Config, logger *zap.Logger) *Router {
	def := DefaultConfig()
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.LatencyAlpha <= 0 || cfg.LatencyAlpha > 1 {
		cfg.LatencyAlpha = def.LatencyAlpha
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		cfg:    cfg,
		logger: logger,
		engine: scoring.NewEngine(cfg.Scoring),
		health: health.NewTracker(),
		limits: ratelimit.NewTracker(),
		ledger: ledger.NewLedger(),
		nowFn:  time.Now,
		regs:   make(map[string]*registration),
	}
}

// RegisterProvider adds or replaces a provider. Re-registering an existing id
// swaps the adapter and descriptor and clears the misconfigured flag (the
// configuration changed), but keeps all earned runtime state: health streaks,
// quota counters, ledger totals, latency samples, and registration order.
func (r *Router) RegisterProvider(descriptor providers.Descriptor, adapter providers.Adapter) error {
	if err := descriptor.Validate(); err != nil {
		return err
	}
	if adapter == nil {
		return fmt.Errorf("provider %s: adapter is required", descriptor.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if reg, ok := r.regs[descriptor.ID]; ok {
		if reg.adapter != adapter {
			_ = reg.adapter.Close()
		}
		reg.adapter = adapter
		reg.descriptor = descriptor
		reg.misconfigured = false
		r.logger.Info("provider re-registered",
			zap.String("provider", descriptor.ID))
		return nil
	}

	r.regs[descriptor.ID] = &registration{
		descriptor:      descriptor,
		adapter:         adapter,
		observedLatency: descriptor.BaselineLatency,
	}
	r.order = append(r.order, descriptor.ID)
	r.health.Register(descriptor.ID)
	r.limits.Register(descriptor.ID)
	r.ledger.Register(descriptor.ID)

	r.logger.Info("provider registered",
		zap.String("provider", descriptor.ID),
		zap.Bool("local", descriptor.Local))
	return nil
}

// SetMode switches the routing mode. The change applies to calls that start
// after it; in-flight calls keep the mode they read at entry.
func (r *Router) SetMode(m Mode) {
	r.mode.Store(int32(m))
	r.logger.Info("router mode changed", zap.String("mode", m.String()))
}

// Mode returns the current routing mode.
func (r *Router) Mode() Mode {
	return Mode(r.mode.Load())
}

// EnableProvider clears the administrative override.
func (r *Router) EnableProvider(id string) error {
	return r.setDisabled(id, false)
}

// DisableProvider hard-excludes the provider regardless of score, independent
// of health-based quarantine.
func (r *Router) DisableProvider(id string) error {
	return r.setDisabled(id, true)
}

func (r *Router) setDisabled(id string, disabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.regs[id]
	if !ok {
		return fmt.Errorf("provider %s not registered", id)
	}
	reg.disabled = disabled
	r.logger.Info("provider admin override changed",
		zap.String("provider", id),
		zap.Bool("disabled", disabled))
	return nil
}

// Complete routes one request: rank the candidates, then try them in order
// until one succeeds or everything is exhausted.
func (r *Router) Complete(ctx context.Context, messages []models.Message, reqctx models.RequestContext) (*models.CompletionResult, error) {
	mode := r.Mode()
	ranked, exclusions := r.rank(reqctx, mode)
	if len(ranked) == 0 {
		return nil, &NoCandidatesError{Mode: mode, Exclusions: exclusions}
	}

	var attempts []Attempt
	for _, candidate := range ranked {
		if err := ctx.Err(); err != nil {
			return nil, &CanceledError{Attempts: attempts, Err: err}
		}

		id := candidate.Descriptor.ID
		now := r.nowFn()

		// Checked and charged atomically at call time: another call may have
		// drained the quota between scoring and invocation, and two racers
		// must never both take the last unit.
		if !r.limits.TryConsume(id, candidate.Descriptor.RateLimit, now) {
			r.logger.Debug("candidate lost rate-limit race",
				zap.String("provider", id))
			continue
		}
		r.ledger.RecordAttempt(id)

		adapter := r.adapterFor(id)
		if adapter == nil {
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		start := time.Now()
		result, err := adapter.Invoke(attemptCtx, messages, reqctx)
		cancel()
		elapsed := time.Since(start)

		if err != nil {
			kind := r.recordFailure(id, err, ctx)
			attempts = append(attempts, Attempt{Provider: id, Kind: kind, Err: err})

			if parentErr := ctx.Err(); parentErr != nil {
				return nil, &CanceledError{Attempts: attempts, Err: parentErr}
			}

			r.logger.Warn("provider attempt failed",
				zap.String("provider", id),
				zap.String("kind", string(kind)),
				zap.String("request_id", reqctx.RequestID),
				zap.Error(err))
			continue
		}

		r.health.RecordSuccess(id, r.nowFn())
		r.ledger.RecordUsage(id, result.TokensUsed, result.CostIncurred)
		r.observeLatency(id, elapsed)

		r.logger.Debug("completion served",
			zap.String("provider", id),
			zap.String("request_id", reqctx.RequestID),
			zap.Duration("latency", elapsed))

		return &models.CompletionResult{
			Content:      result.Content,
			ProviderID:   id,
			Latency:      elapsed,
			CostIncurred: result.CostIncurred,
			TokensUsed:   result.TokensUsed,
			RequestID:    reqctx.RequestID,
		}, nil
	}

	if len(attempts) == 0 {
		// Every ranked candidate lost the call-time quota re-check.
		return nil, &NoCandidatesError{Mode: mode, Exclusions: exclusions}
	}
	return nil, &ExhaustedError{Attempts: attempts}
}

// recordFailure updates per-provider state for a failed attempt and returns
// the classified kind. Terminal kinds (auth, malformed) flag the provider as
// misconfigured instead of feeding the quarantine backoff: bad credentials
// are not a transient outage, and the flag only clears on re-registration.
// A failure observed after the caller's context ended is billed but not
// health-penalized — the provider did nothing wrong.
func (r *Router) recordFailure(id string, err error, parent context.Context) providers.FailureKind {
	r.ledger.RecordError(id)

	kind := providers.FailureUnavailable
	var attemptErr *providers.AttemptError
	if errors.As(err, &attemptErr) {
		kind = attemptErr.Kind
		if attemptErr.TokensUsed > 0 || attemptErr.CostIncurred > 0 {
			r.ledger.RecordUsage(id, attemptErr.TokensUsed, attemptErr.CostIncurred)
		}
	}

	if parent.Err() != nil {
		return kind
	}

	if kind.Terminal() {
		r.mu.Lock()
		if reg, ok := r.regs[id]; ok {
			reg.misconfigured = true
		}
		r.mu.Unlock()
		r.logger.Error("provider marked misconfigured",
			zap.String("provider", id),
			zap.String("kind", string(kind)))
		return kind
	}

	r.health.RecordFailure(id, r.nowFn())
	return kind
}

// rank assembles the point-in-time candidate snapshots and asks the scoring
// engine for the ordered list. Mode restriction applies before scoring.
func (r *Router) rank(reqctx models.RequestContext, mode Mode) ([]scoring.Ranked, []scoring.Exclusion) {
	now := r.nowFn()

	r.mu.RLock()
	candidates := make([]scoring.Candidate, 0, len(r.order))
	for _, id := range r.order {
		reg := r.regs[id]
		if mode == ModeForceLocal && !reg.descriptor.Local {
			continue
		}
		if mode == ModeForceCloud && reg.descriptor.Local {
			continue
		}
		candidates = append(candidates, scoring.Candidate{
			Descriptor: reg.descriptor,
			State: scoring.State{
				Disabled:        reg.disabled,
				Misconfigured:   reg.misconfigured,
				Quarantined:     r.health.Quarantined(id, now),
				RateLimited:     !r.limits.Allow(id, reg.descriptor.RateLimit, now),
				HealthScore:     r.health.Score(id, now),
				ObservedLatency: reg.observedLatency,
			},
		})
	}
	r.mu.RUnlock()

	return r.engine.Rank(candidates, reqctx)
}

func (r *Router) adapterFor(id string) providers.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.regs[id]; ok {
		return reg.adapter
	}
	return nil
}

// observeLatency folds a new sample into the EWMA seeded by the descriptor's
// baseline.
func (r *Router) observeLatency(id string, sample time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.regs[id]
	if !ok {
		return
	}
	if reg.observedLatency <= 0 {
		reg.observedLatency = sample
		return
	}
	alpha := r.cfg.LatencyAlpha
	reg.observedLatency = time.Duration(
		float64(reg.observedLatency)*(1-alpha) + float64(sample)*alpha,
	)
}

// ProviderStatus is the live view of one provider for the admin surface.
type ProviderStatus struct {
	Descriptor      providers.Descriptor `json:"descriptor"`
	Stats           ledger.ProviderStats `json:"stats"`
	Health          health.Snapshot      `json:"health"`
	Usage           ratelimit.Usage      `json:"usage"`
	ObservedLatency time.Duration        `json:"observed_latency"`
	Disabled        bool                 `json:"disabled"`
	Misconfigured   bool                 `json:"misconfigured"`
}

// Stats is a consistent point-in-time snapshot across all providers.
type Stats struct {
	Mode      string           `json:"mode"`
	TotalCost float64          `json:"total_cost"`
	Providers []ProviderStatus `json:"providers"`
}

// GetStats snapshots every provider in registration order. With no
// intervening completions, two calls return identical counters.
func (r *Router) GetStats() Stats {
	now := r.nowFn()

	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		Mode:      r.Mode().String(),
		Providers: make([]ProviderStatus, 0, len(r.order)),
	}
	for _, id := range r.order {
		reg := r.regs[id]
		stats.Providers = append(stats.Providers, ProviderStatus{
			Descriptor:      reg.descriptor,
			Stats:           r.ledger.StatsFor(id),
			Health:          r.health.SnapshotFor(id, now),
			Usage:           r.limits.UsageFor(id, now),
			ObservedLatency: reg.observedLatency,
			Disabled:        reg.disabled,
			Misconfigured:   reg.misconfigured,
		})
	}
	stats.TotalCost = r.ledger.TotalCost()
	return stats
}

// Close shuts down every registered adapter.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, id := range r.order {
		if err := r.regs[id].adapter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
