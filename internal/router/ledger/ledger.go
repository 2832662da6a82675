// Package ledger accumulates lifetime spend and token counts per provider.
// Counters are per-provider atomics so stats queries see a consistent
// point-in-time view without a global lock across concurrent completions.
package ledger

import (
	"math"
	"sync"
	"sync/atomic"
)

// ProviderStats is a snapshot of one provider's lifetime counters.
type ProviderStats struct {
	Requests int64   `json:"requests"`
	Errors   int64   `json:"errors"`
	Tokens   int64   `json:"tokens"`
	Cost     float64 `json:"cost"`
}

// entry holds the atomic counters for one provider. Cost is stored in
// micro-dollars to keep it in an integer atomic.
type entry struct {
	requests   atomic.Int64
	errors     atomic.Int64
	tokens     atomic.Int64
	costMicros atomic.Int64
}

func (e *entry) stats() ProviderStats {
	return ProviderStats{
		Requests: e.requests.Load(),
		Errors:   e.errors.Load(),
		Tokens:   e.tokens.Load(),
		Cost:     float64(e.costMicros.Load()) / 1e6,
	}
}

// Ledger tracks spend across all providers. The map is guarded by a mutex but
// mutated only at registration time; counter updates are lock-free.
type Ledger struct {
	mu        sync.RWMutex
	providers map[string]*entry
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{providers: make(map[string]*entry)}
}

// Register adds a provider. Existing counters survive re-registration.
func (l *Ledger) Register(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.providers[id]; !ok {
		l.providers[id] = &entry{}
	}
}

func (l *Ledger) entryFor(id string) *entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.providers[id]
}

// RecordAttempt counts one attempted invocation.
func (l *Ledger) RecordAttempt(id string) {
	if e := l.entryFor(id); e != nil {
		e.requests.Add(1)
	}
}

// RecordError counts one failed invocation.
func (l *Ledger) RecordError(id string) {
	if e := l.entryFor(id); e != nil {
		e.errors.Add(1)
	}
}

// RecordUsage adds billed tokens and cost. Failures with partial cost bill
// here too — a timeout after the backend started processing still charges.
func (l *Ledger) RecordUsage(id string, tokens int, cost float64) {
	e := l.entryFor(id)
	if e == nil {
		return
	}
	if tokens > 0 {
		e.tokens.Add(int64(tokens))
	}
	if cost > 0 {
		e.costMicros.Add(int64(math.Round(cost * 1e6)))
	}
}

// StatsFor returns the snapshot for one provider.
func (l *Ledger) StatsFor(id string) ProviderStats {
	if e := l.entryFor(id); e != nil {
		return e.stats()
	}
	return ProviderStats{}
}

// Snapshot returns per-provider stats for every registered provider.
func (l *Ledger) Snapshot() map[string]ProviderStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]ProviderStats, len(l.providers))
	for id, e := range l.providers {
		out[id] = e.stats()
	}
	return out
}

// TotalCost sums accumulated cost across all providers.
func (l *Ledger) TotalCost() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total int64
	for _, e := range l.providers {
		total += e.costMicros.Load()
	}
	return float64(total) / 1e6
}
