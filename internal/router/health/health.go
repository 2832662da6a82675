// Package health tracks per-provider rolling error state and derives a
// quarantine window from it. State advances only on recorded attempt
// outcomes; there is no background prober and no expiry timer — quarantine is
// computed from the last error and the cooldown length at read time.
package health

import (
	"sync"
	"time"
)

const (
	// quarantineThreshold is the consecutive-failure count at which a
	// provider is pulled from candidate lists.
	quarantineThreshold = 5

	// maxCooldown caps the exponential backoff window.
	maxCooldown = 300 * time.Second

	// maxScore bounds the health contribution to the ranking score.
	maxScore = 30.0
)

// Snapshot is a read-only view of one provider's health state.
type Snapshot struct {
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastErrorAt         time.Time `json:"last_error_at,omitempty"`
	LastSuccessAt       time.Time `json:"last_success_at,omitempty"`
	Quarantined         bool      `json:"quarantined"`
}

type state struct {
	consecutiveFailures int
	lastErrorAt         time.Time
	lastSuccessAt       time.Time
}

// Tracker maintains health state for every registered provider. All methods
// are safe for concurrent use; the lock guards only the counters, never any
// network call.
type Tracker struct {
	mu        sync.RWMutex
	providers map[string]*state
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{providers: make(map[string]*state)}
}

// Register adds a provider with neutral health. Registering an existing id is
// a no-op so that re-registration never resets earned trust.
func (t *Tracker) Register(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.providers[id]; !ok {
		t.providers[id] = &state{}
	}
}

// RecordSuccess resets the failure streak and stamps the success time.
func (t *Tracker) RecordSuccess(id string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.providers[id]
	if s == nil {
		return
	}
	s.consecutiveFailures = 0
	s.lastSuccessAt = now
}

// RecordFailure extends the failure streak and stamps the error time.
func (t *Tracker) RecordFailure(id string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.providers[id]
	if s == nil {
		return
	}
	s.consecutiveFailures++
	s.lastErrorAt = now
}

// Quarantined reports whether the provider is inside its cooldown window.
func (t *Tracker) Quarantined(id string, now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.providers[id]
	if s == nil {
		return false
	}
	return quarantined(s, now)
}

func quarantined(s *state, now time.Time) bool {
	if s.consecutiveFailures < quarantineThreshold {
		return false
	}
	return now.Before(s.lastErrorAt.Add(cooldown(s.consecutiveFailures)))
}

// cooldown is min(300s, 2^failures seconds). The shift is clamped before it
// can overflow; anything past 8 failures hits the cap anyway.
func cooldown(failures int) time.Duration {
	if failures > 8 {
		return maxCooldown
	}
	d := time.Duration(1<<uint(failures)) * time.Second
	if d > maxCooldown {
		return maxCooldown
	}
	return d
}

// Score returns the health contribution to the ranking score, in
// [-30, +30]. A provider that has never been invoked is neutral. A provider
// whose quarantine has expired re-enters at zero trust until one success is
// recorded.
func (t *Tracker) Score(id string, now time.Time) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.providers[id]
	if s == nil {
		return 0
	}
	if s.consecutiveFailures == 0 {
		if s.lastSuccessAt.IsZero() {
			return 0
		}
		return maxScore
	}
	if s.consecutiveFailures >= quarantineThreshold {
		// Inside the window the provider is excluded before scoring; after
		// the window it rides at reduced trust.
		return 0
	}
	penalty := 10.0 * float64(s.consecutiveFailures)
	if penalty > maxScore {
		penalty = maxScore
	}
	return -penalty
}

// ConsecutiveFailures returns the current failure streak.
func (t *Tracker) ConsecutiveFailures(id string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s := t.providers[id]; s != nil {
		return s.consecutiveFailures
	}
	return 0
}

// SnapshotFor returns a read-only view of one provider.
func (t *Tracker) SnapshotFor(id string, now time.Time) Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.providers[id]
	if s == nil {
		return Snapshot{}
	}
	return Snapshot{
		ConsecutiveFailures: s.consecutiveFailures,
		LastErrorAt:         s.lastErrorAt,
		LastSuccessAt:       s.lastSuccessAt,
		Quarantined:         quarantined(s, now),
	}
}
