// Package ratelimit accounts per-provider request quotas over rolling minute
// and day windows. Counters increment on attempted invocations, not on
// selection, so a failed attempt still consumes quota — matching real
// provider accounting.
package ratelimit

import (
	"sync"
	"time"

	"github.com/inferoute/inferoute/internal/providers"
)

// window is a single fixed-length counting window. It rolls over lazily: on
// read, if the window length has elapsed since windowStart, the count resets
// and the window restarts at the observed time.
type window struct {
	count       int
	windowStart time.Time
}

func (w *window) roll(now time.Time, length time.Duration) {
	if w.windowStart.IsZero() || now.Sub(w.windowStart) >= length {
		w.count = 0
		w.windowStart = now
	}
}

type counters struct {
	minute window
	day    window
}

// hasQuota rolls both windows and reports whether quota remains under the
// given limits. A zero limit means unbounded. Caller holds the tracker lock.
func (c *counters) hasQuota(limit providers.RateLimit, now time.Time) bool {
	c.minute.roll(now, time.Minute)
	c.day.roll(now, 24*time.Hour)
	if limit.RequestsPerMinute > 0 && c.minute.count >= limit.RequestsPerMinute {
		return false
	}
	if limit.RequestsPerDay > 0 && c.day.count >= limit.RequestsPerDay {
		return false
	}
	return true
}

// Usage is a read-only view of one provider's current window counts.
type Usage struct {
	RequestsThisMinute int `json:"requests_this_minute"`
	RequestsToday      int `json:"requests_today"`
}

// Tracker holds quota counters for every registered provider.
type Tracker struct {
	mu        sync.Mutex
	providers map[string]*counters
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{providers: make(map[string]*counters)}
}

// Register adds a provider. Registering an existing id keeps its counters so
// that re-registration cannot be used to dodge quota.
func (t *Tracker) Register(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.providers[id]; !ok {
		t.providers[id] = &counters{}
	}
}

// Allow reports whether the provider has quota left under the given limits.
// A zero limit means unbounded. Windows roll over before the comparison.
// Allow is advisory (used for candidate filtering); admission itself goes
// through TryConsume so the check and the charge cannot be interleaved.
func (t *Tracker) Allow(id string, limit providers.RateLimit, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.providers[id]
	if c == nil {
		return false
	}
	return c.hasQuota(limit, now)
}

// TryConsume checks the limits and charges one request against both windows
// in a single critical section, so concurrent callers racing for the last
// quota unit admit exactly one. Returns false without charging when no quota
// remains or the provider is unknown.
func (t *Tracker) TryConsume(id string, limit providers.RateLimit, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.providers[id]
	if c == nil {
		return false
	}
	if !c.hasQuota(limit, now) {
		return false
	}
	c.minute.count++
	c.day.count++
	return true
}

// Consume charges one request against both windows. Called immediately before
// the adapter invocation.
func (t *Tracker) Consume(id string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.providers[id]
	if c == nil {
		return
	}
	c.minute.roll(now, time.Minute)
	c.day.roll(now, 24*time.Hour)
	c.minute.count++
	c.day.count++
}

// UsageFor returns the current window counts after rollover.
func (t *Tracker) UsageFor(id string, now time.Time) Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.providers[id]
	if c == nil {
		return Usage{}
	}
	c.minute.roll(now, time.Minute)
	c.day.roll(now, 24*time.Hour)
	return Usage{RequestsThisMinute: c.minute.count, RequestsToday: c.day.count}
}
