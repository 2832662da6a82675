package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inferoute/inferoute/internal/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnboundedLimitsAlwaysAllow(t *testing.T) {
	tr := NewTracker()
	tr.Register("p")
	now := time.Now()

	for i := 0; i < 100; i++ {
		require.True(t, tr.Allow("p", providers.RateLimit{}, now))
		tr.Consume("p", now)
	}
}

func TestMinuteLimitBlocksWhenExhausted(t *testing.T) {
	tr := NewTracker()
	tr.Register("p")
	limit := providers.RateLimit{RequestsPerMinute: 2}
	now := time.Now()

	assert.True(t, tr.Allow("p", limit, now))
	tr.Consume("p", now)
	assert.True(t, tr.Allow("p", limit, now))
	tr.Consume("p", now)

	assert.False(t, tr.Allow("p", limit, now))
}

func TestMinuteWindowRollsOver(t *testing.T) {
	tr := NewTracker()
	tr.Register("p")
	limit := providers.RateLimit{RequestsPerMinute: 2}
	start := time.Now()

	tr.Consume("p", start)
	tr.Consume("p", start)
	require.False(t, tr.Allow("p", limit, start))

	// 61 seconds later the window is fresh.
	later := start.Add(61 * time.Second)
	assert.True(t, tr.Allow("p", limit, later))
	assert.Equal(t, Usage{RequestsToday: 2}, tr.UsageFor("p", later))
}

func TestDayLimitSurvivesMinuteRollover(t *testing.T) {
	tr := NewTracker()
	tr.Register("p")
	limit := providers.RateLimit{RequestsPerDay: 2}
	start := time.Now()

	tr.Consume("p", start)
	tr.Consume("p", start)

	later := start.Add(2 * time.Minute)
	assert.False(t, tr.Allow("p", limit, later))

	nextDay := start.Add(24 * time.Hour)
	assert.True(t, tr.Allow("p", limit, nextDay))
}

func TestConsumeChargesBothWindows(t *testing.T) {
	tr := NewTracker()
	tr.Register("p")
	now := time.Now()

	tr.Consume("p", now)
	usage := tr.UsageFor("p", now)
	assert.Equal(t, 1, usage.RequestsThisMinute)
	assert.Equal(t, 1, usage.RequestsToday)
}

func TestTryConsumeTakesLastUnitOnce(t *testing.T) {
	tr := NewTracker()
	tr.Register("p")
	limit := providers.RateLimit{RequestsPerMinute: 1}
	now := time.Now()

	assert.True(t, tr.TryConsume("p", limit, now))
	assert.False(t, tr.TryConsume("p", limit, now))
	assert.Equal(t, 1, tr.UsageFor("p", now).RequestsThisMinute)
}

func TestTryConsumeRefusalDoesNotCharge(t *testing.T) {
	tr := NewTracker()
	tr.Register("p")
	limit := providers.RateLimit{RequestsPerMinute: 1}
	now := time.Now()

	require.True(t, tr.TryConsume("p", limit, now))
	for i := 0; i < 5; i++ {
		require.False(t, tr.TryConsume("p", limit, now))
	}
	assert.Equal(t, 1, tr.UsageFor("p", now).RequestsThisMinute)
	assert.Equal(t, 1, tr.UsageFor("p", now).RequestsToday)
}

func TestTryConsumeIsAtomicUnderContention(t *testing.T) {
	tr := NewTracker()
	tr.Register("p")
	limit := providers.RateLimit{RequestsPerMinute: 3}
	now := time.Now()

	const callers = 32
	var wg sync.WaitGroup
	var admitted atomic.Int64
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.TryConsume("p", limit, now) {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(3), admitted.Load())
	assert.Equal(t, 3, tr.UsageFor("p", now).RequestsThisMinute)
}

func TestUnknownProviderNeverAllowed(t *testing.T) {
	tr := NewTracker()
	assert.False(t, tr.Allow("ghost", providers.RateLimit{}, time.Now()))
	assert.False(t, tr.TryConsume("ghost", providers.RateLimit{}, time.Now()))
}

func TestRegisterKeepsExistingCounters(t *testing.T) {
	tr := NewTracker()
	tr.Register("p")
	now := time.Now()

	tr.Consume("p", now)
	tr.Register("p")

	assert.Equal(t, 1, tr.UsageFor("p", now).RequestsThisMinute)
}
