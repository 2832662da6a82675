package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreNeutralBeforeAnyAttempt(t *testing.T) {
	tr := NewTracker()
	tr.Register("p")

	assert.Equal(t, 0.0, tr.Score("p", time.Now()))
	assert.False(t, tr.Quarantined("p", time.Now()))
}

func TestSuccessResetsStreakAndScoresMax(t *testing.T) {
	tr := NewTracker()
	tr.Register("p")
	now := time.Now()

	tr.RecordFailure("p", now)
	tr.RecordFailure("p", now)
	assert.Equal(t, 2, tr.ConsecutiveFailures("p"))
	assert.Equal(t, -20.0, tr.Score("p", now))

	tr.RecordSuccess("p", now)
	assert.Equal(t, 0, tr.ConsecutiveFailures("p"))
	assert.Equal(t, 30.0, tr.Score("p", now))
}

func TestFailurePenaltyCapsAtThirty(t *testing.T) {
	tr := NewTracker()
	tr.Register("p")
	now := time.Now()

	tr.RecordFailure("p", now)
	assert.Equal(t, -10.0, tr.Score("p", now))
	tr.RecordFailure("p", now)
	assert.Equal(t, -20.0, tr.Score("p", now))
	tr.RecordFailure("p", now)
	assert.Equal(t, -30.0, tr.Score("p", now))
	tr.RecordFailure("p", now)
	assert.Equal(t, -30.0, tr.Score("p", now))
}

func TestQuarantineEntersAtFiveFailures(t *testing.T) {
	tr := NewTracker()
	tr.Register("p")
	now := time.Now()

	for i := 0; i < 4; i++ {
		tr.RecordFailure("p", now)
	}
	assert.False(t, tr.Quarantined("p", now))

	tr.RecordFailure("p", now)
	require.Equal(t, 5, tr.ConsecutiveFailures("p"))
	assert.True(t, tr.Quarantined("p", now))
}

func TestQuarantineExpiresAfterCooldown(t *testing.T) {
	tr := NewTracker()
	tr.Register("p")
	start := time.Now()

	for i := 0; i < 5; i++ {
		tr.RecordFailure("p", start)
	}

	// 2^5 = 32s cooldown.
	assert.True(t, tr.Quarantined("p", start.Add(31*time.Second)))
	assert.False(t, tr.Quarantined("p", start.Add(32*time.Second)))
}

func TestCooldownIsCappedAtFiveMinutes(t *testing.T) {
	tr := NewTracker()
	tr.Register("p")
	start := time.Now()

	for i := 0; i < 20; i++ {
		tr.RecordFailure("p", start)
	}

	assert.True(t, tr.Quarantined("p", start.Add(299*time.Second)))
	assert.False(t, tr.Quarantined("p", start.Add(300*time.Second)))
}

func TestReentryAtReducedTrust(t *testing.T) {
	tr := NewTracker()
	tr.Register("p")
	start := time.Now()

	for i := 0; i < 5; i++ {
		tr.RecordFailure("p", start)
	}

	after := start.Add(33 * time.Second)
	require.False(t, tr.Quarantined("p", after))

	// Back in the list, but at zero trust until a success lands.
	assert.Equal(t, 0.0, tr.Score("p", after))

	tr.RecordSuccess("p", after)
	assert.Equal(t, 30.0, tr.Score("p", after))
}

func TestSnapshotReflectsState(t *testing.T) {
	tr := NewTracker()
	tr.Register("p")
	now := time.Now()

	tr.RecordFailure("p", now)
	snap := tr.SnapshotFor("p", now)
	assert.Equal(t, 1, snap.ConsecutiveFailures)
	assert.Equal(t, now, snap.LastErrorAt)
	assert.False(t, snap.Quarantined)
}

func TestRegisterIsIdempotent(t *testing.T) {
	tr := NewTracker()
	tr.Register("p")
	now := time.Now()

	tr.RecordFailure("p", now)
	tr.Register("p")

	assert.Equal(t, 1, tr.ConsecutiveFailures("p"))
}
