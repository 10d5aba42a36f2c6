package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffFirstAttemptImmediate(t *testing.T) {
	d := Backoff(Params{Scope: "dispatch", SubjectID: "w1", AttemptIndex: 0}, DefaultPolicy())
	assert.Equal(t, time.Duration(0), d)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	policy := Policy{BaseMs: 100, MaxMs: 800, MaxJitterMs: 0, MaxAttempts: 10}

	var prev time.Duration
	for attempt := 1; attempt <= 4; attempt++ {
		d := Backoff(Params{Scope: "s", SubjectID: "x", AttemptIndex: attempt}, policy)
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}
	// 100 * 2^6 far exceeds the cap.
	d := Backoff(Params{Scope: "s", SubjectID: "x", AttemptIndex: 7}, policy)
	assert.Equal(t, 800*time.Millisecond, d)
}

func TestJitterIsDeterministic(t *testing.T) {
	policy := Policy{BaseMs: 100, MaxMs: 5000, MaxJitterMs: 250, MaxAttempts: 3}
	params := Params{Scope: "dispatch", SubjectID: "worker-a", AttemptIndex: 2}

	first := Backoff(params, policy)
	second := Backoff(params, policy)
	assert.Equal(t, first, second)

	other := Backoff(Params{Scope: "dispatch", SubjectID: "worker-b", AttemptIndex: 2}, policy)
	// Different subjects derive different jitter (overwhelmingly likely).
	assert.NotEqual(t, first, other)
}

func TestSleepObservesCancellation(t *testing.T) {
	done := make(chan struct{})
	close(done)

	policy := Policy{BaseMs: 10_000, MaxMs: 10_000, MaxJitterMs: 0, MaxAttempts: 2}
	start := time.Now()
	ok := Sleep(done, Params{Scope: "s", SubjectID: "x", AttemptIndex: 1}, policy)
	require.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}
