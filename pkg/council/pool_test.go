package council

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterlabs/arbiter/pkg/contracts"
	"github.com/arbiterlabs/arbiter/pkg/crypto"
)

// scriptedJudge returns one verdict per invocation, in order, repeating
// the last.
type scriptedJudge struct {
	id       string
	verdicts []contracts.JudgeDecision
	reasons  []string
	delay    time.Duration
	calls    atomic.Int32
}

func (j *scriptedJudge) Review(ctx context.Context, rc ReviewContext, cfg JudgeConfig) (contracts.JudgeVerdict, error) {
	call := int(j.calls.Add(1)) - 1
	if j.delay > 0 {
		select {
		case <-time.After(j.delay):
		case <-ctx.Done():
			return contracts.JudgeVerdict{}, ctx.Err()
		}
	}
	idx := call
	if idx >= len(j.verdicts) {
		idx = len(j.verdicts) - 1
	}
	return contracts.JudgeVerdict{
		JudgeID: j.id,
		Version: "1.0.0",
		Verdict: j.verdicts[idx],
		Reasons: j.reasons,
	}, nil
}

// malformedJudge returns a verdict that violates the JudgeVerdict schema.
type malformedJudge struct{}

func (malformedJudge) Review(ctx context.Context, rc ReviewContext, cfg JudgeConfig) (contracts.JudgeVerdict, error) {
	return contracts.JudgeVerdict{Version: "1.0.0", Verdict: contracts.JudgePass, Reasons: []string{"ok"}}, nil
}

func testPool(t *testing.T, cfg PoolConfig) *Pool {
	t.Helper()
	keyring, err := crypto.NewKeyring(crypto.AlgEdDSA, "council-test")
	require.NoError(t, err)
	pool, err := NewPool(cfg, keyring)
	require.NoError(t, err)
	return pool
}

func enroll(t *testing.T, pool *Pool, id string, weight float64, client JudgeClient) {
	t.Helper()
	require.NoError(t, pool.Enroll(Enrollment{JudgeID: id, Version: "1.0.0", Weight: weight, Client: client}))
}

func TestDeliberateUnanimousConsensus(t *testing.T) {
	pool := testPool(t, DefaultPoolConfig())
	enroll(t, pool, "alpha", 0.5, &scriptedJudge{id: "alpha", verdicts: []contracts.JudgeDecision{contracts.JudgePass}, reasons: []string{"fine"}})
	enroll(t, pool, "beta", 0.3, &scriptedJudge{id: "beta", verdicts: []contracts.JudgeDecision{contracts.JudgePass}, reasons: []string{"fine"}})

	delib, err := pool.Deliberate(context.Background(), ReviewContext{})
	require.NoError(t, err)

	assert.True(t, delib.Consensus)
	assert.Equal(t, 1, delib.Rounds)
	assert.Len(t, delib.Verdicts, 2)
	require.NotNil(t, delib.Transcript)
	assert.NotEmpty(t, delib.Transcript.Signature)
}

func TestDeliberateDebateConverges(t *testing.T) {
	// Round 1 splits (pass mass 0.4); in round 2 the failing judge
	// revises to pass, crossing the accept threshold.
	pool := testPool(t, DefaultPoolConfig())
	enroll(t, pool, "alpha", 0.4, &scriptedJudge{id: "alpha",
		verdicts: []contracts.JudgeDecision{contracts.JudgePass}, reasons: []string{"looks correct"}})
	enroll(t, pool, "beta", 0.3, &scriptedJudge{id: "beta",
		verdicts: []contracts.JudgeDecision{contracts.JudgeFail, contracts.JudgePass},
		reasons:  []string{"coverage concern"}})
	enroll(t, pool, "gamma", 0.3, &scriptedJudge{id: "gamma",
		verdicts: []contracts.JudgeDecision{contracts.JudgeUncertain}, reasons: []string{"unsure"}})

	delib, err := pool.Deliberate(context.Background(), ReviewContext{})
	require.NoError(t, err)

	assert.True(t, delib.Consensus)
	assert.Equal(t, 2, delib.Rounds)

	passMass, failMass := Score(delib.Verdicts)
	assert.InDelta(t, 0.7, passMass, 1e-9)
	assert.InDelta(t, 0.15, failMass, 1e-9)

	// The prior round's objection is preserved for dissent.
	assert.Contains(t, delib.PriorReasons["beta"], "coverage concern")

	// Transcript covers both rounds for all three judges.
	assert.Len(t, delib.Transcript.Transcript.Contributions, 6)
	assert.Equal(t, 3, delib.Transcript.Transcript.ParticipantCount)
}

func TestDeliberateExhaustsDebateRounds(t *testing.T) {
	cfg := DefaultPoolConfig()
	cfg.MaxDebateRounds = 2
	pool := testPool(t, cfg)
	// Permanently split: neither threshold is ever crossed.
	enroll(t, pool, "alpha", 0.5, &scriptedJudge{id: "alpha", verdicts: []contracts.JudgeDecision{contracts.JudgePass}, reasons: []string{"yes"}})
	enroll(t, pool, "beta", 0.5, &scriptedJudge{id: "beta", verdicts: []contracts.JudgeDecision{contracts.JudgeFail}, reasons: []string{"no"}})

	delib, err := pool.Deliberate(context.Background(), ReviewContext{})
	require.NoError(t, err)

	assert.False(t, delib.Consensus)
	assert.Equal(t, 3, delib.Rounds, "initial round plus two debate rounds")

	verdict := Aggregate(delib, DefaultThresholds(), contracts.VerificationSummary{})
	assert.Equal(t, contracts.DecisionModify, verdict.Decision)
}

func TestJudgeTimeoutContributesUncertain(t *testing.T) {
	cfg := DefaultPoolConfig()
	cfg.PerJudgeTimeout = 20 * time.Millisecond
	pool := testPool(t, cfg)
	enroll(t, pool, "slow", 0.4, &scriptedJudge{id: "slow",
		verdicts: []contracts.JudgeDecision{contracts.JudgePass}, delay: 500 * time.Millisecond})
	enroll(t, pool, "fast", 0.6, &scriptedJudge{id: "fast",
		verdicts: []contracts.JudgeDecision{contracts.JudgePass}, reasons: []string{"ok"}})

	delib, err := pool.Deliberate(context.Background(), ReviewContext{})
	require.NoError(t, err)

	byID := verdictsByID(delib)
	assert.Equal(t, contracts.JudgeUncertain, byID["slow"].Verdict.Verdict)
	assert.InDelta(t, 0.4, byID["slow"].Weight, 1e-9, "weight unchanged on timeout")
	assert.Equal(t, contracts.JudgePass, byID["fast"].Verdict.Verdict)
}

func TestMalformedVerdictContributesUncertain(t *testing.T) {
	pool := testPool(t, DefaultPoolConfig())
	enroll(t, pool, "broken", 0.3, malformedJudge{})
	enroll(t, pool, "sound", 0.7, &scriptedJudge{id: "sound",
		verdicts: []contracts.JudgeDecision{contracts.JudgePass}, reasons: []string{"ok"}})

	delib, err := pool.Deliberate(context.Background(), ReviewContext{})
	require.NoError(t, err)

	byID := verdictsByID(delib)
	assert.Equal(t, contracts.JudgeUncertain, byID["broken"].Verdict.Verdict)
	assert.InDelta(t, 0.3, byID["broken"].Weight, 1e-9)
	assert.True(t, delib.Consensus, "a malformed judge never blocks progress")
}

func TestCancelledDeliberationReturnsUncertain(t *testing.T) {
	pool := testPool(t, DefaultPoolConfig())
	enroll(t, pool, "slow", 0.5, &scriptedJudge{id: "slow",
		verdicts: []contracts.JudgeDecision{contracts.JudgePass}, delay: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	delib, err := pool.Deliberate(ctx, ReviewContext{})
	require.NoError(t, err)

	byID := verdictsByID(delib)
	assert.Equal(t, contracts.JudgeUncertain, byID["slow"].Verdict.Verdict)
}

func TestEnrollRejectsBadVersionAndWeight(t *testing.T) {
	pool := testPool(t, DefaultPoolConfig())

	err := pool.Enroll(Enrollment{JudgeID: "old", Version: "0.9.0", Weight: 0.2, Client: malformedJudge{}})
	require.Error(t, err)
	assert.Equal(t, contracts.FaultConfiguration, contracts.FaultKindOf(err))

	err = pool.Enroll(Enrollment{JudgeID: "heavy", Version: "1.2.0", Weight: 1.5, Client: malformedJudge{}})
	require.Error(t, err)

	err = pool.Enroll(Enrollment{JudgeID: "junk", Version: "not-semver", Weight: 0.2, Client: malformedJudge{}})
	require.Error(t, err)
}

func TestDeliberateWithoutJudgesFails(t *testing.T) {
	pool := testPool(t, DefaultPoolConfig())
	_, err := pool.Deliberate(context.Background(), ReviewContext{})
	require.Error(t, err)
	assert.Equal(t, contracts.FaultJudge, contracts.FaultKindOf(err))
}

type slowResolver struct{}

func (slowResolver) Resolve(ctx context.Context, refs []contracts.EvidenceRef) ([]contracts.EvidenceRef, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestEnrichmentOverrunIsSoftFailure(t *testing.T) {
	cfg := DefaultPoolConfig()
	cfg.EnrichmentSLA = 10 * time.Millisecond
	keyring, err := crypto.NewKeyring(crypto.AlgEdDSA, "council-test")
	require.NoError(t, err)
	pool, err := NewPool(cfg, keyring, WithResolver(slowResolver{}))
	require.NoError(t, err)
	enroll(t, pool, "alpha", 0.8, &scriptedJudge{id: "alpha",
		verdicts: []contracts.JudgeDecision{contracts.JudgePass}, reasons: []string{"ok"}})

	delib, err := pool.Deliberate(context.Background(), ReviewContext{
		EvidenceRefs: []contracts.EvidenceRef{{ClaimID: "c1", Ref: "evidence://1"}},
	})
	require.NoError(t, err)
	assert.True(t, delib.EnrichmentOverrun, "SLA overshoot records a timing violation but proceeds")
	assert.True(t, delib.Consensus)
}

func verdictsByID(delib *Deliberation) map[string]WeightedVerdict {
	out := make(map[string]WeightedVerdict)
	for _, wv := range delib.Verdicts {
		out[wv.Verdict.JudgeID] = wv
	}
	return out
}
