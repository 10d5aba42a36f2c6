// Package council forms a verdict over worker outputs: N independent
// judges deliberate in parallel, a bounded debate resolves dissent, and a
// weighted aggregation produces the FinalVerdict.
package council

import (
	"context"
	"time"

	"github.com/arbiterlabs/arbiter/pkg/contracts"
)

// ReviewContext is everything a judge sees. Transcript is non-nil during
// debate rounds and carries the prior rounds' contributions.
type ReviewContext struct {
	WorkingSpec   contracts.WorkingSpec
	WorkerOutputs []contracts.WorkerOutput
	EvidenceRefs  []contracts.EvidenceRef
	Transcript    *CompiledContributions
}

// JudgeConfig bounds one judge invocation.
type JudgeConfig struct {
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// JudgeClient is the judge capability: given a review context and config,
// produce a verdict within the timeout.
type JudgeClient interface {
	Review(ctx context.Context, rc ReviewContext, cfg JudgeConfig) (contracts.JudgeVerdict, error)
}

// EvidenceResolver is the external enrichment capability: it resolves
// evidence references into summaries packed into the review context.
type EvidenceResolver interface {
	Resolve(ctx context.Context, refs []contracts.EvidenceRef) ([]contracts.EvidenceRef, error)
}

// Enrollment binds a judge to its identity, version, and voting weight.
type Enrollment struct {
	JudgeID string
	Version string
	Weight  float64
	Client  JudgeClient
}

// WeightedVerdict pairs a judge's verdict with its enrollment weight.
type WeightedVerdict struct {
	Verdict contracts.JudgeVerdict
	Weight  float64
}

// Thresholds parameterize consensus and aggregation.
type Thresholds struct {
	Accept    float64 // weighted pass mass to accept
	Reject    float64 // weighted fail mass to reject
	FailGuard float64 // max fail mass tolerated on accept
}

// DefaultThresholds returns the council defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{Accept: 0.6, Reject: 0.4, FailGuard: 0.2}
}

// Deliberation is the pool's output: the final round's weighted verdicts
// plus the debate record, ready for aggregation.
type Deliberation struct {
	Verdicts   []WeightedVerdict
	Rounds     int
	Consensus  bool
	Transcript *SignedTranscript

	// EnrichmentOverrun is set when evidence resolution exceeded its SLA
	// ceiling; a soft failure recorded for timing audit, not a stop.
	EnrichmentOverrun bool

	// PriorReasons maps judge_id to the reasons it gave in earlier
	// rounds, preserved so dissent can cite revised positions.
	PriorReasons map[string][]string
}
