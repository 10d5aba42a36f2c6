package contracts

// JudgeDecision is one judge's call on a set of worker outputs.
type JudgeDecision string

const (
	JudgePass      JudgeDecision = "pass"
	JudgeFail      JudgeDecision = "fail"
	JudgeUncertain JudgeDecision = "uncertain"
)

// EvidenceKind classifies a piece of judge evidence.
type EvidenceKind string

const (
	EvidenceResearch    EvidenceKind = "research"
	EvidenceStaticCheck EvidenceKind = "static_check"
	EvidenceTest        EvidenceKind = "test"
)

// JudgeVerdict is one judge's evaluation of a review context.
type JudgeVerdict struct {
	JudgeID  string         `json:"judge_id"`
	Version  string         `json:"version"`
	Verdict  JudgeDecision  `json:"verdict"`
	Reasons  []string       `json:"reasons"`
	Evidence []EvidenceItem `json:"evidence,omitempty"`
}

// EvidenceItem cites material a judge relied on.
type EvidenceItem struct {
	Kind    EvidenceKind `json:"kind"`
	Ref     string       `json:"ref"`
	Summary string       `json:"summary,omitempty"`
}

// FinalDecision is the council's aggregate outcome.
type FinalDecision string

const (
	DecisionAccept FinalDecision = "accept"
	DecisionReject FinalDecision = "reject"
	DecisionModify FinalDecision = "modify"
)

// FinalVerdict is the council output for one task.
//
// Invariant: when Decision is reject, Remediation and ConstitutionalRefs
// must be non-empty.
type FinalVerdict struct {
	Decision            FinalDecision       `json:"decision"`
	Votes               []VoteEntry         `json:"votes"`
	Dissent             string              `json:"dissent"`
	Remediation         []string            `json:"remediation"`
	ConstitutionalRefs  []string            `json:"constitutional_refs"`
	VerificationSummary VerificationSummary `json:"verification_summary"`
}

// VoteEntry is one judge's weighted vote. Weights across a verdict sum to
// at most 1; the remainder is abstention mass.
type VoteEntry struct {
	JudgeID string        `json:"judge_id"`
	Weight  float64       `json:"weight"`
	Verdict JudgeDecision `json:"verdict"`
}

// VerificationSummary is computed by the external claim extractor and
// passed through unchanged.
type VerificationSummary struct {
	ClaimsTotal    int     `json:"claims_total"`
	ClaimsVerified int     `json:"claims_verified"`
	CoveragePct    float64 `json:"coverage_pct"`
}
