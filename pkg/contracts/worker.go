package contracts

import (
	"time"

	"github.com/google/uuid"
)

// WorkerOutput is the result of one worker run over a WorkingSpec.
type WorkerOutput struct {
	Metadata       WorkerMetadata  `json:"metadata"`
	Artifacts      WorkerArtifacts `json:"artifacts"`
	Rationale      string          `json:"rationale"`
	SelfAssessment SelfAssessment  `json:"self_assessment"`
	Claims         []Claim         `json:"claims,omitempty"`
	EvidenceRefs   []EvidenceRef   `json:"evidence_refs,omitempty"`
	Waivers        []Waiver        `json:"waivers,omitempty"`
}

// WorkerMetadata binds an output to its task and records the seeds used to
// make the run reproducible. Seeds must be present whenever determinism was
// required.
type WorkerMetadata struct {
	TaskID   string `json:"task_id"`
	RiskTier int    `json:"risk_tier"`
	Seeds    *Seeds `json:"seeds,omitempty"`
}

// Seeds pin every source of nondeterminism in a worker run.
type Seeds struct {
	TimeSeed   string `json:"time_seed"`
	UUIDSeed   string `json:"uuid_seed"`
	RandomSeed string `json:"random_seed"`
}

// WorkerArtifacts are the concrete changes a worker proposes.
type WorkerArtifacts struct {
	Patches  []Patch  `json:"patches,omitempty"`
	Commands []string `json:"commands,omitempty"`
}

// Patch is a unified diff against one file. ExpectedPrevDigest, when set,
// guards against applying the patch over drifted content.
type Patch struct {
	Path               string `json:"path"`
	Diff               string `json:"diff"`
	ExpectedPrevDigest string `json:"expected_prev_digest,omitempty"`
}

// SelfAssessment is the worker's own view of its compliance and confidence.
type SelfAssessment struct {
	Checklist    ComplianceSnapshot `json:"caws_checklist"`
	Confidence   float64            `json:"confidence"`
	Concerns     []string           `json:"concerns,omitempty"`
	Improvements []string           `json:"improvements,omitempty"`
}

// Claim is a verifiable assertion the worker makes about its output.
type Claim struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
}

// EvidenceRef links a claim to supporting material.
type EvidenceRef struct {
	ClaimID string `json:"claim_id"`
	Ref     string `json:"ref"`
	Note    string `json:"note,omitempty"`
}

// WorkerType distinguishes routing targets.
type WorkerType string

const (
	WorkerGeneralist WorkerType = "generalist"
	WorkerSpecialist WorkerType = "specialist"
)

// RouterDecision records how a task was routed: one assignment per subtask.
type RouterDecision struct {
	TaskID      string             `json:"task_id"`
	Assignments []RouterAssignment `json:"assignments"`
	DecidedAt   time.Time          `json:"decided_at"`
}

// RouterAssignment binds one subtask to a worker type and model.
type RouterAssignment struct {
	SubtaskID  string     `json:"subtask_id"`
	WorkerType WorkerType `json:"worker_type"`
	Model      string     `json:"model"`
	Reason     string     `json:"reason"`
}

// TaskPriority orders competing dispatches.
type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityMedium   TaskPriority = "medium"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

// TaskSpec is the unit of work handed to a worker.
type TaskSpec struct {
	ID                   uuid.UUID      `json:"id"`
	Title                string         `json:"title"`
	Description          string         `json:"description"`
	Priority             TaskPriority   `json:"priority"`
	RequiredCapabilities []string       `json:"required_capabilities,omitempty"`
	Context              map[string]any `json:"context,omitempty"`
	WorkingSpecID        string         `json:"working_spec_id,omitempty"`
	TimeoutSeconds       int            `json:"timeout_seconds,omitempty"`
}

// TaskExecutionResult is what a worker returns for one TaskSpec.
type TaskExecutionResult struct {
	ExecutionID uuid.UUID      `json:"execution_id"`
	TaskID      uuid.UUID      `json:"task_id"`
	Success     bool           `json:"success"`
	Output      string         `json:"output"`
	Errors      []string       `json:"errors,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	DurationMS  int64          `json:"duration_ms"`
	WorkerID    uuid.UUID      `json:"worker_id"`
}

// WorkerSpecialty advertises a capability a specialist worker carries.
// Kind names the domain; Tags refine it (error codes, strategies,
// frameworks, formats, patterns).
type WorkerSpecialty struct {
	Kind SpecialtyKind `json:"kind"`
	Tags []string      `json:"tags,omitempty"`
}

// SpecialtyKind enumerates the specialist domains the router understands.
type SpecialtyKind string

const (
	SpecialtyCompilationErrors SpecialtyKind = "compilation-errors"
	SpecialtyRefactoring       SpecialtyKind = "refactoring"
	SpecialtyTesting           SpecialtyKind = "testing"
	SpecialtyDocumentation     SpecialtyKind = "documentation"
	SpecialtyTypeSystem        SpecialtyKind = "type-system"
	SpecialtyAsyncPatterns     SpecialtyKind = "async-patterns"
	SpecialtyCustom            SpecialtyKind = "custom"
)
