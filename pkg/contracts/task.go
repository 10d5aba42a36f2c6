// Package contracts defines the typed artifacts exchanged across every
// component boundary of the arbitration engine, together with their canonical
// codec and schema-backed validation.
//
// Artifacts are immutable once validated. All identifiers are UUIDs.
package contracts

import (
	"time"

	"github.com/google/uuid"
)

// Environment identifies the deployment environment a task targets.
type Environment string

const (
	EnvDev     Environment = "dev"
	EnvStaging Environment = "staging"
	EnvProd    Environment = "prod"
)

// TaskRequest is what an external caller submits: a natural-language task
// plus the constraints the engine must hold it to.
type TaskRequest struct {
	ID          uuid.UUID       `json:"id"`
	Description string          `json:"description"`
	Context     *TaskContext    `json:"context,omitempty"`
	Constraints TaskConstraints `json:"constraints"`
}

// TaskContext carries workspace information for the task.
type TaskContext struct {
	WorkspaceRoot string      `json:"workspace_root,omitempty"`
	Branch        string      `json:"branch,omitempty"`
	RecentChanges []string    `json:"recent_changes,omitempty"`
	Environment   Environment `json:"environment,omitempty"`
}

// TaskConstraints bound what an execution may do.
type TaskConstraints struct {
	RiskTier          int                `json:"risk_tier"`
	MaxDuration       time.Duration      `json:"max_duration,omitempty"`
	MaxIterations     int                `json:"max_iterations,omitempty"`
	BudgetLimits      *BudgetLimits      `json:"budget_limits,omitempty"`
	ScopeRestrictions *ScopeRestrictions `json:"scope_restrictions,omitempty"`
}

// BudgetLimits caps the size of a change.
type BudgetLimits struct {
	MaxFiles int `json:"max_files"`
	MaxLOC   int `json:"max_loc"`
}

// ScopeRestrictions constrain which paths a change may touch.
// AllowedPaths are prefixes; BlockedPaths are glob patterns.
type ScopeRestrictions struct {
	AllowedPaths []string `json:"allowed_paths,omitempty"`
	BlockedPaths []string `json:"blocked_paths,omitempty"`
}

// WorkingSpec is the approved plan a task executes against. It is the
// contract the dispatcher enforces.
type WorkingSpec struct {
	ID                 uuid.UUID    `json:"id"`
	Title              string       `json:"title"`
	Description        string       `json:"description"`
	RiskTier           int          `json:"risk_tier"`
	Scope              SpecScope    `json:"scope"`
	ChangeBudget       BudgetLimits `json:"change_budget"`
	AcceptanceCriteria []string     `json:"acceptance_criteria"`
	Invariants         []string     `json:"invariants"`
}

// SpecScope lists the path prefixes a change may and may not touch.
type SpecScope struct {
	InScope  []string `json:"in_scope"`
	OutScope []string `json:"out_scope"`
}

// TaskDescriptor is the per-execution binding of a task to a scope.
type TaskDescriptor struct {
	TaskID   string   `json:"task_id"`
	ScopeIn  []string `json:"scope_in"`
	RiskTier int      `json:"risk_tier"`
}

// DiffStats summarizes the concrete change a worker produced.
type DiffStats struct {
	FilesChanged int      `json:"files_changed"`
	LinesChanged int      `json:"lines_changed"`
	TouchedPaths []string `json:"touched_paths"`
}
