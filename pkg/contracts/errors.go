package contracts

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies which artifact contract a value claims to satisfy.
type Kind string

const (
	KindTaskRequest        Kind = "TaskRequest"
	KindTaskResponse       Kind = "TaskResponse"
	KindWorkingSpec        Kind = "WorkingSpec"
	KindWorkerOutput       Kind = "WorkerOutput"
	KindJudgeVerdict       Kind = "JudgeVerdict"
	KindFinalVerdict       Kind = "FinalVerdict"
	KindRouterDecision     Kind = "RouterDecision"
	KindExecutionArtifacts Kind = "ExecutionArtifacts"
	KindQualityReport      Kind = "QualityReport"
	KindRefinementDecision Kind = "RefinementDecision"
)

// ValidationIssue locates one schema violation inside an artifact.
type ValidationIssue struct {
	InstancePath string `json:"instance_path"`
	SchemaPath   string `json:"schema_path"`
	Message      string `json:"message"`
}

// ContractError reports that a value failed its artifact contract. A
// contract failure is fatal for that artifact but must not abort unrelated
// tasks.
type ContractError struct {
	Kind   Kind
	Issues []ValidationIssue
	cause  error
}

// NewContractError builds a validation ContractError.
func NewContractError(kind Kind, issues []ValidationIssue) *ContractError {
	return &ContractError{Kind: kind, Issues: issues}
}

// WrapContractError builds a ContractError from an encoding failure.
func WrapContractError(kind Kind, cause error) *ContractError {
	return &ContractError{Kind: kind, cause: cause}
}

func (e *ContractError) Error() string {
	if len(e.Issues) == 0 {
		if e.cause != nil {
			return fmt.Sprintf("contract %s: %v", e.Kind, e.cause)
		}
		return fmt.Sprintf("contract %s: invalid", e.Kind)
	}
	msgs := make([]string, 0, len(e.Issues))
	for _, iss := range e.Issues {
		msgs = append(msgs, fmt.Sprintf("%s: %s", iss.InstancePath, iss.Message))
	}
	return fmt.Sprintf("contract %s: %s", e.Kind, strings.Join(msgs, "; "))
}

func (e *ContractError) Unwrap() error { return e.cause }

// FaultKind is the error taxonomy the core surfaces to its transport layer.
type FaultKind string

const (
	FaultContract      FaultKind = "contract"
	FaultPolicy        FaultKind = "policy"
	FaultDispatch      FaultKind = "dispatch"
	FaultJudge         FaultKind = "judge"
	FaultAggregation   FaultKind = "aggregation"
	FaultProvenance    FaultKind = "provenance"
	FaultCancelled     FaultKind = "cancelled"
	FaultTimeout       FaultKind = "timeout"
	FaultConfiguration FaultKind = "configuration"
)

// Fault tags an error with its taxonomy kind and the operation that raised
// it.
type Fault struct {
	Kind FaultKind
	Op   string
	Err  error
}

// NewFault wraps err under the given kind.
func NewFault(kind FaultKind, op string, err error) *Fault {
	return &Fault{Kind: kind, Op: op, Err: err}
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Kind, f.Op)
	}
	return fmt.Sprintf("%s: %s: %v", f.Kind, f.Op, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// FaultKindOf extracts the taxonomy kind from err, or empty when err carries
// no Fault.
func FaultKindOf(err error) FaultKind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}
