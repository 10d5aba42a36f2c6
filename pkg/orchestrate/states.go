// Package orchestrate sequences validation, dispatch, review, and
// aggregation for one task under normal, short-circuit, and failure paths.
// One task is one logical control fiber; parallelism lives below, in the
// dispatcher and the judge pool.
package orchestrate

import "github.com/arbiterlabs/arbiter/pkg/contracts"

// State is the task lifecycle state.
type State string

const (
	StateReceived    State = "received"
	StateValidating  State = "validating"
	StateDispatching State = "dispatching"
	StateReviewing   State = "reviewing"
	StateAggregating State = "aggregating"
	StateCompleted   State = "completed"
	StateRejected    State = "rejected"
	StateCancelled   State = "cancelled"
	StateFailed      State = "failed"
)

// Terminal reports whether the state ends the lifecycle.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateRejected, StateCancelled, StateFailed:
		return true
	}
	return false
}

// Outcome names for the OrchestrateExit event.
const (
	OutcomeCompleted    = "completed"
	OutcomeRejected     = "rejected"
	OutcomeShortCircuit = "short_circuit"
	OutcomeCancelled    = "cancelled"
	OutcomeFailed       = "failed"
	OutcomeContract     = "contract"
)

// constitutionalRefs maps violation codes to the policy clauses cited in a
// short-circuit verdict.
var constitutionalRefs = map[contracts.ViolationCode]string{
	contracts.ViolationOutOfScope:       "CAWS:Scope",
	contracts.ViolationBudgetExceeded:   "CAWS:Budget",
	contracts.ViolationMissingTests:     "CAWS:Tests",
	contracts.ViolationNonDeterministic: "CAWS:Determinism",
	contracts.ViolationDisallowedTool:   "CAWS:Tools",
}

// ContractRef is cited when an artifact fails its schema at ingress.
const ContractRef = "CAWS:Contract"

// LifecycleRef is cited when a verdict is synthesized for a cancelled or
// failed lifecycle rather than a judged one.
const LifecycleRef = "CAWS:Lifecycle"

// Response is what the orchestrator returns for every terminal state: a
// FinalVerdict (possibly synthesized), the terminal state, and degraded-
// mode warnings.
type Response struct {
	TaskID          string                 `json:"task_id"`
	State           State                  `json:"state"`
	Verdict         contracts.FinalVerdict `json:"verdict"`
	ChainIncomplete bool                   `json:"chain_incomplete,omitempty"`
	Warnings        []string               `json:"warnings,omitempty"`
}
