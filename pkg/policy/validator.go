// Package policy implements the CAWS runtime validator: the pure decision
// of whether a concrete diff satisfies a WorkingSpec's scope, budget,
// determinism, and test-inclusion requirements.
//
// All checks always run; a violation is recorded for each failure. A
// violation is hard-fail iff no active waiver names its code. The validator
// never suspends and is repeatable: identical inputs yield identical
// results, violations in stable order.
package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/arbiterlabs/arbiter/pkg/contracts"
)

// ErrInvalidSpec reports a spec whose risk tier is outside {1,2,3}.
var ErrInvalidSpec = errors.New("invalid spec")

// Input bundles everything the validator needs for one decision.
type Input struct {
	Spec          contracts.WorkingSpec
	Descriptor    contracts.TaskDescriptor
	Diff          contracts.DiffStats
	TestsAdded    bool
	Deterministic bool
	Waivers       []contracts.Waiver

	// Commands lists the tool invocations the worker proposes; evaluated
	// by extension rules (DisallowedTool).
	Commands []string
}

// Validator evaluates CAWS policy. Construct once, reuse across tasks.
type Validator struct {
	rules        []compiledRule
	blockedGlobs []string
	clock        func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) Option {
	return func(v *Validator) { v.clock = clock }
}

// WithBlockedGlobs adds glob patterns (doublestar syntax) that no touched
// path may match. Matches record OutOfScope violations.
func WithBlockedGlobs(globs []string) Option {
	return func(v *Validator) { v.blockedGlobs = globs }
}

// NewValidator builds a validator with the given options.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{clock: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs every policy check over the input. It fails fast only on an
// invalid spec; every other failure is recorded as a violation.
func (v *Validator) Validate(in Input) (contracts.ValidationResult, error) {
	if in.Spec.RiskTier < 1 || in.Spec.RiskTier > 3 {
		return contracts.ValidationResult{}, fmt.Errorf("%w: risk_tier %d", ErrInvalidSpec, in.Spec.RiskTier)
	}

	scopeIn := in.Spec.Scope.InScope
	if len(scopeIn) == 0 {
		scopeIn = in.Descriptor.ScopeIn
	}

	withinScope := v.checkScope(scopeIn, in.Spec.Scope.OutScope, in.Diff.TouchedPaths)
	withinBudget := in.Diff.FilesChanged <= in.Spec.ChangeBudget.MaxFiles &&
		in.Diff.LinesChanged <= in.Spec.ChangeBudget.MaxLOC

	snapshot := contracts.ComplianceSnapshot{
		WithinScope:   withinScope,
		WithinBudget:  withinBudget,
		TestsAdded:    in.TestsAdded,
		Deterministic: in.Deterministic,
	}

	var violations []contracts.Violation
	if !withinScope {
		violations = append(violations, contracts.Violation{
			Code:        contracts.ViolationOutOfScope,
			Message:     "touched file outside scope",
			Remediation: "restrict changes to scope.in or update the working spec",
		})
	}
	if !withinBudget {
		violations = append(violations, contracts.Violation{
			Code: contracts.ViolationBudgetExceeded,
			Message: fmt.Sprintf("change budget exceeded: %d files (max %d), %d lines (max %d)",
				in.Diff.FilesChanged, in.Spec.ChangeBudget.MaxFiles,
				in.Diff.LinesChanged, in.Spec.ChangeBudget.MaxLOC),
			Remediation: "split the change or request a budget waiver",
		})
	}
	if !in.TestsAdded && in.Spec.RiskTier < 3 {
		violations = append(violations, contracts.Violation{
			Code:        contracts.ViolationMissingTests,
			Message:     "no tests added",
			Remediation: "add a failing test first",
		})
	}
	if !in.Deterministic {
		violations = append(violations, contracts.Violation{
			Code:        contracts.ViolationNonDeterministic,
			Message:     "non-deterministic execution detected",
			Remediation: "inject time/uuid/random seeds",
		})
	}

	ruleViolations, err := v.evalRules(in)
	if err != nil {
		return contracts.ValidationResult{}, err
	}
	violations = append(violations, ruleViolations...)

	now := v.clock().UTC()
	applyWaivers(violations, in.Waivers, now)

	return contracts.ValidationResult{
		TaskID:      in.Descriptor.TaskID,
		Snapshot:    snapshot,
		Violations:  violations,
		Waivers:     in.Waivers,
		ValidatedAt: now,
	}, nil
}

// checkScope enforces the prefix discipline: every touched path must begin
// with an in-scope prefix, must not begin with an out-of-scope prefix, and
// must not match a blocked glob. Empty touched_paths passes trivially.
func (v *Validator) checkScope(scopeIn, scopeOut, touched []string) bool {
	for _, path := range touched {
		if !hasPrefixIn(path, scopeIn) {
			return false
		}
		if hasPrefixIn(path, scopeOut) {
			return false
		}
		for _, glob := range v.blockedGlobs {
			if ok, _ := doublestar.Match(glob, path); ok {
				return false
			}
		}
	}
	return true
}

func hasPrefixIn(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// applyWaivers marks each violation waived when an active, unexpired waiver
// names its code. Waived violations stay recorded; coverage is never
// inferred across codes.
func applyWaivers(violations []contracts.Violation, waivers []contracts.Waiver, now time.Time) {
	for i := range violations {
		for _, w := range waivers {
			if w.Scope == violations[i].Code && w.Active(now) {
				violations[i].Waived = true
				break
			}
		}
	}
}
