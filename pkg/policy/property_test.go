//go:build property
// +build property

// Package policy_test contains property-based tests for validator
// determinism and scope discipline.
package policy_test

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/arbiterlabs/arbiter/pkg/contracts"
	"github.com/arbiterlabs/arbiter/pkg/policy"
)

func fixedClock() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

// TestValidatorIdempotence: Validate(in) == Validate(in) for any input.
func TestValidatorIdempotence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	v := policy.NewValidator(policy.WithClock(fixedClock))

	properties.Property("validator is idempotent", prop.ForAll(
		func(files, lines int, paths []string, testsAdded, deterministic bool) bool {
			in := policy.Input{
				Spec: contracts.WorkingSpec{
					RiskTier:     2,
					Scope:        contracts.SpecScope{InScope: []string{"src/"}},
					ChangeBudget: contracts.BudgetLimits{MaxFiles: 10, MaxLOC: 100},
				},
				Descriptor:    contracts.TaskDescriptor{TaskID: "P-1", RiskTier: 2},
				Diff:          contracts.DiffStats{FilesChanged: files, LinesChanged: lines, TouchedPaths: paths},
				TestsAdded:    testsAdded,
				Deterministic: deterministic,
			}
			first, err1 := v.Validate(in)
			second, err2 := v.Validate(in)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			if len(first.Violations) != len(second.Violations) {
				return false
			}
			for i := range first.Violations {
				if first.Violations[i] != second.Violations[i] {
					return false
				}
			}
			return first.Snapshot == second.Snapshot
		},
		gen.IntRange(0, 50),
		gen.IntRange(0, 500),
		gen.SliceOf(gen.RegexMatch(`(src|vendor|docs)/[a-z]{1,8}\.go`)),
		gen.Bool(),
		gen.Bool(),
	))

	// Any touched path outside every in-scope prefix yields OutOfScope.
	properties.Property("out-of-prefix paths violate scope", prop.ForAll(
		func(name string) bool {
			in := policy.Input{
				Spec: contracts.WorkingSpec{
					RiskTier:     2,
					Scope:        contracts.SpecScope{InScope: []string{"src/"}},
					ChangeBudget: contracts.BudgetLimits{MaxFiles: 10, MaxLOC: 100},
				},
				Descriptor:    contracts.TaskDescriptor{TaskID: "P-2", RiskTier: 2},
				Diff:          contracts.DiffStats{FilesChanged: 1, LinesChanged: 1, TouchedPaths: []string{"elsewhere/" + name}},
				TestsAdded:    true,
				Deterministic: true,
			}
			result, err := v.Validate(in)
			if err != nil {
				return false
			}
			for _, viol := range result.Violations {
				if viol.Code == contracts.ViolationOutOfScope {
					return true
				}
			}
			return false
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
