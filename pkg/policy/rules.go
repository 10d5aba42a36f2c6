package policy

import (
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"

	"github.com/arbiterlabs/arbiter/pkg/contracts"
)

// Rule is a CEL extension check evaluated alongside the built-in policy.
// When Expression evaluates true the rule's violation is recorded.
//
// The expression environment exposes: risk_tier, files_changed,
// lines_changed, touched_paths, commands, tests_added, deterministic.
type Rule struct {
	Name        string                  `yaml:"name" json:"name"`
	Expression  string                  `yaml:"expression" json:"expression"`
	Code        contracts.ViolationCode `yaml:"code" json:"code"`
	Message     string                  `yaml:"message" json:"message"`
	Remediation string                  `yaml:"remediation,omitempty" json:"remediation,omitempty"`
}

type compiledRule struct {
	rule    Rule
	program cel.Program
}

// WithRules compiles CEL extension rules into the validator. Compilation
// errors are configuration faults surfaced at construction, not at
// validation time.
func WithRules(rules []Rule) (Option, error) {
	env, err := cel.NewEnv(
		cel.Variable("risk_tier", cel.IntType),
		cel.Variable("files_changed", cel.IntType),
		cel.Variable("lines_changed", cel.IntType),
		cel.Variable("touched_paths", cel.ListType(cel.StringType)),
		cel.Variable("commands", cel.ListType(cel.StringType)),
		cel.Variable("tests_added", cel.BoolType),
		cel.Variable("deterministic", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy rule env: %w", err)
	}

	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		ast, iss := env.Compile(r.Expression)
		if iss != nil && iss.Err() != nil {
			return nil, contracts.NewFault(contracts.FaultConfiguration,
				fmt.Sprintf("compile policy rule %q", r.Name), iss.Err())
		}
		if !reflect.DeepEqual(ast.OutputType(), cel.BoolType) {
			return nil, contracts.NewFault(contracts.FaultConfiguration,
				fmt.Sprintf("policy rule %q must evaluate to bool", r.Name), nil)
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, contracts.NewFault(contracts.FaultConfiguration,
				fmt.Sprintf("program policy rule %q", r.Name), err)
		}
		compiled = append(compiled, compiledRule{rule: r, program: prg})
	}

	return func(v *Validator) { v.rules = compiled }, nil
}

// evalRules runs every compiled extension rule in registration order.
func (v *Validator) evalRules(in Input) ([]contracts.Violation, error) {
	if len(v.rules) == 0 {
		return nil, nil
	}

	activation := map[string]any{
		"risk_tier":     in.Spec.RiskTier,
		"files_changed": in.Diff.FilesChanged,
		"lines_changed": in.Diff.LinesChanged,
		"touched_paths": in.Diff.TouchedPaths,
		"commands":      in.Commands,
		"tests_added":   in.TestsAdded,
		"deterministic": in.Deterministic,
	}

	var violations []contracts.Violation
	for _, cr := range v.rules {
		out, _, err := cr.program.Eval(activation)
		if err != nil {
			return nil, contracts.NewFault(contracts.FaultPolicy,
				fmt.Sprintf("evaluate policy rule %q", cr.rule.Name), err)
		}
		hit, ok := out.Value().(bool)
		if !ok {
			return nil, contracts.NewFault(contracts.FaultPolicy,
				fmt.Sprintf("policy rule %q returned non-bool", cr.rule.Name), nil)
		}
		if hit {
			violations = append(violations, contracts.Violation{
				Code:        cr.rule.Code,
				Message:     cr.rule.Message,
				Remediation: cr.rule.Remediation,
			})
		}
	}
	return violations, nil
}
