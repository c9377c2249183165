package rules

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// costLimit bounds the work a single rule may do.
const costLimit = 10_000

// CELEvaluator compiles each rule once and evaluates all of them per call;
// the most severe matched action wins, ties going to the earlier rule.
type CELEvaluator struct {
	rules    []Rule
	programs []cel.Program
}

// NewCELEvaluator compiles rules. Every expression must be boolean and may
// reference codes, data and lists.
func NewCELEvaluator(rules []Rule) (*CELEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("codes", cel.ListType(cel.StringType)),
		cel.Variable("data", cel.ListType(cel.StringType)),
		cel.Variable("lists", cel.MapType(cel.StringType, cel.ListType(cel.StringType))),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}

	e := &CELEvaluator{rules: rules, programs: make([]cel.Program, len(rules))}
	for i, r := range rules {
		if _, err := ParseAction(string(r.Action)); err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Name, err)
		}
		ast, issues := env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile rule %s: %w", r.Name, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("rule %s: expression must be boolean, got %s", r.Name, ast.OutputType())
		}
		prg, err := env.Program(ast, cel.CostLimit(costLimit))
		if err != nil {
			return nil, fmt.Errorf("program rule %s: %w", r.Name, err)
		}
		e.programs[i] = prg
	}
	return e, nil
}

func (e *CELEvaluator) Evaluate(ctx context.Context, in Input) (Result, error) {
	if len(e.rules) == 0 {
		return Result{}, ErrRulesNotExecuted
	}
	lists := in.Lists
	if lists == nil {
		lists = map[string][]string{}
	}
	activation := map[string]any{
		"codes": orEmpty(in.Codes),
		"data":  orEmpty(in.DataKinds),
		"lists": lists,
	}

	result := Result{Action: ActionPass}
	for i, prg := range e.programs {
		out, _, err := prg.ContextEval(ctx, activation)
		if err != nil {
			return Result{}, fmt.Errorf("evaluate rule %s: %w", e.rules[i].Name, err)
		}
		matched, ok := out.Value().(bool)
		if !ok {
			return Result{}, fmt.Errorf("rule %s did not return bool", e.rules[i].Name)
		}
		if !matched {
			continue
		}
		result.Matched = append(result.Matched, e.rules[i].Name)
		if result.Rule == "" || MoreSevere(e.rules[i].Action, result.Action) {
			result.Action = e.rules[i].Action
			result.Rule = e.rules[i].Name
		}
	}
	return result, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
