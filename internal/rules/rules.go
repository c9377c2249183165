// Package rules evaluates a tenant's rule set against findings and vault data.
// The rest of the system consumes it only through Evaluator.
package rules

import (
	"context"
	"errors"
	"fmt"
)

// Action is what a matched rule asks for.
type Action string

const (
	ActionPass         Action = "pass"
	ActionFail         Action = "fail"
	ActionManualReview Action = "manual_review"
	ActionStepUp       Action = "step_up"
)

var severity = map[Action]int{
	ActionPass:         0,
	ActionStepUp:       1,
	ActionManualReview: 2,
	ActionFail:         3,
}

// ParseAction validates a configured action name.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if _, ok := severity[a]; !ok {
		return "", fmt.Errorf("unknown rule action: %q", s)
	}
	return a, nil
}

// MoreSevere reports whether a outranks b.
func MoreSevere(a, b Action) bool {
	return severity[a] > severity[b]
}

// ErrRulesNotExecuted is returned when no rule set applies to the input.
var ErrRulesNotExecuted = errors.New("rules not executed")

// Rule is one named predicate with the action it triggers.
type Rule struct {
	Name   string
	Expr   string
	Action Action
}

// Input is what rules can see.
type Input struct {
	// Codes are the reason codes of the latest findings.
	Codes []string
	// DataKinds are the kinds of vault data active at the decision seqno.
	DataKinds []string
	// Lists are tenant-managed lists (blocklists, allowlists) by name.
	Lists map[string][]string
}

// Result is the outcome of an evaluation.
type Result struct {
	Action Action
	// Rule names the rule that produced Action; empty when nothing matched.
	Rule string
	// Matched lists every matching rule in rule-set order.
	Matched []string
}

// Evaluator runs a rule set.
type Evaluator interface {
	Evaluate(ctx context.Context, in Input) (Result, error)
}

// NotExecuted is the evaluator for tenants without a rule set.
type NotExecuted struct{}

func (NotExecuted) Evaluate(context.Context, Input) (Result, error) {
	return Result{}, ErrRulesNotExecuted
}
