// Package decision records the verdict of a workflow. Commit reads a
// consistent snapshot of vault data and findings, runs the tenant's rules,
// applies sandbox overrides and writes the result exactly once.
package decision

import (
	"time"

	"kycflow/internal/lifetime"
	"kycflow/internal/rules"
	"kycflow/pkg/domain"
)

// Verdict is the outcome of a decision commit.
type Verdict string

const (
	VerdictPass         Verdict = "pass"
	VerdictFail         Verdict = "fail"
	VerdictManualReview Verdict = "manual_review"
	// VerdictStepUp asks for a document before deciding. It is never stored
	// as a Decision.
	VerdictStepUp Verdict = "step_up"
)

// VerdictFor maps a rule action onto a verdict.
func VerdictFor(a rules.Action) Verdict {
	switch a {
	case rules.ActionFail:
		return VerdictFail
	case rules.ActionManualReview:
		return VerdictManualReview
	case rules.ActionStepUp:
		return VerdictStepUp
	default:
		return VerdictPass
	}
}

// Terminal reports whether the verdict ends decisioning.
func (v Verdict) Terminal() bool {
	return v != VerdictStepUp
}

// RuleSetResult is the diagnostic record of one rule evaluation. One is
// written for every commit, including those whose outcome is overridden.
type RuleSetResult struct {
	ID         domain.DecisionID
	WorkflowID domain.WorkflowID
	Executed   bool
	Action     rules.Action
	RuleName   string
	Seqno      lifetime.Seqno
	CreatedAt  time.Time
}

// Decision is the verdict of record for a workflow.
type Decision struct {
	ID              domain.DecisionID
	WorkflowID      domain.WorkflowID
	RuleSetResultID domain.DecisionID
	Verdict         Verdict
	RuleName        string
	FixtureApplied  bool
	// ResultIDs are the verification results whose findings justified it.
	ResultIDs []domain.VerificationResultID
	Seqno     lifetime.Seqno
	CreatedAt time.Time
}
