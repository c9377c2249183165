package decision

import (
	"context"

	"kycflow/pkg/domain"
)

// Store persists rule set results and decisions.
type Store interface {
	SaveRuleSetResult(ctx context.Context, r *RuleSetResult) error
	// SaveDecision fails with sentinel.ErrConflict when the workflow already
	// has a decision.
	SaveDecision(ctx context.Context, d *Decision) error
	// GetByWorkflow returns sentinel.ErrNotFound when no decision exists.
	GetByWorkflow(ctx context.Context, workflowID domain.WorkflowID) (*Decision, error)
	ListRuleSetResults(ctx context.Context, workflowID domain.WorkflowID) ([]RuleSetResult, error)
}
