package workflow

import (
	"context"
	"time"

	"kycflow/internal/decision"
	"kycflow/internal/findings"
	"kycflow/internal/lifetime"
	"kycflow/internal/outbox"
	"kycflow/internal/verification"
	"kycflow/pkg/domain"
)

// Store persists workflows and the links between a business workflow and the
// KYC workflows of its beneficial owners.
type Store interface {
	Create(ctx context.Context, wf *Workflow) error
	// Get returns sentinel.ErrNotFound for unknown ids.
	Get(ctx context.Context, id domain.WorkflowID) (*Workflow, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id domain.WorkflowID) (*Workflow, error)
	Update(ctx context.Context, wf *Workflow) error
	Link(ctx context.Context, parent, child domain.WorkflowID, at time.Time) error
	ListLinked(ctx context.Context, parent domain.WorkflowID) ([]Workflow, error)
}

// Stores is every store a commit may touch, bound to one transaction.
type Stores struct {
	Workflows    Store
	Verification verification.Store
	Findings     findings.Store
	Ledger       *lifetime.Ledger
	Decisions    decision.Store
	Outbox       outbox.Store
}

// DecisionDeps returns the stores a decision commit reads and writes.
func (s Stores) DecisionDeps() decision.Deps {
	return decision.Deps{Ledger: s.Ledger, Findings: s.Findings, Decisions: s.Decisions}
}

// TxRunner runs fn in one transaction; fn must use the ctx it is given.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}
