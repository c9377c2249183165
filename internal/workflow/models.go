// Package workflow drives onboarding state machines. Each action runs in two
// phases: Execute performs external calls and must be safe to repeat; Commit
// runs under the workflow row lock, writes only to storage and names the next
// state.
package workflow

import (
	"fmt"
	"time"

	"kycflow/internal/decision"
	"kycflow/pkg/domain"
)

// Kind selects the state graph a workflow follows.
type Kind string

const (
	KindKYC Kind = "kyc"
	KindKYB Kind = "kyb"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindKYC, KindKYB:
		return k, nil
	}
	return "", fmt.Errorf("unknown workflow kind: %q", s)
}

// Status is the externally visible outcome of a workflow.
type Status string

const (
	StatusNone    Status = "none"
	StatusPending Status = "pending"
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
)

// StatusForVerdict maps a terminal verdict onto a workflow status. Manual
// review leaves the workflow pending until an operator resolves it.
func StatusForVerdict(v decision.Verdict) Status {
	switch v {
	case decision.VerdictPass:
		return StatusPass
	case decision.VerdictFail:
		return StatusFail
	default:
		return StatusPending
	}
}

// StateTag names a state. Tags are shared between graphs; each graph uses a
// subset.
type StateTag string

const (
	StateDataCollection       StateTag = "data_collection"
	StateVendorCalls          StateTag = "vendor_calls"
	StateDecisioning          StateTag = "decisioning"
	StateDocCollection        StateTag = "doc_collection"
	StateAwaitingBoKyc        StateTag = "awaiting_bo_kyc"
	StateAwaitingAsyncVendors StateTag = "awaiting_async_vendors"
	StateComplete             StateTag = "complete"
)

// Workflow is one onboarding attempt for one subject.
type Workflow struct {
	ID          domain.WorkflowID
	Kind        Kind
	Tenant      domain.TenantID
	Vault       domain.VaultID
	ScopedVault domain.ScopedVaultID
	State       StateTag
	Status      Status

	AuthorizedAt *time.Time
	DecisionID   *domain.DecisionID
	// DocumentID is set once a step-up document has been collected.
	DocumentID *domain.DocumentID

	CreatedAt time.Time
	UpdatedAt time.Time
}
