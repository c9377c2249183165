package verification

import (
	"context"

	"kycflow/pkg/domain"
)

// Store persists decision intents and the request/result history under them.
type Store interface {
	// GetOrCreateIntent returns the intent for (scoped vault, workflow, kind),
	// creating it on first use. Concurrent callers converge on one row.
	GetOrCreateIntent(ctx context.Context, scopedVault domain.ScopedVaultID, workflowID domain.WorkflowID, kind IntentKind) (*DecisionIntent, error)
	CreateRequest(ctx context.Context, req *Request) error
	// SaveResult stores the single result of a request; a second result for
	// the same request is a conflict.
	SaveResult(ctx context.Context, res *Result) error
	// ListAttempts returns the intent's history in request creation order.
	ListAttempts(ctx context.Context, intentID domain.DecisionIntentID) ([]Attempt, error)
	// GetAttempt loads a result together with its request.
	GetAttempt(ctx context.Context, resultID domain.VerificationResultID) (*Attempt, error)
}

// TxRunner scopes a short auxiliary transaction over the store, used to save a
// vendor answer as soon as it arrives.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(Store) error) error
}
