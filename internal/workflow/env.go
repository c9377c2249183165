package workflow

import (
	"context"
	"fmt"

	"kycflow/internal/decision"
	"kycflow/internal/findings"
	"kycflow/internal/lifetime"
	"kycflow/internal/tenant"
	"kycflow/internal/verification"
	"kycflow/internal/waterfall"
	"kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/requestcontext"
)

// Tenants resolves onboarding settings.
type Tenants interface {
	Get(ctx context.Context, id domain.TenantID) (*tenant.Settings, error)
}

// Waterfall runs vendor waterfalls.
type Waterfall interface {
	Run(ctx context.Context, in waterfall.Input) (waterfall.Outcome, error)
	RunAll(ctx context.Context, inputs []waterfall.Input) ([]waterfall.Outcome, error)
}

// Env is what machines use outside the commit transaction.
type Env struct {
	Tenants      Tenants
	Workflows    Store
	Verification verification.Store
	Waterfall    Waterfall
	Collector    *findings.Collector
	Committer    *decision.Committer
}

// Settings loads the tenant settings of wf.
func (env Env) Settings(ctx context.Context, wf *Workflow) (*tenant.Settings, error) {
	return env.Tenants.Get(ctx, wf.Tenant)
}

// Intent returns the decision intent of kind for wf.
func (env Env) Intent(ctx context.Context, wf *Workflow, kind verification.IntentKind) (*verification.DecisionIntent, error) {
	intent, err := env.Verification.GetOrCreateIntent(ctx, wf.ScopedVault, wf.ID, kind)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("load %s intent", kind))
	}
	return intent, nil
}

// SettledResults returns the latest successful, non-pending result of each
// vendor called under the given intents.
func (env Env) SettledResults(ctx context.Context, intents ...domain.DecisionIntentID) ([]domain.VerificationResultID, error) {
	var out []domain.VerificationResultID
	for _, id := range intents {
		attempts, err := env.Verification.ListAttempts(ctx, id)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load verification history")
		}
		latest := verification.LatestByVendor(attempts)
		for _, a := range attempts {
			l := latest[a.Request.VendorAPI]
			if l.Request.ID != a.Request.ID || !l.Succeeded() || l.Result.Pending {
				continue
			}
			out = append(out, l.Result.ID)
		}
	}
	return out, nil
}

// Sources turns settled waterfall outcomes into findings sources. Pending
// answers carry no findings yet and are skipped.
func Sources(outcomes ...waterfall.Outcome) []findings.Source {
	sources := make([]findings.Source, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Result.Pending {
			continue
		}
		sources = append(sources, findings.Source{
			API:       o.Result.API,
			RequestID: o.Result.RequestID,
			ResultID:  o.Result.ResultID,
			Payload:   o.Result.Payload,
		})
	}
	return sources
}

// AuthorizeStep records consent and moves to next. The data the scoped vault
// collected so far becomes portable under the commit's seqno.
func AuthorizeStep(next StateTag) Step[struct{}] {
	return Step[struct{}]{
		Execute: func(context.Context) (struct{}, error) {
			return struct{}{}, nil
		},
		Commit: func(ctx context.Context, s Stores, wf *Workflow, _ struct{}) (StateTag, error) {
			if err := portablizeCollected(ctx, s.Ledger, wf); err != nil {
				return "", err
			}
			now := requestcontext.Now(ctx)
			wf.AuthorizedAt = &now
			wf.Status = StatusPending
			return next, nil
		},
	}
}

func portablizeCollected(ctx context.Context, ledger *lifetime.Ledger, wf *Workflow) error {
	active, err := ledger.GetActive(ctx, wf.Vault, wf.ScopedVault)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "load collected data")
	}
	var ids []domain.DataLifetimeID
	for _, f := range active {
		if f.ScopedVault == wf.ScopedVault && f.PortablizedSeqno == nil {
			ids = append(ids, f.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if _, err := ledger.Portablize(ctx, ids); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "portablize collected data")
	}
	return nil
}

// NotAccepted is the error for an action the current state does not take.
func NotAccepted(st State, action Action) error {
	return dErrors.Wrap(ErrActionNotAccepted, dErrors.CodeInvalidState,
		fmt.Sprintf("%s does not accept %s", st.Name(), action.Name()))
}

// UnknownState is the error for a stored state tag a graph does not define.
func UnknownState(wf *Workflow) error {
	return dErrors.Wrap(ErrUnknownState, dErrors.CodeInvariantViolation,
		fmt.Sprintf("%s workflow in state %q", wf.Kind, wf.State))
}
