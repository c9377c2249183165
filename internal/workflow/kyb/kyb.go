// Package kyb is the business onboarding graph. A business waits for the KYC
// workflows of its beneficial owners, then runs business vendors, which may
// answer asynchronously, and decides.
package kyb

import (
	"context"
	"fmt"

	"kycflow/internal/decision"
	"kycflow/internal/findings"
	"kycflow/internal/vendor"
	"kycflow/internal/verification"
	"kycflow/internal/waterfall"
	"kycflow/internal/workflow"
	"kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
)

var graph = workflow.NewGraph(workflow.KindKYB, workflow.StateDataCollection, workflow.StateComplete,
	workflow.Edge{From: workflow.StateDataCollection, Action: workflow.ActionAuthorize, To: []workflow.StateTag{workflow.StateAwaitingBoKyc}},
	workflow.Edge{From: workflow.StateAwaitingBoKyc, Action: workflow.ActionBoKycCompleted, To: []workflow.StateTag{workflow.StateVendorCalls, workflow.StateDecisioning}},
	workflow.Edge{From: workflow.StateVendorCalls, Action: workflow.ActionMakeVendorCalls, To: []workflow.StateTag{workflow.StateDecisioning, workflow.StateAwaitingAsyncVendors}},
	workflow.Edge{From: workflow.StateAwaitingAsyncVendors, Action: workflow.ActionAsyncVendorCallsCompleted, To: []workflow.StateTag{workflow.StateDecisioning}},
	workflow.Edge{From: workflow.StateDecisioning, Action: workflow.ActionMakeDecision, To: []workflow.StateTag{workflow.StateComplete}},
)

// Graph returns the KYB transition table.
func Graph() *workflow.Graph { return graph }

type DataCollection struct{ workflow.Sealed }

type AwaitingBoKyc struct{ workflow.Sealed }

type VendorCalls struct{ workflow.Sealed }

type AwaitingAsyncVendors struct{ workflow.Sealed }

type Decisioning struct{ workflow.Sealed }

type Complete struct {
	workflow.Sealed
	Status     workflow.Status
	DecisionID *domain.DecisionID
}

func (DataCollection) Name() workflow.StateTag       { return workflow.StateDataCollection }
func (AwaitingBoKyc) Name() workflow.StateTag        { return workflow.StateAwaitingBoKyc }
func (VendorCalls) Name() workflow.StateTag          { return workflow.StateVendorCalls }
func (AwaitingAsyncVendors) Name() workflow.StateTag { return workflow.StateAwaitingAsyncVendors }
func (Decisioning) Name() workflow.StateTag          { return workflow.StateDecisioning }
func (Complete) Name() workflow.StateTag             { return workflow.StateComplete }

func (DataCollection) DefaultAction() workflow.Action       { return nil }
func (AwaitingBoKyc) DefaultAction() workflow.Action        { return nil }
func (VendorCalls) DefaultAction() workflow.Action          { return workflow.MakeVendorCalls{} }
func (AwaitingAsyncVendors) DefaultAction() workflow.Action { return nil }
func (Decisioning) DefaultAction() workflow.Action          { return workflow.MakeDecision{} }
func (Complete) DefaultAction() workflow.Action             { return nil }

// Machine runs KYB workflows.
type Machine struct {
	env    workflow.Env
	engine *workflow.Engine
}

func New(env workflow.Env, tx workflow.TxRunner, opts ...workflow.Option) *Machine {
	return &Machine{env: env, engine: workflow.NewEngine(graph, tx, opts...)}
}

func (m *Machine) Graph() *workflow.Graph { return graph }

func (m *Machine) Init(_ context.Context, wf *workflow.Workflow) (workflow.State, error) {
	switch wf.State {
	case workflow.StateDataCollection:
		return DataCollection{}, nil
	case workflow.StateAwaitingBoKyc:
		return AwaitingBoKyc{}, nil
	case workflow.StateVendorCalls:
		return VendorCalls{}, nil
	case workflow.StateAwaitingAsyncVendors:
		return AwaitingAsyncVendors{}, nil
	case workflow.StateDecisioning:
		return Decisioning{}, nil
	case workflow.StateComplete:
		return Complete{Status: wf.Status, DecisionID: wf.DecisionID}, nil
	}
	return nil, workflow.UnknownState(wf)
}

func (m *Machine) Action(ctx context.Context, wf *workflow.Workflow, st workflow.State, action workflow.Action) (*workflow.Outcome, error) {
	switch st.(type) {
	case DataCollection:
		if a, ok := action.(workflow.Authorize); ok {
			return workflow.Run(ctx, m.engine, wf, a, workflow.AuthorizeStep(workflow.StateAwaitingBoKyc))
		}
	case AwaitingBoKyc:
		if a, ok := action.(workflow.BoKycCompleted); ok {
			return workflow.Run(ctx, m.engine, wf, a, m.boKycCompleted(wf))
		}
	case VendorCalls:
		if a, ok := action.(workflow.MakeVendorCalls); ok {
			return workflow.Run(ctx, m.engine, wf, a, m.makeVendorCalls(wf))
		}
	case AwaitingAsyncVendors:
		if a, ok := action.(workflow.AsyncVendorCallsCompleted); ok {
			return workflow.Run(ctx, m.engine, wf, a, m.asyncVendorCallsCompleted(wf, a))
		}
	case Decisioning:
		if a, ok := action.(workflow.MakeDecision); ok {
			return workflow.Run(ctx, m.engine, wf, a, m.makeDecision(wf))
		}
	}
	return nil, workflow.NotAccepted(st, action)
}

type ownerOutcome struct {
	anyFailed bool
	skipKYB   bool
}

// boKycCompleted reads the owners' KYC outcomes before the commit. A failed
// owner adds a signal to the business group; it does not end the workflow.
func (m *Machine) boKycCompleted(wf *workflow.Workflow) workflow.Step[ownerOutcome] {
	return workflow.Step[ownerOutcome]{
		Execute: func(ctx context.Context) (ownerOutcome, error) {
			settings, err := m.env.Settings(ctx, wf)
			if err != nil {
				return ownerOutcome{}, err
			}
			owners, err := m.env.Workflows.ListLinked(ctx, wf.ID)
			if err != nil {
				return ownerOutcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "load beneficial owners")
			}
			out := ownerOutcome{skipKYB: settings.SkipKYB}
			for _, owner := range owners {
				if owner.State != workflow.StateComplete {
					return ownerOutcome{}, dErrors.New(dErrors.CodeInvalidState,
						fmt.Sprintf("beneficial owner workflow %s is still in %s", owner.ID, owner.State))
				}
				if owner.Status == workflow.StatusFail {
					out.anyFailed = true
				}
			}
			return out, nil
		},
		Commit: func(ctx context.Context, s workflow.Stores, wf *workflow.Workflow, out ownerOutcome) (workflow.StateTag, error) {
			if out.anyFailed {
				found := []findings.Finding{{ReasonCode: findings.CodeBeneficialOwnerFailedKYC}}
				if err := appendKYB(ctx, s, wf, found); err != nil {
					return "", err
				}
			}
			if out.skipKYB {
				return workflow.StateDecisioning, nil
			}
			return workflow.StateVendorCalls, nil
		},
	}
}

type vendorAnswer struct {
	found   []findings.Finding
	pending bool
}

func (m *Machine) makeVendorCalls(wf *workflow.Workflow) workflow.Step[vendorAnswer] {
	return workflow.Step[vendorAnswer]{
		Execute: func(ctx context.Context) (vendorAnswer, error) {
			settings, err := m.env.Settings(ctx, wf)
			if err != nil {
				return vendorAnswer{}, err
			}
			intent, err := m.env.Intent(ctx, wf, verification.IntentOnboardingKYB)
			if err != nil {
				return vendorAnswer{}, err
			}
			out, err := m.env.Waterfall.Run(ctx, waterfall.Input{
				IntentID: intent.ID,
				Kind:     vendor.KindKYB,
				Vendors:  settings.Waterfall(vendor.KindKYB),
				Request:  vendor.Request{Tenant: wf.Tenant, Vault: wf.Vault, ScopedVault: wf.ScopedVault},
			})
			if err != nil {
				return vendorAnswer{}, err
			}
			if out.Result.Pending && !settings.Sandbox {
				return vendorAnswer{pending: true}, nil
			}
			found, err := m.env.Collector.Collect(ctx, wf.Tenant, workflow.Sources(out), settings.IsMandatory)
			if err != nil {
				return vendorAnswer{}, err
			}
			return vendorAnswer{found: found[findings.KindKYB]}, nil
		},
		Commit: func(ctx context.Context, s workflow.Stores, wf *workflow.Workflow, out vendorAnswer) (workflow.StateTag, error) {
			if out.pending {
				return workflow.StateAwaitingAsyncVendors, nil
			}
			if err := appendKYB(ctx, s, wf, out.found); err != nil {
				return "", err
			}
			return workflow.StateDecisioning, nil
		},
	}
}

// asyncVendorCallsCompleted reads the webhook-delivered result. The result
// must have been recorded under this workflow's KYB intent.
func (m *Machine) asyncVendorCallsCompleted(wf *workflow.Workflow, a workflow.AsyncVendorCallsCompleted) workflow.Step[vendorAnswer] {
	return workflow.Step[vendorAnswer]{
		Execute: func(ctx context.Context) (vendorAnswer, error) {
			settings, err := m.env.Settings(ctx, wf)
			if err != nil {
				return vendorAnswer{}, err
			}
			intent, err := m.env.Intent(ctx, wf, verification.IntentOnboardingKYB)
			if err != nil {
				return vendorAnswer{}, err
			}
			attempt, err := m.env.Verification.GetAttempt(ctx, a.ResultID)
			if err != nil {
				return vendorAnswer{}, dErrors.Wrap(err, dErrors.CodeNotFound, "load vendor result")
			}
			switch {
			case attempt.Request.IntentID != intent.ID:
				return vendorAnswer{}, dErrors.New(dErrors.CodeInvalidInput, "vendor result belongs to another workflow")
			case !attempt.Succeeded():
				return vendorAnswer{}, dErrors.New(dErrors.CodeInvalidInput, "vendor result is an error")
			case attempt.Result.Pending:
				return vendorAnswer{}, dErrors.New(dErrors.CodeInvalidInput, "vendor result is still pending")
			}
			found, err := m.env.Collector.Collect(ctx, wf.Tenant, []findings.Source{findings.SourceOf(*attempt)}, settings.IsMandatory)
			if err != nil {
				return vendorAnswer{}, err
			}
			return vendorAnswer{found: found[findings.KindKYB]}, nil
		},
		Commit: func(ctx context.Context, s workflow.Stores, wf *workflow.Workflow, out vendorAnswer) (workflow.StateTag, error) {
			if err := appendKYB(ctx, s, wf, out.found); err != nil {
				return "", err
			}
			return workflow.StateDecisioning, nil
		},
	}
}

func (m *Machine) makeDecision(wf *workflow.Workflow) workflow.Step[decision.Input] {
	return workflow.Step[decision.Input]{
		Execute: func(ctx context.Context) (decision.Input, error) {
			settings, err := m.env.Settings(ctx, wf)
			if err != nil {
				return decision.Input{}, err
			}
			intent, err := m.env.Intent(ctx, wf, verification.IntentOnboardingKYB)
			if err != nil {
				return decision.Input{}, err
			}
			results, err := m.env.SettledResults(ctx, intent.ID)
			if err != nil {
				return decision.Input{}, err
			}
			in := decision.Input{
				WorkflowID:        wf.ID,
				Flow:              string(workflow.KindKYB),
				Vault:             wf.Vault,
				ScopedVault:       wf.ScopedVault,
				Kinds:             []findings.Kind{findings.KindKYB},
				Evaluator:         settings.Evaluator,
				Lists:             settings.Lists,
				PreferNotExecuted: settings.SkipKYB,
				ResultIDs:         results,
			}
			if settings.Sandbox {
				in.FixtureVerdict = settings.FixtureVerdict
			}
			return in, nil
		},
		Commit: func(ctx context.Context, s workflow.Stores, wf *workflow.Workflow, in decision.Input) (workflow.StateTag, error) {
			out, err := m.env.Committer.Commit(ctx, s.DecisionDeps(), in)
			if err != nil {
				return "", err
			}
			if out.Decision == nil {
				return "", dErrors.New(dErrors.CodeInvariantViolation, "kyb decision produced no verdict")
			}
			id := out.Decision.ID
			wf.DecisionID = &id
			wf.Status = workflow.StatusForVerdict(out.Verdict)
			return workflow.StateComplete, nil
		},
	}
}

// appendKYB adds found to the business group without dropping earlier
// signals.
func appendKYB(ctx context.Context, s workflow.Stores, wf *workflow.Workflow, found []findings.Finding) error {
	seqno, err := s.Ledger.NextSeqno(ctx)
	if err != nil {
		return err
	}
	scope := findings.Scope{WorkflowID: wf.ID, ScopedVault: wf.ScopedVault}
	_, err = findings.AppendToLatest(ctx, s.Findings, scope, findings.KindKYB, seqno, found)
	return err
}
