// Package kyc is the person onboarding graph: authorize, call identity and
// watchlist vendors, decide, and collect a document when rules ask for one.
package kyc

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

var graph = workflow.NewGraph(workflow.KindKYC, workflow.StateDataCollection, workflow.StateComplete,
	workflow.Edge{From: workflow.StateDataCollection, Action: workflow.ActionAuthorize, To: []workflow.StateTag{workflow.StateVendorCalls}},
	workflow.Edge{From: workflow.StateVendorCalls, Action: workflow.ActionMakeVendorCalls, To: []workflow.StateTag{workflow.StateDecisioning}},
	workflow.Edge{From: workflow.StateDecisioning, Action: workflow.ActionMakeDecision, To: []workflow.StateTag{workflow.StateComplete, workflow.StateDocCollection}},
	workflow.Edge{From: workflow.StateDocCollection, Action: workflow.ActionDocCollected, To: []workflow.StateTag{workflow.StateDecisioning}},
)

// Graph returns the KYC transition table.
func Graph() *workflow.Graph { return graph }

type DataCollection struct{ workflow.Sealed }

type VendorCalls struct{ workflow.Sealed }

// Decisioning carries the document collected after a step-up, if any.
type Decisioning struct {
	workflow.Sealed
	DocumentID *domain.DocumentID
}

type DocCollection struct{ workflow.Sealed }

type Complete struct {
	workflow.Sealed
	Status     workflow.Status
	DecisionID *domain.DecisionID
}

func (DataCollection) Name() workflow.StateTag { return workflow.StateDataCollection }
func (VendorCalls) Name() workflow.StateTag    { return workflow.StateVendorCalls }
func (Decisioning) Name() workflow.StateTag    { return workflow.StateDecisioning }
func (DocCollection) Name() workflow.StateTag  { return workflow.StateDocCollection }
func (Complete) Name() workflow.StateTag       { return workflow.StateComplete }

func (DataCollection) DefaultAction() workflow.Action { return nil }
func (VendorCalls) DefaultAction() workflow.Action    { return workflow.MakeVendorCalls{} }
func (Decisioning) DefaultAction() workflow.Action    { return workflow.MakeDecision{} }
func (DocCollection) DefaultAction() workflow.Action  { return nil }
func (Complete) DefaultAction() workflow.Action       { return nil }

// Machine runs KYC workflows.
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
	case workflow.StateVendorCalls:
		return VendorCalls{}, nil
	case workflow.StateDecisioning:
		return Decisioning{DocumentID: wf.DocumentID}, nil
	case workflow.StateDocCollection:
		return DocCollection{}, nil
	case workflow.StateComplete:
		return Complete{Status: wf.Status, DecisionID: wf.DecisionID}, nil
	}
	return nil, workflow.UnknownState(wf)
}

func (m *Machine) Action(ctx context.Context, wf *workflow.Workflow, st workflow.State, action workflow.Action) (*workflow.Outcome, error) {
	switch s := st.(type) {
	case DataCollection:
		if a, ok := action.(workflow.Authorize); ok {
			return workflow.Run(ctx, m.engine, wf, a, workflow.AuthorizeStep(workflow.StateVendorCalls))
		}
	case VendorCalls:
		if a, ok := action.(workflow.MakeVendorCalls); ok {
			return workflow.Run(ctx, m.engine, wf, a, m.makeVendorCalls(wf))
		}
	case Decisioning:
		if a, ok := action.(workflow.MakeDecision); ok {
			return workflow.Run(ctx, m.engine, wf, a, m.makeDecision(wf, s))
		}
	case DocCollection:
		if a, ok := action.(workflow.DocCollected); ok {
			return workflow.Run(ctx, m.engine, wf, a, m.docCollected(wf, a))
		}
	}
	return nil, workflow.NotAccepted(st, action)
}

// collected is what a vendor step hands to its commit.
type collected struct {
	found map[findings.Kind][]findings.Finding
}

func (m *Machine) makeVendorCalls(wf *workflow.Workflow) workflow.Step[collected] {
	return workflow.Step[collected]{
		Execute: func(ctx context.Context) (collected, error) {
			settings, err := m.env.Settings(ctx, wf)
			if err != nil {
				return collected{}, err
			}
			intent, err := m.env.Intent(ctx, wf, verification.IntentOnboardingKYC)
			if err != nil {
				return collected{}, err
			}
			kinds := settings.KYCKinds()
			if len(kinds) == 0 {
				return collected{}, dErrors.New(dErrors.CodeInvalidInput, "tenant has no kyc vendors configured")
			}
			inputs := make([]waterfall.Input, len(kinds))
			for i, kind := range kinds {
				inputs[i] = waterfall.Input{
					IntentID: intent.ID,
					Kind:     kind,
					Vendors:  settings.Waterfall(kind),
					Request:  vendor.Request{Tenant: wf.Tenant, Vault: wf.Vault, ScopedVault: wf.ScopedVault},
				}
			}
			outcomes, err := m.env.Waterfall.RunAll(ctx, inputs)
			if err != nil {
				return collected{}, err
			}
			found, err := m.env.Collector.Collect(ctx, wf.Tenant, workflow.Sources(outcomes...), settings.IsMandatory)
			if err != nil {
				return collected{}, err
			}
			return collected{found: found}, nil
		},
		Commit: func(ctx context.Context, s workflow.Stores, wf *workflow.Workflow, out collected) (workflow.StateTag, error) {
			if err := record(ctx, s, wf, out.found); err != nil {
				return "", err
			}
			return workflow.StateDecisioning, nil
		},
	}
}

// makeDecision gathers tenant settings and cited results outside the
// transaction; the commit reads only storage.
func (m *Machine) makeDecision(wf *workflow.Workflow, st Decisioning) workflow.Step[decision.Input] {
	return workflow.Step[decision.Input]{
		Execute: func(ctx context.Context) (decision.Input, error) {
			settings, err := m.env.Settings(ctx, wf)
			if err != nil {
				return decision.Input{}, err
			}
			identity, err := m.env.Intent(ctx, wf, verification.IntentOnboardingKYC)
			if err != nil {
				return decision.Input{}, err
			}
			intents := []domain.DecisionIntentID{identity.ID}
			if st.DocumentID != nil {
				doc, err := m.env.Intent(ctx, wf, verification.IntentDocScan)
				if err != nil {
					return decision.Input{}, err
				}
				intents = append(intents, doc.ID)
			}
			results, err := m.env.SettledResults(ctx, intents...)
			if err != nil {
				return decision.Input{}, err
			}
			in := decision.Input{
				WorkflowID:  wf.ID,
				Flow:        string(workflow.KindKYC),
				Vault:       wf.Vault,
				ScopedVault: wf.ScopedVault,
				Kinds:       []findings.Kind{findings.KindKYC, findings.KindAML, findings.KindDocument},
				Evaluator:   settings.Evaluator,
				Lists:       settings.Lists,
				AllowStepUp: st.DocumentID == nil,
				ResultIDs:   results,
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
				return workflow.StateDocCollection, nil
			}
			id := out.Decision.ID
			wf.DecisionID = &id
			wf.Status = workflow.StatusForVerdict(out.Verdict)
			return workflow.StateComplete, nil
		},
	}
}

func (m *Machine) docCollected(wf *workflow.Workflow, a workflow.DocCollected) workflow.Step[collected] {
	return workflow.Step[collected]{
		Execute: func(ctx context.Context) (collected, error) {
			if a.DocumentID.IsNil() {
				return collected{}, dErrors.New(dErrors.CodeInvalidInput, "document ID is required")
			}
			settings, err := m.env.Settings(ctx, wf)
			if err != nil {
				return collected{}, err
			}
			intent, err := m.env.Intent(ctx, wf, verification.IntentDocScan)
			if err != nil {
				return collected{}, err
			}
			if err := m.sameDocument(ctx, intent.ID, a.DocumentID); err != nil {
				return collected{}, err
			}
			doc := a.DocumentID
			out, err := m.env.Waterfall.Run(ctx, waterfall.Input{
				IntentID: intent.ID,
				Kind:     vendor.KindDocument,
				Vendors:  settings.Waterfall(vendor.KindDocument),
				Request:  vendor.Request{Tenant: wf.Tenant, Vault: wf.Vault, ScopedVault: wf.ScopedVault, DocumentID: &doc},
			})
			if err != nil {
				return collected{}, err
			}
			found, err := m.env.Collector.Collect(ctx, wf.Tenant, workflow.Sources(out), settings.IsMandatory)
			if err != nil {
				return collected{}, err
			}
			return collected{found: found}, nil
		},
		Commit: func(ctx context.Context, s workflow.Stores, wf *workflow.Workflow, out collected) (workflow.StateTag, error) {
			if err := record(ctx, s, wf, out.found); err != nil {
				return "", err
			}
			doc := a.DocumentID
			wf.DocumentID = &doc
			return workflow.StateDecisioning, nil
		},
	}
}

// sameDocument refuses a document other than the one an earlier scan under
// the intent already settled on.
func (m *Machine) sameDocument(ctx context.Context, intentID domain.DecisionIntentID, doc domain.DocumentID) error {
	attempts, err := m.env.Verification.ListAttempts(ctx, intentID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "load document scan history")
	}
	for _, at := range attempts {
		scanned := at.Request.DocumentID
		if at.Succeeded() && scanned != nil && *scanned != doc {
			return dErrors.New(dErrors.CodeInvalidState,
				fmt.Sprintf("document %s was already scanned for this workflow", scanned.String()))
		}
	}
	return nil
}

// record writes one new group per kind under a single seqno.
func record(ctx context.Context, s workflow.Stores, wf *workflow.Workflow, found map[findings.Kind][]findings.Finding) error {
	if len(found) == 0 {
		return nil
	}
	seqno, err := s.Ledger.NextSeqno(ctx)
	if err != nil {
		return err
	}
	scope := findings.Scope{WorkflowID: wf.ID, ScopedVault: wf.ScopedVault}
	for _, kind := range findings.AllKinds() {
		f, ok := found[kind]
		if !ok {
			continue
		}
		if _, err := findings.Record(ctx, s.Findings, scope, kind, seqno, f); err != nil {
			return err
		}
	}
	return nil
}
