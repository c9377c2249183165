package e2e

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"kycflow/internal/decision"
	"kycflow/internal/findings"
	"kycflow/internal/platform/sealing"
	"kycflow/internal/rules"
	"kycflow/internal/storage"
	"kycflow/internal/tenant"
	"kycflow/internal/vendor"
	"kycflow/internal/waterfall"
	"kycflow/internal/workflow"
	"kycflow/internal/workflow/kyb"
	"kycflow/internal/workflow/kyc"
	"kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
)

var liveRules = []rules.Rule{
	{Name: "ofac_hit", Expr: `"watchlist_hit_ofac" in codes`, Action: rules.ActionFail},
	{Name: "address_mismatch", Expr: `"address_does_not_match" in codes`, Action: rules.ActionStepUp},
	{Name: "owner_failed", Expr: `"beneficial_owner_failed_kyc" in codes`, Action: rules.ActionFail},
	{Name: "tin_mismatch", Expr: `"tin_does_not_match" in codes`, Action: rules.ActionManualReview},
}

// TestContext holds one scenario's in-process deployment: memory storage,
// fixture vendors and a single tenant. Workflows are addressed by the names
// scenarios give them.
type TestContext struct {
	mem      *storage.Memory
	service  *workflow.Service
	settings *tenant.Settings

	mu       sync.Mutex
	outcomes map[vendor.API]vendor.FixtureOutcome
	calls    map[vendor.API]int

	workflows map[string]domain.WorkflowID
	lastErr   error
}

type tenants struct {
	tc *TestContext
}

func (t tenants) Get(_ context.Context, id domain.TenantID) (*tenant.Settings, error) {
	if id != t.tc.settings.ID {
		return nil, dErrors.New(dErrors.CodeNotFound, "tenant not configured")
	}
	return t.tc.settings, nil
}

// NewTestContext wires a fresh deployment for one scenario.
func NewTestContext() (*TestContext, error) {
	tc := &TestContext{
		mem:       storage.NewMemory(),
		outcomes:  make(map[vendor.API]vendor.FixtureOutcome),
		calls:     make(map[vendor.API]int),
		workflows: make(map[string]domain.WorkflowID),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sealer, err := sealing.New(bytes.Repeat([]byte{5}, 32))
	if err != nil {
		return nil, err
	}
	registry, err := vendor.NewRegistry(
		tc.client(vendor.APIFixtureKYC),
		tc.client(vendor.APIFixtureAML),
		tc.client(vendor.APIFixtureDocument),
		tc.client(vendor.APIFixtureKYB),
	)
	if err != nil {
		return nil, err
	}
	evaluator, err := rules.NewCELEvaluator(liveRules)
	if err != nil {
		return nil, err
	}
	tc.settings = &tenant.Settings{
		ID:   domain.TenantID(uuid.New()),
		Name: "e2e",
		Waterfalls: map[vendor.Kind][]vendor.API{
			vendor.KindKYC:      {vendor.APIFixtureKYC},
			vendor.KindAML:      {vendor.APIFixtureAML},
			vendor.KindDocument: {vendor.APIFixtureDocument},
			vendor.KindKYB:      {vendor.APIFixtureKYB},
		},
		Mandatory: map[vendor.Kind]bool{},
		Evaluator: evaluator,
	}

	env := workflow.Env{
		Tenants:      tenants{tc: tc},
		Workflows:    tc.mem.Workflows,
		Verification: tc.mem.Verification,
		Waterfall:    waterfall.New(tc.mem.Verification, tc.mem.VerificationTx(), registry, sealer, waterfall.WithLogger(logger)),
		Collector:    findings.NewCollector(sealer, nil, logger),
		Committer:    decision.NewCommitter(decision.WithLogger(logger)),
	}
	tc.service = workflow.NewService(tc.mem.Workflows, []workflow.Machine{
		kyc.New(env, tc.mem, workflow.WithLogger(logger)),
		kyb.New(env, tc.mem, workflow.WithLogger(logger)),
	}, workflow.WithServiceLogger(logger), workflow.WithTx(tc.mem))
	return tc, nil
}

func (tc *TestContext) client(api vendor.API) vendor.Client {
	return vendor.NewFixtureClient(api, vendor.WithOutcome(func(vendor.Request) vendor.FixtureOutcome {
		tc.mu.Lock()
		defer tc.mu.Unlock()
		tc.calls[api]++
		if o, ok := tc.outcomes[api]; ok {
			return o
		}
		return vendor.FixturePass
	}))
}

// UseSandbox switches the tenant to sandbox mode with an optional fixture verdict.
func (tc *TestContext) UseSandbox(verdict string) error {
	tc.settings.Sandbox = true
	if verdict == "" {
		return nil
	}
	a := rules.Action(verdict)
	switch a {
	case rules.ActionPass, rules.ActionFail, rules.ActionManualReview, rules.ActionStepUp:
		tc.settings.FixtureVerdict = &a
		return nil
	}
	return fmt.Errorf("unknown fixture verdict %q", verdict)
}

func (tc *TestContext) SkipKYB() {
	tc.settings.SkipKYB = true
	tc.settings.Evaluator = rules.NotExecuted{}
}

func (tc *TestContext) SetVendorOutcome(api, outcome string) error {
	a, err := vendor.ParseAPI(api)
	if err != nil {
		return err
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.outcomes[a] = vendor.FixtureOutcome(outcome)
	return nil
}

func (tc *TestContext) VendorCalls(api string) (int, error) {
	a, err := vendor.ParseAPI(api)
	if err != nil {
		return 0, err
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.calls[a], nil
}

func (tc *TestContext) Start(ctx context.Context, kind, name string) error {
	k, err := workflow.ParseKind(kind)
	if err != nil {
		return err
	}
	wf, err := tc.service.Start(ctx, workflow.StartParams{
		Kind:        k,
		Tenant:      tc.settings.ID,
		Vault:       domain.VaultID(uuid.New()),
		ScopedVault: domain.ScopedVaultID(uuid.New()),
	})
	if err != nil {
		return err
	}
	tc.workflows[name] = wf.ID
	return nil
}

func (tc *TestContext) Link(ctx context.Context, owner, business string) error {
	o, err := tc.id(owner)
	if err != nil {
		return err
	}
	b, err := tc.id(business)
	if err != nil {
		return err
	}
	return tc.service.Link(ctx, b, o)
}

// Act applies a named action and remembers its error for later assertions.
func (tc *TestContext) Act(ctx context.Context, name, action, arg string) error {
	id, err := tc.id(name)
	if err != nil {
		return err
	}
	a, err := workflow.ParseAction(action, arg)
	if err != nil {
		return err
	}
	_, tc.lastErr = tc.service.Act(ctx, id, a)
	return tc.lastErr
}

func (tc *TestContext) Advance(ctx context.Context, name string) error {
	id, err := tc.id(name)
	if err != nil {
		return err
	}
	_, tc.lastErr = tc.service.Advance(ctx, id)
	return tc.lastErr
}

func (tc *TestContext) Workflow(ctx context.Context, name string) (*workflow.Workflow, error) {
	id, err := tc.id(name)
	if err != nil {
		return nil, err
	}
	return tc.service.Get(ctx, id)
}

func (tc *TestContext) Decision(ctx context.Context, name string) (*decision.Decision, error) {
	id, err := tc.id(name)
	if err != nil {
		return nil, err
	}
	return tc.mem.Decisions.GetByWorkflow(ctx, id)
}

func (tc *TestContext) LastError() error {
	return tc.lastErr
}

func (tc *TestContext) id(name string) (domain.WorkflowID, error) {
	id, ok := tc.workflows[name]
	if !ok {
		return domain.WorkflowID{}, fmt.Errorf("no workflow named %q", name)
	}
	return id, nil
}
