package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"kycflow/internal/lifetime"
	"kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/platform/sentinel"
	"kycflow/pkg/requestcontext"
)

// Machine is the state machine of one workflow kind.
type Machine interface {
	Graph() *Graph
	// Init rebuilds the typed state of wf.
	Init(ctx context.Context, wf *Workflow) (State, error)
	// Action runs action against st and commits the transition.
	Action(ctx context.Context, wf *Workflow, st State, action Action) (*Outcome, error)
}

// StartParams identifies the subject of a new workflow.
type StartParams struct {
	Kind        Kind
	Tenant      domain.TenantID
	Vault       domain.VaultID
	ScopedVault domain.ScopedVaultID
}

// Service is the entry point for callers: webhook handlers, schedulers and
// operators.
type Service struct {
	store    Store
	tx       TxRunner
	machines map[Kind]Machine
	maxSteps int
	logger   *slog.Logger
}

type ServiceOption func(*Service)

func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithTx gives the service the transaction runner it records vault data with.
func WithTx(tx TxRunner) ServiceOption {
	return func(s *Service) {
		s.tx = tx
	}
}

// WithMaxSteps bounds how many default actions Advance runs in one call.
func WithMaxSteps(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxSteps = n
		}
	}
}

func NewService(store Store, machines []Machine, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		machines: make(map[Kind]Machine, len(machines)),
		maxSteps: 16,
		logger:   slog.Default(),
	}
	for _, m := range machines {
		s.machines[m.Graph().Kind()] = m
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start creates a workflow in the initial state of its graph.
func (s *Service) Start(ctx context.Context, p StartParams) (*Workflow, error) {
	m, err := s.machine(p.Kind)
	if err != nil {
		return nil, err
	}
	if p.Tenant.IsNil() || p.ScopedVault.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "tenant and scoped vault are required")
	}
	now := requestcontext.Now(ctx)
	wf := &Workflow{
		ID:          domain.WorkflowID(domain.NewTimeOrderedID()),
		Kind:        p.Kind,
		Tenant:      p.Tenant,
		Vault:       p.Vault,
		ScopedVault: p.ScopedVault,
		State:       m.Graph().Initial(),
		Status:      StatusNone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, wf); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create workflow")
	}
	s.logger.InfoContext(ctx, "workflow started",
		"workflow_id", wf.ID.String(),
		"workflow_kind", string(wf.Kind),
		"tenant_id", wf.Tenant.String(),
	)
	return wf, nil
}

// Get loads a workflow.
func (s *Service) Get(ctx context.Context, id domain.WorkflowID) (*Workflow, error) {
	wf, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "workflow not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load workflow")
	}
	return wf, nil
}

// Init returns the current typed state of a workflow.
func (s *Service) Init(ctx context.Context, id domain.WorkflowID) (*Workflow, State, error) {
	wf, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	m, err := s.machine(wf.Kind)
	if err != nil {
		return nil, nil, err
	}
	st, err := m.Init(ctx, wf)
	if err != nil {
		return nil, nil, err
	}
	return wf, st, nil
}

// Act runs one action against the current state of a workflow.
func (s *Service) Act(ctx context.Context, id domain.WorkflowID, action Action) (*Outcome, error) {
	ctx = requestcontext.Pin(ctx)
	wf, st, err := s.Init(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.machines[wf.Kind].Action(ctx, wf, st, action)
}

// Advance runs default actions until the workflow reaches a state that waits
// for an external event. It returns the transitions it made; on error the
// transitions made before it are still committed.
func (s *Service) Advance(ctx context.Context, id domain.WorkflowID) ([]Outcome, error) {
	var done []Outcome
	for range s.maxSteps {
		wf, st, err := s.Init(ctx, id)
		if err != nil {
			return done, err
		}
		action := st.DefaultAction()
		if action == nil {
			return done, nil
		}
		out, err := s.machines[wf.Kind].Action(requestcontext.Pin(ctx), wf, st, action)
		if err != nil {
			return done, err
		}
		done = append(done, *out)
	}
	return done, dErrors.New(dErrors.CodeInvariantViolation,
		fmt.Sprintf("workflow still advancing after %d steps", s.maxSteps))
}

// Collect records vault data gathered for the subject of a workflow. Kinds
// already on file for the scoped vault are superseded under the same seqno.
// The data stays private to the scoped vault until the workflow is authorized.
func (s *Service) Collect(ctx context.Context, id domain.WorkflowID, kinds []lifetime.Kind) ([]lifetime.DataLifetime, error) {
	if s.tx == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "service has no transaction runner")
	}
	facts := make([]lifetime.NewFact, 0, len(kinds))
	seen := make(map[lifetime.Kind]bool, len(kinds))
	for _, k := range kinds {
		if k == "" {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "data kind is empty")
		}
		if !seen[k] {
			seen[k] = true
			facts = append(facts, lifetime.NewFact{Kind: k})
		}
	}
	if len(facts) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "no data kinds to collect")
	}

	ctx = requestcontext.Pin(ctx)
	var created []lifetime.DataLifetime
	err := s.tx.RunInTx(ctx, func(ctx context.Context, st Stores) error {
		wf, err := st.Workflows.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if wf.AuthorizedAt != nil {
			return dErrors.New(dErrors.CodeInvalidState, "cannot collect data after authorization")
		}
		created, err = st.Ledger.Replace(ctx, wf.Vault, wf.ScopedVault, facts)
		return err
	})
	if err != nil {
		return nil, classifyCommitErr(err)
	}
	s.logger.InfoContext(ctx, "vault data collected",
		"workflow_id", id.String(),
		"kinds", len(created),
		"seqno", int64(created[0].CreatedSeqno),
	)
	return created, nil
}

// Link records a beneficial owner's KYC workflow under a business's KYB
// workflow.
func (s *Service) Link(ctx context.Context, business, owner domain.WorkflowID) error {
	parent, err := s.Get(ctx, business)
	if err != nil {
		return err
	}
	child, err := s.Get(ctx, owner)
	if err != nil {
		return err
	}
	if parent.Kind != KindKYB || child.Kind != KindKYC {
		return dErrors.New(dErrors.CodeInvalidInput, "beneficial owners link a kyc workflow under a kyb workflow")
	}
	if parent.Tenant != child.Tenant {
		return dErrors.New(dErrors.CodeInvalidInput, "linked workflows must belong to one tenant")
	}
	if err := s.store.Link(ctx, business, owner, requestcontext.Now(ctx)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "link beneficial owner")
	}
	return nil
}

func (s *Service) machine(kind Kind) (Machine, error) {
	m, ok := s.machines[kind]
	if !ok {
		return nil, dErrors.Wrap(ErrUnknownKind, dErrors.CodeInvalidInput, fmt.Sprintf("workflow kind %q", kind))
	}
	return m, nil
}
