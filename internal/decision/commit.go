package decision

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"kycflow/internal/findings"
	"kycflow/internal/lifetime"
	"kycflow/internal/rules"
	"kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/platform/sentinel"
	"kycflow/pkg/requestcontext"
)

// Deps are the transaction-scoped stores a commit reads and writes.
type Deps struct {
	Ledger    *lifetime.Ledger
	Findings  findings.Store
	Decisions Store
}

// Input describes one decision commit.
type Input struct {
	WorkflowID  domain.WorkflowID
	Flow        string
	Vault       domain.VaultID
	ScopedVault domain.ScopedVaultID
	// Kinds are the finding kinds the rules see, in order.
	Kinds     []findings.Kind
	Evaluator rules.Evaluator
	Lists     map[string][]string
	// FixtureVerdict replaces the rule outcome for sandbox tenants.
	FixtureVerdict *rules.Action
	// PreferNotExecuted lets a run without applicable rules win over
	// FixtureVerdict.
	PreferNotExecuted bool
	// AllowStepUp is false once a document has been collected; a step-up
	// outcome then becomes manual review.
	AllowStepUp bool
	// ResultIDs are extra verification results to cite, e.g. readable vendor
	// answers that produced no reason codes.
	ResultIDs []domain.VerificationResultID
}

// Outcome is what a commit wrote.
type Outcome struct {
	Verdict Verdict
	RuleSet RuleSetResult
	// Decision is nil when the verdict is a step-up.
	Decision      *Decision
	SnapshotSeqno lifetime.Seqno
}

// Committer runs the decision algorithm inside the caller's transaction. It
// performs no external I/O.
type Committer struct {
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Committer)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Committer) {
		c.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Committer) {
		c.metrics = m
	}
}

func NewCommitter(opts ...Option) *Committer {
	c := &Committer{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Commit samples the current seqno once, reads vault data active at that
// seqno and the latest findings, evaluates rules, applies any fixture
// override and records the result under a fresh seqno.
func (c *Committer) Commit(ctx context.Context, deps Deps, in Input) (*Outcome, error) {
	snapshot, err := deps.Ledger.CurrentSeqno(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "sample seqno")
	}
	facts, err := deps.Ledger.GetActiveAt(ctx, in.Vault, in.ScopedVault, snapshot)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "read vault snapshot")
	}
	latest, err := findings.Latest(ctx, deps.Findings, in.WorkflowID, in.Kinds...)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "read findings")
	}
	sets := make([]findings.Set, 0, len(latest))
	for _, kind := range in.Kinds {
		if set, ok := latest[kind]; ok {
			sets = append(sets, set)
		}
	}

	evaluator := in.Evaluator
	if evaluator == nil {
		evaluator = rules.NotExecuted{}
	}
	result, err := evaluator.Evaluate(ctx, rules.Input{
		Codes:     codeStrings(findings.Codes(sets...)),
		DataKinds: kindStrings(lifetime.Kinds(facts)),
		Lists:     in.Lists,
	})
	executed := true
	switch {
	case errors.Is(err, rules.ErrRulesNotExecuted):
		executed = false
		result = rules.Result{Action: rules.ActionPass}
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "evaluate rules")
	}

	verdict := VerdictFor(result.Action)
	fixtureApplied := false
	if in.FixtureVerdict != nil && (executed || !in.PreferNotExecuted) {
		verdict = VerdictFor(*in.FixtureVerdict)
		fixtureApplied = true
	}
	if verdict == VerdictStepUp && !in.AllowStepUp {
		verdict = VerdictManualReview
	}

	seqno, err := deps.Ledger.NextSeqno(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "stamp decision")
	}
	now := requestcontext.Now(ctx)

	ruleSet := RuleSetResult{
		ID:         domain.DecisionID(domain.NewTimeOrderedID()),
		WorkflowID: in.WorkflowID,
		Executed:   executed,
		Action:     result.Action,
		RuleName:   result.Rule,
		Seqno:      seqno,
		CreatedAt:  now,
	}
	if err := deps.Decisions.SaveRuleSetResult(ctx, &ruleSet); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "save rule set result")
	}

	out := &Outcome{Verdict: verdict, RuleSet: ruleSet, SnapshotSeqno: snapshot}
	if verdict.Terminal() {
		d := &Decision{
			ID:              domain.DecisionID(domain.NewTimeOrderedID()),
			WorkflowID:      in.WorkflowID,
			RuleSetResultID: ruleSet.ID,
			Verdict:         verdict,
			RuleName:        result.Rule,
			FixtureApplied:  fixtureApplied,
			ResultIDs:       mergeIDs(findings.ResultIDs(sets...), in.ResultIDs),
			Seqno:           seqno,
			CreatedAt:       now,
		}
		if err := deps.Decisions.SaveDecision(ctx, d); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return nil, dErrors.Wrap(err, dErrors.CodeConflict, "workflow already decided")
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "save decision")
		}
		out.Decision = d
	}

	c.metrics.IncrementDecision(in.Flow, verdict, fixtureApplied)
	c.logger.InfoContext(ctx, "decision committed",
		"workflow_id", in.WorkflowID.String(),
		"verdict", string(verdict),
		"rule", result.Rule,
		"rules_executed", executed,
		"fixture_applied", fixtureApplied,
		"snapshot_seqno", int64(snapshot),
		"seqno", int64(seqno),
	)
	return out, nil
}

func codeStrings(codes []findings.ReasonCode) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = string(c)
	}
	return out
}

func kindStrings(kinds []lifetime.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func mergeIDs(a, b []domain.VerificationResultID) []domain.VerificationResultID {
	out := slices.Clone(a)
	for _, id := range b {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
