package decision

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"kycflow/internal/findings"
	"kycflow/internal/lifetime"
	"kycflow/internal/rules"
	"kycflow/internal/vendor"
	"kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/requestcontext"
)

// =============================================================================
// Decision Commit Test Suite
// =============================================================================
// Justification: commit combines snapshot reads, rule evaluation and sandbox
// overrides; the precedence between them decides what a tenant sees.

type CommitSuite struct {
	suite.Suite
	ctx       context.Context
	ledger    *lifetime.Ledger
	seqnos    *lifetime.MemorySeqnos
	findings  *findings.InMemoryStore
	decisions *InMemoryStore
	metrics   *Metrics
	committer *Committer

	vault    domain.VaultID
	scoped   domain.ScopedVaultID
	workflow domain.WorkflowID
}

func TestCommitSuite(t *testing.T) {
	suite.Run(t, new(CommitSuite))
}

func (s *CommitSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	s.seqnos = lifetime.NewMemorySeqnos()
	s.ledger = lifetime.NewLedger(lifetime.NewInMemoryStore(), s.seqnos)
	s.findings = findings.NewInMemoryStore()
	s.decisions = NewInMemoryStore()
	s.metrics = NewMetrics(prometheus.NewRegistry())
	s.committer = NewCommitter(
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
	)
	s.vault = domain.VaultID(uuid.New())
	s.scoped = domain.ScopedVaultID(uuid.New())
	s.workflow = domain.WorkflowID(uuid.New())
}

func (s *CommitSuite) deps() Deps {
	return Deps{Ledger: s.ledger, Findings: s.findings, Decisions: s.decisions}
}

func (s *CommitSuite) record(kind findings.Kind, codes ...findings.ReasonCode) domain.VerificationResultID {
	seqno, err := s.ledger.NextSeqno(s.ctx)
	s.Require().NoError(err)
	result := domain.VerificationResultID(uuid.New())
	api := vendor.APIExperianPreciseID
	found := make([]findings.Finding, len(codes))
	for i, c := range codes {
		found[i] = findings.Finding{ReasonCode: c, VendorAPI: &api, ResultID: &result}
	}
	_, err = findings.Record(s.ctx, s.findings, findings.Scope{WorkflowID: s.workflow, ScopedVault: s.scoped}, kind, seqno, found)
	s.Require().NoError(err)
	return result
}

func (s *CommitSuite) evaluator(rs ...rules.Rule) rules.Evaluator {
	e, err := rules.NewCELEvaluator(rs)
	s.Require().NoError(err)
	return e
}

func (s *CommitSuite) input(e rules.Evaluator) Input {
	return Input{
		WorkflowID:  s.workflow,
		Flow:        "kyc",
		Vault:       s.vault,
		ScopedVault: s.scoped,
		Kinds:       []findings.Kind{findings.KindKYC, findings.KindAML},
		Evaluator:   e,
		AllowStepUp: true,
	}
}

func action(a rules.Action) *rules.Action {
	return &a
}

var ofacFails = rules.Rule{Name: "ofac_hit", Expr: `"watchlist_hit_ofac" in codes`, Action: rules.ActionFail}

func (s *CommitSuite) TestRulesDecide() {
	s.Run("matched rule fails the workflow and cites its results", func() {
		result := s.record(findings.KindAML, findings.CodeWatchlistHitOFAC)

		out, err := s.committer.Commit(s.ctx, s.deps(), s.input(s.evaluator(ofacFails)))
		s.Require().NoError(err)
		s.Equal(VerdictFail, out.Verdict)
		s.Require().NotNil(out.Decision)
		s.Equal("ofac_hit", out.Decision.RuleName)
		s.False(out.Decision.FixtureApplied)
		s.Equal([]domain.VerificationResultID{result}, out.Decision.ResultIDs)
		s.Equal(out.RuleSet.ID, out.Decision.RuleSetResultID)
		s.True(out.RuleSet.Executed)

		stored, err := s.decisions.GetByWorkflow(s.ctx, s.workflow)
		s.Require().NoError(err)
		s.Equal(out.Decision.ID, stored.ID)
		s.Equal(1.0, testutil.ToFloat64(s.metrics.Decisions.WithLabelValues("kyc", "fail")))
	})
}

func (s *CommitSuite) TestNoRulesPasses() {
	s.record(findings.KindKYC, findings.CodeSSNMatches)

	out, err := s.committer.Commit(s.ctx, s.deps(), s.input(nil))
	s.Require().NoError(err)
	s.Equal(VerdictPass, out.Verdict)
	s.False(out.RuleSet.Executed)
	s.Equal(rules.ActionPass, out.RuleSet.Action)
	s.Require().NotNil(out.Decision)
}

func (s *CommitSuite) TestSnapshotSeqno() {
	s.record(findings.KindKYC, findings.CodeSSNMatches)
	before, err := s.ledger.CurrentSeqno(s.ctx)
	s.Require().NoError(err)

	out, err := s.committer.Commit(s.ctx, s.deps(), s.input(nil))
	s.Require().NoError(err)
	s.Equal(before, out.SnapshotSeqno)
	s.Greater(out.RuleSet.Seqno, out.SnapshotSeqno)
	s.Equal(out.RuleSet.Seqno, out.Decision.Seqno)
}

func (s *CommitSuite) TestVaultDataReachesRules() {
	_, err := s.ledger.Create(s.ctx, s.vault, s.scoped, []lifetime.NewFact{{Kind: lifetime.KindEmail}})
	s.Require().NoError(err)

	in := s.input(s.evaluator(rules.Rule{
		Name:   "blocked_email",
		Expr:   `"id.email" in data && size(lists["blocked_domains"]) > 0`,
		Action: rules.ActionManualReview,
	}))
	in.Lists = map[string][]string{"blocked_domains": {"example.com"}}

	out, err := s.committer.Commit(s.ctx, s.deps(), in)
	s.Require().NoError(err)
	s.Equal(VerdictManualReview, out.Verdict)
}

func (s *CommitSuite) TestFixtureOverride() {
	s.Run("fixture replaces the rule verdict but rules still run", func() {
		s.SetupTest()
		s.record(findings.KindAML, findings.CodeWatchlistHitOFAC)
		in := s.input(s.evaluator(ofacFails))
		in.FixtureVerdict = action(rules.ActionPass)

		out, err := s.committer.Commit(s.ctx, s.deps(), in)
		s.Require().NoError(err)
		s.Equal(VerdictPass, out.Verdict)
		s.True(out.Decision.FixtureApplied)
		s.Equal(rules.ActionFail, out.RuleSet.Action)
		s.Equal("ofac_hit", out.RuleSet.RuleName)

		sets, err := s.decisions.ListRuleSetResults(s.ctx, s.workflow)
		s.Require().NoError(err)
		s.Len(sets, 1)
		s.Equal(1.0, testutil.ToFloat64(s.metrics.FixtureOverrides))
	})

	s.Run("fixture applies when rules did not execute", func() {
		s.SetupTest()
		in := s.input(nil)
		in.FixtureVerdict = action(rules.ActionFail)

		out, err := s.committer.Commit(s.ctx, s.deps(), in)
		s.Require().NoError(err)
		s.Equal(VerdictFail, out.Verdict)
		s.True(out.Decision.FixtureApplied)
	})

	s.Run("not executed wins over fixture when preferred", func() {
		s.SetupTest()
		in := s.input(nil)
		in.FixtureVerdict = action(rules.ActionFail)
		in.PreferNotExecuted = true

		out, err := s.committer.Commit(s.ctx, s.deps(), in)
		s.Require().NoError(err)
		s.Equal(VerdictPass, out.Verdict)
		s.False(out.Decision.FixtureApplied)
	})

	s.Run("preference is ignored when rules executed", func() {
		s.SetupTest()
		in := s.input(s.evaluator(ofacFails))
		in.FixtureVerdict = action(rules.ActionManualReview)
		in.PreferNotExecuted = true

		out, err := s.committer.Commit(s.ctx, s.deps(), in)
		s.Require().NoError(err)
		s.Equal(VerdictManualReview, out.Verdict)
		s.True(out.Decision.FixtureApplied)
	})
}

func (s *CommitSuite) TestStepUp() {
	stepUp := rules.Rule{Name: "address_mismatch_doc", Expr: `"address_does_not_match" in codes`, Action: rules.ActionStepUp}

	s.Run("step up writes no decision", func() {
		s.SetupTest()
		s.record(findings.KindKYC, findings.CodeAddressDoesNotMatch)

		out, err := s.committer.Commit(s.ctx, s.deps(), s.input(s.evaluator(stepUp)))
		s.Require().NoError(err)
		s.Equal(VerdictStepUp, out.Verdict)
		s.Nil(out.Decision)

		_, err = s.decisions.GetByWorkflow(s.ctx, s.workflow)
		s.Error(err)
		sets, err := s.decisions.ListRuleSetResults(s.ctx, s.workflow)
		s.Require().NoError(err)
		s.Len(sets, 1)
	})

	s.Run("step up after a document degrades to manual review", func() {
		s.SetupTest()
		s.record(findings.KindKYC, findings.CodeAddressDoesNotMatch)
		in := s.input(s.evaluator(stepUp))
		in.AllowStepUp = false

		out, err := s.committer.Commit(s.ctx, s.deps(), in)
		s.Require().NoError(err)
		s.Equal(VerdictManualReview, out.Verdict)
		s.Require().NotNil(out.Decision)
		s.Equal(VerdictManualReview, out.Decision.Verdict)
	})
}

func (s *CommitSuite) TestExactlyOnce() {
	_, err := s.committer.Commit(s.ctx, s.deps(), s.input(nil))
	s.Require().NoError(err)

	_, err = s.committer.Commit(s.ctx, s.deps(), s.input(nil))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *CommitSuite) TestExtraResultIDsAreMerged() {
	cited := s.record(findings.KindKYC, findings.CodeSSNMatches)
	silent := domain.VerificationResultID(uuid.New())
	in := s.input(nil)
	in.ResultIDs = []domain.VerificationResultID{cited, silent}

	out, err := s.committer.Commit(s.ctx, s.deps(), in)
	s.Require().NoError(err)
	s.Equal([]domain.VerificationResultID{cited, silent}, out.Decision.ResultIDs)
}

func TestVerdictFor(t *testing.T) {
	cases := map[rules.Action]Verdict{
		rules.ActionPass:         VerdictPass,
		rules.ActionFail:         VerdictFail,
		rules.ActionManualReview: VerdictManualReview,
		rules.ActionStepUp:       VerdictStepUp,
		"":                       VerdictPass,
	}
	for a, want := range cases {
		if got := VerdictFor(a); got != want {
			t.Errorf("VerdictFor(%q) = %q, want %q", a, got, want)
		}
	}
}
