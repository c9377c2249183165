package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
)

// =============================================================================
// CEL Evaluator Test Suite
// =============================================================================
// Justification: the decision commit trusts the evaluator to pick the most
// severe matched action and to report "not executed" distinctly from "pass".

type CELEvaluatorSuite struct {
	suite.Suite
	ctx context.Context
}

func TestCELEvaluatorSuite(t *testing.T) {
	suite.Run(t, new(CELEvaluatorSuite))
}

func (s *CELEvaluatorSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *CELEvaluatorSuite) evaluator(rules ...Rule) *CELEvaluator {
	e, err := NewCELEvaluator(rules)
	s.Require().NoError(err)
	return e
}

func (s *CELEvaluatorSuite) TestEvaluate() {
	e := s.evaluator(
		Rule{Name: "ssn_mismatch_review", Expr: `"ssn_does_not_match" in codes`, Action: ActionManualReview},
		Rule{Name: "ofac_hit", Expr: `"watchlist_hit_ofac" in codes`, Action: ActionFail},
		Rule{Name: "address_mismatch_doc", Expr: `"address_does_not_match" in codes`, Action: ActionStepUp},
		Rule{Name: "blocked_email", Expr: `"id.email" in data && size(lists["blocked"]) > 0`, Action: ActionFail},
	)

	s.Run("no match passes", func() {
		res, err := e.Evaluate(s.ctx, Input{Codes: []string{"ssn_matches"}})
		s.Require().NoError(err)
		s.Equal(ActionPass, res.Action)
		s.Empty(res.Rule)
	})

	s.Run("most severe match wins", func() {
		res, err := e.Evaluate(s.ctx, Input{Codes: []string{"ssn_does_not_match", "watchlist_hit_ofac", "address_does_not_match"}})
		s.Require().NoError(err)
		s.Equal(ActionFail, res.Action)
		s.Equal("ofac_hit", res.Rule)
		s.Equal([]string{"ssn_mismatch_review", "ofac_hit", "address_mismatch_doc"}, res.Matched)
	})

	s.Run("step up alone", func() {
		res, err := e.Evaluate(s.ctx, Input{Codes: []string{"address_does_not_match"}})
		s.Require().NoError(err)
		s.Equal(ActionStepUp, res.Action)
	})

	s.Run("lists and data are visible", func() {
		res, err := e.Evaluate(s.ctx, Input{
			DataKinds: []string{"id.email"},
			Lists:     map[string][]string{"blocked": {"x@example.com"}},
		})
		s.Require().NoError(err)
		s.Equal("blocked_email", res.Rule)
	})
}

func (s *CELEvaluatorSuite) TestNotExecuted() {
	_, err := s.evaluator().Evaluate(s.ctx, Input{})
	s.ErrorIs(err, ErrRulesNotExecuted)

	_, err = NotExecuted{}.Evaluate(s.ctx, Input{})
	s.ErrorIs(err, ErrRulesNotExecuted)
}

func (s *CELEvaluatorSuite) TestCompileErrors() {
	s.Run("non-boolean expression", func() {
		_, err := NewCELEvaluator([]Rule{{Name: "bad", Expr: `size(codes)`, Action: ActionFail}})
		s.Error(err)
	})

	s.Run("unknown variable", func() {
		_, err := NewCELEvaluator([]Rule{{Name: "bad", Expr: `"x" in nope`, Action: ActionFail}})
		s.Error(err)
	})

	s.Run("unknown action", func() {
		_, err := NewCELEvaluator([]Rule{{Name: "bad", Expr: `true`, Action: "explode"}})
		s.Error(err)
	})
}
