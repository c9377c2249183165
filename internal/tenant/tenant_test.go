package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"kycflow/internal/platform/config"
	"kycflow/internal/rules"
	"kycflow/internal/vendor"
	"kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
)

// =============================================================================
// Tenant Registry Test Suite
// =============================================================================
// Justification: waterfall order and fixture settings come straight from
// operator-edited YAML; invalid configs must be refused at load.

type RegistrySuite struct {
	suite.Suite
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

const acmeID = "7f1c1c1e-8a41-4b6e-9a55-0d8f3c1f2b10"

func acme() config.TenantEntry {
	return config.TenantEntry{
		ID:   acmeID,
		Name: "acme",
		Waterfalls: map[string][]string{
			"kyc": {"experian_precise_id", "idology_expect_id"},
			"aml": {"incode_watchlist"},
		},
		MandatoryKinds: []string{"kyc"},
		Rules: []config.RuleEntry{
			{Name: "ofac", Expr: `"watchlist_hit_ofac" in codes`, Action: "fail"},
		},
	}
}

func (s *RegistrySuite) TestValidConfig() {
	reg, err := NewRegistry(config.TenantFile{Tenants: []config.TenantEntry{acme()}})
	s.Require().NoError(err)

	id, _ := domain.ParseTenantID(acmeID)
	settings, err := reg.Get(context.Background(), id)
	s.Require().NoError(err)

	s.Equal([]vendor.API{vendor.APIExperianPreciseID, vendor.APIIdologyExpectID}, settings.Waterfall(vendor.KindKYC))
	s.Equal([]vendor.Kind{vendor.KindKYC, vendor.KindAML}, settings.KYCKinds())
	s.True(settings.IsMandatory(vendor.KindKYC))
	s.False(settings.IsMandatory(vendor.KindAML))
	s.IsType(&rules.CELEvaluator{}, settings.Evaluator)
	s.Nil(settings.FixtureVerdict)
}

func (s *RegistrySuite) TestSandbox() {
	entry := acme()
	entry.Sandbox = true
	entry.FixtureVerdict = "manual_review"
	entry.Rules = nil

	reg, err := NewRegistry(config.TenantFile{Tenants: []config.TenantEntry{entry}})
	s.Require().NoError(err)
	settings := reg.All()[0]

	s.Equal([]vendor.API{vendor.APIFixtureKYB}, settings.Waterfall(vendor.KindKYB))
	s.Equal(rules.ActionManualReview, *settings.FixtureVerdict)
	s.IsType(rules.NotExecuted{}, settings.Evaluator)
}

func (s *RegistrySuite) TestInvalidConfig() {
	cases := map[string]func(*config.TenantEntry){
		"vendor of wrong kind": func(e *config.TenantEntry) { e.Waterfalls["kyc"] = []string{"incode_watchlist"} },
		"duplicate vendor":     func(e *config.TenantEntry) { e.Waterfalls["kyc"] = []string{"experian_precise_id", "experian_precise_id"} },
		"unknown vendor":       func(e *config.TenantEntry) { e.Waterfalls["kyc"] = []string{"acme_magic"} },
		"unknown verdict":      func(e *config.TenantEntry) { e.FixtureVerdict = "maybe" },
		"bad rule":             func(e *config.TenantEntry) { e.Rules[0].Expr = "codes +" },
		"bad tenant id":        func(e *config.TenantEntry) { e.ID = "nope" },
	}
	for name, mutate := range cases {
		s.Run(name, func() {
			entry := acme()
			mutate(&entry)
			_, err := NewRegistry(config.TenantFile{Tenants: []config.TenantEntry{entry}})
			s.Error(err)
		})
	}

	s.Run("duplicate tenant", func() {
		_, err := NewRegistry(config.TenantFile{Tenants: []config.TenantEntry{acme(), acme()}})
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func (s *RegistrySuite) TestUnknownTenant() {
	reg, err := NewRegistry(config.TenantFile{})
	s.Require().NoError(err)
	_, err = reg.Get(context.Background(), domain.TenantID{})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
