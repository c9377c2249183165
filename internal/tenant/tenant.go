// Package tenant resolves per-tenant onboarding settings: vendor waterfalls,
// sandbox behaviour and rule sets.
package tenant

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"kycflow/internal/platform/config"
	"kycflow/internal/rules"
	"kycflow/internal/vendor"
	"kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
)

// Settings is the validated onboarding configuration of one tenant.
//
// Invariants:
//   - each waterfall lists vendor APIs of its own kind, without duplicates
//   - FixtureVerdict, when set, is a known rule action
type Settings struct {
	ID      domain.TenantID
	Name    string
	Sandbox bool
	SkipKYB bool
	// FixtureVerdict overrides the rule outcome for sandbox onboarding.
	FixtureVerdict *rules.Action

	Waterfalls map[vendor.Kind][]vendor.API
	Mandatory  map[vendor.Kind]bool
	RateLimits map[vendor.API]config.RateLimit
	Evaluator  rules.Evaluator
	Lists      map[string][]string
}

// Waterfall returns the ordered vendor APIs to try for kind. Sandbox tenants
// always get the fixture vendor.
func (s *Settings) Waterfall(kind vendor.Kind) []vendor.API {
	if s.Sandbox {
		return []vendor.API{vendor.FixtureFor(kind)}
	}
	return slices.Clone(s.Waterfalls[kind])
}

// IsMandatory reports whether decisions require usable findings of kind.
func (s *Settings) IsMandatory(kind vendor.Kind) bool {
	return s.Mandatory[kind]
}

// KYCKinds lists the vendor kinds run during person onboarding, in a stable order.
func (s *Settings) KYCKinds() []vendor.Kind {
	var out []vendor.Kind
	for _, k := range []vendor.Kind{vendor.KindKYC, vendor.KindAML} {
		if s.Sandbox || len(s.Waterfalls[k]) > 0 {
			out = append(out, k)
		}
	}
	return out
}

// Registry holds settings for every configured tenant.
type Registry struct {
	tenants map[domain.TenantID]*Settings
}

// NewRegistry validates the tenant file and compiles each rule set.
func NewRegistry(file config.TenantFile) (*Registry, error) {
	r := &Registry{tenants: make(map[domain.TenantID]*Settings, len(file.Tenants))}
	for _, entry := range file.Tenants {
		s, err := newSettings(entry)
		if err != nil {
			return nil, err
		}
		if _, exists := r.tenants[s.ID]; exists {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "duplicate tenant "+entry.ID)
		}
		r.tenants[s.ID] = s
	}
	return r, nil
}

// Get returns the settings of a tenant.
func (r *Registry) Get(_ context.Context, id domain.TenantID) (*Settings, error) {
	s, ok := r.tenants[id]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "tenant not configured")
	}
	return s, nil
}

// All returns every configured tenant ordered by name.
func (r *Registry) All() []*Settings {
	out := slices.Collect(maps.Values(r.tenants))
	slices.SortFunc(out, func(a, b *Settings) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}

func newSettings(entry config.TenantEntry) (*Settings, error) {
	id, err := domain.ParseTenantID(entry.ID)
	if err != nil {
		return nil, err
	}
	invalid := func(format string, args ...any) error {
		return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("tenant %s: ", entry.Name)+fmt.Sprintf(format, args...))
	}

	s := &Settings{
		ID:         id,
		Name:       entry.Name,
		Sandbox:    entry.Sandbox,
		SkipKYB:    entry.SkipKYB,
		Waterfalls: make(map[vendor.Kind][]vendor.API),
		Mandatory:  make(map[vendor.Kind]bool),
		RateLimits: make(map[vendor.API]config.RateLimit),
		Lists:      entry.Lists,
	}

	if entry.FixtureVerdict != "" {
		verdict, err := rules.ParseAction(entry.FixtureVerdict)
		if err != nil {
			return nil, invalid("%v", err)
		}
		s.FixtureVerdict = &verdict
	}

	for rawKind, apis := range entry.Waterfalls {
		kind, err := vendor.ParseKind(rawKind)
		if err != nil {
			return nil, invalid("%v", err)
		}
		seen := make(map[vendor.API]bool, len(apis))
		for _, raw := range apis {
			api, err := vendor.ParseAPI(raw)
			if err != nil {
				return nil, invalid("%v", err)
			}
			if api.Kind() != kind {
				return nil, invalid("vendor %s is not a %s vendor", api, kind)
			}
			if seen[api] {
				return nil, invalid("vendor %s listed twice in %s waterfall", api, kind)
			}
			seen[api] = true
			s.Waterfalls[kind] = append(s.Waterfalls[kind], api)
		}
	}

	for _, raw := range entry.MandatoryKinds {
		kind, err := vendor.ParseKind(raw)
		if err != nil {
			return nil, invalid("%v", err)
		}
		s.Mandatory[kind] = true
	}

	for raw, limit := range entry.VendorRateLimits {
		api, err := vendor.ParseAPI(raw)
		if err != nil {
			return nil, invalid("%v", err)
		}
		s.RateLimits[api] = limit
	}

	ruleSet := make([]rules.Rule, 0, len(entry.Rules))
	for _, r := range entry.Rules {
		action, err := rules.ParseAction(r.Action)
		if err != nil {
			return nil, invalid("%v", err)
		}
		ruleSet = append(ruleSet, rules.Rule{Name: r.Name, Expr: r.Expr, Action: action})
	}
	if len(ruleSet) == 0 {
		s.Evaluator = rules.NotExecuted{}
	} else {
		evaluator, err := rules.NewCELEvaluator(ruleSet)
		if err != nil {
			return nil, invalid("%v", err)
		}
		s.Evaluator = evaluator
	}
	return s, nil
}
