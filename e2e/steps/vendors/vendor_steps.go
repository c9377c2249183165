package vendors

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	UseSandbox(verdict string) error
	SkipKYB()
	SetVendorOutcome(api, outcome string) error
	VendorCalls(api string) (int, error)
}

// RegisterSteps registers tenant and vendor step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &vendorSteps{tc: tc}

	ctx.Step(`^a sandbox tenant$`, steps.sandboxTenant)
	ctx.Step(`^a sandbox tenant with fixture verdict "([^"]*)"$`, steps.sandboxTenantWithVerdict)
	ctx.Step(`^the tenant skips business verification$`, steps.skipKYB)
	ctx.Step(`^the "([^"]*)" vendor answers "([^"]*)"$`, steps.vendorAnswers)
	ctx.Step(`^the "([^"]*)" vendor was called (\d+) times?$`, steps.vendorWasCalled)
}

type vendorSteps struct {
	tc TestContext
}

func (s *vendorSteps) sandboxTenant(ctx context.Context) error {
	return s.tc.UseSandbox("")
}

func (s *vendorSteps) sandboxTenantWithVerdict(ctx context.Context, verdict string) error {
	return s.tc.UseSandbox(verdict)
}

func (s *vendorSteps) skipKYB(ctx context.Context) error {
	s.tc.SkipKYB()
	return nil
}

func (s *vendorSteps) vendorAnswers(ctx context.Context, api, outcome string) error {
	return s.tc.SetVendorOutcome(api, outcome)
}

func (s *vendorSteps) vendorWasCalled(ctx context.Context, api string, want int) error {
	got, err := s.tc.VendorCalls(api)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("expected %d calls to %s, got %d", want, api, got)
	}
	return nil
}
