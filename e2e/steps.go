package e2e

import (
	"github.com/cucumber/godog"

	"kycflow/e2e/steps/onboarding"
	"kycflow/e2e/steps/vendors"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Tenant and vendor scripting
	vendors.RegisterSteps(ctx, tc)

	// Workflow lifecycle and assertions
	onboarding.RegisterSteps(ctx, tc)
}
