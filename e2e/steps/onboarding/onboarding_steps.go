package onboarding

import (
	"context"
	"errors"
	"fmt"

	"github.com/cucumber/godog"
	"github.com/google/uuid"

	"kycflow/internal/decision"
	"kycflow/internal/workflow"
	dErrors "kycflow/pkg/domain-errors"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	Start(ctx context.Context, kind, name string) error
	Link(ctx context.Context, owner, business string) error
	Act(ctx context.Context, name, action, arg string) error
	Advance(ctx context.Context, name string) error
	Workflow(ctx context.Context, name string) (*workflow.Workflow, error)
	Decision(ctx context.Context, name string) (*decision.Decision, error)
	LastError() error
}

// RegisterSteps registers workflow step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &onboardingSteps{tc: tc}

	// Lifecycle steps
	ctx.Step(`^a "([^"]*)" workflow "([^"]*)" is started$`, steps.start)
	ctx.Step(`^"([^"]*)" is a beneficial owner of "([^"]*)"$`, steps.link)
	ctx.Step(`^"([^"]*)" receives "([^"]*)"$`, steps.receive)
	ctx.Step(`^"([^"]*)" receives "([^"]*)" for a new document$`, steps.receiveDocument)
	ctx.Step(`^"([^"]*)" is sent "([^"]*)"$`, steps.send)
	ctx.Step(`^"([^"]*)" advances$`, steps.advance)
	ctx.Step(`^"([^"]*)" tries to advance$`, steps.tryAdvance)
	ctx.Step(`^"([^"]*)" completes onboarding$`, steps.completeOnboarding)

	// Assertion steps
	ctx.Step(`^"([^"]*)" is in state "([^"]*)"$`, steps.shouldBeInState)
	ctx.Step(`^"([^"]*)" is in state "([^"]*)" with status "([^"]*)"$`, steps.shouldBeInStateWithStatus)
	ctx.Step(`^it is refused with code "([^"]*)"$`, steps.shouldBeRefusedWith)
	ctx.Step(`^the decision for "([^"]*)" cites rule "([^"]*)"$`, steps.decisionCitesRule)
	ctx.Step(`^the decision for "([^"]*)" is "([^"]*)"$`, steps.decisionIs)
	ctx.Step(`^"([^"]*)" has no decision$`, steps.hasNoDecision)
}

type onboardingSteps struct {
	tc TestContext
}

func (s *onboardingSteps) start(ctx context.Context, kind, name string) error {
	return s.tc.Start(ctx, kind, name)
}

func (s *onboardingSteps) link(ctx context.Context, owner, business string) error {
	return s.tc.Link(ctx, owner, business)
}

func (s *onboardingSteps) receive(ctx context.Context, name, action string) error {
	return s.tc.Act(ctx, name, action, "")
}

func (s *onboardingSteps) receiveDocument(ctx context.Context, name, action string) error {
	return s.tc.Act(ctx, name, action, uuid.NewString())
}

// send applies an action that may be refused; a later step checks the result.
func (s *onboardingSteps) send(ctx context.Context, name, action string) error {
	var coded *dErrors.Error
	if err := s.tc.Act(ctx, name, action, ""); err != nil && !errors.As(err, &coded) {
		return err
	}
	return nil
}

func (s *onboardingSteps) advance(ctx context.Context, name string) error {
	return s.tc.Advance(ctx, name)
}

func (s *onboardingSteps) tryAdvance(ctx context.Context, name string) error {
	var coded *dErrors.Error
	if err := s.tc.Advance(ctx, name); err != nil && !errors.As(err, &coded) {
		return err
	}
	return nil
}

func (s *onboardingSteps) completeOnboarding(ctx context.Context, name string) error {
	if err := s.tc.Start(ctx, "kyc", name); err != nil {
		return err
	}
	if err := s.tc.Act(ctx, name, string(workflow.ActionAuthorize), ""); err != nil {
		return err
	}
	if err := s.tc.Advance(ctx, name); err != nil {
		return err
	}
	return s.shouldBeInState(ctx, name, string(workflow.StateComplete))
}

func (s *onboardingSteps) shouldBeInState(ctx context.Context, name, state string) error {
	wf, err := s.tc.Workflow(ctx, name)
	if err != nil {
		return err
	}
	if string(wf.State) != state {
		return fmt.Errorf("expected %s in state %s, got %s", name, state, wf.State)
	}
	return nil
}

func (s *onboardingSteps) shouldBeInStateWithStatus(ctx context.Context, name, state, status string) error {
	if err := s.shouldBeInState(ctx, name, state); err != nil {
		return err
	}
	wf, err := s.tc.Workflow(ctx, name)
	if err != nil {
		return err
	}
	if string(wf.Status) != status {
		return fmt.Errorf("expected %s with status %s, got %s", name, status, wf.Status)
	}
	return nil
}

func (s *onboardingSteps) shouldBeRefusedWith(ctx context.Context, code string) error {
	err := s.tc.LastError()
	if err == nil {
		return fmt.Errorf("expected refusal with code %s, but the last call succeeded", code)
	}
	if !dErrors.HasCode(err, dErrors.Code(code)) {
		return fmt.Errorf("expected code %s, got %s: %w", code, dErrors.CodeOf(err), err)
	}
	return nil
}

func (s *onboardingSteps) decisionCitesRule(ctx context.Context, name, rule string) error {
	d, err := s.tc.Decision(ctx, name)
	if err != nil {
		return err
	}
	if d.RuleName != rule {
		return fmt.Errorf("expected decision rule %q, got %q", rule, d.RuleName)
	}
	return nil
}

func (s *onboardingSteps) decisionIs(ctx context.Context, name, verdict string) error {
	d, err := s.tc.Decision(ctx, name)
	if err != nil {
		return err
	}
	if string(d.Verdict) != verdict {
		return fmt.Errorf("expected verdict %s, got %s", verdict, d.Verdict)
	}
	return nil
}

func (s *onboardingSteps) hasNoDecision(ctx context.Context, name string) error {
	if _, err := s.tc.Decision(ctx, name); err == nil {
		return fmt.Errorf("expected no decision for %s", name)
	}
	return nil
}
