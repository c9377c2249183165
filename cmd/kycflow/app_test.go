package main

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycflow/internal/platform/config"
	"kycflow/internal/tenant"
	"kycflow/internal/vendor"
	"kycflow/internal/workflow"
	"kycflow/pkg/domain"
)

func TestVendorClients(t *testing.T) {
	tenants := []*tenant.Settings{
		{RateLimits: map[vendor.API]config.RateLimit{vendor.APIFixtureKYC: {RPS: 10, Burst: 2}}},
		{RateLimits: map[vendor.API]config.RateLimit{vendor.APIFixtureKYC: {RPS: 3, Burst: 1}}},
	}
	assert.Equal(t, map[vendor.API]config.RateLimit{vendor.APIFixtureKYC: {RPS: 3, Burst: 1}}, lowestRateLimits(tenants))

	registry, err := vendorClients(tenants)
	require.NoError(t, err)

	for _, kind := range []vendor.Kind{vendor.KindKYC, vendor.KindAML, vendor.KindDocument, vendor.KindKYB} {
		_, err := registry.Get(vendor.FixtureFor(kind))
		assert.NoError(t, err, kind)
	}
	aml, err := registry.Get(vendor.APIFixtureAML)
	require.NoError(t, err)
	assert.IsType(t, &vendor.Breaker{}, aml)
}

func TestPrintWorkflow(t *testing.T) {
	decisionID := domain.DecisionID(uuid.New())
	wf := &workflow.Workflow{
		ID:         domain.WorkflowID(uuid.New()),
		Kind:       workflow.KindKYC,
		State:      workflow.StateComplete,
		Status:     workflow.StatusPass,
		DecisionID: &decisionID,
		UpdatedAt:  time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	var buf bytes.Buffer
	require.NoError(t, printWorkflow(&buf, wf, []workflow.Outcome{
		{From: workflow.StateDecisioning, To: workflow.StateComplete, Action: workflow.ActionMakeDecision},
	}))

	var got workflowView
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "complete", got.State)
	assert.Equal(t, decisionID.String(), got.DecisionID)
	assert.Empty(t, got.DocumentID)
	assert.Equal(t, []stepView{{Action: "make_decision", From: "decisioning", To: "complete"}}, got.Steps)
}

func TestRunActionNeedsSomethingToDo(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"run-action", "--workflow", uuid.NewString(), "--log-format", "text"})

	err := cmd.Execute()
	assert.ErrorContains(t, err, "--action or --advance")
}

func TestRunActionRejectsUnknownAction(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"run-action", "--workflow", uuid.NewString(), "--action", "approve"})

	err := cmd.Execute()
	assert.ErrorContains(t, err, "unknown action")
}
