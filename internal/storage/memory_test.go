package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"kycflow/internal/outbox"
	"kycflow/internal/vendor"
	"kycflow/internal/verification"
	"kycflow/internal/workflow"
	"kycflow/pkg/domain"
	"kycflow/pkg/requestcontext"
)

// =============================================================================
// Memory Transaction Runner Test Suite
// =============================================================================
// Justification: tests of the workflow engine rely on the memory runner to
// behave like a database transaction; a failed commit must leave nothing
// behind.

type MemorySuite struct {
	suite.Suite
	ctx context.Context
	mem *Memory
	wf  *workflow.Workflow
}

func TestMemorySuite(t *testing.T) {
	suite.Run(t, new(MemorySuite))
}

func (s *MemorySuite) SetupTest() {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), at)
	s.mem = NewMemory()
	s.wf = &workflow.Workflow{
		ID:          domain.WorkflowID(uuid.New()),
		Kind:        workflow.KindKYC,
		Tenant:      domain.TenantID(uuid.New()),
		ScopedVault: domain.ScopedVaultID(uuid.New()),
		State:       workflow.StateDataCollection,
		Status:      workflow.StatusNone,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	s.Require().NoError(s.mem.Workflows.Create(s.ctx, s.wf))
}

func (s *MemorySuite) TestRollback() {
	before, err := s.mem.Ledger().CurrentSeqno(s.ctx)
	s.Require().NoError(err)
	boom := errors.New("boom")

	err = s.mem.RunInTx(s.ctx, func(ctx context.Context, st workflow.Stores) error {
		locked, err := st.Workflows.GetForUpdate(ctx, s.wf.ID)
		s.Require().NoError(err)
		locked.State = workflow.StateVendorCalls
		s.Require().NoError(st.Workflows.Update(ctx, locked))

		event, err := outbox.NewEvent(s.wf.ID.String(), "workflow.transitioned", map[string]string{}, locked.UpdatedAt)
		s.Require().NoError(err)
		s.Require().NoError(st.Outbox.Append(ctx, event))

		_, err = st.Ledger.NextSeqno(ctx)
		s.Require().NoError(err)
		return boom
	})
	s.ErrorIs(err, boom)

	got, err := s.mem.Workflows.Get(s.ctx, s.wf.ID)
	s.Require().NoError(err)
	s.Equal(workflow.StateDataCollection, got.State)
	s.Empty(s.mem.Outbox.All())

	after, err := s.mem.Ledger().CurrentSeqno(s.ctx)
	s.Require().NoError(err)
	s.Greater(after, before, "seqnos issued inside a failed commit are not reused")
}

func (s *MemorySuite) TestCommit() {
	err := s.mem.RunInTx(s.ctx, func(ctx context.Context, st workflow.Stores) error {
		locked, err := st.Workflows.GetForUpdate(ctx, s.wf.ID)
		if err != nil {
			return err
		}
		locked.State = workflow.StateVendorCalls
		return st.Workflows.Update(ctx, locked)
	})
	s.Require().NoError(err)

	got, err := s.mem.Workflows.Get(s.ctx, s.wf.ID)
	s.Require().NoError(err)
	s.Equal(workflow.StateVendorCalls, got.State)
}

func (s *MemorySuite) TestVerificationSurvivesFailedCommit() {
	var intentID domain.DecisionIntentID
	err := s.mem.RunInTx(s.ctx, func(ctx context.Context, st workflow.Stores) error {
		err := s.mem.VerificationTx().RunInTx(ctx, func(v verification.Store) error {
			intent, err := v.GetOrCreateIntent(ctx, s.wf.ScopedVault, s.wf.ID, verification.IntentOnboardingKYC)
			if err != nil {
				return err
			}
			intentID = intent.ID
			return nil
		})
		s.Require().NoError(err)
		return errors.New("commit failed")
	})
	s.Require().Error(err)

	intent, err := s.mem.Verification.GetOrCreateIntent(s.ctx, s.wf.ScopedVault, s.wf.ID, verification.IntentOnboardingKYC)
	s.Require().NoError(err)
	s.Equal(intentID, intent.ID)
}

func (s *MemorySuite) TestOutboxRunnerRollsBack() {
	event, err := outbox.NewEvent("wf", "workflow.transitioned", map[string]string{}, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.mem.Outbox.Append(s.ctx, event))

	err = s.mem.OutboxTx().RunInTx(s.ctx, func(ctx context.Context, st outbox.Store) error {
		if err := st.MarkPublished(ctx, []uuid.UUID{event.ID}, time.Now()); err != nil {
			return err
		}
		return errors.New("publish failed")
	})
	s.Require().Error(err)

	events := s.mem.Outbox.All()
	s.Require().Len(events, 1)
	s.Nil(events[0].PublishedAt)
}

func (s *MemorySuite) TestFailedCommitKeepsConcurrentWrites() {
	updated := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.mem.RunInTx(s.ctx, func(ctx context.Context, st workflow.Stores) error {
			locked, err := st.Workflows.GetForUpdate(ctx, s.wf.ID)
			if err != nil {
				return err
			}
			locked.State = workflow.StateVendorCalls
			if err := st.Workflows.Update(ctx, locked); err != nil {
				return err
			}
			close(updated)
			<-release
			return errors.New("commit failed")
		})
	}()

	<-updated
	other := *s.wf
	other.ID = domain.WorkflowID(uuid.New())
	s.Require().NoError(s.mem.Workflows.Create(s.ctx, &other))
	event, err := outbox.NewEvent(other.ID.String(), "workflow.created", map[string]string{}, other.CreatedAt)
	s.Require().NoError(err)
	s.Require().NoError(s.mem.Outbox.Append(s.ctx, event))
	close(release)
	s.Require().Error(<-done)

	got, err := s.mem.Workflows.Get(s.ctx, s.wf.ID)
	s.Require().NoError(err)
	s.Equal(workflow.StateDataCollection, got.State)
	_, err = s.mem.Workflows.Get(s.ctx, other.ID)
	s.NoError(err, "workflow created during the failed commit survives its rollback")
	s.Len(s.mem.Outbox.All(), 1)
}

func (s *MemorySuite) TestFailedVerificationTxKeepsConcurrentAttempts() {
	intent, err := s.mem.Verification.GetOrCreateIntent(s.ctx, s.wf.ScopedVault, s.wf.ID, verification.IntentOnboardingKYC)
	s.Require().NoError(err)
	newRequest := func(api vendor.API) *verification.Request {
		return &verification.Request{
			ID:          domain.VerificationRequestID(uuid.New()),
			IntentID:    intent.ID,
			VendorAPI:   api,
			ScopedVault: s.wf.ScopedVault,
			CreatedAt:   requestcontext.Now(s.ctx),
		}
	}

	written := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.mem.VerificationTx().RunInTx(s.ctx, func(v verification.Store) error {
			if err := v.CreateRequest(s.ctx, newRequest(vendor.APIIdologyExpectID)); err != nil {
				return err
			}
			close(written)
			<-release
			return errors.New("vendor timed out")
		})
	}()

	<-written
	committed := newRequest(vendor.APIExperianPreciseID)
	err = s.mem.VerificationTx().RunInTx(s.ctx, func(v verification.Store) error {
		return v.CreateRequest(s.ctx, committed)
	})
	s.Require().NoError(err)
	close(release)
	s.Require().Error(<-done)

	attempts, err := s.mem.Verification.ListAttempts(s.ctx, intent.ID)
	s.Require().NoError(err)
	s.Require().Len(attempts, 1)
	s.Equal(committed.ID, attempts[0].Request.ID)
}
