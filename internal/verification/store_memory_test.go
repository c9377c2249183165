package verification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"kycflow/internal/vendor"
	"kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
	"kycflow/pkg/requestcontext"
)

// =============================================================================
// In-Memory Store Test Suite
// =============================================================================
// Justification: the waterfall reads history from this store, so attempt
// ordering and the one-result-per-request rule must hold in the memory backend
// exactly as they do in Postgres.

type InMemoryStoreSuite struct {
	suite.Suite
	store    *InMemoryStore
	ctx      context.Context
	vault    domain.ScopedVaultID
	workflow domain.WorkflowID
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	s.vault = domain.ScopedVaultID(uuid.New())
	s.workflow = domain.WorkflowID(uuid.New())
}

func (s *InMemoryStoreSuite) newRequest(intent *DecisionIntent, api vendor.API) *Request {
	req := &Request{
		ID:          domain.VerificationRequestID(uuid.New()),
		IntentID:    intent.ID,
		VendorAPI:   api,
		ScopedVault: s.vault,
		Fingerprint: "fp-" + string(api),
		CreatedAt:   requestcontext.Now(s.ctx),
	}
	s.Require().NoError(s.store.CreateRequest(s.ctx, req))
	return req
}

func (s *InMemoryStoreSuite) TestGetOrCreateIntent() {
	s.Run("same scope converges on one intent", func() {
		first, err := s.store.GetOrCreateIntent(s.ctx, s.vault, s.workflow, IntentOnboardingKYC)
		s.Require().NoError(err)
		second, err := s.store.GetOrCreateIntent(s.ctx, s.vault, s.workflow, IntentOnboardingKYC)
		s.Require().NoError(err)

		s.Equal(first.ID, second.ID)
	})

	s.Run("different kind gets its own intent", func() {
		kyc, err := s.store.GetOrCreateIntent(s.ctx, s.vault, s.workflow, IntentOnboardingKYC)
		s.Require().NoError(err)
		doc, err := s.store.GetOrCreateIntent(s.ctx, s.vault, s.workflow, IntentDocScan)
		s.Require().NoError(err)

		s.NotEqual(kyc.ID, doc.ID)
	})
}

func (s *InMemoryStoreSuite) TestAttempts() {
	intent, err := s.store.GetOrCreateIntent(s.ctx, s.vault, s.workflow, IntentOnboardingKYC)
	s.Require().NoError(err)

	first := s.newRequest(intent, vendor.APIExperianPreciseID)
	second := s.newRequest(intent, vendor.APIIdologyExpectID)
	res := &Result{
		ID:        domain.VerificationResultID(uuid.New()),
		RequestID: first.ID,
		IsError:   true,
		CreatedAt: requestcontext.Now(s.ctx),
	}
	s.Require().NoError(s.store.SaveResult(s.ctx, res))

	s.Run("listed in creation order with results attached", func() {
		attempts, err := s.store.ListAttempts(s.ctx, intent.ID)
		s.Require().NoError(err)
		s.Require().Len(attempts, 2)

		s.Equal(first.ID, attempts[0].Request.ID)
		s.True(attempts[0].Failed())
		s.Equal(second.ID, attempts[1].Request.ID)
		s.Nil(attempts[1].Result)
		s.False(attempts[1].Succeeded())
	})

	s.Run("second result for a request conflicts", func() {
		dup := *res
		dup.ID = domain.VerificationResultID(uuid.New())
		err := s.store.SaveResult(s.ctx, &dup)
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("result for unknown request is not found", func() {
		err := s.store.SaveResult(s.ctx, &Result{
			ID:        domain.VerificationResultID(uuid.New()),
			RequestID: domain.VerificationRequestID(uuid.New()),
		})
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("get attempt by result id", func() {
		a, err := s.store.GetAttempt(s.ctx, res.ID)
		s.Require().NoError(err)
		s.Equal(first.ID, a.Request.ID)
		s.Equal(res.ID, a.Result.ID)

		_, err = s.store.GetAttempt(s.ctx, domain.VerificationResultID(uuid.New()))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryStoreSuite) TestCheckpoint() {
	intent, err := s.store.GetOrCreateIntent(s.ctx, s.vault, s.workflow, IntentOnboardingKYC)
	s.Require().NoError(err)
	s.newRequest(intent, vendor.APIExperianPreciseID)

	restore := s.store.Checkpoint()
	s.newRequest(intent, vendor.APIIdologyExpectID)
	restore()

	attempts, err := s.store.ListAttempts(s.ctx, intent.ID)
	s.Require().NoError(err)
	s.Len(attempts, 1)
}

func (s *InMemoryStoreSuite) TestRunInTx() {
	intent, err := s.store.GetOrCreateIntent(s.ctx, s.vault, s.workflow, IntentOnboardingKYC)
	s.Require().NoError(err)

	s.Run("failed tx keeps rows a concurrent writer committed", func() {
		written := make(chan struct{})
		release := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- s.store.RunInTx(s.ctx, func(tx Store) error {
				req := &Request{
					ID:          domain.VerificationRequestID(uuid.New()),
					IntentID:    intent.ID,
					VendorAPI:   vendor.APIIdologyExpectID,
					ScopedVault: s.vault,
					CreatedAt:   requestcontext.Now(s.ctx),
				}
				if err := tx.CreateRequest(s.ctx, req); err != nil {
					return err
				}
				close(written)
				<-release
				return errors.New("vendor call aborted")
			})
		}()

		<-written
		committed := s.newRequest(intent, vendor.APIExperianPreciseID)
		close(release)
		s.Require().Error(<-done)

		attempts, err := s.store.ListAttempts(s.ctx, intent.ID)
		s.Require().NoError(err)
		s.Require().Len(attempts, 1)
		s.Equal(committed.ID, attempts[0].Request.ID)
	})

	s.Run("failed tx drops the intent it created", func() {
		other := domain.WorkflowID(uuid.New())
		var created domain.DecisionIntentID
		err := s.store.RunInTx(s.ctx, func(tx Store) error {
			in, err := tx.GetOrCreateIntent(s.ctx, s.vault, other, IntentDocScan)
			if err != nil {
				return err
			}
			created = in.ID
			return errors.New("abort")
		})
		s.Require().Error(err)

		again, err := s.store.GetOrCreateIntent(s.ctx, s.vault, other, IntentDocScan)
		s.Require().NoError(err)
		s.NotEqual(created, again.ID)
	})

	s.Run("failed tx drops its result but keeps the request it did not write", func() {
		req := s.newRequest(intent, vendor.APISocureIDPlus)
		err := s.store.RunInTx(s.ctx, func(tx Store) error {
			if err := tx.SaveResult(s.ctx, &Result{
				ID:        domain.VerificationResultID(uuid.New()),
				RequestID: req.ID,
				CreatedAt: requestcontext.Now(s.ctx),
			}); err != nil {
				return err
			}
			return errors.New("abort")
		})
		s.Require().Error(err)

		attempts, err := s.store.ListAttempts(s.ctx, intent.ID)
		s.Require().NoError(err)
		last := attempts[len(attempts)-1]
		s.Equal(req.ID, last.Request.ID)
		s.Nil(last.Result)
	})
}

func TestLatestByVendor(t *testing.T) {
	a := Attempt{Request: Request{VendorAPI: vendor.APIExperianPreciseID, Fingerprint: "old"}}
	b := Attempt{Request: Request{VendorAPI: vendor.APIIdologyExpectID}}
	c := Attempt{Request: Request{VendorAPI: vendor.APIExperianPreciseID, Fingerprint: "new"}}

	latest := LatestByVendor([]Attempt{a, b, c})
	if len(latest) != 2 {
		t.Fatalf("expected 2 vendors, got %d", len(latest))
	}
	if got := latest[vendor.APIExperianPreciseID].Request.Fingerprint; got != "new" {
		t.Fatalf("expected latest experian attempt, got %q", got)
	}
}
