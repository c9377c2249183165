package waterfall

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"kycflow/internal/idempotency"
	"kycflow/internal/platform/sealing"
	"kycflow/internal/vendor"
	"kycflow/internal/mocks"
	"kycflow/internal/verification"
	"kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/requestcontext"
)

// =============================================================================
// Waterfall Protocol Test Suite
// =============================================================================
// Justification: the walk decides how many times a paid vendor is called.
// Every branch (fresh, dangling, failed, succeeded) and the first-attempt
// retry rule is pinned here with strict mocks so an extra call fails the test.

type WaterfallSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	store    *verification.InMemoryStore
	sealer   *sealing.Sealer
	experian *mocks.MockClient
	idology  *mocks.MockClient
	protocol *Protocol

	ctx    context.Context
	tenant domain.TenantID
	vault  domain.ScopedVaultID
	intent *verification.DecisionIntent
}

func TestWaterfallSuite(t *testing.T) {
	suite.Run(t, new(WaterfallSuite))
}

func (s *WaterfallSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = verification.NewInMemoryStore()

	sealer, err := sealing.New(make([]byte, 32))
	s.Require().NoError(err)
	s.sealer = sealer

	s.experian = mocks.NewMockClient(s.ctrl)
	s.experian.EXPECT().API().Return(vendor.APIExperianPreciseID).AnyTimes()
	s.idology = mocks.NewMockClient(s.ctrl)
	s.idology.EXPECT().API().Return(vendor.APIIdologyExpectID).AnyTimes()

	registry, err := vendor.NewRegistry(s.experian, s.idology)
	s.Require().NoError(err)

	s.protocol = New(s.store, s.store, registry, s.sealer,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(NewMetrics(nil)),
		WithGuard(idempotency.NewMemoryGuard(), time.Minute),
	)

	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	s.tenant = domain.TenantID(uuid.New())
	s.vault = domain.ScopedVaultID(uuid.New())
	s.intent, err = s.store.GetOrCreateIntent(s.ctx, s.vault, domain.WorkflowID(uuid.New()), verification.IntentOnboardingKYC)
	s.Require().NoError(err)
}

func (s *WaterfallSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *WaterfallSuite) input() Input {
	return Input{
		IntentID: s.intent.ID,
		Kind:     vendor.KindKYC,
		Vendors:  []vendor.API{vendor.APIExperianPreciseID, vendor.APIIdologyExpectID},
		Request:  vendor.Request{Tenant: s.tenant, ScopedVault: s.vault},
	}
}

// seed writes a historical attempt. outcome is "ok", "error" or "" (no result).
func (s *WaterfallSuite) seed(api vendor.API, outcome string) verification.Attempt {
	req := &verification.Request{
		ID:          domain.VerificationRequestID(domain.NewTimeOrderedID()),
		IntentID:    s.intent.ID,
		VendorAPI:   api,
		ScopedVault: s.vault,
		Fingerprint: "seed",
		CreatedAt:   requestcontext.Now(s.ctx),
	}
	s.Require().NoError(s.store.CreateRequest(s.ctx, req))
	a := verification.Attempt{Request: *req}
	if outcome == "" {
		return a
	}
	res := &verification.Result{
		ID:        domain.VerificationResultID(uuid.New()),
		RequestID: req.ID,
		IsError:   outcome == "error",
		CreatedAt: requestcontext.Now(s.ctx),
	}
	if !res.IsError {
		res.Payload = []byte("prior")
	}
	s.Require().NoError(s.store.SaveResult(s.ctx, res))
	a.Result = res
	return a
}

func (s *WaterfallSuite) succeed(m *mocks.MockClient, payload string) *gomock.Call {
	return m.EXPECT().Call(gomock.Any(), gomock.Any()).Return(vendor.Response{Payload: []byte(payload)}, nil)
}

func (s *WaterfallSuite) fail(m *mocks.MockClient) *gomock.Call {
	return m.EXPECT().Call(gomock.Any(), gomock.Any()).
		Return(vendor.Response{}, vendor.NewError(vendor.ErrorOutage, vendor.APIExperianPreciseID, "down", nil))
}

func (s *WaterfallSuite) attempts() []verification.Attempt {
	attempts, err := s.store.ListAttempts(s.ctx, s.intent.ID)
	s.Require().NoError(err)
	return attempts
}

func (s *WaterfallSuite) TestFreshIntent() {
	s.Run("first vendor success stops the walk", func() {
		s.succeed(s.experian, `{"reason_codes":["ssn_matches"]}`).Times(1)

		out, err := s.protocol.Run(s.ctx, s.input())
		s.Require().NoError(err)

		s.Equal(1, out.Calls)
		s.Equal(vendor.APIExperianPreciseID, out.Result.API)
		s.Equal(vendor.KindKYC, out.Result.Kind)
		s.Len(s.attempts(), 1)
	})

	s.Run("re-invocation after success makes no calls", func() {
		out, err := s.protocol.Run(s.ctx, s.input())
		s.Require().NoError(err)

		s.Equal(0, out.Calls)
		s.Equal(vendor.APIExperianPreciseID, out.Result.API)
		s.Len(s.attempts(), 1)
	})
}

func (s *WaterfallSuite) TestPayloadIsSealed() {
	s.succeed(s.experian, "raw-vendor-body").Times(1)

	out, err := s.protocol.Run(s.ctx, s.input())
	s.Require().NoError(err)
	s.NotEqual([]byte("raw-vendor-body"), out.Result.Payload)

	plain, err := s.sealer.Open(s.tenant, out.Result.Payload, []byte(out.Result.RequestID.String()))
	s.Require().NoError(err)
	s.Equal([]byte("raw-vendor-body"), plain)
}

func (s *WaterfallSuite) TestFallback() {
	gomock.InOrder(
		s.fail(s.experian).Times(1),
		s.succeed(s.idology, "ok").Times(1),
	)

	out, err := s.protocol.Run(s.ctx, s.input())
	s.Require().NoError(err)

	s.Equal(2, out.Calls)
	s.Equal(vendor.APIIdologyExpectID, out.Result.API)

	attempts := s.attempts()
	s.Require().Len(attempts, 2)
	s.True(attempts[0].Failed())
	s.True(attempts[1].Succeeded())
}

func (s *WaterfallSuite) TestPriorErrorRetriedOnFirstAttempt() {
	s.seed(vendor.APIExperianPreciseID, "error")
	s.succeed(s.experian, "ok").Times(1)

	out, err := s.protocol.Run(s.ctx, s.input())
	s.Require().NoError(err)

	s.Equal(1, out.Calls)
	s.Equal(vendor.APIExperianPreciseID, out.Result.API)
	s.Len(s.attempts(), 2)
}

func (s *WaterfallSuite) TestPriorErrorOnLaterVendorIsSkipped() {
	s.seed(vendor.APIIdologyExpectID, "error")
	s.fail(s.experian).Times(1)

	out, err := s.protocol.Run(s.ctx, s.input())
	s.Require().ErrorIs(err, ErrVendorRequestsFailed)
	s.Equal(1, out.Calls)
}

func (s *WaterfallSuite) TestDanglingRequestIsCalledAgain() {
	s.seed(vendor.APIExperianPreciseID, "")
	s.succeed(s.experian, "ok").Times(1)

	out, err := s.protocol.Run(s.ctx, s.input())
	s.Require().NoError(err)
	s.Equal(1, out.Calls)
	s.Len(s.attempts(), 2)
}

func (s *WaterfallSuite) TestExistingSuccessShortCircuits() {
	prior := s.seed(vendor.APIIdologyExpectID, "ok")

	out, err := s.protocol.Run(s.ctx, s.input())
	s.Require().NoError(err)

	s.Equal(0, out.Calls)
	s.Equal(prior.Result.ID, out.Result.ResultID)
	s.Equal([]byte("prior"), out.Result.Payload)
}

func (s *WaterfallSuite) TestExhaustion() {
	s.Run("fresh history calls each vendor once", func() {
		s.fail(s.experian).Times(1)
		s.fail(s.idology).Times(1)

		out, err := s.protocol.Run(s.ctx, s.input())
		s.Require().Error(err)
		s.ErrorIs(err, ErrVendorRequestsFailed)
		s.True(dErrors.HasCode(err, dErrors.CodeVendorFailure))
		s.Equal(2, out.Calls)
	})

	s.Run("second invocation retries the first vendor once then advances", func() {
		s.fail(s.experian).Times(1)

		out, err := s.protocol.Run(s.ctx, s.input())
		s.Require().ErrorIs(err, ErrVendorRequestsFailed)
		s.Equal(1, out.Calls)
		s.Len(s.attempts(), 3)
	})
}

func (s *WaterfallSuite) TestVendorTimeoutRecordsErrorResult() {
	s.protocol.callTimeout = 10 * time.Millisecond
	s.experian.EXPECT().Call(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ vendor.Request) (vendor.Response, error) {
			<-ctx.Done()
			return vendor.Response{}, ctx.Err()
		}).Times(1)
	s.succeed(s.idology, "ok").Times(1)

	out, err := s.protocol.Run(s.ctx, s.input())
	s.Require().NoError(err)
	s.Equal(vendor.APIIdologyExpectID, out.Result.API)

	attempts := s.attempts()
	s.Require().Len(attempts, 2)
	s.True(attempts[0].Failed())
	s.Nil(attempts[0].Result.Payload)
}

func (s *WaterfallSuite) TestPendingResult() {
	s.experian.EXPECT().Call(gomock.Any(), gomock.Any()).
		Return(vendor.Response{Payload: []byte("accepted"), Pending: true}, nil).Times(1)

	out, err := s.protocol.Run(s.ctx, s.input())
	s.Require().NoError(err)
	s.True(out.Result.Pending)

	again, err := s.protocol.Run(s.ctx, s.input())
	s.Require().NoError(err)
	s.True(again.Result.Pending)
	s.Equal(0, again.Calls)
}

func (s *WaterfallSuite) TestGuardRejectsConcurrentRun() {
	guard := idempotency.NewMemoryGuard()
	s.protocol.guard = guard
	release, err := guard.Acquire(s.ctx, idempotency.IntentKey(s.intent.ID, vendor.KindKYC), time.Minute)
	s.Require().NoError(err)
	defer release()

	_, err = s.protocol.Run(s.ctx, s.input())
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.Empty(s.attempts())
}

func (s *WaterfallSuite) TestValidation() {
	s.Run("empty vendor list", func() {
		in := s.input()
		in.Vendors = nil
		_, err := s.protocol.Run(s.ctx, in)
		s.ErrorIs(err, ErrNoVendors)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("unregistered vendor", func() {
		in := s.input()
		in.Vendors = []vendor.API{vendor.APISocureIDPlus}
		_, err := s.protocol.Run(s.ctx, in)
		s.True(errors.Is(err, vendor.ErrVendorNotRegistered))
	})
}

func (s *WaterfallSuite) TestRunAll() {
	s.succeed(s.experian, "kyc").Times(1)
	s.succeed(s.idology, "aml").Times(1)

	outs, err := s.protocol.RunAll(s.ctx, []Input{
		s.input(),
		{
			IntentID: s.intent.ID,
			Kind:     vendor.KindAML,
			Vendors:  []vendor.API{vendor.APIIdologyExpectID},
			Request:  vendor.Request{Tenant: s.tenant, ScopedVault: s.vault},
		},
	})
	s.Require().NoError(err)
	s.Require().Len(outs, 2)
	s.Equal(vendor.APIExperianPreciseID, outs[0].Result.API)
	s.Equal(vendor.APIIdologyExpectID, outs[1].Result.API)
	s.Equal(vendor.KindAML, outs[1].Result.Kind)
}
