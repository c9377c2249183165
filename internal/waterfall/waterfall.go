// Package waterfall calls an ordered list of vendors for one decision intent,
// stopping at the first success and reusing any history already persisted for
// that intent so a re-invocation never repeats a completed call.
package waterfall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"kycflow/internal/idempotency"
	"kycflow/internal/vendor"
	"kycflow/internal/verification"
	"kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/requestcontext"
)

var tracer = otel.Tracer("kycflow/internal/waterfall")

var (
	// ErrVendorRequestsFailed is returned when every listed vendor has failed.
	ErrVendorRequestsFailed = errors.New("vendor requests failed")
	ErrNoVendors            = errors.New("no vendors configured")
)

// Sealer encrypts a vendor payload for a tenant before it is stored.
type Sealer interface {
	Seal(tenant domain.TenantID, plaintext, aad []byte) ([]byte, error)
}

// Clients resolves a vendor API to its client.
type Clients interface {
	Get(api vendor.API) (vendor.Client, error)
}

// Input describes one waterfall run.
type Input struct {
	IntentID domain.DecisionIntentID
	Kind     vendor.Kind
	// Vendors is the tenant's ordered preference list for Kind.
	Vendors []vendor.API
	Request vendor.Request
}

// VendorResult is the successful answer the waterfall settled on.
type VendorResult struct {
	RequestID domain.VerificationRequestID
	ResultID  domain.VerificationResultID
	API       vendor.API
	Kind      vendor.Kind
	// Payload is sealed; open it with the tenant key and the request id as AAD.
	Payload []byte
	Pending bool
}

// Outcome reports the settled result and how many vendor calls this run made.
type Outcome struct {
	Result VendorResult
	Calls  int
}

// Protocol runs waterfalls against a verification store.
type Protocol struct {
	store   verification.Store
	aux     verification.TxRunner
	clients Clients
	sealer  Sealer
	guard   idempotency.Guard

	callTimeout time.Duration
	guardTTL    time.Duration
	logger      *slog.Logger
	metrics     *Metrics
}

type Option func(*Protocol)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Protocol) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Protocol) {
		p.metrics = m
	}
}

// WithGuard serializes concurrent runs for the same intent and kind.
func WithGuard(g idempotency.Guard, ttl time.Duration) Option {
	return func(p *Protocol) {
		p.guard = g
		p.guardTTL = ttl
	}
}

func WithCallTimeout(d time.Duration) Option {
	return func(p *Protocol) {
		p.callTimeout = d
	}
}

// New constructs a Protocol. store is read for history; aux scopes the short
// transactions that record each request and its result.
func New(store verification.Store, aux verification.TxRunner, clients Clients, sealer Sealer, opts ...Option) *Protocol {
	p := &Protocol{
		store:       store,
		aux:         aux,
		clients:     clients,
		sealer:      sealer,
		callTimeout: 30 * time.Second,
		guardTTL:    2 * time.Minute,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run walks in.Vendors in order and returns the first success.
//
// A vendor whose latest attempt has no result is called again. A vendor whose
// latest attempt failed is retried only if this run has not called any vendor
// yet; otherwise the walk moves on. A success anywhere in the history ends
// the run without calls.
func (p *Protocol) Run(ctx context.Context, in Input) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "waterfall.Run", trace.WithAttributes(
		attribute.String("decision_intent_id", in.IntentID.String()),
		attribute.String("vendor_kind", string(in.Kind)),
	))
	defer span.End()

	out, err := p.run(ctx, in)
	span.SetAttributes(attribute.Int("vendor_calls", out.Calls))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (p *Protocol) run(ctx context.Context, in Input) (Outcome, error) {
	if len(in.Vendors) == 0 {
		return Outcome{}, dErrors.Wrap(ErrNoVendors, dErrors.CodeInvalidInput, fmt.Sprintf("waterfall for %s", in.Kind))
	}

	if p.guard != nil {
		release, err := p.guard.Acquire(ctx, idempotency.IntentKey(in.IntentID, in.Kind), p.guardTTL)
		if err != nil {
			if errors.Is(err, idempotency.ErrInFlight) {
				return Outcome{}, dErrors.Wrap(err, dErrors.CodeConflict, "waterfall already running")
			}
			return Outcome{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "acquire waterfall guard")
		}
		defer release()
	}

	attempts, err := p.store.ListAttempts(ctx, in.IntentID)
	if err != nil {
		return Outcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "load verification history")
	}
	latest := verification.LatestByVendor(attempts)

	for _, api := range in.Vendors {
		if a, ok := latest[api]; ok && a.Succeeded() {
			return Outcome{Result: toVendorResult(in.Kind, a)}, nil
		}
	}

	calls := 0
	for i := 0; i < len(in.Vendors); {
		api := in.Vendors[i]
		a, seen := latest[api]
		switch {
		case seen && a.Succeeded():
			return Outcome{Result: toVendorResult(in.Kind, a), Calls: calls}, nil
		case seen && a.Failed() && calls > 0:
			i++
			continue
		}

		if err := ctx.Err(); err != nil {
			return Outcome{Calls: calls}, dErrors.Wrap(err, dErrors.CodeTimeout, "waterfall canceled")
		}
		attempt, err := p.call(ctx, in, api)
		if err != nil {
			return Outcome{Calls: calls}, err
		}
		calls++
		latest[api] = *attempt
	}

	p.metrics.IncExhausted(string(in.Kind))
	p.logger.WarnContext(ctx, "vendor waterfall exhausted",
		"decision_intent_id", in.IntentID.String(),
		"vendor_kind", string(in.Kind),
		"vendor_calls", calls,
	)
	return Outcome{Calls: calls}, dErrors.Wrap(ErrVendorRequestsFailed, dErrors.CodeVendorFailure,
		fmt.Sprintf("all %s vendors failed", in.Kind))
}

type fingerprintInput struct {
	IntentID    string     `json:"decision_intent_id"`
	API         vendor.API `json:"vendor_api"`
	ScopedVault string     `json:"scoped_vault_id"`
	DocumentID  string     `json:"document_id,omitempty"`
}

// call records a request, calls the vendor and records the result. The result
// is saved on a context detached from the caller so a canceled run still
// leaves an error result rather than a dangling request.
func (p *Protocol) call(ctx context.Context, in Input, api vendor.API) (*verification.Attempt, error) {
	client, err := p.clients.Get(api)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "resolve vendor client")
	}

	fpIn := fingerprintInput{
		IntentID:    in.IntentID.String(),
		API:         api,
		ScopedVault: in.Request.ScopedVault.String(),
	}
	if in.Request.DocumentID != nil {
		fpIn.DocumentID = in.Request.DocumentID.String()
	}
	fingerprint, err := idempotency.Fingerprint(fpIn)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "fingerprint vendor request")
	}

	req := &verification.Request{
		ID:          domain.VerificationRequestID(domain.NewTimeOrderedID()),
		IntentID:    in.IntentID,
		VendorAPI:   api,
		ScopedVault: in.Request.ScopedVault,
		DocumentID:  in.Request.DocumentID,
		Fingerprint: fingerprint,
		CreatedAt:   requestcontext.Now(ctx),
	}
	if err := p.aux.RunInTx(ctx, func(s verification.Store) error {
		return s.CreateRequest(ctx, req)
	}); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "record verification request")
	}

	callCtx, span := tracer.Start(ctx, "vendor.Call", trace.WithAttributes(
		attribute.String("vendor_api", string(api)),
		attribute.String("verification_request_id", req.ID.String()),
	))
	callCtx, cancel := context.WithTimeout(callCtx, p.callTimeout)
	start := time.Now()
	resp, callErr := client.Call(callCtx, in.Request)
	elapsed := time.Since(start)
	cancel()

	res := &verification.Result{
		ID:        domain.VerificationResultID(domain.NewTimeOrderedID()),
		RequestID: req.ID,
	}
	if callErr != nil {
		verr := vendor.Classify(api, callErr)
		res.IsError = true
		span.RecordError(verr)
		span.SetStatus(codes.Error, string(verr.Category))
		p.metrics.ObserveCall(string(api), string(verr.Category), elapsed)
		p.logger.WarnContext(ctx, "vendor call failed",
			"vendor_api", string(api),
			"verification_request_id", req.ID.String(),
			"category", string(verr.Category),
			"retryable", verr.Retryable,
			"error", verr.Error(),
		)
	} else {
		sealed, err := p.sealer.Seal(in.Request.Tenant, resp.Payload, []byte(req.ID.String()))
		if err != nil {
			span.End()
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "seal vendor payload")
		}
		res.Payload = sealed
		res.Pending = resp.Pending
		outcome := "success"
		if resp.Pending {
			outcome = "pending"
		}
		p.metrics.ObserveCall(string(api), outcome, elapsed)
	}
	span.End()

	saveCtx := context.WithoutCancel(ctx)
	res.CreatedAt = requestcontext.Now(saveCtx)
	if err := p.aux.RunInTx(saveCtx, func(s verification.Store) error {
		return s.SaveResult(saveCtx, res)
	}); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "record verification result")
	}
	return &verification.Attempt{Request: *req, Result: res}, nil
}

func toVendorResult(kind vendor.Kind, a verification.Attempt) VendorResult {
	return VendorResult{
		RequestID: a.Request.ID,
		ResultID:  a.Result.ID,
		API:       a.Request.VendorAPI,
		Kind:      kind,
		Payload:   a.Result.Payload,
		Pending:   a.Result.Pending,
	}
}

// RunAll runs one waterfall per input concurrently and returns the outcomes in
// input order. The first failure cancels the rest.
func (p *Protocol) RunAll(ctx context.Context, inputs []Input) ([]Outcome, error) {
	outcomes := make([]Outcome, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	for i, in := range inputs {
		g.Go(func() error {
			out, err := p.Run(gctx, in)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}
