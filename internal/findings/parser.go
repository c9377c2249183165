package findings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"kycflow/internal/vendor"
	"kycflow/internal/verification"
	"kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
)

// ErrMandatoryFindingsMissing is returned when a vendor of a mandatory kind
// produced a result that could not be read.
var ErrMandatoryFindingsMissing = errors.New("mandatory findings missing")

// ParseError reports a vendor payload that could not be turned into findings.
type ParseError struct {
	API vendor.API
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s payload: %v", e.API, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parser turns a decrypted vendor payload into findings. Implementations must
// be pure.
type Parser interface {
	Parse(ctx context.Context, api vendor.API, plaintext []byte) ([]ReasonCode, error)
}

// JSONParser reads payloads of the form {"reason_codes": [...]}.
type JSONParser struct{}

func (JSONParser) Parse(_ context.Context, api vendor.API, plaintext []byte) ([]ReasonCode, error) {
	var body struct {
		ReasonCodes *[]string `json:"reason_codes"`
	}
	if err := json.Unmarshal(plaintext, &body); err != nil {
		return nil, &ParseError{API: api, Err: err}
	}
	if body.ReasonCodes == nil {
		return nil, &ParseError{API: api, Err: errors.New("missing reason_codes")}
	}
	codes := make([]ReasonCode, 0, len(*body.ReasonCodes))
	for _, c := range *body.ReasonCodes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		codes = append(codes, ReasonCode(c))
	}
	return codes, nil
}

// Opener decrypts a sealed payload.
type Opener interface {
	Open(tenant domain.TenantID, sealed, aad []byte) ([]byte, error)
}

// Source is a stored vendor result to read findings from.
type Source struct {
	API       vendor.API
	RequestID domain.VerificationRequestID
	ResultID  domain.VerificationResultID
	Payload   []byte
}

// SourceOf builds a Source from a completed attempt.
func SourceOf(a verification.Attempt) Source {
	src := Source{API: a.Request.VendorAPI, RequestID: a.Request.ID}
	if a.Result != nil {
		src.ResultID = a.Result.ID
		src.Payload = a.Result.Payload
	}
	return src
}

// Collector opens and parses vendor results into findings grouped by kind.
type Collector struct {
	opener Opener
	parser Parser
	logger *slog.Logger
}

func NewCollector(opener Opener, parser Parser, logger *slog.Logger) *Collector {
	if parser == nil {
		parser = JSONParser{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{opener: opener, parser: parser, logger: logger}
}

// Collect reads every source. A source that fails to open or parse is logged
// and skipped, unless mandatory reports its vendor kind as mandatory, in which
// case Collect fails with ErrMandatoryFindingsMissing.
func (c *Collector) Collect(ctx context.Context, tenant domain.TenantID, sources []Source, mandatory func(vendor.Kind) bool) (map[Kind][]Finding, error) {
	out := make(map[Kind][]Finding)
	for _, src := range sources {
		codes, err := c.read(ctx, tenant, src)
		if err != nil {
			vendorKind := src.API.Kind()
			if mandatory != nil && mandatory(vendorKind) {
				return nil, dErrors.Wrap(fmt.Errorf("%w: %w", ErrMandatoryFindingsMissing, err),
					dErrors.CodeVendorFailure, fmt.Sprintf("unreadable %s result", vendorKind))
			}
			c.logger.WarnContext(ctx, "vendor result contributes no findings",
				"vendor_api", string(src.API),
				"verification_result_id", src.ResultID.String(),
				"error", err.Error(),
			)
			continue
		}
		kind := KindForVendor(src.API.Kind())
		api := src.API
		resultID := src.ResultID
		for _, code := range codes {
			out[kind] = append(out[kind], Finding{ReasonCode: code, VendorAPI: &api, ResultID: &resultID})
		}
		if _, ok := out[kind]; !ok {
			// an empty but readable answer still counts as a completed check
			out[kind] = []Finding{}
		}
	}
	return out, nil
}

func (c *Collector) read(ctx context.Context, tenant domain.TenantID, src Source) ([]ReasonCode, error) {
	plaintext, err := c.opener.Open(tenant, src.Payload, []byte(src.RequestID.String()))
	if err != nil {
		return nil, fmt.Errorf("open %s payload: %w", src.API, err)
	}
	return c.parser.Parse(ctx, src.API, plaintext)
}
