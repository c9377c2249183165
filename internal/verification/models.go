package verification

import (
	"time"

	"kycflow/internal/vendor"
	"kycflow/pkg/domain"
)

// IntentKind names the purpose a group of vendor calls serves.
type IntentKind string

const (
	IntentOnboardingKYC IntentKind = "onboarding_kyc"
	IntentOnboardingKYB IntentKind = "onboarding_kyb"
	IntentDocScan       IntentKind = "doc_scan"
)

// DecisionIntent is the idempotency scope for vendor calls serving one purpose
// of one workflow. It is created once and never changes.
type DecisionIntent struct {
	ID          domain.DecisionIntentID
	Kind        IntentKind
	ScopedVault domain.ScopedVaultID
	WorkflowID  domain.WorkflowID
	CreatedAt   time.Time
}

// Request records one attempted call to one vendor API. It is written before
// the vendor is called and never mutated.
type Request struct {
	ID          domain.VerificationRequestID
	IntentID    domain.DecisionIntentID
	VendorAPI   vendor.API
	ScopedVault domain.ScopedVaultID
	DocumentID  *domain.DocumentID
	// Fingerprint is a canonical hash of the call inputs; retries of the same
	// logical call share it.
	Fingerprint string
	CreatedAt   time.Time
}

// Result is the outcome of a Request. A Request without a Result means the
// process stopped between calling the vendor and saving its answer.
type Result struct {
	ID        domain.VerificationResultID
	RequestID domain.VerificationRequestID
	// Payload is the sealed vendor response. Nil for error results.
	Payload []byte
	IsError bool
	// Pending marks an accepted asynchronous check whose outcome arrives later.
	Pending   bool
	CreatedAt time.Time
}

// Attempt pairs a request with its result, if any.
type Attempt struct {
	Request Request
	Result  *Result
}

// Succeeded reports whether the attempt completed without error.
func (a Attempt) Succeeded() bool {
	return a.Result != nil && !a.Result.IsError
}

// Failed reports whether the attempt completed with an error result.
func (a Attempt) Failed() bool {
	return a.Result != nil && a.Result.IsError
}

// LatestByVendor returns the most recently created attempt per vendor API.
// attempts must be in creation order.
func LatestByVendor(attempts []Attempt) map[vendor.API]Attempt {
	latest := make(map[vendor.API]Attempt, len(attempts))
	for _, a := range attempts {
		latest[a.Request.VendorAPI] = a
	}
	return latest
}
