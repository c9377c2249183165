// Package findings stores normalized risk signals derived from vendor answers,
// grouped per workflow and kind. Groups are append-only: new evidence either
// starts a group that supersedes the earlier one or is added to the latest.
package findings

import (
	"time"

	"kycflow/internal/lifetime"
	"kycflow/internal/vendor"
	"kycflow/pkg/domain"
)

// Kind groups reason codes by the check that produced them.
type Kind string

const (
	KindKYC      Kind = "kyc"
	KindKYB      Kind = "kyb"
	KindAML      Kind = "aml"
	KindDocument Kind = "document"
	KindBehavior Kind = "behavior"
)

// KindForVendor maps a vendor kind onto the finding group it feeds.
func KindForVendor(k vendor.Kind) Kind {
	switch k {
	case vendor.KindAML:
		return KindAML
	case vendor.KindDocument:
		return KindDocument
	case vendor.KindKYB:
		return KindKYB
	default:
		return KindKYC
	}
}

// ReasonCode is a normalized fact about the subject. The set is open; the
// constants below are the ones the flows branch on.
type ReasonCode string

const (
	CodeSSNMatches               ReasonCode = "ssn_matches"
	CodeSSNDoesNotMatch          ReasonCode = "ssn_does_not_match"
	CodeAddressMatches           ReasonCode = "address_matches"
	CodeAddressDoesNotMatch      ReasonCode = "address_does_not_match"
	CodeWatchlistHitNone         ReasonCode = "watchlist_hit_none"
	CodeWatchlistHitOFAC         ReasonCode = "watchlist_hit_ofac"
	CodeDocumentVerified         ReasonCode = "document_verified"
	CodeDocumentNotVerified      ReasonCode = "document_not_verified"
	CodeBusinessNameMatch        ReasonCode = "business_name_match"
	CodeBusinessNameDoesNotMatch ReasonCode = "business_name_does_not_match"
	CodeTINMatch                 ReasonCode = "tin_match"
	CodeTINDoesNotMatch          ReasonCode = "tin_does_not_match"
	CodeBeneficialOwnerFailedKYC ReasonCode = "beneficial_owner_failed_kyc"
)

// Finding is one parsed reason code with its provenance.
type Finding struct {
	ReasonCode ReasonCode
	VendorAPI  *vendor.API
	ResultID   *domain.VerificationResultID
}

// Group is the set of signals of one kind recorded for a workflow.
type Group struct {
	ID           domain.RiskSignalGroupID
	WorkflowID   domain.WorkflowID
	ScopedVault  domain.ScopedVaultID
	Kind         Kind
	CreatedSeqno lifetime.Seqno
	CreatedAt    time.Time
}

// RiskSignal is a persisted Finding.
type RiskSignal struct {
	ID           domain.RiskSignalID
	GroupID      domain.RiskSignalGroupID
	ReasonCode   ReasonCode
	VendorAPI    *vendor.API
	ResultID     *domain.VerificationResultID
	CreatedSeqno lifetime.Seqno
	CreatedAt    time.Time
}

// Set is a group with its signals.
type Set struct {
	Group   Group
	Signals []RiskSignal
}

// Codes flattens the reason codes of every set, preserving order.
func Codes(sets ...Set) []ReasonCode {
	var out []ReasonCode
	for _, set := range sets {
		for _, sig := range set.Signals {
			out = append(out, sig.ReasonCode)
		}
	}
	return out
}

// ResultIDs returns the distinct verification results that contributed signals.
func ResultIDs(sets ...Set) []domain.VerificationResultID {
	seen := make(map[domain.VerificationResultID]struct{})
	var out []domain.VerificationResultID
	for _, set := range sets {
		for _, sig := range set.Signals {
			if sig.ResultID == nil {
				continue
			}
			if _, dup := seen[*sig.ResultID]; dup {
				continue
			}
			seen[*sig.ResultID] = struct{}{}
			out = append(out, *sig.ResultID)
		}
	}
	return out
}

// Has reports whether code appears in any set.
func Has(code ReasonCode, sets ...Set) bool {
	for _, c := range Codes(sets...) {
		if c == code {
			return true
		}
	}
	return false
}
