package domain

import (
	"github.com/google/uuid"

	dErrors "kycflow/pkg/domain-errors"
)

// Typed identifiers. Each wraps a UUID so the compiler refuses to mix, say, a
// WorkflowID with a ScopedVaultID.
type (
	TenantID              uuid.UUID
	VaultID               uuid.UUID
	ScopedVaultID         uuid.UUID
	WorkflowID            uuid.UUID
	DecisionIntentID      uuid.UUID
	VerificationRequestID uuid.UUID
	VerificationResultID  uuid.UUID
	DataLifetimeID        uuid.UUID
	RiskSignalID          uuid.UUID
	RiskSignalGroupID     uuid.UUID
	DecisionID            uuid.UUID
	DocumentID            uuid.UUID
)

func (id TenantID) String() string              { return uuid.UUID(id).String() }
func (id VaultID) String() string               { return uuid.UUID(id).String() }
func (id ScopedVaultID) String() string         { return uuid.UUID(id).String() }
func (id WorkflowID) String() string            { return uuid.UUID(id).String() }
func (id DecisionIntentID) String() string      { return uuid.UUID(id).String() }
func (id VerificationRequestID) String() string { return uuid.UUID(id).String() }
func (id VerificationResultID) String() string  { return uuid.UUID(id).String() }
func (id DataLifetimeID) String() string        { return uuid.UUID(id).String() }
func (id RiskSignalID) String() string          { return uuid.UUID(id).String() }
func (id RiskSignalGroupID) String() string     { return uuid.UUID(id).String() }
func (id DecisionID) String() string            { return uuid.UUID(id).String() }
func (id DocumentID) String() string            { return uuid.UUID(id).String() }

func (id TenantID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id ScopedVaultID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id WorkflowID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id DocumentID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func ParseTenantID(s string) (TenantID, error) {
	u, err := parseUUID(s, "tenant ID")
	return TenantID(u), err
}

func ParseVaultID(s string) (VaultID, error) {
	u, err := parseUUID(s, "vault ID")
	return VaultID(u), err
}

func ParseScopedVaultID(s string) (ScopedVaultID, error) {
	u, err := parseUUID(s, "scoped vault ID")
	return ScopedVaultID(u), err
}

func ParseWorkflowID(s string) (WorkflowID, error) {
	u, err := parseUUID(s, "workflow ID")
	return WorkflowID(u), err
}

func ParseVerificationResultID(s string) (VerificationResultID, error) {
	u, err := parseUUID(s, "verification result ID")
	return VerificationResultID(u), err
}

func ParseDocumentID(s string) (DocumentID, error) {
	u, err := parseUUID(s, "document ID")
	return DocumentID(u), err
}

// parseUUID enforces the invariant that identifiers crossing a trust boundary
// are valid, non-nil UUIDs.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" must not be nil")
	}
	return u, nil
}

// NewTimeOrderedID returns a UUIDv7, falling back to v4 if the clock source fails.
// Lexical order of v7 ids follows creation order.
func NewTimeOrderedID() uuid.UUID {
	u, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return u
}
