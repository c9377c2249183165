package lifetime

import (
	"time"

	"kycflow/pkg/domain"
)

// Seqno orders every fact mutation across the system.
type Seqno int64

// Kind names the piece of vault data a lifetime tracks, e.g. "id.first_name".
type Kind string

const (
	KindFirstName    Kind = "id.first_name"
	KindLastName     Kind = "id.last_name"
	KindDOB          Kind = "id.dob"
	KindSSN9         Kind = "id.ssn9"
	KindAddressLine1 Kind = "id.address_line1"
	KindZip          Kind = "id.zip"
	KindEmail        Kind = "id.email"
	KindPhoneNumber  Kind = "id.phone_number"

	KindBusinessName    Kind = "business.name"
	KindBusinessTIN     Kind = "business.tin"
	KindBusinessAddress Kind = "business.address_line1"
)

// DataLifetime is one versioned fact in a subject's vault.
type DataLifetime struct {
	ID          domain.DataLifetimeID
	Vault       domain.VaultID
	ScopedVault domain.ScopedVaultID
	Kind        Kind

	CreatedAt    time.Time
	CreatedSeqno Seqno

	PortablizedAt    *time.Time
	PortablizedSeqno *Seqno

	DeactivatedAt    *time.Time
	DeactivatedSeqno *Seqno

	// Source is set when the fact was copied or prefilled from another fact.
	Source *domain.DataLifetimeID
}

// IsPortableAt reports whether the fact had been made visible beyond its
// collecting tenant at or before seqno.
func (d DataLifetime) IsPortableAt(seqno Seqno) bool {
	return d.PortablizedSeqno != nil && *d.PortablizedSeqno <= seqno
}

// IsDeactivatedAt reports whether the fact had been superseded at or before seqno.
func (d DataLifetime) IsDeactivatedAt(seqno Seqno) bool {
	return d.DeactivatedSeqno != nil && *d.DeactivatedSeqno <= seqno
}

// IsActiveAt reports whether requester can see the fact as of seqno.
// A fact is active when it was created at or before seqno, was not yet
// deactivated, and is either portable by then or owned by the requester.
func (d DataLifetime) IsActiveAt(seqno Seqno, requester domain.ScopedVaultID) bool {
	if d.CreatedSeqno > seqno {
		return false
	}
	if d.IsDeactivatedAt(seqno) {
		return false
	}
	return d.IsPortableAt(seqno) || d.ScopedVault == requester
}

// IsActive is IsActiveAt evaluated against the latest state of the row.
func (d DataLifetime) IsActive(requester domain.ScopedVaultID) bool {
	if d.DeactivatedSeqno != nil {
		return false
	}
	return d.PortablizedSeqno != nil || d.ScopedVault == requester
}

// NewFact describes one fact to create in a batch.
type NewFact struct {
	Kind   Kind
	Source *domain.DataLifetimeID
}
