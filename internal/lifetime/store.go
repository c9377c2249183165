package lifetime

import (
	"context"
	"time"

	"kycflow/pkg/domain"
)

// Store is pure I/O over data lifetime rows. Stamping rules live in Ledger.
type Store interface {
	Insert(ctx context.Context, facts []DataLifetime) error
	ListByIDs(ctx context.Context, ids []domain.DataLifetimeID) ([]DataLifetime, error)
	// MarkPortablized stamps facts that are not yet portable and leaves the rest untouched.
	MarkPortablized(ctx context.Context, ids []domain.DataLifetimeID, seqno Seqno, at time.Time) error
	// MarkDeactivated stamps facts that are still active and returns how many rows changed.
	MarkDeactivated(ctx context.Context, ids []domain.DataLifetimeID, seqno Seqno, at time.Time) (int, error)
	// ListActive returns facts of vault visible to requester. A nil seqno means
	// the latest state; otherwise the view as of that seqno.
	ListActive(ctx context.Context, vault domain.VaultID, requester domain.ScopedVaultID, seqno *Seqno) ([]DataLifetime, error)
}
