package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists outbox events.
type Store interface {
	Append(ctx context.Context, event *Event) error
	// ClaimBatch returns up to limit unpublished events in creation order. In
	// Postgres the rows stay locked until the surrounding transaction ends and
	// concurrent relays skip them.
	ClaimBatch(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// TxRunner scopes one relay batch.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}
