package lifetime

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
	"kycflow/pkg/requestcontext"
)

// Ledger stamps fact lifecycle transitions with seqnos and answers
// point-in-time visibility queries. It is bound to whatever Store it is given,
// so building one from a transaction's store keeps every write in that transaction.
type Ledger struct {
	store  Store
	seqnos SeqnoSource
}

func NewLedger(store Store, seqnos SeqnoSource) *Ledger {
	return &Ledger{store: store, seqnos: seqnos}
}

// NextSeqno advances the global counter.
func (l *Ledger) NextSeqno(ctx context.Context) (Seqno, error) {
	return l.seqnos.Next(ctx)
}

// CurrentSeqno reads the counter without advancing it.
func (l *Ledger) CurrentSeqno(ctx context.Context) (Seqno, error) {
	return l.seqnos.Current(ctx)
}

// Create stamps a batch of new facts with one shared seqno and timestamp.
func (l *Ledger) Create(ctx context.Context, vault domain.VaultID, scopedVault domain.ScopedVaultID, facts []NewFact) ([]DataLifetime, error) {
	if len(facts) == 0 {
		return nil, ErrEmptyBatch
	}
	seqno, err := l.seqnos.Next(ctx)
	if err != nil {
		return nil, err
	}
	return l.insertAt(ctx, vault, scopedVault, facts, seqno)
}

func (l *Ledger) insertAt(ctx context.Context, vault domain.VaultID, scopedVault domain.ScopedVaultID, facts []NewFact, seqno Seqno) ([]DataLifetime, error) {
	now := requestcontext.Now(ctx)
	created := make([]DataLifetime, len(facts))
	for i, f := range facts {
		created[i] = DataLifetime{
			ID:           domain.DataLifetimeID(uuid.New()),
			Vault:        vault,
			ScopedVault:  scopedVault,
			Kind:         f.Kind,
			CreatedAt:    now,
			CreatedSeqno: seqno,
			Source:       f.Source,
		}
	}
	if err := l.store.Insert(ctx, created); err != nil {
		return nil, err
	}
	return created, nil
}

// Portablize makes facts visible beyond their collecting tenant. Facts that are
// already portable keep their original stamp.
func (l *Ledger) Portablize(ctx context.Context, ids []domain.DataLifetimeID) (Seqno, error) {
	if len(ids) == 0 {
		return 0, ErrEmptyBatch
	}
	seqno, err := l.seqnos.Next(ctx)
	if err != nil {
		return 0, err
	}
	if err := l.store.MarkPortablized(ctx, ids, seqno, requestcontext.Now(ctx)); err != nil {
		return 0, err
	}
	return seqno, nil
}

// Deactivate marks facts as superseded. It refuses the whole batch if any
// target is unknown or already deactivated.
func (l *Ledger) Deactivate(ctx context.Context, ids []domain.DataLifetimeID) (Seqno, error) {
	if len(ids) == 0 {
		return 0, ErrEmptyBatch
	}
	seqno, err := l.seqnos.Next(ctx)
	if err != nil {
		return 0, err
	}
	if err := l.deactivateAt(ctx, ids, seqno); err != nil {
		return 0, err
	}
	return seqno, nil
}

func (l *Ledger) deactivateAt(ctx context.Context, ids []domain.DataLifetimeID, seqno Seqno) error {
	ids = slices.Compact(slices.SortedFunc(slices.Values(ids), compareIDs))
	existing, err := l.store.ListByIDs(ctx, ids)
	if err != nil {
		return err
	}
	if len(existing) != len(ids) {
		return fmt.Errorf("deactivate %d data lifetimes, found %d: %w", len(ids), len(existing), sentinel.ErrNotFound)
	}
	for _, f := range existing {
		if f.DeactivatedSeqno != nil {
			return fmt.Errorf("data lifetime %s: %w", f.ID, ErrAlreadyDeactivated)
		}
	}
	changed, err := l.store.MarkDeactivated(ctx, ids, seqno, requestcontext.Now(ctx))
	if err != nil {
		return err
	}
	if changed != len(ids) {
		// A concurrent writer got there first; the caller's transaction must abort.
		return fmt.Errorf("deactivated %d of %d data lifetimes: %w", changed, len(ids), ErrAlreadyDeactivated)
	}
	return nil
}

// Replace supersedes the requester's active facts of the given kinds and
// creates the new versions, all under a single seqno.
func (l *Ledger) Replace(ctx context.Context, vault domain.VaultID, scopedVault domain.ScopedVaultID, facts []NewFact) ([]DataLifetime, error) {
	if len(facts) == 0 {
		return nil, ErrEmptyBatch
	}
	active, err := l.store.ListActive(ctx, vault, scopedVault, nil)
	if err != nil {
		return nil, err
	}
	kinds := make(map[Kind]bool, len(facts))
	for _, f := range facts {
		kinds[f.Kind] = true
	}
	var superseded []domain.DataLifetimeID
	for _, f := range active {
		if kinds[f.Kind] && f.ScopedVault == scopedVault {
			superseded = append(superseded, f.ID)
		}
	}
	seqno, err := l.seqnos.Next(ctx)
	if err != nil {
		return nil, err
	}
	if len(superseded) > 0 {
		if err := l.deactivateAt(ctx, superseded, seqno); err != nil {
			return nil, err
		}
	}
	return l.insertAt(ctx, vault, scopedVault, facts, seqno)
}

// GetActive returns the facts of vault currently visible to requester.
func (l *Ledger) GetActive(ctx context.Context, vault domain.VaultID, requester domain.ScopedVaultID) ([]DataLifetime, error) {
	return l.store.ListActive(ctx, vault, requester, nil)
}

// GetActiveAt returns the facts of vault visible to requester as of seqno.
func (l *Ledger) GetActiveAt(ctx context.Context, vault domain.VaultID, requester domain.ScopedVaultID, seqno Seqno) ([]DataLifetime, error) {
	return l.store.ListActive(ctx, vault, requester, &seqno)
}

// Snapshot samples the current seqno once and reads the facts active at it,
// giving a repeatable view while other writers keep advancing the counter.
func (l *Ledger) Snapshot(ctx context.Context, vault domain.VaultID, requester domain.ScopedVaultID) (Seqno, []DataLifetime, error) {
	seqno, err := l.seqnos.Current(ctx)
	if err != nil {
		return 0, nil, err
	}
	facts, err := l.GetActiveAt(ctx, vault, requester, seqno)
	if err != nil {
		return 0, nil, err
	}
	return seqno, facts, nil
}

// Kinds lists the distinct kinds of facts, in first-seen order.
func Kinds(facts []DataLifetime) []Kind {
	seen := make(map[Kind]bool, len(facts))
	var out []Kind
	for _, f := range facts {
		if !seen[f.Kind] {
			seen[f.Kind] = true
			out = append(out, f.Kind)
		}
	}
	return out
}

func compareIDs(a, b domain.DataLifetimeID) int {
	return slices.Compare(a[:], b[:])
}
