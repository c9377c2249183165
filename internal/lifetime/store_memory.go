package lifetime

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
)

// InMemoryStore keeps lifetimes in a map keyed by id.
type InMemoryStore struct {
	mu    sync.RWMutex
	facts map[domain.DataLifetimeID]DataLifetime
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{facts: make(map[domain.DataLifetimeID]DataLifetime)}
}

func (s *InMemoryStore) Insert(_ context.Context, facts []DataLifetime) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range facts {
		if _, exists := s.facts[f.ID]; exists {
			return fmt.Errorf("insert data lifetime %s: %w", f.ID, sentinel.ErrConflict)
		}
	}
	for _, f := range facts {
		s.facts[f.ID] = f
	}
	return nil
}

func (s *InMemoryStore) ListByIDs(_ context.Context, ids []domain.DataLifetimeID) ([]DataLifetime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DataLifetime, 0, len(ids))
	for _, id := range ids {
		if f, ok := s.facts[id]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *InMemoryStore) MarkPortablized(_ context.Context, ids []domain.DataLifetimeID, seqno Seqno, at time.Time) error {
	s.markPortablized(ids, seqno, at)
	return nil
}

func (s *InMemoryStore) markPortablized(ids []domain.DataLifetimeID, seqno Seqno, at time.Time) []domain.DataLifetimeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stamped []domain.DataLifetimeID
	for _, id := range ids {
		f, ok := s.facts[id]
		if !ok || f.PortablizedSeqno != nil {
			continue
		}
		seq, ts := seqno, at
		f.PortablizedSeqno, f.PortablizedAt = &seq, &ts
		s.facts[id] = f
		stamped = append(stamped, id)
	}
	return stamped
}

func (s *InMemoryStore) MarkDeactivated(_ context.Context, ids []domain.DataLifetimeID, seqno Seqno, at time.Time) (int, error) {
	return len(s.markDeactivated(ids, seqno, at)), nil
}

func (s *InMemoryStore) markDeactivated(ids []domain.DataLifetimeID, seqno Seqno, at time.Time) []domain.DataLifetimeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stamped []domain.DataLifetimeID
	for _, id := range ids {
		f, ok := s.facts[id]
		if !ok || f.DeactivatedSeqno != nil {
			continue
		}
		seq, ts := seqno, at
		f.DeactivatedSeqno, f.DeactivatedAt = &seq, &ts
		s.facts[id] = f
		stamped = append(stamped, id)
	}
	return stamped
}

func (s *InMemoryStore) ListActive(_ context.Context, vault domain.VaultID, requester domain.ScopedVaultID, seqno *Seqno) ([]DataLifetime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []DataLifetime
	for _, f := range s.facts {
		if f.Vault != vault {
			continue
		}
		active := f.IsActive(requester)
		if seqno != nil {
			active = f.IsActiveAt(*seqno, requester)
		}
		if active {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedSeqno != out[j].CreatedSeqno {
			return out[i].CreatedSeqno < out[j].CreatedSeqno
		}
		return out[i].Kind < out[j].Kind
	})
	return out, nil
}

// Checkpoint captures the current contents and returns a func that restores them.
func (s *InMemoryStore) Checkpoint() func() {
	s.mu.RLock()
	saved := maps.Clone(s.facts)
	s.mu.RUnlock()
	return func() {
		s.mu.Lock()
		s.facts = saved
		s.mu.Unlock()
	}
}

// MemoryTx journals ledger writes against an InMemoryStore. Rollback drops the
// facts it inserted and clears only the stamps it set.
type MemoryTx struct {
	s    *InMemoryStore
	undo []func()
}

func (s *InMemoryStore) Begin() *MemoryTx {
	return &MemoryTx{s: s}
}

func (t *MemoryTx) Insert(ctx context.Context, facts []DataLifetime) error {
	if err := t.s.Insert(ctx, facts); err != nil {
		return err
	}
	t.undo = append(t.undo, func() {
		for _, f := range facts {
			delete(t.s.facts, f.ID)
		}
	})
	return nil
}

func (t *MemoryTx) ListByIDs(ctx context.Context, ids []domain.DataLifetimeID) ([]DataLifetime, error) {
	return t.s.ListByIDs(ctx, ids)
}

func (t *MemoryTx) MarkPortablized(_ context.Context, ids []domain.DataLifetimeID, seqno Seqno, at time.Time) error {
	stamped := t.s.markPortablized(ids, seqno, at)
	t.undo = append(t.undo, func() {
		for _, id := range stamped {
			if f, ok := t.s.facts[id]; ok {
				f.PortablizedSeqno, f.PortablizedAt = nil, nil
				t.s.facts[id] = f
			}
		}
	})
	return nil
}

func (t *MemoryTx) MarkDeactivated(_ context.Context, ids []domain.DataLifetimeID, seqno Seqno, at time.Time) (int, error) {
	stamped := t.s.markDeactivated(ids, seqno, at)
	t.undo = append(t.undo, func() {
		for _, id := range stamped {
			if f, ok := t.s.facts[id]; ok {
				f.DeactivatedSeqno, f.DeactivatedAt = nil, nil
				t.s.facts[id] = f
			}
		}
	})
	return len(stamped), nil
}

func (t *MemoryTx) ListActive(ctx context.Context, vault domain.VaultID, requester domain.ScopedVaultID, seqno *Seqno) ([]DataLifetime, error) {
	return t.s.ListActive(ctx, vault, requester, seqno)
}

func (t *MemoryTx) Rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}
