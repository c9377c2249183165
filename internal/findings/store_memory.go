package findings

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
)

// InMemoryStore keeps groups in insertion order; signals are kept per group.
type InMemoryStore struct {
	mu      sync.RWMutex
	groups  []Group
	signals map[domain.RiskSignalGroupID][]RiskSignal
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{signals: make(map[domain.RiskSignalGroupID][]RiskSignal)}
}

func (s *InMemoryStore) CreateGroup(_ context.Context, group *Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.signals[group.ID]; exists {
		return fmt.Errorf("create risk signal group %s: %w", group.ID, sentinel.ErrConflict)
	}
	s.groups = append(s.groups, *group)
	s.signals[group.ID] = nil
	return nil
}

func (s *InMemoryStore) AppendSignals(_ context.Context, signals []RiskSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sig := range signals {
		if _, ok := s.signals[sig.GroupID]; !ok {
			return fmt.Errorf("append risk signal to group %s: %w", sig.GroupID, sentinel.ErrNotFound)
		}
	}
	for _, sig := range signals {
		s.signals[sig.GroupID] = append(s.signals[sig.GroupID], sig)
	}
	return nil
}

func (s *InMemoryStore) LatestGroup(_ context.Context, workflowID domain.WorkflowID, kind Kind) (*Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *Group
	for i := range s.groups {
		g := &s.groups[i]
		if g.WorkflowID != workflowID || g.Kind != kind {
			continue
		}
		if latest == nil || g.CreatedSeqno >= latest.CreatedSeqno {
			latest = g
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("latest %s group for workflow %s: %w", kind, workflowID, sentinel.ErrNotFound)
	}
	out := *latest
	return &out, nil
}

func (s *InMemoryStore) ListSignals(_ context.Context, groupID domain.RiskSignalGroupID) ([]RiskSignal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.signals[groupID]), nil
}

// Checkpoint captures the current contents and returns a func that restores them.
func (s *InMemoryStore) Checkpoint() func() {
	s.mu.RLock()
	groups := slices.Clone(s.groups)
	signals := maps.Clone(s.signals)
	for k, v := range signals {
		signals[k] = slices.Clone(v)
	}
	s.mu.RUnlock()
	return func() {
		s.mu.Lock()
		s.groups, s.signals = groups, signals
		s.mu.Unlock()
	}
}

// MemoryTx journals group and signal writes so Rollback removes exactly them.
type MemoryTx struct {
	s    *InMemoryStore
	undo []func()
}

func (s *InMemoryStore) Begin() *MemoryTx {
	return &MemoryTx{s: s}
}

func (t *MemoryTx) CreateGroup(ctx context.Context, group *Group) error {
	if err := t.s.CreateGroup(ctx, group); err != nil {
		return err
	}
	id := group.ID
	t.undo = append(t.undo, func() {
		t.s.groups = slices.DeleteFunc(t.s.groups, func(g Group) bool { return g.ID == id })
		delete(t.s.signals, id)
	})
	return nil
}

func (t *MemoryTx) AppendSignals(ctx context.Context, signals []RiskSignal) error {
	if err := t.s.AppendSignals(ctx, signals); err != nil {
		return err
	}
	added := make(map[domain.RiskSignalID]struct{}, len(signals))
	for _, sig := range signals {
		added[sig.ID] = struct{}{}
	}
	t.undo = append(t.undo, func() {
		for _, sig := range signals {
			group, ok := t.s.signals[sig.GroupID]
			if !ok {
				continue
			}
			t.s.signals[sig.GroupID] = slices.DeleteFunc(group, func(r RiskSignal) bool {
				_, mine := added[r.ID]
				return mine
			})
		}
	})
	return nil
}

func (t *MemoryTx) LatestGroup(ctx context.Context, workflowID domain.WorkflowID, kind Kind) (*Group, error) {
	return t.s.LatestGroup(ctx, workflowID, kind)
}

func (t *MemoryTx) ListSignals(ctx context.Context, groupID domain.RiskSignalGroupID) ([]RiskSignal, error) {
	return t.s.ListSignals(ctx, groupID)
}

func (t *MemoryTx) Rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}
