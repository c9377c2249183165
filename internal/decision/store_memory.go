package decision

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu        sync.RWMutex
	ruleSets  []RuleSetResult
	decisions map[domain.WorkflowID]Decision
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{decisions: make(map[domain.WorkflowID]Decision)}
}

func (s *InMemoryStore) SaveRuleSetResult(_ context.Context, r *RuleSetResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ruleSets = append(s.ruleSets, *r)
	return nil
}

func (s *InMemoryStore) SaveDecision(_ context.Context, d *Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.decisions[d.WorkflowID]; exists {
		return fmt.Errorf("save decision for workflow %s: %w", d.WorkflowID, sentinel.ErrConflict)
	}
	stored := *d
	stored.ResultIDs = slices.Clone(d.ResultIDs)
	s.decisions[d.WorkflowID] = stored
	return nil
}

func (s *InMemoryStore) GetByWorkflow(_ context.Context, workflowID domain.WorkflowID) (*Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[workflowID]
	if !ok {
		return nil, fmt.Errorf("decision for workflow %s: %w", workflowID, sentinel.ErrNotFound)
	}
	return &d, nil
}

func (s *InMemoryStore) ListRuleSetResults(_ context.Context, workflowID domain.WorkflowID) ([]RuleSetResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []RuleSetResult
	for _, r := range s.ruleSets {
		if r.WorkflowID == workflowID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Checkpoint captures the current contents and returns a func that restores them.
func (s *InMemoryStore) Checkpoint() func() {
	s.mu.RLock()
	ruleSets := slices.Clone(s.ruleSets)
	decisions := maps.Clone(s.decisions)
	s.mu.RUnlock()
	return func() {
		s.mu.Lock()
		s.ruleSets, s.decisions = ruleSets, decisions
		s.mu.Unlock()
	}
}

// MemoryTx journals decision writes so Rollback removes exactly them.
type MemoryTx struct {
	s    *InMemoryStore
	undo []func()
}

func (s *InMemoryStore) Begin() *MemoryTx {
	return &MemoryTx{s: s}
}

func (t *MemoryTx) SaveRuleSetResult(ctx context.Context, r *RuleSetResult) error {
	if err := t.s.SaveRuleSetResult(ctx, r); err != nil {
		return err
	}
	id := r.ID
	t.undo = append(t.undo, func() {
		t.s.ruleSets = slices.DeleteFunc(t.s.ruleSets, func(rs RuleSetResult) bool { return rs.ID == id })
	})
	return nil
}

func (t *MemoryTx) SaveDecision(ctx context.Context, d *Decision) error {
	if err := t.s.SaveDecision(ctx, d); err != nil {
		return err
	}
	workflowID := d.WorkflowID
	t.undo = append(t.undo, func() { delete(t.s.decisions, workflowID) })
	return nil
}

func (t *MemoryTx) GetByWorkflow(ctx context.Context, workflowID domain.WorkflowID) (*Decision, error) {
	return t.s.GetByWorkflow(ctx, workflowID)
}

func (t *MemoryTx) ListRuleSetResults(ctx context.Context, workflowID domain.WorkflowID) ([]RuleSetResult, error) {
	return t.s.ListRuleSetResults(ctx, workflowID)
}

func (t *MemoryTx) Rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}
