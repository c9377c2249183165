package workflow

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
)

type link struct {
	parent, child domain.WorkflowID
	at            time.Time
}

// InMemoryStore has no row locks; the memory transaction runner serializes
// commits instead.
type InMemoryStore struct {
	mu        sync.RWMutex
	workflows map[domain.WorkflowID]Workflow
	links     []link
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{workflows: make(map[domain.WorkflowID]Workflow)}
}

func (s *InMemoryStore) Create(_ context.Context, wf *Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workflows[wf.ID]; exists {
		return fmt.Errorf("create workflow %s: %w", wf.ID, sentinel.ErrConflict)
	}
	s.workflows[wf.ID] = *wf
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id domain.WorkflowID) (*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", id, sentinel.ErrNotFound)
	}
	return &wf, nil
}

func (s *InMemoryStore) GetForUpdate(ctx context.Context, id domain.WorkflowID) (*Workflow, error) {
	return s.Get(ctx, id)
}

func (s *InMemoryStore) Update(_ context.Context, wf *Workflow) error {
	_, err := s.update(wf)
	return err
}

func (s *InMemoryStore) update(wf *Workflow) (Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prior, ok := s.workflows[wf.ID]
	if !ok {
		return Workflow{}, fmt.Errorf("update workflow %s: %w", wf.ID, sentinel.ErrNotFound)
	}
	s.workflows[wf.ID] = *wf
	return prior, nil
}

func (s *InMemoryStore) Link(_ context.Context, parent, child domain.WorkflowID, at time.Time) error {
	_, err := s.link(parent, child, at)
	return err
}

func (s *InMemoryStore) link(parent, child domain.WorkflowID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range []domain.WorkflowID{parent, child} {
		if _, ok := s.workflows[id]; !ok {
			return false, fmt.Errorf("link workflow %s: %w", id, sentinel.ErrNotFound)
		}
	}
	for _, l := range s.links {
		if l.parent == parent && l.child == child {
			return false, nil
		}
	}
	s.links = append(s.links, link{parent: parent, child: child, at: at})
	return true, nil
}

func (s *InMemoryStore) ListLinked(_ context.Context, parent domain.WorkflowID) ([]Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Workflow
	for _, l := range s.links {
		if l.parent == parent {
			out = append(out, s.workflows[l.child])
		}
	}
	return out, nil
}

// Checkpoint captures the current contents and returns a func that restores them.
func (s *InMemoryStore) Checkpoint() func() {
	s.mu.RLock()
	workflows := maps.Clone(s.workflows)
	links := slices.Clone(s.links)
	s.mu.RUnlock()
	return func() {
		s.mu.Lock()
		s.workflows, s.links = workflows, links
		s.mu.Unlock()
	}
}

// MemoryTx journals writes against an InMemoryStore so Rollback reverts only
// them and leaves rows other writers touched in place.
type MemoryTx struct {
	s    *InMemoryStore
	undo []func()
}

func (s *InMemoryStore) Begin() *MemoryTx {
	return &MemoryTx{s: s}
}

func (t *MemoryTx) Create(ctx context.Context, wf *Workflow) error {
	if err := t.s.Create(ctx, wf); err != nil {
		return err
	}
	id := wf.ID
	t.undo = append(t.undo, func() { delete(t.s.workflows, id) })
	return nil
}

func (t *MemoryTx) Get(ctx context.Context, id domain.WorkflowID) (*Workflow, error) {
	return t.s.Get(ctx, id)
}

func (t *MemoryTx) GetForUpdate(ctx context.Context, id domain.WorkflowID) (*Workflow, error) {
	return t.s.GetForUpdate(ctx, id)
}

func (t *MemoryTx) Update(_ context.Context, wf *Workflow) error {
	prior, err := t.s.update(wf)
	if err != nil {
		return err
	}
	t.undo = append(t.undo, func() { t.s.workflows[prior.ID] = prior })
	return nil
}

func (t *MemoryTx) Link(_ context.Context, parent, child domain.WorkflowID, at time.Time) error {
	added, err := t.s.link(parent, child, at)
	if err != nil || !added {
		return err
	}
	t.undo = append(t.undo, func() {
		t.s.links = slices.DeleteFunc(t.s.links, func(l link) bool {
			return l.parent == parent && l.child == child
		})
	})
	return nil
}

func (t *MemoryTx) ListLinked(ctx context.Context, parent domain.WorkflowID) ([]Workflow, error) {
	return t.s.ListLinked(ctx, parent)
}

// Rollback reverts the journaled writes, newest first.
func (t *MemoryTx) Rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}
