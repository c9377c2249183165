package verification

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
	"kycflow/pkg/requestcontext"
)

type intentKey struct {
	scopedVault domain.ScopedVaultID
	workflowID  domain.WorkflowID
	kind        IntentKind
}

// InMemoryStore keeps intents and attempts in maps; request order is kept per intent.
type InMemoryStore struct {
	mu       sync.RWMutex
	intents  map[intentKey]DecisionIntent
	requests map[domain.VerificationRequestID]Request
	order    map[domain.DecisionIntentID][]domain.VerificationRequestID
	results  map[domain.VerificationRequestID]Result
	byResult map[domain.VerificationResultID]domain.VerificationRequestID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		intents:  make(map[intentKey]DecisionIntent),
		requests: make(map[domain.VerificationRequestID]Request),
		order:    make(map[domain.DecisionIntentID][]domain.VerificationRequestID),
		results:  make(map[domain.VerificationRequestID]Result),
		byResult: make(map[domain.VerificationResultID]domain.VerificationRequestID),
	}
}

func (s *InMemoryStore) GetOrCreateIntent(ctx context.Context, scopedVault domain.ScopedVaultID, workflowID domain.WorkflowID, kind IntentKind) (*DecisionIntent, error) {
	intent, _ := s.getOrCreateIntent(ctx, intentKey{scopedVault: scopedVault, workflowID: workflowID, kind: kind})
	return &intent, nil
}

func (s *InMemoryStore) getOrCreateIntent(ctx context.Context, key intentKey) (DecisionIntent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.intents[key]; ok {
		return existing, false
	}
	intent := DecisionIntent{
		ID:          domain.DecisionIntentID(uuid.New()),
		Kind:        key.kind,
		ScopedVault: key.scopedVault,
		WorkflowID:  key.workflowID,
		CreatedAt:   requestcontext.Now(ctx),
	}
	s.intents[key] = intent
	return intent, true
}

func (s *InMemoryStore) CreateRequest(_ context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.ID]; exists {
		return fmt.Errorf("create verification request %s: %w", req.ID, sentinel.ErrConflict)
	}
	s.requests[req.ID] = *req
	s.order[req.IntentID] = append(s.order[req.IntentID], req.ID)
	return nil
}

func (s *InMemoryStore) SaveResult(_ context.Context, res *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[res.RequestID]; !ok {
		return fmt.Errorf("save verification result for request %s: %w", res.RequestID, sentinel.ErrNotFound)
	}
	if _, exists := s.results[res.RequestID]; exists {
		return fmt.Errorf("save verification result for request %s: %w", res.RequestID, sentinel.ErrConflict)
	}
	s.results[res.RequestID] = *res
	s.byResult[res.ID] = res.RequestID
	return nil
}

func (s *InMemoryStore) ListAttempts(_ context.Context, intentID domain.DecisionIntentID) ([]Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.order[intentID]
	out := make([]Attempt, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.attempt(id))
	}
	return out, nil
}

func (s *InMemoryStore) GetAttempt(_ context.Context, resultID domain.VerificationResultID) (*Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reqID, ok := s.byResult[resultID]
	if !ok {
		return nil, fmt.Errorf("get verification result %s: %w", resultID, sentinel.ErrNotFound)
	}
	a := s.attempt(reqID)
	return &a, nil
}

func (s *InMemoryStore) attempt(id domain.VerificationRequestID) Attempt {
	a := Attempt{Request: s.requests[id]}
	if res, ok := s.results[id]; ok {
		a.Result = &res
	}
	return a
}

// Checkpoint captures the current contents and returns a func that restores them.
func (s *InMemoryStore) Checkpoint() func() {
	s.mu.RLock()
	intents := maps.Clone(s.intents)
	requests := maps.Clone(s.requests)
	results := maps.Clone(s.results)
	byResult := maps.Clone(s.byResult)
	order := make(map[domain.DecisionIntentID][]domain.VerificationRequestID, len(s.order))
	for k, v := range s.order {
		order[k] = slices.Clone(v)
	}
	s.mu.RUnlock()
	return func() {
		s.mu.Lock()
		s.intents, s.requests, s.results, s.byResult, s.order = intents, requests, results, byResult, order
		s.mu.Unlock()
	}
}

// MemoryTx is a write journal over an InMemoryStore. Rollback removes only
// the rows written through it, so concurrent writers keep their rows.
type MemoryTx struct {
	s    *InMemoryStore
	undo []func()
}

// Begin opens a journal over the store.
func (s *InMemoryStore) Begin() *MemoryTx {
	return &MemoryTx{s: s}
}

func (t *MemoryTx) GetOrCreateIntent(ctx context.Context, scopedVault domain.ScopedVaultID, workflowID domain.WorkflowID, kind IntentKind) (*DecisionIntent, error) {
	key := intentKey{scopedVault: scopedVault, workflowID: workflowID, kind: kind}
	intent, created := t.s.getOrCreateIntent(ctx, key)
	if created {
		t.record(func() { delete(t.s.intents, key) })
	}
	return &intent, nil
}

func (t *MemoryTx) CreateRequest(ctx context.Context, req *Request) error {
	if err := t.s.CreateRequest(ctx, req); err != nil {
		return err
	}
	id, intentID := req.ID, req.IntentID
	t.record(func() {
		delete(t.s.requests, id)
		t.s.order[intentID] = slices.DeleteFunc(t.s.order[intentID], func(r domain.VerificationRequestID) bool {
			return r == id
		})
		if len(t.s.order[intentID]) == 0 {
			delete(t.s.order, intentID)
		}
	})
	return nil
}

func (t *MemoryTx) SaveResult(ctx context.Context, res *Result) error {
	if err := t.s.SaveResult(ctx, res); err != nil {
		return err
	}
	reqID, resID := res.RequestID, res.ID
	t.record(func() {
		delete(t.s.results, reqID)
		delete(t.s.byResult, resID)
	})
	return nil
}

func (t *MemoryTx) ListAttempts(ctx context.Context, intentID domain.DecisionIntentID) ([]Attempt, error) {
	return t.s.ListAttempts(ctx, intentID)
}

func (t *MemoryTx) GetAttempt(ctx context.Context, resultID domain.VerificationResultID) (*Attempt, error) {
	return t.s.GetAttempt(ctx, resultID)
}

func (t *MemoryTx) record(undo func()) {
	t.undo = append(t.undo, undo)
}

// Rollback undoes the journaled writes, newest first.
func (t *MemoryTx) Rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// RunInTx runs fn against a journal and undoes only fn's writes when it fails.
func (s *InMemoryStore) RunInTx(_ context.Context, fn func(Store) error) error {
	tx := s.Begin()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return nil
}
