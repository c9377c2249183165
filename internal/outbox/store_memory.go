package outbox

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type InMemoryStore struct {
	mu     sync.Mutex
	events []Event
	// txMu serializes RunInTx callers the way row locks do in Postgres.
	txMu sync.Mutex
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

func (s *InMemoryStore) ClaimBatch(_ context.Context, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if len(out) == limit {
			break
		}
		if e.PublishedAt == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryStore) MarkPublished(_ context.Context, ids []uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if slices.Contains(ids, s.events[i].ID) {
			published := at
			s.events[i].PublishedAt = &published
		}
	}
	return nil
}

// All returns every stored event, published or not.
func (s *InMemoryStore) All() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

// Checkpoint captures the current contents and returns a func that restores them.
func (s *InMemoryStore) Checkpoint() func() {
	s.mu.Lock()
	events := slices.Clone(s.events)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.events = events
		s.mu.Unlock()
	}
}

// RunInTx lets the memory store serve as its own relay transaction runner.
func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	tx := s.Begin()
	if err := fn(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}
	return nil
}

// MemoryTx journals appends and publish stamps so Rollback reverts exactly
// them and leaves events other writers appended in place.
type MemoryTx struct {
	s    *InMemoryStore
	undo []func()
}

func (s *InMemoryStore) Begin() *MemoryTx {
	return &MemoryTx{s: s}
}

func (t *MemoryTx) Append(ctx context.Context, event *Event) error {
	if err := t.s.Append(ctx, event); err != nil {
		return err
	}
	id := event.ID
	t.undo = append(t.undo, func() {
		t.s.events = slices.DeleteFunc(t.s.events, func(e Event) bool { return e.ID == id })
	})
	return nil
}

func (t *MemoryTx) ClaimBatch(ctx context.Context, limit int) ([]Event, error) {
	return t.s.ClaimBatch(ctx, limit)
}

func (t *MemoryTx) MarkPublished(_ context.Context, ids []uuid.UUID, at time.Time) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var stamped []uuid.UUID
	for i := range t.s.events {
		e := &t.s.events[i]
		if e.PublishedAt == nil && slices.Contains(ids, e.ID) {
			published := at
			e.PublishedAt = &published
			stamped = append(stamped, e.ID)
		}
	}
	t.undo = append(t.undo, func() {
		for i := range t.s.events {
			if slices.Contains(stamped, t.s.events[i].ID) {
				t.s.events[i].PublishedAt = nil
			}
		}
	})
	return nil
}

func (t *MemoryTx) Rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}
