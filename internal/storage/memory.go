// Package storage binds every module store to one transaction so a workflow
// commit writes all of its facts or none of them.
package storage

import (
	"context"
	"sync"

	"kycflow/internal/decision"
	"kycflow/internal/findings"
	"kycflow/internal/lifetime"
	"kycflow/internal/outbox"
	"kycflow/internal/verification"
	"kycflow/internal/workflow"
)

// Memory holds in-memory stores for tests and local runs.
type Memory struct {
	Workflows    *workflow.InMemoryStore
	Verification *verification.InMemoryStore
	Findings     *findings.InMemoryStore
	Lifetimes    *lifetime.InMemoryStore
	Seqnos       *lifetime.MemorySeqnos
	Decisions    *decision.InMemoryStore
	Outbox       *outbox.InMemoryStore

	ledger *lifetime.Ledger
	mu     sync.Mutex
}

func NewMemory() *Memory {
	m := &Memory{
		Workflows:    workflow.NewInMemoryStore(),
		Verification: verification.NewInMemoryStore(),
		Findings:     findings.NewInMemoryStore(),
		Lifetimes:    lifetime.NewInMemoryStore(),
		Seqnos:       lifetime.NewMemorySeqnos(),
		Decisions:    decision.NewInMemoryStore(),
		Outbox:       outbox.NewInMemoryStore(),
	}
	m.ledger = lifetime.NewLedger(m.Lifetimes, m.Seqnos)
	return m
}

// Stores returns the stores outside any transaction.
func (m *Memory) Stores() workflow.Stores {
	return workflow.Stores{
		Workflows:    m.Workflows,
		Verification: m.Verification,
		Findings:     m.Findings,
		Ledger:       m.ledger,
		Decisions:    m.Decisions,
		Outbox:       m.Outbox,
	}
}

// Ledger returns the data lifetime ledger over the memory stores.
func (m *Memory) Ledger() *lifetime.Ledger {
	return m.ledger
}

// RunInTx serializes commits and, when fn fails, reverts only the writes fn
// made. Rows other writers committed meanwhile stay put. Verification rows are
// written by auxiliary transactions that run concurrently with commits, so fn
// sees that store directly. Seqnos are never restored.
func (m *Memory) RunInTx(ctx context.Context, fn func(ctx context.Context, s workflow.Stores) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	workflows := m.Workflows.Begin()
	groups := m.Findings.Begin()
	facts := m.Lifetimes.Begin()
	decisions := m.Decisions.Begin()
	events := m.Outbox.Begin()
	stores := workflow.Stores{
		Workflows:    workflows,
		Verification: m.Verification,
		Findings:     groups,
		Ledger:       lifetime.NewLedger(facts, m.Seqnos),
		Decisions:    decisions,
		Outbox:       events,
	}
	if err := fn(ctx, stores); err != nil {
		events.Rollback()
		decisions.Rollback()
		facts.Rollback()
		groups.Rollback()
		workflows.Rollback()
		return err
	}
	return nil
}

// VerificationTx returns the runner for vendor request and result writes.
func (m *Memory) VerificationTx() verification.TxRunner {
	return m.Verification
}

// OutboxTx returns a relay runner that serializes with commits.
func (m *Memory) OutboxTx() outbox.TxRunner {
	return memoryOutboxTx{m: m}
}

type memoryOutboxTx struct {
	m *Memory
}

func (o memoryOutboxTx) RunInTx(ctx context.Context, fn func(ctx context.Context, s outbox.Store) error) error {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	tx := o.m.Outbox.Begin()
	if err := fn(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}
	return nil
}
