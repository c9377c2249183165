package lifetime

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"kycflow/pkg/platform/tx"
)

// SeqnoSource issues the global monotonic seqno. Issuance is never rolled back,
// so a seqno handed to an aborted transaction is simply skipped.
type SeqnoSource interface {
	Next(ctx context.Context) (Seqno, error)
	Current(ctx context.Context) (Seqno, error)
}

// MemorySeqnos is an in-process counter. It lives outside any in-memory
// transaction snapshot, so a rollback does not rewind it.
type MemorySeqnos struct {
	seq atomic.Int64
}

// NewMemorySeqnos creates a counter starting at 0.
func NewMemorySeqnos() *MemorySeqnos {
	return &MemorySeqnos{}
}

// NewMemorySeqnosAt creates a counter resuming from start.
func NewMemorySeqnosAt(start Seqno) *MemorySeqnos {
	s := &MemorySeqnos{}
	s.seq.Store(int64(start))
	return s
}

func (s *MemorySeqnos) Next(_ context.Context) (Seqno, error) {
	return Seqno(s.seq.Add(1)), nil
}

func (s *MemorySeqnos) Current(_ context.Context) (Seqno, error) {
	return Seqno(s.seq.Load()), nil
}

// PostgresSeqnos reads the data_lifetime_seqno sequence. Sequence advances
// are non-transactional in Postgres, which gives the never-rolls-back property.
type PostgresSeqnos struct {
	db *sql.DB
}

func NewPostgresSeqnos(db *sql.DB) *PostgresSeqnos {
	return &PostgresSeqnos{db: db}
}

func (s *PostgresSeqnos) Next(ctx context.Context) (Seqno, error) {
	var n int64
	if err := tx.Pick(ctx, s.db).QueryRowContext(ctx, `SELECT nextval('data_lifetime_seqno')`).Scan(&n); err != nil {
		return 0, fmt.Errorf("next seqno: %w", err)
	}
	return Seqno(n), nil
}

func (s *PostgresSeqnos) Current(ctx context.Context) (Seqno, error) {
	var n int64
	query := `SELECT CASE WHEN is_called THEN last_value ELSE 0 END FROM data_lifetime_seqno`
	if err := tx.Pick(ctx, s.db).QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("current seqno: %w", err)
	}
	return Seqno(n), nil
}
