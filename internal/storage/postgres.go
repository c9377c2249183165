package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"kycflow/internal/decision"
	"kycflow/internal/findings"
	"kycflow/internal/lifetime"
	"kycflow/internal/outbox"
	"kycflow/internal/platform/postgres"
	"kycflow/internal/verification"
	"kycflow/internal/workflow"
	"kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/platform/tx"
)

const (
	defaultTxTimeout   = 10 * time.Second
	defaultLockTimeout = 2 * time.Second
)

// Postgres runs commits in database transactions. Stores pick the
// transaction up from the context.
type Postgres struct {
	db          *sql.DB
	stores      workflow.Stores
	timeout     time.Duration
	lockTimeout time.Duration
}

type PostgresOption func(*Postgres)

// WithTxTimeout bounds a transaction when the caller set no deadline.
func WithTxTimeout(d time.Duration) PostgresOption {
	return func(p *Postgres) {
		p.timeout = d
	}
}

// WithLockTimeout bounds how long a commit waits for a row lock.
func WithLockTimeout(d time.Duration) PostgresOption {
	return func(p *Postgres) {
		p.lockTimeout = d
	}
}

func NewPostgres(db *sql.DB, opts ...PostgresOption) *Postgres {
	p := &Postgres{
		db:          db,
		timeout:     defaultTxTimeout,
		lockTimeout: defaultLockTimeout,
		stores: workflow.Stores{
			Workflows:    workflow.NewPostgres(db),
			Verification: verification.NewPostgres(db),
			Findings:     findings.NewPostgres(db),
			Ledger:       lifetime.NewLedger(lifetime.NewPostgres(db), lifetime.NewPostgresSeqnos(db)),
			Decisions:    decision.NewPostgres(db),
			Outbox:       outbox.NewPostgres(db),
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stores returns the stores. Outside RunInTx each query autocommits.
func (p *Postgres) Stores() workflow.Stores {
	return p.stores
}

func (p *Postgres) RunInTx(ctx context.Context, fn func(ctx context.Context, s workflow.Stores) error) error {
	return p.inTx(ctx, func(ctx context.Context, _ *sql.Tx) error {
		return fn(ctx, p.stores)
	})
}

// VerificationTx returns the runner for the short transactions that record
// vendor requests and results.
func (p *Postgres) VerificationTx() verification.TxRunner {
	return verificationTx{p: p}
}

// OutboxTx returns the runner the relay claims batches with.
func (p *Postgres) OutboxTx() outbox.TxRunner {
	return outboxTx{p: p}
}

func (p *Postgres) inTx(ctx context.Context, fn func(ctx context.Context, sqlTx *sql.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	sqlTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", postgres.Classify(err))
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if p.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", p.lockTimeout.Milliseconds())
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("set lock timeout: %w", postgres.Classify(err))
		}
	}

	if err := fn(tx.WithTx(ctx, sqlTx), sqlTx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", postgres.Classify(err))
	}
	return nil
}

type verificationTx struct {
	p *Postgres
}

func (v verificationTx) RunInTx(ctx context.Context, fn func(verification.Store) error) error {
	return v.p.inTx(ctx, func(_ context.Context, sqlTx *sql.Tx) error {
		return fn(boundVerification{store: v.p.stores.Verification, tx: sqlTx})
	})
}

type outboxTx struct {
	p *Postgres
}

func (o outboxTx) RunInTx(ctx context.Context, fn func(ctx context.Context, s outbox.Store) error) error {
	return o.p.inTx(ctx, func(ctx context.Context, _ *sql.Tx) error {
		return fn(ctx, o.p.stores.Outbox)
	})
}

// boundVerification runs every call on one transaction whatever context the
// caller passes.
type boundVerification struct {
	store verification.Store
	tx    *sql.Tx
}

func (b boundVerification) GetOrCreateIntent(ctx context.Context, scopedVault domain.ScopedVaultID, workflowID domain.WorkflowID, kind verification.IntentKind) (*verification.DecisionIntent, error) {
	return b.store.GetOrCreateIntent(tx.WithTx(ctx, b.tx), scopedVault, workflowID, kind)
}

func (b boundVerification) CreateRequest(ctx context.Context, req *verification.Request) error {
	return b.store.CreateRequest(tx.WithTx(ctx, b.tx), req)
}

func (b boundVerification) SaveResult(ctx context.Context, res *verification.Result) error {
	return b.store.SaveResult(tx.WithTx(ctx, b.tx), res)
}

func (b boundVerification) ListAttempts(ctx context.Context, intentID domain.DecisionIntentID) ([]verification.Attempt, error) {
	return b.store.ListAttempts(tx.WithTx(ctx, b.tx), intentID)
}

func (b boundVerification) GetAttempt(ctx context.Context, resultID domain.VerificationResultID) (*verification.Attempt, error) {
	return b.store.GetAttempt(tx.WithTx(ctx, b.tx), resultID)
}
