package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kycflow/internal/platform/postgres"
	"kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
	"kycflow/pkg/platform/tx"
)

// PostgresStore persists workflows in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const workflowColumns = `id, kind, tenant_id, vault_id, scoped_vault_id, state, status, authorized_at, decision_id, document_id, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, wf *Workflow) error {
	query := `
		INSERT INTO workflows (` + workflowColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := tx.Pick(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(wf.ID),
		string(wf.Kind),
		uuid.UUID(wf.Tenant),
		uuid.UUID(wf.Vault),
		uuid.UUID(wf.ScopedVault),
		string(wf.State),
		string(wf.Status),
		nullTime(wf.AuthorizedAt),
		nullDecisionID(wf.DecisionID),
		nullDocumentID(wf.DocumentID),
		wf.CreatedAt,
		wf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create workflow: %w", postgres.Classify(err))
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id domain.WorkflowID) (*Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1`
	return s.get(ctx, query, id)
}

// GetForUpdate waits for the row lock; the transaction's lock_timeout bounds
// the wait and surfaces as sentinel.ErrLockNotAcquired.
func (s *PostgresStore) GetForUpdate(ctx context.Context, id domain.WorkflowID) (*Workflow, error) {
	if _, ok := tx.From(ctx); !ok {
		return nil, fmt.Errorf("lock workflow %s outside a transaction: %w", id, sentinel.ErrInvalidState)
	}
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1 FOR UPDATE`
	return s.get(ctx, query, id)
}

func (s *PostgresStore) get(ctx context.Context, query string, id domain.WorkflowID) (*Workflow, error) {
	row := tx.Pick(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(id))
	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", postgres.Classify(err))
	}
	return wf, nil
}

func (s *PostgresStore) Update(ctx context.Context, wf *Workflow) error {
	query := `
		UPDATE workflows
		SET state = $2, status = $3, authorized_at = $4, decision_id = $5, document_id = $6, updated_at = $7
		WHERE id = $1
	`
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(wf.ID),
		string(wf.State),
		string(wf.Status),
		nullTime(wf.AuthorizedAt),
		nullDecisionID(wf.DecisionID),
		nullDocumentID(wf.DocumentID),
		wf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update workflow: %w", postgres.Classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update workflow %s: %w", wf.ID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Link(ctx context.Context, parent, child domain.WorkflowID, at time.Time) error {
	query := `
		INSERT INTO workflow_links (parent_id, child_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (parent_id, child_id) DO NOTHING
	`
	if _, err := tx.Pick(ctx, s.db).ExecContext(ctx, query, uuid.UUID(parent), uuid.UUID(child), at); err != nil {
		return fmt.Errorf("link workflows: %w", postgres.Classify(err))
	}
	return nil
}

func (s *PostgresStore) ListLinked(ctx context.Context, parent domain.WorkflowID) ([]Workflow, error) {
	query := `
		SELECT w.id, w.kind, w.tenant_id, w.vault_id, w.scoped_vault_id, w.state, w.status,
			w.authorized_at, w.decision_id, w.document_id, w.created_at, w.updated_at
		FROM workflow_links l
		JOIN workflows w ON w.id = l.child_id
		WHERE l.parent_id = $1
		ORDER BY l.created_at, w.id
	`
	rows, err := tx.Pick(ctx, s.db).QueryContext(ctx, query, uuid.UUID(parent))
	if err != nil {
		return nil, fmt.Errorf("list linked workflows: %w", err)
	}
	defer rows.Close()

	var out []Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan linked workflow: %w", err)
		}
		out = append(out, *wf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate linked workflows: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row scanner) (*Workflow, error) {
	var (
		wf                        Workflow
		id, tenant, vault, scoped uuid.UUID
		kind, state, status       string
		authorizedAt              sql.NullTime
		decisionID, documentID    uuid.NullUUID
	)
	if err := row.Scan(&id, &kind, &tenant, &vault, &scoped, &state, &status,
		&authorizedAt, &decisionID, &documentID, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	wf.ID = domain.WorkflowID(id)
	wf.Kind = Kind(kind)
	wf.Tenant = domain.TenantID(tenant)
	wf.Vault = domain.VaultID(vault)
	wf.ScopedVault = domain.ScopedVaultID(scoped)
	wf.State = StateTag(state)
	wf.Status = Status(status)
	if authorizedAt.Valid {
		t := authorizedAt.Time
		wf.AuthorizedAt = &t
	}
	if decisionID.Valid {
		d := domain.DecisionID(decisionID.UUID)
		wf.DecisionID = &d
	}
	if documentID.Valid {
		d := domain.DocumentID(documentID.UUID)
		wf.DocumentID = &d
	}
	return &wf, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullDecisionID(id *domain.DecisionID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*id), Valid: true}
}

func nullDocumentID(id *domain.DocumentID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*id), Valid: true}
}
