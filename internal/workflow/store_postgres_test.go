package workflow

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
	"kycflow/pkg/platform/tx"
)

var workflowRowColumns = []string{"id", "kind", "tenant_id", "vault_id", "scoped_vault_id", "state", "status",
	"authorized_at", "decision_id", "document_id", "created_at", "updated_at"}

func newWorkflow(at time.Time) *Workflow {
	return &Workflow{
		ID:          domain.WorkflowID(uuid.New()),
		Kind:        KindKYC,
		Tenant:      domain.TenantID(uuid.New()),
		Vault:       domain.VaultID(uuid.New()),
		ScopedVault: domain.ScopedVaultID(uuid.New()),
		State:       StateDataCollection,
		Status:      StatusNone,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

func TestPostgresStore_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	wf := newWorkflow(at)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO workflows")).
		WithArgs(wf.ID.String(), "kyc", wf.Tenant.String(), wf.Vault.String(), wf.ScopedVault.String(),
			"data_collection", "none", nil, nil, nil, at, at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewPostgres(db).Create(context.Background(), wf))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO workflows")).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err = NewPostgres(db).Create(context.Background(), newWorkflow(time.Now()))
	assert.ErrorIs(t, err, sentinel.ErrConflict)
}

func TestPostgresStore_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	wf := newWorkflow(at)
	decisionID := uuid.New()
	rows := sqlmock.NewRows(workflowRowColumns).
		AddRow(wf.ID.String(), "kyc", wf.Tenant.String(), wf.Vault.String(), wf.ScopedVault.String(),
			"complete", "pass", at, decisionID.String(), nil, at, at)
	mock.ExpectQuery(regexp.QuoteMeta("FROM workflows WHERE id = $1")).
		WithArgs(wf.ID.String()).
		WillReturnRows(rows)

	got, err := NewPostgres(db).Get(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, StateComplete, got.State)
	assert.Equal(t, StatusPass, got.Status)
	require.NotNil(t, got.AuthorizedAt)
	require.NotNil(t, got.DecisionID)
	assert.Equal(t, domain.DecisionID(decisionID), *got.DecisionID)
	assert.Nil(t, got.DocumentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM workflows")).WillReturnError(sql.ErrNoRows)

	_, err = NewPostgres(db).Get(context.Background(), domain.WorkflowID(uuid.New()))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestPostgresStore_GetForUpdate(t *testing.T) {
	t.Run("requires a transaction", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		_, err = NewPostgres(db).GetForUpdate(context.Background(), domain.WorkflowID(uuid.New()))
		assert.ErrorIs(t, err, sentinel.ErrInvalidState)
	})

	t.Run("lock timeout is classified", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
			WillReturnError(&pgconn.PgError{Code: "55P03"})
		mock.ExpectRollback()

		sqlTx, err := db.Begin()
		require.NoError(t, err)
		ctx := tx.WithTx(context.Background(), sqlTx)
		_, err = NewPostgres(db).GetForUpdate(ctx, domain.WorkflowID(uuid.New()))
		assert.ErrorIs(t, err, sentinel.ErrLockNotAcquired)
		require.NoError(t, sqlTx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_Update(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	wf := newWorkflow(at)
	doc := domain.DocumentID(uuid.New())
	wf.State = StateDecisioning
	wf.DocumentID = &doc

	mock.ExpectExec(regexp.QuoteMeta("UPDATE workflows")).
		WithArgs(wf.ID.String(), "decisioning", "none", nil, nil, doc.String(), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, NewPostgres(db).Update(context.Background(), wf))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE workflows")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = NewPostgres(db).Update(context.Background(), wf)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListLinked(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	parent, owner := newWorkflow(at), newWorkflow(at)
	parent.Kind = KindKYB

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO workflow_links")).
		WithArgs(parent.ID.String(), owner.ID.String(), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	rows := sqlmock.NewRows(workflowRowColumns).
		AddRow(owner.ID.String(), "kyc", owner.Tenant.String(), owner.Vault.String(), owner.ScopedVault.String(),
			"vendor_calls", "pending", at, nil, nil, at, at)
	mock.ExpectQuery(regexp.QuoteMeta("FROM workflow_links")).
		WithArgs(parent.ID.String()).
		WillReturnRows(rows)

	store := NewPostgres(db)
	require.NoError(t, store.Link(context.Background(), parent.ID, owner.ID, at))
	linked, err := store.ListLinked(context.Background(), parent.ID)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, owner.ID, linked[0].ID)
	assert.Equal(t, StateVendorCalls, linked[0].State)
	assert.NoError(t, mock.ExpectationsWereMet())
}
