package decision

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

	"kycflow/internal/lifetime"
	"kycflow/internal/rules"
	"kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
)

func TestPostgresStore_SaveDecisionConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgres(db)
	d := &Decision{
		ID:              domain.DecisionID(uuid.New()),
		WorkflowID:      domain.WorkflowID(uuid.New()),
		RuleSetResultID: domain.DecisionID(uuid.New()),
		Verdict:         VerdictPass,
		ResultIDs:       []domain.VerificationResultID{domain.VerificationResultID(uuid.New())},
		Seqno:           9,
		CreatedAt:       time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO decisions")).
		WithArgs(d.ID.String(), d.WorkflowID.String(), d.RuleSetResultID.String(), "pass", nil, false,
			sqlmock.AnyArg(), int64(9), d.CreatedAt).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err = store.SaveDecision(context.Background(), d)
	assert.ErrorIs(t, err, sentinel.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetByWorkflow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgres(db)
	id, workflow, ruleSet, result := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "workflow_id", "rule_set_result_id", "verdict", "rule_name", "fixture_applied", "verification_result_ids", "seqno", "created_at"}).
		AddRow(id.String(), workflow.String(), ruleSet.String(), "fail", "ofac_hit", false, "{"+result.String()+"}", int64(12), at)
	mock.ExpectQuery(regexp.QuoteMeta("FROM decisions")).
		WithArgs(workflow.String()).
		WillReturnRows(rows)

	d, err := store.GetByWorkflow(context.Background(), domain.WorkflowID(workflow))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionID(id), d.ID)
	assert.Equal(t, VerdictFail, d.Verdict)
	assert.Equal(t, "ofac_hit", d.RuleName)
	assert.Equal(t, []domain.VerificationResultID{domain.VerificationResultID(result)}, d.ResultIDs)
	assert.Equal(t, lifetime.Seqno(12), d.Seqno)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetByWorkflowNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgres(db)
	workflow := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("FROM decisions")).
		WithArgs(workflow.String()).
		WillReturnError(sql.ErrNoRows)

	_, err = store.GetByWorkflow(context.Background(), domain.WorkflowID(workflow))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RuleSetResults(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgres(db)
	workflow := uuid.New()
	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	r := &RuleSetResult{
		ID:         domain.DecisionID(uuid.New()),
		WorkflowID: domain.WorkflowID(workflow),
		Executed:   false,
		Action:     rules.ActionPass,
		Seqno:      3,
		CreatedAt:  at,
	}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rule_set_results")).
		WithArgs(r.ID.String(), workflow.String(), false, "pass", nil, int64(3), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.SaveRuleSetResult(context.Background(), r))

	rows := sqlmock.NewRows([]string{"id", "workflow_id", "executed", "action", "rule_name", "seqno", "created_at"}).
		AddRow(r.ID.String(), workflow.String(), false, "pass", nil, int64(3), at)
	mock.ExpectQuery(regexp.QuoteMeta("FROM rule_set_results")).
		WithArgs(workflow.String()).
		WillReturnRows(rows)

	got, err := store.ListRuleSetResults(context.Background(), domain.WorkflowID(workflow))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, r.ID, got[0].ID)
	assert.False(t, got[0].Executed)
	assert.Empty(t, got[0].RuleName)
	assert.NoError(t, mock.ExpectationsWereMet())
}
