package decision

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"kycflow/internal/lifetime"
	"kycflow/internal/platform/postgres"
	"kycflow/internal/rules"
	"kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
	"kycflow/pkg/platform/tx"
)

// PostgresStore persists decisions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) SaveRuleSetResult(ctx context.Context, r *RuleSetResult) error {
	query := `
		INSERT INTO rule_set_results (id, workflow_id, executed, action, rule_name, seqno, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.Pick(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(r.ID),
		uuid.UUID(r.WorkflowID),
		r.Executed,
		string(r.Action),
		nullString(r.RuleName),
		int64(r.Seqno),
		r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save rule set result: %w", postgres.Classify(err))
	}
	return nil
}

func (s *PostgresStore) SaveDecision(ctx context.Context, d *Decision) error {
	query := `
		INSERT INTO decisions (id, workflow_id, rule_set_result_id, verdict, rule_name, fixture_applied, verification_result_ids, seqno, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::uuid[], $8, $9)
	`
	resultIDs := make([]string, len(d.ResultIDs))
	for i, id := range d.ResultIDs {
		resultIDs[i] = id.String()
	}
	_, err := tx.Pick(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(d.ID),
		uuid.UUID(d.WorkflowID),
		uuid.UUID(d.RuleSetResultID),
		string(d.Verdict),
		nullString(d.RuleName),
		d.FixtureApplied,
		pq.Array(resultIDs),
		int64(d.Seqno),
		d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save decision: %w", postgres.Classify(err))
	}
	return nil
}

func (s *PostgresStore) GetByWorkflow(ctx context.Context, workflowID domain.WorkflowID) (*Decision, error) {
	query := `
		SELECT id, workflow_id, rule_set_result_id, verdict, rule_name, fixture_applied, verification_result_ids, seqno, created_at
		FROM decisions
		WHERE workflow_id = $1
	`
	var (
		d                    Decision
		id, workflow, ruleID uuid.UUID
		verdict              string
		ruleName             sql.NullString
		resultIDs            []string
		seqno                int64
	)
	err := tx.Pick(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(workflowID)).
		Scan(&id, &workflow, &ruleID, &verdict, &ruleName, &d.FixtureApplied, pq.Array(&resultIDs), &seqno, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decision for workflow %s: %w", workflowID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	d.ID = domain.DecisionID(id)
	d.WorkflowID = domain.WorkflowID(workflow)
	d.RuleSetResultID = domain.DecisionID(ruleID)
	d.Verdict = Verdict(verdict)
	d.RuleName = ruleName.String
	d.Seqno = lifetime.Seqno(seqno)
	for _, raw := range resultIDs {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse justifying result id: %w", err)
		}
		d.ResultIDs = append(d.ResultIDs, domain.VerificationResultID(parsed))
	}
	return &d, nil
}

func (s *PostgresStore) ListRuleSetResults(ctx context.Context, workflowID domain.WorkflowID) ([]RuleSetResult, error) {
	query := `
		SELECT id, workflow_id, executed, action, rule_name, seqno, created_at
		FROM rule_set_results
		WHERE workflow_id = $1
		ORDER BY seqno, id
	`
	rows, err := tx.Pick(ctx, s.db).QueryContext(ctx, query, uuid.UUID(workflowID))
	if err != nil {
		return nil, fmt.Errorf("list rule set results: %w", err)
	}
	defer rows.Close()

	var out []RuleSetResult
	for rows.Next() {
		var (
			r            RuleSetResult
			id, workflow uuid.UUID
			action       string
			ruleName     sql.NullString
			seqno        int64
		)
		if err := rows.Scan(&id, &workflow, &r.Executed, &action, &ruleName, &seqno, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rule set result: %w", err)
		}
		r.ID = domain.DecisionID(id)
		r.WorkflowID = domain.WorkflowID(workflow)
		r.Action = rules.Action(action)
		r.RuleName = ruleName.String
		r.Seqno = lifetime.Seqno(seqno)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rule set results: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
