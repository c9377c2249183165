package findings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"kycflow/internal/lifetime"
	"kycflow/internal/platform/postgres"
	"kycflow/internal/vendor"
	"kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
	"kycflow/pkg/platform/tx"
)

// PostgresStore persists risk signals in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateGroup(ctx context.Context, group *Group) error {
	query := `
		INSERT INTO risk_signal_groups (id, workflow_id, scoped_vault_id, kind, seqno, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := tx.Pick(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(group.ID),
		uuid.UUID(group.WorkflowID),
		uuid.UUID(group.ScopedVault),
		string(group.Kind),
		int64(group.CreatedSeqno),
		group.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create risk signal group: %w", postgres.Classify(err))
	}
	return nil
}

func (s *PostgresStore) AppendSignals(ctx context.Context, signals []RiskSignal) error {
	query := `
		INSERT INTO risk_signals (id, group_id, reason_code, vendor_api, verification_result_id, seqno, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	exec := tx.Pick(ctx, s.db)
	for _, sig := range signals {
		var vendorAPI sql.NullString
		if sig.VendorAPI != nil {
			vendorAPI = sql.NullString{String: string(*sig.VendorAPI), Valid: true}
		}
		var resultID uuid.NullUUID
		if sig.ResultID != nil {
			resultID = uuid.NullUUID{UUID: uuid.UUID(*sig.ResultID), Valid: true}
		}
		_, err := exec.ExecContext(ctx, query,
			uuid.UUID(sig.ID),
			uuid.UUID(sig.GroupID),
			string(sig.ReasonCode),
			vendorAPI,
			resultID,
			int64(sig.CreatedSeqno),
			sig.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("append risk signal: %w", postgres.Classify(err))
		}
	}
	return nil
}

func (s *PostgresStore) LatestGroup(ctx context.Context, workflowID domain.WorkflowID, kind Kind) (*Group, error) {
	query := `
		SELECT id, workflow_id, scoped_vault_id, kind, seqno, created_at
		FROM risk_signal_groups
		WHERE workflow_id = $1 AND kind = $2
		ORDER BY seqno DESC, id DESC
		LIMIT 1
	`
	var (
		g                   Group
		id, workflow, vault uuid.UUID
		rawKind             string
		seqno               int64
	)
	err := tx.Pick(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(workflowID), string(kind)).
		Scan(&id, &workflow, &vault, &rawKind, &seqno, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest %s group for workflow %s: %w", kind, workflowID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest risk signal group: %w", err)
	}
	g.ID = domain.RiskSignalGroupID(id)
	g.WorkflowID = domain.WorkflowID(workflow)
	g.ScopedVault = domain.ScopedVaultID(vault)
	g.Kind = Kind(rawKind)
	g.CreatedSeqno = lifetime.Seqno(seqno)
	return &g, nil
}

func (s *PostgresStore) ListSignals(ctx context.Context, groupID domain.RiskSignalGroupID) ([]RiskSignal, error) {
	query := `
		SELECT id, group_id, reason_code, vendor_api, verification_result_id, seqno, created_at
		FROM risk_signals
		WHERE group_id = $1
		ORDER BY seqno, id
	`
	rows, err := tx.Pick(ctx, s.db).QueryContext(ctx, query, uuid.UUID(groupID))
	if err != nil {
		return nil, fmt.Errorf("list risk signals: %w", err)
	}
	defer rows.Close()

	var out []RiskSignal
	for rows.Next() {
		var (
			sig       RiskSignal
			id, group uuid.UUID
			code      string
			vendorAPI sql.NullString
			resultID  uuid.NullUUID
			seqno     int64
		)
		if err := rows.Scan(&id, &group, &code, &vendorAPI, &resultID, &seqno, &sig.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan risk signal: %w", err)
		}
		sig.ID = domain.RiskSignalID(id)
		sig.GroupID = domain.RiskSignalGroupID(group)
		sig.ReasonCode = ReasonCode(code)
		sig.CreatedSeqno = lifetime.Seqno(seqno)
		if vendorAPI.Valid {
			api := vendor.API(vendorAPI.String)
			sig.VendorAPI = &api
		}
		if resultID.Valid {
			rid := domain.VerificationResultID(resultID.UUID)
			sig.ResultID = &rid
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate risk signals: %w", err)
	}
	return out, nil
}
