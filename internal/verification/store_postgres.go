package verification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"kycflow/internal/platform/postgres"
	"kycflow/internal/vendor"
	"kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
	"kycflow/pkg/platform/tx"
	"kycflow/pkg/requestcontext"
)

// PostgresStore persists intents, requests and results in PostgreSQL.
// Queries run on the transaction carried by ctx when there is one.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetOrCreateIntent(ctx context.Context, scopedVault domain.ScopedVaultID, workflowID domain.WorkflowID, kind IntentKind) (*DecisionIntent, error) {
	query := `
		INSERT INTO decision_intents (id, kind, scoped_vault_id, workflow_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (scoped_vault_id, workflow_id, kind) DO UPDATE SET
			kind = EXCLUDED.kind
		RETURNING id, kind, scoped_vault_id, workflow_id, created_at
	`
	row := tx.Pick(ctx, s.db).QueryRowContext(ctx, query,
		uuid.New(), string(kind), uuid.UUID(scopedVault), uuid.UUID(workflowID), requestcontext.Now(ctx))

	var (
		intent              DecisionIntent
		id, vault, workflow uuid.UUID
		rawKind             string
	)
	if err := row.Scan(&id, &rawKind, &vault, &workflow, &intent.CreatedAt); err != nil {
		return nil, fmt.Errorf("get or create decision intent: %w", postgres.Classify(err))
	}
	intent.ID = domain.DecisionIntentID(id)
	intent.Kind = IntentKind(rawKind)
	intent.ScopedVault = domain.ScopedVaultID(vault)
	intent.WorkflowID = domain.WorkflowID(workflow)
	return &intent, nil
}

func (s *PostgresStore) CreateRequest(ctx context.Context, req *Request) error {
	query := `
		INSERT INTO verification_requests (id, decision_intent_id, vendor_api, scoped_vault_id, document_id, fingerprint, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.Pick(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(req.ID),
		uuid.UUID(req.IntentID),
		string(req.VendorAPI),
		uuid.UUID(req.ScopedVault),
		nullDocumentID(req.DocumentID),
		req.Fingerprint,
		req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create verification request: %w", postgres.Classify(err))
	}
	return nil
}

func (s *PostgresStore) SaveResult(ctx context.Context, res *Result) error {
	query := `
		INSERT INTO verification_results (id, request_id, payload, is_error, pending, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := tx.Pick(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(res.ID),
		uuid.UUID(res.RequestID),
		res.Payload,
		res.IsError,
		res.Pending,
		res.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save verification result: %w", postgres.Classify(err))
	}
	return nil
}

const attemptColumns = `
	r.id, r.decision_intent_id, r.vendor_api, r.scoped_vault_id, r.document_id, r.fingerprint, r.created_at,
	res.id, res.payload, res.is_error, res.pending, res.created_at`

func (s *PostgresStore) ListAttempts(ctx context.Context, intentID domain.DecisionIntentID) ([]Attempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM verification_requests r
		LEFT JOIN verification_results res ON res.request_id = r.id
		WHERE r.decision_intent_id = $1
		ORDER BY r.created_at, r.id
	`
	rows, err := tx.Pick(ctx, s.db).QueryContext(ctx, query, uuid.UUID(intentID))
	if err != nil {
		return nil, fmt.Errorf("list verification attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verification attempts: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetAttempt(ctx context.Context, resultID domain.VerificationResultID) (*Attempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM verification_results res
		JOIN verification_requests r ON r.id = res.request_id
		WHERE res.id = $1
	`
	a, err := scanAttempt(tx.Pick(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(resultID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get verification result %s: %w", resultID, sentinel.ErrNotFound)
		}
		return nil, err
	}
	return a, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row scanner) (*Attempt, error) {
	var (
		a                            Attempt
		reqID, intentID, scopedVault uuid.UUID
		documentID, resultID         uuid.NullUUID
		vendorAPI                    string
		payload                      []byte
		isError, pending             sql.NullBool
		resultCreated                sql.NullTime
	)
	err := row.Scan(&reqID, &intentID, &vendorAPI, &scopedVault, &documentID, &a.Request.Fingerprint, &a.Request.CreatedAt,
		&resultID, &payload, &isError, &pending, &resultCreated)
	if err != nil {
		return nil, fmt.Errorf("scan verification attempt: %w", err)
	}
	a.Request.ID = domain.VerificationRequestID(reqID)
	a.Request.IntentID = domain.DecisionIntentID(intentID)
	a.Request.VendorAPI = vendor.API(vendorAPI)
	a.Request.ScopedVault = domain.ScopedVaultID(scopedVault)
	if documentID.Valid {
		doc := domain.DocumentID(documentID.UUID)
		a.Request.DocumentID = &doc
	}
	if resultID.Valid {
		a.Result = &Result{
			ID:        domain.VerificationResultID(resultID.UUID),
			RequestID: a.Request.ID,
			Payload:   payload,
			IsError:   isError.Bool,
			Pending:   pending.Bool,
			CreatedAt: resultCreated.Time,
		}
	}
	return &a, nil
}

func nullDocumentID(id *domain.DocumentID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*id), Valid: true}
}
