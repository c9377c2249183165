package lifetime

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"kycflow/pkg/domain"
	"kycflow/pkg/platform/tx"
)

// PostgresStore persists data lifetimes in PostgreSQL.
// Queries run on the transaction carried by ctx when there is one.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const lifetimeColumns = `id, vault_id, scoped_vault_id, kind, created_at, created_seqno,
	portablized_at, portablized_seqno, deactivated_at, deactivated_seqno, source_lifetime_id`

func (s *PostgresStore) Insert(ctx context.Context, facts []DataLifetime) error {
	query := `
		INSERT INTO data_lifetimes (` + lifetimeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	exec := tx.Pick(ctx, s.db)
	for _, f := range facts {
		_, err := exec.ExecContext(ctx, query,
			uuid.UUID(f.ID),
			uuid.UUID(f.Vault),
			uuid.UUID(f.ScopedVault),
			string(f.Kind),
			f.CreatedAt,
			int64(f.CreatedSeqno),
			nullTime(f.PortablizedAt),
			nullSeqno(f.PortablizedSeqno),
			nullTime(f.DeactivatedAt),
			nullSeqno(f.DeactivatedSeqno),
			nullLifetimeID(f.Source),
		)
		if err != nil {
			return fmt.Errorf("insert data lifetime: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ListByIDs(ctx context.Context, ids []domain.DataLifetimeID) ([]DataLifetime, error) {
	query := `SELECT ` + lifetimeColumns + ` FROM data_lifetimes WHERE id = ANY($1::uuid[])`
	rows, err := tx.Pick(ctx, s.db).QueryContext(ctx, query, pq.Array(idStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("list data lifetimes by id: %w", err)
	}
	return scanLifetimes(rows)
}

func (s *PostgresStore) MarkPortablized(ctx context.Context, ids []domain.DataLifetimeID, seqno Seqno, at time.Time) error {
	query := `
		UPDATE data_lifetimes
		SET portablized_seqno = $2, portablized_at = $3
		WHERE id = ANY($1::uuid[]) AND portablized_seqno IS NULL
	`
	if _, err := tx.Pick(ctx, s.db).ExecContext(ctx, query, pq.Array(idStrings(ids)), int64(seqno), at); err != nil {
		return fmt.Errorf("portablize data lifetimes: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkDeactivated(ctx context.Context, ids []domain.DataLifetimeID, seqno Seqno, at time.Time) (int, error) {
	query := `
		UPDATE data_lifetimes
		SET deactivated_seqno = $2, deactivated_at = $3
		WHERE id = ANY($1::uuid[]) AND deactivated_seqno IS NULL
	`
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx, query, pq.Array(idStrings(ids)), int64(seqno), at)
	if err != nil {
		return 0, fmt.Errorf("deactivate data lifetimes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate data lifetimes: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) ListActive(ctx context.Context, vault domain.VaultID, requester domain.ScopedVaultID, seqno *Seqno) ([]DataLifetime, error) {
	var (
		rows *sql.Rows
		err  error
	)
	exec := tx.Pick(ctx, s.db)
	if seqno == nil {
		query := `
			SELECT ` + lifetimeColumns + `
			FROM data_lifetimes
			WHERE vault_id = $1
				AND deactivated_seqno IS NULL
				AND (portablized_seqno IS NOT NULL OR scoped_vault_id = $2)
			ORDER BY created_seqno, kind
		`
		rows, err = exec.QueryContext(ctx, query, uuid.UUID(vault), uuid.UUID(requester))
	} else {
		query := `
			SELECT ` + lifetimeColumns + `
			FROM data_lifetimes
			WHERE vault_id = $1
				AND created_seqno <= $3
				AND (deactivated_seqno IS NULL OR deactivated_seqno > $3)
				AND (portablized_seqno <= $3 OR scoped_vault_id = $2)
			ORDER BY created_seqno, kind
		`
		rows, err = exec.QueryContext(ctx, query, uuid.UUID(vault), uuid.UUID(requester), int64(*seqno))
	}
	if err != nil {
		return nil, fmt.Errorf("list active data lifetimes: %w", err)
	}
	return scanLifetimes(rows)
}

func scanLifetimes(rows *sql.Rows) ([]DataLifetime, error) {
	defer rows.Close()
	var out []DataLifetime
	for rows.Next() {
		var (
			f                                  DataLifetime
			id, vault, scopedVault             uuid.UUID
			kind                               string
			createdSeqno                       int64
			portablizedAt, deactivatedAt       sql.NullTime
			portablizedSeqno, deactivatedSeqno sql.NullInt64
			source                             uuid.NullUUID
		)
		if err := rows.Scan(&id, &vault, &scopedVault, &kind, &f.CreatedAt, &createdSeqno,
			&portablizedAt, &portablizedSeqno, &deactivatedAt, &deactivatedSeqno, &source); err != nil {
			return nil, fmt.Errorf("scan data lifetime: %w", err)
		}
		f.ID = domain.DataLifetimeID(id)
		f.Vault = domain.VaultID(vault)
		f.ScopedVault = domain.ScopedVaultID(scopedVault)
		f.Kind = Kind(kind)
		f.CreatedSeqno = Seqno(createdSeqno)
		f.PortablizedAt, f.PortablizedSeqno = stamp(portablizedAt, portablizedSeqno)
		f.DeactivatedAt, f.DeactivatedSeqno = stamp(deactivatedAt, deactivatedSeqno)
		if source.Valid {
			src := domain.DataLifetimeID(source.UUID)
			f.Source = &src
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate data lifetimes: %w", err)
	}
	return out, nil
}

func stamp(at sql.NullTime, seqno sql.NullInt64) (*time.Time, *Seqno) {
	if !at.Valid || !seqno.Valid {
		return nil, nil
	}
	t, s := at.Time, Seqno(seqno.Int64)
	return &t, &s
}

func idStrings(ids []domain.DataLifetimeID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullSeqno(s *Seqno) sql.NullInt64 {
	if s == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*s), Valid: true}
}

func nullLifetimeID(id *domain.DataLifetimeID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*id), Valid: true}
}
