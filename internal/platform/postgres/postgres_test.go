package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"kycflow/pkg/platform/sentinel"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{codeUniqueViolation, sentinel.ErrConflict},
		{codeSerializationFailure, sentinel.ErrSerialization},
		{codeDeadlockDetected, sentinel.ErrSerialization},
		{codeLockNotAvailable, sentinel.ErrLockNotAcquired},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			pgErr := &pgconn.PgError{Code: tc.code}
			err := Classify(pgErr)
			assert.ErrorIs(t, err, tc.want)
			assert.ErrorAs(t, err, &pgErr)
		})
	}

	t.Run("other errors pass through", func(t *testing.T) {
		plain := errors.New("connection refused")
		assert.Same(t, plain, Classify(plain))
	})
}

func TestSchemaEmbedded(t *testing.T) {
	assert.Contains(t, schema, "CREATE SEQUENCE IF NOT EXISTS data_lifetime_seqno")
	assert.Contains(t, schema, "UNIQUE (scoped_vault_id, workflow_id, kind)")
}
