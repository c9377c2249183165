package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "kycflow/pkg/domain-errors"
)

// TestParseUUID_Invariants validates the parsing invariant:
// "IDs must be valid, non-empty, non-nil UUIDs"
//
// Justification: pure functions enforcing a domain invariant at trust
// boundaries (operator CLI, webhook payloads).
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseWorkflowID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseWorkflowID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseScopedVaultID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		valid := uuid.New()
		id, err := ParseWorkflowID(valid.String())
		require.NoError(t, err)
		assert.Equal(t, WorkflowID(valid), id)
		assert.Equal(t, valid.String(), id.String())
	})
}

func TestTypeDistinction(t *testing.T) {
	workflowID := WorkflowID(uuid.New())
	scopedVaultID := ScopedVaultID(uuid.New())

	// var _ WorkflowID = scopedVaultID // compile error
	assert.NotEqual(t, uuid.UUID(workflowID), uuid.UUID(scopedVaultID))
}

func TestNewTimeOrderedID(t *testing.T) {
	first := NewTimeOrderedID()
	second := NewTimeOrderedID()

	assert.Equal(t, uuid.Version(7), first.Version())
	assert.Less(t, first.String(), second.String())
}
