//go:build property

package lifetime

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"kycflow/pkg/domain"
)

// Property: successive Next calls are strictly increasing no matter how many
// in-memory rollbacks happen in between.
func TestSeqnoMonotonicAcrossRollbacks(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("next seqno never repeats or decreases", prop.ForAll(
		func(rollbacks []bool) bool {
			ctx := context.Background()
			store := NewInMemoryStore()
			ledger := NewLedger(store, NewMemorySeqnos())
			vault := domain.VaultID(uuid.New())
			owner := domain.ScopedVaultID(uuid.New())

			var last Seqno
			for _, rollback := range rollbacks {
				restore := store.Checkpoint()
				created, err := ledger.Create(ctx, vault, owner, []NewFact{{Kind: KindEmail}})
				if err != nil {
					return false
				}
				if created[0].CreatedSeqno <= last {
					return false
				}
				last = created[0].CreatedSeqno
				if rollback {
					restore()
				}
			}
			return true
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}

// Property: a fact created at N and deactivated at M is active exactly on [N, M)
// for its owner.
func TestActiveWindow(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	owner := domain.ScopedVaultID(uuid.New())

	properties.Property("active iff N <= q < M", prop.ForAll(
		func(n, span, q int64) bool {
			m := Seqno(n + span)
			f := DataLifetime{ScopedVault: owner, CreatedSeqno: Seqno(n), DeactivatedSeqno: &m}
			want := q >= n && q < n+span
			return f.IsActiveAt(Seqno(q), owner) == want
		},
		gen.Int64Range(0, 1000),
		gen.Int64Range(1, 1000),
		gen.Int64Range(0, 2500),
	))

	properties.TestingRun(t)
}
