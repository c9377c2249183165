package findings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kycflow/internal/lifetime"
	"kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
	"kycflow/pkg/requestcontext"
)

// Store persists groups and their signals. Nothing is updated in place.
type Store interface {
	CreateGroup(ctx context.Context, group *Group) error
	AppendSignals(ctx context.Context, signals []RiskSignal) error
	// LatestGroup returns the most recent group of kind, or sentinel.ErrNotFound.
	LatestGroup(ctx context.Context, workflowID domain.WorkflowID, kind Kind) (*Group, error)
	ListSignals(ctx context.Context, groupID domain.RiskSignalGroupID) ([]RiskSignal, error)
}

// Scope identifies whose findings are being written.
type Scope struct {
	WorkflowID  domain.WorkflowID
	ScopedVault domain.ScopedVaultID
}

// Record starts a new group of kind holding found. The new group supersedes
// any earlier group of the same kind for the workflow.
func Record(ctx context.Context, store Store, scope Scope, kind Kind, seqno lifetime.Seqno, found []Finding) (*Set, error) {
	group := &Group{
		ID:           domain.RiskSignalGroupID(domain.NewTimeOrderedID()),
		WorkflowID:   scope.WorkflowID,
		ScopedVault:  scope.ScopedVault,
		Kind:         kind,
		CreatedSeqno: seqno,
		CreatedAt:    requestcontext.Now(ctx),
	}
	if err := store.CreateGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("record %s findings: %w", kind, err)
	}
	signals := toSignals(group, seqno, group.CreatedAt, found)
	if err := store.AppendSignals(ctx, signals); err != nil {
		return nil, fmt.Errorf("record %s findings: %w", kind, err)
	}
	return &Set{Group: *group, Signals: signals}, nil
}

// AppendToLatest adds found to the latest group of kind, creating the group
// when the workflow has none yet. Earlier signals are kept.
func AppendToLatest(ctx context.Context, store Store, scope Scope, kind Kind, seqno lifetime.Seqno, found []Finding) (*Set, error) {
	group, err := store.LatestGroup(ctx, scope.WorkflowID, kind)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Record(ctx, store, scope, kind, seqno, found)
	}
	if err != nil {
		return nil, fmt.Errorf("append %s findings: %w", kind, err)
	}
	signals := toSignals(group, seqno, requestcontext.Now(ctx), found)
	if err := store.AppendSignals(ctx, signals); err != nil {
		return nil, fmt.Errorf("append %s findings: %w", kind, err)
	}
	all, err := store.ListSignals(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("append %s findings: %w", kind, err)
	}
	return &Set{Group: *group, Signals: all}, nil
}

// Latest loads the latest set of each requested kind. Kinds without a group
// are absent from the result.
func Latest(ctx context.Context, store Store, workflowID domain.WorkflowID, kinds ...Kind) (map[Kind]Set, error) {
	out := make(map[Kind]Set, len(kinds))
	for _, kind := range kinds {
		group, err := store.LatestGroup(ctx, workflowID, kind)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load latest %s findings: %w", kind, err)
		}
		signals, err := store.ListSignals(ctx, group.ID)
		if err != nil {
			return nil, fmt.Errorf("load latest %s findings: %w", kind, err)
		}
		out[kind] = Set{Group: *group, Signals: signals}
	}
	return out, nil
}

// AllKinds lists every finding kind in a stable order.
func AllKinds() []Kind {
	return []Kind{KindKYC, KindKYB, KindAML, KindDocument, KindBehavior}
}

func toSignals(group *Group, seqno lifetime.Seqno, at time.Time, found []Finding) []RiskSignal {
	signals := make([]RiskSignal, len(found))
	for i, f := range found {
		signals[i] = RiskSignal{
			ID:           domain.RiskSignalID(domain.NewTimeOrderedID()),
			GroupID:      group.ID,
			ReasonCode:   f.ReasonCode,
			VendorAPI:    f.VendorAPI,
			ResultID:     f.ResultID,
			CreatedSeqno: seqno,
			CreatedAt:    at,
		}
	}
	return signals
}
