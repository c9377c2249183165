package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kycflow/internal/outbox"
	"kycflow/internal/telemetry"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/platform/sentinel"
	"kycflow/pkg/requestcontext"
)

var tracer = otel.Tracer("kycflow/internal/workflow")

// EventTransitioned is the outbox event type written on every committed transition.
const EventTransitioned = "workflow.transitioned"

// Step is the two phases of one (state, action) pair.
type Step[T any] struct {
	// Execute performs external calls. It runs outside any transaction and must
	// be safe to run again after a crash or a failed commit.
	Execute func(ctx context.Context) (T, error)
	// Commit persists what Execute produced and names the next state. wf is the
	// locked row and may be modified; the engine saves it. Commit must not do
	// network I/O.
	Commit func(ctx context.Context, s Stores, wf *Workflow, out T) (StateTag, error)
}

// Outcome reports a committed transition.
type Outcome struct {
	Workflow *Workflow
	From     StateTag
	To       StateTag
	Action   ActionName
}

// TransitionEvent is the payload of EventTransitioned.
type TransitionEvent struct {
	WorkflowID string    `json:"workflow_id"`
	Kind       Kind      `json:"kind"`
	TenantID   string    `json:"tenant_id"`
	From       StateTag  `json:"from"`
	To         StateTag  `json:"to"`
	Action     string    `json:"action"`
	Status     Status    `json:"status"`
	DecisionID string    `json:"decision_id,omitempty"`
	At         time.Time `json:"at"`
}

// Emitter receives fire-and-forget telemetry.
type Emitter interface {
	Emit(ev telemetry.Event) bool
}

// Engine runs steps against one graph.
type Engine struct {
	graph     *Graph
	tx        TxRunner
	logger    *slog.Logger
	metrics   *Metrics
	telemetry Emitter
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithTelemetry(t Emitter) Option {
	return func(e *Engine) {
		e.telemetry = t
	}
}

func NewEngine(graph *Graph, tx TxRunner, opts ...Option) *Engine {
	e := &Engine{graph: graph, tx: tx, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Graph() *Graph {
	return e.graph
}

// Emit forwards a telemetry event when an emitter is configured.
func (e *Engine) Emit(ev telemetry.Event) {
	if e.telemetry != nil {
		e.telemetry.Emit(ev)
	}
}

// Run executes action against wf and commits the resulting transition. The
// action is checked against the graph before anything runs. On any error the
// stored workflow is unchanged; external effects of Execute are not undone.
func Run[T any](ctx context.Context, e *Engine, wf *Workflow, action Action, step Step[T]) (*Outcome, error) {
	from := wf.State
	if wf.Kind != e.graph.Kind() {
		return nil, dErrors.Wrap(ErrUnknownKind, dErrors.CodeInvariantViolation,
			fmt.Sprintf("%s workflow run by %s engine", wf.Kind, e.graph.Kind()))
	}
	if !e.graph.Accepts(from, action.Name()) {
		e.metrics.IncActionFailure(wf.Kind, from, "accept")
		return nil, dErrors.Wrap(ErrActionNotAccepted, dErrors.CodeInvalidState,
			fmt.Sprintf("%s does not accept %s", from, action.Name()))
	}

	ctx, span := tracer.Start(ctx, "workflow.Run", trace.WithAttributes(
		attribute.String("workflow_id", wf.ID.String()),
		attribute.String("workflow_kind", string(wf.Kind)),
		attribute.String("state", string(from)),
		attribute.String("action", string(action.Name())),
	))
	defer span.End()

	start := time.Now()
	out, err := execute(ctx, step)
	e.metrics.ObservePhase(wf.Kind, "execute", time.Since(start))
	if err != nil {
		return nil, e.fail(ctx, span, wf, action, "execute", err)
	}

	start = time.Now()
	var committed Workflow
	err = e.tx.RunInTx(ctx, func(ctx context.Context, s Stores) error {
		ctx, commitSpan := tracer.Start(ctx, "workflow.Commit")
		defer commitSpan.End()

		locked, err := s.Workflows.GetForUpdate(ctx, wf.ID)
		if err != nil {
			return err
		}
		if locked.State != from {
			return dErrors.Wrap(ErrStaleState, dErrors.CodeInvalidState,
				fmt.Sprintf("workflow moved from %s to %s", from, locked.State))
		}
		next, err := step.Commit(ctx, s, locked, out)
		if err != nil {
			return err
		}
		if !e.graph.Allows(from, action.Name(), next) {
			return dErrors.Wrap(ErrIllegalTransition, dErrors.CodeInvariantViolation,
				fmt.Sprintf("%s --%s--> %s", from, action.Name(), next))
		}
		locked.State = next
		locked.UpdatedAt = requestcontext.Now(ctx)
		if err := s.Workflows.Update(ctx, locked); err != nil {
			return err
		}
		event, err := outbox.NewEvent(locked.ID.String(), EventTransitioned, transitionEvent(locked, from, action), locked.UpdatedAt)
		if err != nil {
			return err
		}
		if err := s.Outbox.Append(ctx, event); err != nil {
			return err
		}
		committed = *locked
		return nil
	})
	e.metrics.ObservePhase(wf.Kind, "commit", time.Since(start))
	if err != nil {
		return nil, e.fail(ctx, span, wf, action, "commit", classifyCommitErr(err))
	}

	e.metrics.IncTransition(wf.Kind, from, committed.State)
	e.logger.InfoContext(ctx, "workflow transitioned",
		"workflow_id", committed.ID.String(),
		"workflow_kind", string(committed.Kind),
		"action", string(action.Name()),
		"from", string(from),
		"to", string(committed.State),
		"status", string(committed.Status),
		"invocation_id", requestcontext.InvocationID(ctx),
	)
	e.Emit(telemetry.Event{
		Name:       EventTransitioned,
		Tenant:     committed.Tenant.String(),
		WorkflowID: committed.ID.String(),
		Attributes: map[string]string{"from": string(from), "to": string(committed.State)},
		At:         committed.UpdatedAt,
	})
	return &Outcome{Workflow: &committed, From: from, To: committed.State, Action: action.Name()}, nil
}

func execute[T any](ctx context.Context, step Step[T]) (T, error) {
	ctx, span := tracer.Start(ctx, "workflow.Execute")
	defer span.End()
	out, err := step.Execute(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (e *Engine) fail(ctx context.Context, span trace.Span, wf *Workflow, action Action, phase string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.metrics.IncActionFailure(wf.Kind, wf.State, phase)
	level := slog.LevelWarn
	if phase == "commit" {
		level = slog.LevelError
	}
	e.logger.Log(ctx, level, "workflow action failed",
		"workflow_id", wf.ID.String(),
		"workflow_kind", string(wf.Kind),
		"state", string(wf.State),
		"action", string(action.Name()),
		"phase", phase,
		"invocation_id", requestcontext.InvocationID(ctx),
		"error", err.Error(),
	)
	return err
}

func transitionEvent(wf *Workflow, from StateTag, action Action) TransitionEvent {
	ev := TransitionEvent{
		WorkflowID: wf.ID.String(),
		Kind:       wf.Kind,
		TenantID:   wf.Tenant.String(),
		From:       from,
		To:         wf.State,
		Action:     string(action.Name()),
		Status:     wf.Status,
		At:         wf.UpdatedAt,
	}
	if wf.DecisionID != nil {
		ev.DecisionID = wf.DecisionID.String()
	}
	return ev
}

// classifyCommitErr gives uncoded storage errors a code callers can branch on.
func classifyCommitErr(err error) error {
	var coded *dErrors.Error
	switch {
	case errors.As(err, &coded):
		return err
	case errors.Is(err, sentinel.ErrSerialization):
		return dErrors.Wrap(err, dErrors.CodeConflict, "commit aborted by a concurrent transaction")
	case errors.Is(err, sentinel.ErrLockNotAcquired):
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "workflow row lock not acquired")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "workflow not found")
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "commit timed out")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "commit workflow action")
}
