// Package engine is the workflow state machine. Every operation runs inside
// the per-workflow lock scope of the repository and is the only place where
// workflow and task statuses change.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/otelhelper"
	"github.com/dukex/procflow/pkg/performers"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Engine struct {
	workflows persistence.WorkflowRepository
	resolver  *performers.Resolver
	notifier  events.Notifier
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	newID     func() string
}

type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithIDGenerator replaces the generator used for task and delay ids.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		e.newID = newID
	}
}

func New(
	workflows persistence.WorkflowRepository,
	resolver *performers.Resolver,
	notifier events.Notifier,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		workflows: workflows,
		resolver:  resolver,
		notifier:  notifier,
		logger:    logger.With("module", "engine"),
		tracer:    otelhelper.NoopTracer(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     newUUID,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func newUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}

type notification struct {
	kind       events.NotificationKind
	taskID     string
	recipients []string
	payload    map[string]any
}

// scope is the state of one locked mutation. Notifications queued here are
// only dispatched after the repository committed the workflow.
type scope struct {
	ctx    context.Context
	engine *Engine
	wf     *models.Workflow
	now    time.Time
	outbox []notification
}

func (e *Engine) newScope(ctx context.Context, wf *models.Workflow) *scope {
	return &scope{
		ctx:    ctx,
		engine: e,
		wf:     wf,
		now:    e.now(),
	}
}

func (s *scope) notify(kind events.NotificationKind, task *models.Task, recipients []string) {
	if len(recipients) == 0 {
		return
	}

	payload := map[string]any{
		"workflow_id":   s.wf.ID,
		"workflow_name": s.wf.Name,
	}

	taskID := ""
	if task != nil {
		taskID = task.ID
		payload["task_number"] = task.Number
		payload["task_name"] = task.Name
	}

	s.outbox = append(s.outbox, notification{
		kind:       kind,
		taskID:     taskID,
		recipients: recipients,
		payload:    payload,
	})
}

// mutate runs fn on the locked workflow and dispatches its notifications once committed.
func (e *Engine) mutate(ctx context.Context, op, workflowID string, fn func(s *scope) error) (*models.Workflow, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine."+op,
		attribute.String(otelhelper.OperationKey, op),
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
	)
	defer span.End()

	var current *scope

	wf, err := e.workflows.Update(ctx, workflowID, func(wf *models.Workflow) error {
		current = e.newScope(ctx, wf)

		err := fn(current)
		if err != nil {
			current.outbox = nil
		}

		return err
	})
	if err != nil {
		otelhelper.SetError(span, err)

		if !IsValidationError(err) {
			e.logger.ErrorContext(ctx, "Workflow operation failed", "operation", op, "workflow_id", workflowID, "error", err)
		}

		return nil, err
	}

	if current != nil {
		e.dispatch(ctx, span, current.outbox)
	}

	return wf, nil
}

// dispatch delivers notifications. Failures are logged and never undo the committed transition.
func (e *Engine) dispatch(ctx context.Context, span trace.Span, outbox []notification) {
	for _, n := range outbox {
		err := e.notifier.Notify(ctx, n.kind, n.taskID, n.recipients, n.payload)
		if err != nil {
			otelhelper.SetError(span, err, attribute.String(otelhelper.NotificationKey, string(n.kind)))
			e.logger.ErrorContext(ctx, "Failed to dispatch notification",
				"kind", n.kind,
				"task_id", n.taskID,
				"error", err)
		}
	}
}

// GetWorkflow reads a workflow without locking it.
func (e *Engine) GetWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return e.workflows.GetByID(ctx, workflowID)
}
