// Package versionsync brings running workflows up to the latest template version.
package versionsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/procflow/pkg/duedate"
	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/otelhelper"
	"github.com/dukex/procflow/pkg/performers"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/retry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Report summarizes one sync run.
type Report struct {
	TemplateID      string
	Version         int
	Synced          int
	OwnersRefreshed int
	Skipped         int
	Failed          map[string]error
}

type Service struct {
	templates persistence.TemplateRepository
	workflows persistence.WorkflowRepository
	resolver  *performers.Resolver
	notifier  events.Notifier
	logger    *slog.Logger
	tracer    trace.Tracer
	policy    retry.Policy
	newID     func() string
}

type Option func(*Service)

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

func WithRetryPolicy(policy retry.Policy) Option {
	return func(s *Service) {
		s.policy = policy
	}
}

// WithIDGenerator replaces the generator used for inserted task ids.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		s.newID = newID
	}
}

func NewService(
	templates persistence.TemplateRepository,
	workflows persistence.WorkflowRepository,
	resolver *performers.Resolver,
	notifier events.Notifier,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		templates: templates,
		workflows: workflows,
		resolver:  resolver,
		notifier:  notifier,
		logger:    logger.With("module", "version_sync"),
		tracer:    otelhelper.NoopTracer(),
		policy:    retry.DefaultPolicy(),
		newID:     uuid.NewString,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Sync applies snapshot version of templateID to every workflow still on an
// older version. Each workflow is diffed and updated in its own lock scope;
// a failing workflow is reported and does not stop the others. A cancelled
// context stops the run between workflows.
func (s *Service) Sync(ctx context.Context, templateID string, version int, changedBy string) (*Report, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "versionsync.Sync",
		attribute.String(otelhelper.TemplateIDKey, templateID),
		attribute.Int(otelhelper.VersionKey, version),
		attribute.String(otelhelper.UserIDKey, changedBy),
	)
	defer span.End()

	snapshot, err := s.templates.Snapshot(ctx, templateID, version)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	ids, err := s.workflows.ListForSync(ctx, templateID, version)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	report := &Report{
		TemplateID: templateID,
		Version:    version,
		Failed:     make(map[string]error),
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			s.logger.WarnContext(ctx, "Version sync cancelled", "template_id", templateID, "version", version, "error", err)

			return report, err
		}

		outcome, err := s.syncOne(ctx, id, snapshot)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to sync workflow", "workflow_id", id, "version", version, "error", err)
			report.Failed[id] = err

			continue
		}

		switch outcome {
		case outcomeSynced:
			report.Synced++
		case outcomeOwners:
			report.OwnersRefreshed++
		case outcomeSkipped:
			report.Skipped++
		}
	}

	s.logger.InfoContext(ctx, "Version sync finished",
		"template_id", templateID,
		"version", version,
		"synced", report.Synced,
		"owners_refreshed", report.OwnersRefreshed,
		"skipped", report.Skipped,
		"failed", len(report.Failed))

	return report, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSynced
	outcomeOwners
)

func (s *Service) syncOne(ctx context.Context, workflowID string, snapshot *models.TemplateSnapshot) (outcome, error) {
	var (
		result outcome
		outbox []notice
	)

	err := retry.Do(ctx, s.policy, s.logger, "versionsync", func() error {
		result = outcomeSkipped
		outbox = nil

		_, err := s.workflows.Update(ctx, workflowID, func(wf *models.Workflow) error {
			if wf.Version >= snapshot.Version {
				return persistence.ErrSkipUpdate
			}

			if wf.IsFinished() {
				wf.Owners = append([]string(nil), snapshot.Owners...)
				result = outcomeOwners

				return nil
			}

			applied, err := s.apply(ctx, wf, snapshot)
			if err != nil {
				return err
			}

			outbox = applied
			result = outcomeSynced

			return nil
		})

		return err
	})
	if err != nil {
		return outcomeSkipped, err
	}

	for _, n := range outbox {
		if err := s.notifier.Notify(ctx, n.kind, n.taskID, n.recipients, n.payload); err != nil {
			s.logger.ErrorContext(ctx, "Failed to dispatch notification", "kind", n.kind, "task_id", n.taskID, "error", err)
		}
	}

	return result, nil
}

type notice struct {
	kind       events.NotificationKind
	taskID     string
	recipients []string
	payload    map[string]any
}

// ErrNoCurrentTask indicates a running workflow whose current task vanished.
var ErrNoCurrentTask = errors.New("running workflow has no current task")

func (s *Service) apply(ctx context.Context, wf *models.Workflow, snapshot *models.TemplateSnapshot) ([]notice, error) {
	outbox := make([]notice, 0)

	current := wf.Current()
	if current == nil {
		return nil, ErrNoCurrentTask
	}

	plan := diff(wf, snapshot)

	for _, task := range plan.removed {
		recipients := task.PendingPerformerIDs()
		if len(recipients) > 0 {
			outbox = append(outbox, notice{
				kind:       events.TaskRemoved,
				taskID:     task.ID,
				recipients: recipients,
				payload:    map[string]any{"workflow_id": wf.ID, "task_name": task.Name},
			})
		}
	}

	tasks := make([]*models.Task, 0, len(plan.order))
	retemplated := make([]*models.Task, 0)

	for _, entry := range plan.order {
		task := entry.task

		switch {
		case task == nil:
			task = models.NewTaskFromTemplate(s.newID(), *entry.template)
		case entry.template != nil && task.Status != models.TaskStatusCompleted && task.Status != models.TaskStatusSkipped:
			task.ApplyTemplate(*entry.template)
			retemplated = append(retemplated, task)
		}

		tasks = append(tasks, task)
	}

	for i, task := range tasks {
		task.Number = i + 1
	}

	wf.Tasks = tasks
	wf.CurrentTask = current.Number
	wf.Version = snapshot.Version
	wf.Description = snapshot.Description
	wf.Owners = append([]string(nil), snapshot.Owners...)
	wf.Finalizable = snapshot.Finalizable

	refreshFields(wf, snapshot)
	dropDanglingReferences(wf)

	for _, task := range retemplated {
		if len(task.Performers) == 0 {
			continue
		}

		removed, err := s.resolver.Prune(ctx, wf, task)
		if err != nil {
			return nil, err
		}

		if len(removed) > 0 {
			outbox = append(outbox, notice{
				kind:       events.TaskRemoved,
				taskID:     task.ID,
				recipients: removed,
				payload:    map[string]any{"workflow_id": wf.ID, "task_name": task.Name},
			})
		}
	}

	for _, task := range wf.Tasks {
		if task.Status != models.TaskStatusActive {
			continue
		}

		result, err := s.resolver.Resolve(ctx, wf, task)
		if err != nil {
			return nil, err
		}

		if len(result.Added) > 0 {
			outbox = append(outbox, notice{
				kind:       events.TaskActivated,
				taskID:     task.ID,
				recipients: result.Added,
				payload:    map[string]any{"workflow_id": wf.ID, "task_name": task.Name},
			})
		}

		task.DueDate = duedate.ComputeDueDate(wf, task)
	}

	s.logger.InfoContext(ctx, "Workflow synced",
		"workflow_id", wf.ID,
		"version", wf.Version,
		"added", plan.added,
		"removed", len(plan.removed),
		"retained", plan.retained)

	return outbox, nil
}
