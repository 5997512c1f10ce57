package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/procflow/pkg/engine"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/retry"
)

var (
	// ErrWorkflowNotFound is returned when a workflow is not found.
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound
)

// Workflow runs engine operations and retries the ones that lost a lock race.
type Workflow struct {
	persistence persistence.Persistence
	engine      *engine.Engine
	logger      *slog.Logger
	policy      retry.Policy
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence, engine *engine.Engine, logger *slog.Logger, policy retry.Policy) *Workflow {
	return &Workflow{
		persistence: persistence,
		engine:      engine,
		logger:      logger.With("module", "workflow_service"),
		policy:      policy,
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// StartRequest names the template to run and the kickoff values.
type StartRequest struct {
	TemplateID string
	StarterID  string
	Name       string
	Kickoff    map[string]any
}

// Start runs the latest snapshot of an active template.
func (w *Workflow) Start(ctx context.Context, req StartRequest) (*models.Workflow, error) {
	if strings.TrimSpace(req.StarterID) == "" {
		return nil, ErrEmptyUserID
	}

	template, err := w.persistence.Templates().GetByID(ctx, req.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}

	if !template.IsActive {
		return nil, NewValidationError("Start", "TEMPLATE_INACTIVE", "template "+template.ID+" is not active", ErrTemplateActive)
	}

	snapshot, err := w.persistence.Templates().Snapshot(ctx, template.ID, template.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	return w.engine.StartWorkflow(ctx, engine.StartInput{
		Snapshot:  snapshot,
		AccountID: template.AccountID,
		StarterID: req.StarterID,
		Name:      req.Name,
		Kickoff:   req.Kickoff,
	})
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	return w.engine.GetWorkflow(ctx, id)
}

func (w *Workflow) run(ctx context.Context, op string, fn func() (*models.Workflow, error)) (*models.Workflow, error) {
	var wf *models.Workflow

	err := retry.Do(ctx, w.policy, w.logger, op, func() error {
		var err error

		wf, err = fn()

		return err
	})
	if err != nil {
		return nil, err
	}

	return wf, nil
}

func (w *Workflow) CompleteTask(ctx context.Context, workflowID string, taskNumber int, userID string, outputs map[string]any) (*models.Workflow, error) {
	return w.run(ctx, "CompleteTask", func() (*models.Workflow, error) {
		return w.engine.CompleteTask(ctx, workflowID, taskNumber, userID, outputs)
	})
}

func (w *Workflow) RevertTask(ctx context.Context, workflowID, userID string) (*models.Workflow, error) {
	return w.run(ctx, "RevertTask", func() (*models.Workflow, error) {
		return w.engine.RevertTask(ctx, workflowID, userID)
	})
}

func (w *Workflow) Terminate(ctx context.Context, workflowID, userID string) (*models.Workflow, error) {
	return w.run(ctx, "TerminateWorkflow", func() (*models.Workflow, error) {
		return w.engine.TerminateWorkflow(ctx, workflowID, userID)
	})
}

func (w *Workflow) Resume(ctx context.Context, workflowID, userID string) (*models.Workflow, error) {
	return w.run(ctx, "ResumeWorkflow", func() (*models.Workflow, error) {
		return w.engine.ResumeWorkflow(ctx, workflowID, userID)
	})
}

func (w *Workflow) Delay(ctx context.Context, workflowID, userID string, duration time.Duration) (*models.Workflow, error) {
	return w.run(ctx, "DelayWorkflow", func() (*models.Workflow, error) {
		return w.engine.DelayWorkflow(ctx, workflowID, userID, duration)
	})
}

func (w *Workflow) Finish(ctx context.Context, workflowID, userID string) (*models.Workflow, error) {
	return w.run(ctx, "FinishWorkflow", func() (*models.Workflow, error) {
		return w.engine.FinishWorkflow(ctx, workflowID, userID)
	})
}

func (w *Workflow) AddPerformer(ctx context.Context, workflowID string, taskNumber int, adminID, userID string) (*models.Workflow, error) {
	return w.run(ctx, "AddPerformer", func() (*models.Workflow, error) {
		return w.engine.AddPerformer(ctx, workflowID, taskNumber, adminID, userID)
	})
}

func (w *Workflow) RemovePerformer(ctx context.Context, workflowID string, taskNumber int, adminID, userID string) (*models.Workflow, error) {
	return w.run(ctx, "RemovePerformer", func() (*models.Workflow, error) {
		return w.engine.RemovePerformer(ctx, workflowID, taskNumber, adminID, userID)
	})
}

func (w *Workflow) ToggleChecklistItem(ctx context.Context, workflowID string, taskNumber int, userID, checklist, item string, selected bool) (*models.Workflow, error) {
	return w.run(ctx, "ToggleChecklistItem", func() (*models.Workflow, error) {
		return w.engine.ToggleChecklistItem(ctx, workflowID, taskNumber, userID, checklist, item, selected)
	})
}
