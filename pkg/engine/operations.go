package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/procflow/pkg/duedate"
	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/otelhelper"
	"github.com/dukex/procflow/pkg/performers"
	"github.com/dukex/procflow/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

// CompleteTask records the completion of taskNumber by userID with the
// given output values. When the completion criterion is met the task is
// completed and the workflow advances.
func (e *Engine) CompleteTask(ctx context.Context, workflowID string, taskNumber int, userID string, outputs map[string]any) (*models.Workflow, error) {
	return e.mutate(ctx, "CompleteTask", workflowID, func(s *scope) error {
		if s.wf.IsFinished() {
			return ErrWorkflowFinished
		}

		task := s.wf.TaskByNumber(taskNumber)
		if task == nil {
			return fmt.Errorf("task %d: %w", taskNumber, ErrTaskNotFound)
		}

		if task.Status == models.TaskStatusCompleted {
			return fmt.Errorf("task %d: %w", taskNumber, ErrTaskAlreadyCompleted)
		}

		if task.Status != models.TaskStatusActive || task.Number != s.wf.CurrentTask {
			return fmt.Errorf("task %d is %s: %w", taskNumber, task.Status, ErrTaskNotActive)
		}

		if err := s.ensurePerformer(task, userID); err != nil {
			return err
		}

		if !task.ChecklistsComplete() {
			return fmt.Errorf("task %d: %w", taskNumber, ErrChecklistIncomplete)
		}

		if err := applyOutputs(s.wf, task, outputs); err != nil {
			return err
		}

		performers.MarkCompleted(task, userID, s.now)

		return s.completeIfReached(task)
	})
}

// ensurePerformer checks that userID may complete task. A workflow owner may
// complete a task nobody is assigned to and becomes its performer.
func (s *scope) ensurePerformer(task *models.Task, userID string) error {
	if task.IsPerformer(userID) {
		if task.Performer(userID).IsCompleted {
			return fmt.Errorf("task %d: %w", task.Number, ErrPerformerAlreadyCompleted)
		}

		return nil
	}

	if len(task.ActivePerformers()) == 0 && s.wf.IsOwner(userID) {
		return performers.AddDirect(s.wf, task, userID)
	}

	return fmt.Errorf("task %d: %w", task.Number, ErrNotPerformer)
}

// canControl reports whether userID may terminate, resume, delay or revert the
// workflow: owners always, performers of the current task while it is active.
func (s *scope) canControl(userID string) bool {
	if s.wf.IsOwner(userID) {
		return true
	}

	current := s.wf.Current()

	return current != nil && current.Status == models.TaskStatusActive && current.IsPerformer(userID)
}

// RevertTask returns the workflow to the task before the current one. The
// current task goes back to pending and the landing task becomes active with
// every performer completion cleared.
func (e *Engine) RevertTask(ctx context.Context, workflowID, userID string) (*models.Workflow, error) {
	return e.mutate(ctx, "RevertTask", workflowID, func(s *scope) error {
		if s.wf.IsFinished() {
			return ErrWorkflowFinished
		}

		if !s.canControl(userID) {
			return ErrPermissionDenied
		}

		current := s.wf.Current()
		if current == nil || current.Number <= 1 {
			return fmt.Errorf("no task before the current one: %w", ErrRevertNotAllowed)
		}

		landing := s.wf.TaskByNumber(current.Number - 1)
		if landing == nil || landing.Status != models.TaskStatusCompleted {
			return fmt.Errorf("task %d is not completed: %w", current.Number-1, ErrRevertNotAllowed)
		}

		if s.wf.Status == models.WorkflowStatusDelayed {
			if err := s.setWorkflowStatus(models.WorkflowStatusRunning); err != nil {
				return err
			}
		}

		if err := s.setTaskStatus(current, models.TaskStatusPending); err != nil {
			return err
		}

		s.wf.CurrentTask = landing.Number

		return s.setTaskStatus(landing, models.TaskStatusActive)
	})
}

func (e *Engine) TerminateWorkflow(ctx context.Context, workflowID, userID string) (*models.Workflow, error) {
	return e.mutate(ctx, "TerminateWorkflow", workflowID, func(s *scope) error {
		if s.wf.IsFinished() {
			return ErrWorkflowFinished
		}

		if !s.canControl(userID) {
			return ErrPermissionDenied
		}

		return s.setWorkflowStatus(models.WorkflowStatusTerminated)
	})
}

// ResumeWorkflow ends the delay of the current task before it elapses.
func (e *Engine) ResumeWorkflow(ctx context.Context, workflowID, userID string) (*models.Workflow, error) {
	return e.mutate(ctx, "ResumeWorkflow", workflowID, func(s *scope) error {
		if s.wf.IsFinished() {
			return ErrWorkflowFinished
		}

		if s.wf.Status != models.WorkflowStatusDelayed {
			return ErrWorkflowNotDelayed
		}

		if !s.canControl(userID) {
			return ErrPermissionDenied
		}

		return s.resumeCurrent()
	})
}

func (s *scope) resumeCurrent() error {
	if err := s.setWorkflowStatus(models.WorkflowStatusRunning); err != nil {
		return err
	}

	current := s.wf.Current()
	if current == nil || current.Status != models.TaskStatusDelayed {
		return nil
	}

	return s.setTaskStatus(current, models.TaskStatusActive)
}

// DelayWorkflow snoozes the current task for duration.
func (e *Engine) DelayWorkflow(ctx context.Context, workflowID, userID string, duration time.Duration) (*models.Workflow, error) {
	return e.mutate(ctx, "DelayWorkflow", workflowID, func(s *scope) error {
		if s.wf.IsFinished() {
			return ErrWorkflowFinished
		}

		if s.wf.Status == models.WorkflowStatusDelayed {
			return ErrWorkflowDelayed
		}

		if !s.canControl(userID) {
			return ErrPermissionDenied
		}

		current := s.wf.Current()
		if current == nil || current.Status != models.TaskStatusActive {
			return ErrTaskNotActive
		}

		return s.delayCurrent(current, duration)
	})
}

// FinishWorkflow completes a finalizable workflow early. The active current
// task is skipped and the remaining pending tasks are left untouched.
func (e *Engine) FinishWorkflow(ctx context.Context, workflowID, userID string) (*models.Workflow, error) {
	return e.mutate(ctx, "FinishWorkflow", workflowID, func(s *scope) error {
		if !s.wf.Finalizable {
			return ErrWorkflowNotFinalizable
		}

		if s.wf.IsFinished() {
			return ErrWorkflowFinished
		}

		if !s.wf.IsOwner(userID) {
			return ErrPermissionDenied
		}

		if s.wf.Status == models.WorkflowStatusDelayed {
			return ErrWorkflowDelayed
		}

		if current := s.wf.Current(); current != nil && current.Status == models.TaskStatusActive {
			if err := s.setTaskStatus(current, models.TaskStatusSkipped); err != nil {
				return err
			}
		}

		return s.setWorkflowStatus(models.WorkflowStatusDone)
	})
}

// ResumeExpiredDelays resumes every workflow whose current task delay elapsed
// at now. Each workflow is resumed in its own lock scope; a failure is logged
// and the sweep continues. Cancellation is honoured between workflows.
func (e *Engine) ResumeExpiredDelays(ctx context.Context, now time.Time) (int, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.ResumeExpiredDelays")
	defer span.End()

	refs, err := e.workflows.ExpiredDelays(ctx, now)
	if err != nil {
		otelhelper.SetError(span, err)

		return 0, fmt.Errorf("failed to list expired delays: %w", err)
	}

	resumed := 0

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return resumed, err
		}

		changed := false

		_, err := e.mutate(ctx, "ResumeExpiredDelay", ref.WorkflowID, func(s *scope) error {
			task := s.wf.TaskByID(ref.TaskID)
			if s.wf.IsFinished() || task == nil || !duedate.IsExpired(task.ActiveDelay(), now) {
				return persistence.ErrSkipUpdate
			}

			if task.Number != s.wf.CurrentTask || task.Status != models.TaskStatusDelayed {
				duedate.CloseDelay(task.ActiveDelay(), s.now)
				changed = true

				return nil
			}

			changed = true

			return s.resumeCurrent()
		})
		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to resume expired delay",
				"workflow_id", ref.WorkflowID,
				"task_id", ref.TaskID,
				"error", err)

			continue
		}

		if changed {
			resumed++
		}
	}

	span.SetAttributes(attribute.Int("procflow.delays.resumed", resumed))

	return resumed, nil
}

// AddPerformer assigns userID to a task that has not finished yet.
func (e *Engine) AddPerformer(ctx context.Context, workflowID string, taskNumber int, adminID, userID string) (*models.Workflow, error) {
	return e.mutate(ctx, "AddPerformer", workflowID, func(s *scope) error {
		task, err := s.adminTask(taskNumber, adminID)
		if err != nil {
			return err
		}

		if err := performers.AddDirect(s.wf, task, userID); err != nil {
			return fmt.Errorf("task %d: %w", taskNumber, err)
		}

		if task.Status == models.TaskStatusActive {
			s.notify(events.PerformerAdded, task, []string{userID})
		}

		return nil
	})
}

// RemovePerformer soft-deletes userID from the task, or excludes them ahead of
// resolution when they are not assigned yet. Removing the last pending
// performer of an active task may complete it.
func (e *Engine) RemovePerformer(ctx context.Context, workflowID string, taskNumber int, adminID, userID string) (*models.Workflow, error) {
	return e.mutate(ctx, "RemovePerformer", workflowID, func(s *scope) error {
		task, err := s.adminTask(taskNumber, adminID)
		if err != nil {
			return err
		}

		assigned := task.IsPerformer(userID)

		if err := performers.RemoveDirect(task, userID); err != nil {
			if errors.Is(err, performers.ErrNotPerformer) {
				return fmt.Errorf("task %d: %w", taskNumber, ErrNotPerformer)
			}

			return err
		}

		if assigned && task.Status == models.TaskStatusActive {
			s.notify(events.PerformerRemoved, task, []string{userID})
		}

		return s.completeIfReached(task)
	})
}

func (s *scope) adminTask(taskNumber int, adminID string) (*models.Task, error) {
	if s.wf.IsFinished() {
		return nil, ErrWorkflowFinished
	}

	if !s.wf.IsOwner(adminID) {
		return nil, ErrPermissionDenied
	}

	task := s.wf.TaskByNumber(taskNumber)
	if task == nil {
		return nil, fmt.Errorf("task %d: %w", taskNumber, ErrTaskNotFound)
	}

	if task.Status == models.TaskStatusCompleted || task.Status == models.TaskStatusSkipped {
		return nil, fmt.Errorf("task %d is %s: %w", taskNumber, task.Status, ErrTaskNotActive)
	}

	return task, nil
}

// ToggleChecklistItem selects or clears a checklist item of the active task.
func (e *Engine) ToggleChecklistItem(ctx context.Context, workflowID string, taskNumber int, userID, checklist, item string, selected bool) (*models.Workflow, error) {
	return e.mutate(ctx, "ToggleChecklistItem", workflowID, func(s *scope) error {
		if s.wf.IsFinished() {
			return ErrWorkflowFinished
		}

		task := s.wf.TaskByNumber(taskNumber)
		if task == nil {
			return fmt.Errorf("task %d: %w", taskNumber, ErrTaskNotFound)
		}

		if task.Status != models.TaskStatusActive {
			return fmt.Errorf("task %d is %s: %w", taskNumber, task.Status, ErrTaskNotActive)
		}

		if !task.IsPerformer(userID) && !s.wf.IsOwner(userID) {
			return ErrNotPerformer
		}

		for i := range task.Checklists {
			if task.Checklists[i].APIName != checklist {
				continue
			}

			for j := range task.Checklists[i].Items {
				if task.Checklists[i].Items[j].APIName == item {
					task.Checklists[i].Items[j].Selected = selected

					return nil
				}
			}
		}

		return fmt.Errorf("%s/%s: %w", checklist, item, ErrChecklistItemNotFound)
	})
}
