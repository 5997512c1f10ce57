package engine

import (
	"time"

	"github.com/dukex/procflow/pkg/conditions"
	"github.com/dukex/procflow/pkg/duedate"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/performers"
)

// advanceFrom reaches the first task at or after number that survives its
// conditions. Conditions are evaluated before any delay, so a skipped task
// never waits. When no task remains the workflow is done.
func (s *scope) advanceFrom(number int) error {
	for n := number; ; n++ {
		task := s.wf.TaskByNumber(n)
		if task == nil {
			return s.setWorkflowStatus(models.WorkflowStatusDone)
		}

		if task.Status != models.TaskStatusPending {
			continue
		}

		outcome := conditions.Evaluate(task.Conditions, conditions.Values(s.wf.Fields))

		if len(outcome.Fired) > 0 {
			s.engine.logger.DebugContext(s.ctx, "Conditions fired",
				"workflow_id", s.wf.ID,
				"task_number", task.Number,
				"conditions", outcome.Fired)
		}

		if outcome.EndProcess {
			if err := s.setTaskStatus(task, models.TaskStatusSkipped); err != nil {
				return err
			}

			return s.setWorkflowStatus(models.WorkflowStatusDone)
		}

		if outcome.Skip {
			if err := s.setTaskStatus(task, models.TaskStatusSkipped); err != nil {
				return err
			}

			continue
		}

		s.wf.CurrentTask = task.Number

		if task.DelayDuration != nil && task.DelayDuration.Std() > 0 {
			return s.delayCurrent(task, task.DelayDuration.Std())
		}

		return s.setTaskStatus(task, models.TaskStatusActive)
	}
}

// delayCurrent opens a delay on the current task and pauses the workflow.
func (s *scope) delayCurrent(task *models.Task, duration time.Duration) error {
	if _, err := duedate.StartDelay(task, s.engine.newID(), duration, s.now); err != nil {
		return err
	}

	if err := s.setTaskStatus(task, models.TaskStatusDelayed); err != nil {
		return err
	}

	if s.wf.Status == models.WorkflowStatusRunning {
		return s.setWorkflowStatus(models.WorkflowStatusDelayed)
	}

	return nil
}

// completeIfReached completes the task and advances when its completion criterion holds.
func (s *scope) completeIfReached(task *models.Task) error {
	if task.Status != models.TaskStatusActive || !performers.CompletionReached(task) {
		return nil
	}

	if err := s.setTaskStatus(task, models.TaskStatusCompleted); err != nil {
		return err
	}

	return s.advanceFrom(task.Number + 1)
}
