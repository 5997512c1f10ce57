// Package duedate computes task due dates and manages delay bookkeeping.
package duedate

import (
	"time"

	"github.com/dukex/procflow/pkg/conditions"
	"github.com/dukex/procflow/pkg/models"
)

// ComputeDueDate returns anchor + duration for the task rule, or nil when the
// task has no rule or the anchor has not happened yet.
func ComputeDueDate(wf *models.Workflow, task *models.Task) *time.Time {
	rule := task.DueDateRule
	if rule == nil {
		return nil
	}

	anchor := anchorFor(wf, task, rule)
	if anchor == nil {
		return nil
	}

	due := anchor.Add(rule.Duration.Std())

	return &due
}

func anchorFor(wf *models.Workflow, task *models.Task, rule *models.DueDateRule) *time.Time {
	switch rule.Rule {
	case models.DueDateAfterTaskStarted:
		source := sourceTask(wf, task, rule.SourceAPIName)
		if source == nil {
			return nil
		}

		return source.DateStarted
	case models.DueDateAfterTaskCompleted:
		source := sourceTask(wf, task, rule.SourceAPIName)
		if source == nil || source.Status != models.TaskStatusCompleted {
			return nil
		}

		return source.DateCompleted
	case models.DueDateAfterTaskResumed:
		if task.DateResumed != nil {
			return task.DateResumed
		}

		return task.DateStarted
	case models.DueDateAfterField:
		field, ok := wf.Fields[rule.SourceAPIName]
		if !ok || field == nil {
			return nil
		}

		at, ok := conditions.ParseTime(field.Value)
		if !ok {
			return nil
		}

		return &at
	case models.DueDateAfterWorkflowStarted:
		if wf.DateStarted.IsZero() {
			return nil
		}

		started := wf.DateStarted

		return &started
	default:
		return nil
	}
}

func sourceTask(wf *models.Workflow, task *models.Task, apiName string) *models.Task {
	if apiName == "" || apiName == task.APIName {
		return task
	}

	return wf.TaskByAPIName(apiName)
}

// IsOverdue reports whether an active task passed its due date.
func IsOverdue(task *models.Task, now time.Time) bool {
	return task.Status == models.TaskStatusActive && task.DueDate != nil && now.After(*task.DueDate)
}
