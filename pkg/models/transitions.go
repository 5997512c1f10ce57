package models

// WorkflowTransition is an allowed (from, to) pair of workflow statuses.
type WorkflowTransition struct {
	From WorkflowStatus
	To   WorkflowStatus
}

// TaskTransition is an allowed (from, to) pair of task statuses.
type TaskTransition struct {
	From TaskStatus
	To   TaskStatus
}

// WorkflowTransitions enumerates every legal workflow status change.
// Done and terminated are terminal.
func WorkflowTransitions() []WorkflowTransition {
	return []WorkflowTransition{
		{WorkflowStatusRunning, WorkflowStatusDelayed},
		{WorkflowStatusRunning, WorkflowStatusDone},
		{WorkflowStatusRunning, WorkflowStatusTerminated},
		{WorkflowStatusDelayed, WorkflowStatusRunning},
		{WorkflowStatusDelayed, WorkflowStatusTerminated},
	}
}

// TaskTransitions enumerates every legal task status change. Conditions skip
// pending tasks; an active task is only skipped when a finalizable workflow is
// finished early. The edges back to pending/active exist for revert.
func TaskTransitions() []TaskTransition {
	return []TaskTransition{
		{TaskStatusPending, TaskStatusActive},
		{TaskStatusPending, TaskStatusDelayed},
		{TaskStatusPending, TaskStatusSkipped},
		{TaskStatusActive, TaskStatusCompleted},
		{TaskStatusActive, TaskStatusSkipped},
		{TaskStatusActive, TaskStatusDelayed},
		{TaskStatusActive, TaskStatusPending},
		{TaskStatusDelayed, TaskStatusActive},
		{TaskStatusDelayed, TaskStatusPending},
		{TaskStatusCompleted, TaskStatusActive},
	}
}

// CanTransitionWorkflow reports whether from -> to is legal.
func CanTransitionWorkflow(from, to WorkflowStatus) bool {
	for _, transition := range WorkflowTransitions() {
		if transition.From == from && transition.To == to {
			return true
		}
	}

	return false
}

// CanTransitionTask reports whether from -> to is legal.
func CanTransitionTask(from, to TaskStatus) bool {
	for _, transition := range TaskTransitions() {
		if transition.From == from && transition.To == to {
			return true
		}
	}

	return false
}
