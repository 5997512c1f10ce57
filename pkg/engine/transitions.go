package engine

import (
	"fmt"

	"github.com/dukex/procflow/pkg/duedate"
	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/performers"
)

type workflowHandler func(s *scope) error

type taskHandler func(s *scope, task *models.Task) error

var (
	workflowHandlers map[models.WorkflowTransition]workflowHandler
	taskHandlers     map[models.TaskTransition]taskHandler
)

func init() {
	workflowHandlers = map[models.WorkflowTransition]workflowHandler{
		{From: models.WorkflowStatusRunning, To: models.WorkflowStatusDelayed}:    onWorkflowDelayed,
		{From: models.WorkflowStatusRunning, To: models.WorkflowStatusDone}:       onWorkflowDone,
		{From: models.WorkflowStatusRunning, To: models.WorkflowStatusTerminated}: onWorkflowTerminated,
		{From: models.WorkflowStatusDelayed, To: models.WorkflowStatusRunning}:    onWorkflowResumed,
		{From: models.WorkflowStatusDelayed, To: models.WorkflowStatusTerminated}: onWorkflowTerminated,
	}

	taskHandlers = map[models.TaskTransition]taskHandler{
		{From: models.TaskStatusPending, To: models.TaskStatusActive}:    onTaskActivated,
		{From: models.TaskStatusPending, To: models.TaskStatusDelayed}:   onTaskDelayed,
		{From: models.TaskStatusPending, To: models.TaskStatusSkipped}:   onTaskSkipped,
		{From: models.TaskStatusActive, To: models.TaskStatusCompleted}:  onTaskCompleted,
		{From: models.TaskStatusActive, To: models.TaskStatusSkipped}:    onTaskSkipped,
		{From: models.TaskStatusActive, To: models.TaskStatusDelayed}:    onTaskDelayed,
		{From: models.TaskStatusActive, To: models.TaskStatusPending}:    onTaskReset,
		{From: models.TaskStatusDelayed, To: models.TaskStatusActive}:    onTaskResumed,
		{From: models.TaskStatusDelayed, To: models.TaskStatusPending}:   onTaskReset,
		{From: models.TaskStatusCompleted, To: models.TaskStatusActive}:  onTaskReturned,
	}

	checkTables()
}

// checkTables panics when the handler tables and the transition tables disagree.
func checkTables() {
	workflowTransitions := models.WorkflowTransitions()
	for _, transition := range workflowTransitions {
		if _, ok := workflowHandlers[transition]; !ok {
			panic(fmt.Sprintf("engine: no handler for workflow transition %s -> %s", transition.From, transition.To))
		}
	}

	if len(workflowHandlers) != len(workflowTransitions) {
		panic("engine: workflow handler registered for an undeclared transition")
	}

	taskTransitions := models.TaskTransitions()
	for _, transition := range taskTransitions {
		if _, ok := taskHandlers[transition]; !ok {
			panic(fmt.Sprintf("engine: no handler for task transition %s -> %s", transition.From, transition.To))
		}
	}

	if len(taskHandlers) != len(taskTransitions) {
		panic("engine: task handler registered for an undeclared transition")
	}
}

func (s *scope) setWorkflowStatus(to models.WorkflowStatus) error {
	from := s.wf.Status

	handler, ok := workflowHandlers[models.WorkflowTransition{From: from, To: to}]
	if !ok {
		return &TransitionError{Entity: "workflow", ID: s.wf.ID, From: string(from), To: string(to)}
	}

	s.wf.Status = to

	s.engine.logger.InfoContext(s.ctx, "Workflow status changed",
		"workflow_id", s.wf.ID,
		"from", from,
		"to", to)

	return handler(s)
}

func (s *scope) setTaskStatus(task *models.Task, to models.TaskStatus) error {
	from := task.Status

	handler, ok := taskHandlers[models.TaskTransition{From: from, To: to}]
	if !ok {
		return &TransitionError{Entity: "task", ID: task.ID, From: string(from), To: string(to)}
	}

	task.Status = to

	s.engine.logger.InfoContext(s.ctx, "Task status changed",
		"workflow_id", s.wf.ID,
		"task_id", task.ID,
		"task_number", task.Number,
		"from", from,
		"to", to)

	return handler(s, task)
}

func onWorkflowDelayed(s *scope) error {
	s.notify(events.WorkflowDelayed, s.wf.Current(), s.wf.Owners)

	return nil
}

func onWorkflowDone(s *scope) error {
	s.wf.DateCompleted = &s.now
	s.notify(events.WorkflowCompleted, nil, s.wf.Recipients())

	return nil
}

func onWorkflowTerminated(s *scope) error {
	s.wf.DateCompleted = &s.now

	if current := s.wf.Current(); current != nil {
		duedate.CloseDelay(current.ActiveDelay(), s.now)
	}

	s.notify(events.WorkflowTerminated, nil, s.wf.Recipients())

	return nil
}

func onWorkflowResumed(s *scope) error {
	s.notify(events.WorkflowResumed, s.wf.Current(), s.wf.Owners)

	return nil
}

// onTaskActivated resolves performers and computes the due date of a task
// reached for the first time.
func onTaskActivated(s *scope, task *models.Task) error {
	task.DateStarted = &s.now
	task.DateResumed = nil
	task.DateCompleted = nil

	if err := s.prepareActive(task); err != nil {
		return err
	}

	s.notify(events.TaskActivated, task, task.PendingPerformerIDs())

	return nil
}

func onTaskResumed(s *scope, task *models.Task) error {
	duedate.CloseDelay(task.ActiveDelay(), s.now)

	if task.DateStarted == nil {
		task.DateStarted = &s.now
	} else {
		task.DateResumed = &s.now
	}

	if err := s.prepareActive(task); err != nil {
		return err
	}

	s.notify(events.TaskActivated, task, task.PendingPerformerIDs())

	return nil
}

func onTaskReturned(s *scope, task *models.Task) error {
	performers.ClearCompletions(task)
	duedate.CloseDelay(task.ActiveDelay(), s.now)
	task.DateCompleted = nil

	if err := s.prepareActive(task); err != nil {
		return err
	}

	s.notify(events.TaskReturned, task, activeIDs(task))

	return nil
}

func (s *scope) prepareActive(task *models.Task) error {
	result, err := s.engine.resolver.Resolve(s.ctx, s.wf, task)
	if err != nil {
		return err
	}

	if result.NoPerformers {
		s.engine.logger.WarnContext(s.ctx, "Activated task without performers",
			"workflow_id", s.wf.ID,
			"task_number", task.Number)
	}

	task.DueDate = duedate.ComputeDueDate(s.wf, task)

	return nil
}

// onTaskDelayed expects the caller to have opened the delay.
func onTaskDelayed(_ *scope, task *models.Task) error {
	if task.ActiveDelay() == nil {
		return fmt.Errorf("task %s delayed without an open delay: %w", task.ID, ErrIllegalTransition)
	}

	return nil
}

func onTaskSkipped(_ *scope, task *models.Task) error {
	task.DueDate = nil

	return nil
}

func onTaskCompleted(s *scope, task *models.Task) error {
	task.DateCompleted = &s.now
	s.notify(events.TaskCompleted, task, s.wf.Owners)

	return nil
}

// onTaskReset returns a task to pending as if it had never been reached.
func onTaskReset(s *scope, task *models.Task) error {
	duedate.CloseDelay(task.ActiveDelay(), s.now)
	performers.ClearCompletions(task)
	task.DueDate = nil
	task.DateStarted = nil
	task.DateResumed = nil
	task.DateCompleted = nil

	return nil
}

func activeIDs(task *models.Task) []string {
	ids := make([]string, 0)
	for _, performer := range task.ActivePerformers() {
		ids = append(ids, performer.UserID)
	}

	return ids
}
