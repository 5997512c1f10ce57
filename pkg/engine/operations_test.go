package engine

import (
	"testing"
	"time"

	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevertTask(t *testing.T) {
	h := newHarness(t)
	wf := h.start(t, twoStepSnapshot(), nil)

	_, err := h.engine.RevertTask(t.Context(), wf.ID, "alice")
	require.ErrorIs(t, err, ErrRevertNotAllowed)

	_, err = h.engine.CompleteTask(t.Context(), wf.ID, 1, "alice", nil)
	require.NoError(t, err)

	before := h.reload(t, wf.ID)

	_, err = h.engine.RevertTask(t.Context(), wf.ID, "mallory")
	require.ErrorIs(t, err, ErrPermissionDenied)

	h.notifier.Reset()

	wf, err = h.engine.RevertTask(t.Context(), wf.ID, "bob")
	require.NoError(t, err)

	assert.Equal(t, 1, wf.CurrentTask)
	assert.Equal(t, models.WorkflowStatusRunning, wf.Status)

	landing := wf.TaskByNumber(1)
	assert.Equal(t, models.TaskStatusActive, landing.Status)
	assert.Nil(t, landing.DateCompleted)
	assert.False(t, landing.Performer("alice").IsCompleted)

	reverted := wf.TaskByNumber(2)
	assert.Equal(t, models.TaskStatusPending, reverted.Status)
	assert.Nil(t, reverted.DateStarted)
	assert.False(t, reverted.Performer("bob").IsCompleted)

	returned := h.notifier.OfKind(events.TaskReturned)
	require.Len(t, returned, 1)
	assert.Equal(t, []string{"alice"}, returned[0].Recipients)
	assert.Equal(t, landing.ID, returned[0].TaskID)

	wf, err = h.engine.CompleteTask(t.Context(), wf.ID, 1, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, before.CurrentTask, wf.CurrentTask)
	assert.Equal(t, before.Status, wf.Status)
	assert.Equal(t, taskStates(before), taskStates(wf))
}

type taskState struct {
	status    models.TaskStatus
	completed map[string]bool
}

func taskStates(wf *models.Workflow) map[string]taskState {
	states := make(map[string]taskState, len(wf.Tasks))

	for _, task := range wf.Tasks {
		completed := make(map[string]bool, len(task.Performers))
		for _, performer := range task.ActivePerformers() {
			completed[performer.UserID] = performer.IsCompleted
		}

		states[task.APIName] = taskState{status: task.Status, completed: completed}
	}

	return states
}

func TestRevertTask_SkippedLandingTask(t *testing.T) {
	h := newHarness(t)

	snapshot := testutil.CreateTestSnapshot([]*models.TaskTemplate{
		testutil.CreateTestTask("first", testutil.WithUsers("alice"), testutil.WithCondition(
			models.ConditionActionSkipTask,
			models.Predicate{Field: "fast", Operator: models.OperatorEquals, Value: true},
		)),
		testutil.CreateTestTask("second", testutil.WithUsers("bob")),
	}, testutil.WithKickoff(testutil.Field("fast", models.FieldTypeCheckbox, false)))

	wf := h.start(t, snapshot, map[string]any{"fast": true})
	require.Equal(t, 2, wf.CurrentTask)

	_, err := h.engine.RevertTask(t.Context(), wf.ID, "owner")
	require.ErrorIs(t, err, ErrRevertNotAllowed)
}

func TestDelayWorkflow_ResumeExpiredDelays(t *testing.T) {
	h := newHarness(t)
	wf := h.start(t, twoStepSnapshot(), nil)

	wf, err := h.engine.DelayWorkflow(t.Context(), wf.ID, "owner", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusDelayed, wf.Status)
	assert.Equal(t, models.TaskStatusDelayed, wf.TaskByNumber(1).Status)
	require.NotNil(t, wf.TaskByNumber(1).ActiveDelay())
	assert.Len(t, h.notifier.OfKind(events.WorkflowDelayed), 1)

	resumed, err := h.engine.ResumeExpiredDelays(t.Context(), h.advance(30*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, resumed)

	resumed, err = h.engine.ResumeExpiredDelays(t.Context(), h.advance(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	wf = h.reload(t, wf.ID)
	assert.Equal(t, models.WorkflowStatusRunning, wf.Status)

	task := wf.TaskByNumber(1)
	assert.Equal(t, models.TaskStatusActive, task.Status)
	assert.Nil(t, task.ActiveDelay())
	require.Len(t, task.Delays, 1)
	require.NotNil(t, task.Delays[0].EndDate)
	assert.Equal(t, h.now, *task.Delays[0].EndDate)
	require.NotNil(t, task.DateResumed)
	assert.Len(t, h.notifier.OfKind(events.WorkflowResumed), 1)

	resumed, err = h.engine.ResumeExpiredDelays(t.Context(), h.advance(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, resumed)
}

func TestTemplateDelay_ActivatesAfterExpiry(t *testing.T) {
	h := newHarness(t)

	snapshot := testutil.CreateTestSnapshot([]*models.TaskTemplate{
		testutil.CreateTestTask("order", testutil.WithUsers("alice")),
		testutil.CreateTestTask("follow-up", testutil.WithUsers("bob"), testutil.WithDelay(2*time.Hour)),
	})

	wf := h.start(t, snapshot, nil)

	wf, err := h.engine.CompleteTask(t.Context(), wf.ID, 1, "alice", nil)
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusDelayed, wf.Status)
	assert.Equal(t, 2, wf.CurrentTask)

	followUp := wf.TaskByNumber(2)
	assert.Equal(t, models.TaskStatusDelayed, followUp.Status)
	assert.Empty(t, followUp.Performers)
	assert.Nil(t, followUp.DateStarted)

	resumed, err := h.engine.ResumeExpiredDelays(t.Context(), h.advance(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	wf = h.reload(t, wf.ID)
	followUp = wf.TaskByNumber(2)
	assert.Equal(t, models.TaskStatusActive, followUp.Status)
	assert.True(t, followUp.IsPerformer("bob"))
	require.NotNil(t, followUp.DateStarted)
	assert.Equal(t, h.now, *followUp.DateStarted)
	assert.Nil(t, followUp.DateResumed)
}

func TestDelayWorkflow_ManualResume(t *testing.T) {
	h := newHarness(t)
	wf := h.start(t, twoStepSnapshot(), nil)

	_, err := h.engine.DelayWorkflow(t.Context(), wf.ID, "owner", 0)
	require.ErrorIs(t, err, ErrInvalidDelay)

	_, err = h.engine.DelayWorkflow(t.Context(), wf.ID, "bob", time.Hour)
	require.ErrorIs(t, err, ErrPermissionDenied)

	_, err = h.engine.ResumeWorkflow(t.Context(), wf.ID, "owner")
	require.ErrorIs(t, err, ErrWorkflowNotDelayed)

	_, err = h.engine.DelayWorkflow(t.Context(), wf.ID, "alice", 24*time.Hour)
	require.NoError(t, err)

	_, err = h.engine.DelayWorkflow(t.Context(), wf.ID, "owner", time.Hour)
	require.ErrorIs(t, err, ErrWorkflowDelayed)

	_, err = h.engine.CompleteTask(t.Context(), wf.ID, 1, "alice", nil)
	require.ErrorIs(t, err, ErrTaskNotActive)

	h.advance(time.Hour)

	wf, err = h.engine.ResumeWorkflow(t.Context(), wf.ID, "owner")
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusRunning, wf.Status)
	assert.Equal(t, models.TaskStatusActive, wf.TaskByNumber(1).Status)
	assert.Nil(t, wf.TaskByNumber(1).ActiveDelay())

	resumed, err := h.engine.ResumeExpiredDelays(t.Context(), h.advance(48*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, resumed)
}

func TestTerminateWorkflow(t *testing.T) {
	h := newHarness(t)
	wf := h.start(t, twoStepSnapshot(), nil)

	_, err := h.engine.TerminateWorkflow(t.Context(), wf.ID, "mallory")
	require.ErrorIs(t, err, ErrPermissionDenied)

	_, err = h.engine.DelayWorkflow(t.Context(), wf.ID, "owner", time.Hour)
	require.NoError(t, err)

	wf, err = h.engine.TerminateWorkflow(t.Context(), wf.ID, "owner")
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusTerminated, wf.Status)
	require.NotNil(t, wf.DateCompleted)
	assert.Nil(t, wf.TaskByNumber(1).ActiveDelay())

	terminated := h.notifier.OfKind(events.WorkflowTerminated)
	require.Len(t, terminated, 1)
	assert.ElementsMatch(t, []string{"owner", "starter", "alice"}, terminated[0].Recipients)

	_, err = h.engine.TerminateWorkflow(t.Context(), wf.ID, "owner")
	require.ErrorIs(t, err, ErrWorkflowFinished)

	_, err = h.engine.CompleteTask(t.Context(), wf.ID, 1, "alice", nil)
	require.ErrorIs(t, err, ErrWorkflowFinished)

	resumed, err := h.engine.ResumeExpiredDelays(t.Context(), h.advance(2*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, resumed)
}

func TestFinishWorkflow(t *testing.T) {
	t.Run("not finalizable", func(t *testing.T) {
		h := newHarness(t)
		wf := h.start(t, twoStepSnapshot(), nil)

		_, err := h.engine.FinishWorkflow(t.Context(), wf.ID, "owner")
		require.ErrorIs(t, err, ErrWorkflowNotFinalizable)
	})

	t.Run("finalizable", func(t *testing.T) {
		h := newHarness(t)

		snapshot := testutil.CreateTestSnapshot([]*models.TaskTemplate{
			testutil.CreateTestTask("prepare", testutil.WithUsers("alice")),
			testutil.CreateTestTask("approve", testutil.WithUsers("bob")),
		}, testutil.WithFinalizable())

		wf := h.start(t, snapshot, nil)

		_, err := h.engine.FinishWorkflow(t.Context(), wf.ID, "alice")
		require.ErrorIs(t, err, ErrPermissionDenied)

		wf, err = h.engine.FinishWorkflow(t.Context(), wf.ID, "owner")
		require.NoError(t, err)

		assert.Equal(t, models.WorkflowStatusDone, wf.Status)
		assert.Equal(t, models.TaskStatusSkipped, wf.TaskByNumber(1).Status)
		assert.Equal(t, models.TaskStatusPending, wf.TaskByNumber(2).Status)
		assert.Len(t, h.notifier.OfKind(events.WorkflowCompleted), 1)

		_, err = h.engine.FinishWorkflow(t.Context(), wf.ID, "owner")
		require.ErrorIs(t, err, ErrWorkflowFinished)
	})
}

func TestAddPerformer(t *testing.T) {
	h := newHarness(t)
	wf := h.start(t, twoStepSnapshot(), nil)

	_, err := h.engine.AddPerformer(t.Context(), wf.ID, 1, "alice", "carol")
	require.ErrorIs(t, err, ErrPermissionDenied)

	_, err = h.engine.AddPerformer(t.Context(), wf.ID, 1, "owner", "alice")
	require.ErrorIs(t, err, ErrAlreadyPerformer)

	wf, err = h.engine.AddPerformer(t.Context(), wf.ID, 1, "owner", "carol")
	require.NoError(t, err)

	performer := wf.TaskByNumber(1).Performer("carol")
	require.NotNil(t, performer)
	assert.Equal(t, models.DirectlyStatusCreated, performer.DirectlyStatus)
	assert.Contains(t, wf.Members, "carol")

	added := h.notifier.OfKind(events.PerformerAdded)
	require.Len(t, added, 1)
	assert.Equal(t, []string{"carol"}, added[0].Recipients)

	wf, err = h.engine.AddPerformer(t.Context(), wf.ID, 2, "owner", "dave")
	require.NoError(t, err)
	assert.True(t, wf.TaskByNumber(2).IsPerformer("dave"))
	assert.Len(t, h.notifier.OfKind(events.PerformerAdded), 1)

	wf, err = h.engine.CompleteTask(t.Context(), wf.ID, 1, "carol", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, wf.CurrentTask)

	_, err = h.engine.AddPerformer(t.Context(), wf.ID, 1, "owner", "erin")
	require.ErrorIs(t, err, ErrTaskNotActive)
}

func TestRemovePerformer(t *testing.T) {
	h := newHarness(t)
	h.directory.SetGroupMembers("reviewers", "alice", "bob")

	snapshot := testutil.CreateTestSnapshot([]*models.TaskTemplate{
		testutil.CreateTestTask("review", testutil.WithGroup("reviewers"), testutil.WithRequireAll()),
		testutil.CreateTestTask("ship", testutil.WithUsers("carol")),
	})

	wf := h.start(t, snapshot, nil)

	_, err := h.engine.RemovePerformer(t.Context(), wf.ID, 1, "owner", "mallory")
	require.NoError(t, err)

	_, err = h.engine.RemovePerformer(t.Context(), wf.ID, 1, "owner", "mallory")
	require.ErrorIs(t, err, ErrNotPerformer)
	assert.Empty(t, h.notifier.OfKind(events.PerformerRemoved))

	_, err = h.engine.CompleteTask(t.Context(), wf.ID, 1, "alice", nil)
	require.NoError(t, err)

	wf, err = h.engine.RemovePerformer(t.Context(), wf.ID, 1, "owner", "bob")
	require.NoError(t, err)

	review := wf.TaskByNumber(1)
	assert.Equal(t, models.TaskStatusCompleted, review.Status)
	assert.Equal(t, models.DirectlyStatusDeleted, review.Performer("bob").DirectlyStatus)
	assert.False(t, review.IsPerformer("bob"))
	assert.Equal(t, 2, wf.CurrentTask)
	assert.Len(t, h.notifier.OfKind(events.PerformerRemoved), 1)

	_, err = h.engine.RemovePerformer(t.Context(), wf.ID, 1, "owner", "alice")
	require.ErrorIs(t, err, ErrTaskNotActive)
}

func TestRemovePerformer_DeletedIsNotReResolved(t *testing.T) {
	h := newHarness(t)
	h.directory.SetGroupMembers("reviewers", "alice", "bob")

	snapshot := testutil.CreateTestSnapshot([]*models.TaskTemplate{
		testutil.CreateTestTask("draft", testutil.WithUsers("carol")),
		testutil.CreateTestTask("review", testutil.WithGroup("reviewers")),
	})

	wf := h.start(t, snapshot, nil)

	_, err := h.engine.CompleteTask(t.Context(), wf.ID, 1, "carol", nil)
	require.NoError(t, err)

	_, err = h.engine.RemovePerformer(t.Context(), wf.ID, 2, "owner", "bob")
	require.NoError(t, err)

	_, err = h.engine.RevertTask(t.Context(), wf.ID, "owner")
	require.NoError(t, err)

	wf, err = h.engine.CompleteTask(t.Context(), wf.ID, 1, "carol", nil)
	require.NoError(t, err)

	review := wf.TaskByNumber(2)
	assert.True(t, review.IsPerformer("alice"))
	assert.False(t, review.IsPerformer("bob"))

	_, err = h.engine.CompleteTask(t.Context(), wf.ID, 2, "bob", nil)
	require.ErrorIs(t, err, ErrNotPerformer)
}

func TestRemovePerformer_ExcludesBeforeActivation(t *testing.T) {
	h := newHarness(t)
	h.directory.SetGroupMembers("reviewers", "alice", "bob")

	snapshot := testutil.CreateTestSnapshot([]*models.TaskTemplate{
		testutil.CreateTestTask("draft", testutil.WithUsers("carol")),
		testutil.CreateTestTask("review", testutil.WithGroup("reviewers"), testutil.WithRequireAll()),
	})

	wf := h.start(t, snapshot, nil)

	wf, err := h.engine.RemovePerformer(t.Context(), wf.ID, 2, "owner", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, wf.TaskByNumber(2).Status)
	assert.Empty(t, h.notifier.OfKind(events.PerformerRemoved))

	wf, err = h.engine.CompleteTask(t.Context(), wf.ID, 1, "carol", nil)
	require.NoError(t, err)

	review := wf.TaskByNumber(2)
	assert.Equal(t, models.TaskStatusActive, review.Status)
	assert.True(t, review.IsPerformer("alice"))
	assert.False(t, review.IsPerformer("bob"))

	wf, err = h.engine.CompleteTask(t.Context(), wf.ID, 2, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusDone, wf.Status)
}

func TestToggleChecklistItem(t *testing.T) {
	h := newHarness(t)

	snapshot := testutil.CreateTestSnapshot([]*models.TaskTemplate{
		testutil.CreateTestTask("onboard", testutil.WithUsers("alice"),
			testutil.WithChecklist("docs", "contract signed", "laptop shipped")),
	})

	wf := h.start(t, snapshot, nil)

	_, err := h.engine.CompleteTask(t.Context(), wf.ID, 1, "alice", nil)
	require.ErrorIs(t, err, ErrChecklistIncomplete)

	_, err = h.engine.ToggleChecklistItem(t.Context(), wf.ID, 1, "mallory", "docs", "docs-1", true)
	require.ErrorIs(t, err, ErrNotPerformer)

	_, err = h.engine.ToggleChecklistItem(t.Context(), wf.ID, 1, "alice", "docs", "docs-9", true)
	require.ErrorIs(t, err, ErrChecklistItemNotFound)

	_, err = h.engine.ToggleChecklistItem(t.Context(), wf.ID, 1, "alice", "docs", "docs-1", true)
	require.NoError(t, err)

	wf, err = h.engine.ToggleChecklistItem(t.Context(), wf.ID, 1, "owner", "docs", "docs-2", true)
	require.NoError(t, err)
	assert.True(t, wf.TaskByNumber(1).ChecklistsComplete())

	wf, err = h.engine.ToggleChecklistItem(t.Context(), wf.ID, 1, "alice", "docs", "docs-2", false)
	require.NoError(t, err)
	assert.False(t, wf.TaskByNumber(1).ChecklistsComplete())

	_, err = h.engine.ToggleChecklistItem(t.Context(), wf.ID, 1, "alice", "docs", "docs-2", true)
	require.NoError(t, err)

	wf, err = h.engine.CompleteTask(t.Context(), wf.ID, 1, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusDone, wf.Status)
}
