package engine

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/identity"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/performers"
	"github.com/dukex/procflow/pkg/persistence/file"
	"github.com/dukex/procflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	engine    *Engine
	store     *file.Persistence
	notifier  *testutil.RecordingNotifier
	directory *identity.Static

	mu  sync.Mutex
	now time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &harness{
		store:     file.NewPersistence(t.TempDir(), logger),
		notifier:  &testutil.RecordingNotifier{},
		directory: identity.NewStatic(nil, nil),
		now:       time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	h.engine = New(
		h.store.Workflows(),
		performers.NewResolver(h.directory, logger),
		h.notifier,
		logger,
		WithClock(h.clock),
	)

	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.now
}

func (h *harness) advance(d time.Duration) time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.now = h.now.Add(d)

	return h.now
}

func (h *harness) start(t *testing.T, snapshot *models.TemplateSnapshot, kickoff map[string]any) *models.Workflow {
	t.Helper()

	wf, err := h.engine.StartWorkflow(t.Context(), StartInput{
		Snapshot:  snapshot,
		AccountID: "acme",
		StarterID: "starter",
		Kickoff:   kickoff,
	})
	require.NoError(t, err)

	return wf
}

func (h *harness) reload(t *testing.T, id string) *models.Workflow {
	t.Helper()

	wf, err := h.engine.GetWorkflow(t.Context(), id)
	require.NoError(t, err)

	return wf
}

func twoStepSnapshot() *models.TemplateSnapshot {
	return testutil.CreateTestSnapshot([]*models.TaskTemplate{
		testutil.CreateTestTask("prepare", testutil.WithUsers("alice")),
		testutil.CreateTestTask("approve", testutil.WithUsers("bob")),
	})
}

func TestStartWorkflow_ActivatesFirstTask(t *testing.T) {
	h := newHarness(t)

	wf := h.start(t, twoStepSnapshot(), nil)

	assert.Equal(t, models.WorkflowStatusRunning, wf.Status)
	assert.Equal(t, 1, wf.CurrentTask)
	assert.Equal(t, h.now, wf.DateStarted)

	first := wf.TaskByNumber(1)
	require.NotNil(t, first)
	assert.Equal(t, models.TaskStatusActive, first.Status)
	require.Len(t, first.Performers, 1)
	assert.Equal(t, "alice", first.Performers[0].UserID)
	assert.Equal(t, models.DirectlyStatusAuto, first.Performers[0].DirectlyStatus)
	assert.Equal(t, models.TaskStatusPending, wf.TaskByNumber(2).Status)
	assert.Empty(t, wf.TaskByNumber(2).Performers)

	assert.ElementsMatch(t, []string{"starter", "alice"}, wf.Members)

	activated := h.notifier.OfKind(events.TaskActivated)
	require.Len(t, activated, 1)
	assert.Equal(t, []string{"alice"}, activated[0].Recipients)
	assert.Equal(t, first.ID, activated[0].TaskID)

	stored := h.reload(t, wf.ID)
	assert.Equal(t, wf.CurrentTask, stored.CurrentTask)
	assert.Len(t, stored.Tasks, 2)
}

func TestStartWorkflow_KickoffValidation(t *testing.T) {
	snapshot := testutil.CreateTestSnapshot(nil, testutil.WithKickoff(
		testutil.Field("client", models.FieldTypeString, true),
	))

	tests := []struct {
		name    string
		kickoff map[string]any
		wantErr error
	}{
		{"missing required field", nil, ErrRequiredField},
		{"blank required field", map[string]any{"client": "  "}, ErrRequiredField},
		{"unknown field", map[string]any{"client": "acme", "budget": 10}, ErrUnknownField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			_, err := h.engine.StartWorkflow(t.Context(), StartInput{
				Snapshot:  snapshot,
				AccountID: "acme",
				StarterID: "starter",
				Kickoff:   tt.kickoff,
			})
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsValidationError(err))

			var fieldErr *FieldError
			assert.ErrorAs(t, err, &fieldErr)
			assert.Empty(t, h.notifier.Sent())
		})
	}
}

func TestStartWorkflow_AllTasksSkipped(t *testing.T) {
	h := newHarness(t)

	snapshot := testutil.CreateTestSnapshot([]*models.TaskTemplate{
		testutil.CreateTestTask("only", testutil.WithUsers("alice"), testutil.WithCondition(
			models.ConditionActionStartTask,
			models.Predicate{Field: "go", Operator: models.OperatorEquals, Value: true},
		)),
	}, testutil.WithKickoff(testutil.Field("go", models.FieldTypeCheckbox, false)))

	wf := h.start(t, snapshot, map[string]any{"go": false})

	assert.Equal(t, models.WorkflowStatusDone, wf.Status)
	assert.Equal(t, 0, wf.CurrentTask)
	assert.Equal(t, models.TaskStatusSkipped, wf.TaskByNumber(1).Status)
	assert.NotNil(t, wf.DateCompleted)
	assert.Len(t, h.notifier.OfKind(events.WorkflowCompleted), 1)
}

func TestCompleteTask_AdvancesUntilDone(t *testing.T) {
	h := newHarness(t)
	wf := h.start(t, twoStepSnapshot(), nil)

	wf, err := h.engine.CompleteTask(t.Context(), wf.ID, 1, "alice", nil)
	require.NoError(t, err)

	assert.Equal(t, models.TaskStatusCompleted, wf.TaskByNumber(1).Status)
	assert.NotNil(t, wf.TaskByNumber(1).DateCompleted)
	assert.Equal(t, 2, wf.CurrentTask)
	assert.Equal(t, models.TaskStatusActive, wf.TaskByNumber(2).Status)

	wf, err = h.engine.CompleteTask(t.Context(), wf.ID, 2, "bob", nil)
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusDone, wf.Status)
	require.NotNil(t, wf.DateCompleted)

	completed := h.notifier.OfKind(events.WorkflowCompleted)
	require.Len(t, completed, 1)
	assert.ElementsMatch(t, []string{"owner", "starter", "alice", "bob"}, completed[0].Recipients)
	assert.Len(t, h.notifier.OfKind(events.TaskCompleted), 2)
}

func TestCompleteTask_Validation(t *testing.T) {
	h := newHarness(t)
	wf := h.start(t, twoStepSnapshot(), nil)

	_, err := h.engine.CompleteTask(t.Context(), wf.ID, 1, "mallory", nil)
	require.ErrorIs(t, err, ErrNotPerformer)

	_, err = h.engine.CompleteTask(t.Context(), wf.ID, 2, "bob", nil)
	require.ErrorIs(t, err, ErrTaskNotActive)

	_, err = h.engine.CompleteTask(t.Context(), wf.ID, 9, "bob", nil)
	require.ErrorIs(t, err, ErrTaskNotFound)

	_, err = h.engine.CompleteTask(t.Context(), wf.ID, 1, "alice", nil)
	require.NoError(t, err)

	_, err = h.engine.CompleteTask(t.Context(), wf.ID, 1, "alice", nil)
	require.ErrorIs(t, err, ErrTaskAlreadyCompleted)

	_, err = h.engine.CompleteTask(t.Context(), wf.ID, 2, "bob", nil)
	require.NoError(t, err)

	_, err = h.engine.CompleteTask(t.Context(), wf.ID, 2, "bob", nil)
	require.ErrorIs(t, err, ErrWorkflowFinished)
	assert.True(t, IsValidationError(err))
}

func TestCompleteTask_RequireCompletionByAll(t *testing.T) {
	h := newHarness(t)
	h.directory.SetGroupMembers("reviewers", "alice", "bob")

	snapshot := testutil.CreateTestSnapshot([]*models.TaskTemplate{
		testutil.CreateTestTask("review", testutil.WithGroup("reviewers"), testutil.WithRequireAll()),
		testutil.CreateTestTask("ship", testutil.WithUsers("carol")),
	})
	wf := h.start(t, snapshot, nil)

	wf, err := h.engine.CompleteTask(t.Context(), wf.ID, 1, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusActive, wf.TaskByNumber(1).Status)
	assert.True(t, wf.TaskByNumber(1).Performer("alice").IsCompleted)

	_, err = h.engine.CompleteTask(t.Context(), wf.ID, 1, "alice", nil)
	require.ErrorIs(t, err, ErrPerformerAlreadyCompleted)

	wf, err = h.engine.CompleteTask(t.Context(), wf.ID, 1, "bob", nil)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, wf.TaskByNumber(1).Status)
	assert.Equal(t, 2, wf.CurrentTask)
}

func TestCompleteTask_SkipCondition(t *testing.T) {
	h := newHarness(t)

	snapshot := testutil.CreateTestSnapshot([]*models.TaskTemplate{
		testutil.CreateTestTask("request", testutil.WithUsers("alice")),
		testutil.CreateTestTask("cfo-approval", testutil.WithUsers("cfo"), testutil.WithCondition(
			models.ConditionActionSkipTask,
			models.Predicate{Field: "amount", Operator: models.OperatorLessThan, Value: 1000},
		)),
		testutil.CreateTestTask("pay", testutil.WithUsers("bob")),
	}, testutil.WithKickoff(testutil.Field("amount", models.FieldTypeNumber, true)))

	wf := h.start(t, snapshot, map[string]any{"amount": 250})

	wf, err := h.engine.CompleteTask(t.Context(), wf.ID, 1, "alice", nil)
	require.NoError(t, err)

	assert.Equal(t, models.TaskStatusSkipped, wf.TaskByNumber(2).Status)
	assert.Empty(t, wf.TaskByNumber(2).Performers)
	assert.Equal(t, 3, wf.CurrentTask)
	assert.Equal(t, models.TaskStatusActive, wf.TaskByNumber(3).Status)

	for _, sent := range h.notifier.OfKind(events.TaskActivated) {
		assert.NotContains(t, sent.Recipients, "cfo")
	}
}

func TestCompleteTask_EndProcessCondition(t *testing.T) {
	h := newHarness(t)

	snapshot := testutil.CreateTestSnapshot([]*models.TaskTemplate{
		testutil.CreateTestTask("triage", testutil.WithUsers("alice"),
			testutil.WithOutputs(testutil.Field("duplicate", models.FieldTypeCheckbox, false))),
		testutil.CreateTestTask("fix", testutil.WithUsers("bob"), testutil.WithCondition(
			models.ConditionActionEndProcess,
			models.Predicate{Field: "duplicate", Operator: models.OperatorEquals, Value: true},
		)),
		testutil.CreateTestTask("verify", testutil.WithUsers("carol")),
	})

	wf := h.start(t, snapshot, nil)

	wf, err := h.engine.CompleteTask(t.Context(), wf.ID, 1, "alice", map[string]any{"duplicate": true})
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusDone, wf.Status)
	assert.Equal(t, models.TaskStatusSkipped, wf.TaskByNumber(2).Status)
	assert.Equal(t, models.TaskStatusPending, wf.TaskByNumber(3).Status)
	assert.Equal(t, true, wf.Fields["duplicate"].Value)
}

func TestCompleteTask_Outputs(t *testing.T) {
	h := newHarness(t)

	snapshot := testutil.CreateTestSnapshot([]*models.TaskTemplate{
		testutil.CreateTestTask("assign", testutil.WithUsers("alice"),
			testutil.WithOutputs(testutil.Field("assignee", models.FieldTypeUser, true))),
		testutil.CreateTestTask("work", testutil.WithFieldPerformer("assignee")),
	})

	wf := h.start(t, snapshot, nil)

	_, err := h.engine.CompleteTask(t.Context(), wf.ID, 1, "alice", nil)
	require.ErrorIs(t, err, ErrRequiredField)

	_, err = h.engine.CompleteTask(t.Context(), wf.ID, 1, "alice", map[string]any{"other": "x"})
	require.ErrorIs(t, err, ErrUnknownField)

	stored := h.reload(t, wf.ID)
	assert.False(t, stored.TaskByNumber(1).Performer("alice").IsCompleted)

	wf, err = h.engine.CompleteTask(t.Context(), wf.ID, 1, "alice", map[string]any{"assignee": "dave"})
	require.NoError(t, err)

	assert.Equal(t, "dave", wf.Fields["assignee"].Value)
	assert.Equal(t, "assign", wf.Fields["assignee"].TaskAPIName)
	assert.True(t, wf.TaskByNumber(2).IsPerformer("dave"))
}

func TestCompleteTask_ConcurrentDuplicateCompletion(t *testing.T) {
	h := newHarness(t)
	wf := h.start(t, twoStepSnapshot(), nil)

	const attempts = 5

	var (
		wg   sync.WaitGroup
		errs = make([]error, attempts)
	)

	for i := range attempts {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, errs[i] = h.engine.CompleteTask(t.Context(), wf.ID, 1, "alice", nil)
		}()
	}

	wg.Wait()

	succeeded := 0

	for _, err := range errs {
		if err == nil {
			succeeded++

			continue
		}

		assert.True(t, IsValidationError(err), "unexpected error: %v", err)
	}

	assert.Equal(t, 1, succeeded)

	stored := h.reload(t, wf.ID)
	assert.Equal(t, 2, stored.CurrentTask)
	assert.Equal(t, models.TaskStatusActive, stored.TaskByNumber(2).Status)
	assert.Len(t, h.notifier.OfKind(events.TaskCompleted), 1)
}

func TestCompleteTask_NotificationFailureKeepsTransition(t *testing.T) {
	h := newHarness(t)
	wf := h.start(t, twoStepSnapshot(), nil)

	h.notifier.Err = errors.New("smtp unavailable")

	wf, err := h.engine.CompleteTask(t.Context(), wf.ID, 1, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, wf.CurrentTask)

	stored := h.reload(t, wf.ID)
	assert.Equal(t, models.TaskStatusCompleted, stored.TaskByNumber(1).Status)
	assert.NotEmpty(t, h.notifier.OfKind(events.TaskActivated))
}

func TestCompleteTask_ZeroPerformers(t *testing.T) {
	h := newHarness(t)

	snapshot := testutil.CreateTestSnapshot([]*models.TaskTemplate{
		testutil.CreateTestTask("orphan", testutil.WithGroup("ghosts")),
	})

	wf := h.start(t, snapshot, nil)

	assert.Equal(t, models.TaskStatusActive, wf.TaskByNumber(1).Status)
	assert.Empty(t, wf.TaskByNumber(1).Performers)

	_, err := h.engine.CompleteTask(t.Context(), wf.ID, 1, "starter", nil)
	require.ErrorIs(t, err, ErrNotPerformer)

	wf, err = h.engine.CompleteTask(t.Context(), wf.ID, 1, "owner", nil)
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusDone, wf.Status)

	performer := wf.TaskByNumber(1).Performer("owner")
	require.NotNil(t, performer)
	assert.Equal(t, models.DirectlyStatusCreated, performer.DirectlyStatus)
	assert.True(t, performer.IsCompleted)
}

func TestStartWorkflow_DueDate(t *testing.T) {
	h := newHarness(t)

	snapshot := testutil.CreateTestSnapshot([]*models.TaskTemplate{
		testutil.CreateTestTask("first", testutil.WithUsers("alice"),
			testutil.WithDueDate(models.DueDateAfterTaskStarted, "", 24*time.Hour)),
		testutil.CreateTestTask("second", testutil.WithUsers("bob"),
			testutil.WithDueDate(models.DueDateAfterWorkflowStarted, "", 72*time.Hour)),
	})

	start := h.now
	wf := h.start(t, snapshot, nil)

	require.NotNil(t, wf.TaskByNumber(1).DueDate)
	assert.Equal(t, start.Add(24*time.Hour), *wf.TaskByNumber(1).DueDate)
	assert.Nil(t, wf.TaskByNumber(2).DueDate)

	h.advance(2 * time.Hour)

	wf, err := h.engine.CompleteTask(t.Context(), wf.ID, 1, "alice", nil)
	require.NoError(t, err)

	require.NotNil(t, wf.TaskByNumber(2).DueDate)
	assert.Equal(t, start.Add(72*time.Hour), *wf.TaskByNumber(2).DueDate)
}

func TestTransitionTables(t *testing.T) {
	assert.NotPanics(t, checkTables)

	for _, transition := range models.TaskTransitions() {
		assert.True(t, models.CanTransitionTask(transition.From, transition.To))
	}

	assert.False(t, models.CanTransitionTask(models.TaskStatusCompleted, models.TaskStatusPending))
	assert.False(t, models.CanTransitionWorkflow(models.WorkflowStatusDone, models.WorkflowStatusRunning))
}

func TestSetTaskStatus_IllegalTransition(t *testing.T) {
	h := newHarness(t)

	task := &models.Task{ID: "t1", Number: 1, Status: models.TaskStatusSkipped}
	s := h.engine.newScope(t.Context(), &models.Workflow{ID: "wf", Tasks: []*models.Task{task}})

	err := s.setTaskStatus(task, models.TaskStatusActive)
	require.ErrorIs(t, err, ErrIllegalTransition)

	var transitionErr *TransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, "skipped", transitionErr.From)
	assert.Equal(t, models.TaskStatusSkipped, task.Status)
	assert.False(t, IsValidationError(err))
}
