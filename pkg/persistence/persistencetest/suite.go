// Package persistencetest holds the repository contract shared by every
// persistence backend. Backend packages run it from their own tests.
package persistencetest

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. It is called once per sub-test.
type Factory func(t *testing.T) persistence.Persistence

// Run exercises the template and workflow repositories of the store built by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("templates", func(t *testing.T) { testTemplates(t, factory(t)) })
	t.Run("template list", func(t *testing.T) { testListActive(t, factory(t)) })
	t.Run("workflow round trip", func(t *testing.T) { testWorkflowRoundTrip(t, factory(t)) })
	t.Run("workflow update", func(t *testing.T) { testWorkflowUpdate(t, factory(t)) })
	t.Run("concurrent updates", func(t *testing.T) { testConcurrentUpdates(t, factory(t)) })
	t.Run("list for sync", func(t *testing.T) { testListForSync(t, factory(t)) })
	t.Run("expired delays", func(t *testing.T) { testExpiredDelays(t, factory(t)) })
}

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// NewTemplate builds a valid single-task template with a fresh UUID.
func NewTemplate(accountID, name string, active bool) *models.Template {
	return &models.Template{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Name:      name,
		Version:   1,
		IsActive:  active,
		Owners:    []string{"owner"},
		Tasks: []*models.TaskTemplate{{
			APIName:       "review",
			Number:        1,
			Name:          "Review",
			RawPerformers: []models.RawPerformer{{Type: models.PerformerTypeUser, SourceID: "alice"}},
		}},
		CreatedAt: epoch,
		UpdatedAt: epoch,
	}
}

// NewWorkflow builds a running two-task workflow of template at version.
func NewWorkflow(templateID string, version int) *models.Workflow {
	started := epoch

	return &models.Workflow{
		ID:          uuid.NewString(),
		TemplateID:  templateID,
		AccountID:   "acme",
		Name:        "Onboarding",
		Version:     version,
		Status:      models.WorkflowStatusRunning,
		CurrentTask: 1,
		StarterID:   "starter",
		Owners:      []string{"owner"},
		Members:     []string{"alice"},
		Fields: map[string]*models.FieldValue{
			"vendor": {APIName: "vendor", Name: "Vendor", Type: models.FieldTypeString, Value: "Globex"},
		},
		Tasks: []*models.Task{
			{
				ID:            uuid.NewString(),
				APIName:       "review",
				Number:        1,
				Name:          "Review",
				Status:        models.TaskStatusActive,
				RawPerformers: []models.RawPerformer{{Type: models.PerformerTypeUser, SourceID: "alice"}},
				DueDateRule:   &models.DueDateRule{Rule: models.DueDateAfterTaskStarted, Duration: models.Duration(24 * time.Hour)},
				Performers:    []*models.TaskPerformer{{UserID: "alice", DirectlyStatus: models.DirectlyStatusAuto}},
				DateStarted:   &started,
			},
			{
				ID:            uuid.NewString(),
				APIName:       "approve",
				Number:        2,
				Name:          "Approve",
				Status:        models.TaskStatusPending,
				DelayDuration: models.NewDuration(time.Hour),
				RawPerformers: []models.RawPerformer{},
				Performers:    []*models.TaskPerformer{},
			},
		},
		DateStarted: started,
	}
}

func saveTemplate(t *testing.T, store persistence.Persistence, template *models.Template) {
	t.Helper()

	require.NoError(t, store.Templates().Save(t.Context(), template, template.Snapshot("owner", epoch), template.Version-1))
}

func createWorkflow(t *testing.T, store persistence.Persistence, version int) *models.Workflow {
	t.Helper()

	template := NewTemplate("acme", "Onboarding", true)
	saveTemplate(t, store, template)

	wf := NewWorkflow(template.ID, version)
	require.NoError(t, store.Workflows().Create(t.Context(), wf))

	return wf
}

func testTemplates(t *testing.T, store persistence.Persistence) {
	ctx := t.Context()
	repo := store.Templates()

	_, err := repo.GetByID(ctx, uuid.NewString())
	require.True(t, persistence.IsTemplateNotFound(err), "got %v", err)

	template := NewTemplate("acme", "Onboarding", true)
	saveTemplate(t, store, template)

	stored, err := repo.GetByID(ctx, template.ID)
	require.NoError(t, err)
	assert.Equal(t, template.Name, stored.Name)
	assert.Equal(t, 1, stored.Version)
	assert.Equal(t, []string{"owner"}, stored.Owners)
	require.Len(t, stored.Tasks, 1)
	assert.Equal(t, "alice", stored.Tasks[0].RawPerformers[0].SourceID)

	_, err = repo.Snapshot(ctx, template.ID, 2)
	require.ErrorIs(t, err, persistence.ErrSnapshotNotFound)

	template.Version = 2
	template.Tasks = append(template.Tasks, &models.TaskTemplate{
		APIName:       "approve",
		Number:        2,
		Name:          "Approve",
		RawPerformers: []models.RawPerformer{},
	})
	saveTemplate(t, store, template)

	v1, err := repo.Snapshot(ctx, template.ID, 1)
	require.NoError(t, err)
	assert.Len(t, v1.Tasks, 1)
	assert.Equal(t, "owner", v1.CreatedBy)

	v2, err := repo.Snapshot(ctx, template.ID, 2)
	require.NoError(t, err)
	assert.Len(t, v2.Tasks, 2)

	// A stored snapshot is never replaced.
	rewritten := template.Snapshot("someone-else", epoch)
	rewritten.Tasks = rewritten.Tasks[:1]
	require.NoError(t, repo.Save(ctx, template, rewritten, 2))

	v2, err = repo.Snapshot(ctx, template.ID, 2)
	require.NoError(t, err)
	assert.Len(t, v2.Tasks, 2)
	assert.Equal(t, "owner", v2.CreatedBy)

	// A writer that read version 1 lost the race to version 2.
	racer := *template
	racer.Name = "Renamed by a stale writer"
	racer.Version = 2

	err = repo.Save(ctx, &racer, racer.Snapshot("racer", epoch), 1)
	require.ErrorIs(t, err, persistence.ErrStaleTemplate)

	err = repo.Save(ctx, &racer, nil, 0)
	require.ErrorIs(t, err, persistence.ErrStaleTemplate)

	stored, err = repo.GetByID(ctx, template.ID)
	require.NoError(t, err)
	assert.Equal(t, template.Name, stored.Name)
	assert.Equal(t, 2, stored.Version)

	fresh := NewTemplate("acme", "Never stored", true)
	err = repo.Save(ctx, fresh, nil, 3)
	require.ErrorIs(t, err, persistence.ErrStaleTemplate)

	_, err = repo.GetByID(ctx, fresh.ID)
	require.True(t, persistence.IsTemplateNotFound(err), "got %v", err)
}

func testListActive(t *testing.T, store persistence.Persistence) {
	beta := NewTemplate("acme", "Beta process", true)
	alpha := NewTemplate("acme", "Alpha process", true)
	draft := NewTemplate("acme", "Draft process", false)
	other := NewTemplate("globex", "Other process", true)

	for _, template := range []*models.Template{beta, alpha, draft, other} {
		saveTemplate(t, store, template)
	}

	templates, err := store.Templates().ListActiveByAccount(t.Context(), "acme")
	require.NoError(t, err)
	require.Len(t, templates, 2)
	assert.Equal(t, alpha.ID, templates[0].ID)
	assert.Equal(t, beta.ID, templates[1].ID)

	templates, err = store.Templates().ListActiveByAccount(t.Context(), "initech")
	require.NoError(t, err)
	assert.Empty(t, templates)
}

func testWorkflowRoundTrip(t *testing.T, store persistence.Persistence) {
	ctx := t.Context()
	repo := store.Workflows()

	_, err := repo.GetByID(ctx, uuid.NewString())
	require.True(t, persistence.IsWorkflowNotFound(err), "got %v", err)

	wf := createWorkflow(t, store, 1)

	err = repo.Create(ctx, wf)
	require.ErrorIs(t, err, persistence.ErrWorkflowAlreadyExists)

	loaded, err := repo.GetByID(ctx, wf.ID)
	require.NoError(t, err)

	assert.Equal(t, wf.TemplateID, loaded.TemplateID)
	assert.Equal(t, models.WorkflowStatusRunning, loaded.Status)
	assert.Equal(t, 1, loaded.CurrentTask)
	assert.Equal(t, []string{"owner"}, loaded.Owners)
	assert.Equal(t, []string{"alice"}, loaded.Members)
	assert.True(t, epoch.Equal(loaded.DateStarted))
	assert.Nil(t, loaded.DateCompleted)
	require.Contains(t, loaded.Fields, "vendor")
	assert.Equal(t, "Globex", loaded.Fields["vendor"].Value)

	require.Len(t, loaded.Tasks, 2)

	review := loaded.Tasks[0]
	assert.Equal(t, "review", review.APIName)
	assert.Equal(t, models.TaskStatusActive, review.Status)
	require.NotNil(t, review.DateStarted)
	assert.True(t, epoch.Equal(*review.DateStarted))
	require.NotNil(t, review.DueDateRule)
	assert.Equal(t, 24*time.Hour, review.DueDateRule.Duration.Std())
	require.Len(t, review.Performers, 1)
	assert.Equal(t, "alice", review.Performers[0].UserID)
	assert.Equal(t, models.DirectlyStatusAuto, review.Performers[0].DirectlyStatus)

	approve := loaded.Tasks[1]
	assert.Equal(t, 2, approve.Number)
	require.NotNil(t, approve.DelayDuration)
	assert.Equal(t, time.Hour, approve.DelayDuration.Std())
	assert.Empty(t, approve.Performers)
}

func testWorkflowUpdate(t *testing.T, store persistence.Persistence) {
	ctx := t.Context()
	repo := store.Workflows()
	wf := createWorkflow(t, store, 1)

	completed := epoch.Add(time.Hour)

	updated, err := repo.Update(ctx, wf.ID, func(wf *models.Workflow) error {
		review := wf.TaskByAPIName("review")
		review.Status = models.TaskStatusCompleted
		review.DateCompleted = &completed
		review.Performers[0].IsCompleted = true
		review.Performers[0].DateCompleted = &completed
		review.Performers = append(review.Performers, &models.TaskPerformer{UserID: "bob", DirectlyStatus: models.DirectlyStatusDeleted})

		approve := wf.TaskByAPIName("approve")
		approve.Status = models.TaskStatusDelayed
		approve.Delays = append(approve.Delays, &models.Delay{ID: uuid.NewString(), StartDate: completed, Duration: models.Duration(time.Hour)})

		wf.CurrentTask = 2
		wf.Status = models.WorkflowStatusDelayed
		wf.Fields["decision"] = &models.FieldValue{APIName: "decision", Type: models.FieldTypeString, TaskAPIName: "review", Value: "yes"}

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.CurrentTask)

	loaded, err := repo.GetByID(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusDelayed, loaded.Status)
	assert.Equal(t, "yes", loaded.Fields["decision"].Value)

	review := loaded.TaskByAPIName("review")
	require.NotNil(t, review.DateCompleted)
	assert.True(t, completed.Equal(*review.DateCompleted))
	require.NotNil(t, review.Performer("alice"))
	assert.True(t, review.Performer("alice").IsCompleted)
	require.NotNil(t, review.Performer("bob"))
	assert.Equal(t, models.DirectlyStatusDeleted, review.Performer("bob").DirectlyStatus)

	approve := loaded.TaskByAPIName("approve")
	require.Len(t, approve.Delays, 1)
	assert.Nil(t, approve.Delays[0].EndDate)
	assert.Equal(t, time.Hour, approve.Delays[0].Duration.Std())

	boom := errors.New("rejected")

	_, err = repo.Update(ctx, wf.ID, func(wf *models.Workflow) error {
		wf.Status = models.WorkflowStatusTerminated
		wf.Tasks[0].Name = "Changed"

		return boom
	})
	require.ErrorIs(t, err, boom)

	skipped, err := repo.Update(ctx, wf.ID, func(wf *models.Workflow) error {
		wf.Status = models.WorkflowStatusTerminated

		return persistence.ErrSkipUpdate
	})
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusDelayed, skipped.Status)

	loaded, err = repo.GetByID(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusDelayed, loaded.Status)
	assert.Equal(t, "Review", loaded.Tasks[0].Name)

	_, err = repo.Update(ctx, uuid.NewString(), func(*models.Workflow) error { return nil })
	require.True(t, persistence.IsWorkflowNotFound(err), "got %v", err)
}

func testConcurrentUpdates(t *testing.T, store persistence.Persistence) {
	wf := createWorkflow(t, store, 1)

	const writers = 8

	var wg sync.WaitGroup

	errs := make(chan error, writers)

	for i := range writers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := store.Workflows().Update(t.Context(), wf.ID, func(wf *models.Workflow) error {
				wf.AddMember(fmt.Sprintf("user-%d", i))

				return nil
			})
			errs <- err
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	loaded, err := store.Workflows().GetByID(t.Context(), wf.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Members, writers+1, "no update is lost")
}

func testListForSync(t *testing.T, store persistence.Persistence) {
	template := NewTemplate("acme", "Onboarding", true)
	saveTemplate(t, store, template)

	old := NewWorkflow(template.ID, 1)
	older := NewWorkflow(template.ID, 2)
	current := NewWorkflow(template.ID, 3)

	for _, wf := range []*models.Workflow{old, older, current} {
		require.NoError(t, store.Workflows().Create(t.Context(), wf))
	}

	unrelated := createWorkflow(t, store, 1)

	ids, err := store.Workflows().ListForSync(t.Context(), template.ID, 3)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{old.ID, older.ID}, ids)
	assert.NotContains(t, ids, unrelated.ID)
}

func testExpiredDelays(t *testing.T, store persistence.Persistence) {
	ctx := t.Context()

	delayed := func(start time.Time, d time.Duration, status models.WorkflowStatus) *models.Workflow {
		wf := createWorkflow(t, store, 1)

		_, err := store.Workflows().Update(ctx, wf.ID, func(wf *models.Workflow) error {
			task := wf.Tasks[0]
			task.Status = models.TaskStatusDelayed
			task.Delays = append(task.Delays, &models.Delay{ID: uuid.NewString(), StartDate: start, Duration: models.Duration(d)})
			wf.Status = status

			return nil
		})
		require.NoError(t, err)

		return wf
	}

	late := delayed(epoch, 2*time.Hour, models.WorkflowStatusDelayed)
	early := delayed(epoch, time.Hour, models.WorkflowStatusDelayed)
	pending := delayed(epoch, 10*time.Hour, models.WorkflowStatusDelayed)
	terminated := delayed(epoch, time.Hour, models.WorkflowStatusTerminated)

	closed := delayed(epoch, time.Hour, models.WorkflowStatusRunning)
	_, err := store.Workflows().Update(ctx, closed.ID, func(wf *models.Workflow) error {
		end := epoch.Add(time.Minute)
		wf.Tasks[0].Delays[0].EndDate = &end
		wf.Tasks[0].Status = models.TaskStatusActive

		return nil
	})
	require.NoError(t, err)

	refs, err := store.Workflows().ExpiredDelays(ctx, epoch.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, refs, 2)

	assert.Equal(t, early.ID, refs[0].WorkflowID)
	assert.Equal(t, early.Tasks[0].ID, refs[0].TaskID)
	assert.True(t, epoch.Add(time.Hour).Equal(refs[0].ExpiresAt))
	assert.Equal(t, late.ID, refs[1].WorkflowID)

	for _, ref := range refs {
		assert.NotEqual(t, pending.ID, ref.WorkflowID)
		assert.NotEqual(t, terminated.ID, ref.WorkflowID)
		assert.NotEqual(t, closed.ID, ref.WorkflowID)
	}
}
