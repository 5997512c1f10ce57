package postgresql_test

import (
	"testing"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/persistence/persistencetest"
	"github.com/dukex/procflow/pkg/persistence/postgresql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowRepository_LockTimeout(t *testing.T) {
	p, ctx, _ := setupTestDB(t, postgresql.WithLockTimeout(100*time.Millisecond))

	template := persistencetest.NewTemplate("acme", "Onboarding", true)
	require.NoError(t, p.Templates().Save(ctx, template, template.Snapshot("owner", time.Now()), 0))

	wf := persistencetest.NewWorkflow(template.ID, 1)
	require.NoError(t, p.Workflows().Create(ctx, wf))

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)

		_, _ = p.Workflows().Update(ctx, wf.ID, func(*models.Workflow) error {
			close(holding)
			<-release

			return persistence.ErrSkipUpdate
		})
	}()

	<-holding

	_, err := p.Workflows().Update(ctx, wf.ID, func(*models.Workflow) error { return nil })
	require.ErrorIs(t, err, persistence.ErrLockTimeout)
	assert.True(t, persistence.IsConsistencyError(err))

	// Plain reads are not blocked by the row lock.
	_, err = p.Workflows().GetByID(ctx, wf.ID)
	require.NoError(t, err)

	close(release)
	<-done

	_, err = p.Workflows().Update(ctx, wf.ID, func(*models.Workflow) error { return nil })
	require.NoError(t, err)
}

func TestWorkflowRepository_RemovesDroppedTasks(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	template := persistencetest.NewTemplate("acme", "Onboarding", true)
	require.NoError(t, p.Templates().Save(ctx, template, template.Snapshot("owner", time.Now()), 0))

	wf := persistencetest.NewWorkflow(template.ID, 1)
	require.NoError(t, p.Workflows().Create(ctx, wf))

	_, err := p.Workflows().Update(ctx, wf.ID, func(wf *models.Workflow) error {
		wf.Tasks = wf.Tasks[:1]
		wf.Version = 2

		return nil
	})
	require.NoError(t, err)

	loaded, err := p.Workflows().GetByID(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Version)
	require.Len(t, loaded.Tasks, 1)
	assert.Equal(t, "review", loaded.Tasks[0].APIName)
	assert.Len(t, loaded.Tasks[0].Performers, 1)
}
