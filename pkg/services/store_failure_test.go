package services

import (
	"errors"
	"testing"

	"github.com/dukex/procflow/pkg/engine"
	"github.com/dukex/procflow/pkg/identity"
	"github.com/dukex/procflow/pkg/mocks"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/performers"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/retry"
	"github.com/dukex/procflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newMockedWorkflowService(store *mocks.MockPersistence) *Workflow {
	logger := discardLogger()

	eng := engine.New(
		store.Workflows(),
		performers.NewResolver(identity.NewStatic(nil, nil), logger),
		&testutil.RecordingNotifier{},
		logger,
	)

	return NewWorkflow(store, eng, logger, retry.DefaultPolicy())
}

func TestWorkflowService_HealthCheckUnhealthy(t *testing.T) {
	store := mocks.NewMockPersistence()
	store.On("HealthCheck", mock.Anything).Return(errors.New("disk full"))

	message, ok := newMockedWorkflowService(store).HealthCheck(t.Context())
	assert.False(t, ok)
	assert.Contains(t, message, "disk full")
	store.AssertExpectations(t)
}

func TestWorkflowService_StartMissingSnapshot(t *testing.T) {
	store := mocks.NewMockPersistence()
	template := testutil.CreateTestTemplate(nil)

	store.TemplateRepo.On("GetByID", mock.Anything, template.ID).Return(template, nil)
	store.TemplateRepo.On("Snapshot", mock.Anything, template.ID, template.Version).
		Return(nil, persistence.ErrSnapshotNotFound)

	_, err := newMockedWorkflowService(store).Start(t.Context(), StartRequest{
		TemplateID: template.ID,
		StarterID:  "starter",
	})
	require.ErrorIs(t, err, persistence.ErrSnapshotNotFound)

	store.WorkflowRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	store.TemplateRepo.AssertExpectations(t)
}

func TestTemplateService_SaveStoreFailure(t *testing.T) {
	store := mocks.NewMockPersistence()
	bus := &mocks.MockEventBus{}
	template := testutil.CreateTestTemplate(nil)

	store.TemplateRepo.On("GetByID", mock.Anything, template.ID).Return(nil, persistence.ErrTemplateNotFound)
	store.TemplateRepo.On("Save", mock.Anything, template, mock.Anything, 0).Return(errors.New("connection reset"))

	_, err := NewTemplate(store, bus, discardLogger()).Save(t.Context(), template, "author")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	store.TemplateRepo.AssertExpectations(t)
}

func TestTemplateService_SaveLosesVersionRace(t *testing.T) {
	store := mocks.NewMockPersistence()
	bus := &mocks.MockEventBus{}

	existing := testutil.CreateTestTemplate(nil)
	edited := testutil.CreateTestTemplate([]*models.TaskTemplate{
		testutil.CreateTestTask("review", testutil.WithUsers("alice")),
		testutil.CreateTestTask("approve", testutil.WithUsers("bob")),
	})
	edited.ID = existing.ID

	stale := &persistence.TemplateError{Op: "Save", TemplateID: existing.ID, Err: persistence.ErrStaleTemplate}

	store.TemplateRepo.On("GetByID", mock.Anything, existing.ID).Return(existing, nil)
	store.TemplateRepo.On("Save", mock.Anything, edited, mock.Anything, 1).Return(stale)

	_, err := NewTemplate(store, bus, discardLogger()).Save(t.Context(), edited, "author")
	require.ErrorIs(t, err, persistence.ErrStaleTemplate)
	assert.True(t, IsConflictError(err))
	assert.Equal(t, 2, edited.Version)

	bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	store.TemplateRepo.AssertExpectations(t)
}
