package mocks

import (
	"context"
	"errors"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	TemplateRepo *MockTemplateRepository
	WorkflowRepo *MockWorkflowRepository
}

// NewMockPersistence wires fresh repository mocks.
func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		TemplateRepo: &MockTemplateRepository{},
		WorkflowRepo: &MockWorkflowRepository{},
	}
}

func (m *MockPersistence) Templates() persistence.TemplateRepository {
	return m.TemplateRepo
}

func (m *MockPersistence) Workflows() persistence.WorkflowRepository {
	return m.WorkflowRepo
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockTemplateRepository is a mock implementation of persistence.TemplateRepository interface.
type MockTemplateRepository struct {
	mock.Mock
}

func (m *MockTemplateRepository) GetByID(ctx context.Context, id string) (*models.Template, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Template), args.Error(1)
}

func (m *MockTemplateRepository) Save(ctx context.Context, template *models.Template, snapshot *models.TemplateSnapshot, expectedVersion int) error {
	args := m.Called(ctx, template, snapshot, expectedVersion)

	return args.Error(0)
}

func (m *MockTemplateRepository) Snapshot(ctx context.Context, templateID string, version int) (*models.TemplateSnapshot, error) {
	args := m.Called(ctx, templateID, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.TemplateSnapshot), args.Error(1)
}

func (m *MockTemplateRepository) ListActiveByAccount(ctx context.Context, accountID string) ([]*models.Template, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Template), args.Error(1)
}

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
// Update applies fn to the workflow given as first return value, so tests can
// drive lock-scope behavior without a store.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) Create(ctx context.Context, wf *models.Workflow) error {
	args := m.Called(ctx, wf)

	return args.Error(0)
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) Update(ctx context.Context, id string, fn persistence.UpdateFunc) (*models.Workflow, error) {
	args := m.Called(ctx, id, fn)
	if err := args.Error(1); err != nil {
		return nil, err
	}

	wf, _ := args.Get(0).(*models.Workflow)
	if wf == nil {
		return nil, persistence.ErrWorkflowNotFound
	}

	if err := fn(wf); err != nil {
		if errors.Is(err, persistence.ErrSkipUpdate) {
			return wf, nil
		}

		return nil, err
	}

	return wf, nil
}

func (m *MockWorkflowRepository) ListForSync(ctx context.Context, templateID string, version int) ([]string, error) {
	args := m.Called(ctx, templateID, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]string), args.Error(1)
}

func (m *MockWorkflowRepository) ExpiredDelays(ctx context.Context, now time.Time) ([]persistence.DelayRef, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]persistence.DelayRef), args.Error(1)
}
