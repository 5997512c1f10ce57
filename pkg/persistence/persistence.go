// Package persistence provides the data storage abstraction for templates and workflows.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/procflow/pkg/models"
)

// UpdateFunc mutates a workflow inside its lock scope. Returning an error
// discards every change; returning ErrSkipUpdate ends the scope without writing.
type UpdateFunc func(wf *models.Workflow) error

// DelayRef points at an open delay that has elapsed.
type DelayRef struct {
	WorkflowID string
	TaskID     string
	ExpiresAt  time.Time
}

type Persistence interface {
	Templates() TemplateRepository
	Workflows() WorkflowRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

type TemplateRepository interface {
	GetByID(ctx context.Context, id string) (*models.Template, error)
	// Save upserts the live template and stores snapshot under its version.
	// Snapshots are immutable: saving an existing version again is a no-op.
	// expectedVersion is the live version the caller read, zero for a new
	// template; ErrStaleTemplate is returned when it no longer matches.
	Save(ctx context.Context, template *models.Template, snapshot *models.TemplateSnapshot, expectedVersion int) error
	Snapshot(ctx context.Context, templateID string, version int) (*models.TemplateSnapshot, error)
	ListActiveByAccount(ctx context.Context, accountID string) ([]*models.Template, error)
}

type WorkflowRepository interface {
	Create(ctx context.Context, wf *models.Workflow) error
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	// Update holds an exclusive lock on the workflow while fn runs and commits
	// its changes atomically. It returns the workflow as committed.
	Update(ctx context.Context, id string, fn UpdateFunc) (*models.Workflow, error)
	// ListForSync returns the ids of workflows of templateID whose version is below version.
	ListForSync(ctx context.Context, templateID string, version int) ([]string, error)
	// ExpiredDelays returns open delays of running or delayed workflows that elapsed at now.
	ExpiredDelays(ctx context.Context, now time.Time) ([]DelayRef, error)
}
