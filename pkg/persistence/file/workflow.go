package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
)

// WorkflowRepository stores one JSON document per workflow. The per-workflow
// lock only serializes writers inside this process.
type WorkflowRepository struct {
	root        string
	lockTimeout time.Duration
	logger      *slog.Logger

	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewWorkflowRepository(root string, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{
		root:        root,
		lockTimeout: defaultLockTimeout,
		logger:      logger.With("module", "file_workflow_repository"),
		locks:       make(map[string]chan struct{}),
	}
}

func (wr *WorkflowRepository) path(id string) string {
	return filepath.Join(wr.root, "workflows", id+".json")
}

func (wr *WorkflowRepository) lockFor(id string) chan struct{} {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	lock, ok := wr.locks[id]
	if !ok {
		lock = make(chan struct{}, 1)
		wr.locks[id] = lock
	}

	return lock
}

func (wr *WorkflowRepository) acquire(ctx context.Context, id string) (func(), error) {
	lock := wr.lockFor(id)

	timer := time.NewTimer(wr.lockTimeout)
	defer timer.Stop()

	select {
	case lock <- struct{}{}:
		return func() { <-lock }, nil
	case <-timer.C:
		return nil, persistence.ErrLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (wr *WorkflowRepository) Create(ctx context.Context, wf *models.Workflow) error {
	release, err := wr.acquire(ctx, wf.ID)
	if err != nil {
		return persistence.NewWorkflowError("Create", wf.ID, err)
	}
	defer release()

	if _, err := os.Stat(wr.path(wf.ID)); err == nil {
		return persistence.NewWorkflowError("Create", wf.ID, persistence.ErrWorkflowAlreadyExists)
	}

	wf.UpdatedAt = time.Now().UTC()

	if err := writeJSON(wr.path(wf.ID), wf); err != nil {
		return persistence.NewWorkflowError("Create", wf.ID, err)
	}

	return nil
}

// GetByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	var wf models.Workflow

	err := readJSON(wr.path(id), &wf)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	wf.SortTasks()

	return &wf, nil
}

func (wr *WorkflowRepository) Update(ctx context.Context, id string, fn persistence.UpdateFunc) (*models.Workflow, error) {
	release, err := wr.acquire(ctx, id)
	if err != nil {
		return nil, persistence.NewWorkflowError("Update", id, err)
	}
	defer release()

	wf, err := wr.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := fn(wf); err != nil {
		if errors.Is(err, persistence.ErrSkipUpdate) {
			return wr.GetByID(ctx, id)
		}

		return nil, err
	}

	wf.UpdatedAt = time.Now().UTC()
	wf.SortTasks()

	if err := writeJSON(wr.path(id), wf); err != nil {
		return nil, persistence.NewWorkflowError("Update", id, err)
	}

	return wf, nil
}

func (wr *WorkflowRepository) all(ctx context.Context) ([]*models.Workflow, error) {
	root := os.DirFS(filepath.Join(wr.root, "workflows"))

	files, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(files))

	for _, file := range files {
		wf, err := wr.GetByID(ctx, strings.TrimSuffix(file, ".json"))
		if err != nil {
			if persistence.IsWorkflowNotFound(err) {
				continue
			}

			return nil, err
		}

		workflows = append(workflows, wf)
	}

	return workflows, nil
}

func (wr *WorkflowRepository) ListForSync(ctx context.Context, templateID string, version int) ([]string, error) {
	workflows, err := wr.all(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0)

	for _, wf := range workflows {
		if wf.TemplateID == templateID && wf.Version < version {
			ids = append(ids, wf.ID)
		}
	}

	slices.Sort(ids)

	return ids, nil
}

func (wr *WorkflowRepository) ExpiredDelays(ctx context.Context, now time.Time) ([]persistence.DelayRef, error) {
	workflows, err := wr.all(ctx)
	if err != nil {
		return nil, err
	}

	refs := make([]persistence.DelayRef, 0)

	for _, wf := range workflows {
		if wf.IsFinished() {
			continue
		}

		for _, task := range wf.Tasks {
			delay := task.ActiveDelay()
			if delay == nil || now.Before(delay.ExpiresAt()) {
				continue
			}

			refs = append(refs, persistence.DelayRef{
				WorkflowID: wf.ID,
				TaskID:     task.ID,
				ExpiresAt:  delay.ExpiresAt(),
			})
		}
	}

	slices.SortFunc(refs, func(a, b persistence.DelayRef) int {
		return a.ExpiresAt.Compare(b.ExpiresAt)
	})

	wr.logger.DebugContext(ctx, "Found expired delays", "count", len(refs))

	return refs, nil
}
