package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
)

// TemplateRepository stores the live template at templates/<id>.json and
// every snapshot at templates/<id>/versions/<version>.json.
type TemplateRepository struct {
	root string
	mu   sync.Mutex
}

func NewTemplateRepository(root string) *TemplateRepository {
	return &TemplateRepository{root: root}
}

func (tr *TemplateRepository) path(id string) string {
	return filepath.Join(tr.root, "templates", id+".json")
}

func (tr *TemplateRepository) snapshotPath(id string, version int) string {
	return filepath.Join(tr.root, "templates", id, "versions", strconv.Itoa(version)+".json")
}

func (tr *TemplateRepository) GetByID(_ context.Context, id string) (*models.Template, error) {
	var template models.Template

	err := readJSON(tr.path(id), &template)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &persistence.TemplateError{Op: "GetByID", TemplateID: id, Err: persistence.ErrTemplateNotFound}
	}

	if err != nil {
		return nil, &persistence.TemplateError{Op: "GetByID", TemplateID: id, Err: err}
	}

	return &template, nil
}

func (tr *TemplateRepository) Save(ctx context.Context, template *models.Template, snapshot *models.TemplateSnapshot, expectedVersion int) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	stored := 0

	current, err := tr.GetByID(ctx, template.ID)

	switch {
	case err == nil:
		stored = current.Version
	case !persistence.IsTemplateNotFound(err):
		return err
	}

	if stored != expectedVersion {
		return &persistence.TemplateError{Op: "Save", TemplateID: template.ID, Err: persistence.ErrStaleTemplate}
	}

	if snapshot != nil {
		path := tr.snapshotPath(template.ID, snapshot.Version)

		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			if err := writeJSON(path, snapshot); err != nil {
				return &persistence.TemplateError{Op: "Save", TemplateID: template.ID, Version: snapshot.Version, Err: err}
			}
		}
	}

	if err := writeJSON(tr.path(template.ID), template); err != nil {
		return &persistence.TemplateError{Op: "Save", TemplateID: template.ID, Err: err}
	}

	return nil
}

func (tr *TemplateRepository) Snapshot(_ context.Context, templateID string, version int) (*models.TemplateSnapshot, error) {
	var snapshot models.TemplateSnapshot

	err := readJSON(tr.snapshotPath(templateID, version), &snapshot)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &persistence.TemplateError{Op: "Snapshot", TemplateID: templateID, Version: version, Err: persistence.ErrSnapshotNotFound}
	}

	if err != nil {
		return nil, &persistence.TemplateError{Op: "Snapshot", TemplateID: templateID, Version: version, Err: err}
	}

	return &snapshot, nil
}

func (tr *TemplateRepository) ListActiveByAccount(ctx context.Context, accountID string) ([]*models.Template, error) {
	root := os.DirFS(filepath.Join(tr.root, "templates"))

	files, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list template files: %w", err)
	}

	templates := make([]*models.Template, 0)

	for _, file := range files {
		template, err := tr.GetByID(ctx, strings.TrimSuffix(file, ".json"))
		if err != nil {
			return nil, err
		}

		if template.AccountID == accountID && template.IsActive {
			templates = append(templates, template)
		}
	}

	slices.SortFunc(templates, func(a, b *models.Template) int {
		return strings.Compare(a.Name, b.Name)
	})

	return templates, nil
}
