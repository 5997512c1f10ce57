// Package file provides file-based persistence for templates and workflows.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dukex/procflow/pkg/persistence"
)

const defaultLockTimeout = 5 * time.Second

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root      string
	templates *TemplateRepository
	workflows *WorkflowRepository
}

// Option configures file persistence.
type Option func(*Persistence)

// WithLockTimeout bounds how long Update waits for the workflow lock.
func WithLockTimeout(timeout time.Duration) Option {
	return func(p *Persistence) {
		p.workflows.lockTimeout = timeout
	}
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string, logger *slog.Logger, opts ...Option) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{
		root:      cleanRoot,
		templates: NewTemplateRepository(cleanRoot),
		workflows: NewWorkflowRepository(cleanRoot, logger),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (fp *Persistence) Templates() persistence.TemplateRepository {
	return fp.templates
}

func (fp *Persistence) Workflows() persistence.WorkflowRepository {
	return fp.workflows
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// writeJSON replaces path atomically through a temporary file and rename.
func writeJSON(path string, value any) error {
	err := os.MkdirAll(filepath.Dir(path), 0750)
	if err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	return nil
}

// readJSON returns os.ErrNotExist (wrapped) when the file is missing.
func readJSON(path string, value any) error {
	body, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, value); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}

	return nil
}
