package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/procflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		workflowErr := persistence.NewWorkflowError("GetByID", "workflow-123", persistence.ErrWorkflowNotFound)
		templateErr := &persistence.TemplateError{Op: "Snapshot", TemplateID: "template-456", Version: 2, Err: persistence.ErrSnapshotNotFound}

		assert.True(t, persistence.IsWorkflowNotFound(workflowErr))
		assert.True(t, persistence.IsTemplateNotFound(templateErr))
		assert.False(t, persistence.IsTemplateNotFound(workflowErr))

		assert.True(t, errors.Is(workflowErr, persistence.ErrWorkflowNotFound))
		assert.True(t, errors.Is(templateErr, persistence.ErrSnapshotNotFound))
	})

	t.Run("consistency errors", func(t *testing.T) {
		locked := persistence.NewWorkflowError("Update", "workflow-123", persistence.ErrLockTimeout)
		stale := fmt.Errorf("%w: serialization failure", persistence.ErrStaleWorkflow)

		assert.True(t, persistence.IsConsistencyError(locked))
		assert.True(t, persistence.IsConsistencyError(stale))
		assert.False(t, persistence.IsConsistencyError(persistence.ErrWorkflowNotFound))
		assert.False(t, persistence.IsConsistencyError(nil))
	})

	t.Run("workflow error contains context", func(t *testing.T) {
		err := persistence.NewWorkflowError("Update", "workflow-123", persistence.ErrWorkflowNotFound)

		assert.Contains(t, err.Error(), "Update")
		assert.Contains(t, err.Error(), "workflow-123")
		assert.Contains(t, err.Error(), "workflow not found")
	})

	t.Run("template error contains context", func(t *testing.T) {
		err := &persistence.TemplateError{Op: "Snapshot", TemplateID: "template-456", Version: 2, Err: persistence.ErrSnapshotNotFound}

		assert.Contains(t, err.Error(), "Snapshot")
		assert.Contains(t, err.Error(), "template-456")
		assert.Contains(t, err.Error(), "template snapshot not found")
	})
}
