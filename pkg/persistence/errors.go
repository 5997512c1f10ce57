// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowAlreadyExists indicates a workflow with the same identifier already exists.
	ErrWorkflowAlreadyExists = errors.New("workflow already exists")

	// ErrTemplateNotFound indicates a template was not found by the given identifier.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrSnapshotNotFound indicates no snapshot exists for the template version.
	ErrSnapshotNotFound = errors.New("template snapshot not found")

	// ErrLockTimeout indicates the workflow lock could not be acquired in time.
	ErrLockTimeout = errors.New("workflow lock timeout")

	// ErrStaleWorkflow indicates a concurrent writer invalidated the read.
	ErrStaleWorkflow = errors.New("stale workflow read")

	// ErrStaleTemplate indicates the live template changed since the caller read it.
	ErrStaleTemplate = errors.New("stale template read")

	// ErrSkipUpdate is returned by an UpdateFunc to leave the workflow untouched.
	ErrSkipUpdate = errors.New("skip update")
)

// WorkflowError wraps workflow-related errors with additional context.
type WorkflowError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Update")
	WorkflowID string
	Err        error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for workflow errors.
func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// TemplateError wraps template-related errors with additional context.
type TemplateError struct {
	Op         string
	TemplateID string
	Version    int // zero for the live template
	Err        error
}

func (e *TemplateError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("%s operation failed for template %s version %d: %v", e.Op, e.TemplateID, e.Version, e.Err)
	}

	return fmt.Sprintf("%s operation failed for template %s: %v", e.Op, e.TemplateID, e.Err)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

func (e *TemplateError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsTemplateNotFound checks if an error indicates a template or one of its snapshots was not found.
func IsTemplateNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound) || errors.Is(err, ErrSnapshotNotFound)
}

// IsConsistencyError reports errors the caller may retry: lock timeouts and stale reads.
func IsConsistencyError(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrStaleWorkflow)
}
