// Package services provides the template and workflow operations exposed to callers.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/procflow/pkg/engine"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
)

// Validation errors are the caller's fault and are never retried.
var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrTemplateNil     = errors.New("template cannot be nil")
	ErrEmptyUserID     = errors.New("user ID cannot be empty")
	ErrInvalidDocument = errors.New("template document does not match the schema")
	ErrTemplateActive  = errors.New("template is not active")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError reports whether err was caused by the request itself.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrTemplateNil) ||
		errors.Is(err, ErrEmptyUserID) ||
		errors.Is(err, ErrInvalidDocument) ||
		errors.Is(err, ErrTemplateActive) ||
		errors.Is(err, models.ErrInvalidTemplate) ||
		errors.Is(err, models.ErrTaskNumbersNotContiguous) ||
		errors.Is(err, models.ErrDuplicateAPIName) ||
		errors.Is(err, models.ErrUnknownFieldReference) ||
		errors.Is(err, models.ErrUnknownTaskReference) ||
		errors.Is(err, models.ErrFieldTypeMismatch) ||
		engine.IsValidationError(err)
}

// IsConflictError reports whether err was a consistency failure that outlived its retries.
func IsConflictError(err error) bool {
	return persistence.IsConsistencyError(err) ||
		errors.Is(err, persistence.ErrStaleTemplate) ||
		errors.Is(err, persistence.ErrWorkflowAlreadyExists)
}

// IsNotFoundError reports whether err points at a missing workflow, template or snapshot.
func IsNotFoundError(err error) bool {
	return persistence.IsWorkflowNotFound(err) ||
		persistence.IsTemplateNotFound(err) ||
		errors.Is(err, persistence.ErrSnapshotNotFound)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
