package engine

import (
	"errors"
	"fmt"

	"github.com/dukex/procflow/pkg/duedate"
	"github.com/dukex/procflow/pkg/performers"
)

// Validation errors. They are returned to the caller as-is and never retried.
var (
	ErrTaskNotFound              = errors.New("task not found")
	ErrTaskNotActive             = errors.New("task is not active")
	ErrTaskAlreadyCompleted      = errors.New("task is already completed")
	ErrPerformerAlreadyCompleted = errors.New("performer already completed the task")
	ErrNotPerformer              = errors.New("user is not a performer of the task")
	ErrAlreadyPerformer          = performers.ErrAlreadyPerformer
	ErrRevertNotAllowed          = errors.New("revert is not allowed")
	ErrWorkflowFinished          = errors.New("workflow is finished")
	ErrWorkflowDelayed           = errors.New("workflow is delayed")
	ErrWorkflowNotDelayed        = errors.New("workflow is not delayed")
	ErrWorkflowNotFinalizable    = errors.New("workflow is not finalizable")
	ErrPermissionDenied          = errors.New("permission denied")
	ErrChecklistIncomplete       = errors.New("checklist is incomplete")
	ErrChecklistItemNotFound     = errors.New("checklist item not found")
	ErrUnknownField              = errors.New("unknown field")
	ErrRequiredField             = errors.New("required field is empty")
	ErrInvalidDelay              = duedate.ErrInvalidDuration
	ErrIllegalTransition         = errors.New("illegal status transition")
)

var validationErrors = []error{
	ErrTaskNotFound,
	ErrTaskNotActive,
	ErrTaskAlreadyCompleted,
	ErrPerformerAlreadyCompleted,
	ErrNotPerformer,
	ErrAlreadyPerformer,
	ErrRevertNotAllowed,
	ErrWorkflowFinished,
	ErrWorkflowDelayed,
	ErrWorkflowNotDelayed,
	ErrWorkflowNotFinalizable,
	ErrPermissionDenied,
	ErrChecklistIncomplete,
	ErrChecklistItemNotFound,
	ErrUnknownField,
	ErrRequiredField,
	ErrInvalidDelay,
}

// IsValidationError reports whether err is a domain validation failure.
func IsValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}

// TransitionError reports a status change missing from the transition tables.
// It indicates a bug in the caller, not bad input.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: illegal transition %s -> %s", e.Entity, e.ID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// FieldError locates an invalid field value.
type FieldError struct {
	APIName string
	Err     error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: %v", e.APIName, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}
