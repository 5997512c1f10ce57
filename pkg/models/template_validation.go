package models

import (
	"errors"
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrInvalidTemplate wraps struct-level validation failures.
	ErrInvalidTemplate = errors.New("invalid template")

	// ErrTaskNumbersNotContiguous indicates task numbers have gaps or duplicates.
	ErrTaskNumbersNotContiguous = errors.New("task numbers must form a contiguous sequence starting at 1")

	// ErrDuplicateAPIName indicates two tasks or two fields share an api name.
	ErrDuplicateAPIName = errors.New("duplicate api name")

	// ErrUnknownFieldReference indicates a reference to a field that does not precede the task.
	ErrUnknownFieldReference = errors.New("reference to a field that does not precede the task")

	// ErrUnknownTaskReference indicates a due-date rule anchored on a task that does not precede it.
	ErrUnknownTaskReference = errors.New("reference to a task that does not precede the task")

	// ErrFieldTypeMismatch indicates a referenced field has the wrong type for its use.
	ErrFieldTypeMismatch = errors.New("referenced field has an unexpected type")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// TemplateError locates a validation failure inside a template.
type TemplateError struct {
	TaskAPIName string
	Reference   string
	Err         error
}

func (e *TemplateError) Error() string {
	if e.Reference != "" {
		return fmt.Sprintf("task %s: %v: %s", e.TaskAPIName, e.Err, e.Reference)
	}

	return fmt.Sprintf("task %s: %v", e.TaskAPIName, e.Err)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

// ValidateTemplate checks struct constraints, the contiguous numbering of tasks
// and that every field, performer and due-date reference points backwards.
func ValidateTemplate(template *Template) error {
	if err := validate.Struct(template); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTemplate, err)
	}

	tasks := slices.Clone(template.Tasks)
	slices.SortFunc(tasks, func(a, b *TaskTemplate) int {
		return a.Number - b.Number
	})

	for i, task := range tasks {
		if task.Number != i+1 {
			return &TemplateError{TaskAPIName: task.APIName, Err: ErrTaskNumbersNotContiguous}
		}
	}

	available := make(map[string]FieldTemplate)
	seenFields := make(map[string]bool)
	seenTasks := make(map[string]bool)

	for _, field := range template.Kickoff {
		if seenFields[field.APIName] {
			return &TemplateError{TaskAPIName: "kickoff", Reference: field.APIName, Err: ErrDuplicateAPIName}
		}

		seenFields[field.APIName] = true
		available[field.APIName] = field
	}

	for _, task := range tasks {
		if seenTasks[task.APIName] {
			return &TemplateError{TaskAPIName: task.APIName, Err: ErrDuplicateAPIName}
		}

		if err := validateTaskReferences(task, available, seenTasks); err != nil {
			return err
		}

		seenTasks[task.APIName] = true

		for _, field := range task.Fields {
			if seenFields[field.APIName] {
				return &TemplateError{TaskAPIName: task.APIName, Reference: field.APIName, Err: ErrDuplicateAPIName}
			}

			seenFields[field.APIName] = true
			available[field.APIName] = field
		}
	}

	return nil
}

func validateTaskReferences(task *TaskTemplate, available map[string]FieldTemplate, precedingTasks map[string]bool) error {
	for _, performer := range task.RawPerformers {
		if performer.Type != PerformerTypeField {
			continue
		}

		field, ok := available[performer.SourceID]
		if !ok {
			return &TemplateError{TaskAPIName: task.APIName, Reference: performer.SourceID, Err: ErrUnknownFieldReference}
		}

		if field.Type != FieldTypeUser {
			return &TemplateError{TaskAPIName: task.APIName, Reference: performer.SourceID, Err: ErrFieldTypeMismatch}
		}
	}

	for _, condition := range task.Conditions {
		for _, rule := range condition.Rules {
			for _, predicate := range rule.Predicates {
				if _, ok := available[predicate.Field]; !ok {
					return &TemplateError{TaskAPIName: task.APIName, Reference: predicate.Field, Err: ErrUnknownFieldReference}
				}

				if predicate.ValueField == "" {
					continue
				}

				if _, ok := available[predicate.ValueField]; !ok {
					return &TemplateError{TaskAPIName: task.APIName, Reference: predicate.ValueField, Err: ErrUnknownFieldReference}
				}
			}
		}
	}

	if task.DueDate == nil {
		return nil
	}

	rule := task.DueDate

	switch rule.Rule {
	case DueDateAfterField:
		field, ok := available[rule.SourceAPIName]
		if !ok {
			return &TemplateError{TaskAPIName: task.APIName, Reference: rule.SourceAPIName, Err: ErrUnknownFieldReference}
		}

		if field.Type != FieldTypeDate {
			return &TemplateError{TaskAPIName: task.APIName, Reference: rule.SourceAPIName, Err: ErrFieldTypeMismatch}
		}
	case DueDateAfterTaskStarted, DueDateAfterTaskCompleted:
		if rule.SourceAPIName == "" || rule.SourceAPIName == task.APIName {
			if rule.Rule == DueDateAfterTaskCompleted {
				return &TemplateError{TaskAPIName: task.APIName, Reference: rule.SourceAPIName, Err: ErrUnknownTaskReference}
			}

			return nil
		}

		if !precedingTasks[rule.SourceAPIName] {
			return &TemplateError{TaskAPIName: task.APIName, Reference: rule.SourceAPIName, Err: ErrUnknownTaskReference}
		}
	case DueDateAfterTaskResumed, DueDateAfterWorkflowStarted:
	}

	return nil
}
