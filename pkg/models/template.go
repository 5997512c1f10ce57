// Package models defines the core domain models for template-driven workflow automation.
package models

import "time"

// FieldType is the declared type of a kickoff or task output field.
type FieldType string

const (
	FieldTypeString   FieldType = "string"
	FieldTypeText     FieldType = "text"
	FieldTypeNumber   FieldType = "number"
	FieldTypeDate     FieldType = "date"
	FieldTypeUser     FieldType = "user"
	FieldTypeDropdown FieldType = "dropdown"
	FieldTypeCheckbox FieldType = "checkbox"
)

// PerformerType tells the resolver how to dereference a raw performer.
type PerformerType string

const (
	PerformerTypeUser            PerformerType = "user"
	PerformerTypeGroup           PerformerType = "group"
	PerformerTypeField           PerformerType = "field"
	PerformerTypeWorkflowStarter PerformerType = "workflow_starter"
)

// DueDateRuleType selects the anchor a due date is computed from.
type DueDateRuleType string

const (
	// DueDateAfterTaskStarted anchors on SourceAPIName's start, or on the task itself when empty.
	DueDateAfterTaskStarted   DueDateRuleType = "after_task_started"
	DueDateAfterTaskCompleted DueDateRuleType = "after_task_completed"
	// DueDateAfterTaskResumed anchors on the task's own resumption after a delay.
	DueDateAfterTaskResumed     DueDateRuleType = "after_task_resumed"
	DueDateAfterField           DueDateRuleType = "after_field"
	DueDateAfterWorkflowStarted DueDateRuleType = "after_workflow_started"
)

// RawPerformer is an unresolved assignment rule.
type RawPerformer struct {
	Type     PerformerType `json:"type"                validate:"required,oneof=user group field workflow_starter"`
	SourceID string        `json:"source_id,omitempty" validate:"required_unless=Type workflow_starter"`
}

// FieldTemplate declares a kickoff field or a task output field.
type FieldTemplate struct {
	APIName    string    `json:"api_name"             validate:"required"`
	Name       string    `json:"name"                 validate:"required"`
	Type       FieldType `json:"type"                 validate:"required,oneof=string text number date user dropdown checkbox"`
	IsRequired bool      `json:"is_required"`
	Selections []string  `json:"selections,omitempty" validate:"required_if=Type dropdown"`
}

// DueDateRule computes a task due date as anchor + Duration.
type DueDateRule struct {
	Rule          DueDateRuleType `json:"rule"                      validate:"required,oneof=after_task_started after_task_completed after_task_resumed after_field after_workflow_started"`
	SourceAPIName string          `json:"source_api_name,omitempty" validate:"required_if=Rule after_task_completed,required_if=Rule after_field"`
	Duration      Duration        `json:"duration"`
}

// ChecklistItem is a single checkable line of a checklist.
type ChecklistItem struct {
	APIName  string `json:"api_name"           validate:"required"`
	Value    string `json:"value"              validate:"required"`
	Selected bool   `json:"selected,omitempty"`
}

// Checklist groups items that must all be selected before a task completes.
type Checklist struct {
	APIName string          `json:"api_name" validate:"required"`
	Items   []ChecklistItem `json:"items"    validate:"min=1,dive"`
}

// TaskTemplate is one ordered step of a template.
type TaskTemplate struct {
	APIName                string          `json:"api_name"                  validate:"required"`
	Number                 int             `json:"number"                    validate:"min=1"`
	Name                   string          `json:"name"                      validate:"required"`
	Description            string          `json:"description,omitempty"`
	Delay                  *Duration       `json:"delay,omitempty"`
	RequireCompletionByAll bool            `json:"require_completion_by_all"`
	RawPerformers          []RawPerformer  `json:"raw_performers"            validate:"dive"`
	DueDate                *DueDateRule    `json:"due_date,omitempty"`
	Fields                 []FieldTemplate `json:"fields,omitempty"          validate:"dive"`
	Conditions             []Condition     `json:"conditions,omitempty"      validate:"dive"`
	Checklists             []Checklist     `json:"checklists,omitempty"      validate:"dive"`
}

// Template is the live, editable definition of a process.
type Template struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"           validate:"required"`
	Name        string          `json:"name"                 validate:"required,min=3"`
	Description string          `json:"description"`
	Version     int             `json:"version"`
	IsActive    bool            `json:"is_active"`
	Finalizable bool            `json:"finalizable"`
	Owners      []string        `json:"owners"               validate:"min=1"`
	Kickoff     []FieldTemplate `json:"kickoff,omitempty"    validate:"dive"`
	Tasks       []*TaskTemplate `json:"tasks"                validate:"min=1,dive"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TemplateSnapshot is the immutable, serialized graph of one template version.
// Running workflows are materialized from and re-synchronized against snapshots.
type TemplateSnapshot struct {
	TemplateID  string          `json:"template_id"`
	Version     int             `json:"version"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Finalizable bool            `json:"finalizable"`
	Owners      []string        `json:"owners"`
	Kickoff     []FieldTemplate `json:"kickoff"`
	Tasks       []TaskTemplate  `json:"tasks"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Snapshot captures the current definition as a TemplateSnapshot.
func (t *Template) Snapshot(createdBy string, now time.Time) *TemplateSnapshot {
	tasks := make([]TaskTemplate, 0, len(t.Tasks))
	for _, task := range t.Tasks {
		tasks = append(tasks, *task)
	}

	return &TemplateSnapshot{
		TemplateID:  t.ID,
		Version:     t.Version,
		Name:        t.Name,
		Description: t.Description,
		Finalizable: t.Finalizable,
		Owners:      append([]string(nil), t.Owners...),
		Kickoff:     append([]FieldTemplate(nil), t.Kickoff...),
		Tasks:       tasks,
		CreatedBy:   createdBy,
		CreatedAt:   now,
	}
}

// TaskByAPIName returns the snapshot task with the given api name.
func (s *TemplateSnapshot) TaskByAPIName(apiName string) (TaskTemplate, bool) {
	for _, task := range s.Tasks {
		if task.APIName == apiName {
			return task, true
		}
	}

	return TaskTemplate{}, false
}
