// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"fmt"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/google/uuid"
)

// CreateTestTemplate creates an active template with the given tasks, numbered
// in order. Without tasks it holds a single task performed by "alice".
func CreateTestTemplate(tasks []*models.TaskTemplate, overrides ...func(*models.Template)) *models.Template {
	if len(tasks) == 0 {
		tasks = []*models.TaskTemplate{CreateTestTask("review", WithUsers("alice"))}
	}

	for i, task := range tasks {
		task.Number = i + 1
	}

	template := &models.Template{
		ID:          uuid.New().String(),
		AccountID:   "acme",
		Name:        "Test Template",
		Description: "Test template description",
		Version:     1,
		IsActive:    true,
		Owners:      []string{"owner"},
		Tasks:       tasks,
	}

	for _, override := range overrides {
		override(template)
	}

	return template
}

// CreateTestSnapshot snapshots a test template at its current version.
func CreateTestSnapshot(tasks []*models.TaskTemplate, overrides ...func(*models.Template)) *models.TemplateSnapshot {
	return CreateTestTemplate(tasks, overrides...).Snapshot("owner", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
}

// CreateTestTask creates a task template; Number is assigned by CreateTestTemplate.
func CreateTestTask(apiName string, overrides ...func(*models.TaskTemplate)) *models.TaskTemplate {
	task := &models.TaskTemplate{
		APIName:       apiName,
		Number:        1,
		Name:          fmt.Sprintf("Task %s", apiName),
		RawPerformers: []models.RawPerformer{},
	}

	for _, override := range overrides {
		override(task)
	}

	return task
}

// WithKickoff declares kickoff fields.
func WithKickoff(fields ...models.FieldTemplate) func(*models.Template) {
	return func(t *models.Template) {
		t.Kickoff = append(t.Kickoff, fields...)
	}
}

// WithOwners replaces the template owners.
func WithOwners(owners ...string) func(*models.Template) {
	return func(t *models.Template) {
		t.Owners = owners
	}
}

// WithFinalizable marks the template as finalizable.
func WithFinalizable() func(*models.Template) {
	return func(t *models.Template) {
		t.Finalizable = true
	}
}

// WithUsers assigns users directly.
func WithUsers(userIDs ...string) func(*models.TaskTemplate) {
	return func(t *models.TaskTemplate) {
		for _, id := range userIDs {
			t.RawPerformers = append(t.RawPerformers, models.RawPerformer{Type: models.PerformerTypeUser, SourceID: id})
		}
	}
}

// WithGroup assigns every member of a group.
func WithGroup(groupID string) func(*models.TaskTemplate) {
	return func(t *models.TaskTemplate) {
		t.RawPerformers = append(t.RawPerformers, models.RawPerformer{Type: models.PerformerTypeGroup, SourceID: groupID})
	}
}

// WithFieldPerformer assigns the user stored in a prior user field.
func WithFieldPerformer(fieldAPIName string) func(*models.TaskTemplate) {
	return func(t *models.TaskTemplate) {
		t.RawPerformers = append(t.RawPerformers, models.RawPerformer{Type: models.PerformerTypeField, SourceID: fieldAPIName})
	}
}

// WithStarter assigns the workflow starter.
func WithStarter() func(*models.TaskTemplate) {
	return func(t *models.TaskTemplate) {
		t.RawPerformers = append(t.RawPerformers, models.RawPerformer{Type: models.PerformerTypeWorkflowStarter})
	}
}

// WithRequireAll requires every performer to complete.
func WithRequireAll() func(*models.TaskTemplate) {
	return func(t *models.TaskTemplate) {
		t.RequireCompletionByAll = true
	}
}

// WithDelay delays the task before it starts.
func WithDelay(d time.Duration) func(*models.TaskTemplate) {
	return func(t *models.TaskTemplate) {
		t.Delay = models.NewDuration(d)
	}
}

// WithDueDate sets the due date rule.
func WithDueDate(rule models.DueDateRuleType, source string, d time.Duration) func(*models.TaskTemplate) {
	return func(t *models.TaskTemplate) {
		t.DueDate = &models.DueDateRule{Rule: rule, SourceAPIName: source, Duration: models.Duration(d)}
	}
}

// WithOutputs declares output fields.
func WithOutputs(fields ...models.FieldTemplate) func(*models.TaskTemplate) {
	return func(t *models.TaskTemplate) {
		t.Fields = append(t.Fields, fields...)
	}
}

// WithCondition adds a single-rule condition built from predicates.
func WithCondition(action models.ConditionAction, predicates ...models.Predicate) func(*models.TaskTemplate) {
	return func(t *models.TaskTemplate) {
		n := len(t.Conditions) + 1
		t.Conditions = append(t.Conditions, models.Condition{
			APIName: fmt.Sprintf("%s-condition-%d", t.APIName, n),
			Action:  action,
			Rules: []models.Rule{{
				APIName:    fmt.Sprintf("%s-rule-%d", t.APIName, n),
				Predicates: predicates,
			}},
		})
	}
}

// WithChecklist adds a checklist with one item per value.
func WithChecklist(apiName string, values ...string) func(*models.TaskTemplate) {
	return func(t *models.TaskTemplate) {
		items := make([]models.ChecklistItem, 0, len(values))
		for i, value := range values {
			items = append(items, models.ChecklistItem{APIName: fmt.Sprintf("%s-%d", apiName, i+1), Value: value})
		}

		t.Checklists = append(t.Checklists, models.Checklist{APIName: apiName, Items: items})
	}
}

// Field builds a field template.
func Field(apiName string, fieldType models.FieldType, required bool) models.FieldTemplate {
	return models.FieldTemplate{
		APIName:    apiName,
		Name:       apiName,
		Type:       fieldType,
		IsRequired: required,
	}
}
