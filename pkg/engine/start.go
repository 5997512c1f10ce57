package engine

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
)

// StartInput describes a new workflow run.
type StartInput struct {
	Snapshot  *models.TemplateSnapshot
	AccountID string
	StarterID string
	// Name defaults to the template name.
	Name    string
	Kickoff map[string]any
}

// StartWorkflow materializes every task of the snapshot as pending, records
// the kickoff values and reaches the first task that survives its conditions.
func (e *Engine) StartWorkflow(ctx context.Context, input StartInput) (*models.Workflow, error) {
	snapshot := input.Snapshot

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.StartWorkflow",
		attribute.String(otelhelper.TemplateIDKey, snapshot.TemplateID),
		attribute.Int(otelhelper.VersionKey, snapshot.Version),
		attribute.String(otelhelper.UserIDKey, input.StarterID),
	)
	defer span.End()

	wf := &models.Workflow{
		ID:          e.newID(),
		TemplateID:  snapshot.TemplateID,
		AccountID:   input.AccountID,
		Name:        input.Name,
		Description: snapshot.Description,
		Version:     snapshot.Version,
		Status:      models.WorkflowStatusRunning,
		StarterID:   input.StarterID,
		Owners:      append([]string(nil), snapshot.Owners...),
		Members:     []string{input.StarterID},
		Finalizable: snapshot.Finalizable,
		Fields:      make(map[string]*models.FieldValue),
		Tasks:       make([]*models.Task, 0, len(snapshot.Tasks)),
	}

	if wf.Name == "" {
		wf.Name = snapshot.Name
	}

	for _, field := range snapshot.Kickoff {
		wf.DeclareField(field, "")
	}

	for _, tmpl := range snapshot.Tasks {
		wf.Tasks = append(wf.Tasks, models.NewTaskFromTemplate(e.newID(), tmpl))

		for _, field := range tmpl.Fields {
			wf.DeclareField(field, tmpl.APIName)
		}
	}

	wf.SortTasks()

	if err := applyKickoff(wf, snapshot.Kickoff, input.Kickoff); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	s := e.newScope(ctx, wf)
	wf.DateStarted = s.now

	if err := s.advanceFrom(1); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to start workflow: %w", err)
	}

	if err := e.workflows.Create(ctx, wf); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.WorkflowIDKey, wf.ID))

	e.logger.InfoContext(ctx, "Workflow started",
		"workflow_id", wf.ID,
		"template_id", wf.TemplateID,
		"version", wf.Version,
		"status", wf.Status,
		"current_task", wf.CurrentTask)

	e.dispatch(ctx, span, s.outbox)

	return wf, nil
}

func applyKickoff(wf *models.Workflow, declared []models.FieldTemplate, values map[string]any) error {
	known := make(map[string]bool, len(declared))
	for _, field := range declared {
		known[field.APIName] = true
	}

	for apiName, value := range values {
		if !known[apiName] {
			return &FieldError{APIName: apiName, Err: ErrUnknownField}
		}

		wf.Fields[apiName].Value = value
	}

	for _, field := range declared {
		if field.IsRequired && isBlank(values[field.APIName]) {
			return &FieldError{APIName: field.APIName, Err: ErrRequiredField}
		}
	}

	return nil
}

// applyOutputs records the output values of a task being completed.
func applyOutputs(wf *models.Workflow, task *models.Task, values map[string]any) error {
	for apiName := range values {
		if _, ok := task.HasField(apiName); !ok {
			return &FieldError{APIName: apiName, Err: ErrUnknownField}
		}
	}

	for _, field := range task.Fields {
		value, provided := values[field.APIName]
		if !provided {
			if current, ok := wf.Fields[field.APIName]; ok && current != nil {
				value = current.Value
			}
		}

		if field.IsRequired && isBlank(value) {
			return &FieldError{APIName: field.APIName, Err: ErrRequiredField}
		}
	}

	for apiName, value := range values {
		field, _ := task.HasField(apiName)
		wf.DeclareField(field, task.APIName)
		wf.Fields[apiName].Value = value
	}

	return nil
}

func isBlank(value any) bool {
	if value == nil {
		return true
	}

	if s, ok := value.(string); ok {
		return strings.TrimSpace(s) == ""
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	case reflect.Pointer:
		return rv.IsNil()
	default:
		return false
	}
}
