package models

import (
	"slices"
	"time"
)

// WorkflowStatus represents the lifecycle state of a running workflow.
type WorkflowStatus string

const (
	WorkflowStatusRunning    WorkflowStatus = "running"
	WorkflowStatusDelayed    WorkflowStatus = "delayed"
	WorkflowStatusDone       WorkflowStatus = "done"
	WorkflowStatusTerminated WorkflowStatus = "terminated"
)

// FieldValue is the current value of a kickoff or task output field.
type FieldValue struct {
	APIName     string    `json:"api_name"`
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	TaskAPIName string    `json:"task_api_name,omitempty"` // empty for kickoff fields
	Value       any       `json:"value,omitempty"`
}

// Workflow is a running instance of one template version.
type Workflow struct {
	ID          string                 `json:"id"`
	TemplateID  string                 `json:"template_id"`
	AccountID   string                 `json:"account_id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Version     int                    `json:"version"`
	Status      WorkflowStatus         `json:"status"`
	CurrentTask int                    `json:"current_task"`
	StarterID   string                 `json:"starter_id"`
	Owners      []string               `json:"owners"`
	Members     []string               `json:"members"`
	Finalizable bool                   `json:"finalizable"`
	Fields      map[string]*FieldValue `json:"fields"`
	Tasks       []*Task                `json:"tasks"`

	DateStarted   time.Time  `json:"date_started"`
	DateCompleted *time.Time `json:"date_completed,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsFinished reports whether the workflow reached a terminal status.
func (w *Workflow) IsFinished() bool {
	return w.Status == WorkflowStatusDone || w.Status == WorkflowStatusTerminated
}

// TaskByNumber returns the task at the given 1-based position.
func (w *Workflow) TaskByNumber(number int) *Task {
	for _, task := range w.Tasks {
		if task.Number == number {
			return task
		}
	}

	return nil
}

func (w *Workflow) TaskByID(id string) *Task {
	for _, task := range w.Tasks {
		if task.ID == id {
			return task
		}
	}

	return nil
}

func (w *Workflow) TaskByAPIName(apiName string) *Task {
	for _, task := range w.Tasks {
		if task.APIName == apiName {
			return task
		}
	}

	return nil
}

// Current returns the task current_task points to.
func (w *Workflow) Current() *Task {
	return w.TaskByNumber(w.CurrentTask)
}

// IsOwner reports whether userID is one of the workflow owners.
func (w *Workflow) IsOwner(userID string) bool {
	return slices.Contains(w.Owners, userID)
}

// AddMember records userID as a historical participant.
func (w *Workflow) AddMember(userID string) {
	if !slices.Contains(w.Members, userID) {
		w.Members = append(w.Members, userID)
	}
}

// SortTasks orders tasks by number.
func (w *Workflow) SortTasks() {
	slices.SortFunc(w.Tasks, func(a, b *Task) int {
		return a.Number - b.Number
	})
}

// DeclareField registers a field value slot, keeping the current value and
// refreshing name and type from the definition.
func (w *Workflow) DeclareField(field FieldTemplate, taskAPIName string) {
	if w.Fields == nil {
		w.Fields = make(map[string]*FieldValue)
	}

	value, ok := w.Fields[field.APIName]
	if !ok {
		value = &FieldValue{APIName: field.APIName}
		w.Fields[field.APIName] = value
	}

	value.Name = field.Name
	value.Type = field.Type
	value.TaskAPIName = taskAPIName
}

// Recipients returns owners and members without duplicates.
func (w *Workflow) Recipients() []string {
	recipients := slices.Clone(w.Owners)

	for _, member := range w.Members {
		if !slices.Contains(recipients, member) {
			recipients = append(recipients, member)
		}
	}

	return recipients
}
