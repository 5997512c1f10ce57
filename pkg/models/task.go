package models

import "time"

// TaskStatus is the per-task state inside a workflow.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusActive    TaskStatus = "active"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusSkipped   TaskStatus = "skipped"
	TaskStatusDelayed   TaskStatus = "delayed"
)

// DirectlyStatus distinguishes performers managed by an admin from derived ones.
type DirectlyStatus string

const (
	// DirectlyStatusAuto marks a performer added by automatic resolution.
	DirectlyStatusAuto DirectlyStatus = "auto"
	// DirectlyStatusCreated marks a performer added by an admin.
	DirectlyStatusCreated DirectlyStatus = "created"
	// DirectlyStatusDeleted marks a performer removed by an admin. Resolution never re-adds it.
	DirectlyStatusDeleted DirectlyStatus = "deleted"
)

// TaskPerformer links a user to a task.
type TaskPerformer struct {
	UserID         string         `json:"user_id"`
	DirectlyStatus DirectlyStatus `json:"directly_status"`
	IsCompleted    bool           `json:"is_completed"`
	DateCompleted  *time.Time     `json:"date_completed,omitempty"`
}

// Delay is a timed pause of a task. A nil EndDate marks the delay active.
type Delay struct {
	ID        string     `json:"id"`
	StartDate time.Time  `json:"start_date"`
	Duration  Duration   `json:"duration"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// ExpiresAt is the moment the delay elapses.
func (d *Delay) ExpiresAt() time.Time {
	return d.StartDate.Add(d.Duration.Std())
}

// Task is one materialized step of a workflow. It carries its own copy of the
// template definition so that running instances are independent of later edits
// until version sync applies them.
type Task struct {
	ID                     string          `json:"id"`
	APIName                string          `json:"api_name"`
	Number                 int             `json:"number"`
	Name                   string          `json:"name"`
	Description            string          `json:"description,omitempty"`
	Status                 TaskStatus      `json:"status"`
	RequireCompletionByAll bool            `json:"require_completion_by_all"`
	DelayDuration          *Duration       `json:"delay_duration,omitempty"`
	RawPerformers          []RawPerformer  `json:"raw_performers"`
	DueDateRule            *DueDateRule    `json:"due_date_rule,omitempty"`
	Fields                 []FieldTemplate `json:"fields,omitempty"`
	Conditions             []Condition     `json:"conditions,omitempty"`
	Checklists             []Checklist     `json:"checklists,omitempty"`

	Performers []*TaskPerformer `json:"performers"`
	Delays     []*Delay         `json:"delays,omitempty"`

	DueDate       *time.Time `json:"due_date,omitempty"`
	DateStarted   *time.Time `json:"date_started,omitempty"`
	DateResumed   *time.Time `json:"date_resumed,omitempty"`
	DateCompleted *time.Time `json:"date_completed,omitempty"`
}

// NewTaskFromTemplate materializes a pending task from its template definition.
func NewTaskFromTemplate(id string, tmpl TaskTemplate) *Task {
	task := &Task{
		ID:         id,
		APIName:    tmpl.APIName,
		Number:     tmpl.Number,
		Status:     TaskStatusPending,
		Performers: make([]*TaskPerformer, 0),
	}
	task.ApplyTemplate(tmpl)

	return task
}

// ApplyTemplate copies definition attributes. Status, performers, delays and
// timestamps are left untouched. Checklist selections survive by api name.
func (t *Task) ApplyTemplate(tmpl TaskTemplate) {
	t.Name = tmpl.Name
	t.Description = tmpl.Description
	t.RequireCompletionByAll = tmpl.RequireCompletionByAll
	t.DelayDuration = tmpl.Delay
	t.RawPerformers = append([]RawPerformer(nil), tmpl.RawPerformers...)
	t.DueDateRule = tmpl.DueDate
	t.Fields = append([]FieldTemplate(nil), tmpl.Fields...)
	t.Conditions = append([]Condition(nil), tmpl.Conditions...)

	selected := make(map[string]bool)

	for _, checklist := range t.Checklists {
		for _, item := range checklist.Items {
			if item.Selected {
				selected[checklist.APIName+"/"+item.APIName] = true
			}
		}
	}

	checklists := make([]Checklist, 0, len(tmpl.Checklists))

	for _, checklist := range tmpl.Checklists {
		items := make([]ChecklistItem, 0, len(checklist.Items))
		for _, item := range checklist.Items {
			item.Selected = selected[checklist.APIName+"/"+item.APIName]
			items = append(items, item)
		}

		checklists = append(checklists, Checklist{APIName: checklist.APIName, Items: items})
	}

	t.Checklists = checklists
}

// Performer returns the performer row for userID, including directly deleted ones.
func (t *Task) Performer(userID string) *TaskPerformer {
	for _, performer := range t.Performers {
		if performer.UserID == userID {
			return performer
		}
	}

	return nil
}

// ActivePerformers excludes directly deleted performers.
func (t *Task) ActivePerformers() []*TaskPerformer {
	active := make([]*TaskPerformer, 0, len(t.Performers))

	for _, performer := range t.Performers {
		if performer.DirectlyStatus != DirectlyStatusDeleted {
			active = append(active, performer)
		}
	}

	return active
}

// IsPerformer reports whether userID is an active performer of the task.
func (t *Task) IsPerformer(userID string) bool {
	performer := t.Performer(userID)

	return performer != nil && performer.DirectlyStatus != DirectlyStatusDeleted
}

// PendingPerformerIDs lists active performers that have not completed yet.
func (t *Task) PendingPerformerIDs() []string {
	ids := make([]string, 0)

	for _, performer := range t.ActivePerformers() {
		if !performer.IsCompleted {
			ids = append(ids, performer.UserID)
		}
	}

	return ids
}

// ActiveDelay returns the delay without an end date, if any.
func (t *Task) ActiveDelay() *Delay {
	for _, delay := range t.Delays {
		if delay.EndDate == nil {
			return delay
		}
	}

	return nil
}

// ChecklistsComplete reports whether every checklist item is selected.
func (t *Task) ChecklistsComplete() bool {
	for _, checklist := range t.Checklists {
		for _, item := range checklist.Items {
			if !item.Selected {
				return false
			}
		}
	}

	return true
}

// HasField reports whether the task declares an output field with the api name.
func (t *Task) HasField(apiName string) (FieldTemplate, bool) {
	for _, field := range t.Fields {
		if field.APIName == apiName {
			return field, true
		}
	}

	return FieldTemplate{}, false
}
