// Package events defines the messages exchanged on the event bus.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every procflow event.
const Topic = "procflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// TemplateVersionedEvent announces a new version of an active template.
	TemplateVersionedEvent EventType = "template.versioned"
	// NotificationEvent carries a user-facing notification for downstream delivery.
	NotificationEvent EventType = "notification"
)

// NotificationKind names the situation a notification reports.
type NotificationKind string

const (
	TaskActivated      NotificationKind = "task_activated"
	TaskCompleted      NotificationKind = "task_completed"
	TaskRemoved        NotificationKind = "task_removed"
	TaskReturned       NotificationKind = "task_returned"
	WorkflowCompleted  NotificationKind = "workflow_completed"
	WorkflowTerminated NotificationKind = "workflow_terminated"
	WorkflowDelayed    NotificationKind = "workflow_delayed"
	WorkflowResumed    NotificationKind = "workflow_resumed"
	PerformerAdded     NotificationKind = "performer_added"
	PerformerRemoved   NotificationKind = "performer_removed"
)

// Notifier delivers notifications. Callers treat it as fire-and-forget:
// a returned error is logged and never undoes the state change.
type Notifier interface {
	Notify(ctx context.Context, kind NotificationKind, taskID string, recipients []string, payload map[string]any) error
}

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent stamps a new event of the given type.
func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

type TemplateVersioned struct {
	BaseEvent

	TemplateID string `json:"template_id"`
	Version    int    `json:"version"`
	ChangedBy  string `json:"changed_by"`
}

func (t TemplateVersioned) GetType() EventType {
	return TemplateVersionedEvent
}

type Notification struct {
	BaseEvent

	Kind       NotificationKind `json:"kind"`
	TaskID     string           `json:"task_id,omitempty"`
	Recipients []string         `json:"recipients"`
	Payload    map[string]any   `json:"payload,omitempty"`
}

func (n Notification) GetType() EventType {
	return NotificationEvent
}
