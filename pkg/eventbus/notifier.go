package eventbus

import (
	"context"
	"fmt"

	"github.com/dukex/procflow/pkg/events"
)

// Notifier publishes engine notifications on the bus for the delivery service.
type Notifier struct {
	publisher EventPublisher
}

func NewNotifier(publisher EventPublisher) *Notifier {
	return &Notifier{publisher: publisher}
}

func (n *Notifier) Notify(ctx context.Context, kind events.NotificationKind, taskID string, recipients []string, payload map[string]any) error {
	if len(recipients) == 0 {
		return nil
	}

	notification := events.Notification{
		BaseEvent:  events.NewBaseEvent(events.NotificationEvent),
		Kind:       kind,
		TaskID:     taskID,
		Recipients: recipients,
		Payload:    payload,
	}

	key := taskID
	if key == "" {
		key = notification.ID
	}

	if err := n.publisher.Publish(ctx, key, notification); err != nil {
		return fmt.Errorf("failed to publish %s notification: %w", kind, err)
	}

	return nil
}
