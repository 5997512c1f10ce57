package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/dukex/procflow/pkg/events"
)

// SentNotification is one call recorded by RecordingNotifier.
type SentNotification struct {
	Kind       events.NotificationKind
	TaskID     string
	Recipients []string
	Payload    map[string]any
}

// RecordingNotifier keeps every notification in memory. Err, when set, is
// returned from every call after recording it.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []SentNotification
	Err  error
}

func (n *RecordingNotifier) Notify(_ context.Context, kind events.NotificationKind, taskID string, recipients []string, payload map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.sent = append(n.sent, SentNotification{
		Kind:       kind,
		TaskID:     taskID,
		Recipients: slices.Clone(recipients),
		Payload:    payload,
	})

	return n.Err
}

// Sent returns a copy of the recorded notifications.
func (n *RecordingNotifier) Sent() []SentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()

	return slices.Clone(n.sent)
}

// OfKind filters the recorded notifications.
func (n *RecordingNotifier) OfKind(kind events.NotificationKind) []SentNotification {
	filtered := make([]SentNotification, 0)

	for _, sent := range n.Sent() {
		if sent.Kind == kind {
			filtered = append(filtered, sent)
		}
	}

	return filtered
}

// Reset forgets everything recorded so far.
func (n *RecordingNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.sent = nil
}
