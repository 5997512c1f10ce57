package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/procflow/pkg/eventbus"
	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/versionsync"
)

// Syncer applies a template version to running workflows.
type Syncer interface {
	Sync(ctx context.Context, templateID string, version int, changedBy string) (*versionsync.Report, error)
}

// SyncConsumer fans template.versioned events out to the version sync service.
type SyncConsumer struct {
	subscriber eventbus.EventSubscriber
	syncer     Syncer
	logger     *slog.Logger
}

func NewSyncConsumer(subscriber eventbus.EventSubscriber, syncer Syncer, logger *slog.Logger) *SyncConsumer {
	return &SyncConsumer{
		subscriber: subscriber,
		syncer:     syncer,
		logger:     logger.With("module", "sync_consumer"),
	}
}

func (c *SyncConsumer) Start(ctx context.Context) error {
	if err := c.subscriber.Handle(events.TemplateVersionedEvent, c.handle); err != nil {
		return fmt.Errorf("failed to register template version handler: %w", err)
	}

	if err := c.subscriber.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	c.logger.InfoContext(ctx, "Sync consumer started")

	return nil
}

// handle returns an error only when the run itself failed, so the message is
// redelivered. Workflows that failed individually are logged by the sync
// service and picked up by the next version.
func (c *SyncConsumer) handle(ctx context.Context, event any) error {
	versioned, ok := event.(*events.TemplateVersioned)
	if !ok {
		c.logger.ErrorContext(ctx, "Unexpected event payload", "type", fmt.Sprintf("%T", event))

		return nil
	}

	report, err := c.syncer.Sync(ctx, versioned.TemplateID, versioned.Version, versioned.ChangedBy)
	if err != nil {
		return err
	}

	if len(report.Failed) > 0 {
		c.logger.WarnContext(ctx, "Some workflows were not synced",
			"template_id", versioned.TemplateID,
			"version", versioned.Version,
			"failed", len(report.Failed))
	}

	return nil
}
