package services

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/dukex/procflow/pkg/eventbus"
	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed template_schema.json
var templateSchema []byte

// Template saves template definitions and versions them.
type Template struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	now         func() time.Time
}

// NewTemplate creates a new template service. publisher may be nil, in which
// case new versions are stored but running workflows are not re-synced.
func NewTemplate(persistence persistence.Persistence, publisher eventbus.EventPublisher, logger *slog.Logger) *Template {
	return &Template{
		persistence: persistence,
		publisher:   publisher,
		logger:      logger.With("module", "template_service"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// FetchByID retrieves the live template.
func (t *Template) FetchByID(ctx context.Context, id string) (*models.Template, error) {
	return t.persistence.Templates().GetByID(ctx, id)
}

// ListActive returns the active templates of an account.
func (t *Template) ListActive(ctx context.Context, accountID string) ([]*models.Template, error) {
	return t.persistence.Templates().ListActiveByAccount(ctx, accountID)
}

// Save validates template and stores it. A changed definition gets the next
// version and a new immutable snapshot; saving an unchanged definition keeps
// the version. When an active template reaches a version above 1, or an
// inactive one is activated, a TemplateVersioned event asks the sync workers
// to bring running workflows up to date.
func (t *Template) Save(ctx context.Context, template *models.Template, changedBy string) (*models.Template, error) {
	if template == nil {
		return nil, ErrTemplateNil
	}

	if strings.TrimSpace(changedBy) == "" {
		return nil, ErrEmptyUserID
	}

	if err := models.ValidateTemplate(template); err != nil {
		return nil, NewValidationError("Save", "INVALID_TEMPLATE", err.Error(), err)
	}

	now := t.now()

	var existing *models.Template

	if template.ID == "" {
		template.ID = uuid.NewString()
	} else {
		current, err := t.persistence.Templates().GetByID(ctx, template.ID)

		switch {
		case err == nil:
			existing = current
		case persistence.IsTemplateNotFound(err):
		default:
			return nil, fmt.Errorf("failed to load template: %w", err)
		}
	}

	versioned := false
	activated := false

	switch {
	case existing == nil:
		template.Version = 1
		template.CreatedAt = now
		versioned = true
	case definitionChanged(existing, template):
		template.Version = existing.Version + 1
		template.CreatedAt = existing.CreatedAt
		versioned = true
	default:
		template.Version = existing.Version
		template.CreatedAt = existing.CreatedAt
		activated = template.IsActive && !existing.IsActive
	}

	template.UpdatedAt = now

	snapshot := template.Snapshot(changedBy, now)

	expectedVersion := 0
	if existing != nil {
		expectedVersion = existing.Version
	}

	if err := t.persistence.Templates().Save(ctx, template, snapshot, expectedVersion); err != nil {
		return nil, fmt.Errorf("failed to save template: %w", err)
	}

	t.logger.InfoContext(ctx, "Template saved",
		"template_id", template.ID,
		"version", template.Version,
		"versioned", versioned,
		"changed_by", changedBy)

	if template.IsActive && template.Version > 1 && (versioned || activated) {
		t.announce(ctx, template, changedBy)
	}

	return template, nil
}

func (t *Template) announce(ctx context.Context, template *models.Template, changedBy string) {
	if t.publisher == nil {
		return
	}

	event := events.TemplateVersioned{
		BaseEvent:  events.NewBaseEvent(events.TemplateVersionedEvent),
		TemplateID: template.ID,
		Version:    template.Version,
		ChangedBy:  changedBy,
	}

	// The snapshot is stored; a lost event only delays the sync until the next version.
	if err := t.publisher.Publish(ctx, template.ID, event); err != nil {
		t.logger.ErrorContext(ctx, "Failed to publish template version",
			"template_id", template.ID,
			"version", template.Version,
			"error", err)
	}
}

// Import validates a JSON template document against the template schema and saves it.
func (t *Template) Import(ctx context.Context, document []byte, changedBy string) (*models.Template, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(templateSchema),
		gojsonschema.NewBytesLoader(document),
	)
	if err != nil {
		return nil, NewValidationError("Import", "INVALID_DOCUMENT", err.Error(), ErrInvalidDocument)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, resultError := range result.Errors() {
			messages = append(messages, resultError.String())
		}

		return nil, NewValidationError("Import", "INVALID_DOCUMENT", strings.Join(messages, "; "), ErrInvalidDocument)
	}

	var template models.Template
	if err := json.Unmarshal(document, &template); err != nil {
		return nil, NewValidationError("Import", "INVALID_DOCUMENT", err.Error(), ErrInvalidDocument)
	}

	return t.Save(ctx, &template, changedBy)
}

// definitionChanged compares everything a snapshot captures.
func definitionChanged(before, after *models.Template) bool {
	return before.Name != after.Name ||
		before.Description != after.Description ||
		before.Finalizable != after.Finalizable ||
		!reflect.DeepEqual(normalize(before), normalize(after))
}

type definition struct {
	Owners  []string               `json:"owners"`
	Kickoff []models.FieldTemplate `json:"kickoff"`
	Tasks   []*models.TaskTemplate `json:"tasks"`
}

// normalize round-trips the definition through JSON so nil and empty slices compare equal.
func normalize(template *models.Template) any {
	payload, err := json.Marshal(definition{
		Owners:  template.Owners,
		Kickoff: template.Kickoff,
		Tasks:   template.Tasks,
	})
	if err != nil {
		return nil
	}

	var generic any
	if err := json.Unmarshal(payload, &generic); err != nil {
		return nil
	}

	return dropEmpty(generic)
}

func dropEmpty(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for key, item := range v {
			if item == nil {
				delete(v, key)

				continue
			}

			if list, ok := item.([]any); ok && len(list) == 0 {
				delete(v, key)

				continue
			}

			v[key] = dropEmpty(item)
		}

		return v
	case []any:
		for i, item := range v {
			v[i] = dropEmpty(item)
		}

		return v
	default:
		return value
	}
}
