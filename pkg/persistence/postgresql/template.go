package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/lib/pq"
)

// templateDefinition is the JSONB body of the templates.definition column.
type templateDefinition struct {
	Kickoff []models.FieldTemplate `json:"kickoff"`
	Tasks   []*models.TaskTemplate `json:"tasks"`
}

// TemplateRepository handles template-related database operations.
type TemplateRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewTemplateRepository(db *sql.DB, logger *slog.Logger) *TemplateRepository {
	return &TemplateRepository{db: db, logger: logger}
}

const selectTemplate = `
	SELECT
		id
	  , account_id
	  , name
	  , description
	  , version
	  , is_active
	  , finalizable
	  , owners
	  , definition
	  , created_at
	  , updated_at
	FROM templates
`

func (r *TemplateRepository) scanTemplate(row interface{ Scan(dest ...any) error }) (*models.Template, error) {
	var (
		template   models.Template
		definition []byte
	)

	err := row.Scan(
		&template.ID,
		&template.AccountID,
		&template.Name,
		&template.Description,
		&template.Version,
		&template.IsActive,
		&template.Finalizable,
		pq.Array(&template.Owners),
		&definition,
		&template.CreatedAt,
		&template.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	var body templateDefinition
	if err := json.Unmarshal(definition, &body); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template definition: %w", err)
	}

	template.Kickoff = body.Kickoff
	template.Tasks = body.Tasks

	return &template, nil
}

func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.Template, error) {
	row := r.db.QueryRowContext(ctx, selectTemplate+" WHERE id = $1", id)

	template, err := r.scanTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.TemplateError{Op: "GetByID", TemplateID: id, Err: persistence.ErrTemplateNotFound}
		}

		return nil, &persistence.TemplateError{Op: "GetByID", TemplateID: id, Err: err}
	}

	return template, nil
}

// Save upserts the template and inserts the snapshot in one transaction.
func (r *TemplateRepository) Save(ctx context.Context, template *models.Template, snapshot *models.TemplateSnapshot, expectedVersion int) (err error) {
	definition, err := json.Marshal(templateDefinition{Kickoff: template.Kickoff, Tasks: template.Tasks})
	if err != nil {
		return fmt.Errorf("failed to marshal template definition: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var stored int

	err = tx.QueryRowContext(ctx, "SELECT version FROM templates WHERE id = $1 FOR UPDATE", template.ID).Scan(&stored)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return &persistence.TemplateError{Op: "Save", TemplateID: template.ID, Err: err}
	}

	if stored != expectedVersion {
		err = &persistence.TemplateError{Op: "Save", TemplateID: template.ID, Err: persistence.ErrStaleTemplate}

		return err
	}

	// The version guard rejects a concurrent insert of the same new id.
	result, err := tx.ExecContext(ctx, `
		INSERT INTO templates (id, account_id, name, description, version, is_active,
			finalizable, owners, definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			version = EXCLUDED.version,
			is_active = EXCLUDED.is_active,
			finalizable = EXCLUDED.finalizable,
			owners = EXCLUDED.owners,
			definition = EXCLUDED.definition,
			updated_at = EXCLUDED.updated_at
		WHERE templates.version = $12
	`,
		template.ID,
		template.AccountID,
		template.Name,
		template.Description,
		template.Version,
		template.IsActive,
		template.Finalizable,
		pq.Array(template.Owners),
		definition,
		template.CreatedAt,
		template.UpdatedAt,
		expectedVersion,
	)
	if err != nil {
		return &persistence.TemplateError{Op: "Save", TemplateID: template.ID, Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return &persistence.TemplateError{Op: "Save", TemplateID: template.ID, Err: err}
	}

	if affected == 0 {
		err = &persistence.TemplateError{Op: "Save", TemplateID: template.ID, Err: persistence.ErrStaleTemplate}

		return err
	}

	if snapshot != nil {
		body, marshalErr := json.Marshal(snapshot)
		if marshalErr != nil {
			err = fmt.Errorf("failed to marshal snapshot: %w", marshalErr)

			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO template_versions (template_id, version, snapshot, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (template_id, version) DO NOTHING
		`, template.ID, snapshot.Version, body, snapshot.CreatedBy, snapshot.CreatedAt)
		if err != nil {
			return &persistence.TemplateError{Op: "Save", TemplateID: template.ID, Version: snapshot.Version, Err: err}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *TemplateRepository) Snapshot(ctx context.Context, templateID string, version int) (*models.TemplateSnapshot, error) {
	var body []byte

	err := r.db.QueryRowContext(ctx,
		"SELECT snapshot FROM template_versions WHERE template_id = $1 AND version = $2",
		templateID, version,
	).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.TemplateError{Op: "Snapshot", TemplateID: templateID, Version: version, Err: persistence.ErrSnapshotNotFound}
		}

		return nil, &persistence.TemplateError{Op: "Snapshot", TemplateID: templateID, Version: version, Err: err}
	}

	var snapshot models.TemplateSnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return &snapshot, nil
}

func (r *TemplateRepository) ListActiveByAccount(ctx context.Context, accountID string) ([]*models.Template, error) {
	rows, err := r.db.QueryContext(ctx, selectTemplate+" WHERE account_id = $1 AND is_active ORDER BY name", accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	templates := make([]*models.Template, 0)

	for rows.Next() {
		template, err := r.scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}

		templates = append(templates, template)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}

	return templates, nil
}
