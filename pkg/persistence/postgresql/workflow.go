package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/lib/pq"
)

// taskDefinition is the JSONB body of the tasks.definition column.
type taskDefinition struct {
	Name                   string                 `json:"name"`
	Description            string                 `json:"description,omitempty"`
	RequireCompletionByAll bool                   `json:"require_completion_by_all"`
	DelayDuration          *models.Duration       `json:"delay_duration,omitempty"`
	RawPerformers          []models.RawPerformer  `json:"raw_performers"`
	DueDateRule            *models.DueDateRule    `json:"due_date_rule,omitempty"`
	Fields                 []models.FieldTemplate `json:"fields,omitempty"`
	Conditions             []models.Condition     `json:"conditions,omitempty"`
	Checklists             []models.Checklist     `json:"checklists,omitempty"`
}

// WorkflowRepository handles workflow-related database operations. A workflow
// is stored across workflows, tasks, task_performers and delays.
type WorkflowRepository struct {
	db          *sql.DB
	logger      *slog.Logger
	lockTimeout time.Duration
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger, lockTimeout: defaultLockTimeout}
}

func (r *WorkflowRepository) Create(ctx context.Context, wf *models.Workflow) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	wf.UpdatedAt = time.Now().UTC()

	if err = r.insertWorkflow(ctx, tx, wf); err != nil {
		return persistence.NewWorkflowError("Create", wf.ID, classify(err))
	}

	if err = r.saveTasks(ctx, tx, wf); err != nil {
		return persistence.NewWorkflowError("Create", wf.ID, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	return r.load(ctx, r.db, id, false)
}

// Update locks the workflow row with SELECT ... FOR UPDATE, bounded by
// lock_timeout, and persists the mutated aggregate in the same transaction.
func (r *WorkflowRepository) Update(ctx context.Context, id string, fn persistence.UpdateFunc) (_ *models.Workflow, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("failed to set lock timeout: %w", err)
	}

	wf, err := r.load(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}

	if err = fn(wf); err != nil {
		if errors.Is(err, persistence.ErrSkipUpdate) {
			err = tx.Rollback()
			if err != nil {
				return nil, fmt.Errorf("failed to release workflow lock: %w", err)
			}

			return r.GetByID(ctx, id)
		}

		return nil, err
	}

	wf.UpdatedAt = time.Now().UTC()
	wf.SortTasks()

	if err = r.updateWorkflow(ctx, tx, wf); err != nil {
		return nil, persistence.NewWorkflowError("Update", id, classify(err))
	}

	if err = r.saveTasks(ctx, tx, wf); err != nil {
		return nil, persistence.NewWorkflowError("Update", id, err)
	}

	if err = tx.Commit(); err != nil {
		return nil, persistence.NewWorkflowError("Update", id, classify(err))
	}

	return wf, nil
}

func (r *WorkflowRepository) ListForSync(ctx context.Context, templateID string, version int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id FROM workflows WHERE template_id = $1 AND version < $2 ORDER BY id",
		templateID, version)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows for sync: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	ids := make([]string, 0)

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan workflow id: %w", err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return ids, nil
}

func (r *WorkflowRepository) ExpiredDelays(ctx context.Context, now time.Time) ([]persistence.DelayRef, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.workflow_id, d.task_id, d.start_date + d.duration_ms * INTERVAL '1 millisecond' AS expires_at
		FROM delays d
		JOIN tasks t ON t.id = d.task_id
		JOIN workflows w ON w.id = t.workflow_id
		WHERE d.end_date IS NULL
		  AND w.status IN ('running', 'delayed')
		  AND d.start_date + d.duration_ms * INTERVAL '1 millisecond' <= $1
		ORDER BY expires_at
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired delays: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	refs := make([]persistence.DelayRef, 0)

	for rows.Next() {
		var ref persistence.DelayRef
		if err := rows.Scan(&ref.WorkflowID, &ref.TaskID, &ref.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan delay: %w", err)
		}

		refs = append(refs, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delays: %w", err)
	}

	return refs, nil
}

func (r *WorkflowRepository) load(ctx context.Context, q queryer, id string, forUpdate bool) (*models.Workflow, error) {
	query := `
		SELECT
			id
		  , template_id
		  , account_id
		  , name
		  , description
		  , version
		  , status
		  , current_task
		  , starter_id
		  , owners
		  , members
		  , finalizable
		  , fields
		  , date_started
		  , date_completed
		  , updated_at
		FROM workflows
		WHERE id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var (
		wf     models.Workflow
		fields []byte
	)

	err := q.QueryRowContext(ctx, query, id).Scan(
		&wf.ID,
		&wf.TemplateID,
		&wf.AccountID,
		&wf.Name,
		&wf.Description,
		&wf.Version,
		&wf.Status,
		&wf.CurrentTask,
		&wf.StarterID,
		pq.Array(&wf.Owners),
		pq.Array(&wf.Members),
		&wf.Finalizable,
		&fields,
		&wf.DateStarted,
		&wf.DateCompleted,
		&wf.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, classify(err))
	}

	if err := json.Unmarshal(fields, &wf.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow fields: %w", err)
	}

	if err := r.loadTasks(ctx, q, &wf); err != nil {
		return nil, err
	}

	return &wf, nil
}

func (r *WorkflowRepository) loadTasks(ctx context.Context, q queryer, wf *models.Workflow) error {
	rows, err := q.QueryContext(ctx, `
		SELECT id, api_name, number, status, definition, due_date, date_started, date_resumed, date_completed
		FROM tasks
		WHERE workflow_id = $1
		ORDER BY number
	`, wf.ID)
	if err != nil {
		return fmt.Errorf("failed to query tasks: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	wf.Tasks = make([]*models.Task, 0)
	byID := make(map[string]*models.Task)

	for rows.Next() {
		var (
			task       models.Task
			definition []byte
		)

		err := rows.Scan(
			&task.ID,
			&task.APIName,
			&task.Number,
			&task.Status,
			&definition,
			&task.DueDate,
			&task.DateStarted,
			&task.DateResumed,
			&task.DateCompleted,
		)
		if err != nil {
			return fmt.Errorf("failed to scan task: %w", err)
		}

		var body taskDefinition
		if err := json.Unmarshal(definition, &body); err != nil {
			return fmt.Errorf("failed to unmarshal task definition: %w", err)
		}

		task.Name = body.Name
		task.Description = body.Description
		task.RequireCompletionByAll = body.RequireCompletionByAll
		task.DelayDuration = body.DelayDuration
		task.RawPerformers = body.RawPerformers
		task.DueDateRule = body.DueDateRule
		task.Fields = body.Fields
		task.Conditions = body.Conditions
		task.Checklists = body.Checklists
		task.Performers = make([]*models.TaskPerformer, 0)

		wf.Tasks = append(wf.Tasks, &task)
		byID[task.ID] = &task
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating tasks: %w", err)
	}

	if err := r.loadPerformers(ctx, q, wf.ID, byID); err != nil {
		return err
	}

	return r.loadDelays(ctx, q, wf.ID, byID)
}

func (r *WorkflowRepository) loadPerformers(ctx context.Context, q queryer, workflowID string, tasks map[string]*models.Task) error {
	rows, err := q.QueryContext(ctx, `
		SELECT p.task_id, p.user_id, p.directly_status, p.is_completed, p.date_completed
		FROM task_performers p
		JOIN tasks t ON t.id = p.task_id
		WHERE t.workflow_id = $1
		ORDER BY p.task_id, p.user_id
	`, workflowID)
	if err != nil {
		return fmt.Errorf("failed to query performers: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	for rows.Next() {
		var (
			taskID    string
			performer models.TaskPerformer
		)

		err := rows.Scan(&taskID, &performer.UserID, &performer.DirectlyStatus, &performer.IsCompleted, &performer.DateCompleted)
		if err != nil {
			return fmt.Errorf("failed to scan performer: %w", err)
		}

		if task, ok := tasks[taskID]; ok {
			task.Performers = append(task.Performers, &performer)
		}
	}

	return rows.Err()
}

func (r *WorkflowRepository) loadDelays(ctx context.Context, q queryer, workflowID string, tasks map[string]*models.Task) error {
	rows, err := q.QueryContext(ctx, `
		SELECT d.id, d.task_id, d.start_date, d.duration_ms, d.end_date
		FROM delays d
		JOIN tasks t ON t.id = d.task_id
		WHERE t.workflow_id = $1
		ORDER BY d.start_date
	`, workflowID)
	if err != nil {
		return fmt.Errorf("failed to query delays: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	for rows.Next() {
		var (
			delay      models.Delay
			taskID     string
			durationMS int64
		)

		if err := rows.Scan(&delay.ID, &taskID, &delay.StartDate, &durationMS, &delay.EndDate); err != nil {
			return fmt.Errorf("failed to scan delay: %w", err)
		}

		delay.Duration = models.Duration(time.Duration(durationMS) * time.Millisecond)

		if task, ok := tasks[taskID]; ok {
			task.Delays = append(task.Delays, &delay)
		}
	}

	return rows.Err()
}

func (r *WorkflowRepository) insertWorkflow(ctx context.Context, q queryer, wf *models.Workflow) error {
	fields, err := json.Marshal(wf.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO workflows (id, template_id, account_id, name, description, version, status,
			current_task, starter_id, owners, members, finalizable, fields, date_started,
			date_completed, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		wf.ID,
		wf.TemplateID,
		wf.AccountID,
		wf.Name,
		wf.Description,
		wf.Version,
		wf.Status,
		wf.CurrentTask,
		wf.StarterID,
		pq.Array(wf.Owners),
		pq.Array(wf.Members),
		wf.Finalizable,
		fields,
		wf.DateStarted,
		wf.DateCompleted,
		wf.UpdatedAt,
	)

	return err
}

func (r *WorkflowRepository) updateWorkflow(ctx context.Context, q queryer, wf *models.Workflow) error {
	fields, err := json.Marshal(wf.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		UPDATE workflows SET
			description = $2,
			version = $3,
			status = $4,
			current_task = $5,
			owners = $6,
			members = $7,
			finalizable = $8,
			fields = $9,
			date_completed = $10,
			updated_at = $11
		WHERE id = $1
	`,
		wf.ID,
		wf.Description,
		wf.Version,
		wf.Status,
		wf.CurrentTask,
		pq.Array(wf.Owners),
		pq.Array(wf.Members),
		wf.Finalizable,
		fields,
		wf.DateCompleted,
		wf.UpdatedAt,
	)

	return err
}

// saveTasks writes every task of the aggregate and removes tasks, performers
// and delays that no longer belong to it.
func (r *WorkflowRepository) saveTasks(ctx context.Context, q queryer, wf *models.Workflow) error {
	ids := make([]string, 0, len(wf.Tasks))
	for _, task := range wf.Tasks {
		ids = append(ids, task.ID)
	}

	_, err := q.ExecContext(ctx,
		"DELETE FROM tasks WHERE workflow_id = $1 AND NOT (id = ANY($2::uuid[]))",
		wf.ID, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to delete removed tasks: %w", err)
	}

	for _, task := range wf.Tasks {
		if err := r.saveTask(ctx, q, wf.ID, task); err != nil {
			return fmt.Errorf("failed to save task %s: %w", task.APIName, err)
		}
	}

	return nil
}

func (r *WorkflowRepository) saveTask(ctx context.Context, q queryer, workflowID string, task *models.Task) error {
	definition, err := json.Marshal(taskDefinition{
		Name:                   task.Name,
		Description:            task.Description,
		RequireCompletionByAll: task.RequireCompletionByAll,
		DelayDuration:          task.DelayDuration,
		RawPerformers:          task.RawPerformers,
		DueDateRule:            task.DueDateRule,
		Fields:                 task.Fields,
		Conditions:             task.Conditions,
		Checklists:             task.Checklists,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal task definition: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO tasks (id, workflow_id, api_name, number, status, definition, due_date,
			date_started, date_resumed, date_completed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			number = EXCLUDED.number,
			status = EXCLUDED.status,
			definition = EXCLUDED.definition,
			due_date = EXCLUDED.due_date,
			date_started = EXCLUDED.date_started,
			date_resumed = EXCLUDED.date_resumed,
			date_completed = EXCLUDED.date_completed
	`,
		task.ID,
		workflowID,
		task.APIName,
		task.Number,
		task.Status,
		definition,
		task.DueDate,
		task.DateStarted,
		task.DateResumed,
		task.DateCompleted,
	)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, "DELETE FROM task_performers WHERE task_id = $1", task.ID)
	if err != nil {
		return fmt.Errorf("failed to delete performers: %w", err)
	}

	for _, performer := range task.Performers {
		_, err = q.ExecContext(ctx, `
			INSERT INTO task_performers (task_id, user_id, directly_status, is_completed, date_completed)
			VALUES ($1, $2, $3, $4, $5)
		`, task.ID, performer.UserID, performer.DirectlyStatus, performer.IsCompleted, performer.DateCompleted)
		if err != nil {
			return fmt.Errorf("failed to insert performer %s: %w", performer.UserID, err)
		}
	}

	for _, delay := range task.Delays {
		_, err = q.ExecContext(ctx, `
			INSERT INTO delays (id, task_id, start_date, duration_ms, end_date)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET end_date = EXCLUDED.end_date
		`, delay.ID, task.ID, delay.StartDate, delay.Duration.Std().Milliseconds(), delay.EndDate)
		if err != nil {
			return fmt.Errorf("failed to save delay %s: %w", delay.ID, err)
		}
	}

	return nil
}
