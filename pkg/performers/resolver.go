// Package performers turns raw performer rules into concrete task performers.
package performers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dukex/procflow/pkg/identity"
	"github.com/dukex/procflow/pkg/models"
)

var (
	// ErrAlreadyPerformer indicates the user is already an active performer of the task.
	ErrAlreadyPerformer = errors.New("user is already a performer of the task")

	// ErrNotPerformer indicates the user is not an active performer of the task.
	ErrNotPerformer = errors.New("user is not a performer of the task")
)

// Result reports what a resolution pass changed.
type Result struct {
	Added        []string
	NoPerformers bool
}

type Resolver struct {
	directory identity.Directory
	logger    *slog.Logger
}

func NewResolver(directory identity.Directory, logger *slog.Logger) *Resolver {
	return &Resolver{
		directory: directory,
		logger:    logger.With("module", "performer_resolver"),
	}
}

// Resolve expands the raw performers of task and inserts every user not yet
// present with directly_status auto. Directly deleted performers are never
// re-inserted, so calling Resolve twice is a no-op. Identity lookup failures
// are logged and never fail the resolution.
func (r *Resolver) Resolve(ctx context.Context, wf *models.Workflow, task *models.Task) (Result, error) {
	result := Result{Added: make([]string, 0)}

	candidates, _, err := r.candidates(ctx, wf, task)
	if err != nil {
		return result, err
	}

	for _, userID := range candidates {
		if userID == "" || task.Performer(userID) != nil {
			continue
		}

		task.Performers = append(task.Performers, &models.TaskPerformer{
			UserID:         userID,
			DirectlyStatus: models.DirectlyStatusAuto,
		})
		wf.AddMember(userID)

		result.Added = append(result.Added, userID)
	}

	if len(task.ActivePerformers()) == 0 {
		result.NoPerformers = true

		r.logger.WarnContext(ctx, "Task has no performers",
			"workflow_id", wf.ID,
			"task_id", task.ID,
			"task_api_name", task.APIName)
	}

	return result, nil
}

// Prune drops auto performers the raw performers of task no longer resolve
// to. Completed performers and admin-managed rows are kept. Nothing is pruned
// when a lookup failed or when pruning alone would satisfy the completion
// criterion.
func (r *Resolver) Prune(ctx context.Context, wf *models.Workflow, task *models.Task) ([]string, error) {
	candidates, complete, err := r.candidates(ctx, wf, task)
	if err != nil {
		return nil, err
	}

	if !complete {
		r.logger.WarnContext(ctx, "Skipping performer pruning after lookup failure",
			"workflow_id", wf.ID,
			"task_id", task.ID)

		return nil, nil
	}

	kept := make([]*models.TaskPerformer, 0, len(task.Performers))
	removed := make([]string, 0)

	for _, performer := range task.Performers {
		stale := performer.DirectlyStatus == models.DirectlyStatusAuto &&
			!performer.IsCompleted &&
			!slices.Contains(candidates, performer.UserID)
		if stale {
			removed = append(removed, performer.UserID)

			continue
		}

		kept = append(kept, performer)
	}

	if len(removed) == 0 {
		return removed, nil
	}

	if CompletionReached(&models.Task{Performers: kept, RequireCompletionByAll: task.RequireCompletionByAll}) {
		r.logger.WarnContext(ctx, "Keeping stale performers, pruning would complete the task",
			"workflow_id", wf.ID,
			"task_id", task.ID,
			"performers", removed)

		return nil, nil
	}

	task.Performers = kept

	return removed, nil
}

// candidates expands every raw performer of task. complete is false when an
// identity lookup failed and the list may be short.
func (r *Resolver) candidates(ctx context.Context, wf *models.Workflow, task *models.Task) ([]string, bool, error) {
	candidates := make([]string, 0)
	complete := true

	for _, raw := range task.RawPerformers {
		if err := ctx.Err(); err != nil {
			return nil, false, fmt.Errorf("performer resolution cancelled: %w", err)
		}

		ids, ok := r.expand(ctx, wf, task, raw)
		complete = complete && ok
		candidates = append(candidates, ids...)
	}

	return candidates, complete, nil
}

func (r *Resolver) expand(ctx context.Context, wf *models.Workflow, task *models.Task, raw models.RawPerformer) ([]string, bool) {
	switch raw.Type {
	case models.PerformerTypeUser:
		active, err := r.directory.IsAccountUser(ctx, wf.AccountID, raw.SourceID)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to verify account user, keeping performer",
				"workflow_id", wf.ID,
				"user_id", raw.SourceID,
				"error", err)

			return []string{raw.SourceID}, true
		}

		if !active {
			r.logger.WarnContext(ctx, "Skipping inactive account user",
				"workflow_id", wf.ID,
				"task_id", task.ID,
				"user_id", raw.SourceID)

			return nil, true
		}

		return []string{raw.SourceID}, true
	case models.PerformerTypeGroup:
		members, err := r.directory.GroupMembers(ctx, raw.SourceID)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to resolve group members",
				"workflow_id", wf.ID,
				"task_id", task.ID,
				"group_id", raw.SourceID,
				"error", err)

			return nil, errors.Is(err, identity.ErrGroupNotFound)
		}

		return members, true
	case models.PerformerTypeField:
		field, ok := wf.Fields[raw.SourceID]
		if !ok || field == nil {
			return nil, true
		}

		return userIDs(field.Value), true
	case models.PerformerTypeWorkflowStarter:
		return []string{wf.StarterID}, true
	default:
		r.logger.WarnContext(ctx, "Unknown performer type", "type", raw.Type, "task_id", task.ID)

		return nil, true
	}
}

func userIDs(value any) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}

		return []string{v}
	case []string:
		return slices.Clone(v)
	case []any:
		ids := make([]string, 0, len(v))

		for _, item := range v {
			if id, ok := item.(string); ok && id != "" {
				ids = append(ids, id)
			}
		}

		return ids
	default:
		return nil
	}
}

// AddDirect adds userID as an admin-managed performer. A previously deleted
// performer is restored with its completion cleared.
func AddDirect(wf *models.Workflow, task *models.Task, userID string) error {
	performer := task.Performer(userID)

	switch {
	case performer == nil:
		task.Performers = append(task.Performers, &models.TaskPerformer{
			UserID:         userID,
			DirectlyStatus: models.DirectlyStatusCreated,
		})
	case performer.DirectlyStatus == models.DirectlyStatusDeleted:
		performer.DirectlyStatus = models.DirectlyStatusCreated
		performer.IsCompleted = false
		performer.DateCompleted = nil
	default:
		return ErrAlreadyPerformer
	}

	wf.AddMember(userID)

	return nil
}

// RemoveDirect soft-deletes userID from the task so resolution never re-adds it.
// A user without a row yet gets a deleted one, which excludes them from a
// task before its performers are resolved.
func RemoveDirect(task *models.Task, userID string) error {
	performer := task.Performer(userID)

	switch {
	case performer == nil:
		task.Performers = append(task.Performers, &models.TaskPerformer{
			UserID:         userID,
			DirectlyStatus: models.DirectlyStatusDeleted,
		})
	case performer.DirectlyStatus == models.DirectlyStatusDeleted:
		return ErrNotPerformer
	default:
		performer.DirectlyStatus = models.DirectlyStatusDeleted
	}

	return nil
}

// MarkCompleted records the completion of userID at now.
func MarkCompleted(task *models.Task, userID string, now time.Time) {
	performer := task.Performer(userID)
	if performer == nil {
		return
	}

	performer.IsCompleted = true
	performer.DateCompleted = &now
}

// ClearCompletions resets every performer's completion flag.
func ClearCompletions(task *models.Task) {
	for _, performer := range task.Performers {
		performer.IsCompleted = false
		performer.DateCompleted = nil
	}
}

// CompletionReached applies the completion criterion: every non-deleted
// performer when RequireCompletionByAll, otherwise any one of them.
func CompletionReached(task *models.Task) bool {
	active := task.ActivePerformers()
	if len(active) == 0 {
		return false
	}

	completed := 0

	for _, performer := range active {
		if performer.IsCompleted {
			completed++
		}
	}

	if task.RequireCompletionByAll {
		return completed == len(active)
	}

	return completed > 0
}
