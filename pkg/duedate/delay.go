package duedate

import (
	"errors"
	"time"

	"github.com/dukex/procflow/pkg/models"
)

var (
	// ErrDelayActive indicates the task already has an open delay.
	ErrDelayActive = errors.New("task already has an active delay")

	// ErrInvalidDuration indicates a non-positive delay duration.
	ErrInvalidDuration = errors.New("delay duration must be positive")
)

// StartDelay opens a delay on task starting at now.
func StartDelay(task *models.Task, id string, duration time.Duration, now time.Time) (*models.Delay, error) {
	if duration <= 0 {
		return nil, ErrInvalidDuration
	}

	if task.ActiveDelay() != nil {
		return nil, ErrDelayActive
	}

	delay := &models.Delay{
		ID:        id,
		StartDate: now,
		Duration:  models.Duration(duration),
	}
	task.Delays = append(task.Delays, delay)

	return delay, nil
}

// ActiveDelay returns the open delay of task, if any.
func ActiveDelay(task *models.Task) *models.Delay {
	return task.ActiveDelay()
}

// IsExpired reports whether an open delay has elapsed at now.
func IsExpired(delay *models.Delay, now time.Time) bool {
	return delay != nil && delay.EndDate == nil && !now.Before(delay.ExpiresAt())
}

// CloseDelay ends the delay at now. Closing a closed delay is a no-op.
func CloseDelay(delay *models.Delay, now time.Time) {
	if delay == nil || delay.EndDate != nil {
		return
	}

	delay.EndDate = &now
}
