// Package scheduler runs the background triggers of the engine: the periodic
// delay expiry sweep and the version sync fan-out.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/procflow/pkg/lock"
	"github.com/robfig/cron/v3"
)

const (
	// DefaultSweepSchedule runs the sweep every minute.
	DefaultSweepSchedule = "* * * * *"

	sweepLockKey = "delay-sweep"
)

var ErrAlreadyStarted = errors.New("scheduler already started")

// Sweeper resumes workflows whose delay elapsed.
type Sweeper interface {
	ResumeExpiredDelays(ctx context.Context, now time.Time) (int, error)
}

type DelaySweeper struct {
	sweeper  Sweeper
	locker   lock.Locker
	logger   *slog.Logger
	schedule string
	lockTTL  time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

type SweeperOption func(*DelaySweeper)

// WithSchedule sets the standard cron expression of the sweep.
func WithSchedule(schedule string) SweeperOption {
	return func(s *DelaySweeper) {
		s.schedule = schedule
	}
}

// WithLockTTL bounds how long one sweep may hold the distributed lock.
func WithLockTTL(ttl time.Duration) SweeperOption {
	return func(s *DelaySweeper) {
		s.lockTTL = ttl
	}
}

func WithClock(now func() time.Time) SweeperOption {
	return func(s *DelaySweeper) {
		s.now = now
	}
}

func NewDelaySweeper(sweeper Sweeper, locker lock.Locker, logger *slog.Logger, opts ...SweeperOption) *DelaySweeper {
	s := &DelaySweeper{
		sweeper:  sweeper,
		locker:   locker,
		logger:   logger.With("module", "delay_sweeper"),
		schedule: DefaultSweepSchedule,
		lockTTL:  5 * time.Minute,
		now:      func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Validate checks the cron expression.
func (s *DelaySweeper) Validate() error {
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule '%s': %w", s.schedule, err)
	}

	return nil
}

// Start schedules the sweep until ctx is done or Stop is called.
func (s *DelaySweeper) Start(ctx context.Context) error {
	if err := s.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return ErrAlreadyStarted
	}

	ctx, s.cancel = context.WithCancel(ctx)

	logger := newCronLogger(s.logger)
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(logger),
		cron.Recover(logger),
	))

	entryID, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.ErrorContext(ctx, "Delay sweep failed", "error", err)
		}
	})
	if err != nil {
		s.cron = nil
		s.cancel()

		return fmt.Errorf("failed to add sweep job: %w", err)
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Delay sweeper started", "schedule", s.schedule, "entry_id", entryID)

	return nil
}

// Stop cancels a running sweep between workflows and waits for it to return.
func (s *DelaySweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return nil
	}

	s.cancel()

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	s.cron = nil
	s.logger.InfoContext(ctx, "Delay sweeper stopped")

	return nil
}

// Sweep runs one pass if no other instance holds the sweep lock. It returns
// the number of resumed delays.
func (s *DelaySweeper) Sweep(ctx context.Context) (int, error) {
	unlock, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.lockTTL)
	if err != nil {
		return 0, err
	}

	if !ok {
		s.logger.DebugContext(ctx, "Delay sweep already running elsewhere")

		return 0, nil
	}

	defer func() {
		// The sweep context may already be cancelled.
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.ErrorContext(ctx, "Failed to release sweep lock", "error", err)
		}
	}()

	resumed, err := s.sweeper.ResumeExpiredDelays(ctx, s.now())
	if err != nil {
		return resumed, fmt.Errorf("failed to resume expired delays: %w", err)
	}

	if resumed > 0 {
		s.logger.InfoContext(ctx, "Resumed expired delays", "count", resumed)
	}

	return resumed, nil
}

// cronLogger routes cron's own messages through slog.
type cronLogger struct {
	logger *slog.Logger
}

func newCronLogger(logger *slog.Logger) cronLogger {
	return cronLogger{logger: logger}
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
