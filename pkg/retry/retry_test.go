package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/procflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	return Policy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDo_RetriesConsistencyErrors(t *testing.T) {
	calls := 0

	err := Do(t.Context(), fastPolicy(), discard(), "test", func() error {
		calls++
		if calls < 3 {
			return persistence.NewWorkflowError("Update", "wf-1", persistence.ErrLockTimeout)
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ReturnsOtherErrorsImmediately(t *testing.T) {
	boom := errors.New("task is not active")
	calls := 0

	err := Do(t.Context(), fastPolicy(), discard(), "test", func() error {
		calls++

		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestDo_GivesUpAfterMaxRetries(t *testing.T) {
	calls := 0

	err := Do(t.Context(), fastPolicy(), discard(), "test", func() error {
		calls++

		return persistence.ErrStaleWorkflow
	})

	require.ErrorIs(t, err, persistence.ErrStaleWorkflow)
	assert.Equal(t, 4, calls)
}

func TestDo_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	calls := 0

	err := Do(ctx, Policy{MaxRetries: 10, InitialInterval: time.Hour, MaxInterval: time.Hour}, discard(), "test", func() error {
		calls++
		cancel()

		return persistence.ErrLockTimeout
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDefaultPolicy(t *testing.T) {
	policy := DefaultPolicy()

	assert.Equal(t, uint64(3), policy.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, policy.InitialInterval)
	assert.Equal(t, time.Second, policy.MaxInterval)
}
