package tasks

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestQueue(t *testing.T, opts ...QueueOption) *Queue {
	t.Helper()
	opts = append([]QueueOption{WithQueueLogger(newTestLogger())}, opts...)
	q := NewQueue(opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		q.Shutdown(ctx)
	})
	return q
}

func noopTask(ctx context.Context, report ReportFunc) (any, error) {
	return nil, nil
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestQueue_SubmitCompletes(t *testing.T) {
	q := newTestQueue(t)

	id, err := q.Submit(context.Background(), "greet", func(ctx context.Context, report ReportFunc) (any, error) {
		report(50, "halfway")
		return "hello", nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := q.Wait(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, "hello", snap.Result)
	assert.Equal(t, 100, snap.Progress)
	assert.NotNil(t, snap.StartedAt)
	assert.NotNil(t, snap.CompletedAt)
	assert.Empty(t, snap.Error)
}

func TestQueue_SubmitFails(t *testing.T) {
	q := newTestQueue(t)

	id, err := q.Submit(context.Background(), "doomed", func(ctx context.Context, report ReportFunc) (any, error) {
		return nil, errors.New("backend unreachable")
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := q.Wait(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "backend unreachable", snap.Error)
	assert.Nil(t, snap.Result)
}

func TestQueue_PanicBecomesFailure(t *testing.T) {
	q := newTestQueue(t)

	id, err := q.Submit(context.Background(), "panicky", func(ctx context.Context, report ReportFunc) (any, error) {
		panic("boom")
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := q.Wait(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, snap.Status)
	assert.Contains(t, snap.Error, "panicked")

	// The worker pool must survive the panic.
	id2, err := q.Submit(context.Background(), "after", noopTask)
	require.NoError(t, err)
	snap, err = q.Wait(ctx, id2)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, snap.Status)
}

func TestQueue_ProgressClamped(t *testing.T) {
	q := newTestQueue(t)

	reached := make(chan struct{})
	release := make(chan struct{})
	id, err := q.Submit(context.Background(), "clamped", func(ctx context.Context, report ReportFunc) (any, error) {
		report(150, "too much")
		close(reached)
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	<-reached
	snap, ok := q.Get(id)
	require.True(t, ok)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, "too much", snap.ProgressMessage)

	close(release)
}

// =============================================================================
// Cancellation Tests
// =============================================================================

func TestQueue_CancelQueued(t *testing.T) {
	q := newTestQueue(t, WithWorkers(1))

	release := make(chan struct{})
	started := make(chan struct{})
	_, err := q.Submit(context.Background(), "blocker", func(ctx context.Context, report ReportFunc) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	require.NoError(t, err)
	<-started

	executed := make(chan struct{})
	id, err := q.Submit(context.Background(), "victim", func(ctx context.Context, report ReportFunc) (any, error) {
		close(executed)
		return nil, nil
	})
	require.NoError(t, err)

	require.True(t, q.Cancel(id), "queued task should be cancellable")
	assert.False(t, q.Cancel(id), "second cancel should report no effect")

	close(release)

	// The worker must skip the cancelled task rather than run it.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := q.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, snap.Status)

	select {
	case <-executed:
		t.Fatal("cancelled task was executed")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestQueue_CancelRunning(t *testing.T) {
	q := newTestQueue(t)

	started := make(chan struct{})
	release := make(chan struct{})
	id, err := q.Submit(context.Background(), "running", func(ctx context.Context, report ReportFunc) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	<-started
	assert.False(t, q.Cancel(id), "running task must not be cancellable")
	close(release)
}

func TestQueue_CancelUnknown(t *testing.T) {
	q := newTestQueue(t)
	assert.False(t, q.Cancel("no-such-task"))
}

// =============================================================================
// Scheduling Tests
// =============================================================================

func TestQueue_ScheduleRunsOnce(t *testing.T) {
	q := newTestQueue(t, WithTick(10*time.Millisecond))

	runs := make(chan struct{}, 4)
	id, err := q.Schedule(context.Background(), "delayed", func(ctx context.Context, report ReportFunc) (any, error) {
		runs <- struct{}{}
		return "done", nil
	}, time.Now().Add(30*time.Millisecond))
	require.NoError(t, err)

	snap, ok := q.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusPending, snap.Status)
	require.NotNil(t, snap.ScheduledFor)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err = q.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, snap.Status)

	// Give overlapping ticks a chance to misbehave, then count executions.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, runs, 1)
}

func TestQueue_SchedulePastDueRunsImmediately(t *testing.T) {
	q := newTestQueue(t, WithTick(time.Hour))

	id, err := q.Schedule(context.Background(), "overdue", noopTask, time.Now().Add(-time.Minute))
	require.NoError(t, err)

	// The scheduler never ticks in this test, so completion proves the task
	// bypassed the holding map.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := q.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, snap.Status)
}

func TestQueue_CancelScheduled(t *testing.T) {
	q := newTestQueue(t, WithTick(10*time.Millisecond))

	executed := make(chan struct{})
	id, err := q.Schedule(context.Background(), "future", func(ctx context.Context, report ReportFunc) (any, error) {
		close(executed)
		return nil, nil
	}, time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.True(t, q.Cancel(id))
	assert.Equal(t, 0, q.Stats().Scheduled)

	select {
	case <-executed:
		t.Fatal("cancelled scheduled task was executed")
	case <-time.After(50 * time.Millisecond):
	}
}

// =============================================================================
// Introspection Tests
// =============================================================================

func TestQueue_WaitUnknownTask(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Wait(context.Background(), "no-such-task")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestQueue_ListNewestFirst(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var ids []string
	for _, name := range []string{"first", "second", "third"} {
		id, err := q.Submit(ctx, name, noopTask)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		_, err := q.Wait(ctx, id)
		require.NoError(t, err)
	}

	all := q.List("", 0)
	require.Len(t, all, 3)
	assert.Equal(t, "third", all[0].Name)
	assert.Equal(t, "first", all[2].Name)

	limited := q.List("", 2)
	assert.Len(t, limited, 2)

	completed := q.List(StatusCompleted, 0)
	assert.Len(t, completed, 3)
	assert.Empty(t, q.List(StatusFailed, 0))
}

func TestQueue_Stats(t *testing.T) {
	q := newTestQueue(t, WithWorkers(2), WithTick(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	okID, err := q.Submit(ctx, "ok", noopTask)
	require.NoError(t, err)
	badID, err := q.Submit(ctx, "bad", func(ctx context.Context, report ReportFunc) (any, error) {
		return nil, errors.New("nope")
	})
	require.NoError(t, err)
	_, err = q.Schedule(ctx, "later", noopTask, time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = q.Wait(ctx, okID)
	require.NoError(t, err)
	_, err = q.Wait(ctx, badID)
	require.NoError(t, err)

	stats := q.Stats()
	assert.Equal(t, 2, stats.Workers)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Scheduled)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 3, stats.Total)
}

func TestQueue_CleanOld(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := q.Submit(ctx, "old", noopTask)
	require.NoError(t, err)
	_, err = q.Wait(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, 0, q.CleanOld(time.Hour), "fresh tasks must survive")

	removed := q.CleanOld(0)
	assert.Equal(t, 1, removed)
	_, ok := q.Get(id)
	assert.False(t, ok)
}

func TestQueue_CleanOldKeepsActive(t *testing.T) {
	q := newTestQueue(t)

	release := make(chan struct{})
	started := make(chan struct{})
	id, err := q.Submit(context.Background(), "active", func(ctx context.Context, report ReportFunc) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	require.NoError(t, err)
	<-started

	assert.Equal(t, 0, q.CleanOld(0), "running tasks must never be removed")
	_, ok := q.Get(id)
	assert.True(t, ok)

	close(release)
}

// =============================================================================
// Shutdown Tests
// =============================================================================

func TestQueue_ShutdownDrains(t *testing.T) {
	q := NewQueue(WithQueueLogger(newTestLogger()))

	started := make(chan struct{})
	id, err := q.Submit(context.Background(), "slow", func(ctx context.Context, report ReportFunc) (any, error) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		return "drained", nil
	})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))

	snap, ok := q.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, "drained", snap.Result)
}

func TestQueue_ShutdownRejectsIntake(t *testing.T) {
	q := NewQueue(WithQueueLogger(newTestLogger()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))

	_, err := q.Submit(context.Background(), "late", noopTask)
	assert.ErrorIs(t, err, ErrQueueClosed)
	_, err = q.Schedule(context.Background(), "late", noopTask, time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, ErrQueueClosed)

	require.NoError(t, q.Shutdown(ctx), "shutdown must be idempotent")
}

func TestQueue_ShutdownCancelsScheduled(t *testing.T) {
	q := NewQueue(WithQueueLogger(newTestLogger()), WithTick(time.Hour))

	id, err := q.Schedule(context.Background(), "never", noopTask, time.Now().Add(time.Hour))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))

	snap, ok := q.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, snap.Status)
}

func TestQueue_SubmitBlocksWhenFull(t *testing.T) {
	q := newTestQueue(t, WithWorkers(1), WithCapacity(1))

	release := make(chan struct{})
	started := make(chan struct{})
	_, err := q.Submit(context.Background(), "occupant", func(ctx context.Context, report ReportFunc) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	require.NoError(t, err)
	<-started

	// Fill the single queue slot.
	_, err = q.Submit(context.Background(), "queued", noopTask)
	require.NoError(t, err)

	// The next submit has nowhere to go until a slot frees.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	id, err := q.Submit(ctx, "overflow", noopTask)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	snap, ok := q.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, snap.Status)

	close(release)
}
