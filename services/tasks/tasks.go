// Package tasks provides a bounded in-process task queue with a fixed
// worker pool, progress reporting, and scheduled (delayed) execution.
package tasks

import (
	"context"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ReportFunc publishes incremental progress from inside a running work
// item. Percent is clamped to [0, 100].
type ReportFunc func(percent int, message string)

// Func is the unit of work a task executes. The returned value becomes the
// task result on success; the returned error marks the task failed.
type Func func(ctx context.Context, report ReportFunc) (any, error)

// task is the queue-owned mutable record. All fields are guarded by the
// queue's lock; callers only ever see Snapshot copies.
type task struct {
	id   string
	name string
	fn   Func

	status          Status
	progress        int
	progressMessage string
	result          any
	errMessage      string

	createdAt    time.Time
	scheduledFor *time.Time
	startedAt    *time.Time
	completedAt  *time.Time
}

// Snapshot is an immutable copy of a task's observable state.
type Snapshot struct {
	ID              string
	Name            string
	Status          Status
	Progress        int
	ProgressMessage string
	Result          any
	Error           string
	CreatedAt       time.Time
	ScheduledFor    *time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	Duration        time.Duration
}

// terminal reports whether the status can never change again.
func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func (t *task) snapshot(now time.Time) Snapshot {
	snap := Snapshot{
		ID:              t.id,
		Name:            t.name,
		Status:          t.status,
		Progress:        t.progress,
		ProgressMessage: t.progressMessage,
		Result:          t.result,
		Error:           t.errMessage,
		CreatedAt:       t.createdAt,
		ScheduledFor:    t.scheduledFor,
		StartedAt:       t.startedAt,
		CompletedAt:     t.completedAt,
	}
	switch {
	case t.startedAt != nil && t.completedAt != nil:
		snap.Duration = t.completedAt.Sub(*t.startedAt)
	case t.startedAt != nil:
		snap.Duration = now.Sub(*t.startedAt)
	}
	return snap
}
