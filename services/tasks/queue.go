package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultWorkers   = 4
	defaultCapacity  = 64
	defaultTick      = time.Second
	waitPollInterval = 50 * time.Millisecond
)

var (
	// ErrQueueClosed is returned by Submit and Schedule after Shutdown.
	ErrQueueClosed = errors.New("task queue closed")

	// ErrTaskNotFound is returned by Wait for an unknown task ID.
	ErrTaskNotFound = errors.New("task not found")
)

// Stats describes the queue at a point in time.
type Stats struct {
	Workers    int
	QueueDepth int
	Scheduled  int
	Pending    int
	Running    int
	Completed  int
	Failed     int
	Cancelled  int
	Total      int
}

// Queue is a bounded producer/consumer task queue with a fixed worker pool
// and a scheduler loop that promotes delayed entries once due. The queue
// exclusively owns every task's mutable state.
type Queue struct {
	logger   *slog.Logger
	workers  int
	capacity int
	tick     time.Duration
	now      func() time.Time

	runCtx    context.Context
	runCancel context.CancelFunc

	ch chan *task

	mu        sync.Mutex
	tasks     map[string]*task
	order     []*task
	scheduled map[string]*task
	closed    bool

	taskWG   sync.WaitGroup // queued and running work items
	loopWG   sync.WaitGroup // workers and the scheduler
	stop     chan struct{}
	stopOnce sync.Once
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithCapacity bounds the run queue. Submit blocks while it is full.
func WithCapacity(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithTick sets the scheduler's promotion interval.
func WithTick(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d > 0 {
			q.tick = d
		}
	}
}

// WithQueueLogger sets the queue logger.
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = logger.With("component", "tasks")
	}
}

// NewQueue creates the queue and starts its workers and scheduler.
func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		logger:    slog.Default().With("component", "tasks"),
		workers:   defaultWorkers,
		capacity:  defaultCapacity,
		tick:      defaultTick,
		now:       time.Now,
		tasks:     make(map[string]*task),
		scheduled: make(map[string]*task),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}

	q.runCtx, q.runCancel = context.WithCancel(context.Background())
	q.ch = make(chan *task, q.capacity)

	for i := 0; i < q.workers; i++ {
		q.loopWG.Add(1)
		go q.worker()
	}
	q.loopWG.Add(1)
	go q.scheduler()

	return q
}

// Submit creates a pending task and enqueues it. It blocks while the run
// queue is full; execution itself is never waited on.
func (q *Queue) Submit(ctx context.Context, name string, fn Func) (string, error) {
	t, err := q.register(name, fn, nil)
	if err != nil {
		return "", err
	}
	return t.id, q.enqueue(ctx, t)
}

// Schedule registers a task to run at runAt. A past or present instant
// enqueues it immediately. The entry is promoted into the run queue exactly
// once when due.
func (q *Queue) Schedule(ctx context.Context, name string, fn Func, runAt time.Time) (string, error) {
	if !runAt.After(q.now()) {
		return q.Submit(ctx, name, fn)
	}

	t, err := q.register(name, fn, &runAt)
	if err != nil {
		return "", err
	}

	q.mu.Lock()
	q.scheduled[t.id] = t
	q.mu.Unlock()

	q.logger.Debug("task scheduled", "task_id", t.id, "name", name, "run_at", runAt)
	return t.id, nil
}

func (q *Queue) register(name string, fn Func, runAt *time.Time) (*task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}

	t := &task{
		id:           uuid.New().String(),
		name:         name,
		fn:           fn,
		status:       StatusPending,
		createdAt:    q.now(),
		scheduledFor: runAt,
	}
	q.tasks[t.id] = t
	q.order = append(q.order, t)
	return t, nil
}

// enqueue hands a registered task to the worker pool, blocking while the
// run queue is full.
func (q *Queue) enqueue(ctx context.Context, t *task) error {
	q.taskWG.Add(1)
	select {
	case q.ch <- t:
		return nil
	case <-ctx.Done():
		q.withdraw(t)
		return ctx.Err()
	case <-q.stop:
		q.withdraw(t)
		return ErrQueueClosed
	}
}

// withdraw marks a task that never reached a worker as cancelled.
func (q *Queue) withdraw(t *task) {
	q.mu.Lock()
	if t.status == StatusPending {
		t.status = StatusCancelled
		now := q.now()
		t.completedAt = &now
	}
	q.mu.Unlock()
	q.taskWG.Done()
}

// Cancel transitions a pending task to cancelled. Running and finished
// tasks are not cancellable; Cancel reports whether it took effect.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok || t.status != StatusPending {
		return false
	}

	t.status = StatusCancelled
	now := q.now()
	t.completedAt = &now
	delete(q.scheduled, id)
	return true
}

// Get returns a snapshot of the task, if it exists.
func (q *Queue) Get(id string) (Snapshot, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return Snapshot{}, false
	}
	return t.snapshot(q.now()), true
}

// List returns task snapshots newest-first. An empty status matches every
// task; limit <= 0 means no limit.
func (q *Queue) List(status Status, limit int) []Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var out []Snapshot
	for i := len(q.order) - 1; i >= 0; i-- {
		t := q.order[i]
		if status != "" && t.status != status {
			continue
		}
		out = append(out, t.snapshot(now))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Stats returns counts by status plus queue depth and worker count.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{
		Workers:    q.workers,
		QueueDepth: len(q.ch),
		Scheduled:  len(q.scheduled),
		Total:      len(q.tasks),
	}
	for _, t := range q.tasks {
		switch t.status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		case StatusCancelled:
			stats.Cancelled++
		}
	}
	return stats
}

// CleanOld removes finished tasks older than maxAge and returns how many
// were removed. Pending and running tasks are never touched.
func (q *Queue) CleanOld(maxAge time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-maxAge)
	kept := q.order[:0]
	removed := 0
	for _, t := range q.order {
		if t.status.terminal() && t.completedAt != nil && t.completedAt.Before(cutoff) {
			delete(q.tasks, t.id)
			removed++
			continue
		}
		kept = append(kept, t)
	}
	q.order = kept
	return removed
}

// Wait polls until the task reaches a terminal status or ctx expires.
func (q *Queue) Wait(ctx context.Context, id string) (Snapshot, error) {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		snap, ok := q.Get(id)
		if !ok {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		if snap.Status.terminal() {
			return snap, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

// Shutdown stops intake, cancels scheduled entries that are not yet due,
// drains queued and running work, then stops the workers and the
// scheduler. If ctx expires first, the remaining work is abandoned and
// ctx's error is returned.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	now := q.now()
	for id, t := range q.scheduled {
		t.status = StatusCancelled
		t.completedAt = &now
		delete(q.scheduled, id)
	}
	q.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		q.taskWG.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		q.stopOnce.Do(func() { close(q.stop) })
		q.runCancel()
		return ctx.Err()
	}

	q.stopOnce.Do(func() { close(q.stop) })
	q.runCancel()
	q.loopWG.Wait()

	q.logger.Info("task queue stopped")
	return nil
}

func (q *Queue) worker() {
	defer q.loopWG.Done()
	for {
		select {
		case <-q.stop:
			return
		case t := <-q.ch:
			q.run(t)
		}
	}
}

func (q *Queue) run(t *task) {
	defer q.taskWG.Done()

	q.mu.Lock()
	if t.status != StatusPending {
		// Cancelled while queued.
		q.mu.Unlock()
		return
	}
	t.status = StatusRunning
	start := q.now()
	t.startedAt = &start
	q.mu.Unlock()

	report := func(percent int, message string) {
		if percent < 0 {
			percent = 0
		} else if percent > 100 {
			percent = 100
		}
		q.mu.Lock()
		if t.status == StatusRunning {
			t.progress = percent
			t.progressMessage = message
		}
		q.mu.Unlock()
	}

	result, err := q.invoke(t, report)

	q.mu.Lock()
	end := q.now()
	t.completedAt = &end
	if err != nil {
		t.status = StatusFailed
		t.errMessage = err.Error()
	} else {
		t.status = StatusCompleted
		t.result = result
		t.progress = 100
	}
	q.mu.Unlock()

	if err != nil {
		q.logger.Warn("task failed", "task_id", t.id, "name", t.name, "error", err)
	} else {
		q.logger.Debug("task completed", "task_id", t.id, "name", t.name, "duration", end.Sub(start))
	}
}

// invoke runs the work item, converting a panic into an ordinary task
// failure so the worker loop survives.
func (q *Queue) invoke(t *task, report ReportFunc) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("work item panicked: %v", r)
		}
	}()
	return t.fn(q.runCtx, report)
}

func (q *Queue) scheduler() {
	defer q.loopWG.Done()

	ticker := time.NewTicker(q.tick)
	defer ticker.Stop()

	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.promoteDue()
		}
	}
}

// promoteDue moves every due scheduled entry into the run queue. Each
// entry is removed from the holding map under the lock before the enqueue,
// so overlapping ticks can never promote one twice.
func (q *Queue) promoteDue() {
	q.mu.Lock()
	now := q.now()
	var due []*task
	for id, t := range q.scheduled {
		if t.status != StatusPending || t.scheduledFor.After(now) {
			continue
		}
		delete(q.scheduled, id)
		due = append(due, t)
	}
	q.mu.Unlock()

	for _, t := range due {
		q.taskWG.Add(1)
		select {
		case q.ch <- t:
			q.logger.Debug("scheduled task promoted", "task_id", t.id, "name", t.name)
		case <-q.stop:
			q.withdraw(t)
			return
		}
	}
}
