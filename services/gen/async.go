package gen

import (
	"context"
	"time"

	"github.com/draftmill/draftmill/services/tasks"
)

// AsyncGenerator runs generation requests through the task queue so long
// jobs stay off the request path. Callers get a task ID synchronously and
// poll the queue for progress and the result.
type AsyncGenerator struct {
	svc   *Service
	queue *tasks.Queue
}

// NewAsyncGenerator couples a generation service to a task queue.
func NewAsyncGenerator(svc *Service, queue *tasks.Queue) *AsyncGenerator {
	return &AsyncGenerator{svc: svc, queue: queue}
}

// Submit enqueues a generation request and returns its task ID. The work
// item reports coarse progress and stores the GenerationResponse as the
// task result.
func (g *AsyncGenerator) Submit(ctx context.Context, name string, params GenerateParams) (string, error) {
	return g.queue.Submit(ctx, name, g.work(params))
}

// Schedule enqueues a generation request for execution at runAt.
func (g *AsyncGenerator) Schedule(ctx context.Context, name string, params GenerateParams, runAt time.Time) (string, error) {
	return g.queue.Schedule(ctx, name, g.work(params), runAt)
}

// Wait blocks until the task finishes and returns its snapshot.
func (g *AsyncGenerator) Wait(ctx context.Context, taskID string) (tasks.Snapshot, error) {
	return g.queue.Wait(ctx, taskID)
}

func (g *AsyncGenerator) work(params GenerateParams) tasks.Func {
	return func(ctx context.Context, report tasks.ReportFunc) (any, error) {
		report(10, "selecting provider")
		resp, err := g.svc.Generate(ctx, params)
		if err != nil {
			return nil, err
		}
		report(90, "post-processing")
		return resp, nil
	}
}
