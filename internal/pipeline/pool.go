package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/recitation/internal/i18n"
	"github.com/pavelanni/recitation/internal/model"
)

// ErrQueueFull is returned by Enqueue when the admission queue has no room.
var ErrQueueFull = errors.New("evaluation queue is full")

// Runner executes the pipeline of one task.
type Runner interface {
	Run(ctx context.Context, id string) error
}

// Pool is a fixed set of workers fed by a bounded admission queue of task ids.
type Pool struct {
	store   TaskStore
	runner  Runner
	workers int
	lang    string
	queue   chan string

	// backlog holds recovered PENDING ids that did not fit in the queue.
	// Written by Recover, drained by Run.
	backlog []string
}

// NewPool creates a pool. Workers start with Run.
func NewPool(store TaskStore, runner Runner, workers, queueSize int, lang string) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if lang == "" {
		lang = "en"
	}
	return &Pool{
		store:   store,
		runner:  runner,
		workers: workers,
		lang:    lang,
		queue:   make(chan string, queueSize),
	}
}

// Enqueue hands a task id to the workers without blocking.
func (p *Pool) Enqueue(id string) error {
	select {
	case p.queue <- id:
		return nil
	default:
		return ErrQueueFull
	}
}

// Queued returns the number of tasks waiting for a worker.
func (p *Pool) Queued() int {
	return len(p.queue)
}

// Submit creates a PENDING task and queues it. When the queue is full the
// task is failed right away and still returned; the caller observes the
// failure by polling like any other outcome. Only a store fault is an error.
func (p *Pool) Submit(req model.EvaluationRequest) (model.Task, error) {
	task, err := p.store.CreateTask(req)
	if err != nil {
		return model.Task{}, fmt.Errorf("create task: %w", err)
	}
	if err := p.admit(task.ID); err != nil {
		return task, err
	}
	slog.Info("evaluation submitted",
		"task_id", task.ID,
		"student_id", task.StudentID,
		"unit_id", task.UnitID,
		"session_index", task.SessionIndex,
	)
	return task, nil
}

func (p *Pool) admit(id string) error {
	if err := p.Enqueue(id); err != nil {
		slog.Warn("evaluation queue full, failing task", "task_id", id, "queue_size", cap(p.queue))
		if ferr := p.store.FailTask(id, i18n.Tl(p.lang, "QueueFull", nil)); ferr != nil {
			return fmt.Errorf("fail task %s: %w", id, ferr)
		}
	}
	return nil
}

// Recover prepares tasks left behind by a previous process. Tasks that were
// PROCESSING are failed as interrupted; PENDING tasks are queued again,
// oldest first. PENDING tasks beyond the queue capacity stay PENDING and are
// fed to the queue by Run as workers free up; requeued counts only the tasks
// placed in the queue now. It must be called before Run and before new
// submissions.
func (p *Pool) Recover() (requeued, interrupted int, err error) {
	processing, err := p.store.ListTasks(model.TaskFilter{Status: model.StatusProcessing})
	if err != nil {
		return 0, 0, fmt.Errorf("list processing tasks: %w", err)
	}
	for _, t := range processing {
		if err := p.store.FailTask(t.ID, i18n.Tl(p.lang, "Interrupted", nil)); err != nil {
			return requeued, interrupted, fmt.Errorf("fail interrupted task %s: %w", t.ID, err)
		}
		interrupted++
	}

	pending, err := p.store.ListTasks(model.TaskFilter{Status: model.StatusPending})
	if err != nil {
		return requeued, interrupted, fmt.Errorf("list pending tasks: %w", err)
	}
	slices.Reverse(pending)
	for i, t := range pending {
		if err := p.Enqueue(t.ID); err != nil {
			for _, rest := range pending[i:] {
				p.backlog = append(p.backlog, rest.ID)
			}
			break
		}
		requeued++
	}

	if requeued > 0 || interrupted > 0 || len(p.backlog) > 0 {
		slog.Info("recovered tasks from previous run",
			"requeued", requeued,
			"deferred", len(p.backlog),
			"interrupted", interrupted,
		)
	}
	return requeued, interrupted, nil
}

// Run starts the workers and blocks until ctx is cancelled. Tasks still in
// the queue or the backlog stay PENDING and are picked up by Recover on the
// next start.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if backlog := p.backlog; len(backlog) > 0 {
		p.backlog = nil
		g.Go(func() error {
			p.feed(ctx, backlog)
			return nil
		})
	}
	for i := 0; i < p.workers; i++ {
		i := i
		g.Go(func() error {
			p.work(ctx, i)
			return nil
		})
	}
	slog.Info("evaluation workers started", "workers", p.workers, "queue_size", cap(p.queue))
	err := g.Wait()
	slog.Info("evaluation workers stopped")
	return err
}

// feed blocks on the queue for each backlog id so none of them is failed
// for lack of room.
func (p *Pool) feed(ctx context.Context, ids []string) {
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return
		case p.queue <- id:
		}
	}
	slog.Info("recovered backlog queued", "tasks", len(ids))
}

func (p *Pool) work(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			// select picks at random when both are ready; leave the task
			// PENDING rather than start it under a cancelled context.
			if ctx.Err() != nil {
				return
			}
			p.runOne(ctx, worker, id)
		}
	}
}

func (p *Pool) runOne(ctx context.Context, worker int, id string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("evaluation panicked",
				"task_id", id,
				"worker", worker,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			if err := p.store.FailTask(id, i18n.Tl(p.lang, "EvaluationPanicked", nil)); err != nil {
				slog.Error("failed to record task failure", "task_id", id, "error", err)
			}
		}
	}()

	err := p.runner.Run(ctx, id)
	var stageErr *StageError
	if err != nil && !errors.As(err, &stageErr) {
		slog.Error("evaluation run failed", "task_id", id, "worker", worker, "error", err)
	}
}
