// Package runner is the background-task abstraction the evaluation
// pipeline and rewrite orchestrator run through: a worker pool with
// at-least-once delivery, caller-supplied idempotency keys, bounded
// retries with exponential backoff, and explicit per-attempt timeouts.
// Tasks must be idempotent to the degree their MaxRetries implies;
// check-then-insert guards in the store make the scorer tasks safe.
package runner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/redline/internal/fault"
)

// Task describes one unit of background work.
type Task struct {
	// IdempotencyKey deduplicates submissions: while a task with the same
	// key is queued or running, further submissions are dropped. Empty
	// means no deduplication.
	IdempotencyKey string
	Name           string
	// MaxRetries is the number of attempts beyond the first. Zero means
	// run once.
	MaxRetries int
	// Timeout bounds each attempt. Zero means no deadline.
	Timeout time.Duration
	Run     func(ctx context.Context) error
	// OnDone is invoked once with the final error (nil on success) after
	// all retries are spent. Used by Group for fan-in.
	OnDone func(err error)
}

// Runner executes tasks on a fixed worker pool.
type Runner struct {
	logger  *slog.Logger
	queue   chan *submission
	wg      sync.WaitGroup
	pending sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]string // idempotency key -> task id
	closed   bool
}

type submission struct {
	id   string
	task Task
}

// New starts a runner with the given number of workers.
func New(workers int, logger *slog.Logger) *Runner {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		logger:   logger,
		queue:    make(chan *submission, 256),
		inflight: make(map[string]string),
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// Submit enqueues a task and returns its id. A submission whose
// idempotency key is already in flight returns the existing task id
// without enqueuing again.
func (r *Runner) Submit(task Task) (string, error) {
	if task.Run == nil {
		return "", fault.New(fault.Validation, "task has no run function")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", fault.New(fault.Unavailable, "runner is stopped")
	}
	if task.IdempotencyKey != "" {
		if existing, ok := r.inflight[task.IdempotencyKey]; ok {
			r.mu.Unlock()
			if task.OnDone != nil {
				task.OnDone(nil)
			}
			return existing, nil
		}
	}
	id := uuid.NewString()
	if task.IdempotencyKey != "" {
		r.inflight[task.IdempotencyKey] = id
	}
	r.pending.Add(1)
	r.mu.Unlock()

	r.queue <- &submission{id: id, task: task}
	return id, nil
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for sub := range r.queue {
		r.execute(sub)
	}
}

func (r *Runner) execute(sub *submission) {
	defer r.pending.Done()
	defer func() {
		if sub.task.IdempotencyKey != "" {
			r.mu.Lock()
			delete(r.inflight, sub.task.IdempotencyKey)
			r.mu.Unlock()
		}
	}()

	attempts := sub.task.MaxRetries + 1
	backoff := 100 * time.Millisecond
	var err error

	for attempt := 1; attempt <= attempts; attempt++ {
		err = r.attempt(sub.task)
		if err == nil {
			break
		}
		r.logger.Warn("task failed",
			"task", sub.task.Name,
			"task_id", sub.id,
			"attempt", attempt,
			"error", err,
		)
		if attempt < attempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	if sub.task.OnDone != nil {
		sub.task.OnDone(err)
	}
}

func (r *Runner) attempt(task Task) error {
	ctx := context.Background()
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}
	err := task.Run(ctx)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return fault.Wrap(fault.Timeout, err, "task %s exceeded %s", task.Name, task.Timeout)
	}
	return err
}

// Wait blocks until every submitted task has finished.
func (r *Runner) Wait() {
	r.pending.Wait()
}

// Stop drains the queue and shuts the workers down.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.pending.Wait()
	close(r.queue)
	r.wg.Wait()
}

// Outcome is one task's terminal result inside a Group.
type Outcome struct {
	Name string
	Err  error
}

// Group is a fan-in barrier over a set of tasks: submit with Go, then
// Wait for every outcome.
type Group struct {
	wg       sync.WaitGroup
	mu       sync.Mutex
	outcomes []Outcome
}

func NewGroup() *Group { return &Group{} }

// Go submits the task and records its outcome in the group.
func (g *Group) Go(r *Runner, task Task) error {
	g.wg.Add(1)
	inner := task.OnDone
	task.OnDone = func(err error) {
		g.mu.Lock()
		g.outcomes = append(g.outcomes, Outcome{Name: task.Name, Err: err})
		g.mu.Unlock()
		if inner != nil {
			inner(err)
		}
		g.wg.Done()
	}
	if _, err := r.Submit(task); err != nil {
		// Submit invokes OnDone itself on idempotent drops; a hard error
		// means OnDone never fired, so release the barrier here.
		g.wg.Done()
		return err
	}
	return nil
}

// Wait blocks until all of the group's tasks report, then returns their
// outcomes.
func (g *Group) Wait() []Outcome {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Outcome, len(g.outcomes))
	copy(out, g.outcomes)
	return out
}
