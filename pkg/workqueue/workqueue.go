// Package workqueue runs engine background work (KPI executions, graph
// builds, reconciliation runs) with serialized LLM access: at most one
// LLM-bound task runs at a time, while data tasks share a bounded pool.
package workqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reconlab/recon-engine/pkg/retry"
)

// Status is the lifecycle state of a queued task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Task is one unit of background work.
type Task interface {
	// ID identifies the task; execution-backed tasks reuse their row id.
	ID() string
	Name() string
	// RequiresLLM marks tasks that call the LLM adapter. They are
	// serialized so provider rate limits apply to one call chain.
	RequiresLLM() bool
	Execute(ctx context.Context, enqueuer Enqueuer) error
}

// Enqueuer lets a running task schedule follow-up work.
type Enqueuer interface {
	Enqueue(task Task) bool
}

// Options configure a Queue.
type Options struct {
	// MaxDataTasks bounds concurrently running non-LLM tasks. Default 4.
	MaxDataTasks int
	// TaskTimeout is the per-task deadline. 0 means no deadline.
	TaskTimeout time.Duration
	// Retry applies to transient task failures. Nil uses retry defaults.
	Retry *retry.Config
}

type taskState struct {
	task       Task
	status     Status
	err        error
	enqueuedAt time.Time
	startedAt  *time.Time
	finishedAt *time.Time
}

// Queue is a first-class execution pool with observable depth and age.
type Queue struct {
	mu     sync.Mutex
	states map[string]*taskState
	order  []string

	llmBusy     bool
	dataRunning int

	opts      Options
	closed    bool
	wg        sync.WaitGroup
	ctx       context.Context
	cancelAll context.CancelFunc

	logger *zap.Logger
	now    func() time.Time
}

// New creates a Queue; Close or Cancel releases it.
func New(opts Options, logger *zap.Logger) *Queue {
	if opts.MaxDataTasks <= 0 {
		opts.MaxDataTasks = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		states:    make(map[string]*taskState),
		opts:      opts,
		ctx:       ctx,
		cancelAll: cancel,
		logger:    logger.Named("workqueue"),
		now:       time.Now,
	}
}

var _ Enqueuer = (*Queue)(nil)

// Enqueue schedules a task. Returns false if the queue is cancelled or the
// task id is already queued.
func (q *Queue) Enqueue(task Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.logger.Warn("Queue closed, rejecting task", zap.String("task", task.Name()))
		return false
	}
	if _, exists := q.states[task.ID()]; exists {
		q.logger.Warn("Duplicate task id, rejecting", zap.String("task_id", task.ID()))
		return false
	}

	q.states[task.ID()] = &taskState{
		task:       task,
		status:     StatusPending,
		enqueuedAt: q.now(),
	}
	q.order = append(q.order, task.ID())

	q.logger.Info("Task enqueued",
		zap.String("task_id", task.ID()),
		zap.String("task", task.Name()),
		zap.Bool("requires_llm", task.RequiresLLM()))

	q.dispatchLocked()
	return true
}

// dispatchLocked starts every pending task the lanes allow.
func (q *Queue) dispatchLocked() {
	for _, id := range q.order {
		st := q.states[id]
		if st.status != StatusPending {
			continue
		}
		if st.task.RequiresLLM() {
			if q.llmBusy {
				continue
			}
			q.llmBusy = true
		} else {
			if q.dataRunning >= q.opts.MaxDataTasks {
				continue
			}
			q.dataRunning++
		}

		st.status = StatusRunning
		started := q.now()
		st.startedAt = &started

		q.wg.Add(1)
		go q.run(st)
	}
}

func (q *Queue) run(st *taskState) {
	defer q.wg.Done()

	ctx := q.ctx
	if q.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.opts.TaskTimeout)
		defer cancel()
	}

	err := retry.DoIfRetryable(ctx, q.opts.Retry, func() error {
		return st.task.Execute(ctx, q)
	})

	q.mu.Lock()
	defer q.mu.Unlock()

	if st.task.RequiresLLM() {
		q.llmBusy = false
	} else {
		q.dataRunning--
	}

	finished := q.now()
	st.finishedAt = &finished
	switch {
	case err == nil:
		st.status = StatusCompleted
		q.logger.Info("Task completed", zap.String("task", st.task.Name()))
	case errors.Is(err, context.Canceled):
		st.status = StatusCancelled
		q.logger.Info("Task cancelled", zap.String("task", st.task.Name()))
	default:
		st.status = StatusFailed
		st.err = err
		q.logger.Error("Task failed", zap.String("task", st.task.Name()), zap.Error(err))
	}

	q.dispatchLocked()
}

// Cancel stops accepting work, cancels running tasks, and marks pending
// tasks cancelled.
func (q *Queue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.cancelAll()
	for _, st := range q.states {
		if st.status == StatusPending {
			st.status = StatusCancelled
		}
	}
}

// Wait blocks until every running task finishes or ctx expires. A ctx expiry
// cancels the queue.
func (q *Queue) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		q.Cancel()
		<-done
		return ctx.Err()
	}
}

// TaskError returns the terminal error of a task, nil while it has none.
func (q *Queue) TaskError(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if st, ok := q.states[id]; ok {
		return st.err
	}
	return nil
}

// TaskStatus returns the current status and whether the task is known.
func (q *Queue) TaskStatus(id string) (Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.states[id]
	if !ok {
		return "", false
	}
	return st.status, true
}

// Stats is an observable snapshot of the queue.
type Stats struct {
	Depth         int           `json:"depth"` // pending tasks
	Running       int           `json:"running"`
	Completed     int           `json:"completed"`
	Failed        int           `json:"failed"`
	Cancelled     int           `json:"cancelled"`
	OldestWaiting time.Duration `json:"oldest_waiting_ns"`
}

// Stats reports queue depth and the age of the oldest pending task.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Stats
	now := q.now()
	for _, st := range q.states {
		switch st.status {
		case StatusPending:
			s.Depth++
			if waited := now.Sub(st.enqueuedAt); waited > s.OldestWaiting {
				s.OldestWaiting = waited
			}
		case StatusRunning:
			s.Running++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

// FuncTask wraps a closure as a Task.
type FuncTask struct {
	TaskID string
	Label  string
	LLM    bool
	Fn     func(ctx context.Context, enqueuer Enqueuer) error
}

func (t *FuncTask) ID() string        { return t.TaskID }
func (t *FuncTask) Name() string      { return t.Label }
func (t *FuncTask) RequiresLLM() bool { return t.LLM }

func (t *FuncTask) Execute(ctx context.Context, enqueuer Enqueuer) error {
	return t.Fn(ctx, enqueuer)
}
