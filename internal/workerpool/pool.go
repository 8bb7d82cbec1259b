// Package workerpool executes assigned tasks on registered workers with
// bounded concurrency. The pool owns the worker registry: the scheduler
// reads availability snapshots through the scheduler.WorkerPool interface
// and hands tasks over with ExecuteTask, but never touches worker state
// directly. Execution runs through per-worker circuit breakers, retry
// with exponential backoff, and per-file locks on declared write sets.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/taskhive/taskhive/internal/config"
	"github.com/taskhive/taskhive/internal/events"
	"github.com/taskhive/taskhive/internal/scheduler"
)

var (
	// ErrPoolClosed is returned by ExecuteTask after Close.
	ErrPoolClosed = errors.New("worker pool is closed")

	// ErrPoolSaturated is returned when the concurrency limit leaves no
	// room for another execution. The scheduler rolls the assignment back
	// and retries on the next sweep.
	ErrPoolSaturated = errors.New("worker pool saturated")

	// ErrWorkerBusy is returned when the named worker is not idle.
	ErrWorkerBusy = errors.New("worker is not idle")
)

// TaskExecutor performs the actual work of a single task on a single
// worker. The pool passes snapshots; implementations own their side
// effects and should honor ctx cancellation on long operations.
type TaskExecutor interface {
	Execute(ctx context.Context, worker *scheduler.Worker, task *scheduler.Task) (string, error)
}

// ExecutorFunc adapts a plain function to the TaskExecutor interface.
type ExecutorFunc func(ctx context.Context, worker *scheduler.Worker, task *scheduler.Task) (string, error)

// Execute implements TaskExecutor.
func (f ExecutorFunc) Execute(ctx context.Context, worker *scheduler.Worker, task *scheduler.Task) (string, error) {
	return f(ctx, worker, task)
}

// ResultHandler receives the outcome of each finished execution. The
// pool calls it from the execution goroutine after worker state has been
// updated, so handlers may safely call back into the scheduler.
type ResultHandler func(taskID, workerID, result string, err error)

// Options configure a Pool. Zero values are usable: a nil Executor makes
// ExecuteTask fail, a nil Bus disables events, a nil Logger is replaced
// with a no-op.
type Options struct {
	Config   config.PoolConfig
	Executor TaskExecutor
	Results  ResultHandler
	Bus      *events.EventBus
	Logger   *zap.Logger
}

// Pool is the concrete worker pool. It satisfies scheduler.WorkerPool.
type Pool struct {
	mu      sync.Mutex
	workers map[string]*scheduler.Worker
	closed  bool

	group *errgroup.Group
	gctx  context.Context
	limit int

	locks    *PathLockManager
	breakers *BreakerRegistry
	retry    RetryPolicy

	executor TaskExecutor
	results  ResultHandler
	bus      *events.EventBus
	log      *zap.Logger
}

// New creates a Pool bound to ctx. Cancelling ctx stops retries inside
// in-flight executions; Close waits for them to drain.
func New(ctx context.Context, opts Options) *Pool {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	limit := opts.Config.MaxConcurrent
	if limit <= 0 {
		limit = 4
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(limit)

	return &Pool{
		workers:  make(map[string]*scheduler.Worker),
		group:    group,
		gctx:     gctx,
		limit:    limit,
		locks:    NewPathLockManager(),
		breakers: NewBreakerRegistry(opts.Config.Breaker, log),
		retry:    retryPolicyFromConfig(opts.Config.Retry),
		executor: opts.Executor,
		results:  opts.Results,
		bus:      opts.Bus,
		log:      log,
	}
}

// RegisterWorker adds a worker to the pool. Missing fields are filled
// in: ID is generated, status defaults to idle, CreatedAt to now. The
// worker is copied; the caller's struct stays detached from pool state.
func (p *Pool) RegisterWorker(w *scheduler.Worker) (*scheduler.Worker, error) {
	if w == nil {
		return nil, errors.New("worker must not be nil")
	}

	cp := snapshotWorker(w)
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Status == "" {
		cp.Status = scheduler.WorkerIdle
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if _, exists := p.workers[cp.ID]; exists {
		p.mu.Unlock()
		return nil, fmt.Errorf("worker %q already registered", cp.ID)
	}
	p.workers[cp.ID] = cp
	p.mu.Unlock()

	p.log.Info("worker registered",
		zap.String("worker", cp.ID),
		zap.String("name", cp.Name),
		zap.String("type", cp.Type()))
	p.publishStatus(cp.ID, "", cp.Status, "")

	return snapshotWorker(cp), nil
}

// CreateWorker builds and registers a worker from a capability template.
// Used when no registered worker matches a task well enough and a
// purpose-built worker is wanted instead.
func (p *Pool) CreateWorker(name string, tpl *scheduler.CapabilityTemplate) (*scheduler.Worker, error) {
	return p.RegisterWorker(&scheduler.Worker{
		Name:     name,
		Template: tpl,
		Status:   scheduler.WorkerIdle,
	})
}

// Seed registers one worker per configured seed entry.
func (p *Pool) Seed(seeds []config.WorkerSeed) error {
	for _, s := range seeds {
		w := &scheduler.Worker{
			ID:   s.ID,
			Name: s.Name,
			Template: &scheduler.CapabilityTemplate{
				Capabilities:       append([]string(nil), s.Capabilities...),
				Specialization:     s.Specialization,
				Type:               s.Type,
				MaxConcurrentTasks: s.MaxConcurrentTasks,
			},
		}
		if _, err := p.RegisterWorker(w); err != nil {
			return fmt.Errorf("seed worker %q: %w", s.Name, err)
		}
	}
	return nil
}

// RemoveWorker deregisters a worker. A worker that is mid-execution
// cannot be removed; mark it offline instead and remove it once done.
func (p *Pool) RemoveWorker(id string) error {
	p.mu.Lock()
	w, ok := p.workers[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", scheduler.ErrWorkerNotFound, id)
	}
	if w.Status == scheduler.WorkerWorking {
		p.mu.Unlock()
		return fmt.Errorf("worker %q is executing task %q", id, w.CurrentTask)
	}
	delete(p.workers, id)
	p.mu.Unlock()

	p.log.Info("worker removed", zap.String("worker", id))
	return nil
}

// Worker returns a snapshot of the named worker.
func (p *Pool) Worker(id string) (*scheduler.Worker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[id]
	if !ok {
		return nil, false
	}
	return snapshotWorker(w), true
}

// Workers returns snapshots of every registered worker.
func (p *Pool) Workers() []*scheduler.Worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*scheduler.Worker, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, snapshotWorker(w))
	}
	return out
}

// IdleWorkers implements scheduler.WorkerPool. Only idle workers are
// candidates for assignment; working, error, offline, and online-but-
// not-ready workers are excluded.
func (p *Pool) IdleWorkers() []*scheduler.Worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*scheduler.Worker, 0, len(p.workers))
	for _, w := range p.workers {
		if w.Status == scheduler.WorkerIdle {
			out = append(out, snapshotWorker(w))
		}
	}
	return out
}

// AvailableWorkers implements scheduler.WorkerPool. Available means
// registered and reachable, whether or not currently busy.
func (p *Pool) AvailableWorkers() []*scheduler.Worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*scheduler.Worker, 0, len(p.workers))
	for _, w := range p.workers {
		if w.Status != scheduler.WorkerOffline {
			out = append(out, snapshotWorker(w))
		}
	}
	return out
}

// SetWorkerStatus transitions a worker between availability states by
// hand, typically error -> idle after an operator cleared the fault, or
// idle <-> offline around maintenance. Workers mid-execution cannot be
// moved; the execution goroutine owns that transition.
func (p *Pool) SetWorkerStatus(id string, status scheduler.WorkerStatus) error {
	p.mu.Lock()
	w, ok := p.workers[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", scheduler.ErrWorkerNotFound, id)
	}
	if w.Status == scheduler.WorkerWorking {
		p.mu.Unlock()
		return fmt.Errorf("worker %q is executing task %q", id, w.CurrentTask)
	}
	old := w.Status
	w.Status = status
	p.mu.Unlock()

	if old != status {
		p.publishStatus(id, old, status, "")
	}
	return nil
}

// ExecuteTask implements scheduler.WorkerPool. It claims the worker,
// launches the execution goroutine, and returns. The outcome is reported
// through the ResultHandler, never through the return value: a non-nil
// error here means the hand-off itself failed and the task was not
// started.
func (p *Pool) ExecuteTask(workerID string, task *scheduler.Task) error {
	if task == nil {
		return errors.New("task must not be nil")
	}
	if p.executor == nil {
		return errors.New("pool has no executor")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	w, ok := p.workers[workerID]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", scheduler.ErrWorkerNotFound, workerID)
	}
	if w.Status != scheduler.WorkerIdle {
		p.mu.Unlock()
		return fmt.Errorf("%w: worker %q is %s", ErrWorkerBusy, workerID, w.Status)
	}

	w.Status = scheduler.WorkerWorking
	w.CurrentTask = task.ID
	snapshot := snapshotWorker(w)
	p.mu.Unlock()

	launched := p.group.TryGo(func() error {
		p.run(snapshot, task)
		return nil
	})
	if !launched {
		// Concurrency limit reached before the goroutine could start.
		// Revert the claim silently; no state change escaped to the bus.
		p.mu.Lock()
		if cur, ok := p.workers[workerID]; ok && cur.CurrentTask == task.ID {
			cur.Status = scheduler.WorkerIdle
			cur.CurrentTask = ""
		}
		p.mu.Unlock()
		return fmt.Errorf("%w: limit %d", ErrPoolSaturated, p.limit)
	}
	return nil
}

// run is the execution goroutine body. The worker argument is the
// snapshot taken at claim time; registry state is re-read under lock
// when the execution finishes.
func (p *Pool) run(worker *scheduler.Worker, task *scheduler.Task) {
	p.publishStatus(worker.ID, scheduler.WorkerIdle, scheduler.WorkerWorking, task.ID)
	p.log.Info("task execution started",
		zap.String("task", task.ID),
		zap.String("worker", worker.ID))

	start := time.Now()

	// Serialize on the declared write set. Sorted acquisition inside
	// LockAll keeps overlapping executions deadlock-free.
	p.locks.LockAll(task.WritesFiles)
	defer p.locks.UnlockAll(task.WritesFiles)

	var result string
	breaker := p.breakers.Get(worker.ID)
	err := runWithResilience(p.gctx, breaker, p.retry, func() error {
		var execErr error
		result, execErr = p.executor.Execute(p.gctx, worker, task)
		return execErr
	})

	// A tripped breaker parks the worker in the error state so the
	// scheduler stops picking it; everything else returns it to idle.
	finalStatus := scheduler.WorkerIdle
	if err != nil && (errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)) {
		finalStatus = scheduler.WorkerError
	}

	p.mu.Lock()
	if cur, ok := p.workers[worker.ID]; ok {
		cur.CurrentTask = ""
		cur.Status = finalStatus
		if err != nil {
			cur.TasksFailed++
		} else {
			cur.TasksCompleted++
		}
	}
	p.mu.Unlock()

	if err != nil {
		p.log.Warn("task execution failed",
			zap.String("task", task.ID),
			zap.String("worker", worker.ID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
	} else {
		p.log.Info("task execution finished",
			zap.String("task", task.ID),
			zap.String("worker", worker.ID),
			zap.Duration("elapsed", time.Since(start)))
	}

	p.publishStatus(worker.ID, scheduler.WorkerWorking, finalStatus, task.ID)

	if p.results != nil {
		p.results(task.ID, worker.ID, result, err)
	}
}

// Close stops accepting work and waits for in-flight executions to
// finish. Safe to call more than once.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	return p.group.Wait()
}

func (p *Pool) publishStatus(workerID string, from, to scheduler.WorkerStatus, taskID string) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(events.TopicWorker, events.WorkerStatusChangedEvent{
		WorkerID:  workerID,
		OldStatus: string(from),
		NewStatus: string(to),
		Task:      taskID,
		Timestamp: time.Now(),
	})
}

// snapshotWorker deep-copies a worker for hand-out across the pool
// boundary.
func snapshotWorker(w *scheduler.Worker) *scheduler.Worker {
	if w == nil {
		return nil
	}

	cp := *w
	if w.Template != nil {
		tpl := *w.Template
		tpl.Capabilities = append([]string(nil), w.Template.Capabilities...)
		cp.Template = &tpl
	}
	return &cp
}
