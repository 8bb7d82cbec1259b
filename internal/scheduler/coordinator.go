package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskhive/taskhive/internal/config"
	"github.com/taskhive/taskhive/internal/events"
)

// maxAssignIterations bounds one assignment sweep. The cap keeps worst-case
// latency of a single trigger bounded when many tasks and workers become
// eligible at once; the next trigger picks up where the sweep stopped.
const maxAssignIterations = 10

// CoordinatorOptions bundles the collaborators a Coordinator needs.
// Metrics, Notifier and Logger may be nil; no-op implementations are
// substituted. A nil Bus gets a private bus, useful in tests.
type CoordinatorOptions struct {
	Config   config.SchedulerConfig
	Pool     WorkerPool
	Bus      *events.EventBus
	Metrics  Metrics
	Notifier Notifier
	Logger   *zap.Logger
}

// Coordinator orchestrates the scheduling pipeline: task creation,
// dependency validation, conflict detection, queue placement, worker
// assignment and the completion/failure cascades.
//
// All mutation happens under one mutex, so every pipeline step observes a
// consistent task table. Execution hand-offs are asynchronous; state is
// re-validated at assignment time rather than trusted from enqueue time.
type Coordinator struct {
	mu       sync.Mutex
	cfg      config.SchedulerConfig
	tasks    map[string]*Task
	machine  *StateMachine
	resolver *DependencyResolver
	queue    *Queue
	scorer   *Scorer
	pool     WorkerPool
	bus      *events.EventBus
	metrics  Metrics
	notifier Notifier
	log      *zap.Logger

	disposers []func()
	stopped   chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewCoordinator creates a coordinator wired to the given collaborators.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	if opts.Bus == nil {
		opts.Bus = events.NewEventBus()
	}
	if opts.Metrics == nil {
		opts.Metrics = NilMetrics{}
	}
	if opts.Notifier == nil {
		opts.Notifier = NilNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	opts.Config.Weights = opts.Config.Weights.Sanitized()

	c := &Coordinator{
		cfg:      opts.Config,
		tasks:    make(map[string]*Task),
		machine:  NewStateMachine(),
		resolver: NewDependencyResolver(),
		scorer:   NewScorer(opts.Config.Weights, opts.Config.MinScore),
		pool:     opts.Pool,
		bus:      opts.Bus,
		metrics:  opts.Metrics,
		notifier: opts.Notifier,
		log:      opts.Logger,
		stopped:  make(chan struct{}),
	}

	// The queue calls back for effective priority, so the soft-dependency
	// adjustment lives in exactly one place. Queue operations only happen
	// while c.mu is held, which makes reading the task table here safe.
	c.queue = NewQueue(func(t *Task) int { return c.effectivePriorityLocked(t) })

	return c
}

// Start subscribes to worker-status and task-created events so sweeps and
// blocked-task rechecks run on external triggers. Start is optional: a
// coordinator works fully synchronously without it.
func (c *Coordinator) Start(ctx context.Context) {
	// Buffered so triggers arriving mid-sweep are queued, not dropped.
	workerCh, disposeWorker := c.bus.Subscribe(events.TopicWorker, 32)
	taskCh, disposeTask := c.bus.Subscribe(events.TopicTask, 32)

	c.mu.Lock()
	c.disposers = append(c.disposers, disposeWorker, disposeTask)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.listen(ctx, workerCh, taskCh)
}

// Close releases event subscriptions and waits for the listener to exit.
// The bus itself stays open; its owner closes it.
func (c *Coordinator) Close() {
	c.stopOnce.Do(func() { close(c.stopped) })

	c.mu.Lock()
	disposers := c.disposers
	c.disposers = nil
	c.mu.Unlock()

	for _, dispose := range disposers {
		dispose()
	}
	c.wg.Wait()
}

func (c *Coordinator) listen(ctx context.Context, workerCh, taskCh <-chan events.Event) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopped:
			return
		case ev, ok := <-workerCh:
			if !ok {
				return
			}
			if change, isChange := ev.(events.WorkerStatusChangedEvent); isChange {
				// A worker coming free is the main reason to sweep again.
				if change.NewStatus == string(WorkerIdle) || change.NewStatus == string(WorkerOnline) {
					c.TryAssignTasks()
				}
			}
		case ev, ok := <-taskCh:
			if !ok {
				return
			}
			if _, isCreated := ev.(events.TaskCreatedEvent); isCreated {
				// A new task can supply a previously missing dependency.
				c.RecheckBlocked()
			}
		}
	}
}

// AddTask runs the creation pipeline and returns a snapshot of the stored
// task. Malformed input fails synchronously with a ValidationError; every
// problem discovered later degrades the task to blocked instead.
func (c *Coordinator) AddTask(task *Task) (*Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addTaskLocked(task)
}

func (c *Coordinator) addTaskLocked(task *Task) (*Task, error) {
	if task == nil {
		return nil, &ValidationError{Field: "task", Reason: "is nil"}
	}
	if strings.TrimSpace(task.Title) == "" {
		return nil, &ValidationError{Field: "title", Reason: "is required"}
	}
	if strings.TrimSpace(task.Description) == "" {
		return nil, &ValidationError{Field: "description", Reason: "is required"}
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if _, exists := c.tasks[task.ID]; exists {
		return nil, &ValidationError{Field: "id", Reason: fmt.Sprintf("duplicates existing task %q", task.ID)}
	}

	task.PriorityClass = PriorityClass(strings.ToLower(string(task.PriorityClass)))
	task.Status = StatusQueued
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	c.tasks[task.ID] = task
	c.resolver.Register(task)
	c.metrics.TaskCreated()
	c.publish(events.TopicTask, events.TaskCreatedEvent{
		ID:        task.ID,
		Title:     task.Title,
		Priority:  string(task.PriorityClass),
		Timestamp: time.Now(),
	})

	// Dependency problems are captured, never returned: the task degrades
	// to blocked and skips conflict evaluation for this cycle.
	if verrs := c.resolver.ValidateDependencies(task, c.tasks); len(verrs) > 0 {
		c.blockLocked(task, blockingIDs(verrs), nil, errStrings(verrs))
		c.refreshGaugesLocked()
		return cloneTask(task), nil
	}

	if !c.transitionLocked(task, StatusValidated) {
		return cloneTask(task), nil
	}
	c.publish(events.TopicTask, events.TaskValidatedEvent{ID: task.ID, Timestamp: time.Now()})

	if conflicts := c.resolver.CheckConflicts(task, c.activeLocked()); len(conflicts) > 0 {
		c.conflictBlockLocked(task, conflicts)
		c.refreshGaugesLocked()
		return cloneTask(task), nil
	}

	if c.resolver.DepsSatisfied(task.ID, c.tasks) {
		if c.transitionLocked(task, StatusReady) {
			c.publish(events.TopicTask, events.TaskReadyEvent{ID: task.ID, Timestamp: time.Now()})
		}
	}

	// Ready and validated tasks are both queued; the ready heap always
	// wins at dequeue time.
	if err := c.queue.Enqueue(task); err != nil {
		c.log.Warn("enqueue failed", zap.String("task", task.ID), zap.Error(err))
	}

	c.refreshGaugesLocked()
	if c.cfg.AutoAssign {
		c.sweepLocked()
	}
	return cloneTask(task), nil
}

// RestoreTask reinstates a task from a persisted snapshot. Terminal
// tasks keep their recorded status so dependency checks still see prior
// completions; everything else re-enters the intake pipeline and is
// re-validated from scratch, because whatever execution state the task
// had died with the previous process.
func (c *Coordinator) RestoreTask(task *Task) (*Task, error) {
	if task == nil {
		return nil, &ValidationError{Field: "task", Reason: "is nil"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !task.Status.Terminal() {
		reset := cloneTask(task)
		reset.Status = StatusQueued
		reset.AssignedWorker = ""
		reset.LastScore = 0
		reset.BlockedBy = nil
		reset.ConflictsWith = nil
		reset.AssignedAt = time.Time{}
		return c.addTaskLocked(reset)
	}

	if _, exists := c.tasks[task.ID]; exists {
		return nil, &ValidationError{Field: "id", Reason: fmt.Sprintf("duplicates existing task %q", task.ID)}
	}

	cp := cloneTask(task)
	c.tasks[cp.ID] = cp
	c.resolver.Register(cp)
	c.refreshGaugesLocked()
	return cloneTask(cp), nil
}

// Task returns a snapshot of one task.
func (c *Coordinator) Task(id string) (*Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	task, ok := c.tasks[id]
	if !ok {
		return nil, false
	}
	return cloneTask(task), true
}

// Tasks returns snapshots of all tasks, oldest first.
func (c *Coordinator) Tasks() []*Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Task, 0, len(c.tasks))
	for _, task := range c.tasks {
		out = append(out, cloneTask(task))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// TasksByStatus returns snapshots of tasks in the given status.
func (c *Coordinator) TasksByStatus(status Status) []*Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*Task
	for _, task := range c.tasks {
		if task.Status == status {
			out = append(out, cloneTask(task))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EffectivePriority returns the task's current effective priority: class
// base plus the soft-dependency adjustment.
func (c *Coordinator) EffectivePriority(id string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	task, ok := c.tasks[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return c.effectivePriorityLocked(task), nil
}

// ExecutionOrder returns a topological ordering of all tasks over hard
// dependencies, for plan previews.
func (c *Coordinator) ExecutionOrder() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolver.Order(c.tasks)
}

// QueueStats exposes the priority scheduler's observability summary.
func (c *Coordinator) QueueStats() QueueStats {
	return c.queue.Stats()
}

// AssignNextTask pops the highest-priority ready task and tries to assign
// it. Returns true when an assignment was made.
func (c *Coordinator) AssignNextTask() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	assigned, _ := c.assignNextLocked()
	c.refreshGaugesLocked()
	return assigned
}

// TryAssignTasks sweeps ready tasks onto idle workers, capped at
// maxAssignIterations per call. Returns the number of assignments made.
func (c *Coordinator) TryAssignTasks() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.sweepLocked()
	c.refreshGaugesLocked()
	return n
}

func (c *Coordinator) sweepLocked() int {
	assigned := 0
	for i := 0; i < maxAssignIterations; i++ {
		if c.queue.ReadyLen() == 0 {
			break
		}
		if c.pool == nil {
			break
		}
		if len(c.pool.IdleWorkers()) == 0 {
			c.notifier.Notify(fmt.Sprintf("all workers busy; %d ready task(s) waiting", c.queue.ReadyLen()))
			break
		}

		ok, more := c.assignNextLocked()
		if ok {
			assigned++
		}
		if !more {
			break
		}
	}
	return assigned
}

// assignNextLocked implements one assignment attempt. The bool pair is
// (assigned, more): more reports whether another attempt could make
// progress in the same sweep.
func (c *Coordinator) assignNextLocked() (bool, bool) {
	if c.pool == nil {
		return false, false
	}

	task := c.queue.DequeueReady()
	if task == nil {
		return false, false
	}

	// Conflict state may have drifted since enqueue; re-validation here is
	// mandatory, enqueue-time state is never trusted.
	if conflicts := c.resolver.CheckConflicts(task, c.activeLocked()); len(conflicts) > 0 {
		c.conflictBlockLocked(task, conflicts)
		return false, true
	}

	workers := c.pool.IdleWorkers()
	if len(workers) == 0 {
		c.requeueLocked(task)
		return false, false
	}

	best, score := c.scorer.FindBestWorker(workers, task)
	if threshold := c.cfg.CustomWorkerThreshold; threshold > 0 && score < threshold {
		c.notifier.Notify(fmt.Sprintf(
			"weak worker match for task %q (best score %.2f); consider registering a specialized worker",
			task.Title, score))
		c.publish(events.TopicWorker, events.WorkerWantedEvent{
			ID:           task.ID,
			Capabilities: append([]string(nil), task.RequiredCapabilities...),
			TaskType:     InferTaskType(task),
			BestScore:    score,
			Timestamp:    time.Now(),
		})
	}
	if best == nil {
		// Either no idle worker survived the filter or the best score sits
		// below the configured minimum. Retrying in this sweep would not
		// change the outcome.
		c.requeueLocked(task)
		return false, false
	}

	task.AssignedWorker = best.ID
	task.LastScore = score
	if !c.transitionLocked(task, StatusAssigned) {
		task.AssignedWorker = ""
		c.requeueLocked(task)
		return false, false
	}
	task.AssignedAt = time.Now()
	c.publish(events.TopicTask, events.TaskAssignedEvent{
		ID:        task.ID,
		WorkerID:  best.ID,
		Score:     score,
		Timestamp: time.Now(),
	})

	if err := c.pool.ExecuteTask(best.ID, cloneTask(task)); err != nil {
		// Hand-off failed: roll back to ready and surface the error.
		aerr := &AssignmentError{TaskID: task.ID, WorkerID: best.ID, Err: err}
		c.log.Error("execution hand-off failed", zap.String("task", task.ID), zap.String("worker", best.ID), zap.Error(err))
		c.metrics.AssignmentFailed()
		c.notifier.Notify(aerr.Error())

		task.AssignedWorker = ""
		task.AssignedAt = time.Time{}
		if c.transitionLocked(task, StatusReady) {
			c.requeueLocked(task)
		}
		return false, true
	}

	c.metrics.AssignmentMade()
	c.transitionLocked(task, StatusInProgress)
	return true, true
}

// CompleteTask marks an in-progress task completed and runs the cascade:
// blocked and validated tasks are re-examined, soft dependents get their
// priorities recomputed, and a new assignment sweep is triggered.
func (c *Coordinator) CompleteTask(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	task, ok := c.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	if errs := c.machine.Transition(task, StatusCompleted); len(errs) > 0 {
		return errors.Join(errs...)
	}

	c.metrics.TaskCompleted()
	c.publish(events.TopicTask, events.TaskCompletedEvent{
		ID:        task.ID,
		WorkerID:  task.AssignedWorker,
		Duration:  task.CompletedAt.Sub(task.AssignedAt),
		Timestamp: time.Now(),
	})

	c.cascadeLocked(task.ID)
	c.refreshGaugesLocked()
	if c.cfg.AutoAssign {
		c.sweepLocked()
	}
	return nil
}

// FailTask marks an in-progress task failed. Failed tasks are terminal;
// re-entry requires a new AddTask or an external re-queue decision.
func (c *Coordinator) FailTask(id string, cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	task, ok := c.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	if errs := c.machine.Transition(task, StatusFailed); len(errs) > 0 {
		return errors.Join(errs...)
	}

	task.Err = cause
	c.metrics.TaskFailed()
	errText := ""
	if cause != nil {
		errText = cause.Error()
	}
	c.publish(events.TopicTask, events.TaskFailedEvent{
		ID:        task.ID,
		WorkerID:  task.AssignedWorker,
		Error:     errText,
		Timestamp: time.Now(),
	})

	// Dependents of a failed task stay unsatisfied, but the freed worker
	// can take other work.
	c.refreshGaugesLocked()
	if c.cfg.AutoAssign {
		c.sweepLocked()
	}
	return nil
}

// cascadeLocked re-examines the rest of the table after a completion.
func (c *Coordinator) cascadeLocked(completedID string) {
	// Blocked tasks: causes may have cleared.
	for _, task := range c.tasksInStatusLocked(StatusBlocked) {
		c.reevaluateBlockedLocked(task)
	}

	// Validated tasks: the last hard dependency may just have completed.
	for _, task := range c.tasksInStatusLocked(StatusValidated) {
		if !c.resolver.DepsSatisfied(task.ID, c.tasks) {
			continue
		}
		if conflicts := c.resolver.CheckConflicts(task, c.activeLocked()); len(conflicts) > 0 {
			c.queue.Remove(task.ID)
			c.conflictBlockLocked(task, conflicts)
			continue
		}
		if c.transitionLocked(task, StatusReady) {
			if !c.queue.Promote(task.ID) {
				c.requeueLocked(task)
			}
			c.publish(events.TopicTask, events.TaskReadyEvent{ID: task.ID, Timestamp: time.Now()})
		}
	}

	// Soft dependents: reposition them and report satisfied preference sets.
	for _, depID := range c.resolver.SoftDependents(completedID) {
		dependent, ok := c.tasks[depID]
		if !ok {
			continue
		}
		c.updateQueuedPriorityLocked(dependent)
		if _, allDone := c.resolver.PrefsCompleted(depID, c.tasks); allDone {
			c.publish(events.TopicTask, events.SoftDepSatisfiedEvent{
				ID:        depID,
				Completed: completedID,
				Timestamp: time.Now(),
			})
		}
	}
}

// RecheckBlocked re-evaluates every blocked task, promoting those whose
// causes have cleared. Returns the number of tasks promoted to ready.
func (c *Coordinator) RecheckBlocked() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	promoted := 0
	for _, task := range c.tasksInStatusLocked(StatusBlocked) {
		if c.reevaluateBlockedLocked(task) {
			promoted++
		}
	}

	c.refreshGaugesLocked()
	if promoted > 0 && c.cfg.AutoAssign {
		c.sweepLocked()
	}
	return promoted
}

// reevaluateBlockedLocked recomputes a blocked task's causes against the
// current table. Promotion to ready requires a valid dependency graph,
// every hard dependency completed and a clear conflict scope; anything
// less refreshes the recorded causes and keeps the task blocked.
func (c *Coordinator) reevaluateBlockedLocked(task *Task) bool {
	if verrs := c.resolver.ValidateDependencies(task, c.tasks); len(verrs) > 0 {
		task.BlockedBy = blockingIDs(verrs)
		return false
	}

	if conflicts := c.resolver.CheckConflicts(task, c.activeLocked()); len(conflicts) > 0 {
		task.ConflictsWith = conflicts
		task.BlockedBy = c.incompleteHardDepsLocked(task)
		return false
	}
	task.ConflictsWith = nil

	if incomplete := c.incompleteHardDepsLocked(task); len(incomplete) > 0 {
		task.BlockedBy = incomplete
		return false
	}

	task.BlockedBy = nil
	if !c.transitionLocked(task, StatusReady) {
		return false
	}
	if err := c.queue.Enqueue(task); err != nil {
		c.log.Warn("enqueue failed", zap.String("task", task.ID), zap.Error(err))
	}
	c.publish(events.TopicTask, events.TaskReadyEvent{ID: task.ID, Timestamp: time.Now()})
	return true
}

// AddDependency registers a new edge and re-runs the creation-time
// decision for the dependent task, so graph edits alone can move a task
// between blocked and ready.
func (c *Coordinator) AddDependency(taskID, depID string, kind EdgeKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	task, ok := c.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	c.resolver.AddEdge(taskID, depID, kind)
	c.syncEdgeFieldsLocked(task, kind)
	c.publish(events.TopicDependency, events.DependencyAddedEvent{
		ID:        taskID,
		DependsOn: depID,
		Kind:      string(kind),
		Timestamp: time.Now(),
	})

	c.reevaluateAfterEditLocked(task)
	c.refreshGaugesLocked()
	if c.cfg.AutoAssign {
		c.sweepLocked()
	}
	return nil
}

// RemoveDependency removes an edge and re-runs the same decision.
func (c *Coordinator) RemoveDependency(taskID, depID string, kind EdgeKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	task, ok := c.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if !c.resolver.RemoveEdge(taskID, depID, kind) {
		return fmt.Errorf("task %q has no %s dependency on %q", taskID, kind, depID)
	}

	c.syncEdgeFieldsLocked(task, kind)
	c.publish(events.TopicDependency, events.DependencyRemovedEvent{
		ID:        taskID,
		DependsOn: depID,
		Kind:      string(kind),
		Timestamp: time.Now(),
	})

	c.reevaluateAfterEditLocked(task)
	c.refreshGaugesLocked()
	if c.cfg.AutoAssign {
		c.sweepLocked()
	}
	return nil
}

func (c *Coordinator) syncEdgeFieldsLocked(task *Task, kind EdgeKind) {
	if kind == EdgeSoft {
		task.Prefers = c.resolver.SoftPrefs(task.ID)
		return
	}
	task.DependsOn = c.resolver.HardDeps(task.ID)
}

// reevaluateAfterEditLocked applies the validate -> conflict -> readiness
// decision to a task after its edge set changed. Tasks already handed to
// execution are left alone; the edit only affects future evaluations.
func (c *Coordinator) reevaluateAfterEditLocked(task *Task) {
	switch task.Status {
	case StatusBlocked:
		c.reevaluateBlockedLocked(task)
		return
	case StatusValidated, StatusReady:
	default:
		return
	}

	if verrs := c.resolver.ValidateDependencies(task, c.tasks); len(verrs) > 0 {
		c.queue.Remove(task.ID)
		c.blockLocked(task, blockingIDs(verrs), nil, errStrings(verrs))
		return
	}

	if conflicts := c.resolver.CheckConflicts(task, c.activeLocked()); len(conflicts) > 0 {
		c.queue.Remove(task.ID)
		c.conflictBlockLocked(task, conflicts)
		return
	}

	satisfied := c.resolver.DepsSatisfied(task.ID, c.tasks)
	switch task.Status {
	case StatusValidated:
		if satisfied {
			if c.transitionLocked(task, StatusReady) {
				if !c.queue.Promote(task.ID) {
					c.requeueLocked(task)
				}
				c.publish(events.TopicTask, events.TaskReadyEvent{ID: task.ID, Timestamp: time.Now()})
			}
			return
		}
		c.updateQueuedPriorityLocked(task)
	case StatusReady:
		if !satisfied {
			// A fresh unfinished dependency takes a ready task back out of
			// the running until it clears.
			c.queue.Remove(task.ID)
			c.blockLocked(task, c.incompleteHardDepsLocked(task), nil, nil)
			return
		}
		c.updateQueuedPriorityLocked(task)
	}
}

// ResolveConflict applies an explicit decision to a conflicted task.
// Allow and merge waive the recorded conflict pairs and permit a return to
// ready; reject keeps the task blocked.
func (c *Coordinator) ResolveConflict(id string, res Resolution) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	task, ok := c.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if len(task.ConflictsWith) == 0 {
		return fmt.Errorf("task %q has no recorded conflict", id)
	}

	switch res {
	case ResolutionAllow, ResolutionMerge:
		// Waivers persist in the resolver so the mandatory re-check at
		// assignment time does not immediately re-detect the same overlap.
		for _, otherID := range task.ConflictsWith {
			c.resolver.WaiveConflict(task.ID, otherID)
		}
		task.ConflictsWith = nil
		c.publish(events.TopicConflict, events.ConflictResolvedEvent{
			ID:         task.ID,
			Resolution: string(res),
			Timestamp:  time.Now(),
		})
		if task.Status == StatusBlocked {
			c.reevaluateBlockedLocked(task)
		}
	case ResolutionReject:
		c.publish(events.TopicConflict, events.ConflictResolvedEvent{
			ID:         task.ID,
			Resolution: string(res),
			Timestamp:  time.Now(),
		})
	default:
		return fmt.Errorf("unknown conflict resolution %q", res)
	}

	c.refreshGaugesLocked()
	if c.cfg.AutoAssign {
		c.sweepLocked()
	}
	return nil
}

// ClearCompleted removes completed tasks from the table. Remaining tasks
// have their recorded causes recomputed so nothing references a removed ID.
func (c *Coordinator) ClearCompleted() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, task := range c.tasks {
		if task.Status != StatusCompleted {
			continue
		}
		delete(c.tasks, id)
		c.resolver.Unregister(id)
		c.resolver.DropWaivers(id)
		c.queue.Remove(id)
		c.publish(events.TopicTask, events.TaskClearedEvent{ID: id, Timestamp: time.Now()})
		removed++
	}

	if removed > 0 {
		for _, task := range c.tasksInStatusLocked(StatusBlocked) {
			c.reevaluateBlockedLocked(task)
		}
	}

	c.refreshGaugesLocked()
	return removed
}

// ClearAllTasks empties the table, the queue and the dependency graph.
func (c *Coordinator) ClearAllTasks() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := len(c.tasks)
	for id := range c.tasks {
		c.resolver.Unregister(id)
		c.resolver.DropWaivers(id)
		c.publish(events.TopicTask, events.TaskClearedEvent{ID: id, Timestamp: time.Now()})
	}
	c.tasks = make(map[string]*Task)
	c.queue.Clear()

	c.refreshGaugesLocked()
	return removed
}

// blockLocked routes a task to blocked with the given causes and publishes
// the diagnostics.
func (c *Coordinator) blockLocked(task *Task, blockedBy, conflicts, reasons []string) {
	task.BlockedBy = blockedBy
	if conflicts != nil {
		task.ConflictsWith = conflicts
	}

	if !c.transitionLocked(task, StatusBlocked) {
		return
	}
	c.publish(events.TopicTask, events.TaskBlockedEvent{
		ID:            task.ID,
		BlockedBy:     cloneStrings(task.BlockedBy),
		ConflictsWith: cloneStrings(task.ConflictsWith),
		Reasons:       reasons,
		Timestamp:     time.Now(),
	})
}

// conflictBlockLocked records a detected conflict and blocks the task.
func (c *Coordinator) conflictBlockLocked(task *Task, conflicts []string) {
	var files []string
	for _, otherID := range conflicts {
		if other, ok := c.tasks[otherID]; ok {
			for _, f := range SharedFiles(task, other) {
				if !containsString(files, f) {
					files = append(files, f)
				}
			}
		}
	}

	cerr := &ConflictError{TaskID: task.ID, ConflictsWith: conflicts, Files: files}
	c.publish(events.TopicConflict, events.ConflictDetectedEvent{
		ID:            task.ID,
		ConflictsWith: cloneStrings(conflicts),
		Files:         files,
		Timestamp:     time.Now(),
	})
	c.blockLocked(task, nil, conflicts, []string{cerr.Error()})
}

// transitionLocked applies an expected-safe transition. A refusal here is
// a logic problem: it is logged, the transition abandoned and the previous
// state retained.
func (c *Coordinator) transitionLocked(task *Task, target Status) bool {
	errs := c.machine.Transition(task, target)
	if len(errs) == 0 {
		return true
	}
	c.log.Warn("transition refused",
		zap.String("task", task.ID),
		zap.String("from", task.Status.String()),
		zap.String("to", target.String()),
		zap.Errors("violations", errs))
	return false
}

func (c *Coordinator) requeueLocked(task *Task) {
	if err := c.queue.Enqueue(task); err != nil {
		c.log.Warn("re-enqueue failed", zap.String("task", task.ID), zap.Error(err))
	}
}

// updateQueuedPriorityLocked recomputes a queued task's effective priority
// and reports the change.
func (c *Coordinator) updateQueuedPriorityLocked(task *Task) {
	oldPrio, newPrio, ok := c.queue.UpdatePriority(task.ID)
	if !ok || oldPrio == newPrio {
		return
	}
	c.publish(events.TopicQueue, events.PriorityUpdatedEvent{
		ID:          task.ID,
		OldPriority: oldPrio,
		NewPriority: newPrio,
		Timestamp:   time.Now(),
	})
}

// effectivePriorityLocked derives the queue priority: class base plus the
// soft-dependency adjustment (+5 when every preference completed, -5 when
// preferences exist with any unfinished, 0 without preferences).
func (c *Coordinator) effectivePriorityLocked(task *Task) int {
	base := task.PriorityClass.BasePriority()
	declared, allDone := c.resolver.PrefsCompleted(task.ID, c.tasks)
	if !declared {
		return base
	}
	if allDone {
		return base + 5
	}
	return base - 5
}

func (c *Coordinator) activeLocked() []*Task {
	var active []*Task
	for _, task := range c.tasks {
		if task.Status.Active() {
			active = append(active, task)
		}
	}
	return active
}

func (c *Coordinator) tasksInStatusLocked(status Status) []*Task {
	var out []*Task
	for _, task := range c.tasks {
		if task.Status == status {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// incompleteHardDepsLocked lists hard dependencies that exist but have not
// completed, plus any that are missing outright.
func (c *Coordinator) incompleteHardDepsLocked(task *Task) []string {
	var incomplete []string
	for _, depID := range c.resolver.HardDeps(task.ID) {
		dep, ok := c.tasks[depID]
		if !ok || dep.Status != StatusCompleted {
			incomplete = append(incomplete, depID)
		}
	}
	return incomplete
}

func (c *Coordinator) refreshGaugesLocked() {
	c.metrics.QueueDepth(c.queue.ReadyLen(), c.queue.ValidatedLen())

	counts := make(map[Status]int)
	for _, task := range c.tasks {
		counts[task.Status]++
	}
	for s := StatusQueued; s <= StatusFailed; s++ {
		c.metrics.StatusCount(s, counts[s])
	}

	c.publish(events.TopicQueue, events.QueueDepthEvent{
		Ready:     c.queue.ReadyLen(),
		Validated: c.queue.ValidatedLen(),
		Timestamp: time.Now(),
	})
}

func (c *Coordinator) publish(topic string, ev events.Event) {
	c.bus.Publish(topic, ev)
}

// blockingIDs collects the task IDs responsible for dependency errors.
func blockingIDs(errs []error) []string {
	var ids []string
	for _, err := range errs {
		var derr *DependencyError
		if !errors.As(err, &derr) {
			continue
		}
		if derr.DependencyID != "" && !containsString(ids, derr.DependencyID) {
			ids = append(ids, derr.DependencyID)
		}
		for _, member := range derr.Cycle {
			if !containsString(ids, member) {
				ids = append(ids, member)
			}
		}
	}
	return ids
}

func errStrings(errs []error) []string {
	out := make([]string, 0, len(errs))
	for _, err := range errs {
		out = append(out, err.Error())
	}
	return out
}
