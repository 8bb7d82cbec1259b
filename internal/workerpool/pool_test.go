package workerpool

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/taskhive/taskhive/internal/config"
	"github.com/taskhive/taskhive/internal/events"
	"github.com/taskhive/taskhive/internal/scheduler"
)

// execResult is one ResultHandler invocation captured for assertions.
type execResult struct {
	taskID   string
	workerID string
	output   string
	err      error
}

func newTestPool(t *testing.T, cfg config.PoolConfig, exec TaskExecutor) (*Pool, chan execResult) {
	t.Helper()

	results := make(chan execResult, 16)
	p := New(context.Background(), Options{
		Config:   cfg,
		Executor: exec,
		Results: func(taskID, workerID, output string, err error) {
			results <- execResult{taskID: taskID, workerID: workerID, output: output, err: err}
		},
	})
	t.Cleanup(func() { _ = p.Close() })
	return p, results
}

// fastRetry keeps failure tests quick: give up after ~50ms instead of the
// production two minutes.
func fastRetry() config.RetryConfig {
	return config.RetryConfig{
		InitialIntervalMS: 1,
		MaxIntervalMS:     5,
		MaxElapsedTimeMS:  50,
		Multiplier:        1.5,
	}
}

func waitResult(t *testing.T, results chan execResult) execResult {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for an execution result")
		return execResult{}
	}
}

func TestPool_RegisterWorker(t *testing.T) {
	p, _ := newTestPool(t, config.PoolConfig{}, nil)

	// Missing fields are filled in.
	w, err := p.RegisterWorker(&scheduler.Worker{Name: "bare"})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if w.ID == "" {
		t.Error("expected a generated ID")
	}
	if w.Status != scheduler.WorkerIdle {
		t.Errorf("expected idle status, got %s", w.Status)
	}
	if w.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be stamped")
	}

	// The returned snapshot is detached from pool state.
	full, err := p.RegisterWorker(&scheduler.Worker{
		ID:   "w-full",
		Name: "full",
		Template: &scheduler.CapabilityTemplate{
			Capabilities:   []string{"go", "sql"},
			Specialization: "storage layer",
			Type:           "backend",
		},
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	full.Name = "mutated"
	full.Template.Capabilities[0] = "mutated"

	kept, ok := p.Worker("w-full")
	if !ok {
		t.Fatal("registered worker not found")
	}
	if kept.Name != "full" || kept.Template.Capabilities[0] != "go" {
		t.Error("snapshot mutation leaked into pool state")
	}

	// Duplicates and nil are rejected.
	if _, err := p.RegisterWorker(&scheduler.Worker{ID: "w-full", Name: "again"}); err == nil {
		t.Error("expected error for duplicate ID")
	}
	if _, err := p.RegisterWorker(nil); err == nil {
		t.Error("expected error for nil worker")
	}
}

func TestPool_CreateWorker(t *testing.T) {
	p, _ := newTestPool(t, config.PoolConfig{}, nil)

	w, err := p.CreateWorker("reviewer", &scheduler.CapabilityTemplate{
		Capabilities:   []string{"code review"},
		Specialization: "pull request review",
		Type:           "backend",
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if w.Name != "reviewer" || w.Status != scheduler.WorkerIdle {
		t.Errorf("worker = %q/%s, want reviewer/idle", w.Name, w.Status)
	}
	if w.Template == nil || w.Template.Specialization != "pull request review" {
		t.Errorf("template not carried over: %+v", w.Template)
	}
}

func TestPool_Seed(t *testing.T) {
	p, _ := newTestPool(t, config.PoolConfig{}, nil)

	seeds := []config.WorkerSeed{
		{ID: "seed-1", Name: "frontend-1", Type: "frontend", Capabilities: []string{"react", "css"}},
		{ID: "seed-2", Name: "backend-1", Type: "backend", Specialization: "api design", MaxConcurrentTasks: 2},
	}
	if err := p.Seed(seeds); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	w, ok := p.Worker("seed-2")
	if !ok {
		t.Fatal("seeded worker not found")
	}
	if w.Template == nil || w.Template.Type != "backend" || w.Template.MaxConcurrentTasks != 2 {
		t.Errorf("seed template not mapped: %+v", w.Template)
	}
	if got := len(p.Workers()); got != 2 {
		t.Errorf("expected 2 workers, got %d", got)
	}

	// A seed that collides with an existing worker reports which one.
	err := p.Seed([]config.WorkerSeed{{ID: "seed-1", Name: "frontend-dup"}})
	if err == nil {
		t.Fatal("expected error for duplicate seed")
	}
	if !strings.Contains(err.Error(), "frontend-dup") {
		t.Errorf("error %q does not name the offending seed", err)
	}
}

func TestPool_RemoveWorker(t *testing.T) {
	p, _ := newTestPool(t, config.PoolConfig{}, nil)

	if _, err := p.RegisterWorker(&scheduler.Worker{ID: "w1", Name: "w1"}); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if err := p.RemoveWorker("w1"); err != nil {
		t.Errorf("expected no error, got: %v", err)
	}
	if _, ok := p.Worker("w1"); ok {
		t.Error("worker still present after removal")
	}
	if err := p.RemoveWorker("w1"); !errors.Is(err, scheduler.ErrWorkerNotFound) {
		t.Errorf("expected ErrWorkerNotFound, got: %v", err)
	}
}

func TestPool_WorkerFiltering(t *testing.T) {
	p, _ := newTestPool(t, config.PoolConfig{}, nil)

	for _, id := range []string{"idle-1", "err-1", "off-1"} {
		if _, err := p.RegisterWorker(&scheduler.Worker{ID: id, Name: id}); err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
	}
	if err := p.SetWorkerStatus("err-1", scheduler.WorkerError); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if err := p.SetWorkerStatus("off-1", scheduler.WorkerOffline); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if got := len(p.Workers()); got != 3 {
		t.Errorf("Workers() = %d, want 3", got)
	}
	idle := p.IdleWorkers()
	if len(idle) != 1 || idle[0].ID != "idle-1" {
		t.Errorf("IdleWorkers() = %v, want [idle-1]", idle)
	}
	// Available excludes only offline workers.
	avail := p.AvailableWorkers()
	if len(avail) != 2 {
		t.Errorf("AvailableWorkers() = %d workers, want 2", len(avail))
	}
	for _, w := range avail {
		if w.ID == "off-1" {
			t.Error("offline worker listed as available")
		}
	}

	if err := p.SetWorkerStatus("missing", scheduler.WorkerIdle); !errors.Is(err, scheduler.ErrWorkerNotFound) {
		t.Errorf("expected ErrWorkerNotFound, got: %v", err)
	}
}

func TestPool_ExecuteTask(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, w *scheduler.Worker, task *scheduler.Task) (string, error) {
		return "done: " + task.Title, nil
	})
	p, results := newTestPool(t, config.PoolConfig{}, exec)

	if _, err := p.RegisterWorker(&scheduler.Worker{ID: "w1", Name: "w1"}); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	err := p.ExecuteTask("w1", &scheduler.Task{ID: "task-1", Title: "Build API"})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	r := waitResult(t, results)
	if r.taskID != "task-1" || r.workerID != "w1" {
		t.Errorf("result routed to (%s, %s), want (task-1, w1)", r.taskID, r.workerID)
	}
	if r.err != nil {
		t.Errorf("expected success, got: %v", r.err)
	}
	if r.output != "done: Build API" {
		t.Errorf("output = %q, want the executor's result", r.output)
	}

	// Worker state was settled before the handler ran.
	w, _ := p.Worker("w1")
	if w.Status != scheduler.WorkerIdle || w.CurrentTask != "" {
		t.Errorf("worker = %s/%q, want idle with no current task", w.Status, w.CurrentTask)
	}
	if w.TasksCompleted != 1 {
		t.Errorf("TasksCompleted = %d, want 1", w.TasksCompleted)
	}
}

func TestPool_ExecuteTaskGuards(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, w *scheduler.Worker, task *scheduler.Task) (string, error) {
		return "", nil
	})
	p, _ := newTestPool(t, config.PoolConfig{}, exec)

	if _, err := p.RegisterWorker(&scheduler.Worker{ID: "w1", Name: "w1"}); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if err := p.ExecuteTask("w1", nil); err == nil {
		t.Error("expected error for nil task")
	}
	if err := p.ExecuteTask("ghost", &scheduler.Task{ID: "t"}); !errors.Is(err, scheduler.ErrWorkerNotFound) {
		t.Errorf("expected ErrWorkerNotFound, got: %v", err)
	}

	noExec, _ := newTestPool(t, config.PoolConfig{}, nil)
	if _, err := noExec.RegisterWorker(&scheduler.Worker{ID: "w1", Name: "w1"}); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if err := noExec.ExecuteTask("w1", &scheduler.Task{ID: "t"}); err == nil {
		t.Error("expected error for pool without executor")
	}
}

func TestPool_BusyWorkerGuards(t *testing.T) {
	gate := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, w *scheduler.Worker, task *scheduler.Task) (string, error) {
		<-gate
		return "", nil
	})
	p, results := newTestPool(t, config.PoolConfig{}, exec)

	if _, err := p.RegisterWorker(&scheduler.Worker{ID: "w1", Name: "w1"}); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if err := p.ExecuteTask("w1", &scheduler.Task{ID: "task-1"}); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	// A working worker accepts no second task and cannot be edited.
	if err := p.ExecuteTask("w1", &scheduler.Task{ID: "task-2"}); !errors.Is(err, ErrWorkerBusy) {
		t.Errorf("expected ErrWorkerBusy, got: %v", err)
	}
	if err := p.RemoveWorker("w1"); err == nil {
		t.Error("expected error removing a working worker")
	}
	if err := p.SetWorkerStatus("w1", scheduler.WorkerOffline); err == nil {
		t.Error("expected error moving a working worker")
	}

	close(gate)
	waitResult(t, results)
}

func TestPool_Saturation(t *testing.T) {
	gate := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, w *scheduler.Worker, task *scheduler.Task) (string, error) {
		<-gate
		return "", nil
	})
	p, results := newTestPool(t, config.PoolConfig{MaxConcurrent: 1}, exec)

	for _, id := range []string{"w1", "w2"} {
		if _, err := p.RegisterWorker(&scheduler.Worker{ID: id, Name: id}); err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
	}

	if err := p.ExecuteTask("w1", &scheduler.Task{ID: "task-1"}); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	// The limit is full: the claim is reverted and the worker stays usable.
	err := p.ExecuteTask("w2", &scheduler.Task{ID: "task-2"})
	if !errors.Is(err, ErrPoolSaturated) {
		t.Fatalf("expected ErrPoolSaturated, got: %v", err)
	}
	w2, _ := p.Worker("w2")
	if w2.Status != scheduler.WorkerIdle || w2.CurrentTask != "" {
		t.Errorf("rejected worker = %s/%q, want idle and unclaimed", w2.Status, w2.CurrentTask)
	}

	close(gate)
	waitResult(t, results)

	// The freed slot accepts work again. The retry loop absorbs the gap
	// between the result callback and the goroutine actually exiting.
	deadline := time.After(2 * time.Second)
	for {
		err := p.ExecuteTask("w2", &scheduler.Task{ID: "task-2"})
		if err == nil {
			break
		}
		if !errors.Is(err, ErrPoolSaturated) {
			t.Fatalf("expected ErrPoolSaturated while draining, got: %v", err)
		}
		select {
		case <-deadline:
			t.Fatal("pool never freed its execution slot")
		case <-time.After(5 * time.Millisecond):
		}
	}
	waitResult(t, results)
}

func TestPool_RetriesUntilSuccess(t *testing.T) {
	var attempts atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, w *scheduler.Worker, task *scheduler.Task) (string, error) {
		if attempts.Add(1) < 3 {
			return "", errors.New("transient failure")
		}
		return "recovered", nil
	})
	cfg := config.PoolConfig{
		Retry: config.RetryConfig{InitialIntervalMS: 1, MaxIntervalMS: 5, MaxElapsedTimeMS: 5_000},
		// High threshold so retries never trip the breaker here.
		Breaker: config.BreakerConfig{ConsecutiveFailures: 100},
	}
	p, results := newTestPool(t, cfg, exec)

	if _, err := p.RegisterWorker(&scheduler.Worker{ID: "w1", Name: "w1"}); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if err := p.ExecuteTask("w1", &scheduler.Task{ID: "task-1"}); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	r := waitResult(t, results)
	if r.err != nil {
		t.Fatalf("expected eventual success, got: %v", r.err)
	}
	if r.output != "recovered" {
		t.Errorf("output = %q, want %q", r.output, "recovered")
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("executor attempts = %d, want 3", got)
	}
	w, _ := p.Worker("w1")
	if w.TasksCompleted != 1 || w.TasksFailed != 0 {
		t.Errorf("worker stats = %d completed/%d failed, want 1/0", w.TasksCompleted, w.TasksFailed)
	}
}

func TestPool_PermanentFailure(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, w *scheduler.Worker, task *scheduler.Task) (string, error) {
		return "", errors.New("boom")
	})
	cfg := config.PoolConfig{
		Retry:   fastRetry(),
		Breaker: config.BreakerConfig{ConsecutiveFailures: 100},
	}
	p, results := newTestPool(t, cfg, exec)

	if _, err := p.RegisterWorker(&scheduler.Worker{ID: "w1", Name: "w1"}); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if err := p.ExecuteTask("w1", &scheduler.Task{ID: "task-1"}); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	r := waitResult(t, results)
	if r.err == nil || !strings.Contains(r.err.Error(), "boom") {
		t.Fatalf("expected the executor error, got: %v", r.err)
	}

	// Exhausted retries fail the task but return the worker to rotation.
	w, _ := p.Worker("w1")
	if w.Status != scheduler.WorkerIdle {
		t.Errorf("worker status = %s, want idle", w.Status)
	}
	if w.TasksFailed != 1 || w.TasksCompleted != 0 {
		t.Errorf("worker stats = %d completed/%d failed, want 0/1", w.TasksCompleted, w.TasksFailed)
	}
}

func TestPool_BreakerParksWorker(t *testing.T) {
	var attempts atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, w *scheduler.Worker, task *scheduler.Task) (string, error) {
		attempts.Add(1)
		return "", errors.New("persistent failure")
	})
	cfg := config.PoolConfig{
		Retry: config.RetryConfig{InitialIntervalMS: 1, MaxIntervalMS: 5, MaxElapsedTimeMS: 5_000},
		// Trip after two consecutive failures; stay open long enough for
		// the assertions below.
		Breaker: config.BreakerConfig{ConsecutiveFailures: 2, TimeoutMS: 60_000, MaxRequests: 1},
	}
	p, results := newTestPool(t, cfg, exec)

	if _, err := p.RegisterWorker(&scheduler.Worker{ID: "w1", Name: "w1"}); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if err := p.ExecuteTask("w1", &scheduler.Task{ID: "task-1"}); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	r := waitResult(t, results)
	if !errors.Is(r.err, gobreaker.ErrOpenState) {
		t.Fatalf("expected ErrOpenState, got: %v", r.err)
	}
	// The third attempt was blocked by the open breaker without reaching
	// the executor.
	if got := attempts.Load(); got != 2 {
		t.Errorf("executor attempts = %d, want 2", got)
	}

	// A tripped breaker takes the worker out of the assignment rotation.
	w, _ := p.Worker("w1")
	if w.Status != scheduler.WorkerError {
		t.Errorf("worker status = %s, want error", w.Status)
	}
	if len(p.IdleWorkers()) != 0 {
		t.Error("parked worker still listed as idle")
	}
	if len(p.AvailableWorkers()) != 1 {
		t.Error("parked worker should remain available for inspection")
	}

	// An operator can put it back.
	if err := p.SetWorkerStatus("w1", scheduler.WorkerIdle); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if len(p.IdleWorkers()) != 1 {
		t.Error("cleared worker not back in rotation")
	}
}

func TestPool_SameFileTasksSerialize(t *testing.T) {
	var current, maxConcurrent atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, w *scheduler.Worker, task *scheduler.Task) (string, error) {
		cur := current.Add(1)
		for {
			max := maxConcurrent.Load()
			if cur <= max || maxConcurrent.CompareAndSwap(max, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		current.Add(-1)
		return "", nil
	})
	p, results := newTestPool(t, config.PoolConfig{MaxConcurrent: 4}, exec)

	for _, id := range []string{"w1", "w2"} {
		if _, err := p.RegisterWorker(&scheduler.Worker{ID: id, Name: id}); err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
	}

	// Different workers, same write scope: the path locks serialize them.
	if err := p.ExecuteTask("w1", &scheduler.Task{ID: "task-1", WritesFiles: []string{"main.go", "utils.go"}}); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if err := p.ExecuteTask("w2", &scheduler.Task{ID: "task-2", WritesFiles: []string{"main.go"}}); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	waitResult(t, results)
	waitResult(t, results)

	if got := maxConcurrent.Load(); got > 1 {
		t.Errorf("expected max concurrent 1 (file lock), got %d", got)
	}
}

func TestPool_CloseWaitsForInflight(t *testing.T) {
	gate := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, w *scheduler.Worker, task *scheduler.Task) (string, error) {
		<-gate
		return "", nil
	})

	results := make(chan execResult, 16)
	p := New(context.Background(), Options{
		Config:   config.PoolConfig{},
		Executor: exec,
		Results: func(taskID, workerID, output string, err error) {
			results <- execResult{taskID: taskID, workerID: workerID, output: output, err: err}
		},
	})

	if _, err := p.RegisterWorker(&scheduler.Worker{ID: "w1", Name: "w1"}); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if err := p.ExecuteTask("w1", &scheduler.Task{ID: "task-1"}); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	closed := make(chan struct{})
	go func() {
		_ = p.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while an execution was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after the execution finished")
	}

	// The closed pool rejects new work and registrations.
	if err := p.ExecuteTask("w1", &scheduler.Task{ID: "task-2"}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed, got: %v", err)
	}
	if _, err := p.RegisterWorker(&scheduler.Worker{ID: "w2", Name: "w2"}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed, got: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close returned: %v", err)
	}
}

func TestPool_PublishesWorkerEvents(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()
	ch, dispose := bus.Subscribe(events.TopicWorker, 16)
	defer dispose()

	exec := ExecutorFunc(func(ctx context.Context, w *scheduler.Worker, task *scheduler.Task) (string, error) {
		return "", nil
	})
	results := make(chan execResult, 16)
	p := New(context.Background(), Options{
		Executor: exec,
		Bus:      bus,
		Results: func(taskID, workerID, output string, err error) {
			results <- execResult{taskID: taskID, workerID: workerID, output: output, err: err}
		},
	})
	t.Cleanup(func() { _ = p.Close() })

	if _, err := p.RegisterWorker(&scheduler.Worker{ID: "w1", Name: "w1"}); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if err := p.ExecuteTask("w1", &scheduler.Task{ID: "task-1"}); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	waitResult(t, results)

	// Registration, claim, and release each announce the transition.
	want := []struct{ from, to, task string }{
		{"", "idle", ""},
		{"idle", "working", "task-1"},
		{"working", "idle", "task-1"},
	}
	for i, expect := range want {
		select {
		case ev := <-ch:
			status, ok := ev.(events.WorkerStatusChangedEvent)
			if !ok {
				t.Fatalf("event %d = %T, want WorkerStatusChangedEvent", i, ev)
			}
			if status.WorkerID != "w1" {
				t.Errorf("event %d worker = %q, want w1", i, status.WorkerID)
			}
			if status.OldStatus != expect.from || status.NewStatus != expect.to {
				t.Errorf("event %d = %s->%s, want %s->%s", i, status.OldStatus, status.NewStatus, expect.from, expect.to)
			}
			if status.Task != expect.task {
				t.Errorf("event %d task = %q, want %q", i, status.Task, expect.task)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("missing worker event %d", i)
		}
	}
}

func TestPool_ContextCancellationStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, w *scheduler.Worker, task *scheduler.Task) (string, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return "", ctx.Err()
	})
	results := make(chan execResult, 16)
	p := New(ctx, Options{
		Executor: exec,
		Results: func(taskID, workerID, output string, err error) {
			results <- execResult{taskID: taskID, workerID: workerID, output: output, err: err}
		},
	})

	if _, err := p.RegisterWorker(&scheduler.Worker{ID: "w1", Name: "w1"}); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if err := p.ExecuteTask("w1", &scheduler.Task{ID: "task-1"}); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("executor never started")
	}
	cancel()

	r := waitResult(t, results)
	if r.err == nil {
		t.Fatal("expected an error from the cancelled execution")
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close returned: %v", err)
	}

	// Shutdown is not a worker fault: the cancelled run does not park the
	// worker in the error state.
	w, _ := p.Worker("w1")
	if w.Status != scheduler.WorkerIdle {
		t.Errorf("worker status = %s, want idle after shutdown", w.Status)
	}
}
