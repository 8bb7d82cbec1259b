package persistence

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskhive/taskhive/internal/events"
	"github.com/taskhive/taskhive/internal/scheduler"
)

// TaskSource yields current task snapshots. Satisfied by the scheduler
// coordinator.
type TaskSource interface {
	Task(id string) (*scheduler.Task, bool)
}

// WorkerSource yields current worker snapshots. Satisfied by the worker
// pool.
type WorkerSource interface {
	Worker(id string) (*scheduler.Worker, bool)
}

// Recorder subscribes to the event bus and mirrors scheduler state into
// the store: every event lands in the journal, and the affected task or
// worker is re-saved as a snapshot. Persistence stays an observer; the
// scheduler never waits on a write.
type Recorder struct {
	store   Store
	tasks   TaskSource
	workers WorkerSource
	log     *zap.Logger

	dispose func()
	done    chan struct{}
	once    sync.Once
}

// NewRecorder creates a Recorder. Either source may be nil, in which
// case the corresponding snapshots are skipped and only the journal is
// written.
func NewRecorder(store Store, tasks TaskSource, workers WorkerSource, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{
		store:   store,
		tasks:   tasks,
		workers: workers,
		log:     log,
		done:    make(chan struct{}),
	}
}

// Start subscribes to every topic and begins persisting in the
// background. Stops when ctx is cancelled or the bus closes.
func (r *Recorder) Start(ctx context.Context, bus *events.EventBus) {
	ch, dispose := bus.SubscribeAll(256)
	r.dispose = dispose

	go func() {
		defer close(r.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				r.record(ev)
			}
		}
	}()
}

// Close unsubscribes and waits for the persistence goroutine to drain.
func (r *Recorder) Close() {
	r.once.Do(func() {
		if r.dispose != nil {
			r.dispose()
		}
		<-r.done
	})
}

func (r *Recorder) record(ev events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r.journal(ctx, ev)

	switch e := ev.(type) {
	case events.TaskClearedEvent:
		if err := r.store.DeleteTask(ctx, e.ID); err != nil {
			r.log.Warn("failed to delete cleared task", zap.String("task", e.ID), zap.Error(err))
		}
	case events.WorkerStatusChangedEvent:
		r.saveWorker(ctx, e.WorkerID)
	default:
		if id := ev.TaskID(); id != "" {
			r.saveTask(ctx, id)
		}
	}
}

func (r *Recorder) journal(ctx context.Context, ev events.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.log.Warn("failed to encode event", zap.String("type", ev.EventType()), zap.Error(err))
		return
	}

	topic := topicFor(ev.EventType())
	entry := JournalEntry{
		Topic:     topic,
		EventType: ev.EventType(),
		TaskID:    ev.TaskID(),
		Payload:   string(payload),
	}
	if err := r.store.AppendEvent(ctx, entry); err != nil {
		r.log.Warn("failed to journal event", zap.String("type", ev.EventType()), zap.Error(err))
	}
}

func (r *Recorder) saveTask(ctx context.Context, id string) {
	if r.tasks == nil {
		return
	}
	task, ok := r.tasks.Task(id)
	if !ok {
		// Already cleared; the journal entry is the only trace left.
		return
	}
	if err := r.store.SaveTask(ctx, task); err != nil {
		r.log.Warn("failed to save task snapshot", zap.String("task", id), zap.Error(err))
	}
}

func (r *Recorder) saveWorker(ctx context.Context, id string) {
	if r.workers == nil {
		return
	}
	worker, ok := r.workers.Worker(id)
	if !ok {
		return
	}
	if err := r.store.SaveWorker(ctx, worker); err != nil {
		r.log.Warn("failed to save worker snapshot", zap.String("worker", id), zap.Error(err))
	}
}

// topicFor maps an event type back to its bus topic by prefix.
func topicFor(eventType string) string {
	switch {
	case strings.HasPrefix(eventType, "worker."):
		return events.TopicWorker
	case strings.HasPrefix(eventType, "dependency."):
		return events.TopicDependency
	case strings.HasPrefix(eventType, "conflict."):
		return events.TopicConflict
	case strings.HasPrefix(eventType, "queue."):
		return events.TopicQueue
	default:
		return events.TopicTask
	}
}
