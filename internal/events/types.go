package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask       = "task"
	TopicWorker     = "worker"
	TopicDependency = "dependency"
	TopicConflict   = "conflict"
	TopicQueue      = "queue"
)

// Event type constants
const (
	EventTypeTaskCreated   = "task.created"
	EventTypeTaskValidated = "task.validated"
	EventTypeTaskReady     = "task.ready"
	EventTypeTaskAssigned  = "task.assigned"
	EventTypeTaskBlocked   = "task.blocked"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskFailed    = "task.failed"
	EventTypeTaskCleared   = "task.cleared"

	EventTypeDependencyAdded   = "dependency.added"
	EventTypeDependencyRemoved = "dependency.removed"

	EventTypeConflictDetected = "conflict.detected"
	EventTypeConflictResolved = "conflict.resolved"

	EventTypePriorityUpdated  = "priority.updated"
	EventTypeSoftDepSatisfied = "softdep.satisfied"

	EventTypeWorkerStatusChanged = "worker.status_changed"
	EventTypeWorkerWanted        = "worker.wanted"
	EventTypeQueueDepth          = "queue.depth"
)

// TaskCreatedEvent is published when a task enters the system.
type TaskCreatedEvent struct {
	ID        string
	Title     string
	Priority  string
	Timestamp time.Time
}

func (e TaskCreatedEvent) EventType() string { return EventTypeTaskCreated }
func (e TaskCreatedEvent) TaskID() string    { return e.ID }

// TaskValidatedEvent is published when a task's dependency graph checks out.
type TaskValidatedEvent struct {
	ID        string
	Timestamp time.Time
}

func (e TaskValidatedEvent) EventType() string { return EventTypeTaskValidated }
func (e TaskValidatedEvent) TaskID() string    { return e.ID }

// TaskReadyEvent is published when a task becomes eligible for assignment.
type TaskReadyEvent struct {
	ID        string
	Timestamp time.Time
}

func (e TaskReadyEvent) EventType() string { return EventTypeTaskReady }
func (e TaskReadyEvent) TaskID() string    { return e.ID }

// TaskAssignedEvent is published when a task is paired with a worker.
type TaskAssignedEvent struct {
	ID        string
	WorkerID  string
	Score     float64
	Timestamp time.Time
}

func (e TaskAssignedEvent) EventType() string { return EventTypeTaskAssigned }
func (e TaskAssignedEvent) TaskID() string    { return e.ID }

// TaskBlockedEvent is published when a task is held back by dependencies
// or conflicts. Reasons carries the human-readable diagnostics.
type TaskBlockedEvent struct {
	ID            string
	BlockedBy     []string
	ConflictsWith []string
	Reasons       []string
	Timestamp     time.Time
}

func (e TaskBlockedEvent) EventType() string { return EventTypeTaskBlocked }
func (e TaskBlockedEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task completes successfully.
type TaskCompletedEvent struct {
	ID        string
	WorkerID  string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a task fails. Error carries the
// failure text rather than the error value so the event serializes.
type TaskFailedEvent struct {
	ID        string
	WorkerID  string
	Error     string
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// TaskClearedEvent is published when a task is removed from the table
// by housekeeping. Consumers holding per-task state should drop it.
type TaskClearedEvent struct {
	ID        string
	Timestamp time.Time
}

func (e TaskClearedEvent) EventType() string { return EventTypeTaskCleared }
func (e TaskClearedEvent) TaskID() string    { return e.ID }

// DependencyAddedEvent is published when an edge is registered.
type DependencyAddedEvent struct {
	ID        string // Dependent task
	DependsOn string // Dependency task
	Kind      string // "hard" or "soft"
	Timestamp time.Time
}

func (e DependencyAddedEvent) EventType() string { return EventTypeDependencyAdded }
func (e DependencyAddedEvent) TaskID() string    { return e.ID }

// DependencyRemovedEvent is published when an edge is removed.
type DependencyRemovedEvent struct {
	ID        string
	DependsOn string
	Kind      string
	Timestamp time.Time
}

func (e DependencyRemovedEvent) EventType() string { return EventTypeDependencyRemoved }
func (e DependencyRemovedEvent) TaskID() string    { return e.ID }

// ConflictDetectedEvent is published when file scopes overlap with an
// active or assigned task.
type ConflictDetectedEvent struct {
	ID            string
	ConflictsWith []string
	Files         []string
	Timestamp     time.Time
}

func (e ConflictDetectedEvent) EventType() string { return EventTypeConflictDetected }
func (e ConflictDetectedEvent) TaskID() string    { return e.ID }

// ConflictResolvedEvent is published when a conflict is explicitly resolved.
type ConflictResolvedEvent struct {
	ID         string
	Resolution string // "allow", "merge" or "reject"
	Timestamp  time.Time
}

func (e ConflictResolvedEvent) EventType() string { return EventTypeConflictResolved }
func (e ConflictResolvedEvent) TaskID() string    { return e.ID }

// PriorityUpdatedEvent is published when a queued task's effective
// priority is recomputed.
type PriorityUpdatedEvent struct {
	ID          string
	OldPriority int
	NewPriority int
	Timestamp   time.Time
}

func (e PriorityUpdatedEvent) EventType() string { return EventTypePriorityUpdated }
func (e PriorityUpdatedEvent) TaskID() string    { return e.ID }

// SoftDepSatisfiedEvent is published when the last of a task's soft
// preferences completes.
type SoftDepSatisfiedEvent struct {
	ID        string // Preferring task
	Completed string // Preference that just completed
	Timestamp time.Time
}

func (e SoftDepSatisfiedEvent) EventType() string { return EventTypeSoftDepSatisfied }
func (e SoftDepSatisfiedEvent) TaskID() string    { return e.ID }

// WorkerStatusChangedEvent is published by the pool on every worker
// availability change. The coordinator listens and triggers sweeps.
type WorkerStatusChangedEvent struct {
	WorkerID  string
	OldStatus string
	NewStatus string
	Task      string // Task the worker was or is handling, may be empty
	Timestamp time.Time
}

func (e WorkerStatusChangedEvent) EventType() string { return EventTypeWorkerStatusChanged }
func (e WorkerStatusChangedEvent) TaskID() string    { return e.Task }

// WorkerWantedEvent is published when no registered worker scores above
// the custom-worker threshold for a task. Capabilities and TaskType form
// a template for the kind of worker worth registering.
type WorkerWantedEvent struct {
	ID           string // Task that found no strong match
	Capabilities []string
	TaskType     string
	BestScore    float64
	Timestamp    time.Time
}

func (e WorkerWantedEvent) EventType() string { return EventTypeWorkerWanted }
func (e WorkerWantedEvent) TaskID() string    { return e.ID }

// QueueDepthEvent is a periodic sample of scheduler queue depth.
type QueueDepthEvent struct {
	Ready     int
	Validated int
	Timestamp time.Time
}

func (e QueueDepthEvent) EventType() string { return EventTypeQueueDepth }
func (e QueueDepthEvent) TaskID() string    { return "" }
