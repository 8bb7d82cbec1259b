package scheduler

import (
	"time"
)

// Status represents the lifecycle state of a task.
type Status int

const (
	StatusQueued     Status = iota // Accepted, not yet validated
	StatusValidated                // Dependency graph verified, readiness pending
	StatusReady                    // Every hard dependency completed, eligible for assignment
	StatusAssigned                 // Paired with a worker, execution not yet confirmed
	StatusInProgress               // Worker is executing
	StatusBlocked                  // Held back by dependencies or conflicts
	StatusCompleted                // Finished successfully (terminal)
	StatusFailed                   // Finished with error (terminal)
)

// String returns the lowercase wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusValidated:
		return "validated"
	case StatusReady:
		return "ready"
	case StatusAssigned:
		return "assigned"
	case StatusInProgress:
		return "in-progress"
	case StatusBlocked:
		return "blocked"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Active reports whether a task in this status occupies its file scope.
// Active and assigned tasks are what conflict checks run against.
func (s Status) Active() bool {
	return s == StatusAssigned || s == StatusInProgress
}

// PriorityClass is the caller-facing priority band of a task.
type PriorityClass string

const (
	PriorityHigh   PriorityClass = "high"
	PriorityMedium PriorityClass = "medium"
	PriorityLow    PriorityClass = "low"
)

// BasePriority maps the class to its numeric weight.
// Unrecognized classes land between low and medium rather than erroring.
func (p PriorityClass) BasePriority() int {
	switch p {
	case PriorityHigh:
		return 100
	case PriorityMedium:
		return 50
	case PriorityLow:
		return 10
	default:
		return 25
	}
}

// EdgeKind distinguishes hard dependencies from soft preferences.
type EdgeKind string

const (
	EdgeHard EdgeKind = "hard" // Dependency must complete before the dependent becomes ready
	EdgeSoft EdgeKind = "soft" // Completion only adjusts priority, never blocks readiness
)

// Resolution is the outcome chosen for a detected file-scope conflict.
type Resolution string

const (
	ResolutionAllow  Resolution = "allow"  // Conflict waived, task may return to ready
	ResolutionMerge  Resolution = "merge"  // Scopes reconciled externally, task may return to ready
	ResolutionReject Resolution = "reject" // Task stays blocked until the other side finishes
)

// Task represents a unit of work moving through the scheduling pipeline.
type Task struct {
	ID            string        // Unique identifier (generated when absent)
	Title         string        // Human-readable summary (required)
	Description   string        // Free-form detail used for capability inference (required)
	PriorityClass PriorityClass // high, medium or low
	Status        Status

	DependsOn            []string // Hard dependencies: task IDs that must complete first
	Prefers              []string // Soft preferences: task IDs that influence ordering only
	ConflictsWith        []string // Conflicting task IDs, maintained by the resolver
	BlockedBy            []string // Cause of a blocked status (task IDs)
	Tags                 []string // Free-form labels, feed type inference and specialization match
	RequiredCapabilities []string // Capabilities a worker must cover
	WritesFiles          []string // File paths this task will write (conflict scope)

	AssignedWorker string  // Worker ID once assigned
	LastScore      float64 // Worker-match score recorded at assignment

	CreatedAt   time.Time
	AssignedAt  time.Time
	CompletedAt time.Time

	Err error // Failure cause, populated when the task fails
}

// cloneTask returns a deep copy so callers can hold snapshots without
// racing coordinator-side mutation.
func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}

	cp := *task
	cp.DependsOn = cloneStrings(task.DependsOn)
	cp.Prefers = cloneStrings(task.Prefers)
	cp.ConflictsWith = cloneStrings(task.ConflictsWith)
	cp.BlockedBy = cloneStrings(task.BlockedBy)
	cp.Tags = cloneStrings(task.Tags)
	cp.RequiredCapabilities = cloneStrings(task.RequiredCapabilities)
	cp.WritesFiles = cloneStrings(task.WritesFiles)
	return &cp
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
