package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for lookups.
var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrWorkerNotFound = errors.New("worker not found")
)

// DependencyCode identifies why a dependency reference is invalid.
type DependencyCode string

const (
	MissingDependency  DependencyCode = "MISSING_DEPENDENCY"
	CircularDependency DependencyCode = "CIRCULAR_DEPENDENCY"
)

// ValidationError reports malformed task input at creation time.
// This is the only error AddTask surfaces synchronously; everything
// discovered later degrades the task to blocked instead.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid task: field %q %s", e.Field, e.Reason)
}

// DependencyError reports a missing or circular hard dependency.
// It is captured by the coordinator and routes the task to blocked,
// it is never returned to the caller of AddTask.
type DependencyError struct {
	Code         DependencyCode
	TaskID       string
	DependencyID string
	Cycle        []string // Participants, populated for CIRCULAR_DEPENDENCY
}

func (e *DependencyError) Error() string {
	switch e.Code {
	case MissingDependency:
		return fmt.Sprintf("%s: task %q depends on non-existent task %q", e.Code, e.TaskID, e.DependencyID)
	case CircularDependency:
		return fmt.Sprintf("%s: task %q participates in cycle [%s]", e.Code, e.TaskID, strings.Join(e.Cycle, " -> "))
	}
	return fmt.Sprintf("%s: task %q dependency %q", e.Code, e.TaskID, e.DependencyID)
}

// ConflictError reports overlapping file scope with active or assigned tasks.
// Like DependencyError it is captured, not thrown: the task goes to blocked.
type ConflictError struct {
	TaskID        string
	ConflictsWith []string
	Files         []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("task %q conflicts with [%s] over files [%s]",
		e.TaskID, strings.Join(e.ConflictsWith, ", "), strings.Join(e.Files, ", "))
}

// TransitionError reports an illegal state machine transition.
// The state machine returns these as a slice; callers decide whether a
// non-empty result is fatal.
type TransitionError struct {
	TaskID string
	From   Status
	To     Status
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %q: illegal transition %s -> %s: %s", e.TaskID, e.From, e.To, e.Reason)
}

// AssignmentError wraps a failed execution hand-off to the worker pool.
// The coordinator rolls the task back to ready and re-enqueues it.
type AssignmentError struct {
	TaskID   string
	WorkerID string
	Err      error
}

func (e *AssignmentError) Error() string {
	return fmt.Sprintf("assignment of task %q to worker %q failed: %v", e.TaskID, e.WorkerID, e.Err)
}

func (e *AssignmentError) Unwrap() error {
	return e.Err
}
