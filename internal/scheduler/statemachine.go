package scheduler

import (
	"time"
)

// legalTransitions maps each status to the set of statuses it may move to.
// blocked is a side state entered from anywhere pre-execution and left only
// towards ready. assigned -> ready is the rollback edge for failed hand-offs.
var legalTransitions = map[Status][]Status{
	StatusQueued:     {StatusValidated, StatusBlocked},
	StatusValidated:  {StatusReady, StatusBlocked},
	StatusReady:      {StatusAssigned, StatusBlocked},
	StatusAssigned:   {StatusInProgress, StatusReady, StatusBlocked},
	StatusInProgress: {StatusCompleted, StatusFailed},
	StatusBlocked:    {StatusReady},
	StatusCompleted:  {},
	StatusFailed:     {},
}

// StateMachine validates and executes task lifecycle transitions.
// It is the single source of truth for "is this transition allowed";
// no other component mutates Task.Status.
type StateMachine struct{}

// NewStateMachine creates a state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{}
}

// Transition moves task to target if the move is legal and its guards hold.
// It returns the list of violations instead of an error value: an empty
// result means the transition was applied, a non-empty one means the task
// was left untouched in its previous state.
func (m *StateMachine) Transition(task *Task, target Status) []error {
	if task == nil {
		return []error{&TransitionError{From: target, To: target, Reason: "nil task"}}
	}

	// Same-state transitions are idempotent no-ops.
	if task.Status == target {
		return nil
	}

	var errs []error

	if !m.allowed(task.Status, target) {
		errs = append(errs, &TransitionError{
			TaskID: task.ID,
			From:   task.Status,
			To:     target,
			Reason: "edge not in lifecycle graph",
		})
	}

	errs = append(errs, m.checkGuards(task, target)...)
	if len(errs) > 0 {
		return errs
	}

	task.Status = target
	if target.Terminal() {
		task.CompletedAt = time.Now()
	}
	return nil
}

// CanTransition reports whether the edge exists, ignoring guards.
func (m *StateMachine) CanTransition(from, to Status) bool {
	return from == to || m.allowed(from, to)
}

func (m *StateMachine) allowed(from, to Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// checkGuards enforces the per-edge preconditions.
func (m *StateMachine) checkGuards(task *Task, target Status) []error {
	var errs []error

	switch target {
	case StatusAssigned:
		// Caller must have picked a worker before requesting the move.
		if task.AssignedWorker == "" {
			errs = append(errs, &TransitionError{
				TaskID: task.ID,
				From:   task.Status,
				To:     target,
				Reason: "no assigned worker set",
			})
		}
	case StatusBlocked:
		// A blocked task must carry its cause.
		if len(task.BlockedBy) == 0 && len(task.ConflictsWith) == 0 {
			errs = append(errs, &TransitionError{
				TaskID: task.ID,
				From:   task.Status,
				To:     target,
				Reason: "blocked requires a cause in BlockedBy or ConflictsWith",
			})
		}
	case StatusReady:
		// Leaving blocked requires the cause to have been cleared first.
		if task.Status == StatusBlocked && (len(task.BlockedBy) > 0 || len(task.ConflictsWith) > 0) {
			errs = append(errs, &TransitionError{
				TaskID: task.ID,
				From:   task.Status,
				To:     target,
				Reason: "blocking cause not cleared",
			})
		}
	}

	return errs
}
