package scheduler

import (
	"strings"
	"testing"
)

// TestTransition tests lifecycle edges and their guards.
func TestTransition(t *testing.T) {
	tests := []struct {
		name        string
		task        *Task
		target      Status
		wantErr     bool
		errContains string
	}{
		{
			name:   "queued to validated",
			task:   &Task{ID: "A", Status: StatusQueued},
			target: StatusValidated,
		},
		{
			name:   "validated to ready",
			task:   &Task{ID: "A", Status: StatusValidated},
			target: StatusReady,
		},
		{
			name:   "ready to assigned with worker",
			task:   &Task{ID: "A", Status: StatusReady, AssignedWorker: "w1"},
			target: StatusAssigned,
		},
		{
			name:   "assigned to in-progress",
			task:   &Task{ID: "A", Status: StatusAssigned, AssignedWorker: "w1"},
			target: StatusInProgress,
		},
		{
			name:   "in-progress to completed",
			task:   &Task{ID: "A", Status: StatusInProgress},
			target: StatusCompleted,
		},
		{
			name:   "in-progress to failed",
			task:   &Task{ID: "A", Status: StatusInProgress},
			target: StatusFailed,
		},
		{
			name:   "assigned rolls back to ready",
			task:   &Task{ID: "A", Status: StatusAssigned, AssignedWorker: "w1"},
			target: StatusReady,
		},
		{
			name:   "queued to blocked with cause",
			task:   &Task{ID: "A", Status: StatusQueued, BlockedBy: []string{"B"}},
			target: StatusBlocked,
		},
		{
			name:   "validated to blocked with cause",
			task:   &Task{ID: "A", Status: StatusValidated, BlockedBy: []string{"B"}},
			target: StatusBlocked,
		},
		{
			name:   "ready to blocked on conflict",
			task:   &Task{ID: "A", Status: StatusReady, ConflictsWith: []string{"B"}},
			target: StatusBlocked,
		},
		{
			name:   "assigned to blocked with cause",
			task:   &Task{ID: "A", Status: StatusAssigned, AssignedWorker: "w1", ConflictsWith: []string{"B"}},
			target: StatusBlocked,
		},
		{
			name:   "blocked to ready after cause cleared",
			task:   &Task{ID: "A", Status: StatusBlocked},
			target: StatusReady,
		},
		{
			name:        "queued cannot skip to ready",
			task:        &Task{ID: "A", Status: StatusQueued},
			target:      StatusReady,
			wantErr:     true,
			errContains: "not in lifecycle graph",
		},
		{
			name:        "ready cannot jump to completed",
			task:        &Task{ID: "A", Status: StatusReady},
			target:      StatusCompleted,
			wantErr:     true,
			errContains: "not in lifecycle graph",
		},
		{
			name:        "blocked cannot go to assigned",
			task:        &Task{ID: "A", Status: StatusBlocked, AssignedWorker: "w1"},
			target:      StatusAssigned,
			wantErr:     true,
			errContains: "not in lifecycle graph",
		},
		{
			name:        "completed is terminal",
			task:        &Task{ID: "A", Status: StatusCompleted},
			target:      StatusReady,
			wantErr:     true,
			errContains: "not in lifecycle graph",
		},
		{
			name:        "failed is terminal",
			task:        &Task{ID: "A", Status: StatusFailed},
			target:      StatusQueued,
			wantErr:     true,
			errContains: "not in lifecycle graph",
		},
		{
			name:        "assigned requires a worker",
			task:        &Task{ID: "A", Status: StatusReady},
			target:      StatusAssigned,
			wantErr:     true,
			errContains: "no assigned worker",
		},
		{
			name:        "blocked requires a cause",
			task:        &Task{ID: "A", Status: StatusReady},
			target:      StatusBlocked,
			wantErr:     true,
			errContains: "requires a cause",
		},
		{
			name:        "blocked to ready requires cause cleared",
			task:        &Task{ID: "A", Status: StatusBlocked, BlockedBy: []string{"B"}},
			target:      StatusReady,
			wantErr:     true,
			errContains: "not cleared",
		},
	}

	m := NewStateMachine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.task.Status
			errs := m.Transition(tt.task, tt.target)

			if tt.wantErr {
				if len(errs) == 0 {
					t.Fatalf("Transition(%v -> %v) succeeded, want error", before, tt.target)
				}
				if tt.errContains != "" && !strings.Contains(errs[0].Error(), tt.errContains) {
					t.Errorf("error = %q, want substring %q", errs[0].Error(), tt.errContains)
				}
				// A refused transition must leave the task untouched.
				if tt.task.Status != before {
					t.Errorf("status changed to %v despite refusal", tt.task.Status)
				}
				return
			}

			if len(errs) > 0 {
				t.Fatalf("Transition(%v -> %v) failed: %v", before, tt.target, errs)
			}
			if tt.task.Status != tt.target {
				t.Errorf("status = %v, want %v", tt.task.Status, tt.target)
			}
		})
	}
}

// TestTransitionSameState verifies same-state transitions are no-ops.
func TestTransitionSameState(t *testing.T) {
	m := NewStateMachine()
	task := &Task{ID: "A", Status: StatusReady}

	if errs := m.Transition(task, StatusReady); len(errs) > 0 {
		t.Fatalf("same-state transition failed: %v", errs)
	}
	if task.Status != StatusReady {
		t.Errorf("status = %v, want %v", task.Status, StatusReady)
	}

	// Same-state into a terminal status must not restamp completion.
	done := &Task{ID: "B", Status: StatusCompleted}
	if errs := m.Transition(done, StatusCompleted); len(errs) > 0 {
		t.Fatalf("terminal same-state transition failed: %v", errs)
	}
	if !done.CompletedAt.IsZero() {
		t.Error("CompletedAt was stamped by a no-op transition")
	}
}

// TestTransitionNilTask verifies a nil task is refused rather than panicking.
func TestTransitionNilTask(t *testing.T) {
	m := NewStateMachine()
	errs := m.Transition(nil, StatusReady)
	if len(errs) != 1 {
		t.Fatalf("expected 1 error for nil task, got %d", len(errs))
	}
}

// TestTransitionStampsCompletedAt verifies terminal transitions record the time.
func TestTransitionStampsCompletedAt(t *testing.T) {
	m := NewStateMachine()

	for _, target := range []Status{StatusCompleted, StatusFailed} {
		task := &Task{ID: "A", Status: StatusInProgress}
		if errs := m.Transition(task, target); len(errs) > 0 {
			t.Fatalf("Transition to %v failed: %v", target, errs)
		}
		if task.CompletedAt.IsZero() {
			t.Errorf("CompletedAt not stamped on transition to %v", target)
		}
	}
}

// TestCanTransition verifies edge checks ignore guards.
func TestCanTransition(t *testing.T) {
	m := NewStateMachine()

	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusQueued, StatusValidated, true},
		{StatusValidated, StatusReady, true},
		{StatusReady, StatusAssigned, true}, // No worker needed for the edge check
		{StatusAssigned, StatusReady, true},
		{StatusBlocked, StatusReady, true},
		{StatusReady, StatusReady, true},
		{StatusQueued, StatusReady, false},
		{StatusCompleted, StatusReady, false},
		{StatusFailed, StatusQueued, false},
		{StatusBlocked, StatusAssigned, false},
	}

	for _, tt := range tests {
		if got := m.CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%v, %v) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

// TestStatusString verifies the wire names.
func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusQueued, "queued"},
		{StatusValidated, "validated"},
		{StatusReady, "ready"},
		{StatusAssigned, "assigned"},
		{StatusInProgress, "in-progress"},
		{StatusBlocked, "blocked"},
		{StatusCompleted, "completed"},
		{StatusFailed, "failed"},
		{Status(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

// TestBasePriority verifies class-to-weight mapping.
func TestBasePriority(t *testing.T) {
	tests := []struct {
		class PriorityClass
		want  int
	}{
		{PriorityHigh, 100},
		{PriorityMedium, 50},
		{PriorityLow, 10},
		{PriorityClass("urgent"), 25},
		{PriorityClass(""), 25},
	}

	for _, tt := range tests {
		if got := tt.class.BasePriority(); got != tt.want {
			t.Errorf("BasePriority(%q) = %d, want %d", tt.class, got, tt.want)
		}
	}
}
