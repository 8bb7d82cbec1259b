package scheduler

import (
	"time"
)

// WorkerStatus represents the availability of a worker.
type WorkerStatus string

const (
	WorkerIdle    WorkerStatus = "idle"    // Registered and free to take work
	WorkerWorking WorkerStatus = "working" // Currently executing a task
	WorkerError   WorkerStatus = "error"   // Last execution left the worker unhealthy
	WorkerOffline WorkerStatus = "offline" // Unreachable, excluded from assignment
	WorkerOnline  WorkerStatus = "online"  // Connected but not yet accepting work
)

// CapabilityTemplate describes what a worker is good at.
// A nil template means "no declared capabilities": scoring treats such a
// worker as a blank generalist instead of nil-checking individual fields.
type CapabilityTemplate struct {
	Capabilities       []string // Capability tokens, matched against task requirements
	Specialization     string   // Free text, token-matched against task description/tags
	Type               string   // Worker type tag (frontend, backend, fullstack, devops, ...)
	MaxConcurrentTasks int      // Upper bound enforced by the pool, not by scoring
}

// Worker is an executor registered with the pool.
type Worker struct {
	ID             string
	Name           string
	Template       *CapabilityTemplate
	Status         WorkerStatus
	CurrentTask    string // Task ID while working, empty otherwise
	TasksCompleted int
	TasksFailed    int
	CreatedAt      time.Time
}

// Capabilities returns the declared capability set, empty for a blank template.
func (w *Worker) Capabilities() []string {
	if w.Template == nil {
		return nil
	}
	return w.Template.Capabilities
}

// Specialization returns the declared specialization text, empty for a blank template.
func (w *Worker) Specialization() string {
	if w.Template == nil {
		return ""
	}
	return w.Template.Specialization
}

// Type returns the declared worker type, empty for a blank template.
func (w *Worker) Type() string {
	if w.Template == nil {
		return ""
	}
	return w.Template.Type
}

// cloneWorker returns a deep copy for snapshot-style reads.
func cloneWorker(w *Worker) *Worker {
	if w == nil {
		return nil
	}

	cp := *w
	if w.Template != nil {
		tpl := *w.Template
		tpl.Capabilities = cloneStrings(w.Template.Capabilities)
		cp.Template = &tpl
	}
	return &cp
}
