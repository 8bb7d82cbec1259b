package scheduler

// WorkerPool is the execution collaborator the coordinator assigns through.
type WorkerPool interface {
	// IdleWorkers returns workers currently free to take a task.
	IdleWorkers() []*Worker

	// AvailableWorkers returns every worker that is not offline.
	AvailableWorkers() []*Worker

	// ExecuteTask hands a task snapshot to the named worker. The hand-off
	// is asynchronous: a nil error means execution was launched, not that
	// it finished. Completion arrives later through CompleteTask/FailTask
	// on the coordinator. Implementations must not call back into the
	// coordinator from inside ExecuteTask.
	ExecuteTask(workerID string, task *Task) error
}

// Metrics receives scheduler counters and gauges. Implementations must be
// safe for concurrent use.
type Metrics interface {
	TaskCreated()
	TaskCompleted()
	TaskFailed()
	AssignmentMade()
	AssignmentFailed()
	QueueDepth(ready, validated int)
	StatusCount(status Status, count int)
}

// NilMetrics discards all measurements.
type NilMetrics struct{}

func (NilMetrics) TaskCreated()            {}
func (NilMetrics) TaskCompleted()          {}
func (NilMetrics) TaskFailed()             {}
func (NilMetrics) AssignmentMade()         {}
func (NilMetrics) AssignmentFailed()       {}
func (NilMetrics) QueueDepth(int, int)     {}
func (NilMetrics) StatusCount(Status, int) {}

// Notifier delivers human-readable status messages to whoever is watching.
// Calls are fire-and-forget; implementations must not block.
type Notifier interface {
	Notify(message string)
}

// NilNotifier discards all messages.
type NilNotifier struct{}

func (NilNotifier) Notify(string) {}
