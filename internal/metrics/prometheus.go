// Package metrics exposes scheduler counters and gauges as Prometheus
// collectors.
package metrics

import (
	"errors"
	"fmt"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/taskhive/taskhive/internal/scheduler"
)

// Exporter adapts scheduler.Metrics to Prometheus collectors.
type Exporter struct {
	tasksCreatedTotal       prom.Counter
	tasksCompletedTotal     prom.Counter
	tasksFailedTotal        prom.Counter
	assignmentsTotal        prom.Counter
	assignmentFailuresTotal prom.Counter
	queueDepth              *prom.GaugeVec
	tasksByStatus           *prom.GaugeVec
}

var _ scheduler.Metrics = (*Exporter)(nil)

// NewExporter creates and registers Prometheus collectors for the
// scheduler. Re-registration returns the existing collectors, so
// restarting a coordinator against the same registry is safe.
func NewExporter(namespace string, reg prom.Registerer) (*Exporter, error) {
	if namespace == "" {
		namespace = "taskhive"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}

	created := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_created_total",
		Help:      "Total number of tasks accepted by the scheduler.",
	})
	completed := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_completed_total",
		Help:      "Total number of tasks completed successfully.",
	})
	failed := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_failed_total",
		Help:      "Total number of tasks that finished with an error.",
	})
	assignments := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "assignments_total",
		Help:      "Total number of task-to-worker assignments.",
	})
	assignmentFailures := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "assignment_failures_total",
		Help:      "Total number of assignments rolled back at hand-off.",
	})
	depthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Current scheduler queue depth.",
	}, []string{"queue"})
	statusVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "tasks_status",
		Help:      "Current number of tasks per lifecycle status.",
	}, []string{"status"})

	var err error
	if created, err = registerCollector(reg, created); err != nil {
		return nil, err
	}
	if completed, err = registerCollector(reg, completed); err != nil {
		return nil, err
	}
	if failed, err = registerCollector(reg, failed); err != nil {
		return nil, err
	}
	if assignments, err = registerCollector(reg, assignments); err != nil {
		return nil, err
	}
	if assignmentFailures, err = registerCollector(reg, assignmentFailures); err != nil {
		return nil, err
	}
	if depthVec, err = registerCollector(reg, depthVec); err != nil {
		return nil, err
	}
	if statusVec, err = registerCollector(reg, statusVec); err != nil {
		return nil, err
	}

	return &Exporter{
		tasksCreatedTotal:       created,
		tasksCompletedTotal:     completed,
		tasksFailedTotal:        failed,
		assignmentsTotal:        assignments,
		assignmentFailuresTotal: assignmentFailures,
		queueDepth:              depthVec,
		tasksByStatus:           statusVec,
	}, nil
}

// TaskCreated counts an accepted task.
func (e *Exporter) TaskCreated() {
	if e == nil {
		return
	}
	e.tasksCreatedTotal.Inc()
}

// TaskCompleted counts a successful completion.
func (e *Exporter) TaskCompleted() {
	if e == nil {
		return
	}
	e.tasksCompletedTotal.Inc()
}

// TaskFailed counts a failed task.
func (e *Exporter) TaskFailed() {
	if e == nil {
		return
	}
	e.tasksFailedTotal.Inc()
}

// AssignmentMade counts a confirmed task-to-worker hand-off.
func (e *Exporter) AssignmentMade() {
	if e == nil {
		return
	}
	e.assignmentsTotal.Inc()
}

// AssignmentFailed counts a hand-off that was rolled back.
func (e *Exporter) AssignmentFailed() {
	if e == nil {
		return
	}
	e.assignmentFailuresTotal.Inc()
}

// QueueDepth records the current depth of both scheduler queues.
func (e *Exporter) QueueDepth(ready, validated int) {
	if e == nil {
		return
	}
	e.queueDepth.WithLabelValues("ready").Set(float64(ready))
	e.queueDepth.WithLabelValues("validated").Set(float64(validated))
}

// StatusCount records the number of tasks currently in a status.
func (e *Exporter) StatusCount(status scheduler.Status, count int) {
	if e == nil {
		return
	}
	e.tasksByStatus.WithLabelValues(status.String()).Set(float64(count))
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
