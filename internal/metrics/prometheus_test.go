package metrics

import (
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/taskhive/taskhive/internal/scheduler"
)

func TestExporter_Counters(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewExporter("taskhive", reg)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}

	exporter.TaskCreated()
	exporter.TaskCreated()
	exporter.TaskCompleted()
	exporter.TaskFailed()
	exporter.AssignmentMade()
	exporter.AssignmentMade()
	exporter.AssignmentMade()
	exporter.AssignmentFailed()

	if got := testutil.ToFloat64(exporter.tasksCreatedTotal); got != 2 {
		t.Fatalf("tasks created = %v, want 2", got)
	}
	if got := testutil.ToFloat64(exporter.tasksCompletedTotal); got != 1 {
		t.Fatalf("tasks completed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.tasksFailedTotal); got != 1 {
		t.Fatalf("tasks failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.assignmentsTotal); got != 3 {
		t.Fatalf("assignments = %v, want 3", got)
	}
	if got := testutil.ToFloat64(exporter.assignmentFailuresTotal); got != 1 {
		t.Fatalf("assignment failures = %v, want 1", got)
	}
}

func TestExporter_Gauges(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewExporter("taskhive", reg)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}

	exporter.QueueDepth(3, 5)
	exporter.StatusCount(scheduler.StatusReady, 4)
	exporter.StatusCount(scheduler.StatusBlocked, 2)

	if got := testutil.ToFloat64(exporter.queueDepth.WithLabelValues("ready")); got != 3 {
		t.Fatalf("ready depth = %v, want 3", got)
	}
	if got := testutil.ToFloat64(exporter.queueDepth.WithLabelValues("validated")); got != 5 {
		t.Fatalf("validated depth = %v, want 5", got)
	}
	if got := testutil.ToFloat64(exporter.tasksByStatus.WithLabelValues("ready")); got != 4 {
		t.Fatalf("ready status count = %v, want 4", got)
	}
	if got := testutil.ToFloat64(exporter.tasksByStatus.WithLabelValues("blocked")); got != 2 {
		t.Fatalf("blocked status count = %v, want 2", got)
	}

	// Gauges track the current value, not a running total.
	exporter.QueueDepth(1, 0)
	if got := testutil.ToFloat64(exporter.queueDepth.WithLabelValues("ready")); got != 1 {
		t.Fatalf("ready depth after update = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.queueDepth.WithLabelValues("validated")); got != 0 {
		t.Fatalf("validated depth after update = %v, want 0", got)
	}
}

func TestExporter_AlreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewExporter("taskhive", reg)
	if err != nil {
		t.Fatalf("first NewExporter failed: %v", err)
	}
	second, err := NewExporter("taskhive", reg)
	if err != nil {
		t.Fatalf("second NewExporter failed: %v", err)
	}

	first.TaskCreated()
	second.TaskCreated()

	got := testutil.ToFloat64(first.tasksCreatedTotal)
	if got != 2 {
		t.Fatalf("shared created counter = %v, want 2", got)
	}
}

func TestExporter_GatherFamilies(t *testing.T) {
	reg := prom.NewRegistry()
	// An empty namespace falls back to the default prefix.
	exporter, err := NewExporter("", reg)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}

	exporter.TaskCreated()
	exporter.QueueDepth(2, 1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	byName := map[string]*dto.MetricFamily{}
	for _, family := range families {
		byName[family.GetName()] = family
	}

	created, ok := byName["taskhive_tasks_created_total"]
	if !ok {
		t.Fatal("taskhive_tasks_created_total not exported")
	}
	if created.GetType() != dto.MetricType_COUNTER {
		t.Fatalf("created type = %v, want counter", created.GetType())
	}

	depth, ok := byName["taskhive_queue_depth"]
	if !ok {
		t.Fatal("taskhive_queue_depth not exported")
	}
	if depth.GetType() != dto.MetricType_GAUGE {
		t.Fatalf("depth type = %v, want gauge", depth.GetType())
	}
	if len(depth.GetMetric()) != 2 {
		t.Fatalf("depth series = %d, want 2", len(depth.GetMetric()))
	}
	seen := map[string]float64{}
	for _, metric := range depth.GetMetric() {
		for _, label := range metric.GetLabel() {
			if label.GetName() == "queue" {
				seen[label.GetValue()] = metric.GetGauge().GetValue()
			}
		}
	}
	if seen["ready"] != 2 || seen["validated"] != 1 {
		t.Fatalf("depth by queue = %v, want ready=2 validated=1", seen)
	}
}

func TestExporter_NilReceiver(t *testing.T) {
	// The coordinator treats a nil exporter as a no-op sink.
	var exporter *Exporter
	exporter.TaskCreated()
	exporter.TaskCompleted()
	exporter.TaskFailed()
	exporter.AssignmentMade()
	exporter.AssignmentFailed()
	exporter.QueueDepth(1, 2)
	exporter.StatusCount(scheduler.StatusReady, 3)
}
