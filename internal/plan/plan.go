// Package plan loads task plans from JSON files. A plan is the batch
// submission format: a list of task specs with their dependency edges,
// handed to the scheduler at startup or on demand.
package plan

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/taskhive/taskhive/internal/scheduler"
)

// TaskSpec is one task entry in a plan file.
type TaskSpec struct {
	ID                   string   `json:"id,omitempty"` // Generated when absent
	Title                string   `json:"title"`
	Description          string   `json:"description"`
	Priority             string   `json:"priority,omitempty"` // high, medium or low
	DependsOn            []string `json:"depends_on,omitempty"`
	Prefers              []string `json:"prefers,omitempty"`
	Tags                 []string `json:"tags,omitempty"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	WritesFiles          []string `json:"writes_files,omitempty"`
}

// Plan is a parsed plan file.
type Plan struct {
	Name  string     `json:"name,omitempty"`
	Tasks []TaskSpec `json:"tasks"`
}

// Load reads and parses a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan file %s: %w", path, err)
	}
	if len(p.Tasks) == 0 {
		return nil, fmt.Errorf("plan file %s contains no tasks", path)
	}

	return &p, nil
}

// SchedulerTasks converts the plan entries to scheduler tasks, in file
// order. Submission order matters: tasks listed before their
// dependencies block temporarily until the dependency arrives.
func (p *Plan) SchedulerTasks() []*scheduler.Task {
	tasks := make([]*scheduler.Task, 0, len(p.Tasks))
	for _, spec := range p.Tasks {
		tasks = append(tasks, &scheduler.Task{
			ID:                   spec.ID,
			Title:                spec.Title,
			Description:          spec.Description,
			PriorityClass:        scheduler.PriorityClass(spec.Priority),
			DependsOn:            append([]string(nil), spec.DependsOn...),
			Prefers:              append([]string(nil), spec.Prefers...),
			Tags:                 append([]string(nil), spec.Tags...),
			RequiredCapabilities: append([]string(nil), spec.RequiredCapabilities...),
			WritesFiles:          append([]string(nil), spec.WritesFiles...),
		})
	}
	return tasks
}
