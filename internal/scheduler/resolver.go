package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gammazero/toposort"
)

// DependencyResolver owns the edge sets between tasks: hard dependencies
// that gate readiness and soft preferences that only influence priority.
// It detects missing references, cycles and file-scope conflicts.
//
// The resolver never mutates task status; it reports findings and the
// coordinator decides what to do with them.
type DependencyResolver struct {
	mu             sync.RWMutex
	hard           map[string][]string        // taskID -> hard dependency IDs
	soft           map[string][]string        // taskID -> soft preference IDs
	hardDependents map[string][]string        // depID -> tasks that hard-depend on it
	softDependents map[string][]string        // prefID -> tasks that prefer it
	waived         map[string]map[string]bool // symmetric pairs excluded from conflict checks
}

// NewDependencyResolver creates an empty resolver.
func NewDependencyResolver() *DependencyResolver {
	return &DependencyResolver{
		hard:           make(map[string][]string),
		soft:           make(map[string][]string),
		hardDependents: make(map[string][]string),
		softDependents: make(map[string][]string),
		waived:         make(map[string]map[string]bool),
	}
}

// Register adds all edges declared by the task. Duplicate edges are ignored.
func (r *DependencyResolver) Register(task *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, depID := range task.DependsOn {
		r.addEdgeLocked(task.ID, depID, EdgeHard)
	}
	for _, prefID := range task.Prefers {
		r.addEdgeLocked(task.ID, prefID, EdgeSoft)
	}
}

// Unregister removes every edge declared BY the task. Edges declared by
// other tasks pointing at it are kept: they become dangling references and
// surface as MISSING_DEPENDENCY on the next validation.
func (r *DependencyResolver) Unregister(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, depID := range r.hard[taskID] {
		r.hardDependents[depID] = removeString(r.hardDependents[depID], taskID)
		if len(r.hardDependents[depID]) == 0 {
			delete(r.hardDependents, depID)
		}
	}
	for _, prefID := range r.soft[taskID] {
		r.softDependents[prefID] = removeString(r.softDependents[prefID], taskID)
		if len(r.softDependents[prefID]) == 0 {
			delete(r.softDependents, prefID)
		}
	}
	delete(r.hard, taskID)
	delete(r.soft, taskID)
}

// AddEdge registers a single edge. Adding an existing edge is a no-op.
func (r *DependencyResolver) AddEdge(taskID, depID string, kind EdgeKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addEdgeLocked(taskID, depID, kind)
}

// RemoveEdge removes a single edge. Returns false if the edge did not exist.
func (r *DependencyResolver) RemoveEdge(taskID, depID string, kind EdgeKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch kind {
	case EdgeSoft:
		if !containsString(r.soft[taskID], depID) {
			return false
		}
		r.soft[taskID] = removeString(r.soft[taskID], depID)
		r.softDependents[depID] = removeString(r.softDependents[depID], taskID)
	default:
		if !containsString(r.hard[taskID], depID) {
			return false
		}
		r.hard[taskID] = removeString(r.hard[taskID], depID)
		r.hardDependents[depID] = removeString(r.hardDependents[depID], taskID)
	}
	return true
}

func (r *DependencyResolver) addEdgeLocked(taskID, depID string, kind EdgeKind) {
	switch kind {
	case EdgeSoft:
		if containsString(r.soft[taskID], depID) {
			return
		}
		r.soft[taskID] = append(r.soft[taskID], depID)
		r.softDependents[depID] = append(r.softDependents[depID], taskID)
	default:
		if containsString(r.hard[taskID], depID) {
			return
		}
		r.hard[taskID] = append(r.hard[taskID], depID)
		r.hardDependents[depID] = append(r.hardDependents[depID], taskID)
	}
}

// HardDeps returns a copy of the hard dependency list for a task.
func (r *DependencyResolver) HardDeps(taskID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneStrings(r.hard[taskID])
}

// SoftPrefs returns a copy of the soft preference list for a task.
func (r *DependencyResolver) SoftPrefs(taskID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneStrings(r.soft[taskID])
}

// HardDependents returns the tasks that hard-depend on taskID.
func (r *DependencyResolver) HardDependents(taskID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneStrings(r.hardDependents[taskID])
}

// SoftDependents returns the tasks that declare taskID as a soft preference.
func (r *DependencyResolver) SoftDependents(taskID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneStrings(r.softDependents[taskID])
}

// ValidateDependencies checks the task's hard dependencies against the
// current task table. It returns one DependencyError per problem:
// MISSING_DEPENDENCY for references to tasks that do not exist and
// CIRCULAR_DEPENDENCY when a cycle is reachable from this task.
//
// Soft preferences are never validated here: preferring a missing task is
// legal and merely withholds the priority boost.
func (r *DependencyResolver) ValidateDependencies(task *Task, all map[string]*Task) []error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error

	for _, depID := range r.hard[task.ID] {
		if _, exists := all[depID]; !exists {
			errs = append(errs, &DependencyError{
				Code:         MissingDependency,
				TaskID:       task.ID,
				DependencyID: depID,
			})
		}
	}

	if cycle := r.findCycleLocked(task.ID, all); cycle != nil {
		errs = append(errs, &DependencyError{
			Code:   CircularDependency,
			TaskID: task.ID,
			Cycle:  cycle,
		})
	}

	return errs
}

// findCycleLocked runs a depth-first walk over hard edges starting at the
// given task and returns the participants of the first cycle found, or nil.
// The color map doubles as the visited set, so the walk terminates even on
// cyclic graphs. Edges to missing tasks are skipped; they are reported
// separately as MISSING_DEPENDENCY.
func (r *DependencyResolver) findCycleLocked(start string, all map[string]*Task) []string {
	const (
		white = iota // Unvisited
		gray         // On the current path
		black        // Fully explored
	)

	colors := make(map[string]int)
	var path []string

	var walk func(id string) []string
	walk = func(id string) []string {
		colors[id] = gray
		path = append(path, id)

		for _, depID := range r.hard[id] {
			if _, exists := all[depID]; !exists {
				continue
			}
			switch colors[depID] {
			case white:
				if cycle := walk(depID); cycle != nil {
					return cycle
				}
			case gray:
				// Found a back edge: the cycle is the path suffix from depID.
				for i, p := range path {
					if p == depID {
						return append(cloneStrings(path[i:]), depID)
					}
				}
			}
		}

		colors[id] = black
		path = path[:len(path)-1]
		return nil
	}

	return walk(start)
}

// CheckConflicts returns the IDs of tasks in the given set whose declared
// file scope overlaps with the task's. Callers pass the currently active or
// assigned tasks; a task never conflicts with itself and waived pairs are
// skipped.
func (r *DependencyResolver) CheckConflicts(task *Task, active []*Task) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conflicts []string
	for _, other := range active {
		if other.ID == task.ID || r.waived[task.ID][other.ID] {
			continue
		}
		if len(SharedFiles(task, other)) > 0 && !containsString(conflicts, other.ID) {
			conflicts = append(conflicts, other.ID)
		}
	}
	return conflicts
}

// WaiveConflict excludes the pair from future conflict checks, in both
// directions. Used by allow/merge resolutions so the mandatory re-check at
// assignment time does not re-detect a conflict that was explicitly waived.
func (r *DependencyResolver) WaiveConflict(a, b string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.waived[a] == nil {
		r.waived[a] = make(map[string]bool)
	}
	if r.waived[b] == nil {
		r.waived[b] = make(map[string]bool)
	}
	r.waived[a][b] = true
	r.waived[b][a] = true
}

// DropWaivers removes every waiver involving the task.
func (r *DependencyResolver) DropWaivers(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for other := range r.waived[taskID] {
		delete(r.waived[other], taskID)
		if len(r.waived[other]) == 0 {
			delete(r.waived, other)
		}
	}
	delete(r.waived, taskID)
}

// SharedFiles returns the file paths declared by both tasks, in a's order.
func SharedFiles(a, b *Task) []string {
	if len(a.WritesFiles) == 0 || len(b.WritesFiles) == 0 {
		return nil
	}

	scope := make(map[string]bool, len(b.WritesFiles))
	for _, f := range b.WritesFiles {
		scope[f] = true
	}

	var shared []string
	for _, f := range a.WritesFiles {
		if scope[f] && !containsString(shared, f) {
			shared = append(shared, f)
		}
	}
	return shared
}

// DepsSatisfied reports whether every hard dependency of the task exists
// and has completed.
func (r *DependencyResolver) DepsSatisfied(taskID string, all map[string]*Task) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.depsSatisfiedLocked(taskID, all)
}

func (r *DependencyResolver) depsSatisfiedLocked(taskID string, all map[string]*Task) bool {
	for _, depID := range r.hard[taskID] {
		dep, exists := all[depID]
		if !exists || dep.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// ReadyTasks returns every task from the table whose hard dependencies are
// all completed, regardless of its own status. Callers filter by status.
func (r *DependencyResolver) ReadyTasks(all map[string]*Task) []*Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ready []*Task
	for id, task := range all {
		if r.depsSatisfiedLocked(id, all) {
			ready = append(ready, task)
		}
	}

	sort.Slice(ready, func(i, j int) bool { return ready[i].ID < ready[j].ID })
	return ready
}

// PrefsCompleted reports whether the task declares soft preferences and
// whether all of them exist and have completed. A preference on a missing
// task counts as not completed, never as an error.
func (r *DependencyResolver) PrefsCompleted(taskID string, all map[string]*Task) (declared, allDone bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prefs := r.soft[taskID]
	if len(prefs) == 0 {
		return false, false
	}

	for _, prefID := range prefs {
		pref, exists := all[prefID]
		if !exists || pref.Status != StatusCompleted {
			return true, false
		}
	}
	return true, true
}

// Order returns a topological ordering of all tasks over hard edges, for
// plan previews and diagnostics. Tasks with no dependencies are included
// via a nil source edge. Returns an error when the graph has a cycle or
// references missing tasks.
func (r *DependencyResolver) Order(all map[string]*Task) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Verify all hard dependencies exist before sorting
	for id := range all {
		for _, depID := range r.hard[id] {
			if _, exists := all[depID]; !exists {
				return nil, fmt.Errorf("task %q depends on non-existent task %q", id, depID)
			}
		}
	}

	// Build edges for topological sort. (depID, taskID) means depID must
	// come before taskID.
	var edges []toposort.Edge
	for id := range all {
		deps := r.hard[id]
		if len(deps) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, depID := range deps {
			edges = append(edges, toposort.Edge{depID, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("dependency graph contains cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	// Catches disconnected components lost by the sort
	if len(order) != len(all) {
		var missing []string
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		for id := range all {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		sort.Strings(missing)
		return nil, fmt.Errorf("topological sort lost %d tasks: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}

func containsString(s []string, v string) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, item := range s {
		if item != v {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
