package scheduler

import (
	"container/heap"
	"fmt"
	"sync"
	"time"
)

// depthSampleCount bounds the queue-depth history kept for trend detection.
const depthSampleCount = 10

// PriorityFunc computes the effective priority of a task at enqueue and
// recompute time. The default uses the base priority of the task's class;
// the coordinator injects one that adds the soft-dependency adjustment.
type PriorityFunc func(*Task) int

// queueEntry is a heap node. index tracks the position inside its heap so
// arbitrary removal and in-place priority updates stay O(log n).
type queueEntry struct {
	task       *Task
	priority   int
	sequence   uint64 // Tie-break: lower sequence dequeues first
	enqueuedAt time.Time
	index      int
}

// taskHeap is an indexed binary max-heap implementing heap.Interface.
// entries and byID always agree 1:1 on membership and position.
type taskHeap struct {
	entries []*queueEntry
	byID    map[string]*queueEntry
}

func newTaskHeap() *taskHeap {
	return &taskHeap{byID: make(map[string]*queueEntry)}
}

func (h *taskHeap) Len() int { return len(h.entries) }

// Less orders by priority descending, then by sequence ascending so
// equal-priority tasks dequeue in enqueue order.
func (h *taskHeap) Less(i, j int) bool {
	if h.entries[i].priority != h.entries[j].priority {
		return h.entries[i].priority > h.entries[j].priority
	}
	return h.entries[i].sequence < h.entries[j].sequence
}

func (h *taskHeap) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
	h.entries[i].index = i
	h.entries[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	entry := x.(*queueEntry)
	entry.index = len(h.entries)
	h.entries = append(h.entries, entry)
	h.byID[entry.task.ID] = entry
}

func (h *taskHeap) Pop() interface{} {
	old := h.entries
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil // Avoid memory leak
	entry.index = -1
	h.entries = old[:n-1]
	delete(h.byID, entry.task.ID)
	return entry
}

// Queue is the priority scheduler: two independent indexed max-heaps, one
// for ready tasks and one for validated tasks whose readiness is still
// pending. Ready tasks always dequeue before validated ones.
type Queue struct {
	mu        sync.Mutex
	ready     *taskHeap
	validated *taskHeap
	prio      PriorityFunc
	seq       uint64

	depth    [depthSampleCount]int
	depthPos int
	depthLen int
}

// NewQueue creates a queue. A nil prio falls back to the base priority of
// the task's class.
func NewQueue(prio PriorityFunc) *Queue {
	if prio == nil {
		prio = func(t *Task) int { return t.PriorityClass.BasePriority() }
	}
	return &Queue{
		ready:     newTaskHeap(),
		validated: newTaskHeap(),
		prio:      prio,
	}
}

// Enqueue places the task into the heap matching its status.
// Only ready and validated tasks are queueable.
func (q *Queue) Enqueue(task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	h, err := q.heapFor(task.Status)
	if err != nil {
		return err
	}
	if q.containsLocked(task.ID) {
		return fmt.Errorf("task %q is already queued", task.ID)
	}

	entry := &queueEntry{
		task:       task,
		priority:   q.prio(task),
		sequence:   q.seq,
		enqueuedAt: time.Now(),
	}
	q.seq++

	heap.Push(h, entry)
	q.recordDepthLocked()
	return nil
}

// Dequeue removes and returns the highest-priority task, draining the
// ready heap before falling back to validated. Returns nil when empty.
func (q *Queue) Dequeue() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ready.Len() > 0 {
		return q.popLocked(q.ready)
	}
	if q.validated.Len() > 0 {
		return q.popLocked(q.validated)
	}
	return nil
}

// DequeueReady removes and returns the highest-priority ready task only.
// The assignment loop uses this variant: assigning a merely-validated task
// is never correct.
func (q *Queue) DequeueReady() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ready.Len() == 0 {
		return nil
	}
	return q.popLocked(q.ready)
}

// Peek returns the task Dequeue would return, without removing it.
func (q *Queue) Peek() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ready.Len() > 0 {
		return q.ready.entries[0].task
	}
	if q.validated.Len() > 0 {
		return q.validated.entries[0].task
	}
	return nil
}

// Remove deletes the task from whichever heap holds it.
// Idempotent: a second call for the same ID returns false, never panics.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, h := range []*taskHeap{q.ready, q.validated} {
		if entry, ok := h.byID[id]; ok {
			heap.Remove(h, entry.index)
			q.recordDepthLocked()
			return true
		}
	}
	return false
}

// Contains reports whether the task is queued in either heap.
func (q *Queue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.containsLocked(id)
}

// Promote moves a task from the validated heap to the ready heap,
// preserving its sequence so FIFO fairness carries over. Returns false if
// the task is not in the validated heap.
func (q *Queue) Promote(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.validated.byID[id]
	if !ok {
		return false
	}
	heap.Remove(q.validated, entry.index)
	entry.priority = q.prio(entry.task)
	heap.Push(q.ready, entry)
	return true
}

// UpdatePriority recomputes one task's effective priority and repositions
// it with a single heap fix. Returns the old and new priorities.
func (q *Queue) UpdatePriority(id string) (oldPrio, newPrio int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, h := range []*taskHeap{q.ready, q.validated} {
		if entry, found := h.byID[id]; found {
			oldPrio = entry.priority
			newPrio = q.prio(entry.task)
			if newPrio != oldPrio {
				entry.priority = newPrio
				heap.Fix(h, entry.index)
			}
			return oldPrio, newPrio, true
		}
	}
	return 0, 0, false
}

// Reorder recomputes every queued task's priority and rebuilds both heaps.
func (q *Queue) Reorder() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, h := range []*taskHeap{q.ready, q.validated} {
		for _, entry := range h.entries {
			entry.priority = q.prio(entry.task)
		}
		heap.Init(h)
	}
}

// Clear empties both heaps.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ready = newTaskHeap()
	q.validated = newTaskHeap()
	q.recordDepthLocked()
}

// Len returns the total number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready.Len() + q.validated.Len()
}

// ReadyLen returns the number of queued ready tasks.
func (q *Queue) ReadyLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready.Len()
}

// ValidatedLen returns the number of queued validated tasks.
func (q *Queue) ValidatedLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.validated.Len()
}

// QueueStats is a point-in-time summary of queue state.
type QueueStats struct {
	Size         int           // Tasks across both heaps
	Ready        int           // Tasks in the ready heap
	Validated    int           // Tasks in the validated heap
	AvgPriority  float64       // Mean effective priority of queued tasks
	AvgWait      time.Duration // Mean time since enqueue
	OldestTaskID string        // Longest-queued task
	NewestTaskID string        // Most recently queued task
	DepthSamples []int         // Queue depth after recent mutations, oldest first
}

// Stats reports size, priority and wait aggregates plus the bounded
// depth-sample history.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := QueueStats{
		Size:      q.ready.Len() + q.validated.Len(),
		Ready:     q.ready.Len(),
		Validated: q.validated.Len(),
	}

	now := time.Now()
	var prioSum, waitSum float64
	var oldest, newest *queueEntry
	for _, h := range []*taskHeap{q.ready, q.validated} {
		for _, entry := range h.entries {
			prioSum += float64(entry.priority)
			waitSum += float64(now.Sub(entry.enqueuedAt))
			if oldest == nil || entry.sequence < oldest.sequence {
				oldest = entry
			}
			if newest == nil || entry.sequence > newest.sequence {
				newest = entry
			}
		}
	}

	if stats.Size > 0 {
		stats.AvgPriority = prioSum / float64(stats.Size)
		stats.AvgWait = time.Duration(waitSum / float64(stats.Size))
		stats.OldestTaskID = oldest.task.ID
		stats.NewestTaskID = newest.task.ID
	}

	stats.DepthSamples = make([]int, 0, q.depthLen)
	for i := 0; i < q.depthLen; i++ {
		pos := (q.depthPos - q.depthLen + i + depthSampleCount) % depthSampleCount
		stats.DepthSamples = append(stats.DepthSamples, q.depth[pos])
	}

	return stats
}

func (q *Queue) heapFor(status Status) (*taskHeap, error) {
	switch status {
	case StatusReady:
		return q.ready, nil
	case StatusValidated:
		return q.validated, nil
	default:
		return nil, fmt.Errorf("status %s is not queueable", status)
	}
}

func (q *Queue) popLocked(h *taskHeap) *Task {
	entry := heap.Pop(h).(*queueEntry)
	q.recordDepthLocked()
	return entry.task
}

func (q *Queue) containsLocked(id string) bool {
	_, inReady := q.ready.byID[id]
	_, inValidated := q.validated.byID[id]
	return inReady || inValidated
}

// recordDepthLocked appends the current depth to the sample ring.
func (q *Queue) recordDepthLocked() {
	q.depth[q.depthPos] = q.ready.Len() + q.validated.Len()
	q.depthPos = (q.depthPos + 1) % depthSampleCount
	if q.depthLen < depthSampleCount {
		q.depthLen++
	}
}
