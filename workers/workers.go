// Package workers provides the default worker implementation handed to a
// task graph. A Worker tracks its own assignment set, so its reported count
// stays in step with graph-side bookkeeping through the AssignmentRecorder
// callbacks.
package workers

import (
	"sort"
	"sync"

	"github.com/josephgoksu/FlowWing/taskgraph"
)

// Worker is a named assignment target.
type Worker struct {
	name string

	mu       sync.Mutex
	assigned map[string]struct{}
}

// New returns a worker with an empty assignment set.
func New(name string) *Worker {
	return &Worker{name: name, assigned: make(map[string]struct{})}
}

// Name implements taskgraph.Worker.
func (w *Worker) Name() string { return w.name }

// AssignedCount implements taskgraph.Worker.
func (w *Worker) AssignedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.assigned)
}

// RecordAssign implements taskgraph.AssignmentRecorder.
func (w *Worker) RecordAssign(taskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.assigned[taskID] = struct{}{}
}

// RecordRelease implements taskgraph.AssignmentRecorder.
func (w *Worker) RecordRelease(taskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.assigned, taskID)
}

// Assigned returns the task IDs currently held, sorted for stable output.
func (w *Worker) Assigned() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.assigned))
	for id := range w.assigned {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Pool builds workers for each name, preserving order, for passing straight
// to taskgraph.New.
func Pool(names ...string) []taskgraph.Worker {
	out := make([]taskgraph.Worker, 0, len(names))
	for _, name := range names {
		out = append(out, New(name))
	}
	return out
}
