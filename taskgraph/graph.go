// Package taskgraph tracks tasks, their dependency constraints, and worker
// assignment, and unblocks dependents automatically when a task completes.
//
// A Graph owns its tasks exclusively: every accessor returns a copy, every
// mutation goes through a Graph method, and a single graph-wide mutex
// serializes them. Completion is observable through one-shot watch channels
// rather than polling; UpdateTask resolves the watchers of a task the moment
// it reaches a terminal status.
package taskgraph

import (
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/josephgoksu/FlowWing/models"
)

// Worker is the capability the graph needs from a worker: a stable name and
// the number of tasks it currently holds. Implementations live outside this
// package (see the workers package for the default pool).
type Worker interface {
	Name() string
	AssignedCount() int
}

// AssignmentRecorder is an optional Worker upgrade. Workers implementing it
// are told when the graph assigns or releases one of their tasks, so their
// AssignedCount can stay in step with the graph's bookkeeping.
type AssignmentRecorder interface {
	RecordAssign(taskID string)
	RecordRelease(taskID string)
}

// TaskOutcome is delivered on a watch channel when a task reaches a terminal
// status. Status is either StatusCompleted or StatusFailed.
type TaskOutcome struct {
	TaskID string
	Status models.TaskStatus
	Result any
	Err    string
}

// Config carries the graph's tunables. MaxParallelTasks is a soft cap: the
// graph only logs when the number of in-progress tasks exceeds it.
// EnableAutoRecovery is reserved for callers and not enforced here.
type Config struct {
	MaxConcurrentTasksPerRole int
	AutoAssignTasks           bool
	MaxParallelTasks          int
	EnableAutoRecovery        bool
	Logger                    *slog.Logger
}

// DefaultConfig returns the documented defaults: one concurrent task per
// worker, auto-assignment on.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTasksPerRole: 1,
		AutoAssignTasks:           true,
		MaxParallelTasks:          10,
	}
}

// Graph is the in-memory task store plus dependency index.
type Graph struct {
	mu  sync.Mutex
	cfg Config
	log *slog.Logger

	tasks map[string]models.Task
	order []string // task IDs in creation order

	// dependents[depID] is the set of task IDs whose Dependencies include
	// depID; it is the reverse index driving wavefront propagation.
	dependents map[string]map[string]struct{}

	workers     []Worker // registration order
	workerIndex map[string]Worker
	assignments map[string]map[string]struct{} // worker name -> task IDs

	watchers map[string][]chan TaskOutcome

	chains     map[string]Chain
	chainOrder []string
}

// New builds a Graph with the given workers in registration order. A zero or
// negative MaxConcurrentTasksPerRole falls back to 1; a nil Logger falls back
// to slog.Default(). Workers with duplicate names are dropped after the first.
func New(cfg Config, ws ...Worker) *Graph {
	if cfg.MaxConcurrentTasksPerRole <= 0 {
		cfg.MaxConcurrentTasksPerRole = 1
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	g := &Graph{
		cfg:         cfg,
		log:         log,
		tasks:       make(map[string]models.Task),
		dependents:  make(map[string]map[string]struct{}),
		workerIndex: make(map[string]Worker),
		assignments: make(map[string]map[string]struct{}),
		watchers:    make(map[string][]chan TaskOutcome),
		chains:      make(map[string]Chain),
	}
	for _, w := range ws {
		if _, dup := g.workerIndex[w.Name()]; dup {
			log.Warn("duplicate worker name ignored", "worker", w.Name())
			continue
		}
		g.workers = append(g.workers, w)
		g.workerIndex[w.Name()] = w
		g.assignments[w.Name()] = make(map[string]struct{})
	}
	return g
}

// CreateTask validates and stores a task. A missing ID is generated, missing
// status and priority fall back to their defaults, and declared dependencies
// are indexed (they may reference tasks that do not exist yet). When
// auto-assignment is enabled and the task arrived without an assignee, the
// first worker with capacity gets it.
func (g *Graph) CreateTask(t models.Task) (models.Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	normalized, err := g.normalizeLocked(t)
	if err != nil {
		return models.Task{}, err
	}
	g.insertLocked(normalized)

	stored := g.tasks[normalized.ID]
	if g.cfg.AutoAssignTasks && stored.Assignee == "" {
		if g.assignOptimalLocked(&stored) {
			g.tasks[stored.ID] = stored
		}
	}
	g.log.Debug("task created", "task", stored.ID, "title", stored.Title, "assignee", stored.Assignee)
	return cloneTask(g.tasks[normalized.ID]), nil
}

// Task returns a copy of the task, false when the ID is unknown.
func (g *Graph) Task(id string) (models.Task, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[id]
	if !ok {
		return models.Task{}, false
	}
	return cloneTask(t), true
}

// Tasks returns copies of every task in creation order.
func (g *Graph) Tasks() []models.Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, cloneTask(g.tasks[id]))
	}
	return out
}

// TaskUpdate is a partial task mutation; nil fields are left untouched.
// Result uses a pointer so callers can distinguish "unset" from "set to nil".
type TaskUpdate struct {
	Title        *string
	Description  *string
	Status       *models.TaskStatus
	Assignee     *string
	Dependencies *[]string
	Priority     *int
	Result       *any
	Error        *string
}

// UpdateTask merges upd into the task, bumps UpdatedAt, and re-validates.
// The found flag is false for an unknown ID; errors are reserved for
// validation failures and for mutating a task already in a terminal status.
//
// An assignee change moves the task between worker assignment sets before
// other fields apply. A transition into StatusCompleted triggers wavefront
// propagation to dependents; any transition into a terminal status resolves
// the task's watch channels.
func (g *Graph) UpdateTask(id string, upd TaskUpdate) (models.Task, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	current, ok := g.tasks[id]
	if !ok {
		return models.Task{}, false, nil
	}
	if current.Status.Terminal() {
		return cloneTask(current), true, fmt.Errorf("task %q is %s and cannot be modified", id, current.Status)
	}

	merged := cloneTask(current)
	if upd.Assignee != nil && *upd.Assignee != merged.Assignee {
		if *upd.Assignee != "" {
			if _, known := g.workerIndex[*upd.Assignee]; !known {
				return cloneTask(current), true, fmt.Errorf("unknown worker %q", *upd.Assignee)
			}
		}
		merged.Assignee = *upd.Assignee
		if merged.Assignee != "" {
			merged.Status = models.StatusAssigned
		}
	}
	if upd.Title != nil {
		merged.Title = *upd.Title
	}
	if upd.Description != nil {
		merged.Description = *upd.Description
	}
	if upd.Status != nil {
		merged.Status = *upd.Status
	}
	if upd.Dependencies != nil {
		merged.Dependencies = append([]string(nil), (*upd.Dependencies)...)
	}
	if upd.Priority != nil {
		merged.Priority = *upd.Priority
	}
	if upd.Result != nil {
		merged.Result = *upd.Result
	}
	if upd.Error != nil {
		merged.Error = *upd.Error
	}
	merged.UpdatedAt = time.Now()

	if err := validateTask(merged); err != nil {
		return cloneTask(current), true, err
	}

	// Commit: first membership moves, then the dependency reindex, then the
	// task itself.
	if merged.Assignee != current.Assignee {
		g.releaseAssignmentLocked(current.Assignee, id)
		g.recordAssignmentLocked(merged.Assignee, id)
	}
	if upd.Dependencies != nil {
		g.unindexDependenciesLocked(id, current.Dependencies)
		g.indexDependenciesLocked(id, merged.Dependencies)
	}
	g.tasks[id] = merged

	if merged.Status == models.StatusInProgress && current.Status != models.StatusInProgress {
		g.checkParallelCapLocked()
	}

	switch {
	case merged.Status == models.StatusCompleted && current.Status != models.StatusCompleted:
		// Terminal tasks stop counting against their worker's capacity;
		// Assignee stays on the task as history.
		g.releaseAssignmentLocked(merged.Assignee, id)
		g.log.Debug("task completed", "task", id)
		g.notifyWatchersLocked(id, merged)
		g.updateDependentTasksLocked(id)
	case merged.Status == models.StatusFailed && current.Status != models.StatusFailed:
		g.releaseAssignmentLocked(merged.Assignee, id)
		g.log.Debug("task failed", "task", id, "error", merged.Error)
		g.notifyWatchersLocked(id, merged)
	}
	return cloneTask(merged), true, nil
}

// DeleteTask removes the task and every reference to it: its assignment-set
// membership, its dependency-index entries, and its ID in any other task's
// Dependencies. Pending watchers resolve with a failed outcome. Returns false
// when the ID is unknown; deleting twice is a no-op.
func (g *Graph) DeleteTask(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[id]
	if !ok {
		return false
	}

	g.releaseAssignmentLocked(t.Assignee, id)
	g.unindexDependenciesLocked(id, t.Dependencies)

	// Strip the ID from tasks that depended on it.
	for depID := range g.dependents[id] {
		dep, ok := g.tasks[depID]
		if !ok {
			continue
		}
		dep.Dependencies = removeString(dep.Dependencies, id)
		dep.UpdatedAt = time.Now()
		g.tasks[depID] = dep
	}
	delete(g.dependents, id)

	delete(g.tasks, id)
	g.order = removeString(g.order, id)

	g.notifyDeletedLocked(id)
	g.log.Debug("task deleted", "task", id)
	return true
}

// AssignTaskToRole puts the task into the named worker's assignment set and
// marks it assigned. It fails silently (returns false) when the worker or the
// task is unknown, or when the task is already terminal.
func (g *Graph) AssignTaskToRole(id, workerName string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[id]
	if !ok {
		return false
	}
	if _, known := g.workerIndex[workerName]; !known {
		g.log.Debug("assignment to unknown worker skipped", "task", id, "worker", workerName)
		return false
	}
	if t.Status.Terminal() {
		return false
	}

	if t.Assignee != workerName {
		g.releaseAssignmentLocked(t.Assignee, id)
		g.recordAssignmentLocked(workerName, id)
	}
	t.Assignee = workerName
	t.Status = models.StatusAssigned
	t.UpdatedAt = time.Now()
	g.tasks[id] = t
	g.log.Debug("task assigned", "task", id, "worker", workerName)
	return true
}

// TasksForRole returns copies of the tasks in the worker's assignment set, in
// creation order. Unknown workers yield an empty slice.
func (g *Graph) TasksForRole(workerName string) []models.Task {
	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.assignments[workerName]
	if !ok {
		return nil
	}
	out := make([]models.Task, 0, len(set))
	for _, id := range g.order {
		if _, member := set[id]; member {
			out = append(out, cloneTask(g.tasks[id]))
		}
	}
	return out
}

// CanTaskStart reports whether every dependency of t maps to a completed
// task. Tasks without dependencies can always start; a dependency on an
// unknown ID counts as unsatisfied.
func (g *Graph) CanTaskStart(t models.Task) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.canStartLocked(t.Dependencies)
}

// WatchTask returns a one-shot channel that delivers the task's outcome when
// it reaches a terminal status (or when it is deleted). A task that is
// already terminal resolves immediately. The found flag is false for an
// unknown ID.
func (g *Graph) WatchTask(id string) (<-chan TaskOutcome, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[id]
	if !ok {
		return nil, false
	}
	ch := make(chan TaskOutcome, 1)
	if t.Status.Terminal() {
		ch <- outcomeOf(t)
		close(ch)
		return ch, true
	}
	g.watchers[id] = append(g.watchers[id], ch)
	return ch, true
}

// Unwatch abandons a pending watch: the channel is removed from the task's
// watcher list and closed, so its receiver unblocks without an outcome.
// Returns false, without closing, when the channel is not registered
// (already resolved, already unwatched, or never attached to this task).
func (g *Graph) Unwatch(id string, ch <-chan TaskOutcome) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	chans := g.watchers[id]
	for i, c := range chans {
		if c != ch {
			continue
		}
		g.watchers[id] = append(chans[:i], chans[i+1:]...)
		if len(g.watchers[id]) == 0 {
			delete(g.watchers, id)
		}
		close(c)
		return true
	}
	return false
}

// --- internals ---

// normalizeLocked fills generated fields and validates; it does not store.
func (g *Graph) normalizeLocked(t models.Task) (models.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, exists := g.tasks[t.ID]; exists {
		return models.Task{}, fmt.Errorf("task %q already exists", t.ID)
	}
	if t.Status == "" {
		t.Status = models.StatusPending
	}
	if t.Priority == 0 {
		t.Priority = models.PriorityDefault
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
	t.Dependencies = append([]string(nil), t.Dependencies...)
	if err := validateTask(t); err != nil {
		return models.Task{}, err
	}
	return t, nil
}

// insertLocked stores a normalized task and indexes it.
func (g *Graph) insertLocked(t models.Task) {
	g.tasks[t.ID] = t
	g.order = append(g.order, t.ID)
	g.indexDependenciesLocked(t.ID, t.Dependencies)
	if t.Assignee != "" {
		g.recordAssignmentLocked(t.Assignee, t.ID)
	}
}

func validateTask(t models.Task) error {
	if err := models.ValidateStruct(t); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	if (t.Status == models.StatusAssigned || t.Status == models.StatusInProgress) && t.Assignee == "" {
		return fmt.Errorf("invalid task: status %q requires an assignee", t.Status)
	}
	return nil
}

func (g *Graph) indexDependenciesLocked(id string, deps []string) {
	for _, dep := range deps {
		set, ok := g.dependents[dep]
		if !ok {
			set = make(map[string]struct{})
			g.dependents[dep] = set
		}
		set[id] = struct{}{}
	}
}

func (g *Graph) unindexDependenciesLocked(id string, deps []string) {
	for _, dep := range deps {
		if set, ok := g.dependents[dep]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(g.dependents, dep)
			}
		}
	}
}

func (g *Graph) canStartLocked(deps []string) bool {
	for _, dep := range deps {
		t, ok := g.tasks[dep]
		if !ok || t.Status != models.StatusCompleted {
			return false
		}
	}
	return true
}

// updateDependentTasksLocked is the wavefront: after completedID finishes,
// every dependent whose dependencies are now all satisfied either starts (it
// already has an assignee) or gets an assignment attempt. Dependents are
// visited in creation order to keep propagation deterministic.
func (g *Graph) updateDependentTasksLocked(completedID string) {
	waiting := g.dependents[completedID]
	if len(waiting) == 0 {
		return
	}
	for _, id := range g.order {
		if _, member := waiting[id]; !member {
			continue
		}
		t := g.tasks[id]
		switch t.Status {
		case models.StatusPending, models.StatusAssigned, models.StatusBlocked:
		default:
			continue
		}
		if !g.canStartLocked(t.Dependencies) {
			continue
		}
		if t.Assignee != "" {
			t.Status = models.StatusInProgress
			t.UpdatedAt = time.Now()
			g.tasks[id] = t
			g.log.Debug("task unblocked", "task", id, "assignee", t.Assignee)
			g.checkParallelCapLocked()
			continue
		}
		if g.assignOptimalLocked(&t) {
			g.tasks[id] = t
			g.log.Debug("task unblocked and assigned", "task", id, "assignee", t.Assignee)
		}
	}
}

// assignOptimalLocked is the default assignment policy: first worker in
// registration order whose reported count is under the per-role cap. It
// mutates t on success and leaves it untouched (pending, unassigned) when no
// worker has capacity. Smarter schedulers replace this policy, not the graph.
func (g *Graph) assignOptimalLocked(t *models.Task) bool {
	for _, w := range g.workers {
		if w.AssignedCount() >= g.cfg.MaxConcurrentTasksPerRole {
			continue
		}
		g.recordAssignmentLocked(w.Name(), t.ID)
		t.Assignee = w.Name()
		t.Status = models.StatusAssigned
		t.UpdatedAt = time.Now()
		return true
	}
	g.log.Debug("no worker capacity", "task", t.ID)
	return false
}

func (g *Graph) recordAssignmentLocked(workerName, taskID string) {
	if workerName == "" {
		return
	}
	set, ok := g.assignments[workerName]
	if !ok {
		return
	}
	set[taskID] = struct{}{}
	if rec, ok := g.workerIndex[workerName].(AssignmentRecorder); ok {
		rec.RecordAssign(taskID)
	}
}

func (g *Graph) releaseAssignmentLocked(workerName, taskID string) {
	if workerName == "" {
		return
	}
	set, ok := g.assignments[workerName]
	if !ok {
		return
	}
	delete(set, taskID)
	if rec, ok := g.workerIndex[workerName].(AssignmentRecorder); ok {
		rec.RecordRelease(taskID)
	}
}

func (g *Graph) notifyWatchersLocked(id string, t models.Task) {
	chans := g.watchers[id]
	if len(chans) == 0 {
		return
	}
	out := outcomeOf(t)
	for _, ch := range chans {
		ch <- out
		close(ch)
	}
	delete(g.watchers, id)
}

func (g *Graph) notifyDeletedLocked(id string) {
	chans := g.watchers[id]
	if len(chans) == 0 {
		return
	}
	out := TaskOutcome{TaskID: id, Status: models.StatusFailed, Err: "task deleted"}
	for _, ch := range chans {
		ch <- out
		close(ch)
	}
	delete(g.watchers, id)
}

func (g *Graph) checkParallelCapLocked() {
	if g.cfg.MaxParallelTasks <= 0 {
		return
	}
	active := 0
	for _, t := range g.tasks {
		if t.Status == models.StatusInProgress {
			active++
		}
	}
	if active > g.cfg.MaxParallelTasks {
		g.log.Warn("in-progress tasks exceed soft cap", "active", active, "cap", g.cfg.MaxParallelTasks)
	}
}

func outcomeOf(t models.Task) TaskOutcome {
	return TaskOutcome{TaskID: t.ID, Status: t.Status, Result: t.Result, Err: t.Error}
}

func cloneTask(t models.Task) models.Task {
	t.Dependencies = append([]string(nil), t.Dependencies...)
	t.Metadata = maps.Clone(t.Metadata)
	return t
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
