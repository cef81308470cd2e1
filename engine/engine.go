// Package engine drives workflow instances through registered node graphs.
//
// An Engine owns its registry and instances; nothing is process-global, so
// several engines can coexist (tests rely on this). Task-backed nodes wait on
// one-shot completion notifications from the task graph instead of polling,
// and every callback re-checks instance state under the instance lock before
// applying an effect, so notifications that arrive after cancellation,
// failure, or timeout are dropped. An instance that reaches a terminal state
// unregisters its remaining task watches, releasing their goroutines.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/josephgoksu/FlowWing/condition"
	"github.com/josephgoksu/FlowWing/models"
	"github.com/josephgoksu/FlowWing/taskgraph"
)

var (
	ErrUnknownWorkflow = errors.New("unknown workflow")
	ErrUnknownInstance = errors.New("unknown instance")
	ErrNotStartable    = errors.New("instance cannot be started")
	ErrNotRunning      = errors.New("instance is not running")
	ErrNotPaused       = errors.New("instance is not paused")
)

// Config carries the engine's tunables. A zero ExecutionTimeout disables the
// per-instance timer; DefaultConfig returns the documented one-hour default.
// A nil Evaluator falls back to the CEL evaluator.
type Config struct {
	ExecutionTimeout time.Duration
	Evaluator        condition.Evaluator
	Logger           *slog.Logger
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{ExecutionTimeout: time.Hour}
}

// Engine validates and registers workflow definitions and drives instances
// to completion, failure, cancellation, or timeout.
type Engine struct {
	graph *taskgraph.Graph
	reg   *Registry
	cfg   Config
	log   *slog.Logger
	eval  condition.Evaluator

	mu        sync.RWMutex
	instances map[string]*instance
	order     []string
}

// instance pairs the caller-visible snapshot with the bookkeeping the
// executor needs. All fields are guarded by mu; the set mirrors (active,
// completed) exist for O(1) membership checks next to the ordered slices in
// data.
type instance struct {
	mu   sync.Mutex
	data models.WorkflowInstance
	def  models.WorkflowDefinition

	nodes    map[string]models.WorkflowNode
	outgoing map[string][]models.WorkflowEdge
	incoming map[string][]models.WorkflowEdge
	startID  string

	active    map[string]struct{}
	completed map[string]struct{}
	watching  map[string]taskWatch // task nodes with an outstanding watcher
	buffered  []nodeOutcome        // task outcomes held while paused

	timer *time.Timer
	done  chan struct{}
}

// taskWatch records an outstanding task watch so finishing the instance can
// unregister the channel and release the watcher goroutine.
type taskWatch struct {
	taskID string
	ch     <-chan taskgraph.TaskOutcome
}

type nodeOutcome struct {
	nodeID  string
	outcome taskgraph.TaskOutcome
}

// New builds an engine over the given task graph. The error is only non-nil
// when the default condition evaluator cannot be constructed.
func New(graph *taskgraph.Graph, cfg Config) (*Engine, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	eval := cfg.Evaluator
	if eval == nil {
		cel, err := condition.NewCEL()
		if err != nil {
			return nil, fmt.Errorf("building default evaluator: %w", err)
		}
		eval = cel
	}
	return &Engine{
		graph:     graph,
		reg:       NewRegistry(),
		cfg:       cfg,
		log:       log,
		eval:      eval,
		instances: make(map[string]*instance),
	}, nil
}

// RegisterWorkflow validates and stores a definition; see Registry.Register.
func (e *Engine) RegisterWorkflow(def models.WorkflowDefinition) error {
	if err := e.reg.Register(def); err != nil {
		return err
	}
	e.log.Info("workflow registered", "workflow", def.ID, "nodes", len(def.Nodes))
	return nil
}

// Workflow returns a registered definition, false when unknown.
func (e *Engine) Workflow(id string) (models.WorkflowDefinition, bool) {
	return e.reg.Workflow(id)
}

// Workflows returns every registered definition in registration order.
func (e *Engine) Workflows() []models.WorkflowDefinition {
	return e.reg.Workflows()
}

// CreateWorkflowInstance builds a new instance of a registered workflow in
// the created state. Variables start as the definition's inputs merged with
// vars; caller values win on conflict. The instance keeps a snapshot of the
// definition, so later re-registration does not affect it.
func (e *Engine) CreateWorkflowInstance(workflowID string, vars map[string]any) (models.WorkflowInstance, error) {
	def, ok := e.reg.Workflow(workflowID)
	if !ok {
		return models.WorkflowInstance{}, fmt.Errorf("workflow %q: %w", workflowID, ErrUnknownWorkflow)
	}

	variables := make(map[string]any, len(def.Inputs)+len(vars))
	maps.Copy(variables, def.Inputs)
	maps.Copy(variables, vars)

	in := &instance{
		data: models.WorkflowInstance{
			ID:          uuid.NewString(),
			WorkflowID:  workflowID,
			State:       models.InstanceCreated,
			NodeResults: make(map[string]map[string]any),
			Variables:   variables,
		},
		def:       def,
		nodes:     make(map[string]models.WorkflowNode, len(def.Nodes)),
		outgoing:  make(map[string][]models.WorkflowEdge),
		incoming:  make(map[string][]models.WorkflowEdge),
		active:    make(map[string]struct{}),
		completed: make(map[string]struct{}),
		watching:  make(map[string]taskWatch),
		done:      make(chan struct{}),
	}
	for _, n := range def.Nodes {
		in.nodes[n.ID] = n
		if n.Type == models.NodeStart {
			in.startID = n.ID
		}
	}
	for _, edge := range def.Edges {
		in.outgoing[edge.Source] = append(in.outgoing[edge.Source], edge)
		in.incoming[edge.Target] = append(in.incoming[edge.Target], edge)
	}

	e.mu.Lock()
	e.instances[in.data.ID] = in
	e.order = append(e.order, in.data.ID)
	e.mu.Unlock()

	e.log.Info("instance created", "instance", in.data.ID, "workflow", workflowID)
	return cloneInstance(in.data), nil
}

// StartWorkflowInstance moves a created instance to running, activates the
// start node, arms the execution timeout, and runs execution steps until the
// instance either finishes or is waiting on external task completions.
func (e *Engine) StartWorkflowInstance(id string) error {
	in := e.lookup(id)
	if in == nil {
		return fmt.Errorf("instance %q: %w", id, ErrUnknownInstance)
	}
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.data.State != models.InstanceCreated {
		return fmt.Errorf("instance %q is %s: %w", id, in.data.State, ErrNotStartable)
	}
	in.data.State = models.InstanceRunning
	in.data.StartTime = time.Now()
	e.activateLocked(in, in.startID)
	if e.cfg.ExecutionTimeout > 0 {
		in.timer = time.AfterFunc(e.cfg.ExecutionTimeout, func() { e.onTimeout(id) })
	}
	e.log.Info("instance started", "instance", id, "workflow", in.data.WorkflowID)
	e.stepLocked(in)
	return nil
}

// Instance returns a snapshot of the instance, false when unknown.
func (e *Engine) Instance(id string) (models.WorkflowInstance, bool) {
	in := e.lookup(id)
	if in == nil {
		return models.WorkflowInstance{}, false
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	return cloneInstance(in.data), true
}

// Instances returns snapshots of every instance in creation order.
func (e *Engine) Instances() []models.WorkflowInstance {
	e.mu.RLock()
	ids := append([]string(nil), e.order...)
	e.mu.RUnlock()

	out := make([]models.WorkflowInstance, 0, len(ids))
	for _, id := range ids {
		if snap, ok := e.Instance(id); ok {
			out = append(out, snap)
		}
	}
	return out
}

// CancelWorkflowInstance stops a running (or paused) instance: the frontier
// is cleared, the state becomes canceled, and the timeout timer is stopped.
// In-flight tasks are not rolled back; their completion notifications are
// dropped as stale.
func (e *Engine) CancelWorkflowInstance(id string) error {
	in := e.lookup(id)
	if in == nil {
		return fmt.Errorf("instance %q: %w", id, ErrUnknownInstance)
	}
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.data.State != models.InstanceRunning && in.data.State != models.InstancePaused {
		return fmt.Errorf("instance %q is %s: %w", id, in.data.State, ErrNotRunning)
	}
	e.finishLocked(in, models.InstanceCanceled, "")
	return nil
}

// PauseWorkflowInstance holds a running instance: no further steps run, and
// task outcomes arriving meanwhile are buffered. The execution timeout keeps
// counting wall-clock time while paused.
func (e *Engine) PauseWorkflowInstance(id string) error {
	in := e.lookup(id)
	if in == nil {
		return fmt.Errorf("instance %q: %w", id, ErrUnknownInstance)
	}
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.data.State != models.InstanceRunning {
		return fmt.Errorf("instance %q is %s: %w", id, in.data.State, ErrNotRunning)
	}
	in.data.State = models.InstancePaused
	e.log.Info("instance paused", "instance", id)
	return nil
}

// ResumeWorkflowInstance returns a paused instance to running, applies the
// task outcomes buffered while paused, and continues stepping.
func (e *Engine) ResumeWorkflowInstance(id string) error {
	in := e.lookup(id)
	if in == nil {
		return fmt.Errorf("instance %q: %w", id, ErrUnknownInstance)
	}
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.data.State != models.InstancePaused {
		return fmt.Errorf("instance %q is %s: %w", id, in.data.State, ErrNotPaused)
	}
	in.data.State = models.InstanceRunning
	e.log.Info("instance resumed", "instance", id)

	buffered := in.buffered
	in.buffered = nil
	for _, b := range buffered {
		if in.data.State != models.InstanceRunning {
			break
		}
		if _, active := in.active[b.nodeID]; !active {
			continue
		}
		e.applyOutcomeLocked(in, b.nodeID, b.outcome)
	}
	if in.data.State == models.InstanceRunning {
		e.stepLocked(in)
	}
	return nil
}

// WaitForInstance blocks until the instance reaches a terminal state or the
// context ends, and returns the latest snapshot either way.
func (e *Engine) WaitForInstance(ctx context.Context, id string) (models.WorkflowInstance, error) {
	in := e.lookup(id)
	if in == nil {
		return models.WorkflowInstance{}, fmt.Errorf("instance %q: %w", id, ErrUnknownInstance)
	}
	select {
	case <-in.done:
	case <-ctx.Done():
		snap, _ := e.Instance(id)
		return snap, ctx.Err()
	}
	snap, _ := e.Instance(id)
	return snap, nil
}

func (e *Engine) lookup(id string) *instance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.instances[id]
}

func (e *Engine) onTimeout(id string) {
	in := e.lookup(id)
	if in == nil {
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()

	// Paused instances time out too; only terminal states are immune.
	switch in.data.State {
	case models.InstanceRunning, models.InstancePaused:
	default:
		return
	}
	e.log.Warn("instance timed out", "instance", id, "workflow", in.data.WorkflowID)
	e.finishLocked(in, models.InstanceFailed, "Workflow execution timeout")
}

func cloneInstance(data models.WorkflowInstance) models.WorkflowInstance {
	out := data
	out.ActiveNodes = append([]string(nil), data.ActiveNodes...)
	out.CompletedNodes = append([]string(nil), data.CompletedNodes...)
	out.Variables = maps.Clone(data.Variables)
	if data.NodeResults != nil {
		out.NodeResults = make(map[string]map[string]any, len(data.NodeResults))
		for k, v := range data.NodeResults {
			out.NodeResults[k] = maps.Clone(v)
		}
	}
	return out
}
