package engine

import (
	"fmt"
	"strconv"
	"time"

	"github.com/josephgoksu/FlowWing/models"
	"github.com/josephgoksu/FlowWing/taskgraph"
)

// stepLocked runs execution passes until the instance leaves the running
// state or a full pass makes no progress (every active node is waiting on a
// task or an unsatisfied join). Nodes activated during a pass are processed
// in the next pass, never the same one, so activation order stays causal and
// a trivial start-to-end chain cannot recurse.
func (e *Engine) stepLocked(in *instance) {
	for in.data.State == models.InstanceRunning {
		frontier := append([]string(nil), in.data.ActiveNodes...)
		progressed := false
		for _, nodeID := range frontier {
			if in.data.State != models.InstanceRunning {
				break
			}
			if _, active := in.active[nodeID]; !active {
				continue
			}
			if e.dispatchLocked(in, nodeID) {
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	// Liveness check: nothing active and the end node never completed means
	// the graph cannot make progress (unreachable join, dead-end branch).
	if in.data.State == models.InstanceRunning && len(in.data.ActiveNodes) == 0 {
		e.failInstanceLocked(in, "workflow stuck: no active nodes but END not reached")
	}
}

// dispatchLocked processes one active node and reports whether it changed
// instance state (completed, failed, or activated something).
func (e *Engine) dispatchLocked(in *instance, nodeID string) bool {
	node, ok := in.nodes[nodeID]
	if !ok {
		e.failInstanceLocked(in, fmt.Sprintf("node %q is not part of the workflow", nodeID))
		return true
	}

	switch node.Type {
	case models.NodeStart, models.NodeFork:
		e.completeNodeLocked(in, nodeID, map[string]any{})
		e.activateAllTargetsLocked(in, nodeID)
		return true

	case models.NodeEnd:
		e.completeNodeLocked(in, nodeID, map[string]any{})
		e.log.Info("instance completed", "instance", in.data.ID, "workflow", in.data.WorkflowID)
		e.finishLocked(in, models.InstanceCompleted, "")
		return true

	case models.NodeCondition:
		return e.dispatchConditionLocked(in, nodeID, node)

	case models.NodeJoin:
		if !e.joinReadyLocked(in, nodeID) {
			return false
		}
		e.completeNodeLocked(in, nodeID, map[string]any{})
		e.activateAllTargetsLocked(in, nodeID)
		return true

	case models.NodeTask:
		return e.dispatchTaskLocked(in, nodeID, node)

	default:
		e.failNodeLocked(in, nodeID, fmt.Sprintf("unsupported node type %q", node.Type))
		return true
	}
}

// dispatchConditionLocked evaluates the node's expression against the
// instance variables. Evaluation errors count as false, never as an engine
// failure. With an expression, only edges labeled with the boolean result
// fire; without one, the node completes true and only unlabeled edges fire.
func (e *Engine) dispatchConditionLocked(in *instance, nodeID string, node models.WorkflowNode) bool {
	if node.Condition == "" {
		e.completeNodeLocked(in, nodeID, map[string]any{"result": true})
		for _, edge := range in.outgoing[nodeID] {
			if edge.Condition == "" {
				e.activateLocked(in, edge.Target)
			}
		}
		return true
	}

	result, err := e.eval.Evaluate(node.Condition, in.data.Variables)
	if err != nil {
		e.log.Warn("condition evaluation failed, treating as false",
			"instance", in.data.ID, "node", nodeID, "error", err)
		result = false
	}
	e.completeNodeLocked(in, nodeID, map[string]any{"result": result})

	label := strconv.FormatBool(result)
	for _, edge := range in.outgoing[nodeID] {
		if edge.Condition == label {
			e.activateLocked(in, edge.Target)
		}
	}
	return true
}

// dispatchTaskLocked resolves the node's task reference. Terminal tasks
// resolve the node immediately (idempotent re-entry); unknown tasks are
// created from the node's name, description, and inputs; everything else
// registers a one-shot completion watcher, and the node stays active until
// the watcher fires.
func (e *Engine) dispatchTaskLocked(in *instance, nodeID string, node models.WorkflowNode) bool {
	if _, waiting := in.watching[nodeID]; waiting {
		return false
	}
	if node.TaskID == "" {
		e.failNodeLocked(in, nodeID, "No taskId specified")
		return true
	}

	task, ok := e.graph.Task(node.TaskID)
	if !ok {
		created, err := e.graph.CreateTask(nodeTask(node))
		if err != nil {
			// Another instance may have created the task in between.
			if task, ok = e.graph.Task(node.TaskID); !ok {
				e.failNodeLocked(in, nodeID, fmt.Sprintf("creating task %q: %v", node.TaskID, err))
				return true
			}
		} else {
			task = created
		}
	}

	switch task.Status {
	case models.StatusCompleted:
		e.completeNodeLocked(in, nodeID, map[string]any{"result": task.Result})
		e.activateAllTargetsLocked(in, nodeID)
		return true
	case models.StatusFailed:
		e.failNodeLocked(in, nodeID, fmt.Sprintf("task %q failed: %s", task.ID, task.Error))
		return true
	}

	ch, ok := e.graph.WatchTask(node.TaskID)
	if !ok {
		e.failNodeLocked(in, nodeID, fmt.Sprintf("task %q not found", node.TaskID))
		return true
	}
	in.watching[nodeID] = taskWatch{taskID: node.TaskID, ch: ch}
	e.log.Debug("waiting on task", "instance", in.data.ID, "node", nodeID, "task", node.TaskID)
	go e.watchTask(in.data.ID, nodeID, ch)
	return false
}

// nodeTask builds the task backing an unresolved task node. The node's
// taskId becomes the task ID so later re-entries find it.
func nodeTask(node models.WorkflowNode) models.Task {
	title := node.Name
	if len(title) < 3 {
		title = fmt.Sprintf("Workflow task %s", node.ID)
	}
	description := node.Description
	if description == "" {
		description = title
	}
	return models.Task{
		ID:          node.TaskID,
		Title:       title,
		Description: description,
		Metadata:    node.Inputs,
	}
}

// watchTask forwards a task outcome to the owning instance. It runs outside
// any lock; deliverOutcome re-checks instance state before acting.
func (e *Engine) watchTask(instanceID, nodeID string, ch <-chan taskgraph.TaskOutcome) {
	outcome, ok := <-ch
	if !ok {
		return
	}
	e.deliverOutcome(instanceID, nodeID, outcome)
}

func (e *Engine) deliverOutcome(instanceID, nodeID string, outcome taskgraph.TaskOutcome) {
	in := e.lookup(instanceID)
	if in == nil {
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()

	delete(in.watching, nodeID)

	// The stale-watcher guard: outcomes only apply to a running instance
	// that still has the node active. Paused instances keep the outcome for
	// resume; everything else drops it.
	switch in.data.State {
	case models.InstancePaused:
		in.buffered = append(in.buffered, nodeOutcome{nodeID: nodeID, outcome: outcome})
		return
	case models.InstanceRunning:
	default:
		e.log.Debug("dropping stale task outcome", "instance", instanceID, "node", nodeID)
		return
	}
	if _, active := in.active[nodeID]; !active {
		e.log.Debug("dropping outcome for inactive node", "instance", instanceID, "node", nodeID)
		return
	}

	e.applyOutcomeLocked(in, nodeID, outcome)
	if in.data.State == models.InstanceRunning {
		e.stepLocked(in)
	}
}

func (e *Engine) applyOutcomeLocked(in *instance, nodeID string, outcome taskgraph.TaskOutcome) {
	if outcome.Status == models.StatusCompleted {
		e.completeNodeLocked(in, nodeID, map[string]any{"result": outcome.Result})
		e.activateAllTargetsLocked(in, nodeID)
		return
	}
	msg := outcome.Err
	if msg == "" {
		msg = "task failed"
	}
	e.failNodeLocked(in, nodeID, fmt.Sprintf("task %q failed: %s", outcome.TaskID, msg))
}

// joinReadyLocked reports whether every edge feeding the join has a
// completed source. A join with no incoming edges is trivially ready.
func (e *Engine) joinReadyLocked(in *instance, nodeID string) bool {
	for _, edge := range in.incoming[nodeID] {
		if _, done := in.completed[edge.Source]; !done {
			return false
		}
	}
	return true
}

// activateLocked adds a node to the frontier. Already-active nodes are not
// duplicated (two fork branches feeding one join activate it once); nodes
// that completed earlier may be activated again.
func (e *Engine) activateLocked(in *instance, nodeID string) {
	if nodeID == "" {
		return
	}
	if _, active := in.active[nodeID]; active {
		return
	}
	in.active[nodeID] = struct{}{}
	in.data.ActiveNodes = append(in.data.ActiveNodes, nodeID)
}

func (e *Engine) activateAllTargetsLocked(in *instance, nodeID string) {
	for _, edge := range in.outgoing[nodeID] {
		e.activateLocked(in, edge.Target)
	}
}

func (e *Engine) deactivateLocked(in *instance, nodeID string) {
	if _, active := in.active[nodeID]; !active {
		return
	}
	delete(in.active, nodeID)
	for i, id := range in.data.ActiveNodes {
		if id == nodeID {
			in.data.ActiveNodes = append(in.data.ActiveNodes[:i], in.data.ActiveNodes[i+1:]...)
			break
		}
	}
}

// completeNodeLocked retires a node from the frontier and records its
// result. CompletedNodes keeps set semantics even when a node is re-entered.
func (e *Engine) completeNodeLocked(in *instance, nodeID string, result map[string]any) {
	e.deactivateLocked(in, nodeID)
	if _, done := in.completed[nodeID]; !done {
		in.completed[nodeID] = struct{}{}
		in.data.CompletedNodes = append(in.data.CompletedNodes, nodeID)
	}
	in.data.NodeResults[nodeID] = result
	e.log.Debug("node completed", "instance", in.data.ID, "node", nodeID)
}

// failNodeLocked fails the whole instance on behalf of one node.
func (e *Engine) failNodeLocked(in *instance, nodeID, cause string) {
	e.deactivateLocked(in, nodeID)
	e.failInstanceLocked(in, fmt.Sprintf("node %q failed: %s", nodeID, cause))
}

func (e *Engine) failInstanceLocked(in *instance, msg string) {
	e.log.Warn("instance failed", "instance", in.data.ID, "workflow", in.data.WorkflowID, "error", msg)
	e.finishLocked(in, models.InstanceFailed, msg)
}

// finishLocked is the single terminal transition point: it clears the
// frontier, unregisters outstanding task watchers, stamps the end time, stops
// the timer, and releases waiters. Calling it on an already-terminal instance
// is a no-op.
func (e *Engine) finishLocked(in *instance, state models.InstanceState, errMsg string) {
	if in.data.State.Terminal() {
		return
	}
	in.data.State = state
	in.data.Error = errMsg
	in.data.EndTime = time.Now()
	in.data.ActiveNodes = nil
	in.active = make(map[string]struct{})

	// Watches the instance no longer needs are unregistered from the graph so
	// their goroutines exit now, not when the task eventually terminates.
	// Outcomes already in flight are still dropped as stale by deliverOutcome.
	for _, w := range in.watching {
		e.graph.Unwatch(w.taskID, w.ch)
	}
	in.watching = make(map[string]taskWatch)
	in.buffered = nil

	if in.timer != nil {
		in.timer.Stop()
		in.timer = nil
	}
	close(in.done)
	e.log.Info("instance finished", "instance", in.data.ID, "state", state)
}
