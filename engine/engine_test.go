package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/josephgoksu/FlowWing/models"
	"github.com/josephgoksu/FlowWing/taskgraph"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *taskgraph.Graph) {
	t.Helper()
	gcfg := taskgraph.DefaultConfig()
	gcfg.Logger = quietLogger()
	g := taskgraph.New(gcfg)
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	e, err := New(g, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e, g
}

func register(t *testing.T, e *Engine, def models.WorkflowDefinition) {
	t.Helper()
	if err := e.RegisterWorkflow(def); err != nil {
		t.Fatalf("RegisterWorkflow(%q) error = %v", def.ID, err)
	}
}

func createAndStart(t *testing.T, e *Engine, workflowID string, vars map[string]any) models.WorkflowInstance {
	t.Helper()
	inst, err := e.CreateWorkflowInstance(workflowID, vars)
	if err != nil {
		t.Fatalf("CreateWorkflowInstance(%q) error = %v", workflowID, err)
	}
	if err := e.StartWorkflowInstance(inst.ID); err != nil {
		t.Fatalf("StartWorkflowInstance error = %v", err)
	}
	return inst
}

func waitDone(t *testing.T, e *Engine, id string) models.WorkflowInstance {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	inst, err := e.WaitForInstance(ctx, id)
	if err != nil {
		t.Fatalf("WaitForInstance error = %v (state %s)", err, inst.State)
	}
	return inst
}

func seedTask(t *testing.T, g *taskgraph.Graph, id string) models.Task {
	t.Helper()
	created, err := g.CreateTask(models.Task{
		ID:          id,
		Title:       "Task " + id,
		Description: "externally driven task",
	})
	if err != nil {
		t.Fatalf("CreateTask(%q) error = %v", id, err)
	}
	return created
}

func finishTask(t *testing.T, g *taskgraph.Graph, id string, result any) {
	t.Helper()
	status := models.StatusCompleted
	_, found, err := g.UpdateTask(id, taskgraph.TaskUpdate{Status: &status, Result: &result})
	if err != nil || !found {
		t.Fatalf("completing task %q: found=%v err=%v", id, found, err)
	}
}

func failTask(t *testing.T, g *taskgraph.Graph, id, msg string) {
	t.Helper()
	status := models.StatusFailed
	_, found, err := g.UpdateTask(id, taskgraph.TaskUpdate{Status: &status, Error: &msg})
	if err != nil || !found {
		t.Fatalf("failing task %q: found=%v err=%v", id, found, err)
	}
}

// taskFlow is the canonical three-node workflow: start -> task -> end.
func taskFlow(id, taskID string) models.WorkflowDefinition {
	return models.WorkflowDefinition{
		ID:   id,
		Name: "Single task flow",
		Nodes: []models.WorkflowNode{
			{ID: "s", Type: models.NodeStart},
			{ID: "t1", Type: models.NodeTask, TaskID: taskID},
			{ID: "e", Type: models.NodeEnd},
		},
		Edges: []models.WorkflowEdge{
			{Source: "s", Target: "t1"},
			{Source: "t1", Target: "e"},
		},
	}
}

func TestMinimalStartEnd(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	register(t, e, startEnd("minimal"))

	inst := createAndStart(t, e, "minimal", nil)
	done := waitDone(t, e, inst.ID)

	if done.State != models.InstanceCompleted {
		t.Fatalf("state = %s, want completed", done.State)
	}
	if len(done.ActiveNodes) != 0 {
		t.Errorf("active nodes remain: %v", done.ActiveNodes)
	}
	want := []string{"s", "e"}
	if !slices.Equal(done.CompletedNodes, want) {
		t.Errorf("completed nodes = %v, want %v", done.CompletedNodes, want)
	}
	if done.EndTime.IsZero() {
		t.Error("end time not set")
	}
}

func TestTaskNode_ExternalCompletion(t *testing.T) {
	// The reference scenario: start -> task(A) -> end, task completed
	// externally with result "ok".
	e, g := newTestEngine(t, Config{})
	seedTask(t, g, "A")
	register(t, e, taskFlow("flow", "A"))

	inst := createAndStart(t, e, "flow", nil)

	running, _ := e.Instance(inst.ID)
	if running.State != models.InstanceRunning {
		t.Fatalf("state before task completion = %s, want running", running.State)
	}
	if !slices.Contains(running.ActiveNodes, "t1") {
		t.Fatalf("t1 not active while waiting, active = %v", running.ActiveNodes)
	}

	finishTask(t, g, "A", "ok")
	done := waitDone(t, e, inst.ID)

	if done.State != models.InstanceCompleted {
		t.Fatalf("state = %s (error %q), want completed", done.State, done.Error)
	}
	if got := done.NodeResults["t1"]["result"]; got != "ok" {
		t.Errorf(`NodeResults["t1"]["result"] = %v, want "ok"`, got)
	}
}

func TestTaskNode_AutoCreatesTask(t *testing.T) {
	e, g := newTestEngine(t, Config{})
	def := taskFlow("auto", "build-artifacts")
	def.Nodes[1].Name = "Build artifacts"
	def.Nodes[1].Description = "Compile and package the release"
	def.Nodes[1].Inputs = map[string]any{"target": "linux-amd64"}
	register(t, e, def)

	inst := createAndStart(t, e, "auto", nil)

	task, ok := g.Task("build-artifacts")
	if !ok {
		t.Fatal("engine did not create the referenced task")
	}
	if task.Title != "Build artifacts" {
		t.Errorf("task title = %q", task.Title)
	}
	if task.Metadata["target"] != "linux-amd64" {
		t.Errorf("task metadata = %v, want node inputs", task.Metadata)
	}

	finishTask(t, g, "build-artifacts", "built")
	done := waitDone(t, e, inst.ID)
	if done.State != models.InstanceCompleted {
		t.Fatalf("state = %s (error %q), want completed", done.State, done.Error)
	}
	if got := done.NodeResults["t1"]["result"]; got != "built" {
		t.Errorf("node result = %v, want built", got)
	}
}

func TestTaskNode_IdempotentReentry(t *testing.T) {
	e, g := newTestEngine(t, Config{})
	seedTask(t, g, "A")
	finishTask(t, g, "A", 7)
	register(t, e, taskFlow("reentry", "A"))

	inst := createAndStart(t, e, "reentry", nil)

	// The task was already terminal, so the instance completes during start
	// without any watcher round-trip.
	done, _ := e.Instance(inst.ID)
	if done.State != models.InstanceCompleted {
		t.Fatalf("state = %s, want completed", done.State)
	}
	if got := done.NodeResults["t1"]["result"]; got != 7 {
		t.Errorf("node result = %v, want 7", got)
	}
}

func TestTaskNode_MissingTaskID(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	def := taskFlow("no-ref", "")
	register(t, e, def)

	inst := createAndStart(t, e, "no-ref", nil)
	done := waitDone(t, e, inst.ID)

	if done.State != models.InstanceFailed {
		t.Fatalf("state = %s, want failed", done.State)
	}
	if !strings.Contains(done.Error, "No taskId specified") {
		t.Errorf("error = %q, want it to name the missing taskId", done.Error)
	}
}

func TestTaskNode_FailurePropagates(t *testing.T) {
	e, g := newTestEngine(t, Config{})
	seedTask(t, g, "A")
	register(t, e, taskFlow("doomed", "A"))

	inst := createAndStart(t, e, "doomed", nil)
	failTask(t, g, "A", "disk full")
	done := waitDone(t, e, inst.ID)

	if done.State != models.InstanceFailed {
		t.Fatalf("state = %s, want failed", done.State)
	}
	if !strings.Contains(done.Error, "t1") || !strings.Contains(done.Error, "disk full") {
		t.Errorf("error = %q, want failing node and task error", done.Error)
	}
}

func forkJoinFlow() models.WorkflowDefinition {
	return models.WorkflowDefinition{
		ID:   "fork-join",
		Name: "Fork join",
		Nodes: []models.WorkflowNode{
			{ID: "s", Type: models.NodeStart},
			{ID: "f", Type: models.NodeFork},
			{ID: "t1", Type: models.NodeTask, TaskID: "A"},
			{ID: "t2", Type: models.NodeTask, TaskID: "B"},
			{ID: "j", Type: models.NodeJoin},
			{ID: "e", Type: models.NodeEnd},
		},
		Edges: []models.WorkflowEdge{
			{Source: "s", Target: "f"},
			{Source: "f", Target: "t1"},
			{Source: "f", Target: "t2"},
			{Source: "t1", Target: "j"},
			{Source: "t2", Target: "j"},
			{Source: "j", Target: "e"},
		},
	}
}

func TestForkJoin_BothCompletionOrders(t *testing.T) {
	orders := []struct {
		name  string
		first string
		last  string
	}{
		{"A then B", "A", "B"},
		{"B then A", "B", "A"},
	}

	for _, order := range orders {
		t.Run(order.name, func(t *testing.T) {
			e, g := newTestEngine(t, Config{})
			seedTask(t, g, "A")
			seedTask(t, g, "B")
			register(t, e, forkJoinFlow())

			inst := createAndStart(t, e, "fork-join", nil)

			finishTask(t, g, order.first, nil)

			// Only one branch is done: the join must still be waiting.
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			if _, err := e.WaitForInstance(ctx, inst.ID); err == nil {
				t.Fatal("instance finished with one branch incomplete")
			}
			cancel()
			mid, _ := e.Instance(inst.ID)
			if slices.Contains(mid.CompletedNodes, "j") {
				t.Fatal("join completed before both branches")
			}

			finishTask(t, g, order.last, nil)
			done := waitDone(t, e, inst.ID)

			if done.State != models.InstanceCompleted {
				t.Fatalf("state = %s (error %q), want completed", done.State, done.Error)
			}
			for _, node := range []string{"s", "f", "t1", "t2", "j", "e"} {
				if !slices.Contains(done.CompletedNodes, node) {
					t.Errorf("node %s missing from completed nodes %v", node, done.CompletedNodes)
				}
			}
		})
	}
}

func conditionFlow(expr string) models.WorkflowDefinition {
	return models.WorkflowDefinition{
		ID:   "branching",
		Name: "Conditional branch",
		Nodes: []models.WorkflowNode{
			{ID: "s", Type: models.NodeStart},
			{ID: "c", Type: models.NodeCondition, Condition: expr},
			{ID: "yes", Type: models.NodeEnd},
			{ID: "no", Type: models.NodeEnd},
		},
		Edges: []models.WorkflowEdge{
			{Source: "s", Target: "c"},
			{Source: "c", Target: "yes", Condition: "true"},
			{Source: "c", Target: "no", Condition: "false"},
		},
	}
}

func TestCondition_Branching(t *testing.T) {
	tests := []struct {
		name     string
		vars     map[string]any
		wantNode string
		skipNode string
		want     bool
	}{
		{"true branch", map[string]any{"x": true}, "yes", "no", true},
		{"false branch", map[string]any{"x": false}, "no", "yes", false},
		{"evaluation error counts as false", nil, "no", "yes", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(t, Config{})
			register(t, e, conditionFlow("variables.x == true"))

			inst := createAndStart(t, e, "branching", tt.vars)
			done := waitDone(t, e, inst.ID)

			if done.State != models.InstanceCompleted {
				t.Fatalf("state = %s (error %q), want completed", done.State, done.Error)
			}
			if got := done.NodeResults["c"]["result"]; got != tt.want {
				t.Errorf("condition result = %v, want %v", got, tt.want)
			}
			if !slices.Contains(done.CompletedNodes, tt.wantNode) {
				t.Errorf("expected branch %q to run, completed = %v", tt.wantNode, done.CompletedNodes)
			}
			if slices.Contains(done.CompletedNodes, tt.skipNode) {
				t.Errorf("both branches ran: %v", done.CompletedNodes)
			}
		})
	}
}

func TestCondition_WithoutExpression(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	def := models.WorkflowDefinition{
		ID:   "plain-cond",
		Name: "Condition without expression",
		Nodes: []models.WorkflowNode{
			{ID: "s", Type: models.NodeStart},
			{ID: "c", Type: models.NodeCondition},
			{ID: "taken", Type: models.NodeEnd},
			{ID: "labeled", Type: models.NodeEnd},
		},
		Edges: []models.WorkflowEdge{
			{Source: "s", Target: "c"},
			{Source: "c", Target: "taken"},
			{Source: "c", Target: "labeled", Condition: "true"},
		},
	}
	register(t, e, def)

	inst := createAndStart(t, e, "plain-cond", nil)
	done := waitDone(t, e, inst.ID)

	if done.State != models.InstanceCompleted {
		t.Fatalf("state = %s, want completed", done.State)
	}
	if !slices.Contains(done.CompletedNodes, "taken") {
		t.Error("unlabeled edge did not fire")
	}
	if slices.Contains(done.CompletedNodes, "labeled") {
		t.Error("labeled edge fired from a condition without an expression")
	}
}

func TestVariables_CallerOverridesInputs(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	def := conditionFlow("variables.x == true")
	def.Inputs = map[string]any{"x": false, "keep": "inherited"}
	register(t, e, def)

	inst, err := e.CreateWorkflowInstance("branching", map[string]any{"x": true})
	if err != nil {
		t.Fatalf("CreateWorkflowInstance error = %v", err)
	}
	if inst.Variables["x"] != true || inst.Variables["keep"] != "inherited" {
		t.Fatalf("variables = %v, want caller x=true with inherited keys", inst.Variables)
	}

	if err := e.StartWorkflowInstance(inst.ID); err != nil {
		t.Fatalf("StartWorkflowInstance error = %v", err)
	}
	done := waitDone(t, e, inst.ID)
	if !slices.Contains(done.CompletedNodes, "yes") {
		t.Errorf("caller override did not steer the branch, completed = %v", done.CompletedNodes)
	}
}

func TestTimeout(t *testing.T) {
	e, g := newTestEngine(t, Config{ExecutionTimeout: 100 * time.Millisecond})
	seedTask(t, g, "A")
	register(t, e, taskFlow("slow", "A"))

	start := time.Now()
	inst := createAndStart(t, e, "slow", nil)
	done := waitDone(t, e, inst.ID)

	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("instance finished after %v, before the timeout", elapsed)
	}
	if done.State != models.InstanceFailed {
		t.Fatalf("state = %s, want failed", done.State)
	}
	if done.Error != "Workflow execution timeout" {
		t.Errorf("error = %q, want the timeout message", done.Error)
	}

	// Late completion must not resurrect the instance.
	finishTask(t, g, "A", "too late")
	time.Sleep(20 * time.Millisecond)
	after, _ := e.Instance(inst.ID)
	if after.State != models.InstanceFailed {
		t.Errorf("state after late completion = %s, want failed", after.State)
	}
	if slices.Contains(after.CompletedNodes, "t1") {
		t.Error("stale task completion mutated a timed-out instance")
	}
}

func TestCancel(t *testing.T) {
	e, g := newTestEngine(t, Config{})
	seedTask(t, g, "A")
	register(t, e, taskFlow("cancelable", "A"))

	inst, err := e.CreateWorkflowInstance("cancelable", nil)
	if err != nil {
		t.Fatalf("CreateWorkflowInstance error = %v", err)
	}

	// Cancellation is only valid while running.
	if err := e.CancelWorkflowInstance(inst.ID); !errors.Is(err, ErrNotRunning) {
		t.Errorf("cancel before start error = %v, want ErrNotRunning", err)
	}

	if err := e.StartWorkflowInstance(inst.ID); err != nil {
		t.Fatalf("StartWorkflowInstance error = %v", err)
	}
	if err := e.CancelWorkflowInstance(inst.ID); err != nil {
		t.Fatalf("CancelWorkflowInstance error = %v", err)
	}

	done := waitDone(t, e, inst.ID)
	if done.State != models.InstanceCanceled {
		t.Fatalf("state = %s, want canceled", done.State)
	}
	if len(done.ActiveNodes) != 0 {
		t.Errorf("active nodes remain after cancel: %v", done.ActiveNodes)
	}

	if err := e.CancelWorkflowInstance(inst.ID); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second cancel error = %v, want ErrNotRunning", err)
	}

	// The task watcher is stale now; its completion must be dropped.
	finishTask(t, g, "A", "ignored")
	time.Sleep(20 * time.Millisecond)
	after, _ := e.Instance(inst.ID)
	if after.State != models.InstanceCanceled || slices.Contains(after.CompletedNodes, "t1") {
		t.Errorf("stale completion leaked into canceled instance: %+v", after)
	}
}

func TestCancelReleasesTaskWatchers(t *testing.T) {
	e, g := newTestEngine(t, Config{})
	seedTask(t, g, "A")
	register(t, e, taskFlow("abandoned", "A"))

	before := runtime.NumGoroutine()

	for i := 0; i < 20; i++ {
		inst := createAndStart(t, e, "abandoned", nil)
		if err := e.CancelWorkflowInstance(inst.ID); err != nil {
			t.Fatalf("CancelWorkflowInstance error = %v", err)
		}
	}

	// Every start parked one watcher goroutine on task A; cancellation must
	// release all of them even though the task never completes.
	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before {
		if time.Now().After(deadline) {
			t.Fatalf("goroutines = %d, want back to %d: watchers outlived their instances",
				runtime.NumGoroutine(), before)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The task keeps no stale channels either: completing it now has nobody
	// to notify and must not disturb the canceled instances.
	finishTask(t, g, "A", nil)
	time.Sleep(20 * time.Millisecond)
	for _, inst := range e.Instances() {
		if inst.State != models.InstanceCanceled {
			t.Errorf("instance %s state = %s, want canceled", inst.ID, inst.State)
		}
	}
}

func TestStuckWorkflowFails(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	def := models.WorkflowDefinition{
		ID:   "stuck",
		Name: "Start with nowhere to go",
		Nodes: []models.WorkflowNode{
			{ID: "s", Type: models.NodeStart},
			{ID: "e", Type: models.NodeEnd},
		},
	}
	register(t, e, def)

	inst := createAndStart(t, e, "stuck", nil)
	done := waitDone(t, e, inst.ID)

	if done.State != models.InstanceFailed {
		t.Fatalf("state = %s, want failed", done.State)
	}
	if !strings.Contains(done.Error, "END not reached") {
		t.Errorf("error = %q, want the liveness message", done.Error)
	}
}

func TestCyclicDefinitionRejected(t *testing.T) {
	// Two expressionless conditions feeding each other would re-run without
	// end if they ever reached the stepper; registration must refuse the
	// definition outright.
	e, _ := newTestEngine(t, Config{ExecutionTimeout: 100 * time.Millisecond})
	def := models.WorkflowDefinition{
		ID:   "looping",
		Name: "Condition loop",
		Nodes: []models.WorkflowNode{
			{ID: "s", Type: models.NodeStart},
			{ID: "c1", Type: models.NodeCondition},
			{ID: "c2", Type: models.NodeCondition},
			{ID: "e", Type: models.NodeEnd},
		},
		Edges: []models.WorkflowEdge{
			{Source: "s", Target: "c1"},
			{Source: "c1", Target: "c2"},
			{Source: "c2", Target: "c1"},
			{Source: "c2", Target: "e"},
		},
	}

	err := e.RegisterWorkflow(def)
	if err == nil {
		t.Fatal("cyclic definition registered without error")
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Errorf("error = %v, want cycle rejection", err)
	}
	if _, err := e.CreateWorkflowInstance("looping", nil); !errors.Is(err, ErrUnknownWorkflow) {
		t.Errorf("create after rejected registration error = %v, want ErrUnknownWorkflow", err)
	}
}

func TestEndShortCircuitsParallelBranch(t *testing.T) {
	e, g := newTestEngine(t, Config{})
	seedTask(t, g, "A")
	seedTask(t, g, "B")
	def := models.WorkflowDefinition{
		ID:   "short-circuit",
		Name: "First branch wins",
		Nodes: []models.WorkflowNode{
			{ID: "s", Type: models.NodeStart},
			{ID: "f", Type: models.NodeFork},
			{ID: "t1", Type: models.NodeTask, TaskID: "A"},
			{ID: "t2", Type: models.NodeTask, TaskID: "B"},
			{ID: "e", Type: models.NodeEnd},
		},
		Edges: []models.WorkflowEdge{
			{Source: "s", Target: "f"},
			{Source: "f", Target: "t1"},
			{Source: "f", Target: "t2"},
			{Source: "t1", Target: "e"},
		},
	}
	register(t, e, def)

	inst := createAndStart(t, e, "short-circuit", nil)
	finishTask(t, g, "A", nil)
	done := waitDone(t, e, inst.ID)

	if done.State != models.InstanceCompleted {
		t.Fatalf("state = %s, want completed", done.State)
	}
	if slices.Contains(done.CompletedNodes, "t2") {
		t.Error("losing branch recorded as completed")
	}

	// The other branch's watcher is stale once the instance completed.
	finishTask(t, g, "B", nil)
	time.Sleep(20 * time.Millisecond)
	after, _ := e.Instance(inst.ID)
	if slices.Contains(after.CompletedNodes, "t2") {
		t.Error("stale branch completion leaked into a completed instance")
	}
}

func TestPauseResume(t *testing.T) {
	e, g := newTestEngine(t, Config{})
	seedTask(t, g, "A")
	register(t, e, taskFlow("pausable", "A"))

	inst := createAndStart(t, e, "pausable", nil)

	if err := e.ResumeWorkflowInstance(inst.ID); !errors.Is(err, ErrNotPaused) {
		t.Errorf("resume while running error = %v, want ErrNotPaused", err)
	}
	if err := e.PauseWorkflowInstance(inst.ID); err != nil {
		t.Fatalf("PauseWorkflowInstance error = %v", err)
	}
	if err := e.PauseWorkflowInstance(inst.ID); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second pause error = %v, want ErrNotRunning", err)
	}

	// Task completion while paused is buffered, not applied.
	finishTask(t, g, "A", "held")
	time.Sleep(20 * time.Millisecond)
	paused, _ := e.Instance(inst.ID)
	if paused.State != models.InstancePaused {
		t.Fatalf("state = %s, want paused", paused.State)
	}
	if slices.Contains(paused.CompletedNodes, "t1") {
		t.Fatal("buffered outcome applied while paused")
	}

	if err := e.ResumeWorkflowInstance(inst.ID); err != nil {
		t.Fatalf("ResumeWorkflowInstance error = %v", err)
	}
	done := waitDone(t, e, inst.ID)
	if done.State != models.InstanceCompleted {
		t.Fatalf("state after resume = %s (error %q), want completed", done.State, done.Error)
	}
	if got := done.NodeResults["t1"]["result"]; got != "held" {
		t.Errorf("node result = %v, want held", got)
	}
}

func TestLifecycleErrors(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	register(t, e, startEnd("wf"))

	if _, err := e.CreateWorkflowInstance("ghost", nil); !errors.Is(err, ErrUnknownWorkflow) {
		t.Errorf("create on unknown workflow error = %v, want ErrUnknownWorkflow", err)
	}
	if err := e.StartWorkflowInstance("ghost"); !errors.Is(err, ErrUnknownInstance) {
		t.Errorf("start on unknown instance error = %v, want ErrUnknownInstance", err)
	}
	if err := e.PauseWorkflowInstance("ghost"); !errors.Is(err, ErrUnknownInstance) {
		t.Errorf("pause on unknown instance error = %v, want ErrUnknownInstance", err)
	}
	if _, err := e.WaitForInstance(context.Background(), "ghost"); !errors.Is(err, ErrUnknownInstance) {
		t.Errorf("wait on unknown instance error = %v, want ErrUnknownInstance", err)
	}

	inst, err := e.CreateWorkflowInstance("wf", nil)
	if err != nil {
		t.Fatalf("CreateWorkflowInstance error = %v", err)
	}
	if err := e.StartWorkflowInstance(inst.ID); err != nil {
		t.Fatalf("StartWorkflowInstance error = %v", err)
	}
	if err := e.StartWorkflowInstance(inst.ID); !errors.Is(err, ErrNotStartable) {
		t.Errorf("second start error = %v, want ErrNotStartable", err)
	}
}

func TestInstanceSnapshotsAreIsolated(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	def := startEnd("iso")
	def.Inputs = map[string]any{"k": "v"}
	register(t, e, def)

	inst := createAndStart(t, e, "iso", nil)
	done := waitDone(t, e, inst.ID)

	done.Variables["k"] = "tampered"
	done.NodeResults["s"]["result"] = "tampered"
	done.CompletedNodes[0] = "tampered"

	fresh, _ := e.Instance(inst.ID)
	if fresh.Variables["k"] != "v" {
		t.Error("variables snapshot leaked engine state")
	}
	if fresh.NodeResults["s"]["result"] == "tampered" {
		t.Error("node results snapshot leaked engine state")
	}
	if fresh.CompletedNodes[0] != "s" {
		t.Error("completed nodes snapshot leaked engine state")
	}
}

func TestInstances_CreationOrder(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	register(t, e, startEnd("wf"))

	first, _ := e.CreateWorkflowInstance("wf", nil)
	second, _ := e.CreateWorkflowInstance("wf", nil)

	all := e.Instances()
	if len(all) != 2 || all[0].ID != first.ID || all[1].ID != second.ID {
		t.Errorf("Instances() order wrong: %v", []string{all[0].ID, all[1].ID})
	}
}

func TestWaitForInstance_ContextExpiry(t *testing.T) {
	e, g := newTestEngine(t, Config{})
	seedTask(t, g, "A")
	register(t, e, taskFlow("waiting", "A"))

	inst := createAndStart(t, e, "waiting", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	snap, err := e.WaitForInstance(ctx, inst.ID)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
	if snap.State != models.InstanceRunning {
		t.Errorf("snapshot state = %s, want running", snap.State)
	}
}
