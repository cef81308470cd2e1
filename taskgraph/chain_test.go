package taskgraph

import (
	"testing"

	"github.com/josephgoksu/FlowWing/models"
)

func TestCreateWorkflow_ChainsDependencies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoAssignTasks = false
	g := New(cfg)

	chain, err := g.CreateWorkflow("release", []models.Task{
		spec("Build artifacts"),
		spec("Run test suite"),
		spec("Publish release"),
	})
	if err != nil {
		t.Fatalf("CreateWorkflow error = %v", err)
	}
	if len(chain.TaskIDs) != 3 {
		t.Fatalf("chain has %d tasks, want 3", len(chain.TaskIDs))
	}

	first, _ := g.Task(chain.TaskIDs[0])
	if len(first.Dependencies) != 0 {
		t.Errorf("first task has dependencies %v, want none", first.Dependencies)
	}
	for i := 1; i < 3; i++ {
		task, _ := g.Task(chain.TaskIDs[i])
		if len(task.Dependencies) != 1 || task.Dependencies[0] != chain.TaskIDs[i-1] {
			t.Errorf("task %d dependencies = %v, want [%s]", i, task.Dependencies, chain.TaskIDs[i-1])
		}
	}

	got, ok := g.Workflow("release")
	if !ok {
		t.Fatal("Workflow(release) not found")
	}
	if got.ID != "release" || len(got.TaskIDs) != 3 {
		t.Errorf("Workflow() = %+v", got)
	}
}

func TestCreateWorkflow_Validation(t *testing.T) {
	g := New(DefaultConfig())

	if _, err := g.CreateWorkflow("", []models.Task{spec("Lone task")}); err == nil {
		t.Error("expected an error for an empty workflow id")
	}
	if _, err := g.CreateWorkflow("empty", nil); err == nil {
		t.Error("expected an error for a workflow without tasks")
	}

	if _, err := g.CreateWorkflow("ok", []models.Task{spec("Lone task")}); err != nil {
		t.Fatalf("CreateWorkflow error = %v", err)
	}
	if _, err := g.CreateWorkflow("ok", []models.Task{spec("Other task")}); err == nil {
		t.Error("expected an error for a duplicate workflow id")
	}

	// A bad spec in the middle must leave the graph untouched.
	before := len(g.Tasks())
	_, err := g.CreateWorkflow("broken", []models.Task{
		spec("Fine task"),
		{Title: "ab", Description: "too short a title"},
	})
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if got := len(g.Tasks()); got != before {
		t.Errorf("failed chain creation stored %d tasks", got-before)
	}
	if _, ok := g.Workflow("broken"); ok {
		t.Error("failed chain must not be registered")
	}
}

func TestStartWorkflow_Pipeline(t *testing.T) {
	// Single worker with capacity 1: the chain drains one task at a time as
	// completions free the worker.
	w := newStubWorker("w1")
	g := New(DefaultConfig(), w)

	chain, err := g.CreateWorkflow("pipeline", []models.Task{
		spec("Step one"),
		spec("Step two"),
	})
	if err != nil {
		t.Fatalf("CreateWorkflow error = %v", err)
	}

	if !g.StartWorkflow("pipeline") {
		t.Fatal("StartWorkflow returned false")
	}

	first, _ := g.Task(chain.TaskIDs[0])
	if first.Status != models.StatusInProgress || first.Assignee != "w1" {
		t.Errorf("first task: status=%q assignee=%q, want in-progress/w1", first.Status, first.Assignee)
	}
	second, _ := g.Task(chain.TaskIDs[1])
	if second.Status != models.StatusPending || second.Assignee != "" {
		t.Errorf("second task: status=%q assignee=%q, want pending/unassigned", second.Status, second.Assignee)
	}

	complete(t, g, chain.TaskIDs[0], nil)
	second, _ = g.Task(chain.TaskIDs[1])
	if second.Status != models.StatusAssigned || second.Assignee != "w1" {
		t.Errorf("second task after first completed: status=%q assignee=%q, want assigned/w1", second.Status, second.Assignee)
	}
}

func TestStartWorkflow_Unknown(t *testing.T) {
	g := New(DefaultConfig())
	if g.StartWorkflow("missing") {
		t.Error("StartWorkflow must return false for an unknown id")
	}
}

func TestStartWorkflow_SkipsDeletedTasks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoAssignTasks = false
	g := New(cfg, newStubWorker("w1"))

	chain, err := g.CreateWorkflow("gappy", []models.Task{
		spec("Step one"),
		spec("Step two"),
	})
	if err != nil {
		t.Fatalf("CreateWorkflow error = %v", err)
	}

	g.DeleteTask(chain.TaskIDs[0])

	if !g.StartWorkflow("gappy") {
		t.Fatal("StartWorkflow returned false")
	}
	// Deleting step one stripped the dependency, so step two is startable
	// and picks up the free worker.
	second, _ := g.Task(chain.TaskIDs[1])
	if second.Status != models.StatusAssigned || second.Assignee != "w1" {
		t.Errorf("second task: status=%q assignee=%q, want assigned/w1", second.Status, second.Assignee)
	}
}
