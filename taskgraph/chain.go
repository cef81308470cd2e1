package taskgraph

import (
	"fmt"
	"time"

	"github.com/josephgoksu/FlowWing/models"
)

// Chain is a lightweight sequential pipeline: each task automatically depends
// on the one before it. Chains are a convenience over plain tasks; the
// node-graph engine in the engine package is the DAG counterpart.
type Chain struct {
	ID        string    `json:"id"`
	TaskIDs   []string  `json:"taskIds"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateWorkflow builds a chain from task specs, wiring each task to depend
// on its predecessor. All specs are validated before anything is stored, so a
// bad spec leaves the graph untouched. The chain ID must be new.
func (g *Graph) CreateWorkflow(id string, specs []models.Task) (Chain, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if id == "" {
		return Chain{}, fmt.Errorf("workflow id is required")
	}
	if _, exists := g.chains[id]; exists {
		return Chain{}, fmt.Errorf("workflow %q already exists", id)
	}
	if len(specs) == 0 {
		return Chain{}, fmt.Errorf("workflow %q has no tasks", id)
	}

	prepared := make([]models.Task, 0, len(specs))
	seen := make(map[string]struct{}, len(specs))
	prevID := ""
	for i, spec := range specs {
		if prevID != "" {
			spec.Dependencies = append(append([]string(nil), spec.Dependencies...), prevID)
		}
		t, err := g.normalizeLocked(spec)
		if err != nil {
			return Chain{}, fmt.Errorf("task %d: %w", i, err)
		}
		if _, dup := seen[t.ID]; dup {
			return Chain{}, fmt.Errorf("task %d: task %q already exists", i, t.ID)
		}
		seen[t.ID] = struct{}{}
		prepared = append(prepared, t)
		prevID = t.ID
	}

	ids := make([]string, 0, len(prepared))
	for _, t := range prepared {
		g.insertLocked(t)
		if g.cfg.AutoAssignTasks && t.Assignee == "" {
			stored := g.tasks[t.ID]
			if g.assignOptimalLocked(&stored) {
				g.tasks[t.ID] = stored
			}
		}
		ids = append(ids, t.ID)
	}

	chain := Chain{ID: id, TaskIDs: ids, CreatedAt: time.Now()}
	g.chains[id] = chain
	g.chainOrder = append(g.chainOrder, id)
	g.log.Debug("chain workflow created", "workflow", id, "tasks", len(ids))
	return cloneChain(chain), nil
}

// Workflow returns the chain, false when the ID is unknown.
func (g *Graph) Workflow(id string) (Chain, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.chains[id]
	if !ok {
		return Chain{}, false
	}
	return cloneChain(c), true
}

// StartWorkflow advances every chain task whose dependencies are already
// satisfied: assigned tasks move to in-progress, unassigned ones get an
// assignment attempt. Returns false when the chain ID is unknown. Tasks
// deleted since chain creation are skipped.
func (g *Graph) StartWorkflow(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.chains[id]
	if !ok {
		return false
	}
	for _, taskID := range c.TaskIDs {
		t, ok := g.tasks[taskID]
		if !ok {
			continue
		}
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
			g.tasks[taskID] = t
			g.log.Debug("chain task started", "workflow", id, "task", taskID)
			g.checkParallelCapLocked()
			continue
		}
		if g.assignOptimalLocked(&t) {
			g.tasks[taskID] = t
			g.log.Debug("chain task assigned", "workflow", id, "task", taskID, "assignee", t.Assignee)
		}
	}
	return true
}

func cloneChain(c Chain) Chain {
	c.TaskIDs = append([]string(nil), c.TaskIDs...)
	return c
}
