package engine

import (
	"fmt"
	"maps"
	"sync"

	"github.com/josephgoksu/FlowWing/models"
)

// Registry holds validated workflow definitions keyed by ID. Definitions are
// immutable once stored: Register deep-copies on the way in, Workflow on the
// way out. Re-registering an ID overwrites the previous definition without
// touching instances already created from it.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]models.WorkflowDefinition
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]models.WorkflowDefinition)}
}

// Register validates the definition schema and structure: node IDs must be
// unique, there must be exactly one start node and at least one end node,
// every edge endpoint must name a declared node, and the edge graph must be
// acyclic.
func (r *Registry) Register(def models.WorkflowDefinition) error {
	if err := models.ValidateStruct(def); err != nil {
		return fmt.Errorf("invalid workflow: %w", err)
	}
	if err := validateStructure(def); err != nil {
		return fmt.Errorf("invalid workflow %q: %w", def.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.ID]; !exists {
		r.order = append(r.order, def.ID)
	}
	r.defs[def.ID] = cloneDefinition(def)
	return nil
}

// Workflow returns a copy of the definition, false when the ID is unknown.
func (r *Registry) Workflow(id string) (models.WorkflowDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	if !ok {
		return models.WorkflowDefinition{}, false
	}
	return cloneDefinition(def), true
}

// Workflows returns copies of every definition in registration order.
func (r *Registry) Workflows() []models.WorkflowDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.WorkflowDefinition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, cloneDefinition(r.defs[id]))
	}
	return out
}

func validateStructure(def models.WorkflowDefinition) error {
	seen := make(map[string]struct{}, len(def.Nodes))
	starts, ends := 0, 0
	for _, n := range def.Nodes {
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("duplicate node ID %q", n.ID)
		}
		seen[n.ID] = struct{}{}
		switch n.Type {
		case models.NodeStart:
			starts++
		case models.NodeEnd:
			ends++
		}
	}
	if starts != 1 {
		return fmt.Errorf("workflow must have exactly one start node, found %d", starts)
	}
	if ends == 0 {
		return fmt.Errorf("workflow must have at least one end node")
	}
	for i, e := range def.Edges {
		if _, ok := seen[e.Source]; !ok {
			return fmt.Errorf("edge %d: unknown source node %q", i, e.Source)
		}
		if _, ok := seen[e.Target]; !ok {
			return fmt.Errorf("edge %d: unknown target node %q", i, e.Target)
		}
	}
	return detectCycle(def)
}

// detectCycle walks the edge graph depth-first and rejects any directed
// cycle. Re-entering a node never produces a different outcome (conditions
// are side-effect-free and terminal tasks resolve immediately), so a back
// edge would re-run its loop without end.
func detectCycle(def models.WorkflowDefinition) error {
	next := make(map[string][]string, len(def.Nodes))
	for _, e := range def.Edges {
		next[e.Source] = append(next[e.Source], e.Target)
	}

	visited := make(map[string]bool, len(def.Nodes))
	onPath := make(map[string]bool, len(def.Nodes))

	var walk func(id string) error
	walk = func(id string) error {
		visited[id] = true
		onPath[id] = true
		for _, target := range next[id] {
			if !visited[target] {
				if err := walk(target); err != nil {
					return err
				}
			} else if onPath[target] {
				return fmt.Errorf("cycle detected involving edge %q -> %q", id, target)
			}
		}
		onPath[id] = false
		return nil
	}

	for _, n := range def.Nodes {
		if !visited[n.ID] {
			if err := walk(n.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func cloneDefinition(def models.WorkflowDefinition) models.WorkflowDefinition {
	out := def
	out.Nodes = make([]models.WorkflowNode, len(def.Nodes))
	for i, n := range def.Nodes {
		n.Inputs = maps.Clone(n.Inputs)
		n.Outputs = maps.Clone(n.Outputs)
		n.Metadata = maps.Clone(n.Metadata)
		out.Nodes[i] = n
	}
	out.Edges = append([]models.WorkflowEdge(nil), def.Edges...)
	out.Inputs = maps.Clone(def.Inputs)
	out.Outputs = maps.Clone(def.Outputs)
	out.Metadata = maps.Clone(def.Metadata)
	return out
}
