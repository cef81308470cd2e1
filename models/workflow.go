package models

import "time"

// NodeType represents the kind of a workflow node.
type NodeType string

const (
	NodeStart     NodeType = "start"
	NodeEnd       NodeType = "end"
	NodeTask      NodeType = "task"
	NodeCondition NodeType = "condition"
	NodeFork      NodeType = "fork"
	NodeJoin      NodeType = "join"
)

// WorkflowNode is a single step in a workflow definition.
//
// TaskID is only meaningful on task nodes: when set, the engine waits on that
// existing task; when empty, the engine creates a task from the node's name,
// description and inputs. Condition holds the boolean expression evaluated on
// condition nodes.
type WorkflowNode struct {
	ID          string         `json:"id" yaml:"id" validate:"required"`
	Type        NodeType       `json:"type" yaml:"type" validate:"required,oneof=start end task condition fork join"`
	Name        string         `json:"name,omitempty" yaml:"name,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	TaskID      string         `json:"taskId,omitempty" yaml:"taskId,omitempty"`
	Condition   string         `json:"condition,omitempty" yaml:"condition,omitempty"`
	Inputs      map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs     map[string]any `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// WorkflowEdge connects two nodes. Condition is an optional label ("true" or
// "false") matched against the source node's boolean result; unlabeled edges
// fire unconditionally.
type WorkflowEdge struct {
	ID        string `json:"id,omitempty" yaml:"id,omitempty"`
	Source    string `json:"source" yaml:"source" validate:"required"`
	Target    string `json:"target" yaml:"target" validate:"required"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty" validate:"omitempty,oneof=true false"`
}

// WorkflowDefinition is an immutable description of a workflow graph.
// Structural rules beyond the schema (exactly one start node, at least one
// end node, edge endpoints resolving to declared nodes) are enforced at
// registration time.
type WorkflowDefinition struct {
	ID          string         `json:"id" yaml:"id" validate:"required"`
	Name        string         `json:"name" yaml:"name" validate:"required"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string         `json:"version,omitempty" yaml:"version,omitempty"`
	Nodes       []WorkflowNode `json:"nodes" yaml:"nodes" validate:"required,min=1,dive"`
	Edges       []WorkflowEdge `json:"edges,omitempty" yaml:"edges,omitempty" validate:"dive"`
	Inputs      map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs     map[string]any `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// InstanceState represents the lifecycle state of a workflow instance.
type InstanceState string

const (
	InstanceCreated   InstanceState = "created"
	InstanceRunning   InstanceState = "running"
	InstanceCompleted InstanceState = "completed"
	InstanceFailed    InstanceState = "failed"
	InstancePaused    InstanceState = "paused"
	InstanceCanceled  InstanceState = "canceled"
)

// Terminal reports whether the instance state is final.
func (s InstanceState) Terminal() bool {
	return s == InstanceCompleted || s == InstanceFailed || s == InstanceCanceled
}

// WorkflowInstance is one execution of a registered workflow definition.
//
// ActiveNodes is the execution frontier in activation order; CompletedNodes
// records every node that finished, in completion order. NodeResults maps a
// node ID to the outputs it produced. The engine hands out deep copies, so a
// returned instance never aliases engine state.
type WorkflowInstance struct {
	ID             string                    `json:"id" validate:"required,uuid4"`
	WorkflowID     string                    `json:"workflowId" validate:"required"`
	State          InstanceState             `json:"state" validate:"required,oneof=created running completed failed paused canceled"`
	ActiveNodes    []string                  `json:"activeNodes,omitempty"`
	CompletedNodes []string                  `json:"completedNodes,omitempty"`
	NodeResults    map[string]map[string]any `json:"nodeResults,omitempty"`
	Variables      map[string]any            `json:"variables,omitempty"`
	StartTime      time.Time                 `json:"startTime,omitzero"`
	EndTime        time.Time                 `json:"endTime,omitzero"`
	Error          string                    `json:"error,omitempty"`
}
