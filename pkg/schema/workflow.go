package schema

import "time"

// NodeType enumerates the kinds of processing nodes in a workflow.
type NodeType string

const (
	NodeTypeLLM       NodeType = "LLM"
	NodeTypeCondition NodeType = "CONDITION"
	NodeTypeCode      NodeType = "CODE"
	NodeTypeHTTP      NodeType = "HTTP"
	NodeTypeTransform NodeType = "TRANSFORM"
)

// ExecutionStatus enumerates the states of an execution record.
// Records are written by the external execution engine; loom only stores them.
type ExecutionStatus string

const (
	ExecutionStatusPending ExecutionStatus = "PENDING"
	ExecutionStatusRunning ExecutionStatus = "RUNNING"
	ExecutionStatusSuccess ExecutionStatus = "SUCCESS"
	ExecutionStatusFailed  ExecutionStatus = "FAILED"
)

// Workflow is a DAG workflow definition. Its node set together with its
// connection set must form a directed acyclic graph once it has at least one
// node; empty workflows are permitted only before first save/validation.
type Workflow struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	WorkspaceID  string         `json:"workspace_id"`
	InputSchema  map[string]any `json:"input_schema,omitempty"`
	OutputSchema map[string]any `json:"output_schema,omitempty"`
	CreatedBy    string         `json:"created_by"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    *time.Time     `json:"deleted_at,omitempty"`
}

// Node is a typed, configured unit of work within a workflow. It is never
// executed by loom; config semantics are enforced by the node type registry.
type Node struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Type       NodeType       `json:"type"`
	Name       string         `json:"name"`
	Config     map[string]any `json:"config,omitempty"`
	Position   map[string]any `json:"position,omitempty"` // {x, y}, presentation-only
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  *time.Time     `json:"deleted_at,omitempty"`
}

// Connection is a directed, port-named edge between two nodes of the same
// workflow. Connections are never soft-deleted.
type Connection struct {
	ID           string    `json:"id"`
	WorkflowID   string    `json:"workflow_id"`
	SourceNodeID string    `json:"source_node_id"`
	TargetNodeID string    `json:"target_node_id"`
	SourceOutput string    `json:"source_output"`
	TargetInput  string    `json:"target_input"`
	CreatedAt    time.Time `json:"created_at"`
}

// ExecutionRecord is one historical run of a workflow, written by the
// external execution engine. Deleted (hard) together with its workflow.
type ExecutionRecord struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	Inputs      map[string]any  `json:"inputs,omitempty"`
	Outputs     map[string]any  `json:"outputs,omitempty"`
	Status      ExecutionStatus `json:"status"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMs  int64           `json:"duration_ms,omitempty"`
}

// NodeExecutionResult is the per-node detail of one execution record.
type NodeExecutionResult struct {
	ID                string          `json:"id"`
	ExecutionRecordID string          `json:"execution_record_id"`
	NodeID            string          `json:"node_id"`
	Status            ExecutionStatus `json:"status"`
	Inputs            map[string]any  `json:"inputs,omitempty"`
	Outputs           map[string]any  `json:"outputs,omitempty"`
	Error             string          `json:"error,omitempty"`
	DurationMs        int64           `json:"duration_ms"`
}

// IsDeleted reports whether the workflow has been soft-deleted.
func (w *Workflow) IsDeleted() bool { return w.DeletedAt != nil }

// IsDeleted reports whether the node has been soft-deleted.
func (n *Node) IsDeleted() bool { return n.DeletedAt != nil }
