package schema

// FormatVersion is the serialization format version stamped on exported
// workflow documents. Imports fail closed on any other value.
const FormatVersion = "1.0"

// WorkflowDocument is the versioned, self-describing exchange format for a
// workflow. Node and connection records reference each other via the
// document-local node identifiers; those are external and never trusted as
// storage identifiers on import.
type WorkflowDocument struct {
	Version     string               `json:"version"`
	Workflow    *DocumentWorkflow    `json:"workflow"`
	Nodes       []DocumentNode       `json:"nodes"`
	Connections []DocumentConnection `json:"connections"`
}

// DocumentWorkflow carries the workflow-level fields of a document.
// Identity fields (id, workspace_id, created_by, timestamps) are recorded on
// export for provenance but ignored on import.
type DocumentWorkflow struct {
	ID           string         `json:"id,omitempty"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	WorkspaceID  string         `json:"workspace_id,omitempty"`
	InputSchema  map[string]any `json:"input_schema,omitempty"`
	OutputSchema map[string]any `json:"output_schema,omitempty"`
	CreatedAt    string         `json:"created_at,omitempty"`
	UpdatedAt    string         `json:"updated_at,omitempty"`
	CreatedBy    string         `json:"created_by,omitempty"`
}

// DocumentNode is one node record of a document.
type DocumentNode struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	Config     map[string]any `json:"config,omitempty"`
	Position   map[string]any `json:"position,omitempty"`
}

// DocumentConnection is one connection record of a document. Endpoints name
// document-local node IDs.
type DocumentConnection struct {
	ID           string `json:"id,omitempty"`
	WorkflowID   string `json:"workflow_id,omitempty"`
	SourceNodeID string `json:"source_node_id"`
	TargetNodeID string `json:"target_node_id"`
	SourceOutput string `json:"source_output"`
	TargetInput  string `json:"target_input"`
}
