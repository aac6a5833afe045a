package store

import (
	"context"

	"github.com/loomworks/loom/pkg/schema"
)

// WorkflowFilter narrows and pages workflow listings. Soft-deleted workflows
// are always excluded.
type WorkflowFilter struct {
	WorkspaceID string
	Skip        int
	Limit       int // <= 0 means the default page size
}

// WorkflowUpdate holds the mutable workflow fields. Nil means "leave as is".
type WorkflowUpdate struct {
	Name         *string
	Description  *string
	InputSchema  *map[string]any
	OutputSchema *map[string]any
}

// NodeUpdate holds the mutable node fields. Nil means "leave as is".
type NodeUpdate struct {
	Name     *string
	Config   *map[string]any
	Position *map[string]any
}

// Store defines the persistence layer contract.
// All read methods exclude soft-deleted records. Implementations must be
// safe for concurrent use.
type Store interface {
	// Workflows
	CreateWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, int, error)
	UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) error
	TouchWorkflow(ctx context.Context, id string) error
	SoftDeleteWorkflow(ctx context.Context, id string) error

	// Nodes
	CreateNode(ctx context.Context, node *schema.Node) error
	GetNode(ctx context.Context, id string) (*schema.Node, error)
	ListNodes(ctx context.Context, workflowID string) ([]*schema.Node, error)
	UpdateNode(ctx context.Context, id string, update NodeUpdate) error
	SoftDeleteNode(ctx context.Context, id string) error
	SoftDeleteWorkflowNodes(ctx context.Context, workflowID string) error

	// Connections (hard-deleted, never soft-deleted)
	CreateConnection(ctx context.Context, conn *schema.Connection) error
	GetConnection(ctx context.Context, id string) (*schema.Connection, error)
	ListConnections(ctx context.Context, workflowID string) ([]*schema.Connection, error)
	DeleteConnection(ctx context.Context, id string) error
	DeleteNodeConnections(ctx context.Context, nodeID string) error

	// Execution history (written by the external engine, stored here)
	CreateExecutionRecord(ctx context.Context, rec *schema.ExecutionRecord) error
	ListExecutionRecords(ctx context.Context, workflowID string) ([]*schema.ExecutionRecord, error)
	DeleteWorkflowExecutions(ctx context.Context, workflowID string) error
	CreateNodeExecutionResult(ctx context.Context, res *schema.NodeExecutionResult) error
	ListNodeExecutionResults(ctx context.Context, executionRecordID string) ([]*schema.NodeExecutionResult, error)

	// InTx runs fn against a transactional view of the store. fn returning an
	// error rolls back; otherwise the transaction commits.
	InTx(ctx context.Context, fn func(Store) error) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
