package workflow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/logging"
	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/internal/validation"
	"github.com/loomworks/loom/pkg/schema"
)

// CreateWorkflowRequest holds the fields for a new workflow.
type CreateWorkflowRequest struct {
	Name         string
	Description  string
	WorkspaceID  string
	CreatedBy    string
	InputSchema  map[string]any
	OutputSchema map[string]any
}

// AddNodeRequest holds the fields for a new node.
type AddNodeRequest struct {
	WorkflowID string
	Type       schema.NodeType
	Name       string
	Config     map[string]any
	Position   map[string]any
}

// ConnectRequest holds the fields for a new connection between two nodes of
// the same workflow.
type ConnectRequest struct {
	WorkflowID   string
	SourceNodeID string
	TargetNodeID string
	SourceOutput string
	TargetInput  string
}

// Service orchestrates workflow persistence. Every mutation that can change
// the graph's shape runs the validator first and is rejected, unpersisted,
// when the result is invalid. Cascades (workflow delete, node delete) run in
// a single transaction.
//
// The service holds no locks: two concurrent connect requests that are each
// cycle-free against the graph they observed can jointly introduce a cycle.
// Closing that gap is a deployment concern (isolation level or an external
// per-workflow lock), not handled here.
type Service struct {
	store     store.Store
	validator *validation.Validator
	logger    *slog.Logger
}

// NewService creates a Service.
func NewService(st store.Store, validator *validation.Validator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, validator: validator, logger: logger}
}

// --- Workflows ---

// CreateWorkflow persists a new, empty workflow.
func (s *Service) CreateWorkflow(ctx context.Context, req CreateWorkflowRequest) (*schema.Workflow, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow name is required")
	}
	wf := &schema.Workflow{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Description:  req.Description,
		WorkspaceID:  req.WorkspaceID,
		InputSchema:  req.InputSchema,
		OutputSchema: req.OutputSchema,
		CreatedBy:    req.CreatedBy,
	}
	if err := s.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	ctx = logging.WithWorkflowID(logging.WithWorkspaceID(ctx, wf.WorkspaceID), wf.ID)
	s.logger.InfoContext(ctx, "workflow created", slog.String("name", wf.Name))
	return s.store.GetWorkflow(ctx, wf.ID)
}

// GetWorkflow returns a workflow; soft-deleted workflows read as not found.
func (s *Service) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	return s.store.GetWorkflow(ctx, id)
}

// ListWorkflows returns a page of workflows plus the total match count.
func (s *Service) ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*schema.Workflow, int, error) {
	return s.store.ListWorkflows(ctx, filter)
}

// UpdateWorkflow applies a partial update and returns the updated workflow.
func (s *Service) UpdateWorkflow(ctx context.Context, id string, update store.WorkflowUpdate) (*schema.Workflow, error) {
	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow name is required")
	}
	if err := s.store.UpdateWorkflow(ctx, id, update); err != nil {
		return nil, err
	}
	return s.store.GetWorkflow(ctx, id)
}

// DeleteWorkflow soft-deletes the workflow and its live nodes, and
// hard-deletes its execution history, atomically. Connections stay as rows
// owned by the soft-deleted graph.
func (s *Service) DeleteWorkflow(ctx context.Context, id string) error {
	err := s.store.InTx(ctx, func(tx store.Store) error {
		if err := tx.SoftDeleteWorkflow(ctx, id); err != nil {
			return err
		}
		if err := tx.SoftDeleteWorkflowNodes(ctx, id); err != nil {
			return err
		}
		return tx.DeleteWorkflowExecutions(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(logging.WithWorkflowID(ctx, id), "workflow deleted")
	return nil
}

// SaveWorkflow validates the workflow and, when it passes, bumps its
// updated_at timestamp. The validation outcome is returned either way;
// an invalid workflow is left untouched.
func (s *Service) SaveWorkflow(ctx context.Context, id string) (*schema.ValidationResult, error) {
	result, err := s.validator.ValidateWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if !result.IsValid {
		return result, nil
	}
	if err := s.store.TouchWorkflow(ctx, id); err != nil {
		return nil, err
	}
	s.logger.InfoContext(logging.WithWorkflowID(ctx, id), "workflow saved")
	return result, nil
}

// ValidateWorkflow runs the full workflow validation.
func (s *Service) ValidateWorkflow(ctx context.Context, id string) (*schema.ValidationResult, error) {
	return s.validator.ValidateWorkflow(ctx, id)
}

// --- Nodes ---

// AddNode validates and persists a new node. An invalid configuration is
// rejected before anything is written.
func (s *Service) AddNode(ctx context.Context, req AddNodeRequest) (*schema.Node, error) {
	if _, err := s.store.GetWorkflow(ctx, req.WorkflowID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "node name is required")
	}

	node := &schema.Node{
		ID:         uuid.New().String(),
		WorkflowID: req.WorkflowID,
		Type:       req.Type,
		Name:       req.Name,
		Config:     req.Config,
		Position:   req.Position,
	}
	if err := s.validator.ValidateNode(node).ToError(); err != nil {
		return nil, err
	}
	if err := s.store.CreateNode(ctx, node); err != nil {
		return nil, err
	}
	ctx = logging.WithNodeID(logging.WithWorkflowID(ctx, node.WorkflowID), node.ID)
	s.logger.InfoContext(ctx, "node added", slog.String("type", string(node.Type)))
	return s.store.GetNode(ctx, node.ID)
}

// GetNode returns a node; soft-deleted nodes read as not found.
func (s *Service) GetNode(ctx context.Context, id string) (*schema.Node, error) {
	return s.store.GetNode(ctx, id)
}

// ListNodes returns the live nodes of a workflow.
func (s *Service) ListNodes(ctx context.Context, workflowID string) ([]*schema.Node, error) {
	if _, err := s.store.GetWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}
	return s.store.ListNodes(ctx, workflowID)
}

// UpdateNode revalidates the node as it would look after the update and
// persists only when valid.
func (s *Service) UpdateNode(ctx context.Context, id string, update store.NodeUpdate) (*schema.Node, error) {
	node, err := s.store.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}

	updated := *node
	if update.Name != nil {
		if strings.TrimSpace(*update.Name) == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "node name is required")
		}
		updated.Name = *update.Name
	}
	if update.Config != nil {
		updated.Config = *update.Config
	}
	if update.Position != nil {
		updated.Position = *update.Position
	}
	if err := s.validator.ValidateNode(&updated).ToError(); err != nil {
		return nil, err
	}

	if err := s.store.UpdateNode(ctx, id, update); err != nil {
		return nil, err
	}
	return s.store.GetNode(ctx, id)
}

// DeleteNode soft-deletes the node and hard-deletes every connection
// touching it, atomically. Dangling edges never survive a node's removal.
func (s *Service) DeleteNode(ctx context.Context, id string) error {
	node, err := s.store.GetNode(ctx, id)
	if err != nil {
		return err
	}
	err = s.store.InTx(ctx, func(tx store.Store) error {
		if err := tx.SoftDeleteNode(ctx, id); err != nil {
			return err
		}
		return tx.DeleteNodeConnections(ctx, id)
	})
	if err != nil {
		return err
	}
	ctx = logging.WithNodeID(logging.WithWorkflowID(ctx, node.WorkflowID), id)
	s.logger.InfoContext(ctx, "node deleted")
	return nil
}

// --- Connections ---

// ConnectNodes validates the candidate edge, including cycle safety against
// the graph as it would be after the insert, and persists it when valid.
func (s *Service) ConnectNodes(ctx context.Context, req ConnectRequest) (*schema.Connection, error) {
	if _, err := s.store.GetWorkflow(ctx, req.WorkflowID); err != nil {
		return nil, err
	}
	result, err := s.validator.ValidateConnection(ctx, req.SourceNodeID, req.TargetNodeID, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	if err := result.ToError(); err != nil {
		return nil, err
	}

	// Port names are a request-level convenience; the store and the
	// document format require them.
	sourceOutput := req.SourceOutput
	if sourceOutput == "" {
		sourceOutput = "output"
	}
	targetInput := req.TargetInput
	if targetInput == "" {
		targetInput = "input"
	}
	conn := &schema.Connection{
		ID:           uuid.New().String(),
		WorkflowID:   req.WorkflowID,
		SourceNodeID: req.SourceNodeID,
		TargetNodeID: req.TargetNodeID,
		SourceOutput: sourceOutput,
		TargetInput:  targetInput,
	}
	if err := s.store.CreateConnection(ctx, conn); err != nil {
		return nil, err
	}
	ctx = logging.WithWorkflowID(ctx, req.WorkflowID)
	s.logger.InfoContext(ctx, "nodes connected",
		slog.String("source", req.SourceNodeID), slog.String("target", req.TargetNodeID))
	return s.store.GetConnection(ctx, conn.ID)
}

// GetConnection returns a connection by ID.
func (s *Service) GetConnection(ctx context.Context, id string) (*schema.Connection, error) {
	return s.store.GetConnection(ctx, id)
}

// ListConnections returns a workflow's connections.
func (s *Service) ListConnections(ctx context.Context, workflowID string) ([]*schema.Connection, error) {
	if _, err := s.store.GetWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}
	return s.store.ListConnections(ctx, workflowID)
}

// DeleteConnection removes a connection by ID.
func (s *Service) DeleteConnection(ctx context.Context, id string) error {
	return s.store.DeleteConnection(ctx, id)
}

// --- Execution history ---

// ListExecutionRecords returns a workflow's stored execution history.
func (s *Service) ListExecutionRecords(ctx context.Context, workflowID string) ([]*schema.ExecutionRecord, error) {
	if _, err := s.store.GetWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}
	return s.store.ListExecutionRecords(ctx, workflowID)
}
