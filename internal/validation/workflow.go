package validation

import (
	"context"
	"fmt"

	"github.com/loomworks/loom/internal/graph"
	"github.com/loomworks/loom/pkg/schema"
)

// Reader is the subset of the persistence layer the validator needs. All
// methods must exclude soft-deleted records.
type Reader interface {
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	GetNode(ctx context.Context, id string) (*schema.Node, error)
	ListNodes(ctx context.Context, workflowID string) ([]*schema.Node, error)
	ListConnections(ctx context.Context, workflowID string) ([]*schema.Connection, error)
}

// Validator validates whole workflows and candidate connections against the
// persisted graph. Both operations are read-only: the service calls them
// pre-commit to reject invalid transitions and on demand for the validate
// API. Graph algorithms run against an in-memory snapshot fetched at the
// start of validation.
type Validator struct {
	reader   Reader
	registry *Registry
}

// NewValidator creates a Validator over the given reader and node rules.
func NewValidator(reader Reader, registry *Registry) *Validator {
	return &Validator{reader: reader, registry: registry}
}

// Registry returns the node type registry the validator was built with.
func (v *Validator) Registry() *Registry { return v.registry }

// ValidateNode checks a single node's type and configuration.
func (v *Validator) ValidateNode(node *schema.Node) *schema.ValidationResult {
	return v.registry.ValidateNodeConfig(node)
}

// ValidateWorkflow validates a complete workflow: existence, non-empty node
// set, every node's configuration, referentially sound connections, and
// acyclicity. Problems are aggregated, never short-circuited, except where a
// downstream check is meaningless (missing workflow, empty node set).
// A non-nil error reports an infrastructure failure, not a validation
// outcome.
func (v *Validator) ValidateWorkflow(ctx context.Context, workflowID string) (*schema.ValidationResult, error) {
	result := schema.NewValidationResult()

	if _, err := v.reader.GetWorkflow(ctx, workflowID); err != nil {
		if schema.IsNotFound(err) {
			result.AddError(fmt.Sprintf("workflow %s not found", workflowID))
			return result, nil
		}
		return nil, err
	}

	nodes, err := v.reader.ListNodes(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		result.AddError("workflow must have at least one node")
		return result, nil
	}

	nodeIDs := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		nodeIDs[node.ID] = true
		nodeResult := v.registry.ValidateNodeConfig(node)
		for _, msg := range nodeResult.Errors {
			result.AddError(fmt.Sprintf("node %s (%s): %s", node.Name, node.ID, msg))
		}
	}

	connections, err := v.reader.ListConnections(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	for _, conn := range connections {
		if !nodeIDs[conn.SourceNodeID] {
			result.AddError(fmt.Sprintf("connection references non-existent source node: %s", conn.SourceNodeID))
		}
		if !nodeIDs[conn.TargetNodeID] {
			result.AddError(fmt.Sprintf("connection references non-existent target node: %s", conn.TargetNodeID))
		}
	}

	if graph.DetectCycle(adjacencyOf(connections)) {
		result.AddError("workflow contains cyclic dependencies")
	}

	return result, nil
}

// ValidateConnection checks a candidate edge before it is committed: both
// endpoints must exist, belong to the given workflow, and the edge must not
// introduce a cycle. Cycle safety is evaluated against the graph as it would
// be AFTER the edge is added, not the graph before.
func (v *Validator) ValidateConnection(ctx context.Context, sourceNodeID, targetNodeID, workflowID string) (*schema.ValidationResult, error) {
	result := schema.NewValidationResult()

	source, err := v.reader.GetNode(ctx, sourceNodeID)
	if err != nil && !schema.IsNotFound(err) {
		return nil, err
	}
	if source == nil {
		result.AddError(fmt.Sprintf("source node %s not found", sourceNodeID))
	}

	target, err := v.reader.GetNode(ctx, targetNodeID)
	if err != nil && !schema.IsNotFound(err) {
		return nil, err
	}
	if target == nil {
		result.AddError(fmt.Sprintf("target node %s not found", targetNodeID))
	}

	// Endpoints must exist before relationships can be reasoned about.
	if !result.IsValid {
		return result, nil
	}

	if source.WorkflowID != workflowID {
		result.AddError(fmt.Sprintf("source node does not belong to workflow %s", workflowID))
	}
	if target.WorkflowID != workflowID {
		result.AddError(fmt.Sprintf("target node does not belong to workflow %s", workflowID))
	}
	if !result.IsValid {
		return result, nil
	}

	connections, err := v.reader.ListConnections(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	edges := make([]graph.Edge, 0, len(connections)+1)
	for _, conn := range connections {
		edges = append(edges, graph.Edge{Source: conn.SourceNodeID, Target: conn.TargetNodeID})
	}
	edges = append(edges, graph.Edge{Source: sourceNodeID, Target: targetNodeID})

	if graph.DetectCycle(graph.BuildAdjacencyList(edges)) {
		result.AddError("connection would create a cycle in the workflow")
	}

	return result, nil
}

func adjacencyOf(connections []*schema.Connection) graph.AdjacencyList {
	edges := make([]graph.Edge, 0, len(connections))
	for _, conn := range connections {
		edges = append(edges, graph.Edge{Source: conn.SourceNodeID, Target: conn.TargetNodeID})
	}
	return graph.BuildAdjacencyList(edges)
}
