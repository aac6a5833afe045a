package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/loomworks/loom/internal/workflow"
	"github.com/loomworks/loom/pkg/schema"
)

// handleWorkflowCreate creates a new, empty workflow.
func (s *LoomServer) handleWorkflowCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}

	wf, createErr := s.service.CreateWorkflow(ctx, workflow.CreateWorkflowRequest{
		Name:         name,
		Description:  req.GetString("description", ""),
		WorkspaceID:  req.GetString("workspace_id", ""),
		CreatedBy:    req.GetString("created_by", ""),
		InputSchema:  mcp.ParseStringMap(req, "input_schema", nil),
		OutputSchema: mcp.ParseStringMap(req, "output_schema", nil),
	})
	if createErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("create failed: %v", createErr)), nil
	}
	return marshalResult(wf)
}

// handleWorkflowGet returns a workflow with its nodes and connections.
func (s *LoomServer) handleWorkflowGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	wf, getErr := s.service.GetWorkflow(ctx, workflowID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", getErr)), nil
	}
	nodes, nodesErr := s.service.ListNodes(ctx, workflowID)
	if nodesErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("node listing failed: %v", nodesErr)), nil
	}
	connections, connErr := s.service.ListConnections(ctx, workflowID)
	if connErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("connection listing failed: %v", connErr)), nil
	}

	return marshalResult(map[string]any{
		"workflow":    wf,
		"nodes":       nodes,
		"connections": connections,
	})
}

// handleWorkflowDelete soft-deletes a workflow with its cascades.
func (s *LoomServer) handleWorkflowDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	if delErr := s.service.DeleteWorkflow(ctx, workflowID); delErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("delete failed: %v", delErr)), nil
	}
	return marshalResult(map[string]any{"ok": true, "workflow_id": workflowID})
}

// handleWorkflowValidate runs full workflow validation and returns the
// aggregated result.
func (s *LoomServer) handleWorkflowValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	result, valErr := s.service.ValidateWorkflow(ctx, workflowID)
	if valErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("validation failed: %v", valErr)), nil
	}
	return marshalResult(result)
}

// handleNodeAdd adds a typed node to a workflow.
func (s *LoomServer) handleNodeAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	nodeType, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError("type is required"), nil
	}
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}

	node, addErr := s.service.AddNode(ctx, workflow.AddNodeRequest{
		WorkflowID: workflowID,
		Type:       schema.NodeType(nodeType),
		Name:       name,
		Config:     mcp.ParseStringMap(req, "config", nil),
		Position:   mcp.ParseStringMap(req, "position", nil),
	})
	if addErr != nil {
		return toolError(addErr), nil
	}
	return marshalResult(node)
}

// handleNodeDelete soft-deletes a node and its touching connections.
func (s *LoomServer) handleNodeDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nodeID, err := req.RequireString("node_id")
	if err != nil {
		return mcp.NewToolResultError("node_id is required"), nil
	}

	if delErr := s.service.DeleteNode(ctx, nodeID); delErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("delete failed: %v", delErr)), nil
	}
	return marshalResult(map[string]any{"ok": true, "node_id": nodeID})
}

// handleConnect connects two nodes after cycle-safety validation.
func (s *LoomServer) handleConnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	sourceNodeID, err := req.RequireString("source_node_id")
	if err != nil {
		return mcp.NewToolResultError("source_node_id is required"), nil
	}
	targetNodeID, err := req.RequireString("target_node_id")
	if err != nil {
		return mcp.NewToolResultError("target_node_id is required"), nil
	}

	conn, connErr := s.service.ConnectNodes(ctx, workflow.ConnectRequest{
		WorkflowID:   workflowID,
		SourceNodeID: sourceNodeID,
		TargetNodeID: targetNodeID,
		SourceOutput: req.GetString("source_output", ""),
		TargetInput:  req.GetString("target_input", ""),
	})
	if connErr != nil {
		return toolError(connErr), nil
	}
	return marshalResult(conn)
}

// handleExport exports a workflow as a versioned document.
func (s *LoomServer) handleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	doc, expErr := s.serializer.Export(ctx, workflowID)
	if expErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("export failed: %v", expErr)), nil
	}
	return marshalResult(doc)
}

// handleImport imports a versioned document under fresh identifiers.
func (s *LoomServer) handleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docMap := mcp.ParseStringMap(req, "document", nil)
	if docMap == nil {
		return mcp.NewToolResultError("document is required"), nil
	}
	data, marshalErr := json.Marshal(docMap)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid document: %v", marshalErr)), nil
	}

	wf, impErr := s.serializer.ImportJSON(ctx, data,
		req.GetString("workspace_id", ""), req.GetString("created_by", ""))
	if impErr != nil {
		return toolError(impErr), nil
	}
	return marshalResult(wf)
}

// toolError renders a failure as a tool error, keeping aggregated validation
// details visible to the caller.
func toolError(err error) *mcp.CallToolResult {
	if le, ok := err.(*schema.LoomError); ok && le.Details != nil {
		if data, jsonErr := json.Marshal(map[string]any{
			"code":    le.Code,
			"message": le.Message,
			"details": le.Details,
		}); jsonErr == nil {
			return mcp.NewToolResultError(string(data))
		}
	}
	return mcp.NewToolResultError(err.Error())
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
