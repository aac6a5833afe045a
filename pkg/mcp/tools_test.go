package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/expressions"
	"github.com/loomworks/loom/internal/serializer"
	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/internal/validation"
	"github.com/loomworks/loom/internal/workflow"
	"github.com/loomworks/loom/pkg/schema"
)

func newTestServer(t *testing.T) *LoomServer {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	cel, err := expressions.NewCELChecker()
	require.NoError(t, err)
	registry := validation.NewRegistry(validation.Checkers{
		CEL:  cel,
		Expr: expressions.NewExprChecker(),
		JQ:   expressions.NewGoJQChecker(),
	})
	validator := validation.NewValidator(st, registry)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := workflow.NewService(st, validator, logger)

	ser, err := serializer.New(st)
	require.NoError(t, err)

	return NewLoomServer(LoomServerDeps{Service: svc, Serializer: ser, Logger: logger})
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

// resultJSON decodes the first text content of a successful tool result.
func resultJSON(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.False(t, result.IsError, "tool returned error: %+v", result.Content)
	require.NotEmpty(t, result.Content)
	text := mcp.GetTextFromContent(result.Content[0])
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	return out
}

func createWorkflowViaTool(t *testing.T, s *LoomServer) string {
	t.Helper()
	result, err := s.handleWorkflowCreate(context.Background(), buildRequest("loom.workflow.create", map[string]any{
		"name":         "pipeline",
		"workspace_id": "ws-1",
		"created_by":   "agent-1",
	}))
	require.NoError(t, err)
	out := resultJSON(t, result)
	id, _ := out["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func addNodeViaTool(t *testing.T, s *LoomServer, workflowID, name string) string {
	t.Helper()
	result, err := s.handleNodeAdd(context.Background(), buildRequest("loom.node.add", map[string]any{
		"workflow_id": workflowID,
		"type":        "CODE",
		"name":        name,
		"config":      map[string]any{"code": "return input"},
	}))
	require.NoError(t, err)
	out := resultJSON(t, result)
	id, _ := out["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestWorkflowCreateTool(t *testing.T) {
	s := newTestServer(t)

	id := createWorkflowViaTool(t, s)

	result, err := s.handleWorkflowGet(context.Background(), buildRequest("loom.workflow.get", map[string]any{
		"workflow_id": id,
	}))
	require.NoError(t, err)
	out := resultJSON(t, result)
	wf, ok := out["workflow"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "pipeline", wf["name"])
}

func TestWorkflowCreateTool_MissingName(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleWorkflowCreate(context.Background(), buildRequest("loom.workflow.create", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestNodeAddTool_InvalidConfig(t *testing.T) {
	s := newTestServer(t)
	id := createWorkflowViaTool(t, s)

	result, err := s.handleNodeAdd(context.Background(), buildRequest("loom.node.add", map[string]any{
		"workflow_id": id,
		"type":        "LLM",
		"name":        "summarize",
		"config":      map[string]any{"model": "gpt-4"},
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, mcp.GetTextFromContent(result.Content[0]), "prompt")
}

func TestConnectTool_RejectsCycle(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	id := createWorkflowViaTool(t, s)
	a := addNodeViaTool(t, s, id, "a")
	b := addNodeViaTool(t, s, id, "b")

	result, err := s.handleConnect(ctx, buildRequest("loom.connect", map[string]any{
		"workflow_id":    id,
		"source_node_id": a,
		"target_node_id": b,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	result, err = s.handleConnect(ctx, buildRequest("loom.connect", map[string]any{
		"workflow_id":    id,
		"source_node_id": b,
		"target_node_id": a,
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, mcp.GetTextFromContent(result.Content[0]), "cycle")
}

func TestWorkflowValidateTool(t *testing.T) {
	s := newTestServer(t)
	id := createWorkflowViaTool(t, s)

	result, err := s.handleWorkflowValidate(context.Background(), buildRequest("loom.workflow.validate", map[string]any{
		"workflow_id": id,
	}))
	require.NoError(t, err)
	out := resultJSON(t, result)
	assert.Equal(t, false, out["is_valid"])
}

func TestExportImportTools(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	id := createWorkflowViaTool(t, s)
	a := addNodeViaTool(t, s, id, "a")
	b := addNodeViaTool(t, s, id, "b")

	_, err := s.handleConnect(ctx, buildRequest("loom.connect", map[string]any{
		"workflow_id":    id,
		"source_node_id": a,
		"target_node_id": b,
	}))
	require.NoError(t, err)

	exported, err := s.handleExport(ctx, buildRequest("loom.export", map[string]any{
		"workflow_id": id,
	}))
	require.NoError(t, err)
	doc := resultJSON(t, exported)
	assert.Equal(t, schema.FormatVersion, doc["version"])

	imported, err := s.handleImport(ctx, buildRequest("loom.import", map[string]any{
		"document":     doc,
		"workspace_id": "ws-2",
		"created_by":   "agent-2",
	}))
	require.NoError(t, err)
	out := resultJSON(t, imported)
	newID, _ := out["id"].(string)
	assert.NotEmpty(t, newID)
	assert.NotEqual(t, id, newID)
}

func TestWorkflowDeleteTool(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	id := createWorkflowViaTool(t, s)

	result, err := s.handleWorkflowDelete(ctx, buildRequest("loom.workflow.delete", map[string]any{
		"workflow_id": id,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	result, err = s.handleWorkflowGet(ctx, buildRequest("loom.workflow.get", map[string]any{
		"workflow_id": id,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestNodeDeleteTool(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	id := createWorkflowViaTool(t, s)
	a := addNodeViaTool(t, s, id, "a")

	result, err := s.handleNodeDelete(ctx, buildRequest("loom.node.delete", map[string]any{
		"node_id": a,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestServerRegistersAllTools(t *testing.T) {
	s := newTestServer(t)
	require.NotNil(t, s.MCPServer())
	assert.Len(t, s.tools(), 9)
}
