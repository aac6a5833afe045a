package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/loomworks/loom/internal/serializer"
	"github.com/loomworks/loom/internal/workflow"
)

// LoomServerDeps holds the dependencies for creating a LoomServer.
type LoomServerDeps struct {
	Service    *workflow.Service
	Serializer *serializer.Serializer
	Logger     *slog.Logger
}

// LoomServer wraps an MCP server with loom-specific tool handlers.
type LoomServer struct {
	service    *workflow.Service
	serializer *serializer.Serializer
	logger     *slog.Logger
	mcpServer  *server.MCPServer
}

// NewLoomServer creates a LoomServer with all tools registered.
func NewLoomServer(deps LoomServerDeps) *LoomServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &LoomServer{
		service:    deps.Service,
		serializer: deps.Serializer,
		logger:     logger,
	}

	mcpSrv := server.NewMCPServer(
		"loom",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Loom manages DAG workflow definitions built from typed nodes (LLM, CONDITION, CODE, HTTP, TRANSFORM). Use loom.workflow.create to start a workflow, loom.node.add and loom.connect to build its graph, loom.workflow.validate to check it, and loom.export/loom.import to exchange workflows as versioned documents. Loom never executes nodes; execution belongs to an external engine."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *LoomServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *LoomServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *LoomServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: workflowCreateTool(), Handler: s.handleWorkflowCreate},
		{Tool: workflowGetTool(), Handler: s.handleWorkflowGet},
		{Tool: workflowDeleteTool(), Handler: s.handleWorkflowDelete},
		{Tool: workflowValidateTool(), Handler: s.handleWorkflowValidate},
		{Tool: nodeAddTool(), Handler: s.handleNodeAdd},
		{Tool: nodeDeleteTool(), Handler: s.handleNodeDelete},
		{Tool: connectTool(), Handler: s.handleConnect},
		{Tool: exportTool(), Handler: s.handleExport},
		{Tool: importTool(), Handler: s.handleImport},
	}
}

// --- Tool definitions ---

func workflowCreateTool() mcp.Tool {
	return mcp.NewTool("loom.workflow.create",
		mcp.WithDescription("Create a new, empty workflow definition"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Workflow display name")),
		mcp.WithString("description", mcp.Description("Workflow description")),
		mcp.WithString("workspace_id", mcp.Description("Owning workspace ID")),
		mcp.WithString("created_by", mcp.Description("Creator identity")),
		mcp.WithObject("input_schema", mcp.Description("Documentation-only input contract")),
		mcp.WithObject("output_schema", mcp.Description("Documentation-only output contract")),
	)
}

func workflowGetTool() mcp.Tool {
	return mcp.NewTool("loom.workflow.get",
		mcp.WithDescription("Get a workflow with its nodes and connections"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
	)
}

func workflowDeleteTool() mcp.Tool {
	return mcp.NewTool("loom.workflow.delete",
		mcp.WithDescription("Soft-delete a workflow, its nodes, and remove its execution history"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
	)
}

func workflowValidateTool() mcp.Tool {
	return mcp.NewTool("loom.workflow.validate",
		mcp.WithDescription("Validate a workflow: node configurations, connection integrity, and acyclicity. Returns every problem found, not just the first"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
	)
}

func nodeAddTool() mcp.Tool {
	return mcp.NewTool("loom.node.add",
		mcp.WithDescription("Add a typed node to a workflow. The node's configuration is validated before anything is persisted"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the owning workflow")),
		mcp.WithString("type", mcp.Required(),
			mcp.Enum("LLM", "CONDITION", "CODE", "HTTP", "TRANSFORM"),
			mcp.Description("Node type"),
		),
		mcp.WithString("name", mcp.Required(), mcp.Description("Node display name")),
		mcp.WithObject("config", mcp.Description("Type-specific configuration")),
		mcp.WithObject("position", mcp.Description("Presentation-only 2-D position {x, y}")),
	)
}

func nodeDeleteTool() mcp.Tool {
	return mcp.NewTool("loom.node.delete",
		mcp.WithDescription("Soft-delete a node and remove every connection touching it"),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("ID of the node")),
	)
}

func connectTool() mcp.Tool {
	return mcp.NewTool("loom.connect",
		mcp.WithDescription("Connect two nodes of a workflow. Rejected if the edge would introduce a cycle"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the owning workflow")),
		mcp.WithString("source_node_id", mcp.Required(), mcp.Description("Source node ID")),
		mcp.WithString("target_node_id", mcp.Required(), mcp.Description("Target node ID")),
		mcp.WithString("source_output", mcp.Description("Source output port name (default: output)")),
		mcp.WithString("target_input", mcp.Description("Target input port name (default: input)")),
	)
}

func exportTool() mcp.Tool {
	return mcp.NewTool("loom.export",
		mcp.WithDescription("Export a workflow as a versioned document"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
	)
}

func importTool() mcp.Tool {
	return mcp.NewTool("loom.import",
		mcp.WithDescription("Import a versioned workflow document, regenerating all identifiers. Atomic: a failure at any step imports nothing"),
		mcp.WithObject("document", mcp.Required(), mcp.Description("Workflow document as exported by loom.export")),
		mcp.WithString("workspace_id", mcp.Description("Target workspace ID")),
		mcp.WithString("created_by", mcp.Description("Creator identity for the imported workflow")),
	)
}
