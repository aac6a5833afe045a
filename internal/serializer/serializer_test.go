package serializer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/pkg/schema"
)

func newTestSerializer(t *testing.T) (*Serializer, store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	s, err := New(st)
	require.NoError(t, err)
	return s, st
}

// seedPipeline creates a workflow with an LLM node feeding a CODE node.
func seedPipeline(t *testing.T, st store.Store) *schema.Workflow {
	t.Helper()
	ctx := context.Background()

	wf := &schema.Workflow{
		ID:          uuid.New().String(),
		Name:        "pipeline",
		Description: "summarize then post-process",
		WorkspaceID: "ws-1",
		CreatedBy:   "user-1",
	}
	require.NoError(t, st.CreateWorkflow(ctx, wf))

	llm := &schema.Node{
		ID:         uuid.New().String(),
		WorkflowID: wf.ID,
		Type:       schema.NodeTypeLLM,
		Name:       "summarize",
		Config:     map[string]any{"model": "gpt-4", "prompt": "Summarize {{input}}"},
	}
	code := &schema.Node{
		ID:         uuid.New().String(),
		WorkflowID: wf.ID,
		Type:       schema.NodeTypeCode,
		Name:       "post-process",
		Config:     map[string]any{"code": "return input.upper()"},
	}
	require.NoError(t, st.CreateNode(ctx, llm))
	require.NoError(t, st.CreateNode(ctx, code))

	require.NoError(t, st.CreateConnection(ctx, &schema.Connection{
		ID:           uuid.New().String(),
		WorkflowID:   wf.ID,
		SourceNodeID: llm.ID,
		TargetNodeID: code.ID,
		SourceOutput: "summary",
		TargetInput:  "text",
	}))
	return wf
}

// nodeByName indexes document nodes by display name.
func nodeByName(doc *schema.WorkflowDocument) map[string]schema.DocumentNode {
	out := make(map[string]schema.DocumentNode, len(doc.Nodes))
	for _, n := range doc.Nodes {
		out[n.Name] = n
	}
	return out
}

func TestExport(t *testing.T) {
	s, st := newTestSerializer(t)
	ctx := context.Background()
	wf := seedPipeline(t, st)

	doc, err := s.Export(ctx, wf.ID)
	require.NoError(t, err)

	assert.Equal(t, schema.FormatVersion, doc.Version)
	require.NotNil(t, doc.Workflow)
	assert.Equal(t, "pipeline", doc.Workflow.Name)
	assert.Equal(t, wf.ID, doc.Workflow.ID)
	assert.Len(t, doc.Nodes, 2)
	require.Len(t, doc.Connections, 1)
	assert.Equal(t, "summary", doc.Connections[0].SourceOutput)
	assert.Equal(t, "text", doc.Connections[0].TargetInput)
}

func TestExport_NotFound(t *testing.T) {
	s, _ := newTestSerializer(t)

	_, err := s.Export(context.Background(), "nonexistent")
	require.Error(t, err)
	le, ok := err.(*schema.LoomError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeSerialization, le.Code)
}

func TestImport_RoundTripPreservesStructure(t *testing.T) {
	s, st := newTestSerializer(t)
	ctx := context.Background()
	original := seedPipeline(t, st)

	doc, err := s.Export(ctx, original.ID)
	require.NoError(t, err)

	imported, err := s.Import(ctx, doc, "ws-2", "user-2")
	require.NoError(t, err)
	assert.NotEqual(t, original.ID, imported.ID)
	assert.Equal(t, "ws-2", imported.WorkspaceID)
	assert.Equal(t, "user-2", imported.CreatedBy)

	reexported, err := s.Export(ctx, imported.ID)
	require.NoError(t, err)

	// Same structure under fresh identifiers.
	origNodes := nodeByName(doc)
	newNodes := nodeByName(reexported)
	require.Len(t, newNodes, len(origNodes))
	for name, orig := range origNodes {
		got, ok := newNodes[name]
		require.True(t, ok, "node %s missing after round trip", name)
		assert.Equal(t, orig.Type, got.Type)
		assert.Equal(t, orig.Config, got.Config)
		assert.NotEqual(t, orig.ID, got.ID)
	}

	require.Len(t, reexported.Connections, 1)
	conn := reexported.Connections[0]
	assert.Equal(t, newNodes["summarize"].ID, conn.SourceNodeID)
	assert.Equal(t, newNodes["post-process"].ID, conn.TargetNodeID)
	assert.Equal(t, "summary", conn.SourceOutput)
	assert.Equal(t, "text", conn.TargetInput)
}

func TestImport_UnknownVersionFailsClosed(t *testing.T) {
	s, st := newTestSerializer(t)
	ctx := context.Background()

	doc := &schema.WorkflowDocument{
		Version:     "2.0",
		Workflow:    &schema.DocumentWorkflow{Name: "future"},
		Nodes:       []schema.DocumentNode{},
		Connections: []schema.DocumentConnection{},
	}
	_, err := s.Import(ctx, doc, "ws-1", "user-1")
	require.Error(t, err)
	le, ok := err.(*schema.LoomError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeDeserialization, le.Code)

	_, total, err := st.ListWorkflows(ctx, store.WorkflowFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestImport_MissingSections(t *testing.T) {
	s, _ := newTestSerializer(t)
	ctx := context.Background()

	cases := map[string]*schema.WorkflowDocument{
		"no workflow": {
			Version:     schema.FormatVersion,
			Nodes:       []schema.DocumentNode{},
			Connections: []schema.DocumentConnection{},
		},
		"no nodes": {
			Version:     schema.FormatVersion,
			Workflow:    &schema.DocumentWorkflow{Name: "wf"},
			Connections: []schema.DocumentConnection{},
		},
		"no connections": {
			Version:  schema.FormatVersion,
			Workflow: &schema.DocumentWorkflow{Name: "wf"},
			Nodes:    []schema.DocumentNode{},
		},
		"unnamed workflow": {
			Version:     schema.FormatVersion,
			Workflow:    &schema.DocumentWorkflow{},
			Nodes:       []schema.DocumentNode{},
			Connections: []schema.DocumentConnection{},
		},
	}
	for name, doc := range cases {
		_, err := s.Import(ctx, doc, "ws-1", "user-1")
		require.Error(t, err, name)
		le, ok := err.(*schema.LoomError)
		require.True(t, ok, name)
		assert.Equal(t, schema.ErrCodeDeserialization, le.Code, name)
	}
}

func TestImport_UnresolvedEndpointAbortsEverything(t *testing.T) {
	s, st := newTestSerializer(t)
	ctx := context.Background()

	doc := &schema.WorkflowDocument{
		Version:  schema.FormatVersion,
		Workflow: &schema.DocumentWorkflow{Name: "broken"},
		Nodes: []schema.DocumentNode{
			{ID: "n1", Type: "CODE", Name: "a", Config: map[string]any{"code": "x"}},
		},
		Connections: []schema.DocumentConnection{
			{SourceNodeID: "n1", TargetNodeID: "ghost", SourceOutput: "output", TargetInput: "input"},
		},
	}
	_, err := s.Import(ctx, doc, "ws-1", "user-1")
	require.Error(t, err)

	_, total, err := st.ListWorkflows(ctx, store.WorkflowFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestImport_PortlessConnectionFailsClosed(t *testing.T) {
	s, st := newTestSerializer(t)
	ctx := context.Background()

	doc := &schema.WorkflowDocument{
		Version:  schema.FormatVersion,
		Workflow: &schema.DocumentWorkflow{Name: "portless"},
		Nodes: []schema.DocumentNode{
			{ID: "n1", Type: "CODE", Name: "a", Config: map[string]any{"code": "x"}},
			{ID: "n2", Type: "CODE", Name: "b", Config: map[string]any{"code": "y"}},
		},
		Connections: []schema.DocumentConnection{
			{SourceNodeID: "n1", TargetNodeID: "n2"},
		},
	}
	_, err := s.Import(ctx, doc, "ws-1", "user-1")
	require.Error(t, err)
	le, ok := err.(*schema.LoomError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeDeserialization, le.Code)

	_, total, err := st.ListWorkflows(ctx, store.WorkflowFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestImportJSON_InvalidJSON(t *testing.T) {
	s, _ := newTestSerializer(t)

	_, err := s.ImportJSON(context.Background(), []byte("{not json"), "ws-1", "user-1")
	require.Error(t, err)
	le, ok := err.(*schema.LoomError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeDeserialization, le.Code)
}

func TestExportJSON_RoundTrip(t *testing.T) {
	s, st := newTestSerializer(t)
	ctx := context.Background()
	wf := seedPipeline(t, st)

	data, err := s.ExportJSON(ctx, wf.ID)
	require.NoError(t, err)

	imported, err := s.ImportJSON(ctx, data, "ws-3", "user-3")
	require.NoError(t, err)

	nodes, err := st.ListNodes(ctx, imported.ID)
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
}

func TestValidateDocument(t *testing.T) {
	s, _ := newTestSerializer(t)

	valid := &schema.WorkflowDocument{
		Version:  schema.FormatVersion,
		Workflow: &schema.DocumentWorkflow{Name: "wf"},
		Nodes: []schema.DocumentNode{
			{ID: "n1", Type: "CODE", Name: "a"},
			{ID: "n2", Type: "HTTP", Name: "b"},
		},
		Connections: []schema.DocumentConnection{
			{SourceNodeID: "n1", TargetNodeID: "n2", SourceOutput: "output", TargetInput: "input"},
		},
	}
	assert.True(t, s.ValidateDocument(valid).IsValid)

	dangling := &schema.WorkflowDocument{
		Version:  schema.FormatVersion,
		Workflow: &schema.DocumentWorkflow{Name: "wf"},
		Nodes: []schema.DocumentNode{
			{ID: "n1", Type: "CODE", Name: "a"},
		},
		Connections: []schema.DocumentConnection{
			{SourceNodeID: "n1", TargetNodeID: "n9", SourceOutput: "output", TargetInput: "input"},
		},
	}
	result := s.ValidateDocument(dangling)
	assert.False(t, result.IsValid)
	assert.Contains(t, result.Errors, "connection references unknown target node: n9")

	duplicate := &schema.WorkflowDocument{
		Version:  schema.FormatVersion,
		Workflow: &schema.DocumentWorkflow{Name: "wf"},
		Nodes: []schema.DocumentNode{
			{ID: "n1", Type: "CODE", Name: "a"},
			{ID: "n1", Type: "CODE", Name: "b"},
		},
		Connections: []schema.DocumentConnection{},
	}
	result = s.ValidateDocument(duplicate)
	assert.False(t, result.IsValid)
	assert.Contains(t, result.Errors, "duplicate node id in document: n1")

	badType := &schema.WorkflowDocument{
		Version:  schema.FormatVersion,
		Workflow: &schema.DocumentWorkflow{Name: "wf"},
		Nodes: []schema.DocumentNode{
			{ID: "n1", Type: "WEBHOOK", Name: "a"},
		},
		Connections: []schema.DocumentConnection{},
	}
	assert.False(t, s.ValidateDocument(badType).IsValid)

	// Port names are part of the connection shape, not optional extras.
	portless := &schema.WorkflowDocument{
		Version:  schema.FormatVersion,
		Workflow: &schema.DocumentWorkflow{Name: "wf"},
		Nodes: []schema.DocumentNode{
			{ID: "n1", Type: "CODE", Name: "a"},
			{ID: "n2", Type: "CODE", Name: "b"},
		},
		Connections: []schema.DocumentConnection{
			{SourceNodeID: "n1", TargetNodeID: "n2"},
		},
	}
	result = s.ValidateDocument(portless)
	assert.False(t, result.IsValid)
	assert.Contains(t, result.String(), "source_output")
}
