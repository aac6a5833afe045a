package serializer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/pkg/schema"
)

// Serializer exports workflows as versioned documents and reconstructs
// workflows from documents, remapping every identifier to a freshly generated
// one while preserving the graph structure.
type Serializer struct {
	store     store.Store
	docSchema *jsonschema.Schema
}

// New creates a Serializer over the given store.
func New(st store.Store) (*Serializer, error) {
	compiled, err := compileDocumentSchema()
	if err != nil {
		return nil, err
	}
	return &Serializer{store: st, docSchema: compiled}, nil
}

// Export loads a workflow with its full node and connection sets and emits a
// document stamped with the current format version. Storage identifiers are
// carried through unchanged; remapping happens only on import.
func (s *Serializer) Export(ctx context.Context, workflowID string) (*schema.WorkflowDocument, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		if schema.IsNotFound(err) {
			return nil, schema.NewErrorf(schema.ErrCodeSerialization,
				"cannot export workflow %s: not found", workflowID).WithCause(err)
		}
		return nil, err
	}
	nodes, err := s.store.ListNodes(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	connections, err := s.store.ListConnections(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	doc := &schema.WorkflowDocument{
		Version: schema.FormatVersion,
		Workflow: &schema.DocumentWorkflow{
			ID:           wf.ID,
			Name:         wf.Name,
			Description:  wf.Description,
			WorkspaceID:  wf.WorkspaceID,
			InputSchema:  wf.InputSchema,
			OutputSchema: wf.OutputSchema,
			CreatedAt:    wf.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt:    wf.UpdatedAt.UTC().Format(time.RFC3339),
			CreatedBy:    wf.CreatedBy,
		},
		Nodes:       make([]schema.DocumentNode, 0, len(nodes)),
		Connections: make([]schema.DocumentConnection, 0, len(connections)),
	}
	for _, node := range nodes {
		doc.Nodes = append(doc.Nodes, schema.DocumentNode{
			ID:         node.ID,
			WorkflowID: node.WorkflowID,
			Type:       string(node.Type),
			Name:       node.Name,
			Config:     node.Config,
			Position:   node.Position,
		})
	}
	for _, conn := range connections {
		doc.Connections = append(doc.Connections, schema.DocumentConnection{
			ID:           conn.ID,
			WorkflowID:   conn.WorkflowID,
			SourceNodeID: conn.SourceNodeID,
			TargetNodeID: conn.TargetNodeID,
			SourceOutput: conn.SourceOutput,
			TargetInput:  conn.TargetInput,
		})
	}
	return doc, nil
}

// ExportJSON exports a workflow and renders the document as indented JSON.
func (s *Serializer) ExportJSON(ctx context.Context, workflowID string) ([]byte, error) {
	doc, err := s.Export(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeSerialization, "marshal document").WithCause(err)
	}
	return data, nil
}

// Import reconstructs a workflow from a document under the given workspace
// and creator. Every identifier is regenerated; the document's node IDs are
// resolved through an old-to-new map that is complete before any connection
// is created. The whole import runs in one transaction, so a failure at any
// step leaves nothing behind.
func (s *Serializer) Import(ctx context.Context, doc *schema.WorkflowDocument, workspaceID, createdBy string) (*schema.Workflow, error) {
	if doc == nil {
		return nil, schema.NewError(schema.ErrCodeDeserialization, "document is nil")
	}
	// Unknown versions fail closed; there is no forward migration.
	if doc.Version != schema.FormatVersion {
		return nil, schema.NewErrorf(schema.ErrCodeDeserialization,
			"unsupported document version: %q (expected %q)", doc.Version, schema.FormatVersion)
	}
	if result := s.ValidateDocument(doc); !result.IsValid {
		return nil, schema.NewError(schema.ErrCodeDeserialization, "document failed structural validation").
			WithDetails(map[string]any{"errors": result.Errors})
	}

	var created *schema.Workflow
	err := s.store.InTx(ctx, func(tx store.Store) error {
		wf := &schema.Workflow{
			ID:           uuid.New().String(),
			Name:         doc.Workflow.Name,
			Description:  doc.Workflow.Description,
			WorkspaceID:  workspaceID,
			InputSchema:  doc.Workflow.InputSchema,
			OutputSchema: doc.Workflow.OutputSchema,
			CreatedBy:    createdBy,
		}
		if err := tx.CreateWorkflow(ctx, wf); err != nil {
			return fmt.Errorf("create workflow: %w", err)
		}

		idMap := make(map[string]string, len(doc.Nodes))
		for _, dn := range doc.Nodes {
			newID := uuid.New().String()
			idMap[dn.ID] = newID
			node := &schema.Node{
				ID:         newID,
				WorkflowID: wf.ID,
				Type:       schema.NodeType(dn.Type),
				Name:       dn.Name,
				Config:     dn.Config,
				Position:   dn.Position,
			}
			if err := tx.CreateNode(ctx, node); err != nil {
				return fmt.Errorf("create node %s: %w", dn.ID, err)
			}
		}

		for _, dc := range doc.Connections {
			sourceID, ok := idMap[dc.SourceNodeID]
			if !ok {
				return schema.NewErrorf(schema.ErrCodeDeserialization,
					"connection references unknown source node: %s", dc.SourceNodeID)
			}
			targetID, ok := idMap[dc.TargetNodeID]
			if !ok {
				return schema.NewErrorf(schema.ErrCodeDeserialization,
					"connection references unknown target node: %s", dc.TargetNodeID)
			}
			conn := &schema.Connection{
				ID:           uuid.New().String(),
				WorkflowID:   wf.ID,
				SourceNodeID: sourceID,
				TargetNodeID: targetID,
				SourceOutput: dc.SourceOutput,
				TargetInput:  dc.TargetInput,
			}
			if err := tx.CreateConnection(ctx, conn); err != nil {
				return fmt.Errorf("create connection: %w", err)
			}
		}

		created = wf
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ImportJSON decodes a JSON document and imports it.
func (s *Serializer) ImportJSON(ctx context.Context, data []byte, workspaceID, createdBy string) (*schema.Workflow, error) {
	var doc schema.WorkflowDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, schema.NewError(schema.ErrCodeDeserialization, "document is not valid JSON").WithCause(err)
	}
	return s.Import(ctx, &doc, workspaceID, createdBy)
}
