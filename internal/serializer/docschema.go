package serializer

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/loomworks/loom/pkg/schema"
)

// documentSchemaJSON is the JSON Schema for serialized workflow documents.
// Embedded as a constant to avoid filesystem dependencies.
const documentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://loomworks.dev/schemas/workflow-document.json",
  "type": "object",
  "required": ["version", "workflow", "nodes", "connections"],
  "properties": {
    "version": {
      "type": "string",
      "minLength": 1
    },
    "workflow": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "id": { "type": "string" },
        "name": {
          "type": "string",
          "minLength": 1
        },
        "description": { "type": "string" },
        "workspace_id": { "type": "string" },
        "input_schema": { "type": "object" },
        "output_schema": { "type": "object" },
        "created_at": { "type": "string" },
        "updated_at": { "type": "string" },
        "created_by": { "type": "string" }
      }
    },
    "nodes": {
      "type": "array",
      "items": { "$ref": "#/$defs/node" }
    },
    "connections": {
      "type": "array",
      "items": { "$ref": "#/$defs/connection" }
    }
  },
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "type", "name"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "type": {
          "type": "string",
          "enum": ["LLM", "CONDITION", "CODE", "HTTP", "TRANSFORM"]
        },
        "name": {
          "type": "string",
          "minLength": 1
        },
        "config": { "type": "object" },
        "position": { "type": "object" }
      }
    },
    "connection": {
      "type": "object",
      "required": ["source_node_id", "target_node_id", "source_output", "target_input"],
      "properties": {
        "source_node_id": {
          "type": "string",
          "minLength": 1
        },
        "target_node_id": {
          "type": "string",
          "minLength": 1
        },
        "source_output": {
          "type": "string",
          "minLength": 1
        },
        "target_input": {
          "type": "string",
          "minLength": 1
        }
      }
    }
  }
}`

// compileDocumentSchema compiles the embedded document schema once at
// construction time.
func compileDocumentSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(documentSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal document schema: %w", err)
	}
	if err := c.AddResource("https://loomworks.dev/schemas/workflow-document.json", doc); err != nil {
		return nil, fmt.Errorf("add document schema resource: %w", err)
	}
	compiled, err := c.Compile("https://loomworks.dev/schemas/workflow-document.json")
	if err != nil {
		return nil, fmt.Errorf("compile document schema: %w", err)
	}
	return compiled, nil
}

// ValidateDocument checks a document's structural well-formedness without
// touching the store: envelope shape per the embedded JSON Schema, unique
// document-local node IDs, and connection endpoints that resolve within the
// document's own node list. Semantic node-config rules are out of scope here.
func (s *Serializer) ValidateDocument(doc *schema.WorkflowDocument) *schema.ValidationResult {
	result := schema.NewValidationResult()
	if doc == nil {
		result.AddError("document is nil")
		return result
	}

	value, err := toJSONValue(doc)
	if err != nil {
		result.AddError(fmt.Sprintf("document is not serializable: %s", err))
		return result
	}
	if err := s.docSchema.Validate(value); err != nil {
		for _, violation := range schemaViolations(err) {
			result.AddError(violation)
		}
		return result
	}

	// Cross-reference checks JSON Schema cannot express.
	nodeIDs := make(map[string]bool, len(doc.Nodes))
	for _, node := range doc.Nodes {
		if nodeIDs[node.ID] {
			result.AddError(fmt.Sprintf("duplicate node id in document: %s", node.ID))
		}
		nodeIDs[node.ID] = true
	}
	for _, conn := range doc.Connections {
		if !nodeIDs[conn.SourceNodeID] {
			result.AddError(fmt.Sprintf("connection references unknown source node: %s", conn.SourceNodeID))
		}
		if !nodeIDs[conn.TargetNodeID] {
			result.AddError(fmt.Sprintf("connection references unknown target node: %s", conn.TargetNodeID))
		}
	}
	return result
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// schemaViolations flattens a jsonschema validation error into leaf messages
// with their instance locations.
func schemaViolations(err error) []string {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	return collectViolations(verr)
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
