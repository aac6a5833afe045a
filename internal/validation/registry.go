package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/loomworks/loom/internal/expressions"
	"github.com/loomworks/loom/pkg/schema"
)

// validHTTPMethods is the closed set accepted for HTTP nodes.
var validHTTPMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true, "PATCH": true,
}

// Checkers bundles the expression syntax checkers injected into the
// registry. Any field may be nil to skip syntax checking for that language.
type Checkers struct {
	CEL  expressions.Checker
	Expr expressions.Checker
	JQ   expressions.Checker
}

// rule describes the validation applied to one node type: the configuration
// fields that must be present and non-empty, plus a semantic check layered
// on top of the presence checks.
type rule struct {
	required []string
	semantic func(r *Registry, config map[string]any, result *schema.ValidationResult)
}

// Registry maps each node type to its configuration rules. It is built once,
// never mutated afterwards, and safe to share across requests. Tests can
// construct registries with alternate checkers; there is no global state.
type Registry struct {
	rules    map[schema.NodeType]rule
	checkers Checkers
}

// NewRegistry builds the registry for the five supported node types.
func NewRegistry(checkers Checkers) *Registry {
	return &Registry{
		checkers: checkers,
		rules: map[schema.NodeType]rule{
			schema.NodeTypeLLM:       {required: []string{"model", "prompt"}, semantic: (*Registry).checkLLM},
			schema.NodeTypeCondition: {required: []string{"condition"}, semantic: (*Registry).checkCondition},
			schema.NodeTypeCode:      {required: []string{"code"}, semantic: (*Registry).checkCode},
			schema.NodeTypeHTTP:      {required: []string{"url", "method"}, semantic: (*Registry).checkHTTP},
			schema.NodeTypeTransform: {required: []string{"transformation"}, semantic: (*Registry).checkTransform},
		},
	}
}

// RequiredFields returns the required configuration field names for a node
// type, or nil for an unsupported type.
func (r *Registry) RequiredFields(t schema.NodeType) []string {
	rl, ok := r.rules[t]
	if !ok {
		return nil
	}
	out := make([]string, len(rl.required))
	copy(out, rl.required)
	return out
}

// ValidateNodeConfig checks a node's declared type and configuration.
// An unsupported type yields a single error; otherwise every missing or
// empty required field is reported (no short-circuit), then the
// type-specific semantic rules run and collect into the same result.
func (r *Registry) ValidateNodeConfig(node *schema.Node) *schema.ValidationResult {
	result := schema.NewValidationResult()

	rl, ok := r.rules[node.Type]
	if !ok {
		result.AddError(fmt.Sprintf("unsupported node type: %s", node.Type))
		return result
	}

	config := node.Config
	if config == nil {
		config = map[string]any{}
	}

	for _, field := range rl.required {
		value, present := config[field]
		switch {
		case !present:
			result.AddError(fmt.Sprintf("missing required field: %s", field))
		case isEmptyValue(value):
			result.AddError(fmt.Sprintf("required field is empty: %s", field))
		}
	}

	rl.semantic(r, config, result)
	return result
}

func (r *Registry) checkLLM(config map[string]any, result *schema.ValidationResult) {
	if raw, ok := config["temperature"]; ok {
		temp, isNum := asNumber(raw)
		if !isNum || temp < 0 || temp > 2 {
			result.AddError("temperature must be between 0 and 2")
		}
	}
	if raw, ok := config["max_tokens"]; ok {
		n, isNum := asNumber(raw)
		if !isNum || n != float64(int64(n)) || n <= 0 {
			result.AddError("max_tokens must be a positive integer")
		}
	}
}

func (r *Registry) checkCondition(config map[string]any, result *schema.ValidationResult) {
	condition, ok := asNonBlankString(config["condition"])
	if !ok {
		result.AddError("condition must be a non-empty string")
		return
	}

	language := "cel"
	if lang, ok := asNonBlankString(config["language"]); ok {
		language = strings.ToLower(lang)
	}

	var checker expressions.Checker
	switch language {
	case "cel":
		checker = r.checkers.CEL
	case "expr":
		checker = r.checkers.Expr
	default:
		result.AddError(fmt.Sprintf("unsupported condition language: %s", language))
		return
	}
	if checker == nil {
		return
	}
	if err := checker.Check(condition); err != nil {
		result.AddError(fmt.Sprintf("condition is not a valid %s expression: %s", language, errMessage(err)))
	}
}

func (r *Registry) checkCode(config map[string]any, result *schema.ValidationResult) {
	if _, ok := asNonBlankString(config["code"]); !ok {
		result.AddError("code must be a non-empty string")
	}
}

func (r *Registry) checkHTTP(config map[string]any, result *schema.ValidationResult) {
	if _, ok := asNonBlankString(config["url"]); !ok {
		result.AddError("url must be a non-empty string")
	}

	method, _ := config["method"].(string)
	if !validHTTPMethods[method] {
		result.AddError("http method must be one of: GET, POST, PUT, DELETE, PATCH")
	}
}

func (r *Registry) checkTransform(config map[string]any, result *schema.ValidationResult) {
	transformation, ok := asNonBlankString(config["transformation"])
	if !ok {
		result.AddError("transformation must be a non-empty string")
		return
	}
	if r.checkers.JQ == nil {
		return
	}
	if err := r.checkers.JQ.Check(transformation); err != nil {
		result.AddError(fmt.Sprintf("transformation is not a valid jq program: %s", errMessage(err)))
	}
}

// SupportedTypes returns the registered node types, sorted.
func (r *Registry) SupportedTypes() []schema.NodeType {
	types := make([]schema.NodeType, 0, len(r.rules))
	for t := range r.rules {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// isEmptyValue reports whether a present config value counts as empty:
// nil, empty string, false, zero, or an empty container.
func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case bool:
		return !val
	case float64:
		return val == 0
	case int:
		return val == 0
	case int64:
		return val == 0
	case map[string]any:
		return len(val) == 0
	case []any:
		return len(val) == 0
	default:
		return false
	}
}

// asNumber converts JSON-decoded numeric values to float64.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

// asNonBlankString returns the value as a string when it is a string with
// non-whitespace content.
func asNonBlankString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// errMessage unwraps LoomError messages so validation strings stay readable.
func errMessage(err error) string {
	if le, ok := err.(*schema.LoomError); ok {
		return le.Message
	}
	return err.Error()
}
