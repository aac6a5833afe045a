package expressions

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/loomworks/loom/pkg/schema"
)

// CELChecker validates condition expressions written in Google's Common
// Expression Language. It parses without type-checking, since the variable
// environment is only known to the execution engine.
// Thread-safe: parse outcomes are cached and reused across goroutines.
type CELChecker struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]error
}

// NewCELChecker creates a CEL syntax checker with an empty environment.
func NewCELChecker() (*CELChecker, error) {
	env, err := cel.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELChecker{
		env:   env,
		cache: make(map[string]error),
	}, nil
}

// Name returns the checker identifier.
func (c *CELChecker) Name() string {
	return "cel"
}

// Check parses the expression and returns a VALIDATION_ERROR when the syntax
// is invalid.
func (c *CELChecker) Check(expression string) error {
	if expression == "" {
		return schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	c.mu.RLock()
	if err, ok := c.cache[expression]; ok {
		c.mu.RUnlock()
		return err
	}
	c.mu.RUnlock()

	var result error
	if _, issues := c.env.Parse(expression); issues != nil && issues.Err() != nil {
		result = schema.NewErrorf(schema.ErrCodeValidation,
			"CEL parse error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	c.mu.Lock()
	c.cache[expression] = result
	c.mu.Unlock()
	return result
}

var _ Checker = (*CELChecker)(nil)
