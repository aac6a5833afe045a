package expressions

import (
	"sync"

	"github.com/itchyny/gojq"

	"github.com/loomworks/loom/pkg/schema"
)

// GoJQChecker validates transformation expressions written as jq programs.
// Only parsing is performed; compilation and evaluation belong to the
// execution engine.
// Thread-safe: parse outcomes are cached and reused across goroutines.
type GoJQChecker struct {
	mu    sync.RWMutex
	cache map[string]error
}

// NewGoJQChecker creates a jq syntax checker.
func NewGoJQChecker() *GoJQChecker {
	return &GoJQChecker{cache: make(map[string]error)}
}

// Name returns the checker identifier.
func (c *GoJQChecker) Name() string {
	return "jq"
}

// Check parses the jq program and returns a VALIDATION_ERROR when the syntax
// is invalid.
func (c *GoJQChecker) Check(expression string) error {
	if expression == "" {
		return schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}

	c.mu.RLock()
	if err, ok := c.cache[expression]; ok {
		c.mu.RUnlock()
		return err
	}
	c.mu.RUnlock()

	var result error
	if _, err := gojq.Parse(expression); err != nil {
		result = schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	c.mu.Lock()
	c.cache[expression] = result
	c.mu.Unlock()
	return result
}

var _ Checker = (*GoJQChecker)(nil)
