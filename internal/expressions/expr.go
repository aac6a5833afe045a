package expressions

import (
	"sync"

	"github.com/expr-lang/expr"

	"github.com/loomworks/loom/pkg/schema"
)

// ExprChecker validates condition expressions written in expr-lang/expr.
// Compilation runs with undefined variables allowed, since the runtime
// environment is only known to the execution engine.
// Thread-safe: compile outcomes are cached and reused across goroutines.
type ExprChecker struct {
	mu    sync.RWMutex
	cache map[string]error
}

// NewExprChecker creates an Expr syntax checker.
func NewExprChecker() *ExprChecker {
	return &ExprChecker{cache: make(map[string]error)}
}

// Name returns the checker identifier.
func (c *ExprChecker) Name() string {
	return "expr"
}

// Check compiles the expression and returns a VALIDATION_ERROR when the
// syntax is invalid.
func (c *ExprChecker) Check(expression string) error {
	if expression == "" {
		return schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}

	c.mu.RLock()
	if err, ok := c.cache[expression]; ok {
		c.mu.RUnlock()
		return err
	}
	c.mu.RUnlock()

	var result error
	_, err := expr.Compile(expression,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		result = schema.NewErrorf(schema.ErrCodeValidation,
			"expr compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	c.mu.Lock()
	c.cache[expression] = result
	c.mu.Unlock()
	return result
}

var _ Checker = (*ExprChecker)(nil)
