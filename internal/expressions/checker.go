// Package expressions provides syntax checkers for the expression languages
// accepted inside node configurations. Loom never evaluates these
// expressions; it only verifies at definition time that they will parse, so
// the external execution engine is not handed a workflow that fails on its
// first run.
package expressions

// Checker validates the syntax of an expression without evaluating it.
// Implementations must be safe for concurrent use.
type Checker interface {
	Name() string
	Check(expression string) error
}
