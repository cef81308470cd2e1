// Package condition evaluates the boolean expressions attached to workflow
// condition nodes. Expressions are data, never compiled code: the default
// implementation runs them through CEL with a single `variables` binding, so
// a malformed or hostile expression can at worst return an error, which the
// engine treats as false.
package condition

// Evaluator decides a condition node's boolean outcome. Evaluate receives the
// node's expression and the instance's variables; any error is interpreted by
// the caller as a false result.
type Evaluator interface {
	Evaluate(expr string, vars map[string]any) (bool, error)
}

// Func adapts a plain function to the Evaluator interface.
type Func func(expr string, vars map[string]any) (bool, error)

// Evaluate implements Evaluator.
func (f Func) Evaluate(expr string, vars map[string]any) (bool, error) {
	return f(expr, vars)
}
