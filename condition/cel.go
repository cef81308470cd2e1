package condition

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// CEL is the default Evaluator. Expressions read instance variables through
// the `variables` map, e.g. `variables.approved == true` or
// `variables.retries < 3`. Compiled programs are cached per expression.
type CEL struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCEL builds an evaluator with the single `variables` declaration.
func NewCEL() (*CEL, error) {
	env, err := cel.NewEnv(
		cel.Variable("variables", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}
	return &CEL{env: env, cache: make(map[string]cel.Program)}, nil
}

// Evaluate compiles (or reuses) the expression and runs it against vars.
// A nil vars map is treated as empty. Non-boolean results are errors.
func (c *CEL) Evaluate(expr string, vars map[string]any) (bool, error) {
	prg, err := c.program(expr)
	if err != nil {
		return false, err
	}
	if vars == nil {
		vars = map[string]any{}
	}
	out, _, err := prg.Eval(map[string]any{"variables": vars})
	if err != nil {
		return false, fmt.Errorf("evaluating %q: %w", expr, err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %T, want bool", expr, out.Value())
	}
	return result, nil
}

func (c *CEL) program(expr string) (cel.Program, error) {
	c.mu.RLock()
	prg, ok := c.cache[expr]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, iss := c.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compiling %q: %w", expr, iss.Err())
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("building program for %q: %w", expr, err)
	}

	c.mu.Lock()
	c.cache[expr] = prg
	c.mu.Unlock()
	return prg, nil
}
