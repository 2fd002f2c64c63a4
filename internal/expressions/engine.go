package expressions

import "context"

// Engine evaluates a rendered expression against an environment map.
// Two implementations: Expr (default) and CEL (opt-in per scenario).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, env map[string]any) (any, error)
}
