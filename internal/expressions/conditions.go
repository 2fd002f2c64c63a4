package expressions

import (
	"context"
	"strings"

	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

// ConditionEvaluator renders {{...}} tokens in a condition string and then
// evaluates the result as a boolean expression with the configured engine.
type ConditionEvaluator struct {
	resolver *Resolver
	engine   Engine
}

// NewConditionEvaluator creates an evaluator bound to one expression engine.
func NewConditionEvaluator(resolver *Resolver, engine Engine) *ConditionEvaluator {
	return &ConditionEvaluator{resolver: resolver, engine: engine}
}

// Evaluate renders and evaluates the condition. An empty condition is true.
// Returns the boolean result and the rendered expression for observability.
func (ce *ConditionEvaluator) Evaluate(ctx context.Context, condition string, wctx *Context) (bool, string, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true, "", nil
	}

	rendered, err := ce.renderCondition(condition, wctx)
	if err != nil {
		return false, "", err
	}

	out, err := ce.engine.Evaluate(ctx, rendered, wctx.Env())
	if err != nil {
		return false, rendered, err
	}

	result, ok := asBool(out)
	if !ok {
		return false, rendered, schema.NewErrorf(schema.ErrCodeValidation,
			"condition %q evaluated to non-boolean %T", condition, out).
			WithDetails(map[string]any{"rendered": rendered})
	}
	return result, rendered, nil
}

// EvaluateSafe is Evaluate with a fallback on error instead of failing.
// Used for conditional-skip checks where an unresolvable condition should
// not fail the action.
func (ce *ConditionEvaluator) EvaluateSafe(ctx context.Context, condition string, wctx *Context, fallback bool) (bool, string) {
	result, rendered, err := ce.Evaluate(ctx, condition, wctx)
	if err != nil {
		return fallback, rendered
	}
	return result, rendered
}

// renderCondition substitutes {{...}} tokens. Values are rendered in their
// expression-literal form, so `"{{status}}" == "ok"` stays a string compare
// and `{{amount}} > 100` a numeric one.
func (ce *ConditionEvaluator) renderCondition(condition string, wctx *Context) (string, error) {
	if !HasTemplate(condition) {
		return condition, nil
	}
	rendered, err := ce.resolver.RenderString(condition, wctx)
	if err != nil {
		return "", err
	}
	return stringify(rendered), nil
}

func asBool(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}
