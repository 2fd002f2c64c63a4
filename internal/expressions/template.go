package expressions

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

// Resolver renders {{name}} template tokens against a workflow Context.
//
// A field whose entire trimmed value is exactly one template expression is
// type-preserving: the referenced value keeps its native type. A template
// embedded in surrounding text coerces the result to a string.
type Resolver struct{}

// NewResolver creates a template Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// HasTemplate reports whether s contains a {{...}} token.
func HasTemplate(s string) bool {
	return strings.Contains(s, "{{")
}

// RenderString renders a single string field. The returned value is the
// referenced variable's native type when the whole field is one expression,
// otherwise a string.
func (r *Resolver) RenderString(s string, c *Context) (any, error) {
	if !HasTemplate(s) {
		return s, nil
	}

	if token, ok := wholeExpression(s); ok {
		return c.Lookup(token)
	}

	var b strings.Builder
	b.Grow(len(s))
	rest := s
	for {
		idx := strings.Index(rest, "{{")
		if idx == -1 {
			b.WriteString(rest)
			return b.String(), nil
		}
		b.WriteString(rest[:idx])
		end := strings.Index(rest[idx+2:], "}}")
		if end == -1 {
			return nil, schema.NewError(schema.ErrCodeTemplate, "unclosed {{ expression")
		}
		token := strings.TrimSpace(rest[idx+2 : idx+2+end])
		if token == "" {
			return nil, schema.NewError(schema.ErrCodeTemplate, "empty template expression")
		}
		val, err := c.Lookup(token)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(val))
		rest = rest[idx+2+end+2:]
	}
}

// RenderValue renders a structured value: strings go through RenderString,
// maps and slices recurse, everything else passes through untouched.
func (r *Resolver) RenderValue(v any, c *Context) (any, error) {
	switch val := v.(type) {
	case string:
		return r.RenderString(val, c)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			rendered, err := r.RenderValue(item, c)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			rendered, err := r.RenderValue(item, c)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}

// RenderStringMap renders each value of a string map, coercing to strings.
func (r *Resolver) RenderStringMap(m map[string]string, c *Context) (map[string]string, error) {
	if len(m) == 0 {
		return m, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		rendered, err := r.RenderString(v, c)
		if err != nil {
			return nil, err
		}
		out[k] = stringify(rendered)
	}
	return out, nil
}

// wholeExpression reports whether the trimmed string is exactly one {{...}}
// token and returns the inner token.
func wholeExpression(s string) (string, bool) {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "{{") || !strings.HasSuffix(t, "}}") {
		return "", false
	}
	inner := t[2 : len(t)-2]
	// a second opener means the expression is not the whole field
	if strings.Contains(inner, "{{") || strings.Contains(inner, "}}") {
		return "", false
	}
	return strings.TrimSpace(inner), true
}

// stringify converts a resolved value to its embedded-in-text form.
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return "null"
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return formatNumber(val)
	case int:
		return fmt.Sprintf("%d", val)
	case int64:
		return fmt.Sprintf("%d", val)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// formatNumber renders whole floats without a trailing ".0" so that JSON
// numbers embed cleanly into urls and expressions.
func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%v", f)
}
