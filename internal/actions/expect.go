package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

// checkExpect verifies an expectation against the context's last response.
// Every configured clause must hold; the first violated clause fails the
// check with ASSERTION_FAILURE carrying expected/actual detail.
func checkExpect(ctx context.Context, in *Input, expect *schema.ExpectSpec) error {
	if expect == nil || expect.IsZero() {
		return nil
	}
	resp := in.Flow.LastResponse
	if resp == nil {
		return schema.NewError(schema.ErrCodeAssertionFailure, "no response to assert against")
	}

	if expect.Status != 0 && resp.StatusCode != expect.Status {
		return assertionError("status", expect.Status, resp.StatusCode)
	}

	if expect.BodyPath != "" {
		actual, err := in.Extractor.Extract(expect.BodyPath, resp.Body)
		if err != nil {
			return err
		}
		if expect.Equals == nil && expect.Contains == nil && actual == nil {
			return schema.NewErrorf(schema.ErrCodeAssertionFailure,
				"%s produced no value", expect.BodyPath).
				WithDetails(map[string]any{"path": expect.BodyPath})
		}
		if expect.Equals != nil && !looseEqual(actual, expect.Equals) {
			return assertionError(expect.BodyPath, expect.Equals, actual)
		}
		if expect.Contains != nil && !contains(actual, expect.Contains) {
			return schema.NewErrorf(schema.ErrCodeAssertionFailure,
				"%s does not contain %v", expect.BodyPath, expect.Contains).
				WithDetails(map[string]any{"path": expect.BodyPath, "needle": expect.Contains, "actual": actual})
		}
	}

	if expect.Expression != "" {
		ok, rendered, err := in.Conditions.Evaluate(ctx, expect.Expression, in.Flow)
		if err != nil {
			return err
		}
		if !ok {
			return schema.NewErrorf(schema.ErrCodeAssertionFailure,
				"expression %q is false", expect.Expression).
				WithDetails(map[string]any{"expression": rendered})
		}
	}

	if expect.Schema != nil {
		if err := validateSchema(expect.Schema, resp.Body); err != nil {
			return err
		}
	}
	return nil
}

func assertionError(field string, expected, actual any) error {
	return schema.NewErrorf(schema.ErrCodeAssertionFailure,
		"expected %s %v, got %v", field, expected, actual).
		WithDetails(map[string]any{"field": field, "expected": expected, "actual": actual})
}

// validateSchema checks the response body against an inline JSON Schema.
// Both sides round-trip through JSON so YAML-decoded numbers compare the way
// the validator expects.
func validateSchema(doc map[string]any, body any) error {
	schemaJSON, err := jsonNormalize(doc)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "expect.schema is not valid JSON").WithCause(err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("expect://schema", schemaJSON); err != nil {
		return schema.NewError(schema.ErrCodeValidation, "expect.schema cannot be loaded").WithCause(err)
	}
	compiled, err := compiler.Compile("expect://schema")
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "expect.schema cannot be compiled").WithCause(err)
	}
	instance, err := jsonNormalize(body)
	if err != nil {
		return schema.NewError(schema.ErrCodeAssertionFailure, "response body is not valid JSON").WithCause(err)
	}
	if err := compiled.Validate(instance); err != nil {
		return schema.NewError(schema.ErrCodeAssertionFailure, "response body does not match schema").WithCause(err)
	}
	return nil
}

func jsonNormalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}

// looseEqual compares with numeric tolerance across int/float encodings.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// contains is substring match for strings and element match for lists.
func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, fmt.Sprintf("%v", needle))
	case []any:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true
			}
		}
	}
	return false
}
