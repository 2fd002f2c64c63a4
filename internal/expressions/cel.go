package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

// CELEngine implements Engine using Google's Common Expression Language.
// Selected per scenario via condition_language: cel.
// Thread-safe: compiled programs are cached and reused across goroutines.
type CELEngine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELEngine creates a sandboxed CEL environment exposing the workflow
// context namespaces as map variables.
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	env, err := cel.NewEnv(
		cel.Variable("vars", mapType),
		cel.Variable("entry", mapType),
		cel.Variable("last_response", mapType),
		cel.Variable("run", mapType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{env: env, cache: make(map[string]cel.Program)}, nil
}

func (e *CELEngine) Name() string { return "cel" }

// Evaluate compiles (or retrieves from cache) a CEL expression and evaluates
// it. The flat env map is regrouped into the vars/entry/last_response/run
// namespaces the environment declares.
func (e *CELEngine) Evaluate(_ context.Context, expression string, env map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.Eval(celActivation(env))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeActionExecution,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out.Value(), nil
}

func (e *CELEngine) getOrCompile(expression string) (cel.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

// celActivation regroups the flat condition env into namespaced maps.
// Missing namespaces default to empty maps to avoid runtime nil-ref errors.
func celActivation(env map[string]any) map[string]any {
	vars := make(map[string]any)
	run := make(map[string]any)
	var entry, lastResponse map[string]any

	for k, v := range env {
		switch k {
		case "entry":
			entry, _ = v.(map[string]any)
		case "last_response":
			lastResponse, _ = v.(map[string]any)
		case "run_id", "instance_id", "correlation_id", "instance_index":
			run[k] = v
		default:
			vars[k] = v
		}
	}
	if entry == nil {
		entry = map[string]any{}
	}
	if lastResponse == nil {
		lastResponse = map[string]any{}
	}

	return map[string]any{
		"vars":          vars,
		"entry":         entry,
		"last_response": lastResponse,
		"run":           run,
	}
}

var _ Engine = (*CELEngine)(nil)
