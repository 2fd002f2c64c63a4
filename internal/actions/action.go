package actions

import (
	"context"

	"github.com/windtunnel-dev/windtunnel/internal/expressions"
	"github.com/windtunnel-dev/windtunnel/internal/persona"
	"github.com/windtunnel-dev/windtunnel/internal/turbulence"
	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

// Input carries everything a handler needs for one step. The flow state
// machine pre-fills Observation identity fields; the handler records the
// outcome on it and returns an error only for action failure.
type Input struct {
	Spec       *schema.ActionSpec
	Flow       *expressions.Context
	Resolver   *expressions.Resolver
	Conditions *expressions.ConditionEvaluator
	Extractor  *expressions.Extractor
	Transport  Transport
	Injector   *turbulence.Injector
	Decider    *persona.Decider

	// RunBranch executes a nested action list through the caller's flow
	// state machine, sharing its step counter. Installed by the runner.
	RunBranch func(ctx context.Context, flow []*schema.ActionSpec) error

	// Emit finalizes and writes the observation immediately. Branch uses it
	// to record the decision before its children execute, keeping the sink
	// stream in step order. Installed by the runner.
	Emit func(ctx context.Context)

	Observation *schema.Observation
}

// Handler executes one kind of action.
type Handler interface {
	Kind() schema.ActionKind
	Execute(ctx context.Context, in *Input) error
}

// Registry maps an action's declared kind to its handler. New kinds register
// without touching dispatch call sites.
type Registry struct {
	handlers map[schema.ActionKind]Handler
}

// NewRegistry returns a registry with the built-in handlers installed.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[schema.ActionKind]Handler)}
	r.Register(&HTTPHandler{})
	r.Register(&WaitHandler{})
	r.Register(&AssertHandler{})
	r.Register(&BranchHandler{})
	r.Register(&DecideHandler{})
	return r
}

func (r *Registry) Register(h Handler) {
	r.handlers[h.Kind()] = h
}

// Get returns the handler for kind, or a VALIDATION_ERROR when none is
// registered.
func (r *Registry) Get(kind schema.ActionKind) (Handler, error) {
	h, ok := r.handlers[kind]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown action kind %q", kind)
	}
	return h, nil
}
