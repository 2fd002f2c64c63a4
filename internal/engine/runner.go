package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/windtunnel-dev/windtunnel/internal/actions"
	"github.com/windtunnel-dev/windtunnel/internal/expressions"
	"github.com/windtunnel-dev/windtunnel/internal/logging"
	"github.com/windtunnel-dev/windtunnel/internal/persona"
	"github.com/windtunnel-dev/windtunnel/internal/sink"
	"github.com/windtunnel-dev/windtunnel/internal/turbulence"
	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

// stopError short-circuits the flow when a stop condition or the step limit
// trips. It is a control signal, not an action failure.
type stopError struct {
	reason string
}

func (e *stopError) Error() string { return e.reason }

// InstanceConfig wires one flow state machine. Scenario, fault policy, and
// decision policy are shared read-only across instances; everything else is
// per-instance.
type InstanceConfig struct {
	RunID         string
	InstanceIndex int
	Seed          int64
	Scenario      *schema.ScenarioDefinition
	Transport     actions.Transport
	Registry      *actions.Registry
	Faults        *schema.FaultPolicy
	Policy        *persona.Policy
	Engine        expressions.Engine
	Sink          sink.Sink
	// StepDelay paces consecutive actions within the instance.
	StepDelay time.Duration
}

// Runner drives one workflow instance through the lifecycle
// Pending -> Running -> {Passed, Failed, Aborted}. Exclusively owned by one
// goroutine; all mutation of the workflow context happens here.
type Runner struct {
	cfg      InstanceConfig
	registry *actions.Registry

	instanceID    string
	correlationID string
	flow          *expressions.Context
	resolver      *expressions.Resolver
	conditions    *expressions.ConditionEvaluator
	extractor     *expressions.Extractor
	injector      *turbulence.Injector
	decider       *persona.Decider

	status schema.InstanceStatus
	steps  int
	failed bool
}

// NewRunner builds the instance's private execution state. The decision and
// fault RNG streams derive from (seed, instance_index) so the instance
// replays identically under the same seed.
func NewRunner(cfg InstanceConfig) *Runner {
	instanceID := uuid.New().String()
	correlationID := fmt.Sprintf("%s-%04d", cfg.RunID, cfg.InstanceIndex)

	registry := cfg.Registry
	if registry == nil {
		registry = actions.NewRegistry()
	}
	resolver := expressions.NewResolver()
	decider := persona.NewDecider(cfg.Policy, cfg.Seed, cfg.InstanceIndex)
	// Faults draw from a stream separate from decisions, so enabling a
	// fault policy never shifts decide outcomes for the same seed.
	faultRNG := rand.New(rand.NewSource(cfg.Seed*127 + int64(cfg.InstanceIndex)))

	return &Runner{
		cfg:           cfg,
		registry:      registry,
		instanceID:    instanceID,
		correlationID: correlationID,
		flow:          expressions.NewContext(cfg.RunID, instanceID, correlationID, cfg.InstanceIndex, cfg.Scenario.Entry),
		resolver:      resolver,
		conditions:    expressions.NewConditionEvaluator(resolver, cfg.Engine),
		extractor:     expressions.NewExtractor(),
		injector:      turbulence.NewInjector(cfg.Faults, faultRNG),
		decider:       decider,
		status:        schema.InstancePending,
	}
}

func (r *Runner) InstanceID() string { return r.instanceID }

// Run executes the whole instance and returns exactly one terminal result.
// Action errors become failed observations; only framework errors,
// cancellation, and panics abort the instance.
func (r *Runner) Run(ctx context.Context) *schema.InstanceResult {
	ctx = logging.WithInstanceID(logging.WithCorrelationID(
		logging.WithRunID(ctx, r.cfg.RunID), r.correlationID), r.instanceID)

	started := time.Now().UTC()
	result := &schema.InstanceResult{
		RunID:         r.cfg.RunID,
		InstanceID:    r.instanceID,
		InstanceIndex: r.cfg.InstanceIndex,
		CorrelationID: r.correlationID,
		StartedAt:     started,
	}

	r.status, _ = Transition(r.status, schema.InstanceRunning)
	slog.InfoContext(ctx, "instance started", "scenario", r.cfg.Scenario.ID, "index", r.cfg.InstanceIndex)

	err := r.runGuarded(ctx, r.cfg.Scenario.Flow)

	var stop *stopError
	switch {
	case err == nil:
		// flow completed; assertions decide below
	case errors.As(err, &stop):
		r.failed = true
	default:
		// framework error, panic, or cancellation
		r.status, _ = Transition(r.status, schema.InstanceAborted)
		result.Error = err.Error()
	}

	if r.status != schema.InstanceAborted {
		result.Assertions = r.runAssertions(ctx)
		target := schema.InstancePassed
		if r.failed || anyAssertionFailed(result.Assertions) {
			target = schema.InstanceFailed
		}
		r.status, _ = Transition(r.status, target)
	}

	result.Status = r.status
	result.Steps = r.steps
	result.EndedAt = time.Now().UTC()
	result.DurationMs = result.EndedAt.Sub(started).Milliseconds()

	if sinkErr := r.cfg.Sink.WriteResult(result); sinkErr != nil {
		slog.ErrorContext(ctx, "failed to persist instance result", "error", sinkErr)
	}
	slog.InfoContext(ctx, "instance finished", "status", r.status, "steps", r.steps)
	return result
}

// runGuarded converts panics into instance-level aborts so one broken
// handler never takes down sibling instances.
func (r *Runner) runGuarded(ctx context.Context, flow []*schema.ActionSpec) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = schema.NewErrorf(schema.ErrCodeAborted, "instance panicked: %v", rec)
		}
	}()
	return r.runFlow(ctx, flow)
}

// runFlow executes an action list in tree order. Nested branch lists re-enter
// here through the dispatcher, sharing the same step counter.
func (r *Runner) runFlow(ctx context.Context, flow []*schema.ActionSpec) error {
	maxSteps := r.cfg.Scenario.EffectiveMaxSteps()
	for _, spec := range flow {
		if ctx.Err() != nil {
			return schema.NewError(schema.ErrCodeCancelled, "run cancelled").WithCause(ctx.Err())
		}
		if r.steps >= maxSteps {
			slog.WarnContext(ctx, "step limit reached", "max_steps", maxSteps)
			r.failed = true
			return &stopError{reason: fmt.Sprintf("step limit %d reached", maxSteps)}
		}
		r.steps++

		if err := r.runStep(ctx, spec); err != nil {
			return err
		}

		if r.cfg.StepDelay > 0 {
			if err := sleepCtx(ctx, r.cfg.StepDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

// runStep dispatches one action, emits its observation, and applies the stop
// conditions. The returned error is only ever a control signal or an
// instance-level abort; ordinary action failure is absorbed into the
// observation and the failed flag.
func (r *Runner) runStep(ctx context.Context, spec *schema.ActionSpec) error {
	ctx = logging.WithAction(ctx, spec.Name)
	obs := r.newObservation(spec)

	// Non-branch actions honor a skip guard; branches consume the
	// condition themselves. An unresolvable guard defaults to running the
	// action rather than failing it.
	if spec.Condition != "" && spec.Kind != schema.ActionBranch {
		proceed, rendered := r.conditions.EvaluateSafe(ctx, spec.Condition, r.flow, true)
		if !proceed {
			obs.ConditionSkipped = true
			obs.BranchCondition = rendered
			obs.OK = true
			r.emit(ctx, obs)
			return nil
		}
	}

	handler, err := r.registry.Get(spec.Kind)
	if err != nil {
		r.finishObservation(obs, err)
		r.emit(ctx, obs)
		return err
	}

	emitted := false
	in := &actions.Input{
		Spec:        spec,
		Flow:        r.flow,
		Resolver:    r.resolver,
		Conditions:  r.conditions,
		Extractor:   r.extractor,
		Transport:   r.cfg.Transport,
		Injector:    r.injector,
		Decider:     r.decider,
		RunBranch:   r.runFlow,
		Observation: obs,
		Emit: func(ctx context.Context) {
			r.finishObservation(obs, nil)
			r.emit(ctx, obs)
			emitted = true
		},
	}
	err = handler.Execute(ctx, in)
	return r.finishStep(ctx, spec, obs, err, emitted)
}

func (r *Runner) finishStep(ctx context.Context, spec *schema.ActionSpec, obs *schema.Observation, err error, emitted bool) error {
	// Control signals and aborts pass through; the action itself did not
	// fail, a nested one did or the run is going down.
	var stop *stopError
	if errors.As(err, &stop) || isAbort(err) {
		if !emitted {
			r.finishObservation(obs, nil)
			r.emit(ctx, obs)
		}
		return err
	}

	if !emitted {
		r.finishObservation(obs, err)
		r.emit(ctx, obs)
	}

	if err == nil {
		return nil
	}
	r.failed = true
	slog.WarnContext(ctx, "action failed", "error", err)

	stopWhen := r.cfg.Scenario.StopWhen
	if stopWhen.AnyActionFails {
		return &stopError{reason: fmt.Sprintf("action %s failed with any_action_fails set", spec.Name)}
	}
	if stopWhen.AnyAssertionFails && errorCode(err) == schema.ErrCodeAssertionFailure {
		return &stopError{reason: fmt.Sprintf("assertion in %s failed with any_assertion_fails set", spec.Name)}
	}
	return nil
}

// runAssertions executes the final assertion block unconditionally, even
// after a short-circuited flow. Assertion steps are numbered past the flow
// steps but do not count against max_steps.
func (r *Runner) runAssertions(ctx context.Context) []schema.AssertionOutcome {
	var outcomes []schema.AssertionOutcome
	for _, spec := range r.cfg.Scenario.Assertions {
		if ctx.Err() != nil {
			break
		}
		r.steps++
		obs := r.newObservation(spec)

		outcome := schema.AssertionOutcome{Name: spec.Name, Passed: true}
		handler, err := r.registry.Get(spec.Kind)
		if err == nil {
			in := &actions.Input{
				Spec:        spec,
				Flow:        r.flow,
				Resolver:    r.resolver,
				Conditions:  r.conditions,
				Extractor:   r.extractor,
				Transport:   r.cfg.Transport,
				Injector:    r.injector,
				Decider:     r.decider,
				RunBranch:   r.runFlow,
				Observation: obs,
			}
			err = handler.Execute(ctx, in)
		}
		if err != nil {
			outcome.Passed = false
			outcome.Detail = err.Error()
		}
		r.finishObservation(obs, err)
		r.emit(ctx, obs)
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (r *Runner) newObservation(spec *schema.ActionSpec) *schema.Observation {
	return &schema.Observation{
		RunID:      r.cfg.RunID,
		InstanceID: r.instanceID,
		Step:       r.steps,
		ActionName: spec.Name,
		Kind:       spec.Kind,
		Service:    spec.Service,
		StartedAt:  time.Now().UTC(),
	}
}

func (r *Runner) finishObservation(obs *schema.Observation, err error) {
	obs.EndedAt = time.Now().UTC()
	obs.LatencyMs = float64(obs.EndedAt.Sub(obs.StartedAt).Milliseconds())
	obs.OK = err == nil
	if err != nil {
		obs.Error = err.Error()
		obs.ErrorCode = errorCode(err)
	}
}

func (r *Runner) emit(ctx context.Context, obs *schema.Observation) {
	if err := r.cfg.Sink.WriteObservation(obs); err != nil {
		slog.ErrorContext(ctx, "failed to persist observation", "step", obs.Step, "error", err)
	}
}

func anyAssertionFailed(outcomes []schema.AssertionOutcome) bool {
	for _, o := range outcomes {
		if !o.Passed {
			return true
		}
	}
	return false
}

func errorCode(err error) string {
	var engineErr *schema.EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Code
	}
	return schema.ErrCodeActionExecution
}

func isAbort(err error) bool {
	switch errorCode(err) {
	case schema.ErrCodeCancelled, schema.ErrCodeAborted:
		return true
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return schema.NewError(schema.ErrCodeCancelled, "run cancelled").WithCause(ctx.Err())
	case <-timer.C:
		return nil
	}
}
