package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/windtunnel-dev/windtunnel/internal/actions"
	"github.com/windtunnel-dev/windtunnel/internal/expressions"
	"github.com/windtunnel-dev/windtunnel/internal/logging"
	"github.com/windtunnel-dev/windtunnel/internal/persona"
	"github.com/windtunnel-dev/windtunnel/internal/sink"
	"github.com/windtunnel-dev/windtunnel/internal/stats"
	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

// RunConfig is everything a full run needs. Scenario, SUT, faults, and
// policy are immutable once the run starts.
type RunConfig struct {
	RunID     string
	Scenario  *schema.ScenarioDefinition
	SUT       *schema.SUTConfig
	Faults    *schema.FaultPolicy
	Policies  persona.PolicySet
	PolicyRef string

	Seed      int64
	Instances int
	Parallel  int
	Profile   string
	StepDelay time.Duration

	Sink      sink.Sink
	Transport actions.Transport
	Registry  *actions.Registry
}

// RunReport is the executor's aggregate outcome.
type RunReport struct {
	Manifest *schema.RunManifest
	Results  []*schema.InstanceResult
	Summary  *schema.RunSummary
}

// Executor schedules N workflow instances under a concurrency bound P.
// Instances are admitted in index order through a gate; a failing instance
// never terminates its siblings.
type Executor struct {
	cfg RunConfig
}

func NewExecutor(cfg RunConfig) *Executor {
	if cfg.Instances < 1 {
		cfg.Instances = 1
	}
	if cfg.Parallel < 1 {
		cfg.Parallel = 1
	}
	return &Executor{cfg: cfg}
}

// Run drives the whole run and always returns a report: cancellation and
// instance aborts surface in instance statuses, not as a run error. Only
// setup failures (engine construction, manifest write) error out before any
// instance starts.
func (e *Executor) Run(ctx context.Context) (*RunReport, error) {
	cfg := e.cfg
	ctx = logging.WithRunID(ctx, cfg.RunID)

	engine, err := selectEngine(cfg.Scenario.ConditionLanguage)
	if err != nil {
		return nil, err
	}
	policy, err := resolvePolicy(cfg.Policies, cfg.PolicyRef)
	if err != nil {
		return nil, err
	}
	transport := cfg.Transport
	if transport == nil {
		transport = actions.NewHTTPTransport(cfg.SUT)
	}

	manifest := &schema.RunManifest{
		RunID:      cfg.RunID,
		ScenarioID: cfg.Scenario.ID,
		Seed:       cfg.Seed,
		Instances:  cfg.Instances,
		Parallel:   cfg.Parallel,
		Profile:    cfg.Profile,
		StartedAt:  time.Now().UTC(),
	}
	if cfg.SUT != nil {
		manifest.SUTName = cfg.SUT.Name
	}
	collector := &latencyCollector{inner: cfg.Sink}
	if err := collector.WriteManifest(manifest); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "run started",
		"scenario", cfg.Scenario.ID, "instances", cfg.Instances, "parallel", cfg.Parallel, "seed", cfg.Seed)

	gate := NewGate(cfg.Parallel)
	results := make([]*schema.InstanceResult, cfg.Instances)
	var wg sync.WaitGroup

	admitted := 0
	for i := 0; i < cfg.Instances; i++ {
		if err := gate.Acquire(ctx); err != nil {
			// Cancellation while waiting for admission; instances never
			// admitted finalize as aborted without running.
			break
		}
		admitted++
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			defer gate.Release()
			results[index] = e.runInstance(ctx, index, engine, policy, transport, collector)
		}(i)
	}
	wg.Wait()

	for i := 0; i < cfg.Instances; i++ {
		if results[i] == nil {
			results[i] = e.abortedResult(i, "run cancelled before admission")
			if err := collector.WriteResult(results[i]); err != nil {
				slog.ErrorContext(ctx, "failed to persist aborted result", "index", i, "error", err)
			}
		}
	}

	summary := stats.BuildSummary(cfg.RunID, results, collector.Latencies())
	if err := collector.WriteSummary(summary); err != nil {
		slog.ErrorContext(ctx, "failed to persist run summary", "error", err)
	}
	slog.InfoContext(ctx, "run finished",
		"passed", summary.PassCount, "failed", summary.FailCount, "aborted", summary.AbortCount,
		"pass_rate", summary.PassRate)

	return &RunReport{Manifest: manifest, Results: results, Summary: summary}, nil
}

// runInstance executes one instance, converting a panic that escapes the
// runner into an aborted result rather than letting it kill the run.
func (e *Executor) runInstance(ctx context.Context, index int, engine expressions.Engine,
	policy *persona.Policy, transport actions.Transport, s sink.Sink) (result *schema.InstanceResult) {

	defer func() {
		if rec := recover(); rec != nil {
			result = e.abortedResult(index, "instance task panicked")
			if err := s.WriteResult(result); err != nil {
				slog.ErrorContext(ctx, "failed to persist aborted result", "index", index, "error", err)
			}
		}
	}()

	runner := NewRunner(InstanceConfig{
		RunID:         e.cfg.RunID,
		InstanceIndex: index,
		Seed:          e.cfg.Seed,
		Scenario:      e.cfg.Scenario,
		Transport:     transport,
		Registry:      e.cfg.Registry,
		Faults:        e.cfg.Faults,
		Policy:        policy,
		Engine:        engine,
		Sink:          s,
		StepDelay:     e.cfg.StepDelay,
	})
	return runner.Run(ctx)
}

func (e *Executor) abortedResult(index int, reason string) *schema.InstanceResult {
	now := time.Now().UTC()
	return &schema.InstanceResult{
		RunID:         e.cfg.RunID,
		InstanceIndex: index,
		Status:        schema.InstanceAborted,
		Error:         reason,
		StartedAt:     now,
		EndedAt:       now,
	}
}

func selectEngine(language string) (expressions.Engine, error) {
	switch language {
	case "", "expr":
		return expressions.NewExprEngine(), nil
	case "cel":
		return expressions.NewCELEngine()
	}
	return nil, schema.NewErrorf(schema.ErrCodeConfig, "unknown condition language %q", language)
}

func resolvePolicy(policies persona.PolicySet, ref string) (*persona.Policy, error) {
	if len(policies) == 0 {
		if ref != "" {
			return nil, schema.NewErrorf(schema.ErrCodeConfig, "persona %q requested but no policies loaded", ref)
		}
		return nil, nil
	}
	policy, ok := policies.Resolve(ref)
	if !ok {
		if ref == "" {
			return nil, schema.NewError(schema.ErrCodeConfig, "multiple persona policies loaded; one must be named")
		}
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "persona %q not found", ref)
	}
	return policy, nil
}

// latencyCollector tees successful network timings off the artifact stream
// for the run summary.
type latencyCollector struct {
	inner sink.Sink

	mu        sync.Mutex
	latencies []float64
}

func (c *latencyCollector) WriteManifest(m *schema.RunManifest) error { return c.inner.WriteManifest(m) }

func (c *latencyCollector) WriteObservation(o *schema.Observation) error {
	if o.OK && !o.ConditionSkipped && (o.Kind == schema.ActionHTTP || o.Kind == schema.ActionWait) {
		c.mu.Lock()
		c.latencies = append(c.latencies, o.LatencyMs)
		c.mu.Unlock()
	}
	return c.inner.WriteObservation(o)
}

func (c *latencyCollector) WriteResult(r *schema.InstanceResult) error { return c.inner.WriteResult(r) }
func (c *latencyCollector) WriteSummary(s *schema.RunSummary) error    { return c.inner.WriteSummary(s) }
func (c *latencyCollector) Close() error                               { return c.inner.Close() }

func (c *latencyCollector) Latencies() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]float64, len(c.latencies))
	copy(out, c.latencies)
	return out
}
