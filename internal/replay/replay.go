package replay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/windtunnel-dev/windtunnel/internal/actions"
	"github.com/windtunnel-dev/windtunnel/internal/engine"
	"github.com/windtunnel-dev/windtunnel/internal/expressions"
	"github.com/windtunnel-dev/windtunnel/internal/persona"
	"github.com/windtunnel-dev/windtunnel/internal/sink"
	"github.com/windtunnel-dev/windtunnel/pkg/schema"
)

// Options selects the instance to re-drive. Scenario and SUT default to the
// paths recorded at run time but may be overridden, e.g. to replay against a
// local stand-in of the target system.
type Options struct {
	RunID      string
	InstanceID string

	Scenario  *schema.ScenarioDefinition
	SUT       *schema.SUTConfig
	Faults    *schema.FaultPolicy
	Policies  persona.PolicySet
	PolicyRef string

	Transport actions.Transport
	Sink      sink.Sink
}

// Comparison pairs the recorded result with the freshly produced one.
// Results can legitimately diverge when the target system's live state has
// changed since the original run.
type Comparison struct {
	ReplayRunID string
	Original    *schema.InstanceResult
	Replayed    *schema.InstanceResult
	StatusMatch bool
	StepsMatch  bool
}

// Reconstructor re-drives a single recorded instance with its original seed
// and instance index. It reads the original run's artifacts and never
// mutates them; fresh observations go to a separate replay run.
type Reconstructor struct {
	reader sink.Reader
}

func NewReconstructor(reader sink.Reader) *Reconstructor {
	return &Reconstructor{reader: reader}
}

func (r *Reconstructor) Replay(ctx context.Context, opts Options) (*Comparison, error) {
	manifest, err := r.reader.LoadManifest(opts.RunID)
	if err != nil {
		return nil, err
	}
	original, err := r.reader.LoadResult(opts.RunID, opts.InstanceID)
	if err != nil {
		return nil, err
	}
	if opts.Scenario == nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "replay requires the scenario definition")
	}
	if opts.Scenario.ID != manifest.ScenarioID {
		slog.WarnContext(ctx, "replaying with a different scenario than recorded",
			"recorded", manifest.ScenarioID, "provided", opts.Scenario.ID)
	}

	replayRunID := fmt.Sprintf("%s-replay-%d", opts.RunID, time.Now().Unix())

	var policy *persona.Policy
	if len(opts.Policies) > 0 {
		p, ok := opts.Policies.Resolve(opts.PolicyRef)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeConfig, "persona %q not found", opts.PolicyRef)
		}
		policy = p
	}
	var condEngine expressions.Engine = expressions.NewExprEngine()
	if opts.Scenario.ConditionLanguage == "cel" {
		if condEngine, err = expressions.NewCELEngine(); err != nil {
			return nil, err
		}
	}
	transport := opts.Transport
	if transport == nil {
		transport = actions.NewHTTPTransport(opts.SUT)
	}

	if err := opts.Sink.WriteManifest(&schema.RunManifest{
		RunID:      replayRunID,
		ScenarioID: opts.Scenario.ID,
		Seed:       manifest.Seed,
		Instances:  1,
		Parallel:   1,
		SUTName:    manifest.SUTName,
		Profile:    manifest.Profile,
		StartedAt:  time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "replaying instance",
		"run_id", opts.RunID, "instance_id", opts.InstanceID,
		"instance_index", original.InstanceIndex, "seed", manifest.Seed)

	runner := engine.NewRunner(engine.InstanceConfig{
		RunID:         replayRunID,
		InstanceIndex: original.InstanceIndex,
		Seed:          manifest.Seed,
		Scenario:      opts.Scenario,
		Transport:     transport,
		Faults:        opts.Faults,
		Policy:        policy,
		Engine:        condEngine,
		Sink:          opts.Sink,
	})
	replayed := runner.Run(ctx)

	return &Comparison{
		ReplayRunID: replayRunID,
		Original:    original,
		Replayed:    replayed,
		StatusMatch: original.Status == replayed.Status,
		StepsMatch:  original.Steps == replayed.Steps,
	}, nil
}
