package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/windtunnel-dev/windtunnel/internal/config"
	"github.com/windtunnel-dev/windtunnel/internal/engine"
	"github.com/windtunnel-dev/windtunnel/internal/gating"
	"github.com/windtunnel-dev/windtunnel/internal/scheduler"
	"github.com/windtunnel-dev/windtunnel/internal/sink"
)

type runFlags struct {
	scenarioPath string
	sutPath      string
	faultsPath   string
	policiesPath string
	persona      string

	instances   int
	parallel    int
	seed        int64
	profile     string
	stepDelayMs int

	artifactDir string
	dbPath      string
	gates       []string
	schedule    string
}

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a scenario against the target system",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(cmd.Context(), flags)
		},
	}
	cmd.Flags().StringVarP(&flags.scenarioPath, "scenario", "s", "", "scenario definition file")
	cmd.Flags().StringVarP(&flags.sutPath, "target", "t", "", "target system config file")
	cmd.Flags().StringVar(&flags.faultsPath, "faults", "", "fault policy file")
	cmd.Flags().StringVar(&flags.policiesPath, "policies", "", "persona policy file")
	cmd.Flags().StringVar(&flags.persona, "persona", "", "persona to use from the policy file")
	cmd.Flags().IntVarP(&flags.instances, "instances", "n", 1, "number of workflow instances")
	cmd.Flags().IntVarP(&flags.parallel, "parallel", "p", 1, "concurrency limit")
	cmd.Flags().Int64Var(&flags.seed, "seed", 0, "deterministic seed (0 derives one from the clock)")
	cmd.Flags().StringVar(&flags.profile, "profile", "", "environment profile to apply")
	cmd.Flags().IntVar(&flags.stepDelayMs, "step-delay-ms", 0, "pause between consecutive actions per instance")
	cmd.Flags().StringVarP(&flags.artifactDir, "out", "o", "artifacts", "artifact output directory")
	cmd.Flags().StringVar(&flags.dbPath, "db", "", "also persist artifacts to this libsql database")
	cmd.Flags().StringArrayVar(&flags.gates, "gate", nil, "threshold gate, e.g. pass_rate>=99 (repeatable)")
	cmd.Flags().StringVar(&flags.schedule, "schedule", "", "cron spec for recurring runs, e.g. '0 */5 * * * *'")
	cmd.MarkFlagRequired("scenario")
	cmd.MarkFlagRequired("target")
	return cmd
}

func runScenario(ctx context.Context, flags runFlags) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	thresholds, err := gating.ParseAll(flags.gates)
	if err != nil {
		return err
	}

	if flags.schedule != "" {
		sched := scheduler.New()
		if err := sched.Add(ctx, flags.schedule, "run:"+flags.scenarioPath, func(ctx context.Context) error {
			_, err := executeOnce(ctx, flags, thresholds)
			return err
		}); err != nil {
			return err
		}
		sched.Start()
		<-ctx.Done()
		sched.Stop()
		return nil
	}

	gatesPassed, err := executeOnce(ctx, flags, thresholds)
	if err != nil {
		return err
	}
	if !gatesPassed {
		os.Exit(1)
	}
	return nil
}

func executeOnce(ctx context.Context, flags runFlags, thresholds []gating.Threshold) (bool, error) {
	scenario, err := config.LoadScenario(flags.scenarioPath)
	if err != nil {
		return false, err
	}
	sut, err := config.LoadSUT(flags.sutPath, flags.profile)
	if err != nil {
		return false, err
	}
	faults, err := config.LoadFaults(flags.faultsPath)
	if err != nil {
		return false, err
	}
	policies, err := config.LoadPolicies(flags.policiesPath)
	if err != nil {
		return false, err
	}

	seed := flags.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	runID := fmt.Sprintf("%s-%s", scenario.ID, uuid.New().String()[:8])

	artifacts, closeSinks, err := buildSink(flags.artifactDir, flags.dbPath)
	if err != nil {
		return false, err
	}
	defer closeSinks()

	executor := engine.NewExecutor(engine.RunConfig{
		RunID:     runID,
		Scenario:  scenario,
		SUT:       sut,
		Faults:    faults,
		Policies:  policies,
		PolicyRef: flags.persona,
		Seed:      seed,
		Instances: flags.instances,
		Parallel:  flags.parallel,
		Profile:   flags.profile,
		StepDelay: time.Duration(flags.stepDelayMs) * time.Millisecond,
		Sink:      artifacts,
	})
	report, err := executor.Run(ctx)
	if err != nil {
		return false, err
	}

	summary := report.Summary
	fmt.Printf("run %s: %d instances, %d passed, %d failed, %d aborted (pass rate %.1f%%)\n",
		runID, summary.Total, summary.PassCount, summary.FailCount, summary.AbortCount, summary.PassRate)
	fmt.Printf("latency ms: p50=%.1f p95=%.1f p99=%.1f\n",
		summary.P50LatencyMs, summary.P95LatencyMs, summary.P99LatencyMs)

	if len(thresholds) == 0 {
		return true, nil
	}
	checks, allPassed := gating.Evaluate(summary, thresholds)
	for _, check := range checks {
		fmt.Println(check)
	}
	return allPassed, nil
}

func buildSink(artifactDir, dbPath string) (sink.Sink, func(), error) {
	sinks := []sink.Sink{sink.NewJSONL(artifactDir)}
	if dbPath != "" {
		db, err := sink.NewLibSQL(dbPath)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, db)
	}
	multi := sink.NewMulti(sinks...)
	return multi, func() { multi.Close() }, nil
}
