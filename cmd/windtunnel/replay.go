package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/windtunnel-dev/windtunnel/internal/config"
	"github.com/windtunnel-dev/windtunnel/internal/replay"
	"github.com/windtunnel-dev/windtunnel/internal/sink"
)

func newReplayCmd() *cobra.Command {
	var (
		runID        string
		instanceID   string
		scenarioPath string
		sutPath      string
		faultsPath   string
		policiesPath string
		personaRef   string
		profile      string
		artifactDir  string
		dbPath       string
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-drive one recorded instance with its original seed",
		Long: `replay loads a recorded run's manifest, re-instantiates the selected
instance with the same seed and instance index, and produces fresh
observations for comparison. The original artifacts are never modified.
Results can diverge when the target system's state has changed since the
original run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			scenario, err := config.LoadScenario(scenarioPath)
			if err != nil {
				return err
			}
			sut, err := config.LoadSUT(sutPath, profile)
			if err != nil {
				return err
			}
			faults, err := config.LoadFaults(faultsPath)
			if err != nil {
				return err
			}
			policies, err := config.LoadPolicies(policiesPath)
			if err != nil {
				return err
			}

			out := sink.NewJSONL(artifactDir)
			defer out.Close()

			reader, closeReader, err := openReader(artifactDir, dbPath)
			if err != nil {
				return err
			}
			defer closeReader()

			reconstructor := replay.NewReconstructor(reader)
			comparison, err := reconstructor.Replay(cmd.Context(), replay.Options{
				RunID:      runID,
				InstanceID: instanceID,
				Scenario:   scenario,
				SUT:        sut,
				Faults:     faults,
				Policies:   policies,
				PolicyRef:  personaRef,
				Sink:       out,
			})
			if err != nil {
				return err
			}

			fmt.Printf("replayed instance %s as run %s\n", instanceID, comparison.ReplayRunID)
			fmt.Printf("original: status=%s steps=%d\n", comparison.Original.Status, comparison.Original.Steps)
			fmt.Printf("replayed: status=%s steps=%d\n", comparison.Replayed.Status, comparison.Replayed.Steps)
			if comparison.StatusMatch && comparison.StepsMatch {
				fmt.Println("verdict: match")
			} else {
				fmt.Println("verdict: diverged (target state may have changed since the original run)")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id to replay from")
	cmd.Flags().StringVar(&instanceID, "instance", "", "instance id to replay")
	cmd.Flags().StringVarP(&scenarioPath, "scenario", "s", "", "scenario definition file")
	cmd.Flags().StringVarP(&sutPath, "target", "t", "", "target system config file")
	cmd.Flags().StringVar(&faultsPath, "faults", "", "fault policy file")
	cmd.Flags().StringVar(&policiesPath, "policies", "", "persona policy file")
	cmd.Flags().StringVar(&personaRef, "persona", "", "persona to use from the policy file")
	cmd.Flags().StringVar(&profile, "profile", "", "environment profile to apply")
	cmd.Flags().StringVarP(&artifactDir, "out", "o", "artifacts", "artifact directory holding the original run")
	cmd.Flags().StringVar(&dbPath, "db", "", "read the original run from this libsql database instead")
	cmd.MarkFlagRequired("run")
	cmd.MarkFlagRequired("instance")
	cmd.MarkFlagRequired("scenario")
	cmd.MarkFlagRequired("target")
	return cmd
}
