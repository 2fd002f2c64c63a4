package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/windtunnel-dev/windtunnel/internal/gating"
	"github.com/windtunnel-dev/windtunnel/internal/sink"
)

func newGateCmd() *cobra.Command {
	var (
		runID       string
		artifactDir string
		dbPath      string
	)
	cmd := &cobra.Command{
		Use:   "gate [thresholds...]",
		Short: "Apply threshold gates to a recorded run summary",
		Long: `gate loads the summary of a completed run and checks it against
threshold expressions like pass_rate>=99 or p95_latency_ms<250, exiting
non-zero when any gate fails. Intended for CI pipelines.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			thresholds, err := gating.ParseAll(args)
			if err != nil {
				return err
			}

			reader, closeReader, err := openReader(artifactDir, dbPath)
			if err != nil {
				return err
			}
			defer closeReader()

			summary, err := reader.LoadSummary(runID)
			if err != nil {
				return err
			}
			checks, allPassed := gating.Evaluate(summary, thresholds)
			for _, check := range checks {
				fmt.Println(check)
			}
			if !allPassed {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id to gate")
	cmd.Flags().StringVarP(&artifactDir, "out", "o", "artifacts", "artifact directory holding the run")
	cmd.Flags().StringVar(&dbPath, "db", "", "read the summary from this libsql database instead")
	cmd.MarkFlagRequired("run")
	return cmd
}

// openReader selects the artifact source: the libsql database when --db is
// given, the JSONL directory otherwise.
func openReader(artifactDir, dbPath string) (sink.Reader, func(), error) {
	if dbPath == "" {
		return sink.NewJSONLReader(artifactDir), func() {}, nil
	}
	db, err := sink.NewLibSQL(dbPath)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { db.Close() }, nil
}
