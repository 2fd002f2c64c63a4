package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/windtunnel-dev/windtunnel/internal/logging"
)

var (
	logLevel  string
	logFormat string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "windtunnel",
		Short: "Synthetic concurrent workflow load driver",
		Long: `windtunnel drives synthetic, concurrent workflow instances against a
target system, records every step, and supports deterministic replay and
fault injection.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(logFormat, logLevel)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text|json)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newReplayCmd())
	root.AddCommand(newGateCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
}
