package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/cmadac/internal/logging"
)

var (
	logLevel  string
	logFormat string
	logger    *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "rollout",
	Short: "Run CMA-ES step-size control episodes",
	Long: `rollout runs episodes of the CMA-ES step-size control environment
with a fixed sigma policy, optionally persisting the tracked states.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.NewLogger(&logging.Config{
			Level:  logLevel,
			Format: logFormat,
			Output: "stderr",
		})
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (json, text)")
	rootCmd.SetErr(os.Stderr)
}
