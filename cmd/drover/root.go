package main

import (
	"os"

	"github.com/mwhitby/drover/internal/config"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "drover",
	Short: "Multi-agent automation orchestrator",
	Long: `Drover coordinates interchangeable automation agents against a
stream of instructions. It selects agents by capability, runs them
under a concurrency budget with a sequential, parallel, or adaptive
strategy, and returns the best result per task.

Run 'drover serve' to start the orchestrator with its HTTP submission
front, then 'drover submit' to send it work.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig honors the --config flag, falling back to the standard
// search path.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file (default: XDG config, then .drover.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
