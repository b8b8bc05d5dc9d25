package handlers

import (
	"fmt"
	"os"

	"cogni/internal/config"
	"cogni/internal/logger"

	"github.com/spf13/cobra"
)

var cfgFile string

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cogni",
		Short: "Cogni turns classroom uploads into study guides and chat into confusion insights.",
		Long: `Cogni - Classroom AI Pipeline

Processes student study uploads into an incrementally updated study guide
and classroom chat into anonymized confusion summaries.

Core workflows:
  • Serve: run the HTTP API the web app calls
  • Generate: one-shot study guide generation for a classroom
  • Insights: one-shot confusion summary for a classroom

Examples:
  # Start the HTTP server
  cogni serve

  # Regenerate a classroom's study guide from the CLI
  cogni generate --classroom c-101 --force

  # Produce a confusion summary for the last day of chat
  cogni insights --classroom c-101`,
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .cogni.yaml)")

	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewGenerateCmd())
	rootCmd.AddCommand(NewInsightsCmd())
	rootCmd.AddCommand(NewSeedCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if cfg.App.Debug {
		logger.SetLevel("debug")
	} else {
		logger.SetLevel(cfg.App.LogLevel)
	}
}
