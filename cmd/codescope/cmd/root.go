// Package cmd holds the codescope CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "codescope",
	Short: "Codebase analysis backend for QA engineers",
	Long: `codescope runs AI agent CLIs against a codebase and turns their raw
output into a structured, queryable event stream. It serves a REST and SSE
API for projects, tickets and live analysis logs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
}
