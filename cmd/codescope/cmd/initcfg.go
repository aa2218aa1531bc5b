package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codescope-ai/codescope/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a starter configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "codescope.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteStarter(path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
