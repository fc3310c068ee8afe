// Package commands implements ramfsd's CLI surface, a cobra root command
// wrapping a single serve subcommand.
package commands

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "ramfsd",
	Short:         "ramfsd - an in-memory, capacity-evicting file storage server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
