package root

import (
	"github.com/spf13/cobra"
)

// rootCmd anchors the opencourt CLI; command groups register themselves
// against it from their own packages via Root().
var rootCmd = &cobra.Command{
	Use:           "opencourt",
	Short:         "OpenCourt operations CLI",
	Long:          "Operational helpers for running OpenCourt: apply the database schema, seed and inspect player credit accounts.",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute dispatches to the selected subcommand.
func Execute() error {
	return rootCmd.Execute()
}

// Root exposes the root command so subpackages can attach their groups.
func Root() *cobra.Command {
	return rootCmd
}
