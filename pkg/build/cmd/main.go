package cmd

import (
	"github.com/spf13/cobra"

	taskcmd "github.com/rubberhead/serial-communicator/pkg/build/buildsys/cmd"
)

var rootCmd = &cobra.Command{
	Use:   "tool",
	Short: "Build tools for the serial bridge",
	Long: `This command bundles the tools used to build the serial bridge for the
aarch64 target. This includes the sysroot download, the cross-compilation
wrapper and a few POSIX helpers for task files.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(taskcmd.RootCmd)
}

// Execute runs the root command and returns its error instead of exiting so
// main can translate it into the right exit status.
func Execute() error {
	return rootCmd.Execute()
}
