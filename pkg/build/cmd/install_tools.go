package cmd

import (
	"github.com/spf13/cobra"

	"github.com/rubberhead/serial-communicator/pkg/build"
)

var installToolsCmd = &cobra.Command{
	Use:   "install-tools",
	Short: "Installs Go CLI tools",
	Long: `Installs the tools listed in tools.go into the workspace .tools directory.
If you have direnv enabled, they will be available in your PATH.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		build.PrintTask("Installing tools")
		return build.InstallTools()
	},
}

func init() {
	rootCmd.AddCommand(installToolsCmd)
}
