package cmd

import (
	"errors"
	"os"
	"os/exec"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/rubberhead/serial-communicator/pkg/build/crossenv"
)

var crossBuildCmd = &cobra.Command{
	Use:   "cross-build",
	Short: "Compiles the bridge for the aarch64 target",
	Long: `Exports the pkg-config variables pointing at the sysroot and invokes the
build command for the target triple. The build command's output and exit
status are passed through unchanged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		err := runCrossBuild(cmd)

		// when the build command itself fails it has already written its
		// diagnostics; the wrapper adds nothing and only passes the exit
		// status through
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			cmd.PrintErrln("Error:", err)
		}

		return err
	},
}

func runCrossBuild(cmd *cobra.Command) error {
	tripleArg, err := cmd.Flags().GetString("triple")
	if err != nil {
		return err
	}

	triple, err := crossenv.ParseTriple(tripleArg)
	if err != nil {
		return err
	}

	sysroot, err := cmd.Flags().GetString("sysroot")
	if err != nil {
		return err
	}

	if sysroot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return eris.Wrap(err, "failed to determine the home directory")
		}

		sysroot = crossenv.DeriveSysroot(home)
	}

	builder := crossenv.NewBuilder(crossenv.Env{Sysroot: sysroot, Triple: triple})

	builderCmd, err := cmd.Flags().GetString("builder")
	if err != nil {
		return err
	}
	if builderCmd != "" {
		builder.Command = builderCmd
	}

	dry, err := cmd.Flags().GetBool("dry")
	if err != nil {
		return err
	}

	if dry {
		cmd.Println(builder.CommandLine())
		return nil
	}

	return builder.Run(cmd.Context())
}

func init() {
	rootCmd.AddCommand(crossBuildCmd)
	crossBuildCmd.Flags().String("triple", string(crossenv.AArch64LinuxGNU), "target triple to compile for")
	crossBuildCmd.Flags().String("sysroot", "", "sysroot location (defaults to ~/"+crossenv.SysrootRel+")")
	crossBuildCmd.Flags().String("builder", "", "build command to invoke instead of "+crossenv.DefaultBuilder)
	crossBuildCmd.Flags().Bool("dry", false, "print the invocation instead of running it")
	crossBuildCmd.SilenceErrors = true
}
