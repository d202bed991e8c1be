package cmd

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/rubberhead/serial-communicator/pkg/build"
)

// Sysroot snapshots make the CI cache portable: instead of re-downloading
// every component, the runner restores a single .srp file.

var packRootCmd = &cobra.Command{
	Use:   "pack-root <archive> <directory>",
	Short: "Packs a sysroot directory into an .srp snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 2 {
			return eris.New("expects exactly two parameters: the archive and the directory to pack")
		}

		build.PrintTask("Packing " + args[1])
		err := build.PackTree(args[0], args[1])
		if err != nil {
			return err
		}

		build.PrintTask("Done")
		return nil
	},
}

var unpackRootCmd = &cobra.Command{
	Use:   "unpack-root <archive> <directory>",
	Short: "Unpacks an .srp snapshot into the given directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 2 {
			return eris.New("expects exactly two parameters: the archive and the destination directory")
		}

		build.PrintTask("Unpacking " + args[0])
		err := build.UnpackTree(args[0], args[1])
		if err != nil {
			return err
		}

		build.PrintTask("Done")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(packRootCmd)
	rootCmd.AddCommand(unpackRootCmd)
}
