package cmd

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/rubberhead/serial-communicator/pkg/build"
	"github.com/rubberhead/serial-communicator/pkg/build/crossenv"
)

// minBuilderVersion is the oldest cargo release the cross build is tested
// with; older releases don't honor PKG_CONFIG_ALLOW_CROSS consistently.
const minBuilderVersion = ">= 1.62.0"

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verifies that the cross-compilation setup is complete",
	Long: `Checks the build command version, the presence of pkg-config and the
sysroot directories the cross environment points at.`,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		failed := false

		build.PrintTask("Checking build command")
		version, err := builderVersion(crossenv.DefaultBuilder)
		if err != nil {
			build.PrintError(err.Error())
			failed = true
		} else {
			constraint, err := semver.NewConstraint(minBuilderVersion)
			if err != nil {
				return eris.Wrap(err, "failed to parse the version constraint")
			}

			if constraint.Check(version) {
				build.PrintSubtask(crossenv.DefaultBuilder + " " + version.String())
			} else {
				build.PrintError(crossenv.DefaultBuilder + " " + version.String() + " is too old, need " + minBuilderVersion)
				failed = true
			}
		}

		build.PrintTask("Checking pkg-config")
		pkgConfig, err := exec.LookPath("pkg-config")
		if err != nil {
			build.PrintError("pkg-config not found in PATH")
			failed = true
		} else {
			build.PrintSubtask(pkgConfig)
		}

		build.PrintTask("Checking sysroot")
		env := crossenv.Env{Sysroot: sysroot, Triple: crossenv.AArch64LinuxGNU}
		for _, dir := range []string{
			sysroot,
			filepath.Join(sysroot, "usr", "lib", "pkgconfig"),
			filepath.Join(sysroot, "usr", "share", "pkgconfig"),
			filepath.Join(sysroot, "usr", "lib", env.Triple.LibDir(), "pkgconfig"),
		} {
			info, err := os.Stat(dir)
			if err != nil || !info.IsDir() {
				build.PrintError(dir + " is missing; run fetch-sysroot")
				failed = true
				continue
			}

			build.PrintSubtask(dir)
		}

		if failed {
			return eris.New("the cross-compilation setup is incomplete")
		}

		build.PrintTask("Everything looks good")
		return nil
	},
}

// builderVersion parses the version reported by `cargo --version` (the
// output looks like "cargo 1.74.0 (ecb9851af 2023-10-18)").
func builderVersion(command string) (*semver.Version, error) {
	output, err := exec.Command(command, "--version").Output()
	if err != nil {
		return nil, eris.Wrapf(err, "failed to run %s --version", command)
	}

	fields := strings.Fields(string(output))
	if len(fields) < 2 {
		return nil, eris.Errorf("unexpected version output %q", strings.TrimSpace(string(output)))
	}

	version, err := semver.NewVersion(fields[1])
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse version %q", fields[1])
	}

	return version, nil
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().String("sysroot", "", "sysroot location (defaults to ~/"+crossenv.SysrootRel+")")
}
