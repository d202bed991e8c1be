// Package build contains the pieces shared by the tool subcommands: project
// root lookup, console output helpers and the sysroot snapshot format.
package build

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
)

// GetProjectRoot walks from the working directory upwards until it finds the
// repository root (marked by .git).
func GetProjectRoot() (string, error) {
	current, err := os.Getwd()
	if err != nil {
		return "", eris.Wrap(err, "failed to retrieve the working directory")
	}

	for {
		_, err := os.Stat(filepath.Join(current, ".git"))
		if err == nil {
			return current, nil
		}

		if !eris.Is(err, os.ErrNotExist) {
			return "", eris.Wrap(err, "error occurred while searching for the project root")
		}

		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}

	return "", eris.New("project root not found")
}

func PrintTask(msg string) {
	colorstring.Printf("[blue][bold]==>[default] %s\n", msg)
}

func PrintSubtask(msg string) {
	colorstring.Printf("[green][bold]  ->[reset] %s\n", msg)
}

func PrintError(msg string) {
	colorstring.Printf("[red][bold]  ->[reset] %s\n", msg)
}
