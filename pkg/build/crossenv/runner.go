package crossenv

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
)

// DefaultBuilder is the build command the wrapper delegates to.
const DefaultBuilder = "cargo"

// DefaultSubcommand is the builder subcommand that performs a build.
const DefaultSubcommand = "build"

// Builder invokes the external build command with the cross environment
// applied. The zero value is not usable; use NewBuilder.
type Builder struct {
	Env     Env
	Command string
	Subcmd  string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// NewBuilder returns a Builder for the given environment that runs the
// default build command with inherited stdio.
func NewBuilder(env Env) *Builder {
	return &Builder{
		Env:     env,
		Command: DefaultBuilder,
		Subcmd:  DefaultSubcommand,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

// Args returns the arguments passed to the build command: the subcommand and
// a single target flag.
func (b *Builder) Args() []string {
	return []string{b.Subcmd, "--target=" + b.Env.Triple.String()}
}

// CommandLine renders the full invocation for display (dry runs).
func (b *Builder) CommandLine() string {
	return strings.Join(append([]string{b.Command}, b.Args()...), " ")
}

// Run spawns the build command and waits for it to finish. The command's
// stdio is connected to the Builder's streams and its environment is the
// current process environment with the cross assignments merged in.
// The wrapper itself produces no output; whatever the build command emits is
// all the caller sees.
func (b *Builder) Run(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, b.Command, b.Args()...)
	cmd.Env = b.Env.Environ(os.Environ())
	cmd.Stdin = b.Stdin
	cmd.Stdout = b.Stdout
	cmd.Stderr = b.Stderr

	return cmd.Run()
}

// ExitCode maps the error returned by Run to the process exit status the
// wrapper should exit with. The build command's own status is passed through
// unchanged; anything else (command missing, context canceled) becomes 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return 1
}
