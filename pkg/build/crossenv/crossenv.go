// Package crossenv computes the environment necessary to cross-compile the
// bridge for an aarch64 Linux target. pkg-config has to be pointed at the
// sysroot's .pc files, otherwise it resolves libraries from the host and the
// resulting link flags are useless.
package crossenv

import (
	"fmt"
	"path"
	"strings"
)

// SysrootRel is where the sysroot lives, relative to the user's home directory.
const SysrootRel = "build/root"

// Var is a single environment assignment.
type Var struct {
	Name  string
	Value string
}

// Env holds the resolved parameters for one cross build.
type Env struct {
	Sysroot string
	Triple  Triple
}

// DeriveSysroot returns the sysroot path for the given home directory.
// The result stays slash-form on every platform: the five variables are
// consumed by pkg-config, which expects POSIX-style paths, and
// PKG_CONFIG_LIBDIR joins its entries with ':'.
// The path is not checked for existence; pkg-config reports missing .pc
// files on its own and a fresh checkout simply hasn't run fetch-sysroot yet.
func DeriveSysroot(home string) string {
	return path.Join(home, SysrootRel)
}

// Derive builds the cross environment for the given home directory.
func Derive(home string, triple Triple) Env {
	return Env{
		Sysroot: DeriveSysroot(home),
		Triple:  triple,
	}
}

// Vars returns the environment assignments in export order.
//
// PKG_CONFIG_DIR is cleared (exported empty) so no host search path leaks
// into the lookup. PKG_CONFIG_ALLOW_CROSS tells the builder's pkg-config
// wrapper that a cross target is expected.
func (e Env) Vars() []Var {
	libdir := strings.Join([]string{
		e.Sysroot + "/usr/lib/pkgconfig",
		e.Sysroot + "/usr/share/pkgconfig",
	}, ":")

	return []Var{
		{"PKG_CONFIG_DIR", ""},
		{"PKG_CONFIG_LIBDIR", libdir},
		{"PKG_CONFIG_SYSROOT_DIR", e.Sysroot},
		{"PKG_CONFIG_ALLOW_CROSS", "1"},
		{"PKG_CONFIG_PATH", e.Sysroot + "/usr/lib/" + e.Triple.LibDir() + "/pkgconfig"},
	}
}

// Map returns the same assignments as Vars keyed by name.
func (e Env) Map() map[string]string {
	vars := e.Vars()
	result := make(map[string]string, len(vars))
	for _, item := range vars {
		result[item.Name] = item.Value
	}

	return result
}

// Environ merges the cross assignments into the passed process environment.
// Existing entries with the same name are replaced so the child process sees
// exactly one value per variable.
func (e Env) Environ(base []string) []string {
	vars := e.Vars()
	names := make(map[string]bool, len(vars))
	for _, item := range vars {
		names[item.Name] = true
	}

	merged := make([]string, 0, len(base)+len(vars))
	for _, entry := range base {
		name, _, _ := strings.Cut(entry, "=")
		if !names[name] {
			merged = append(merged, entry)
		}
	}

	for _, item := range vars {
		merged = append(merged, fmt.Sprintf("%s=%s", item.Name, item.Value))
	}

	return merged
}
