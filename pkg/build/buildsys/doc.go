// Package buildsys implements a small task runner: tasks are declared in a
// Starlark file (tasks.star) and their commands run through mvdan.cc/sh, so
// the same task file works on every development machine. Cross-compilation
// tasks pull their environment from the crossenv package via the cross_env
// builtin.
package buildsys
