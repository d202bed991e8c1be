package buildsys_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/rubberhead/serial-communicator/pkg/build/buildsys"
)

func testContext() context.Context {
	logger := zerolog.Nop()
	return buildsys.WithLogger(context.Background(), &logger)
}

func writeTaskFile(t *testing.T, content string) (string, string) {
	t.Helper()

	dir := t.TempDir()
	taskPath := filepath.Join(dir, buildsys.TaskFileName)
	err := os.WriteFile(taskPath, []byte(content), 0o600)
	if err != nil {
		t.Fatalf("failed to write task file: %v", err)
	}

	return dir, taskPath
}

func TestParseCollectsTasks(t *testing.T) {
	t.Parallel()

	dir, taskPath := writeTaskFile(t, `
profile = option("profile", default="release", help="build profile")

def configure():
    fetch = task(
        "fetch",
        desc="Download the sysroot",
        cmds=["echo fetching"],
    )

    task(
        "build",
        desc="Cross compile the bridge",
        deps=["fetch"],
        env={"PROFILE": profile},
        cmds=["echo building"],
    )
`)

	tasks, err := buildsys.Parse(testContext(), taskPath, dir, nil)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}

	build, ok := tasks["build"]
	if !ok {
		t.Fatal("task build is missing")
	}

	if build.Desc != "Cross compile the bridge" {
		t.Errorf("unexpected description %q", build.Desc)
	}

	if len(build.Deps) != 1 || build.Deps[0] != "fetch" {
		t.Errorf("unexpected deps %v", build.Deps)
	}

	if build.Env["PROFILE"] != "release" {
		t.Errorf("expected the option default, got %q", build.Env["PROFILE"])
	}
}

func TestParseOptionOverride(t *testing.T) {
	t.Parallel()

	dir, taskPath := writeTaskFile(t, `
profile = option("profile", default="release")

def configure():
    task("build", desc="build", env={"PROFILE": profile}, cmds=[])
`)

	tasks, err := buildsys.Parse(testContext(), taskPath, dir, map[string]string{"profile": "debug"})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if tasks["build"].Env["PROFILE"] != "debug" {
		t.Errorf("expected the override, got %q", tasks["build"].Env["PROFILE"])
	}
}

func TestParseCrossEnvOverrides(t *testing.T) {
	t.Parallel()

	dir, taskPath := writeTaskFile(t, `
def configure():
    vars = cross_env(sysroot="/opt/sysroot")
    if vars["PKG_CONFIG_SYSROOT_DIR"] != "/opt/sysroot":
        error("unexpected sysroot")

    task("build", desc="build", cmds=["echo building"])
    task("lint", desc="lint", env={"PKG_CONFIG_ALLOW_CROSS": "0"}, cmds=[])
`)

	tasks, err := buildsys.Parse(testContext(), taskPath, dir, nil)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	build := tasks["build"]
	expected := map[string]string{
		"PKG_CONFIG_DIR":         "",
		"PKG_CONFIG_LIBDIR":      "/opt/sysroot/usr/lib/pkgconfig:/opt/sysroot/usr/share/pkgconfig",
		"PKG_CONFIG_SYSROOT_DIR": "/opt/sysroot",
		"PKG_CONFIG_ALLOW_CROSS": "1",
		"PKG_CONFIG_PATH":        "/opt/sysroot/usr/lib/aarch64-linux-gnu/pkgconfig",
	}
	for name, value := range expected {
		if build.Env[name] != value {
			t.Errorf("%s = %q, want %q", name, build.Env[name], value)
		}
	}

	// a task that pins its own value keeps it
	if tasks["lint"].Env["PKG_CONFIG_ALLOW_CROSS"] != "0" {
		t.Errorf("expected the pinned value, got %q", tasks["lint"].Env["PKG_CONFIG_ALLOW_CROSS"])
	}
}

func TestParseCrossEnvRejectsBadTriple(t *testing.T) {
	t.Parallel()

	dir, taskPath := writeTaskFile(t, `
def configure():
    cross_env(triple="not-a-triple", sysroot="/opt/sysroot")
`)

	_, err := buildsys.Parse(testContext(), taskPath, dir, nil)
	if err == nil {
		t.Fatal("expected an error for a malformed triple")
	}
}

func TestParseMissingConfigure(t *testing.T) {
	t.Parallel()

	dir, taskPath := writeTaskFile(t, `x = 1`)

	_, err := buildsys.Parse(testContext(), taskPath, dir, nil)
	if err == nil {
		t.Fatal("expected an error for a missing configure function")
	}
}

func TestParseTupleCommands(t *testing.T) {
	t.Parallel()

	dir, taskPath := writeTaskFile(t, `
def configure():
    task(
        "copy",
        desc="copy",
        cmds=[("cp", resolve_path("a.txt"), "b name.txt")],
    )
`)

	tasks, err := buildsys.Parse(testContext(), taskPath, dir, nil)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if len(tasks["copy"].Cmds) != 1 {
		t.Fatalf("expected 1 command, got %d", len(tasks["copy"].Cmds))
	}
}

func TestParseRecordsCommandPositions(t *testing.T) {
	t.Parallel()

	dir, taskPath := writeTaskFile(t, `
def configure():
    task(
        "stage",
        desc="stage artifacts",
        cmds=[
            "mkdir out",
            ("cp", "a.txt", "out/a.txt"),
            "echo done",
        ],
    )
`)

	tasks, err := buildsys.Parse(testContext(), taskPath, dir, nil)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	cmds := tasks["stage"].Cmds
	if len(cmds) != 3 {
		t.Fatalf("expected 3 commands, got %d", len(cmds))
	}

	for idx, cmd := range cmds {
		script, ok := cmd.(buildsys.ScriptCmd)
		if !ok {
			t.Fatalf("command %d is not a script command", idx)
		}

		if script.TaskName != "stage" {
			t.Errorf("command %d belongs to %q, expected %q", idx, script.TaskName, "stage")
		}

		if script.Index != idx {
			t.Errorf("command %d recorded index %d", idx, script.Index)
		}
	}
}
