package buildsys_test

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/rubberhead/serial-communicator/pkg/build/buildsys"
)

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()

	dir, taskPath := writeTaskFile(t, `
def configure():
    task("fetch", desc="fetch", cmds=["echo fetching"])
    task("build", desc="build", deps=["fetch"], env={"PROFILE": "release"}, cmds=["echo building"])
`)

	ctx := testContext()
	tasks, err := buildsys.Parse(ctx, taskPath, dir, nil)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	options := map[string]string{"profile": "release"}
	cachePath := filepath.Join(dir, "cache.bin")

	err = buildsys.WriteCache(cachePath, options, tasks)
	if err != nil {
		t.Fatalf("failed to write cache: %v", err)
	}

	loadedOptions, loadedTasks, err := buildsys.ReadCache(cachePath)
	if err != nil {
		t.Fatalf("failed to read cache: %v", err)
	}

	if !reflect.DeepEqual(loadedOptions, options) {
		t.Errorf("options changed in the round trip: %v", loadedOptions)
	}

	if len(loadedTasks) != len(tasks) {
		t.Fatalf("expected %d tasks, got %d", len(tasks), len(loadedTasks))
	}

	build := loadedTasks["build"]
	if build == nil {
		t.Fatal("task build is missing")
	}

	if build.Env["PROFILE"] != "release" {
		t.Errorf("unexpected env %v", build.Env)
	}

	if len(build.Deps) != 1 || build.Deps[0] != "fetch" {
		t.Errorf("unexpected deps %v", build.Deps)
	}

	if len(build.Cmds) != 1 {
		t.Errorf("expected 1 command, got %d", len(build.Cmds))
	}
}

func TestReadCacheMissingFile(t *testing.T) {
	t.Parallel()

	_, _, err := buildsys.ReadCache(filepath.Join(t.TempDir(), "nope.bin"))
	if err == nil {
		t.Fatal("expected an error for a missing cache file")
	}
}
