package build

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func buildSampleTree(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	dirs := []string{
		filepath.Join(root, "usr", "lib", "pkgconfig"),
		filepath.Join(root, "usr", "bin"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("failed to create %s: %v", dir, err)
		}
	}

	files := map[string]string{
		filepath.Join(root, "usr", "lib", "pkgconfig", "libudev.pc"): "Name: libudev\nVersion: 249\n",
		filepath.Join(root, "usr", "lib", "libudev.so.1.7.2"):        strings.Repeat("ELF", 512),
		filepath.Join(root, "usr", "bin", "ldd"):                     "#!/bin/sh\n",
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", path, err)
		}
	}

	err := os.Chmod(filepath.Join(root, "usr", "bin", "ldd"), 0o755)
	if err != nil {
		t.Fatalf("failed to chmod: %v", err)
	}

	err = os.Symlink("libudev.so.1.7.2", filepath.Join(root, "usr", "lib", "libudev.so.1"))
	if err != nil {
		t.Fatalf("failed to create symlink: %v", err)
	}

	return root
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("symlinks require elevated rights on Windows")
	}

	root := buildSampleTree(t)
	archive := filepath.Join(t.TempDir(), "sysroot.srp")

	if err := PackTree(archive, root); err != nil {
		t.Fatalf("failed to pack: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "restored")
	if err := UnpackTree(archive, dest); err != nil {
		t.Fatalf("failed to unpack: %v", err)
	}

	original, err := os.ReadFile(filepath.Join(root, "usr", "lib", "pkgconfig", "libudev.pc"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	restored, err := os.ReadFile(filepath.Join(dest, "usr", "lib", "pkgconfig", "libudev.pc"))
	if err != nil {
		t.Fatalf("restored file missing: %v", err)
	}
	if !bytes.Equal(original, restored) {
		t.Error("restored file differs from the original")
	}

	info, err := os.Stat(filepath.Join(dest, "usr", "bin", "ldd"))
	if err != nil {
		t.Fatalf("restored binary missing: %v", err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("expected mode 0755, got %s", info.Mode())
	}

	target, err := os.Readlink(filepath.Join(dest, "usr", "lib", "libudev.so.1"))
	if err != nil {
		t.Fatalf("restored symlink missing: %v", err)
	}
	if target != "libudev.so.1.7.2" {
		t.Errorf("expected target libudev.so.1.7.2, got %s", target)
	}
}

func TestSnapshotRestoreOverExistingTree(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("symlinks require elevated rights on Windows")
	}

	root := buildSampleTree(t)
	archive := filepath.Join(t.TempDir(), "sysroot.srp")

	if err := PackTree(archive, root); err != nil {
		t.Fatalf("failed to pack: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "restored")
	if err := UnpackTree(archive, dest); err != nil {
		t.Fatalf("failed to unpack: %v", err)
	}

	// mangle the restored tree the way a stale cache would
	pcPath := filepath.Join(dest, "usr", "lib", "pkgconfig", "libudev.pc")
	if err := os.WriteFile(pcPath, []byte("stale"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	linkPath := filepath.Join(dest, "usr", "lib", "libudev.so.1")
	if err := os.Remove(linkPath); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.Symlink("libudev.so.0.0.0", linkPath); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := UnpackTree(archive, dest); err != nil {
		t.Fatalf("failed to unpack over an existing tree: %v", err)
	}

	restored, err := os.ReadFile(pcPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(restored) == "stale" {
		t.Error("existing file was not overwritten")
	}

	target, err := os.Readlink(linkPath)
	if err != nil {
		t.Fatalf("restored symlink missing: %v", err)
	}
	if target != "libudev.so.1.7.2" {
		t.Errorf("expected target libudev.so.1.7.2, got %s", target)
	}
}

func TestSnapshotDeterministic(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("symlinks require elevated rights on Windows")
	}

	root := buildSampleTree(t)
	first := filepath.Join(t.TempDir(), "a.srp")
	second := filepath.Join(t.TempDir(), "b.srp")

	if err := PackTree(first, root); err != nil {
		t.Fatalf("failed to pack: %v", err)
	}
	if err := PackTree(second, root); err != nil {
		t.Fatalf("failed to pack: %v", err)
	}

	a, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := os.ReadFile(second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !bytes.Equal(a, b) {
		t.Error("identical trees produced different archives")
	}
}

func TestSnapshotRejectsGarbage(t *testing.T) {
	t.Parallel()

	archive := filepath.Join(t.TempDir(), "bogus.srp")
	err := os.WriteFile(archive, []byte("definitely not a snapshot"), 0o644)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := UnpackTree(archive, t.TempDir()); err == nil {
		t.Error("expected an error for a bogus archive")
	}
}

func TestSnapshotWriterBalancesDirs(t *testing.T) {
	t.Parallel()

	archive := filepath.Join(t.TempDir(), "unbalanced.srp")
	writer, err := NewSnapshotWriter(archive)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	writer.OpenDirectory("usr", 0o755)
	if err := writer.Close(); err == nil {
		t.Error("expected an error for an open directory")
	}

	if err := writer.CloseDirectory(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := writer.CloseDirectory(); err == nil {
		t.Error("expected an error for an empty directory stack")
	}
}
