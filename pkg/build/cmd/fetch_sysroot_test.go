package cmd

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
)

func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()

	buf := bytes.Buffer{}
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for name, content := range files {
		err := tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		})
		if err != nil {
			t.Fatalf("failed to write header: %v", err)
		}

		if _, err = tw.Write([]byte(content)); err != nil {
			t.Fatalf("failed to write entry: %v", err)
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatalf("failed to close archive: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("failed to close archive: %v", err)
	}

	return buf.Bytes()
}

func fetchTestCmd(t *testing.T) *cobra.Command {
	t.Helper()

	cmd := &cobra.Command{}
	cmd.Flags().Bool("update", false, "")
	return cmd
}

func TestFetchComponentsExtractsAndStamps(t *testing.T) {
	archive := buildTarGz(t, map[string]string{
		"usr/lib/pkgconfig/libudev.pc": "Name: libudev\n",
	})
	digest := sha256.Sum256(archive)

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write(archive)
	}))
	defer server.Close()

	cfg := sysrootConfig{
		Components: map[string]componentSpec{
			"base": {
				URL:    server.URL + "/base.tar.gz",
				Dest:   ".",
				Sha256: hex.EncodeToString(digest[:]),
			},
		},
	}

	sysroot := t.TempDir()
	stamps := map[string]string{}

	err := fetchComponents(fetchTestCmd(t), cfg, "", stamps, t.TempDir(), sysroot)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(sysroot, "usr", "lib", "pkgconfig", "libudev.pc"))
	if err != nil {
		t.Fatalf("extracted file missing: %v", err)
	}
	if string(content) != "Name: libudev\n" {
		t.Errorf("unexpected content %q", content)
	}

	if _, ok := stamps["base"]; !ok {
		t.Error("no stamp was recorded")
	}

	// a second run with matching stamps must not download again
	err = fetchComponents(fetchTestCmd(t), cfg, "", stamps, t.TempDir(), sysroot)
	if err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}

	if got := requests.Load(); got != 1 {
		t.Errorf("expected 1 download, got %d", got)
	}
}

func TestFetchComponentsChecksumMismatch(t *testing.T) {
	archive := buildTarGz(t, map[string]string{"usr/share/doc": "x"})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer server.Close()

	cfg := sysrootConfig{
		Components: map[string]componentSpec{
			"base": {
				URL:    server.URL + "/base.tar.gz",
				Dest:   ".",
				Sha256: strings.Repeat("0", 64),
			},
		},
	}

	err := fetchComponents(fetchTestCmd(t), cfg, "", map[string]string{}, t.TempDir(), t.TempDir())
	if err == nil {
		t.Fatal("expected a checksum error")
	}
	if !strings.Contains(err.Error(), "checksum mismatch") {
		t.Errorf("unexpected error: %v", err)
	}
}
