package cmd

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/ulikunitz/xz"
	"gopkg.in/yaml.v3"

	"github.com/rubberhead/serial-communicator/pkg/build"
	"github.com/rubberhead/serial-communicator/pkg/build/crossenv"
)

// componentSpec describes one archive that becomes part of the sysroot.
// Dest is relative to the sysroot directory.
type componentSpec struct {
	Condition  string `yaml:"if,omitempty"`
	Rejections string `yaml:"ifNot,omitempty"`
	URL        string
	Dest       string
	Sha256     string
	Strip      int
	MarkExec   []string `yaml:"markExec,omitempty"`
}

type sysrootConfig struct {
	Vars       map[string]string
	Components map[string]componentSpec
}

const (
	sysrootConfigName = "SYSROOT.yml"
	sysrootStampsName = "SYSROOT.stamps"
)

var fetchSysrootCmd = &cobra.Command{
	Use:   "fetch-sysroot",
	Short: "Downloads and unpacks the aarch64 sysroot",
	Long: `Downloads the archives listed in SYSROOT.yml, verifies their checksums and
unpacks them into the sysroot directory the cross build expects.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		build.PrintTask("Loading config")
		root, err := build.GetProjectRoot()
		if err != nil {
			return err
		}

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

		cfg, cfgData, stamps, err := loadSysrootConfig(root)
		if err != nil {
			return err
		}

		build.PrintTask("Downloading sysroot components")
		err = fetchComponents(cmd, cfg, cfgData, stamps, root, sysroot)

		stampPath := filepath.Join(root, sysrootStampsName)
		stampData, jErr := json.Marshal(stamps)
		if jErr != nil {
			build.PrintError(jErr.Error())
		}

		jErr = os.WriteFile(stampPath, stampData, os.FileMode(0o660))
		if jErr != nil {
			build.PrintError(jErr.Error())
		}

		build.PrintTask("Done")

		return err
	},
}

func init() {
	rootCmd.AddCommand(fetchSysrootCmd)
	fetchSysrootCmd.Flags().String("sysroot", "", "unpack into this directory instead of ~/"+crossenv.SysrootRel)
	fetchSysrootCmd.Flags().BoolP("update", "u", false, "update checksums in "+sysrootConfigName)
}

func getProgressBar(length int64, desc string) *progressbar.ProgressBar {
	if os.Getenv("CI") == "true" {
		// progress bars fill CI logs with control characters
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.DefaultBytes(length, desc)
}

func loadSysrootConfig(projectRoot string) (sysrootConfig, string, map[string]string, error) {
	var cfg sysrootConfig
	cfgPath := filepath.Join(projectRoot, sysrootConfigName)
	cfgData, err := os.ReadFile(cfgPath)
	if err != nil {
		return cfg, "", nil, eris.Wrapf(err, "could not open file %s", cfgPath)
	}

	err = yaml.Unmarshal(cfgData, &cfg)
	if err != nil {
		return cfg, "", nil, eris.Wrapf(err, "failed to parse %s", cfgPath)
	}

	stamps := map[string]string{}
	stampPath := filepath.Join(projectRoot, sysrootStampsName)
	stampData, err := os.ReadFile(stampPath)
	if err != nil {
		if !eris.Is(err, os.ErrNotExist) {
			return cfg, "", nil, eris.Wrapf(err, "failed to read stamps file %s", stampPath)
		}
	} else {
		err = json.Unmarshal(stampData, &stamps)
		if err != nil {
			return cfg, "", nil, eris.Wrapf(err, "failed to parse stamps file %s", stampPath)
		}
	}

	return cfg, string(cfgData), stamps, nil
}

var placeholderPattern = regexp.MustCompile(`\{([A-Z0-9_]+)\}`)

// evalConditions expands the URL placeholders and reports whether the
// component applies on this host.
func evalConditions(meta *componentSpec, vars map[string]string) bool {
	meta.URL = placeholderPattern.ReplaceAllStringFunc(meta.URL, func(varName string) string {
		return vars[varName[1:len(varName)-1]]
	})

	for _, condition := range strings.Split(meta.Condition, ",") {
		if condition == "" {
			continue
		}

		value, ok := vars[strings.TrimSpace(condition)]
		if !ok || value == "" {
			return false
		}
	}

	for _, condition := range strings.Split(meta.Rejections, ",") {
		if condition == "" {
			continue
		}

		value, ok := vars[strings.TrimSpace(condition)]
		if ok && value != "" {
			return false
		}
	}
	return true
}

func fetchComponents(cmd *cobra.Command, cfg sysrootConfig, cfgData string, stamps map[string]string, projectRoot, sysroot string) error {
	client := &http.Client{
		Timeout: time.Minute * 30,
	}
	buf := make([]byte, 4096)

	update, err := cmd.Flags().GetBool("update")
	if err != nil {
		return err
	}

	vars := cfg.Vars
	if vars == nil {
		vars = map[string]string{}
	}
	vars[runtime.GOARCH] = "true"
	vars[runtime.GOOS] = "true"
	if os.Getenv("CI") == "true" {
		vars["ci"] = "true"
	}

	changes := map[string]string{}

	for name, meta := range cfg.Components {
		// conditions are evaluated even in update mode because they expand
		// the URL placeholders
		skip := !evalConditions(&meta, vars)
		if skip && !update {
			continue
		}

		_, err := os.Stat(filepath.Join(sysroot, meta.Dest))
		destExists := err == nil

		stampToken := meta.URL + "#" + meta.Sha256
		stamp, ok := stamps[name]
		if ok && stampToken == stamp && destExists {
			continue
		}

		build.PrintSubtask(name + ":  " + meta.URL)
		if meta.Sha256 == "" && !update {
			return eris.Errorf("component %s doesn't have a checksum", name)
		}

		digest, err := fetchComponent(client, buf, name, meta, sysroot, skip, update)
		if err != nil {
			return err
		}

		// only reachable in update mode; a mismatch is fatal otherwise
		if digest != meta.Sha256 {
			changes[name] = digest
		}

		if skip {
			continue
		}

		stamps[name] = stampToken
	}

	if update && len(changes) > 0 {
		build.PrintTask("Updating " + sysrootConfigName)
		generated := cfgData
		for name, newChecksum := range changes {
			pos := strings.Index(generated, name+":\n")
			if pos == -1 {
				return eris.Errorf("failed to find the section for %s", name)
			}

			oldChecksum := cfg.Components[name].Sha256
			subPos := strings.Index(generated[pos:], "sha256: "+oldChecksum)
			if subPos == -1 {
				if oldChecksum == "" {
					start := pos + len(name) + 2
					generated = generated[:start] + "    sha256: " + newChecksum + "\n" + generated[start:]
				} else {
					fmt.Printf("     couldn't find the checksum entry for %s\n", name)
				}
			} else {
				start := pos + subPos + 8
				end := start + len(oldChecksum)
				generated = generated[:start] + newChecksum + generated[end:]
			}
		}

		err = os.WriteFile(filepath.Join(projectRoot, sysrootConfigName), []byte(generated), os.FileMode(0o660))
		if err != nil {
			return eris.Wrapf(err, "failed to update %s", sysrootConfigName)
		}
	}

	return nil
}

// fetchComponent downloads one archive into a temporary file, verifies its
// checksum and extracts it into the sysroot. The temporary file only lives
// for this one component; concurrent runs don't share a path.
func fetchComponent(client *http.Client, buf []byte, name string, meta componentSpec, sysroot string, skip, update bool) (string, error) {
	arHandle, err := os.CreateTemp("", "sysroot_dl")
	if err != nil {
		return "", eris.Wrap(err, "failed to create a temporary download file")
	}
	defer func() {
		arHandle.Close()
		os.Remove(arHandle.Name())
	}()

	resp, err := client.Get(meta.URL)
	if err != nil {
		return "", eris.Wrapf(err, "failed to start download for %s", meta.URL)
	}
	defer resp.Body.Close()

	hash := sha256.New()
	bar := getProgressBar(resp.ContentLength, "     download")
	_, err = io.CopyBuffer(io.MultiWriter(hash, arHandle, bar), resp.Body, buf)
	if err != nil {
		return "", eris.Wrapf(err, "failed during download of %s", meta.URL)
	}
	bar.Finish()

	digest := hex.EncodeToString(hash.Sum(nil))
	if digest != meta.Sha256 {
		if !update {
			return "", eris.Errorf("checksum mismatch for %s", name)
		}
		fmt.Println("      updating checksum")
	}

	if skip {
		return digest, nil
	}

	destPath := filepath.Join(sysroot, meta.Dest)
	destInfo, err := os.Stat(destPath)
	if err == nil {
		build.PrintSubtask(fmt.Sprintf("Remove %s", destPath))
		if destInfo.IsDir() {
			err = os.RemoveAll(destPath)
		} else {
			err = os.Remove(destPath)
		}
		if err != nil {
			return "", err
		}
	}

	extractor, err := getExtractor(meta.URL)
	if err != nil {
		return "", err
	}

	if _, err = arHandle.Seek(0, io.SeekStart); err != nil {
		return "", eris.Wrap(err, "failed to rewind the downloaded archive")
	}
	bar = getProgressBar(resp.ContentLength, "      extract")
	err = extractor(arHandle, bar, sysroot, meta)
	if err != nil {
		return "", err
	}

	if runtime.GOOS != "windows" {
		// .zip files don't carry permissions so binaries inside them need
		// their exec bit restored manually
		for _, binPath := range meta.MarkExec {
			binPath = filepath.Join(sysroot, meta.Dest, binPath)
			fi, err := os.Stat(binPath)
			if err != nil {
				return "", eris.Wrapf(err, "failed to read permissions for %s", binPath)
			}

			err = os.Chmod(binPath, fi.Mode()|0o700)
			if err != nil {
				return "", eris.Wrapf(err, "failed to mark %s as executable", binPath)
			}
		}
	}

	return digest, nil
}

type archiveExtractor func(*os.File, *progressbar.ProgressBar, string, componentSpec) error

// openExtractorDest prepares the destination for one archive entry, stripping
// the configured number of leading path elements.
func openExtractorDest(destPath string, item string, spec componentSpec) (*os.File, string, error) {
	pathParts := strings.Split(filepath.Clean(item), string(filepath.Separator))
	if len(pathParts) <= spec.Strip {
		return nil, "", nil
	}

	dest := filepath.Join(destPath, strings.Join(pathParts[spec.Strip:], string(filepath.Separator)))
	if dest == destPath {
		return nil, "", nil
	}

	destParent := filepath.Dir(dest)
	err := os.MkdirAll(destParent, os.FileMode(0o770))
	if err != nil {
		return nil, "", eris.Wrapf(err, "failed to create directory %s", destParent)
	}

	destHandle, err := os.Create(dest)
	if err != nil {
		return nil, "", eris.Wrapf(err, "failed to create file %s", dest)
	}

	return destHandle, dest, nil
}

func getExtractor(url string) (archiveExtractor, error) {
	switch {
	case strings.HasSuffix(url, ".zip"):
		return extractZip, nil
	case strings.HasSuffix(url, ".tar.gz"):
		return func(f *os.File, bar *progressbar.ProgressBar, sysroot string, spec componentSpec) error {
			reader, err := gzip.NewReader(f)
			if err != nil {
				return err
			}
			defer reader.Close()

			return extractTar(reader, f, bar, sysroot, spec)
		}, nil
	case strings.HasSuffix(url, ".tar.bz2"):
		return func(f *os.File, bar *progressbar.ProgressBar, sysroot string, spec componentSpec) error {
			return extractTar(bzip2.NewReader(f), f, bar, sysroot, spec)
		}, nil
	case strings.HasSuffix(url, ".tar.xz"):
		return func(f *os.File, bar *progressbar.ProgressBar, sysroot string, spec componentSpec) error {
			reader, err := xz.NewReader(f)
			if err != nil {
				return err
			}

			return extractTar(reader, f, bar, sysroot, spec)
		}, nil
	}

	return nil, eris.Errorf("no extractor available for %s", url)
}

func extractZip(f *os.File, bar *progressbar.ProgressBar, sysroot string, spec componentSpec) error {
	stat, err := f.Stat()
	if err != nil {
		return err
	}

	archive, err := zip.NewReader(f, stat.Size())
	if err != nil {
		return err
	}

	destPath := filepath.Join(sysroot, spec.Dest)
	for _, item := range archive.File {
		if strings.HasSuffix(item.Name, "/") {
			continue
		}

		destHandle, dest, err := openExtractorDest(destPath, item.Name, spec)
		if err != nil {
			return err
		}
		if destHandle == nil {
			continue
		}

		itemHandle, err := item.Open()
		if err != nil {
			destHandle.Close()
			return eris.Wrapf(err, "failed to open archive entry %s", item.Name)
		}

		_, err = io.Copy(destHandle, itemHandle)
		itemHandle.Close()
		destHandle.Close()
		if err != nil {
			return eris.Wrapf(err, "failed to write extracted file %s", dest)
		}

		pos, err := f.Seek(0, io.SeekCurrent)
		if err == nil {
			_ = bar.Set64(pos)
		}
	}

	return nil
}

func extractTar(r io.Reader, f *os.File, bar *progressbar.ProgressBar, sysroot string, spec componentSpec) error {
	archive := tar.NewReader(r)
	destPath := filepath.Join(sysroot, spec.Dest)

	for {
		item, err := archive.Next()
		if err != nil {
			if err == io.EOF {
				break
			}

			return eris.Wrap(err, "failed to read archive entry")
		}

		fi := item.FileInfo()
		if fi.IsDir() {
			continue
		}

		destHandle, dest, err := openExtractorDest(destPath, item.Name, spec)
		if err != nil {
			return err
		}
		if destHandle == nil {
			continue
		}

		if item.Typeflag == tar.TypeSymlink {
			destHandle.Close()
			err := os.Remove(dest)
			if err != nil {
				return eris.Wrapf(err, "failed to remove placeholder file %s", dest)
			}

			err = os.Symlink(item.Linkname, dest)
			if err != nil {
				return eris.Wrapf(err, "failed to create symlink %s pointing to %s", dest, item.Linkname)
			}
			continue
		}

		_, err = io.Copy(destHandle, archive)
		if err != nil {
			destHandle.Close()
			return eris.Wrapf(err, "failed to write extracted file %s", dest)
		}

		destHandle.Close()

		if err := os.Chmod(dest, fi.Mode()); err != nil {
			return eris.Wrapf(err, "failed to restore permissions for %s", dest)
		}

		pos, err := f.Seek(0, io.SeekCurrent)
		if err == nil {
			_ = bar.Set64(pos)
		}
	}

	return nil
}
