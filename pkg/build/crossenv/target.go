package crossenv

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Triple identifies the CPU architecture, vendor, OS and ABI that the build
// command compiles for.
type Triple string

// AArch64LinuxGNU is the target the bridge binary ships for (the Pi-side
// deployment of the serial bridge).
const AArch64LinuxGNU Triple = "aarch64-unknown-linux-gnu"

func (t Triple) String() string {
	return string(t)
}

// Arch returns the architecture component of the triple.
func (t Triple) Arch() string {
	parts := strings.SplitN(string(t), "-", 2)
	return parts[0]
}

// LibDir returns the multiarch library directory name used by Debian-style
// sysroots, e.g. "aarch64-linux-gnu" for aarch64-unknown-linux-gnu.
func (t Triple) LibDir() string {
	parts := strings.Split(string(t), "-")
	if len(parts) == 4 {
		// drop the vendor component
		return strings.Join([]string{parts[0], parts[2], parts[3]}, "-")
	}

	return string(t)
}

// ParseTriple validates the passed target triple. Both the three part
// (arch-os-abi) and four part (arch-vendor-os-abi) forms are accepted.
func ParseTriple(value string) (Triple, error) {
	parts := strings.Split(value, "-")
	if len(parts) != 3 && len(parts) != 4 {
		return "", eris.Errorf("invalid target triple %s", value)
	}

	for _, part := range parts {
		if part == "" {
			return "", eris.Errorf("invalid target triple %s", value)
		}
	}

	return Triple(value), nil
}
