package config

import (
	"runtime"
	"slices"

	"github.com/goplus/pkgbuild/internal/task"
)

var (
	knownOS   = []string{"linux", "darwin", "windows"}
	knownArch = []string{"amd64", "arm64", "386", "ppc64le"}
)

// platform fills OS and Arch from the running system when unset and
// rejects values no recipe knows how to build for.
func (c *Config) platform() error {
	if c.OS == "" {
		c.OS = runtime.GOOS
	}
	if c.Arch == "" {
		c.Arch = runtime.GOARCH
	}
	if !slices.Contains(knownOS, c.OS) {
		return task.ConfigErrorf("unknown os: %s", c.OS)
	}
	if !slices.Contains(knownArch, c.Arch) {
		return task.ConfigErrorf("unknown architecture: %s", c.Arch)
	}
	return nil
}

// IsWindows reports whether the target is Windows.
func (c *Config) IsWindows() bool { return c.OS == "windows" }

// IsMacOS reports whether the target is macOS.
func (c *Config) IsMacOS() bool { return c.OS == "darwin" }

// MSIArch returns the WiX architecture name.
func (c *Config) MSIArch() (string, error) {
	switch c.Arch {
	case "amd64":
		return "x64", nil
	case "386":
		return "x86", nil
	}
	return "", task.ConfigErrorf("unknown platform for msi: %s/%s", c.OS, c.Arch)
}

// DarwinArch returns the architecture name used by macOS tools and the
// OpenSSL Configure target.
func (c *Config) DarwinArch() (string, error) {
	switch c.Arch {
	case "amd64":
		return "x86_64", nil
	case "arm64":
		return "arm64", nil
	}
	return "", task.ConfigErrorf("unknown architecture for macOS: %s", c.Arch)
}
