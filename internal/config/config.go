// Package config loads the packaging configuration: package identity,
// directories, component versions and the target platform.
//
// Values are layered, lowest first: built-in defaults, the YAML config file,
// environment variables (PKGBUILD_* plus the legacy TD_AGENT_* names) and
// command line flags bound by the caller.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goplus/pkgbuild/internal/shell"
	"github.com/goplus/pkgbuild/internal/task"
	"github.com/spf13/viper"
)

// DefaultFile is the config file looked up in the working directory when
// none is given.
const DefaultFile = "pkgbuild.yaml"

// Source is a downloadable component.
type Source struct {
	Version string `mapstructure:"version"`
	SHA256  string `mapstructure:"sha256"`
}

// Patch is applied to a runtime source tree when Condition (a version
// requirement such as "< 3.0.0") matches the runtime version.
type Patch struct {
	File      string `mapstructure:"file"`
	Condition string `mapstructure:"condition"`
}

// Git is a repository snapshot.
type Git struct {
	Repository string `mapstructure:"repository"`
	Revision   string `mapstructure:"revision"`
}

// Components pins every third-party piece bundled into the package.
type Components struct {
	Jemalloc             Source  `mapstructure:"jemalloc"`
	OpenSSL              Source  `mapstructure:"openssl"`
	Ruby                 Source  `mapstructure:"ruby"`
	Ruby3                Source  `mapstructure:"ruby3"`
	UseRuby3             bool    `mapstructure:"use_ruby3"`
	RubyInstaller        Source  `mapstructure:"rubyinstaller"`
	MinGWOpenSSL         Source  `mapstructure:"mingw_openssl"`
	Fluentd              Git     `mapstructure:"fluentd"`
	Bundler              string  `mapstructure:"bundler"`
	RubyPatches          []Patch `mapstructure:"ruby_patches"`
	RubyInstallerPatches []Patch `mapstructure:"rubyinstaller_patches"`
}

// Config is the decoded configuration. Directory fields are absolute after
// Load.
type Config struct {
	Package      string `mapstructure:"package"`
	Version      string `mapstructure:"version"`
	Identifier   string `mapstructure:"identifier"`
	WorkDir      string `mapstructure:"work_dir"`
	StagingDir   string `mapstructure:"staging_dir"`
	DownloadsDir string `mapstructure:"downloads_dir"`
	TemplatesDir string `mapstructure:"templates_dir"`
	PatchesDir   string `mapstructure:"patches_dir"`
	GemfileDir   string `mapstructure:"gemfile_dir"`
	LicenseFile  string `mapstructure:"license_file"`
	LocalGemRepo string `mapstructure:"local_gem_repo"`
	MSIOutputDir string `mapstructure:"msi_output_dir"`
	PkgOutputDir string `mapstructure:"pkg_output_dir"`
	ReleaseTime  string `mapstructure:"release_time"`
	RebuildGems  string `mapstructure:"rebuild_gems"`
	WixDir       string `mapstructure:"wix"`
	Docker       string `mapstructure:"docker_command"`
	OS           string `mapstructure:"os"`
	Arch         string `mapstructure:"arch"`

	AptTargets []string `mapstructure:"apt_targets"`
	YumTargets []string `mapstructure:"yum_targets"`

	Components Components `mapstructure:"components"`
}

var defaults = map[string]any{
	"package":        "td-agent",
	"version":        "4.5.0",
	"identifier":     "com.treasuredata.tdagent",
	"work_dir":       ".",
	"staging_dir":    "staging",
	"downloads_dir":  "downloads",
	"templates_dir":  "templates",
	"patches_dir":    "patches",
	"gemfile_dir":    ".",
	"license_file":   "LICENSE",
	"local_gem_repo": "",
	"msi_output_dir": ".",
	"pkg_output_dir": ".",
	"release_time":   "",
	"rebuild_gems":   "",
	"wix":            "",
	"docker_command": "docker",
	"os":             "",
	"arch":           "",
	"apt_targets": []string{
		"debian-buster",
		"debian-bullseye",
		"ubuntu-bionic",
		"ubuntu-focal",
		"ubuntu-jammy",
	},
	"yum_targets": []string{
		"centos-7",
		"rockylinux-8",
		"almalinux-9",
		"amazonlinux-2",
	},

	"components.jemalloc.version":      "5.3.0",
	"components.jemalloc.sha256":       "",
	"components.openssl.version":       "3.0.8",
	"components.openssl.sha256":        "",
	"components.ruby.version":          "2.7.8",
	"components.ruby.sha256":           "",
	"components.ruby3.version":         "3.2.2",
	"components.ruby3.sha256":          "",
	"components.use_ruby3":             false,
	"components.rubyinstaller.version": "3.2.2-1",
	"components.rubyinstaller.sha256":  "",
	"components.mingw_openssl.version": "1.1.1.t-1",
	"components.mingw_openssl.sha256":  "",
	"components.fluentd.repository":    "https://github.com/fluent/fluentd.git",
	"components.fluentd.revision":      "v1.16.2",
	"components.bundler":               "2.3.26",
}

// Environment names accepted besides the PKGBUILD_ ones.
var legacyEnv = map[string]string{
	"staging_dir":    "TD_AGENT_STAGING_PATH",
	"msi_output_dir": "TD_AGENT_MSI_OUTPUT_PATH",
	"pkg_output_dir": "TD_AGENT_PKG_OUTPUT_PATH",
	"release_time":   "TD_AGENT_RELEASE_TIME",
	"rebuild_gems":   "REBUILD_GEMS",
	"wix":            "WIX",
	"local_gem_repo": "FLUENTD_LOCAL_GEM_REPO",
}

// New returns a viper instance with defaults and environment bindings in
// place.
func New() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix("pkgbuild")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		v.BindEnv(key, "PKGBUILD_"+strings.ToUpper(key), legacy)
	}
	return v
}

// Load reads file (or DefaultFile when it exists and file is empty) into v
// and decodes the result. Relative directories are resolved against
// work_dir, which itself is relative to the config file's directory.
func Load(v *viper.Viper, file string) (*Config, error) {
	base, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	if file == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			file = DefaultFile
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
		path, err := filepath.Abs(file)
		if err != nil {
			return nil, err
		}
		base = filepath.Dir(path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, task.ConfigErrorf("decode config: %v", err)
	}
	if err := cfg.resolve(base); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolve(base string) error {
	if c.Package == "" {
		return task.ConfigErrorf("package name is empty")
	}
	if c.Version == "" {
		return task.ConfigErrorf("package version is empty")
	}
	if _, err := shell.Split(c.Docker); err != nil {
		return task.ConfigErrorf("docker_command: %v", err)
	}
	if err := c.platform(); err != nil {
		return err
	}

	c.WorkDir = abs(base, c.WorkDir)
	for _, p := range []*string{
		&c.StagingDir, &c.DownloadsDir, &c.TemplatesDir, &c.PatchesDir,
		&c.GemfileDir, &c.LicenseFile, &c.MSIOutputDir, &c.PkgOutputDir,
	} {
		*p = abs(c.WorkDir, *p)
	}
	if c.LocalGemRepo == "" {
		c.LocalGemRepo = "file://" + filepath.ToSlash(filepath.Join(c.DownloadsDir, "local-gems"))
	}
	if _, err := c.Released(); err != nil {
		return err
	}
	return nil
}

func abs(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// DockerCommand returns the container tool invocation, e.g. ["docker"] or
// ["sudo", "podman"].
func (c *Config) DockerCommand() []string {
	args, err := shell.Split(c.Docker)
	if err != nil {
		// rejected by Load
		return []string{"docker"}
	}
	return args
}

// Released returns the release time: TD_AGENT_RELEASE_TIME when set,
// otherwise the current time, in UTC.
func (c *Config) Released() (time.Time, error) {
	if c.ReleaseTime == "" {
		return time.Now().UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05 -0700", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, c.ReleaseTime); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, task.ConfigErrorf("invalid release time %q", c.ReleaseTime)
}

// RubyVersion returns the version of the runtime built from source.
func (c *Config) RubyVersion() string {
	if c.Components.UseRuby3 {
		return c.Components.Ruby3.Version
	}
	return c.Components.Ruby.Version
}

// InstallPrefix is where the package lives on the target system.
func (c *Config) InstallPrefix() string {
	return "/opt/" + c.Package
}

// PackageStagingDir is the staged install prefix. Windows installers add
// the prefix themselves, so there it is the staging directory.
func (c *Config) PackageStagingDir() string {
	if c.IsWindows() {
		return c.StagingDir
	}
	return filepath.Join(c.StagingDir, filepath.FromSlash(c.InstallPrefix()))
}

// WixBinDir returns $WIX/bin.
func (c *Config) WixBinDir() (string, error) {
	if c.WixDir == "" {
		return "", task.ConfigErrorf("can't find WiX commands path: WIX is not set")
	}
	return filepath.Join(c.WixDir, "bin"), nil
}

// Output returns the installer output directory for the target platform.
func (c *Config) Output() string {
	switch {
	case c.IsWindows():
		return c.MSIOutputDir
	case c.IsMacOS():
		return c.PkgOutputDir
	}
	return c.WorkDir
}
