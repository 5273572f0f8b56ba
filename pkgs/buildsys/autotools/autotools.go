package autotools

import (
	"maps"
	"os"
	"path/filepath"

	"github.com/goplus/pkgbuild/internal/task"
	"github.com/goplus/pkgbuild/pkgs/buildsys"
	"github.com/qiniu/x/log"
)

// AutoTools wraps common Autotools build steps with chainable configuration.
//
// Environment set through Env and Use applies only to the commands this
// helper runs. The process environment is never modified.
type AutoTools struct {
	SourceDir string
	// BuildDir is where configure and make run. Empty means in-tree.
	BuildDir string
	// ConfigureCmd replaces "./configure", e.g. {"perl", "./Configure"}.
	ConfigureCmd []string

	installDir string
	env        map[string]string
}

var _ buildsys.BuildSystem = (*AutoTools)(nil)

// New creates a new AutoTools helper for the source tree at sourceDir.
func New(sourceDir string) *AutoTools {
	return &AutoTools{
		SourceDir: sourceDir,
		env:       map[string]string{},
	}
}

func (a *AutoTools) Source(dir string) {
	a.SourceDir = dir
}

// InstallDir sets the --prefix passed to configure.
func (a *AutoTools) InstallDir(dir string) {
	a.installDir = dir
}

func (a *AutoTools) Env(key, value string) {
	if a.env == nil {
		a.env = map[string]string{}
	}
	a.env[key] = value
}

// Use adds the include, lib and pkg-config directories under prefix to the
// build environment.
func (a *AutoTools) Use(prefix string) {
	getenv := func(key string) string {
		if v, ok := a.env[key]; ok {
			return v
		}
		return os.Getenv(key)
	}
	for k, v := range buildsys.DepEnv(getenv, prefix) {
		a.Env(k, v)
	}
}

// Environ returns a copy of the variables set on the helper.
func (a *AutoTools) Environ() map[string]string {
	return maps.Clone(a.env)
}

// Configure runs ./configure with --prefix and args.
func (a *AutoTools) Configure(ctx *task.Context, args ...string) error {
	cmd := []string{"./configure"}
	if len(a.ConfigureCmd) > 0 {
		cmd = append([]string(nil), a.ConfigureCmd...)
	}
	if a.BuildDir != "" && a.BuildDir != a.SourceDir {
		if err := os.MkdirAll(a.BuildDir, 0755); err != nil {
			return err
		}
		// out of tree: the script still lives in the source tree
		last := len(cmd) - 1
		cmd[last] = filepath.Join(a.SourceDir, cmd[last])
	}

	configArgs := []string{}
	if a.installDir != "" {
		configArgs = append(configArgs, "--prefix="+a.installDir)
	}
	configArgs = append(configArgs, args...)
	return a.run(ctx, cmd[0], append(cmd[1:], configArgs...)...)
}

// Build runs make (or the provided command) in the build directory.
func (a *AutoTools) Build(ctx *task.Context, args ...string) error {
	if len(args) == 0 {
		args = []string{"make", buildsys.Jobs()}
	}
	return a.run(ctx, args[0], args[1:]...)
}

// Install runs make install (or the provided command) in the build directory.
func (a *AutoTools) Install(ctx *task.Context, args ...string) error {
	if len(args) == 0 {
		args = []string{"make", "install"}
	}
	return a.run(ctx, args[0], args[1:]...)
}

// OutputDir returns the install dir if set, otherwise the build dir.
func (a *AutoTools) OutputDir() string {
	if a.installDir != "" {
		return a.installDir
	}
	return a.dir()
}

func (a *AutoTools) dir() string {
	if a.BuildDir != "" {
		return a.BuildDir
	}
	return a.SourceDir
}

func (a *AutoTools) run(ctx *task.Context, bin string, args ...string) error {
	log.Debugf("autotools: %s %v in %s", bin, args, a.dir())
	c := ctx
	if dir := a.dir(); dir != "" {
		c = c.WithDir(dir)
	}
	if len(a.env) > 0 {
		c = c.WithEnv(a.env)
	}
	return c.Run(bin, args...)
}
