package buildsys

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/goplus/pkgbuild/internal/env"
	"github.com/goplus/pkgbuild/internal/task"
)

// BuildSystem captures shared capabilities of build helpers.
// It keeps the common lifecycle and dependency/env setup; implementations add their own extras.
type BuildSystem interface {
	// Use points the build at a staged dependency prefix.
	Use(prefix string)

	// Basic paths.
	Source(dir string)
	InstallDir(dir string)

	// Environment helper.
	Env(key, val string)

	// Lifecycle.
	Configure(ctx *task.Context, args ...string) error
	Build(ctx *task.Context, args ...string) error
	Install(ctx *task.Context, args ...string) error

	// Where artifacts land.
	OutputDir() string
}

// DepEnv returns the variables that let compilers and pkg-config find the
// headers and libraries installed under prefix. Existing values, looked up
// with getenv, are kept after the new entries.
func DepEnv(getenv func(string) string, prefix string) map[string]string {
	out := map[string]string{}
	includeDir := filepath.Join(prefix, "include")
	libDir := filepath.Join(prefix, "lib")
	pkgconfigDir := filepath.Join(libDir, "pkgconfig")

	if isDir(pkgconfigDir) {
		out["PKG_CONFIG_PATH"] = env.Prepend(getenv("PKG_CONFIG_PATH"), pkgconfigDir)
	}
	if runtime.GOOS == "windows" {
		if isDir(includeDir) {
			out["INCLUDE"] = env.Prepend(getenv("INCLUDE"), includeDir)
		}
		if isDir(libDir) {
			out["LIB"] = env.Prepend(getenv("LIB"), libDir)
		}
		return out
	}
	if isDir(includeDir) {
		out["CPPFLAGS"] = env.AppendFlag(getenv("CPPFLAGS"), "-I"+includeDir)
	}
	if isDir(libDir) {
		out["LDFLAGS"] = env.AppendFlag(getenv("LDFLAGS"), "-L"+libDir)
	}
	return out
}

// Jobs is the make parallelism flag for this machine.
func Jobs() string {
	return "-j" + strconv.Itoa(runtime.NumCPU())
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
