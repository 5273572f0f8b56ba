package recipe

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goplus/pkgbuild/internal/archive"
	"github.com/goplus/pkgbuild/internal/task"
	"github.com/qiniu/x/log"
)

// gemCommand is the gem binary of the bundled runtime. Outside Windows the
// installed copy is used since the staged one cannot run uninstalled.
func (r *Recipe) gemCommand() string {
	if r.cfg.IsWindows() {
		return filepath.Join(r.bindir(), "gem")
	}
	return path.Join(r.cfg.InstallPrefix(), "bin", "gem")
}

// gemDirVersion is the runtime version used in gem paths. Its teeny
// version is always 0.
func (r *Recipe) gemDirVersion() string {
	version := r.cfg.RubyVersion()
	if r.cfg.IsWindows() {
		version = r.rubyInstallerVersion()
	}
	return featureVersion(version) + ".0"
}

// gemStagingDir returns the staged gem directory after checking that the
// runtime's default gem directory is where the package expects it.
func (r *Recipe) gemStagingDir(ctx *task.Context) (string, error) {
	out, err := ctx.Output(r.gemCommand(), "env", "gemdir")
	if err != nil {
		return "", fmt.Errorf("get default installation directory for gems: %w", err)
	}
	gemdir := strings.TrimSpace(out)
	suffix := path.Join("lib", "ruby", "gems", r.gemDirVersion())

	var expected, staging string
	if r.cfg.IsWindows() {
		expected = r.prefix(filepath.FromSlash(suffix))
		staging = expected
	} else {
		expected = path.Join(r.cfg.InstallPrefix(), suffix)
		staging = r.prefix(filepath.FromSlash(suffix))
	}
	if filepath.Clean(filepath.FromSlash(gemdir)) != filepath.Clean(filepath.FromSlash(expected)) {
		return "", fmt.Errorf("unsupposed gemdir: %s (expected: %s)", gemdir, expected)
	}
	return staging, nil
}

// gemInstall installs gem into the staged gem directory. version and
// platform are optional.
func (r *Recipe) gemInstall(ctx *task.Context, gem, version, platform string) error {
	gemDir, err := r.gemStagingDir(ctx)
	if err != nil {
		return err
	}
	for _, dir := range []string{r.bindir(), gemDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	args := []string{"install", "--no-document", "--bindir", r.bindir(), gem}
	if version != "" {
		args = append(args, "--version", version)
	}
	if platform != "" {
		args = append(args, "--platform", platform)
	}
	env := map[string]string{"GEM_HOME": gemDir}
	if r.cfg.IsMacOS() && strings.Contains(gem, "rdkafka") {
		env["CPPFLAGS"] = "-I" + r.prefix("include")
		env["LDFLAGS"] = "-L" + r.prefix("lib")
	}
	// rake is bundled with RubyInstaller and conflicts with its executable
	if r.cfg.IsWindows() && strings.Contains(gem, "rake") {
		args = append(args, "--force")
	}
	log.Infof("install: <%s>", gem)
	return ctx.WithEnv(env).Run(r.gemCommand(), args...)
}

// gemUninstall removes gem, every version unless version is set.
func (r *Recipe) gemUninstall(ctx *task.Context, gem, version string) error {
	gemDir, err := r.gemStagingDir(ctx)
	if err != nil {
		return err
	}
	args := []string{"uninstall", "--bindir", r.bindir(), "--silent", gem}
	if version != "" {
		args = append(args, "--version", version)
	} else {
		args = append(args, "--all")
	}
	log.Infof("uninstall: <%s>", gem)
	return ctx.WithEnv(map[string]string{"GEM_HOME": gemDir}).Run(r.gemCommand(), args...)
}

// rebuildGems reinstalls the gems named in rebuild_gems from source, for
// prebuilt gems that link against libraries the target lacks.
func (r *Recipe) rebuildGems(ctx *task.Context) error {
	names := strings.Fields(r.cfg.RebuildGems)
	if len(names) == 0 {
		return nil
	}
	lockfile := filepath.Join(r.cfg.GemfileDir, "Gemfile.lock")
	for _, name := range names {
		version, err := lockedVersion(lockfile, name)
		if err != nil {
			return err
		}
		if err := r.gemUninstall(ctx, name, ""); err != nil {
			return err
		}
		if err := r.gemInstall(ctx, name, version, "ruby"); err != nil {
			return err
		}
	}
	return nil
}

// lockedVersion returns the version name is pinned to in the DEPENDENCIES
// section of a Gemfile.lock, "1.13.10" for "  nokogiri (= 1.13.10)".
func lockedVersion(lockfile, name string) (string, error) {
	f, err := os.Open(lockfile)
	if err != nil {
		return "", err
	}
	defer f.Close()

	inDeps := false
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := s.Text()
		if !strings.HasPrefix(line, " ") {
			inDeps = line == "DEPENDENCIES"
			continue
		}
		if !inDeps {
			continue
		}
		dep, req, _ := strings.Cut(strings.TrimSpace(line), " ")
		if strings.TrimSuffix(dep, "!") != name {
			continue
		}
		req = strings.TrimSuffix(strings.TrimPrefix(req, "("), ")")
		first, _, _ := strings.Cut(req, ",")
		fields := strings.Fields(first)
		if len(fields) == 0 {
			return "", fmt.Errorf("%s: %s is not pinned to a version", lockfile, name)
		}
		return fields[len(fields)-1], nil
	}
	if err := s.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("%s: %s is not a locked dependency", lockfile, name)
}

// installLicense extracts <tarball dir>/COPYING from tarball as name into
// the staged licenses directory.
func (r *Recipe) installLicense(tarball, name string) error {
	dir := r.licensesDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	src := filepath.Base(archive.TrimSuffix(tarball))
	if err := archive.ExtractMember(tarball, dir, src+"/COPYING"); err != nil {
		return fmt.Errorf("extract license from %s: %w", tarball, err)
	}
	if err := os.Rename(filepath.Join(dir, src, "COPYING"), filepath.Join(dir, name)); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(dir, src))
}

func (r *Recipe) installJemallocLicense(*task.Context) error {
	if r.cfg.IsWindows() {
		return nil
	}
	return r.installLicense(r.dl.jemalloc, "LICENSE-jemalloc.txt")
}

func (r *Recipe) installRubyLicense(*task.Context) error {
	if r.cfg.IsWindows() {
		if err := os.MkdirAll(r.licensesDir(), 0o755); err != nil {
			return err
		}
		src := r.prefix("LICENSE.txt")
		if err := os.Rename(src, filepath.Join(r.licensesDir(), "LICENSE-RubyInstaller.txt")); err != nil {
			return err
		}
	}
	return r.installLicense(r.rubySource(), "LICENSE-Ruby.txt")
}

func (r *Recipe) installPackageLicense(*task.Context) error {
	return copyFile(r.cfg.LicenseFile, filepath.Join(r.licensesDir(), "LICENSE-"+r.cfg.Package+".txt"))
}

// collectGemLicenses writes the "gem list -d" output of the staged gems,
// with staging paths turned into install paths.
func (r *Recipe) collectGemLicenses(ctx *task.Context) error {
	log.Infof("Collecting licenses of gems...")
	gemDir, err := r.gemStagingDir(ctx)
	if err != nil {
		return err
	}
	out, err := ctx.WithEnv(map[string]string{"GEM_PATH": gemDir}).Output(r.gemCommand(), "list", "-d")
	if err != nil {
		return fmt.Errorf("get gem list: %w", err)
	}
	if !r.cfg.IsWindows() {
		out = strings.ReplaceAll(out, r.cfg.StagingDir, "")
	}
	if err := os.MkdirAll(r.licensesDir(), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.licensesDir(), "LICENSES-gems.txt"), []byte(out), 0o644)
}

// removeNeedlessFiles drops documentation, build leftovers and caches from
// the staged prefix dir and gem directory gemDir.
func removeNeedlessFiles(dir, gemDir string) error {
	if err := removeGlob(dir,
		"bin/jeprof", // jemalloc 4 or later
		"bin/pprof",  // jemalloc 3
		"share/doc",
		"share/ri",
	); err != nil {
		return err
	}
	if err := removeGlob(filepath.Join(gemDir, "cache"), "*.gem", "bundler"); err != nil {
		return err
	}

	gems, err := doublestar.FilepathGlob(filepath.Join(gemDir, "gems", "*"))
	if err != nil {
		return err
	}
	for _, gem := range gems {
		patterns := []string{
			"test",
			"tests",
			"spec",
			"**/gem.build_complete",
			"ext/**/a.out",
			"ext/**/*.{o,la,a}",
			"ext/**/.libs",
			"ext/**/tmp",
		}
		if strings.HasPrefix(filepath.Base(gem), "cmetrics-") {
			patterns = append(patterns, "ports")
		}
		if err := removeGlob(gem, patterns...); err != nil {
			return err
		}
	}

	libs, err := doublestar.FilepathGlob(filepath.Join(dir, "lib", "lib*.a"))
	if err != nil {
		return err
	}
	for _, lib := range libs {
		if strings.HasSuffix(lib, ".dll.a") {
			continue
		}
		if err := os.Remove(lib); err != nil {
			return err
		}
	}
	return removeGlob(dir, "**/.git")
}
