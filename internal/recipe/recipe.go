// Package recipe declares the packaging task graph: component downloads,
// the staged build of the runtime and its gems, generated configuration
// files, and the installer tasks for Linux, Windows and macOS.
package recipe

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/goplus/pkgbuild/internal/clean"
	"github.com/goplus/pkgbuild/internal/config"
	"github.com/goplus/pkgbuild/internal/fetch"
	"github.com/goplus/pkgbuild/internal/render"
	"github.com/goplus/pkgbuild/internal/task"
)

// Recipe registers the packaging tasks for one configuration.
type Recipe struct {
	// Fetch downloads url to dest, verifying sum when it is not empty.
	Fetch func(ctx context.Context, url, dest, sum string) error
	// Clone writes a tarball of repository url at rev to dest.
	Clone func(ctx context.Context, url, rev, dest string) error

	cfg  *config.Config
	sets *clean.Sets
	dl   downloads
}

// New returns a Recipe for cfg that downloads with the fetch package.
func New(cfg *config.Config) *Recipe {
	return &Recipe{
		Fetch: fetch.File,
		Clone: fetch.GitArchive,
		cfg:   cfg,
		sets:  clean.New(cfg.WorkDir),
	}
}

// Sets returns the CLEAN and CLOBBER lists filled by Define.
func (r *Recipe) Sets() *clean.Sets {
	return r.sets
}

// Define registers every task on reg, together with "clean" and "clobber".
func (r *Recipe) Define(reg *task.Registry) {
	r.defineDownloads(reg)
	r.defineBuild(reg)
	r.defineConfigs(reg)
	r.defineLockfile(reg)
	r.defineLinux(reg)
	r.defineWindows(reg)
	r.defineMacOS(reg)
	r.sets.Define(reg.Root())
}

func (r *Recipe) work(elem ...string) string {
	return filepath.Join(append([]string{r.cfg.WorkDir}, elem...)...)
}

func (r *Recipe) staging(elem ...string) string {
	return filepath.Join(append([]string{r.cfg.StagingDir}, elem...)...)
}

// prefix joins elem to the staged install prefix.
func (r *Recipe) prefix(elem ...string) string {
	return filepath.Join(append([]string{r.cfg.PackageStagingDir()}, elem...)...)
}

func (r *Recipe) template(elem ...string) string {
	return filepath.Join(append([]string{r.cfg.TemplatesDir}, elem...)...)
}

func (r *Recipe) bindir() string { return r.prefix("bin") }

func (r *Recipe) licensesDir() string { return r.prefix("LICENSES") }

// archiveName is the source tarball handed to the Linux build containers.
func (r *Recipe) archiveName() string {
	return r.cfg.Package + "-" + r.cfg.Version + ".tar.gz"
}

// upgradeCode is the stable WiX UpgradeCode of the package.
func (r *Recipe) upgradeCode() string {
	return strings.ToUpper(uuid.NewSHA1(uuid.NameSpaceDNS, []byte(r.cfg.Identifier)).String())
}

// params returns the template parameters shared by every rendered file,
// overlaid by extra.
func (r *Recipe) params(extra render.Params) (render.Params, error) {
	base := render.Params{
		"package_name":         r.cfg.Package,
		"package_version":      r.cfg.Version,
		"install_prefix":       r.cfg.InstallPrefix(),
		"identifier":           r.cfg.Identifier,
		"bundled_ruby_version": r.cfg.RubyVersion(),
		"upgrade_code":         r.upgradeCode(),
		"pkg_type":             "",
	}
	return render.Merge(base, extra)
}

func (r *Recipe) render(dest, src string, extra render.Params, opts ...render.Option) error {
	params, err := r.params(extra)
	if err != nil {
		return err
	}
	return render.File(dest, src, params, opts...)
}
