package recipe

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/goplus/pkgbuild/internal/archive"
	"github.com/goplus/pkgbuild/internal/config"
	"github.com/goplus/pkgbuild/internal/shell"
	"github.com/goplus/pkgbuild/internal/task"
	"github.com/goplus/pkgbuild/pkgs/buildsys"
	"github.com/goplus/pkgbuild/pkgs/buildsys/autotools"
	"github.com/goplus/pkgbuild/pkgs/versions"
	"github.com/qiniu/x/log"
)

const systemRootKeychain = "/System/Library/Keychains/SystemRootCertificates.keychain"

// Staging directories of builders whose PAGE_SIZE detection fails.
var largePageStagings = []string{"el8.aarch64", "el7.aarch64", "el8.ppc64le"}

func (r *Recipe) defineBuild(reg *task.Registry) {
	fluentdRuntime := "ruby"
	if r.cfg.IsWindows() {
		fluentdRuntime = "rubyinstaller"
	}
	reg.Namespace("build", func(ns *task.Scope) {
		ns.Define("jemalloc", []string{"download:jemalloc"}, r.buildJemalloc).
			Describe("Install jemalloc")
		ns.Define("openssl", []string{"download:openssl"}, func(ctx *task.Context) error {
			if !r.cfg.IsMacOS() {
				return nil
			}
			if err := r.buildOpenSSL(ctx); err != nil {
				return err
			}
			return r.createCerts(ctx)
		}).Describe("Install OpenSSL")
		ns.Define("ruby", []string{"jemalloc", "openssl", "download:ruby"}, r.buildRuby).
			Describe("Install Ruby")
		ns.Define("rubyinstaller", []string{"download:ruby", "download:mingw_openssl"},
			r.extractRubyInstaller,
			r.applyRubyInstallerPatches,
			r.replaceOpenSSLInRubyInstaller,
			r.setupWindowsBuildEnv,
			r.putDynamicLibs,
		).Describe("Install Ruby for Windows")
		ns.Define("ruby_gems", []string{"download:ruby_gems", "fluentd"}, r.buildRubyGems).
			Describe("Install ruby gems")
		ns.Define("fluentd", []string{"download:fluentd", fluentdRuntime}, r.buildFluentd).
			Describe("Install fluentd")
		ns.Define("gems", []string{"ruby_gems"}).
			Describe("Install all gems")
		ns.Define("licenses", []string{"gems"},
			r.installJemallocLicense,
			r.installRubyLicense,
			r.installPackageLicense,
			r.collectGemLicenses,
		).Describe("Collect licenses of bundled softwares")
		ns.Define("all", []string{"licenses"}, func(ctx *task.Context) error {
			gemDir, err := r.gemStagingDir(ctx)
			if err != nil {
				return err
			}
			return removeNeedlessFiles(r.cfg.PackageStagingDir(), gemDir)
		}).Describe("Install all components")
	})
}

func (r *Recipe) buildJemalloc(ctx *task.Context) error {
	tarball := r.dl.jemalloc
	if err := archive.Extract(tarball, r.cfg.DownloadsDir); err != nil {
		return err
	}
	major, err := versions.Major(r.cfg.Components.Jemalloc.Version)
	if err != nil {
		return task.ConfigErrorf("jemalloc version: %v", err)
	}

	a := autotools.New(archive.TrimSuffix(tarball))
	a.InstallDir(r.cfg.InstallPrefix())
	var opts []string
	if major >= 4 && slices.ContainsFunc(largePageStagings, func(s string) bool {
		return strings.HasSuffix(r.cfg.StagingDir, s)
	}) {
		// 2^16 = 65536 byte pages
		opts = append(opts, "--with-lg-page=16")
	}
	if err := a.Configure(ctx, opts...); err != nil {
		return err
	}
	return a.Install(ctx, "make", "install", buildsys.Jobs(), "DESTDIR="+r.cfg.StagingDir)
}

func (r *Recipe) buildOpenSSL(ctx *task.Context) error {
	tarball := r.dl.openssl
	if err := archive.Extract(tarball, r.cfg.DownloadsDir); err != nil {
		return err
	}
	arch, err := r.cfg.DarwinArch()
	if err != nil {
		return err
	}

	a := autotools.New(archive.TrimSuffix(tarball))
	a.ConfigureCmd = []string{"perl", "./Configure"}
	a.InstallDir(r.cfg.InstallPrefix())
	if err := a.Configure(ctx,
		"--openssldir="+filepath.Join("etc", "openssl"),
		"no-tests",
		"no-unit-test",
		"no-comp",
		"no-idea",
		"no-mdc2",
		"no-rc5",
		"no-ssl2",
		"no-ssl3",
		"no-ssl3-method",
		"no-zlib",
		"shared",
		"darwin64-"+arch+"-cc",
	); err != nil {
		return err
	}
	if err := a.Build(ctx, "make", "depend"); err != nil {
		return err
	}
	if err := a.Build(ctx, "make"); err != nil {
		return err
	}
	// gems with native extensions link against the installed copy
	if err := a.Install(ctx); err != nil {
		return err
	}
	return a.Install(ctx, "make", "install", "DESTDIR="+r.cfg.StagingDir)
}

var pemCert = regexp.MustCompile(`(?s)-----BEGIN CERTIFICATE-----.*?-----END CERTIFICATE-----`)

// createCerts writes the unexpired system root certificates as cert.pem
// into the staged and the installed OpenSSL directories.
func (r *Recipe) createCerts(ctx *task.Context) error {
	list, err := ctx.Output("security", "find-certificate", "-a", "-p", systemRootKeychain)
	if err != nil {
		return fmt.Errorf("retrieve certificates: %w", err)
	}
	openssl := filepath.Join(r.bindir(), "openssl")
	var valid []string
	for _, cert := range pemCert.FindAllString(list, -1) {
		err := ctx.Runner().Input(ctx, strings.NewReader(cert), openssl, "x509", "-inform", "pem", "-checkend", "0", "-noout")
		var exitErr *shell.ExitError
		switch {
		case err == nil:
			valid = append(valid, cert)
		case errors.As(err, &exitErr) && exitErr.Code > 0:
			log.Debugf("skip expired certificate")
		default:
			return err
		}
	}

	data := []byte(strings.Join(valid, "\n") + "\n")
	for _, dir := range []string{
		r.prefix("etc", "openssl"),
		filepath.Join(r.cfg.InstallPrefix(), "etc", "openssl"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, "cert.pem"), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// rubySource is the tarball of the runtime built from source.
func (r *Recipe) rubySource() string {
	if r.cfg.Components.UseRuby3 {
		return r.dl.ruby3
	}
	return r.dl.ruby
}

func (r *Recipe) buildRuby(ctx *task.Context) error {
	tarball := r.rubySource()
	if err := archive.Extract(tarball, r.cfg.DownloadsDir); err != nil {
		return err
	}
	src := archive.TrimSuffix(tarball)

	opts := []string{
		"--enable-shared",
		"--disable-install-doc",
		"--with-compress-debug-sections=no", // https://bugs.ruby-lang.org/issues/12934
	}
	if r.cfg.IsMacOS() {
		opts = append(opts,
			"--without-gmp",
			"--without-gdbm",
			"--without-tk",
			"-C",
			"--with-openssl-dir="+r.cfg.PackageStagingDir(),
		)
	}
	if err := r.applyPatches(ctx.WithDir(src), r.cfg.Components.RubyPatches, r.cfg.RubyVersion(), "patch", "-p1"); err != nil {
		return err
	}

	a := autotools.New(src)
	a.InstallDir(r.cfg.InstallPrefix())
	if r.cfg.IsMacOS() {
		// staged OpenSSL
		a.Use(r.cfg.PackageStagingDir())
	}
	if err := a.Configure(ctx, opts...); err != nil {
		return err
	}
	if err := a.Install(ctx, "make", "install", buildsys.Jobs(), "DESTDIR="+r.cfg.StagingDir); err != nil {
		return err
	}
	// the staged ruby cannot run uninstalled, and gems are built with it
	return a.Install(ctx)
}

// applyPatches runs cmd with --input=<patch> in ctx.Dir for every patch
// whose condition matches version.
func (r *Recipe) applyPatches(ctx *task.Context, patches []config.Patch, version string, cmd ...string) error {
	for _, p := range patches {
		ok, err := versions.Match(version, p.Condition)
		if err != nil {
			return task.ConfigErrorf("patch %s: %v", p.File, err)
		}
		if !ok {
			log.Debugf("skip patch %s: %s does not match %q", p.File, version, p.Condition)
			continue
		}
		args := append(slices.Clone(cmd[1:]), "--input="+filepath.Join(r.cfg.PatchesDir, p.File))
		if err := ctx.Run(cmd[0], args...); err != nil {
			return err
		}
	}
	return nil
}

// rubyInstallerVersion returns the runtime version of the installer
// package, "3.2.2" for "3.2.2-1".
func (r *Recipe) rubyInstallerVersion() string {
	v, _, _ := strings.Cut(r.cfg.Components.RubyInstaller.Version, "-")
	return v
}

func (r *Recipe) extractRubyInstaller(ctx *task.Context) error {
	dir := r.cfg.PackageStagingDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := r.dl.rubyInstaller
	if err := ctx.WithDir(dir).Run("7z", "x", "-y", path); err != nil {
		return err
	}
	src := filepath.Join(dir, strings.TrimSuffix(filepath.Base(path), ".7z"))
	if err := copyTree(src, dir); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

func (r *Recipe) applyRubyInstallerPatches(ctx *task.Context) error {
	version := r.rubyInstallerVersion()
	feature := featureVersion(version) + ".0"
	libDir := r.prefix("lib", "ruby", feature)
	return r.applyPatches(ctx.WithDir(libDir), r.cfg.Components.RubyInstallerPatches, version, "ridk", "exec", "patch", "-p2")
}

// replaceOpenSSLInRubyInstaller swaps the bundled OpenSSL DLLs for the
// MinGW package ones.
func (r *Recipe) replaceOpenSSLInRubyInstaller(ctx *task.Context) error {
	if err := archive.Extract(r.dl.mingwOpenSSL, r.cfg.DownloadsDir); err != nil {
		return err
	}
	src := filepath.Join(r.cfg.DownloadsDir, "mingw64", "bin")
	dest := r.prefix("bin", "ruby_builtin_dlls")
	for _, dll := range []string{"libcrypto-1_1-x64.dll", "libssl-1_1-x64.dll"} {
		if err := copyFile(filepath.Join(src, dll), dest); err != nil {
			return err
		}
	}
	return os.RemoveAll(src)
}

func (r *Recipe) setupWindowsBuildEnv(ctx *task.Context) error {
	return ctx.Run(filepath.Join(r.bindir(), "ridk"), "install", "3")
}

// putDynamicLibs copies the MinGW runtime DLLs that C++ extensions link
// against into the staged bin directory.
func (r *Recipe) putDynamicLibs(ctx *task.Context) error {
	out, err := ctx.Output(filepath.Join(r.bindir(), "ruby"), "-e",
		"require 'ruby_installer/runtime'; puts RubyInstaller::Runtime.msys2_installation.mingw_bin_path")
	if err != nil {
		return fmt.Errorf("cannot load RubyInstaller::Runtime: %w", err)
	}
	mingwBin := filepath.FromSlash(strings.TrimSpace(out))
	for _, dll := range []string{"libstdc++-6"} {
		path := filepath.Join(mingwBin, dll+".dll")
		if !exists(path) {
			return fmt.Errorf("cannot find required DLL needed for dynamic linking: %s", path)
		}
		if err := copyFile(path, r.bindir()); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recipe) buildFluentd(ctx *task.Context) error {
	tarball := r.dl.fluentd
	dir := archive.TrimSuffix(tarball)
	if !exists(dir) {
		if err := archive.Extract(tarball, r.cfg.DownloadsDir); err != nil {
			return err
		}
	}
	c := ctx.WithDir(dir)
	if err := c.Run("rake", "build"); err != nil {
		return err
	}
	if err := r.setupLocalGemRepo(c); err != nil {
		return err
	}
	return r.installGemfiles()
}

// setupLocalGemRepo publishes the gems built under ctx.Dir/pkg into the
// local gem repository.
func (r *Recipe) setupLocalGemRepo(ctx *task.Context) error {
	repo := filepath.FromSlash(strings.TrimPrefix(r.cfg.LocalGemRepo, "file://"))
	gemsDir := filepath.Join(repo, "gems")
	if err := os.MkdirAll(gemsDir, 0o755); err != nil {
		return err
	}
	if err := filepath.WalkDir(ctx.Abs("pkg"), func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".gem") {
			return err
		}
		return copyFile(path, gemsDir)
	}); err != nil {
		return err
	}
	return ctx.WithDir(repo).Run("gem", "generate_index")
}

func (r *Recipe) installGemfiles() error {
	share := r.prefix("share")
	for _, name := range []string{"Gemfile", "Gemfile.lock", "config.rb"} {
		if err := copyFile(filepath.Join(r.cfg.GemfileDir, name), filepath.Join(share, name)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recipe) buildRubyGems(ctx *task.Context) error {
	bundler := r.cfg.Components.Bundler
	if err := r.gemInstall(ctx, "bundler", bundler, ""); err != nil {
		return err
	}
	gemDir, err := r.gemStagingDir(ctx)
	if err != nil {
		return err
	}
	c := ctx.WithDir(r.cfg.GemfileDir).WithEnv(map[string]string{
		"GEM_HOME":                    gemDir,
		"INSTALL_GEM_FROM_LOCAL_REPO": "yes",
		"FLUENTD_LOCAL_GEM_REPO":      r.cfg.LocalGemRepo,
	})
	if err := c.Run(filepath.Join(r.bindir(), "bundle"), "_"+bundler+"_", "install"); err != nil {
		return err
	}
	// binstubs go to the staged bin directory
	if err := c.Run(r.gemCommand(), "pristine", "--only-executables", "--all", "--bindir", r.bindir()); err != nil {
		return err
	}
	return r.rebuildGems(ctx)
}
