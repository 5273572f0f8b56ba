package recipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"runtime"
	"slices"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/goplus/pkgbuild/internal/archive"
	"github.com/goplus/pkgbuild/internal/config"
	"github.com/goplus/pkgbuild/internal/shell"
	"github.com/goplus/pkgbuild/internal/task"
)

// loadConfig writes a config file into <top>/td-agent and loads it.
func loadConfig(t *testing.T, top, goos, extra string) *config.Config {
	t.Helper()
	work := filepath.Join(top, "td-agent")
	if err := os.MkdirAll(work, 0o755); err != nil {
		t.Fatal(err)
	}
	arch := "amd64"
	if goos == "darwin" {
		arch = "arm64"
	}
	content := fmt.Sprintf("os: %s\narch: %s\nrelease_time: \"2023-06-29T05:00:00Z\"\n%s", goos, arch, extra)
	file := filepath.Join(work, "pkgbuild.yaml")
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(config.New(), file)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return cfg
}

func define(t *testing.T, cfg *config.Config) (*Recipe, *task.Registry) {
	t.Helper()
	r := New(cfg)
	r.Fetch = func(_ context.Context, url, _, _ string) error {
		t.Errorf("unexpected download of %s", url)
		return errors.New("no network in tests")
	}
	r.Clone = func(_ context.Context, url, _, _ string) error {
		t.Errorf("unexpected clone of %s", url)
		return errors.New("no network in tests")
	}
	reg := task.NewRegistry()
	r.Define(reg)
	return r, reg
}

func setup(t *testing.T, goos, extra string) (*Recipe, *task.Registry) {
	t.Helper()
	return define(t, loadConfig(t, t.TempDir(), goos, extra))
}

func run(t *testing.T, reg *task.Registry, root string) error {
	t.Helper()
	return task.NewExecutor(reg, task.Options{Stdout: io.Discard, Stderr: io.Discard}).Run(context.Background(), root)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func resolve(t *testing.T, reg *task.Registry, root string) []string {
	t.Helper()
	g, err := reg.Resolve(root)
	if err != nil {
		t.Fatalf("Resolve(%s) failed: %v", root, err)
	}
	return g.Names()
}

func TestDownloadTasks(t *testing.T) {
	r, reg := setup(t, "linux", "")
	dl := r.cfg.DownloadsDir
	tests := map[string][]string{
		"download:jemalloc":      {"jemalloc-5.3.0.tar.bz2"},
		"download:openssl":       {"openssl-3.0.8.tar.gz"},
		"download:mingw_openssl": {"mingw-w64-x86_64-openssl-1.1.1.t-1-any.pkg.tar.zst"},
		"download:fluentd":       {"fluentd-v1.16.2.tar.gz"},
		"download:ruby":          {"ruby-2.7.8.tar.gz", "ruby-3.2.2.tar.gz", "rubyinstaller-3.2.2-1-x64.7z"},
	}
	for name, files := range tests {
		tk, err := reg.Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%s) failed: %v", name, err)
		}
		var want []string
		for _, f := range files {
			path := filepath.Join(dl, f)
			want = append(want, path)
			ft, err := reg.Lookup(path)
			if err != nil {
				t.Fatalf("Lookup(%s) failed: %v", path, err)
			}
			if ft.Kind() != task.KindFile {
				t.Errorf("%s is a %s task, want file", f, ft.Kind())
			}
		}
		if got := tk.Prerequisites(); !reflect.DeepEqual(got, want) {
			t.Errorf("%s prerequisites = %v, want %v", name, got, want)
		}
		if tk.Description() == "" {
			t.Errorf("%s has no description", name)
		}
	}
}

func TestDownloadFetchesOnce(t *testing.T) {
	r, reg := setup(t, "linux", "components:\n  jemalloc:\n    version: 5.3.0\n    sha256: abc\n")
	var calls []string
	r.Fetch = func(_ context.Context, url, dest, sum string) error {
		calls = append(calls, url+" "+sum)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		return os.WriteFile(dest, []byte("tarball"), 0o644)
	}

	for range 2 {
		if err := run(t, reg, "download:jemalloc"); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	}
	want := []string{"https://github.com/jemalloc/jemalloc/releases/download/5.3.0/jemalloc-5.3.0.tar.bz2 abc"}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("fetches = %v, want %v", calls, want)
	}
}

func TestDownloadRubyURLs(t *testing.T) {
	r, reg := setup(t, "linux", "")
	var urls []string
	r.Fetch = func(_ context.Context, url, dest, _ string) error {
		urls = append(urls, url)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		return os.WriteFile(dest, nil, 0o644)
	}
	if err := run(t, reg, "download:ruby"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	sort.Strings(urls)
	want := []string{
		"https://cache.ruby-lang.org/pub/ruby/2.7/ruby-2.7.8.tar.gz",
		"https://cache.ruby-lang.org/pub/ruby/3.2/ruby-3.2.2.tar.gz",
		"https://github.com/oneclick/rubyinstaller2/releases/download/RubyInstaller-3.2.2-1/rubyinstaller-3.2.2-1-x64.7z",
	}
	if !reflect.DeepEqual(urls, want) {
		t.Errorf("urls = %v, want %v", urls, want)
	}
}

func TestDownloadFluentdClones(t *testing.T) {
	r, reg := setup(t, "linux", "")
	var got []string
	r.Clone = func(_ context.Context, url, rev, dest string) error {
		got = []string{url, rev, dest}
		return os.WriteFile(dest, nil, 0o644)
	}
	if err := os.MkdirAll(r.cfg.DownloadsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := run(t, reg, "download:fluentd"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := []string{
		"https://github.com/fluent/fluentd.git",
		"v1.16.2",
		filepath.Join(r.cfg.DownloadsDir, "fluentd-v1.16.2.tar.gz"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Clone(%v), want %v", got, want)
	}
}

func TestCachedGems(t *testing.T) {
	top := t.TempDir()
	cfg := loadConfig(t, top, "linux", "")
	for _, name := range []string{"zlib-1.0.gem", "cool.io-1.7.1.gem", "notes.txt"} {
		writeFile(t, filepath.Join(cfg.DownloadsDir, name), "")
	}
	_, reg := define(t, cfg)
	tk, err := reg.Lookup("download:ruby_gems")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		filepath.Join(cfg.DownloadsDir, "cool.io-1.7.1.gem"),
		filepath.Join(cfg.DownloadsDir, "zlib-1.0.gem"),
	}
	if got := tk.Prerequisites(); !reflect.DeepEqual(got, want) {
		t.Errorf("download:ruby_gems prerequisites = %v, want %v", got, want)
	}
}

func TestConfigAggregates(t *testing.T) {
	_, reg := setup(t, "linux", "")
	tests := []struct {
		root string
		want []string
	}{
		{"build:deb_config", []string{
			"build:td_agent_config",
			"build:systemd_tmpfiles_config",
			"build:bin_scripts",
			"build:deb_systemd",
			"build:deb_scripts",
			"build:deb_config",
		}},
		{"build:rpm_old_config", []string{
			"build:td_agent_config",
			"build:bin_scripts",
			"build:rpm_sysvinit",
			"build:rpm_old_config",
		}},
		{"build:msi_config", []string{
			"build:td_agent_config",
			"build:wix_config",
			"build:win_batch_files",
			"build:msi_config",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.root, func(t *testing.T) {
			if got := resolve(t, reg, tt.root); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("order = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFluentdRuntime(t *testing.T) {
	tests := []struct {
		goos       string
		want, skip string
	}{
		{"linux", "build:ruby", "build:rubyinstaller"},
		{"windows", "build:rubyinstaller", "build:ruby"},
	}
	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			_, reg := setup(t, tt.goos, "")
			names := resolve(t, reg, "build:fluentd")
			if !slices.Contains(names, tt.want) {
				t.Errorf("build:fluentd does not depend on %s: %v", tt.want, names)
			}
			if slices.Contains(names, tt.skip) {
				t.Errorf("build:fluentd depends on %s: %v", tt.skip, names)
			}
		})
	}
}

func TestInstallerGraphs(t *testing.T) {
	r, reg := setup(t, "windows", "")

	names := resolve(t, reg, "msi:selfbuild")
	if names[len(names)-1] != "msi:selfbuild" {
		t.Errorf("msi:selfbuild is not last: %v", names)
	}
	for _, want := range []string{"build:wix_config", "build:msi_config", "build:licenses", "build:all"} {
		if !slices.Contains(names, want) {
			t.Errorf("msi:selfbuild does not reach %s", want)
		}
	}

	names = resolve(t, reg, "msi:build")
	for _, want := range []string{"msi:dockerbuild", r.work(r.archiveName())} {
		if !slices.Contains(names, want) {
			t.Errorf("msi:build does not reach %s: %v", want, names)
		}
	}

	names = resolve(t, reg, "dmg:selfbuild")
	for _, want := range []string{"build:pkgbuild_config", "build:launchctl_config", "build:all"} {
		if !slices.Contains(names, want) {
			t.Errorf("dmg:selfbuild does not reach %s", want)
		}
	}
}

func TestWixConfig(t *testing.T) {
	r, reg := setup(t, "windows", "version: 4.4.2~rc2\n")
	writeFile(t, r.work("msi", "parameters.wxi.tmpl"),
		"<?define Version=\"{{.wix_package_version}}\"?>\n<?define UpgradeCode=\"{{.upgrade_code}}\"?>\n")

	if err := run(t, reg, "build:wix_config"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := readFile(t, r.work("msi", "parameters.wxi"))
	if !strings.Contains(got, `Version="4.4.1.20005"`) {
		t.Errorf("parameters.wxi = %q, want version 4.4.1.20005", got)
	}
	code := r.upgradeCode()
	if len(code) != 36 || strings.ToUpper(code) != code {
		t.Errorf("upgradeCode() = %q, want an upper case UUID", code)
	}
	if !strings.Contains(got, code) {
		t.Errorf("parameters.wxi = %q, want upgrade code %s", got, code)
	}
}

func TestWixConfigInvalidVersion(t *testing.T) {
	_, reg := setup(t, "windows", "version: 4.4.2~dev1\n")
	err := run(t, reg, "build:wix_config")
	if !errors.Is(err, task.ErrConfiguration) {
		t.Errorf("Run() error = %v, want ErrConfiguration", err)
	}
	if !errors.Is(err, task.ErrActionFailed) {
		t.Errorf("Run() error = %v, want ErrActionFailed", err)
	}
}

func TestDebianScripts(t *testing.T) {
	r, reg := setup(t, "linux", "")
	writeFile(t, r.template("package-scripts", "td-agent", "deb", "preinst"), "#!/bin/sh\necho {{.package_name}}\n")

	if err := run(t, reg, "build:deb_scripts"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	preinst := r.work("..", "debian", "preinst")
	if got := readFile(t, preinst); got != "#!/bin/sh\necho td-agent\n" {
		t.Errorf("preinst = %q", got)
	}
	if runtime.GOOS != "windows" {
		fi, err := os.Stat(preinst)
		if err != nil {
			t.Fatal(err)
		}
		if fi.Mode().Perm() != 0o755 {
			t.Errorf("preinst mode = %v, want 0755", fi.Mode().Perm())
		}
	}
	if exists(r.work("..", "debian", "postinst")) {
		t.Error("postinst rendered without a template")
	}
}

func TestBinScriptsLocation(t *testing.T) {
	tests := []struct {
		goos string
		want string
	}{
		{"linux", filepath.Join("usr", "sbin", "td-agent")},
		{"darwin", filepath.Join("opt", "td-agent", "usr", "sbin", "td-agent")},
	}
	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			r, reg := setup(t, tt.goos, "")
			for _, script := range []string{"usr/bin/td", "usr/sbin/td-agent", "usr/sbin/td-agent-gem"} {
				writeFile(t, r.template(filepath.FromSlash(script)+".tmpl"), "exec {{.install_prefix}}/bin/ruby\n")
			}
			if err := run(t, reg, "build:bin_scripts"); err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if got := readFile(t, r.staging(tt.want)); got != "exec /opt/td-agent/bin/ruby\n" {
				t.Errorf("%s = %q", tt.want, got)
			}
		})
	}
}

func TestSystemdUnits(t *testing.T) {
	r, reg := setup(t, "linux", "")
	writeFile(t, r.template("etc", "systemd", "td-agent.service.tmpl"),
		"EnvironmentFile=-/etc/{{if eq .pkg_type \"deb\"}}default{{else}}sysconfig{{end}}/{{.package_name}}\n")
	writeFile(t, r.template("etc", "systemd", "td-agent.tmpl"), "TD_AGENT_OPTIONS=\"\" # {{.pkg_type}}\n")

	for _, name := range []string{"build:deb_systemd", "build:rpm_systemd"} {
		if err := run(t, reg, name); err != nil {
			t.Fatalf("Run(%s) failed: %v", name, err)
		}
	}
	tests := map[string]string{
		filepath.Join("lib", "systemd", "system", "td-agent.service"):        "EnvironmentFile=-/etc/default/td-agent\n",
		filepath.Join("usr", "lib", "systemd", "system", "td-agent.service"): "EnvironmentFile=-/etc/sysconfig/td-agent\n",
		filepath.Join("etc", "default", "td-agent"):                          "TD_AGENT_OPTIONS=\"\" # deb\n",
		filepath.Join("etc", "sysconfig", "td-agent"):                        "TD_AGENT_OPTIONS=\"\" # rpm\n",
	}
	for path, want := range tests {
		if got := readFile(t, r.staging(path)); got != want {
			t.Errorf("%s = %q, want %q", path, got, want)
		}
	}
}

func TestPackageConfigMissingTemplate(t *testing.T) {
	_, reg := setup(t, "linux", "")
	err := run(t, reg, "build:td_agent_config")
	var actionErr *task.ActionError
	if !errors.As(err, &actionErr) || actionErr.Task != "build:td_agent_config" {
		t.Errorf("Run() error = %v, want an ActionError for build:td_agent_config", err)
	}
}

func TestCleanPatterns(t *testing.T) {
	r, _ := setup(t, "linux", "")
	cleanList := r.Sets().CleanPatterns()
	for _, want := range []string{
		"apt/env.sh",
		"debian/tmp",
		"td-agent-4.5.0.tar.gz",
		"msi/parameters.wxi",
		"dmg/resources/dmg/td-agent.osascript",
		filepath.Join("..", "debian", "postrm"),
	} {
		if !slices.Contains(cleanList, want) {
			t.Errorf("CLEAN misses %s", want)
		}
	}
	clobber := r.Sets().ClobberPatterns()
	for _, want := range []string{"apt/repositories", "yum/repositories", "msi/*.msi", "dmg/*.dmg", "dmg/td-agent.iconset"} {
		if !slices.Contains(clobber, want) {
			t.Errorf("CLOBBER misses %s", want)
		}
	}
}

func TestCleanAndClobber(t *testing.T) {
	r, reg := setup(t, "windows", "")
	envBat := r.work("msi", "env.bat")
	msi := r.work("msi", "td-agent-4.5.0-x64.msi")
	source := r.work("msi", "source.wxs")
	for _, path := range []string{envBat, msi, source} {
		writeFile(t, path, "")
	}

	if err := run(t, reg, "clean"); err != nil {
		t.Fatalf("clean failed: %v", err)
	}
	if exists(envBat) || !exists(msi) {
		t.Errorf("after clean: env.bat exists = %v, msi exists = %v", exists(envBat), exists(msi))
	}
	if err := run(t, reg, "clobber"); err != nil {
		t.Fatalf("clobber failed: %v", err)
	}
	if exists(msi) {
		t.Error("msi survived clobber")
	}
	if !exists(source) {
		t.Error("clobber removed a source file")
	}
}

func TestApplyPatches(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil || runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	r, _ := setup(t, "linux", "")
	dir := t.TempDir()
	patches := []config.Patch{
		{File: "old.patch", Condition: "< 3.0.0"},
		{File: "new.patch", Condition: ">= 3.0.0"},
		{File: "always.patch"},
	}
	ctx := &task.Context{Context: context.Background(), Dir: dir, Stdout: io.Discard, Stderr: io.Discard}
	cmd := []string{"sh", "-c", `echo "$1" >> applied`, "sh"}
	if err := r.applyPatches(ctx, patches, "2.7.8", cmd...); err != nil {
		t.Fatalf("applyPatches failed: %v", err)
	}
	want := "--input=" + filepath.Join(r.cfg.PatchesDir, "old.patch") + "\n" +
		"--input=" + filepath.Join(r.cfg.PatchesDir, "always.patch") + "\n"
	if got := readFile(t, filepath.Join(dir, "applied")); got != want {
		t.Errorf("applied = %q, want %q", got, want)
	}

	err := r.applyPatches(ctx, []config.Patch{{File: "bad.patch", Condition: "~> x"}}, "2.7.8", cmd...)
	if !errors.Is(err, task.ErrConfiguration) {
		t.Errorf("applyPatches() error = %v, want ErrConfiguration", err)
	}
}

func TestGemDirVersion(t *testing.T) {
	tests := []struct {
		goos  string
		extra string
		want  string
	}{
		{"linux", "", "2.7.0"},
		{"linux", "components:\n  use_ruby3: true\n", "3.2.0"},
		{"windows", "", "3.2.0"},
	}
	for _, tt := range tests {
		r, _ := setup(t, tt.goos, tt.extra)
		if got := r.gemDirVersion(); got != tt.want {
			t.Errorf("gemDirVersion(%s %q) = %q, want %q", tt.goos, tt.extra, got, tt.want)
		}
	}
}

const gemfileLock = `GEM
  remote: https://rubygems.org/
  specs:
    mini_portile2 (2.8.1)
    nokogiri (1.13.10)
      mini_portile2 (~> 2.8.0)
      racc (~> 1.4)
    racc (1.6.2)

PLATFORMS
  ruby

DEPENDENCIES
  fluentd!
  nokogiri (= 1.13.10)
  rdkafka (>= 0.12.0, < 0.13)

BUNDLED WITH
   2.3.26
`

func TestLockedVersion(t *testing.T) {
	lockfile := filepath.Join(t.TempDir(), "Gemfile.lock")
	writeFile(t, lockfile, gemfileLock)

	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"nokogiri", "1.13.10", false},
		{"rdkafka", "0.12.0", false},
		{"fluentd", "", true},
		{"racc", "", true},
	}
	for _, tt := range tests {
		got, err := lockedVersion(lockfile, tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("lockedVersion(%s) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("lockedVersion(%s) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestRemoveNeedlessFiles(t *testing.T) {
	dir := t.TempDir()
	gemDir := filepath.Join(dir, "lib", "ruby", "gems", "2.7.0")
	removed := []string{
		"bin/jeprof",
		"share/doc/jemalloc/jemalloc.html",
		"share/ri/2.7.0/system/created.rid",
		"lib/libjemalloc_pic.a",
		"lib/ruby/gems/2.7.0/cache/fluentd-1.16.2.gem",
		"lib/ruby/gems/2.7.0/cache/bundler/git/x",
		"lib/ruby/gems/2.7.0/gems/oj-3.14.2/test/test_oj.rb",
		"lib/ruby/gems/2.7.0/gems/oj-3.14.2/ext/oj/oj.o",
		"lib/ruby/gems/2.7.0/gems/oj-3.14.2/ext/oj/gem.build_complete",
		"lib/ruby/gems/2.7.0/gems/oj-3.14.2/ext/oj/tmp/x86_64-linux/stage/x",
		"lib/ruby/gems/2.7.0/gems/cmetrics-0.6.1/ports/cmetrics.tar.gz",
		"lib/ruby/gems/2.7.0/bundler/gems/fluentd-abc/.git/HEAD",
	}
	kept := []string{
		"bin/ruby",
		"lib/libruby.so",
		"lib/libruby.dll.a",
		"lib/ruby/gems/2.7.0/gems/oj-3.14.2/lib/oj.rb",
		"lib/ruby/gems/2.7.0/gems/oj-3.14.2/ext/oj/oj.c",
		"lib/ruby/gems/2.7.0/gems/fluentd-1.16.2/ports/README",
	}
	for _, path := range append(slices.Clone(removed), kept...) {
		writeFile(t, filepath.Join(dir, filepath.FromSlash(path)), "x")
	}

	if err := removeNeedlessFiles(dir, gemDir); err != nil {
		t.Fatalf("removeNeedlessFiles failed: %v", err)
	}
	for _, path := range removed {
		if exists(filepath.Join(dir, filepath.FromSlash(path))) {
			t.Errorf("%s was kept", path)
		}
	}
	for _, path := range kept {
		if !exists(filepath.Join(dir, filepath.FromSlash(path))) {
			t.Errorf("%s was removed", path)
		}
	}
}

// prepareArchiveInputs creates every prerequisite of the source archive
// so that only the archive itself is built.
func prepareArchiveInputs(t *testing.T, r *Recipe) {
	t.Helper()
	for _, path := range r.dl.files() {
		writeFile(t, path, filepath.Base(path))
	}
	writeFile(t, r.work("debian", "copyright"), "Files: *\nLicense: Apache-2.0\n")
	writeFile(t, r.work("debian", "source", "include-binaries"), "\n")
}

func TestSourceArchive(t *testing.T) {
	top := t.TempDir()
	writeFile(t, filepath.Join(top, "README.md"), "builder\n")
	writeFile(t, filepath.Join(top, "td-agent", "Rakefile"), "task :default\n")

	repo, err := git.PlainInit(top, false)
	if err != nil {
		t.Fatal(err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		t.Fatal(err)
	}
	sig := &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()}
	if _, err := wt.Commit("initial", &git.CommitOptions{Author: sig, Committer: sig}); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(top, "untracked.txt"), "local\n")

	cfg := loadConfig(t, top, "linux", "")
	r, reg := define(t, cfg)
	prepareArchiveInputs(t, r)

	tk, err := reg.Lookup(r.work(r.archiveName()))
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Contains(tk.Prerequisites(), filepath.Join(top, "README.md")) {
		t.Errorf("archive prerequisites miss committed files: %v", tk.Prerequisites())
	}

	if err := run(t, reg, r.work(r.archiveName())); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	out := t.TempDir()
	if err := archive.Extract(r.work(r.archiveName()), out); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	base := filepath.Join(out, "td-agent-4.5.0")
	for _, path := range []string{
		"README.md",
		"td-agent/Rakefile",
		"td-agent/downloads/jemalloc-5.3.0.tar.bz2",
		"td-agent/downloads/fluentd-v1.16.2.tar.gz",
		"td-agent/debian/copyright",
	} {
		if !exists(filepath.Join(base, filepath.FromSlash(path))) {
			t.Errorf("archive misses %s", path)
		}
	}
	if exists(filepath.Join(base, "untracked.txt")) {
		t.Error("archive holds an untracked file")
	}
	leftovers, _ := filepath.Glob(r.work(".archive-*"))
	if len(leftovers) > 0 {
		t.Errorf("temporary directories left behind: %v", leftovers)
	}
}

// fakeDocker configures a docker command that logs its arguments.
func fakeDocker(t *testing.T) (extra, logPath string) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil || runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	dir := t.TempDir()
	logPath = filepath.Join(dir, "docker.log")
	script := filepath.Join(dir, "docker.sh")
	writeFile(t, script, fmt.Sprintf("printf '%%s\\n' \"$*\" >> %s\n", shell.Quote(logPath)))
	return fmt.Sprintf("docker_command: %q\n", shell.Quote("sh", script)), logPath
}

// freshArchive makes the source archive up to date.
func freshArchive(t *testing.T, r *Recipe) {
	t.Helper()
	prepareArchiveInputs(t, r)
	path := r.work(r.archiveName())
	writeFile(t, path, "")
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
}

func TestLinuxDocker(t *testing.T) {
	extra, logPath := fakeDocker(t)
	r, reg := setup(t, "linux", extra+"apt_targets: [debian-bookworm, ubuntu-noble]\n")
	freshArchive(t, r)
	writeFile(t, r.template("package-task", "apt", "build.sh"), "#!/bin/sh\n")
	if err := os.MkdirAll(r.work("apt"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := run(t, reg, "apt:build"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	top := filepath.Dir(r.cfg.WorkDir)
	want := []string{
		"build --tag td-agent-apt-debian-bookworm " + r.work("apt", "debian-bookworm"),
		"run --rm --tty --volume " + top + ":/fluent-package-builder:rw td-agent-apt-debian-bookworm /fluent-package-builder/td-agent/apt/build.sh",
		"build --tag td-agent-apt-ubuntu-noble " + r.work("apt", "ubuntu-noble"),
		"run --rm --tty --volume " + top + ":/fluent-package-builder:rw td-agent-apt-ubuntu-noble /fluent-package-builder/td-agent/apt/build.sh",
	}
	if got := strings.Split(strings.TrimSpace(readFile(t, logPath)), "\n"); !reflect.DeepEqual(got, want) {
		t.Errorf("docker calls = %q, want %q", got, want)
	}
	if got := readFile(t, r.work("apt", "env.sh")); !strings.Contains(got, "SOURCE_ARCHIVE=td-agent-4.5.0.tar.gz\n") {
		t.Errorf("env.sh = %q", got)
	}
}

func TestWindowsDocker(t *testing.T) {
	extra, logPath := fakeDocker(t)
	r, reg := setup(t, "windows", extra)
	freshArchive(t, r)
	if err := os.MkdirAll(r.work("msi"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := run(t, reg, "msi:build"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got, want := readFile(t, r.work("msi", "env.bat")), "SET PACKAGE=td-agent\nSET VERSION=4.5.0\nSET ARCH=x64\n"; got != want {
		t.Errorf("env.bat = %q, want %q", got, want)
	}
	calls := strings.Split(strings.TrimSpace(readFile(t, logPath)), "\n")
	sort.Strings(calls)
	if len(calls) != 2 || !strings.HasPrefix(calls[0], "build --tag td-agent-windows-x64 ") ||
		!strings.HasSuffix(calls[1], `td-agent-windows-x64 c:\fluent-package-builder\td-agent\msi\build.bat`) {
		t.Errorf("docker calls = %q", calls)
	}
}
