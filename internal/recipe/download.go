package recipe

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goplus/pkgbuild/internal/task"
	"github.com/qiniu/x/log"
)

const (
	jemallocURL      = "https://github.com/jemalloc/jemalloc/releases/download/"
	opensslURL       = "https://www.openssl.org/source/"
	rubyURL          = "https://cache.ruby-lang.org/pub/ruby/"
	rubyInstallerURL = "https://github.com/oneclick/rubyinstaller2/releases/download/"
	msys2URL         = "https://mirror.msys2.org/mingw/mingw64/"
)

// downloads holds the paths of the downloaded component files.
type downloads struct {
	jemalloc      string
	openssl       string
	mingwOpenSSL  string
	ruby          string
	ruby3         string
	rubyInstaller string
	fluentd       string
	gems          []string
}

func (d *downloads) files() []string {
	out := []string{d.jemalloc, d.openssl, d.mingwOpenSSL, d.ruby, d.ruby3, d.rubyInstaller, d.fluentd}
	return append(out, d.gems...)
}

func (r *Recipe) defineDownloads(reg *task.Registry) {
	c := r.cfg.Components
	d := &r.dl

	name := fmt.Sprintf("jemalloc-%s.tar.bz2", c.Jemalloc.Version)
	d.jemalloc = r.downloadFile(reg, jemallocURL+c.Jemalloc.Version+"/"+name, name, c.Jemalloc.SHA256)

	name = fmt.Sprintf("openssl-%s.tar.gz", c.OpenSSL.Version)
	d.openssl = r.downloadFile(reg, opensslURL+name, name, c.OpenSSL.SHA256)

	name = fmt.Sprintf("ruby-%s.tar.gz", c.Ruby.Version)
	d.ruby = r.downloadFile(reg, rubyURL+featureVersion(c.Ruby.Version)+"/"+name, name, c.Ruby.SHA256)
	name = fmt.Sprintf("ruby-%s.tar.gz", c.Ruby3.Version)
	d.ruby3 = r.downloadFile(reg, rubyURL+featureVersion(c.Ruby3.Version)+"/"+name, name, c.Ruby3.SHA256)

	name = fmt.Sprintf("rubyinstaller-%s-x64.7z", c.RubyInstaller.Version)
	d.rubyInstaller = r.downloadFile(reg, rubyInstallerURL+"RubyInstaller-"+c.RubyInstaller.Version+"/"+name, name, c.RubyInstaller.SHA256)

	name = fmt.Sprintf("mingw-w64-x86_64-openssl-%s-any.pkg.tar.zst", c.MinGWOpenSSL.Version)
	d.mingwOpenSSL = r.downloadFile(reg, msys2URL+name, name, c.MinGWOpenSSL.SHA256)

	d.fluentd = filepath.Join(r.cfg.DownloadsDir, fmt.Sprintf("fluentd-%s.tar.gz", c.Fluentd.Revision))
	reg.File(d.fluentd, nil, func(ctx *task.Context) error {
		return r.Clone(ctx, c.Fluentd.Repository, c.Fluentd.Revision, d.fluentd)
	})

	d.gems = cachedGems(r.cfg.DownloadsDir)

	reg.Namespace("download", func(ns *task.Scope) {
		ns.Define("jemalloc", []string{d.jemalloc}).
			Describe("Download jemalloc source")
		ns.Define("ruby", []string{d.ruby, d.ruby3, d.rubyInstaller}).
			Describe("Download Ruby source")
		ns.Define("fluentd", []string{d.fluentd}).
			Describe("Clone fluentd repository and create a tarball")
		ns.Define("ruby_gems", d.gems).
			Describe("Download ruby gems")
		ns.Define("openssl", []string{d.openssl}).
			Describe("Download openssl source")
		ns.Define("mingw_openssl", []string{d.mingwOpenSSL}).
			Describe("Download MinGW's openssl package")
	})
}

// downloadFile registers the file task that fetches url into the downloads
// directory and returns its path.
func (r *Recipe) downloadFile(reg *task.Registry, url, name, sum string) string {
	dest := filepath.Join(r.cfg.DownloadsDir, name)
	reg.File(dest, nil, func(ctx *task.Context) error {
		return r.Fetch(ctx, url, dest, sum)
	})
	return dest
}

// cachedGems lists the gems already present in dir, sorted.
func cachedGems(dir string) []string {
	gems, err := doublestar.FilepathGlob(filepath.Join(dir, "*.gem"))
	if err != nil {
		log.Warnf("list cached gems in %s: %v", dir, err)
		return nil
	}
	sort.Strings(gems)
	return gems
}

// featureVersion returns the "major.minor" part of a runtime version.
func featureVersion(version string) string {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return version
	}
	return parts[0] + "." + parts[1]
}
