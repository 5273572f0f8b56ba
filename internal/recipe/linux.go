package recipe

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/goplus/pkgbuild/internal/archive"
	"github.com/goplus/pkgbuild/internal/gemspec"
	"github.com/goplus/pkgbuild/internal/render"
	"github.com/goplus/pkgbuild/internal/task"
	"github.com/qiniu/x/log"
)

func (r *Recipe) defineLinux(reg *task.Registry) {
	// Debian
	r.sets.Clean("apt/tmp", "apt/build.sh", "apt/env.sh", "debian/tmp")
	r.sets.Clobber("apt/repositories")
	// Red Hat
	r.sets.Clean("yum/tmp", "yum/build.sh", "yum/env.sh")
	r.sets.Clobber("yum/repositories")
	r.sets.Clean(r.archiveName())

	copyright := r.work("debian", "copyright")
	reg.File(copyright, nil, r.buildCopyright)
	includeBinaries := r.work("debian", "source", "include-binaries")
	reg.File(includeBinaries, nil, r.buildIncludeBinaries)

	var prereqs []string
	if repo, err := openRepo(r.cfg.WorkDir); err != nil {
		log.Debugf("no repository files for %s: %v", r.archiveName(), err)
	} else if prereqs, err = repo.files(); err != nil {
		log.Warnf("list repository files: %v", err)
	}
	prereqs = append(prereqs, r.dl.files()...)
	prereqs = append(prereqs, copyright, includeBinaries)
	reg.File(r.work(r.archiveName()), prereqs, r.buildArchive)

	for _, typ := range []string{"apt", "yum"} {
		targets := r.cfg.AptTargets
		if typ == "yum" {
			targets = r.cfg.YumTargets
		}
		reg.Namespace(typ, func(ns *task.Scope) {
			ns.Define("build", []string{r.work(r.archiveName())}, func(ctx *task.Context) error {
				for _, target := range targets {
					if err := r.runLinuxDocker(ctx, typ, target); err != nil {
						return err
					}
				}
				return nil
			}).Describe(fmt.Sprintf("Build %s packages", typ))
		})
	}
}

// buildCopyright renders debian/copyright with a license stanza for every
// cached gem, read from "gem specification".
func (r *Recipe) buildCopyright(ctx *task.Context) error {
	var stanzas []string
	for _, gem := range r.dl.gems {
		out, err := ctx.Output("gem", "specification", gem)
		if err != nil {
			return fmt.Errorf("get gem specification %s: %w", gem, err)
		}
		spec, err := gemspec.Parse([]byte(out))
		if err != nil {
			return fmt.Errorf("%s: %w", gem, err)
		}
		rel, err := filepath.Rel(r.cfg.WorkDir, gem)
		if err != nil {
			return err
		}
		stanzas = append(stanzas, spec.Stanza(filepath.ToSlash(rel)))
	}
	return r.render(r.work("debian", "copyright"), r.template("package-scripts", r.cfg.Package, "deb", "copyright"),
		render.Params{
			"bundled_gem_licenses": strings.Join(stanzas, "\n"),
			"bundled_ruby_version": r.cfg.Components.Ruby.Version,
		})
}

// buildIncludeBinaries caches the locked gems and lists them in
// debian/source/include-binaries.
func (r *Recipe) buildIncludeBinaries(ctx *task.Context) error {
	c := ctx.WithDir(r.cfg.WorkDir)
	if _, err := c.Output("bundle", "config", "set", "--local", "cache_path", r.cfg.DownloadsDir); err != nil {
		return fmt.Errorf("set cache_path: %w", err)
	}
	// bundle package asks for sudo when no path is set
	if _, err := c.Output("bundle", "config", "set", "--local", "path", "vendor"); err != nil {
		return fmt.Errorf("set dummy path: %w", err)
	}
	if _, err := ctx.WithDir(r.cfg.GemfileDir).Output("bundle", "package", "--no-install"); err != nil {
		return fmt.Errorf("download gem files: %w", err)
	}

	var paths []string
	for _, gem := range cachedGems(r.cfg.DownloadsDir) {
		rel, err := filepath.Rel(r.cfg.WorkDir, gem)
		if err != nil {
			return err
		}
		paths = append(paths, r.cfg.Package+"/"+filepath.ToSlash(rel))
	}
	sort.Strings(paths)
	paths = slices.Compact(paths)

	dest := r.work("debian", "source", "include-binaries")
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte(strings.Join(paths, "\n")+"\n"), 0o644)
}

// buildArchive writes <package>-<version>.tar.gz: the committed tree of the
// repository plus the downloaded sources (gems excepted, the build
// containers fetch their own) and debian/copyright.
func (r *Recipe) buildArchive(ctx *task.Context) error {
	repo, err := openRepo(r.cfg.WorkDir)
	if err != nil {
		return err
	}
	tmp, err := os.MkdirTemp(r.cfg.WorkDir, ".archive-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	base := r.cfg.Package + "-" + r.cfg.Version
	top := filepath.Join(tmp, base)
	if err := repo.export(top); err != nil {
		return err
	}
	pkgDir, err := filepath.Rel(repo.root, r.cfg.WorkDir)
	if err != nil {
		return err
	}

	downloads := filepath.Join(top, pkgDir, "downloads")
	for _, path := range r.dl.files() {
		if strings.HasSuffix(path, ".gem") {
			continue
		}
		rel, err := filepath.Rel(r.cfg.DownloadsDir, path)
		if err != nil {
			return err
		}
		if err := copyFile(path, filepath.Join(downloads, rel)); err != nil {
			return err
		}
	}
	if err := copyFile(r.work("debian", "copyright"), filepath.Join(top, pkgDir, "debian", "copyright")); err != nil {
		return err
	}
	log.Infof("Archive %s", r.archiveName())
	return archive.CreateTarGz(r.work(r.archiveName()), tmp, base)
}

// runLinuxDocker builds the package for one target inside its container.
func (r *Recipe) runLinuxDocker(ctx *task.Context, typ, target string) error {
	pkg := r.cfg.Package
	env := fmt.Sprintf("PACKAGE=%s\nVERSION=%s\nSOURCE_ARCHIVE=%s\n", pkg, r.cfg.Version, r.archiveName())
	if err := os.WriteFile(r.work(typ, "env.sh"), []byte(env), 0o644); err != nil {
		return err
	}
	if err := copyFile(r.template("package-task", typ, "build.sh"), r.work(typ, "build.sh")); err != nil {
		return err
	}

	top := filepath.Dir(r.cfg.WorkDir)
	tag := pkg + "-" + typ + "-" + target
	docker := r.cfg.DockerCommand()
	build := append(slices.Clone(docker[1:]), "build", "--tag", tag, r.work(typ, target))
	if err := ctx.Run(docker[0], build...); err != nil {
		return err
	}
	run := append(slices.Clone(docker[1:]),
		"run",
		"--rm",
		"--tty",
		"--volume", top+":/fluent-package-builder:rw",
		tag,
		"/fluent-package-builder/"+pkg+"/"+typ+"/build.sh",
	)
	return ctx.Run(docker[0], run...)
}

// gitRepo is the repository holding the package sources.
type gitRepo struct {
	root string
	tree *object.Tree
}

// openRepo opens the repository containing dir at HEAD.
func openRepo(dir string) (*gitRepo, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository at %s: %w", dir, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, err
	}
	head, err := repo.Head()
	if err != nil {
		return nil, err
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, err
	}
	return &gitRepo{root: wt.Filesystem.Root(), tree: tree}, nil
}

// files returns the absolute paths of the committed files that are present
// in the work tree.
func (g *gitRepo) files() ([]string, error) {
	var out []string
	err := g.tree.Files().ForEach(func(f *object.File) error {
		path := filepath.Join(g.root, filepath.FromSlash(f.Name))
		if _, err := os.Lstat(path); err == nil {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}

// export writes the committed tree below dir.
func (g *gitRepo) export(dir string) error {
	return g.tree.Files().ForEach(func(f *object.File) error {
		dest := filepath.Join(dir, filepath.FromSlash(f.Name))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if f.Mode == filemode.Symlink {
			target, err := f.Contents()
			if err != nil {
				return err
			}
			return os.Symlink(target, dest)
		}
		mode, err := f.Mode.ToOSFileMode()
		if err != nil {
			return err
		}
		rd, err := f.Reader()
		if err != nil {
			return err
		}
		defer rd.Close()
		out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, rd); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
}
