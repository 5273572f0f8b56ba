package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/goplus/pkgbuild/internal/archive"
	"github.com/qiniu/x/log"
)

// GitArchive clones url, checks out rev and writes the working tree as a
// gzip compressed tarball to dest. Entries are rooted at the base name of
// dest without its suffix, so "fluentd-abc.tar.gz" holds "fluentd-abc/...".
// rev may be a commit hash, a tag or a branch name.
func GitArchive(ctx context.Context, url, rev, dest string) (err error) {
	parent := filepath.Dir(dest)
	name := archive.TrimSuffix(filepath.Base(dest))
	dir := filepath.Join(parent, name)

	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	log.Infof("Cloning %s at %s...", url, rev)
	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{URL: url})
	if err != nil {
		return fmt.Errorf("git clone %s: %w", url, err)
	}

	hash, err := resolve(repo, rev)
	if err != nil {
		return fmt.Errorf("git checkout %s: %w", rev, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return err
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: hash, Force: true}); err != nil {
		return fmt.Errorf("git checkout %s: %w", rev, err)
	}

	part := dest + ".part"
	defer func() {
		if err != nil {
			os.Remove(part)
		}
	}()
	if err := archive.CreateTarGz(part, parent, name); err != nil {
		return err
	}
	return os.Rename(part, dest)
}

// resolve finds rev among local refs first and then among the branches of
// origin, which is where a fresh clone keeps everything but the default
// branch.
func resolve(repo *git.Repository, rev string) (plumbing.Hash, error) {
	h, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err == nil {
		return *h, nil
	}
	if !strings.HasPrefix(rev, "origin/") {
		if h, rerr := repo.ResolveRevision(plumbing.Revision("origin/" + rev)); rerr == nil {
			return *h, nil
		}
	}
	return plumbing.ZeroHash, err
}
