// Package clean collects glob patterns of generated files and removes them
// on demand.
//
// Two lists are kept. CLEAN holds intermediate outputs that are cheap to
// regenerate. CLOBBER holds heavier artifacts such as final installers and
// extracted repositories. Clobbering removes both lists.
package clean

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goplus/pkgbuild/internal/task"
	"github.com/qiniu/x/log"
)

// Sets holds the CLEAN and CLOBBER pattern lists. Patterns are relative to
// Dir unless absolute, and may use "**".
type Sets struct {
	Dir string

	clean   []string
	clobber []string
}

// New returns empty sets rooted at dir.
func New(dir string) *Sets {
	return &Sets{Dir: dir}
}

// Clean adds patterns to the CLEAN list.
func (s *Sets) Clean(patterns ...string) {
	s.clean = append(s.clean, patterns...)
}

// Clobber adds patterns to the CLOBBER list.
func (s *Sets) Clobber(patterns ...string) {
	s.clobber = append(s.clobber, patterns...)
}

// CleanPatterns returns the CLEAN list.
func (s *Sets) CleanPatterns() []string { return slices.Clone(s.clean) }

// ClobberPatterns returns the CLOBBER list.
func (s *Sets) ClobberPatterns() []string { return slices.Clone(s.clobber) }

// RemoveClean removes every path matching the CLEAN list.
func (s *Sets) RemoveClean() error {
	return s.remove(s.clean)
}

// RemoveClobber removes every path matching the CLEAN and CLOBBER lists.
func (s *Sets) RemoveClobber() error {
	if err := s.RemoveClean(); err != nil {
		return err
	}
	return s.remove(s.clobber)
}

// Define registers the "clean" and "clobber" tasks on scope. "clobber"
// depends on "clean".
func (s *Sets) Define(scope *task.Scope) {
	scope.Define("clean", nil, func(*task.Context) error {
		return s.RemoveClean()
	}).Describe("Remove any temporary products")
	scope.Define("clobber", []string{"clean"}, func(*task.Context) error {
		return s.remove(s.clobber)
	}).Describe("Remove any generated files")
}

func (s *Sets) remove(patterns []string) error {
	for _, pattern := range patterns {
		if !filepath.IsAbs(pattern) && s.Dir != "" {
			pattern = filepath.Join(s.Dir, pattern)
		}
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return fmt.Errorf("clean pattern %q: %w", pattern, err)
		}
		for _, path := range matches {
			log.Debugf("rm -rf %s", path)
			if err := os.RemoveAll(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		}
	}
	return nil
}
