package task

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"os"
)

// Freshness decides whether a file target can be skipped. The executor only
// asks about file targets whose prerequisites were not rebuilt in the same
// run.
type Freshness interface {
	// Exists reports whether path is present.
	Exists(path string) (bool, error)
	// Outdated reports whether target must be rebuilt because of prereq.
	Outdated(target, prereq string) (bool, error)
}

// Recorder is implemented by Freshness values that need to observe a
// successful build of a file target.
type Recorder interface {
	Record(target string, prereqs []string) error
}

// ModTime compares modification times. A target is outdated when a
// prerequisite was modified after it.
type ModTime struct{}

func (ModTime) Exists(path string) (bool, error) {
	return exists(path)
}

func (ModTime) Outdated(target, prereq string) (bool, error) {
	ti, err := os.Stat(target)
	if err != nil {
		return false, err
	}
	pi, err := os.Stat(prereq)
	if err != nil {
		return false, err
	}
	return pi.ModTime().After(ti.ModTime()), nil
}

// ContentDigest tracks sha256 digests of prerequisite files. A target is
// outdated until it has been recorded, and afterwards whenever a
// prerequisite's content differs from what was recorded.
type ContentDigest struct {
	recorded map[string]map[string]string
}

// NewContentDigest returns an empty ContentDigest.
func NewContentDigest() *ContentDigest {
	return &ContentDigest{recorded: make(map[string]map[string]string)}
}

func (d *ContentDigest) Exists(path string) (bool, error) {
	return exists(path)
}

func (d *ContentDigest) Outdated(target, prereq string) (bool, error) {
	rec, ok := d.recorded[target]
	if !ok {
		return true, nil
	}
	want, ok := rec[prereq]
	if !ok {
		return true, nil
	}
	got, err := digest(prereq)
	if err != nil {
		return false, err
	}
	return got != want, nil
}

func (d *ContentDigest) Record(target string, prereqs []string) error {
	rec := make(map[string]string, len(prereqs))
	for _, p := range prereqs {
		sum, err := digest(p)
		if err != nil {
			return err
		}
		rec[p] = sum
	}
	d.recorded[target] = rec
	return nil
}

func digest(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if fi.IsDir() {
		return "dir:" + fi.ModTime().UTC().String(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
