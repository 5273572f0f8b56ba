// Package archive reads and writes the tarballs the build consumes and
// produces.
package archive

import (
	"archive/tar"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/qiniu/x/log"
	"github.com/ulikunitz/xz"
)

// ErrUnsupported is returned for file names without a known tarball suffix.
var ErrUnsupported = errors.New("unsupported archive format")

var suffixes = []string{".tar.gz", ".tgz", ".tar.bz2", ".tar.xz", ".tar.zst", ".tar"}

// TrimSuffix returns name without its tarball suffix.
// "ruby-3.2.2.tar.gz" becomes "ruby-3.2.2".
func TrimSuffix(name string) string {
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return strings.TrimSuffix(name, s)
		}
	}
	return name
}

// decompress wraps r according to the suffix of name.
func decompress(name string, r io.Reader) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return gzip.NewReader(r)
	case strings.HasSuffix(name, ".tar.bz2"):
		return io.NopCloser(bzip2.NewReader(r)), nil
	case strings.HasSuffix(name, ".tar.xz"):
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	case strings.HasSuffix(name, ".tar.zst"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	case strings.HasSuffix(name, ".tar"):
		return io.NopCloser(r), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Base(name))
}

// Extract unpacks the tarball src into dir. Ownership is not restored.
func Extract(src, dir string) error {
	return extract(src, dir, nil)
}

// ExtractMember unpacks only the entry named member from src into dir.
// It fails if the tarball has no such entry.
func ExtractMember(src, dir, member string) error {
	found := false
	err := extract(src, dir, func(name string) bool {
		if name == member {
			found = true
			return true
		}
		return false
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s: %s: %w", filepath.Base(src), member, fs.ErrNotExist)
	}
	return nil
}

func extract(src, dir string, want func(name string) bool) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := decompress(src, f)
	if err != nil {
		return err
	}
	defer r.Close()

	log.Debugf("extract %s -> %s", src, dir)
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(src), err)
		}
		name := strings.TrimPrefix(filepath.ToSlash(hdr.Name), "./")
		name = strings.TrimSuffix(name, "/")
		if name == "" || (want != nil && !want(name)) {
			continue
		}
		target, err := within(dir, name)
		if err != nil {
			return err
		}
		if err := writeEntry(tr, hdr, dir, target); err != nil {
			return fmt.Errorf("%s: %s: %w", filepath.Base(src), name, err)
		}
	}
}

// within joins name to dir and rejects names that escape dir.
func within(dir, name string) (string, error) {
	target := filepath.Join(dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes %s", name, dir)
	}
	return target, nil
}

func writeEntry(tr *tar.Reader, hdr *tar.Header, dir, target string) error {
	mode := hdr.FileInfo().Mode()
	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, mode.Perm()|0o700)
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
		return os.Chtimes(target, hdr.ModTime, hdr.ModTime)
	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		os.Remove(target)
		return os.Symlink(hdr.Linkname, target)
	case tar.TypeLink:
		old, err := within(dir, filepath.ToSlash(hdr.Linkname))
		if err != nil {
			return err
		}
		os.Remove(target)
		return os.Link(old, target)
	}
	// device nodes, fifos and pax globals are not needed for builds.
	return nil
}

// CreateTarGz writes a gzip compressed tarball to dest containing the named
// entries of baseDir, recursively. Entry names are relative to baseDir.
func CreateTarGz(dest, baseDir string, names ...string) (err error) {
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dest)
		}
	}()

	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)
	for _, name := range names {
		root := filepath.Join(baseDir, name)
		if err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(baseDir, path)
			if err != nil {
				return err
			}
			return addEntry(tw, path, filepath.ToSlash(rel), info)
		}); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gw.Close()
}

func addEntry(tw *tar.Writer, path, name string, info os.FileInfo) error {
	link := ""
	if info.Mode()&os.ModeSymlink != 0 {
		var err error
		if link, err = os.Readlink(path); err != nil {
			return err
		}
	}
	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	hdr.Name = name
	if info.IsDir() {
		hdr.Name += "/"
	}
	hdr.Uid, hdr.Gid, hdr.Uname, hdr.Gname = 0, 0, "", ""
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}
