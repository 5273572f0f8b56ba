// Package fetch downloads source archives and snapshots git repositories.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/qiniu/x/log"
)

// ChecksumError reports a downloaded file whose sha256 differs from the
// expected one.
type ChecksumError struct {
	File     string
	Expected string
	Actual   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("sha256sum of %s did not match: expected %s, actual %s", e.File, e.Expected, e.Actual)
}

// Client downloads files over HTTP.
type Client struct {
	HTTPClient *http.Client
}

// Default is the client used by File.
var Default = &Client{
	HTTPClient: &http.Client{
		// No overall timeout: the caller's context bounds the transfer.
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			TLSHandshakeTimeout:   30 * time.Second,
			ResponseHeaderTimeout: 60 * time.Second,
		},
	},
}

// File downloads url to dest using the default client.
func File(ctx context.Context, url, dest, sum string) error {
	return Default.File(ctx, url, dest, sum)
}

// File downloads url into dest+".part", verifies its sha256 when sum is not
// empty, and renames it to dest. dest is left untouched on any failure.
func (c *Client) File(ctx context.Context, url, dest, sum string) (err error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	log.Infof("Downloading %s...", filepath.Base(dest))

	part := dest + ".part"
	defer func() {
		if err != nil {
			os.Remove(part)
		}
	}()

	actual, err := c.download(ctx, url, part)
	if err != nil {
		return err
	}
	if sum != "" && !strings.EqualFold(sum, actual) {
		return &ChecksumError{File: filepath.Base(dest), Expected: sum, Actual: actual}
	}
	return os.Rename(part, dest)
}

func (c *Client) download(ctx context.Context, url, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("download %s: unexpected status %d", url, resp.StatusCode)
	}

	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(out, h), resp.Body); err != nil {
		out.Close()
		return "", fmt.Errorf("download %s: %w", url, err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FileSum returns the hex encoded sha256 of the file at path.
func FileSum(path string) (string, error) {
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
