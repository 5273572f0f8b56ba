// Package versions compares upstream version strings and derives installer
// version numbers from package versions.
package versions

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Compare compares two version strings and returns -1, 0 or 1.
//
// Versions that are valid semantic versions once prefixed with "v" are
// compared with semver rules. Anything else, such as four component Ruby
// versions or "1.11.0.rc1", falls back to Debian style comparison where
// digit runs compare numerically and '~' sorts before everything.
func Compare(a, b string) int {
	va, vb := "v"+a, "v"+b
	if semver.IsValid(va) && semver.IsValid(vb) {
		return semver.Compare(va, vb)
	}
	return sign(verrevcmp(a, b))
}

// Major returns the leading numeric component of version.
func Major(version string) (int, error) {
	head, _, _ := strings.Cut(version, ".")
	n, err := strconv.Atoi(head)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", version, err)
	}
	return n, nil
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

// verrevcmp walks a and b as alternating non-digit and digit runs.
func verrevcmp(a, b string) int {
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		for (i < len(a) && !isDigit(a[i])) || (j < len(b) && !isDigit(b[j])) {
			ac, bc := order(a, i), order(b, j)
			if ac != bc {
				return ac - bc
			}
			i++
			j++
		}
		for i < len(a) && a[i] == '0' {
			i++
		}
		for j < len(b) && b[j] == '0' {
			j++
		}
		diff := 0
		for i < len(a) && j < len(b) && isDigit(a[i]) && isDigit(b[j]) {
			if diff == 0 {
				diff = int(a[i]) - int(b[j])
			}
			i++
			j++
		}
		if i < len(a) && isDigit(a[i]) {
			return 1
		}
		if j < len(b) && isDigit(b[j]) {
			return -1
		}
		if diff != 0 {
			return diff
		}
	}
	return 0
}

// order ranks the byte at s[i]: '~' lowest, then end of string and
// digits, then letters, then everything else.
func order(s string, i int) int {
	if i >= len(s) {
		return 0
	}
	c := s[i]
	switch {
	case isDigit(c):
		return 0
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return int(c)
	case c == '~':
		return -1
	}
	return int(c) + 256
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
