package versions

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/goplus/pkgbuild/internal/task"
)

// MaxWixRevision is the largest value Windows Installer accepts in the
// last field of a product version.
const MaxWixRevision = 65534

var prerelease = regexp.MustCompile(`~(rc|beta|alpha)(\d+)`)

var prereleaseWeight = map[string]int{
	"rc":    10000,
	"beta":  1000,
	"alpha": 100,
}

// Wix converts a package version into a Windows Installer product version.
//
// Release versions are returned unchanged. A prerelease "X.Y.Z~rcN" (or
// betaN, alphaN) becomes the release before it, with its digits dotted,
// plus a revision of N*10000 (N*1000, N*100) + hour. "4.4.2~rc2" built at
// 14:00 becomes "4.4.1.20014".
func Wix(version string, hour int) (string, error) {
	base, _, ok := strings.Cut(version, "~")
	if !ok {
		return version, nil
	}
	m := prerelease.FindStringSubmatch(version)
	if m == nil {
		return "", task.ConfigErrorf("invalid version: %s", version)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", task.ConfigErrorf("invalid version: %s", version)
	}
	revision := n*prereleaseWeight[m[1]] + hour
	if revision > MaxWixRevision {
		return "", task.ConfigErrorf("revision must be an integer, from 0 to %d: <%d>", MaxWixRevision, revision)
	}

	digits, err := strconv.Atoi(strings.ReplaceAll(base, ".", ""))
	if err != nil {
		return "", task.ConfigErrorf("invalid version: %s", version)
	}
	prev := strconv.Itoa(digits - 1)
	return strings.Join(strings.Split(prev, ""), ".") + "." + strconv.Itoa(revision), nil
}
