package task

import "strings"

// Sep separates the segments of a task name. A leading Sep marks a name
// that is looked up in the global namespace only.
const Sep = ":"

// Name is a hierarchical task name: namespace segments followed by the leaf
// name. "build:ruby" is Name{"build", "ruby"}.
type Name []string

// ParseName splits s into its segments. Empty segments are dropped, so
// ":build:ruby" and "build:ruby" have the same segments.
func ParseName(s string) Name {
	var n Name
	for _, seg := range strings.Split(s, Sep) {
		if seg != "" {
			n = append(n, seg)
		}
	}
	return n
}

// String returns the Sep-joined form of n.
func (n Name) String() string {
	return strings.Join(n, Sep)
}

// Join returns a new name made of n followed by other.
func (n Name) Join(other Name) Name {
	out := make(Name, 0, len(n)+len(other))
	out = append(out, n...)
	return append(out, other...)
}

// Leaf returns the last segment of n.
func (n Name) Leaf() string {
	if len(n) == 0 {
		return ""
	}
	return n[len(n)-1]
}

// Namespace returns n without its leaf segment.
func (n Name) Namespace() Name {
	if len(n) == 0 {
		return nil
	}
	return n[: len(n)-1 : len(n)-1]
}

func isAbs(ref string) bool {
	return strings.HasPrefix(ref, Sep)
}
