// Package env merges environment lists and edits PATH-like variables.
package env

import (
	"runtime"
	"sort"
	"strings"
)

// Merge layers override onto base, a list of "key=value" entries, and
// returns the result sorted by key.
func Merge(base []string, override map[string]string) []string {
	envMap := make(map[string]string, len(base)+len(override))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			envMap[k] = v
		}
	}
	for k, v := range override {
		envMap[k] = v
	}
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+envMap[k])
	}
	return out
}

// PathListSeparator separates entries of PATH-like variables.
func PathListSeparator() string {
	if runtime.GOOS == "windows" {
		return ";"
	}
	return ":"
}

// Prepend returns value placed in front of current in a PATH-like list.
func Prepend(current, value string) string {
	if current == "" {
		return value
	}
	return value + PathListSeparator() + current
}

// AppendFlag returns flag appended to a space separated flag list.
func AppendFlag(current, flag string) string {
	if current == "" {
		return flag
	}
	return strings.TrimSpace(current + " " + flag)
}
