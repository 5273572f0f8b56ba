package versions

import (
	"fmt"
	"strconv"
	"strings"
)

// Match reports whether version satisfies every comma separated
// requirement in constraint. A requirement is an operator followed by a
// version: "=", "!=", ">", ">=", "<", "<=" or "~>" (pessimistic: "~> 2.7.1"
// means ">= 2.7.1, < 2.8"). A bare version means "=". An empty constraint
// matches everything.
func Match(version, constraint string) (bool, error) {
	for _, req := range strings.Split(constraint, ",") {
		req = strings.TrimSpace(req)
		if req == "" {
			continue
		}
		ok, err := matchOne(version, req)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

var operators = []string{"~>", ">=", "<=", "!=", ">", "<", "="}

func matchOne(version, req string) (bool, error) {
	op := "="
	for _, o := range operators {
		if strings.HasPrefix(req, o) {
			op = o
			req = strings.TrimSpace(req[len(o):])
			break
		}
	}
	if req == "" {
		return false, fmt.Errorf("invalid requirement %q: missing version", op)
	}
	c := Compare(version, req)
	switch op {
	case "=":
		return c == 0, nil
	case "!=":
		return c != 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	}
	upper, err := bump(req)
	if err != nil {
		return false, err
	}
	return c >= 0 && Compare(version, upper) < 0, nil
}

// bump drops the last numeric component of v and increments the one
// before it: "2.7.1" becomes "2.8", "3" becomes "4".
func bump(v string) (string, error) {
	parts := strings.Split(v, ".")
	if len(parts) > 1 {
		parts = parts[:len(parts)-1]
	}
	last := len(parts) - 1
	n, err := strconv.Atoi(parts[last])
	if err != nil {
		return "", fmt.Errorf("invalid requirement \"~> %s\": %w", v, err)
	}
	parts[last] = strconv.Itoa(n + 1)
	return strings.Join(parts, "."), nil
}
