package versions

import (
	"errors"
	"testing"

	"github.com/goplus/pkgbuild/internal/task"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"2.7.3", "2.7.3", 0},
		{"2.7.3", "2.7.10", -1},
		{"3.0.0", "2.7.9", 1},
		{"3.1", "3.1.0", 0},
		{"3.1.4.1", "3.1.4", 1},
		{"1.11.0.rc1", "1.11.0.rc2", -1},
		{"4.4.2~rc1", "4.4.2", -1},
		{"5.0", "5.0.0.1", -1},
	}
	for _, tt := range tests {
		if got := Compare(tt.a, tt.b); got != tt.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		if got := Compare(tt.b, tt.a); got != -tt.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tt.b, tt.a, got, -tt.want)
		}
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		version, constraint string
		want                bool
	}{
		{"2.7.3", "", true},
		{"2.7.3", "= 2.7.3", true},
		{"2.7.3", "2.7.3", true},
		{"2.7.4", "= 2.7.3", false},
		{"2.7.4", "!= 2.7.3", true},
		{"3.0.1", ">= 3.0.0", true},
		{"2.7.9", ">= 3.0.0", false},
		{"2.7.9", "< 3.0.0", true},
		{"3.0.0", "<= 3.0.0", true},
		{"3.0.0", "> 3.0.0", false},
		{"2.7.5", "~> 2.7.1", true},
		{"2.8.0", "~> 2.7.1", false},
		{"2.7.0", "~> 2.7.1", false},
		{"3.9", "~> 3.1", true},
		{"4.0", "~> 3.1", false},
		{"3.1.2", ">= 3.1.0, < 3.2.0", true},
		{"3.2.0", ">= 3.1.0, < 3.2.0", false},
	}
	for _, tt := range tests {
		got, err := Match(tt.version, tt.constraint)
		if err != nil {
			t.Errorf("Match(%q, %q) error: %v", tt.version, tt.constraint, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.version, tt.constraint, got, tt.want)
		}
	}
}

func TestMatchInvalid(t *testing.T) {
	for _, c := range []string{">=", "~> x.y"} {
		if _, err := Match("1.0.0", c); err == nil {
			t.Errorf("Match(%q) succeeded, want error", c)
		}
	}
}

func TestMajor(t *testing.T) {
	if n, err := Major("5.3.0"); err != nil || n != 5 {
		t.Errorf("Major(5.3.0) = %d, %v", n, err)
	}
	if _, err := Major("x.1"); err == nil {
		t.Error("Major(x.1) succeeded")
	}
}

func TestWix(t *testing.T) {
	tests := []struct {
		version string
		hour    int
		want    string
	}{
		{"4.4.1", 10, "4.4.1"},
		{"4.4.2~rc2", 14, "4.4.1.20014"},
		{"4.4.2~beta3", 0, "4.4.1.3000"},
		{"4.5.0~alpha1", 23, "4.4.9.123"},
		{"5.0.0~rc6", 23, "4.9.9.60023"},
	}
	for _, tt := range tests {
		got, err := Wix(tt.version, tt.hour)
		if err != nil {
			t.Errorf("Wix(%q) error: %v", tt.version, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Wix(%q, %d) = %q, want %q", tt.version, tt.hour, got, tt.want)
		}
	}
}

func TestWixErrors(t *testing.T) {
	for _, v := range []string{"4.4.2~rc7", "4.4.2~dev1"} {
		_, err := Wix(v, 0)
		if !errors.Is(err, task.ErrConfiguration) {
			t.Errorf("Wix(%q) error = %v, want ErrConfiguration", v, err)
		}
	}
}
