// Package gemspec reads the YAML printed by "gem specification" and turns
// it into debian/copyright license stanzas.
package gemspec

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Spec is the subset of a gem specification needed for license records.
type Spec struct {
	Name     string   `yaml:"name"`
	Version  Version  `yaml:"version"`
	Authors  []string `yaml:"authors"`
	Licenses []string `yaml:"licenses"`
}

// Version is the Gem::Version mapping.
type Version struct {
	Version string `yaml:"version"`
}

// Parse decodes the output of "gem specification <file>". Ruby object tags
// such as !ruby/object:Gem::Specification are ignored.
func Parse(data []byte) (*Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse gem specification: %w", err)
	}
	if spec.Name == "" {
		return nil, fmt.Errorf("parse gem specification: missing name")
	}
	return &spec, nil
}

// Gems whose specifications declare no license.
var knownLicenses = map[string]string{
	"cool.io":                   "MIT",
	"async-pool":                "MIT",
	"ltsv":                      "MIT",
	"td":                        "Apache-2.0",
	"webhdfs":                   "Apache-2.0",
	"td-logger":                 "Apache-2.0",
	"fluent-config-regexp-type": "Apache-2.0",
}

var spdx = strings.NewReplacer(
	"Apache License Version 2.0", "Apache-2.0",
	"Apache 2.0", "Apache-2.0",
	"BSD 2-Clause", "BSD-2-Clause",
)

// License returns the SPDX identifier of the first declared license, or a
// known license for gems that declare none. It is empty when neither is
// available.
func (s *Spec) License() string {
	if len(s.Licenses) > 0 {
		return spdx.Replace(s.Licenses[0])
	}
	return knownLicenses[s.Name]
}

// Stanza formats the debian/copyright paragraph for the gem stored at path.
func (s *Spec) Stanza(path string) string {
	return fmt.Sprintf("Files: %s\nCopyright: %s\nLicense: %s\n", path, strings.Join(s.Authors, ","), s.License())
}
