// Package render expands package templates (service units, installer
// parameters, wrapper scripts) with a flat set of parameters.
package render

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"dario.cat/mergo"
	"github.com/qiniu/x/log"
)

// Params are the values a template may reference as {{.name}}.
type Params map[string]any

// Merge returns a new Params holding base overlaid by each of overrides in
// order. Neither base nor overrides are modified.
func Merge(base Params, overrides ...Params) (Params, error) {
	merged := Params{}
	if err := mergo.Merge(&merged, base); err != nil {
		return nil, err
	}
	for _, o := range overrides {
		if err := mergo.Merge(&merged, o, mergo.WithOverride); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

var funcs = template.FuncMap{
	"upper":   strings.ToUpper,
	"lower":   strings.ToLower,
	"trim":    strings.TrimSpace,
	"join":    strings.Join,
	"replace": strings.ReplaceAll,
}

// Option adjusts how File writes its output.
type Option func(*options)

type options struct {
	mode fs.FileMode
}

// Mode sets the permission bits of the rendered file. The default is 0644.
func Mode(mode fs.FileMode) Option {
	return func(o *options) {
		o.mode = mode
	}
}

// String expands text. Referencing a parameter that is not set is an error.
func String(name, text string, params Params) (string, error) {
	t, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, params); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// File expands the template at src and writes it to dest, creating parent
// directories as needed.
func File(dest, src string, params Params, opts ...Option) error {
	o := options{mode: 0o644}
	for _, opt := range opts {
		opt(&o)
	}
	text, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("render %s: %w", dest, err)
	}
	out, err := String(filepath.Base(src), string(text), params)
	if err != nil {
		return fmt.Errorf("render %s: %w", dest, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	log.Infof("Generate %s", dest)
	if err := os.WriteFile(dest, []byte(out), o.mode); err != nil {
		return err
	}
	// WriteFile leaves the mode of an existing file alone.
	return os.Chmod(dest, o.mode)
}
