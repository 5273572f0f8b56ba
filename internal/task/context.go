package task

import (
	"context"
	"io"
	"maps"
	"os"
	"path/filepath"

	"github.com/goplus/pkgbuild/internal/shell"
)

// Action is a unit of work attached to a task.
type Action func(ctx *Context) error

// Context is what an action sees: the working directory and environment
// overrides it should use, and where external processes write.
//
// A Context is never mutated by WithDir or WithEnv. Derived contexts carry
// their own copy, so an override ends with the scope that created it, on
// success and on failure alike. The process environment is not touched.
type Context struct {
	context.Context

	Task   string
	Dir    string
	Env    map[string]string
	Stdout io.Writer
	Stderr io.Writer
}

// Abs resolves path against c.Dir.
func (c *Context) Abs(path string) string {
	if filepath.IsAbs(path) || c.Dir == "" {
		return path
	}
	return filepath.Join(c.Dir, path)
}

// WithDir returns a copy of c whose working directory is dir, resolved
// against c.Dir when relative.
func (c *Context) WithDir(dir string) *Context {
	cc := *c
	cc.Dir = c.Abs(dir)
	return &cc
}

// WithEnv returns a copy of c with kv layered over its environment
// overrides.
func (c *Context) WithEnv(kv map[string]string) *Context {
	cc := *c
	cc.Env = make(map[string]string, len(c.Env)+len(kv))
	maps.Copy(cc.Env, c.Env)
	maps.Copy(cc.Env, kv)
	return &cc
}

// Getenv returns the override for key, or the process value.
func (c *Context) Getenv(key string) string {
	if v, ok := c.Env[key]; ok {
		return v
	}
	return os.Getenv(key)
}

// Runner returns a shell runner bound to c.
func (c *Context) Runner() *shell.Runner {
	return &shell.Runner{
		Dir:    c.Dir,
		Env:    c.Env,
		Stdout: c.Stdout,
		Stderr: c.Stderr,
	}
}

// Run runs an external command and waits for it.
func (c *Context) Run(name string, args ...string) error {
	return c.Runner().Run(c, name, args...)
}

// Output runs an external command and returns its standard output.
func (c *Context) Output(name string, args ...string) (string, error) {
	return c.Runner().Output(c, name, args...)
}
