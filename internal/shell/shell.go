// Package shell runs external processes for build actions.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/goplus/pkgbuild/internal/env"
	"github.com/kballard/go-shellquote"
	"github.com/mattn/go-shellwords"
	"github.com/qiniu/x/gsh"
	"github.com/qiniu/x/log"
	"golang.org/x/sys/execabs"
)

// ExitError describes a command that could not be started or exited with a
// non-zero status.
type ExitError struct {
	Command string // quoted command line
	Dir     string
	Code    int // -1 when the process did not run to completion
	Stderr  string
	Err     error
}

func (e *ExitError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "command <%s>", e.Command)
	if e.Dir != "" {
		fmt.Fprintf(&b, " in %s", e.Dir)
	}
	if e.Code >= 0 {
		fmt.Fprintf(&b, " exited with status %d", e.Code)
	} else {
		fmt.Fprintf(&b, " failed: %v", e.Err)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		fmt.Fprintf(&b, " (stderr: %s)", s)
	}
	return b.String()
}

func (e *ExitError) Unwrap() error { return e.Err }

// Runner runs commands in Dir with Env layered over the process
// environment.
type Runner struct {
	Dir    string
	Env    map[string]string
	Stdout io.Writer
	Stderr io.Writer
}

// Run runs name with args and waits for it to exit.
func (r *Runner) Run(ctx context.Context, name string, args ...string) error {
	cmd := r.command(ctx, name, args)
	cmd.Stdout = orDefault(r.Stdout, os.Stdout)
	cmd.Stderr = orDefault(r.Stderr, os.Stderr)
	return r.wrap(name, args, gsh.Sys.Run(cmd), "")
}

// Output runs name with args and returns its standard output. Standard
// error is captured and reported on failure.
func (r *Runner) Output(ctx context.Context, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := r.command(ctx, name, args)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := gsh.Sys.Run(cmd)
	return stdout.String(), r.wrap(name, args, err, stderr.String())
}

// Input runs name with args, feeding stdin to it.
func (r *Runner) Input(ctx context.Context, stdin io.Reader, name string, args ...string) error {
	var stderr bytes.Buffer
	cmd := r.command(ctx, name, args)
	cmd.Stdin = stdin
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	return r.wrap(name, args, gsh.Sys.Run(cmd), stderr.String())
}

func (r *Runner) command(ctx context.Context, name string, args []string) *exec.Cmd {
	log.Debugf("run: %s", Quote(append([]string{name}, args...)...))
	cmd := execabs.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = env.Merge(gsh.Sys.Environ(), r.Env)
	}
	return cmd
}

func (r *Runner) wrap(name string, args []string, err error, stderr string) error {
	if err == nil {
		return nil
	}
	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	return &ExitError{
		Command: Quote(append([]string{name}, args...)...),
		Dir:     r.Dir,
		Code:    code,
		Stderr:  stderr,
		Err:     err,
	}
}

// Quote joins args into a single shell-quoted command line.
func Quote(args ...string) string {
	return shellquote.Join(args...)
}

// Split parses a command line into arguments, honoring shell quoting.
func Split(cmdline string) ([]string, error) {
	args, err := shellwords.Parse(cmdline)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", cmdline, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("parse command %q: empty command", cmdline)
	}
	return args, nil
}

func orDefault(w, def io.Writer) io.Writer {
	if w == nil {
		return def
	}
	return w
}
