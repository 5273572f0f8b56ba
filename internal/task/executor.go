package task

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/qiniu/x/log"
)

// Options configures an Executor.
type Options struct {
	// Freshness decides whether file targets are up to date. Defaults to
	// ModTime.
	Freshness Freshness
	// Dir is the working directory handed to actions. Relative file task
	// paths are resolved against it.
	Dir string
	// Env holds environment overrides handed to actions.
	Env map[string]string
	// Stdout and Stderr receive external process output. They default to
	// os.Stdout and os.Stderr.
	Stdout io.Writer
	Stderr io.Writer
	// DryRun logs what would run without running any action.
	DryRun bool
	// Trace logs skip decisions as well as executions.
	Trace bool
}

// Executor runs a task after its prerequisites, one task at a time.
type Executor struct {
	reg  *Registry
	opts Options
}

// NewExecutor returns an Executor over reg.
func NewExecutor(reg *Registry, opts Options) *Executor {
	if opts.Freshness == nil {
		opts.Freshness = ModTime{}
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	return &Executor{reg: reg, opts: opts}
}

// Run resolves root and runs every task in dependency order. Each task runs
// at most once. File tasks that are up to date are skipped.
//
// The first failing action stops the run; its error is returned as an
// *ActionError. Side effects of tasks that already ran are kept.
func (e *Executor) Run(ctx context.Context, root string) error {
	g, err := e.reg.resolve(root, e.opts.Dir)
	if err != nil {
		return err
	}
	ran := make(map[*Task]bool, len(g.Order))
	for _, t := range g.Order {
		needed, err := e.needed(t, g.Deps(t), ran)
		if err != nil {
			return &ActionError{Task: t.Name(), Err: fmt.Errorf("check freshness: %w", err)}
		}
		if !needed {
			if e.opts.Trace {
				log.Infof("** Skip %s (up to date)", t.Name())
			} else {
				log.Debugf("skip %s: up to date", t.Name())
			}
			continue
		}
		ran[t] = true
		if e.opts.DryRun {
			log.Infof("** Execute (dry run) %s", t.Name())
			continue
		}
		if err := e.execute(ctx, t, g.Deps(t)); err != nil {
			return &ActionError{Task: t.Name(), Err: err}
		}
	}
	return nil
}

func (e *Executor) execute(ctx context.Context, t *Task, deps []*Task) error {
	if e.opts.Trace || len(t.actions) > 0 {
		log.Infof("** Execute %s", t.Name())
	}
	c := &Context{
		Context: ctx,
		Task:    t.Name(),
		Dir:     e.opts.Dir,
		Env:     e.opts.Env,
		Stdout:  e.opts.Stdout,
		Stderr:  e.opts.Stderr,
	}
	for _, act := range t.actions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := act(c); err != nil {
			return err
		}
	}
	if rec, ok := e.opts.Freshness.(Recorder); ok && t.kind == KindFile {
		var paths []string
		for _, d := range deps {
			if d.kind != KindPlain {
				paths = append(paths, inDir(e.opts.Dir, d.path))
			}
		}
		if err := rec.Record(inDir(e.opts.Dir, t.path), paths); err != nil {
			return fmt.Errorf("record freshness: %w", err)
		}
	}
	return nil
}

// needed reports whether t must run. Results for prerequisites are already
// in ran since they come earlier in the order.
func (e *Executor) needed(t *Task, deps []*Task, ran map[*Task]bool) (bool, error) {
	switch t.kind {
	case KindPlain:
		return true, nil
	case KindLeaf:
		return false, nil
	}
	target := inDir(e.opts.Dir, t.path)
	ok, err := e.opts.Freshness.Exists(target)
	if err != nil || !ok {
		return true, err
	}
	for _, d := range deps {
		if d.kind == KindPlain || ran[d] {
			return true, nil
		}
		outdated, err := e.opts.Freshness.Outdated(target, inDir(e.opts.Dir, d.path))
		if err != nil {
			return false, err
		}
		if outdated {
			return true, nil
		}
	}
	return false, nil
}
