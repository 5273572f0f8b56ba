package task

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownTask is reported when a name is neither registered nor an
	// existing path.
	ErrUnknownTask = errors.New("unknown task")
	// ErrCyclicDependency is reported when the prerequisites reachable from
	// the requested task form a cycle.
	ErrCyclicDependency = errors.New("cyclic dependency")
	// ErrActionFailed is reported when an action of a task returns an error.
	ErrActionFailed = errors.New("action failed")
	// ErrConfiguration is reported when a value required to build is
	// missing or invalid.
	ErrConfiguration = errors.New("configuration error")
)

// UnknownTaskError names the reference that could not be resolved.
type UnknownTaskError struct {
	Name       string
	RequiredBy string // empty for the requested root
}

func (e *UnknownTaskError) Error() string {
	if e.RequiredBy == "" {
		return fmt.Sprintf("%s: %q", ErrUnknownTask, e.Name)
	}
	return fmt.Sprintf("%s: %q (required by %q)", ErrUnknownTask, e.Name, e.RequiredBy)
}

func (e *UnknownTaskError) Unwrap() error { return ErrUnknownTask }

// CycleError carries the chain of task names that closes the cycle, with the
// first name repeated at the end: [x y x].
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCyclicDependency, strings.Join(e.Chain, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCyclicDependency }

// ActionError is returned by Executor.Run when an action fails. It unwraps
// to the underlying cause and matches ErrActionFailed.
type ActionError struct {
	Task string
	Err  error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("task %q failed: %v", e.Task, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

func (e *ActionError) Is(target error) bool { return target == ErrActionFailed }

// ConfigErrorf formats an error that matches ErrConfiguration.
func ConfigErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
