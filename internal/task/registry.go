package task

import (
	"os"
	"path/filepath"
	"slices"
	"sort"
)

// Kind classifies how a task decides whether it must run.
type Kind int

const (
	// KindPlain tasks are never up to date; their actions run whenever the
	// task is reached.
	KindPlain Kind = iota
	// KindFile tasks are named by a path and skipped while the path is
	// fresh with respect to their prerequisites.
	KindFile
	// KindLeaf marks an existing path that was never registered. It has no
	// actions and is always up to date.
	KindLeaf
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindFile:
		return "file"
	case KindLeaf:
		return "leaf"
	}
	return "unknown"
}

type prereq struct {
	ref   string
	scope Name // namespace the reference was declared in
}

// Task is a named unit of work with prerequisites and actions.
type Task struct {
	name    Name
	path    string
	kind    Kind
	desc    string
	prereqs []prereq
	actions []Action
}

// Name returns the task name: the Sep-joined name for plain tasks and the
// path for file tasks.
func (t *Task) Name() string {
	if t.kind == KindPlain {
		return t.name.String()
	}
	return t.path
}

// Kind returns the task kind.
func (t *Task) Kind() Kind { return t.kind }

// Path returns the file path of a file or leaf task.
func (t *Task) Path() string { return t.path }

// Describe sets a one-line description shown by listings.
func (t *Task) Describe(desc string) *Task {
	t.desc = desc
	return t
}

// Description returns the description set by Describe.
func (t *Task) Description() string { return t.desc }

// Prerequisites returns the prerequisite references in declaration order
// with duplicates removed. The same reference declared from two namespaces
// is listed once even though it may resolve to two different tasks.
func (t *Task) Prerequisites() []string {
	out := make([]string, 0, len(t.prereqs))
	for _, p := range t.prereqs {
		if !slices.Contains(out, p.ref) {
			out = append(out, p.ref)
		}
	}
	return out
}

// uniquePrereqs drops references repeated within the same namespace.
func (t *Task) uniquePrereqs() []prereq {
	out := make([]prereq, 0, len(t.prereqs))
	for _, p := range t.prereqs {
		if !slices.ContainsFunc(out, func(q prereq) bool {
			return q.ref == p.ref && slices.Equal(q.scope, p.scope)
		}) {
			out = append(out, p)
		}
	}
	return out
}

// Actions returns the number of attached actions.
func (t *Task) Actions() int { return len(t.actions) }

// Registry stores tasks by name and file tasks by path.
//
// Registering a name that already exists appends prerequisites and actions
// to the existing task.
type Registry struct {
	tasks map[string]*Task
	files map[string]*Task
	order []*Task
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]*Task),
		files: make(map[string]*Task),
	}
}

// Root returns the global namespace.
func (r *Registry) Root() *Scope {
	return &Scope{reg: r}
}

// Define registers a plain task in the global namespace.
func (r *Registry) Define(name string, prereqs []string, actions ...Action) *Task {
	return r.Root().Define(name, prereqs, actions...)
}

// File registers a file task.
func (r *Registry) File(path string, prereqs []string, actions ...Action) *Task {
	return r.Root().File(path, prereqs, actions...)
}

// Namespace runs fn with a scope nested under name.
func (r *Registry) Namespace(name string, fn func(ns *Scope)) {
	r.Root().Namespace(name, fn)
}

// Lookup finds a task by its global name or by path. A path that exists on
// disk but was never registered is returned as a KindLeaf task. Existence
// is checked on every call.
func (r *Registry) Lookup(name string) (*Task, error) {
	return r.lookup(name, nil, "", nil)
}

// Tasks returns the registered plain and file tasks sorted by name.
func (r *Registry) Tasks() []*Task {
	out := slices.Clone(r.order)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Name() < out[j].Name()
	})
	return out
}

// lookup resolves ref against scope, innermost namespace first. Unregistered
// paths are checked on disk relative to dir; leaves holds the leaf tasks
// already found during the current resolution and may be nil.
func (r *Registry) lookup(ref string, scope Name, dir string, leaves map[string]*Task) (*Task, error) {
	if ref == "" {
		return nil, &UnknownTaskError{Name: ref}
	}
	n := ParseName(ref)
	if len(n) > 0 {
		if isAbs(ref) {
			scope = nil
		}
		for i := len(scope); i >= 0; i-- {
			if t, ok := r.tasks[scope[:i].Join(n).String()]; ok {
				return t, nil
			}
		}
	}
	path := filepath.Clean(ref)
	if t, ok := r.files[path]; ok {
		return t, nil
	}
	if t, ok := leaves[path]; ok {
		return t, nil
	}
	if _, err := os.Stat(inDir(dir, path)); err == nil {
		t := &Task{path: path, kind: KindLeaf}
		if leaves != nil {
			leaves[path] = t
		}
		return t, nil
	}
	return nil, &UnknownTaskError{Name: ref}
}

// inDir resolves a relative path against dir.
func inDir(dir, path string) string {
	if dir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// Scope registers tasks under a namespace path.
type Scope struct {
	reg  *Registry
	path Name
}

// Path returns the namespace path of s.
func (s *Scope) Path() Name { return s.path }

// Namespace runs fn with a scope nested under name. name may itself contain
// Sep to open several levels at once.
func (s *Scope) Namespace(name string, fn func(ns *Scope)) {
	fn(&Scope{reg: s.reg, path: s.path.Join(ParseName(name))})
}

// Define registers (or extends) the plain task name inside s.
func (s *Scope) Define(name string, prereqs []string, actions ...Action) *Task {
	full := s.path.Join(ParseName(name))
	key := full.String()
	t, ok := s.reg.tasks[key]
	if !ok {
		t = &Task{name: full, kind: KindPlain}
		s.reg.tasks[key] = t
		s.reg.order = append(s.reg.order, t)
	}
	s.extend(t, prereqs, actions)
	return t
}

// File registers (or extends) the file task for path. File tasks are keyed
// by path and are not namespaced, but their prerequisites are resolved
// relative to s.
func (s *Scope) File(path string, prereqs []string, actions ...Action) *Task {
	path = filepath.Clean(path)
	t, ok := s.reg.files[path]
	if !ok {
		t = &Task{path: path, kind: KindFile}
		s.reg.files[path] = t
		s.reg.order = append(s.reg.order, t)
	}
	s.extend(t, prereqs, actions)
	return t
}

func (s *Scope) extend(t *Task, prereqs []string, actions []Action) {
	for _, ref := range prereqs {
		t.prereqs = append(t.prereqs, prereq{ref: ref, scope: s.path})
	}
	t.actions = append(t.actions, actions...)
}
