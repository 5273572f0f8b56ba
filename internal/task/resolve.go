package task

// Graph is the dependency order resolved for one requested task. It is
// built per run and discarded afterwards.
type Graph struct {
	// Order lists every reachable task once, each after all of its
	// prerequisites.
	Order []*Task

	deps map[*Task][]*Task
}

// Deps returns the resolved direct prerequisites of t.
func (g *Graph) Deps(t *Task) []*Task {
	return g.deps[t]
}

// Names returns the names of g.Order.
func (g *Graph) Names() []string {
	out := make([]string, len(g.Order))
	for i, t := range g.Order {
		out[i] = t.Name()
	}
	return out
}

// Resolve walks the prerequisites of root depth-first and returns them in
// topological order. Independent branches keep their declaration order.
//
// Unknown references and cycles are reported before anything runs. Paths
// that were never registered are checked on disk during each call.
func (r *Registry) Resolve(root string) (*Graph, error) {
	return r.resolve(root, "")
}

// resolve is Resolve with relative unregistered paths checked against dir.
func (r *Registry) resolve(root, dir string) (*Graph, error) {
	g := &Graph{deps: make(map[*Task][]*Task)}
	w := &walker{
		reg:     r,
		g:       g,
		dir:     dir,
		leaves:  make(map[string]*Task),
		done:    make(map[*Task]bool),
		onStack: make(map[*Task]int),
	}
	t, err := r.lookup(root, nil, dir, w.leaves)
	if err != nil {
		return nil, err
	}
	if err := w.visit(t); err != nil {
		return nil, err
	}
	return g, nil
}

type walker struct {
	reg     *Registry
	g       *Graph
	dir     string
	leaves  map[string]*Task
	done    map[*Task]bool
	onStack map[*Task]int
	stack   []*Task
}

func (w *walker) visit(t *Task) error {
	if w.done[t] {
		return nil
	}
	if i, ok := w.onStack[t]; ok {
		chain := make([]string, 0, len(w.stack)-i+1)
		for _, s := range w.stack[i:] {
			chain = append(chain, s.Name())
		}
		return &CycleError{Chain: append(chain, t.Name())}
	}

	w.onStack[t] = len(w.stack)
	w.stack = append(w.stack, t)

	var deps []*Task
	for _, p := range t.uniquePrereqs() {
		dep, err := w.reg.lookup(p.ref, p.scope, w.dir, w.leaves)
		if err != nil {
			if e, ok := err.(*UnknownTaskError); ok {
				e.RequiredBy = t.Name()
			}
			return err
		}
		if err := w.visit(dep); err != nil {
			return err
		}
		deps = append(deps, dep)
	}

	w.stack = w.stack[:len(w.stack)-1]
	delete(w.onStack, t)
	w.done[t] = true
	w.g.deps[t] = deps
	w.g.Order = append(w.g.Order, t)
	return nil
}
