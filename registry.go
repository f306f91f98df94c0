package elflink

import (
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"
)

type set map[int]struct{}

// Registry holds the loaded modules in a slab. Dependency edges are index sets
// on both ends, so unloading never leaves a dangling reference.
type Registry struct {
	slots      []*Module
	free       []int
	index      map[string]int
	order      []int // newest first
	required   []set
	dependants []set
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Alloc creates an unregistered module called name.
func (r *Registry) Alloc(name string) (*Module, error) {
	if _, ok := r.index[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	return &Module{Name: name, slot: -1}, nil
}

// Find returns the registered module called name.
func (r *Registry) Find(name string) (*Module, bool) {
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.slots[i], true
}

// Register links a fully constructed module into the registry and commits the
// dependency edges recorded while it was relocated.
func (r *Registry) Register(m *Module) error {
	if m.Registered() {
		return fmt.Errorf("%w: %s is registered", ErrDuplicate, m.Name)
	}
	if _, ok := r.index[m.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, m.Name)
	}
	for _, p := range m.pending {
		if !p.Registered() || r.slots[p.slot] != p {
			return fmt.Errorf("%w: %s requires unregistered %s", ErrNotFound, m.Name, p.Name)
		}
	}
	slot := len(r.slots)
	if n := len(r.free); n > 0 {
		slot, r.free = r.free[n-1], r.free[:n-1]
		r.slots[slot], r.required[slot], r.dependants[slot] = m, set{}, set{}
	} else {
		r.slots = append(r.slots, m)
		r.required = append(r.required, set{})
		r.dependants = append(r.dependants, set{})
	}
	m.slot = slot
	r.index[m.Name] = slot
	r.order = slices.Insert(r.order, 0, slot)
	for _, p := range m.pending {
		r.required[slot][p.slot] = struct{}{}
		r.dependants[p.slot][slot] = struct{}{}
	}
	m.pending = nil
	return nil
}

// Unregister removes m. It fails while other modules depend on m.
func (r *Registry) Unregister(m *Module) error {
	if !r.owns(m) {
		return fmt.Errorf("%w: %s", ErrNotFound, m.Name)
	}
	if !r.Unloadable(m) {
		return fmt.Errorf("%w: %s is required by %s", ErrHasDependants, m.Name, names(r.Dependants(m)))
	}
	slot := m.slot
	for p := range r.required[slot] {
		delete(r.dependants[p], slot)
	}
	delete(r.index, m.Name)
	r.order = slices.DeleteFunc(r.order, func(i int) bool { return i == slot })
	r.slots[slot], r.required[slot], r.dependants[slot] = nil, nil, nil
	r.free = append(r.free, slot)
	m.slot = -1
	return nil
}

func (r *Registry) owns(m *Module) bool {
	return m != nil && m.Registered() && m.slot < len(r.slots) && r.slots[m.slot] == m
}

// All yields the registered modules, newest first. This is the symbol search
// order. The sequence works on a snapshot and may be restarted.
func (r *Registry) All() iter.Seq[*Module] {
	return func(yield func(*Module) bool) {
		for _, i := range slices.Clone(r.order) {
			if m := r.slots[i]; m != nil && !yield(m) {
				return
			}
		}
	}
}

// Len returns the number of registered modules.
func (r *Registry) Len() int { return len(r.index) }

// Names returns the registered names, newest first.
func (r *Registry) Names() (out []string) {
	for m := range r.All() {
		out = append(out, m.Name)
	}
	return
}

// Required returns the modules m is bound to.
func (r *Registry) Required(m *Module) []*Module {
	if !r.owns(m) {
		return nil
	}
	return r.modules(r.required[m.slot])
}

// Dependants returns the modules bound to m.
func (r *Registry) Dependants(m *Module) []*Module {
	if !r.owns(m) {
		return nil
	}
	return r.modules(r.dependants[m.slot])
}

// Unloadable reports whether no module depends on m.
func (r *Registry) Unloadable(m *Module) bool {
	return !r.owns(m) || len(r.dependants[m.slot]) == 0
}

func (r *Registry) modules(s set) []*Module {
	out := make([]*Module, 0, len(s))
	for _, i := range slices.Sorted(maps.Keys(s)) {
		out = append(out, r.slots[i])
	}
	return out
}

func names(ms []*Module) string {
	s := make([]string, len(ms))
	for i, m := range ms {
		s[i] = m.Name
	}
	return strings.Join(s, ", ")
}
