package elflink

import (
	"errors"
	"github.com/ZenLiuCN/fn"
	"slices"
	"testing"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := fn.Panic1(r.Alloc("a"))
	if a.Registered() {
		t.Fatal("allocated module is registered")
	}
	fn.Panic(r.Register(a))
	if _, err := r.Alloc("a"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("alloc of a registered name: %v", err)
	}
	b := fn.Panic1(r.Alloc("b"))
	b.require(a)
	b.require(a)
	b.require(b)
	fn.Panic(r.Register(b))
	if !slices.Equal(r.Names(), []string{"b", "a"}) {
		t.Fatalf("order %v", r.Names())
	}
	if !slices.Equal(r.Required(b), []*Module{a}) || !slices.Equal(r.Dependants(a), []*Module{b}) {
		t.Fatal("edges were not committed")
	}
	if err := r.Unregister(a); !errors.Is(err, ErrHasDependants) {
		t.Fatalf("unregister with dependants: %v", err)
	}
	fn.Panic(r.Unregister(b))
	if !r.Unloadable(a) || len(r.Required(b)) != 0 {
		t.Fatal("edges survived the unregister")
	}
	if err := r.Unregister(b); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second unregister: %v", err)
	}
	c := fn.Panic1(r.Alloc("c"))
	fn.Panic(r.Register(c))
	if c.slot != 1 {
		t.Fatalf("slot %d was not reused", c.slot)
	}
	if m, ok := r.Find("c"); !ok || m != c {
		t.Fatal("find c")
	}
	if _, ok := r.Find("b"); ok {
		t.Fatal("found unregistered b")
	}
}

func TestRegistryPendingProvider(t *testing.T) {
	r := NewRegistry()
	a := fn.Panic1(r.Alloc("a"))
	b := fn.Panic1(r.Alloc("b"))
	b.require(a)
	if err := r.Register(b); !errors.Is(err, ErrNotFound) {
		t.Fatalf("register before the provider: %v", err)
	}
	if b.Registered() || r.Len() != 0 {
		t.Fatal("rejected register changed the registry")
	}
}

func TestRegistryAll(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"a", "b", "c"} {
		fn.Panic(r.Register(fn.Panic1(r.Alloc(name))))
	}
	var seen []string
	for m := range r.All() {
		seen = append(seen, m.Name)
		if m.Name == "b" {
			fn.Panic(r.Unregister(m))
		}
	}
	if !slices.Equal(seen, []string{"c", "b", "a"}) {
		t.Fatalf("first pass %v", seen)
	}
	seen = seen[:0]
	for m := range r.All() {
		seen = append(seen, m.Name)
		break
	}
	if !slices.Equal(seen, []string{"c"}) || r.Len() != 2 {
		t.Fatalf("restarted pass %v", seen)
	}
}

// TestGraphAcyclic checks that edges only ever point at modules registered
// before the dependant.
func TestGraphAcyclic(t *testing.T) {
	f := newFixture(t)
	f.add("a.c32", library().Func("fa"))
	f.add("b.c32", library().Func("fb").Import("fa"))
	f.add("c.c32", library().Import("fa").Import("fb").Import("puts"))
	for _, name := range []string{"a.c32", "b.c32", "c.c32"} {
		fn.Panic(f.env.LoadLibrary(name))
	}
	reg := f.env.Registry()
	order := reg.Names()
	rank := func(m *Module) int { return slices.Index(order, m.Name) }
	for m := range reg.All() {
		for _, p := range reg.Required(m) {
			if rank(p) <= rank(m) {
				t.Fatalf("%s requires newer %s", m.Name, p.Name)
			}
			if !slices.Contains(reg.Dependants(p), m) {
				t.Fatalf("%s is missing dependant %s", p.Name, m.Name)
			}
		}
	}
	if got := reg.Required(f.module("c.c32")); len(got) != 3 {
		t.Fatalf("c requires %d modules", len(got))
	}
}
