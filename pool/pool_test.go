package pool

import (
	"debug/elf"
	"errors"
	"github.com/ZenLiuCN/elflink"
	"github.com/ZenLiuCN/elflink/internal/elftest"
	"github.com/ZenLiuCN/fn"
	"github.com/davecgh/go-spew/spew"
	"slices"
	"sync"
	"testing"
	"testing/fstest"
)

func newPool(t *testing.T) (*Pool, fstest.MapFS) {
	root := elftest.Root(elf.ELFCLASS64, elf.EM_X86_64).Func("printf").Build()
	fsys := fstest.MapFS{
		"dyn/base.c32": {Data: elftest.X86_64().Func(elflink.SymInit).Func("Run").Bytes()},
		"dyn/user.c32": {Data: elftest.X86_64().Func(elflink.SymInit).Import("Run").Bytes()},
		"dyn/prog.c32": {Data: elftest.X86_64().Func(elflink.SymMain).Import("Run").Bytes()},
	}
	natives := elflink.NewNatives().Bind("main", func(c *elflink.Call) int { return len(c.Argv) })
	natives.Fallback = elflink.ExecutorFunc(func(*elflink.Call) (int, error) { return 0, nil })
	cfg := elflink.Config{ExecDir: elflink.DefaultExecDir, RootImage: root.Data, Class: elf.ELFCLASS64, Machine: elf.EM_X86_64}
	return fn.Panic1(NewPool(fsys, natives, cfg)), fsys
}

func TestNewPool(t *testing.T) {
	p, _ := newPool(t)
	fn.Panic(p.Load("base.c32"))
	fn.Panic(p.Load("user.c32"))
	if err := p.Load("base.c32"); !errors.Is(err, ErrAlreadyLoad) {
		t.Fatalf("second load: %v", err)
	}
	run := fn.Panic1(p.Require("base.c32", "Run"))
	if m := p.Modules()["base.c32"]; run < m.BaseAddr || !m.Contains(run) {
		t.Fatalf("Run at %#x", run)
	}
	if _, err := p.Require("base.c32", "Missing"); !errors.Is(err, ErrMissingSymbol) {
		t.Fatal(err)
	}
	if status := fn.Panic1(p.Spawn("prog.c32", "prog.c32", "x")); status != 2 {
		t.Fatalf("status %d", status)
	}
	if !slices.Equal(p.Names(), []string{elflink.DefaultRootName, "base.c32", "user.c32"}) {
		t.Fatalf("names %v", p.Names())
	}
	if testing.Verbose() {
		sp := spew.NewDefaultConfig()
		sp.MaxDepth = 2
		for name, m := range p.Modules() {
			sp.Dump(name, m.Role(), m.Needed)
		}
	}
	if err := p.Unload("base.c32"); !errors.Is(err, elflink.ErrHasDependants) {
		t.Fatalf("unload with dependants: %v", err)
	}
	fn.Panic(p.Unload("user.c32"))
	if err := p.Unload("user.c32"); !errors.Is(err, ErrNotLoad) {
		t.Fatal(err)
	}
	fn.Panic(p.Close())
	if err := p.Load("base.c32"); !errors.Is(err, ErrClosed) {
		t.Fatalf("load after close: %v", err)
	}
}

func TestReload(t *testing.T) {
	p, fsys := newPool(t)
	fn.Panic(p.Load("base.c32"))
	fn.Panic(p.Load("user.c32"))
	before := p.Modules()["base.c32"]
	fsys["dyn/base.c32"] = &fstest.MapFile{Data: elftest.X86_64().Func(elflink.SymInit).Func("Other").Func("Run").Bytes()}
	fn.Panic(p.Reload("base.c32"))
	after := p.Modules()
	if after["base.c32"] == before || after["user.c32"] == nil {
		t.Fatal("reload kept the old module")
	}
	fn.Panic1(p.Require("base.c32", "Other"))
	fn.Panic(p.Do(func(env *elflink.Env) error {
		if r := env.Registry().Required(after["user.c32"]); len(r) != 1 || r[0] != after["base.c32"] {
			t.Errorf("user requires %v", r)
		}
		return nil
	}))
	if err := p.Reload("nosuch.c32"); !errors.Is(err, ErrNotLoad) {
		t.Fatal(err)
	}
}

func TestConcurrentRequire(t *testing.T) {
	p, _ := newPool(t)
	fn.Panic(p.Load("base.c32"))
	var w sync.WaitGroup
	for i := 0; i < 10; i++ {
		w.Add(1)
		go func() {
			defer w.Done()
			if _, err := p.Require("base.c32", "Run"); err != nil {
				t.Error(err)
			}
			if _, err := p.Spawn("prog.c32"); err != nil {
				t.Error(err)
			}
		}()
	}
	w.Wait()
}
