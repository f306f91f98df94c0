package elflink

import (
	"debug/elf"
	"github.com/ZenLiuCN/elflink/internal/elftest"
	"github.com/ZenLiuCN/fn"
	"testing"
	"testing/fstest"
)

var debugging = false

// fixture is an environment over an in-memory file system that records every
// call handed to the executor.
type fixture struct {
	t       testing.TB
	fs      fstest.MapFS
	natives *Natives
	env     *Env
	root    *elftest.Output
	calls   []string
}

func rootImage(class elf.Class, machine elf.Machine) *elftest.Output {
	return elftest.Root(class, machine).
		Func("printf", "puts", "malloc", SymUndefined).
		Object("stdout", 8).
		Local("hidden").
		Build()
}

func newFixture(t testing.TB, opts ...func(*Config)) *fixture {
	f := &fixture{t: t, fs: fstest.MapFS{}, natives: NewNatives()}
	cfg := Config{
		ExecDir:    DefaultExecDir,
		RootName:   DefaultRootName,
		ModulesDep: DefaultModulesDep,
		Class:      elf.ELFCLASS64,
		Machine:    elf.EM_X86_64,
		Debug:      debugging,
	}
	for _, o := range opts {
		o(&cfg)
	}
	f.root = rootImage(cfg.Class, cfg.Machine)
	if cfg.RootImage == nil {
		cfg.RootImage = f.root.Data
	}
	f.natives.Fallback = ExecutorFunc(func(*Call) (int, error) { return 0, nil })
	f.env = New(f.fs, ExecutorFunc(f.execute), cfg)
	fn.Panic(f.env.Init())
	return f
}

func i386(c *Config) { c.Class, c.Machine = elf.ELFCLASS32, elf.EM_386 }

func (f *fixture) execute(c *Call) (int, error) {
	f.calls = append(f.calls, c.String())
	return f.natives.Execute(c)
}

func (f *fixture) add(name string, b *elftest.Builder) *elftest.Output {
	out := b.Build()
	f.fs["dyn/"+name] = &fstest.MapFile{Data: out.Data}
	return out
}

func (f *fixture) module(name string) *Module {
	f.t.Helper()
	m, ok := f.env.Registry().Find(name)
	if !ok {
		f.t.Fatalf("%s is not registered, have %v", name, f.env.Registry().Names())
	}
	return m
}

func (f *fixture) loaded(name string) bool {
	_, ok := f.env.Registry().Find(name)
	return ok
}

// slot reads the relocated value at the image offset off of m.
func (f *fixture) slot(m *Module, off uint64, width int) uint64 {
	return fn.Panic1(f.env.Space().Uint(m.BaseAddr+off, width))
}

func (f *fixture) rootAddr(name string) uint64 {
	return f.env.Config().RootBase + f.root.Values[name]
}

func (f *fixture) expectCalls(want ...string) {
	f.t.Helper()
	if len(f.calls) != len(want) {
		f.t.Fatalf("calls %q, want %q", f.calls, want)
	}
	for i := range want {
		if f.calls[i] != want[i] {
			f.t.Fatalf("calls %q, want %q", f.calls, want)
		}
	}
	f.calls = nil
}

func library() *elftest.Builder { return elftest.X86_64().Func(SymInit).Func(SymExit) }

func program() *elftest.Builder { return elftest.X86_64().Func(SymMain) }
