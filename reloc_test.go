package elflink

import (
	"debug/elf"
	"errors"
	"github.com/ZenLiuCN/elflink/internal/elftest"
	"github.com/ZenLiuCN/fn"
	"testing"
)

func TestRelocKinds(t *testing.T) {
	for _, rela := range []bool{true, false} {
		name := "REL"
		if rela {
			name = "RELA"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			b := library().Func("local").Object("counter", []byte{1, 2, 3, 4, 5, 6, 7, 8}).
				Reloc(elftest.Abs, "printf", 16).
				Reloc(elftest.Abs32, "puts", 0).
				Reloc(elftest.PC32, "printf", -4).
				Reloc(elftest.Abs, "counter", 2).
				Reloc(elftest.None, "", 0).
				ImportData("stdout").
				Import("puts").
				Relative("local")
			b.Rela = rela
			out := f.add("lib.c32", b)
			fn.Panic(f.env.LoadLibrary("lib.c32"))
			m := f.module("lib.c32")
			for _, c := range []struct {
				kind  elftest.Kind
				sym   string
				width int
				want  uint64
			}{
				{elftest.Abs, "printf", 8, f.rootAddr("printf") + 16},
				{elftest.Abs32, "puts", 4, f.rootAddr("puts")},
				{elftest.Abs, "counter", 8, m.BaseAddr + out.Values["counter"] + 2},
				{elftest.GlobDat, "stdout", 8, f.rootAddr("stdout")},
				{elftest.JumpSlot, "puts", 8, f.rootAddr("puts")},
				{elftest.Relative, "local", 8, m.BaseAddr + out.Values["local"]},
			} {
				if v := f.slot(m, out.Slot(c.kind, c.sym), c.width); v != c.want {
					t.Errorf("kind %d against %s: %#x, want %#x", c.kind, c.sym, v, c.want)
				}
			}
			off := out.Slot(elftest.PC32, "printf")
			if v := int32(f.slot(m, off, 4)); int64(v) != int64(f.rootAddr("printf"))-4-int64(m.BaseAddr+off) {
				t.Errorf("pc32 %#x", v)
			}
			if got := f.env.Registry().Required(m); len(got) != 1 || got[0] != f.env.Root() {
				t.Errorf("self references created edges: %s", names(got))
			}
		})
	}
}

func TestRelocAArch64(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Machine = elf.EM_AARCH64 })
	b := elftest.New(elf.ELFCLASS64, elf.EM_AARCH64).Func(SymInit).
		Reloc(elftest.PC32, "printf", 0).Import("puts").ImportData("stdout")
	out := f.add("lib.c32", b)
	fn.Panic(f.env.LoadLibrary("lib.c32"))
	m := f.module("lib.c32")
	off := out.Slot(elftest.PC32, "printf")
	if v := int32(f.slot(m, off, 4)); int64(v) != int64(f.rootAddr("printf"))-int64(m.BaseAddr+off) {
		t.Fatalf("prel32 %#x", v)
	}
	if v := f.slot(m, out.Slot(elftest.JumpSlot, "puts"), 8); v != f.rootAddr("puts") {
		t.Fatalf("jump slot %#x", v)
	}
}

func TestRelocOverflow(t *testing.T) {
	for _, kind := range []elftest.Kind{elftest.Abs32, elftest.PC32} {
		f := newFixture(t, func(c *Config) { c.RootBase = 1 << 40 })
		f.add("lib.c32", library().Reloc(kind, "printf", 0))
		if err := f.env.LoadLibrary("lib.c32"); !errors.Is(err, ErrRelocOverflow) {
			t.Fatalf("kind %d: %v", kind, err)
		}
		if f.env.Space().Used() != 0 || f.env.Registry().Len() != 1 {
			t.Fatal("overflow left state behind")
		}
	}
}

func TestRelocAbs32Negative(t *testing.T) {
	f := newFixture(t)
	f.add("lib.c32", library().Reloc(elftest.Abs32, "printf", -int64(f.rootAddr("printf"))-0x10))
	if err := f.env.LoadLibrary("lib.c32"); !errors.Is(err, ErrRelocOverflow) {
		t.Fatalf("x86_64 32 below zero: %v", err)
	}
	if f.env.Space().Used() != 0 {
		t.Fatal("image block leaked")
	}
	a := newFixture(t, func(c *Config) { c.Machine = elf.EM_AARCH64 })
	out := a.add("lib.c32", elftest.New(elf.ELFCLASS64, elf.EM_AARCH64).Func(SymInit).
		Reloc(elftest.Abs32, "printf", -int64(a.rootAddr("printf"))-0x10))
	fn.Panic(a.env.LoadLibrary("lib.c32"))
	if v := a.slot(a.module("lib.c32"), out.Slot(elftest.Abs32, "printf"), 4); v != 0xFFFFFFF0 {
		t.Fatalf("abs32 %#x", v)
	}
}

func TestRelocUnsupported(t *testing.T) {
	f := newFixture(t)
	f.add("lib.c32", library().RawReloc(uint32(elf.R_X86_64_TPOFF64), "printf"))
	if err := f.env.LoadLibrary("lib.c32"); !errors.Is(err, ErrUnsupportedReloc) {
		t.Fatalf("got %v", err)
	}
	if f.env.Space().Used() != 0 {
		t.Fatal("image block leaked")
	}
}

func TestCopyReloc(t *testing.T) {
	f := newFixture(t)
	table := []byte{9, 8, 7, 6, 5, 4, 3, 2}
	f.add("data.c32", library().Object("table", table))
	out := f.add("app.c32", library().Object("table", make([]byte, 8)).CopyOf("table", 8))
	fn.Panic(f.env.LoadLibrary("data.c32"))
	fn.Panic(f.env.LoadLibrary("app.c32"))
	m := f.module("app.c32")
	got := make([]byte, 8)
	fn.Panic(f.env.Space().Read(m.BaseAddr+out.Slot(elftest.Copy, "table"), got))
	if string(got) != string(table) {
		t.Fatalf("copied % x", got)
	}
	if r := f.env.Registry().Required(m); len(r) != 1 || r[0] != f.module("data.c32") {
		t.Fatalf("required %s", names(r))
	}
}

func TestCopyRelocNeedsProvider(t *testing.T) {
	f := newFixture(t)
	f.add("app.c32", library().Object("table", []byte{1, 1, 1, 1}).CopyOf("table", 4))
	if err := f.env.LoadLibrary("app.c32"); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("copy from the module itself: %v", err)
	}
	f.add("weak.c32", library().Weak("table").CopyOf("table", 4))
	fn.Panic(f.env.LoadLibrary("weak.c32"))
}

func TestWeakFallback(t *testing.T) {
	f := newFixture(t)
	out := f.add("lib.c32", library().Weak("maybe").ImportData("maybe"))
	fn.Panic(f.env.LoadLibrary("lib.c32"))
	if v := f.slot(f.module("lib.c32"), out.Slot(elftest.GlobDat, "maybe"), 8); v != f.rootAddr(SymUndefined) {
		t.Fatalf("weak slot %#x, want undefined_symbol at %#x", v, f.rootAddr(SymUndefined))
	}

	bare := elftest.Root(elf.ELFCLASS64, elf.EM_X86_64).Func("printf").Build()
	f = newFixture(t, func(c *Config) { c.RootImage = bare.Data })
	out = f.add("lib.c32", library().Weak("maybe").ImportData("maybe"))
	fn.Panic(f.env.LoadLibrary("lib.c32"))
	m := f.module("lib.c32")
	if v := f.slot(m, out.Slot(elftest.GlobDat, "maybe"), 8); v != 0 {
		t.Fatalf("weak slot %#x without undefined_symbol", v)
	}
	if len(f.env.Registry().Required(m)) != 0 {
		t.Fatal("unbound weak reference created an edge")
	}
}

func TestGlobalBeatsWeak(t *testing.T) {
	f := newFixture(t)
	strong := f.add("strong.c32", library().Func("hook"))
	f.add("weak.c32", library().WeakFunc("hook"))
	fn.Panic(f.env.LoadLibrary("strong.c32"))
	fn.Panic(f.env.LoadLibrary("weak.c32"))
	out := f.add("app.c32", library().Import("hook"))
	fn.Panic(f.env.LoadLibrary("app.c32"))
	m := f.module("app.c32")
	if v := f.slot(m, out.Slot(elftest.JumpSlot, "hook"), 8); v != f.module("strong.c32").BaseAddr+strong.Values["hook"] {
		t.Fatalf("hook bound to %#x", v)
	}
	if err := f.env.UnloadLibrary("weak.c32"); err != nil {
		t.Fatalf("weak provider was not bound: %v", err)
	}
}

func TestNewestDefinitionWins(t *testing.T) {
	f := newFixture(t)
	f.add("old.c32", library().Func("puts"))
	fn.Panic(f.env.LoadLibrary("old.c32"))
	if m, _, _ := f.env.Lookup("puts"); m != f.module("old.c32") {
		t.Fatalf("puts from %s", m)
	}
}

func TestHashStyles(t *testing.T) {
	for name, h := range map[string]elftest.Hash{"sysv": elftest.SysV, "gnu": elftest.GNU} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			p := library().Func("alpha").Func("beta").Func("gamma").LocalFunc("secret")
			p.Hash = h
			provider := f.add("provider.c32", p)
			fn.Panic(f.env.LoadLibrary("provider.c32"))
			out := f.add("app.c32", library().Import("beta").Import("gamma"))
			fn.Panic(f.env.LoadLibrary("app.c32"))
			base := f.module("provider.c32").BaseAddr
			for _, s := range []string{"beta", "gamma"} {
				if v := f.slot(f.module("app.c32"), out.Slot(elftest.JumpSlot, s), 8); v != base+provider.Values[s] {
					t.Fatalf("%s bound to %#x", s, v)
				}
			}
			f.add("spy.c32", library().Import("secret"))
			if err := f.env.LoadLibrary("spy.c32"); !errors.Is(err, ErrUnresolved) {
				t.Fatalf("local symbol was exported: %v", err)
			}
		})
	}
}
