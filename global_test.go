package elflink

import (
	"debug/elf"
	"errors"
	"github.com/ZenLiuCN/fn"
	"testing"
	"testing/fstest"
)

func TestGlobal(t *testing.T) {
	fsys := fstest.MapFS{
		"dyn/_root_.c32": {Data: rootImage(elf.ELFCLASS64, elf.EM_X86_64).Data},
		"dyn/lib.c32":    {Data: library().Func("foo").Bytes()},
		"dyn/prog.c32":   {Data: program().Import("foo").Bytes()},
	}
	natives := NewNatives().Bind("main", func(c *Call) int { return len(c.Argv) })
	natives.Fallback = ExecutorFunc(func(*Call) (int, error) { return 0, nil })
	cfg := DefaultConfig()
	cfg.Class, cfg.Machine, cfg.Debug = elf.ELFCLASS64, elf.EM_X86_64, debugging

	if err := LoadLibrary("lib.c32"); !errors.Is(err, ErrUninitialized) {
		t.Fatalf("load before init: %v", err)
	}
	fn.Panic(ExecInitWith(fsys, natives, cfg))
	if err := ExecInitWith(fsys, natives, cfg); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("second init: %v", err)
	}
	fn.Panic(LoadLibrary("lib.c32"))
	if status := fn.Panic1(Spawnl("prog.c32", "prog.c32", "a", "b")); status != 3 {
		t.Fatalf("status %d", status)
	}
	if err := UnloadLibrary("prog.c32"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("program outlived its spawn: %v", err)
	}
	if Default().Registry().Len() != 2 {
		t.Fatalf("registry %v", Default().Registry().Names())
	}
	fn.Panic(ExecTerm())
	if Default() != nil {
		t.Fatal("environment survived ExecTerm")
	}
	if err := ExecTerm(); !errors.Is(err, ErrUninitialized) {
		t.Fatalf("second term: %v", err)
	}
}
