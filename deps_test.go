package elflink

import (
	"errors"
	"github.com/ZenLiuCN/fn"
	"slices"
	"strings"
	"testing"
	"testing/fstest"
)

const manifest = `# preloaded for every program
libc.c32
menu.c32: libcom32.c32 /dyn/libutil.c32

hello.c32:menu.c32   # trailing comment
`

func TestParseManifest(t *testing.T) {
	m := fn.Panic1(ParseManifest(strings.NewReader(manifest)))
	if !slices.Equal(m.Global, []string{"libc.c32"}) {
		t.Fatalf("global %v", m.Global)
	}
	if !slices.Equal(m.Deps["menu.c32"], []string{"libcom32.c32", "libutil.c32"}) || !slices.Equal(m.Deps["hello.c32"], []string{"menu.c32"}) {
		t.Fatalf("deps %v", m.Deps)
	}
	if _, err := ParseManifest(strings.NewReader(": libc.c32\n")); !errors.Is(err, ErrMalformed) {
		t.Fatalf("missing name: %v", err)
	}
	if _, err := ParseManifest(strings.NewReader("two names: libc.c32\n")); !errors.Is(err, ErrMalformed) {
		t.Fatalf("two names: %v", err)
	}
}

func TestManifestOrder(t *testing.T) {
	m := fn.Panic1(ParseManifest(strings.NewReader(manifest)))
	order := fn.Panic1(m.Order("/dyn/hello.c32"))
	if !slices.Equal(order, []string{"libc.c32", "libcom32.c32", "libutil.c32", "menu.c32"}) {
		t.Fatalf("order %v", order)
	}
	if order = fn.Panic1(m.Order("other.c32")); !slices.Equal(order, []string{"libc.c32"}) {
		t.Fatalf("order %v", order)
	}
	m = fn.Panic1(ParseManifest(strings.NewReader("a: b\nb: c\nc: a\n")))
	if _, err := m.Order("a"); !errors.Is(err, ErrDependencyCycle) {
		t.Fatalf("cycle: %v", err)
	}
}

func TestSpawnManifest(t *testing.T) {
	f := newFixture(t)
	f.fs["dyn/modules.dep"] = &fstest.MapFile{Data: []byte("libc.c32\nprog.c32: libm.c32\n")}
	f.add("libc.c32", library().Func("strlen"))
	f.add("libm.c32", library().Func("sqrt"))
	f.add("prog.c32", program().Import("sqrt").Import("strlen"))
	fn.Panic1(f.env.Spawnl("prog.c32"))
	f.expectCalls(
		"init libc.c32:__module_init",
		"init libm.c32:__module_init",
		"main prog.c32:main",
	)
	if !f.loaded("libc.c32") || !f.loaded("libm.c32") || f.loaded("prog.c32") {
		t.Fatalf("registry %v", f.env.Registry().Names())
	}
	fn.Panic1(f.env.Spawnl("prog.c32"))
	f.expectCalls("main prog.c32:main")
}

func TestSpawnManifestFailure(t *testing.T) {
	f := newFixture(t)
	f.fs["dyn/modules.dep"] = &fstest.MapFile{Data: []byte("libc.c32\nmissing.c32\nlibm.c32\n")}
	f.add("libc.c32", library())
	f.add("libm.c32", library())
	f.add("prog.c32", program())
	if _, err := f.env.Spawnl("prog.c32"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v", err)
	}
	if f.loaded("prog.c32") || f.loaded("libm.c32") {
		t.Fatalf("registry %v", f.env.Registry().Names())
	}
	f.expectCalls("init libc.c32:__module_init")
}

func TestLoadDependenciesDisabled(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.ModulesDep = "" })
	f.fs["dyn/modules.dep"] = &fstest.MapFile{Data: []byte("missing.c32\n")}
	fn.Panic(f.env.LoadDependencies("prog.c32"))
}
