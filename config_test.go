package elflink

import (
	"errors"
	"slices"
	"testing"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("ELFLINK_EXEC_DIR", "/boot/")
	t.Setenv("ELFLINK_PATH", "/lib:/usr/lib")
	t.Setenv("ELFLINK_ROOT", "host.elf")
	t.Setenv("ELFLINK_MODULES_DEP", "deps.txt")
	t.Setenv("ELFLINK_DEBUG", "true")
	t.Setenv("ELFLINK_MAX_IMAGE", "4096")
	c := ConfigFromEnv()
	if c.ExecDir != "/boot/" || c.RootName != "host.elf" || c.ModulesDep != "deps.txt" || !c.Debug || c.MaxImage != 4096 {
		t.Fatalf("config %+v", c)
	}
	if !slices.Equal(c.Path, []string{"/lib", "/usr/lib"}) {
		t.Fatalf("path %v", c.Path)
	}
	if c.Pages {
		t.Fatal("pages enabled without ELFLINK_PAGES")
	}
}

func TestCandidates(t *testing.T) {
	e := New(nil, nil, Config{ExecDir: "/dyn/", Path: []string{"/lib", ""}})
	if got := e.candidates("menu.c32"); !slices.Equal(got, []string{"dyn/menu.c32", "lib/menu.c32"}) {
		t.Fatalf("bare name %v", got)
	}
	if got := e.candidates("/boot/menu.c32"); !slices.Equal(got, []string{"boot/menu.c32"}) {
		t.Fatalf("path %v", got)
	}
	if got := e.candidates("sub/menu.c32"); !slices.Equal(got, []string{"sub/menu.c32"}) {
		t.Fatalf("relative path %v", got)
	}
}

func TestMaxImage(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.MaxImage = 64 })
	f.add("big.c32", library())
	if err := f.env.LoadLibrary("big.c32"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("got %v", err)
	}
}
