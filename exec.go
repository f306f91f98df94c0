package elflink

import (
	"debug/elf"
	"errors"
	"fmt"
	"github.com/ZenLiuCN/elflink/memory"
	"io/fs"
	"log"
)

// Env is a module execution environment: an address space, a registry rooted
// at a shallow root module, and the allocation context of the running program.
// An Env is not safe for concurrent use; see package pool for a locked façade.
type Env struct {
	cfg   Config
	fsys  fs.FS
	exec  Executor
	log   *log.Logger
	debug bool

	space   *memory.Space
	reg     *Registry
	root    *Module
	arena   *memory.Arena   // receives Malloc
	arenas  []*memory.Arena // root arena, then one per running program
	current *Module         // innermost running program
	loading map[string]bool
}

// New creates an environment reading modules from fsys. A nil exec binds
// nothing, so any module code called fails with ErrNoNative.
func New(fsys fs.FS, exec Executor, cfg Config) *Env {
	if cfg.Class == elf.ELFCLASSNONE {
		cfg.Class, cfg.Machine, _ = HostArch()
	}
	if cfg.RootName == "" {
		cfg.RootName = DefaultRootName
	}
	if exec == nil {
		exec = NewNatives()
	}
	space := cfg.Space
	if space == nil {
		opts := memory.Options{}
		if cfg.Class == elf.ELFCLASS32 {
			opts.Limit = 1 << 32
		}
		if cfg.Pages {
			opts.Backing = memory.NewPageBacking()
		}
		space = memory.New(opts)
	}
	return &Env{
		cfg:     cfg,
		fsys:    fsys,
		exec:    exec,
		log:     cfg.logger(),
		debug:   cfg.Debug,
		space:   space,
		loading: make(map[string]bool),
	}
}

// Init creates the registry and registers the root module shallowly.
func (e *Env) Init() (err error) {
	if e.reg != nil {
		return ErrAlreadyInitialized
	}
	data := e.cfg.RootImage
	if data == nil {
		if data, _, err = e.readModule(e.cfg.RootName); err != nil {
			return fmt.Errorf("init: %w", err)
		}
	}
	e.reg = NewRegistry()
	if e.root, err = e.loadShallow(e.cfg.RootName, data, e.cfg.RootBase); err != nil {
		e.reg = nil
		return fmt.Errorf("init: %w", err)
	}
	e.arena = e.space.NewArena(e.root.Name)
	e.arenas = []*memory.Arena{e.arena}
	if e.debug {
		e.log.Printf("initialized with root %s", e.root)
	}
	return nil
}

func (e *Env) ready() error {
	if e.reg == nil {
		return ErrUninitialized
	}
	return nil
}

// LoadLibrary loads name and its dependencies and runs its init function. An
// init returning non-zero unloads the module again and fails with ErrInitFailed.
func (e *Env) LoadLibrary(name string) error {
	if err := e.ready(); err != nil {
		return err
	}
	_, err := e.loadLibrary(name)
	return err
}

func (e *Env) loadLibrary(name string) (*Module, error) {
	m, err := e.load(name, RoleLibrary)
	if err != nil {
		return nil, err
	}
	if m.InitFunc == 0 {
		return m, nil
	}
	status, err := e.execute(m, CallInit, m.InitFunc, nil, nil)
	if err == nil && status != 0 {
		err = fmt.Errorf("%w: %s returned %d", ErrInitFailed, name, status)
	}
	if err != nil {
		if uerr := e.unload(m); uerr != nil {
			err = errors.Join(err, uerr)
		}
		return nil, err
	}
	return m, nil
}

// UnloadLibrary runs the exit function and destructors of name and removes
// it. Modules still linked against it keep it loaded.
func (e *Env) UnloadLibrary(name string) error {
	if err := e.ready(); err != nil {
		return err
	}
	m, ok := e.reg.Find(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e.unloadLibrary(m)
}

func (e *Env) unloadLibrary(m *Module) error {
	switch {
	case m == e.root:
		return fmt.Errorf("%w: %s", ErrRootModule, m.Name)
	case m.Busy():
		return fmt.Errorf("%w: %s", ErrModuleBusy, m.Name)
	case !e.reg.Unloadable(m):
		return fmt.Errorf("%w: %s is required by %s", ErrHasDependants, m.Name, names(e.reg.Dependants(m)))
	}
	var exitErr error
	if m.ExitFunc != 0 {
		if _, err := e.execute(m, CallExit, m.ExitFunc, nil, nil); err != nil {
			exitErr = fmt.Errorf("exit of %s: %w", m.Name, err)
		}
	}
	return errors.Join(exitErr, e.unload(m))
}

type exitSignal struct {
	env  *Env
	code int
}

// Exit ends the innermost running program with code. It unwinds the caller
// and must be called from within an Executor handling that program.
func (e *Env) Exit(code int) {
	if e.current == nil {
		panic(fmt.Errorf("%w: exit outside a running program", ErrNotProgram))
	}
	panic(exitSignal{env: e, code: code})
}

// Spawnv loads the program name with the dependencies its manifest lists,
// runs main with argv and unloads it again. Memory the program allocated is
// released when it returns. The status is the low 8 bits of main's result or
// of the Exit code.
func (e *Env) Spawnv(name string, argv []string) (status int, err error) {
	if err = e.ready(); err != nil {
		return
	}
	if err = e.LoadDependencies(name); err != nil {
		return
	}
	m, err := e.load(name, RoleProgram)
	if err != nil {
		return
	}
	prevArena, prevCurrent := e.arena, e.current
	arena := e.space.NewArena(m.Name)
	e.arena, e.current = arena, m
	e.arenas = append(e.arenas, arena)
	status, err = e.runMain(m, argv)
	n, rerr := arena.Release()
	e.arenas = e.arenas[:len(e.arenas)-1]
	e.arena, e.current = prevArena, prevCurrent
	if e.debug {
		e.log.Printf("%s exited with %d, released %d blocks", m.Name, status, n)
	}
	return status & 0xFF, errors.Join(err, rerr, e.unload(m))
}

// Spawnl is Spawnv with the arguments inline.
func (e *Env) Spawnl(name string, args ...string) (int, error) {
	return e.Spawnv(name, args)
}

func (e *Env) runMain(m *Module, argv []string) (status int, err error) {
	w := uint64(8)
	if m.Class == elf.ELFCLASS32 {
		w = 4
	}
	vec, err := e.arena.AllocAligned(w, uint64(len(argv)+1)*w)
	if err != nil {
		return 0, fmt.Errorf("argv of %s: %w", m.Name, err)
	}
	args := make([]string, len(argv))
	for i, a := range argv {
		p, err := e.arena.Strdup(a)
		if err != nil {
			return 0, fmt.Errorf("argv of %s: %w", m.Name, err)
		}
		if err = e.space.PutUint(vec+uint64(i)*w, int(w), p); err != nil {
			return 0, err
		}
		args[i] = a
	}
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if x, ok := r.(exitSignal); ok && x.env == e {
			status, err = x.code, nil
			return
		}
		if x, ok := r.(error); ok {
			err = fmt.Errorf("%s panicked: %w", m.Name, x)
			return
		}
		err = fmt.Errorf("%s panicked: %v", m.Name, r)
	}()
	return e.execute(m, CallMain, m.MainFunc, []uint64{uint64(len(argv)), vec}, args)
}

// Malloc allocates size bytes tagged to the running program, or to the root
// module when no program runs.
func (e *Env) Malloc(size uint64) (uint64, error) {
	return e.MallocAligned(memory.MinAlign, size)
}

func (e *Env) MallocAligned(align, size uint64) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	return e.arena.AllocAligned(align, size)
}

// Free releases addr to the program arena that owns it.
func (e *Env) Free(addr uint64) error {
	for i := len(e.arenas) - 1; i >= 0; i-- {
		if e.arenas[i].Owns(addr) {
			return e.arenas[i].Free(addr)
		}
	}
	return fmt.Errorf("%w: %#x", memory.ErrBadAddress, addr)
}

// Call enters the function at addr through the Executor.
func (e *Env) Call(addr uint64, args ...uint64) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	return e.execute(nil, CallFunc, addr, args, nil)
}

// execute marks the owner of addr busy for the duration of the call.
func (e *Env) execute(m *Module, kind CallKind, addr uint64, args []uint64, argv []string) (int, error) {
	c := &Call{Env: e, Module: m, Kind: kind, Addr: addr, Args: args, Argv: argv}
	if owner, s, ok := e.SymbolAt(addr); ok {
		c.Module, c.Symbol = owner, s.Name
	}
	if c.Module != nil {
		c.Module.busy++
		defer func() { c.Module.busy-- }()
	}
	if e.debug {
		e.log.Printf("call %s at %#x", c, addr)
	}
	return e.exec.Execute(c)
}

// Term unloads every module that is not executing, dependants first, and then
// the root module. Modules that cannot be unloaded are reported with
// ErrModulesRemain and keep the environment alive.
func (e *Env) Term() error {
	if err := e.ready(); err != nil {
		return err
	}
	var errs []error
	for progress := true; progress; {
		progress = false
		for m := range e.reg.All() {
			if m == e.root || m.Busy() || !e.reg.Unloadable(m) {
				continue
			}
			if err := e.unloadLibrary(m); err != nil {
				errs = append(errs, err)
			}
			progress = progress || !m.Registered()
		}
	}
	var remain []*Module
	for m := range e.reg.All() {
		if m != e.root {
			remain = append(remain, m)
		}
	}
	if len(remain) > 0 {
		return errors.Join(append(errs, fmt.Errorf("%w: %s", ErrModulesRemain, names(remain)))...)
	}
	if err := e.reg.Unregister(e.root); err != nil {
		return errors.Join(append(errs, err)...)
	}
	e.root.state = stateUnloaded
	for i := len(e.arenas) - 1; i >= 0; i-- {
		if _, err := e.arenas[i].Release(); err != nil {
			errs = append(errs, err)
		}
	}
	e.reg, e.root, e.arena, e.arenas, e.current = nil, nil, nil, nil, nil
	if e.debug {
		e.log.Printf("terminated, %d bytes still allocated", e.space.Used())
	}
	return errors.Join(errs...)
}

func (e *Env) Config() Config { return e.cfg }
func (e *Env) Registry() *Registry { return e.reg }
func (e *Env) Space() *memory.Space { return e.space }
func (e *Env) Root() *Module { return e.root }
func (e *Env) Current() *Module { return e.current }
func (e *Env) Arena() *memory.Arena { return e.arena }
func (e *Env) Initialized() bool { return e.reg != nil }
func (e *Env) Executor() Executor { return e.exec }
