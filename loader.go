package elflink

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"github.com/ZenLiuCN/elflink/elfutil"
	"math"
	"path"
)

type loadState int

const (
	stateUnloaded loadState = iota
	stateHeaderChecked
	stateSectionsMapped
	stateSymbolsResolved
	stateLinked
	stateFailed
)

func (s loadState) String() string {
	switch s {
	case stateUnloaded:
		return "UNLOADED"
	case stateHeaderChecked:
		return "HEADER_CHECKED"
	case stateSectionsMapped:
		return "SECTIONS_MAPPED"
	case stateSymbolsResolved:
		return "SYMBOLS_RESOLVED"
	case stateLinked:
		return "LINKED"
	case stateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (e *Env) transition(m *Module, to loadState) {
	if e.debug {
		e.log.Printf("%s: %s -> %s", m.Name, m.state, to)
	}
	m.state = to
}

// load performs a full load of name: map, link, register and run the
// constructors. want is checked against the module role before any symbol is
// resolved. On failure everything the load allocated or loaded is released.
func (e *Env) load(name string, want Role) (m *Module, err error) {
	if e.loading[name] {
		return nil, fmt.Errorf("%w: %s", ErrDependencyCycle, name)
	}
	if m, err = e.reg.Alloc(name); err != nil {
		return nil, err
	}
	e.loading[name] = true
	defer delete(e.loading, name)
	var auto []*Module
	defer func() {
		if err != nil {
			e.transition(m, stateFailed)
			if derr := e.discard(m, auto); derr != nil {
				err = errors.Join(err, derr)
			}
			err = fmt.Errorf("load %s: %w", name, err)
		}
	}()
	data, _, err := e.readModule(name)
	if err != nil {
		return
	}
	if m.image, err = elfutil.Parse(data); err != nil {
		return
	}
	if err = e.checkHeader(m); err != nil {
		return
	}
	e.transition(m, stateHeaderChecked)
	if err = e.loadSegments(m); err != nil {
		return
	}
	e.transition(m, stateSectionsMapped)
	if err = e.prepareDynlinking(m); err != nil {
		return
	}
	m.entryPoints()
	switch {
	case want == RoleLibrary && m.MainFunc != 0:
		return m, fmt.Errorf("%w: %s", ErrNotLibrary, name)
	case want == RoleProgram && m.MainFunc == 0:
		return m, fmt.Errorf("%w: %s", ErrNotProgram, name)
	}
	if auto, err = e.loadNeeded(m); err != nil {
		return
	}
	if err = e.checkSymbols(m); err != nil {
		return
	}
	n, err := e.relocate(m)
	if err != nil {
		return
	}
	e.transition(m, stateSymbolsResolved)
	if err = e.extractOperations(m); err != nil {
		return
	}
	if err = e.reg.Register(m); err != nil {
		return
	}
	m.image = nil
	e.transition(m, stateLinked)
	if e.debug {
		e.log.Printf("loaded %s at %#x, %d relocations, requires [%s]", m, m.BaseAddr, n, names(e.reg.Required(m)))
	}
	for _, ctor := range m.Ctors {
		if _, err = e.execute(m, CallCtor, ctor, nil, nil); err != nil {
			return
		}
	}
	return m, nil
}

// discard releases a module whose load failed and unloads the modules loaded
// for its DT_NEEDED entries, newest first. A module that cannot be
// unregistered, because a constructor loaded something bound to it, keeps its
// image and its dependencies.
func (e *Env) discard(m *Module, auto []*Module) error {
	if m.Registered() {
		if err := e.reg.Unregister(m); err != nil {
			return fmt.Errorf("discard %s: %w", m.Name, err)
		}
	}
	if m.ModuleAddr != 0 {
		if err := e.space.Free(m.ModuleAddr); err != nil {
			e.log.Printf("discard %s: %v", m.Name, err)
		}
		m.ModuleAddr = 0
	}
	m.image, m.pending = nil, nil
	for i := len(auto) - 1; i >= 0; i-- {
		if err := e.unloadLibrary(auto[i]); err != nil && e.debug {
			e.log.Printf("discard dependency %s: %v", auto[i].Name, err)
		}
	}
	return nil
}

func (e *Env) checkHeader(m *Module) error {
	img := m.image
	if err := img.CheckHeader(e.cfg.Class, e.cfg.Machine); err != nil {
		return err
	}
	if img.Type != elf.ET_DYN {
		return fmt.Errorf("%w: type %s, expected %s", ErrBadHeader, img.Type, elf.ET_DYN)
	}
	if img.Phoff == 0 || img.Phnum == 0 {
		return fmt.Errorf("%w: no program header table", ErrMalformed)
	}
	m.Class, m.Machine = img.Class, img.Machine
	return nil
}

// loadSegments allocates the span of all PT_LOAD segments at their largest
// alignment and copies the file bytes in. The rest of each segment stays zero.
func (e *Env) loadSegments(m *Module) error {
	lo, hi, align := uint64(math.MaxUint64), uint64(0), uint64(1)
	for i, p := range m.image.Progs() {
		if p.Type != elf.PT_LOAD {
			continue
		}
		end := p.Vaddr + p.Memsz
		if end < p.Vaddr {
			return fmt.Errorf("%w: segment %d wraps the address space", ErrMalformed, i)
		}
		lo, hi, align = min(lo, p.Vaddr), max(hi, end), max(align, p.Align)
	}
	if hi == 0 {
		return fmt.Errorf("%w: no loadable segment", ErrMalformed)
	}
	if !elfutil.IsPowerOfTwo(align) {
		return fmt.Errorf("%w: segment alignment %#x", ErrMalformed, align)
	}
	lo = elfutil.AlignDown(lo, align)
	size := elfutil.Align(hi-lo, align)
	addr, err := e.space.Malloc(align, size)
	if err != nil {
		return err
	}
	m.ModuleAddr, m.Size, m.BaseAddr = addr, size, addr-lo
	for i, p := range m.image.Progs() {
		if p.Type != elf.PT_LOAD || p.Filesz == 0 {
			continue
		}
		src, err := m.image.Range(p.Off, p.Filesz)
		if err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
		dst, err := e.view(m, p.Vaddr, p.Filesz)
		if err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
		copy(dst, src)
	}
	return nil
}

// entryPoints records main, init and exit.
func (m *Module) entryPoints() {
	for name, dst := range map[string]*uint64{SymMain: &m.MainFunc, SymInit: &m.InitFunc, SymExit: &m.ExitFunc} {
		if s, ok := m.Defined(name); ok {
			*dst = m.Addr(s)
		}
	}
}

// loadNeeded loads the DT_NEEDED libraries that are not registered yet, last
// entry first, and returns the modules it loaded.
func (e *Env) loadNeeded(m *Module) (auto []*Module, err error) {
	for i := len(m.Needed) - 1; i >= 0; i-- {
		if m.Needed[i] == "" {
			continue
		}
		dep := path.Base(m.Needed[i])
		if _, ok := e.reg.Find(dep); ok {
			continue
		}
		lib, err := e.loadLibrary(dep)
		if err != nil {
			return auto, fmt.Errorf("needed by %s: %w", m.Name, err)
		}
		auto = append(auto, lib)
	}
	return auto, nil
}

// extractOperations reads the relocated constructor and destructor arrays.
func (e *Env) extractOperations(m *Module) (err error) {
	if m.Ctors, err = e.funcArray(m, SymCtorsStart, SymCtorsEnd); err != nil {
		return
	}
	m.Dtors, err = e.funcArray(m, SymDtorsStart, SymDtorsEnd)
	return
}

// funcArray reads the function pointers between the symbols start and end,
// stopping at the first null entry.
func (e *Env) funcArray(m *Module, start, end string) ([]uint64, error) {
	s, ok := m.Defined(start)
	if !ok {
		return nil, nil
	}
	t, ok := m.Defined(end)
	if !ok {
		return nil, nil
	}
	if t.Value < s.Value {
		return nil, fmt.Errorf("%w: %s before %s", ErrMalformed, end, start)
	}
	w := uint64(8)
	if m.Class == elf.ELFCLASS32 {
		w = 4
	}
	n := (t.Value - s.Value) / w
	if n == 0 {
		return nil, nil
	}
	b, err := e.view(m, s.Value, n*w)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", start, err)
	}
	var out []uint64
	for i := uint64(0); i < n; i++ {
		var v uint64
		if w == 4 {
			v = uint64(binary.LittleEndian.Uint32(b[i*w:]))
		} else {
			v = binary.LittleEndian.Uint64(b[i*w:])
		}
		if v == 0 {
			break
		}
		out = append(out, v)
	}
	return out, nil
}

// unload runs the destructors of m, unregisters it and frees its image.
// Destructor failures are reported after the module is gone.
func (e *Env) unload(m *Module) error {
	if !e.reg.Unloadable(m) {
		return fmt.Errorf("%w: %s is required by %s", ErrHasDependants, m.Name, names(e.reg.Dependants(m)))
	}
	var errs []error
	for _, dtor := range m.Dtors {
		if _, err := e.execute(m, CallDtor, dtor, nil, nil); err != nil {
			errs = append(errs, fmt.Errorf("destructor of %s: %w", m.Name, err))
		}
	}
	if err := e.reg.Unregister(m); err != nil {
		return errors.Join(append(errs, err)...)
	}
	if m.ModuleAddr != 0 {
		errs = append(errs, e.space.Free(m.ModuleAddr))
		m.ModuleAddr = 0
	}
	m.state = stateUnloaded
	if e.debug {
		e.log.Printf("unloaded %s", m.Name)
	}
	return errors.Join(errs...)
}
