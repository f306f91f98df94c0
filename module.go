package elflink

import (
	"debug/elf"
	"fmt"
	"github.com/ZenLiuCN/elflink/elfutil"
	"slices"
)

// Role of a module, decided by the entry points it exports.
type Role int

const (
	RoleData    Role = iota // neither main nor init/exit, e.g. the root module
	RoleLibrary             // __module_init or __module_exit
	RoleProgram             // main
)

func (r Role) String() string {
	switch r {
	case RoleLibrary:
		return "library"
	case RoleProgram:
		return "program"
	}
	return "data"
}

// Entry point symbols.
const (
	SymMain       = "main"
	SymInit       = "__module_init"
	SymExit       = "__module_exit"
	SymCtorsStart = "__ctors_start"
	SymCtorsEnd   = "__ctors_end"
	SymDtorsStart = "__dtors_start"
	SymDtorsEnd   = "__dtors_end"
	SymUndefined  = "undefined_symbol"
)

// Module is one loaded ELF module. A full module owns the Space block at
// ModuleAddr. A shallow module borrows the symbol bytes of a resident image and
// owns no memory.
type Module struct {
	Name       string
	Shallow    bool
	BaseAddr   uint64 // added to every symbol value
	ModuleAddr uint64 // start of the owned block, 0 for shallow modules
	Size       uint64
	Class      elf.Class
	Machine    elf.Machine
	GOT        uint64
	Needed     []string
	InitFunc   uint64
	ExitFunc   uint64
	MainFunc   uint64
	Ctors      []uint64
	Dtors      []uint64

	symtab  *elfutil.SymbolTable
	sysv    *elfutil.SysVTable
	gnu     *elfutil.GNUTable
	image   *elfutil.Image
	dyn     *dynamicInfo
	state   loadState
	slot    int
	pending []*Module
	busy    int
}

func (m *Module) String() string {
	if m.Shallow {
		return fmt.Sprintf("%s(shallow@%#x)", m.Name, m.BaseAddr)
	}
	return fmt.Sprintf("%s(%s@%#x+%#x)", m.Name, m.Role(), m.BaseAddr, m.Size)
}

// Role returns the execution role. main wins over init and exit.
func (m *Module) Role() Role {
	switch {
	case m.MainFunc != 0:
		return RoleProgram
	case m.InitFunc != 0 || m.ExitFunc != 0:
		return RoleLibrary
	}
	return RoleData
}

// Symbols returns the module symbol table: .dynsym for full modules, .symtab for shallow ones.
func (m *Module) Symbols() *elfutil.SymbolTable { return m.symtab }

// Registered reports whether the module is visible in its registry.
func (m *Module) Registered() bool { return m.slot >= 0 }

// Busy reports whether code of the module is executing.
func (m *Module) Busy() bool { return m.busy > 0 }

// Addr returns the absolute address of s.
func (m *Module) Addr(s elfutil.Symbol) uint64 { return m.BaseAddr + s.Value }

// Contains reports whether addr is inside the module image.
func (m *Module) Contains(addr uint64) bool {
	return !m.Shallow && addr >= m.ModuleAddr && addr-m.ModuleAddr < m.Size
}

// Lookup finds an exported definition of name, probing the GNU hash, then the
// SysV hash, then scanning the table.
func (m *Module) Lookup(name string) (elfutil.Symbol, bool) {
	return m.find(name, elfutil.Symbol.Exported)
}

// Defined finds any definition of name in the module, local ones included.
func (m *Module) Defined(name string) (elfutil.Symbol, bool) {
	return m.find(name, elfutil.Symbol.Defined)
}

func (m *Module) find(name string, ok func(elfutil.Symbol) bool) (elfutil.Symbol, bool) {
	if m.symtab == nil || name == "" {
		return elfutil.Symbol{}, false
	}
	if m.gnu != nil {
		if s, found := m.gnu.Lookup(m.symtab, name); found && ok(s) {
			return s, true
		}
	}
	if m.sysv != nil {
		if s, found := m.sysv.Lookup(m.symtab, name); found && ok(s) {
			return s, true
		}
		return elfutil.Symbol{}, false
	}
	for _, s := range m.symtab.All() {
		if s.Name == name && ok(s) {
			return s, true
		}
	}
	return elfutil.Symbol{}, false
}

// symbolAt returns the definition covering addr.
func (m *Module) symbolAt(addr uint64) (elfutil.Symbol, bool) {
	if m.symtab == nil || addr < m.BaseAddr {
		return elfutil.Symbol{}, false
	}
	var exact, inner elfutil.Symbol
	var hasExact, hasInner bool
	for _, s := range m.symtab.All() {
		if !s.Defined() || s.Name == "" || s.Section == elf.SHN_COMMON {
			continue
		}
		if t := s.Type(); t == elf.STT_SECTION || t == elf.STT_FILE {
			continue
		}
		start := m.Addr(s)
		switch {
		case addr == start:
			if !hasExact || exact.Bind() == elf.STB_LOCAL {
				exact, hasExact = s, true
			}
		case addr > start && addr-start < s.Size && !hasInner:
			inner, hasInner = s, true
		}
	}
	if hasExact {
		return exact, true
	}
	return inner, hasInner
}

// require records a pending link to provider. It becomes an edge when the
// module is registered.
func (m *Module) require(provider *Module) {
	if provider == m || slices.Contains(m.pending, provider) {
		return
	}
	m.pending = append(m.pending, provider)
}
