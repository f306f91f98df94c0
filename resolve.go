package elflink

import (
	"debug/elf"
	"fmt"
	"github.com/ZenLiuCN/elflink/elfutil"
	"strings"
)

// globalFind searches the registered modules in registry order. A global
// definition wins at once; otherwise the first weak one is returned.
func (e *Env) globalFind(name string, exclude *Module) (*Module, elfutil.Symbol, bool) {
	var weakIn *Module
	var weak elfutil.Symbol
	for m := range e.reg.All() {
		if m == exclude {
			continue
		}
		s, ok := m.Lookup(name)
		if !ok {
			continue
		}
		if s.Bind() == elf.STB_GLOBAL {
			return m, s, true
		}
		if weakIn == nil {
			weakIn, weak = m, s
		}
	}
	return weakIn, weak, weakIn != nil
}

// resolve binds the symbol reference ref of m. Definitions inside m win, then
// the registry is searched. A weak reference without a definition binds to the
// host's undefined_symbol trap, or to 0 when the host has none. Copy
// relocations never bind to m itself and skip unbound weak references.
func (e *Env) resolve(m *Module, ref elfutil.Symbol, copying bool) (uint64, *Module, elfutil.Symbol, error) {
	var exclude *Module
	if copying {
		exclude = m
	} else {
		if ref.Defined() {
			return m.Addr(ref), m, ref, nil
		}
		if s, ok := m.Defined(ref.Name); ok {
			return m.Addr(s), m, s, nil
		}
	}
	if p, s, ok := e.globalFind(ref.Name, exclude); ok {
		m.require(p)
		return p.Addr(s), p, s, nil
	}
	if ref.Bind() != elf.STB_WEAK {
		return 0, nil, elfutil.Symbol{}, fmt.Errorf("%w: %s", ErrUnresolved, ref.Name)
	}
	if e.debug {
		e.log.Printf("weak symbol %s of %s is undefined", ref.Name, m.Name)
	}
	if copying {
		return 0, nil, elfutil.Symbol{}, nil
	}
	if p, s, ok := e.globalFind(SymUndefined, exclude); ok {
		m.require(p)
		return p.Addr(s), p, s, nil
	}
	return 0, nil, elfutil.Symbol{}, nil
}

// checkSymbols verifies that every strong undefined symbol of m has a
// definition before any relocation is written.
func (e *Env) checkSymbols(m *Module) error {
	var missing []string
	for _, s := range m.symtab.All() {
		if s.Name == "" {
			continue
		}
		if s.Defined() {
			if e.debug && s.Bind() == elf.STB_GLOBAL {
				if p, d, ok := e.globalFind(s.Name, m); ok && d.Bind() == elf.STB_GLOBAL {
					e.log.Printf("symbol %s of %s is also defined by %s", s.Name, m.Name, p.Name)
				}
			}
			continue
		}
		if s.Bind() == elf.STB_WEAK {
			continue
		}
		if _, ok := m.Defined(s.Name); ok {
			continue
		}
		if _, _, ok := e.globalFind(s.Name, m); ok {
			continue
		}
		missing = append(missing, s.Name)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrUnresolved, strings.Join(missing, ", "))
	}
	return nil
}

// SymbolAt returns the registered module and symbol covering addr.
func (e *Env) SymbolAt(addr uint64) (*Module, elfutil.Symbol, bool) {
	if e.reg == nil {
		return nil, elfutil.Symbol{}, false
	}
	for m := range e.reg.All() {
		if !m.Shallow && !m.Contains(addr) {
			continue
		}
		if s, ok := m.symbolAt(addr); ok {
			return m, s, true
		}
	}
	return nil, elfutil.Symbol{}, false
}

// Lookup resolves name the way a module reference would be resolved.
func (e *Env) Lookup(name string) (*Module, uint64, bool) {
	if e.reg == nil {
		return nil, 0, false
	}
	m, s, ok := e.globalFind(name, nil)
	if !ok {
		return nil, 0, false
	}
	return m, m.Addr(s), true
}
