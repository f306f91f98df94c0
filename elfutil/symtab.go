package elfutil

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"iter"
)

// Symbol is one decoded symbol table entry.
type Symbol struct {
	Index   int
	Name    string
	Value   uint64
	Size    uint64
	Info    byte
	Other   byte
	Section elf.SectionIndex
}

func (s Symbol) Bind() elf.SymBind { return elf.ST_BIND(s.Info) }
func (s Symbol) Type() elf.SymType { return elf.ST_TYPE(s.Info) }

// Defined reports whether the symbol has a definition in its own module.
func (s Symbol) Defined() bool {
	return s.Section != elf.SHN_UNDEF
}

// Exported reports whether other modules may bind to the symbol.
func (s Symbol) Exported() bool {
	if !s.Defined() || s.Name == "" {
		return false
	}
	b := s.Bind()
	return b == elf.STB_GLOBAL || b == elf.STB_WEAK
}

// SymbolTable is a read-only view over a symbol table and its string table.
// The bytes it holds are borrowed.
type SymbolTable struct {
	class   elf.Class
	order   binary.ByteOrder
	syms    []byte
	strs    []byte
	entsize int
	count   int
}

// SymbolSize returns the natural entry size for class.
func SymbolSize(class elf.Class) int {
	if class == elf.ELFCLASS32 {
		return elf.Sym32Size
	}
	return elf.Sym64Size
}

// MaxSymbolSize bounds the entry size accepted from a file.
const MaxSymbolSize = 256

// NewSymbolTable wraps count entries of entsize bytes in syms. An entsize of 0
// selects the natural size for class.
func NewSymbolTable(class elf.Class, order binary.ByteOrder, syms, strs []byte, entsize, count int) (*SymbolTable, error) {
	if entsize == 0 {
		entsize = SymbolSize(class)
	}
	if entsize < SymbolSize(class) || entsize > MaxSymbolSize {
		return nil, fmt.Errorf("%w: symbol entry size %d", ErrMalformed, entsize)
	}
	if count < 0 || (count > 0 && (entsize > len(syms) || count > len(syms)/entsize)) {
		return nil, fmt.Errorf("%w: %d symbols of %d bytes in %d bytes", ErrMalformed, count, entsize, len(syms))
	}
	return &SymbolTable{class: class, order: order, syms: syms, strs: strs, entsize: entsize, count: count}, nil
}

// Len returns the number of entries, including the null entry.
func (t *SymbolTable) Len() int {
	if t == nil {
		return 0
	}
	return t.count
}

// EntrySize returns the size of one entry.
func (t *SymbolTable) EntrySize() int { return t.entsize }

// StringsSize returns the size of the string table.
func (t *SymbolTable) StringsSize() int { return len(t.strs) }

// Symbol decodes entry i.
func (t *SymbolTable) Symbol(i int) (Symbol, error) {
	if i < 0 || i >= t.Len() {
		return Symbol{}, fmt.Errorf("%w: symbol index %d out of %d", ErrMalformed, i, t.Len())
	}
	b := t.syms[i*t.entsize : (i+1)*t.entsize]
	s := Symbol{Index: i}
	var name uint32
	if t.class == elf.ELFCLASS32 {
		name = t.order.Uint32(b[0:])
		s.Value = uint64(t.order.Uint32(b[4:]))
		s.Size = uint64(t.order.Uint32(b[8:]))
		s.Info, s.Other = b[12], b[13]
		s.Section = elf.SectionIndex(t.order.Uint16(b[14:]))
	} else {
		name = t.order.Uint32(b[0:])
		s.Info, s.Other = b[4], b[5]
		s.Section = elf.SectionIndex(t.order.Uint16(b[6:]))
		s.Value = t.order.Uint64(b[8:])
		s.Size = t.order.Uint64(b[16:])
	}
	var err error
	if s.Name, err = CString(t.strs, uint64(name)); err != nil {
		return Symbol{}, fmt.Errorf("symbol %d name: %w", i, err)
	}
	return s, nil
}

// All yields every entry after the null entry. Entries that cannot be decoded
// end the sequence.
func (t *SymbolTable) All() iter.Seq2[int, Symbol] {
	return func(yield func(int, Symbol) bool) {
		for i := 1; i < t.Len(); i++ {
			s, err := t.Symbol(i)
			if err != nil || !yield(i, s) {
				return
			}
		}
	}
}

// Lookup scans the table for name. It is the fallback for modules without any
// hash section.
func (t *SymbolTable) Lookup(name string) (Symbol, bool) {
	for _, s := range t.All() {
		if s.Name == name {
			return s, true
		}
	}
	return Symbol{}, false
}
