package elflink

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"github.com/ZenLiuCN/elflink/elfutil"
)

// dynamicInfo is the decoded PT_DYNAMIC table. Addresses are virtual
// addresses of the image, 0 when the tag is absent.
type dynamicInfo struct {
	hash, gnuHash  uint64
	strtab, strsz  uint64
	symtab, syment uint64
	pltgot         uint64
	needed         []uint64
	rel            table
	rela           table
	jmprel         table
	pltrel         elf.DynTag
}

type table struct {
	addr, size, entsize uint64
}

func parseDynamic(b []byte, class elf.Class) (*dynamicInfo, error) {
	w := 8
	if class == elf.ELFCLASS32 {
		w = 4
	}
	d := new(dynamicInfo)
	for off := 0; off+2*w <= len(b); off += 2 * w {
		var tag elf.DynTag
		var val uint64
		if w == 4 {
			tag = elf.DynTag(int32(binary.LittleEndian.Uint32(b[off:])))
			val = uint64(binary.LittleEndian.Uint32(b[off+4:]))
		} else {
			tag = elf.DynTag(int64(binary.LittleEndian.Uint64(b[off:])))
			val = binary.LittleEndian.Uint64(b[off+8:])
		}
		switch tag {
		case elf.DT_NULL:
			return d, nil
		case elf.DT_NEEDED:
			d.needed = append(d.needed, val)
		case elf.DT_HASH:
			d.hash = val
		case elf.DT_GNU_HASH:
			d.gnuHash = val
		case elf.DT_STRTAB:
			d.strtab = val
		case elf.DT_STRSZ:
			d.strsz = val
		case elf.DT_SYMTAB:
			d.symtab = val
		case elf.DT_SYMENT:
			d.syment = val
		case elf.DT_PLTGOT:
			d.pltgot = val
		case elf.DT_REL:
			d.rel.addr = val
		case elf.DT_RELSZ:
			d.rel.size = val
		case elf.DT_RELENT:
			d.rel.entsize = val
		case elf.DT_RELA:
			d.rela.addr = val
		case elf.DT_RELASZ:
			d.rela.size = val
		case elf.DT_RELAENT:
			d.rela.entsize = val
		case elf.DT_JMPREL:
			d.jmprel.addr = val
		case elf.DT_PLTRELSZ:
			d.jmprel.size = val
		case elf.DT_PLTREL:
			d.pltrel = elf.DynTag(val)
			if d.pltrel != elf.DT_REL && d.pltrel != elf.DT_RELA {
				return nil, fmt.Errorf("%w: DT_PLTREL %d", ErrMalformed, val)
			}
		}
	}
	return nil, fmt.Errorf("%w: dynamic table has no DT_NULL", ErrMalformed)
}

// view returns n bytes at the image address vaddr of m. The range must be
// inside the module block.
func (e *Env) view(m *Module, vaddr, n uint64) ([]byte, error) {
	addr := m.BaseAddr + vaddr
	if addr < m.BaseAddr || !m.Contains(addr) || n > m.ModuleAddr+m.Size-addr {
		return nil, fmt.Errorf("%w: [%#x, +%#x) outside the module image", ErrMalformed, vaddr, n)
	}
	return e.space.Slice(addr, n)
}

func (e *Env) tail(m *Module, vaddr uint64) ([]byte, error) {
	addr := m.BaseAddr + vaddr
	if addr < m.BaseAddr || !m.Contains(addr) {
		return nil, fmt.Errorf("%w: %#x outside the module image", ErrMalformed, vaddr)
	}
	return e.view(m, vaddr, m.ModuleAddr+m.Size-addr)
}

// prepareDynlinking decodes PT_DYNAMIC from the mapped image and builds the
// symbol and hash views over it.
func (e *Env) prepareDynlinking(m *Module) (err error) {
	var dyn *elf.ProgHeader
	for i, p := range m.image.Progs() {
		if p.Type == elf.PT_DYNAMIC {
			dyn = &m.image.Progs()[i]
			break
		}
	}
	if dyn == nil {
		return fmt.Errorf("%w: no dynamic segment", ErrMalformed)
	}
	b, err := e.view(m, dyn.Vaddr, dyn.Memsz)
	if err != nil {
		return fmt.Errorf("dynamic segment: %w", err)
	}
	d, err := parseDynamic(b, m.Class)
	if err != nil {
		return
	}
	m.dyn = d
	if d.symtab == 0 || d.strtab == 0 {
		return fmt.Errorf("%w: missing DT_SYMTAB or DT_STRTAB", ErrMalformed)
	}
	strs, err := e.view(m, d.strtab, d.strsz)
	if err != nil {
		return fmt.Errorf("string table: %w", err)
	}
	if d.hash != 0 {
		var b []byte
		if b, err = e.tail(m, d.hash); err != nil {
			return fmt.Errorf("hash table: %w", err)
		}
		if m.sysv, err = elfutil.ParseSysVHash(b, binary.LittleEndian); err != nil {
			return
		}
	}
	if d.gnuHash != 0 {
		var b []byte
		if b, err = e.tail(m, d.gnuHash); err != nil {
			return fmt.Errorf("gnu hash table: %w", err)
		}
		if m.gnu, err = elfutil.ParseGNUHash(b, m.Class, binary.LittleEndian); err != nil {
			return
		}
	}
	count, entsize, err := m.symbolCount(d.syment)
	if err != nil {
		return
	}
	syms, err := e.view(m, d.symtab, uint64(count)*entsize)
	if err != nil {
		return fmt.Errorf("symbol table: %w", err)
	}
	if m.symtab, err = elfutil.NewSymbolTable(m.Class, binary.LittleEndian, syms, strs, int(entsize), count); err != nil {
		return
	}
	for _, off := range d.needed {
		var name string
		if name, err = elfutil.CString(strs, off); err != nil {
			return fmt.Errorf("DT_NEEDED: %w", err)
		}
		m.Needed = append(m.Needed, name)
	}
	if d.pltgot != 0 {
		m.GOT = m.BaseAddr + d.pltgot
	}
	return nil
}

// symbolCount takes the count from the SHT_DYNSYM header, then from the SysV
// hash nchain, then from the GNU hash chains. It returns the entry size shared
// by DT_SYMENT and the section header.
func (m *Module) symbolCount(syment uint64) (int, uint64, error) {
	entsize := syment
	if s := m.image.SectionByType(elf.SHT_DYNSYM); s != nil && s.Entsize != 0 {
		if entsize != 0 && entsize != s.Entsize {
			return 0, 0, fmt.Errorf("%w: DT_SYMENT %d, .dynsym entries of %d bytes", ErrMalformed, syment, s.Entsize)
		}
		entsize = s.Entsize
	}
	if entsize == 0 {
		entsize = uint64(elfutil.SymbolSize(m.Class))
	}
	if entsize < uint64(elfutil.SymbolSize(m.Class)) || entsize > elfutil.MaxSymbolSize {
		return 0, 0, fmt.Errorf("%w: symbol entry size %d", ErrMalformed, entsize)
	}
	if s := m.image.SectionByType(elf.SHT_DYNSYM); s != nil {
		return int(s.Size / entsize), entsize, nil
	}
	if m.sysv != nil {
		return m.sysv.Len(), entsize, nil
	}
	if m.gnu != nil {
		if n, ok := m.gnu.SymbolCount(); ok {
			return n, entsize, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: cannot size the dynamic symbol table", ErrMalformed)
}
