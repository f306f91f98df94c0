package elftest

import (
	"debug/elf"
	"encoding/binary"
)

type encoder struct {
	buf   []byte
	class elf.Class
}

func (e *encoder) put(off uint64, v any) {
	if _, err := binary.Encode(e.buf[off:], le, v); err != nil {
		panic(err)
	}
}

func (e *encoder) u32(off uint64, v uint32) { le.PutUint32(e.buf[off:], v) }

func (e *encoder) word(off uint64, v uint64) {
	if e.class == elf.ELFCLASS32 {
		le.PutUint32(e.buf[off:], uint32(v))
		return
	}
	le.PutUint64(e.buf[off:], v)
}

func (e *encoder) ident() (id [elf.EI_NIDENT]byte) {
	copy(id[:], elf.ELFMAG)
	id[elf.EI_CLASS] = byte(e.class)
	id[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	id[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	return
}

func (e *encoder) header(typ elf.Type, machine elf.Machine, phoff, phentsize uint64, phnum uint16, ehsize, shoff, shentsize uint64, shnum, shstrndx uint16) {
	if phnum == 0 {
		phoff = 0
	}
	if e.class == elf.ELFCLASS32 {
		e.put(0, elf.Header32{
			Ident: e.ident(), Type: uint16(typ), Machine: uint16(machine), Version: uint32(elf.EV_CURRENT),
			Phoff: uint32(phoff), Shoff: uint32(shoff), Ehsize: uint16(ehsize),
			Phentsize: uint16(phentsize), Phnum: phnum, Shentsize: uint16(shentsize), Shnum: shnum, Shstrndx: shstrndx,
		})
		return
	}
	e.put(0, elf.Header64{
		Ident: e.ident(), Type: uint16(typ), Machine: uint16(machine), Version: uint32(elf.EV_CURRENT),
		Phoff: phoff, Shoff: shoff, Ehsize: uint16(ehsize),
		Phentsize: uint16(phentsize), Phnum: phnum, Shentsize: uint16(shentsize), Shnum: shnum, Shstrndx: shstrndx,
	})
}

func (e *encoder) prog(at uint64, typ elf.ProgType, flags elf.ProgFlag, off, vaddr, filesz, memsz, align uint64) {
	if e.class == elf.ELFCLASS32 {
		e.put(at, elf.Prog32{
			Type: uint32(typ), Flags: uint32(flags), Off: uint32(off), Vaddr: uint32(vaddr), Paddr: uint32(vaddr),
			Filesz: uint32(filesz), Memsz: uint32(memsz), Align: uint32(align),
		})
		return
	}
	e.put(at, elf.Prog64{
		Type: uint32(typ), Flags: uint32(flags), Off: off, Vaddr: vaddr, Paddr: vaddr,
		Filesz: filesz, Memsz: memsz, Align: align,
	})
}

func (e *encoder) section(at uint64, name uint32, s shdr) {
	if e.class == elf.ELFCLASS32 {
		e.put(at, elf.Section32{
			Name: name, Type: uint32(s.typ), Flags: uint32(s.flags), Addr: uint32(s.addr), Off: uint32(s.off),
			Size: uint32(s.size), Link: s.link, Info: s.info, Addralign: uint32(s.align), Entsize: uint32(s.entsize),
		})
		return
	}
	e.put(at, elf.Section64{
		Name: name, Type: uint32(s.typ), Flags: uint64(s.flags), Addr: s.addr, Off: s.off,
		Size: s.size, Link: s.link, Info: s.info, Addralign: s.align, Entsize: s.entsize,
	})
}

func (e *encoder) sym(at uint64, name uint32, value, size uint64, info byte, shndx uint16) {
	if e.class == elf.ELFCLASS32 {
		e.put(at, elf.Sym32{Name: name, Value: uint32(value), Size: uint32(size), Info: info, Shndx: shndx})
		return
	}
	e.put(at, elf.Sym64{Name: name, Info: info, Shndx: shndx, Value: value, Size: size})
}

func (e *encoder) dyn(at uint64, tag elf.DynTag, v uint64) {
	if e.class == elf.ELFCLASS32 {
		e.put(at, elf.Dyn32{Tag: int32(tag), Val: uint32(v)})
		return
	}
	e.put(at, elf.Dyn64{Tag: int64(tag), Val: v})
}

func (e *encoder) rel(at uint64, rela bool, off uint64, sym, typ uint32, addend int64) {
	switch {
	case e.class == elf.ELFCLASS32 && rela:
		e.put(at, elf.Rela32{Off: uint32(off), Info: elf.R_INFO32(sym, typ), Addend: int32(addend)})
	case e.class == elf.ELFCLASS32:
		e.put(at, elf.Rel32{Off: uint32(off), Info: elf.R_INFO32(sym, typ)})
	case rela:
		e.put(at, elf.Rela64{Off: off, Info: elf.R_INFO(sym, typ), Addend: addend})
	default:
		e.put(at, elf.Rel64{Off: off, Info: elf.R_INFO(sym, typ)})
	}
}
