package elflink

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"github.com/ZenLiuCN/elflink/elfutil"
	"math"
)

type relocKind int

const (
	relocNone relocKind = iota
	relocAbs
	relocAbs32
	relocPC32
	relocCopy
	relocGlobDat
	relocJumpSlot
	relocRelative
)

// relocKinds maps the relocation types each machine applies.
var relocKinds = map[elf.Machine]map[uint32]relocKind{
	elf.EM_X86_64: {
		uint32(elf.R_X86_64_NONE):     relocNone,
		uint32(elf.R_X86_64_64):       relocAbs,
		uint32(elf.R_X86_64_32):       relocAbs32,
		uint32(elf.R_X86_64_PC32):     relocPC32,
		uint32(elf.R_X86_64_COPY):     relocCopy,
		uint32(elf.R_X86_64_GLOB_DAT): relocGlobDat,
		uint32(elf.R_X86_64_JMP_SLOT): relocJumpSlot,
		uint32(elf.R_X86_64_RELATIVE): relocRelative,
	},
	elf.EM_386: {
		uint32(elf.R_386_NONE):     relocNone,
		uint32(elf.R_386_32):       relocAbs,
		uint32(elf.R_386_PC32):     relocPC32,
		uint32(elf.R_386_COPY):     relocCopy,
		uint32(elf.R_386_GLOB_DAT): relocGlobDat,
		uint32(elf.R_386_JMP_SLOT): relocJumpSlot,
		uint32(elf.R_386_RELATIVE): relocRelative,
	},
	elf.EM_AARCH64: {
		uint32(elf.R_AARCH64_NONE):      relocNone,
		uint32(elf.R_AARCH64_ABS64):     relocAbs,
		uint32(elf.R_AARCH64_ABS32):     relocAbs32,
		uint32(elf.R_AARCH64_PREL32):    relocPC32,
		uint32(elf.R_AARCH64_COPY):      relocCopy,
		uint32(elf.R_AARCH64_GLOB_DAT):  relocGlobDat,
		uint32(elf.R_AARCH64_JUMP_SLOT): relocJumpSlot,
		uint32(elf.R_AARCH64_RELATIVE):  relocRelative,
	},
}

type relocation struct {
	off    uint64
	sym    uint32
	typ    uint32
	addend int64
	rela   bool
}

func decodeRelocs(b []byte, class elf.Class, rela bool, entsize uint64) ([]relocation, error) {
	w := uint64(8)
	if class == elf.ELFCLASS32 {
		w = 4
	}
	least := 2 * w
	if rela {
		least = 3 * w
	}
	if entsize == 0 {
		entsize = least
	}
	if entsize < least || entsize > 4*least || uint64(len(b))%entsize != 0 {
		return nil, fmt.Errorf("%w: relocation entry size %d for %d bytes", ErrMalformed, entsize, len(b))
	}
	out := make([]relocation, 0, uint64(len(b))/entsize)
	le := binary.LittleEndian
	for off := uint64(0); off+entsize <= uint64(len(b)); off += entsize {
		e := b[off:]
		r := relocation{rela: rela}
		if w == 4 {
			info := le.Uint32(e[4:])
			r.off, r.sym, r.typ = uint64(le.Uint32(e)), elf.R_SYM32(info), elf.R_TYPE32(info)
			if rela {
				r.addend = int64(int32(le.Uint32(e[8:])))
			}
		} else {
			info := le.Uint64(e[8:])
			r.off, r.sym, r.typ = le.Uint64(e), elf.R_SYM64(info), elf.R_TYPE64(info)
			if rela {
				r.addend = int64(le.Uint64(e[16:]))
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// relocate applies the REL, RELA and PLT tables of m and returns the number of
// entries applied.
func (e *Env) relocate(m *Module) (n int, err error) {
	d := m.dyn
	pltRela := m.Machine != elf.EM_386
	if d.pltrel != 0 {
		pltRela = d.pltrel == elf.DT_RELA
	}
	plt := d.jmprel
	if plt.entsize == 0 {
		if pltRela {
			plt.entsize = d.rela.entsize
		} else {
			plt.entsize = d.rel.entsize
		}
	}
	for _, t := range []struct {
		name string
		table
		rela bool
	}{{"REL", d.rel, false}, {"RELA", d.rela, true}, {"PLT", plt, pltRela}} {
		if t.size == 0 {
			continue
		}
		var b []byte
		if b, err = e.view(m, t.addr, t.size); err != nil {
			return n, fmt.Errorf("%s table: %w", t.name, err)
		}
		var rs []relocation
		if rs, err = decodeRelocs(b, m.Class, t.rela, t.entsize); err != nil {
			return n, fmt.Errorf("%s table: %w", t.name, err)
		}
		for i, r := range rs {
			if err = e.applyReloc(m, r); err != nil {
				return n, fmt.Errorf("%s entry %d: %w", t.name, i, err)
			}
			n++
		}
	}
	return
}

func (e *Env) applyReloc(m *Module, r relocation) error {
	kind, ok := relocKinds[m.Machine][r.typ]
	if !ok {
		return fmt.Errorf("%w: type %d on %s", ErrUnsupportedReloc, r.typ, m.Machine)
	}
	if kind == relocNone {
		return nil
	}
	var (
		s        uint64
		sym      elfutil.Symbol
		provider *Module
	)
	if r.sym != 0 {
		ref, err := m.symtab.Symbol(int(r.sym))
		if err != nil {
			return err
		}
		if s, provider, sym, err = e.resolve(m, ref, kind == relocCopy); err != nil {
			return err
		}
	}
	word := uint64(8)
	if m.Class == elf.ELFCLASS32 {
		word = 4
	}
	width := word
	switch kind {
	case relocAbs32, relocPC32:
		width = 4
	case relocCopy:
		if provider == nil {
			return nil
		}
		return e.copyReloc(m, r.off, provider, sym, s)
	}
	dst, err := e.view(m, r.off, width)
	if err != nil {
		return err
	}
	a := r.addend
	if !r.rela {
		if width == 4 {
			a = int64(int32(binary.LittleEndian.Uint32(dst)))
		} else {
			a = int64(binary.LittleEndian.Uint64(dst))
		}
	}
	p := m.BaseAddr + r.off
	var v uint64
	switch kind {
	case relocAbs:
		v = s + uint64(a)
	case relocAbs32:
		v = s + uint64(a)
		lo := int64(math.MinInt32)
		if m.Machine == elf.EM_X86_64 {
			// R_X86_64_32 is zero extended
			lo = 0
		}
		if word == 8 && !within(int64(v), lo, math.MaxUint32) {
			return fmt.Errorf("%w: %#x does not fit 32 bits", ErrRelocOverflow, v)
		}
	case relocPC32:
		v = s + uint64(a) - p
		if word == 8 && !within(int64(v), math.MinInt32, math.MaxInt32) {
			return fmt.Errorf("%w: displacement %#x from %#x", ErrRelocOverflow, v, p)
		}
	case relocGlobDat, relocJumpSlot:
		v = s
		if r.rela {
			v += uint64(a)
		}
	case relocRelative:
		v = m.BaseAddr + uint64(a)
	}
	if width == 4 {
		binary.LittleEndian.PutUint32(dst, uint32(v))
	} else {
		binary.LittleEndian.PutUint64(dst, v)
	}
	return nil
}

func within(v, lo, hi int64) bool {
	return v >= lo && v <= hi
}

// copyReloc copies the definition of sym from provider into m.
func (e *Env) copyReloc(m *Module, off uint64, provider *Module, sym elfutil.Symbol, addr uint64) error {
	src, err := e.space.Slice(addr, sym.Size)
	if err != nil {
		return fmt.Errorf("copy %s from %s: %w", sym.Name, provider.Name, err)
	}
	dst, err := e.view(m, off, sym.Size)
	if err != nil {
		return err
	}
	copy(dst, src)
	return nil
}
