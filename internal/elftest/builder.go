// Package elftest builds small but well-formed ELF images for tests: ET_DYN
// modules with dynamic sections, hash tables and relocations, and root images
// that only carry a .symtab.
package elftest

import (
	"cmp"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/ZenLiuCN/elflink/elfutil"
)

var le = binary.LittleEndian

// Kind is a machine independent relocation kind.
type Kind int

const (
	None Kind = iota
	Abs
	Abs32
	PC32
	Copy
	GlobDat
	JumpSlot
	Relative
	Raw
)

// Hash selects the hash sections emitted.
type Hash int

const (
	SysV Hash = 1 << iota
	GNU
	Both = SysV | GNU
)

// FuncSize is the number of text bytes reserved for every function.
const FuncSize = 16

type section int

const (
	secUndef section = iota
	secText
	secData
	secGot
	secBSS
)

type def struct {
	name  string
	bind  elf.SymBind
	typ   elf.SymType
	sect  section
	data  []byte
	size  uint64
	value uint64
	index int
}

type reloc struct {
	kind   Kind
	typ    uint32
	sym    string
	addend int64
	target string
	size   uint64
	off    uint64
}

// Builder accumulates the contents of one module.
type Builder struct {
	Class   elf.Class
	Machine elf.Machine
	Type    elf.Type
	Rela    bool
	Hash    Hash
	Align   uint64
	defs    []*def
	undefs  []string
	weak    map[string]bool
	relocs  []*reloc
	needed  []string
	ctors   []string
	dtors   []string
}

// New returns a builder of ET_DYN modules. REL tables are used on EM_386 and
// RELA tables elsewhere, both hash sections are emitted.
func New(class elf.Class, machine elf.Machine) *Builder {
	return &Builder{
		Class:   class,
		Machine: machine,
		Type:    elf.ET_DYN,
		Rela:    machine != elf.EM_386,
		Hash:    Both,
		Align:   0x1000,
		weak:    make(map[string]bool),
	}
}

// X86_64 is New(elf.ELFCLASS64, elf.EM_X86_64).
func X86_64() *Builder { return New(elf.ELFCLASS64, elf.EM_X86_64) }

// I386 is New(elf.ELFCLASS32, elf.EM_386).
func I386() *Builder { return New(elf.ELFCLASS32, elf.EM_386) }

func (b *Builder) word() uint64 {
	if b.Class == elf.ELFCLASS32 {
		return 4
	}
	return 8
}

func (b *Builder) add(d *def) *Builder {
	b.defs = append(b.defs, d)
	return b
}

// Func defines a global function.
func (b *Builder) Func(name string) *Builder {
	return b.add(&def{name: name, bind: elf.STB_GLOBAL, typ: elf.STT_FUNC, sect: secText, size: FuncSize})
}

// WeakFunc defines a weak function.
func (b *Builder) WeakFunc(name string) *Builder {
	return b.add(&def{name: name, bind: elf.STB_WEAK, typ: elf.STT_FUNC, sect: secText, size: FuncSize})
}

// LocalFunc defines a function with local binding.
func (b *Builder) LocalFunc(name string) *Builder {
	return b.add(&def{name: name, bind: elf.STB_LOCAL, typ: elf.STT_FUNC, sect: secText, size: FuncSize})
}

// Object defines a global object initialised with data.
func (b *Builder) Object(name string, data []byte) *Builder {
	return b.add(&def{name: name, bind: elf.STB_GLOBAL, typ: elf.STT_OBJECT, sect: secData, data: data, size: uint64(len(data))})
}

// BSS defines a zero initialised global object.
func (b *Builder) BSS(name string, size uint64) *Builder {
	return b.add(&def{name: name, bind: elf.STB_GLOBAL, typ: elf.STT_OBJECT, sect: secBSS, size: size})
}

// Undefined declares an undefined global symbol without referencing it.
func (b *Builder) Undefined(name string) *Builder {
	b.undefs = append(b.undefs, name)
	return b
}

// Weak marks an undefined symbol as weak.
func (b *Builder) Weak(name string) *Builder {
	b.weak[name] = true
	return b.Undefined(name)
}

// Needed adds DT_NEEDED entries.
func (b *Builder) Needed(names ...string) *Builder {
	b.needed = append(b.needed, names...)
	return b
}

// Reloc adds a relocation of kind against sym with a fresh target slot.
func (b *Builder) Reloc(kind Kind, sym string, addend int64) *Builder {
	r := &reloc{kind: kind, sym: sym, addend: addend}
	if kind == Copy {
		r.size = uint64(addend)
		r.addend = 0
	}
	b.relocs = append(b.relocs, r)
	return b
}

// Import references a function through a PLT slot.
func (b *Builder) Import(name string) *Builder { return b.Reloc(JumpSlot, name, 0) }

// ImportData references a symbol through a GOT slot.
func (b *Builder) ImportData(name string) *Builder { return b.Reloc(GlobDat, name, 0) }

// CopyOf copies size bytes of the object name into a local slot.
func (b *Builder) CopyOf(name string, size uint64) *Builder { return b.Reloc(Copy, name, int64(size)) }

// Relative adds a base relative slot pointing at the defined symbol target.
func (b *Builder) Relative(target string) *Builder {
	b.relocs = append(b.relocs, &reloc{kind: Relative, target: target})
	return b
}

// RawReloc adds a relocation with an explicit machine type.
func (b *Builder) RawReloc(typ uint32, sym string) *Builder {
	b.relocs = append(b.relocs, &reloc{kind: Raw, typ: typ, sym: sym})
	return b
}

// Ctor appends the function name to the constructor array.
func (b *Builder) Ctor(name string) *Builder {
	b.ctors = append(b.ctors, name)
	return b
}

// Dtor appends the function name to the destructor array.
func (b *Builder) Dtor(name string) *Builder {
	b.dtors = append(b.dtors, name)
	return b
}

// Slot is a relocation target in a built image.
type Slot struct {
	Kind   Kind
	Sym    string
	Offset uint64
	Size   uint64
}

// Output is a built image with its layout.
type Output struct {
	Data   []byte
	Span   uint64
	Values map[string]uint64
	Slots  []Slot
}

// Slot returns the offset of the first slot of kind against sym or target.
func (o *Output) Slot(kind Kind, sym string) uint64 {
	for _, s := range o.Slots {
		if s.Kind == kind && s.Sym == sym {
			return s.Offset
		}
	}
	panic(fmt.Sprintf("elftest: no %d slot for %q", kind, sym))
}

func (b *Builder) rtype(r *reloc) uint32 {
	if r.kind == Raw {
		return r.typ
	}
	switch b.Machine {
	case elf.EM_X86_64:
		return uint32([...]elf.R_X86_64{
			None: elf.R_X86_64_NONE, Abs: elf.R_X86_64_64, Abs32: elf.R_X86_64_32, PC32: elf.R_X86_64_PC32,
			Copy: elf.R_X86_64_COPY, GlobDat: elf.R_X86_64_GLOB_DAT, JumpSlot: elf.R_X86_64_JMP_SLOT,
			Relative: elf.R_X86_64_RELATIVE,
		}[r.kind])
	case elf.EM_386:
		return uint32([...]elf.R_386{
			None: elf.R_386_NONE, Abs: elf.R_386_32, Abs32: elf.R_386_32, PC32: elf.R_386_PC32,
			Copy: elf.R_386_COPY, GlobDat: elf.R_386_GLOB_DAT, JumpSlot: elf.R_386_JMP_SLOT,
			Relative: elf.R_386_RELATIVE,
		}[r.kind])
	case elf.EM_AARCH64:
		return uint32([...]elf.R_AARCH64{
			None: elf.R_AARCH64_NONE, Abs: elf.R_AARCH64_ABS64, Abs32: elf.R_AARCH64_ABS32, PC32: elf.R_AARCH64_PREL32,
			Copy: elf.R_AARCH64_COPY, GlobDat: elf.R_AARCH64_GLOB_DAT, JumpSlot: elf.R_AARCH64_JUMP_SLOT,
			Relative: elf.R_AARCH64_RELATIVE,
		}[r.kind])
	}
	panic(fmt.Sprintf("elftest: unsupported machine %s", b.Machine))
}

func (b *Builder) slotSize(r *reloc) uint64 {
	switch {
	case r.kind == Copy:
		return max(r.size, 1)
	case r.kind == Abs32 || r.kind == PC32:
		return 4
	}
	return b.word()
}

type strtab struct {
	data []byte
	offs map[string]uint32
}

func newStrtab() *strtab {
	return &strtab{data: []byte{0}, offs: map[string]uint32{"": 0}}
}

func (s *strtab) add(v string) uint32 {
	if off, ok := s.offs[v]; ok {
		return off
	}
	off := uint32(len(s.data))
	s.data = append(append(s.data, v...), 0)
	s.offs[v] = off
	return off
}

type shdr struct {
	name            string
	typ             elf.SectionType
	flags           elf.SectionFlag
	addr, off, size uint64
	link, info      uint32
	align, entsize  uint64
}

// Build lays out and encodes the module.
func (b *Builder) Build() *Output {
	w := b.word()
	is32 := b.Class == elf.ELFCLASS32
	ehsize, phentsize, shentsize := uint64(64), uint64(56), uint64(64)
	relent := 2 * w
	if is32 {
		ehsize, phentsize, shentsize = 52, 32, 40
	}
	if b.Rela {
		relent = 3 * w
	}
	symsize := uint64(elfutil.SymbolSize(b.Class))

	defs := slices.Clone(b.defs)
	var ctorStart, dtorStart *def
	if len(b.ctors) > 0 {
		ctorStart = &def{name: "__ctors_start", bind: elf.STB_GLOBAL, typ: elf.STT_NOTYPE, sect: secGot}
		defs = append(defs, ctorStart, &def{name: "__ctors_end", bind: elf.STB_GLOBAL, typ: elf.STT_NOTYPE, sect: secGot})
	}
	if len(b.dtors) > 0 {
		dtorStart = &def{name: "__dtors_start", bind: elf.STB_GLOBAL, typ: elf.STT_NOTYPE, sect: secGot}
		defs = append(defs, dtorStart, &def{name: "__dtors_end", bind: elf.STB_GLOBAL, typ: elf.STT_NOTYPE, sect: secGot})
	}
	defined := func(name string) *def {
		for _, d := range defs {
			if d.name == name {
				return d
			}
		}
		return nil
	}

	var imports []*def
	addImport := func(name string) {
		if name == "" || defined(name) != nil || slices.ContainsFunc(imports, func(d *def) bool { return d.name == name }) {
			return
		}
		bind := elf.STB_GLOBAL
		if b.weak[name] {
			bind = elf.STB_WEAK
		}
		imports = append(imports, &def{name: name, bind: bind, typ: elf.STT_NOTYPE, sect: secUndef})
	}
	for _, name := range b.undefs {
		addImport(name)
	}
	for _, r := range b.relocs {
		addImport(r.sym)
	}

	nbucket := uint32(max(1, len(defs)))
	slices.SortStableFunc(defs, func(x, y *def) int {
		return cmp.Compare(elfutil.GNUHash(x.name)%nbucket, elfutil.GNUHash(y.name)%nbucket)
	})
	syms := append(append([]*def{nil}, imports...), defs...)
	for i, d := range syms {
		if d != nil {
			d.index = i
		}
	}
	symbias := uint32(1 + len(imports))

	dynstr := newStrtab()
	for _, d := range syms[1:] {
		dynstr.add(d.name)
	}
	for _, n := range b.needed {
		dynstr.add(n)
	}

	var dynRel, pltRel []*reloc
	for _, r := range b.relocs {
		if r.kind == JumpSlot {
			pltRel = append(pltRel, r)
		} else {
			dynRel = append(dynRel, r)
		}
	}
	for _, name := range b.ctors {
		dynRel = append(dynRel, &reloc{kind: Relative, target: name})
	}
	for _, name := range b.dtors {
		dynRel = append(dynRel, &reloc{kind: Relative, target: name})
	}

	ndyn := len(b.needed) + 4 + 1
	if b.Hash&SysV != 0 {
		ndyn++
	}
	if b.Hash&GNU != 0 {
		ndyn++
	}
	if len(dynRel) > 0 {
		ndyn += 3
	}
	if len(pltRel) > 0 {
		ndyn += 3
	}
	ndyn++ // DT_PLTGOT

	nsysv := uint32(max(1, len(syms)/2))
	sysvSize := uint64(8 + 4*nsysv + 4*uint32(len(syms)))
	gnuSize := 16 + w + 4*uint64(nbucket) + 4*uint64(len(defs))

	off := ehsize + 2*phentsize
	place := func(size, align uint64) uint64 {
		off = elfutil.Align(off, align)
		at := off
		off += size
		return at
	}
	var hashOff, gnuOff uint64
	if b.Hash&SysV != 0 {
		hashOff = place(sysvSize, 4)
	}
	if b.Hash&GNU != 0 {
		gnuOff = place(gnuSize, w)
	}
	dynsymOff := place(uint64(len(syms))*symsize, w)
	dynstrOff := place(uint64(len(dynstr.data)), 1)
	relDynOff := place(uint64(len(dynRel))*relent, w)
	relPltOff := place(uint64(len(pltRel))*relent, w)

	var nfunc, dataSize, bssSize uint64
	for _, d := range defs {
		switch d.sect {
		case secText:
			d.value = nfunc * FuncSize
			nfunc++
		case secData:
			dataSize = elfutil.Align(dataSize, w)
			d.value = dataSize
			dataSize += uint64(len(d.data))
		case secBSS:
			bssSize = elfutil.Align(bssSize, w)
			d.value = bssSize
			bssSize += d.size
		}
	}
	textOff := place(nfunc*FuncSize, 16)
	dataOff := place(dataSize, w)

	var gotSize uint64
	for _, r := range dynRel[:len(dynRel)-len(b.ctors)-len(b.dtors)] {
		gotSize = elfutil.Align(gotSize, w)
		r.off = gotSize
		gotSize += b.slotSize(r)
	}
	for _, r := range pltRel {
		gotSize = elfutil.Align(gotSize, w)
		r.off = gotSize
		gotSize += b.slotSize(r)
	}
	gotSize = elfutil.Align(gotSize, w)
	ctorOff := gotSize
	for _, r := range dynRel[len(dynRel)-len(b.ctors)-len(b.dtors):] {
		r.off = gotSize
		gotSize += w
	}
	gotOff := place(gotSize, w)
	dynamicOff := place(uint64(ndyn)*2*w, w)
	fileEnd := off
	bssOff := elfutil.Align(off, w)
	memEnd := bssOff + bssSize

	for _, d := range defs {
		switch d.sect {
		case secText:
			d.value += textOff
		case secData:
			d.value += dataOff
		case secBSS:
			d.value += bssOff
		}
	}
	if ctorStart != nil {
		ctorStart.value = gotOff + ctorOff
		defined("__ctors_end").value = ctorStart.value + w*uint64(len(b.ctors))
	}
	if dtorStart != nil {
		dtorStart.value = gotOff + ctorOff + w*uint64(len(b.ctors))
		defined("__dtors_end").value = dtorStart.value + w*uint64(len(b.dtors))
	}
	for _, r := range append(slices.Clone(dynRel), pltRel...) {
		r.off += gotOff
		if r.kind == Relative {
			t := defined(r.target)
			if t == nil {
				panic(fmt.Sprintf("elftest: relative target %q is not defined", r.target))
			}
			r.addend = int64(t.value)
		}
	}

	sections := []shdr{{}}
	index := map[string]uint32{}
	addSection := func(s shdr) {
		index[s.name] = uint32(len(sections))
		sections = append(sections, s)
	}
	relName := ".rel"
	relType := elf.SHT_REL
	if b.Rela {
		relName, relType = ".rela", elf.SHT_RELA
	}
	if b.Hash&SysV != 0 {
		addSection(shdr{name: ".hash", typ: elf.SHT_HASH, flags: elf.SHF_ALLOC, addr: hashOff, off: hashOff, size: sysvSize, align: 4, entsize: 4})
	}
	if b.Hash&GNU != 0 {
		addSection(shdr{name: ".gnu.hash", typ: elf.SHT_GNU_HASH, flags: elf.SHF_ALLOC, addr: gnuOff, off: gnuOff, size: gnuSize, align: w})
	}
	addSection(shdr{name: ".dynsym", typ: elf.SHT_DYNSYM, flags: elf.SHF_ALLOC, addr: dynsymOff, off: dynsymOff, size: uint64(len(syms)) * symsize, info: symbias, align: w, entsize: symsize})
	addSection(shdr{name: ".dynstr", typ: elf.SHT_STRTAB, flags: elf.SHF_ALLOC, addr: dynstrOff, off: dynstrOff, size: uint64(len(dynstr.data)), align: 1})
	addSection(shdr{name: relName + ".dyn", typ: relType, flags: elf.SHF_ALLOC, addr: relDynOff, off: relDynOff, size: uint64(len(dynRel)) * relent, align: w, entsize: relent})
	addSection(shdr{name: relName + ".plt", typ: relType, flags: elf.SHF_ALLOC, addr: relPltOff, off: relPltOff, size: uint64(len(pltRel)) * relent, align: w, entsize: relent})
	addSection(shdr{name: ".text", typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, addr: textOff, off: textOff, size: nfunc * FuncSize, align: 16})
	addSection(shdr{name: ".data", typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC | elf.SHF_WRITE, addr: dataOff, off: dataOff, size: dataSize, align: w})
	addSection(shdr{name: ".got", typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC | elf.SHF_WRITE, addr: gotOff, off: gotOff, size: gotSize, align: w, entsize: w})
	addSection(shdr{name: ".dynamic", typ: elf.SHT_DYNAMIC, flags: elf.SHF_ALLOC | elf.SHF_WRITE, addr: dynamicOff, off: dynamicOff, size: uint64(ndyn) * 2 * w, align: w, entsize: 2 * w})
	addSection(shdr{name: ".bss", typ: elf.SHT_NOBITS, flags: elf.SHF_ALLOC | elf.SHF_WRITE, addr: bssOff, off: bssOff, size: bssSize, align: w})
	shstr := newStrtab()
	for _, s := range sections[1:] {
		shstr.add(s.name)
	}
	shstr.add(".shstrtab")
	shstrOff := place(uint64(len(shstr.data)), 1)
	addSection(shdr{name: ".shstrtab", typ: elf.SHT_STRTAB, off: shstrOff, size: uint64(len(shstr.data)), align: 1})
	dynsymIdx, dynstrIdx := index[".dynsym"], index[".dynstr"]
	for i := range sections {
		switch sections[i].typ {
		case elf.SHT_HASH, elf.SHT_GNU_HASH, elf.SHT_REL, elf.SHT_RELA:
			sections[i].link = dynsymIdx
		case elf.SHT_DYNSYM, elf.SHT_DYNAMIC:
			sections[i].link = dynstrIdx
		}
	}
	shoff := place(uint64(len(sections))*shentsize, w)

	e := &encoder{buf: make([]byte, off), class: b.Class}
	e.header(b.Type, b.Machine, ehsize, phentsize, 2, ehsize, shoff, shentsize, uint16(len(sections)), uint16(index[".shstrtab"]))
	e.prog(ehsize, elf.PT_LOAD, elf.PF_R|elf.PF_W|elf.PF_X, 0, 0, fileEnd, memEnd, b.Align)
	e.prog(ehsize+phentsize, elf.PT_DYNAMIC, elf.PF_R|elf.PF_W, dynamicOff, dynamicOff, uint64(ndyn)*2*w, uint64(ndyn)*2*w, w)

	if b.Hash&SysV != 0 {
		buckets := make([]uint32, nsysv)
		chains := make([]uint32, len(syms))
		for i := 1; i < len(syms); i++ {
			h := elfutil.Hash(syms[i].name) % nsysv
			chains[i] = buckets[h]
			buckets[h] = uint32(i)
		}
		e.u32(hashOff, nsysv)
		e.u32(hashOff+4, uint32(len(syms)))
		for i, v := range append(buckets, chains...) {
			e.u32(hashOff+8+4*uint64(i), v)
		}
	}
	if b.Hash&GNU != 0 {
		bits := uint32(8 * w)
		const shift = 5
		var bloom uint64
		buckets := make([]uint32, nbucket)
		chain := make([]uint32, len(defs))
		for i, d := range defs {
			h := elfutil.GNUHash(d.name)
			bloom |= 1<<(h%bits) | 1<<((h>>shift)%bits)
			bucket := h % nbucket
			if buckets[bucket] == 0 {
				buckets[bucket] = uint32(d.index)
			}
			chain[i] = h &^ 1
			if i == len(defs)-1 || elfutil.GNUHash(defs[i+1].name)%nbucket != bucket {
				chain[i] |= 1
			}
		}
		e.u32(gnuOff, nbucket)
		e.u32(gnuOff+4, symbias)
		e.u32(gnuOff+8, 1)
		e.u32(gnuOff+12, shift)
		e.word(gnuOff+16, bloom)
		p := gnuOff + 16 + w
		for _, v := range append(buckets, chain...) {
			e.u32(p, v)
			p += 4
		}
	}
	for i, d := range syms {
		if d == nil {
			continue
		}
		shndx := uint16(elf.SHN_UNDEF)
		switch d.sect {
		case secText:
			shndx = uint16(index[".text"])
		case secData:
			shndx = uint16(index[".data"])
		case secGot:
			shndx = uint16(index[".got"])
		case secBSS:
			shndx = uint16(index[".bss"])
		}
		e.sym(dynsymOff+uint64(i)*symsize, dynstr.offs[d.name], d.value, d.size, elf.ST_INFO(d.bind, d.typ), shndx)
	}
	copy(e.buf[dynstrOff:], dynstr.data)

	symIndex := func(r *reloc) uint32 {
		if r.sym == "" {
			return 0
		}
		if d := defined(r.sym); d != nil {
			return uint32(d.index)
		}
		for _, d := range imports {
			if d.name == r.sym {
				return uint32(d.index)
			}
		}
		panic("elftest: unknown symbol " + r.sym)
	}
	slots := make([]Slot, 0, len(b.relocs))
	for _, tab := range []struct {
		at     uint64
		relocs []*reloc
	}{{relDynOff, dynRel}, {relPltOff, pltRel}} {
		for i, r := range tab.relocs {
			e.rel(tab.at+uint64(i)*relent, b.Rela, r.off, symIndex(r), b.rtype(r), r.addend)
			if !b.Rela {
				switch b.slotSize(r) {
				case 4:
					e.u32(r.off, uint32(r.addend))
				default:
					if r.kind != Copy {
						e.word(r.off, uint64(r.addend))
					}
				}
			}
			name := r.sym
			if r.kind == Relative {
				name = r.target
			}
			slots = append(slots, Slot{Kind: r.kind, Sym: name, Offset: r.off, Size: b.slotSize(r)})
		}
	}

	for _, d := range defs {
		switch d.sect {
		case secText:
			for i := uint64(0); i < FuncSize; i++ {
				e.buf[d.value+i] = 0x90
			}
		case secData:
			copy(e.buf[d.value:], d.data)
		}
	}

	dyn := dynamicOff
	putDyn := func(tag elf.DynTag, v uint64) {
		e.dyn(dyn, tag, v)
		dyn += 2 * w
	}
	for _, n := range b.needed {
		putDyn(elf.DT_NEEDED, uint64(dynstr.offs[n]))
	}
	if b.Hash&SysV != 0 {
		putDyn(elf.DT_HASH, hashOff)
	}
	if b.Hash&GNU != 0 {
		putDyn(elf.DT_GNU_HASH, gnuOff)
	}
	putDyn(elf.DT_STRTAB, dynstrOff)
	putDyn(elf.DT_SYMTAB, dynsymOff)
	putDyn(elf.DT_STRSZ, uint64(len(dynstr.data)))
	putDyn(elf.DT_SYMENT, symsize)
	if len(dynRel) > 0 {
		if b.Rela {
			putDyn(elf.DT_RELA, relDynOff)
			putDyn(elf.DT_RELASZ, uint64(len(dynRel))*relent)
			putDyn(elf.DT_RELAENT, relent)
		} else {
			putDyn(elf.DT_REL, relDynOff)
			putDyn(elf.DT_RELSZ, uint64(len(dynRel))*relent)
			putDyn(elf.DT_RELENT, relent)
		}
	}
	if len(pltRel) > 0 {
		putDyn(elf.DT_JMPREL, relPltOff)
		putDyn(elf.DT_PLTRELSZ, uint64(len(pltRel))*relent)
		if b.Rela {
			putDyn(elf.DT_PLTREL, uint64(elf.DT_RELA))
		} else {
			putDyn(elf.DT_PLTREL, uint64(elf.DT_REL))
		}
	}
	putDyn(elf.DT_PLTGOT, gotOff)
	putDyn(elf.DT_NULL, 0)

	copy(e.buf[shstrOff:], shstr.data)
	for i, s := range sections {
		if i == 0 {
			continue
		}
		e.section(shoff+uint64(i)*shentsize, shstr.offs[s.name], s)
	}

	values := make(map[string]uint64, len(defs))
	for _, d := range defs {
		values[d.name] = d.value
	}
	return &Output{Data: e.buf, Span: memEnd, Values: values, Slots: slots}
}

// Bytes is Build().Data.
func (b *Builder) Bytes() []byte {
	return b.Build().Data
}
