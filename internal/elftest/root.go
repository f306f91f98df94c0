package elftest

import (
	"debug/elf"

	"github.com/ZenLiuCN/elflink/elfutil"
)

// RootBuilder builds the image of a statically linked host: a file with a
// .symtab and no dynamic section. Symbol values are absolute.
type RootBuilder struct {
	Class   elf.Class
	Machine elf.Machine
	Type    elf.Type
	next    uint64
	syms    []*def
}

// Root returns a builder whose symbols are placed from 0x1000 upwards.
func Root(class elf.Class, machine elf.Machine) *RootBuilder {
	return &RootBuilder{Class: class, Machine: machine, Type: elf.ET_EXEC, next: 0x1000}
}

// Func exports a host function.
func (r *RootBuilder) Func(names ...string) *RootBuilder {
	for _, name := range names {
		r.syms = append(r.syms, &def{name: name, bind: elf.STB_GLOBAL, typ: elf.STT_FUNC, value: r.next, size: FuncSize})
		r.next += FuncSize
	}
	return r
}

// Object exports a host object of size bytes.
func (r *RootBuilder) Object(name string, size uint64) *RootBuilder {
	r.syms = append(r.syms, &def{name: name, bind: elf.STB_GLOBAL, typ: elf.STT_OBJECT, value: r.next, size: size})
	r.next = elfutil.Align(r.next+size, 16)
	return r
}

// Local adds a local function that must not be visible to modules.
func (r *RootBuilder) Local(name string) *RootBuilder {
	r.syms = append(r.syms, &def{name: name, bind: elf.STB_LOCAL, typ: elf.STT_FUNC, value: r.next, size: FuncSize})
	r.next += FuncSize
	return r
}

// Build encodes the image.
func (r *RootBuilder) Build() *Output {
	w := uint64(8)
	ehsize, shentsize := uint64(64), uint64(64)
	if r.Class == elf.ELFCLASS32 {
		w, ehsize, shentsize = 4, 52, 40
	}
	symsize := uint64(elfutil.SymbolSize(r.Class))
	strs := newStrtab()
	for _, d := range r.syms {
		strs.add(d.name)
	}
	shstr := newStrtab()
	for _, n := range []string{".symtab", ".strtab", ".shstrtab"} {
		shstr.add(n)
	}

	symtabOff := elfutil.Align(ehsize, w)
	symtabSize := uint64(len(r.syms)+1) * symsize
	strtabOff := symtabOff + symtabSize
	shstrOff := strtabOff + uint64(len(strs.data))
	shoff := elfutil.Align(shstrOff+uint64(len(shstr.data)), w)
	sections := []shdr{
		{},
		{name: ".symtab", typ: elf.SHT_SYMTAB, off: symtabOff, size: symtabSize, link: 2, info: 1, align: w, entsize: symsize},
		{name: ".strtab", typ: elf.SHT_STRTAB, off: strtabOff, size: uint64(len(strs.data)), align: 1},
		{name: ".shstrtab", typ: elf.SHT_STRTAB, off: shstrOff, size: uint64(len(shstr.data)), align: 1},
	}

	e := &encoder{buf: make([]byte, shoff+uint64(len(sections))*shentsize), class: r.Class}
	e.header(r.Type, r.Machine, 0, 0, 0, ehsize, shoff, shentsize, uint16(len(sections)), 3)
	values := make(map[string]uint64, len(r.syms))
	for i, d := range r.syms {
		e.sym(symtabOff+uint64(i+1)*symsize, strs.offs[d.name], d.value, d.size, elf.ST_INFO(d.bind, d.typ), uint16(elf.SHN_ABS))
		values[d.name] = d.value
	}
	copy(e.buf[strtabOff:], strs.data)
	copy(e.buf[shstrOff:], shstr.data)
	for i, s := range sections[1:] {
		e.section(shoff+uint64(i+1)*shentsize, shstr.offs[s.name], s)
	}
	return &Output{Data: e.buf, Span: r.next, Values: values}
}
