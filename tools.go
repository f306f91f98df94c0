package elflink

import (
	"debug/elf"
	"fmt"
	"github.com/ZenLiuCN/elflink/elfutil"
	"slices"
	"strings"
)

// Info describes the linkage of a module image.
type Info struct {
	Name     string
	Class    elf.Class
	Machine  elf.Machine
	Type     elf.Type
	Role     Role
	Needed   []string
	Exports  []string
	Imports  []string // undefined symbols, weak ones suffixed with "?"
	Required []string // providers, for registered modules only
}

// Infos is a stringer slice of Info
type Infos []*Info

func (i Infos) String() string {
	s := strings.Builder{}
	for _, v := range i {
		s.WriteString(v.String())
	}
	return s.String()
}

func (i Info) String() string {
	s := strings.Builder{}
	s.WriteString(fmt.Sprintf("%s: %s %s %s %s\n", i.Name, i.Class, i.Machine, i.Type, i.Role))
	list := func(title string, v []string) {
		if len(v) == 0 {
			return
		}
		s.WriteString(fmt.Sprintf("  %s:\n", title))
		for _, x := range v {
			s.WriteString(fmt.Sprintf("\t%s\n", x))
		}
	}
	list("needed", i.Needed)
	list("required", i.Required)
	list("exports", i.Exports)
	list("imports", i.Imports)
	return s.String()
}

// Inspect reads the linkage of an image without loading it. Dynamic modules
// are described by .dynsym and .dynamic, other images by .symtab.
func Inspect(name string, data []byte) (*Info, error) {
	img, err := elfutil.Parse(data)
	if err != nil {
		return nil, err
	}
	info := &Info{Name: name, Class: img.Class, Machine: img.Machine, Type: img.Type}
	syms := img.SectionByType(elf.SHT_DYNSYM)
	if syms == nil {
		syms = img.SectionByType(elf.SHT_SYMTAB)
	}
	if syms == nil {
		return info, nil
	}
	t, strs, err := sectionSymbols(img, syms)
	if err != nil {
		return nil, err
	}
	var hasMain, hasEntry bool
	for _, s := range t.All() {
		switch {
		case s.Exported():
			info.Exports = append(info.Exports, s.Name)
		case !s.Defined() && s.Name != "":
			if s.Bind() == elf.STB_WEAK {
				info.Imports = append(info.Imports, s.Name+"?")
			} else {
				info.Imports = append(info.Imports, s.Name)
			}
		}
		if s.Defined() {
			hasMain = hasMain || s.Name == SymMain
			hasEntry = hasEntry || s.Name == SymInit || s.Name == SymExit
		}
	}
	switch {
	case hasMain:
		info.Role = RoleProgram
	case hasEntry:
		info.Role = RoleLibrary
	}
	if info.Needed, err = needed(img, strs); err != nil {
		return nil, err
	}
	slices.Sort(info.Exports)
	slices.Sort(info.Imports)
	return info, nil
}

func sectionSymbols(img *elfutil.Image, syms *elf.SectionHeader) (*elfutil.SymbolTable, []byte, error) {
	if int(syms.Link) >= len(img.Sections()) {
		return nil, nil, fmt.Errorf("%w: symbol table links section %d", ErrMalformed, syms.Link)
	}
	b, err := img.SectionBytes(syms)
	if err != nil {
		return nil, nil, err
	}
	strs, err := img.SectionBytes(&img.Sections()[syms.Link])
	if err != nil {
		return nil, nil, err
	}
	entsize := int(syms.Entsize)
	if entsize == 0 {
		entsize = elfutil.SymbolSize(img.Class)
	}
	t, err := elfutil.NewSymbolTable(img.Class, img.ByteOrder, b, strs, entsize, len(b)/entsize)
	return t, strs, err
}

func needed(img *elfutil.Image, strs []byte) ([]string, error) {
	dyn := img.SectionByType(elf.SHT_DYNAMIC)
	if dyn == nil {
		return nil, nil
	}
	b, err := img.SectionBytes(dyn)
	if err != nil {
		return nil, err
	}
	d, err := parseDynamic(b, img.Class)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, off := range d.needed {
		name, err := elfutil.CString(strs, off)
		if err != nil {
			return nil, fmt.Errorf("DT_NEEDED: %w", err)
		}
		out = append(out, name)
	}
	return out, nil
}

// Infos describes the registered modules, newest first.
func (e *Env) Infos() (infos Infos) {
	if e.reg == nil {
		return
	}
	for m := range e.reg.All() {
		info := &Info{Name: m.Name, Class: m.Class, Machine: m.Machine, Type: elf.ET_DYN, Role: m.Role(), Needed: m.Needed}
		if m.Shallow {
			info.Type = elf.ET_EXEC
		}
		for _, p := range e.reg.Required(m) {
			info.Required = append(info.Required, p.Name)
		}
		for _, s := range m.symtab.All() {
			if s.Exported() {
				info.Exports = append(info.Exports, s.Name)
			}
		}
		slices.Sort(info.Exports)
		infos = append(infos, info)
	}
	return
}
