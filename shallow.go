package elflink

import (
	"fmt"
	"github.com/ZenLiuCN/elflink/elfutil"
)

// loadShallow registers an image that is already resident, such as the host
// itself. Only its .symtab is used: nothing is copied, relocated or run, and
// symbol values are biased by base.
func (e *Env) loadShallow(name string, data []byte, base uint64) (m *Module, err error) {
	if m, err = e.reg.Alloc(name); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			e.transition(m, stateFailed)
			err = fmt.Errorf("shallow load %s: %w", name, err)
		}
	}()
	img, err := elfutil.Parse(data)
	if err != nil {
		return
	}
	if err = img.CheckHeader(e.cfg.Class, e.cfg.Machine); err != nil {
		return
	}
	if img.Shoff == 0 || img.Shnum == 0 {
		return m, fmt.Errorf("%w: no section header table", ErrMalformed)
	}
	e.transition(m, stateHeaderChecked)
	symtab, strtab := img.Section(".symtab"), img.Section(".strtab")
	if symtab == nil || strtab == nil {
		return m, fmt.Errorf("%w: no .symtab or .strtab", ErrMalformed)
	}
	syms, err := img.SectionBytes(symtab)
	if err != nil {
		return
	}
	strs, err := img.SectionBytes(strtab)
	if err != nil {
		return
	}
	entsize := int(symtab.Entsize)
	if entsize == 0 {
		entsize = elfutil.SymbolSize(img.Class)
	}
	if m.symtab, err = elfutil.NewSymbolTable(img.Class, img.ByteOrder, syms, strs, entsize, len(syms)/entsize); err != nil {
		return
	}
	m.Shallow, m.BaseAddr = true, base
	m.Class, m.Machine = img.Class, img.Machine
	for _, s := range m.symtab.All() {
		if s.Defined() {
			m.Size = max(m.Size, s.Value+s.Size)
		}
	}
	e.transition(m, stateSectionsMapped)
	if err = e.reg.Register(m); err != nil {
		return
	}
	e.transition(m, stateLinked)
	if e.debug {
		e.log.Printf("shallow %s: %d symbols", m, m.symtab.Len())
	}
	return m, nil
}
