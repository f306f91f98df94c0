package elfutil

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrMalformed reports an image whose structure cannot be trusted: bad magic,
	// truncated tables or offsets pointing outside the file.
	ErrMalformed = errors.New("malformed ELF image")
	// ErrBadHeader reports a well-formed image built for another class or machine.
	ErrBadHeader = errors.New("ELF header mismatch")
)

// Header is the decoded ELF file header, class independent.
type Header struct {
	Class     elf.Class
	Data      elf.Data
	Version   elf.Version
	Type      elf.Type
	Machine   elf.Machine
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// Image is an untrusted ELF file held in memory. Every table it exposes has been
// checked against the length of the underlying bytes.
type Image struct {
	Header
	ByteOrder binary.ByteOrder
	data      []byte
	progs     []elf.ProgHeader
	sections  []elf.SectionHeader
}

// Parse decodes the file, program and section headers of data. The returned Image
// references data without copying it.
func Parse(data []byte) (*Image, error) {
	if len(data) < elf.EI_NIDENT {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the identification", ErrMalformed, len(data))
	}
	if !bytes.Equal(data[:4], []byte(elf.ELFMAG)) {
		return nil, fmt.Errorf("%w: bad magic % x", ErrMalformed, data[:4])
	}
	img := &Image{data: data}
	switch elf.Data(data[elf.EI_DATA]) {
	case elf.ELFDATA2LSB:
		img.ByteOrder = binary.LittleEndian
	case elf.ELFDATA2MSB:
		img.ByteOrder = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: unknown data encoding %d", ErrMalformed, data[elf.EI_DATA])
	}
	if elf.Version(data[elf.EI_VERSION]) != elf.EV_CURRENT {
		return nil, fmt.Errorf("%w: unknown identification version %d", ErrMalformed, data[elf.EI_VERSION])
	}
	if err := img.readHeader(elf.Class(data[elf.EI_CLASS])); err != nil {
		return nil, err
	}
	if err := img.readProgs(); err != nil {
		return nil, err
	}
	if err := img.readSections(); err != nil {
		return nil, err
	}
	return img, nil
}

func (img *Image) readHeader(class elf.Class) error {
	h := &img.Header
	h.Class = class
	h.Data = elf.Data(img.data[elf.EI_DATA])
	switch class {
	case elf.ELFCLASS32:
		var hdr elf.Header32
		if err := img.decode(0, &hdr); err != nil {
			return err
		}
		h.Type, h.Machine, h.Version = elf.Type(hdr.Type), elf.Machine(hdr.Machine), elf.Version(hdr.Version)
		h.Entry, h.Phoff, h.Shoff = uint64(hdr.Entry), uint64(hdr.Phoff), uint64(hdr.Shoff)
		h.Phentsize, h.Phnum = hdr.Phentsize, hdr.Phnum
		h.Shentsize, h.Shnum, h.Shstrndx = hdr.Shentsize, hdr.Shnum, hdr.Shstrndx
	case elf.ELFCLASS64:
		var hdr elf.Header64
		if err := img.decode(0, &hdr); err != nil {
			return err
		}
		h.Type, h.Machine, h.Version = elf.Type(hdr.Type), elf.Machine(hdr.Machine), elf.Version(hdr.Version)
		h.Entry, h.Phoff, h.Shoff = hdr.Entry, hdr.Phoff, hdr.Shoff
		h.Phentsize, h.Phnum = hdr.Phentsize, hdr.Phnum
		h.Shentsize, h.Shnum, h.Shstrndx = hdr.Shentsize, hdr.Shnum, hdr.Shstrndx
	default:
		return fmt.Errorf("%w: unknown class %d", ErrMalformed, class)
	}
	return nil
}

func (img *Image) readProgs() error {
	if img.Phnum == 0 {
		return nil
	}
	size := uint64(binary.Size(elf.Prog64{}))
	if img.Class == elf.ELFCLASS32 {
		size = uint64(binary.Size(elf.Prog32{}))
	}
	if uint64(img.Phentsize) < size {
		return fmt.Errorf("%w: program header entry size %d", ErrMalformed, img.Phentsize)
	}
	if _, err := img.Range(img.Phoff, uint64(img.Phnum)*uint64(img.Phentsize)); err != nil {
		return fmt.Errorf("program header table: %w", err)
	}
	img.progs = make([]elf.ProgHeader, img.Phnum)
	for i := range img.progs {
		off := img.Phoff + uint64(i)*uint64(img.Phentsize)
		p := &img.progs[i]
		if img.Class == elf.ELFCLASS32 {
			var ph elf.Prog32
			if err := img.decode(off, &ph); err != nil {
				return err
			}
			*p = elf.ProgHeader{
				Type: elf.ProgType(ph.Type), Flags: elf.ProgFlag(ph.Flags),
				Off: uint64(ph.Off), Vaddr: uint64(ph.Vaddr), Paddr: uint64(ph.Paddr),
				Filesz: uint64(ph.Filesz), Memsz: uint64(ph.Memsz), Align: uint64(ph.Align),
			}
		} else {
			var ph elf.Prog64
			if err := img.decode(off, &ph); err != nil {
				return err
			}
			*p = elf.ProgHeader{
				Type: elf.ProgType(ph.Type), Flags: elf.ProgFlag(ph.Flags),
				Off: ph.Off, Vaddr: ph.Vaddr, Paddr: ph.Paddr,
				Filesz: ph.Filesz, Memsz: ph.Memsz, Align: ph.Align,
			}
		}
		if p.Type == elf.PT_LOAD || p.Type == elf.PT_DYNAMIC {
			if _, err := img.Range(p.Off, p.Filesz); err != nil {
				return fmt.Errorf("segment %d: %w", i, err)
			}
			if p.Filesz > p.Memsz {
				return fmt.Errorf("%w: segment %d file size %#x exceeds memory size %#x", ErrMalformed, i, p.Filesz, p.Memsz)
			}
		}
	}
	return nil
}

func (img *Image) readSections() error {
	if img.Shnum == 0 {
		return nil
	}
	size := uint64(binary.Size(elf.Section64{}))
	if img.Class == elf.ELFCLASS32 {
		size = uint64(binary.Size(elf.Section32{}))
	}
	if uint64(img.Shentsize) < size {
		return fmt.Errorf("%w: section header entry size %d", ErrMalformed, img.Shentsize)
	}
	if _, err := img.Range(img.Shoff, uint64(img.Shnum)*uint64(img.Shentsize)); err != nil {
		return fmt.Errorf("section header table: %w", err)
	}
	names := make([]uint32, img.Shnum)
	img.sections = make([]elf.SectionHeader, img.Shnum)
	for i := range img.sections {
		off := img.Shoff + uint64(i)*uint64(img.Shentsize)
		s := &img.sections[i]
		if img.Class == elf.ELFCLASS32 {
			var sh elf.Section32
			if err := img.decode(off, &sh); err != nil {
				return err
			}
			names[i] = sh.Name
			*s = elf.SectionHeader{
				Type: elf.SectionType(sh.Type), Flags: elf.SectionFlag(sh.Flags),
				Addr: uint64(sh.Addr), Offset: uint64(sh.Off), Size: uint64(sh.Size),
				Link: sh.Link, Info: sh.Info, Addralign: uint64(sh.Addralign), Entsize: uint64(sh.Entsize),
			}
		} else {
			var sh elf.Section64
			if err := img.decode(off, &sh); err != nil {
				return err
			}
			names[i] = sh.Name
			*s = elf.SectionHeader{
				Type: elf.SectionType(sh.Type), Flags: elf.SectionFlag(sh.Flags),
				Addr: sh.Addr, Offset: sh.Off, Size: sh.Size,
				Link: sh.Link, Info: sh.Info, Addralign: sh.Addralign, Entsize: sh.Entsize,
			}
		}
		if s.Type != elf.SHT_NOBITS {
			s.FileSize = s.Size
		}
	}
	if img.Shstrndx == uint16(elf.SHN_UNDEF) {
		return nil
	}
	if img.Shstrndx >= img.Shnum {
		return fmt.Errorf("%w: section name table index %d out of %d", ErrMalformed, img.Shstrndx, img.Shnum)
	}
	strtab, err := img.SectionBytes(&img.sections[img.Shstrndx])
	if err != nil {
		return fmt.Errorf("section name table: %w", err)
	}
	for i := range img.sections {
		if img.sections[i].Name, err = CString(strtab, uint64(names[i])); err != nil {
			return fmt.Errorf("section %d name: %w", i, err)
		}
	}
	return nil
}

func (img *Image) decode(off uint64, v any) error {
	b, err := img.Range(off, uint64(binary.Size(v)))
	if err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(b), img.ByteOrder, v)
}

// Bytes returns the whole image.
func (img *Image) Bytes() []byte {
	return img.data
}

// Range returns n bytes at off, or ErrMalformed when they are not all inside the image.
func (img *Image) Range(off, n uint64) ([]byte, error) {
	return Slice(img.data, off, n)
}

// Progs returns the program headers.
func (img *Image) Progs() []elf.ProgHeader {
	return img.progs
}

// Sections returns the section headers with resolved names.
func (img *Image) Sections() []elf.SectionHeader {
	return img.sections
}

// Section returns the first section called name.
func (img *Image) Section(name string) *elf.SectionHeader {
	for i := range img.sections {
		if img.sections[i].Name == name {
			return &img.sections[i]
		}
	}
	return nil
}

// SectionByType returns the first section of type t.
func (img *Image) SectionByType(t elf.SectionType) *elf.SectionHeader {
	for i := range img.sections {
		if img.sections[i].Type == t {
			return &img.sections[i]
		}
	}
	return nil
}

// SectionBytes returns the file contents of s. SHT_NOBITS sections have none.
func (img *Image) SectionBytes(s *elf.SectionHeader) ([]byte, error) {
	if s.Type == elf.SHT_NOBITS {
		return nil, nil
	}
	return img.Range(s.Offset, s.Size)
}

// CheckHeader verifies the identification fields against the module format the
// host accepts: class, little-endian encoding, current version and machine.
func (img *Image) CheckHeader(class elf.Class, machine elf.Machine) error {
	switch {
	case img.Class != class:
		return fmt.Errorf("%w: class %s, expected %s", ErrBadHeader, img.Class, class)
	case img.Data != elf.ELFDATA2LSB:
		return fmt.Errorf("%w: data encoding %s", ErrBadHeader, img.Data)
	case img.Version != elf.EV_CURRENT:
		return fmt.Errorf("%w: file version %d", ErrBadHeader, img.Version)
	case img.Machine != machine:
		return fmt.Errorf("%w: machine %s, expected %s", ErrBadHeader, img.Machine, machine)
	}
	return nil
}

// Slice returns b[off:off+n] when the whole range is inside b.
func Slice(b []byte, off, n uint64) ([]byte, error) {
	size := uint64(len(b))
	if off > size || n > size-off {
		return nil, fmt.Errorf("%w: range [%#x, +%#x) outside %#x bytes", ErrMalformed, off, n, size)
	}
	return b[off : off+n : off+n], nil
}

// CString reads the NUL terminated string starting at off.
func CString(b []byte, off uint64) (string, error) {
	if off >= uint64(len(b)) {
		if off == 0 && len(b) == 0 {
			return "", nil
		}
		return "", fmt.Errorf("%w: string offset %#x outside %#x bytes", ErrMalformed, off, len(b))
	}
	end := bytes.IndexByte(b[off:], 0)
	if end < 0 {
		return "", fmt.Errorf("%w: unterminated string at %#x", ErrMalformed, off)
	}
	return string(b[off : off+uint64(end)]), nil
}
