// Package memory models the flat address space that modules are loaded into.
//
// A Space hands out aligned, zeroed blocks at stable addresses. Addresses are
// plain integers; the bytes behind them come from a Backing. An Arena groups
// blocks so they can be reclaimed together.
package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/ZenLiuCN/elflink/elfutil"
)

var (
	ErrOutOfMemory  = errors.New("out of memory")
	ErrBadAlignment = errors.New("alignment is not a power of two")
	ErrBadAddress   = errors.New("address is not mapped")
	ErrReleased     = errors.New("arena released")
)

const (
	// DefaultBase is the lowest address handed out by a Space built with zero Options.
	DefaultBase = 0x100000
	// MinAlign is the alignment of Malloc when the caller passes 0.
	MinAlign = 8
)

// Options configure a Space. The zero value is usable.
type Options struct {
	Base     uint64  // lowest address, DefaultBase when 0
	Limit    uint64  // exclusive upper bound, 1<<47 when 0
	Capacity uint64  // maximum live bytes, unlimited when 0
	Backing  Backing // HeapBacking when nil
}

type block struct {
	addr uint64
	data []byte
	tag  string
}

func (b *block) end() uint64 { return b.addr + uint64(len(b.data)) }

// Block describes one live allocation.
type Block struct {
	Addr uint64
	Size uint64
	Tag  string
}

// Space is a single threaded first-fit allocator over a flat address range.
type Space struct {
	base     uint64
	limit    uint64
	capacity uint64
	backing  Backing
	blocks   []*block
	used     uint64
}

// New creates an empty Space.
func New(opts Options) *Space {
	s := &Space{base: opts.Base, limit: opts.Limit, capacity: opts.Capacity, backing: opts.Backing}
	if s.base == 0 {
		s.base = DefaultBase
	}
	if s.limit == 0 {
		s.limit = 1 << 47
	}
	if s.backing == nil {
		s.backing = HeapBacking{}
	}
	return s
}

// Base returns the lowest address of the space.
func (s *Space) Base() uint64 { return s.base }

// Limit returns the exclusive upper bound of the space.
func (s *Space) Limit() uint64 { return s.limit }

// Used returns the number of live bytes.
func (s *Space) Used() uint64 { return s.used }

// Len returns the number of live blocks.
func (s *Space) Len() int { return len(s.blocks) }

// Blocks lists live blocks in address order.
func (s *Space) Blocks() []Block {
	out := make([]Block, len(s.blocks))
	for i, b := range s.blocks {
		out[i] = Block{Addr: b.addr, Size: uint64(len(b.data)), Tag: b.tag}
	}
	return out
}

// Malloc allocates size zeroed bytes at an address that is a multiple of align.
func (s *Space) Malloc(align, size uint64) (uint64, error) {
	return s.malloc(align, size, "")
}

func (s *Space) malloc(align, size uint64, tag string) (uint64, error) {
	if align == 0 {
		align = MinAlign
	}
	if !elfutil.IsPowerOfTwo(align) {
		return 0, fmt.Errorf("%w: %#x", ErrBadAlignment, align)
	}
	if size == 0 {
		size = 1
	}
	if size > math.MaxInt || (s.capacity != 0 && s.used+size > s.capacity) {
		return 0, fmt.Errorf("%w: %#x bytes with %#x in use", ErrOutOfMemory, size, s.used)
	}
	at, addr, ok := s.fit(align, size)
	if !ok {
		return 0, fmt.Errorf("%w: no gap of %#x bytes aligned to %#x", ErrOutOfMemory, size, align)
	}
	data, err := s.backing.Alloc(int(size))
	if err != nil {
		return 0, err
	}
	s.blocks = slices.Insert(s.blocks, at, &block{addr: addr, data: data, tag: tag})
	s.used += size
	return addr, nil
}

// fit finds the first gap that holds size bytes at align and returns the
// insertion index with the address.
func (s *Space) fit(align, size uint64) (int, uint64, bool) {
	cursor := s.base
	for i, b := range s.blocks {
		if addr, ok := place(cursor, b.addr, align, size); ok {
			return i, addr, true
		}
		cursor = b.end()
	}
	addr, ok := place(cursor, s.limit, align, size)
	return len(s.blocks), addr, ok
}

func place(from, to, align, size uint64) (uint64, bool) {
	addr := elfutil.Align(from, align)
	if addr < from || addr > to || size > to-addr {
		return 0, false
	}
	return addr, true
}

// Free releases the block starting at addr.
func (s *Space) Free(addr uint64) error {
	i, ok := s.index(addr)
	if !ok || s.blocks[i].addr != addr {
		return fmt.Errorf("%w: free %#x", ErrBadAddress, addr)
	}
	b := s.blocks[i]
	s.blocks = slices.Delete(s.blocks, i, i+1)
	s.used -= uint64(len(b.data))
	return s.backing.Release(b.data)
}

// Reset frees every block.
func (s *Space) Reset() error {
	var errs []error
	for _, b := range s.blocks {
		errs = append(errs, s.backing.Release(b.data))
	}
	s.blocks, s.used = nil, 0
	return errors.Join(errs...)
}

// index returns the block containing addr.
func (s *Space) index(addr uint64) (int, bool) {
	i := sort.Search(len(s.blocks), func(i int) bool { return s.blocks[i].end() > addr })
	if i == len(s.blocks) || s.blocks[i].addr > addr {
		return 0, false
	}
	return i, true
}

// Contains reports whether addr is inside a live block.
func (s *Space) Contains(addr uint64) bool {
	_, ok := s.index(addr)
	return ok
}

// BlockAt returns the live block containing addr.
func (s *Space) BlockAt(addr uint64) (Block, bool) {
	i, ok := s.index(addr)
	if !ok {
		return Block{}, false
	}
	b := s.blocks[i]
	return Block{Addr: b.addr, Size: uint64(len(b.data)), Tag: b.tag}, true
}

// Slice returns the n bytes at addr. The range must lie inside one block.
func (s *Space) Slice(addr, n uint64) ([]byte, error) {
	i, ok := s.index(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %#x", ErrBadAddress, addr)
	}
	b := s.blocks[i]
	off := addr - b.addr
	if n > uint64(len(b.data))-off {
		return nil, fmt.Errorf("%w: [%#x, +%#x) crosses the end of block %#x", ErrBadAddress, addr, n, b.addr)
	}
	return b.data[off : off+n : off+n], nil
}

// Tail returns the bytes from addr to the end of its block.
func (s *Space) Tail(addr uint64) ([]byte, error) {
	i, ok := s.index(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %#x", ErrBadAddress, addr)
	}
	b := s.blocks[i]
	return b.data[addr-b.addr:], nil
}

// Read copies len(p) bytes at addr into p.
func (s *Space) Read(addr uint64, p []byte) error {
	b, err := s.Slice(addr, uint64(len(p)))
	if err != nil {
		return err
	}
	copy(p, b)
	return nil
}

// Write copies p to addr.
func (s *Space) Write(addr uint64, p []byte) error {
	b, err := s.Slice(addr, uint64(len(p)))
	if err != nil {
		return err
	}
	copy(b, p)
	return nil
}

// Uint reads a little-endian word of width 1, 2, 4 or 8 bytes.
func (s *Space) Uint(addr uint64, width int) (uint64, error) {
	b, err := s.Slice(addr, uint64(width))
	if err != nil {
		return 0, err
	}
	switch width {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case 8:
		return binary.LittleEndian.Uint64(b), nil
	}
	return 0, fmt.Errorf("unsupported word width %d", width)
}

// PutUint writes v as a little-endian word of width 1, 2, 4 or 8 bytes.
func (s *Space) PutUint(addr uint64, width int, v uint64) error {
	b, err := s.Slice(addr, uint64(width))
	if err != nil {
		return err
	}
	switch width {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b, v)
	default:
		return fmt.Errorf("unsupported word width %d", width)
	}
	return nil
}

// CString reads the NUL terminated string at addr.
func (s *Space) CString(addr uint64) (string, error) {
	b, err := s.Tail(addr)
	if err != nil {
		return "", err
	}
	v, err := elfutil.CString(b, 0)
	if err != nil {
		return "", fmt.Errorf("string at %#x: %w", addr, err)
	}
	return v, nil
}
