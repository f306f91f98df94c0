//go:build linux

package memory

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// PageBacking maps every block as private anonymous pages, so released module
// images go straight back to the kernel.
type PageBacking struct{}

// NewPageBacking returns the page backed allocator.
func NewPageBacking() Backing {
	return PageBacking{}
}

func (PageBacking) Alloc(size int) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %d bytes: %w", ErrOutOfMemory, size, err)
	}
	return b, nil
}

func (PageBacking) Release(b []byte) error {
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}
