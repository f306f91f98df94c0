package memory

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Arena owns a set of blocks in a Space. Releasing the arena frees all of them
// at once, whoever allocated them.
type Arena struct {
	space    *Space
	tag      string
	owned    map[uint64]uint64
	released bool
}

// NewArena creates an empty arena whose blocks carry tag.
func (s *Space) NewArena(tag string) *Arena {
	return &Arena{space: s, tag: tag, owned: make(map[uint64]uint64)}
}

func (a *Arena) Tag() string   { return a.tag }
func (a *Arena) Space() *Space { return a.space }

// Len returns the number of live blocks owned by a.
func (a *Arena) Len() int { return len(a.owned) }

// Size returns the number of live bytes owned by a.
func (a *Arena) Size() (n uint64) {
	for _, size := range a.owned {
		n += size
	}
	return
}

// Released reports whether Release has been called.
func (a *Arena) Released() bool { return a.released }

// Alloc allocates size zeroed bytes at MinAlign.
func (a *Arena) Alloc(size uint64) (uint64, error) {
	return a.AllocAligned(MinAlign, size)
}

// AllocAligned allocates size zeroed bytes at a multiple of align.
func (a *Arena) AllocAligned(align, size uint64) (uint64, error) {
	if a.released {
		return 0, fmt.Errorf("%w: %s", ErrReleased, a.tag)
	}
	addr, err := a.space.malloc(align, size, a.tag)
	if err != nil {
		return 0, err
	}
	a.owned[addr] = max(size, 1)
	return addr, nil
}

// Strdup copies v and a terminating NUL into a new block.
func (a *Arena) Strdup(v string) (uint64, error) {
	addr, err := a.AllocAligned(1, uint64(len(v))+1)
	if err != nil {
		return 0, err
	}
	return addr, a.space.Write(addr, []byte(v))
}

// Owns reports whether addr starts a live block of a.
func (a *Arena) Owns(addr uint64) bool {
	_, ok := a.owned[addr]
	return ok
}

// Free releases one block of a.
func (a *Arena) Free(addr uint64) error {
	if !a.Owns(addr) {
		return fmt.Errorf("%w: %#x is not owned by %s", ErrBadAddress, addr, a.tag)
	}
	delete(a.owned, addr)
	return a.space.Free(addr)
}

// Release frees every block still owned by a and returns how many there were.
// Later calls free nothing.
func (a *Arena) Release() (int, error) {
	if a.released {
		return 0, nil
	}
	a.released = true
	addrs := slices.Sorted(maps.Keys(a.owned))
	var errs []error
	for _, addr := range addrs {
		errs = append(errs, a.space.Free(addr))
	}
	clear(a.owned)
	return len(addrs), errors.Join(errs...)
}
