package memory

// Backing supplies the raw bytes behind blocks of a Space.
type Backing interface {
	Alloc(size int) ([]byte, error)
	Release(b []byte) error
}

// HeapBacking allocates blocks on the Go heap.
type HeapBacking struct{}

func (HeapBacking) Alloc(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func (HeapBacking) Release([]byte) error {
	return nil
}
