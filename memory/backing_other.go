//go:build !linux

package memory

// NewPageBacking falls back to the Go heap where anonymous mappings are not wired.
func NewPageBacking() Backing {
	return HeapBacking{}
}
