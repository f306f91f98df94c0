package elfutil

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// SysVTable is a parsed DT_HASH table.
type SysVTable struct {
	buckets []uint32
	chains  []uint32
}

// ParseSysVHash decodes a DT_HASH table from b. Trailing bytes are ignored.
func ParseSysVHash(b []byte, order binary.ByteOrder) (*SysVTable, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("%w: hash table header truncated", ErrMalformed)
	}
	nbucket, nchain := uint64(order.Uint32(b[0:])), uint64(order.Uint32(b[4:]))
	words, err := Slice(b, 8, 4*(nbucket+nchain))
	if err != nil {
		return nil, fmt.Errorf("hash table with %d buckets and %d chains: %w", nbucket, nchain, err)
	}
	h := &SysVTable{buckets: make([]uint32, nbucket), chains: make([]uint32, nchain)}
	for i := range h.buckets {
		h.buckets[i] = order.Uint32(words[4*i:])
	}
	words = words[4*nbucket:]
	for i := range h.chains {
		h.chains[i] = order.Uint32(words[4*i:])
	}
	return h, nil
}

// Len returns nchain, which equals the number of symbols the table covers.
func (h *SysVTable) Len() int { return len(h.chains) }

// Lookup finds name in t through the hash chains.
func (h *SysVTable) Lookup(t *SymbolTable, name string) (Symbol, bool) {
	if len(h.buckets) == 0 {
		return Symbol{}, false
	}
	idx := h.buckets[Hash(name)%uint32(len(h.buckets))]
	for steps := 0; idx != 0 /* STN_UNDEF */ && steps < len(h.chains); steps++ {
		if int(idx) >= len(h.chains) {
			break
		}
		s, err := t.Symbol(int(idx))
		if err != nil {
			break
		}
		if s.Name == name {
			return s, true
		}
		idx = h.chains[idx]
	}
	return Symbol{}, false
}

// GNUTable is a parsed DT_GNU_HASH table.
type GNUTable struct {
	bits    uint32
	symbias uint32
	shift   uint32
	bloom   []uint64
	buckets []uint32
	chain   []uint32
}

// ParseGNUHash decodes a DT_GNU_HASH table from b. The chain array has no
// length in the format, so it extends to the end of b.
func ParseGNUHash(b []byte, class elf.Class, order binary.ByteOrder) (*GNUTable, error) {
	if len(b) < 16 {
		return nil, fmt.Errorf("%w: gnu hash header truncated", ErrMalformed)
	}
	nbucket, symbias := order.Uint32(b[0:]), order.Uint32(b[4:])
	nwords, shift := order.Uint32(b[8:]), order.Uint32(b[12:])
	if !IsPowerOfTwo(nwords) {
		return nil, fmt.Errorf("%w: gnu hash bloom size %d is not a power of two", ErrMalformed, nwords)
	}
	h := &GNUTable{bits: 64, symbias: symbias, shift: shift}
	if class == elf.ELFCLASS32 {
		h.bits = 32
	}
	wordSize := uint64(h.bits / 8)
	off := uint64(16)
	bloom, err := Slice(b, off, wordSize*uint64(nwords))
	if err != nil {
		return nil, fmt.Errorf("gnu hash bloom filter: %w", err)
	}
	h.bloom = make([]uint64, nwords)
	for i := range h.bloom {
		if wordSize == 4 {
			h.bloom[i] = uint64(order.Uint32(bloom[4*i:]))
		} else {
			h.bloom[i] = order.Uint64(bloom[8*i:])
		}
	}
	off += uint64(len(bloom))
	buckets, err := Slice(b, off, 4*uint64(nbucket))
	if err != nil {
		return nil, fmt.Errorf("gnu hash buckets: %w", err)
	}
	h.buckets = make([]uint32, nbucket)
	for i := range h.buckets {
		h.buckets[i] = order.Uint32(buckets[4*i:])
	}
	off += uint64(len(buckets))
	rest := b[off:]
	h.chain = make([]uint32, len(rest)/4)
	for i := range h.chain {
		h.chain[i] = order.Uint32(rest[4*i:])
	}
	return h, nil
}

// Lookup finds name in t through the bloom filter and hash chains.
func (h *GNUTable) Lookup(t *SymbolTable, name string) (Symbol, bool) {
	if len(h.buckets) == 0 || len(h.bloom) == 0 {
		return Symbol{}, false
	}
	hash := GNUHash(name)
	word := h.bloom[(hash/h.bits)&uint32(len(h.bloom)-1)]
	if (word>>(hash%h.bits))&(word>>((hash>>h.shift)%h.bits))&1 == 0 {
		return Symbol{}, false
	}
	idx := h.buckets[hash%uint32(len(h.buckets))]
	if idx == 0 || idx < h.symbias {
		return Symbol{}, false
	}
	for ; ; idx++ {
		ci := idx - h.symbias
		if int(ci) >= len(h.chain) {
			break
		}
		ch := h.chain[ci]
		if ch|1 == hash|1 {
			s, err := t.Symbol(int(idx))
			if err != nil {
				break
			}
			if s.Name == name {
				return s, true
			}
		}
		if ch&1 != 0 {
			break
		}
	}
	return Symbol{}, false
}

// SymbolCount derives the dynamic symbol count from the last bucket's chain.
// It reports false when the chain runs off the end of the table.
func (h *GNUTable) SymbolCount() (int, bool) {
	var last uint32
	for _, b := range h.buckets {
		last = max(last, b)
	}
	if last < h.symbias {
		return int(h.symbias), true
	}
	for idx := last; ; idx++ {
		ci := idx - h.symbias
		if int(ci) >= len(h.chain) {
			return 0, false
		}
		if h.chain[ci]&1 != 0 {
			return int(idx) + 1, true
		}
	}
}
