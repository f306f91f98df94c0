package memory

import (
	"errors"
	"testing"

	"github.com/ZenLiuCN/fn"
)

func TestMallocAlignment(t *testing.T) {
	s := New(Options{})
	for _, align := range []uint64{1, 8, 64, 0x1000} {
		addr := fn.Panic1(s.Malloc(align, 13))
		if addr%align != 0 {
			t.Fatalf("address %#x not aligned to %#x", addr, align)
		}
		if addr < s.Base() {
			t.Fatalf("address %#x below base", addr)
		}
	}
	if _, err := s.Malloc(3, 8); !errors.Is(err, ErrBadAlignment) {
		t.Fatalf("expect ErrBadAlignment, got %v", err)
	}
	if s.Len() != 4 {
		t.Fatalf("expect 4 blocks, got %d", s.Len())
	}
}

func TestMallocZeroed(t *testing.T) {
	s := New(Options{})
	a := fn.Panic1(s.Malloc(8, 32))
	fn.Panic(s.Write(a, []byte("dirty bytes")))
	fn.Panic(s.Free(a))
	b := fn.Panic1(s.Malloc(8, 32))
	if a != b {
		t.Fatalf("first fit should reuse %#x, got %#x", a, b)
	}
	buf := fn.Panic1(s.Slice(b, 32))
	for i, c := range buf {
		if c != 0 {
			t.Fatalf("byte %d is %#x", i, c)
		}
	}
}

func TestFirstFit(t *testing.T) {
	s := New(Options{Base: 0x1000})
	a := fn.Panic1(s.Malloc(0x10, 0x10))
	b := fn.Panic1(s.Malloc(0x10, 0x10))
	c := fn.Panic1(s.Malloc(0x10, 0x10))
	if a != 0x1000 || b != 0x1010 || c != 0x1020 {
		t.Fatalf("unexpected layout %#x %#x %#x", a, b, c)
	}
	fn.Panic(s.Free(b))
	if d := fn.Panic1(s.Malloc(0x10, 0x20)); d != 0x1030 {
		t.Fatalf("large block should skip the hole, got %#x", d)
	}
	if e := fn.Panic1(s.Malloc(8, 8)); e != b {
		t.Fatalf("small block should fill the hole at %#x, got %#x", b, e)
	}
}

func TestOutOfMemory(t *testing.T) {
	s := New(Options{Base: 0x1000, Limit: 0x1100})
	fn.Panic1(s.Malloc(0x10, 0xc0))
	if _, err := s.Malloc(0x10, 0x80); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("expect ErrOutOfMemory, got %v", err)
	}
	c := New(Options{Capacity: 0x100})
	fn.Panic1(c.Malloc(8, 0x100))
	if _, err := c.Malloc(8, 1); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("expect ErrOutOfMemory over capacity, got %v", err)
	}
	if _, err := s.Malloc(1, ^uint64(0)); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("expect ErrOutOfMemory for huge size, got %v", err)
	}
}

func TestFreeUnknown(t *testing.T) {
	s := New(Options{})
	a := fn.Panic1(s.Malloc(8, 16))
	if err := s.Free(a + 8); !errors.Is(err, ErrBadAddress) {
		t.Fatalf("interior free: %v", err)
	}
	fn.Panic(s.Free(a))
	if err := s.Free(a); !errors.Is(err, ErrBadAddress) {
		t.Fatalf("double free: %v", err)
	}
}

func TestWords(t *testing.T) {
	s := New(Options{})
	a := fn.Panic1(s.Malloc(8, 16))
	fn.Panic(s.PutUint(a, 8, 0x1122334455667788))
	fn.Panic(s.PutUint(a+8, 4, 0xdeadbeef))
	if v := fn.Panic1(s.Uint(a, 8)); v != 0x1122334455667788 {
		t.Fatalf("read %#x", v)
	}
	if v := fn.Panic1(s.Uint(a, 1)); v != 0x88 {
		t.Fatalf("little endian low byte %#x", v)
	}
	if v := fn.Panic1(s.Uint(a+8, 4)); v != 0xdeadbeef {
		t.Fatalf("read %#x", v)
	}
	if err := s.PutUint(a+12, 8, 1); !errors.Is(err, ErrBadAddress) {
		t.Fatalf("write across block end: %v", err)
	}
	if _, err := s.Uint(a+16, 4); !errors.Is(err, ErrBadAddress) {
		t.Fatalf("read past block: %v", err)
	}
}

func TestCString(t *testing.T) {
	s := New(Options{})
	a := fn.Panic1(s.Malloc(1, 6))
	fn.Panic(s.Write(a, []byte("hello\x00")))
	if v := fn.Panic1(s.CString(a + 1)); v != "ello" {
		t.Fatalf("got %q", v)
	}
	b := fn.Panic1(s.Malloc(1, 3))
	fn.Panic(s.Write(b, []byte("abc")))
	if _, err := s.CString(b); err == nil {
		t.Fatal("unterminated string should fail")
	}
}

func TestPageBacking(t *testing.T) {
	s := New(Options{Backing: NewPageBacking()})
	a := fn.Panic1(s.Malloc(0x1000, 0x2000))
	fn.Panic(s.PutUint(a+0x1ff8, 8, 42))
	if v := fn.Panic1(s.Uint(a+0x1ff8, 8)); v != 42 {
		t.Fatalf("read %d", v)
	}
	fn.Panic(s.Free(a))
	fn.Panic1(s.Malloc(8, 10))
	fn.Panic(s.Reset())
	if s.Len() != 0 || s.Used() != 0 {
		t.Fatalf("reset left %d blocks", s.Len())
	}
}
