package elfutil

import "testing"

func TestHash(t *testing.T) {
	for name, want := range map[string]uint32{
		"":        0,
		"printf":  0x077905a6,
		"exit":    0x0006cf04,
		"syscall": 0x0b09985c,
		"foo":     0x00006d5f,
		"main":    0x000737fe,
	} {
		if got := Hash(name); got != want {
			t.Errorf("Hash(%q) = %#08x, want %#08x", name, got, want)
		}
	}
}

func TestGNUHash(t *testing.T) {
	for name, want := range map[string]uint32{
		"":              0x00001505,
		"printf":        0x156b2bb8,
		"exit":          0x7c967e3f,
		"syscall":       0xbac212a0,
		"flapenguin.me": 0x8ae9f18e,
		"foo":           0x0b887389,
		"main":          0x7c9a7f6a,
	} {
		if got := GNUHash(name); got != want {
			t.Errorf("GNUHash(%q) = %#08x, want %#08x", name, got, want)
		}
	}
}

func TestAlign(t *testing.T) {
	cases := []struct{ v, a, up, down uint64 }{
		{0, 8, 0, 0},
		{1, 8, 8, 0},
		{8, 8, 8, 8},
		{0x1001, 0x1000, 0x2000, 0x1000},
		{7, 1, 7, 7},
		{7, 0, 7, 7},
	}
	for _, c := range cases {
		if got := Align(c.v, c.a); got != c.up {
			t.Errorf("Align(%#x, %#x) = %#x", c.v, c.a, got)
		}
		if got := AlignDown(c.v, c.a); got != c.down {
			t.Errorf("AlignDown(%#x, %#x) = %#x", c.v, c.a, got)
		}
	}
	for v, want := range map[uint32]bool{0: false, 1: true, 2: true, 3: false, 64: true, 96: false} {
		if IsPowerOfTwo(v) != want {
			t.Errorf("IsPowerOfTwo(%d) != %v", v, want)
		}
	}
}
