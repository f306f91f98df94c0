package elfutil

import "golang.org/x/exp/constraints"

// Align rounds v up to a multiple of a, which must be a power of two.
func Align[I constraints.Integer](v, a I) I {
	if a <= 1 {
		return v
	}
	return (v + a - 1) &^ (a - 1)
}

// AlignDown rounds v down to a multiple of a, which must be a power of two.
func AlignDown[I constraints.Integer](v, a I) I {
	if a <= 1 {
		return v
	}
	return v &^ (a - 1)
}

// IsPowerOfTwo reports whether v is a non-zero power of two.
func IsPowerOfTwo[I constraints.Unsigned](v I) bool {
	return v != 0 && v&(v-1) == 0
}
