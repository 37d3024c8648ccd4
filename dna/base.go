// Package dna implements the base-3 trellis channel code used to map
// binary data onto a homopolymer-free DNA alphabet, plus the Viterbi
// decoder and stability analyzer that operate on it.
package dna

import "fmt"

// Base is one of the four nucleotides, indexable 0..3 in the fixed
// tie-break order A<C<G<T used throughout this package.
type Base byte

const (
	A Base = iota
	C
	G
	T
)

func (b Base) String() string {
	switch b {
	case A:
		return "A"
	case C:
		return "C"
	case G:
		return "G"
	case T:
		return "T"
	default:
		return fmt.Sprintf("Base(%d)", byte(b))
	}
}

// AllBases returns the four bases in the canonical tie-break order.
func AllBases() [4]Base { return [4]Base{A, C, G, T} }

// BaseFromChar maps an ASCII character to a Base. ok is false for any
// character outside {A,C,G,T}.
func BaseFromChar(c byte) (Base, bool) {
	switch c {
	case 'A':
		return A, true
	case 'C':
		return C, true
	case 'G':
		return G, true
	case 'T':
		return T, true
	default:
		return 0, false
	}
}

// nextBase is the forward trellis transition table: nextBase[prev][trit].
// Literal and total; curr != prev for every entry, by construction.
var nextBase = [4][3]Base{
	A: {C, G, T},
	C: {G, T, A},
	G: {T, A, C},
	T: {A, C, G},
}

// prevTrit is the exact row-wise inverse of nextBase. -1 marks the
// illegal (curr == prev) transition.
var prevTrit = [4][4]int{
	A: {-1, 0, 1, 2}, // A->A illegal, A->C=0, A->G=1, A->T=2
	C: {2, -1, 0, 1}, // C->A=2, C->C illegal, C->G=0, C->T=1
	G: {1, 2, -1, 0}, // G->A=1, G->C=2, G->G illegal, G->T=0
	T: {0, 1, 2, -1}, // T->A=0, T->C=1, T->G=2, T->T illegal
}

// Next applies the forward trellis transition: the base that follows
// prev when encoding trit. Always differs from prev.
func Next(prev Base, trit int) Base {
	return nextBase[prev][trit]
}

// Trit recovers the trit that would have produced the transition
// prev->curr. ok is false exactly when curr == prev (no such trit
// exists).
func Trit(prev, curr Base) (int, bool) {
	t := prevTrit[prev][curr]
	if t < 0 {
		return 0, false
	}
	return t, true
}
