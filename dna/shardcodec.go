package dna

import "strings"

// tritsPerByte is fixed at 6 because 3^6 = 729 >= 256, giving a
// lossless byte<->base-3 mapping. It is wasteful: 8 bits per 6 bases is
// ~1.33 bits/base, below the ~1.58 bits a trit can carry.
const tritsPerByte = 6

// EncodeShard expands each byte of data into 6 base-3 digits
// (little-endian by place value) and walks the trellis from start,
// producing a string with no two adjacent equal characters. Output
// length is always 6*len(data).
func EncodeShard(data []byte, start Base) string {
	var sb strings.Builder
	sb.Grow(len(data) * tritsPerByte)

	prev := start
	for _, b := range data {
		val := uint32(b)
		for k := 0; k < tritsPerByte; k++ {
			trit := int(val % 3)
			val /= 3
			curr := Next(prev, trit)
			sb.WriteByte(baseChar(curr))
			prev = curr
		}
	}
	return sb.String()
}

func baseChar(b Base) byte {
	switch b {
	case A:
		return 'A'
	case C:
		return 'C'
	case G:
		return 'G'
	default:
		return 'T'
	}
}

// DecodeShard parses s as a sequence of bases starting from the
// implicit predecessor start, recovers one trit per transition via the
// inverse trellis, and reassembles bytes from consecutive groups of 6
// trits using the same place-value convention as EncodeShard. Any
// trailing partial group of fewer than 6 trits is discarded. ok is
// false if s contains a non-ACGT character or an illegal (repeated
// base) transition.
func DecodeShard(s string, start Base) ([]byte, bool) {
	if len(s) == 0 {
		return []byte{}, true
	}

	trits := make([]int, 0, len(s))
	prev := start
	for i := 0; i < len(s); i++ {
		curr, ok := BaseFromChar(s[i])
		if !ok {
			return nil, false
		}
		trit, ok := Trit(prev, curr)
		if !ok {
			return nil, false
		}
		trits = append(trits, trit)
		prev = curr
	}

	out := make([]byte, 0, len(trits)/tritsPerByte)
	for i := 0; i+tritsPerByte <= len(trits); i += tritsPerByte {
		var val uint32
		var power uint32 = 1
		for k := 0; k < tritsPerByte; k++ {
			val += uint32(trits[i+k]) * power
			power *= 3
		}
		out = append(out, byte(val))
	}
	return out, true
}
