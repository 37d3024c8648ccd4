// Package oligo assembles and disassembles DNA strands (oligonucleotides):
// a forward primer, a trellis-chained 24-base address encoding a shard
// index, a trellis-chained variable-length payload, and a reverse primer.
package oligo

import (
	"strings"

	"helix.dev/codec/dna"
)

// Default primers: fixed, balanced-GC, homopolymer-free 20-mers used
// for the "default" tag. Ported from the reference implementation's
// published defaults rather than invented afresh, since spec.md leaves
// the exact strings to the implementer.
const (
	DefaultForwardPrimer = "GCTACGATCGTAGCTAGCTA"
	DefaultReversePrimer = "CGATCGTAGCTAGCTAGCTA"
)

// AddressLength is the fixed length, in bases, of the encoded shard
// index: 4 bytes * 6 trits/byte.
const AddressLength = 24

// PrimersForTag deterministically derives a (forward, reverse) primer
// pair from tag. The "default" tag yields the fixed defaults; any other
// tag is encoded via the shard codec (seed A) and sliced/padded/mutated
// per spec.md §4.5.
func PrimersForTag(tag string) (forward, reverse string) {
	if tag == "default" {
		return DefaultForwardPrimer, DefaultReversePrimer
	}

	tagDNA := dna.EncodeShard([]byte(tag), dna.A)

	pad := func(targetLen int) string {
		if len(tagDNA) == 0 {
			return strings.Repeat("A", targetLen)
		}
		var sb strings.Builder
		for sb.Len() < targetLen {
			sb.WriteString(tagDNA)
		}
		return sb.String()[:targetLen]
	}

	if len(tagDNA) >= 20 {
		forward = tagDNA[:20]
	} else {
		forward = pad(20)
	}

	if len(tagDNA) >= 40 {
		reverse = tagDNA[20:40]
	} else {
		padded := pad(40)[:20]
		reverse = transformComplementLike(padded)
	}
	return forward, reverse
}

// transformComplementLike applies the reference implementation's A->T,
// C->G substitution (not a true complement — G and T are left alone)
// used to distinguish a short tag's derived reverse primer from its
// forward primer.
func transformComplementLike(s string) string {
	b := []byte(s)
	for i, c := range b {
		switch c {
		case 'A':
			b[i] = 'T'
		case 'C':
			b[i] = 'G'
		}
	}
	return string(b)
}

// ResolvePrimers applies explicit command-line overrides on top of the
// tag-derived primers: a non-empty override always wins.
func ResolvePrimers(tag, forwardOverride, reverseOverride string) (forward, reverse string) {
	forward, reverse = PrimersForTag(tag)
	if forwardOverride != "" {
		forward = forwardOverride
	}
	if reverseOverride != "" {
		reverse = reverseOverride
	}
	return forward, reverse
}

// SeedFromLastChar returns the Base corresponding to the last character
// of s, defaulting to dna.A for an empty string or an unrecognized
// character. Exposed so the restore pipeline can continue the trellis
// chain from a Viterbi-corrected address string.
func SeedFromLastChar(s string) dna.Base {
	if len(s) == 0 {
		return dna.A
	}
	b, ok := dna.BaseFromChar(s[len(s)-1])
	if !ok {
		return dna.A
	}
	return b
}

// Assemble builds a full strand: forward primer, trellis-chained
// address (encoding shardIndex big-endian), trellis-chained payload,
// reverse primer. The address's start base depends on fwd's last
// character; the payload's start base depends on the address's last
// character — this chaining guarantees no homopolymer at the
// primer/address and address/payload boundaries. The payload/reverse
// primer boundary is not chained and may repeat a base.
func Assemble(shardIndex uint32, payload []byte, fwd, rev string) string {
	indexBytes := []byte{
		byte(shardIndex >> 24),
		byte(shardIndex >> 16),
		byte(shardIndex >> 8),
		byte(shardIndex),
	}

	addressSeed := SeedFromLastChar(fwd)
	addressDNA := dna.EncodeShard(indexBytes, addressSeed)

	payloadSeed := SeedFromLastChar(addressDNA)
	payloadDNA := dna.EncodeShard(payload, payloadSeed)

	var sb strings.Builder
	sb.Grow(len(fwd) + len(addressDNA) + len(payloadDNA) + len(rev))
	sb.WriteString(fwd)
	sb.WriteString(addressDNA)
	sb.WriteString(payloadDNA)
	sb.WriteString(rev)
	return sb.String()
}

// StripStrict returns the interior of strand (between fwd and rev) iff
// strand has fwd as an exact prefix and rev as an exact suffix.
func StripStrict(strand, fwd, rev string) (string, bool) {
	if !strings.HasPrefix(strand, fwd) {
		return "", false
	}
	if !strings.HasSuffix(strand, rev) {
		return "", false
	}
	if len(strand) < len(fwd)+len(rev) {
		return "", false
	}
	return strand[len(fwd) : len(strand)-len(rev)], true
}

// StripFuzzy returns the interior of strand iff the Hamming distance
// between its first len(fwd) characters and fwd, and between its last
// len(rev) characters and rev, are each at most tolerance.
func StripFuzzy(strand, fwd, rev string, tolerance int) (string, bool) {
	if len(strand) < len(fwd)+len(rev) {
		return "", false
	}
	prefix := strand[:len(fwd)]
	suffix := strand[len(strand)-len(rev):]

	if hamming(prefix, fwd) > tolerance {
		return "", false
	}
	if hamming(suffix, rev) > tolerance {
		return "", false
	}
	return strand[len(fwd) : len(strand)-len(rev)], true
}

func hamming(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	mismatches := 0
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			mismatches++
		}
	}
	mismatches += abs(len(a) - len(b))
	return mismatches
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
