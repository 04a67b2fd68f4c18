// Copyright 2019-2021 libsbn project contributors.
//
// libsbn is free software under the GPLv3; see LICENSE file for details.

package libsbn

import (
	"encoding/binary"
	"strings"
)

// wordsize is the number of bits stored per word of a Bitset.
const wordsize = 64

// A Bitset is a fixed-width bit vector. Bits are indexed from 0 and bit 0 is
// the most significant position for ordering purposes: Compare treats a
// Bitset as the string of its bits, with 0 sorting before 1.
//
// Three interpretations are used throughout the package. A *clade* over n
// taxa is a Bitset of size n whose set bits are the taxa in the clade. A
// *subsplit* is a Bitset of size 2n made of two clade chunks; it is canonical
// when the chunks are disjoint and chunk 0 sorts strictly before chunk 1. A
// *PCSP* is a Bitset of size 3n holding sister|focal|child0.
//
// Operations are pure: no method mutates its receiver except Set and Clear,
// which are used during construction. Allocation is not bounded to one new
// Bitset per operation: the subsplit and PCSP helpers (RotateSubsplit,
// SubsplitIsCanonical, ChildSubsplit, PCSPIsValid and others) build
// intermediate chunk Bitsets.
type Bitset struct {
	words []uint64
	size  int
}

// NewBitset returns a zeroed Bitset with the given number of bits.
func NewBitset(size int) Bitset {
	return Bitset{words: make([]uint64, (size+wordsize-1)/wordsize), size: size}
}

// BitsetOf returns a Bitset of the given size with the listed bits set.
func BitsetOf(size int, indices ...int) Bitset {
	b := NewBitset(size)
	for _, i := range indices {
		b.Set(i)
	}
	return b
}

// BitsetOfString builds a Bitset from a string of '0' and '1' characters,
// such as "0101". It is the inverse of String.
func BitsetOfString(s string) Bitset {
	b := NewBitset(len(s))
	for i, c := range s {
		if c == '1' {
			b.Set(i)
		}
	}
	return b
}

// Size returns the number of bits.
func (b Bitset) Size() int { return b.size }

// Set sets bit i.
func (b Bitset) Set(i int) {
	b.words[i/wordsize] |= 1 << uint(i%wordsize)
}

// Clear clears bit i.
func (b Bitset) Clear(i int) {
	b.words[i/wordsize] &^= 1 << uint(i%wordsize)
}

// Test reports whether bit i is set.
func (b Bitset) Test(i int) bool {
	return b.words[i/wordsize]&(1<<uint(i%wordsize)) != 0
}

// Any reports whether at least one bit is set.
func (b Bitset) Any() bool {
	for _, w := range b.words {
		if w != 0 {
			return true
		}
	}
	return false
}

// None reports whether no bit is set.
func (b Bitset) None() bool { return !b.Any() }

// Count returns the number of set bits.
func (b Bitset) Count() int {
	count := 0
	for _, w := range b.words {
		for ; w != 0; w &= w - 1 {
			count++
		}
	}
	return count
}

// Equal reports whether two bitsets have the same size and the same bits.
func (b Bitset) Equal(o Bitset) bool {
	if b.size != o.size {
		return false
	}
	for i := range b.words {
		if b.words[i] != o.words[i] {
			return false
		}
	}
	return true
}

// Compare provides the total order used for indexer keys: bitsets compare as
// their bit strings, bit 0 first, with 0 before 1; on a common prefix the
// shorter bitset sorts first. It returns -1, 0, or 1.
func (b Bitset) Compare(o Bitset) int {
	n := b.size
	if o.size < n {
		n = o.size
	}
	for i := 0; i < n; i++ {
		bi, oi := b.Test(i), o.Test(i)
		if bi != oi {
			if oi {
				return -1
			}
			return 1
		}
	}
	switch {
	case b.size < o.size:
		return -1
	case b.size > o.size:
		return 1
	}
	return 0
}

// Key returns a compact string usable as a map key. Bitsets of different
// sizes always get different keys.
func (b Bitset) Key() string {
	buf := make([]byte, 4+8*len(b.words))
	binary.LittleEndian.PutUint32(buf, uint32(b.size))
	for i, w := range b.words {
		binary.LittleEndian.PutUint64(buf[4+8*i:], w)
	}
	return string(buf)
}

// String renders the bitset as a string of '0' and '1' characters.
func (b Bitset) String() string {
	var sb strings.Builder
	sb.Grow(b.size)
	for i := 0; i < b.size; i++ {
		if b.Test(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// And returns the bitwise intersection of two same-sized bitsets.
func (b Bitset) And(o Bitset) Bitset {
	assertThat(b.size == o.size, "And of bitsets with mismatched sizes %d and %d", b.size, o.size)
	r := NewBitset(b.size)
	for i := range b.words {
		r.words[i] = b.words[i] & o.words[i]
	}
	return r
}

// Or returns the bitwise union of two same-sized bitsets.
func (b Bitset) Or(o Bitset) Bitset {
	assertThat(b.size == o.size, "Or of bitsets with mismatched sizes %d and %d", b.size, o.size)
	r := NewBitset(b.size)
	for i := range b.words {
		r.words[i] = b.words[i] | o.words[i]
	}
	return r
}

// AndNot returns the bits of b that are not in o.
func (b Bitset) AndNot(o Bitset) Bitset {
	assertThat(b.size == o.size, "AndNot of bitsets with mismatched sizes %d and %d", b.size, o.size)
	r := NewBitset(b.size)
	for i := range b.words {
		r.words[i] = b.words[i] &^ o.words[i]
	}
	return r
}

// Not returns the complement, truncated to the bitset's size.
func (b Bitset) Not() Bitset {
	r := NewBitset(b.size)
	for i := range b.words {
		r.words[i] = ^b.words[i]
	}
	if extra := len(r.words)*wordsize - b.size; extra > 0 {
		r.words[len(r.words)-1] &= ^uint64(0) >> uint(extra)
	}
	return r
}

// Disjoint reports whether the two bitsets share no set bit.
func (b Bitset) Disjoint(o Bitset) bool {
	for i := range b.words {
		if b.words[i]&o.words[i] != 0 {
			return false
		}
	}
	return true
}

// Contains reports whether every set bit of o is also set in b.
func (b Bitset) Contains(o Bitset) bool {
	assertThat(b.size == o.size, "Contains of bitsets with mismatched sizes %d and %d", b.size, o.size)
	for i := range b.words {
		if o.words[i]&^b.words[i] != 0 {
			return false
		}
	}
	return true
}

// AppendBitset concatenates two bitsets: the result holds the bits of b
// followed by the bits of o. This is the chunk-concatenation operator used to
// build subsplits and PCSP keys.
func (b Bitset) AppendBitset(o Bitset) Bitset {
	r := NewBitset(b.size + o.size)
	for i := 0; i < b.size; i++ {
		if b.Test(i) {
			r.Set(i)
		}
	}
	for i := 0; i < o.size; i++ {
		if o.Test(i) {
			r.Set(b.size + i)
		}
	}
	return r
}

// slice returns the bits in [start, end) as a new Bitset.
func (b Bitset) slice(start, end int) Bitset {
	r := NewBitset(end - start)
	for i := start; i < end; i++ {
		if b.Test(i) {
			r.Set(i - start)
		}
	}
	return r
}

// SingletonIndex returns the index of the single set bit, or -1 if the number
// of set bits is not exactly one.
func (b Bitset) SingletonIndex() int {
	if b.Count() != 1 {
		return -1
	}
	for i := 0; i < b.size; i++ {
		if b.Test(i) {
			return i
		}
	}
	return -1
}

// Minorize returns the lexicographically smaller of the bitset and its
// complement. Rootsplit clades are stored minorized.
func (b Bitset) Minorize() Bitset {
	c := b.Not()
	if c.Compare(b) < 0 {
		return c
	}
	return b
}

// ** Subsplit interpretation

// SubsplitChunk returns chunk i (0 or 1) of a subsplit.
func (b Bitset) SubsplitChunk(i int) Bitset {
	assertThat(b.size%2 == 0, "SubsplitChunk of a bitset of odd size %d", b.size)
	half := b.size / 2
	return b.slice(i*half, (i+1)*half)
}

// RotateSubsplit swaps the two chunks of a subsplit. Applied twice it is the
// identity.
func (b Bitset) RotateSubsplit() Bitset {
	return b.SubsplitChunk(1).AppendBitset(b.SubsplitChunk(0))
}

// SubsplitIsCanonical reports whether the two chunks are disjoint and chunk 0
// sorts before chunk 1.
func (b Bitset) SubsplitIsCanonical() bool {
	c0, c1 := b.SubsplitChunk(0), b.SubsplitChunk(1)
	return c0.Disjoint(c1) && c0.Compare(c1) < 0
}

// Subsplit builds the canonical subsplit of two disjoint clades.
func Subsplit(cladeA, cladeB Bitset) Bitset {
	assertThat(cladeA.Disjoint(cladeB), "Subsplit of non-disjoint clades %v and %v", cladeA, cladeB)
	if cladeB.Compare(cladeA) < 0 {
		cladeA, cladeB = cladeB, cladeA
	}
	return cladeA.AppendBitset(cladeB)
}

// SubsplitOfRootsplit expands a (minorized) rootsplit clade into the full
// subsplit clade ⊕ complement.
func SubsplitOfRootsplit(rootsplit Bitset) Bitset {
	return Subsplit(rootsplit, rootsplit.Not())
}

// FakeSubsplit returns the subsplit (∅, {taxon}) standing for a leaf.
func FakeSubsplit(taxon, taxonCount int) Bitset {
	return NewBitset(taxonCount).AppendBitset(BitsetOf(taxonCount, taxon))
}

// ** PCSP interpretation

// PCSPChunk returns chunk i (0, 1 or 2) of a PCSP: sister, focal, or child0.
func (b Bitset) PCSPChunk(i int) Bitset {
	assertThat(b.size%3 == 0, "PCSPChunk of a bitset of size %d not divisible by 3", b.size)
	third := b.size / 3
	return b.slice(i*third, (i+1)*third)
}

// PCSPIsValid checks the defining PCSP invariant: the sister and focal clades
// are disjoint, and child0 is a proper non-empty subset of the focal clade.
func (b Bitset) PCSPIsValid() bool {
	if b.size%3 != 0 {
		return false
	}
	sister, focal, child0 := b.PCSPChunk(0), b.PCSPChunk(1), b.PCSPChunk(2)
	return sister.Disjoint(focal) && focal.Contains(child0) &&
		child0.Any() && !child0.Equal(focal)
}

// PCSP builds the PCSP bitset for an edge: the parent subsplit as written for
// the edge (sister chunk first, focal chunk second), followed by the
// lexicographically smaller half of the focal split.
func PCSP(parentAsWritten, childHalf Bitset) Bitset {
	return parentAsWritten.AppendBitset(childHalf)
}

// ChildSubsplit returns the canonical child subsplit of a PCSP given the
// parent subsplit as written (focal chunk second) and one half of the focal
// split.
func ChildSubsplit(parentAsWritten, childHalf Bitset) Bitset {
	focal := parentAsWritten.SubsplitChunk(1)
	assertThat(focal.Contains(childHalf), "child half %v not contained in focal clade %v", childHalf, focal)
	return Subsplit(childHalf, focal.AndNot(childHalf))
}
