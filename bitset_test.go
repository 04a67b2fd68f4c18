// Copyright 2019-2021 libsbn project contributors.
//
// libsbn is free software under the GPLv3; see LICENSE file for details.

package libsbn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitsetBasics(t *testing.T) {
	b := NewBitset(5)
	assert.Equal(t, 5, b.Size())
	assert.True(t, b.None())
	b.Set(1)
	b.Set(4)
	assert.True(t, b.Any())
	assert.Equal(t, 2, b.Count())
	assert.True(t, b.Test(1))
	assert.False(t, b.Test(0))
	assert.Equal(t, "01001", b.String())
	b.Clear(4)
	assert.Equal(t, "01000", b.String())

	assert.True(t, BitsetOfString("01001").Equal(BitsetOf(5, 1, 4)))
	assert.False(t, BitsetOfString("0100").Equal(BitsetOf(5, 1)))
}

func TestBitsetCompareIsLexicographic(t *testing.T) {
	assert.Equal(t, -1, BitsetOfString("0101").Compare(BitsetOfString("0110")))
	assert.Equal(t, 1, BitsetOfString("10").Compare(BitsetOfString("01")))
	assert.Equal(t, 0, BitsetOfString("0110").Compare(BitsetOfString("0110")))
	// Shorter sorts first on a common prefix.
	assert.Equal(t, -1, BitsetOfString("011").Compare(BitsetOfString("0110")))
}

func TestBitsetWordBoundary(t *testing.T) {
	b := NewBitset(130)
	b.Set(0)
	b.Set(64)
	b.Set(129)
	assert.Equal(t, 3, b.Count())
	c := b.Not()
	assert.Equal(t, 127, c.Count())
	assert.False(t, c.Test(64))
	assert.True(t, c.Test(1))
	// The complement must not leak bits past the size.
	assert.Equal(t, 130, c.Size())
	assert.True(t, b.And(c).None())
	assert.Equal(t, 130, b.Or(c).Count())
}

func TestBitsetBitwiseOps(t *testing.T) {
	a := BitsetOfString("1100")
	b := BitsetOfString("1010")
	assert.Equal(t, "1000", a.And(b).String())
	assert.Equal(t, "1110", a.Or(b).String())
	assert.Equal(t, "0100", a.AndNot(b).String())
	assert.Equal(t, "0011", a.Not().String())
	assert.True(t, a.Contains(BitsetOfString("0100")))
	assert.False(t, a.Contains(b))
	assert.True(t, BitsetOfString("1100").Disjoint(BitsetOfString("0011")))
}

func TestBitsetAppendAndChunks(t *testing.T) {
	subsplit := BitsetOfString("011").AppendBitset(BitsetOfString("100"))
	assert.Equal(t, "011100", subsplit.String())
	assert.Equal(t, "011", subsplit.SubsplitChunk(0).String())
	assert.Equal(t, "100", subsplit.SubsplitChunk(1).String())

	pcsp := PCSP(BitsetOfString("100011"), BitsetOfString("001"))
	assert.Equal(t, "100", pcsp.PCSPChunk(0).String())
	assert.Equal(t, "011", pcsp.PCSPChunk(1).String())
	assert.Equal(t, "001", pcsp.PCSPChunk(2).String())
	assert.True(t, pcsp.PCSPIsValid())

	// child0 equal to the focal clade is invalid.
	assert.False(t, PCSP(BitsetOfString("100011"), BitsetOfString("011")).PCSPIsValid())
	// child0 empty is invalid.
	assert.False(t, PCSP(BitsetOfString("100011"), BitsetOfString("000")).PCSPIsValid())
}

func TestRotateSubsplitRoundTrip(t *testing.T) {
	for _, s := range []string{"011100", "001010", "0110", "000001"} {
		subsplit := BitsetOfString(s)
		assert.True(t, subsplit.RotateSubsplit().RotateSubsplit().Equal(subsplit), s)
	}
	assert.Equal(t, "100011", BitsetOfString("011100").RotateSubsplit().String())
}

func TestSubsplitCanonical(t *testing.T) {
	assert.True(t, BitsetOfString("011100").SubsplitIsCanonical())
	assert.False(t, BitsetOfString("100011").SubsplitIsCanonical())
	// Overlapping chunks are not canonical.
	assert.False(t, BitsetOfString("011010").SubsplitIsCanonical())
	// Fake subsplits are canonical.
	assert.True(t, FakeSubsplit(1, 3).SubsplitIsCanonical())

	built := Subsplit(BitsetOfString("100"), BitsetOfString("011"))
	assert.Equal(t, "011100", built.String())
}

func TestMinorize(t *testing.T) {
	assert.Equal(t, "011", BitsetOfString("011").Minorize().String())
	assert.Equal(t, "011", BitsetOfString("100").Minorize().String())
}

func TestChildSubsplit(t *testing.T) {
	parent := BitsetOfString("100011") // sister {0}, focal {1,2}
	child := ChildSubsplit(parent, BitsetOfString("001"))
	assert.Equal(t, "001010", child.String())
	assert.True(t, child.SubsplitIsCanonical())
	// Either half yields the same canonical child subsplit.
	assert.True(t, ChildSubsplit(parent, BitsetOfString("010")).Equal(child))
}

func TestSubsplitOfRootsplit(t *testing.T) {
	subsplit := SubsplitOfRootsplit(BitsetOfString("011"))
	assert.Equal(t, "011100", subsplit.String())
	assert.True(t, subsplit.SubsplitIsCanonical())
}

func TestFakeSubsplit(t *testing.T) {
	fake := FakeSubsplit(2, 4)
	assert.Equal(t, "00000010", fake.String())
	assert.True(t, fake.SubsplitChunk(0).None())
	assert.Equal(t, 2, fake.SubsplitChunk(1).SingletonIndex())
}

func TestSingletonIndex(t *testing.T) {
	assert.Equal(t, 2, BitsetOfString("0010").SingletonIndex())
	assert.Equal(t, -1, BitsetOfString("0110").SingletonIndex())
	assert.Equal(t, -1, BitsetOfString("0000").SingletonIndex())
}

func TestBitsetKeyDistinguishesSizes(t *testing.T) {
	require.NotEqual(t, BitsetOfString("01").Key(), BitsetOfString("010").Key())
	require.Equal(t, BitsetOfString("010").Key(), BitsetOf(3, 1).Key())
}
