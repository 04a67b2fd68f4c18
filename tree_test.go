// Copyright 2019-2021 libsbn project contributors.
//
// libsbn is free software under the GPLv3; see LICENSE file for details.

package libsbn

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readTestCollection(t *testing.T, path string) *TreeCollection {
	t.Helper()
	tc, err := ReadNewickFile(path)
	require.NoError(t, err)
	return tc
}

func TestReadNewickHello(t *testing.T) {
	tc := readTestCollection(t, "testdata/hello.nwk")
	assert.Equal(t, 1, tc.TreeCount())
	assert.Equal(t, []string{"jupiter", "mars", "saturn"}, tc.TaxonNames)

	tree := tc.Trees[0]
	root := tree.Topology
	assert.Equal(t, 4, root.Id())
	assert.Equal(t, "111", root.Leaves().String())
	// Leaves are ids 0..2 in sorted taxon order.
	id, ok := tc.TaxonIndexOf("jupiter")
	require.True(t, ok)
	assert.Equal(t, 0, id)

	// Branch lengths are indexed by node id, root entry zero.
	require.Len(t, tree.BranchLengths, 5)
	assert.Equal(t, 0.0, tree.BranchLengths[4])
	for id := 0; id < 4; id++ {
		assert.InDelta(t, 0.1, tree.BranchLengths[id], 1e-12)
	}
}

func TestPolishOrdersChildrenAndIds(t *testing.T) {
	tc := readTestCollection(t, "testdata/hello.nwk")
	root := tc.Trees[0].Topology
	require.Len(t, root.Children(), 2)
	// Children sorted by leaf-set: {mars,saturn} = 011 before {jupiter} = 100.
	assert.Equal(t, "011", root.Children()[0].Leaves().String())
	assert.Equal(t, "100", root.Children()[1].Leaves().String())
	// Internal ids are post-order, root maximal.
	assert.Equal(t, 3, root.Children()[0].Id())
	assert.Less(t, root.Children()[0].Id(), root.Id())
}

func TestSubsplitExtraction(t *testing.T) {
	tc := readTestCollection(t, "testdata/hello.nwk")
	root := tc.Trees[0].Topology
	assert.Equal(t, "011100", root.Subsplit().String())
	internal := root.Children()[0]
	assert.Equal(t, "100011", root.SubsplitAsWrittenFor(internal).String())
	assert.Equal(t, "011100", root.SubsplitAsWrittenFor(root.Children()[1]).String())
	assert.Equal(t, "001", internal.MinChildClade().String())
}

func TestSingleTaxonRejected(t *testing.T) {
	topology, err := ParseNewick(strings.NewReader("A;"))
	require.NoError(t, err)
	_, err = NewTreeCollection([]*Node{topology})
	assert.ErrorIs(t, err, ErrTooFewTaxa)
}

func TestNonBifurcatingRejected(t *testing.T) {
	topology, err := ParseNewick(strings.NewReader("((a:1,b:1,c:1):1,d:1);"))
	require.NoError(t, err)
	_, err = NewTreeCollection([]*Node{topology})
	assert.ErrorIs(t, err, ErrNotBifurcating)
}

func TestTopologyCounterDeduplicates(t *testing.T) {
	tc := readTestCollection(t, "testdata/five_taxon.nwk")
	assert.Equal(t, 4, tc.TreeCount())
	counter := tc.TopologyCounter()
	// The first and last tree share a topology.
	assert.Equal(t, 3, counter.Len())
	total := 0.0
	counter.Each(func(_ *Node, weight float64) { total += weight })
	assert.Equal(t, 4.0, total)
}

func TestDerootAndRootings(t *testing.T) {
	tc := readTestCollection(t, "testdata/five_taxon.nwk")
	topology := tc.Trees[0].Topology

	derooted := topology.Deroot()
	require.Len(t, derooted.Children(), 3)
	assert.Equal(t, 5, derooted.LeafCount())

	rootings := rootingsOf(topology, tc.taxonOf)
	// An unrooted tree over n taxa has 2n-3 edges.
	assert.Len(t, rootings, 7)
	for _, rooting := range rootings {
		require.NoError(t, rooting.validateBifurcating())
		assert.Equal(t, 5, rooting.LeafCount())
		assert.Equal(t, "11111", rooting.Leaves().String())
	}
	// One of the rootings recovers the original rooted topology.
	found := 0
	original := topology.topologyKey()
	for _, rooting := range rootings {
		if rooting.topologyKey() == original {
			found++
		}
	}
	assert.Equal(t, 1, found)
}

func TestRootingsOfThreeTaxa(t *testing.T) {
	tc := readTestCollection(t, "testdata/hello.nwk")
	rootings := rootingsOf(tc.Trees[0].Topology, tc.taxonOf)
	assert.Len(t, rootings, 3)
}
