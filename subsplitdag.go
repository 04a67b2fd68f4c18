// Copyright 2019-2021 libsbn project contributors.
//
// libsbn is free software under the GPLv3; see LICENSE file for details.

package libsbn

import (
	"fmt"
	"io"
)

// A SubsplitDAG holds the subsplit directed acyclic graph built from the
// rootsplits and PCSPs of a collection of rooted trees, together with the
// GPCSP indexer that assigns a parameter slot to every edge, and the two
// precomputed traversal orders. The DAG is immutable once built; all mutable
// numeric state lives in the Engine.
type SubsplitDAG struct {
	taxonCount int
	support    *Indexer // rooted support: drives node construction

	nodes        []*DAGNode
	subsplitToID map[string]int

	// The GPCSP indexer: rootsplit subsplits first, then for each node and
	// side a contiguous block of (parent ⊕ child) edge keys, fake-subsplit
	// edges included.
	gpcspIndexer    map[string]int
	gpcspBitsets    []Bitset
	subsplitToRange map[string]IndexRange // maybe-rotated parent subsplit -> block
	parentSubsplits []Bitset              // block order, for deterministic iteration
	gpcspCount      int

	rootwardOrder []int // every non-leaf node, leafward descendants first
	leafwardOrder []int // every non-leaf node, rootward ancestors first

	topologyCount      float64
	topologyCountBelow []float64
}

// NewSubsplitDAG builds the sDAG spanned by the rooted topologies of a tree
// collection.
func NewSubsplitDAG(tc *TreeCollection) (*SubsplitDAG, error) {
	if tc == nil || tc.TreeCount() == 0 {
		return nil, ErrNoTrees
	}
	dag := &SubsplitDAG{
		taxonCount:      tc.TaxonCount(),
		support:         NewRootedIndexer(tc),
		subsplitToID:    make(map[string]int),
		gpcspIndexer:    make(map[string]int),
		subsplitToRange: make(map[string]IndexRange),
	}
	dag.buildNodes()
	dag.buildEdges()
	dag.buildGPCSPIndexer()
	dag.rootwardOrder = dag.rootwardPassTraversal()
	dag.leafwardOrder = dag.leafwardPassTraversal()
	dag.countTopologies()
	return dag, nil
}

// TaxonCount returns the number of taxa; leaf nodes occupy ids
// 0..TaxonCount-1.
func (dag *SubsplitDAG) TaxonCount() int { return dag.taxonCount }

// NodeCount returns the number of sDAG nodes, leaves included.
func (dag *SubsplitDAG) NodeCount() int { return len(dag.nodes) }

// GPCSPCount returns the number of edge parameter slots: one per rootsplit
// plus one per DAG edge, fake-subsplit edges included.
func (dag *SubsplitDAG) GPCSPCount() int { return dag.gpcspCount }

// RootsplitCount returns the number of rootsplits.
func (dag *SubsplitDAG) RootsplitCount() int { return dag.support.RootsplitCount() }

// Rootsplits returns the minorized rootsplit clades in index order.
func (dag *SubsplitDAG) Rootsplits() []Bitset { return dag.support.Rootsplits() }

// Support returns the rooted indexer the DAG was built from.
func (dag *SubsplitDAG) Support() *Indexer { return dag.support }

// GetDAGNode returns the node with the given id.
func (dag *SubsplitDAG) GetDAGNode(id int) *DAGNode { return dag.nodes[id] }

// RootwardOrder returns the traversal order in which every non-leaf node
// appears after all of its leafward descendants.
func (dag *SubsplitDAG) RootwardOrder() []int { return dag.rootwardOrder }

// LeafwardOrder returns the traversal order in which every non-leaf node
// appears after all of its rootward ancestors.
func (dag *SubsplitDAG) LeafwardOrder() []int { return dag.leafwardOrder }

// TopologyCount returns the number of distinct rooted topologies spanned by
// the DAG, as a float because this number can be astronomically large.
func (dag *SubsplitDAG) TopologyCount() float64 { return dag.topologyCount }

// TopologyCountBelow returns the per-node topology counts of the counting
// recursion.
func (dag *SubsplitDAG) TopologyCountBelow() []float64 { return dag.topologyCountBelow }

// ** Construction

func (dag *SubsplitDAG) createAndInsertNode(subsplit Bitset) {
	if _, ok := dag.subsplitToID[subsplit.Key()]; ok {
		return
	}
	id := len(dag.nodes)
	dag.subsplitToID[subsplit.Key()] = id
	dag.nodes = append(dag.nodes, newDAGNode(id, subsplit))
}

// childrenSubsplits returns the child subsplits below a parent subsplit as
// written (focal chunk second). When the focal chunk is a singleton and
// includeFake is set, the corresponding fake subsplit is synthesised.
func (dag *SubsplitDAG) childrenSubsplits(asWritten Bitset, includeFake bool) []Bitset {
	if r, ok := dag.support.ParentRange(asWritten); ok {
		children := make([]Bitset, 0, r.Len())
		for i := r.Start; i < r.End; i++ {
			child, ok := dag.support.ChildAt(i)
			assertThat(ok, "no child subsplit stored for index %d", i)
			children = append(children, child)
		}
		return children
	}
	if includeFake && asWritten.SubsplitChunk(0).Any() {
		if taxon := asWritten.SubsplitChunk(1).SingletonIndex(); taxon >= 0 {
			return []Bitset{FakeSubsplit(taxon, dag.taxonCount)}
		}
	}
	return nil
}

func (dag *SubsplitDAG) buildNodesDepthFirst(subsplit Bitset, visited map[string]bool) {
	if visited[subsplit.Key()] {
		return
	}
	visited[subsplit.Key()] = true
	for _, child := range dag.childrenSubsplits(subsplit, false) {
		dag.buildNodesDepthFirst(child, visited)
	}
	for _, child := range dag.childrenSubsplits(subsplit.RotateSubsplit(), false) {
		dag.buildNodesDepthFirst(child, visited)
	}
	dag.createAndInsertNode(subsplit)
}

func (dag *SubsplitDAG) buildNodes() {
	// Fake subsplits take the ids [0, taxonCount).
	for taxon := 0; taxon < dag.taxonCount; taxon++ {
		dag.createAndInsertNode(FakeSubsplit(taxon, dag.taxonCount))
	}
	// Rootsplit nodes take the highest ids within their own traversals.
	visited := make(map[string]bool)
	for _, rootsplit := range dag.support.Rootsplits() {
		dag.buildNodesDepthFirst(SubsplitOfRootsplit(rootsplit), visited)
	}
}

// maybeRotate returns the subsplit written for the given side: as is for the
// right side, rotated for the left.
func maybeRotate(subsplit Bitset, side CladeSide) Bitset {
	if side == LeftSide {
		return subsplit.RotateSubsplit()
	}
	return subsplit
}

func (dag *SubsplitDAG) connectNodes(id int, side CladeSide) {
	node := dag.nodes[id]
	asWritten := maybeRotate(node.subsplit, side)
	for _, childSubsplit := range dag.childrenSubsplits(asWritten, true) {
		childID, ok := dag.subsplitToID[childSubsplit.Key()]
		assertThat(ok, "child subsplit %v missing from the DAG", childSubsplit)
		node.addNeighbor(Leafward, side, childID)
		dag.nodes[childID].addNeighbor(Rootward, side, id)
	}
}

func (dag *SubsplitDAG) buildEdges() {
	for id := dag.taxonCount; id < len(dag.nodes); id++ {
		dag.connectNodes(id, RightSide)
		dag.connectNodes(id, LeftSide)
	}
}

func (dag *SubsplitDAG) buildGPCSPIndexer() {
	idx := 0
	insert := func(key Bitset) {
		if _, dup := dag.gpcspIndexer[key.Key()]; dup {
			failf("duplicate GPCSP bitset %v", key)
		}
		dag.gpcspIndexer[key.Key()] = idx
		dag.gpcspBitsets = append(dag.gpcspBitsets, key)
		idx++
	}
	for _, rootsplit := range dag.support.Rootsplits() {
		insert(SubsplitOfRootsplit(rootsplit))
	}
	for id := dag.taxonCount; id < len(dag.nodes); id++ {
		node := dag.nodes[id]
		for _, side := range []CladeSide{RightSide, LeftSide} {
			children := node.Neighbors(Leafward, side)
			if len(children) == 0 {
				continue
			}
			parent := maybeRotate(node.subsplit, side)
			dag.subsplitToRange[parent.Key()] = IndexRange{Start: idx, End: idx + len(children)}
			dag.parentSubsplits = append(dag.parentSubsplits, parent)
			for _, childID := range children {
				insert(parent.AppendBitset(dag.nodes[childID].subsplit))
			}
		}
	}
	dag.gpcspCount = idx
}

// GPCSPIndexOfBitset looks up the parameter index of a parent ⊕ child key.
func (dag *SubsplitDAG) GPCSPIndexOfBitset(key Bitset) (int, bool) {
	i, ok := dag.gpcspIndexer[key.Key()]
	return i, ok
}

// GPCSPIndex returns the parameter index of the edge from parent to child on
// the given side. A miss is fatal: it means the scheduler asked for an edge
// the DAG does not have.
func (dag *SubsplitDAG) GPCSPIndex(parentID, childID int, side CladeSide) int {
	key := maybeRotate(dag.nodes[parentID].subsplit, side).
		AppendBitset(dag.nodes[childID].subsplit)
	i, ok := dag.gpcspIndexer[key.Key()]
	if !ok {
		failf("non-existent GPCSP index for %v", key)
	}
	return i
}

// GPCSPBitsets returns the indexed keys: rootsplit subsplits then parent ⊕
// child edge keys, in index order.
func (dag *SubsplitDAG) GPCSPBitsets() []Bitset { return dag.gpcspBitsets }

// SubsplitRange returns the GPCSP block owned by a maybe-rotated parent
// subsplit.
func (dag *SubsplitDAG) SubsplitRange(parent Bitset) (IndexRange, bool) {
	r, ok := dag.subsplitToRange[parent.Key()]
	return r, ok
}

// RootsplitNodeIds returns the node ids of the rootsplit subsplits, in
// rootsplit index order.
func (dag *SubsplitDAG) RootsplitNodeIds() []int {
	ids := make([]int, 0, dag.support.RootsplitCount())
	for _, rootsplit := range dag.support.Rootsplits() {
		id, ok := dag.subsplitToID[SubsplitOfRootsplit(rootsplit).Key()]
		assertThat(ok, "rootsplit subsplit %v missing from the DAG", rootsplit)
		ids = append(ids, id)
	}
	return ids
}

// NodeIdOfSubsplit looks up a node id by canonical subsplit.
func (dag *SubsplitDAG) NodeIdOfSubsplit(subsplit Bitset) (int, bool) {
	id, ok := dag.subsplitToID[subsplit.Key()]
	return id, ok
}

// ** Traversals

func (dag *SubsplitDAG) leafwardDepthFirst(id int, visited []bool, order *[]int) {
	visited[id] = true
	for _, side := range []CladeSide{RightSide, LeftSide} {
		for _, childID := range dag.nodes[id].Neighbors(Leafward, side) {
			if !visited[childID] {
				dag.leafwardDepthFirst(childID, visited, order)
			}
		}
	}
	if !dag.nodes[id].IsLeaf() {
		*order = append(*order, id)
	}
}

func (dag *SubsplitDAG) rootwardDepthFirst(id int, visited []bool, order *[]int) {
	visited[id] = true
	for _, side := range []CladeSide{RightSide, LeftSide} {
		for _, parentID := range dag.nodes[id].Neighbors(Rootward, side) {
			if !visited[parentID] {
				dag.rootwardDepthFirst(parentID, visited, order)
			}
		}
	}
	if !dag.nodes[id].IsLeaf() {
		*order = append(*order, id)
	}
}

// rootwardPassTraversal descends leafward from every rootsplit, emitting each
// node after its leafward descendants.
func (dag *SubsplitDAG) rootwardPassTraversal() []int {
	visited := make([]bool, len(dag.nodes))
	var order []int
	for _, rootID := range dag.RootsplitNodeIds() {
		if !visited[rootID] {
			dag.leafwardDepthFirst(rootID, visited, &order)
		}
	}
	return order
}

// leafwardPassTraversal ascends rootward from every leaf, emitting each node
// after its rootward ancestors.
func (dag *SubsplitDAG) leafwardPassTraversal() []int {
	visited := make([]bool, len(dag.nodes))
	var order []int
	for leaf := 0; leaf < dag.taxonCount; leaf++ {
		if !visited[leaf] {
			dag.rootwardDepthFirst(leaf, visited, &order)
		}
	}
	return order
}

// ** Topology counting

func (dag *SubsplitDAG) countTopologies() {
	dag.topologyCountBelow = make([]float64, len(dag.nodes))
	for leaf := 0; leaf < dag.taxonCount; leaf++ {
		dag.topologyCountBelow[leaf] = 1
	}
	for _, id := range dag.rootwardOrder {
		product := 1.0
		for _, side := range []CladeSide{LeftSide, RightSide} {
			sum := 0.0
			for _, childID := range dag.nodes[id].Neighbors(Leafward, side) {
				sum += dag.topologyCountBelow[childID]
			}
			product *= sum
		}
		dag.topologyCountBelow[id] = product
	}
	dag.topologyCount = 0
	for _, rootID := range dag.RootsplitNodeIds() {
		dag.topologyCount += dag.topologyCountBelow[rootID]
	}
}

// ** Priors

// BuildUniformQ returns the SBN parameter vector that is uniform over each
// parent's children and over the rootsplits.
func (dag *SubsplitDAG) BuildUniformQ() []float64 {
	q := make([]float64, dag.gpcspCount)
	for i := range q {
		q[i] = 1
	}
	r := dag.support.RootsplitCount()
	for i := 0; i < r; i++ {
		q[i] = 1 / float64(r)
	}
	for _, parent := range dag.parentSubsplits {
		block := dag.subsplitToRange[parent.Key()]
		value := 1 / float64(block.Len())
		for i := block.Start; i < block.End; i++ {
			q[i] = value
		}
	}
	return q
}

// ** Inspection

// Fprint writes every node of the DAG to w.
func (dag *SubsplitDAG) Fprint(w io.Writer) {
	for _, node := range dag.nodes {
		fmt.Fprintln(w, node)
	}
}

// FprintGPCSPIndexer writes the GPCSP indexer to w in index order.
func (dag *SubsplitDAG) FprintGPCSPIndexer(w io.Writer) {
	for i, key := range dag.gpcspBitsets {
		if key.Size() == 2*dag.taxonCount {
			fmt.Fprintf(w, "%d\t%s|%s\n", i, key.SubsplitChunk(0), key.SubsplitChunk(1))
			continue
		}
		parent, child := key.slice(0, 2*dag.taxonCount), key.slice(2*dag.taxonCount, key.Size())
		fmt.Fprintf(w, "%d\t%s|%s -> %s|%s\n", i,
			parent.SubsplitChunk(0), parent.SubsplitChunk(1),
			child.SubsplitChunk(0), child.SubsplitChunk(1))
	}
}
