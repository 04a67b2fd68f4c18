// Copyright 2019-2021 libsbn project contributors.
//
// libsbn is free software under the GPLv3; see LICENSE file for details.

package libsbn

import "sort"

// An IndexRange is a half-open interval [Start, End) of parameter indices.
type IndexRange struct {
	Start, End int
}

// Len returns the number of indices in the range.
func (r IndexRange) Len() int { return r.End - r.Start }

// bitsetCounter is a multiset of bitsets with deterministic (sorted)
// iteration.
type bitsetCounter struct {
	keys   []Bitset
	counts map[string]float64
}

func newBitsetCounter() *bitsetCounter {
	return &bitsetCounter{counts: make(map[string]float64)}
}

func (c *bitsetCounter) add(b Bitset, weight float64) {
	key := b.Key()
	if _, ok := c.counts[key]; !ok {
		c.keys = append(c.keys, b)
	}
	c.counts[key] += weight
}

func (c *bitsetCounter) sorted() []Bitset {
	keys := append([]Bitset{}, c.keys...)
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })
	return keys
}

// pcspCounter counts, per parent subsplit as written (sister|focal), the
// observed focal-split halves.
type pcspCounter struct {
	parents  []Bitset
	children map[string]*bitsetCounter
}

func newPCSPCounter() *pcspCounter {
	return &pcspCounter{children: make(map[string]*bitsetCounter)}
}

func (c *pcspCounter) add(parentAsWritten, childHalf Bitset, weight float64) {
	key := parentAsWritten.Key()
	childCounter, ok := c.children[key]
	if !ok {
		childCounter = newBitsetCounter()
		c.children[key] = childCounter
		c.parents = append(c.parents, parentAsWritten)
	}
	childCounter.add(childHalf, weight)
}

func (c *pcspCounter) sortedParents() []Bitset {
	parents := append([]Bitset{}, c.parents...)
	sort.Slice(parents, func(i, j int) bool { return parents[i].Compare(parents[j]) < 0 })
	return parents
}

// tallyRooted records the rootsplit and PCSPs of one rooted topology.
func tallyRooted(topology *Node, weight float64, rootsplits *bitsetCounter, pcsps *pcspCounter) {
	rootsplits.add(topology.Children()[0].Leaves().Minorize(), weight)
	topology.Preorder(func(parent *Node) {
		for _, child := range parent.Children() {
			if child.IsLeaf() {
				continue
			}
			pcsps.add(parent.SubsplitAsWrittenFor(child), child.MinChildClade(), weight)
		}
	})
}

// rootingsOf returns the polished rooted topologies for every virtual rooting
// of the derooted form of topology: one per edge of the unrooted tree, in a
// deterministic order (preorder over the derooted form).
func rootingsOf(topology *Node, taxonOf map[string]int) []*Node {
	derooted := topology.Deroot()
	if err := derooted.Polish(taxonOf); err != nil {
		failf("rerooting an unpolishable topology: %v", err)
	}
	var targets []Bitset
	derooted.Preorder(func(m *Node) {
		if m != derooted {
			targets = append(targets, m.Leaves())
		}
	})
	rootings := make([]*Node, len(targets))
	for i, target := range targets {
		rooted := RerootAbove(derooted, target)
		if err := rooted.Polish(taxonOf); err != nil {
			failf("polishing a rerooted topology: %v", err)
		}
		rootings[i] = rooted
	}
	return rootings
}

// An Indexer assigns contiguous parameter slots to the rootsplits and PCSPs
// observed in a topology counter: the rootsplit block occupies [0, R), and
// each parent subsplit owns a contiguous range of PCSP indices. All index
// assignment is done over sorted keys, so two indexers built from the same
// trees are identical.
type Indexer struct {
	taxonCount    int
	rootsplits    []Bitset       // minorized clades, in index order
	index         map[string]int // rootsplit clade (n bits) and PCSP (3n bits) keys
	indexToChild  map[int]Bitset // PCSP index -> canonical child subsplit
	parentToRange map[string]IndexRange
	parents       []Bitset // parent subsplits as written, in range order
	count         int
}

func newIndexerFromCounters(taxonCount int, rootsplits *bitsetCounter, pcsps *pcspCounter) *Indexer {
	idx := &Indexer{
		taxonCount:    taxonCount,
		index:         make(map[string]int),
		indexToChild:  make(map[int]Bitset),
		parentToRange: make(map[string]IndexRange),
	}
	for _, rootsplit := range rootsplits.sorted() {
		idx.safeInsert(rootsplit, idx.count)
		idx.rootsplits = append(idx.rootsplits, rootsplit)
		idx.count++
	}
	for _, parent := range pcsps.sortedParents() {
		children := pcsps.children[parent.Key()].sorted()
		r := IndexRange{Start: idx.count, End: idx.count + len(children)}
		if _, dup := idx.parentToRange[parent.Key()]; dup {
			failf("duplicate parent subsplit %v in indexer", parent)
		}
		idx.parentToRange[parent.Key()] = r
		idx.parents = append(idx.parents, parent)
		for _, childHalf := range children {
			idx.safeInsert(PCSP(parent, childHalf), idx.count)
			idx.indexToChild[idx.count] = ChildSubsplit(parent, childHalf)
			idx.count++
		}
	}
	return idx
}

func (idx *Indexer) safeInsert(b Bitset, i int) {
	if _, dup := idx.index[b.Key()]; dup {
		failf("duplicate bitset %v in indexer", b)
	}
	idx.index[b.Key()] = i
}

// NewRootedIndexer indexes the rootsplits and PCSPs observed at the actual
// roots of the collection's topologies.
func NewRootedIndexer(tc *TreeCollection) *Indexer {
	rootsplits, pcsps := newBitsetCounter(), newPCSPCounter()
	tc.TopologyCounter().Each(func(topology *Node, weight float64) {
		tallyRooted(topology, weight, rootsplits, pcsps)
	})
	return newIndexerFromCounters(tc.TaxonCount(), rootsplits, pcsps)
}

// NewUnrootedIndexer indexes the rootsplits and PCSPs observed across every
// virtual rooting of the collection's topologies. This is the support needed
// to train an SBN on unrooted trees.
func NewUnrootedIndexer(tc *TreeCollection) *Indexer {
	rootsplits, pcsps := newBitsetCounter(), newPCSPCounter()
	tc.TopologyCounter().Each(func(topology *Node, weight float64) {
		for _, rooting := range rootingsOf(topology, tc.taxonOf) {
			tallyRooted(rooting, weight, rootsplits, pcsps)
		}
	})
	return newIndexerFromCounters(tc.TaxonCount(), rootsplits, pcsps)
}

// TaxonCount returns the width of the clade bitsets.
func (idx *Indexer) TaxonCount() int { return idx.taxonCount }

// Count returns the total number of indexed parameters.
func (idx *Indexer) Count() int { return idx.count }

// RootsplitCount returns the size R of the rootsplit block.
func (idx *Indexer) RootsplitCount() int { return len(idx.rootsplits) }

// Rootsplits returns the minorized rootsplit clades in index order.
func (idx *Indexer) Rootsplits() []Bitset { return idx.rootsplits }

// IndexOf looks up the index of a rootsplit clade or PCSP bitset.
func (idx *Indexer) IndexOf(b Bitset) (int, bool) {
	i, ok := idx.index[b.Key()]
	return i, ok
}

// MustIndexOf is IndexOf for bitsets that the caller knows are present; a
// miss indicates a scheduler bug and is fatal.
func (idx *Indexer) MustIndexOf(b Bitset) int {
	i, ok := idx.index[b.Key()]
	if !ok {
		failf("bitset %v not found in indexer", b)
	}
	return i
}

// ChildAt returns the canonical child subsplit of PCSP index i.
func (idx *Indexer) ChildAt(i int) (Bitset, bool) {
	child, ok := idx.indexToChild[i]
	return child, ok
}

// ParentRange returns the index range owned by a parent subsplit as written.
func (idx *Indexer) ParentRange(parent Bitset) (IndexRange, bool) {
	r, ok := idx.parentToRange[parent.Key()]
	return r, ok
}

// ParentRanges applies f to every (parent, range) pair in range order.
func (idx *Indexer) ParentRanges(f func(parent Bitset, r IndexRange)) {
	for _, parent := range idx.parents {
		f(parent, idx.parentToRange[parent.Key()])
	}
}

// RootedIndexerRepresentationOf returns the indices touched by one rooted
// polished topology: the rootsplit index followed by one PCSP index per
// internal non-root edge.
func (idx *Indexer) RootedIndexerRepresentationOf(topology *Node) []int {
	representation := []int{idx.MustIndexOf(topology.Children()[0].Leaves().Minorize())}
	topology.Preorder(func(parent *Node) {
		for _, child := range parent.Children() {
			if child.IsLeaf() {
				continue
			}
			pcsp := PCSP(parent.SubsplitAsWrittenFor(child), child.MinChildClade())
			representation = append(representation, idx.MustIndexOf(pcsp))
		}
	})
	return representation
}

// An IndexerRepresentation describes one topology through the indexer, one
// entry per virtual rooting: the rootsplit index of that rooting and the PCSP
// indices of the resulting rooted tree.
type IndexerRepresentation struct {
	Rootsplits []int
	PCSPs      [][]int
}

// IndexerRepresentationOf computes the representation of a topology over all
// of its virtual rootings.
func (idx *Indexer) IndexerRepresentationOf(topology *Node, taxonOf map[string]int) IndexerRepresentation {
	rootings := rootingsOf(topology, taxonOf)
	representation := IndexerRepresentation{
		Rootsplits: make([]int, len(rootings)),
		PCSPs:      make([][]int, len(rootings)),
	}
	for i, rooting := range rootings {
		rooted := idx.RootedIndexerRepresentationOf(rooting)
		representation.Rootsplits[i] = rooted[0]
		representation.PCSPs[i] = rooted[1:]
	}
	return representation
}
