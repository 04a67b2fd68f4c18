// Copyright 2019-2021 libsbn project contributors.
//
// libsbn is free software under the GPLv3; see LICENSE file for details.

package libsbn

import (
	"fmt"
	"sort"
	"strings"
)

// A Node is a vertex of a rooted topology. Leaves carry the taxon name they
// were built with; internal nodes carry exactly two children once a topology
// has been validated as bifurcating (the temporary trifurcating root produced
// by Deroot is the one sanctioned exception).
//
// Ids and leaf sets are assigned by Polish: leaves get the ids 0..n-1 in
// taxon order, internal nodes follow a post-order numbering from n, so the
// root always has the maximum id. A node's leaf set is the union of its
// children's leaf sets.
type Node struct {
	name         string
	children     []*Node
	id           int
	leaves       Bitset
	branchLength float64 // length of the edge above, as parsed
}

// NewLeaf returns a leaf node for the named taxon.
func NewLeaf(name string) *Node {
	return &Node{name: name, id: -1}
}

// NewInternal joins child topologies under a fresh internal node.
func NewInternal(children ...*Node) *Node {
	return &Node{children: children, id: -1}
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return len(n.children) == 0 }

// Id returns the node id assigned by Polish.
func (n *Node) Id() int { return n.id }

// Name returns the taxon name of a leaf (empty for internal nodes).
func (n *Node) Name() string { return n.name }

// Children returns the node's children.
func (n *Node) Children() []*Node { return n.children }

// Leaves returns the node's leaf-set bitset, valid after Polish.
func (n *Node) Leaves() Bitset { return n.leaves }

// BranchLength returns the parsed length of the edge above the node.
func (n *Node) BranchLength() float64 { return n.branchLength }

// Preorder applies f to the node and then to its descendants.
func (n *Node) Preorder(f func(*Node)) {
	f(n)
	for _, child := range n.children {
		child.Preorder(f)
	}
}

// Postorder applies f to the node's descendants and then to the node.
func (n *Node) Postorder(f func(*Node)) {
	for _, child := range n.children {
		child.Postorder(f)
	}
	f(n)
}

// LeafCount returns the number of leaves below the node (inclusive).
func (n *Node) LeafCount() int {
	count := 0
	n.Preorder(func(m *Node) {
		if m.IsLeaf() {
			count++
		}
	})
	return count
}

// NodeCount returns the number of nodes below the node (inclusive).
func (n *Node) NodeCount() int {
	count := 0
	n.Preorder(func(*Node) { count++ })
	return count
}

// Polish assigns ids and leaf sets: each leaf gets the index of its taxon
// name in taxonOf, and internal nodes are numbered from len(taxonOf) in
// post-order. Children are reordered so that the child with the smaller leaf
// set comes first, making every later traversal of the topology
// deterministic. Polish is idempotent.
func (n *Node) Polish(taxonOf map[string]int) error {
	taxonCount := len(taxonOf)
	next := taxonCount
	var polish func(m *Node) error
	polish = func(m *Node) error {
		if m.IsLeaf() {
			id, ok := taxonOf[m.name]
			if !ok {
				return fmt.Errorf("%w: leaf %q", ErrTaxonMismatch, m.name)
			}
			m.id = id
			m.leaves = BitsetOf(taxonCount, id)
			return nil
		}
		for _, child := range m.children {
			if err := polish(child); err != nil {
				return err
			}
		}
		sort.SliceStable(m.children, func(i, j int) bool {
			return m.children[i].leaves.Compare(m.children[j].leaves) < 0
		})
		m.leaves = NewBitset(taxonCount)
		for _, child := range m.children {
			m.leaves = m.leaves.Or(child.leaves)
		}
		m.id = next
		next++
		return nil
	}
	return polish(n)
}

// validateBifurcating checks that every node has 0 or 2 children.
func (n *Node) validateBifurcating() error {
	var err error
	n.Preorder(func(m *Node) {
		if err == nil && !m.IsLeaf() && len(m.children) != 2 {
			err = fmt.Errorf("%w: node with %d children", ErrNotBifurcating, len(m.children))
		}
	})
	return err
}

// topologyKey renders a canonical string for the topology under the node,
// depending only on the shape and leaf names. Valid after Polish.
func (n *Node) topologyKey() string {
	if n.IsLeaf() {
		return n.name
	}
	parts := make([]string, len(n.children))
	for i, child := range n.children {
		parts[i] = child.topologyKey()
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// deepCopy clones the topology, preserving names, ids, leaf sets, and branch
// lengths.
func (n *Node) deepCopy() *Node {
	m := &Node{name: n.name, id: n.id, leaves: n.leaves, branchLength: n.branchLength}
	m.children = make([]*Node, len(n.children))
	for i, child := range n.children {
		m.children[i] = child.deepCopy()
	}
	return m
}

// Subsplit returns the canonical subsplit of an internal node: its two
// children's clades, sorted. Valid after Polish.
func (n *Node) Subsplit() Bitset {
	assertThat(len(n.children) == 2, "Subsplit of a node with %d children", len(n.children))
	return Subsplit(n.children[0].leaves, n.children[1].leaves)
}

// SubsplitAsWrittenFor returns the parent subsplit as written for the edge
// leading to the given child: the sister clade first, the focal clade (the
// child's clade) second.
func (n *Node) SubsplitAsWrittenFor(child *Node) Bitset {
	assertThat(len(n.children) == 2, "SubsplitAsWrittenFor on a node with %d children", len(n.children))
	var sister *Node
	switch child {
	case n.children[0]:
		sister = n.children[1]
	case n.children[1]:
		sister = n.children[0]
	default:
		failf("node %d is not a child of node %d", child.id, n.id)
	}
	return sister.leaves.AppendBitset(child.leaves)
}

// MinChildClade returns the lexicographically smaller of an internal node's
// two child clades; this is the child0 chunk of the node's PCSPs.
func (n *Node) MinChildClade() Bitset {
	assertThat(len(n.children) == 2, "MinChildClade of a node with %d children", len(n.children))
	a, b := n.children[0].leaves, n.children[1].leaves
	if b.Compare(a) < 0 {
		return b
	}
	return a
}

// A Tree is a rooted topology plus one branch length per node, indexed by
// node id; entry i is the length of the edge above node i. The root's entry
// is zero.
type Tree struct {
	Topology      *Node
	BranchLengths []float64
}

// NewTree builds a Tree from a polished topology, harvesting the branch
// lengths recorded on the nodes.
func NewTree(topology *Node) *Tree {
	lengths := make([]float64, topology.NodeCount())
	topology.Preorder(func(m *Node) {
		lengths[m.id] = m.branchLength
	})
	lengths[topology.id] = 0
	return &Tree{Topology: topology, BranchLengths: lengths}
}

// A TreeCollection is a finite sequence of trees over a common taxon set.
// Taxon ids are indices into TaxonNames, which is sorted.
type TreeCollection struct {
	Trees      []*Tree
	TaxonNames []string
	taxonOf    map[string]int
}

// NewTreeCollection validates and polishes a set of topologies into a
// collection. All trees must be bifurcating and share the same taxon set,
// with at least two taxa.
func NewTreeCollection(topologies []*Node) (*TreeCollection, error) {
	if len(topologies) == 0 {
		return nil, ErrNoTrees
	}
	nameSet := make(map[string]bool)
	topologies[0].Preorder(func(m *Node) {
		if m.IsLeaf() {
			nameSet[m.name] = true
		}
	})
	if len(nameSet) < 2 {
		return nil, ErrTooFewTaxa
	}
	names := make([]string, 0, len(nameSet))
	for name := range nameSet {
		names = append(names, name)
	}
	sort.Strings(names)
	taxonOf := make(map[string]int, len(names))
	for i, name := range names {
		taxonOf[name] = i
	}

	tc := &TreeCollection{TaxonNames: names, taxonOf: taxonOf}
	for i, topology := range topologies {
		if err := topology.validateBifurcating(); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		if topology.LeafCount() != len(names) {
			return nil, fmt.Errorf("tree %d: %w", i, ErrTaxonMismatch)
		}
		if err := topology.Polish(taxonOf); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		tc.Trees = append(tc.Trees, NewTree(topology))
	}
	return tc, nil
}

// TaxonCount returns the number of taxa.
func (tc *TreeCollection) TaxonCount() int { return len(tc.TaxonNames) }

// TreeCount returns the number of trees.
func (tc *TreeCollection) TreeCount() int { return len(tc.Trees) }

// TaxonIndexOf returns the id of a taxon name.
func (tc *TreeCollection) TaxonIndexOf(name string) (int, bool) {
	id, ok := tc.taxonOf[name]
	return id, ok
}

// A TopologyCounter is a multiset of topologies with float weights and a
// deterministic iteration order (first-appearance order).
type TopologyCounter struct {
	keys       []string
	topologies map[string]*Node
	counts     map[string]float64
}

// TopologyCounter tallies the distinct topologies of the collection.
func (tc *TreeCollection) TopologyCounter() *TopologyCounter {
	counter := &TopologyCounter{
		topologies: make(map[string]*Node),
		counts:     make(map[string]float64),
	}
	for _, tree := range tc.Trees {
		counter.Add(tree.Topology, 1)
	}
	return counter
}

// Add increments the weight of a topology.
func (c *TopologyCounter) Add(topology *Node, weight float64) {
	key := topology.topologyKey()
	if _, ok := c.counts[key]; !ok {
		c.keys = append(c.keys, key)
		c.topologies[key] = topology
	}
	c.counts[key] += weight
}

// Len returns the number of distinct topologies.
func (c *TopologyCounter) Len() int { return len(c.keys) }

// Each applies f to every (topology, weight) pair in first-appearance order.
func (c *TopologyCounter) Each(f func(topology *Node, weight float64)) {
	for _, key := range c.keys {
		f(c.topologies[key], c.counts[key])
	}
}

// Deroot collapses a degree-2 root: the internal child of the root is fused
// with the root, producing a trifurcating root whose extra child keeps the
// sum of the two root edge lengths. The input must have at least three taxa.
// The receiver is not modified.
func (n *Node) Deroot() *Node {
	assertThat(len(n.children) == 2, "Deroot of a node with %d children", len(n.children))
	root := n.deepCopy()
	left, right := root.children[0], root.children[1]
	var fused, kept *Node
	switch {
	case !left.IsLeaf():
		fused, kept = left, right
	case !right.IsLeaf():
		fused, kept = right, left
	default:
		failf("cannot deroot a two-taxon tree")
	}
	kept.branchLength += fused.branchLength
	children := append([]*Node{}, fused.children...)
	children = append(children, kept)
	return &Node{children: children}
}

// RerootAbove builds the rooted topology obtained by placing the root on the
// edge above the target node of a derooted (trifurcating-root) topology. The
// target is identified by its leaf set. Branch lengths are not tracked
// through rerooting; the result is for topology work only and must be
// Polished by the caller.
func RerootAbove(derooted *Node, target Bitset) *Node {
	parents := make(map[*Node]*Node)
	var targetNode *Node
	derooted.Preorder(func(m *Node) {
		for _, child := range m.children {
			parents[child] = m
		}
		if m != derooted && m.leaves.Equal(target) {
			targetNode = m
		}
	})
	assertThat(targetNode != nil, "reroot target %v not found", target)

	// lift(u, from) rebuilds the subtree hanging rootward of u, viewed from
	// the edge u--from.
	var lift func(u, from *Node) *Node
	lift = func(u, from *Node) *Node {
		rest := make([]*Node, 0, len(u.children))
		for _, child := range u.children {
			if child != from {
				rest = append(rest, strip(child))
			}
		}
		if parent, ok := parents[u]; ok {
			rest = append(rest, lift(parent, u))
		}
		if len(rest) == 1 {
			return rest[0]
		}
		assertThat(len(rest) == 2, "rerooting produced a node with %d children", len(rest))
		return NewInternal(rest...)
	}
	return NewInternal(strip(targetNode), lift(parents[targetNode], targetNode))
}

// strip clones a subtree dropping ids, leaf sets, and branch lengths.
func strip(n *Node) *Node {
	if n.IsLeaf() {
		return NewLeaf(n.name)
	}
	children := make([]*Node, len(n.children))
	for i, child := range n.children {
		children[i] = strip(child)
	}
	return NewInternal(children...)
}
