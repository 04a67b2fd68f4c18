// Copyright 2019-2021 libsbn project contributors.
//
// libsbn is free software under the GPLv3; see LICENSE file for details.

package libsbn

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/evolbioinfo/gotree/io/newick"
	gotree "github.com/evolbioinfo/gotree/tree"
)

// Newick parsing is delegated to gotree; this file only converts gotree's
// neighbor-list trees into this package's child-list topologies.

// ReadNewickFile parses a file with one Newick tree per line into a
// TreeCollection.
func ReadNewickFile(path string) (*TreeCollection, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var topologies []*Node
	for lineno, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		topology, err := ParseNewick(strings.NewReader(line))
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineno+1, err)
		}
		topologies = append(topologies, topology)
	}
	return NewTreeCollection(topologies)
}

// ParseNewick parses a single Newick tree into an unpolished topology with
// branch lengths recorded on the nodes.
func ParseNewick(r io.Reader) (*Node, error) {
	t, err := newick.NewParser(r).Parse()
	if err != nil {
		return nil, err
	}
	root := t.Root()
	if root == nil {
		return nil, fmt.Errorf("newick tree has no root")
	}
	return convertGotreeNode(root, nil, 0), nil
}

// convertGotreeNode walks away from prev, turning neighbor lists into child
// lists and harvesting edge lengths.
func convertGotreeNode(n, prev *gotree.Node, branchLength float64) *Node {
	var children []*Node
	for i, neighbor := range n.Neigh() {
		if neighbor == prev {
			continue
		}
		length := n.Edges()[i].Length()
		if length < 0 { // gotree reports missing lengths as -1
			length = 0
		}
		children = append(children, convertGotreeNode(neighbor, n, length))
	}
	var node *Node
	if len(children) == 0 {
		node = NewLeaf(n.Name())
	} else {
		node = NewInternal(children...)
	}
	node.branchLength = branchLength
	return node
}
