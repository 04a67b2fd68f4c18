// Copyright 2019-2021 libsbn project contributors.
//
// libsbn is free software under the GPLv3; see LICENSE file for details.

package libsbn

import (
	"errors"
	"fmt"
)

// Input-shape errors. These surface as ordinary error values from
// constructors and Read* methods, before any engine operation runs. Everything
// past input validation is an internal invariant; violations there are
// programming errors and abort via failf.
var (
	// ErrEmptyAlignment is returned when an alignment has no sequences.
	ErrEmptyAlignment = errors.New("alignment has no sequences")

	// ErrRaggedAlignment is returned when the sequences of an alignment do
	// not all have the same length.
	ErrRaggedAlignment = errors.New("alignment sequences are not all the same length")

	// ErrUnknownSymbol is returned when a sequence contains a character
	// outside {A,C,G,T,a,c,g,t,-}.
	ErrUnknownSymbol = errors.New("unknown nucleotide symbol")

	// ErrNotBifurcating is returned when a tree has a node with a number of
	// children other than 0 or 2.
	ErrNotBifurcating = errors.New("tree is not bifurcating")

	// ErrTooFewTaxa is returned for trees over fewer than two taxa.
	ErrTooFewTaxa = errors.New("tree has fewer than two taxa")

	// ErrTaxonMismatch is returned when tree leaf labels and alignment taxa
	// do not agree.
	ErrTaxonMismatch = errors.New("tree taxa do not match alignment taxa")

	// ErrNoTrees is returned when a tree collection is empty.
	ErrNoTrees = errors.New("tree collection is empty")
)

// failf reports a fatal internal error: an indexer lookup miss, a numeric
// failure, or a resource failure (§7 kinds 2-4). The core never retries, so
// these abort by panicking with a formatted message.
func failf(format string, a ...interface{}) {
	panic(fmt.Sprintf("libsbn: "+format, a...))
}

// assertThat is the tiny sibling of failf used to guard invariants that the
// scheduler and engine rely on.
func assertThat(cond bool, format string, a ...interface{}) {
	if !cond {
		failf(format, a...)
	}
}
