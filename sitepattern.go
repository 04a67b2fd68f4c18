// Copyright 2019-2021 libsbn project contributors.
//
// libsbn is free software under the GPLv3; see LICENSE file for details.

package libsbn

import "fmt"

// symbolTable maps nucleotide characters to integer symbols. The value
// gapSymbol (equal to the state count) marks a gap.
var symbolTable = map[byte]int{
	'A': 0, 'C': 1, 'G': 2, 'T': 3,
	'a': 0, 'c': 1, 'g': 2, 't': 3,
	'-': 4,
}

const gapSymbol = 4

// A SitePattern is an alignment compressed into its unique columns. Each
// pattern carries an integer weight equal to the number of alignment columns
// showing it; the weights are stored as floats because everything downstream
// works in doubles. Pattern order is the order of first appearance along the
// alignment, so the compression is deterministic.
type SitePattern struct {
	patterns [][]int   // per taxon: the symbol at each pattern
	weights  []float64 // per pattern: its multiplicity
}

// NewSitePattern compresses an alignment using the given taxon order: taxon i
// of the result is taxonNames[i]. Every taxon must be present in the
// alignment.
func NewSitePattern(alignment Alignment, taxonNames []string) (*SitePattern, error) {
	if err := alignment.Validate(); err != nil {
		return nil, err
	}
	if len(taxonNames) != alignment.SequenceCount() {
		return nil, fmt.Errorf("%w: %d taxa in tree order, %d in alignment",
			ErrTaxonMismatch, len(taxonNames), alignment.SequenceCount())
	}
	sequences := make([]string, len(taxonNames))
	for i, name := range taxonNames {
		seq, ok := alignment.Data()[name]
		if !ok {
			return nil, fmt.Errorf("%w: taxon %q not in alignment", ErrTaxonMismatch, name)
		}
		sequences[i] = seq
	}

	taxonCount := len(taxonNames)
	length := alignment.Length()
	sp := &SitePattern{patterns: make([][]int, taxonCount)}
	seen := make(map[string]int) // column string -> pattern index
	column := make([]byte, taxonCount)
	for site := 0; site < length; site++ {
		for t := 0; t < taxonCount; t++ {
			column[t] = sequences[t][site]
		}
		key := string(column)
		if idx, ok := seen[key]; ok {
			sp.weights[idx]++
			continue
		}
		seen[key] = len(sp.weights)
		sp.weights = append(sp.weights, 1)
		for t := 0; t < taxonCount; t++ {
			sp.patterns[t] = append(sp.patterns[t], symbolTable[column[t]])
		}
	}
	if len(sp.weights) == 0 {
		return nil, fmt.Errorf("%w: alignment has zero sites", ErrEmptyAlignment)
	}
	return sp, nil
}

// PatternCount returns the number of unique site patterns.
func (sp *SitePattern) PatternCount() int { return len(sp.weights) }

// TaxonCount returns the number of taxa.
func (sp *SitePattern) TaxonCount() int { return len(sp.patterns) }

// SiteCount returns the total number of alignment columns, i.e. the sum of
// the pattern weights.
func (sp *SitePattern) SiteCount() float64 {
	total := 0.0
	for _, w := range sp.weights {
		total += w
	}
	return total
}

// Weights returns the per-pattern multiplicities. The slice is owned by the
// SitePattern.
func (sp *SitePattern) Weights() []float64 { return sp.weights }

// Patterns returns, for each taxon, the symbol shown at each pattern.
func (sp *SitePattern) Patterns() [][]int { return sp.patterns }
