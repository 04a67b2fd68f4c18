// Copyright 2019-2021 libsbn project contributors.
//
// libsbn is free software under the GPLv3; see LICENSE file for details.

package libsbn

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
)

// An Alignment maps taxon names to nucleotide strings. All sequences must
// have the same length. The character '-' denotes a gap and maps to an
// all-ones tip partial likelihood.
type Alignment struct {
	data map[string]string
}

// NewAlignment wraps a taxon-to-sequence map.
func NewAlignment(data map[string]string) Alignment {
	return Alignment{data: data}
}

// Data returns the underlying taxon-to-sequence map.
func (a Alignment) Data() map[string]string { return a.data }

// SequenceCount returns the number of sequences.
func (a Alignment) SequenceCount() int { return len(a.data) }

// Length returns the common sequence length.
func (a Alignment) Length() int {
	for _, seq := range a.data {
		return len(seq)
	}
	return 0
}

// TaxonNames returns the taxon names in sorted order. This order defines the
// leaf ids used throughout the package.
func (a Alignment) TaxonNames() []string {
	names := make([]string, 0, len(a.data))
	for name := range a.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// At returns the sequence for a taxon; the taxon must be present.
func (a Alignment) At(taxon string) string {
	seq, ok := a.data[taxon]
	if !ok {
		failf("taxon %q not found in alignment", taxon)
	}
	return seq
}

// Validate checks that the alignment is non-empty, aligned, and uses only
// known symbols.
func (a Alignment) Validate() error {
	if len(a.data) == 0 {
		return ErrEmptyAlignment
	}
	length := a.Length()
	for taxon, seq := range a.data {
		if len(seq) != length {
			return fmt.Errorf("%w: taxon %q has length %d, want %d", ErrRaggedAlignment, taxon, len(seq), length)
		}
		for i := 0; i < len(seq); i++ {
			if _, ok := symbolTable[seq[i]]; !ok {
				return fmt.Errorf("%w: %q in taxon %q at site %d", ErrUnknownSymbol, seq[i], taxon, i)
			}
		}
	}
	return nil
}

// ReadFastaFile reads an alignment from a FASTA file.
func ReadFastaFile(path string) (Alignment, error) {
	f, err := os.Open(path)
	if err != nil {
		return Alignment{}, err
	}
	defer f.Close()

	data := make(map[string]string)
	var taxon string
	var seq strings.Builder
	flush := func() error {
		if taxon == "" {
			return nil
		}
		if _, dup := data[taxon]; dup {
			return fmt.Errorf("duplicate taxon %q in %s", taxon, path)
		}
		data[taxon] = seq.String()
		seq.Reset()
		return nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1<<16), 1<<24)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line[0] == '>' {
			if err := flush(); err != nil {
				return Alignment{}, err
			}
			taxon = strings.TrimSpace(line[1:])
			continue
		}
		seq.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return Alignment{}, err
	}
	if err := flush(); err != nil {
		return Alignment{}, err
	}

	alignment := NewAlignment(data)
	if err := alignment.Validate(); err != nil {
		return Alignment{}, err
	}
	return alignment, nil
}
