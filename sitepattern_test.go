// Copyright 2019-2021 libsbn project contributors.
//
// libsbn is free software under the GPLv3; see LICENSE file for details.

package libsbn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func helloAlignment(t *testing.T) Alignment {
	t.Helper()
	alignment, err := ReadFastaFile("testdata/hello.fasta")
	require.NoError(t, err)
	return alignment
}

func TestReadFasta(t *testing.T) {
	alignment := helloAlignment(t)
	assert.Equal(t, 3, alignment.SequenceCount())
	assert.Equal(t, 31, alignment.Length())
	assert.Equal(t, "CCGAG-AGCAGCAATGGAT-GAGGCATGGCG", alignment.At("mars"))
	assert.Equal(t, []string{"jupiter", "mars", "saturn"}, alignment.TaxonNames())
}

func TestAlignmentValidation(t *testing.T) {
	ragged := NewAlignment(map[string]string{"a": "ACGT", "b": "ACG"})
	assert.ErrorIs(t, ragged.Validate(), ErrRaggedAlignment)

	unknown := NewAlignment(map[string]string{"a": "ACGT", "b": "ACNT"})
	assert.ErrorIs(t, unknown.Validate(), ErrUnknownSymbol)

	empty := NewAlignment(map[string]string{})
	assert.ErrorIs(t, empty.Validate(), ErrEmptyAlignment)
}

func TestSitePatternCompression(t *testing.T) {
	alignment := helloAlignment(t)
	sp, err := NewSitePattern(alignment, alignment.TaxonNames())
	require.NoError(t, err)

	// The hello alignment has 31 sites collapsing to 15 unique patterns.
	assert.Equal(t, 15, sp.PatternCount())
	assert.Equal(t, 31.0, sp.SiteCount())
	assert.Equal(t, 3, sp.TaxonCount())
	for _, w := range sp.Weights() {
		assert.GreaterOrEqual(t, w, 1.0)
	}

	// Identical columns share a single pattern: GGG across all taxa shows up
	// nine times.
	found := false
	for j := 0; j < sp.PatternCount(); j++ {
		if sp.Patterns()[0][j] == 2 && sp.Patterns()[1][j] == 2 && sp.Patterns()[2][j] == 2 {
			assert.Equal(t, 9.0, sp.Weights()[j])
			found = true
		}
	}
	assert.True(t, found)
}

func TestSitePatternGapSymbol(t *testing.T) {
	alignment := helloAlignment(t)
	sp, err := NewSitePattern(alignment, alignment.TaxonNames())
	require.NoError(t, err)
	// mars (taxon 1 in sorted order) has gaps; its symbol stream must carry
	// the gap symbol.
	gaps := 0
	for _, symbol := range sp.Patterns()[1] {
		if symbol == gapSymbol {
			gaps++
		}
	}
	assert.Equal(t, 2, gaps)
}

func TestSitePatternTaxonMismatch(t *testing.T) {
	alignment := helloAlignment(t)
	_, err := NewSitePattern(alignment, []string{"jupiter", "mars", "venus"})
	assert.ErrorIs(t, err, ErrTaxonMismatch)
	_, err = NewSitePattern(alignment, []string{"jupiter", "mars"})
	assert.ErrorIs(t, err, ErrTaxonMismatch)
}
