// Copyright 2019-2021 libsbn project contributors.
//
// libsbn is free software under the GPLv3; see LICENSE file for details.

package libsbn

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fiveTaxonInstance(t *testing.T) *Instance {
	t.Helper()
	inst := NewInstance("five")
	require.NoError(t, inst.ReadFastaFile("testdata/five_taxon.fasta"))
	require.NoError(t, inst.ReadNewickFile("testdata/five_taxon.nwk"))
	require.NoError(t, inst.MakeEngine())
	t.Cleanup(func() { inst.Close() })
	inst.HotStartBranchLengths()
	return inst
}

func TestInstanceRequiresInputs(t *testing.T) {
	inst := NewInstance("empty")
	assert.ErrorIs(t, inst.ProcessLoadedTrees(), ErrNoTrees)
	assert.ErrorIs(t, inst.MakeEngine(), ErrNoTrees)

	require.NoError(t, inst.ReadNewickFile("testdata/hello.nwk"))
	assert.ErrorIs(t, inst.MakeEngine(), ErrEmptyAlignment)

	// Alignment taxa must cover the tree taxa.
	inst.SetAlignment(NewAlignment(map[string]string{
		"mars": "ACGT", "saturn": "ACGT", "venus": "ACGT",
	}))
	assert.ErrorIs(t, inst.MakeEngine(), ErrTaxonMismatch)
}

// Normalisation after SBN-parameter optimisation: the rootsplit block and
// every parent range of q sum to one.
func TestEstimateSBNParametersNormalisation(t *testing.T) {
	inst := fiveTaxonInstance(t)
	inst.EstimateSBNParameters()

	dag := inst.DAG()
	q := inst.Engine().SBNParameters()
	sum := 0.0
	for i := 0; i < dag.RootsplitCount(); i++ {
		sum += q[i]
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	for id := dag.TaxonCount(); id < dag.NodeCount(); id++ {
		node := dag.GetDAGNode(id)
		for _, side := range []CladeSide{RightSide, LeftSide} {
			if len(node.Neighbors(Leafward, side)) == 0 {
				continue
			}
			block, ok := dag.SubsplitRange(maybeRotate(node.Subsplit(), side))
			require.True(t, ok)
			sum := 0.0
			for i := block.Start; i < block.End; i++ {
				sum += q[i]
			}
			assert.InDelta(t, 1.0, sum, 1e-12)
		}
	}
	assert.False(t, math.IsNaN(inst.LogMarginalLikelihood()))
	assert.False(t, math.IsInf(inst.LogMarginalLikelihood(), 1))
}

func TestMarginalAggregatesRootsplits(t *testing.T) {
	inst := fiveTaxonInstance(t)
	inst.ComputeLikelihoods()
	// With two rootsplits, the marginal is the LogAdd of the per-rootsplit
	// likelihoods.
	dag := inst.DAG()
	require.Equal(t, 2, dag.RootsplitCount())
	lls := inst.Engine().LogLikelihoods()
	assert.InDelta(t, LogAdd(lls[0], lls[1]), inst.LogMarginalLikelihood(), 1e-12)
}

func TestMmapBackedEngine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plvs.bin")

	mapped := NewInstance("mapped")
	require.NoError(t, mapped.ReadFastaFile("testdata/hello.fasta"))
	require.NoError(t, mapped.ReadNewickFile("testdata/hello.nwk"))
	require.NoError(t, mapped.MakeEngine(MmapFile(path)))
	mapped.HotStartBranchLengths()
	mapped.ComputeLikelihoods()
	mappedLL := mapped.LogMarginalLikelihood()

	plain := helloInstance(t)
	plain.ComputeLikelihoods()
	assert.InDelta(t, plain.LogMarginalLikelihood(), mappedLL, 1e-12)

	// The backing file is a headerless raw double array of
	// plvCount · stateCount · patternCount entries, and it survives Close.
	require.NoError(t, mapped.Close())
	info, err := os.Stat(path)
	require.NoError(t, err)
	dag := mapped.DAG()
	patternCount := 15
	assert.Equal(t, int64(PLVCountPerNode*dag.NodeCount()*4*patternCount*8), info.Size())
}

func TestPrettyIndexer(t *testing.T) {
	inst := helloInstance(t)
	pretty := inst.PrettyIndexer()
	require.Len(t, pretty, inst.DAG().GPCSPCount())
	assert.Equal(t, "011|100", pretty[0])
	for _, entry := range pretty[1:] {
		assert.Contains(t, entry, "->")
	}
}

func TestSBNParametersToCSV(t *testing.T) {
	inst := helloInstance(t)
	path := filepath.Join(t.TempDir(), "q.csv")
	require.NoError(t, inst.SBNParametersToCSV(path))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	assert.Len(t, lines, inst.DAG().GPCSPCount())
	assert.Equal(t, "011|100,1", lines[0])
}

func TestInstanceTraining(t *testing.T) {
	inst := fiveTaxonInstance(t)
	saParameters, saIdx := inst.TrainSimpleAverage()
	emParameters, emIdx := inst.TrainExpectationMaximization(0, 10)
	require.Equal(t, saIdx.Count(), emIdx.Count())

	saProbs := inst.TopologyProbabilities(saParameters, saIdx)
	emProbs := inst.TopologyProbabilities(emParameters, emIdx)
	require.Len(t, saProbs, 3)
	require.Len(t, emProbs, 3)

	// The EM estimate assigns at least as much total log probability to the
	// observed topologies, weighting the duplicated topology twice.
	counter := IndexerRepresentationCounterOf(saIdx, inst.TreeCollection())
	assert.GreaterOrEqual(t,
		TotalLogProbability(emParameters, counter),
		TotalLogProbability(saParameters, counter)-1e-10)
}
