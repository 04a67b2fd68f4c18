// Copyright 2019-2021 libsbn project contributors.
//
// libsbn is free software under the GPLv3; see LICENSE file for details.

package libsbn

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func helloInstance(t *testing.T, options ...func(*configs)) *Instance {
	t.Helper()
	inst := NewInstance("hello")
	require.NoError(t, inst.ReadFastaFile("testdata/hello.fasta"))
	require.NoError(t, inst.ReadNewickFile("testdata/hello.nwk"))
	require.NoError(t, inst.MakeEngine(options...))
	t.Cleanup(func() { inst.Close() })
	inst.HotStartBranchLengths()
	return inst
}

// End-to-end scenario: three taxa, 31 sites, JC69, constant rate. The
// log-likelihood matches the reference value.
func TestHelloLogLikelihood(t *testing.T) {
	inst := helloInstance(t)
	inst.ComputeLikelihoods()
	assert.InDelta(t, -84.852358, inst.LogMarginalLikelihood(), 1e-6)

	// With a single tree and q = 1 everywhere, every per-edge likelihood
	// equals the full tree likelihood.
	lls := inst.Engine().LogLikelihoods()
	for edge := inst.DAG().RootsplitCount(); edge < inst.DAG().GPCSPCount(); edge++ {
		assert.InDelta(t, -84.852358, lls[edge], 1e-6, "edge %d", edge)
	}
}

// The marginal accumulator resets between runs instead of compounding.
func TestMarginalLikelihoodResets(t *testing.T) {
	inst := helloInstance(t)
	inst.ComputeLikelihoods()
	first := inst.LogMarginalLikelihood()
	inst.ComputeLikelihoods()
	assert.Equal(t, first, inst.LogMarginalLikelihood())
}

func TestHotStartBranchLengths(t *testing.T) {
	inst := helloInstance(t)
	lengths := inst.Engine().BranchLengths()
	// The rootsplit slot is not a tree edge and keeps its default.
	assert.Equal(t, 1.0, lengths[0])
	for edge := inst.DAG().RootsplitCount(); edge < inst.DAG().GPCSPCount(); edge++ {
		assert.InDelta(t, 0.1, lengths[edge], 1e-12)
	}
}

// Boundary case: a gap character yields an all-ones tip PLV column.
func TestGapColumnIsAllOnes(t *testing.T) {
	inst := helloInstance(t)
	eng := inst.Engine()
	sp := eng.sitePattern
	const marsID = 1
	plv := eng.PLVValue(PLVIndex(PLVP, inst.DAG().NodeCount(), marsID))
	sawGap := false
	for j, symbol := range sp.Patterns()[marsID] {
		if symbol != gapSymbol {
			continue
		}
		sawGap = true
		for s := 0; s < 4; s++ {
			assert.Equal(t, 1.0, plv.At(s, j))
		}
	}
	assert.True(t, sawGap)
}

// Boundary case: two taxa, one rootsplit, closed-form JC likelihood.
func TestTwoTaxonClosedForm(t *testing.T) {
	inst := NewInstance("pair")
	inst.SetAlignment(NewAlignment(map[string]string{
		"A": "AAGC",
		"B": "AATC",
	}))
	topology, err := ParseNewick(strings.NewReader("(A:0.1,B:0.2);"))
	require.NoError(t, err)
	tc, err := NewTreeCollection([]*Node{topology})
	require.NoError(t, err)
	require.NoError(t, inst.SetTreeCollection(tc))
	require.NoError(t, inst.MakeEngine())
	defer inst.Close()
	inst.HotStartBranchLengths()
	inst.ComputeLikelihoods()

	// Three matching sites and one mismatch at total distance 0.3.
	e := math.Exp(-4.0 * 0.3 / 3.0)
	same := math.Log(0.25 * (0.25 + 0.75*e))
	diff := math.Log(0.25 * (0.25 - 0.25*e))
	assert.InDelta(t, 3*same+diff, inst.LogMarginalLikelihood(), 1e-12)
	assert.Equal(t, 1, inst.DAG().RootsplitCount())
}

// caterpillarNewick builds a rooted caterpillar over n taxa with every branch
// at the given length.
func caterpillarNewick(n int, branchLength float64) string {
	tree := fmt.Sprintf("t00:%g", branchLength)
	for i := 1; i < n; i++ {
		tree = fmt.Sprintf("(%s,t%02d:%g):%g", tree, i, branchLength, branchLength)
	}
	// The outermost length is dropped: the root carries no branch.
	return tree[:strings.LastIndex(tree, ":")] + ";"
}

// Rescaling correctness: a deep caterpillar with long branches forces
// rescaling at a coarse threshold; the result agrees with an engine whose
// threshold never triggers.
func TestRescalingSoundness(t *testing.T) {
	newick := caterpillarNewick(20, 10.0)
	sequences := make(map[string]string, 20)
	for i := 0; i < 20; i++ {
		sequences[fmt.Sprintf("t%02d", i)] = "A"
	}

	run := func(threshold float64) (*Instance, float64) {
		inst := NewInstance("caterpillar")
		inst.SetAlignment(NewAlignment(sequences))
		topology, err := ParseNewick(strings.NewReader(newick))
		require.NoError(t, err)
		tc, err := NewTreeCollection([]*Node{topology})
		require.NoError(t, err)
		require.NoError(t, inst.SetTreeCollection(tc))
		require.NoError(t, inst.MakeEngine(RescalingThreshold(threshold)))
		inst.HotStartBranchLengths()
		inst.ComputeLikelihoods()
		return inst, inst.LogMarginalLikelihood()
	}

	coarse, coarseLL := run(math.Ldexp(1, -10))
	defer coarse.Close()
	fine, fineLL := run(1e-300)
	defer fine.Close()

	require.False(t, math.IsInf(coarseLL, 0))
	assert.InDelta(t, fineLL, coarseLL, 1e-9)

	// The coarse engine actually rescaled: the root p slot carries a positive
	// counter, and its stored minimum is at or above the threshold.
	dag := coarse.DAG()
	rootID := dag.RootsplitNodeIds()[0]
	slot := PLVIndex(PLVP, dag.NodeCount(), rootID)
	assert.Greater(t, coarse.Engine().RescalingCount(slot), 0)
	assert.GreaterOrEqual(t, coarse.Engine().PLVValue(slot).Min(), math.Ldexp(1, -10))
	assert.Zero(t, fine.Engine().RescalingCount(slot))
}

// End-to-end scenario: Brent recovers the closed-form JC maximum-likelihood
// distance for site patterns {AA: 10, AC: 1}.
func TestBrentRecoversClosedFormMLE(t *testing.T) {
	inst := NewInstance("mle")
	inst.SetAlignment(NewAlignment(map[string]string{
		"A": "AAAAAAAAAAA",
		"B": "AAAAAAAAAAC",
	}))
	topology, err := ParseNewick(strings.NewReader("(A:1.0,B:1.0);"))
	require.NoError(t, err)
	tc, err := NewTreeCollection([]*Node{topology})
	require.NoError(t, err)
	require.NoError(t, inst.SetTreeCollection(tc))
	require.NoError(t, inst.MakeEngine())
	defer inst.Close()

	dag := inst.DAG()
	eng := inst.Engine()
	rootID := dag.RootsplitNodeIds()[0]
	edgeToA := dag.GPCSPIndex(rootID, 0, RightSide)
	edgeToB := dag.GPCSPIndex(rootID, 1, LeftSide)
	eng.SetBranchLength(edgeToA, 1.0)
	eng.SetBranchLength(edgeToB, 1e-6)

	inst.PopulatePLVs()
	eng.ProcessOperations(dag.BranchLengthOptimization())

	mle := -0.75 * math.Log(1-4.0/3.0*(1.0/11.0))
	total := eng.BranchLengths()[edgeToA] + eng.BranchLengths()[edgeToB]
	assert.InDelta(t, mle, total, 1e-5)
}

// A strictly worse Brent result reverts to the starting branch length; an
// already-optimal start therefore survives optimisation.
func TestOptimizationFromOptimumIsStable(t *testing.T) {
	inst := helloInstance(t)
	inst.EstimateBranchLengths(1e-8, 20)
	first := inst.Engine().BranchLengths()
	marginal := inst.LogMarginalLikelihood()
	inst.EstimateBranchLengths(1e-8, 1)
	second := inst.Engine().BranchLengths()
	for i := range first {
		assert.InDelta(t, first[i], second[i], 1e-4)
	}
	assert.InDelta(t, marginal, inst.LogMarginalLikelihood(), 1e-6)
}

func TestBranchLengthOptimizationImprovesMarginal(t *testing.T) {
	inst := helloInstance(t)
	before := inst.computeMarginal()
	inst.EstimateBranchLengths(1e-6, 10)
	after := inst.LogMarginalLikelihood()
	assert.GreaterOrEqual(t, after, before-1e-10)
	for _, length := range inst.Engine().BranchLengths() {
		assert.GreaterOrEqual(t, length, _DEFAULTBRANCHLENGTHMIN)
		assert.LessOrEqual(t, length, _DEFAULTBRANCHLENGTHMAX)
	}
}

// The engine enforces its fatal failure modes.
func TestEngineFatalConditions(t *testing.T) {
	alignment := helloAlignment(t)
	sp, err := NewSitePattern(alignment, alignment.TaxonNames())
	require.NoError(t, err)

	eng, err := NewEngine(sp, NewJC69(), ConstantSiteModel{}, StrictClockModel{Rate: 1}, 12, 4)
	require.NoError(t, err)
	defer eng.Close()

	// Empty source list in PrepForMarginalization.
	assert.Panics(t, func() {
		eng.ProcessOperations(Operations{PrepForMarginalization{Dst: 5, Srcs: nil}})
	})
	// Normalising a range of all minus-infinity log-likelihoods.
	assert.Panics(t, func() {
		eng.ProcessOperations(Operations{
			Likelihood{Edge: 0, Parent: 5, Child: 6},
			Likelihood{Edge: 1, Parent: 5, Child: 6},
			UpdateSBNProbabilities{Start: 0, Stop: 2},
		})
	})
}

func TestUpdateSBNProbabilitiesSingleElement(t *testing.T) {
	alignment := helloAlignment(t)
	sp, err := NewSitePattern(alignment, alignment.TaxonNames())
	require.NoError(t, err)
	eng, err := NewEngine(sp, NewJC69(), ConstantSiteModel{}, StrictClockModel{Rate: 1}, 12, 4)
	require.NoError(t, err)
	defer eng.Close()

	eng.SetSBNParameters([]float64{0.25, 0.25, 0.25, 0.25})
	eng.ProcessOperations(Operations{UpdateSBNProbabilities{Start: 2, Stop: 3}})
	assert.Equal(t, 1.0, eng.SBNParameters()[2])
	// An empty range is a no-op.
	eng.ProcessOperations(Operations{UpdateSBNProbabilities{Start: 1, Stop: 1}})
	assert.Equal(t, 0.25, eng.SBNParameters()[1])
}
