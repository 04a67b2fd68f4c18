// Copyright 2019-2021 libsbn project contributors.
//
// libsbn is free software under the GPLv3; see LICENSE file for details.

package libsbn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// The Engine executes operation streams against the PLV arena. It owns all
// mutable numeric state of an inference: branch lengths, SBN parameters q,
// per-edge log-likelihoods, the running log-marginal likelihood, and the
// per-slot rescaling counters. The eigendecomposition is borrowed from the
// substitution model; the transition, diagonal and derivative matrices are
// per-call scratch that no operation may read across calls.
//
// Rescaling discipline: the true value of a slot is its stored value times
// threshold^count. A Multiply result whose minimum entry dips below the
// threshold is divided by the threshold until it no longer does, bumping the
// counter each time. An increment from a more-rescaled source deflates the
// contribution by threshold^(count_src - count_dst); the scheduler's
// PrepForMarginalization sets count_dst to the minimum over the sources at
// prep time, and a source refreshed after the prep can carry a lower count,
// in which case the exponent is negative and the contribution is inflated.
// Per-pattern log-likelihoods
// add count·log(threshold) back in.
type Engine struct {
	sitePattern *SitePattern
	model       SubstitutionModel
	siteModel   SiteModel
	clockModel  ClockModel
	cfg         *configs

	arena           *plvArena
	plvs            []PLV
	rescalingCounts []int

	branchLengths         []float64
	logLikelihoods        []float64
	q                     []float64
	logMarginalLikelihood float64

	patternWeights []float64
	siteRate       float64

	// Scratch. Write-only caches across operations.
	diagData                 []float64
	diag                     *mat.DiagDense
	sandwich                 *mat.Dense
	transition               *mat.Dense
	derivative               *mat.Dense
	evolvedRow               []float64
	perPatternLogLikelihoods []float64
	perPatternLikelihoods    []float64
	perPatternDerivatives    []float64
}

// NewEngine builds an engine over a site pattern and substitution model with
// plvCount PLV slots and gpcspCount edge parameter slots. Branch lengths
// start at 1 and q at 1; the log-marginal likelihood starts at -Inf.
func NewEngine(sitePattern *SitePattern, model SubstitutionModel, siteModel SiteModel,
	clockModel ClockModel, plvCount, gpcspCount int, options ...func(*configs)) (*Engine, error) {
	cfg := makeconfigs()
	for _, option := range options {
		option(cfg)
	}
	if plvCount <= 0 {
		failf("zero PLV count in engine construction")
	}
	if sitePattern.PatternCount() == 0 {
		failf("zero pattern count in engine construction")
	}
	if siteModel.CategoryCount() != 1 {
		failf("only single-category site models are supported")
	}

	states := model.StateCount()
	patterns := sitePattern.PatternCount()
	arena, err := newPLVArena(plvCount, states, patterns, cfg.mmapFilePath)
	if err != nil {
		return nil, err
	}

	eng := &Engine{
		sitePattern:           sitePattern,
		model:                 model,
		siteModel:             siteModel,
		clockModel:            clockModel,
		cfg:                   cfg,
		arena:                 arena,
		plvs:                  make([]PLV, plvCount),
		rescalingCounts:       make([]int, plvCount),
		branchLengths:         make([]float64, gpcspCount),
		logLikelihoods:        make([]float64, gpcspCount),
		q:                     make([]float64, gpcspCount),
		logMarginalLikelihood: math.Inf(-1),
		patternWeights:        sitePattern.Weights(),
		siteRate:              siteModel.CategoryRates()[0],

		diagData:                 make([]float64, states),
		sandwich:                 mat.NewDense(states, states, nil),
		transition:               mat.NewDense(states, states, nil),
		derivative:               mat.NewDense(states, states, nil),
		evolvedRow:               make([]float64, patterns),
		perPatternLogLikelihoods: make([]float64, patterns),
		perPatternLikelihoods:    make([]float64, patterns),
		perPatternDerivatives:    make([]float64, patterns),
	}
	eng.diag = mat.NewDiagDense(states, eng.diagData)
	for i := 0; i < plvCount; i++ {
		eng.plvs[i] = arena.PLV(i)
	}
	for i := range eng.branchLengths {
		eng.branchLengths[i] = 1
		eng.q[i] = 1
	}
	eng.initializePLVsWithSitePatterns()
	return eng, nil
}

// Close releases the PLV arena. A configured backing file is left on disk.
func (eng *Engine) Close() error { return eng.arena.Close() }

// initializePLVsWithSitePatterns writes the tip partial likelihoods: taxon t
// occupies PLV slot t. A gap symbol yields an all-ones column.
func (eng *Engine) initializePLVsWithSitePatterns() {
	states := eng.model.StateCount()
	for taxon, pattern := range eng.sitePattern.Patterns() {
		plv := eng.plvs[taxon]
		plv.zero()
		for site, symbol := range pattern {
			assertThat(symbol >= 0, "negative symbol in site pattern")
			if symbol == states { // gap
				for s := 0; s < states; s++ {
					plv.Set(s, site, 1)
				}
			} else if symbol < states {
				plv.Set(symbol, site, 1)
			}
		}
	}
}

// ProcessOperations executes an operation stream in order. This is the single
// dispatch site pairing the scheduler's bytecode with the numeric kernels.
func (eng *Engine) ProcessOperations(ops Operations) {
	for _, op := range ops {
		switch op := op.(type) {
		case Zero:
			eng.applyZero(op)
		case SetToStationary:
			eng.applySetToStationary(op)
		case Multiply:
			eng.applyMultiply(op)
		case IncrementWithWeightedEvolvedPLV:
			eng.applyIncrement(op)
		case Likelihood:
			eng.applyLikelihood(op)
		case OptimizeBranchLength:
			eng.brentOptimization(op)
		case UpdateSBNProbabilities:
			eng.applyUpdateSBNProbabilities(op)
		case IncrementMarginalLikelihood:
			eng.applyIncrementMarginalLikelihood(op)
		case PrepForMarginalization:
			eng.applyPrepForMarginalization(op)
		default:
			failf("unknown operation %T", op)
		}
	}
}

// ** Transition matrices

// effectiveBranchLength folds the clock and site rates into a branch length.
func (eng *Engine) effectiveBranchLength(gpcsp int) float64 {
	return eng.branchLengths[gpcsp] * eng.clockModel.RateFor(gpcsp) * eng.siteRate
}

func (eng *Engine) setTransitionMatrix(branchLength float64) {
	for i, lambda := range eng.model.Eigenvalues() {
		eng.diagData[i] = math.Exp(branchLength * lambda)
	}
	eng.sandwich.Mul(eng.model.Eigenvectors(), eng.diag)
	eng.transition.Mul(eng.sandwich, eng.model.InverseEigenvectors())
}

func (eng *Engine) setTransitionAndDerivativeMatrices(branchLength float64) {
	eng.setTransitionMatrix(branchLength)
	for i, lambda := range eng.model.Eigenvalues() {
		eng.diagData[i] = lambda * math.Exp(branchLength*lambda)
	}
	eng.sandwich.Mul(eng.model.Eigenvectors(), eng.diag)
	eng.derivative.Mul(eng.sandwich, eng.model.InverseEigenvectors())
}

// ** Rescaling

func (eng *Engine) rescalePLV(idx, count int) {
	assertThat(count >= 0, "negative rescaling count for PLV %d", idx)
	if count == 0 {
		return
	}
	eng.plvs[idx].scaleBy(math.Pow(eng.cfg.rescalingThreshold, -float64(count)))
	eng.rescalingCounts[idx] += count
	if eng.rescalingCounts[idx] > _MAXRESCALINGCOUNT {
		failf("rescaling counter overflow on PLV %d", idx)
	}
}

func (eng *Engine) rescalePLVIfNeeded(idx int) {
	min := eng.plvs[idx].Min()
	if min < 0 {
		failf("negative entry %g in PLV %d", min, idx)
	}
	if min == 0 {
		return
	}
	count := 0
	for min < eng.cfg.rescalingThreshold {
		min /= eng.cfg.rescalingThreshold
		count++
	}
	eng.rescalePLV(idx, count)
}

func (eng *Engine) logRescalingFor(idx int) float64 {
	return float64(eng.rescalingCounts[idx]) * eng.cfg.logRescalingThreshold()
}

// ** Operation kernels

func (eng *Engine) applyZero(op Zero) {
	eng.plvs[op.Dst].zero()
	eng.rescalingCounts[op.Dst] = 0
}

func (eng *Engine) applySetToStationary(op SetToStationary) {
	plv := eng.plvs[op.Dst]
	for s, pi := range eng.model.StationaryFrequencies() {
		row := plv.Row(s)
		for j := range row {
			row[j] = pi
		}
	}
	eng.rescalingCounts[op.Dst] = 0
}

func (eng *Engine) applyMultiply(op Multiply) {
	dst, src1, src2 := eng.plvs[op.Dst], eng.plvs[op.Src1], eng.plvs[op.Src2]
	for i := range dst.data {
		dst.data[i] = src1.data[i] * src2.data[i]
	}
	eng.rescalingCounts[op.Dst] = eng.rescalingCounts[op.Src1] + eng.rescalingCounts[op.Src2]
	eng.rescalePLVIfNeeded(op.Dst)
}

func (eng *Engine) applyIncrement(op IncrementWithWeightedEvolvedPLV) {
	eng.setTransitionMatrix(eng.effectiveBranchLength(op.GPCSP))
	// PrepForMarginalization set the destination's counter to the minimum the
	// sources had at prep time; a source rescaled more than the destination
	// gets its contribution deflated back to the destination's scale, and one
	// rescaled less (possible when a depth-first schedule refreshes a source
	// after the prep) gets inflated.
	diff := eng.rescalingCounts[op.Src] - eng.rescalingCounts[op.Dst]
	weight := eng.q[op.GPCSP]
	if diff != 0 {
		weight *= math.Pow(eng.cfg.rescalingThreshold, float64(diff))
	}
	states := eng.model.StateCount()
	p := eng.transition.RawMatrix().Data
	dst, src := eng.plvs[op.Dst], eng.plvs[op.Src]
	for s := 0; s < states; s++ {
		dstRow := dst.Row(s)
		for t := 0; t < states; t++ {
			coeff := weight * p[s*states+t]
			if coeff == 0 {
				continue
			}
			srcRow := src.Row(t)
			for j := range dstRow {
				dstRow[j] += coeff * srcRow[j]
			}
		}
	}
}

// preparePerPatternLogLikelihoods fills the per-pattern scratch with
// log((parentᵀ · P · child) diagonal) plus the rescaling correction of both
// slots.
func (eng *Engine) preparePerPatternLogLikelihoods(parentIdx, childIdx int) {
	correction := eng.logRescalingFor(parentIdx) + eng.logRescalingFor(childIdx)
	eng.prepareUnrescaledPerPatternProducts(parentIdx, childIdx, eng.transition, eng.perPatternLogLikelihoods)
	for j := range eng.perPatternLogLikelihoods {
		eng.perPatternLogLikelihoods[j] = math.Log(eng.perPatternLogLikelihoods[j]) + correction
	}
}

// prepareUnrescaledPerPatternProducts fills out with the per-pattern values
// of parentᵀ · M · child, ignoring rescaling counters.
func (eng *Engine) prepareUnrescaledPerPatternProducts(parentIdx, childIdx int, m *mat.Dense, out []float64) {
	states := eng.model.StateCount()
	data := m.RawMatrix().Data
	parent, child := eng.plvs[parentIdx], eng.plvs[childIdx]
	for j := range out {
		out[j] = 0
	}
	for s := 0; s < states; s++ {
		for j := range eng.evolvedRow {
			eng.evolvedRow[j] = 0
		}
		for t := 0; t < states; t++ {
			coeff := data[s*states+t]
			if coeff == 0 {
				continue
			}
			childRow := child.Row(t)
			for j := range eng.evolvedRow {
				eng.evolvedRow[j] += coeff * childRow[j]
			}
		}
		parentRow := parent.Row(s)
		for j := range out {
			out[j] += parentRow[j] * eng.evolvedRow[j]
		}
	}
}

func (eng *Engine) weightedLogLikelihood(gpcsp int) float64 {
	total := safeLog(eng.q[gpcsp])
	for j, w := range eng.patternWeights {
		total += w * eng.perPatternLogLikelihoods[j]
	}
	return total
}

func (eng *Engine) applyLikelihood(op Likelihood) {
	eng.setTransitionMatrix(eng.effectiveBranchLength(op.Edge))
	eng.preparePerPatternLogLikelihoods(op.Parent, op.Child)
	eng.logLikelihoods[op.Edge] = eng.weightedLogLikelihood(op.Edge)
}

func (eng *Engine) brentOptimization(op OptimizeBranchLength) {
	negLogLikelihood := func(branchLength float64) float64 {
		eng.setTransitionMatrix(branchLength * eng.clockModel.RateFor(op.GPCSP) * eng.siteRate)
		eng.preparePerPatternLogLikelihoods(op.ParentPLV, op.ChildPLV)
		return -eng.weightedLogLikelihood(op.GPCSP)
	}
	current := eng.branchLengths[op.GPCSP]
	currentValue := negLogLikelihood(current)
	branchLength, value := BrentMinimize(negLogLikelihood,
		eng.cfg.branchLengthMin, eng.cfg.branchLengthMax,
		eng.cfg.significantDigits, eng.cfg.maxIter)
	if branchLength < eng.cfg.branchLengthMin || branchLength > eng.cfg.branchLengthMax {
		failf("optimised branch length %g outside [%g, %g]",
			branchLength, eng.cfg.branchLengthMin, eng.cfg.branchLengthMax)
	}
	// Numerical optimisation sometimes comes back strictly worse than the
	// starting point; revert in that case only.
	if value > currentValue {
		eng.branchLengths[op.GPCSP] = current
	} else {
		eng.branchLengths[op.GPCSP] = branchLength
	}
}

// GradientAscentOptimization is the derivative-driven alternative to Brent
// for a single edge.
func (eng *Engine) GradientAscentOptimization(op OptimizeBranchLength, relativeTolerance, stepSize float64) {
	fAndDf := func(branchLength float64) (float64, float64) {
		eng.branchLengths[op.GPCSP] = branchLength
		return eng.LogLikelihoodAndDerivative(op)
	}
	branchLength, _ := GradientAscent(fAndDf, eng.branchLengths[op.GPCSP],
		relativeTolerance, stepSize, eng.cfg.branchLengthMin, eng.cfg.maxIter)
	if branchLength > eng.cfg.branchLengthMax {
		failf("optimised branch length %g outside [%g, %g]",
			branchLength, eng.cfg.branchLengthMin, eng.cfg.branchLengthMax)
	}
	eng.branchLengths[op.GPCSP] = branchLength
}

// LogLikelihoodAndDerivative returns the log-likelihood of an edge and its
// derivative with respect to the branch length. The derivative ratio is
// formed from unrescaled products because the rescaling factors cancel.
func (eng *Engine) LogLikelihoodAndDerivative(op OptimizeBranchLength) (float64, float64) {
	eng.setTransitionAndDerivativeMatrices(eng.effectiveBranchLength(op.GPCSP))
	eng.preparePerPatternLogLikelihoods(op.ParentPLV, op.ChildPLV)
	logLikelihood := eng.weightedLogLikelihood(op.GPCSP)

	eng.prepareUnrescaledPerPatternProducts(op.ParentPLV, op.ChildPLV, eng.derivative, eng.perPatternDerivatives)
	eng.prepareUnrescaledPerPatternProducts(op.ParentPLV, op.ChildPLV, eng.transition, eng.perPatternLikelihoods)
	derivative := 0.0
	for j, w := range eng.patternWeights {
		derivative += w * eng.perPatternDerivatives[j] / eng.perPatternLikelihoods[j]
	}
	return logLikelihood, derivative
}

func (eng *Engine) applyUpdateSBNProbabilities(op UpdateSBNProbabilities) {
	length := op.Stop - op.Start
	if length <= 0 {
		return
	}
	if length == 1 {
		eng.q[op.Start] = 1
		return
	}
	segment := eng.logLikelihoods[op.Start:op.Stop]
	logNorm := LogSum(segment)
	if math.IsNaN(logNorm) || math.IsInf(logNorm, 0) {
		failf("non-finite log-sum %g normalising q[%d:%d]", logNorm, op.Start, op.Stop)
	}
	for i, ll := range segment {
		eng.q[op.Start+i] = math.Exp(ll - logNorm)
	}
}

func (eng *Engine) applyIncrementMarginalLikelihood(op IncrementMarginalLikelihood) {
	assertThat(eng.rescalingCounts[op.Stationary] == 0,
		"rescaled stationary distribution in marginal-likelihood increment")
	stationary, p := eng.plvs[op.Stationary], eng.plvs[op.P]
	states := eng.model.StateCount()
	correction := eng.logRescalingFor(op.P)
	for j := range eng.perPatternLogLikelihoods {
		dot := 0.0
		for s := 0; s < states; s++ {
			dot += stationary.At(s, j) * p.At(s, j)
		}
		eng.perPatternLogLikelihoods[j] = math.Log(dot) + correction
	}
	eng.logLikelihoods[op.Rootsplit] = eng.weightedLogLikelihood(op.Rootsplit)
	eng.logMarginalLikelihood = LogAdd(eng.logMarginalLikelihood, eng.logLikelihoods[op.Rootsplit])
	if math.IsNaN(eng.logMarginalLikelihood) {
		failf("non-finite log-marginal likelihood")
	}
}

func (eng *Engine) applyPrepForMarginalization(op PrepForMarginalization) {
	assertThat(len(op.Srcs) > 0, "empty source list in PrepForMarginalization")
	min := eng.rescalingCounts[op.Srcs[0]]
	for _, src := range op.Srcs[1:] {
		if eng.rescalingCounts[src] < min {
			min = eng.rescalingCounts[src]
		}
	}
	eng.plvs[op.Dst].zero()
	eng.rescalingCounts[op.Dst] = min
}

// ** Accessors

// ResetLogMarginalLikelihood restarts the marginal accumulation.
func (eng *Engine) ResetLogMarginalLikelihood() {
	eng.logMarginalLikelihood = math.Inf(-1)
}

// LogMarginalLikelihood returns the accumulated log-marginal likelihood.
func (eng *Engine) LogMarginalLikelihood() float64 { return eng.logMarginalLikelihood }

// BranchLengths returns a copy of the per-edge branch lengths.
func (eng *Engine) BranchLengths() []float64 {
	return append([]float64{}, eng.branchLengths...)
}

// SetBranchLength assigns one branch length.
func (eng *Engine) SetBranchLength(gpcsp int, length float64) {
	eng.branchLengths[gpcsp] = length
}

// LogLikelihoods returns a copy of the per-edge log-likelihoods.
func (eng *Engine) LogLikelihoods() []float64 {
	return append([]float64{}, eng.logLikelihoods...)
}

// SBNParameters returns a copy of q.
func (eng *Engine) SBNParameters() []float64 {
	return append([]float64{}, eng.q...)
}

// SetSBNParameters overwrites q; the vector length must match.
func (eng *Engine) SetSBNParameters(q []float64) {
	assertThat(len(q) == len(eng.q), "q length %d does not match gpcsp count %d", len(q), len(eng.q))
	copy(eng.q, q)
}

// PLVValue returns the view of one PLV slot; intended for inspection and
// tests.
func (eng *Engine) PLVValue(i int) PLV { return eng.plvs[i] }

// RescalingCount returns the rescaling counter of one PLV slot.
func (eng *Engine) RescalingCount(i int) int { return eng.rescalingCounts[i] }
