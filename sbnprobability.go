// Copyright 2019-2021 libsbn project contributors.
//
// libsbn is free software under the GPLv3; see LICENSE file for details.

package libsbn

import "math"

// Training of an SBN from a sample of trees. The parameter vector is laid
// out as the indexer is: rootsplit probabilities first, then the conditional
// probabilities of each parent's children-range. All per-topology products
// run in log space; q entries below machine epsilon clamp to -Inf rather
// than propagating NaNs.

// A CountedRepresentation pairs a topology's indexer representation with its
// weight in the sample.
type CountedRepresentation struct {
	Representation IndexerRepresentation
	Count          float64
}

// An IndexerRepresentationCounter is the sample of topologies seen through
// the indexer.
type IndexerRepresentationCounter []CountedRepresentation

// IndexerRepresentationCounterOf computes the representation of every
// distinct topology in the collection.
func IndexerRepresentationCounterOf(idx *Indexer, tc *TreeCollection) IndexerRepresentationCounter {
	var counter IndexerRepresentationCounter
	tc.TopologyCounter().Each(func(topology *Node, weight float64) {
		counter = append(counter, CountedRepresentation{
			Representation: idx.IndexerRepresentationOf(topology, tc.taxonOf),
			Count:          weight,
		})
	})
	return counter
}

func incrementBy(vec []float64, indices []int, value float64) {
	for _, i := range indices {
		vec[i] += value
	}
}

func incrementAllBy(vec []float64, indexVectors [][]int, value float64) {
	for _, indices := range indexVectors {
		incrementBy(vec, indices, value)
	}
}

func incrementByValues(vec []float64, indices []int, values []float64) {
	assertThat(len(indices) == len(values), "indices and values do not have matching size")
	for i, idx := range indices {
		vec[idx] += values[i]
	}
}

func incrementAllByValues(vec []float64, indexVectors [][]int, values []float64) {
	assertThat(len(indexVectors) == len(values), "index vectors and values do not have matching size")
	for i, indices := range indexVectors {
		incrementBy(vec, indices, values[i])
	}
}

// probabilityNormalizeRange scales vec[r.Start:r.End] to sum to one.
func probabilityNormalizeRange(vec []float64, r IndexRange) {
	sum := 0.0
	for i := r.Start; i < r.End; i++ {
		sum += vec[i]
	}
	if sum == 0 {
		return
	}
	for i := r.Start; i < r.End; i++ {
		vec[i] /= sum
	}
}

// ProbabilityNormalizeParams normalises an SBN parameter vector: the
// rootsplit block and every parent range each sum to one.
func ProbabilityNormalizeParams(vec []float64, idx *Indexer) {
	probabilityNormalizeRange(vec, IndexRange{Start: 0, End: idx.RootsplitCount()})
	idx.ParentRanges(func(_ Bitset, r IndexRange) {
		probabilityNormalizeRange(vec, r)
	})
}

// accumulateCounts sets counts to the weighted tally of every rootsplit and
// PCSP appearance across the sample.
func accumulateCounts(counts []float64, counter IndexerRepresentationCounter) {
	for i := range counts {
		counts[i] = 0
	}
	for _, item := range counter {
		incrementBy(counts, item.Representation.Rootsplits, item.Count)
		incrementAllBy(counts, item.Representation.PCSPs, item.Count)
	}
}

// SimpleAverage fills sbnParameters with the simple-average estimate: the
// normalised appearance counts.
func SimpleAverage(sbnParameters []float64, counter IndexerRepresentationCounter, idx *Indexer) {
	accumulateCounts(sbnParameters, counter)
	ProbabilityNormalizeParams(sbnParameters, idx)
}

// rootingLogWeights fills out with the log SBN weight of every rooting of
// one representation under the current parameters.
func rootingLogWeights(sbnParameters []float64, representation IndexerRepresentation, out []float64) {
	for rooting := range representation.Rootsplits {
		logWeight := safeLog(sbnParameters[representation.Rootsplits[rooting]])
		for _, pcsp := range representation.PCSPs[rooting] {
			logWeight += safeLog(sbnParameters[pcsp])
		}
		out[rooting] = logWeight
	}
}

// ExpectationMaximization trains sbnParameters by EM over the unobserved
// rooting of each topology, starting from the simple-average estimate. Each
// iteration computes the per-topology distribution over rootings under the
// current parameters, accumulates the soft counts m̄, and renormalises
// m̄ + α·m̃, where m̃ is the raw simple-average count vector and α the
// Dirichlet smoothing. The iteration count is fixed; there is no convergence
// check.
func ExpectationMaximization(sbnParameters []float64, counter IndexerRepresentationCounter,
	idx *Indexer, alpha float64, emLoopCount int) {
	assertThat(len(counter) > 0, "empty indexer representation counter")
	edgeCount := len(counter[0].Representation.Rootsplits)
	mBar := make([]float64, len(sbnParameters))
	mTilde := make([]float64, len(sbnParameters))
	logWeights := make([]float64, edgeCount)
	weights := make([]float64, edgeCount)

	accumulateCounts(mTilde, counter)
	copy(sbnParameters, mTilde)
	ProbabilityNormalizeParams(sbnParameters, idx)

	for emIdx := 0; emIdx < emLoopCount; emIdx++ {
		for i := range mBar {
			mBar[i] = 0
		}
		for _, item := range counter {
			representation := item.Representation
			assertThat(len(representation.Rootsplits) == edgeCount,
				"rootsplit representation length not equal to edge count")
			rootingLogWeights(sbnParameters, representation, logWeights)
			logTotal := LogSum(logWeights)
			if math.IsInf(logTotal, -1) || math.IsNaN(logTotal) {
				failf("topology with zero probability under every rooting in EM")
			}
			for rooting := range weights {
				weights[rooting] = math.Exp(logWeights[rooting]-logTotal) * item.Count
			}
			incrementByValues(mBar, representation.Rootsplits, weights)
			incrementAllByValues(mBar, representation.PCSPs, weights)
		}
		for i := range sbnParameters {
			sbnParameters[i] = mBar[i] + alpha*mTilde[i]
		}
		ProbabilityNormalizeParams(sbnParameters, idx)
	}
}

// TopologyLogProbability returns the log SBN probability of a topology: the
// log-sum over its rootings of the per-rooting products.
func TopologyLogProbability(sbnParameters []float64, representation IndexerRepresentation) float64 {
	logWeights := make([]float64, len(representation.Rootsplits))
	rootingLogWeights(sbnParameters, representation, logWeights)
	return LogSum(logWeights)
}

// TopologyProbability returns the SBN probability of a topology.
func TopologyProbability(sbnParameters []float64, representation IndexerRepresentation) float64 {
	return math.Exp(TopologyLogProbability(sbnParameters, representation))
}

// TotalLogProbability returns the weighted log probability the parameters
// assign to a sample of topologies.
func TotalLogProbability(sbnParameters []float64, counter IndexerRepresentationCounter) float64 {
	total := 0.0
	for _, item := range counter {
		total += item.Count * TopologyLogProbability(sbnParameters, item.Representation)
	}
	return total
}
