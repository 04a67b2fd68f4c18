// Copyright 2019-2021 libsbn project contributors.
//
// libsbn is free software under the GPLv3; see LICENSE file for details.

package libsbn

import (
	"fmt"
	"math"
	"os"
)

// An Instance bundles the state of one inference: the alignment, the rooted
// tree collection, the subsplit DAG built from it, and the engine holding the
// mutable numeric state. It is the generalised-pruning counterpart of the
// classic SBNInstance driver.
type Instance struct {
	name           string
	alignment      Alignment
	treeCollection *TreeCollection
	dag            *SubsplitDAG
	engine         *Engine
}

// NewInstance returns an empty named instance.
func NewInstance(name string) *Instance {
	return &Instance{name: name}
}

// Name returns the instance name.
func (inst *Instance) Name() string { return inst.name }

// DAG returns the subsplit DAG, once built.
func (inst *Instance) DAG() *SubsplitDAG { return inst.dag }

// Engine returns the engine, once made.
func (inst *Instance) Engine() *Engine { return inst.engine }

// ReadFastaFile loads the alignment.
func (inst *Instance) ReadFastaFile(path string) error {
	alignment, err := ReadFastaFile(path)
	if err != nil {
		return err
	}
	inst.alignment = alignment
	return nil
}

// SetAlignment installs an already-parsed alignment.
func (inst *Instance) SetAlignment(alignment Alignment) { inst.alignment = alignment }

// ReadNewickFile loads the rooted tree collection, dropping any DAG and
// engine built from previous trees.
func (inst *Instance) ReadNewickFile(path string) error {
	tc, err := ReadNewickFile(path)
	if err != nil {
		return err
	}
	return inst.SetTreeCollection(tc)
}

// SetTreeCollection installs an already-parsed tree collection, dropping any
// DAG and engine built from previous trees.
func (inst *Instance) SetTreeCollection(tc *TreeCollection) error {
	if tc == nil || tc.TreeCount() == 0 {
		return ErrNoTrees
	}
	inst.treeCollection = tc
	inst.dag = nil
	if inst.engine != nil {
		inst.engine.Close()
		inst.engine = nil
	}
	return nil
}

// TreeCollection returns the loaded trees.
func (inst *Instance) TreeCollection() *TreeCollection { return inst.treeCollection }

// ProcessLoadedTrees builds the subsplit DAG from the loaded trees.
func (inst *Instance) ProcessLoadedTrees() error {
	if inst.treeCollection == nil {
		return ErrNoTrees
	}
	dag, err := NewSubsplitDAG(inst.treeCollection)
	if err != nil {
		return err
	}
	inst.dag = dag
	return nil
}

// checkSequencesAndTreesLoaded verifies the §6 input contract before any
// engine work.
func (inst *Instance) checkSequencesAndTreesLoaded() error {
	if inst.treeCollection == nil {
		return ErrNoTrees
	}
	if inst.alignment.SequenceCount() == 0 {
		return ErrEmptyAlignment
	}
	if inst.alignment.SequenceCount() != inst.treeCollection.TaxonCount() {
		return fmt.Errorf("%w: %d sequences, %d taxa",
			ErrTaxonMismatch, inst.alignment.SequenceCount(), inst.treeCollection.TaxonCount())
	}
	for _, name := range inst.treeCollection.TaxonNames {
		if _, ok := inst.alignment.Data()[name]; !ok {
			return fmt.Errorf("%w: taxon %q has no sequence", ErrTaxonMismatch, name)
		}
	}
	return nil
}

// MakeEngine compresses the alignment, builds the DAG if needed, and
// constructs the engine with 6 PLVs per DAG node. The SBN parameters start
// uniform over each parent range and over the rootsplits.
func (inst *Instance) MakeEngine(options ...func(*configs)) error {
	if err := inst.checkSequencesAndTreesLoaded(); err != nil {
		return err
	}
	if inst.dag == nil {
		if err := inst.ProcessLoadedTrees(); err != nil {
			return err
		}
	}
	sitePattern, err := NewSitePattern(inst.alignment, inst.treeCollection.TaxonNames)
	if err != nil {
		return err
	}
	if inst.engine != nil {
		inst.engine.Close()
	}
	engine, err := NewEngine(sitePattern, NewJC69(), ConstantSiteModel{}, StrictClockModel{Rate: 1},
		PLVCountPerNode*inst.dag.NodeCount(), inst.dag.GPCSPCount(), options...)
	if err != nil {
		return err
	}
	engine.SetSBNParameters(inst.dag.BuildUniformQ())
	inst.engine = engine
	return nil
}

// HasEngine reports whether MakeEngine has run.
func (inst *Instance) HasEngine() bool { return inst.engine != nil }

// Close releases the engine's resources.
func (inst *Instance) Close() error {
	if inst.engine == nil {
		return nil
	}
	return inst.engine.Close()
}

// childSubsplitOfNode returns the canonical subsplit a tree node stands for
// in the DAG: its own subsplit, or the fake subsplit for a leaf.
func childSubsplitOfNode(node *Node, taxonCount int) Bitset {
	if node.IsLeaf() {
		return FakeSubsplit(node.Id(), taxonCount)
	}
	return node.Subsplit()
}

// HotStartBranchLengths sets each branch length to the mean of the lengths
// observed for its edge across the loaded trees. Edges never observed keep
// the default length of one.
func (inst *Instance) HotStartBranchLengths() {
	assertThat(inst.engine != nil, "make an engine before hot-starting branch lengths")
	taxonCount := inst.treeCollection.TaxonCount()
	sums := make([]float64, inst.dag.GPCSPCount())
	counts := make([]float64, inst.dag.GPCSPCount())
	for _, tree := range inst.treeCollection.Trees {
		tree.Topology.Preorder(func(parent *Node) {
			for _, child := range parent.Children() {
				key := parent.SubsplitAsWrittenFor(child).
					AppendBitset(childSubsplitOfNode(child, taxonCount))
				idx, ok := inst.dag.GPCSPIndexOfBitset(key)
				if !ok {
					failf("tree edge %v not present in the DAG", key)
				}
				sums[idx] += tree.BranchLengths[child.Id()]
				counts[idx]++
			}
		})
	}
	for i := range sums {
		if counts[i] > 0 {
			inst.engine.SetBranchLength(i, sums[i]/counts[i])
		}
	}
}

// PopulatePLVs runs the initialisation, rootward, and leafward streams,
// resetting the marginal likelihood first.
func (inst *Instance) PopulatePLVs() {
	assertThat(inst.engine != nil, "make an engine before populating PLVs")
	inst.engine.ResetLogMarginalLikelihood()
	inst.engine.ProcessOperations(inst.dag.PopulatePLVs())
}

// ComputeLikelihoods populates the PLVs and computes every per-edge
// log-likelihood and the log-marginal likelihood.
func (inst *Instance) ComputeLikelihoods() {
	inst.PopulatePLVs()
	inst.engine.ProcessOperations(inst.dag.ComputeLikelihoods())
}

// computeMarginal repopulates the PLVs and re-accumulates the marginal.
func (inst *Instance) computeMarginal() float64 {
	inst.PopulatePLVs()
	inst.engine.ProcessOperations(inst.dag.MarginalLikelihoodOperations())
	return inst.engine.LogMarginalLikelihood()
}

// EstimateBranchLengths runs rounds of the branch-length optimisation
// schedule until the log-marginal likelihood moves by less than tol between
// rounds, or maxIter rounds have run.
func (inst *Instance) EstimateBranchLengths(tol float64, maxIter int) {
	assertThat(inst.engine != nil, "make an engine before estimating branch lengths")
	previous := inst.computeMarginal()
	for iter := 0; iter < maxIter; iter++ {
		inst.engine.ProcessOperations(inst.dag.BranchLengthOptimization())
		current := inst.computeMarginal()
		if math.Abs(current-previous) < tol {
			return
		}
		previous = current
	}
}

// EstimateSBNParameters resets q to uniform, populates the PLVs, and runs the
// SBN-parameter optimisation schedule, leaving a normalised q and the
// log-marginal likelihood behind.
func (inst *Instance) EstimateSBNParameters() {
	assertThat(inst.engine != nil, "make an engine before estimating SBN parameters")
	inst.engine.SetSBNParameters(inst.dag.BuildUniformQ())
	inst.PopulatePLVs()
	inst.engine.ProcessOperations(inst.dag.SBNParameterOptimization())
}

// LogMarginalLikelihood returns the engine's accumulated log-marginal
// likelihood.
func (inst *Instance) LogMarginalLikelihood() float64 {
	assertThat(inst.engine != nil, "make an engine before asking for likelihoods")
	return inst.engine.LogMarginalLikelihood()
}

// ** SBN training on the unrooted support

// TrainSimpleAverage trains an SBN on every virtual rooting of the loaded
// trees with the simple-average estimator, returning the parameters and the
// unrooted indexer they are laid out by.
func (inst *Instance) TrainSimpleAverage() ([]float64, *Indexer) {
	assertThat(inst.treeCollection != nil, "load trees before training an SBN")
	idx := NewUnrootedIndexer(inst.treeCollection)
	counter := IndexerRepresentationCounterOf(idx, inst.treeCollection)
	parameters := make([]float64, idx.Count())
	SimpleAverage(parameters, counter, idx)
	return parameters, idx
}

// TrainExpectationMaximization trains an SBN on every virtual rooting of the
// loaded trees by EM with Dirichlet smoothing alpha and a fixed iteration
// count.
func (inst *Instance) TrainExpectationMaximization(alpha float64, emLoopCount int) ([]float64, *Indexer) {
	assertThat(inst.treeCollection != nil, "load trees before training an SBN")
	idx := NewUnrootedIndexer(inst.treeCollection)
	counter := IndexerRepresentationCounterOf(idx, inst.treeCollection)
	parameters := make([]float64, idx.Count())
	ExpectationMaximization(parameters, counter, idx, alpha, emLoopCount)
	return parameters, idx
}

// TopologyProbabilities evaluates trained parameters on the loaded
// topologies, in topology-counter order.
func (inst *Instance) TopologyProbabilities(parameters []float64, idx *Indexer) []float64 {
	assertThat(inst.treeCollection != nil, "load trees before evaluating probabilities")
	var probabilities []float64
	tc := inst.treeCollection
	tc.TopologyCounter().Each(func(topology *Node, _ float64) {
		representation := idx.IndexerRepresentationOf(topology, tc.taxonOf)
		probabilities = append(probabilities, TopologyProbability(parameters, representation))
	})
	return probabilities
}

// ** Inspection

// PrettyIndexer renders the GPCSP indexer keys in index order.
func (inst *Instance) PrettyIndexer() []string {
	assertThat(inst.dag != nil, "process loaded trees before printing the indexer")
	taxonCount := inst.dag.TaxonCount()
	pretty := make([]string, 0, inst.dag.GPCSPCount())
	for _, key := range inst.dag.GPCSPBitsets() {
		if key.Size() == 2*taxonCount {
			pretty = append(pretty, fmt.Sprintf("%s|%s", key.SubsplitChunk(0), key.SubsplitChunk(1)))
			continue
		}
		parent, child := key.slice(0, 2*taxonCount), key.slice(2*taxonCount, key.Size())
		pretty = append(pretty, fmt.Sprintf("%s|%s -> %s|%s",
			parent.SubsplitChunk(0), parent.SubsplitChunk(1),
			child.SubsplitChunk(0), child.SubsplitChunk(1)))
	}
	return pretty
}

// SBNParametersToCSV writes "indexer key,probability" lines for the engine's
// current q.
func (inst *Instance) SBNParametersToCSV(path string) error {
	assertThat(inst.engine != nil, "make an engine before exporting SBN parameters")
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	q := inst.engine.SBNParameters()
	for i, pretty := range inst.PrettyIndexer() {
		if _, err := fmt.Fprintf(f, "%s,%v\n", pretty, q[i]); err != nil {
			return err
		}
	}
	return nil
}

// PrintStatus summarises what is loaded.
func (inst *Instance) PrintStatus() {
	fmt.Printf("Status for instance %q:\n", inst.name)
	if inst.treeCollection != nil {
		fmt.Printf("%d trees on %d leaves\n",
			inst.treeCollection.TreeCount(), inst.treeCollection.TaxonCount())
	} else {
		fmt.Println("No trees loaded.")
	}
	fmt.Printf("%d sequences loaded.\n", inst.alignment.SequenceCount())
}
