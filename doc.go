// Copyright 2019-2021 libsbn project contributors.
//
// libsbn is free software under the GPLv3; see LICENSE file for details.

/*
Package libsbn implements a phylogenetic inference engine built around
subsplit Bayesian networks (SBNs) and the subsplit directed acyclic graph
(the "subsplit DAG"), a structure that compactly represents a large set of
rooted binary tree topologies over a fixed taxon set. The engine learns a
distribution over topologies and optimises per-edge branch lengths by
message-passing partial likelihood vector (PLV) computations on the DAG,
under continuous-time Markov-chain models of nucleotide substitution.

# Basics

Taxa are indexed by the sorted order of their names. A clade is a Bitset over
the taxa; a subsplit is an ordered pair of disjoint clades; a PCSP
(parent-child subsplit pair) is the atomic event of an SBN, describing how a
child subsplit refines one half of its parent. The SubsplitDAG has one node
per subsplit observed in a collection of rooted trees (plus one leaf node per
taxon), one edge per PCSP, and an indexer mapping every rootsplit and PCSP to
a contiguous parameter slot.

Numeric work is phrased as a small bytecode: the scheduler compiles DAG
traversals into Operations streams, and the Engine executes them against an
arena of PLVs, six views per DAG node, with per-slot rescaling counters that
keep likelihoods representable far below double-precision underflow.

# Typical use

	inst := libsbn.NewInstance("example")
	if err := inst.ReadFastaFile("data/hello.fasta"); err != nil { ... }
	if err := inst.ReadNewickFile("data/hello.nwk"); err != nil { ... }
	if err := inst.MakeEngine(); err != nil { ... }
	defer inst.Close()
	inst.HotStartBranchLengths()
	inst.ComputeLikelihoods()
	logZ := inst.LogMarginalLikelihood()

Branch lengths are optimised with EstimateBranchLengths, SBN parameters with
EstimateSBNParameters. Training on unrooted tree samples (simple average and
expectation-maximisation over the unobserved rooting) is available through
TrainSimpleAverage and TrainExpectationMaximization.

# Concurrency and resources

The engine is single-threaded and synchronous: an operation stream runs to
completion on one goroutine, and distinct engines share no state. The PLV
arena acquires its backing storage at construction; with the MmapFile option
the storage is a memory-mapped raw double array that survives the process and
is the caller's to delete. Input-shape problems surface as error values;
violations of internal invariants (indexer misses, negative partial
likelihoods, non-finite log-sums, resource failures) are programming errors
and panic.

# Use of build tags

Compiling with the build tag `debug` sends the standard logger to stdout and
adds the helpers logOperations, logRescale and logEngineState, which log an
operation stream, a rescaling event and the engine's parameter vectors. No
code in the package calls these helpers, so the tag by itself produces no
log output.
*/
package libsbn
