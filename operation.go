// Copyright 2019-2021 libsbn project contributors.
//
// libsbn is free software under the GPLv3; see LICENSE file for details.

package libsbn

import (
	"fmt"
	"strings"
)

// The operation stream is the small bytecode coupling the scheduler to the
// numerical engine: a scheduler phase compiles a DAG traversal into a flat
// sequence of tagged records over PLV slots and parameter slots, and the
// engine executes them in order at a single dispatch site. The set of
// operations below is closed; every phase is expressed as a finite sequence
// of them.

// An Operation is one record of the stream. The interface is sealed: the
// engine's type switch is the only consumer.
type Operation interface {
	isOperation()
	String() string
}

// Operations is an operation stream.
type Operations []Operation

func (ops Operations) String() string {
	var sb strings.Builder
	for _, op := range ops {
		sb.WriteString(op.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Zero clears the PLV at Dst and resets its rescaling counter.
type Zero struct {
	Dst int
}

// SetToStationary replicates the substitution model's stationary distribution
// across all site patterns of the PLV at Dst.
type SetToStationary struct {
	Dst int
}

// Multiply stores the elementwise product of Src1 and Src2 into Dst. The
// rescaling counters add, and Dst is rescaled if its minimum entry dips below
// the threshold.
type Multiply struct {
	Dst, Src1, Src2 int
}

// IncrementWithWeightedEvolvedPLV performs
//
//	plv[Dst] += q[GPCSP] · P(branchLengths[GPCSP]) · plv[Src]
//
// correcting for any rescaling difference between Src and Dst. A
// PrepForMarginalization over the sources precedes each accumulation group.
type IncrementWithWeightedEvolvedPLV struct {
	Dst, Src, GPCSP int
}

// Likelihood computes the per-pattern log-likelihoods of (Child evolved along
// Edge) against Parent, dots them with the pattern weights, adds the SBN
// prior log q[Edge], and stores the result at logLikelihoods[Edge].
type Likelihood struct {
	Edge, Parent, Child int
}

// OptimizeBranchLength runs 1-D optimisation of branchLengths[GPCSP] for the
// likelihood of ChildPLV evolved along the edge against ParentPLV.
type OptimizeBranchLength struct {
	ChildPLV, ParentPLV, GPCSP int
}

// UpdateSBNProbabilities normalises logLikelihoods[Start:Stop] into
// probabilities in q. A single-element range forces q = 1; an empty range is
// a no-op.
type UpdateSBNProbabilities struct {
	Start, Stop int
}

// IncrementMarginalLikelihood folds the rooting at Rootsplit into the running
// log-marginal likelihood: the per-pattern log-likelihoods of P against the
// Stationary PLV, weighted and offset by log q[Rootsplit], are stored at
// logLikelihoods[Rootsplit] and LogAdd-ed into the total.
type IncrementMarginalLikelihood struct {
	Stationary, Rootsplit, P int
}

// PrepForMarginalization prepares Dst for a later accumulation over Srcs:
// zeroes it and sets its rescaling counter to the minimum over the sources.
type PrepForMarginalization struct {
	Dst  int
	Srcs []int
}

func (Zero) isOperation()                            {}
func (SetToStationary) isOperation()                 {}
func (Multiply) isOperation()                        {}
func (IncrementWithWeightedEvolvedPLV) isOperation() {}
func (Likelihood) isOperation()                      {}
func (OptimizeBranchLength) isOperation()            {}
func (UpdateSBNProbabilities) isOperation()          {}
func (IncrementMarginalLikelihood) isOperation()     {}
func (PrepForMarginalization) isOperation()          {}

func (op Zero) String() string            { return fmt.Sprintf("Zero %d", op.Dst) }
func (op SetToStationary) String() string { return fmt.Sprintf("SetToStationary %d", op.Dst) }
func (op Multiply) String() string {
	return fmt.Sprintf("Multiply %d <- %d o %d", op.Dst, op.Src1, op.Src2)
}
func (op IncrementWithWeightedEvolvedPLV) String() string {
	return fmt.Sprintf("IncrementWithWeightedEvolvedPLV %d += P(%d) %d", op.Dst, op.GPCSP, op.Src)
}
func (op Likelihood) String() string {
	return fmt.Sprintf("Likelihood %d parent %d child %d", op.Edge, op.Parent, op.Child)
}
func (op OptimizeBranchLength) String() string {
	return fmt.Sprintf("OptimizeBranchLength %d child %d parent %d", op.GPCSP, op.ChildPLV, op.ParentPLV)
}
func (op UpdateSBNProbabilities) String() string {
	return fmt.Sprintf("UpdateSBNProbabilities [%d, %d)", op.Start, op.Stop)
}
func (op IncrementMarginalLikelihood) String() string {
	return fmt.Sprintf("IncrementMarginalLikelihood rootsplit %d stationary %d p %d",
		op.Rootsplit, op.Stationary, op.P)
}
func (op PrepForMarginalization) String() string {
	return fmt.Sprintf("PrepForMarginalization %d over %v", op.Dst, op.Srcs)
}

// PLVType names the six PLV views an sDAG node owns in the arena.
type PLVType int

const (
	PLVP PLVType = iota
	PLVPHatLeft
	PLVPHatRight
	PLVRHat
	PLVRLeft
	PLVRRight

	plvTypeCount
)

// PLVCountPerNode is the number of PLV slots the arena reserves per node.
const PLVCountPerNode = int(plvTypeCount)

func (t PLVType) String() string {
	switch t {
	case PLVP:
		return "p"
	case PLVPHatLeft:
		return "phat_left"
	case PLVPHatRight:
		return "phat_right"
	case PLVRHat:
		return "rhat"
	case PLVRLeft:
		return "r_left"
	case PLVRRight:
		return "r_right"
	}
	return "invalid"
}

// PLVIndex maps a PLV kind and node id to the flat slot index used in
// operation records: slots are laid out in six kind strides of nodeCount.
func PLVIndex(t PLVType, nodeCount, nodeID int) int {
	return int(t)*nodeCount + nodeID
}
