// Copyright 2019-2021 libsbn project contributors.
//
// libsbn is free software under the GPLv3; see LICENSE file for details.

package libsbn

// The scheduler translates DAG traversals into operation streams, one method
// per phase. Every method is a pure function of the DAG, its indexer, and the
// phase: re-running one yields an identical stream. The engine executes the
// stream verbatim, so the emission order here is what guarantees that every
// slot an operation reads has been fully written by earlier operations.

func (dag *SubsplitDAG) plv(t PLVType, nodeID int) int {
	return PLVIndex(t, len(dag.nodes), nodeID)
}

// rPLVForSide returns the r view of a parent that faces a child on the given
// side: the r view excluding the side's own subtree.
func rPLVForSide(side CladeSide) PLVType {
	if side == RightSide {
		return PLVRRight
	}
	return PLVRLeft
}

func pHatForSide(side CladeSide) PLVType {
	if side == RightSide {
		return PLVPHatRight
	}
	return PLVPHatLeft
}

// SetRootwardZero zeroes the rootward-facing PLVs of every non-leaf node.
// Leaf p slots hold the tip partial likelihoods and are left alone.
func (dag *SubsplitDAG) SetRootwardZero() Operations {
	var ops Operations
	for id := dag.taxonCount; id < len(dag.nodes); id++ {
		ops = append(ops,
			Zero{dag.plv(PLVP, id)},
			Zero{dag.plv(PLVPHatRight, id)},
			Zero{dag.plv(PLVPHatLeft, id)})
	}
	return ops
}

// SetLeafwardZero zeroes the leafward-facing PLVs of every node and sets the
// r̂ of each rootsplit node to the stationary distribution.
func (dag *SubsplitDAG) SetLeafwardZero() Operations {
	var ops Operations
	for id := 0; id < len(dag.nodes); id++ {
		ops = append(ops,
			Zero{dag.plv(PLVRHat, id)},
			Zero{dag.plv(PLVRRight, id)},
			Zero{dag.plv(PLVRLeft, id)})
	}
	for _, rootID := range dag.RootsplitNodeIds() {
		ops = append(ops, SetToStationary{dag.plv(PLVRHat, rootID)})
	}
	return ops
}

// rootwardAccumulateOps emits the p̂ accumulation group of one side of a
// node: a PrepForMarginalization over the children's p vectors followed by
// one weighted evolved increment per child.
func (dag *SubsplitDAG) rootwardAccumulateOps(node *DAGNode, side CladeSide, ops Operations) Operations {
	children := node.Neighbors(Leafward, side)
	if len(children) == 0 {
		return ops
	}
	dst := dag.plv(pHatForSide(side), node.Id())
	srcs := make([]int, len(children))
	for i, childID := range children {
		srcs[i] = dag.plv(PLVP, childID)
	}
	ops = append(ops, PrepForMarginalization{Dst: dst, Srcs: srcs})
	for _, childID := range children {
		ops = append(ops, IncrementWithWeightedEvolvedPLV{
			Dst:   dst,
			Src:   dag.plv(PLVP, childID),
			GPCSP: dag.GPCSPIndex(node.Id(), childID, side),
		})
	}
	return ops
}

// leafwardAccumulateOps emits the r̂ accumulation group of a node: a prep
// over the facing r views of all rootward parents followed by one increment
// per parent edge. Rootsplit nodes have no parents and keep their stationary
// r̂.
func (dag *SubsplitDAG) leafwardAccumulateOps(node *DAGNode, ops Operations) Operations {
	var srcs []int
	for _, side := range []CladeSide{RightSide, LeftSide} {
		for _, parentID := range node.Neighbors(Rootward, side) {
			srcs = append(srcs, dag.plv(rPLVForSide(side), parentID))
		}
	}
	if len(srcs) == 0 {
		return ops
	}
	dst := dag.plv(PLVRHat, node.Id())
	ops = append(ops, PrepForMarginalization{Dst: dst, Srcs: srcs})
	for _, side := range []CladeSide{RightSide, LeftSide} {
		for _, parentID := range node.Neighbors(Rootward, side) {
			ops = append(ops, IncrementWithWeightedEvolvedPLV{
				Dst:   dst,
				Src:   dag.plv(rPLVForSide(side), parentID),
				GPCSP: dag.GPCSPIndex(parentID, node.Id(), side),
			})
		}
	}
	return ops
}

// RootwardPass emits, in rootward order, the accumulation of both p̂ views
// and the Multiply that forms p for every non-leaf node.
func (dag *SubsplitDAG) RootwardPass() Operations {
	var ops Operations
	for _, id := range dag.rootwardOrder {
		node := dag.nodes[id]
		ops = dag.rootwardAccumulateOps(node, RightSide, ops)
		ops = dag.rootwardAccumulateOps(node, LeftSide, ops)
		ops = append(ops, Multiply{
			Dst:  dag.plv(PLVP, id),
			Src1: dag.plv(PLVPHatLeft, id),
			Src2: dag.plv(PLVPHatRight, id),
		})
	}
	return ops
}

// LeafwardPass emits, in leafward order, the r̂ accumulation and the two
// Multiplies that form the side-facing r views for every non-leaf node.
func (dag *SubsplitDAG) LeafwardPass() Operations {
	var ops Operations
	for _, id := range dag.leafwardOrder {
		ops = dag.leafwardAccumulateOps(dag.nodes[id], ops)
		ops = append(ops,
			Multiply{
				Dst:  dag.plv(PLVRRight, id),
				Src1: dag.plv(PLVRHat, id),
				Src2: dag.plv(PLVPHatLeft, id),
			},
			Multiply{
				Dst:  dag.plv(PLVRLeft, id),
				Src1: dag.plv(PLVRHat, id),
				Src2: dag.plv(PLVPHatRight, id),
			})
	}
	return ops
}

// PopulatePLVs emits the full initialisation stream: zero everything, set
// rootsplit r̂ to stationary, then run the rootward and leafward passes.
func (dag *SubsplitDAG) PopulatePLVs() Operations {
	ops := dag.SetRootwardZero()
	ops = append(ops, dag.SetLeafwardZero()...)
	ops = append(ops, dag.RootwardPass()...)
	ops = append(ops, dag.LeafwardPass()...)
	return ops
}

// refreshRHatOps brings a non-rootsplit node's r̂ and side r views up to date
// with its parents; rootsplit nodes keep the stationary r̂ but are untouched
// here.
func (dag *SubsplitDAG) refreshRHatOps(node *DAGNode, ops Operations) Operations {
	if node.IsRootsplit() {
		return ops
	}
	ops = dag.leafwardAccumulateOps(node, ops)
	ops = append(ops,
		Multiply{
			Dst:  dag.plv(PLVRRight, node.Id()),
			Src1: dag.plv(PLVRHat, node.Id()),
			Src2: dag.plv(PLVPHatLeft, node.Id()),
		},
		Multiply{
			Dst:  dag.plv(PLVRLeft, node.Id()),
			Src1: dag.plv(PLVRHat, node.Id()),
			Src2: dag.plv(PLVPHatRight, node.Id()),
		})
	return ops
}

// scheduleBranchLengthOptimization emits the depth-first branch-length
// optimisation schedule below one node: refresh r̂, optimise each outgoing
// edge with the children's p up to date, and refresh the p̂ accumulators and
// p on the way out.
func (dag *SubsplitDAG) scheduleBranchLengthOptimization(id int, visited []bool, ops Operations) Operations {
	visited[id] = true
	node := dag.nodes[id]
	ops = dag.refreshRHatOps(node, ops)
	if node.IsLeaf() {
		return ops
	}

	rightChildren := node.Neighbors(Leafward, RightSide)
	dstRight := dag.plv(PLVPHatRight, id)
	srcs := make([]int, len(rightChildren))
	for i, childID := range rightChildren {
		srcs[i] = dag.plv(PLVP, childID)
	}
	ops = append(ops, PrepForMarginalization{Dst: dstRight, Srcs: srcs})
	for _, childID := range rightChildren {
		if !visited[childID] {
			ops = dag.scheduleBranchLengthOptimization(childID, visited, ops)
		}
		pcsp := dag.GPCSPIndex(id, childID, RightSide)
		ops = append(ops,
			OptimizeBranchLength{
				ChildPLV:  dag.plv(PLVP, childID),
				ParentPLV: dag.plv(PLVRRight, id),
				GPCSP:     pcsp,
			},
			IncrementWithWeightedEvolvedPLV{
				Dst:   dstRight,
				Src:   dag.plv(PLVP, childID),
				GPCSP: pcsp,
			})
	}
	ops = append(ops, Multiply{
		Dst:  dag.plv(PLVRLeft, id),
		Src1: dag.plv(PLVRHat, id),
		Src2: dstRight,
	})

	leftChildren := node.Neighbors(Leafward, LeftSide)
	dstLeft := dag.plv(PLVPHatLeft, id)
	srcs = make([]int, len(leftChildren))
	for i, childID := range leftChildren {
		srcs[i] = dag.plv(PLVP, childID)
	}
	ops = append(ops, PrepForMarginalization{Dst: dstLeft, Srcs: srcs})
	for _, childID := range leftChildren {
		if !visited[childID] {
			ops = dag.scheduleBranchLengthOptimization(childID, visited, ops)
		}
		pcsp := dag.GPCSPIndex(id, childID, LeftSide)
		ops = append(ops,
			OptimizeBranchLength{
				ChildPLV:  dag.plv(PLVP, childID),
				ParentPLV: dag.plv(PLVRLeft, id),
				GPCSP:     pcsp,
			},
			IncrementWithWeightedEvolvedPLV{
				Dst:   dstLeft,
				Src:   dag.plv(PLVP, childID),
				GPCSP: pcsp,
			})
	}
	ops = append(ops,
		Multiply{
			Dst:  dag.plv(PLVRRight, id),
			Src1: dag.plv(PLVRHat, id),
			Src2: dstLeft,
		},
		Multiply{
			Dst:  dag.plv(PLVP, id),
			Src1: dstLeft,
			Src2: dstRight,
		})
	return ops
}

// BranchLengthOptimization emits the branch-length optimisation stream: a
// depth-first schedule from every rootsplit node.
func (dag *SubsplitDAG) BranchLengthOptimization() Operations {
	var ops Operations
	visited := make([]bool, len(dag.nodes))
	for _, rootID := range dag.RootsplitNodeIds() {
		if !visited[rootID] {
			ops = dag.scheduleBranchLengthOptimization(rootID, visited, ops)
		}
	}
	return ops
}

// optimizeSBNParametersOps normalises the q block owned by a maybe-rotated
// parent subsplit, when it holds more than one child.
func (dag *SubsplitDAG) optimizeSBNParametersOps(parent Bitset, ops Operations) Operations {
	if block, ok := dag.subsplitToRange[parent.Key()]; ok && block.Len() > 1 {
		ops = append(ops, UpdateSBNProbabilities{Start: block.Start, Stop: block.End})
	}
	return ops
}

// scheduleSBNParameterOptimization is the depth-first SBN-parameter schedule
// below one node: like the branch-length schedule, but with per-edge
// Likelihood computations and per-parent-range q updates in place of Brent
// calls.
func (dag *SubsplitDAG) scheduleSBNParameterOptimization(id int, visited []bool, ops Operations) Operations {
	visited[id] = true
	node := dag.nodes[id]
	ops = dag.refreshRHatOps(node, ops)
	if node.IsLeaf() {
		return ops
	}

	rightChildren := node.Neighbors(Leafward, RightSide)
	dstRight := dag.plv(PLVPHatRight, id)
	srcs := make([]int, len(rightChildren))
	for i, childID := range rightChildren {
		srcs[i] = dag.plv(PLVP, childID)
	}
	ops = append(ops, PrepForMarginalization{Dst: dstRight, Srcs: srcs})
	for _, childID := range rightChildren {
		if !visited[childID] {
			ops = dag.scheduleSBNParameterOptimization(childID, visited, ops)
		}
		pcsp := dag.GPCSPIndex(id, childID, RightSide)
		ops = append(ops,
			IncrementWithWeightedEvolvedPLV{
				Dst:   dstRight,
				Src:   dag.plv(PLVP, childID),
				GPCSP: pcsp,
			},
			Likelihood{
				Edge:   pcsp,
				Parent: dag.plv(PLVRRight, id),
				Child:  dag.plv(PLVP, childID),
			})
	}
	ops = dag.optimizeSBNParametersOps(node.Subsplit(), ops)
	ops = append(ops, Multiply{
		Dst:  dag.plv(PLVRLeft, id),
		Src1: dag.plv(PLVRHat, id),
		Src2: dstRight,
	})

	leftChildren := node.Neighbors(Leafward, LeftSide)
	dstLeft := dag.plv(PLVPHatLeft, id)
	srcs = make([]int, len(leftChildren))
	for i, childID := range leftChildren {
		srcs[i] = dag.plv(PLVP, childID)
	}
	ops = append(ops, PrepForMarginalization{Dst: dstLeft, Srcs: srcs})
	for _, childID := range leftChildren {
		if !visited[childID] {
			ops = dag.scheduleSBNParameterOptimization(childID, visited, ops)
		}
		pcsp := dag.GPCSPIndex(id, childID, LeftSide)
		ops = append(ops,
			IncrementWithWeightedEvolvedPLV{
				Dst:   dstLeft,
				Src:   dag.plv(PLVP, childID),
				GPCSP: pcsp,
			},
			Likelihood{
				Edge:   pcsp,
				Parent: dag.plv(PLVRLeft, id),
				Child:  dag.plv(PLVP, childID),
			})
	}
	ops = dag.optimizeSBNParametersOps(node.Subsplit().RotateSubsplit(), ops)
	ops = append(ops,
		Multiply{
			Dst:  dag.plv(PLVRRight, id),
			Src1: dag.plv(PLVRHat, id),
			Src2: dstLeft,
		},
		Multiply{
			Dst:  dag.plv(PLVP, id),
			Src1: dstLeft,
			Src2: dstRight,
		})
	return ops
}

// SBNParameterOptimization emits the SBN-parameter optimisation stream:
// depth-first likelihood and q updates from each rootsplit node, the rooting
// contribution of each rootsplit, and a final renormalisation of the
// rootsplit block.
func (dag *SubsplitDAG) SBNParameterOptimization() Operations {
	var ops Operations
	visited := make([]bool, len(dag.nodes))
	rootIDs := dag.RootsplitNodeIds()
	for i, rootID := range rootIDs {
		if !visited[rootID] {
			ops = dag.scheduleSBNParameterOptimization(rootID, visited, ops)
		}
		ops = append(ops, IncrementMarginalLikelihood{
			Stationary: dag.plv(PLVRHat, rootID),
			Rootsplit:  i,
			P:          dag.plv(PLVP, rootID),
		})
	}
	ops = append(ops, UpdateSBNProbabilities{Start: 0, Stop: len(rootIDs)})
	return ops
}

// ComputeLikelihoods emits one Likelihood per DAG edge followed by the
// marginal-likelihood accumulation over the rootsplits.
func (dag *SubsplitDAG) ComputeLikelihoods() Operations {
	var ops Operations
	for id := dag.taxonCount; id < len(dag.nodes); id++ {
		node := dag.nodes[id]
		for _, side := range []CladeSide{RightSide, LeftSide} {
			for _, childID := range node.Neighbors(Leafward, side) {
				ops = append(ops, Likelihood{
					Edge:   dag.GPCSPIndex(id, childID, side),
					Parent: dag.plv(rPLVForSide(side), id),
					Child:  dag.plv(PLVP, childID),
				})
			}
		}
	}
	return append(ops, dag.MarginalLikelihoodOperations()...)
}

// MarginalLikelihoodOperations emits the per-rootsplit contributions to the
// log-marginal likelihood.
func (dag *SubsplitDAG) MarginalLikelihoodOperations() Operations {
	var ops Operations
	for i, rootID := range dag.RootsplitNodeIds() {
		ops = append(ops, IncrementMarginalLikelihood{
			Stationary: dag.plv(PLVRHat, rootID),
			Rootsplit:  i,
			P:          dag.plv(PLVP, rootID),
		})
	}
	return ops
}
