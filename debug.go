// Copyright 2019-2021 libsbn project contributors.
//
// libsbn is free software under the GPLv3; see LICENSE file for details.

//go:build debug

package libsbn

import (
	"log"
	"os"
)

const _DEBUG bool = true

func init() {
	log.SetOutput(os.Stdout)
}

// logOperations dumps an operation stream before execution.
func logOperations(phase string, ops Operations) {
	log.Printf("%s: %d operations\n%s", phase, len(ops), ops)
}

// logRescale records a rescaling event.
func logRescale(plvIdx, count, total int) {
	log.Printf("rescale plv %d by %d (total %d)", plvIdx, count, total)
}

// logEngineState dumps the engine's parameter vectors.
func (eng *Engine) logEngineState() {
	log.Printf("branch lengths: %v", eng.branchLengths)
	log.Printf("q: %v", eng.q)
	log.Printf("log likelihoods: %v", eng.logLikelihoods)
	log.Printf("log marginal: %v", eng.logMarginalLikelihood)
}
