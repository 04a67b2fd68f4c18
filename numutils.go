// Copyright 2019-2021 libsbn project contributors.
//
// libsbn is free software under the GPLv3; see LICENSE file for details.

package libsbn

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

var logEps = math.Log(math.Nextafter(1, 2) - 1)

// LogAdd returns log(exp(x) + exp(y)) without leaving log space.
func LogAdd(x, y float64) float64 {
	if y > x {
		x, y = y, x
	}
	if math.IsInf(x, -1) {
		return x
	}
	negDiff := y - x
	if negDiff < logEps {
		return x
	}
	return x + math.Log1p(math.Exp(negDiff))
}

// LogSum returns log(Σ exp(v_i)).
func LogSum(v []float64) float64 {
	return floats.LogSumExp(v)
}

// ProbabilityNormalizeInLog shifts a log-space vector so that its
// exponentials sum to one.
func ProbabilityNormalizeInLog(v []float64) {
	logNorm := LogSum(v)
	for i := range v {
		v[i] -= logNorm
	}
}

// Exponentiate replaces each entry by its exponential.
func Exponentiate(v []float64) {
	for i := range v {
		v[i] = math.Exp(v[i])
	}
}

// safeLog returns log(x), clamping non-positive inputs to -Inf instead of
// producing NaN for negative ones; q entries below machine epsilon must not
// poison log-space products.
func safeLog(x float64) float64 {
	if x <= 0 {
		return math.Inf(-1)
	}
	return math.Log(x)
}
