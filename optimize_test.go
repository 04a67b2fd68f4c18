// Copyright 2019-2021 libsbn project contributors.
//
// libsbn is free software under the GPLv3; see LICENSE file for details.

package libsbn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBrentMinimizeQuadratic(t *testing.T) {
	f := func(x float64) float64 { return (x - 2) * (x - 2) }
	x, fx := BrentMinimize(f, 0, 10, 6, 1000)
	assert.InDelta(t, 2.0, x, 1e-5)
	assert.InDelta(t, 0.0, fx, 1e-10)
}

func TestBrentMinimizeAsymmetric(t *testing.T) {
	// Minimum of x^4 - x at (1/4)^(1/3).
	f := func(x float64) float64 { return math.Pow(x, 4) - x }
	x, _ := BrentMinimize(f, 0, 3, 6, 1000)
	assert.InDelta(t, math.Cbrt(0.25), x, 1e-5)
}

func TestBrentMinimizeBoundary(t *testing.T) {
	// Monotone increasing: the minimum sits at the lower bound.
	f := func(x float64) float64 { return x }
	x, _ := BrentMinimize(f, 1e-6, 100, 6, 1000)
	assert.InDelta(t, 1e-6, x, 1e-4)
}

func TestBrentHonoursIterationCap(t *testing.T) {
	calls := 0
	f := func(x float64) float64 { calls++; return (x - 2) * (x - 2) }
	BrentMinimize(f, 0, 10, 12, 3)
	// One initial evaluation plus at most one per iteration.
	assert.LessOrEqual(t, calls, 4)
}

func TestGradientAscent(t *testing.T) {
	// Maximum of -(x-3)^2 at 3; derivative -2(x-3).
	fAndDf := func(x float64) (float64, float64) {
		return -(x - 3) * (x - 3), -2 * (x - 3)
	}
	x, y := GradientAscent(fAndDf, 0.5, 1e-8, 0.25, 1e-6, 10000)
	assert.InDelta(t, 3.0, x, 1e-4)
	assert.InDelta(t, 0.0, y, 1e-6)
}

func TestGradientAscentClampsAtMin(t *testing.T) {
	// Maximum far to the left of the allowed interval.
	fAndDf := func(x float64) (float64, float64) { return -x, -1 }
	x, _ := GradientAscent(fAndDf, 0.5, 1e-10, 0.1, 1e-6, 1000)
	assert.Equal(t, 1e-6, x)
}

func TestLogAdd(t *testing.T) {
	assert.InDelta(t, math.Log(5), LogAdd(math.Log(2), math.Log(3)), 1e-12)
	assert.InDelta(t, math.Log(5), LogAdd(math.Log(3), math.Log(2)), 1e-12)
	// Adding nothing to nothing.
	assert.True(t, math.IsInf(LogAdd(math.Inf(-1), math.Inf(-1)), -1))
	// One side dominating completely.
	assert.Equal(t, 0.0, LogAdd(0, -1e9))
}

func TestLogSum(t *testing.T) {
	v := make([]float64, 10)
	runningTotal := math.Inf(-1)
	for i := range v {
		v[i] = math.Log(float64(i + 1))
		runningTotal = LogAdd(runningTotal, v[i])
	}
	assert.InDelta(t, math.Log(55), LogSum(v), 1e-10)
	assert.InDelta(t, LogSum(v), runningTotal, 1e-10)
}

func TestProbabilityNormalizeInLog(t *testing.T) {
	v := []float64{math.Log(1), math.Log(2), math.Log(3), math.Log(4)}
	ProbabilityNormalizeInLog(v)
	Exponentiate(v)
	sum := 0.0
	for _, p := range v {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	assert.InDelta(t, 0.1, v[0], 1e-12)
}

func TestSafeLog(t *testing.T) {
	assert.True(t, math.IsInf(safeLog(0), -1))
	assert.True(t, math.IsInf(safeLog(-1), -1))
	assert.Equal(t, 0.0, safeLog(1))
}
