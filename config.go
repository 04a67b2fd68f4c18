// Copyright 2019-2021 libsbn project contributors.
//
// libsbn is free software under the GPLv3; see LICENSE file for details.

package libsbn

import "math"

// configs stores the values of the different numeric parameters of an Engine.
type configs struct {
	rescalingThreshold float64 // PLV entries below this trigger a rescale
	branchLengthMin    float64 // lower bound for branch-length optimisation
	branchLengthMax    float64 // upper bound for branch-length optimisation
	significantDigits  int     // Brent convergence criterion
	maxIter            int     // iteration cap for 1-D optimisation
	mmapFilePath       string  // backing file for the PLV arena ("" = in-memory)
}

func makeconfigs() *configs {
	return &configs{
		rescalingThreshold: _DEFAULTRESCALINGTHRESHOLD,
		branchLengthMin:    _DEFAULTBRANCHLENGTHMIN,
		branchLengthMax:    _DEFAULTBRANCHLENGTHMAX,
		significantDigits:  _DEFAULTSIGNIFICANTDIGITS,
		maxIter:            _DEFAULTMAXITER,
	}
}

const (
	// _DEFAULTRESCALINGTHRESHOLD is 2^-40; a Multiply whose result dips below
	// it gets rescaled.
	_DEFAULTRESCALINGTHRESHOLD = 1.0 / (1 << 40)

	// _DEFAULTBRANCHLENGTHMIN and _DEFAULTBRANCHLENGTHMAX bound the Brent
	// search. The upper bound is effectively infinite: the JC transition
	// matrix is saturated long before 100 substitutions per site.
	_DEFAULTBRANCHLENGTHMIN = 1e-6
	_DEFAULTBRANCHLENGTHMAX = 100.0

	_DEFAULTSIGNIFICANTDIGITS = 6
	_DEFAULTMAXITER           = 1000

	// _MAXRESCALINGCOUNT caps the per-slot rescaling counter. Reaching it
	// means the PLVs have decayed past any plausible numeric range.
	_MAXRESCALINGCOUNT = 1 << 20
)

// RescalingThreshold is a configuration option (function). Used as a
// parameter in NewEngine it sets the rescaling threshold for PLV slots. The
// default is 2^-40.
func RescalingThreshold(threshold float64) func(*configs) {
	return func(c *configs) {
		if threshold > 0 && threshold < 1 {
			c.rescalingThreshold = threshold
		}
	}
}

// BranchLengthBounds is a configuration option (function). Used as a
// parameter in NewEngine it sets the interval searched by branch-length
// optimisation. The defaults are [1e-6, 100].
func BranchLengthBounds(min, max float64) func(*configs) {
	return func(c *configs) {
		if min > 0 && max > min {
			c.branchLengthMin = min
			c.branchLengthMax = max
		}
	}
}

// SignificantDigits is a configuration option (function). Used as a parameter
// in NewEngine it sets the number of significant digits to which Brent
// optimisation converges. The default is 6.
func SignificantDigits(digits int) func(*configs) {
	return func(c *configs) {
		if digits > 0 {
			c.significantDigits = digits
		}
	}
}

// MaxOptimizationIterations is a configuration option (function). Used as a
// parameter in NewEngine it caps the number of iterations of a single 1-D
// optimisation. Exceeding the cap returns the best value found so far; it is
// not an error. The default is 1000.
func MaxOptimizationIterations(n int) func(*configs) {
	return func(c *configs) {
		if n > 0 {
			c.maxIter = n
		}
	}
}

// MmapFile is a configuration option (function). Used as a parameter in
// NewEngine it backs the PLV arena with the named memory-mapped file instead
// of anonymous memory. The file is created (or truncated) at engine
// construction, survives the process, and must be deleted by the caller.
func MmapFile(path string) func(*configs) {
	return func(c *configs) {
		c.mmapFilePath = path
	}
}

func (c *configs) logRescalingThreshold() float64 {
	return math.Log(c.rescalingThreshold)
}
