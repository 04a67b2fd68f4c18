// Copyright 2019-2021 libsbn project contributors.
//
// libsbn is free software under the GPLv3; see LICENSE file for details.

package libsbn

import "math"

// One-dimensional optimisation for branch lengths. BrentMinimize is the
// workhorse; GradientAscent is the alternative that consumes the closed-form
// derivative. Neither treats hitting the iteration cap as an error: the best
// value found so far is returned.

const goldenSectionRatio = 0.3819660112501051 // (3 - sqrt(5)) / 2

// BrentMinimize minimises f on [lower, upper] by Brent's method (golden
// section with parabolic interpolation), converging to the given number of
// significant digits. It returns the minimiser and its value.
func BrentMinimize(f func(float64) float64, lower, upper float64, significantDigits, maxIter int) (float64, float64) {
	tolerance := math.Pow(10, -float64(significantDigits))
	a, b := lower, upper
	// Start at the upper bound so that a flat stretch at the top of the
	// interval (a saturated likelihood) sends the search downward.
	x := b
	w, v := x, x
	fx := f(x)
	fw, fv := fx, fx
	var d, e float64

	for iter := 0; iter < maxIter; iter++ {
		mid := 0.5 * (a + b)
		tol1 := tolerance*math.Abs(x) + 1e-25
		tol2 := 2 * tol1
		if math.Abs(x-mid) <= tol2-0.5*(b-a) {
			break
		}
		useGolden := true
		if math.Abs(e) > tol1 {
			// Try a parabola through x, w, v.
			r := (x - w) * (fx - fv)
			q := (x - v) * (fx - fw)
			p := (x-v)*q - (x-w)*r
			q = 2 * (q - r)
			if q > 0 {
				p = -p
			}
			q = math.Abs(q)
			prev := e
			e = d
			if math.Abs(p) < math.Abs(0.5*q*prev) && p > q*(a-x) && p < q*(b-x) {
				d = p / q
				u := x + d
				if u-a < tol2 || b-u < tol2 {
					d = math.Copysign(tol1, mid-x)
				}
				useGolden = false
			}
		}
		if useGolden {
			if x >= mid {
				e = a - x
			} else {
				e = b - x
			}
			d = goldenSectionRatio * e
		}
		var u float64
		if math.Abs(d) >= tol1 {
			u = x + d
		} else {
			u = x + math.Copysign(tol1, d)
		}
		fu := f(u)
		if fu <= fx {
			if u >= x {
				a = x
			} else {
				b = x
			}
			v, fv = w, fw
			w, fw = x, fx
			x, fx = u, fu
			continue
		}
		if u < x {
			a = u
		} else {
			b = u
		}
		switch {
		case fu <= fw || w == x:
			v, fv = w, fw
			w, fw = u, fu
		case fu <= fv || v == x || v == w:
			v, fv = u, fu
		}
	}
	return x, fx
}

// GradientAscent maximises a differentiable function from a starting point,
// clamping iterates at minX. fAndDf returns the value and derivative. It
// returns the final point and its value.
func GradientAscent(fAndDf func(float64) (float64, float64), start, relativeTolerance, stepSize, minX float64, maxIter int) (float64, float64) {
	x := start
	for iter := 0; iter < maxIter; iter++ {
		_, dy := fAndDf(x)
		next := math.Max(x+stepSize*dy, minX)
		converged := math.Abs(next-x) < relativeTolerance*math.Max(math.Abs(x), 1)
		x = next
		if converged {
			break
		}
	}
	y, _ := fAndDf(x)
	return x, y
}
