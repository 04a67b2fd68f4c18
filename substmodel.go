// Copyright 2019-2021 libsbn project contributors.
//
// libsbn is free software under the GPLv3; see LICENSE file for details.

package libsbn

import "gonum.org/v1/gonum/mat"

// A SubstitutionModel supplies the eigendecomposition of a continuous-time
// Markov-chain rate matrix Q. The engine borrows the returned matrices for
// its lifetime and never mutates them: the transition matrix for a branch
// length ℓ is V · diag(exp(ℓλ)) · V⁻¹ and the derivative matrix replaces the
// middle factor with diag(λ · exp(ℓλ)).
type SubstitutionModel interface {
	// StateCount returns the number of character states (4 for DNA).
	StateCount() int
	// Eigenvectors returns the matrix V of right eigenvectors of Q.
	Eigenvectors() *mat.Dense
	// InverseEigenvectors returns V⁻¹.
	InverseEigenvectors() *mat.Dense
	// Eigenvalues returns the eigenvalue vector λ.
	Eigenvalues() []float64
	// StationaryFrequencies returns the stationary distribution of Q.
	StationaryFrequencies() []float64
	// QMatrix returns the rate matrix itself.
	QMatrix() *mat.Dense
}

// A SiteModel describes rate heterogeneity across sites as a finite mixture
// of rate categories. The core only requires the constant-rate model
// (length-1 vectors).
type SiteModel interface {
	CategoryCount() int
	CategoryRates() []float64
	CategoryProportions() []float64
}

// A ClockModel scales branch lengths into expected substitutions. The core
// only requires the strict clock.
type ClockModel interface {
	// RateFor returns the rate multiplier for the edge with the given
	// parameter index.
	RateFor(gpcsp int) float64
}

// JC69 is the Jukes-Cantor (1969) model: uniform stationary frequencies and
// a single exchange rate, normalised to one expected substitution per unit
// branch length. Its eigendecomposition is analytic.
type JC69 struct {
	eigenvectors        *mat.Dense
	inverseEigenvectors *mat.Dense
	eigenvalues         []float64
	stationary          []float64
	q                   *mat.Dense
}

// NewJC69 constructs the model.
func NewJC69() *JC69 {
	// Columns: the equilibrium eigenvector for eigenvalue 0 and three
	// orthogonal eigenvectors for eigenvalue -4/3.
	v := mat.NewDense(4, 4, []float64{
		1, 1, 0, 1,
		1, -1, 0, 1,
		1, 0, 1, -1,
		1, 0, -1, -1,
	})
	vinv := mat.NewDense(4, 4, []float64{
		0.25, 0.25, 0.25, 0.25,
		0.5, -0.5, 0, 0,
		0, 0, 0.5, -0.5,
		0.25, 0.25, -0.25, -0.25,
	})
	q := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if i == j {
				q.Set(i, j, -1)
			} else {
				q.Set(i, j, 1.0/3.0)
			}
		}
	}
	return &JC69{
		eigenvectors:        v,
		inverseEigenvectors: vinv,
		eigenvalues:         []float64{0, -4.0 / 3.0, -4.0 / 3.0, -4.0 / 3.0},
		stationary:          []float64{0.25, 0.25, 0.25, 0.25},
		q:                   q,
	}
}

func (m *JC69) StateCount() int                  { return 4 }
func (m *JC69) Eigenvectors() *mat.Dense         { return m.eigenvectors }
func (m *JC69) InverseEigenvectors() *mat.Dense  { return m.inverseEigenvectors }
func (m *JC69) Eigenvalues() []float64           { return m.eigenvalues }
func (m *JC69) StationaryFrequencies() []float64 { return m.stationary }
func (m *JC69) QMatrix() *mat.Dense              { return m.q }

// ConstantSiteModel is the single-category site model.
type ConstantSiteModel struct{}

func (ConstantSiteModel) CategoryCount() int             { return 1 }
func (ConstantSiteModel) CategoryRates() []float64       { return []float64{1} }
func (ConstantSiteModel) CategoryProportions() []float64 { return []float64{1} }

// StrictClockModel multiplies every branch by a fixed rate.
type StrictClockModel struct {
	Rate float64
}

func (m StrictClockModel) RateFor(int) float64 { return m.Rate }
