package reconstruction

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// logFloor keeps the Lagrange update away from log(0).
const logFloor = 1e-9

// maxEnt holds the state of the Maximum-Entropy iteration: one Lagrange
// multiplier per data-space cell, initialized to 1.
type maxEnt struct {
	resp        *mat.Dense
	data        *mat.VecDense
	dataSum     float64
	lagrange    *mat.VecDense
	exponent    *mat.VecDense
	expectation *mat.VecDense
	restored    []float64
}

func newMaxEnt(resp *mat.Dense, data *mat.VecDense, dataSum float64) *maxEnt {
	nData, nImage := resp.Dims()
	lagrange := mat.NewVecDense(nData, nil)
	for j := 0; j < nData; j++ {
		lagrange.SetVec(j, 1)
	}
	return &maxEnt{
		resp:        resp,
		data:        data,
		dataSum:     dataSum,
		lagrange:    lagrange,
		exponent:    mat.NewVecDense(nImage, nil),
		expectation: mat.NewVecDense(nData, nil),
		restored:    make([]float64, nImage),
	}
}

// iterate runs one MaxEnt step. On success the rescaled restored image is
// copied into image and its entropy returned. stop reports a vanished scale,
// which ends the iteration without touching image.
func (m *maxEnt) iterate(image []float64) (entropy float64, stop bool, err error) {
	// Restored image from the current multipliers.
	m.exponent.MulVec(m.resp.T(), m.lagrange)
	for i := range m.restored {
		m.restored[i] = math.Exp(m.exponent.AtVec(i))
	}
	sum := floats.Sum(m.restored)
	if sum == 0 {
		return 0, false, ErrZeroRestoredImageSum
	}
	if math.IsNaN(sum) || math.IsInf(sum, 0) {
		return 0, false, fmt.Errorf("restored image sum %g: %w", sum, ErrNonFiniteImage)
	}

	floats.Scale(m.dataSum/sum, m.restored)
	entropy = entropyOf(m.restored)

	// Expectation in data space.
	m.expectation.MulVec(m.resp, mat.NewVecDense(len(m.restored), m.restored))
	expSum := mat.Sum(m.expectation)
	if expSum == 0 {
		return entropy, false, ErrZeroExpectationSum
	}

	scale := expSum / m.dataSum
	if scale == 0 {
		return entropy, true, nil
	}

	for j := 0; j < m.lagrange.Len(); j++ {
		d := m.data.AtVec(j)
		e := m.expectation.AtVec(j)
		l := 0.0
		if d > 0 {
			l += math.Log(math.Max(d*scale, logFloor))
			if e > 0 {
				l -= math.Log(math.Max(e, logFloor))
			}
		}
		m.lagrange.SetVec(j, l)
	}

	copy(image, m.restored)
	return entropy, false, nil
}

// entropyOf returns Σ x·ln(x) over positive cells.
func entropyOf(xs []float64) float64 {
	s := 0.0
	for _, x := range xs {
		if x > 0 {
			s += x * math.Log(x)
		}
	}
	return s
}
