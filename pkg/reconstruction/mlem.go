package reconstruction

import (
	"gonum.org/v1/gonum/mat"
)

// mlem holds the working vectors of the Maximum-Likelihood
// Expectation-Maximization iteration.
//
// The response is viewed as an nData × nImage matrix R, so
//
//	mean    = R · image
//	content = Rᵀ · (data / mean)
//	image  *= content / sensitivity
//
// where sensitivity is the column sum of R.
type mlem struct {
	resp        *mat.Dense
	data        *mat.VecDense
	sensitivity *mat.VecDense
	mean        *mat.VecDense
	ratio       *mat.VecDense
	content     *mat.VecDense
}

func newMLEM(resp *mat.Dense, data, sensitivity *mat.VecDense) *mlem {
	nData, nImage := resp.Dims()
	return &mlem{
		resp:        resp,
		data:        data,
		sensitivity: sensitivity,
		mean:        mat.NewVecDense(nData, nil),
		ratio:       mat.NewVecDense(nData, nil),
		content:     mat.NewVecDense(nImage, nil),
	}
}

// iterate updates image in place and returns Σ content·image/sensitivity,
// the total of the updated image over cells with non-zero sensitivity.
func (m *mlem) iterate(image []float64) float64 {
	img := mat.NewVecDense(len(image), image)

	// Convolve
	m.mean.MulVec(m.resp, img)

	// Deconvolve
	for j := 0; j < m.mean.Len(); j++ {
		mean := m.mean.AtVec(j)
		if mean > 0 {
			m.ratio.SetVec(j, m.data.AtVec(j)/mean)
		} else {
			m.ratio.SetVec(j, 0)
		}
	}
	m.content.MulVec(m.resp.T(), m.ratio)

	total := 0.0
	for i := range image {
		sum := m.sensitivity.AtVec(i)
		if sum > 0 {
			image[i] *= m.content.AtVec(i) / sum
			total += image[i]
		}
	}
	return total
}
