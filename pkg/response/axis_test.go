package response

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestLinearAxisBins(t *testing.T) {
	a, err := NewLinearAxis("E", []float64{0, 1, 2, 4})
	require.NoError(t, err)

	tests := []struct {
		value float64
		bin   int
	}{
		{0, 0},
		{0.5, 0},
		{1, 1},
		{3.99, 2},
		{4, 2},
	}
	for _, tt := range tests {
		bin, err := a.CoordinateToBin(tt.value)
		require.NoError(t, err)
		require.Equal(t, tt.bin, bin, "value %g", tt.value)
	}

	for _, v := range []float64{-0.1, 4.01, math.NaN()} {
		_, err := a.CoordinateToBin(v)
		require.ErrorIs(t, err, ErrOutOfDomain)
	}

	c, err := a.BinCenter(2)
	require.NoError(t, err)
	require.Equal(t, []float64{3}, c)

	_, err = a.BinCenter(3)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestLinearAxisValidation(t *testing.T) {
	_, err := NewLinearAxis("E", []float64{1})
	require.ErrorIs(t, err, ErrInvalidAxis)
	_, err = NewLinearAxis("E", []float64{1, 1})
	require.ErrorIs(t, err, ErrInvalidAxis)
	_, err = NewLinearAxis("E", []float64{0, math.Inf(1)})
	require.ErrorIs(t, err, ErrInvalidAxis)
	_, err = NewUniformAxis("E", 1, 0, 3)
	require.ErrorIs(t, err, ErrInvalidAxis)
}

func TestSphericalAxisLayout(t *testing.T) {
	tests := []struct {
		requested int
		want      int
	}{
		{1, 1},
		{4, 4},
		{12, 12},
	}
	for _, tt := range tests {
		a, err := NewSphericalAxis("D", tt.requested)
		require.NoError(t, err)
		require.Equal(t, tt.want, a.BinCount())
	}

	a, err := NewSphericalAxis("D", 500)
	require.NoError(t, err)
	require.InDelta(t, 500, a.BinCount(), 50)

	total := 0.0
	target := 4 * math.Pi / float64(a.BinCount())
	for b := 0; b < a.BinCount(); b++ {
		sa, err := a.BinSolidAngle(b)
		require.NoError(t, err)
		require.InDelta(t, target, sa, target, "bin %d is far from equal-area", b)
		total += sa
	}
	require.InDelta(t, 4*math.Pi, total, 1e-9)
}

// TestSphericalCenterRoundTrip checks that every bin center maps back to its bin.
func TestSphericalCenterRoundTrip(t *testing.T) {
	for _, n := range []int{1, 2, 4, 12, 100, 1000} {
		a, err := NewSphericalAxis("D", n)
		require.NoError(t, err)
		for b := 0; b < a.BinCount(); b++ {
			c, err := a.BinCenter(b)
			require.NoError(t, err)
			got, err := a.CoordinateToBin(c...)
			require.NoError(t, err)
			require.Equal(t, b, got, "n=%d center %v", n, c)

			v, err := a.BinDirection(b)
			require.NoError(t, err)
			require.InDelta(t, 1, r3.Norm(v), 1e-12)
			require.Equal(t, b, a.DirectionToBin(v))
		}
	}
}

func TestSphericalAlwaysValid(t *testing.T) {
	a, err := NewSphericalAxis("D", 50)
	require.NoError(t, err)

	for _, c := range [][2]float64{{90, 0}, {-90, 0}, {120, 10}, {-95, -720}, {0, 359.999}, {0, 360}} {
		b, err := a.CoordinateToBin(c[0], c[1])
		require.NoError(t, err)
		require.True(t, b >= 0 && b < a.BinCount())
	}

	_, err = a.CoordinateToBin(10)
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestLatLonVec(t *testing.T) {
	v := LatLonToVec(0, 0)
	require.InDelta(t, 1, v.X, 1e-15)

	v = LatLonToVec(90, 123)
	require.InDelta(t, 1, v.Z, 1e-15)

	lat, lon := VecToLatLon(r3.Vec{X: 0, Y: -2, Z: 0})
	require.InDelta(t, 0, lat, 1e-12)
	require.InDelta(t, 270, lon, 1e-12)
}

func TestAxisEqual(t *testing.T) {
	a, _ := NewUniformAxis("E", 0, 1, 4)
	b, _ := NewUniformAxis("E", 0, 1, 4)
	c, _ := NewUniformAxis("E", 0, 2, 4)
	s1, _ := NewSphericalAxis("D", 12)
	s2, _ := NewSphericalAxis("D", 12)

	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
	require.False(t, a.Equal(s1))
	require.True(t, s1.Equal(s2))
}
