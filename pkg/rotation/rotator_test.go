package rotation

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"comptonsky/internal/models"
	"comptonsky/pkg/response"
)

// newDetectorResponse builds a small five-axis response filled with
// reproducible pseudo-random values.
func newDetectorResponse(t testing.TB, dirBins int) *response.Matrix {
	t.Helper()
	ein, err := response.NewUniformAxis("Ein", 100, 1000, 2)
	require.NoError(t, err)
	eout, err := response.NewUniformAxis("Eout", 100, 1000, 2)
	require.NoError(t, err)
	phi, err := response.NewUniformAxis("Phi", 0, 180, 3)
	require.NoError(t, err)
	dir, err := response.NewSphericalAxis("Direction", dirBins)
	require.NoError(t, err)

	m, err := response.NewWithAxes("Detector response", ein, dir, eout, phi, dir)
	require.NoError(t, err)
	m.StartArea = 100

	rng := rand.New(rand.NewSource(42))
	vals := m.Values()
	for i := range vals {
		if rng.Float64() < 0.7 {
			vals[i] = rng.Float64()
		}
	}
	return m
}

func newPointing(t testing.TB, bins int) *response.Matrix {
	t.Helper()
	axis, err := response.NewSphericalAxis("Pointing", bins)
	require.NoError(t, err)
	p, err := response.NewWithAxes("Pointing", axis, axis)
	require.NoError(t, err)
	return p
}

// fillPointing occupies equatorial X bins against polar-cap Z bins of a
// 12-bin axis, so every pair forms a valid frame.
func fillPointing(t testing.TB, p *response.Matrix) {
	t.Helper()
	w := 1.0
	for x := 3; x <= 8; x++ {
		for z := 0; z <= 2; z++ {
			require.NoError(t, p.Set(w, x, z))
			w += 0.5
		}
	}
	require.NoError(t, p.DivideScalar(p.Sum()))
}

func TestRotateWorkerCountInvariance(t *testing.T) {
	detector := newDetectorResponse(t, 12)
	pointing := newPointing(t, 12)
	fillPointing(t, pointing)

	single, err := NewRotator(1, nil).Rotate(context.Background(), detector, pointing)
	require.NoError(t, err)

	for _, workers := range []int{2, 3, 4, 7, 64} {
		multi, err := NewRotator(workers, nil).Rotate(context.Background(), detector, pointing)
		require.NoError(t, err)
		require.True(t, single.SameShape(multi))

		a, b := single.Values(), multi.Values()
		for i := range a {
			scale := math.Max(math.Abs(a[i]), math.Abs(b[i]))
			if scale == 0 {
				continue
			}
			require.LessOrEqual(t, math.Abs(a[i]-b[i])/scale, 1e-6, "workers=%d bin %d", workers, i)
		}
	}
}

func TestRotateConservesTotal(t *testing.T) {
	detector := newDetectorResponse(t, 12)
	pointing := newPointing(t, 12)
	fillPointing(t, pointing)

	galactic, err := NewRotator(4, nil).Rotate(context.Background(), detector, pointing)
	require.NoError(t, err)
	require.InEpsilon(t, detector.Sum(), galactic.Sum(), 1e-9)
	require.Equal(t, detector.StartArea, galactic.StartArea)
}

func TestRotateWithoutPointings(t *testing.T) {
	detector := newDetectorResponse(t, 12)
	pointing := newPointing(t, 12)

	galactic, err := NewRotator(4, nil).Rotate(context.Background(), detector, pointing)
	require.NoError(t, err)
	require.Equal(t, detector.Len(), galactic.Len())
	require.Zero(t, galactic.Sum())
}

func TestRotateShapeErrors(t *testing.T) {
	detector := newDetectorResponse(t, 12)
	pointing := newPointing(t, 12)

	_, err := NewRotator(1, nil).Rotate(context.Background(), pointing, pointing)
	require.ErrorIs(t, err, ErrShapeMismatch)

	_, err = NewRotator(1, nil).Rotate(context.Background(), detector, detector)
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestRotateCancelled(t *testing.T) {
	detector := newDetectorResponse(t, 12)
	pointing := newPointing(t, 12)
	fillPointing(t, pointing)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRotator(2, nil).Rotate(ctx, detector, pointing)
	require.ErrorIs(t, err, context.Canceled)
}

func TestIdentityRemap(t *testing.T) {
	axis, err := response.NewSphericalAxis("D", 200)
	require.NoError(t, err)
	ds, err := newDirectionSet(axis)
	require.NoError(t, err)

	frame, err := NewFrame(r3.Vec{X: 1}, r3.Vec{Z: 1})
	require.NoError(t, err)

	table := make([]int, axis.BinCount())
	ds.remap(frame, table)
	for b, g := range table {
		require.Equal(t, b, g)
	}
}

func TestFrame(t *testing.T) {
	// Detector X along galactic +Y, Z along galactic +Z.
	frame, err := FrameFromOrientation(models.Orientation{XLat: 0, XLon: 90, ZLat: 90, ZLon: 0})
	require.NoError(t, err)

	g := frame.ToGalactic(r3.Vec{X: 1})
	require.InDelta(t, 0, g.X, 1e-12)
	require.InDelta(t, 1, g.Y, 1e-12)

	g = frame.ToGalactic(r3.Vec{Y: 1})
	require.InDelta(t, -1, g.X, 1e-12)

	v := r3.Vec{X: 0.3, Y: -0.2, Z: 0.9}
	back := frame.ToDetector(frame.ToGalactic(v))
	require.InDelta(t, 0, r3.Norm(r3.Sub(v, back)), 1e-12)

	require.InDelta(t, 0, r3.Dot(frame.X, frame.Y), 1e-12)
	require.InDelta(t, 0, r3.Dot(frame.Y, frame.Z), 1e-12)
	require.InDelta(t, 1, r3.Norm(frame.Y), 1e-12)

	_, err = NewFrame(r3.Vec{Z: 2}, r3.Vec{Z: 1})
	require.ErrorIs(t, err, ErrDegenerateFrame)
}

func TestPartition(t *testing.T) {
	tests := []struct {
		n, w int
		want [][2]int
	}{
		{0, 4, [][2]int{{0, 0}}},
		{3, 1, [][2]int{{0, 3}}},
		{10, 3, [][2]int{{0, 4}, {4, 8}, {8, 10}}},
		{2, 8, [][2]int{{0, 1}, {1, 2}}},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, partition(tt.n, tt.w), "n=%d w=%d", tt.n, tt.w)
	}
}

func BenchmarkRotate(b *testing.B) {
	detector := newDetectorResponse(b, 48)
	pointing := newPointing(b, 12)
	fillPointing(b, pointing)
	r := NewRotator(0, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := r.Rotate(context.Background(), detector, pointing); err != nil {
			b.Fatal(err)
		}
	}
}
