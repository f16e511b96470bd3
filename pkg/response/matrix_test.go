package response

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testAxes(t *testing.T) (*LinearAxis, *LinearAxis, *SphericalAxis) {
	t.Helper()
	energy, err := NewLinearAxis("Energy [keV]", []float64{100, 200, 500, 1000})
	require.NoError(t, err)
	phi, err := NewUniformAxis("Phi [deg]", 0, 180, 6)
	require.NoError(t, err)
	dir, err := NewSphericalAxis("Direction", 12)
	require.NoError(t, err)
	return energy, phi, dir
}

// TestBufferLengthMatchesAxes verifies the buffer always covers the product
// of the bin counts as axes are appended.
func TestBufferLengthMatchesAxes(t *testing.T) {
	energy, phi, dir := testAxes(t)

	m := New("test")
	require.Equal(t, 1, m.Len())

	want := 1
	for _, a := range []Axis{energy, phi, dir, energy} {
		require.NoError(t, m.AddAxis(a))
		want *= a.BinCount()
		require.Equal(t, want, m.Len())
	}
	require.Equal(t, []int{3, 6, dir.BinCount(), 3}, m.Shape())
}

func TestAddAxisAfterWriteFails(t *testing.T) {
	energy, phi, _ := testAxes(t)

	m, err := NewWithAxes("test", energy)
	require.NoError(t, err)
	require.NoError(t, m.Add(1, 0))

	err = m.AddAxis(phi)
	require.ErrorIs(t, err, ErrInvalidState)

	// A copy of a written matrix keeps its shape locked and its content.
	c := m.Clone()
	require.ErrorIs(t, c.AddAxis(phi), ErrInvalidState)
	require.Equal(t, 1, c.NumAxes())
	require.Equal(t, 1.0, c.Sum())

	// A fresh shape copy is still open for axes.
	require.NoError(t, m.CloneShape("fresh").AddAxis(phi))
}

func TestStride(t *testing.T) {
	energy, phi, dir := testAxes(t)
	m, err := NewWithAxes("test", energy, phi, dir)
	require.NoError(t, err)

	require.Equal(t, 1, m.Stride(0))
	require.Equal(t, 3, m.Stride(1))
	require.Equal(t, 18, m.Stride(2))

	linear, err := m.Encode(2, 1, 4)
	require.NoError(t, err)
	require.Equal(t, 2*m.Stride(0)+m.Stride(1)+4*m.Stride(2), linear)
}

func TestEncodeDecode(t *testing.T) {
	energy, phi, dir := testAxes(t)
	m, err := NewWithAxes("test", energy, phi, dir)
	require.NoError(t, err)

	seen := make(map[int]bool)
	for e := 0; e < energy.BinCount(); e++ {
		for p := 0; p < phi.BinCount(); p++ {
			for d := 0; d < dir.BinCount(); d++ {
				linear, err := m.Encode(e, p, d)
				require.NoError(t, err)
				require.Equal(t, e+3*p+18*d, linear)
				require.False(t, seen[linear], "linear index %d produced twice", linear)
				seen[linear] = true

				back, err := m.Decode(linear)
				require.NoError(t, err)
				require.Equal(t, []int{e, p, d}, back)
			}
		}
	}
	require.Len(t, seen, m.Len())
}

func TestIndexingErrors(t *testing.T) {
	energy, phi, _ := testAxes(t)
	m, err := NewWithAxes("test", energy, phi)
	require.NoError(t, err)

	_, err = m.Get(0)
	require.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = m.Get(3, 0)
	require.ErrorIs(t, err, ErrIndexOutOfRange)

	_, err = m.GetLinear(m.Len())
	require.ErrorIs(t, err, ErrIndexOutOfRange)

	err = m.AddLinear(-1, 1)
	require.ErrorIs(t, err, ErrIndexOutOfRange)

	err = m.AddAt(1, 150)
	require.ErrorIs(t, err, ErrDimensionMismatch)

	err = m.AddAt(1, 50, 10)
	require.ErrorIs(t, err, ErrOutOfDomain)
}

func TestCoordinateAccess(t *testing.T) {
	energy, phi, dir := testAxes(t)
	m, err := NewWithAxes("test", energy, phi, dir)
	require.NoError(t, err)

	require.NoError(t, m.AddAt(2, 250, 45, 10, 20))
	require.NoError(t, m.AddAt(3, 250, 45, 10, 20))

	got, err := m.GetAt(250, 45, 10, 20)
	require.NoError(t, err)
	require.Equal(t, 5.0, got)

	d, err := dir.CoordinateToBin(10, 20)
	require.NoError(t, err)
	got, err = m.Get(1, 1, d)
	require.NoError(t, err)
	require.Equal(t, 5.0, got)
	require.Equal(t, 5.0, m.Sum())
}

func TestScaleAndDivide(t *testing.T) {
	energy, _, _ := testAxes(t)
	a, err := NewWithAxes("a", energy)
	require.NoError(t, err)
	b := a.CloneShape("b")

	for i, v := range []float64{2, 4, 6} {
		require.NoError(t, a.SetLinear(i, v))
	}
	require.NoError(t, b.SetLinear(0, 2))
	require.NoError(t, b.SetLinear(2, 3))

	require.NoError(t, a.Divide(b))
	require.Equal(t, []float64{1, 4, 2}, a.Values())
	require.True(t, a.IsFinite())

	a.Scale(2)
	require.Equal(t, 14.0, a.Sum())
	require.NoError(t, a.DivideScalar(14))
	require.InDelta(t, 1.0, a.Sum(), 1e-12)
	require.ErrorIs(t, a.DivideScalar(0), ErrDivideByZero)

	_, phi, _ := testAxes(t)
	other, err := NewWithAxes("other", phi)
	require.NoError(t, err)
	require.ErrorIs(t, a.Divide(other), ErrDimensionMismatch)
}

func TestWriteReadRoundTrip(t *testing.T) {
	energy, phi, dir := testAxes(t)
	m, err := NewWithAxes("Detector response", energy, dir, phi)
	require.NoError(t, err)
	m.SimulatedEvents = 123456789
	m.StartArea = 5026.548245743669

	vals := m.Values()
	for i := range vals {
		vals[i] = math.Sin(float64(i)) / 3
	}

	path := filepath.Join(t.TempDir(), "nested", "response.cbor")
	require.NoError(t, WriteFile(m, path))

	back, err := ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, m.Name, back.Name)
	require.Equal(t, m.SimulatedEvents, back.SimulatedEvents)
	require.Equal(t, m.StartArea, back.StartArea)
	require.True(t, m.SameShape(back))
	for i, v := range m.Values() {
		got, err := back.GetLinear(i)
		require.NoError(t, err)
		require.Equal(t, math.Float64bits(v), math.Float64bits(got), "cell %d", i)
	}
}

func TestReadFileErrors(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "missing.cbor"))
	require.ErrorIs(t, err, ErrIO)

	garbage := filepath.Join(t.TempDir(), "garbage.cbor")
	require.NoError(t, os.WriteFile(garbage, []byte("not a response matrix"), 0644))
	_, err = ReadFile(garbage)
	require.ErrorIs(t, err, ErrIO)

	path := filepath.Join(t.TempDir(), "empty.cbor")
	m := New("empty")
	require.NoError(t, WriteFile(m, path))
	back, err := ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, 1, back.Len())
}

type recordingSink struct{ reqs []SliceRequest }

func (r *recordingSink) RequestSlice(req SliceRequest) { r.reqs = append(r.reqs, req) }

func TestRequestSliceSendsSnapshot(t *testing.T) {
	energy, _, dir := testAxes(t)
	m, err := NewWithAxes("image", energy, dir)
	require.NoError(t, err)
	require.NoError(t, m.Set(7, 0, 0))

	sink := &recordingSink{}
	m.RequestSlice(sink, []int{1}, map[int][]float64{0: {150}}, "Iteration 1")
	require.NoError(t, m.Set(9, 0, 0))

	require.Len(t, sink.reqs, 1)
	got, err := sink.reqs[0].Matrix.Get(0, 0)
	require.NoError(t, err)
	require.Equal(t, 7.0, got)
	require.Equal(t, "Iteration 1", sink.reqs[0].Title)

	m.RequestSlice(nil, []int{1}, nil, "ignored")
}
