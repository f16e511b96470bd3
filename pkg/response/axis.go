package response

import (
	"fmt"
	"math"
	"sort"
)

// Axis is one dimension of a Matrix. An axis maps a tuple of Dimensions()
// coordinates to a bin and a bin back to its representative coordinates.
// Axes are immutable once attached to a matrix.
type Axis interface {
	// Name is the human readable axis label, e.g. "Energy [keV]".
	Name() string

	// BinCount is the number of bins along the axis.
	BinCount() int

	// Dimensions is the number of coordinates the axis consumes:
	// 1 for linear axes, 2 (latitude, longitude) for spherical axes.
	Dimensions() int

	// CoordinateToBin resolves a coordinate tuple to a bin index.
	CoordinateToBin(coords ...float64) (int, error)

	// BinCenter returns the representative coordinates of a bin.
	BinCenter(bin int) ([]float64, error)

	// Equal reports whether both axes describe the identical binning.
	Equal(other Axis) bool
}

// LinearAxis is an axis defined by strictly increasing bin edges.
// Bin i covers [edges[i], edges[i+1]), the last bin also includes its upper edge.
type LinearAxis struct {
	name  string
	edges []float64
}

// NewLinearAxis creates an axis from explicit bin edges. At least two edges
// are required and they must be finite and strictly increasing.
func NewLinearAxis(name string, edges []float64) (*LinearAxis, error) {
	if len(edges) < 2 {
		return nil, fmt.Errorf("axis %q needs at least 2 edges, got %d: %w", name, len(edges), ErrInvalidAxis)
	}
	for i, e := range edges {
		if math.IsNaN(e) || math.IsInf(e, 0) {
			return nil, fmt.Errorf("axis %q edge %d is not finite: %w", name, i, ErrInvalidAxis)
		}
		if i > 0 && e <= edges[i-1] {
			return nil, fmt.Errorf("axis %q edges not strictly increasing at %d: %w", name, i, ErrInvalidAxis)
		}
	}

	own := make([]float64, len(edges))
	copy(own, edges)
	return &LinearAxis{name: name, edges: own}, nil
}

// NewUniformAxis creates an axis of n equal-width bins spanning [min, max].
func NewUniformAxis(name string, min, max float64, n int) (*LinearAxis, error) {
	if n < 1 || !(max > min) {
		return nil, fmt.Errorf("axis %q: need n >= 1 and max > min: %w", name, ErrInvalidAxis)
	}
	edges := make([]float64, n+1)
	width := (max - min) / float64(n)
	for i := range edges {
		edges[i] = min + float64(i)*width
	}
	edges[n] = max
	return NewLinearAxis(name, edges)
}

func (a *LinearAxis) Name() string    { return a.name }
func (a *LinearAxis) BinCount() int   { return len(a.edges) - 1 }
func (a *LinearAxis) Dimensions() int { return 1 }

// Edges returns a copy of the bin edges.
func (a *LinearAxis) Edges() []float64 {
	out := make([]float64, len(a.edges))
	copy(out, a.edges)
	return out
}

// Min returns the lowest edge.
func (a *LinearAxis) Min() float64 { return a.edges[0] }

// Max returns the highest edge.
func (a *LinearAxis) Max() float64 { return a.edges[len(a.edges)-1] }

// CoordinateToBin returns the bin containing value, or ErrOutOfDomain.
func (a *LinearAxis) CoordinateToBin(coords ...float64) (int, error) {
	if len(coords) != 1 {
		return 0, fmt.Errorf("axis %q takes 1 coordinate, got %d: %w", a.name, len(coords), ErrDimensionMismatch)
	}
	v := coords[0]
	last := len(a.edges) - 1
	if math.IsNaN(v) || v < a.edges[0] || v > a.edges[last] {
		return 0, fmt.Errorf("axis %q value %g outside [%g, %g]: %w", a.name, v, a.edges[0], a.edges[last], ErrOutOfDomain)
	}

	bin := sort.Search(len(a.edges), func(i int) bool { return a.edges[i] > v }) - 1
	if bin >= last {
		bin = last - 1
	}
	return bin, nil
}

// BinCenter returns the midpoint of the bin.
func (a *LinearAxis) BinCenter(bin int) ([]float64, error) {
	if bin < 0 || bin >= a.BinCount() {
		return nil, fmt.Errorf("axis %q bin %d of %d: %w", a.name, bin, a.BinCount(), ErrIndexOutOfRange)
	}
	return []float64{0.5 * (a.edges[bin] + a.edges[bin+1])}, nil
}

// Equal reports whether other is a linear axis with the same name and edges.
func (a *LinearAxis) Equal(other Axis) bool {
	o, ok := other.(*LinearAxis)
	if !ok || o.name != a.name || len(o.edges) != len(a.edges) {
		return false
	}
	for i := range a.edges {
		if a.edges[i] != o.edges[i] {
			return false
		}
	}
	return true
}
