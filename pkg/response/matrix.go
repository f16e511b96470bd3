// Package response provides the N-dimensional response-matrix container used
// throughout the imaging pipeline: axis definitions, a flat value buffer with
// axis-aware indexing, arithmetic helpers and file persistence.
//
// Index encoding: the first axis varies fastest.
//
//	linear = Σ bin[i] * stride[i], stride[0] = 1, stride[i] = stride[i-1] * binCount[i-1]
package response

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrDivideByZero is returned when a matrix is divided by a zero scalar.
var ErrDivideByZero = errors.New("response: division by zero")

// Matrix is an ordered list of axes plus a contiguous value buffer.
//
// Axes are appended before any data is written; after the first write the
// shape is fixed. The buffer length always equals the product of the axis bin
// counts (1 for a matrix without axes).
type Matrix struct {
	// Name labels the matrix in logs, files and rendered slices.
	Name string

	// SimulatedEvents is the number of simulated events the response was built from.
	SimulatedEvents int64

	// StartArea is the far-field start area of the simulation in cm².
	StartArea float64

	axes    []Axis
	strides []int
	values  []float64
	written bool
}

// New creates an empty matrix without axes.
func New(name string) *Matrix {
	return &Matrix{Name: name, values: make([]float64, 1)}
}

// NewWithAxes creates a matrix and appends the given axes in order.
func NewWithAxes(name string, axes ...Axis) (*Matrix, error) {
	m := New(name)
	for _, a := range axes {
		if err := m.AddAxis(a); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AddAxis appends an axis and resizes the (zeroed) buffer. It fails with
// ErrInvalidState once any value has been written.
func (m *Matrix) AddAxis(a Axis) error {
	if a == nil || a.BinCount() < 1 {
		return fmt.Errorf("matrix %q: empty axis: %w", m.Name, ErrInvalidAxis)
	}
	if m.written {
		return fmt.Errorf("matrix %q: add axis %q after write: %w", m.Name, a.Name(), ErrInvalidState)
	}

	stride := 1
	if n := len(m.axes); n > 0 {
		stride = m.strides[n-1] * m.axes[n-1].BinCount()
	}
	m.axes = append(m.axes, a)
	m.strides = append(m.strides, stride)
	m.values = make([]float64, stride*a.BinCount())
	return nil
}

// NumAxes returns the number of axes.
func (m *Matrix) NumAxes() int { return len(m.axes) }

// Axis returns the i-th axis.
func (m *Matrix) Axis(i int) Axis { return m.axes[i] }

// Axes returns a copy of the axis list.
func (m *Matrix) Axes() []Axis { return append([]Axis(nil), m.axes...) }

// Shape returns the bin count of every axis.
func (m *Matrix) Shape() []int {
	shape := make([]int, len(m.axes))
	for i, a := range m.axes {
		shape[i] = a.BinCount()
	}
	return shape
}

// Len returns the number of cells.
func (m *Matrix) Len() int { return len(m.values) }

// Coordinates returns the total number of coordinates a full coordinate
// tuple has, i.e. the sum of the axis dimensions.
func (m *Matrix) Coordinates() int {
	n := 0
	for _, a := range m.axes {
		n += a.Dimensions()
	}
	return n
}

// SameShape reports whether both matrices have pairwise equal axes.
func (m *Matrix) SameShape(o *Matrix) bool {
	if o == nil || len(o.axes) != len(m.axes) {
		return false
	}
	for i := range m.axes {
		if !m.axes[i].Equal(o.axes[i]) {
			return false
		}
	}
	return true
}

// Stride is the linear distance between neighbouring bins of the given axis.
func (m *Matrix) Stride(axis int) int {
	return m.strides[axis]
}

// Encode converts per-axis bin indices into the linear buffer position.
func (m *Matrix) Encode(indices ...int) (int, error) {
	if len(indices) != len(m.axes) {
		return 0, fmt.Errorf("matrix %q: %d indices for %d axes: %w", m.Name, len(indices), len(m.axes), ErrDimensionMismatch)
	}
	linear := 0
	for i, b := range indices {
		if b < 0 || b >= m.axes[i].BinCount() {
			return 0, fmt.Errorf("matrix %q axis %d: bin %d of %d: %w", m.Name, i, b, m.axes[i].BinCount(), ErrIndexOutOfRange)
		}
		linear += b * m.strides[i]
	}
	return linear, nil
}

// Decode converts a linear buffer position into per-axis bin indices.
func (m *Matrix) Decode(linear int) ([]int, error) {
	indices := make([]int, len(m.axes))
	if err := m.DecodeInto(linear, indices); err != nil {
		return nil, err
	}
	return indices, nil
}

// DecodeInto is Decode writing into a caller-provided slice.
func (m *Matrix) DecodeInto(linear int, dst []int) error {
	if linear < 0 || linear >= len(m.values) {
		return fmt.Errorf("matrix %q: linear index %d of %d: %w", m.Name, linear, len(m.values), ErrIndexOutOfRange)
	}
	if len(dst) != len(m.axes) {
		return fmt.Errorf("matrix %q: decode into %d slots for %d axes: %w", m.Name, len(dst), len(m.axes), ErrDimensionMismatch)
	}
	for i := len(m.axes) - 1; i >= 0; i-- {
		dst[i] = linear / m.strides[i]
		linear -= dst[i] * m.strides[i]
	}
	return nil
}

// Locate resolves a full coordinate tuple through every axis to a linear index.
func (m *Matrix) Locate(coords ...float64) (int, error) {
	if len(coords) != m.Coordinates() {
		return 0, fmt.Errorf("matrix %q: %d coordinates for %d: %w", m.Name, len(coords), m.Coordinates(), ErrDimensionMismatch)
	}
	linear, pos := 0, 0
	for i, a := range m.axes {
		d := a.Dimensions()
		b, err := a.CoordinateToBin(coords[pos : pos+d]...)
		if err != nil {
			return 0, fmt.Errorf("matrix %q axis %d: %w", m.Name, i, err)
		}
		linear += b * m.strides[i]
		pos += d
	}
	return linear, nil
}

func (m *Matrix) checkLinear(i int) error {
	if i < 0 || i >= len(m.values) {
		return fmt.Errorf("matrix %q: linear index %d of %d: %w", m.Name, i, len(m.values), ErrIndexOutOfRange)
	}
	return nil
}

// GetLinear returns the value at a linear index.
func (m *Matrix) GetLinear(i int) (float64, error) {
	if err := m.checkLinear(i); err != nil {
		return 0, err
	}
	return m.values[i], nil
}

// SetLinear stores a value at a linear index.
func (m *Matrix) SetLinear(i int, v float64) error {
	if err := m.checkLinear(i); err != nil {
		return err
	}
	m.written = true
	m.values[i] = v
	return nil
}

// AddLinear adds v to the value at a linear index.
func (m *Matrix) AddLinear(i int, v float64) error {
	if err := m.checkLinear(i); err != nil {
		return err
	}
	m.written = true
	m.values[i] += v
	return nil
}

// Get returns the value at the given per-axis bins.
func (m *Matrix) Get(indices ...int) (float64, error) {
	i, err := m.Encode(indices...)
	if err != nil {
		return 0, err
	}
	return m.values[i], nil
}

// Set stores v at the given per-axis bins.
func (m *Matrix) Set(v float64, indices ...int) error {
	i, err := m.Encode(indices...)
	if err != nil {
		return err
	}
	m.written = true
	m.values[i] = v
	return nil
}

// Add adds v at the given per-axis bins.
func (m *Matrix) Add(v float64, indices ...int) error {
	i, err := m.Encode(indices...)
	if err != nil {
		return err
	}
	m.written = true
	m.values[i] += v
	return nil
}

// GetAt returns the value of the cell containing the coordinates.
func (m *Matrix) GetAt(coords ...float64) (float64, error) {
	i, err := m.Locate(coords...)
	if err != nil {
		return 0, err
	}
	return m.values[i], nil
}

// SetAt stores v in the cell containing the coordinates.
func (m *Matrix) SetAt(v float64, coords ...float64) error {
	i, err := m.Locate(coords...)
	if err != nil {
		return err
	}
	m.written = true
	m.values[i] = v
	return nil
}

// AddAt adds v to the cell containing the coordinates.
func (m *Matrix) AddAt(v float64, coords ...float64) error {
	i, err := m.Locate(coords...)
	if err != nil {
		return err
	}
	m.written = true
	m.values[i] += v
	return nil
}

// Values exposes the backing buffer for bulk numeric work. Callers may write
// through it, so the shape is frozen from here on.
func (m *Matrix) Values() []float64 {
	m.written = true
	return m.values
}

// Sum returns the sum of all cells.
func (m *Matrix) Sum() float64 { return floats.Sum(m.values) }

// Max returns the largest cell value.
func (m *Matrix) Max() float64 { return floats.Max(m.values) }

// Scale multiplies every cell by f.
func (m *Matrix) Scale(f float64) {
	m.written = true
	floats.Scale(f, m.values)
}

// DivideScalar divides every cell by d.
func (m *Matrix) DivideScalar(d float64) error {
	if d == 0 {
		return fmt.Errorf("matrix %q: %w", m.Name, ErrDivideByZero)
	}
	m.Scale(1 / d)
	return nil
}

// Divide divides m by o cell by cell. Cells where o is zero are left untouched.
func (m *Matrix) Divide(o *Matrix) error {
	if o == nil || len(o.values) != len(m.values) || !sameBinCounts(m, o) {
		return fmt.Errorf("matrix %q: divide by mismatched shape: %w", m.Name, ErrDimensionMismatch)
	}
	m.written = true
	for i, d := range o.values {
		if d != 0 {
			m.values[i] /= d
		}
	}
	return nil
}

// IsFinite reports whether no cell is NaN or infinite.
func (m *Matrix) IsFinite() bool {
	for _, v := range m.values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// NonZero calls fn for every cell with a non-zero value, in buffer order.
func (m *Matrix) NonZero(fn func(linear int, v float64)) {
	for i, v := range m.values {
		if v != 0 {
			fn(i, v)
		}
	}
}

// Clone returns a deep copy sharing the immutable axes.
func (m *Matrix) Clone() *Matrix {
	c := m.CloneShape(m.Name)
	copy(c.values, m.values)
	c.written = m.written
	return c
}

// CloneShape returns a zero-filled matrix with the same axes and metadata.
func (m *Matrix) CloneShape(name string) *Matrix {
	return &Matrix{
		Name:            name,
		SimulatedEvents: m.SimulatedEvents,
		StartArea:       m.StartArea,
		axes:            append([]Axis(nil), m.axes...),
		strides:         append([]int(nil), m.strides...),
		values:          make([]float64, len(m.values)),
	}
}

func sameBinCounts(a, b *Matrix) bool {
	if len(a.axes) != len(b.axes) {
		return false
	}
	for i := range a.axes {
		if a.axes[i].BinCount() != b.axes[i].BinCount() {
			return false
		}
	}
	return true
}
