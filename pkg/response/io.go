package response

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
)

// fileVersion is bumped whenever the on-disk record layout changes.
const fileVersion = 1

const (
	kindLinear    = "linear"
	kindSpherical = "spherical"
)

type axisRecord struct {
	Kind      string    `cbor:"kind"`
	Name      string    `cbor:"name"`
	Edges     []float64 `cbor:"edges,omitempty"`
	RingEdges []float64 `cbor:"ring_edges,omitempty"`
	RingBins  []int     `cbor:"ring_bins,omitempty"`
}

type matrixRecord struct {
	Version         int          `cbor:"version"`
	Name            string       `cbor:"name"`
	SimulatedEvents int64        `cbor:"simulated_events"`
	StartArea       float64      `cbor:"start_area"`
	Axes            []axisRecord `cbor:"axes"`
	Values          []float64    `cbor:"values"`
}

// encMode keeps float64 values at full width so files round trip bit for bit.
var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{
		ShortestFloat: cbor.ShortestFloatNone,
		NaNConvert:    cbor.NaNConvertNone,
		InfConvert:    cbor.InfConvertNone,
	}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// EncodeTo writes the matrix (axes, metadata and values) to w.
func (m *Matrix) EncodeTo(w io.Writer) error {
	rec := matrixRecord{
		Version:         fileVersion,
		Name:            m.Name,
		SimulatedEvents: m.SimulatedEvents,
		StartArea:       m.StartArea,
		Values:          m.values,
	}
	for _, a := range m.axes {
		switch ax := a.(type) {
		case *LinearAxis:
			rec.Axes = append(rec.Axes, axisRecord{Kind: kindLinear, Name: ax.name, Edges: ax.edges})
		case *SphericalAxis:
			rec.Axes = append(rec.Axes, axisRecord{Kind: kindSpherical, Name: ax.name, RingEdges: ax.ringEdges, RingBins: ax.ringBins})
		default:
			return fmt.Errorf("matrix %q: cannot persist axis type %T: %w", m.Name, a, ErrIO)
		}
	}

	if err := encMode.NewEncoder(w).Encode(rec); err != nil {
		return fmt.Errorf("encode matrix %q: %v: %w", m.Name, err, ErrIO)
	}
	return nil
}

// DecodeFrom reads a matrix written by EncodeTo.
func DecodeFrom(r io.Reader) (*Matrix, error) {
	var rec matrixRecord
	if err := cbor.NewDecoder(r).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode matrix: %v: %w", err, ErrIO)
	}
	if rec.Version != fileVersion {
		return nil, fmt.Errorf("decode matrix: unsupported version %d: %w", rec.Version, ErrIO)
	}

	m := New(rec.Name)
	m.SimulatedEvents = rec.SimulatedEvents
	m.StartArea = rec.StartArea
	for i, ar := range rec.Axes {
		var (
			a   Axis
			err error
		)
		switch ar.Kind {
		case kindLinear:
			a, err = NewLinearAxis(ar.Name, ar.Edges)
		case kindSpherical:
			a, err = NewSphericalAxisFromRings(ar.Name, ar.RingEdges, ar.RingBins)
		default:
			err = fmt.Errorf("unknown axis kind %q", ar.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("decode matrix %q axis %d: %v: %w", rec.Name, i, err, ErrIO)
		}
		if err := m.AddAxis(a); err != nil {
			return nil, fmt.Errorf("decode matrix %q axis %d: %v: %w", rec.Name, i, err, ErrIO)
		}
	}

	if len(rec.Values) != len(m.values) {
		return nil, fmt.Errorf("decode matrix %q: %d values for %d cells: %w", rec.Name, len(rec.Values), len(m.values), ErrIO)
	}
	copy(m.values, rec.Values)
	m.written = true
	return m, nil
}

// WriteFile stores the matrix at path, creating parent directories.
func WriteFile(m *Matrix, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory for %s: %v: %w", path, err, ErrIO)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %v: %w", path, err, ErrIO)
	}
	if err := m.EncodeTo(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %v: %w", path, err, ErrIO)
	}
	return nil
}

// ReadFile loads a matrix written by WriteFile.
func ReadFile(path string) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("response file %s does not exist: %w", path, ErrIO)
		}
		return nil, fmt.Errorf("open %s: %v: %w", path, err, ErrIO)
	}
	defer f.Close()

	m, err := DecodeFrom(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
