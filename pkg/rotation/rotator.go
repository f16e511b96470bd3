// Package rotation re-expresses a detector-frame response in galactic
// coordinates, weighted by the time the instrument spent in each pointing.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"comptonsky/pkg/response"
)

// ErrShapeMismatch is returned when the detector response or pointing
// histogram does not have the expected axis layout.
var ErrShapeMismatch = errors.New("rotation: unexpected matrix shape")

// Axis positions of a response matrix: incoming energy, incoming direction,
// measured energy, scatter angle, scattered direction.
const (
	AxisEnergyIn = iota
	AxisDirectionIn
	AxisEnergyOut
	AxisPhi
	AxisDirectionOut
	responseAxes
)

// Rotator rotates a detector response over all occupied pointings.
type Rotator struct {
	workers int
	logger  *slog.Logger
}

// NewRotator creates a rotator with the given worker count. Zero or negative
// uses runtime.GOMAXPROCS(0).
func NewRotator(workers int, logger *slog.Logger) *Rotator {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Rotator{workers: workers, logger: logger}
}

type pointingEntry struct {
	x, z   int
	weight float64
}

// cell is a non-zero detector response entry with its direction components
// split off so only they need remapping.
type cell struct {
	rest   int
	dirIn  int32
	dirOut int32
	value  float64
}

// directionSet caches the detector-frame bin directions of one spherical axis.
type directionSet struct {
	axis    *response.SphericalAxis
	centers []r3.Vec
}

func newDirectionSet(a *response.SphericalAxis) (*directionSet, error) {
	ds := &directionSet{axis: a, centers: make([]r3.Vec, a.BinCount())}
	for b := range ds.centers {
		v, err := a.BinDirection(b)
		if err != nil {
			return nil, err
		}
		ds.centers[b] = v
	}
	return ds, nil
}

// remap fills table[b] with the galactic bin of detector bin b under frame.
func (ds *directionSet) remap(frame Frame, table []int) {
	for b, v := range ds.centers {
		table[b] = ds.axis.DirectionToBin(frame.ToGalactic(v))
	}
}

// Rotate returns
//
//	G[ei, di, eo, phi, do] = Σ_p w(p) · D[ei, rot_p(di), eo, phi, rot_p(do)]
//
// over every pointing bin with non-zero weight. The detector response must
// have five axes with spherical direction axes at positions 1 and 4; the
// pointing histogram must have two spherical axes (X and Z reference axis).
func (r *Rotator) Rotate(ctx context.Context, detector, pointing *response.Matrix) (*response.Matrix, error) {
	dirIn, dirOut, err := directionAxes(detector)
	if err != nil {
		return nil, err
	}
	xAxis, zAxis, err := pointingAxes(pointing)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	entries, err := pointingEntries(pointing)
	if err != nil {
		return nil, err
	}

	cells, err := nonZeroCells(detector)
	if err != nil {
		return nil, err
	}

	inSet, err := newDirectionSet(dirIn)
	if err != nil {
		return nil, err
	}
	outSet := inSet
	if !dirOut.Equal(dirIn) {
		if outSet, err = newDirectionSet(dirOut); err != nil {
			return nil, err
		}
	}

	galactic := detector.CloneShape("Galactic response")
	out := galactic.Values()
	strideIn, strideOut := detector.Stride(AxisDirectionIn), detector.Stride(AxisDirectionOut)

	workers := r.workers
	if len(entries) < workers {
		workers = 1
	}
	chunks := partition(len(entries), workers)

	var (
		mu      sync.Mutex
		skipped atomic.Int64
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range chunks {
		chunk := entries[ch[0]:ch[1]]
		g.Go(func() error {
			remapIn := make([]int, dirIn.BinCount())
			remapOut := remapIn
			if outSet != inSet {
				remapOut = make([]int, dirOut.BinCount())
			}

			for _, e := range chunk {
				if err := gctx.Err(); err != nil {
					return err
				}

				xDir, err := xAxis.BinDirection(e.x)
				if err != nil {
					return err
				}
				zDir, err := zAxis.BinDirection(e.z)
				if err != nil {
					return err
				}
				frame, err := NewFrame(xDir, zDir)
				if err != nil {
					skipped.Add(1)
					continue
				}

				inSet.remap(frame, remapIn)
				if outSet != inSet {
					outSet.remap(frame, remapOut)
				}

				mu.Lock()
				for _, c := range cells {
					out[c.rest+remapIn[c.dirIn]*strideIn+remapOut[c.dirOut]*strideOut] += e.weight * c.value
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("rotate response: %w", err)
	}

	r.logger.Info("response rotated",
		"pointings", len(entries),
		"skipped_degenerate", skipped.Load(),
		"nonzero_cells", len(cells),
		"workers", len(chunks),
		"elapsed", time.Since(start))
	return galactic, nil
}

func directionAxes(m *response.Matrix) (*response.SphericalAxis, *response.SphericalAxis, error) {
	if m.NumAxes() != responseAxes {
		return nil, nil, fmt.Errorf("detector response has %d axes, want %d: %w", m.NumAxes(), responseAxes, ErrShapeMismatch)
	}
	in, ok1 := m.Axis(AxisDirectionIn).(*response.SphericalAxis)
	out, ok2 := m.Axis(AxisDirectionOut).(*response.SphericalAxis)
	if !ok1 || !ok2 {
		return nil, nil, fmt.Errorf("detector response direction axes must be spherical: %w", ErrShapeMismatch)
	}
	return in, out, nil
}

func pointingAxes(m *response.Matrix) (*response.SphericalAxis, *response.SphericalAxis, error) {
	if m.NumAxes() != 2 {
		return nil, nil, fmt.Errorf("pointing histogram has %d axes, want 2: %w", m.NumAxes(), ErrShapeMismatch)
	}
	x, ok1 := m.Axis(0).(*response.SphericalAxis)
	z, ok2 := m.Axis(1).(*response.SphericalAxis)
	if !ok1 || !ok2 {
		return nil, nil, fmt.Errorf("pointing axes must be spherical: %w", ErrShapeMismatch)
	}
	return x, z, nil
}

func pointingEntries(m *response.Matrix) ([]pointingEntry, error) {
	idx := make([]int, 2)
	var (
		entries []pointingEntry
		err     error
	)
	m.NonZero(func(linear int, w float64) {
		if err != nil {
			return
		}
		if err = m.DecodeInto(linear, idx); err != nil {
			return
		}
		entries = append(entries, pointingEntry{x: idx[0], z: idx[1], weight: w})
	})
	return entries, err
}

func nonZeroCells(m *response.Matrix) ([]cell, error) {
	strideIn, strideOut := m.Stride(AxisDirectionIn), m.Stride(AxisDirectionOut)
	idx := make([]int, responseAxes)
	var (
		cells []cell
		err   error
	)
	m.NonZero(func(linear int, v float64) {
		if err != nil {
			return
		}
		if err = m.DecodeInto(linear, idx); err != nil {
			return
		}
		di, do := idx[AxisDirectionIn], idx[AxisDirectionOut]
		cells = append(cells, cell{
			rest:   linear - di*strideIn - do*strideOut,
			dirIn:  int32(di),
			dirOut: int32(do),
			value:  v,
		})
	})
	return cells, err
}

// partition splits n items into at most w contiguous [start, end) ranges.
// It always returns at least one range.
func partition(n, w int) [][2]int {
	if w < 1 {
		w = 1
	}
	if n == 0 {
		return [][2]int{{0, 0}}
	}
	if w > n {
		w = n
	}
	size := (n + w - 1) / w
	chunks := make([][2]int, 0, w)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		chunks = append(chunks, [2]int{start, end})
	}
	return chunks
}
