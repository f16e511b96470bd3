// Package dataspace streams qualified Compton events into the measured
// data-space histogram and the instrument pointing histogram.
package dataspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"comptonsky/internal/models"
	"comptonsky/pkg/events"
	"comptonsky/pkg/response"
	"comptonsky/pkg/rotation"
)

var (
	// ErrInsufficientData is returned when fewer than two inter-event time
	// gaps could be recorded, i.e. fewer than three used events. Gaps are
	// counted per consecutive pair of used events, so equal gaps count twice.
	ErrInsufficientData = errors.New("dataspace: insufficient data")

	// ErrNoGalacticPointing is returned when no usable event carried an attitude.
	ErrNoGalacticPointing = errors.New("dataspace: no event with galactic pointing")

	// ErrEmptyPointingData is returned when normalizing an all-zero pointing histogram.
	ErrEmptyPointingData = errors.New("dataspace: empty pointing data")
)

// cancelCheckInterval is the number of events between cancellation checks.
const cancelCheckInterval = 4096

// Layout holds the axes of the data space and the pointing histogram.
type Layout struct {
	// Energy is the measured energy axis (keV).
	Energy response.Axis

	// Phi is the Compton scatter angle axis (degrees).
	Phi response.Axis

	// Direction bins the scattered gamma direction in galactic coordinates.
	Direction *response.SphericalAxis

	// Pointing bins the galactic direction of each detector reference axis.
	Pointing *response.SphericalAxis
}

// Stats counts how events were consumed.
type Stats struct {
	Read             int
	Used             int
	NotQualified     int
	NotCompton       int
	NoPointing       int
	OutsidePhiWindow int
	OutOfDomain      int
}

// Result is the output of one data-space build.
type Result struct {
	// Data is the (energy, phi, direction) histogram of used events.
	Data *response.Matrix

	// Pointing is the (x axis, z axis) occupancy histogram, not yet normalized.
	Pointing *response.Matrix

	// ObservationTime is the time between first and last used event (s).
	ObservationTime float64

	// MedianCadence is the median gap between consecutive used events (s).
	MedianCadence float64

	Stats Stats
}

// Builder fills data-space and pointing histograms from an event source.
type Builder struct {
	layout   Layout
	selector events.Selector
	phiMin   float64
	phiMax   float64
	logger   *slog.Logger
}

// NewBuilder creates a builder. A nil selector accepts every event, a nil
// logger uses slog.Default().
func NewBuilder(layout Layout, selector events.Selector, logger *slog.Logger) *Builder {
	if selector == nil {
		selector = events.AcceptAll
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		layout:   layout,
		selector: selector,
		phiMin:   0,
		phiMax:   180,
		logger:   logger,
	}
}

// SetScatterWindow restricts accepted events to min <= phi <= max (degrees).
func (b *Builder) SetScatterWindow(min, max float64) {
	b.phiMin, b.phiMax = min, max
}

func (b *Builder) newMatrices() (*response.Matrix, *response.Matrix, error) {
	data, err := response.NewWithAxes("Data space", b.layout.Energy, b.layout.Phi, b.layout.Direction)
	if err != nil {
		return nil, nil, fmt.Errorf("create data space: %w", err)
	}
	pointing, err := response.NewWithAxes("Pointing", b.layout.Pointing, b.layout.Pointing)
	if err != nil {
		return nil, nil, fmt.Errorf("create pointing histogram: %w", err)
	}
	return data, pointing, nil
}

// Build consumes src until io.EOF and returns the filled histograms.
// The context is checked periodically between events.
func (b *Builder) Build(ctx context.Context, src events.Source) (*Result, error) {
	data, pointing, err := b.newMatrices()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res := &Result{Data: data, Pointing: pointing}
	st := &res.Stats

	var (
		gaps        []float64
		first, last float64
	)
	for {
		if st.Read%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		ev, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read event %d: %w", st.Read, err)
		}
		st.Read++

		if !b.selector.Qualified(ev) {
			st.NotQualified++
			continue
		}
		c, ok := ev.(models.Compton)
		if !ok {
			st.NotCompton++
			continue
		}
		o, ok := c.Attitude()
		if !ok {
			st.NoPointing++
			continue
		}
		frame, err := rotation.FrameFromOrientation(o)
		if err != nil {
			st.NoPointing++
			continue
		}
		if c.Phi < b.phiMin || c.Phi > b.phiMax {
			st.OutsidePhiWindow++
			continue
		}
		if r3.Norm(c.Direction) == 0 {
			st.OutOfDomain++
			continue
		}

		psi, chi := response.VecToLatLon(frame.ToGalactic(c.Direction))
		cell, err := data.Locate(c.Energy, c.Phi, psi, chi)
		if errors.Is(err, response.ErrOutOfDomain) {
			st.OutOfDomain++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", c.ID, err)
		}
		if err := data.AddLinear(cell, 1); err != nil {
			return nil, err
		}
		if err := pointing.AddAt(1, o.XLat, o.XLon, o.ZLat, o.ZLon); err != nil {
			return nil, fmt.Errorf("event %d pointing: %w", c.ID, err)
		}

		t := c.Time()
		if st.Used == 0 {
			first = t
		} else {
			gaps = append(gaps, t-last)
		}
		last = t
		st.Used++
	}

	b.logger.Info("data space built",
		"read", st.Read,
		"used", st.Used,
		"not_qualified", st.NotQualified,
		"not_compton", st.NotCompton,
		"no_pointing", st.NoPointing,
		"outside_phi_window", st.OutsidePhiWindow,
		"out_of_domain", st.OutOfDomain,
		"elapsed", time.Since(start))

	if st.Used == 0 && st.NoPointing > 0 {
		return nil, fmt.Errorf("%d events skipped without attitude: %w", st.NoPointing, ErrNoGalacticPointing)
	}
	if len(gaps) < 2 {
		return nil, fmt.Errorf("%d used events give %d time gaps, need 2: %w", st.Used, len(gaps), ErrInsufficientData)
	}

	sort.Float64s(gaps)
	res.MedianCadence = stat.Quantile(0.5, stat.Empirical, gaps, nil)
	res.ObservationTime = last - first
	b.logger.Info("event timing",
		"observation_time_s", res.ObservationTime,
		"median_cadence_s", res.MedianCadence)
	return res, nil
}

// NormalizePointing scales the pointing histogram to a total of 1.
func NormalizePointing(p *response.Matrix) error {
	sum := p.Sum()
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return fmt.Errorf("pointing sum %g: %w", sum, ErrEmptyPointingData)
	}
	return p.DivideScalar(sum)
}
