package dataspace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"comptonsky/internal/models"
	"comptonsky/pkg/events"
	"comptonsky/pkg/response"
)

var attitude = &models.Orientation{XLat: 0, XLon: 0, ZLat: 90, ZLon: 0}

func newLayout(t *testing.T) Layout {
	t.Helper()
	energy, err := response.NewUniformAxis("Energy", 100, 2000, 4)
	require.NoError(t, err)
	phi, err := response.NewUniformAxis("Phi", 0, 180, 6)
	require.NoError(t, err)
	sky, err := response.NewSphericalAxis("Direction", 12)
	require.NoError(t, err)
	pointing, err := response.NewSphericalAxis("Pointing", 12)
	require.NoError(t, err)
	return Layout{Energy: energy, Phi: phi, Direction: sky, Pointing: pointing}
}

func compton(id uint64, ts, energy, phi float64, pointing *models.Orientation) models.Compton {
	return models.Compton{
		Header:    models.Header{ID: id, Timestamp: ts, Pointing: pointing},
		Energy:    energy,
		Phi:       phi,
		Direction: r3.Vec{Z: 1},
	}
}

func TestBuildCountsEvents(t *testing.T) {
	src := events.NewSliceSource(
		compton(1, 0, 500, 30, attitude),
		compton(2, 1, 700, 45, attitude),
		models.Pair{Header: models.Header{ID: 3, Timestamp: 2, Pointing: attitude}, Energy: 900},
		compton(4, 2.5, 600, 30, nil),
		compton(5, 3, 800, 100, attitude),
		compton(6, 4, 800, 170, attitude),
		compton(7, 5, 5000, 30, attitude),
		compton(99, 5.5, 500, 30, attitude),
		models.Unidentifiable{Header: models.Header{ID: 8, Timestamp: 5.8}},
		compton(9, 6, 1500, 60, attitude),
	)

	b := NewBuilder(newLayout(t), events.WindowSelector{Excluded: map[uint64]struct{}{99: {}}}, nil)
	b.SetScatterWindow(0, 150)
	res, err := b.Build(context.Background(), src)
	require.NoError(t, err)

	require.Equal(t, Stats{
		Read:             10,
		Used:             4,
		NotQualified:     2,
		NotCompton:       1,
		NoPointing:       1,
		OutsidePhiWindow: 1,
		OutOfDomain:      1,
	}, res.Stats)

	require.Equal(t, 4.0, res.Data.Sum())
	require.Equal(t, 4.0, res.Pointing.Sum())
	require.Equal(t, 6.0, res.ObservationTime)
	// Gaps 1, 2, 3.
	require.Equal(t, 2.0, res.MedianCadence)

	v, err := res.Data.GetAt(500, 30, 90, 0)
	require.NoError(t, err)
	require.Equal(t, 1.0, v)

	w, err := res.Pointing.GetAt(attitude.XLat, attitude.XLon, attitude.ZLat, attitude.ZLon)
	require.NoError(t, err)
	require.Equal(t, 4.0, w)
}

func TestBuildInsufficientData(t *testing.T) {
	src := events.NewSliceSource(
		compton(1, 0, 500, 30, attitude),
		compton(2, 1, 500, 30, attitude),
	)
	_, err := NewBuilder(newLayout(t), nil, nil).Build(context.Background(), src)
	require.ErrorIs(t, err, ErrInsufficientData)

	_, err = NewBuilder(newLayout(t), nil, nil).Build(context.Background(), events.NewSliceSource())
	require.ErrorIs(t, err, ErrInsufficientData)
}

// TestBuildEqualGapsSuffice verifies that repeated gap lengths each count
func TestBuildEqualGapsSuffice(t *testing.T) {
	src := events.NewSliceSource(
		compton(1, 0, 500, 30, attitude),
		compton(2, 2, 500, 30, attitude),
		compton(3, 4, 500, 30, attitude),
	)
	res, err := NewBuilder(newLayout(t), nil, nil).Build(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, 3, res.Stats.Used)
	require.Equal(t, 4.0, res.ObservationTime)
	require.Equal(t, 2.0, res.MedianCadence)
}

func TestBuildNoGalacticPointing(t *testing.T) {
	src := events.NewSliceSource(
		compton(1, 0, 500, 30, nil),
		compton(2, 1, 500, 30, nil),
		compton(3, 2, 500, 30, nil),
	)
	_, err := NewBuilder(newLayout(t), nil, nil).Build(context.Background(), src)
	require.ErrorIs(t, err, ErrNoGalacticPointing)
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBuilder(newLayout(t), nil, nil).Build(ctx, events.NewSliceSource(compton(1, 0, 500, 30, attitude)))
	require.ErrorIs(t, err, context.Canceled)
}

func TestNormalizePointing(t *testing.T) {
	layout := newLayout(t)
	p, err := response.NewWithAxes("Pointing", layout.Pointing, layout.Pointing)
	require.NoError(t, err)

	require.ErrorIs(t, NormalizePointing(p), ErrEmptyPointingData)

	require.NoError(t, p.Set(4, 3, 0))
	require.NoError(t, p.Set(8, 5, 1))
	require.NoError(t, NormalizePointing(p))
	require.InDelta(t, 1, p.Sum(), 1e-9)

	first := append([]float64(nil), p.Values()...)
	require.NoError(t, NormalizePointing(p))
	require.InDeltaSlice(t, first, p.Values(), 1e-12)

	v, err := p.Get(5, 1)
	require.NoError(t, err)
	require.InDelta(t, 2.0/3.0, v, 1e-12)
}
