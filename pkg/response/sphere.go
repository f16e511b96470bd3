package response

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// SphericalAxis partitions the sphere into quasi equal-area bins.
//
// The sphere is cut into rings of equal colatitude width. Each ring holds as
// many longitude bins as its area allows at the requested bin size, so all
// bins cover roughly 4π/N steradians. Coordinates are (latitude, longitude)
// in degrees. Every direction maps to a bin: longitude wraps and latitude is
// clamped to [-90, 90].
type SphericalAxis struct {
	name      string
	ringEdges []float64 // colatitude edges in degrees, 0 .. 180
	ringBins  []int     // longitude bins per ring
	offsets   []int     // first bin index of each ring
	total     int
}

// NewSphericalAxis creates an equal-area axis close to requestedBins bins.
// The realized bin count is reported by BinCount.
func NewSphericalAxis(name string, requestedBins int) (*SphericalAxis, error) {
	if requestedBins < 1 {
		return nil, fmt.Errorf("spherical axis %q: requested %d bins: %w", name, requestedBins, ErrInvalidAxis)
	}

	target := 4 * math.Pi / float64(requestedBins)
	rings := int(math.Round(math.Pi / math.Sqrt(target)))
	if rings < 1 {
		rings = 1
	}

	edges := make([]float64, rings+1)
	for k := range edges {
		edges[k] = float64(k) * 180 / float64(rings)
	}
	edges[rings] = 180

	bins := make([]int, rings)
	for k := 0; k < rings; k++ {
		area := ringArea(edges[k], edges[k+1])
		n := int(math.Round(area / target))
		if n < 1 {
			n = 1
		}
		bins[k] = n
	}
	return NewSphericalAxisFromRings(name, edges, bins)
}

// NewSphericalAxisFromRings rebuilds an axis from an explicit ring layout.
func NewSphericalAxisFromRings(name string, ringEdges []float64, ringBins []int) (*SphericalAxis, error) {
	if len(ringEdges) < 2 || len(ringBins) != len(ringEdges)-1 {
		return nil, fmt.Errorf("spherical axis %q: %d edges for %d rings: %w", name, len(ringEdges), len(ringBins), ErrInvalidAxis)
	}
	if ringEdges[0] != 0 || ringEdges[len(ringEdges)-1] != 180 {
		return nil, fmt.Errorf("spherical axis %q: rings must span colatitude 0..180: %w", name, ErrInvalidAxis)
	}
	for k := 1; k < len(ringEdges); k++ {
		if !(ringEdges[k] > ringEdges[k-1]) {
			return nil, fmt.Errorf("spherical axis %q: ring edges not increasing at %d: %w", name, k, ErrInvalidAxis)
		}
	}

	a := &SphericalAxis{
		name:      name,
		ringEdges: append([]float64(nil), ringEdges...),
		ringBins:  append([]int(nil), ringBins...),
		offsets:   make([]int, len(ringBins)),
	}
	for k, n := range ringBins {
		if n < 1 {
			return nil, fmt.Errorf("spherical axis %q: ring %d has %d bins: %w", name, k, n, ErrInvalidAxis)
		}
		a.offsets[k] = a.total
		a.total += n
	}
	return a, nil
}

func (a *SphericalAxis) Name() string    { return a.name }
func (a *SphericalAxis) BinCount() int   { return a.total }
func (a *SphericalAxis) Dimensions() int { return 2 }

// Rings returns copies of the colatitude ring edges and per-ring bin counts.
func (a *SphericalAxis) Rings() ([]float64, []int) {
	return append([]float64(nil), a.ringEdges...), append([]int(nil), a.ringBins...)
}

// CoordinateToBin maps (latitude, longitude) in degrees to a bin. It only
// fails on a wrong number of coordinates or NaN input.
func (a *SphericalAxis) CoordinateToBin(coords ...float64) (int, error) {
	if len(coords) != 2 {
		return 0, fmt.Errorf("spherical axis %q takes 2 coordinates, got %d: %w", a.name, len(coords), ErrDimensionMismatch)
	}
	lat, lon := coords[0], coords[1]
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return 0, fmt.Errorf("spherical axis %q: NaN direction: %w", a.name, ErrOutOfDomain)
	}
	return a.bin(lat, lon), nil
}

func (a *SphericalAxis) bin(lat, lon float64) int {
	colat := 90 - math.Max(-90, math.Min(90, lat))
	rings := len(a.ringBins)
	k := sort.Search(rings, func(i int) bool { return a.ringEdges[i+1] > colat })
	if k >= rings {
		k = rings - 1
	}

	lon = math.Mod(lon, 360)
	if lon < 0 {
		lon += 360
	}
	n := a.ringBins[k]
	j := int(lon / (360 / float64(n)))
	if j >= n {
		j = n - 1
	}
	return a.offsets[k] + j
}

// DirectionToBin maps a direction vector (any length > 0) to a bin.
func (a *SphericalAxis) DirectionToBin(v r3.Vec) int {
	lat, lon := VecToLatLon(v)
	return a.bin(lat, lon)
}

// BinCenter returns (latitude, longitude) of the bin center in degrees.
// Single-bin polar caps are centered on the pole.
func (a *SphericalAxis) BinCenter(bin int) ([]float64, error) {
	k, j, err := a.ring(bin)
	if err != nil {
		return nil, err
	}

	n := a.ringBins[k]
	var colat float64
	switch {
	case n == 1 && k == 0:
		colat = 0
	case n == 1 && k == len(a.ringBins)-1:
		colat = 180
	default:
		c0 := math.Cos(a.ringEdges[k] * math.Pi / 180)
		c1 := math.Cos(a.ringEdges[k+1] * math.Pi / 180)
		colat = math.Acos(0.5*(c0+c1)) * 180 / math.Pi
	}
	lon := (float64(j) + 0.5) * 360 / float64(n)
	return []float64{90 - colat, lon}, nil
}

// BinDirection returns the unit vector of the bin center.
func (a *SphericalAxis) BinDirection(bin int) (r3.Vec, error) {
	c, err := a.BinCenter(bin)
	if err != nil {
		return r3.Vec{}, err
	}
	return LatLonToVec(c[0], c[1]), nil
}

// BinSolidAngle returns the solid angle of the bin in steradians.
func (a *SphericalAxis) BinSolidAngle(bin int) (float64, error) {
	k, _, err := a.ring(bin)
	if err != nil {
		return 0, err
	}
	return ringArea(a.ringEdges[k], a.ringEdges[k+1]) / float64(a.ringBins[k]), nil
}

func (a *SphericalAxis) ring(bin int) (int, int, error) {
	if bin < 0 || bin >= a.total {
		return 0, 0, fmt.Errorf("spherical axis %q bin %d of %d: %w", a.name, bin, a.total, ErrIndexOutOfRange)
	}
	k := sort.Search(len(a.offsets), func(i int) bool { return a.offsets[i] > bin }) - 1
	return k, bin - a.offsets[k], nil
}

// Equal reports whether other is a spherical axis with the same name and rings.
func (a *SphericalAxis) Equal(other Axis) bool {
	o, ok := other.(*SphericalAxis)
	if !ok || o.name != a.name || len(o.ringBins) != len(a.ringBins) {
		return false
	}
	for k := range a.ringBins {
		if a.ringBins[k] != o.ringBins[k] || a.ringEdges[k] != o.ringEdges[k] {
			return false
		}
	}
	return a.ringEdges[len(a.ringEdges)-1] == o.ringEdges[len(o.ringEdges)-1]
}

// ringArea is the solid angle between two colatitudes given in degrees.
func ringArea(colat0, colat1 float64) float64 {
	return 2 * math.Pi * (math.Cos(colat0*math.Pi/180) - math.Cos(colat1*math.Pi/180))
}

// LatLonToVec converts latitude and longitude in degrees to a unit vector.
func LatLonToVec(lat, lon float64) r3.Vec {
	phi := lat * math.Pi / 180
	lam := lon * math.Pi / 180
	return r3.Vec{
		X: math.Cos(phi) * math.Cos(lam),
		Y: math.Cos(phi) * math.Sin(lam),
		Z: math.Sin(phi),
	}
}

// VecToLatLon converts a direction vector to latitude and longitude in degrees.
// Longitude is returned in [0, 360).
func VecToLatLon(v r3.Vec) (lat, lon float64) {
	n := r3.Norm(v)
	if n == 0 {
		return 0, 0
	}
	z := math.Max(-1, math.Min(1, v.Z/n))
	lat = math.Asin(z) * 180 / math.Pi
	lon = math.Atan2(v.Y, v.X) * 180 / math.Pi
	if lon < 0 {
		lon += 360
	}
	return lat, lon
}
