package rotation

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"comptonsky/internal/models"
	"comptonsky/pkg/response"
)

// ErrDegenerateFrame is returned when the X and Z reference axes are parallel.
var ErrDegenerateFrame = errors.New("rotation: degenerate pointing frame")

// Frame is the orthonormal detector coordinate system expressed in galactic
// coordinates.
type Frame struct {
	X, Y, Z r3.Vec
}

// NewFrame builds a right-handed frame from the galactic directions of the
// detector X and Z axes. Z is kept, X is made orthogonal to it.
func NewFrame(xAxis, zAxis r3.Vec) (Frame, error) {
	if r3.Norm(zAxis) == 0 {
		return Frame{}, fmt.Errorf("zero z axis: %w", ErrDegenerateFrame)
	}
	z := r3.Unit(zAxis)
	x := r3.Sub(xAxis, r3.Scale(r3.Dot(xAxis, z), z))
	if r3.Norm(x) < 1e-9 {
		return Frame{}, fmt.Errorf("x axis parallel to z axis: %w", ErrDegenerateFrame)
	}
	x = r3.Unit(x)
	return Frame{X: x, Y: r3.Cross(z, x), Z: z}, nil
}

// FrameFromOrientation builds the frame of an event attitude.
func FrameFromOrientation(o models.Orientation) (Frame, error) {
	return NewFrame(response.LatLonToVec(o.XLat, o.XLon), response.LatLonToVec(o.ZLat, o.ZLon))
}

// ToGalactic expresses a detector-frame vector in galactic coordinates.
func (f Frame) ToGalactic(d r3.Vec) r3.Vec {
	return r3.Add(r3.Add(r3.Scale(d.X, f.X), r3.Scale(d.Y, f.Y)), r3.Scale(d.Z, f.Z))
}

// ToDetector expresses a galactic vector in the detector frame.
func (f Frame) ToDetector(g r3.Vec) r3.Vec {
	return r3.Vec{X: r3.Dot(g, f.X), Y: r3.Dot(g, f.Y), Z: r3.Dot(g, f.Z)}
}
