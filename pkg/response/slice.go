package response

// SliceRequest asks a visualization sink to render part of a matrix.
//
// Shown lists the axes spanning the picture: either one spherical axis or two
// linear axes. Fixed pins other axes to the bin containing the given
// coordinates. Axes neither shown nor fixed are summed over.
type SliceRequest struct {
	Matrix *Matrix
	Shown  []int
	Fixed  map[int][]float64
	Title  string
}

// SliceSink receives slice requests. Requests are fire and forget: nothing
// flows back to the caller.
type SliceSink interface {
	RequestSlice(req SliceRequest)
}

// RequestSlice sends a snapshot of the matrix to sink. A nil sink is ignored.
// The sink receives a copy, so later in-place updates do not leak into
// pending renders.
func (m *Matrix) RequestSlice(sink SliceSink, shown []int, fixed map[int][]float64, title string) {
	if sink == nil {
		return
	}
	sink.RequestSlice(SliceRequest{
		Matrix: m.Clone(),
		Shown:  append([]int(nil), shown...),
		Fixed:  fixed,
		Title:  title,
	})
}
