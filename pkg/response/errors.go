package response

import "errors"

// Package-level errors. Accessors wrap them with call-site context, callers
// match with errors.Is.
var (
	// ErrOutOfDomain is returned when a coordinate lies outside a linear axis.
	ErrOutOfDomain = errors.New("response: coordinate out of axis domain")

	// ErrIndexOutOfRange is returned for a bin or linear index outside the buffer.
	ErrIndexOutOfRange = errors.New("response: index out of range")

	// ErrDimensionMismatch is returned when an index or coordinate tuple does
	// not match the number of axes (or coordinates) of the matrix.
	ErrDimensionMismatch = errors.New("response: dimension mismatch")

	// ErrInvalidState is returned when the shape is changed after data was written.
	ErrInvalidState = errors.New("response: invalid state")

	// ErrInvalidAxis is returned for malformed axis definitions.
	ErrInvalidAxis = errors.New("response: invalid axis definition")

	// ErrIO is returned when a matrix file is missing or structurally invalid.
	ErrIO = errors.New("response: i/o error")
)
