package reconstruction

import "errors"

var (
	// ErrZeroImageSum indicates the backprojected seed image has no content.
	ErrZeroImageSum = errors.New("reconstruction: image sum is zero")

	// ErrNonFiniteImage indicates an image sum became NaN or infinite.
	ErrNonFiniteImage = errors.New("reconstruction: image is not finite")

	// ErrZeroRestoredImageSum indicates the MaxEnt restored image vanished.
	ErrZeroRestoredImageSum = errors.New("reconstruction: restored image sum is zero")

	// ErrZeroExpectationSum indicates the MaxEnt expectation vanished.
	ErrZeroExpectationSum = errors.New("reconstruction: expectation sum is zero")

	// ErrZeroStartArea indicates a response without a reference area.
	ErrZeroStartArea = errors.New("reconstruction: response start area is zero")

	// ErrShapeMismatch indicates data space and response axes disagree.
	ErrShapeMismatch = errors.New("reconstruction: data space does not match response")

	// ErrUnknownAlgorithm indicates an unsupported algorithm name.
	ErrUnknownAlgorithm = errors.New("reconstruction: unknown algorithm")
)
