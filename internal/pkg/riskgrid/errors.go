package riskgrid

import "errors"

var (
	// ErrInvalidResolution is returned for grids smaller than 2×2.
	ErrInvalidResolution = errors.New("resolution must be at least 2")

	// ErrDegenerateBounds is returned when an axis of the bounds has no width.
	ErrDegenerateBounds = errors.New("bounds have a zero-width axis")

	// ErrInvalidObservation wraps a malformed observation in the input.
	ErrInvalidObservation = errors.New("invalid observation")

	// ErrInvalidOptions is returned for a negative radius or a penalty outside [0,1].
	ErrInvalidOptions = errors.New("invalid interpolation options")
)
