package calibration

import "errors"

var (
	// ErrIncompleteBoard means a detection did not contain every corner of the board.
	ErrIncompleteBoard = errors.New("incomplete board")

	// ErrInsufficientObservations means a solve was requested before enough views were captured.
	ErrInsufficientObservations = errors.New("insufficient observations")

	// ErrSolverDivergence means the optimizer failed to converge to a usable camera model.
	ErrSolverDivergence = errors.New("solver diverged")
)
