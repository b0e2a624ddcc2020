package model

import "errors"

// Extraction error taxonomy. Stages wrap these with detail via fmt.Errorf("%w: ...")
// so callers can branch with errors.Is. All of them abort the whole extraction.
var (
	// ErrEmptyBoundary means the edge map produced no contour to follow.
	ErrEmptyBoundary = errors.New("no price line detected")

	// ErrCalibration means price_min/price_max/chart_height are malformed or inconsistent.
	ErrCalibration = errors.New("invalid calibration")

	// ErrInsufficientData means a sequence is shorter than the smoothing window or RSI period.
	ErrInsufficientData = errors.New("chart too small or insufficient data points")
)

// ErrNotFound means no stored analysis has the requested id.
var ErrNotFound = errors.New("analysis not found")
