//go:build !gocv

package opencv

import (
	"image"

	"chart-rsi/internal/vision"
)

// Backend is a placeholder; it cannot be constructed without the gocv tag.
type Backend struct{}

// New always fails with ErrUnavailable.
func New(low, high float64) (*Backend, error) { return nil, ErrUnavailable }

func (*Backend) Extract(image.Image) *vision.EdgeMap { return nil }

func (*Backend) Find(*vision.EdgeMap) []vision.Contour { return nil }
