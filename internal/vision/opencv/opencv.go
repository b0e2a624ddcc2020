// Package opencv provides an OpenCV-backed edge extractor and contour finder
// with the same contracts as the native vision implementations.
//
// The bindings are compiled only with the gocv build tag; without it New
// reports ErrUnavailable.
package opencv

import "errors"

// ErrUnavailable is returned when the binary was built without OpenCV.
var ErrUnavailable = errors.New("opencv: backend not compiled in (build with -tags gocv)")
