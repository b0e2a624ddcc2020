// Package smooth suppresses per-column quantization jitter in extracted prices.
package smooth

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"chart-rsi/internal/model"
)

// Default filter shape.
const (
	DefaultWindow = 11
	DefaultDegree = 3
)

// SavitzkyGolay is a local polynomial least-squares smoother.
//
// Each output sample is the value at that position of the degree-d polynomial
// fitted to the surrounding window. The first and last half-window samples are
// evaluated on the polynomial fitted to the first and last full window, so the
// output has the same length as the input. Weights are computed once; a filter
// is safe for concurrent use.
type SavitzkyGolay struct {
	window int
	degree int

	// weights[k] evaluates the window fit at offset k-half from the window centre.
	weights [][]float64
}

// NewSavitzkyGolay builds a filter. window must be odd and greater than degree.
func NewSavitzkyGolay(window, degree int) (*SavitzkyGolay, error) {
	if window < 1 || window%2 == 0 {
		return nil, fmt.Errorf("smooth: window %d must be a positive odd number", window)
	}
	if degree < 0 || degree >= window {
		return nil, fmt.Errorf("smooth: degree %d must be in [0, %d)", degree, window)
	}

	half := window / 2
	cols := degree + 1

	// Vandermonde matrix over centred offsets -half..half.
	a := mat.NewDense(window, cols, nil)
	for i := 0; i < window; i++ {
		t := float64(i - half)
		for p := 0; p < cols; p++ {
			a.Set(i, p, math.Pow(t, float64(p)))
		}
	}
	id := mat.NewDense(window, window, nil)
	for i := 0; i < window; i++ {
		id.Set(i, i, 1)
	}

	// pinv solves min ||A·c - y|| for every unit y at once: c = pinv·y.
	var pinv mat.Dense
	if err := pinv.Solve(a, id); err != nil {
		return nil, fmt.Errorf("smooth: least squares: %w", err)
	}

	weights := make([][]float64, window)
	for k := 0; k < window; k++ {
		t := float64(k - half)
		w := make([]float64, window)
		for j := 0; j < window; j++ {
			var s float64
			for p := 0; p < cols; p++ {
				s += math.Pow(t, float64(p)) * pinv.At(p, j)
			}
			w[j] = s
		}
		weights[k] = w
	}

	return &SavitzkyGolay{window: window, degree: degree, weights: weights}, nil
}

// Default returns the 11-sample cubic filter.
func Default() *SavitzkyGolay {
	f, err := NewSavitzkyGolay(DefaultWindow, DefaultDegree)
	if err != nil {
		panic(err) // constants are valid
	}
	return f
}

// Window returns the filter length.
func (f *SavitzkyGolay) Window() int { return f.window }

// Degree returns the polynomial degree.
func (f *SavitzkyGolay) Degree() int { return f.degree }

// Apply returns a smoothed copy of xs. Sequences shorter than the window fail
// with model.ErrInsufficientData.
func (f *SavitzkyGolay) Apply(xs []float64) ([]float64, error) {
	n := len(xs)
	if n < f.window {
		return nil, fmt.Errorf("%w: %d samples, smoothing window needs %d", model.ErrInsufficientData, n, f.window)
	}
	half := f.window / 2
	out := make([]float64, n)

	for i := 0; i < n; i++ {
		start, k := i-half, half
		switch {
		case i < half:
			start, k = 0, i
		case i >= n-half:
			start, k = n-f.window, i-(n-f.window)
		}
		w := f.weights[k]
		var s float64
		for j := 0; j < f.window; j++ {
			s += w[j] * xs[start+j]
		}
		out[i] = s
	}
	return out, nil
}
