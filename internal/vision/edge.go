// Package vision turns a chart raster into the ordered pixel trace of its price line.
//
// The work is split into an EdgeExtractor (raster → binary edge map), a
// ContourFinder (edge map → outer borders) and a BoundarySelector that picks the
// border treated as the price line. Each piece is an interface so an alternative
// backend or selection heuristic can be swapped in without touching the rest.
package vision

import (
	"image"
	"image/color"
)

// Canny hysteresis thresholds on the 8-bit intensity scale.
const (
	DefaultLowThreshold  = 50
	DefaultHighThreshold = 150
)

const (
	tan22 = 0.41421356237309503 // tan(22.5°)
	tan67 = 2.414213562373095   // tan(67.5°)
)

// EdgeMap is a binary edge grid with the dimensions of its source raster.
type EdgeMap struct {
	Width  int
	Height int
	Pix    []bool // row-major, Width*Height
}

// NewEdgeMap allocates an empty w×h edge map.
func NewEdgeMap(w, h int) *EdgeMap {
	return &EdgeMap{Width: w, Height: h, Pix: make([]bool, w*h)}
}

// At reports whether (x, y) is an edge pixel. Out-of-range coordinates are not.
func (m *EdgeMap) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Pix[y*m.Width+x]
}

// Set marks or clears (x, y). Out-of-range coordinates are ignored.
func (m *EdgeMap) Set(x, y int, v bool) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.Pix[y*m.Width+x] = v
}

// Count returns the number of edge pixels.
func (m *EdgeMap) Count() int {
	n := 0
	for _, v := range m.Pix {
		if v {
			n++
		}
	}
	return n
}

// EdgeExtractor converts a color raster into a binary edge map.
type EdgeExtractor interface {
	Extract(img image.Image) *EdgeMap
}

// Canny is the native edge extractor: luminance, fixed 5×5 Gaussian blur,
// 3×3 Sobel, non-maximum suppression and two-threshold hysteresis.
type Canny struct {
	Low  float64
	High float64
}

// NewCanny returns a Canny extractor with the default 50/150 thresholds.
func NewCanny() *Canny {
	return &Canny{Low: DefaultLowThreshold, High: DefaultHighThreshold}
}

// Extract implements EdgeExtractor. It never fails; a flat image yields an empty map.
func (c *Canny) Extract(img image.Image) *EdgeMap {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return NewEdgeMap(w, h)
	}
	gray := luminance(img)
	blurred := gaussian5(gray, w, h)
	return c.detect(blurred, w, h)
}

// luminance converts img to 8-bit gray with ITU-R 601 weights.
func luminance(img image.Image) []uint8 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			out[y*w+x] = g.Y
		}
	}
	return out
}

// gaussKernel is the 5-tap binomial kernel (sums to 16).
var gaussKernel = [5]int{1, 4, 6, 4, 1}

// gaussian5 applies the separable 5×5 Gaussian with reflect-101 borders.
func gaussian5(src []uint8, w, h int) []uint8 {
	tmp := make([]int, w*h)
	for y := 0; y < h; y++ {
		row := y * w
		for x := 0; x < w; x++ {
			s := 0
			for k := -2; k <= 2; k++ {
				s += gaussKernel[k+2] * int(src[row+reflect101(x+k, w)])
			}
			tmp[row+x] = s
		}
	}
	out := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s := 0
			for k := -2; k <= 2; k++ {
				s += gaussKernel[k+2] * tmp[reflect101(y+k, h)*w+x]
			}
			out[y*w+x] = uint8((s + 128) >> 8)
		}
	}
	return out
}

func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

const (
	nmsNone = iota
	nmsWeak
	nmsStrong
)

func (c *Canny) detect(src []uint8, w, h int) *EdgeMap {
	gx := make([]int, w*h)
	gy := make([]int, w*h)
	mag := make([]int, w*h)

	px := func(x, y int) int { return int(src[clamp(y, h)*w+clamp(x, w)]) }
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx := (px(x+1, y-1) + 2*px(x+1, y) + px(x+1, y+1)) -
				(px(x-1, y-1) + 2*px(x-1, y) + px(x-1, y+1))
			dy := (px(x-1, y+1) + 2*px(x, y+1) + px(x+1, y+1)) -
				(px(x-1, y-1) + 2*px(x, y-1) + px(x+1, y-1))
			i := y*w + x
			gx[i], gy[i] = dx, dy
			mag[i] = abs(dx) + abs(dy)
		}
	}

	magAt := func(x, y int) int {
		if x < 0 || y < 0 || x >= w || y >= h {
			return 0
		}
		return mag[y*w+x]
	}

	low, high := int(c.Low), int(c.High)
	state := make([]uint8, w*h)
	stack := make([]int, 0, 256)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			m := mag[i]
			if m <= low {
				continue
			}
			ax, ay := float64(abs(gx[i])), float64(abs(gy[i]))
			var keep bool
			switch {
			case ay < ax*tan22:
				keep = m > magAt(x-1, y) && m >= magAt(x+1, y)
			case ay > ax*tan67:
				keep = m > magAt(x, y-1) && m >= magAt(x, y+1)
			default:
				s := 1
				if (gx[i] < 0) != (gy[i] < 0) {
					s = -1
				}
				keep = m > magAt(x-s, y-1) && m > magAt(x+s, y+1)
			}
			if !keep {
				continue
			}
			if m > high {
				state[i] = nmsStrong
				stack = append(stack, i)
			} else {
				state[i] = nmsWeak
			}
		}
	}

	// Hysteresis: weak pixels survive only when 8-connected to a strong one.
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := i%w, i/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if state[j] == nmsWeak {
					state[j] = nmsStrong
					stack = append(stack, j)
				}
			}
		}
	}

	em := NewEdgeMap(w, h)
	for i, s := range state {
		em.Pix[i] = s == nmsStrong
	}
	return em
}
