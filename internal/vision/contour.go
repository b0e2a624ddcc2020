package vision

import (
	"image"
	"math"
)

// Contour is one traced border, points in trace order.
type Contour struct {
	Points []image.Point
}

// Area returns the absolute shoelace area of the closed polygon through Points.
// Single points and strokes traced back over themselves have zero area.
func (c Contour) Area() float64 {
	n := len(c.Points)
	if n < 3 {
		return 0
	}
	var s float64
	for i := 0; i < n; i++ {
		p, q := c.Points[i], c.Points[(i+1)%n]
		s += float64(p.X*q.Y - q.X*p.Y)
	}
	return math.Abs(s) / 2
}

// Bounds returns the bounding rectangle of the contour (Max exclusive).
func (c Contour) Bounds() image.Rectangle {
	if len(c.Points) == 0 {
		return image.Rectangle{}
	}
	r := image.Rectangle{Min: c.Points[0], Max: c.Points[0].Add(image.Pt(1, 1))}
	for _, p := range c.Points[1:] {
		r = r.Union(image.Rectangle{Min: p, Max: p.Add(image.Pt(1, 1))})
	}
	return r
}

// ContourFinder extracts candidate borders from an edge map.
type ContourFinder interface {
	Find(em *EdgeMap) []Contour
}

// OuterBorders is the native ContourFinder: it keeps outermost borders only.
type OuterBorders struct{}

// Find implements ContourFinder.
func (OuterBorders) Find(em *EdgeMap) []Contour { return TraceOuter(em) }

// neighbours in clockwise order on screen (y grows downward), starting east.
var neighbours = [8]image.Point{
	{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1},
}

type border struct {
	outer  bool
	parent int32
}

// TraceOuter follows every border of the edge map with Suzuki–Abe border
// following and returns the outer borders whose parent is the image frame,
// in raster-scan discovery order. Borders nested inside holes are dropped.
// Full pixel chains are returned; no segment compression is applied.
func TraceOuter(em *EdgeMap) []Contour {
	// Pad by one zero pixel so the frame surrounds everything.
	w, h := em.Width+2, em.Height+2
	f := make([]int32, w*h)
	for y := 0; y < em.Height; y++ {
		for x := 0; x < em.Width; x++ {
			if em.Pix[y*em.Width+x] {
				f[(y+1)*w+x+1] = 1
			}
		}
	}

	var offs [8]int
	for d, n := range neighbours {
		offs[d] = n.Y*w + n.X
	}

	// Index 1 is the frame, treated as a hole border.
	borders := []border{{}, {outer: false, parent: 0}}
	nbd := int32(1)
	var out []Contour

	for i := 1; i < h-1; i++ {
		lnbd := int32(1)
		for j := 1; j < w-1; j++ {
			p := i*w + j
			fij := f[p]
			if fij == 0 {
				continue
			}

			start, outer, found := 0, false, false
			switch {
			case fij == 1 && f[p-1] == 0:
				start, outer, found = p-1, true, true
			case fij >= 1 && f[p+1] == 0:
				start, outer, found = p+1, false, true
				if fij > 1 {
					lnbd = fij
				}
			}

			if found {
				nbd++
				prev := borders[lnbd]
				parent := lnbd
				if outer == prev.outer {
					parent = prev.parent
				}
				borders = append(borders, border{outer: outer, parent: parent})

				pts := follow(f, w, offs, p, start, nbd)
				if outer && parent == 1 {
					out = append(out, Contour{Points: pts})
				}
			}

			if v := f[p]; v != 1 {
				if v < 0 {
					v = -v
				}
				lnbd = v
			}
		}
	}
	return out
}

// follow traces one border starting at p, entering from the zero pixel start,
// labelling pixels with nbd as it goes. Returned points are in image coordinates.
func follow(f []int32, w int, offs [8]int, p, start int, nbd int32) []image.Point {
	toPoint := func(idx int) image.Point {
		return image.Pt(idx%w-1, idx/w-1)
	}
	dirOf := func(from, to int) int {
		for d, o := range offs {
			if from+o == to {
				return d
			}
		}
		return 0
	}

	// Clockwise search around p for the first non-zero neighbour.
	d0 := dirOf(p, start)
	p1 := -1
	for k := 0; k < 8; k++ {
		q := p + offs[(d0+k)%8]
		if f[q] != 0 {
			p1 = q
			break
		}
	}
	if p1 < 0 {
		f[p] = -nbd
		return []image.Point{toPoint(p)}
	}

	var pts []image.Point
	i2, i3 := p1, p
	for {
		// Counter-clockwise search around i3, starting just after i2.
		d := dirOf(i3, i2)
		i4 := i2
		eastZero := false
		for k := 1; k <= 8; k++ {
			dd := (d - k + 8) % 8
			q := i3 + offs[dd]
			if f[q] != 0 {
				i4 = q
				break
			}
			if dd == 0 {
				eastZero = true
			}
		}

		if eastZero {
			f[i3] = -nbd
		} else if f[i3] == 1 {
			f[i3] = nbd
		}
		pts = append(pts, toPoint(i3))

		if i4 == p && i3 == p1 {
			return pts
		}
		i2, i3 = i3, i4
	}
}
