package vision

import (
	"fmt"
	"image"
	"slices"

	"chart-rsi/internal/model"
)

// BoundarySelector picks the contour treated as the price line.
type BoundarySelector interface {
	// Name identifies the strategy in configuration and logs.
	Name() string

	// Select returns the index of the chosen contour, or -1 if contours is empty.
	Select(contours []Contour) int
}

// LargestArea selects the contour with the greatest enclosed polygon area.
//
// It assumes the price line is the most prominent stroke in the image. Exact ties
// go to the contour discovered first in raster-scan order; that order is an
// artifact of the tracer, not a deliberate ranking.
type LargestArea struct{}

func (LargestArea) Name() string { return "largest_area" }

func (LargestArea) Select(contours []Contour) int {
	best, bestArea := -1, -1.0
	for i, c := range contours {
		if a := c.Area(); a > bestArea {
			best, bestArea = i, a
		}
	}
	return best
}

// WidestSpan selects the contour covering the most columns, breaking ties by
// area and then by discovery order. It suits thin single-pixel strokes whose
// traced polygon encloses no area.
type WidestSpan struct{}

func (WidestSpan) Name() string { return "widest_span" }

func (WidestSpan) Select(contours []Contour) int {
	best, bestSpan, bestArea := -1, -1, -1.0
	for i, c := range contours {
		span := c.Bounds().Dx()
		area := c.Area()
		if span > bestSpan || (span == bestSpan && area > bestArea) {
			best, bestSpan, bestArea = i, span, area
		}
	}
	return best
}

// SelectorByName resolves a configured strategy name.
func SelectorByName(name string) (BoundarySelector, error) {
	switch name {
	case "", "largest_area":
		return LargestArea{}, nil
	case "widest_span":
		return WidestSpan{}, nil
	default:
		return nil, fmt.Errorf("vision: unknown boundary selector %q", name)
	}
}

// Locate finds the contours of em, picks one with sel and returns its points
// ordered by ascending x with one point per column.
func Locate(em *EdgeMap, finder ContourFinder, sel BoundarySelector) ([]image.Point, error) {
	contours := finder.Find(em)
	if len(contours) == 0 {
		return nil, fmt.Errorf("%w: edge map (%dx%d, %d edge pixels) has no contours",
			model.ErrEmptyBoundary, em.Width, em.Height, em.Count())
	}
	idx := sel.Select(contours)
	if idx < 0 || idx >= len(contours) {
		return nil, fmt.Errorf("%w: %s selected no contour", model.ErrEmptyBoundary, sel.Name())
	}
	return OrderByX(contours[idx].Points), nil
}

// OrderByX keeps the first point seen for each column and sorts the result by x.
// The input is not modified.
func OrderByX(points []image.Point) []image.Point {
	seen := make(map[int]struct{}, len(points))
	out := make([]image.Point, 0, len(points))
	for _, p := range points {
		if _, ok := seen[p.X]; ok {
			continue
		}
		seen[p.X] = struct{}{}
		out = append(out, p)
	}
	slices.SortStableFunc(out, func(a, b image.Point) int { return a.X - b.X })
	return out
}
