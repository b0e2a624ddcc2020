// Package calibrate maps pixel rows of a chart onto the caller's price axis.
package calibrate

import (
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"chart-rsi/internal/model"
)

// Calibration describes the price axis of the plotting area: row 0 is PriceMax
// and row ChartHeight is PriceMin. ChartHeight is the calibrated plotting-area
// height and may differ from the raster height.
type Calibration struct {
	PriceMin    float64 `json:"price_min"`
	PriceMax    float64 `json:"price_max"`
	ChartHeight int     `json:"chart_height"`
}

// Parse builds a Calibration from raw caller input (form fields, flags) and
// validates it. Non-numeric values fail with model.ErrCalibration.
func Parse(priceMin, priceMax, chartHeight string) (Calibration, error) {
	lo, err := parsePrice("price_min", priceMin)
	if err != nil {
		return Calibration{}, err
	}
	hi, err := parsePrice("price_max", priceMax)
	if err != nil {
		return Calibration{}, err
	}
	h, err := strconv.Atoi(strings.TrimSpace(chartHeight))
	if err != nil {
		return Calibration{}, fmt.Errorf("%w: chart_height %q is not an integer", model.ErrCalibration, chartHeight)
	}
	c := Calibration{PriceMin: lo, PriceMax: hi, ChartHeight: h}
	return c, c.Validate()
}

func parsePrice(field, raw string) (float64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not a number", model.ErrCalibration, field, raw)
	}
	return d.InexactFloat64(), nil
}

// Validate rejects non-finite prices, an empty or inverted price range and a
// non-positive chart height.
func (c Calibration) Validate() error {
	if !finite(c.PriceMin) || !finite(c.PriceMax) {
		return fmt.Errorf("%w: prices must be finite (min=%v max=%v)", model.ErrCalibration, c.PriceMin, c.PriceMax)
	}
	if c.PriceMin >= c.PriceMax {
		return fmt.Errorf("%w: price_min %v must be below price_max %v", model.ErrCalibration, c.PriceMin, c.PriceMax)
	}
	if c.ChartHeight <= 0 {
		return fmt.Errorf("%w: chart_height %d must be positive", model.ErrCalibration, c.ChartHeight)
	}
	return nil
}

// CheckRaster rejects a chart height taller than the raster it describes.
// It is only applied in strict mode; by default a mismatch silently rescales.
func (c Calibration) CheckRaster(rasterHeight int) error {
	if c.ChartHeight > rasterHeight {
		return fmt.Errorf("%w: chart_height %d exceeds image height %d", model.ErrCalibration, c.ChartHeight, rasterHeight)
	}
	return nil
}

// Price maps one pixel row to a price.
func (c Calibration) Price(y int) float64 {
	return c.PriceMax - (float64(y)/float64(c.ChartHeight))*(c.PriceMax-c.PriceMin)
}

// Map converts points to prices, preserving order. Rows outside
// [0, ChartHeight] extrapolate linearly; they are not clamped.
func (c Calibration) Map(points []image.Point) ([]float64, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = c.Price(p.Y)
	}
	return out, nil
}

// OutOfRange counts points whose row lies outside [0, ChartHeight].
func (c Calibration) OutOfRange(points []image.Point) int {
	n := 0
	for _, p := range points {
		if p.Y < 0 || p.Y > c.ChartHeight {
			n++
		}
	}
	return n
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
