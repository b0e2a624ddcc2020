// Package render draws an RSI series as a PNG line plot with the zone
// reference lines.
package render

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"chart-rsi/internal/indicator"
)

// Default plot size in pixels.
const (
	DefaultWidth  = 800
	DefaultHeight = 300
)

// minSize is the smallest edge, in pixels, that still fits title, axes and legend.
const minSize = 120

// dpi matches the raster canvas plot.WriterTo creates for "png".
const dpi = 96

var (
	seriesColor     = color.RGBA{124, 58, 237, 255}
	overboughtColor = color.RGBA{220, 38, 38, 255}
	oversoldColor   = color.RGBA{22, 163, 74, 255}
)

// Plot is an RSI line plot on a fixed 0..100 vertical scale.
type Plot struct {
	Width  int
	Height int
	Zones  indicator.Zones
}

// NewPlot returns a default-sized plot with the given zones.
func NewPlot(zones indicator.Zones) *Plot {
	return &Plot{Width: DefaultWidth, Height: DefaultHeight, Zones: zones}
}

// Draw builds the plot for rsi against its sample index. Values are clamped
// to [0, 100].
func (p *Plot) Draw(rsi []float64) (*plot.Plot, error) {
	if len(rsi) == 0 {
		return nil, fmt.Errorf("render: empty series")
	}

	pl := plot.New()
	pl.Title.Text = "RSI Indicator"
	pl.X.Label.Text = "Time"
	pl.Y.Label.Text = "RSI"
	pl.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(rsi))
	for i, v := range rsi {
		pts[i].X = float64(i)
		pts[i].Y = clamp(v)
	}
	series, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("render: series: %w", err)
	}
	series.LineStyle = draw.LineStyle{Color: seriesColor, Width: vg.Points(2)}

	end := float64(len(rsi) - 1)
	if end == 0 {
		end = 1
	}
	upper, err := zoneLine(end, p.Zones.Overbought, overboughtColor)
	if err != nil {
		return nil, err
	}
	lower, err := zoneLine(end, p.Zones.Oversold, oversoldColor)
	if err != nil {
		return nil, err
	}

	pl.Add(upper, lower, series)
	pl.Legend.Add("RSI", series)
	pl.Legend.Add(fmt.Sprintf("Overbought (%g)", p.Zones.Overbought), upper)
	pl.Legend.Add(fmt.Sprintf("Oversold (%g)", p.Zones.Oversold), lower)
	pl.Legend.Top = true

	pl.X.Min, pl.X.Max = 0, end
	pl.Y.Min, pl.Y.Max = 0, 100
	return pl, nil
}

// Encode renders rsi and writes it as PNG.
func (p *Plot) Encode(w io.Writer, rsi []float64) error {
	if p.Width < minSize || p.Height < minSize {
		return fmt.Errorf("render: plot %dx%d too small", p.Width, p.Height)
	}
	pl, err := p.Draw(rsi)
	if err != nil {
		return err
	}
	wt, err := pl.WriterTo(pixels(p.Width), pixels(p.Height), "png")
	if err != nil {
		return fmt.Errorf("render: canvas: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("render: encode: %w", err)
	}
	return nil
}

// zoneLine is a dashed horizontal reference across [0, end].
func zoneLine(end, level float64, c color.Color) (*plotter.Line, error) {
	l, err := plotter.NewLine(plotter.XYs{{X: 0, Y: level}, {X: end, Y: level}})
	if err != nil {
		return nil, fmt.Errorf("render: zone %g: %w", level, err)
	}
	l.LineStyle = draw.LineStyle{
		Color:  c,
		Width:  vg.Points(2),
		Dashes: []vg.Length{vg.Points(5), vg.Points(5)},
	}
	return l, nil
}

func pixels(n int) vg.Length {
	return vg.Length(n) * vg.Inch / dpi
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
