// Package pipeline turns a chart image into an RSI series.
//
// Stages run strictly forward: edges, boundary location, price mapping,
// smoothing, RSI. A Pipeline holds only read-only configuration and may be
// shared by concurrent callers; every Run allocates its own intermediates.
package pipeline

import (
	"fmt"
	"image"
	"time"

	"chart-rsi/internal/calibrate"
	"chart-rsi/internal/indicator"
	"chart-rsi/internal/smooth"
	"chart-rsi/internal/vision"
	"chart-rsi/internal/vision/opencv"
)

// Edge backends.
const (
	BackendNative = "native"
	BackendOpenCV = "opencv"
)

// Stage names reported in Result.Stages.
const (
	StageEdges  = "edges"
	StageLocate = "locate"
	StageMap    = "map"
	StageSmooth = "smooth"
	StageRSI    = "rsi"
)

// Options configures a Pipeline.
type Options struct {
	CannyLow     float64 `yaml:"canny_low" env:"CANNY_LOW, overwrite"`
	CannyHigh    float64 `yaml:"canny_high" env:"CANNY_HIGH, overwrite"`
	EdgeBackend  string  `yaml:"edge_backend" env:"EDGE_BACKEND, overwrite"`
	Selector     string  `yaml:"selector" env:"SELECTOR, overwrite"`
	SmoothWindow int     `yaml:"smooth_window" env:"SMOOTH_WINDOW, overwrite"`
	SmoothDegree int     `yaml:"smooth_degree" env:"SMOOTH_DEGREE, overwrite"`
	RSIPeriod    int     `yaml:"rsi_period" env:"RSI_PERIOD, overwrite"`
	RSIMethod    string  `yaml:"rsi_method" env:"RSI_METHOD, overwrite"`

	// StrictHeight rejects a chart_height taller than the decoded image.
	StrictHeight bool `yaml:"strict_height" env:"STRICT_HEIGHT, overwrite"`
}

// DefaultOptions returns the reference configuration.
func DefaultOptions() Options {
	return Options{
		CannyLow:     vision.DefaultLowThreshold,
		CannyHigh:    vision.DefaultHighThreshold,
		EdgeBackend:  BackendNative,
		Selector:     "largest_area",
		SmoothWindow: smooth.DefaultWindow,
		SmoothDegree: smooth.DefaultDegree,
		RSIPeriod:    indicator.DefaultPeriod,
		RSIMethod:    string(indicator.MethodSMA),
	}
}

// Stage is the wall time spent in one step of a run.
type Stage struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
}

// Result carries the RSI series plus the intermediate sequences.
type Result struct {
	Points   []image.Point
	Prices   []float64
	Smoothed []float64
	RSI      []float64

	// OutOfRange counts points whose row lies outside [0, chart_height].
	OutOfRange int
	Stages     []Stage
}

// Latest returns the last RSI value.
func (r *Result) Latest() float64 {
	if len(r.RSI) == 0 {
		return 0
	}
	return r.RSI[len(r.RSI)-1]
}

// Pipeline is a configured, reusable chart-to-RSI processor.
type Pipeline struct {
	extractor vision.EdgeExtractor
	finder    vision.ContourFinder
	selector  vision.BoundarySelector
	smoother  *smooth.SavitzkyGolay
	period    int
	method    indicator.Method
	strict    bool
}

// New validates opts and builds a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.CannyLow < 0 || opts.CannyHigh < opts.CannyLow {
		return nil, fmt.Errorf("pipeline: canny thresholds low=%v high=%v", opts.CannyLow, opts.CannyHigh)
	}
	sel, err := vision.SelectorByName(opts.Selector)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	sg, err := smooth.NewSavitzkyGolay(opts.SmoothWindow, opts.SmoothDegree)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	method, err := indicator.ParseMethod(opts.RSIMethod)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if opts.RSIPeriod < 1 || (method == indicator.MethodWilder && opts.RSIPeriod < 2) {
		return nil, fmt.Errorf("pipeline: rsi period %d too small for %s", opts.RSIPeriod, method)
	}

	p := &Pipeline{
		selector: sel,
		smoother: sg,
		period:   opts.RSIPeriod,
		method:   method,
		strict:   opts.StrictHeight,
	}

	switch opts.EdgeBackend {
	case "", BackendNative:
		p.extractor = &vision.Canny{Low: opts.CannyLow, High: opts.CannyHigh}
		p.finder = vision.OuterBorders{}
	case BackendOpenCV:
		cv, err := opencv.New(opts.CannyLow, opts.CannyHigh)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		p.extractor, p.finder = cv, cv
	default:
		return nil, fmt.Errorf("pipeline: unknown edge backend %q", opts.EdgeBackend)
	}
	return p, nil
}

// Period returns the configured RSI period.
func (p *Pipeline) Period() int { return p.period }

// WithPeriod returns a copy of p that computes RSI over period instead.
func (p *Pipeline) WithPeriod(period int) (*Pipeline, error) {
	if period < 1 || (p.method == indicator.MethodWilder && period < 2) {
		return nil, fmt.Errorf("pipeline: rsi period %d too small for %s", period, p.method)
	}
	cp := *p
	cp.period = period
	return &cp, nil
}

// Method returns the configured RSI smoothing method.
func (p *Pipeline) Method() indicator.Method { return p.method }

// Run processes one image. The calibration is validated before any pixel is
// read. Errors wrap model.ErrCalibration, model.ErrEmptyBoundary or
// model.ErrInsufficientData.
func (p *Pipeline) Run(img image.Image, cal calibrate.Calibration) (*Result, error) {
	if err := cal.Validate(); err != nil {
		return nil, err
	}
	if p.strict {
		if err := cal.CheckRaster(img.Bounds().Dy()); err != nil {
			return nil, err
		}
	}

	res := &Result{Stages: make([]Stage, 0, 5)}
	clock := time.Now()
	mark := func(name string) {
		now := time.Now()
		res.Stages = append(res.Stages, Stage{Name: name, Duration: now.Sub(clock)})
		clock = now
	}

	em := p.extractor.Extract(img)
	mark(StageEdges)

	pts, err := vision.Locate(em, p.finder, p.selector)
	if err != nil {
		return nil, err
	}
	res.Points = pts
	mark(StageLocate)

	if res.Prices, err = cal.Map(pts); err != nil {
		return nil, err
	}
	res.OutOfRange = cal.OutOfRange(pts)
	mark(StageMap)

	if res.Smoothed, err = p.smoother.Apply(res.Prices); err != nil {
		return nil, err
	}
	mark(StageSmooth)

	if res.RSI, err = indicator.Compute(p.method, res.Smoothed, p.period); err != nil {
		return nil, err
	}
	mark(StageRSI)

	return res, nil
}
