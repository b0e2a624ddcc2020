package commands

import (
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"chart-rsi/internal/calibrate"
	"chart-rsi/internal/indicator"
	"chart-rsi/internal/model"
	"chart-rsi/internal/pipeline"
	"chart-rsi/internal/render"
)

var (
	analyzePriceMin    string
	analyzePriceMax    string
	analyzeChartHeight string
	analyzePeriod      int
	analyzeMethod      string
	analyzeJSON        bool
	analyzePlot        string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <image>",
	Short: "Compute the RSI of a chart image file",
	Long: `Run the extraction pipeline on a local png or jpeg chart and print a summary.

Examples:
  chartrsi analyze chart.png --price-min 100 --price-max 200 --chart-height 400
  chartrsi analyze chart.png --price-min 100 --price-max 200 --chart-height 400 --json
  chartrsi analyze chart.png --price-min 1 --price-max 2 --chart-height 300 --plot rsi.png`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	f := analyzeCmd.Flags()
	f.StringVar(&analyzePriceMin, "price-min", "", "price at the bottom of the plotting area")
	f.StringVar(&analyzePriceMax, "price-max", "", "price at the top of the plotting area")
	f.StringVar(&analyzeChartHeight, "chart-height", "", "plotting area height in pixels")
	f.IntVarP(&analyzePeriod, "period", "p", 0, "RSI period override")
	f.StringVarP(&analyzeMethod, "method", "m", "", "RSI averaging override (sma, wilder)")
	f.BoolVar(&analyzeJSON, "json", false, "print the result as JSON")
	f.StringVar(&analyzePlot, "plot", "", "write an RSI plot PNG to this path")
	analyzeCmd.MarkFlagRequired("price-min")
	analyzeCmd.MarkFlagRequired("price-max")
	analyzeCmd.MarkFlagRequired("chart-height")
}

// analyzeOutput is the --json document.
type analyzeOutput struct {
	File       string           `json:"file"`
	Period     int              `json:"period"`
	Method     string           `json:"method"`
	Points     int              `json:"points"`
	OutOfRange int              `json:"out_of_range"`
	RSI        []float64        `json:"rsi"`
	Latest     float64          `json:"latest"`
	Zone       model.Zone       `json:"zone"`
	Stages     []pipeline.Stage `json:"stages"`
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}
	opts := cfg.Pipeline
	if analyzePeriod != 0 {
		opts.RSIPeriod = analyzePeriod
	}
	if analyzeMethod != "" {
		opts.RSIMethod = analyzeMethod
	}
	pipe, err := pipeline.New(opts)
	if err != nil {
		return err
	}

	cal, err := calibrate.Parse(analyzePriceMin, analyzePriceMax, analyzeChartHeight)
	if err != nil {
		return err
	}
	img, err := loadImage(args[0])
	if err != nil {
		return err
	}

	res, err := pipe.Run(img, cal)
	if err != nil {
		return err
	}

	out := analyzeOutput{
		File:       filepath.Base(args[0]),
		Period:     pipe.Period(),
		Method:     string(pipe.Method()),
		Points:     len(res.Points),
		OutOfRange: res.OutOfRange,
		RSI:        res.RSI,
		Latest:     res.Latest(),
		Zone:       cfg.Zones.Classify(res.Latest()),
		Stages:     res.Stages,
	}

	if analyzePlot != "" {
		if err := writePlot(analyzePlot, cfg.Zones, res.RSI); err != nil {
			return err
		}
	}

	w := cmd.OutOrStdout()
	if analyzeJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	printSummary(w, out)
	return nil
}

func loadImage(path string) (image.Image, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg":
	default:
		return nil, fmt.Errorf("analyze: %s: file must be png, jpg or jpeg", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("analyze: decode %s: %w", path, err)
	}
	return img, nil
}

func writePlot(path string, zones indicator.Zones, rsi []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("analyze: plot: %w", err)
	}
	if err := render.NewPlot(zones).Encode(f, rsi); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func zoneColor(z model.Zone) *color.Color {
	switch z {
	case model.ZoneOverbought:
		return color.New(color.FgRed, color.Bold)
	case model.ZoneOversold:
		return color.New(color.FgGreen, color.Bold)
	}
	return color.New(color.FgYellow)
}

func printSummary(w io.Writer, out analyzeOutput) {
	label := color.New(color.FgCyan).SprintFunc()
	fmt.Fprintf(w, "%s %s\n", label("file:   "), out.File)
	fmt.Fprintf(w, "%s %d (%d outside chart height)\n", label("points: "), out.Points, out.OutOfRange)
	fmt.Fprintf(w, "%s RSI(%d) %s, %d values\n", label("method: "), out.Period, out.Method, len(out.RSI))
	fmt.Fprintf(w, "%s %s  %s\n", label("latest: "),
		zoneColor(out.Zone).Sprintf("%.2f", out.Latest), zoneColor(out.Zone).Sprint(out.Zone))
	for _, st := range out.Stages {
		fmt.Fprintf(w, "  %-7s %v\n", st.Name, st.Duration)
	}
}
